// Package memstore is an in-process real-time document store with the write and query
// semantics the chat layer relies on from Firestore: create-if-absent, leaf-level merges,
// store-assigned timestamps, ordered/limited/cursor queries, id-in-set queries and live
// listeners that receive the full query result after every relevant write.
package memstore

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAlreadyExists = errors.New("memstore: document already exists")
	ErrNotFound      = errors.New("memstore: document not found")
)

type serverTime struct{}

// ServerTimestamp in written data is replaced by the store clock at write time.
var ServerTimestamp interface{} = serverTime{}

// Doc is a copy of a stored document.
type Doc struct {
	ID   string
	Path string
	Data map[string]interface{}
}

type document struct {
	id   string
	seq  uint64
	data map[string]interface{}
}

type collection struct {
	docs map[string]*document
}

type Store struct {
	mu          sync.Mutex
	clock       func() time.Time
	last        time.Time
	seq         uint64
	collections map[string]*collection
	listeners   map[uint64]*listener
	nextID      uint64
}

type Option func(*Store)

// WithClock replaces time.Now as the source of server timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		clock:       time.Now,
		collections: make(map[string]*collection),
		listeners:   make(map[uint64]*listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// now returns a strictly increasing timestamp so that writes never tie.
func (s *Store) now() time.Time {
	t := s.clock().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func splitPath(path string) (string, string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

func (s *Store) collection(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{docs: make(map[string]*document)}
		s.collections[name] = c
	}
	return c
}

func (s *Store) lookup(path string) *document {
	coll, id := splitPath(path)
	c, ok := s.collections[coll]
	if !ok {
		return nil
	}
	return c.docs[id]
}

// Get returns a copy of the document at path.
func (s *Store) Get(path string) (Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.lookup(path)
	if d == nil {
		return Doc{}, ErrNotFound
	}
	return snapshot(path, d), nil
}

// Create writes a new document and fails with ErrAlreadyExists if one is present.
func (s *Store) Create(path string, data map[string]interface{}) error {
	s.mu.Lock()
	if s.lookup(path) != nil {
		s.mu.Unlock()
		return ErrAlreadyExists
	}
	coll, id := splitPath(path)
	s.insert(coll, id, data)
	s.mu.Unlock()

	s.notify(coll, path)
	return nil
}

// Merge writes only the given fields, descending into nested maps, and creates the
// document when it does not exist.
func (s *Store) Merge(path string, data map[string]interface{}) error {
	s.mu.Lock()
	coll, id := splitPath(path)
	d := s.lookup(path)
	if d == nil {
		s.insert(coll, id, data)
	} else {
		mergeInto(d.data, resolve(data, s.now()))
	}
	s.mu.Unlock()

	s.notify(coll, path)
	return nil
}

// Add stores data under a generated id in the collection and returns the id.
func (s *Store) Add(coll string, data map[string]interface{}) string {
	id := uuid.New().String()

	s.mu.Lock()
	s.insert(coll, id, data)
	s.mu.Unlock()

	s.notify(coll, coll+"/"+id)
	return id
}

func (s *Store) insert(coll, id string, data map[string]interface{}) {
	s.seq++
	s.collection(coll).docs[id] = &document{
		id:   id,
		seq:  s.seq,
		data: resolve(data, s.now()),
	}
}

// Query runs q once against the current state.
func (s *Store) Query(q Query) []Doc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(q)
}

func snapshot(path string, d *document) Doc {
	_, id := splitPath(path)
	return Doc{ID: id, Path: path, Data: copyMap(d.data)}
}

func resolve(data map[string]interface{}, now time.Time) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = resolveValue(v, now)
	}
	return out
}

func resolveValue(v interface{}, now time.Time) interface{} {
	switch val := v.(type) {
	case serverTime:
		return now
	case map[string]interface{}:
		return resolve(val, now)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = resolveValue(e, now)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

func mergeInto(dst, src map[string]interface{}) {
	for k, v := range src {
		if sub, ok := v.(map[string]interface{}); ok {
			if existing, ok := dst[k].(map[string]interface{}); ok {
				mergeInto(existing, sub)
				continue
			}
		}
		dst[k] = v
	}
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return copyMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

// Query selects documents of one collection.
type Query struct {
	Collection string
	// IDIn restricts the result to the given document ids.
	IDIn []string
	// ArrayContains keeps documents whose array field holds the value.
	ArrayContains *Filter
	// OrderBy excludes documents that lack the field. Empty keeps insertion order.
	OrderBy    string
	Descending bool
	// StartAfter skips up to and including the cursor position.
	StartAfter *Position
	Limit      int
}

type Filter struct {
	Field string
	Value interface{}
}

// Position identifies a cursor by document id, falling back to the OrderBy value
// when the document is no longer in the collection.
type Position struct {
	ID    string
	Value interface{}
}

func (s *Store) run(q Query) []Doc {
	c, ok := s.collections[q.Collection]
	if !ok {
		return []Doc{}
	}

	var allowed map[string]bool
	if q.IDIn != nil {
		allowed = make(map[string]bool, len(q.IDIn))
		for _, id := range q.IDIn {
			allowed[id] = true
		}
	}

	matched := make([]*document, 0, len(c.docs))
	for id, d := range c.docs {
		if allowed != nil && !allowed[id] {
			continue
		}
		if q.ArrayContains != nil && !arrayContains(d.data[q.ArrayContains.Field], q.ArrayContains.Value) {
			continue
		}
		if q.OrderBy != "" {
			if _, ok := d.data[q.OrderBy]; !ok {
				continue
			}
		}
		matched = append(matched, d)
	}

	less := func(a, b *document) bool {
		if q.OrderBy != "" {
			if cmp := compare(a.data[q.OrderBy], b.data[q.OrderBy]); cmp != 0 {
				if q.Descending {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		if q.Descending {
			return a.seq > b.seq
		}
		return a.seq < b.seq
	}
	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j]) })

	if q.StartAfter != nil {
		matched = startAfter(matched, q, less)
	}

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]Doc, 0, len(matched))
	for _, d := range matched {
		out = append(out, snapshot(q.Collection+"/"+d.id, d))
	}
	return out
}

func startAfter(sorted []*document, q Query, less func(a, b *document) bool) []*document {
	for i, d := range sorted {
		if d.id == q.StartAfter.ID {
			return sorted[i+1:]
		}
	}
	if q.OrderBy == "" || q.StartAfter.Value == nil {
		return []*document{}
	}
	pivot := &document{data: map[string]interface{}{q.OrderBy: q.StartAfter.Value}}
	for i, d := range sorted {
		if less(pivot, d) && compare(d.data[q.OrderBy], q.StartAfter.Value) != 0 {
			return sorted[i:]
		}
	}
	return []*document{}
}

func arrayContains(field, value interface{}) bool {
	switch arr := field.(type) {
	case []string:
		s, ok := value.(string)
		if !ok {
			return false
		}
		for _, e := range arr {
			if e == s {
				return true
			}
		}
	case []interface{}:
		for _, e := range arr {
			if e == value {
				return true
			}
		}
	}
	return false
}

// compare orders values of the same kind; mismatched kinds compare equal.
func compare(a, b interface{}) int {
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0
		}
		return av.Compare(bv)
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0
		}
		return strings.Compare(av, bv)
	case int64:
		bv, ok := b.(int64)
		if !ok {
			return 0
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	}
	return 0
}
