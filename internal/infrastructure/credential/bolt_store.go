// Package credential keeps the bearer token used by chat clients for requests that go
// around the document store, such as image uploads.
package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var (
	bucketCredentials = []byte("credentials")
	keyBearer         = []byte("bearer")
)

type record struct {
	Token   string `msgpack:"token"`
	SavedAt int64  `msgpack:"savedAt"`
}

func (r *record) MarshalBinary() ([]byte, error) {
	type alias record
	return msgpack.Marshal((*alias)(r))
}

func (r *record) UnmarshalBinary(data []byte) error {
	type alias record
	return msgpack.Unmarshal(data, (*alias)(r))
}

// BoltStore persists the token in a single-file bbolt database readable only by its
// owner.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open credential db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCredentials)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create credential bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Save replaces the stored token.
func (s *BoltStore) Save(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		rec := &record{Token: token, SavedAt: time.Now().Unix()}
		data, err := rec.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal credential: %w", err)
		}
		return tx.Bucket(bucketCredentials).Put(keyBearer, data)
	})
}

// Token returns the stored token, or "" when none is stored.
func (s *BoltStore) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var rec record
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketCredentials).Get(keyBearer)
		if data == nil {
			return nil
		}
		return rec.UnmarshalBinary(data)
	})
	if err != nil {
		return "", fmt.Errorf("failed to read credential: %w", err)
	}
	return rec.Token, nil
}

// SavedAt reports when the current token was stored; zero when none is.
func (s *BoltStore) SavedAt(ctx context.Context) (time.Time, error) {
	var rec record
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketCredentials).Get(keyBearer)
		if data == nil {
			return nil
		}
		return rec.UnmarshalBinary(data)
	})
	if err != nil || rec.SavedAt == 0 {
		return time.Time{}, err
	}
	return time.Unix(rec.SavedAt, 0), nil
}

func (s *BoltStore) Clear(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCredentials).Delete(keyBearer)
	})
}

// Static serves a fixed token, for tests and for processes that receive the token from
// their environment.
type Static string

func (s Static) Token(context.Context) (string, error) {
	return string(s), nil
}
