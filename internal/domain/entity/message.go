package entity

import "time"

// Message lives in the append-only messages sub-collection of a conversation.
// CreatedAt is assigned by the store and is the only ordering key.
type Message struct {
	ID        string    `json:"id" firestore:"-"`
	Text      string    `json:"text" firestore:"text"`
	SenderID  string    `json:"sender_id" firestore:"senderId"`
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
}

// Cursor points at the oldest message of a page.
type Cursor struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

func (m *Message) Cursor() *Cursor {
	return &Cursor{ID: m.ID, CreatedAt: m.CreatedAt}
}

// MessagePage is a newest-first slice of history. Cursor is nil when the page is empty.
type MessagePage struct {
	Items  []*Message `json:"items"`
	Cursor *Cursor    `json:"cursor"`
}

// NewMessagePage builds a page whose cursor is its last (oldest) item.
func NewMessagePage(items []*Message) *MessagePage {
	if items == nil {
		items = []*Message{}
	}
	page := &MessagePage{Items: items}
	if len(items) > 0 {
		page.Cursor = items[len(items)-1].Cursor()
	}
	return page
}
