package entity

import "time"

// Conversation is the shared 1:1 chat document. Both participants write to it, always
// through field-scoped merges.
type Conversation struct {
	ID           string               `json:"id" firestore:"-"`
	Members      []string             `json:"members" firestore:"members"`
	LastMessage  string               `json:"last_message" firestore:"lastMessage"`
	LastAt       *time.Time           `json:"last_at,omitempty" firestore:"lastAt"`
	CreatedAt    *time.Time           `json:"created_at,omitempty" firestore:"createdAt"`
	LastSenderID string               `json:"last_sender_id,omitempty" firestore:"lastSenderId"`
	LastReads    map[string]time.Time `json:"last_reads,omitempty" firestore:"lastReads"`
	UnreadFor    map[string]bool      `json:"unread_for,omitempty" firestore:"unreadFor"`
	IsBlocked    *bool                `json:"is_blocked,omitempty" firestore:"isBlocked"` // nil on legacy documents
}

// Blocked reports the block flag, treating a missing flag as unblocked.
func (c *Conversation) Blocked() bool {
	return c != nil && c.IsBlocked != nil && *c.IsBlocked
}

// HasBlockFlag is false for documents created before the flag existed.
func (c *Conversation) HasBlockFlag() bool {
	return c != nil && c.IsBlocked != nil
}

func (c *Conversation) UnreadForUser(userID string) bool {
	if c == nil || c.UnreadFor == nil {
		return false
	}
	return c.UnreadFor[userID]
}

func (c *Conversation) HasMessage() bool {
	return c != nil && c.LastSenderID != ""
}
