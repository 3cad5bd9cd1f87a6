package entity

import "time"

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

type Presence struct {
	UserID    string         `json:"user_id" firestore:"-"`
	Status    PresenceStatus `json:"status" firestore:"status"`
	LastSeen  *time.Time     `json:"last_seen,omitempty" firestore:"lastSeen"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty" firestore:"updatedAt"`
}

// IsOnline treats a missing record as offline.
func (p *Presence) IsOnline() bool {
	return p != nil && p.Status == PresenceOnline
}
