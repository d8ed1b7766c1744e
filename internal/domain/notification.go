package domain

import "time"

type NotificationID string
type NotificationKind string

const (
	NotificationGrantRequested NotificationKind = "grant_requested"
	NotificationGrantResolved  NotificationKind = "grant_resolved"
	NotificationGrantRevoked   NotificationKind = "grant_revoked"
)

// Notification is an owner-facing event. Payload is an encoded, detached
// copy of whatever the producer published.
type Notification struct {
	ID        NotificationID
	CreatedAt time.Time
	Read      bool
	Kind      NotificationKind
	Payload   []byte
}

// GrantEvent is the payload published for grant lifecycle notifications.
type GrantEvent struct {
	RequestID     GrantID     `cbor:"request_id" json:"request_id"`
	SessionID     SessionID   `cbor:"session_id" json:"session_id"`
	ItemID        ItemID      `cbor:"item_id" json:"item_id"`
	ItemName      string      `cbor:"item_name,omitempty" json:"item_name,omitempty"`
	RequesterName string      `cbor:"requester_name" json:"requester_name"`
	Status        GrantStatus `cbor:"status" json:"status"`
	Note          string      `cbor:"note,omitempty" json:"note,omitempty"`
	ExpiresAt     time.Time   `cbor:"expires_at" json:"expires_at"`
}

func NewGrantEvent(g GrantRequest, itemName string) GrantEvent {
	return GrantEvent{
		RequestID:     g.ID,
		SessionID:     g.SessionID,
		ItemID:        g.ItemID,
		ItemName:      itemName,
		RequesterName: g.RequesterName,
		Status:        g.Status,
		Note:          g.Note,
		ExpiresAt:     g.ExpiresAt,
	}
}
