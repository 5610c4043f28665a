package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventKind names the side effect a committed transition carries.
type EventKind string

const (
	EventNewListing     EventKind = "NewListing"
	EventListingChanged EventKind = "ListingChanged"
	EventFollowUpNeeded EventKind = "FollowUpNeeded"
	EventDecided        EventKind = "Decided"
)

// TransitionEvent is one recorded lifecycle event, written in the same
// transaction as the mutation that caused it and dispatched only after
// commit. EventID doubles as the dispatch idempotency key.
type TransitionEvent struct {
	EventID      uuid.UUID      `gorm:"column:event_id;type:uuid;primaryKey" json:"event_id"`
	ListingID    uint           `gorm:"column:listing_id;not null;index" json:"listing_id"`
	Kind         EventKind      `gorm:"column:kind;type:varchar(30);not null" json:"kind"`
	Payload      datatypes.JSON `gorm:"column:payload;type:jsonb;not null" json:"payload"`
	DispatchedAt *time.Time     `gorm:"column:dispatched_at" json:"dispatched_at"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (TransitionEvent) TableName() string {
	return "transition_events"
}

func (e *TransitionEvent) BeforeCreate(tx *gorm.DB) error {
	if e.EventID == uuid.Nil {
		e.EventID = uuid.New()
	}
	return nil
}
