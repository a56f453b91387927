// Package region holds the durable queue of geofence crossing events
// awaiting upload.
package region

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the direction of a geofence crossing.
type Kind string

const (
	KindEntry Kind = "entry"
	KindExit  Kind = "exit"
)

// Event is a single geofence crossing observation. Record identity is the
// RecordID, minted at creation time; two crossings of the same region are
// distinct events and are never deduplicated.
type Event struct {
	RecordID       string    `json:"record_id"`
	Kind           Kind      `json:"kind"`
	SubscriptionID string    `json:"subscription_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// NewEvent mints a crossing event with a fresh record id.
func NewEvent(kind Kind, subscriptionID string, occurredAt time.Time) Event {
	return Event{
		RecordID:       uuid.NewString(),
		Kind:           kind,
		SubscriptionID: subscriptionID,
		OccurredAt:     occurredAt.UTC(),
	}
}

// Validate validates the event data.
func (e Event) Validate() error {
	if e.RecordID == "" {
		return fmt.Errorf("event record id cannot be empty")
	}
	switch e.Kind {
	case KindEntry, KindExit:
	default:
		return fmt.Errorf("invalid event kind: %q", e.Kind)
	}
	if e.SubscriptionID == "" {
		return fmt.Errorf("event subscription id cannot be empty")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("event timestamp cannot be zero")
	}
	return nil
}

// String describes the event for logs.
func (e Event) String() string {
	return fmt.Sprintf("%s %s at %s", e.Kind, e.SubscriptionID, e.OccurredAt.Format(time.RFC3339))
}
