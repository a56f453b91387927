// Package connection provides the registry of remotely-configured automations.
// A connection represents a host-enabled automation, optionally driven by
// location triggers.
package connection

import (
	"fmt"
	"time"
)

// Status is the remote-assigned state of a connection.
type Status string

const (
	StatusInitial  Status = "initial"
	StatusEnabled  Status = "enabled"
	StatusDisabled Status = "disabled"
	StatusUnknown  Status = "unknown"
)

// TriggerType tags the trigger union. Only location triggers matter to the
// engine; other variants are carried opaquely.
type TriggerType string

const (
	TriggerLocation TriggerType = "location"
)

// Region is a circular geofence tied 1:1 to a trigger subscription.
// Its ID equals the trigger subscription id; regions compare by ID only.
type Region struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float64 `json:"radius"` // meters
}

// Trigger is a condition whose satisfaction should fire a remote automation.
type Trigger struct {
	Type           TriggerType `json:"type"`
	SubscriptionID string      `json:"subscription_id"`
	Region         *Region     `json:"region,omitempty"` // set for location triggers
}

// IsLocation reports whether the trigger carries a geofence.
func (t Trigger) IsLocation() bool {
	return t.Type == TriggerLocation && t.Region != nil
}

// Connection represents a host-enabled automation.
//
// AllTriggers holds every trigger ever seen for the connection;
// ActiveTriggers holds the currently active subset. Both are kept because
// cleanup bookkeeping needs historical triggers after disablement.
type Connection struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Status         Status    `json:"status"`
	AllTriggers    []Trigger `json:"all_triggers,omitempty"`
	ActiveTriggers []Trigger `json:"active_triggers,omitempty"`

	// GeofencesEnabled gates the geofencing capability independently of the
	// overall status. A disabled connection is retained while this flag is
	// still set, so monitoring cleanup can find its regions.
	GeofencesEnabled bool `json:"geofences_enabled"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewConnection creates a connection in its initial state with the
// geofencing capability on.
func NewConnection(id, name string) *Connection {
	return &Connection{
		ID:               id,
		Name:             name,
		Status:           StatusInitial,
		GeofencesEnabled: true,
	}
}

// Validate validates the connection data.
func (c *Connection) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("connection id cannot be empty")
	}

	switch c.Status {
	case StatusInitial, StatusEnabled, StatusDisabled, StatusUnknown:
	default:
		return fmt.Errorf("invalid connection status: %q", c.Status)
	}

	for _, tr := range c.ActiveTriggers {
		if tr.SubscriptionID == "" {
			return fmt.Errorf("trigger subscription id cannot be empty")
		}
		if tr.Type == TriggerLocation && tr.Region == nil {
			return fmt.Errorf("location trigger %s has no region", tr.SubscriptionID)
		}
	}

	return nil
}

// HasActiveLocationTrigger reports whether any active trigger carries a region.
func (c *Connection) HasActiveLocationTrigger() bool {
	for _, tr := range c.ActiveTriggers {
		if tr.IsLocation() {
			return true
		}
	}
	return false
}

// Visible reports whether the connection belongs in the externally visible
// set: enabled with at least one active location trigger.
func (c *Connection) Visible() bool {
	return c.Status == StatusEnabled && c.HasActiveLocationTrigger()
}

// ActiveRegions returns the regions of the active location triggers.
func (c *Connection) ActiveRegions() []Region {
	var regions []Region
	for _, tr := range c.ActiveTriggers {
		if tr.IsLocation() {
			regions = append(regions, *tr.Region)
		}
	}
	return regions
}

// clone returns a deep copy so callers never share mutable state with the
// registry.
func (c *Connection) clone() *Connection {
	cp := *c
	cp.AllTriggers = cloneTriggers(c.AllTriggers)
	cp.ActiveTriggers = cloneTriggers(c.ActiveTriggers)
	return &cp
}

func cloneTriggers(triggers []Trigger) []Trigger {
	if triggers == nil {
		return nil
	}
	out := make([]Trigger, len(triggers))
	for i, tr := range triggers {
		out[i] = tr
		if tr.Region != nil {
			region := *tr.Region
			out[i].Region = &region
		}
	}
	return out
}
