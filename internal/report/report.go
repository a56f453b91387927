// Package report delivers crossing lifecycle records to an operator-facing
// sink. Sinks are best effort: a lost record never blocks synchronization.
package report

import (
	"fmt"
	"time"
)

// Stage is the lifecycle transition a record describes.
type Stage string

const (
	StageRecorded      Stage = "recorded"
	StageUploadStart   Stage = "upload_start"
	StageUploadSuccess Stage = "upload_success"
	StageUploadError   Stage = "upload_error"
)

// Record is one lifecycle transition of a crossing event, stamped with the
// time elapsed since its previous transition.
type Record struct {
	Stage          Stage         `json:"stage"`
	RecordID       string        `json:"record_id"`
	Kind           string        `json:"kind"`
	SubscriptionID string        `json:"subscription_id"`
	Delay          time.Duration `json:"delay_ns"`
	Error          string        `json:"error,omitempty"`
	At             time.Time     `json:"at"`
}

// String describes the record for logs.
func (r Record) String() string {
	return fmt.Sprintf("%s %s after %s", r.Stage, r.RecordID, r.Delay)
}

// Sink receives lifecycle records.
type Sink interface {
	Report(rec Record)
	Close() error
}
