// Package types contains the read shapes shared by the service, the HTTP
// control surface and the CLI.
package types

import "github.com/okian/standings/internal/domain/model"

// TriggerResult answers a recalculation request.
type TriggerResult struct {
	JobID                    string `json:"job_id"`
	EstimatedDurationSeconds int    `json:"estimated_duration_seconds"`
	Coalesced                bool   `json:"coalesced"`
}

// QueueStatus is a point-in-time view of the job queue.
type QueueStatus struct {
	Running     bool        `json:"running"`
	Paused      bool        `json:"paused"`
	TotalJobs   int         `json:"total_jobs"`
	Pending     int         `json:"pending"`
	Processing  int         `json:"processing"`
	Completed   int         `json:"completed"`
	Failed      int         `json:"failed"`
	CurrentJobs []model.Job `json:"current_jobs"`
}

// FieldError is one violated validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult is the outcome of validating a proposed match result.
type ValidationResult struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

// Add records a violation and marks the result invalid.
func (r *ValidationResult) Add(field, code, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, FieldError{Field: field, Message: message, Code: code})
}

// HasCode reports whether any error carries code.
func (r *ValidationResult) HasCode(code string) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// Decision is the change detector's verdict on one match change.
type Decision struct {
	Recalculate bool           `json:"recalculate"`
	Priority    model.Priority `json:"priority"`
	Keys        []model.Key    `json:"keys,omitempty"`
	Reasons     []string       `json:"reasons,omitempty"`
	Changed     []string       `json:"changed,omitempty"`
}

// EventOutcome reports what a match event caused.
type EventOutcome struct {
	Decision   Decision         `json:"decision"`
	Validation ValidationResult `json:"validation"`
	JobIDs     []string         `json:"job_ids,omitempty"`
}

// SaveResult answers a match save through the service.
type SaveResult struct {
	Match   *model.Match `json:"match"`
	Outcome EventOutcome `json:"outcome"`
	// Duplicate is set when the idempotency key was seen before; Match is the
	// record the first request produced and nothing was enqueued.
	Duplicate bool `json:"duplicate,omitempty"`
}

// RestoreResult answers a snapshot restore.
type RestoreResult struct {
	JobID                string `json:"job_id"`
	SnapshotID           string `json:"snapshot_id"`
	PreRestoreSnapshotID string `json:"pre_restore_snapshot_id"`
	Entries              int    `json:"entries"`
}

// EntriesResult answers a request to create missing table rows.
type EntriesResult struct {
	Added   int                `json:"added"`
	Entries []model.TableEntry `json:"entries"`
}
