package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Priority orders pending jobs; higher values are served first.
type Priority int

// Named priority levels.
const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 10
	PriorityUrgent Priority = 20
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	}
	return strconv.Itoa(int(p))
}

// ParsePriority accepts a level name or a positive integer.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid priority %q", s)
	}
	return Priority(n), nil
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

// Job statuses.
const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// JobKind distinguishes the work a job performs.
type JobKind string

// Job kinds.
const (
	KindRecalculate JobKind = "recalculate"
	KindRestore     JobKind = "restore"
)

// Job sources.
const (
	SourceMatchEvent = "match_event"
	SourceManual     = "manual"
)

// Job is a unit of recalculation work for one league/season.
type Job struct {
	ID          string     `json:"id"`
	Kind        JobKind    `json:"kind"`
	LeagueID    string     `json:"league_id"`
	SeasonID    string     `json:"season_id"`
	Priority    Priority   `json:"priority"`
	Status      JobStatus  `json:"status"`
	Source      string     `json:"source"`
	Description string     `json:"description,omitempty"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Coalesced   int        `json:"coalesced"`
	Merged      []string   `json:"merged,omitempty"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	NotBefore   time.Time  `json:"not_before,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	Result      *JobResult `json:"result,omitempty"`
}

// Key returns the league/season the job recalculates.
func (j *Job) Key() Key { return Key{LeagueID: j.LeagueID, SeasonID: j.SeasonID} }

// Answers reports whether id names this job or a job merged into it.
func (j *Job) Answers(id string) bool {
	if j.ID == id {
		return true
	}
	for _, m := range j.Merged {
		if m == id {
			return true
		}
	}
	return false
}

// Terminal reports whether the job will not run again.
func (j *Job) Terminal() bool { return j.Status == JobCompleted || j.Status == JobFailed }

// Duration is the wall time between start and finish of the last attempt.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

// JobResult summarises a successful recalculation.
type JobResult struct {
	SnapshotID      string   `json:"snapshot_id,omitempty"`
	Entries         int      `json:"entries"`
	ExcludedMatches []string `json:"excluded_matches,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

// Clone returns a deep copy safe to hand out of a lock.
func (j *Job) Clone() Job {
	c := *j
	c.Merged = append([]string(nil), j.Merged...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	if j.Result != nil {
		r := *j.Result
		r.ExcludedMatches = append([]string(nil), j.Result.ExcludedMatches...)
		r.Warnings = append([]string(nil), j.Result.Warnings...)
		c.Result = &r
	}
	return c
}
