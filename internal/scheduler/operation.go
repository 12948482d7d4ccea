// Package scheduler runs store operations through a bounded worker pool with
// per-path serialization and retry of transient failures.
package scheduler

import (
	"time"
)

type Action int

const (
	ActionUpload Action = iota
	ActionDelete
)

func (a Action) String() string {
	if a == ActionDelete {
		return "delete"
	}
	return "upload"
}

// Trigger records what caused an operation. The values double as the action
// type on audit records.
type Trigger string

const (
	TriggerCreate    Trigger = "CREATE"
	TriggerUpdate    Trigger = "UPDATE"
	TriggerBacktrack Trigger = "PUT"
	TriggerDelete    Trigger = "DELETE"
)

// Operation is one unit of store work for a path. The scheduler owns it
// after Enqueue.
type Operation struct {
	// Path is the absolute local path.
	Path string

	// Key is the store key the path maps to.
	Key string

	Action  Action
	Trigger Trigger

	EnqueuedAt time.Time

	// Attempt counts executions so far. It only ever grows, and is bounded
	// by the scheduler's retry ceiling.
	Attempt int
}

type Outcome int

const (
	Succeeded Outcome = iota
	Failed
	Skipped
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is the terminal report of exactly one operation. Every operation
// accepted by the scheduler produces exactly one.
type Result struct {
	Path    string
	Key     string
	Action  Action
	Trigger Trigger
	Outcome Outcome

	// Err is set for Failed results.
	Err error

	// Reason explains Skipped results ("unchanged", "vanished", "superseded").
	Reason string

	// Attempts is how many executions the operation took.
	Attempts int

	Duration time.Duration
	Size     int64
}

// DeadOperation is an operation that exhausted its retries.
type DeadOperation struct {
	Key      string
	Action   Action
	Attempts int
	Err      error
	At       time.Time
}
