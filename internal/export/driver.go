// Package export implements the two interchangeable Zuora export
// protocols — AQuA asynchronous batch-query jobs and the synchronous,
// time-windowed REST export — behind one Driver interface (spec.md §4.2).
package export

import (
	"context"
	"time"
)

// FileHandle identifies one downloadable result file within a job. The
// orchestrator persists only the ID (in the bookmark's file_ids list);
// the resumption cursor is the bookmark's file_index (spec.md §4.6).
type FileHandle struct {
	ID   string
	Name string
}

// JobStatus is the outcome of polling a submitted job.
type JobStatus int

const (
	JobPending JobStatus = iota
	JobCompleted
	JobFailed
)

// Query describes one object's export request. Batch and Rest read
// different subsets of it: Batch submits an unbounded query bounded only
// by IncrementalTime/ReplicationKey (spec.md §4.4.1); Rest submits a
// fixed [WindowStart, WindowEnd) window (spec.md §4.4.2).
type Query struct {
	Object         string
	Fields         []string
	ReplicationKey string // "" for FULL_TABLE objects
	Deleted        bool

	// Batch-only.
	Version         int64     // composes the AQuA job's "<object>_<version>" label
	IncrementalTime time.Time // lower bound passed as AQuA's incrementalTime

	// Rest-only.
	WindowStart time.Time
	WindowEnd   time.Time
}

// Kind distinguishes the two export protocols so the orchestrator can run
// each one's own sync algorithm (spec.md §4.6).
type Kind int

const (
	KindBatch Kind = iota
	KindRest
)

// Driver is implemented by Batch (AQuA) and Rest (sync). The orchestrator
// talks only to this interface, never to api-specific types, so the two
// protocols are fully interchangeable (spec.md §4.2, §5).
type Driver interface {
	// Kind reports which of the two sync algorithms (spec.md §4.6) applies.
	Kind() Kind

	// CreateJob submits an export request and returns an opaque job ID.
	CreateJob(ctx context.Context, q Query) (jobID string, err error)

	// JobStatus polls a previously submitted job.
	JobStatus(ctx context.Context, jobID string) (JobStatus, string, error)

	// FileIDs lists the result files for a completed job, in the order
	// they must be streamed.
	FileIDs(ctx context.Context, jobID string) ([]FileHandle, error)

	// StreamFile opens one result file for line-by-line CSV consumption.
	// The returned CSVStream's lifetime is owned by the caller.
	StreamFile(ctx context.Context, jobID string, file FileHandle) (CSVStream, error)

	// DeleteJob releases server-side resources for a job; best-effort.
	DeleteJob(ctx context.Context, jobID string)
}

// CSVStream yields raw CSV lines (header first) from a result file.
type CSVStream interface {
	Next() (string, bool)
	Err() error
	Close() error
}
