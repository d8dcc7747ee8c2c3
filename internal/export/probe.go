package export

import (
	"context"
	"time"

	"github.com/singer-io/tap-zuora/internal/catalog"
)

// probeWindowDuration is the one-day window runProbe puts on its probe
// query. The probe query carries no replication key, so neither driver
// applies the window: Batch never reads WindowStart/WindowEnd, and Rest
// only builds a where-clause when a replication key is set. Both submit
// an unbounded "select Id from <object>" job with no row limit.
const probeWindowDuration = 24 * time.Hour

func runProbe(ctx context.Context, d Driver, objectName string, supportsDeleted bool) (catalog.ProbeResult, error) {
	now := time.Now().UTC()
	q := Query{
		Object:      objectName,
		Fields:      []string{"Id"},
		WindowStart: now.Add(-probeWindowDuration),
		WindowEnd:   now,
	}

	jobID, err := d.CreateJob(ctx, q)
	if err != nil {
		return catalog.ProbeUnavailable, nil //nolint:nilerr // an API-level rejection means "not exportable", not a transport failure
	}
	defer d.DeleteJob(ctx, jobID)

	status, _, err := pollOnce(ctx, d, jobID)
	if err != nil || status == JobFailed {
		return catalog.ProbeUnavailable, nil
	}

	if !supportsDeleted {
		return catalog.ProbeAvailable, nil
	}

	deletedQuery := q
	deletedQuery.Deleted = true
	delJobID, err := d.CreateJob(ctx, deletedQuery)
	if err != nil {
		return catalog.ProbeAvailable, nil
	}
	defer d.DeleteJob(ctx, delJobID)

	delStatus, _, err := pollOnce(ctx, d, delJobID)
	if err != nil || delStatus == JobFailed {
		return catalog.ProbeAvailable, nil
	}
	return catalog.ProbeAvailableWithDeleted, nil
}

// pollOnce waits briefly for a job to leave JobPending, for probing
// purposes only; the orchestrator's real poll loop (outside this
// package) governs actual sync timeouts and window halving.
func pollOnce(ctx context.Context, d Driver, jobID string) (JobStatus, string, error) {
	deadline := time.Now().Add(30 * time.Second)
	for {
		status, msg, err := d.JobStatus(ctx, jobID)
		if err != nil || status != JobPending {
			return status, msg, err
		}
		if time.Now().After(deadline) {
			return JobPending, "", nil
		}
		select {
		case <-ctx.Done():
			return JobPending, "", ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// ProbeObject implements catalog.JobProbe for the AQuA driver.
func (b *Batch) ProbeObject(ctx context.Context, objectName string, supportsDeleted bool) (catalog.ProbeResult, error) {
	return runProbe(ctx, b, objectName, supportsDeleted)
}

// ProbeObject implements catalog.JobProbe for the sync/REST driver.
func (r *Rest) ProbeObject(ctx context.Context, objectName string, supportsDeleted bool) (catalog.ProbeResult, error) {
	return runProbe(ctx, r, objectName, supportsDeleted)
}
