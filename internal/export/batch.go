package export

import (
	"context"
	"fmt"
	"time"

	"github.com/singer-io/tap-zuora/internal/zuora"
)

// pacific is the timezone AQuA's ZOQL query strings are evaluated in,
// regardless of the tenant's configured timezone (spec.md §4.2).
var pacific = func() *time.Location {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		return time.UTC
	}
	return loc
}()

const aquaTimeLayout = "2006-01-02 15:04:05"

// Batch is the AQuA asynchronous bulk-export driver.
type Batch struct {
	client    *zuora.Client
	partnerID string
}

func NewBatch(client *zuora.Client, partnerID string) *Batch {
	return &Batch{client: client, partnerID: partnerID}
}

// Kind reports this driver as the AQuA/batch sync algorithm.
func (b *Batch) Kind() Kind { return KindBatch }

// buildQuery builds an unbounded ZOQL query ordered by the replication
// key, bounded only by the job's top-level incrementalTime (spec.md
// §4.4.1). AQuA has no per-query where-clause window the way the REST
// driver does: every run resubmits the same open-ended query, and the
// incrementalTime parameter is what Zuora uses server-side to skip
// already-exported rows.
func (b *Batch) buildQuery(q Query, project string) map[string]interface{} {
	zoql := fmt.Sprintf("select %s from %s", joinFields(q.Fields), q.Object)
	if q.ReplicationKey != "" {
		zoql += fmt.Sprintf(" order by %s asc", q.ReplicationKey)
	}
	query := map[string]interface{}{
		"name":  project,
		"query": zoql,
		"type":  "zoqlexport",
	}
	if q.Deleted {
		query["deleted"] = map[string]string{"column": "Deleted", "format": "Boolean"}
	}
	return query
}

func joinFields(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += ", "
		}
		out += f
	}
	return out
}

// CreateJob submits one AQuA batch-query job for the requested object.
// The job is always unbounded — it is never windowed by WindowStart/
// WindowEnd the way Rest is — and is bounded only by incrementalTime,
// a Pacific-time lower bound derived from the bookmark (spec.md §4.4.1,
// §9: historical versions always submit the batch export this way; that
// is preserved here verbatim rather than "fixed" to actually bound the
// ZOQL query).
func (b *Batch) CreateJob(ctx context.Context, q Query) (string, error) {
	project := fmt.Sprintf("%s_%d", q.Object, q.Version)

	payload := map[string]interface{}{
		"name":           project,
		"project":        project,
		"format":         "csv",
		"version":        "1.2",
		"encrypted":      "none",
		"useQueryLabels": "true",
		"dateTimeUtc":    "true",
		"queries":        []map[string]interface{}{b.buildQuery(q, project)},
	}
	if b.partnerID != "" {
		payload["partner"] = b.partnerID
	}
	if q.ReplicationKey != "" {
		payload["incrementalTime"] = q.IncrementalTime.In(pacific).Format(aquaTimeLayout)
	}

	resp, err := b.client.AquaPost(ctx, "v1/batch-query/", payload)
	if err != nil {
		return "", err
	}
	var decoded struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}
	if err := resp.JSON(&decoded); err != nil {
		return "", fmt.Errorf("decoding batch-query create response: %w", err)
	}
	if decoded.Message != "" {
		return "", fmt.Errorf("batch-query create for %s: %s", q.Object, decoded.Message)
	}
	return decoded.ID, nil
}

type batchJobStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Batches []struct {
		Name    string `json:"name"`
		Status  string `json:"status"`
		FileID  string `json:"fileId"`
		Message string `json:"message"`
	} `json:"batches"`
}

// JobStatus polls GET v1/batch-query/jobs/<id>.
func (b *Batch) JobStatus(ctx context.Context, jobID string) (JobStatus, string, error) {
	resp, err := b.client.AquaGet(ctx, "v1/batch-query/jobs/"+jobID)
	if err != nil {
		return JobFailed, "", err
	}
	var decoded batchJobStatus
	if err := resp.JSON(&decoded); err != nil {
		return JobFailed, "", fmt.Errorf("decoding batch-query status response: %w", err)
	}

	switch decoded.Status {
	case "completed":
		return JobCompleted, "", nil
	case "error", "canceled":
		return JobFailed, decoded.Message, nil
	default: // "pending", "executing", "submitted", ...
		return JobPending, "", nil
	}
}

// FileIDs lists each completed sub-batch's result file.
func (b *Batch) FileIDs(ctx context.Context, jobID string) ([]FileHandle, error) {
	resp, err := b.client.AquaGet(ctx, "v1/batch-query/jobs/"+jobID)
	if err != nil {
		return nil, err
	}
	var decoded batchJobStatus
	if err := resp.JSON(&decoded); err != nil {
		return nil, fmt.Errorf("decoding batch-query status response: %w", err)
	}

	files := make([]FileHandle, 0, len(decoded.Batches))
	for _, batch := range decoded.Batches {
		if batch.FileID == "" {
			continue
		}
		files = append(files, FileHandle{ID: batch.FileID, Name: batch.Name})
	}
	return files, nil
}

// StreamFile downloads one result file from the AQuA file endpoint.
func (b *Batch) StreamFile(ctx context.Context, jobID string, file FileHandle) (CSVStream, error) {
	resp, err := b.client.StreamGet(ctx, true, "v1/file/"+file.ID)
	if err != nil {
		return nil, asFileDeletedErr(err, jobID, file.ID)
	}
	return resp.Lines(), nil
}

// DeleteJob is best-effort; AQuA jobs expire on their own and a failed
// delete should never fail a sync.
func (b *Batch) DeleteJob(ctx context.Context, jobID string) {
	_, _ = b.client.AquaDelete(ctx, "v1/batch-query/jobs/"+jobID)
}
