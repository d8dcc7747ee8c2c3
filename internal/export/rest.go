package export

import (
	"fmt"
	"context"

	"github.com/singer-io/tap-zuora/internal/zuora"
)

const restTimeLayout = "2006-01-02T15:04:05Z"

// Rest is the synchronous, time-windowed export driver built on Zuora's
// Data Source Export REST object (spec.md §4.2). Unlike Batch, each
// "job" here is a single Export record with one query and one result
// file, but it still goes through submit/poll/download like AQuA so it
// can share the orchestrator's state machine.
type Rest struct {
	client *zuora.Client
}

func NewRest(client *zuora.Client) *Rest {
	return &Rest{client: client}
}

// Kind reports this driver as the synchronous/REST sync algorithm.
func (r *Rest) Kind() Kind { return KindRest }

// buildZOQL builds a fixed-window query against the object's replication
// key. FULL_TABLE objects (no replication key) get a plain unbounded
// select with no where-clause (spec.md §4.4.2).
func (r *Rest) buildZOQL(q Query) string {
	if q.ReplicationKey == "" {
		return fmt.Sprintf("select %s from %s", joinFields(q.Fields), q.Object)
	}
	return fmt.Sprintf(
		"select %s from %s where %s >= '%s' and %s < '%s'",
		joinFields(q.Fields),
		q.Object,
		q.ReplicationKey,
		q.WindowStart.UTC().Format(restTimeLayout),
		q.ReplicationKey,
		q.WindowEnd.UTC().Format(restTimeLayout),
	)
}

// CreateJob submits a Data Source Export record.
func (r *Rest) CreateJob(ctx context.Context, q Query) (string, error) {
	payload := map[string]interface{}{
		"Format": "csv",
		"Query":  r.buildZOQL(q),
		"Zip":    "none",
	}
	resp, err := r.client.Post(ctx, "v1/object/export/", payload)
	if err != nil {
		return "", err
	}
	var decoded struct {
		ID      string `json:"Id"`
		Success bool   `json:"Success"`
	}
	if err := resp.JSON(&decoded); err != nil {
		return "", fmt.Errorf("decoding export create response: %w", err)
	}
	if !decoded.Success || decoded.ID == "" {
		return "", fmt.Errorf("export create for %s did not return a job id", q.Object)
	}
	return decoded.ID, nil
}

type restExportStatus struct {
	Status       string `json:"Status"`
	StatusReason string `json:"StatusReason"`
	FileID       string `json:"FileId"`
}

func (r *Rest) fetchStatus(ctx context.Context, jobID string) (restExportStatus, error) {
	var decoded restExportStatus
	resp, err := r.client.Get(ctx, "v1/object/export/"+jobID)
	if err != nil {
		return decoded, err
	}
	if err := resp.JSON(&decoded); err != nil {
		return decoded, fmt.Errorf("decoding export status response: %w", err)
	}
	return decoded, nil
}

// JobStatus polls the export record's Status field.
func (r *Rest) JobStatus(ctx context.Context, jobID string) (JobStatus, string, error) {
	decoded, err := r.fetchStatus(ctx, jobID)
	if err != nil {
		return JobFailed, "", err
	}
	switch decoded.Status {
	case "Completed":
		return JobCompleted, "", nil
	case "Failed", "Cancelled":
		return JobFailed, decoded.StatusReason, nil
	default: // "Pending", "Processing"
		return JobPending, "", nil
	}
}

// FileIDs returns the export's single result file, once ready.
func (r *Rest) FileIDs(ctx context.Context, jobID string) ([]FileHandle, error) {
	decoded, err := r.fetchStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if decoded.FileID == "" {
		return nil, nil
	}
	return []FileHandle{{ID: decoded.FileID, Name: jobID}}, nil
}

// StreamFile downloads the export's result file.
func (r *Rest) StreamFile(ctx context.Context, jobID string, file FileHandle) (CSVStream, error) {
	resp, err := r.client.StreamGet(ctx, false, "v1/files/"+file.ID)
	if err != nil {
		return nil, asFileDeletedErr(err, jobID, file.ID)
	}
	return resp.Lines(), nil
}

// DeleteJob is a no-op: Data Source Export records expire on Zuora's own
// retention schedule and there is no supported delete call for them.
func (r *Rest) DeleteJob(ctx context.Context, jobID string) {}
