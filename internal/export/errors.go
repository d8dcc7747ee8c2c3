package export

import (
	"fmt"
	"net/http"

	"github.com/singer-io/tap-zuora/internal/zuora"
)

// ExportFailed wraps a job that Zuora itself reports as failed, carrying
// whatever diagnostic message the job status response included.
type ExportFailed struct {
	JobID   string
	Object  string
	Message string
}

func (e *ExportFailed) Error() string {
	return fmt.Sprintf("export job %s for %s failed: %s", e.JobID, e.Object, e.Message)
}

// ExportTimedOut is returned when a job's poll loop exceeds its deadline
// without completing. The orchestrator halves the window and retries
// rather than treating this as terminal (spec.md §4.6).
type ExportTimedOut struct {
	JobID  string
	Object string
}

func (e *ExportTimedOut) Error() string {
	return fmt.Sprintf("export job %s for %s timed out", e.JobID, e.Object)
}

// ExportTooLarge is raised by the orchestrator (not this package) once a
// window has been halved below the minimum and still times out.
type ExportTooLarge struct {
	Object string
}

func (e *ExportTooLarge) Error() string {
	return fmt.Sprintf("export window for %s cannot be shrunk further and still times out", e.Object)
}

// FileDeletedMidSync marks a 404 encountered while streaming a result
// file that a prior poll had reported as ready (spec.md §4.6 edge case).
type FileDeletedMidSync struct {
	JobID  string
	FileID string
}

func (e *FileDeletedMidSync) Error() string {
	return fmt.Sprintf("result file %s for job %s was deleted before it could be streamed", e.FileID, e.JobID)
}

// asFileDeletedErr reclassifies a 404 from a stream download as
// FileDeletedMidSync so the orchestrator can distinguish "refetch the
// file list and retry" from any other transport failure.
func asFileDeletedErr(err error, jobID, fileID string) error {
	if apiErr, ok := err.(*zuora.ApiError); ok && apiErr.Status == http.StatusNotFound {
		return &FileDeletedMidSync{JobID: jobID, FileID: fileID}
	}
	return err
}
