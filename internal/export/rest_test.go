package export

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/singer-io/tap-zuora/internal/zuora"
)

func TestRestCreateJobUsesUTCZuluWindow(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = jsonBody(t, r)
		w.Write([]byte(`{"Id":"exp-1","Success":true}`))
	}))
	defer srv.Close()

	client := zuora.NewClient(zuora.Config{}, srv.URL+"/", srv.URL+"/", quietLogger())
	r := NewRest(client)

	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	jobID, err := r.CreateJob(context.Background(), Query{Object: "Invoice", Fields: []string{"Id"}, ReplicationKey: "UpdatedDate", WindowStart: start, WindowEnd: start.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, "exp-1", jobID)
	assert.Contains(t, captured["Query"], "2024-06-01T12:00:00Z")
	assert.Contains(t, captured["Query"], "UpdatedDate >=")
}

func TestRestCreateJobFullTableHasNoWhereClause(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = jsonBody(t, r)
		w.Write([]byte(`{"Id":"exp-2","Success":true}`))
	}))
	defer srv.Close()

	client := zuora.NewClient(zuora.Config{}, srv.URL+"/", srv.URL+"/", quietLogger())
	r := NewRest(client)

	_, err := r.CreateJob(context.Background(), Query{Object: "KeyValue", Fields: []string{"Id"}})
	require.NoError(t, err)
	assert.Equal(t, "select Id from KeyValue", captured["Query"])
}

func TestRestJobStatusCancelledSurfacesReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Status":"Cancelled","StatusReason":"cancelled by admin"}`))
	}))
	defer srv.Close()

	client := zuora.NewClient(zuora.Config{}, srv.URL+"/", srv.URL+"/", quietLogger())
	r := NewRest(client)

	status, msg, err := r.JobStatus(context.Background(), "exp-1")
	require.NoError(t, err)
	assert.Equal(t, JobFailed, status)
	assert.Equal(t, "cancelled by admin", msg)
}

func TestRestJobStatusFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Status":"Failed","StatusReason":"bad query"}`))
	}))
	defer srv.Close()

	client := zuora.NewClient(zuora.Config{}, srv.URL+"/", srv.URL+"/", quietLogger())
	r := NewRest(client)

	status, msg, err := r.JobStatus(context.Background(), "exp-1")
	require.NoError(t, err)
	assert.Equal(t, JobFailed, status)
	assert.Equal(t, "bad query", msg)
}

func TestRestFileIDsEmptyUntilReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Status":"Processing"}`))
	}))
	defer srv.Close()

	client := zuora.NewClient(zuora.Config{}, srv.URL+"/", srv.URL+"/", quietLogger())
	r := NewRest(client)

	files, err := r.FileIDs(context.Background(), "exp-1")
	require.NoError(t, err)
	assert.Empty(t, files)
}
