package orchestrator

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/singer-io/tap-zuora/internal/catalog"
	"github.com/singer-io/tap-zuora/internal/export"
	"github.com/singer-io/tap-zuora/internal/message"
	"github.com/singer-io/tap-zuora/internal/state"
)

type fakeStream struct {
	lines []string
	idx   int
}

func (f *fakeStream) Next() (string, bool) {
	if f.idx >= len(f.lines) {
		return "", false
	}
	l := f.lines[f.idx]
	f.idx++
	return l, true
}
func (f *fakeStream) Err() error   { return nil }
func (f *fakeStream) Close() error { return nil }

type fakeDriver struct {
	kind        export.Kind
	createCalls int
	fileLines   map[string][]string // jobID -> csv lines including header
	fileIDs     map[string][]export.FileHandle
}

func (d *fakeDriver) Kind() export.Kind { return d.kind }

func (d *fakeDriver) CreateJob(ctx context.Context, q export.Query) (string, error) {
	d.createCalls++
	return "job-1", nil
}
func (d *fakeDriver) JobStatus(ctx context.Context, jobID string) (export.JobStatus, string, error) {
	return export.JobCompleted, "", nil
}
func (d *fakeDriver) FileIDs(ctx context.Context, jobID string) ([]export.FileHandle, error) {
	return d.fileIDs[jobID], nil
}
func (d *fakeDriver) StreamFile(ctx context.Context, jobID string, file export.FileHandle) (export.CSVStream, error) {
	return &fakeStream{lines: d.fileLines[file.ID]}, nil
}
func (d *fakeDriver) DeleteJob(ctx context.Context, jobID string) {}

func testOrchestrator(d export.Driver) (*Orchestrator, *bytes.Buffer) {
	var buf bytes.Buffer
	w := message.NewWriter(&buf)
	log := logrus.New()
	log.Out = &bytes.Buffer{}
	o := New(d, w, log, "2023-01-01T00:00:00Z")
	o.clock = func() time.Time { return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) }
	return o, &buf
}

func testStream() catalog.Stream {
	obj := &catalog.Object{
		Name:              "Account",
		PropertyOrder:     []string{"Id", "UpdatedDate"},
		Properties: map[string]*catalog.Property{
			"Id":          {Type: catalog.TypeString, Inclusion: catalog.InclusionAutomatic},
			"UpdatedDate": {Type: catalog.TypeDatime, Inclusion: catalog.InclusionAutomatic},
		},
		KeyProperties:     []string{"Id"},
		ReplicationKey:    "UpdatedDate",
		ReplicationMethod: catalog.Incremental,
	}
	return catalog.BuildStream(obj)
}

func TestSyncEmitsRecordsAndAdvancesBookmark(t *testing.T) {
	s := testStream()
	for i := range s.Metadata {
		if len(s.Metadata[i].Breadcrumb) == 0 {
			s.Metadata[i].Metadata["selected"] = true
		}
	}
	obj := &catalog.Object{
		Name:              "Account",
		Properties:        map[string]*catalog.Property{"Id": {Type: catalog.TypeString}, "UpdatedDate": {Type: catalog.TypeDatime}},
		KeyProperties:     []string{"Id"},
		ReplicationKey:    "UpdatedDate",
		ReplicationMethod: catalog.Incremental,
	}

	driver := &fakeDriver{
		fileIDs:   map[string][]export.FileHandle{"job-1": {{ID: "f1"}}},
		fileLines: map[string][]string{"f1": {"Id,UpdatedDate", `"1","2024-01-01 00:00:00"`}},
	}

	o, buf := testOrchestrator(driver)
	st := state.New()
	cat := catalog.Catalog{Streams: []catalog.Stream{s}}
	objects := map[string]*catalog.Object{"Account": obj}

	_, err := o.Sync(context.Background(), cat, st, objects)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"RECORD"`)
	assert.Equal(t, 1, driver.createCalls)
	assert.NotEmpty(t, st.Get("Account").Version)
	assert.Equal(t, "2024-01-01T00:00:00Z", st.Get("Account").ReplicationKeyValue)
}

func TestRunRestJobResumesFromBookmarkedJob(t *testing.T) {
	driver := &fakeDriver{
		kind:      export.KindRest,
		fileIDs:   map[string][]export.FileHandle{"job-1": {{ID: "f1"}, {ID: "f2"}}},
		fileLines: map[string][]string{
			"f1": {"Id,UpdatedDate", `"1","2024-01-01 00:00:00"`},
			"f2": {"Id,UpdatedDate", `"2","2024-01-01 00:00:01"`},
		},
	}
	o, _ := testOrchestrator(driver)

	s := testStream()
	obj := &catalog.Object{Properties: map[string]*catalog.Property{"Id": {Type: catalog.TypeString}, "UpdatedDate": {Type: catalog.TypeDatime}}}
	selected := map[string]bool{"Id": true, "UpdatedDate": true}

	st := state.New()
	st.Set(s.TapStreamID, state.Bookmark{JobID: "job-1", FileIDs: []string{"f1"}, FileIndex: 1})

	err := o.runRestJob(context.Background(), s, obj, st, selected, time.Now(), time.Now())
	require.NoError(t, err)

	// createCalls stays 0: the bookmarked job id was reused, not recreated.
	assert.Equal(t, 0, driver.createCalls)
}

func TestSyncBatchStreamSubmitsUnboundedJobAndAdvancesBookmark(t *testing.T) {
	driver := &fakeDriver{
		kind:      export.KindBatch,
		fileIDs:   map[string][]export.FileHandle{"job-1": {{ID: "f1"}}},
		fileLines: map[string][]string{"f1": {"Id,UpdatedDate", `"1","2024-01-01 00:00:00"`}},
	}
	o, buf := testOrchestrator(driver)

	s := testStream()
	for i := range s.Metadata {
		if len(s.Metadata[i].Breadcrumb) == 0 {
			s.Metadata[i].Metadata["selected"] = true
		}
	}
	obj := &catalog.Object{
		Name:              "Account",
		Properties:        map[string]*catalog.Property{"Id": {Type: catalog.TypeString}, "UpdatedDate": {Type: catalog.TypeDatime}},
		KeyProperties:     []string{"Id"},
		ReplicationKey:    "UpdatedDate",
		ReplicationMethod: catalog.Incremental,
	}

	st := state.New()
	cat := catalog.Catalog{Streams: []catalog.Stream{s}}
	objects := map[string]*catalog.Object{"Account": obj}

	_, err := o.Sync(context.Background(), cat, st, objects)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"RECORD"`)
	assert.Equal(t, 1, driver.createCalls)
	assert.Equal(t, "2024-01-01T00:00:00Z", st.Get("Account").ReplicationKeyValue)
	assert.Equal(t, "UpdatedDate", st.Get("Account").ReplicationKeyName)
}
