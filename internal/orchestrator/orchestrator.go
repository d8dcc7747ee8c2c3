// Package orchestrator drives a full sync: iterating selected catalog
// streams and running each through its export driver's own sync
// algorithm — Batch's single unbounded job with window halving gated
// only on the ExportTooLarge check, or Rest's fixed-window walk halved
// by integer division — with job/file resumption and correctly-timed
// STATE flushes (spec.md §4.6, §4.7).
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/singer-io/tap-zuora/internal/catalog"
	"github.com/singer-io/tap-zuora/internal/csvrecord"
	"github.com/singer-io/tap-zuora/internal/export"
	"github.com/singer-io/tap-zuora/internal/message"
	"github.com/singer-io/tap-zuora/internal/state"
)

const (
	// defaultWindowLength is the Rest/sync driver's starting window size
	// (spec.md §4.4.2, §4.6); halved by integer division down to exactly
	// 0 on repeated timeouts, at which point the object is ExportTooLarge.
	defaultWindowLength = 30 * 24 * time.Hour

	pollInterval = 10 * time.Second
	jobTimeout   = 90 * time.Minute
)

// Clock exists so tests can control "now" without touching the real
// system clock.
type Clock func() time.Time

// Orchestrator runs a full sync over a set of streams.
type Orchestrator struct {
	driver    export.Driver
	writer    *message.Writer
	log       *logrus.Logger
	clock     Clock
	startDate string
}

// New builds an Orchestrator. startDate seeds a stream's bookmark the
// first time it is synced (spec.md §4.7); it is the tap config's
// start_date, formatted as an RFC3339 timestamp.
func New(driver export.Driver, writer *message.Writer, log *logrus.Logger, startDate string) *Orchestrator {
	return &Orchestrator{driver: driver, writer: writer, log: log, clock: time.Now, startDate: startDate}
}

// Sync runs every selected stream in catalog order, honoring st's
// current_stream resume marker, and returns the final state.
func (o *Orchestrator) Sync(ctx context.Context, cat catalog.Catalog, st *state.State, objects map[string]*catalog.Object) (*state.State, error) {
	streams := cat.SelectedStreams()

	startIdx := 0
	if st.CurrentStream != "" {
		for i, s := range streams {
			if s.TapStreamID == st.CurrentStream {
				startIdx = i
				break
			}
		}
	}

	for _, s := range streams[startIdx:] {
		obj, ok := objects[s.TapStreamID]
		if !ok {
			return st, fmt.Errorf("no discovered object metadata for stream %s", s.TapStreamID)
		}

		st.CurrentStream = s.TapStreamID
		if err := o.writer.State(st); err != nil {
			return st, err
		}

		if err := o.syncStream(ctx, s, obj, st); err != nil {
			return st, fmt.Errorf("syncing %s: %w", s.TapStreamID, err)
		}
	}

	st.CurrentStream = ""
	if err := o.writer.State(st); err != nil {
		return st, err
	}
	return st, nil
}

// syncStream seeds the stream's initial bookmark, emits its SCHEMA
// message, and dispatches to the driver-specific sync algorithm
// (spec.md §4.6): Batch and Rest resume and window completely
// differently, so they are not modeled as one shared loop.
func (o *Orchestrator) syncStream(ctx context.Context, s catalog.Stream, obj *catalog.Object, st *state.State) error {
	now := o.clock().Unix()
	st.EnsureInitialBookmark(s.TapStreamID, s.ReplicationKey, o.startDate, now)

	selected := s.SelectedFields()
	if err := o.writer.Schema(s.TapStreamID, s.Schema, s.KeyProperties); err != nil {
		return err
	}

	var err error
	switch o.driver.Kind() {
	case export.KindBatch:
		err = o.syncBatchStream(ctx, s, obj, st, selected)
	default:
		err = o.syncRestStream(ctx, s, obj, st, selected)
	}
	if err != nil {
		return err
	}

	st.ClearTransient(s.TapStreamID)
	return o.writer.State(st)
}

func parseCursor(value string) (time.Time, error) {
	if value == "" {
		return time.Unix(0, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing bookmark replication key %q: %w", value, err)
	}
	return t.UTC(), nil
}

// syncBatchStream submits a single unbounded AQuA job per attempt,
// bounded only by incrementalTime, and polls it to completion (spec.md
// §4.4.1, §4.6). A timeout halves current_window_end purely as a
// termination/bookkeeping cursor — it never narrows the resubmitted
// query, which stays the same open-ended ZOQL with the same
// incrementalTime every attempt (spec.md §9's documented limitation).
func (o *Orchestrator) syncBatchStream(ctx context.Context, s catalog.Stream, obj *catalog.Object, st *state.State, selected map[string]bool) error {
	for {
		bookmark := st.Get(s.TapStreamID)
		jobID := bookmark.JobID
		if jobID == "" && bookmark.FileIDs == nil {
			incremental, err := parseCursor(bookmark.ReplicationKeyValue)
			if err != nil {
				return err
			}
			jobID, err = o.driver.CreateJob(ctx, export.Query{
				Object:          s.TapStreamID,
				Fields:          fieldNames(selected),
				ReplicationKey:  s.ReplicationKey,
				Deleted:         obj.SupportsDeleted && selected["Deleted"],
				Version:         bookmark.Version,
				IncrementalTime: incremental,
			})
			if err != nil {
				return err
			}
			bookmark.JobID = jobID
			st.Set(s.TapStreamID, bookmark)
			if err := o.writer.State(st); err != nil {
				return err
			}
		}

		err := o.pollUntilReady(ctx, s.TapStreamID, jobID)
		if _, ok := err.(*export.ExportTimedOut); ok {
			tooLarge, herr := o.handleBatchTimeout(s, st)
			if herr != nil {
				return herr
			}
			if tooLarge {
				return &export.ExportTooLarge{Object: s.TapStreamID}
			}
			continue
		}
		if err != nil {
			return err
		}

		bookmark = st.Get(s.TapStreamID)
		if bookmark.FileIDs == nil {
			handles, ferr := o.driver.FileIDs(ctx, jobID)
			if ferr != nil {
				return ferr
			}
			files := make([]string, 0, len(handles))
			for _, h := range handles {
				files = append(files, h.ID)
			}
			bookmark.FileIDs = files
			st.Set(s.TapStreamID, bookmark)
			if err := o.writer.State(st); err != nil {
				return err
			}
		}

		maxRK, cerr := o.consumeFiles(ctx, s, obj, st, selected, jobID)
		if cerr != nil {
			return cerr
		}

		// No row advanced the bookmark past its prior value: this attempt
		// still exhausted the halved window, so promote current_window_end
		// into the bookmark directly (spec.md §4.6's "empty window still
		// advances" case).
		if maxRK == "" {
			bookmark = st.Get(s.TapStreamID)
			if bookmark.CurrentWindowEnd != "" {
				st.AdvanceReplicationKey(s.TapStreamID, s.ReplicationKey, bookmark.CurrentWindowEnd)
			}
		}

		o.driver.DeleteJob(ctx, jobID)
		st.ClearTransient(s.TapStreamID)
		if err := o.writer.State(st); err != nil {
			return err
		}
		return nil
	}
}

// handleBatchTimeout halves the gap between the bookmark and
// current_window_end (defaulting the latter to "now" the first time),
// resetting the in-flight job so the next attempt resubmits fresh.
// FULL_TABLE objects have no replication key to halve against, so a
// timeout there is unconditionally fatal (spec.md §4.6).
func (o *Orchestrator) handleBatchTimeout(s catalog.Stream, st *state.State) (tooLarge bool, err error) {
	if s.ReplicationKey == "" {
		return true, nil
	}

	bookmark := st.Get(s.TapStreamID)
	windowStart, err := parseCursor(bookmark.ReplicationKeyValue)
	if err != nil {
		return false, err
	}

	previousEnd := o.clock().UTC()
	if bookmark.CurrentWindowEnd != "" {
		previousEnd, err = parseCursor(bookmark.CurrentWindowEnd)
		if err != nil {
			return false, err
		}
	}

	if !previousEnd.After(windowStart) {
		return true, nil
	}

	newEnd := previousEnd.Add(-(previousEnd.Sub(windowStart) / 2))
	bookmark.CurrentWindowEnd = newEnd.Format(time.RFC3339)
	bookmark.JobID, bookmark.FileIDs, bookmark.FileIndex = "", nil, 0
	st.Set(s.TapStreamID, bookmark)
	if err := o.writer.State(st); err != nil {
		return false, err
	}
	return false, nil
}

// syncRestStream walks fixed [start, end) windows from the bookmark up
// to "now", halving window_length by integer division down to exactly 0
// on a timeout (spec.md §4.4.2, §4.6). Unlike Batch, the bookmark
// advances unconditionally to each window's end once it completes, not
// just to the maximum row value observed.
func (o *Orchestrator) syncRestStream(ctx context.Context, s catalog.Stream, obj *catalog.Object, st *state.State, selected map[string]bool) error {
	if s.ReplicationKey == "" {
		return o.runRestJob(ctx, s, obj, st, selected, time.Time{}, time.Time{})
	}

	bookmark := st.Get(s.TapStreamID)
	windowLength := defaultWindowLength
	if bookmark.WindowLength > 0 {
		windowLength = time.Duration(bookmark.WindowLength) * time.Second
	}

	syncStarted := o.clock().UTC()
	start, err := parseCursor(bookmark.ReplicationKeyValue)
	if err != nil {
		return err
	}

	for start.Before(syncStarted) || bookmark.JobID != "" || bookmark.FileIDs != nil {
		var end time.Time
		if bookmark.JobID != "" || bookmark.FileIDs != nil {
			// Resuming an interrupted job: reuse the window it was
			// already submitted against instead of recomputing one.
			end, err = parseCursor(bookmark.CurrentWindowEnd)
			if err != nil {
				return err
			}
		} else {
			end = start.Add(windowLength)
			if end.After(syncStarted) {
				end = syncStarted
			}
			bookmark.CurrentWindowEnd = end.Format(time.RFC3339)
			st.Set(s.TapStreamID, bookmark)
		}

		err := o.runRestJob(ctx, s, obj, st, selected, start, end)
		switch err.(type) {
		case *export.ExportTimedOut:
			bookmark = st.Get(s.TapStreamID)
			bookmark.JobID, bookmark.FileIDs, bookmark.FileIndex = "", nil, 0
			windowLength /= 2
			if windowLength <= 0 {
				return &export.ExportTooLarge{Object: s.TapStreamID}
			}
			bookmark.WindowLength = int64(windowLength / time.Second)
			st.Set(s.TapStreamID, bookmark)
			if werr := o.writer.State(st); werr != nil {
				return werr
			}
			bookmark = st.Get(s.TapStreamID)
			continue
		case nil:
			// fall through
		default:
			return err
		}

		bookmark = st.Get(s.TapStreamID)
		bookmark.WindowLength = 0
		st.Set(s.TapStreamID, bookmark)
		windowLength = defaultWindowLength
		start = end
		bookmark = st.Get(s.TapStreamID)
	}

	return nil
}

// runRestJob creates (or resumes) one Rest export job for
// [windowStart, windowEnd), polls it to completion, streams every result
// file, and unconditionally advances the bookmark to windowEnd once it
// succeeds (spec.md §4.4.2).
func (o *Orchestrator) runRestJob(ctx context.Context, s catalog.Stream, obj *catalog.Object, st *state.State, selected map[string]bool, windowStart, windowEnd time.Time) error {
	bookmark := st.Get(s.TapStreamID)
	jobID := bookmark.JobID
	if jobID == "" {
		var err error
		jobID, err = o.driver.CreateJob(ctx, export.Query{
			Object:         s.TapStreamID,
			Fields:         fieldNames(selected),
			ReplicationKey: s.ReplicationKey,
			WindowStart:    windowStart,
			WindowEnd:      windowEnd,
		})
		if err != nil {
			return err
		}
		bookmark.JobID = jobID
		st.Set(s.TapStreamID, bookmark)
		if err := o.writer.State(st); err != nil {
			return err
		}
	}

	if err := o.pollUntilReady(ctx, s.TapStreamID, jobID); err != nil {
		return err
	}

	bookmark = st.Get(s.TapStreamID)
	if bookmark.FileIDs == nil {
		handles, err := o.driver.FileIDs(ctx, jobID)
		if err != nil {
			return err
		}
		files := make([]string, 0, len(handles))
		for _, h := range handles {
			files = append(files, h.ID)
		}
		bookmark.FileIDs = files
		st.Set(s.TapStreamID, bookmark)
		if err := o.writer.State(st); err != nil {
			return err
		}
	}

	if _, err := o.consumeFiles(ctx, s, obj, st, selected, jobID); err != nil {
		return err
	}

	if s.ReplicationKey != "" {
		st.AdvanceReplicationKey(s.TapStreamID, s.ReplicationKey, windowEnd.Format(time.RFC3339))
	}

	o.driver.DeleteJob(ctx, jobID)
	st.ClearTransient(s.TapStreamID)
	return o.writer.State(st)
}

// consumeFiles streams every result file for jobID from the bookmark's
// file_index onward, emitting RECORD messages, and returns the maximum
// replication-key value observed (advancing the bookmark to it as a
// side effect). A file that vanishes mid-sync resets file_ids/file_index
// so the next attempt re-lists the job's files from scratch. A corrupt
// (non-rectangular) file clears the job and its files and bumps the
// stream's version, so the next attempt starts a new export session.
func (o *Orchestrator) consumeFiles(ctx context.Context, s catalog.Stream, obj *catalog.Object, st *state.State, selected map[string]bool, jobID string) (string, error) {
	bookmark := st.Get(s.TapStreamID)
	files := bookmark.FileIDs
	startRK := bookmark.ReplicationKeyValue

	maxRK := ""
	for i := bookmark.FileIndex; i < len(files); i++ {
		rk, err := o.streamFile(ctx, s, obj, jobID, files[i], selected, startRK)
		if err != nil {
			var fileDeleted *export.FileDeletedMidSync
			if asFileDeleted(err, &fileDeleted) {
				b := st.Get(s.TapStreamID)
				b.FileIDs = nil
				b.FileIndex = 0
				st.Set(s.TapStreamID, b)
				if werr := o.writer.State(st); werr != nil {
					return "", werr
				}
			}
			if _, ok := err.(*csvrecord.CorruptExport); ok {
				b := st.Get(s.TapStreamID)
				b.JobID, b.FileIDs, b.FileIndex = "", nil, 0
				st.Set(s.TapStreamID, b)
				st.BumpVersion(s.TapStreamID, o.clock().Unix())
				if werr := o.writer.State(st); werr != nil {
					return "", werr
				}
			}
			return "", err
		}
		if rk > maxRK {
			maxRK = rk
		}
		b := st.Get(s.TapStreamID)
		b.FileIndex = i + 1
		st.Set(s.TapStreamID, b)
		if err := o.writer.State(st); err != nil {
			return "", err
		}
	}

	if maxRK != "" {
		st.AdvanceReplicationKey(s.TapStreamID, s.ReplicationKey, maxRK)
		if err := o.writer.State(st); err != nil {
			return "", err
		}
	}
	return maxRK, nil
}

func asFileDeleted(err error, target **export.FileDeletedMidSync) bool {
	fd, ok := err.(*export.FileDeletedMidSync)
	if ok {
		*target = fd
	}
	return ok
}

// fieldNames projects the selected field set, excluding Deleted: it is
// never a real exportable column, only a driver-level extension that
// arrives via the declared deleted-column (spec.md §3).
func fieldNames(selected map[string]bool) []string {
	out := make([]string, 0, len(selected))
	for f := range selected {
		if f == "Deleted" {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (o *Orchestrator) pollUntilReady(ctx context.Context, objectName, jobID string) error {
	deadline := o.clock().Add(jobTimeout)
	for {
		status, msg, err := o.driver.JobStatus(ctx, jobID)
		if err != nil {
			return err
		}
		switch status {
		case export.JobCompleted:
			return nil
		case export.JobFailed:
			return &export.ExportFailed{JobID: jobID, Object: objectName, Message: msg}
		}
		if o.clock().After(deadline) {
			return &export.ExportTimedOut{JobID: jobID, Object: objectName}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (o *Orchestrator) streamFile(ctx context.Context, s catalog.Stream, obj *catalog.Object, jobID, fileID string, selected map[string]bool, bookmarkRK string) (string, error) {
	stream, err := o.driver.StreamFile(ctx, jobID, export.FileHandle{ID: fileID})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	rawHeader, ok := stream.Next()
	if !ok {
		return "", stream.Err()
	}
	header, err := csvrecord.ParseHeader(s.TapStreamID, rawHeader)
	if err != nil {
		return "", err
	}

	maxRK := ""
	lineNo := 0
	for {
		line, ok := stream.Next()
		if !ok {
			break
		}
		lineNo++
		row, err := csvrecord.ParseLine(s.TapStreamID, header, line, obj.Properties, selected)
		if err != nil {
			if corrupt, ok := err.(*csvrecord.CorruptExport); ok {
				corrupt.Line = lineNo
			}
			return "", err
		}

		if s.ReplicationKey != "" {
			rk, _ := row.Fields[s.ReplicationKey].(string)
			if rk != "" && rk < bookmarkRK {
				continue // stale row from a re-queried window, already synced
			}
			if rk > maxRK {
				maxRK = rk
			}
		}

		if err := o.writer.Record(s.TapStreamID, row.Fields, 0, o.clock().UTC().Format(time.RFC3339)); err != nil {
			return "", err
		}
	}
	return maxRK, stream.Err()
}
