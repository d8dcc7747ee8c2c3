// Package state manages the tap's persisted bookmark document: per-stream
// replication-key bookmarks, in-flight job resumption data, the
// currently-syncing stream marker, and migration from the legacy flat
// state shape (spec.md §4.7).
package state

import (
	"encoding/json"
	"fmt"
	"os"
)

// Bookmark is the resumable cursor for one stream. The replication-key
// value is persisted under the stream's actual replication-key field name
// (e.g. "UpdatedDate", "TransactionDate", "UpdatedOn") rather than a fixed
// key, matching the original tap's state.py get_bookmark/set_bookmark
// (spec.md §3, §8) — see MarshalJSON/UnmarshalJSON.
type Bookmark struct {
	ReplicationKeyName  string
	ReplicationKeyValue string
	Version             int64

	// JobID/FileIDs/FileIndex let an interrupted sync resume mid-job
	// instead of restarting the export from scratch (spec.md §4.6).
	JobID     string
	FileIDs   []string
	FileIndex int

	// CurrentWindowEnd is the Batch driver's halving cursor (spec.md
	// §4.6, §9): it never bounds the submitted ZOQL, only the
	// ExportTooLarge termination check and the "empty window still
	// advances" promotion. The Rest driver stores the end of its
	// in-flight window here, so a resumed job keeps the window it was
	// submitted with.
	CurrentWindowEnd string

	// WindowLength is the Rest driver's halving cursor, in seconds; 0
	// means "use the default window length".
	WindowLength int64
}

// MarshalJSON emits the bookmark's fixed fields under their usual names
// plus, if set, the replication-key value under its own field name.
func (b Bookmark) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{}
	if b.Version != 0 {
		m["version"] = b.Version
	}
	if b.JobID != "" {
		m["job_id"] = b.JobID
	}
	if len(b.FileIDs) > 0 {
		m["file_ids"] = b.FileIDs
	}
	if b.FileIndex != 0 {
		m["file_index"] = b.FileIndex
	}
	if b.CurrentWindowEnd != "" {
		m["current_window_end"] = b.CurrentWindowEnd
	}
	if b.WindowLength != 0 {
		m["window_length"] = b.WindowLength
	}
	if b.ReplicationKeyName != "" {
		m[b.ReplicationKeyName] = b.ReplicationKeyValue
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads the fixed fields by name and treats any other
// string-valued key as the replication-key name/value pair.
func (b *Bookmark) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = Bookmark{}
	for key, v := range raw {
		switch key {
		case "version":
			if err := json.Unmarshal(v, &b.Version); err != nil {
				return fmt.Errorf("parsing bookmark version: %w", err)
			}
		case "job_id":
			if err := json.Unmarshal(v, &b.JobID); err != nil {
				return fmt.Errorf("parsing bookmark job_id: %w", err)
			}
		case "file_ids":
			if err := json.Unmarshal(v, &b.FileIDs); err != nil {
				return fmt.Errorf("parsing bookmark file_ids: %w", err)
			}
		case "file_index":
			if err := json.Unmarshal(v, &b.FileIndex); err != nil {
				return fmt.Errorf("parsing bookmark file_index: %w", err)
			}
		case "current_window_end":
			if err := json.Unmarshal(v, &b.CurrentWindowEnd); err != nil {
				return fmt.Errorf("parsing bookmark current_window_end: %w", err)
			}
		case "window_length":
			if err := json.Unmarshal(v, &b.WindowLength); err != nil {
				return fmt.Errorf("parsing bookmark window_length: %w", err)
			}
		default:
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("parsing bookmark replication key %q: %w", key, err)
			}
			b.ReplicationKeyName = key
			b.ReplicationKeyValue = s
		}
	}
	return nil
}

// State is the top-level persisted document.
type State struct {
	CurrentStream string              `json:"current_stream,omitempty"`
	Bookmarks     map[string]Bookmark `json:"bookmarks"`
}

// New returns an empty state with an initialised bookmark map.
func New() *State {
	return &State{Bookmarks: map[string]Bookmark{}}
}

// legacyState is the flat shape older tap-zuora versions wrote: the
// bookmark value lives directly under the stream name (a bare
// replication-key string, per the original's convert_legacy_state/
// get_bookmark) instead of nested under "bookmarks", and there is no
// current_stream marker. A handful of even older states nested a
// {replication_key_value, version} object instead; both are accepted.
type legacyState map[string]json.RawMessage

// Load reads a state file from disk, migrating the legacy flat shape to
// the current {current_stream, bookmarks} shape if needed.
func Load(path string) (*State, error) {
	if path == "" {
		return New(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	return Parse(data)
}

// Parse decodes raw state bytes, migrating the legacy shape if detected.
func Parse(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err == nil && s.Bookmarks != nil {
		return &s, nil
	}

	var legacy legacyState
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	return migrate(legacy), nil
}

// migrate converts the legacy flat {stream: value} document into the
// current nested shape. Each stream's value is normally a bare
// replication-key string (spec.md §8 scenario 6); the replication-key
// *name* isn't recorded in the legacy document and is bound later, once
// the orchestrator knows it from the catalog (see EnsureInitialBookmark).
// A value that isn't a bare string falls back to the older nested
// {replication_key_value, version} object shape.
func migrate(legacy legacyState) *State {
	s := New()
	for stream, raw := range legacy {
		var value string
		if err := json.Unmarshal(raw, &value); err == nil {
			s.Bookmarks[stream] = Bookmark{ReplicationKeyValue: value}
			continue
		}

		var nested struct {
			ReplicationKeyValue string `json:"replication_key_value"`
			Version             int64  `json:"version"`
		}
		if err := json.Unmarshal(raw, &nested); err == nil {
			s.Bookmarks[stream] = Bookmark{ReplicationKeyValue: nested.ReplicationKeyValue, Version: nested.Version}
		}
	}
	return s
}

// Get returns the bookmark for stream, or a zero Bookmark if none exists.
func (s *State) Get(stream string) Bookmark {
	return s.Bookmarks[stream]
}

// Set overwrites the bookmark for stream.
func (s *State) Set(stream string, b Bookmark) {
	s.Bookmarks[stream] = b
}

// AdvanceReplicationKey moves stream's bookmark forward only if newValue
// sorts at or after the current value, enforcing the monotonic-non-decrease
// invariant (spec.md §4.7's "never let a bookmark move backward"). rkName
// binds (or re-confirms) the field name the value is persisted under.
func (s *State) AdvanceReplicationKey(stream, rkName, newValue string) {
	b := s.Bookmarks[stream]
	if rkName != "" {
		b.ReplicationKeyName = rkName
	}
	if newValue > b.ReplicationKeyValue {
		b.ReplicationKeyValue = newValue
	}
	s.Bookmarks[stream] = b
}

// EnsureInitialBookmark seeds a fresh bookmark for stream on its first
// sync: version = now, replication-key value = config's start_date
// (spec.md §4.7). A bookmark that already has a replication-key value
// keeps it; one without a replication-key name (a migrated legacy
// bookmark) gets rkName bound to it. FULL_TABLE streams (rkName == "")
// are left untouched beyond version assignment.
func (s *State) EnsureInitialBookmark(stream, rkName, startDate string, now int64) {
	b := s.Bookmarks[stream]
	if b.Version == 0 {
		b.Version = now
	}
	if rkName != "" {
		if b.ReplicationKeyName == "" {
			b.ReplicationKeyName = rkName
		}
		if b.ReplicationKeyValue == "" {
			b.ReplicationKeyValue = startDate
		}
	}
	s.Bookmarks[stream] = b
}

// ClearTransient zeroes the in-flight job/resumption fields for stream,
// leaving its version and replication-key cursor intact. Called once a
// stream finishes a clean sync pass (spec.md §4.6 step 4).
func (s *State) ClearTransient(stream string) {
	b := s.Bookmarks[stream]
	b.JobID = ""
	b.FileIDs = nil
	b.FileIndex = 0
	b.CurrentWindowEnd = ""
	b.WindowLength = 0
	s.Bookmarks[stream] = b
}

// EnsureVersion assigns a version (if stream doesn't already have one)
// using now, a caller-supplied Unix timestamp. Versions are assigned
// once per stream and never reassigned — changing a version forces
// downstream full-table replacement, so it must stay stable across runs
// (spec.md §4.7).
func (s *State) EnsureVersion(stream string, now int64) {
	b := s.Bookmarks[stream]
	if b.Version == 0 {
		b.Version = now
		s.Bookmarks[stream] = b
	}
}

// BumpVersion forces a new version, used when a corrupt export means the
// prior version's data can no longer be trusted (spec.md §4.6).
func (s *State) BumpVersion(stream string, now int64) {
	b := s.Bookmarks[stream]
	b.Version = now
	s.Bookmarks[stream] = b
}

// Marshal serialises the state document as compact JSON, the form
// written after every Singer STATE message (spec.md §4.8).
func (s *State) Marshal() ([]byte, error) {
	return json.Marshal(s)
}
