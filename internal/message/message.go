// Package message writes the Singer SCHEMA/RECORD/STATE protocol
// messages tap-zuora emits on stdout (spec.md §4.8). Stdout is reserved
// exclusively for these lines; everything else goes to stderr via logrus.
package message

import (
	"encoding/json"
	"io"
)

type schemaMessage struct {
	Type          string      `json:"type"`
	Stream        string      `json:"stream"`
	Schema        interface{} `json:"schema"`
	KeyProperties []string    `json:"key_properties"`
}

type recordMessage struct {
	Type         string      `json:"type"`
	Stream       string      `json:"stream"`
	Record       interface{} `json:"record"`
	Version      int64       `json:"version,omitempty"`
	TimeExtracted string     `json:"time_extracted,omitempty"`
}

type stateMessage struct {
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

// Writer emits one JSON-line Singer message per call. It holds no state
// of its own — callers are responsible for bookmark bookkeeping.
type Writer struct {
	out *json.Encoder
}

func NewWriter(out io.Writer) *Writer {
	return &Writer{out: json.NewEncoder(out)}
}

func (w *Writer) Schema(stream string, schema interface{}, keyProperties []string) error {
	return w.out.Encode(schemaMessage{Type: "SCHEMA", Stream: stream, Schema: schema, KeyProperties: keyProperties})
}

func (w *Writer) Record(stream string, record interface{}, version int64, timeExtracted string) error {
	return w.out.Encode(recordMessage{Type: "RECORD", Stream: stream, Record: record, Version: version, TimeExtracted: timeExtracted})
}

func (w *Writer) State(value interface{}) error {
	return w.out.Encode(stateMessage{Type: "STATE", Value: value})
}
