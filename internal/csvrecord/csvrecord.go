// Package csvrecord turns the raw CSV lines an export driver streams
// back into typed Singer records: header normalisation, rectangularity
// checking, and per-field type coercion (spec.md §4.4).
package csvrecord

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/singer-io/tap-zuora/internal/catalog"
)

// CorruptExport marks a CSV result file whose rows don't all have the
// same column count as its header — a truncated or otherwise broken
// export, never a recoverable parse error (spec.md §4.6).
type CorruptExport struct {
	Object string
	Line   int
}

func (e *CorruptExport) Error() string {
	return fmt.Sprintf("corrupt export for %s: row %d does not match header column count", e.Object, e.Line)
}

// Header is a parsed, normalised CSV header: the driver-qualified column
// names (e.g. "Account.Id" or "Invoice.Amount") reduced to bare field
// names the catalog schema recognises.
type Header struct {
	Columns []string // normalised field names, in file order
}

// ParseHeader strips the leading "<Object>." prefix AQuA emits and
// collapses joined-object columns ("Account.Id" -> "Account.Id" stays,
// but "Invoice.Account.Id" -> "Account.Id") down to the dotted form the
// catalog's joined properties use (spec.md §4.4).
func ParseHeader(objectName, rawHeader string) (Header, error) {
	r := csv.NewReader(strings.NewReader(rawHeader))
	fields, err := r.Read()
	if err != nil {
		return Header{}, fmt.Errorf("parsing csv header: %w", err)
	}

	out := make([]string, 0, len(fields))
	prefix := objectName + "."
	for _, f := range fields {
		f = strings.TrimPrefix(f, prefix)
		out = append(out, f)
	}
	return Header{Columns: out}, nil
}

// Row is one decoded, typed record: the selected fields keyed by their
// normalised column names.
type Row struct {
	Fields map[string]interface{}
}

// ParseLine decodes one CSV data line against header, drops columns not
// in selectedFields, coerces each kept field per its catalog-declared
// type, and strips embedded NUL bytes (which Zuora occasionally emits in
// free-text fields and which break downstream JSON encoders).
func ParseLine(objectName string, header Header, line string, props map[string]*catalog.Property, selectedFields map[string]bool) (Row, error) {
	cleaned := strings.ReplaceAll(line, "\x00", "")
	r := csv.NewReader(strings.NewReader(cleaned))
	r.FieldsPerRecord = -1
	values, err := r.Read()
	if err != nil {
		return Row{}, fmt.Errorf("parsing csv line: %w", err)
	}
	if len(values) != len(header.Columns) {
		return Row{}, &CorruptExport{Object: objectName}
	}

	out := make(map[string]interface{}, len(values))
	for i, col := range header.Columns {
		if !selectedFields[col] {
			continue
		}
		prop := props[col]
		if prop == nil {
			out[col] = values[i]
			continue
		}
		coerced, err := coerce(prop.Type, values[i])
		if err != nil {
			return Row{}, fmt.Errorf("coercing field %s: %w", col, err)
		}
		out[col] = coerced
	}
	return Row{Fields: out}, nil
}

func coerce(t catalog.FieldType, raw string) (interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	switch t {
	case catalog.TypeInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		return n, nil
	case catalog.TypeNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	case catalog.TypeBoolean:
		switch strings.ToLower(raw) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		default:
			return nil, fmt.Errorf("not a boolean: %q", raw)
		}
	case catalog.TypeDate:
		return formatTimestamp(raw, "2006-01-02")
	case catalog.TypeDatime:
		return formatTimestamp(raw, "2006-01-02 15:04:05")
	default:
		return raw, nil
	}
}

// zuoraTimeLayouts are the date/datetime formats Zuora's CSV export has
// been observed to emit, tried in order.
var zuoraTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// formatTimestamp parses raw against the known Zuora layouts and
// re-renders it as RFC3339 UTC ("...Z"), the form every Singer record
// must use for date/datetime fields.
func formatTimestamp(raw, _ string) (string, error) {
	for _, layout := range zuoraTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Format("2006-01-02T15:04:05Z"), nil
		}
	}
	return "", fmt.Errorf("unrecognised timestamp format: %q", raw)
}
