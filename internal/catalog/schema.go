package catalog

import (
	"encoding/json"
	"fmt"
	"os"
)

// Breadcrumb addresses either the stream itself (empty) or one property
// ([]string{"properties", name}), matching Singer's metadata convention.
type Breadcrumb []string

// MetadataEntry is one breadcrumb/metadata pair in a stream's metadata list.
type MetadataEntry struct {
	Breadcrumb Breadcrumb             `json:"breadcrumb"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// PropertySchema is one field's JSON-schema fragment.
type PropertySchema struct {
	Type   interface{} `json:"type"`
	Format string      `json:"format,omitempty"`
}

// Schema is the JSON-schema document describing a stream's records.
type Schema struct {
	Type                 string                    `json:"type"`
	AdditionalProperties bool                      `json:"additionalProperties"`
	Properties           map[string]PropertySchema `json:"properties"`
}

// Stream is one catalog entry: the persisted, reloadable descriptor for
// an object plus its selection state (spec.md §4.3, §4.7).
type Stream struct {
	TapStreamID       string          `json:"tap_stream_id"`
	Stream            string          `json:"stream"`
	KeyProperties     []string        `json:"key_properties"`
	Schema            Schema          `json:"schema"`
	Metadata          []MetadataEntry `json:"metadata"`
	ReplicationKey    string          `json:"replication_key,omitempty"`
	ReplicationMethod string          `json:"replication_method"`
}

// Catalog is the top-level persisted discovery artifact.
type Catalog struct {
	Streams []Stream `json:"streams"`
}

func jsonTypeFor(t FieldType) interface{} {
	switch t {
	case TypeInteger:
		return []string{"integer", "null"}
	case TypeNumber:
		return []string{"number", "null"}
	case TypeBoolean:
		return []string{"boolean", "null"}
	default:
		return []string{"string", "null"}
	}
}

func formatFor(t FieldType) string {
	switch t {
	case TypeDate:
		return "date"
	case TypeDatime:
		return "date-time"
	default:
		return ""
	}
}

// BuildStream synthesizes a Stream (schema + metadata) from a discovered
// Object, in describe-response field order (spec.md §3).
func BuildStream(obj *Object) Stream {
	props := make(map[string]PropertySchema, len(obj.Properties))
	metadata := []MetadataEntry{
		{Breadcrumb: Breadcrumb{}, Metadata: map[string]interface{}{
			"selected":           false,
			"table-key-properties": obj.KeyProperties,
		}},
	}

	for _, name := range obj.PropertyOrder {
		p := obj.Properties[name]
		props[name] = PropertySchema{Type: jsonTypeFor(p.Type), Format: formatFor(p.Type)}
		meta := map[string]interface{}{"inclusion": string(p.Inclusion)}
		metadata = append(metadata, MetadataEntry{
			Breadcrumb: Breadcrumb{"properties", name},
			Metadata:   meta,
		})
	}

	return Stream{
		TapStreamID:       obj.Name,
		Stream:            obj.Name,
		KeyProperties:     obj.KeyProperties,
		Schema:            Schema{Type: "object", AdditionalProperties: false, Properties: props},
		Metadata:          metadata,
		ReplicationKey:    obj.ReplicationKey,
		ReplicationMethod: string(obj.ReplicationMethod),
	}
}

// BuildCatalog synthesizes the full catalog from discovered objects.
func BuildCatalog(objects []*Object) Catalog {
	cat := Catalog{Streams: make([]Stream, 0, len(objects))}
	for _, o := range objects {
		cat.Streams = append(cat.Streams, BuildStream(o))
	}
	return cat
}

// breadcrumbKey makes Breadcrumb comparable for map lookups.
func breadcrumbKey(b Breadcrumb) string {
	if len(b) == 0 {
		return ""
	}
	return b[0] + "\x00" + b[1]
}

// metadataMap indexes a stream's metadata list by breadcrumb for fast lookup.
type metadataMap map[string]map[string]interface{}

func toMetadataMap(entries []MetadataEntry) metadataMap {
	m := make(metadataMap, len(entries))
	for _, e := range entries {
		m[breadcrumbKey(e.Breadcrumb)] = e.Metadata
	}
	return m
}

// IsStreamSelected reports the stream-level "selected" flag.
func (s Stream) IsStreamSelected() bool {
	m := toMetadataMap(s.Metadata)
	root, ok := m[""]
	if !ok {
		return false
	}
	sel, _ := root["selected"].(bool)
	return sel
}

// SelectedFields returns the set of property names that should be
// emitted for this stream: inclusion=automatic fields always, plus any
// inclusion=available field explicitly marked selected=true (spec.md §3).
func (s Stream) SelectedFields() map[string]bool {
	out := map[string]bool{}
	m := toMetadataMap(s.Metadata)
	for name := range s.Schema.Properties {
		meta, ok := m[breadcrumbKey(Breadcrumb{"properties", name})]
		if !ok {
			continue
		}
		inclusion, _ := meta["inclusion"].(string)
		if inclusion == string(InclusionAutomatic) {
			out[name] = true
			continue
		}
		if sel, _ := meta["selected"].(bool); sel && inclusion != string(InclusionUnsupported) {
			out[name] = true
		}
	}
	return out
}

// LoadCatalog reads a previously-persisted (and possibly user-edited)
// catalog file from disk.
func LoadCatalog(path string) (Catalog, error) {
	var cat Catalog
	data, err := os.ReadFile(path)
	if err != nil {
		return cat, fmt.Errorf("reading catalog file: %w", err)
	}
	if err := json.Unmarshal(data, &cat); err != nil {
		return cat, fmt.Errorf("parsing catalog file: %w", err)
	}
	return cat, nil
}

// WriteTo encodes the catalog as indented JSON, matching the shape the
// Singer ecosystem's `--discover` convention expects on stdout.
func (c Catalog) WriteTo(w *os.File) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

// fieldTypeFromSchema reverses jsonTypeFor/formatFor, recovering the
// FieldType a persisted catalog's schema property implies. Used when
// sync reloads a catalog file that was written (and possibly hand
// edited) by discovery, since the file only carries JSON-schema types,
// not this package's richer Property struct.
func fieldTypeFromSchema(p PropertySchema) FieldType {
	if p.Format == "date" {
		return TypeDate
	}
	if p.Format == "date-time" {
		return TypeDatime
	}
	var types []interface{}
	switch v := p.Type.(type) {
	case []interface{}:
		types = v
	case []string:
		for _, s := range v {
			types = append(types, s)
		}
	}
	for _, t := range types {
		switch t {
		case "integer":
			return TypeInteger
		case "number":
			return TypeNumber
		case "boolean":
			return TypeBoolean
		}
	}
	return TypeString
}

// ObjectFromStream reconstructs the Object a persisted Stream was built
// from, so the orchestrator can type-coerce CSV fields without having to
// re-run describe() at sync time (spec.md §4.7: sync trusts the supplied
// catalog, it does not rediscover).
func ObjectFromStream(s Stream) *Object {
	obj := &Object{
		Name:              s.TapStreamID,
		KeyProperties:     s.KeyProperties,
		ReplicationKey:    s.ReplicationKey,
		ReplicationMethod: ReplicationMethod(s.ReplicationMethod),
		Properties:        map[string]*Property{},
	}
	m := toMetadataMap(s.Metadata)
	for name, prop := range s.Schema.Properties {
		meta := m[breadcrumbKey(Breadcrumb{"properties", name})]
		inclusion, _ := meta["inclusion"].(string)
		obj.Properties[name] = &Property{
			Type:      fieldTypeFromSchema(prop),
			Inclusion: Inclusion(inclusion),
		}
		obj.PropertyOrder = append(obj.PropertyOrder, name)
	}
	return obj
}

// SelectedStreams returns the catalog's streams that have selected=true,
// in catalog order, preserving the resumability invariant that sync
// iterates streams in a stable order (spec.md §4.7).
func (c Catalog) SelectedStreams() []Stream {
	out := make([]Stream, 0, len(c.Streams))
	for _, s := range c.Streams {
		if s.IsStreamSelected() {
			out = append(out, s)
		}
	}
	return out
}
