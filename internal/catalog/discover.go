package catalog

import (
	"context"
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/singer-io/tap-zuora/internal/zuora"
)

// describeObjectsXML is the shape of GET /v1/describe: a flat list of
// every object type the tenant exposes.
type describeObjectsXML struct {
	XMLName xml.Name         `xml:"objects"`
	Objects []describeObject `xml:"object"`
}

type describeObject struct {
	Name string `xml:"name"`
}

// describeFieldsXML is the shape of GET /v1/describe/<Object>: the field
// list plus the set of objects this one can be joined to.
type describeFieldsXML struct {
	XMLName xml.Name        `xml:"object"`
	Fields  []describeField `xml:"fields>field"`
	Related []relatedObject `xml:"related-objects>object"`
}

type describeField struct {
	Name       string   `xml:"name"`
	Type       string   `xml:"type"`
	Required   bool     `xml:"required"`
	Filterable bool     `xml:"filterable"`
	Contexts   []string `xml:"contexts>context"`
}

// availableForExport reports whether the describe response advertises this
// field in the "export" context. Fields absent from export (AQuA/ZOQL
// cannot select them even though describe lists them) are dropped from the
// catalog, per spec.md §4.3.
func (f describeField) availableForExport() bool {
	for _, ctx := range f.Contexts {
		if ctx == "export" {
			return true
		}
	}
	return false
}

type relatedObject struct {
	Name string `xml:"name"`
}

// zuoraTypeMap translates Zuora's describe-response type strings into
// this package's FieldType, per spec.md §3.
var zuoraTypeMap = map[string]FieldType{
	"picklist": TypeString,
	"string":   TypeString,
	"text":     TypeString,
	"integer":  TypeInteger,
	"counter":  TypeInteger,
	"decimal":  TypeNumber,
	"boolean":  TypeBoolean,
	"date":     TypeDate,
	"datetime": TypeDatime,
	"timestamp": TypeDatime,
}

func mapFieldType(zuoraType string) FieldType {
	if t, ok := zuoraTypeMap[zuoraType]; ok {
		return t
	}
	return TypeString
}

// ListObjects returns every object name the describe endpoint reports for
// this tenant, sorted for deterministic output.
func ListObjects(ctx context.Context, c *zuora.Client) ([]string, error) {
	resp, err := c.Get(ctx, "v1/describe")
	if err != nil {
		return nil, fmt.Errorf("listing objects: %w", err)
	}
	var parsed describeObjectsXML
	if err := xml.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing describe response: %w", err)
	}
	names := make([]string, 0, len(parsed.Objects))
	for _, o := range parsed.Objects {
		names = append(names, o.Name)
	}
	sort.Strings(names)
	return names, nil
}

// DescribeObject fetches and parses the field dictionary for one object,
// synthesizing key properties, replication key, and joined-field entries
// (spec.md §3, §4.3). apiType selects which per-variant deny-list applies.
func DescribeObject(ctx context.Context, c *zuora.Client, apiType, name string) (*Object, error) {
	resp, err := c.Get(ctx, "v1/describe/"+name)
	if err != nil {
		return nil, fmt.Errorf("describing %s: %w", name, err)
	}
	var parsed describeFieldsXML
	if err := xml.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing describe/%s response: %w", name, err)
	}

	obj := &Object{
		Name:       name,
		Properties: map[string]*Property{},
	}

	for _, f := range parsed.Fields {
		if !IsFieldSupported(apiType, name, f.Name) {
			continue
		}
		if !f.availableForExport() {
			if isRequiredKey(f.Name) {
				return nil, fmt.Errorf("describe/%s: required field %s not available for export, cannot catalog this object", name, f.Name)
			}
			continue
		}
		prop := &Property{
			Type:      mapFieldType(f.Type),
			Required:  f.Required || isRequiredKey(f.Name),
			Inclusion: InclusionAvailable,
		}
		if isRequiredKey(f.Name) {
			prop.Inclusion = InclusionAutomatic
		}
		obj.Properties[f.Name] = prop
		obj.PropertyOrder = append(obj.PropertyOrder, f.Name)
	}

	// Joined-object Id fields: "<Related>.Id" reachable via a query join,
	// always plain optional strings (spec.md §3's "joined-object dotted
	// field" case).
	for _, rel := range parsed.Related {
		joined := rel.Name + ".Id"
		if _, exists := obj.Properties[joined]; exists {
			continue
		}
		obj.Properties[joined] = &Property{
			Type:         TypeString,
			Inclusion:    InclusionAvailable,
			JoinedParent: rel.Name,
		}
		obj.PropertyOrder = append(obj.PropertyOrder, joined)
	}

	if _, ok := obj.Properties["Id"]; !ok {
		return nil, fmt.Errorf("describe/%s: no Id field, cannot catalog this object", name)
	}
	obj.KeyProperties = []string{"Id"}

	if rk := SelectedReplicationKey(obj.Properties); rk != "" {
		obj.ReplicationKey = rk
		obj.ReplicationMethod = Incremental
	} else {
		obj.ReplicationMethod = FullTable
	}

	obj.SupportsDeleted = SupportsDeletedRecords(name)

	return obj, nil
}
