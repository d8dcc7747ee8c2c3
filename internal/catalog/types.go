// Package catalog implements object discovery: listing Zuora object
// types, describing their fields, probing real export availability, and
// synthesizing the per-object JSON schema the tap persists and later
// reloads as its catalog argument (spec.md §4.3).
package catalog

import "fmt"

// FieldType is the small set of JSON-schema-ish types a Zuora field can
// be mapped to.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeDate    FieldType = "date"
	TypeDatime  FieldType = "datetime"
)

// Inclusion mirrors Singer's metadata.inclusion values.
type Inclusion string

const (
	InclusionAutomatic   Inclusion = "automatic"
	InclusionAvailable   Inclusion = "available"
	InclusionUnsupported Inclusion = "unsupported"
)

// ReplicationMethod is INCREMENTAL when an object has a replication key,
// FULL_TABLE otherwise (spec.md §3).
type ReplicationMethod string

const (
	Incremental ReplicationMethod = "INCREMENTAL"
	FullTable   ReplicationMethod = "FULL_TABLE"
)

// ReplicationKeyPriority lists the candidate replication-key field names
// in the order spec.md §3 requires they be checked.
var ReplicationKeyPriority = []string{"UpdatedDate", "TransactionDate", "UpdatedOn"}

// RequiredKeys are the field names that force inclusion=automatic and
// that, if present but undescribable, take the whole object out of the
// catalog (spec.md §4.3).
var RequiredKeys = append([]string{"Id"}, ReplicationKeyPriority...)

func isRequiredKey(name string) bool {
	for _, k := range RequiredKeys {
		if k == name {
			return true
		}
	}
	return false
}

// Property is one field of an object's schema.
type Property struct {
	Type         FieldType `json:"-"`
	Required     bool      `json:"-"`
	Inclusion    Inclusion `json:"-"`
	JoinedParent string    `json:"-"` // non-empty if this is a "<Parent>.Id" joined field
}

// Object is the immutable-after-discovery descriptor from spec.md §3.
type Object struct {
	Name              string
	PropertyOrder     []string // preserves describe-response field order
	Properties        map[string]*Property
	KeyProperties      []string
	ReplicationKey    string // "" if FULL_TABLE
	ReplicationMethod ReplicationMethod
	SupportsDeleted   bool
}

// SelectedReplicationKey returns the first of ReplicationKeyPriority
// present in props, or "" if none are.
func SelectedReplicationKey(props map[string]*Property) string {
	for _, k := range ReplicationKeyPriority {
		if _, ok := props[k]; ok {
			return k
		}
	}
	return ""
}

func (o *Object) String() string {
	return fmt.Sprintf("catalog.Object{%s, replication_method=%s}", o.Name, o.ReplicationMethod)
}
