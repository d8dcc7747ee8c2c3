package catalog

import "context"

// ProbeResult is the outcome of checking whether an object actually
// exports data for this tenant — describe() lists far more objects than
// a given tenant has export access to (spec.md §4.3).
type ProbeResult int

const (
	ProbeUnavailable ProbeResult = iota
	ProbeAvailable
	ProbeAvailableWithDeleted
)

// JobProbe is implemented by each export driver: "can you actually run a
// one-row job against this object, and does deleted-record export work
// for it." Catalog discovery depends only on this interface, never on a
// concrete driver, to keep catalog free of an import on export.
type JobProbe interface {
	ProbeObject(ctx context.Context, objectName string, supportsDeleted bool) (ProbeResult, error)
}

// ProbeAndAnnotate runs obj through prober and adjusts its inclusion
// metadata and SupportsDeleted flag to match reality, rather than just
// what describe() claimed.
func ProbeAndAnnotate(ctx context.Context, prober JobProbe, obj *Object) error {
	result, err := prober.ProbeObject(ctx, obj.Name, obj.SupportsDeleted)
	if err != nil {
		return err
	}

	switch result {
	case ProbeUnavailable:
		for _, p := range obj.Properties {
			if p.Inclusion != InclusionAutomatic {
				p.Inclusion = InclusionUnsupported
			}
		}
		obj.SupportsDeleted = false
	case ProbeAvailable:
		obj.SupportsDeleted = false
	case ProbeAvailableWithDeleted:
		obj.SupportsDeleted = true
	}
	return nil
}
