package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProbe struct {
	result ProbeResult
	err    error
}

func (f fakeProbe) ProbeObject(ctx context.Context, objectName string, supportsDeleted bool) (ProbeResult, error) {
	return f.result, f.err
}

func TestProbeAndAnnotateUnavailableMarksFieldsUnsupported(t *testing.T) {
	obj := &Object{
		Name: "Foo",
		Properties: map[string]*Property{
			"Id":   {Inclusion: InclusionAutomatic},
			"Name": {Inclusion: InclusionAvailable},
		},
		SupportsDeleted: true,
	}

	err := ProbeAndAnnotate(context.Background(), fakeProbe{result: ProbeUnavailable}, obj)
	require.NoError(t, err)

	assert.Equal(t, InclusionAutomatic, obj.Properties["Id"].Inclusion)
	assert.Equal(t, InclusionUnsupported, obj.Properties["Name"].Inclusion)
	assert.False(t, obj.SupportsDeleted)
}

func TestProbeAndAnnotateAvailableWithDeleted(t *testing.T) {
	obj := &Object{Name: "Foo", Properties: map[string]*Property{}, SupportsDeleted: false}
	err := ProbeAndAnnotate(context.Background(), fakeProbe{result: ProbeAvailableWithDeleted}, obj)
	require.NoError(t, err)
	assert.True(t, obj.SupportsDeleted)
}

func TestSupportsDeletedRecordsDenyList(t *testing.T) {
	assert.False(t, SupportsDeletedRecords("Export"))
	assert.True(t, SupportsDeletedRecords("Account"))
}

func TestIsFieldSupported(t *testing.T) {
	assert.False(t, IsFieldSupported("REST", "RatePlanCharge", "Tiers"))
	assert.True(t, IsFieldSupported("AQuA", "RatePlanCharge", "Tiers"))
	assert.True(t, IsFieldSupported("REST", "Account", "Name"))
}
