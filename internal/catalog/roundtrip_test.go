package catalog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectFromStreamRoundTripsThroughJSON(t *testing.T) {
	obj := &Object{
		Name:          "Invoice",
		PropertyOrder: []string{"Id", "Amount", "UpdatedDate"},
		Properties: map[string]*Property{
			"Id":          {Type: TypeString, Inclusion: InclusionAutomatic},
			"Amount":      {Type: TypeNumber, Inclusion: InclusionAvailable},
			"UpdatedDate": {Type: TypeDatime, Inclusion: InclusionAutomatic},
		},
		KeyProperties:     []string{"Id"},
		ReplicationKey:    "UpdatedDate",
		ReplicationMethod: Incremental,
	}

	stream := BuildStream(obj)
	cat := Catalog{Streams: []Stream{stream}}

	data, err := json.Marshal(cat)
	require.NoError(t, err)

	var reloaded Catalog
	require.NoError(t, json.Unmarshal(data, &reloaded))

	rebuilt := ObjectFromStream(reloaded.Streams[0])
	assert.Equal(t, TypeNumber, rebuilt.Properties["Amount"].Type)
	assert.Equal(t, TypeDatime, rebuilt.Properties["UpdatedDate"].Type)
	assert.Equal(t, TypeString, rebuilt.Properties["Id"].Type)
	assert.Equal(t, "UpdatedDate", rebuilt.ReplicationKey)
	assert.Equal(t, Incremental, rebuilt.ReplicationMethod)
}
