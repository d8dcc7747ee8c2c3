package csvrecord

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/singer-io/tap-zuora/internal/catalog"
)

func TestParseHeaderStripsObjectPrefix(t *testing.T) {
	h, err := ParseHeader("Account", "Account.Id,Account.Name,Account.Balance")
	require.NoError(t, err)
	assert.Equal(t, []string{"Id", "Name", "Balance"}, h.Columns)
}

func TestParseLineCoercesTypesAndDropsUnselected(t *testing.T) {
	header := Header{Columns: []string{"Id", "Amount", "Active", "UpdatedDate"}}
	props := map[string]*catalog.Property{
		"Id":          {Type: catalog.TypeString},
		"Amount":      {Type: catalog.TypeNumber},
		"Active":      {Type: catalog.TypeBoolean},
		"UpdatedDate": {Type: catalog.TypeDatime},
	}
	selected := map[string]bool{"Id": true, "Amount": true, "UpdatedDate": true}

	row, err := ParseLine("Account", header, `"acc1","12.50","true","2024-01-02 03:04:05"`, props, selected)
	require.NoError(t, err)

	assert.Equal(t, "acc1", row.Fields["Id"])
	assert.Equal(t, 12.50, row.Fields["Amount"])
	assert.Equal(t, "2024-01-02T03:04:05Z", row.Fields["UpdatedDate"])
	_, hasActive := row.Fields["Active"]
	assert.False(t, hasActive)
}

func TestParseLineRejectsMismatchedColumnCount(t *testing.T) {
	header := Header{Columns: []string{"Id", "Name"}}
	_, err := ParseLine("Account", header, `"acc1"`, nil, map[string]bool{"Id": true})
	require.Error(t, err)
	var corrupt *CorruptExport
	assert.ErrorAs(t, err, &corrupt)
}

func TestParseLineStripsEmbeddedNulBytes(t *testing.T) {
	header := Header{Columns: []string{"Id", "Name"}}
	props := map[string]*catalog.Property{"Id": {Type: catalog.TypeString}, "Name": {Type: catalog.TypeString}}
	selected := map[string]bool{"Id": true, "Name": true}

	row, err := ParseLine("Account", header, "\"acc1\",\"bad\x00name\"", props, selected)
	require.NoError(t, err)
	assert.Equal(t, "badname", row.Fields["Name"])
}

func TestParseLineEmptyValueIsNil(t *testing.T) {
	header := Header{Columns: []string{"Id", "Amount"}}
	props := map[string]*catalog.Property{"Id": {Type: catalog.TypeString}, "Amount": {Type: catalog.TypeNumber}}
	selected := map[string]bool{"Id": true, "Amount": true}

	row, err := ParseLine("Account", header, `"acc1",""`, props, selected)
	require.NoError(t, err)
	assert.Nil(t, row.Fields["Amount"])
}
