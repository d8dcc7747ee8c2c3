package message

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterEmitsOneJSONLinePerMessage(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.Schema("Account", map[string]string{"type": "object"}, []string{"Id"}))
	require.NoError(t, w.Record("Account", map[string]string{"Id": "1"}, 123, "2024-01-01T00:00:00Z"))
	require.NoError(t, w.State(map[string]string{"current_stream": "Account"}))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)

	var schema map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &schema))
	assert.Equal(t, "SCHEMA", schema["type"])

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[1], &record))
	assert.Equal(t, "RECORD", record["type"])
	assert.EqualValues(t, 123, record["version"])

	var state map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[2], &state))
	assert.Equal(t, "STATE", state["type"])
}
