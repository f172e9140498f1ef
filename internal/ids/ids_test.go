package ids

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIDJSONRoundTrip verifies ids serialize as bare UUID strings and
// parse back.
func TestIDJSONRoundTrip(t *testing.T) {
	id := NewWarehouseID()
	raw, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"`+id.String()+`"`, string(raw))

	var decoded WarehouseID
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, id, decoded)

	var bad NamespaceID
	err = json.Unmarshal([]byte(`"not-a-uuid"`), &bad)
	require.Error(t, err)
}

// TestParseRejectsGarbage verifies the typed parse helpers.
func TestParseRejectsGarbage(t *testing.T) {
	id := NewTableID()
	parsed, err := ParseTableID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseTableID("")
	assert.Error(t, err)
	_, err = ParseWarehouseID("xyz")
	assert.Error(t, err)
}

// TestTabularIDUnion verifies the table/view discrimination.
func TestTabularIDUnion(t *testing.T) {
	tableID := NewTableID()
	tab := TabularIDFromTable(tableID)
	assert.True(t, tab.IsTable())
	assert.False(t, tab.IsView())
	assert.Equal(t, tableID.String(), tab.String())

	viewID := NewViewID()
	view := TabularIDFromView(viewID)
	assert.True(t, view.IsView())
	assert.Equal(t, viewID.String(), view.String())

	var decoded TabularID
	err := json.Unmarshal([]byte(`{"type":"index","id":"`+tableID.String()+`"}`), &decoded)
	require.Error(t, err, "unknown kinds are rejected")
}

// TestIsNil verifies the zero-value check.
func TestIsNil(t *testing.T) {
	var zero WarehouseID
	assert.True(t, zero.IsNil())
	assert.False(t, NewWarehouseID().IsNil())
}
