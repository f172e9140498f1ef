package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog.evalgo.org/internal/ids"
)

// TestNamespaceIdentFolding tests the case-insensitive key
func TestNamespaceIdentFolding(t *testing.T) {
	a := NamespaceIdent{"Sales", "EU"}
	b := NamespaceIdent{"sales", "eu"}
	assert.Equal(t, a.FoldedKey(), b.FoldedKey())
	assert.NotEqual(t, NamespaceIdent{"sales", "eu"}.FoldedKey(), NamespaceIdent{"sales.eu"}.FoldedKey(),
		"segment boundaries must not collapse")
}

// TestTabularIDJSON tests the tagged-union round trip
func TestTabularIDJSON(t *testing.T) {
	table := ids.TabularIDFromTable(ids.NewTableID())
	view := ids.TabularIDFromView(ids.NewViewID())

	for _, id := range []ids.TabularID{table, view} {
		raw, err := json.Marshal(id)
		require.NoError(t, err)
		var decoded ids.TabularID
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, id, decoded)
	}
	assert.True(t, table.IsTable())
	assert.True(t, view.IsView())
}

// TestPageTokenRoundTrip tests the opaque cursor encoding
func TestPageTokenRoundTrip(t *testing.T) {
	token := PageToken{
		CreatedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		ID:        uuid.New(),
	}
	decoded, err := DecodePageToken(token.Encode())
	require.NoError(t, err)
	assert.True(t, decoded.CreatedAt.Equal(token.CreatedAt))
	assert.Equal(t, token.ID, decoded.ID)

	_, err = DecodePageToken("not a token")
	assert.Error(t, err)
}

// TestTaskStatusSerialization tests the SCREAMING_SNAKE_CASE wire form
func TestTaskStatusSerialization(t *testing.T) {
	task := Task{
		TaskID:    ids.NewTaskID(),
		QueueName: "stats",
		Status:    TaskStatusRunning,
	}
	raw, err := json.Marshal(task)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"status":"RUNNING"`)
	assert.Contains(t, string(raw), `"queue-name":"stats"`)

	assert.True(t, TaskStatusSuccess.Terminal())
	assert.False(t, TaskStatusStopping.Terminal())
}

// TestStagedTable tests the staged predicate
func TestStagedTable(t *testing.T) {
	staged := Tabular{TabularID: ids.TabularIDFromTable(ids.NewTableID())}
	assert.True(t, staged.Staged())

	loc := "s3://data/orders/metadata/v1.json"
	committed := staged
	committed.MetadataLocation = &loc
	assert.False(t, committed.Staged())

	view := Tabular{TabularID: ids.TabularIDFromView(ids.NewViewID())}
	assert.False(t, view.Staged(), "views are never staged")
}
