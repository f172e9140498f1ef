package redisdist

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
)

func newTestTier(t *testing.T) *Tier {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, "test:")
}

// TestWarehouseRoundTrip verifies a warehouse survives the JSON round trip
// through Redis with its version intact.
func TestWarehouseRoundTrip(t *testing.T) {
	tier := newTestTier(t)
	ctx := context.Background()

	secretID := ids.NewSecretID()
	w := model.Warehouse{
		WarehouseID: ids.NewWarehouseID(),
		ProjectID:   ids.NewProjectID(),
		Name:        "analytics",
		StorageProfile: model.StorageProfile{
			Kind:       "s3",
			Properties: map[string]string{"bucket": "data"},
		},
		StorageSecretID:      &secretID,
		Status:               model.WarehouseStatusActive,
		TabularDeleteProfile: model.HardDeleteProfile(),
		Version:              7,
	}
	require.NoError(t, tier.SetWarehouse(ctx, &w))

	got, err := tier.GetWarehouse(ctx, w.WarehouseID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, w, *got)
}

// TestNamespaceMissAndDelete verifies nil on miss and removal.
func TestNamespaceMissAndDelete(t *testing.T) {
	tier := newTestTier(t)
	ctx := context.Background()

	missing, err := tier.GetNamespace(ctx, ids.NewNamespaceID())
	require.NoError(t, err)
	assert.Nil(t, missing)

	ns := model.Namespace{
		NamespaceID: ids.NewNamespaceID(),
		WarehouseID: ids.NewWarehouseID(),
		Ident:       model.NamespaceIdent{"sales", "eu"},
		Properties:  map[string]string{"owner": "bi"},
		Version:     3,
		Parent: &model.ParentSnapshot{
			ParentID:                ids.NewNamespaceID(),
			ParentVersionAtCreation: 2,
		},
	}
	require.NoError(t, tier.SetNamespace(ctx, &ns))

	got, err := tier.GetNamespace(ctx, ns.NamespaceID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ns, *got)

	require.NoError(t, tier.DeleteNamespace(ctx, ns.NamespaceID))
	gone, err := tier.GetNamespace(ctx, ns.NamespaceID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}
