package authz

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog.evalgo.org/internal/cache"
	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
	"catalog.evalgo.org/internal/store/memstore"
)

// countingAuthorizer wraps another authorizer and counts backend calls.
type countingAuthorizer struct {
	AllowAll
	calls int
}

func (c *countingAuthorizer) IsAllowedServerAction(ctx context.Context, actor Actor, action ServerAction) (Decision, error) {
	c.calls++
	return DecisionAllowed, nil
}

func (c *countingAuthorizer) IsAllowedWarehouseAction(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, action WarehouseAction) (Decision, error) {
	c.calls++
	return DecisionAllowed, nil
}

// TestAdminShortCircuit verifies that a server admin without impersonation
// is allowed without any backend consultation.
func TestAdminShortCircuit(t *testing.T) {
	backend := &countingAuthorizer{}
	engine := NewEngine(backend, nil)
	meta := RequestMetadata{Actor: ActorUser(ids.NewUserID()), ServerAdmin: true}

	v, err := engine.CanServerAction(context.Background(), meta, ServerCanProvisionUsers)
	require.NoError(t, err)
	assert.True(t, v.Allowed())
	assert.Zero(t, backend.calls, "admin bypass must not consult the backend")

	// With impersonation the bypass is off.
	other := ActorUser(ids.NewUserID())
	meta.ForUser = &other
	v, err = engine.CanServerAction(context.Background(), meta, ServerCanProvisionUsers)
	require.NoError(t, err)
	assert.True(t, v.Allowed())
	assert.Equal(t, 1, backend.calls)
}

// TestHidingSemantics verifies the uniform error: a missing namespace and
// a denied action produce byte-identical messages.
func TestHidingSemantics(t *testing.T) {
	rel := NewRelational()
	engine := NewEngine(rel, nil)
	ctx := context.Background()
	meta := RequestMetadata{Actor: ActorUser(ids.NewUserID())}
	warehouseID := ids.NewWarehouseID()

	existing := &model.Namespace{
		NamespaceID: ids.NewNamespaceID(),
		WarehouseID: warehouseID,
		Ident:       model.NamespaceIdent{"sales"},
	}

	// Case 1: entity missing.
	_, errMissing := engine.RequireNamespaceAction(ctx, meta, warehouseID, NamespaceCanGetMetadata, nil, nil)
	require.Error(t, errMissing)

	// Case 2: entity present, actor cannot see it.
	_, errHidden := engine.RequireNamespaceAction(ctx, meta, warehouseID, NamespaceCanGetMetadata, existing, nil)
	require.Error(t, errHidden)

	assert.Equal(t, errMissing.Error(), errHidden.Error(),
		"missing and hidden must be indistinguishable")
	assert.Equal(t,
		"Namespace not found or action can_get_metadata forbidden for actor",
		errHidden.Error())

	var hidden *catalogerr.EntityHidden
	require.ErrorAs(t, errHidden, &hidden)

	// Case 3: actor can see the namespace but lacks the requested action —
	// still the same message.
	actor := meta.Actor
	rel.Grant(actor, string(NamespaceCanGetMetadata), uuid.UUID(existing.NamespaceID))
	_, errDenied := engine.RequireNamespaceAction(ctx, meta, warehouseID, NamespaceCanDelete, existing, nil)
	require.Error(t, errDenied)
	assert.Equal(t,
		"Namespace not found or action can_delete forbidden for actor",
		errDenied.Error())

	// Case 4: with the action granted the entity flows through.
	rel.Grant(actor, string(NamespaceCanDelete), uuid.UUID(existing.NamespaceID))
	ns, err := engine.RequireNamespaceAction(ctx, meta, warehouseID, NamespaceCanDelete, existing, nil)
	require.NoError(t, err)
	assert.Equal(t, existing, ns)
}

// badBatcher returns the wrong cardinality to prove the engine catches it.
type badBatcher struct {
	AllowAll
}

func (badBatcher) AreAllowedNamespaceActions(ctx context.Context, actor Actor, warehouseID ids.WarehouseID, pairs []NamespaceActionPair) ([]Decision, error) {
	return []Decision{DecisionAllowed}, nil
}

// TestBatchCardinality verifies ordered, length-checked batch output.
func TestBatchCardinality(t *testing.T) {
	engine := NewEngine(badBatcher{}, nil)
	meta := RequestMetadata{Actor: ActorUser(ids.NewUserID())}
	pairs := []NamespaceActionPair{
		{NamespaceID: ids.NewNamespaceID(), Action: NamespaceCanGetMetadata},
		{NamespaceID: ids.NewNamespaceID(), Action: NamespaceCanDelete},
	}
	_, err := engine.AreAllowedNamespaceActions(context.Background(), meta, ids.NewWarehouseID(), pairs)
	var mismatch *catalogerr.AuthorizationCountMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 2, mismatch.Requested)
	assert.Equal(t, 1, mismatch.Returned)

	// A correct backend passes with input-ordered decisions.
	rel := NewRelational()
	rel.Grant(meta.Actor, string(NamespaceCanGetMetadata), uuid.UUID(pairs[0].NamespaceID))
	engine = NewEngine(rel, nil)
	out, err := engine.AreAllowedNamespaceActions(context.Background(), meta, ids.NewWarehouseID(), pairs)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, DecisionAllowed, out[0])
	assert.Equal(t, DecisionEntityHidden, out[1])
}

// TestRelationalTriState verifies allowed/denied/hidden resolution.
func TestRelationalTriState(t *testing.T) {
	rel := NewRelational()
	ctx := context.Background()
	actor := ActorUser(ids.NewUserID())
	warehouseID := ids.NewWarehouseID()
	tableID := ids.NewTableID()

	d, err := rel.IsAllowedTableAction(ctx, actor, warehouseID, tableID, TableCanCommit)
	require.NoError(t, err)
	assert.Equal(t, DecisionEntityHidden, d, "no tuples at all hides the entity")

	rel.Grant(actor, string(TableCanGetMetadata), uuid.UUID(tableID))
	d, err = rel.IsAllowedTableAction(ctx, actor, warehouseID, tableID, TableCanCommit)
	require.NoError(t, err)
	assert.Equal(t, DecisionDenied, d, "visible but unauthorized is denied")

	rel.Grant(actor, string(TableCanCommit), uuid.UUID(tableID))
	d, err = rel.IsAllowedTableAction(ctx, actor, warehouseID, tableID, TableCanCommit)
	require.NoError(t, err)
	assert.Equal(t, DecisionAllowed, d)

	rel.Revoke(actor, string(TableCanCommit), uuid.UUID(tableID))
	rel.Grant(actor, RelationAll, uuid.UUID(tableID))
	d, err = rel.IsAllowedTableAction(ctx, actor, warehouseID, tableID, TableCanCommit)
	require.NoError(t, err)
	assert.Equal(t, DecisionAllowed, d, "wildcard relation grants everything")
}

// TestVerdictConsumption verifies the must-use discipline is observable.
func TestVerdictConsumption(t *testing.T) {
	v := newVerdict(DecisionAllowed)
	assert.False(t, v.Consumed())
	assert.True(t, v.Allowed())
	assert.True(t, v.Consumed())
}

// TestCheckOperationRoundTrip verifies JSON round trips for every variant
// including the view-id → table-id alias normalization.
func TestCheckOperationRoundTrip(t *testing.T) {
	warehouseID := ids.NewWarehouseID()
	tableID := ids.NewTableID()
	projectID := ids.NewProjectID()
	namespaceID := ids.NewNamespaceID()

	ops := []CheckOperation{
		{Server: &ServerCheck{Action: ServerCanProvisionUsers}},
		{Project: &ProjectCheck{Action: ProjectCanCreateWarehouse, ProjectID: &projectID}},
		{Warehouse: &WarehouseCheck{Action: WarehouseCanDelete, WarehouseID: warehouseID}},
		{Namespace: &NamespaceCheck{Action: NamespaceCanListTables, WarehouseID: warehouseID, NamespaceID: &namespaceID}},
		{Namespace: &NamespaceCheck{Action: NamespaceCanListTables, WarehouseID: warehouseID, Namespace: []string{"sales", "eu"}}},
		{Table: &TabularCheck{Action: string(TableCanCommit), WarehouseID: warehouseID, TableID: &tableID}},
		{View: &TabularCheck{Action: string(ViewCanDrop), WarehouseID: warehouseID, Table: &TabularIdentWire{Namespace: []string{"sales"}, Name: "orders_v"}}},
	}
	for _, op := range ops {
		require.NoError(t, op.Validate())
		raw, err := json.Marshal(op)
		require.NoError(t, err)
		var decoded CheckOperation
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, op, decoded)
	}

	// The deprecated view-id input key lands on TableID.
	alias := []byte(`{"view":{"action":"can_drop","warehouse-id":"` + warehouseID.String() + `","view-id":"` + tableID.String() + `"}}`)
	var decoded CheckOperation
	require.NoError(t, json.Unmarshal(alias, &decoded))
	require.NotNil(t, decoded.View)
	require.NotNil(t, decoded.View.TableID)
	assert.Equal(t, tableID, *decoded.View.TableID)

	// Canonical output never contains view-id.
	raw, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "view-id")
	assert.Contains(t, string(raw), "table-id")

	// Zero or two variants fail validation.
	assert.Error(t, CheckOperation{}.Validate())
	assert.Error(t, CheckOperation{
		Server:    &ServerCheck{Action: ServerCanListUsers},
		Warehouse: &WarehouseCheck{Action: WarehouseCanDelete, WarehouseID: warehouseID},
	}.Validate())
}

// TestCheckAdminBypass is the end-to-end probe: admin actor, identity
// unset, no backend invoked, allowed = true.
func TestCheckAdminBypass(t *testing.T) {
	backend := &countingAuthorizer{}
	st := memstore.New()
	engine := NewEngine(backend, nil)
	loader := NewLoader(st, cache.New(st, cache.Options{}), engine)

	meta := RequestMetadata{Actor: ActorUser(ids.NewUserID()), ServerAdmin: true}
	resp, err := loader.Check(context.Background(), meta, CheckRequest{
		Operation: CheckOperation{Server: &ServerCheck{Action: ServerCanProvisionUsers}},
	})
	require.NoError(t, err)
	assert.True(t, resp.Allowed)
	assert.Zero(t, backend.calls)
}
