package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
)

// TestDeleteRoleReportsPresence verifies deletion reports whether the
// principal existed, distinctly from success.
func TestDeleteRoleReportsPresence(t *testing.T) {
	s, projectID := newTestStore(t)
	ctx := context.Background()

	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	role, err := tx.CreateRole(ctx, model.Role{ProjectID: projectID, Name: "analyst"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	tx, err = s.BeginWrite(ctx)
	require.NoError(t, err)
	existed, err := tx.DeleteRole(ctx, role.RoleID)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = tx.DeleteRole(ctx, role.RoleID)
	require.NoError(t, err)
	assert.False(t, existed, "second delete reports absence, not failure")
	require.NoError(t, tx.Commit(ctx))
}

// TestDeleteUserReportsPresence mirrors the role contract for users.
func TestDeleteUserReportsPresence(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	user, err := tx.CreateUser(ctx, model.User{Name: "alice", UserType: model.UserTypeHuman})
	require.NoError(t, err)
	existed, err := tx.DeleteUser(ctx, user.UserID)
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = tx.DeleteUser(ctx, ids.NewUserID())
	require.NoError(t, err)
	assert.False(t, existed)
	require.NoError(t, tx.Commit(ctx))
}

// TestProjectDeleteGuards verifies the not-empty and not-found cases.
func TestProjectDeleteGuards(t *testing.T) {
	s, projectID := newTestStore(t)
	ctx := context.Background()
	createWarehouse(t, s, projectID, "analytics")

	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	err = tx.DeleteProject(ctx, projectID)
	assert.ErrorIs(t, err, catalogerr.ErrProjectNotEmpty)
	err = tx.DeleteProject(ctx, ids.NewProjectID())
	assert.ErrorIs(t, err, catalogerr.ErrProjectNotFound)
	require.NoError(t, tx.Rollback(ctx))
}

// TestRoleNameUniquePerProject verifies the scope of the name constraint.
func TestRoleNameUniquePerProject(t *testing.T) {
	s, projectID := newTestStore(t)
	ctx := context.Background()

	tx, err := s.BeginWrite(ctx)
	require.NoError(t, err)
	_, err = tx.CreateRole(ctx, model.Role{ProjectID: projectID, Name: "Analyst"})
	require.NoError(t, err)
	_, err = tx.CreateRole(ctx, model.Role{ProjectID: projectID, Name: "analyst"})
	assert.ErrorIs(t, err, catalogerr.ErrNameAlreadyExists)

	other, err := tx.CreateProject(ctx, model.Project{Name: "other-project"})
	require.NoError(t, err)
	_, err = tx.CreateRole(ctx, model.Role{ProjectID: other.ProjectID, Name: "analyst"})
	require.NoError(t, err, "the same name is free in another project")
	require.NoError(t, tx.Commit(ctx))
}
