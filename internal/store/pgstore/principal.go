package pgstore

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
)

func (o ops) GetProject(ctx context.Context, id ids.ProjectID) (*model.Project, error) {
	var r projectRow
	err := o.db.WithContext(ctx).Where("project_id = ?", uuid.UUID(id)).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return projectFromRow(&r), nil
}

func (o ops) ListProjects(ctx context.Context) ([]model.Project, error) {
	var rows []projectRow
	if err := o.db.WithContext(ctx).Order("project_name").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Project, 0, len(rows))
	for i := range rows {
		out = append(out, *projectFromRow(&rows[i]))
	}
	return out, nil
}

func (o ops) GetRole(ctx context.Context, id ids.RoleID) (*model.Role, error) {
	var r roleRow
	err := o.db.WithContext(ctx).Where("role_id = ?", uuid.UUID(id)).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return roleFromRow(&r), nil
}

func (o ops) ListRoles(ctx context.Context, projectID ids.ProjectID) ([]model.Role, error) {
	var rows []roleRow
	if err := o.db.WithContext(ctx).Where("project_id = ?", uuid.UUID(projectID)).Order("role_name").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Role, 0, len(rows))
	for i := range rows {
		out = append(out, *roleFromRow(&rows[i]))
	}
	return out, nil
}

func (o ops) GetUser(ctx context.Context, id ids.UserID) (*model.User, error) {
	var r userRow
	err := o.db.WithContext(ctx).Where("user_id = ?", uuid.UUID(id)).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return userFromRow(&r), nil
}

func (o ops) ListUsers(ctx context.Context) ([]model.User, error) {
	var rows []userRow
	if err := o.db.WithContext(ctx).Order("user_name").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.User, 0, len(rows))
	for i := range rows {
		out = append(out, *userFromRow(&rows[i]))
	}
	return out, nil
}

func (o ops) CreateProject(ctx context.Context, p model.Project) (*model.Project, error) {
	if p.ProjectID.IsNil() {
		p.ProjectID = ids.NewProjectID()
	}
	row := projectRow{
		ProjectID: uuid.UUID(p.ProjectID),
		Name:      p.Name,
		CreatedAt: o.clock(),
	}
	if err := o.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, mapConstraintError(err)
	}
	return projectFromRow(&row), nil
}

func (o ops) RenameProject(ctx context.Context, id ids.ProjectID, name string) (*model.Project, error) {
	db := o.db.WithContext(ctx)
	var r projectRow
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("project_id = ?", uuid.UUID(id)).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, catalogerr.ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.Name != name {
		r.Name = name
		now := o.clock()
		r.UpdatedAt = &now
		if err := db.Save(&r).Error; err != nil {
			return nil, mapConstraintError(err)
		}
	}
	return projectFromRow(&r), nil
}

func (o ops) DeleteProject(ctx context.Context, id ids.ProjectID) error {
	db := o.db.WithContext(ctx)
	var exists int64
	if err := db.Model(&projectRow{}).Where("project_id = ?", uuid.UUID(id)).Count(&exists).Error; err != nil {
		return err
	}
	if exists == 0 {
		return catalogerr.ErrProjectNotFound
	}
	var warehouses int64
	if err := db.Model(&warehouseRow{}).Where("project_id = ?", uuid.UUID(id)).Count(&warehouses).Error; err != nil {
		return err
	}
	if warehouses > 0 {
		return catalogerr.ErrProjectNotEmpty
	}
	return db.Delete(&projectRow{}, "project_id = ?", uuid.UUID(id)).Error
}

func (o ops) CreateRole(ctx context.Context, r model.Role) (*model.Role, error) {
	db := o.db.WithContext(ctx)
	var projects int64
	if err := db.Model(&projectRow{}).Where("project_id = ?", uuid.UUID(r.ProjectID)).Count(&projects).Error; err != nil {
		return nil, err
	}
	if projects == 0 {
		return nil, catalogerr.ErrProjectNotFound
	}
	if r.RoleID == (ids.RoleID{}) {
		r.RoleID = ids.NewRoleID()
	}
	row := roleRow{
		RoleID:      uuid.UUID(r.RoleID),
		ProjectID:   uuid.UUID(r.ProjectID),
		Name:        r.Name,
		Description: r.Description,
		CreatedAt:   o.clock(),
	}
	if err := db.Create(&row).Error; err != nil {
		return nil, mapConstraintError(err)
	}
	return roleFromRow(&row), nil
}

func (o ops) UpdateRole(ctx context.Context, id ids.RoleID, name string, description *string) (*model.Role, error) {
	db := o.db.WithContext(ctx)
	var r roleRow
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("role_id = ?", uuid.UUID(id)).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, catalogerr.ErrRoleNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Name = name
	r.Description = description
	now := o.clock()
	r.UpdatedAt = &now
	if err := db.Save(&r).Error; err != nil {
		return nil, mapConstraintError(err)
	}
	return roleFromRow(&r), nil
}

func (o ops) DeleteRole(ctx context.Context, id ids.RoleID) (bool, error) {
	res := o.db.WithContext(ctx).Delete(&roleRow{}, "role_id = ?", uuid.UUID(id))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (o ops) CreateUser(ctx context.Context, u model.User) (*model.User, error) {
	if u.UserID == (ids.UserID{}) {
		u.UserID = ids.NewUserID()
	}
	row := userRow{
		UserID:     uuid.UUID(u.UserID),
		Name:       u.Name,
		UserType:   string(u.UserType),
		Email:      u.Email,
		LastSeenAt: u.LastSeenAt,
		CreatedAt:  o.clock(),
	}
	if err := o.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, mapConstraintError(err)
	}
	return userFromRow(&row), nil
}

func (o ops) UpdateUser(ctx context.Context, id ids.UserID, name string, email *string) (*model.User, error) {
	db := o.db.WithContext(ctx)
	var r userRow
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", uuid.UUID(id)).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, catalogerr.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Name = name
	r.Email = email
	now := o.clock()
	r.UpdatedAt = &now
	if err := db.Save(&r).Error; err != nil {
		return nil, err
	}
	return userFromRow(&r), nil
}

func (o ops) DeleteUser(ctx context.Context, id ids.UserID) (bool, error) {
	res := o.db.WithContext(ctx).Delete(&userRow{}, "user_id = ?", uuid.UUID(id))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
