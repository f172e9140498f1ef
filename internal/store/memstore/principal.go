package memstore

import (
	"context"
	"sort"
	"strings"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
)

func (s *Store) GetProject(ctx context.Context, id ids.ProjectID) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getProject(id)
}

func (s *Store) ListProjects(ctx context.Context) ([]model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listProjects()
}

func (s *Store) GetRole(ctx context.Context, id ids.RoleID) (*model.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getRole(id)
}

func (s *Store) ListRoles(ctx context.Context, projectID ids.ProjectID) ([]model.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listRoles(projectID)
}

func (s *Store) GetUser(ctx context.Context, id ids.UserID) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getUser(id)
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listUsers()
}

func (t *readTx) GetProject(ctx context.Context, id ids.ProjectID) (*model.Project, error) {
	return t.s.GetProject(ctx, id)
}

func (t *readTx) ListProjects(ctx context.Context) ([]model.Project, error) {
	return t.s.ListProjects(ctx)
}

func (t *readTx) GetRole(ctx context.Context, id ids.RoleID) (*model.Role, error) {
	return t.s.GetRole(ctx, id)
}

func (t *readTx) ListRoles(ctx context.Context, projectID ids.ProjectID) ([]model.Role, error) {
	return t.s.ListRoles(ctx, projectID)
}

func (t *readTx) GetUser(ctx context.Context, id ids.UserID) (*model.User, error) {
	return t.s.GetUser(ctx, id)
}

func (t *readTx) ListUsers(ctx context.Context) ([]model.User, error) {
	return t.s.ListUsers(ctx)
}

func (t *writeTx) GetProject(ctx context.Context, id ids.ProjectID) (*model.Project, error) {
	return t.s.st.getProject(id)
}

func (t *writeTx) ListProjects(ctx context.Context) ([]model.Project, error) {
	return t.s.st.listProjects()
}

func (t *writeTx) GetRole(ctx context.Context, id ids.RoleID) (*model.Role, error) {
	return t.s.st.getRole(id)
}

func (t *writeTx) ListRoles(ctx context.Context, projectID ids.ProjectID) ([]model.Role, error) {
	return t.s.st.listRoles(projectID)
}

func (t *writeTx) GetUser(ctx context.Context, id ids.UserID) (*model.User, error) {
	return t.s.st.getUser(id)
}

func (t *writeTx) ListUsers(ctx context.Context) ([]model.User, error) {
	return t.s.st.listUsers()
}

func (t *writeTx) CreateProject(ctx context.Context, p model.Project) (*model.Project, error) {
	s := t.s.st
	for _, existing := range s.projects {
		if strings.EqualFold(existing.Name, p.Name) {
			return nil, catalogerr.ErrNameAlreadyExists
		}
	}
	if p.ProjectID.IsNil() {
		p.ProjectID = ids.NewProjectID()
	}
	p.CreatedAt = t.s.now()
	p.UpdatedAt = nil
	c := p
	s.projects[p.ProjectID] = &c
	out := p
	return &out, nil
}

func (t *writeTx) RenameProject(ctx context.Context, id ids.ProjectID, name string) (*model.Project, error) {
	s := t.s.st
	p, ok := s.projects[id]
	if !ok {
		return nil, catalogerr.ErrProjectNotFound
	}
	for _, other := range s.projects {
		if other.ProjectID != id && strings.EqualFold(other.Name, name) {
			return nil, catalogerr.ErrNameAlreadyExists
		}
	}
	if p.Name != name {
		p.Name = name
		p.UpdatedAt = timePtr(t.s.now())
	}
	c := *p
	return &c, nil
}

func (t *writeTx) DeleteProject(ctx context.Context, id ids.ProjectID) error {
	s := t.s.st
	if _, ok := s.projects[id]; !ok {
		return catalogerr.ErrProjectNotFound
	}
	for _, w := range s.warehouses {
		if w.ProjectID == id {
			return catalogerr.ErrProjectNotEmpty
		}
	}
	delete(s.projects, id)
	return nil
}

func (t *writeTx) CreateRole(ctx context.Context, r model.Role) (*model.Role, error) {
	s := t.s.st
	if _, ok := s.projects[r.ProjectID]; !ok {
		return nil, catalogerr.ErrProjectNotFound
	}
	for _, existing := range s.roles {
		if existing.ProjectID == r.ProjectID && strings.EqualFold(existing.Name, r.Name) {
			return nil, catalogerr.ErrNameAlreadyExists
		}
	}
	if r.RoleID == (ids.RoleID{}) {
		r.RoleID = ids.NewRoleID()
	}
	r.CreatedAt = t.s.now()
	r.UpdatedAt = nil
	c := r
	s.roles[r.RoleID] = &c
	out := r
	return &out, nil
}

func (t *writeTx) UpdateRole(ctx context.Context, id ids.RoleID, name string, description *string) (*model.Role, error) {
	s := t.s.st
	r, ok := s.roles[id]
	if !ok {
		return nil, catalogerr.ErrRoleNotFound
	}
	r.Name = name
	r.Description = description
	r.UpdatedAt = timePtr(t.s.now())
	c := *r
	return &c, nil
}

func (t *writeTx) DeleteRole(ctx context.Context, id ids.RoleID) (bool, error) {
	s := t.s.st
	if _, ok := s.roles[id]; !ok {
		return false, nil
	}
	delete(s.roles, id)
	return true, nil
}

func (t *writeTx) CreateUser(ctx context.Context, u model.User) (*model.User, error) {
	s := t.s.st
	if u.UserID == (ids.UserID{}) {
		u.UserID = ids.NewUserID()
	}
	u.CreatedAt = t.s.now()
	u.UpdatedAt = nil
	c := u
	s.users[u.UserID] = &c
	out := u
	return &out, nil
}

func (t *writeTx) UpdateUser(ctx context.Context, id ids.UserID, name string, email *string) (*model.User, error) {
	s := t.s.st
	u, ok := s.users[id]
	if !ok {
		return nil, catalogerr.ErrUserNotFound
	}
	u.Name = name
	u.Email = email
	u.UpdatedAt = timePtr(t.s.now())
	c := *u
	return &c, nil
}

func (t *writeTx) DeleteUser(ctx context.Context, id ids.UserID) (bool, error) {
	s := t.s.st
	if _, ok := s.users[id]; !ok {
		return false, nil
	}
	delete(s.users, id)
	return true, nil
}

func (s *state) getProject(id ids.ProjectID) (*model.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (s *state) listProjects() ([]model.Project, error) {
	out := make([]model.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *state) getRole(id ids.RoleID) (*model.Role, error) {
	r, ok := s.roles[id]
	if !ok {
		return nil, nil
	}
	c := *r
	return &c, nil
}

func (s *state) listRoles(projectID ids.ProjectID) ([]model.Role, error) {
	var out []model.Role
	for _, r := range s.roles {
		if r.ProjectID == projectID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *state) getUser(id ids.UserID) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (s *state) listUsers() ([]model.User, error) {
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
