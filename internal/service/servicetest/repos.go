package servicetest

import (
	"context"
	"sort"
	"time"

	"github.com/pesio-ai/be-plt-access/internal/repository"
	apperrors "github.com/pesio-ai/be-plt-access/pkg/errors"
)

type userStore struct{ s *Store }

func (r *userStore) find(pred func(repository.User) bool, ref any) (*repository.User, error) {
	for _, u := range r.s.st.users {
		if pred(u) {
			cp := u
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("user", ref)
}

func (r *userStore) GetByID(ctx context.Context, id int64) (*repository.User, error) {
	defer r.s.lock()()
	if err := r.s.fail("Users.GetByID"); err != nil {
		return nil, internal("get user", err)
	}
	return r.find(func(u repository.User) bool { return u.ID == id }, id)
}

func (r *userStore) GetActiveByID(ctx context.Context, id int64) (*repository.User, error) {
	defer r.s.lock()()
	return r.find(func(u repository.User) bool { return u.ID == id && u.IsActive }, id)
}

func (r *userStore) GetActiveByUsername(ctx context.Context, username string) (*repository.User, error) {
	defer r.s.lock()()
	if err := r.s.fail("Users.GetActiveByUsername"); err != nil {
		return nil, internal("get user", err)
	}
	return r.find(func(u repository.User) bool { return u.Username == username && u.IsActive }, username)
}

func (r *userStore) GetByEmail(ctx context.Context, email string) (*repository.User, error) {
	defer r.s.lock()()
	return r.find(func(u repository.User) bool { return u.Email == email }, email)
}

func (r *userStore) GetByResetToken(ctx context.Context, token string) (*repository.User, error) {
	defer r.s.lock()()
	return r.find(func(u repository.User) bool {
		return u.PasswordResetToken != nil && *u.PasswordResetToken == token
	}, "reset token")
}

func (r *userStore) UsernameExists(ctx context.Context, username string, excludeID int64) (bool, error) {
	defer r.s.lock()()
	for _, u := range r.s.st.users {
		if u.Username == username && u.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (r *userStore) EmailExists(ctx context.Context, email string, excludeID int64) (bool, error) {
	defer r.s.lock()()
	for _, u := range r.s.st.users {
		if u.Email == email && u.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (r *userStore) unique(u repository.User) error {
	for _, o := range r.s.st.users {
		if o.ID != u.ID && (o.Username == u.Username || o.Email == u.Email) {
			return apperrors.Conflict("Username or email already exists")
		}
	}
	return nil
}

func (r *userStore) Create(ctx context.Context, user *repository.User) error {
	defer r.s.lock()()
	if err := r.s.fail("Users.Create"); err != nil {
		return internal("create user", err)
	}
	if err := r.unique(*user); err != nil {
		return err
	}
	user.ID = r.s.st.next()
	user.CreatedAt = r.s.clock()
	r.s.st.users[user.ID] = *user
	return nil
}

func (r *userStore) Update(ctx context.Context, id int64, upd repository.UserUpdate) error {
	defer r.s.lock()()
	if upd.Empty() {
		return apperrors.Validation("No fields to update")
	}
	u, ok := r.s.st.users[id]
	if !ok {
		return apperrors.NotFound("user", id)
	}
	if upd.Username != nil {
		u.Username = *upd.Username
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.IsActive != nil {
		u.IsActive = *upd.IsActive
	}
	if upd.AccountStatus != nil {
		u.AccountStatus = *upd.AccountStatus
	}
	if err := r.unique(u); err != nil {
		return err
	}
	r.s.st.users[id] = u
	return nil
}

func (r *userStore) Decide(ctx context.Context, id, approverID int64, status repository.AccountStatus, isActive bool) (bool, error) {
	defer r.s.lock()()
	u, ok := r.s.st.users[id]
	if !ok || u.AccountStatus != repository.StatusPending {
		return false, nil
	}
	u.AccountStatus = status
	u.IsActive = isActive
	u.ApprovedBy = &approverID
	r.s.st.users[id] = u
	return true, nil
}

func (r *userStore) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	defer r.s.lock()()
	u, ok := r.s.st.users[id]
	if ok {
		u.LastLogin = &at
		r.s.st.users[id] = u
	}
	return nil
}

func (r *userStore) SetPassword(ctx context.Context, id int64, hash, salt string, changePassword bool) error {
	defer r.s.lock()()
	u, ok := r.s.st.users[id]
	if !ok {
		return apperrors.NotFound("user", id)
	}
	u.PasswordHash = hash
	u.Salt = salt
	u.ChangePassword = changePassword
	u.PasswordResetToken = nil
	u.ResetTokenExpiry = nil
	r.s.st.users[id] = u
	return nil
}

func (r *userStore) SetResetToken(ctx context.Context, id int64, token string, expiry time.Time) error {
	defer r.s.lock()()
	u, ok := r.s.st.users[id]
	if ok {
		u.PasswordResetToken = &token
		u.ResetTokenExpiry = &expiry
		r.s.st.users[id] = u
	}
	return nil
}

func (r *userStore) GetProfile(ctx context.Context, userID int64) (*repository.UserProfile, error) {
	defer r.s.lock()()
	p, ok := r.s.st.profiles[userID]
	if !ok {
		return nil, apperrors.NotFound("profile", userID)
	}
	return &p, nil
}

func (r *userStore) UpsertProfile(ctx context.Context, p *repository.UserProfile) error {
	defer r.s.lock()()
	if err := r.s.fail("Users.UpsertProfile"); err != nil {
		return internal("save profile", err)
	}
	r.s.st.profiles[p.UserID] = *p
	return nil
}

func (r *userStore) List(ctx context.Context) ([]repository.UserDetail, error) {
	defer r.s.lock()()
	out := []repository.UserDetail{}
	for _, u := range r.s.st.users {
		out = append(out, r.s.detail(u))
	}
	newest(out,
		func(d repository.UserDetail) time.Time { return d.CreatedAt },
		func(d repository.UserDetail) int64 { return d.ID })
	return out, nil
}

func (r *userStore) ListPending(ctx context.Context) ([]repository.PendingUser, error) {
	defer r.s.lock()()
	out := []repository.PendingUser{}
	for _, u := range r.s.st.users {
		if u.AccountStatus != repository.StatusPending {
			continue
		}
		pu := repository.PendingUser{UserDetail: r.s.detail(u), CreatedBy: u.CreatedBy}
		if u.CreatedBy != nil {
			if c, ok := r.s.st.users[*u.CreatedBy]; ok {
				name := c.Username
				pu.CreatorUsername = &name
			}
		}
		out = append(out, pu)
	}
	newest(out,
		func(p repository.PendingUser) time.Time { return p.CreatedAt },
		func(p repository.PendingUser) int64 { return p.ID })
	return out, nil
}

func (r *userStore) PasswordHistory(ctx context.Context, userID int64, limit int) ([]repository.PasswordHistoryEntry, error) {
	defer r.s.lock()()
	var rows []historyRow
	for _, h := range r.s.st.history {
		if h.userID == userID {
			rows = append(rows, h)
		}
	}
	newest(rows,
		func(h historyRow) time.Time { return h.createdAt },
		func(h historyRow) int64 { return h.id })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]repository.PasswordHistoryEntry, 0, len(rows))
	for _, h := range rows {
		out = append(out, repository.PasswordHistoryEntry{PasswordHash: h.hash, Salt: h.salt, CreatedAt: h.createdAt})
	}
	return out, nil
}

func (r *userStore) AddPasswordHistory(ctx context.Context, userID int64, hash, salt string) error {
	defer r.s.lock()()
	r.s.st.history = append(r.s.st.history, historyRow{
		id: r.s.st.next(), userID: userID, hash: hash, salt: salt, createdAt: r.s.clock(),
	})
	return nil
}

type roleStore struct{ s *Store }

func (r *roleStore) List(ctx context.Context) ([]repository.Role, error) {
	defer r.s.lock()()
	out := make([]repository.Role, 0, len(r.s.st.roles))
	for _, role := range r.s.st.roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *roleStore) GetByID(ctx context.Context, id int64) (*repository.Role, error) {
	defer r.s.lock()()
	role, ok := r.s.st.roles[id]
	if !ok {
		return nil, apperrors.NotFound("role", id)
	}
	return &role, nil
}

func (r *roleStore) GetByName(ctx context.Context, name string) (*repository.Role, error) {
	defer r.s.lock()()
	role, ok := r.s.roleByName(name)
	if !ok {
		return nil, apperrors.NotFound("role", name)
	}
	return &role, nil
}

func (r *roleStore) NameExists(ctx context.Context, name string, excludeID int64) (bool, error) {
	defer r.s.lock()()
	for _, role := range r.s.st.roles {
		if role.Name == name && role.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (r *roleStore) Create(ctx context.Context, role *repository.Role) error {
	defer r.s.lock()()
	if _, taken := r.s.roleByName(role.Name); taken {
		return apperrors.Conflict("Role name already exists")
	}
	role.ID = r.s.st.next()
	role.CreatedAt = r.s.clock()
	r.s.st.roles[role.ID] = *role
	return nil
}

func (r *roleStore) Update(ctx context.Context, role *repository.Role) error {
	defer r.s.lock()()
	if _, ok := r.s.st.roles[role.ID]; !ok {
		return apperrors.NotFound("role", role.ID)
	}
	r.s.st.roles[role.ID] = *role
	return nil
}

func (r *roleStore) Delete(ctx context.Context, id int64) error {
	defer r.s.lock()()
	if _, ok := r.s.st.roles[id]; !ok {
		return apperrors.NotFound("role", id)
	}
	for _, ur := range r.s.st.userRoles {
		if ur.roleID == id {
			return apperrors.New(apperrors.ErrCodeInternal, "role is still referenced by user_roles")
		}
	}
	delete(r.s.st.roles, id)
	for k := range r.s.st.grants {
		if k.roleID == id {
			delete(r.s.st.grants, k)
		}
	}
	return nil
}

func (r *roleStore) CountAssignments(ctx context.Context, roleID int64) (int, error) {
	defer r.s.lock()()
	n := 0
	for _, ur := range r.s.st.userRoles {
		if ur.roleID == roleID {
			n++
		}
	}
	return n, nil
}

func (r *roleStore) assign(userID, roleID int64, assignedBy *int64) error {
	if err := r.s.fail("Roles.AssignToUser"); err != nil {
		return internal("assign role", err)
	}
	for _, ur := range r.s.st.userRoles {
		if ur.userID == userID && ur.roleID == roleID {
			return nil
		}
	}
	r.s.st.userRoles = append(r.s.st.userRoles, userRole{
		userID: userID, roleID: roleID, assignedBy: assignedBy, seq: r.s.st.next(),
	})
	return nil
}

func (r *roleStore) AssignToUser(ctx context.Context, userID, roleID int64, assignedBy *int64) error {
	defer r.s.lock()()
	return r.assign(userID, roleID, assignedBy)
}

func (r *roleStore) ReplaceUserRole(ctx context.Context, userID, roleID int64, assignedBy *int64) error {
	defer r.s.lock()()
	kept := r.s.st.userRoles[:0]
	for _, ur := range r.s.st.userRoles {
		if ur.userID != userID {
			kept = append(kept, ur)
		}
	}
	r.s.st.userRoles = kept
	return r.assign(userID, roleID, assignedBy)
}

// RemoveUserRoles drops every role assignment of a user
func (s *Store) RemoveUserRoles(userID int64) {
	defer s.lock()()
	kept := s.st.userRoles[:0]
	for _, ur := range s.st.userRoles {
		if ur.userID != userID {
			kept = append(kept, ur)
		}
	}
	s.st.userRoles = kept
}

func (r *roleStore) RoleNamesForUser(ctx context.Context, userID int64) ([]string, error) {
	defer r.s.lock()()
	return r.s.roleNames(userID), nil
}

func (r *roleStore) HasAnyRole(ctx context.Context, userID int64, names ...string) (bool, error) {
	defer r.s.lock()()
	for _, held := range r.s.roleNames(userID) {
		for _, n := range names {
			if held == n {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *roleStore) ListGrants(ctx context.Context) ([]repository.PermissionGrant, error) {
	defer r.s.lock()()
	out := make([]repository.PermissionGrant, 0, len(r.s.st.grants))
	for k, p := range r.s.st.grants {
		out = append(out, repository.PermissionGrant{RoleID: k.roleID, ModuleName: k.module, Permissions: p})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoleID != out[j].RoleID {
			return out[i].RoleID < out[j].RoleID
		}
		return out[i].ModuleName < out[j].ModuleName
	})
	return out, nil
}

func (r *roleStore) ReplacePermissions(ctx context.Context, roleID int64, perms map[string]repository.Permissions) error {
	defer r.s.lock()()
	for k := range r.s.st.grants {
		if k.roleID == roleID {
			delete(r.s.st.grants, k)
		}
	}
	if err := r.s.fail("Roles.ReplacePermissions"); err != nil {
		return internal("save permissions", err)
	}
	for m, p := range perms {
		r.s.st.grants[grantKey{roleID, m}] = p
	}
	return nil
}

func (r *roleStore) UserPermissions(ctx context.Context, userID int64, module string) (repository.Permissions, error) {
	defer r.s.lock()()
	var out repository.Permissions
	for _, ur := range r.s.st.userRoles {
		if ur.userID == userID {
			out = out.Or(r.s.st.grants[grantKey{ur.roleID, module}])
		}
	}
	return out, nil
}

type moduleStore struct{ s *Store }

func (r *moduleStore) List(ctx context.Context) ([]repository.Module, error) {
	defer r.s.lock()()
	out := make([]repository.Module, 0, len(r.s.st.modules))
	for _, m := range r.s.st.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *moduleStore) GetByID(ctx context.Context, id int64) (*repository.Module, error) {
	defer r.s.lock()()
	m, ok := r.s.st.modules[id]
	if !ok {
		return nil, apperrors.NotFound("module", id)
	}
	return &m, nil
}

func (r *moduleStore) GetBySystemKey(ctx context.Context, key string) (*repository.Module, error) {
	defer r.s.lock()()
	for _, m := range r.s.st.modules {
		if m.SystemKey != nil && *m.SystemKey == key {
			return &m, nil
		}
	}
	return nil, apperrors.NotFound("module", key)
}

func (r *moduleStore) NameExists(ctx context.Context, name string, excludeID int64) (bool, error) {
	defer r.s.lock()()
	for _, m := range r.s.st.modules {
		if m.Name == name && m.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (r *moduleStore) Create(ctx context.Context, m *repository.Module) error {
	defer r.s.lock()()
	for _, o := range r.s.st.modules {
		if o.Name == m.Name {
			return apperrors.Conflict("Module name already exists")
		}
	}
	m.ID = r.s.st.next()
	m.CreatedAt = r.s.clock()
	r.s.st.modules[m.ID] = *m
	return nil
}

func (r *moduleStore) Update(ctx context.Context, m *repository.Module) error {
	defer r.s.lock()()
	if _, ok := r.s.st.modules[m.ID]; !ok {
		return apperrors.NotFound("module", m.ID)
	}
	r.s.st.modules[m.ID] = *m
	return nil
}

func (r *moduleStore) Delete(ctx context.Context, id int64) error {
	defer r.s.lock()()
	if _, ok := r.s.st.modules[id]; !ok {
		return apperrors.NotFound("module", id)
	}
	delete(r.s.st.modules, id)
	return nil
}

func (r *moduleStore) RenameGrants(ctx context.Context, oldName, newName string) error {
	defer r.s.lock()()
	if err := r.s.fail("Modules.RenameGrants"); err != nil {
		return internal("rename module permissions", err)
	}
	for k, p := range r.s.st.grants {
		if k.module == oldName {
			delete(r.s.st.grants, k)
			r.s.st.grants[grantKey{k.roleID, newName}] = p
		}
	}
	return nil
}

func (r *moduleStore) CountActiveGrants(ctx context.Context, name string) (int, error) {
	defer r.s.lock()()
	n := 0
	for k, p := range r.s.st.grants {
		if k.module == name && p.Any() {
			n++
		}
	}
	return n, nil
}

func (r *moduleStore) DeleteGrants(ctx context.Context, name string) error {
	defer r.s.lock()()
	for k := range r.s.st.grants {
		if k.module == name {
			delete(r.s.st.grants, k)
		}
	}
	return nil
}

type auditStore struct{ s *Store }

func (r *auditStore) Record(ctx context.Context, e *repository.AuditEntry) error {
	defer r.s.lock()()
	if err := r.s.fail("Audit.Record"); err != nil {
		return internal("write audit log", err)
	}
	e.ID = r.s.st.next()
	e.LoginTimestamp = r.s.clock()
	r.s.st.audit = append(r.s.st.audit, *e)
	return nil
}

func (r *auditStore) CountFailedSince(ctx context.Context, userID int64, loginType string, since time.Time) (int, error) {
	defer r.s.lock()()
	n := 0
	for _, e := range r.s.st.audit {
		if e.UserID != nil && *e.UserID == userID &&
			e.LoginStatus == repository.AuditFailed &&
			e.LoginType == loginType &&
			!e.LoginTimestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *auditStore) List(ctx context.Context, limit int) ([]repository.AuditEntry, error) {
	defer r.s.lock()()
	out := make([]repository.AuditEntry, 0, len(r.s.st.audit))
	for _, e := range r.s.st.audit {
		if e.UserID != nil {
			if u, ok := r.s.st.users[*e.UserID]; ok {
				name := u.Username
				e.Username = &name
			}
		}
		out = append(out, e)
	}
	newest(out,
		func(e repository.AuditEntry) time.Time { return e.LoginTimestamp },
		func(e repository.AuditEntry) int64 { return e.ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
