package repository

import (
	"context"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	apperrors "github.com/pesio-ai/be-plt-access/pkg/errors"
)

var roleColumns = []string{"role_id", "role_name", "description", "is_system_role", "created_at"}

// RoleRepository handles roles, role assignments and the permission matrix
type RoleRepository struct {
	db DBTX
}

func NewRoleRepository(db DBTX) *RoleRepository {
	return &RoleRepository{db: db}
}

// List retrieves all roles ordered by name
func (r *RoleRepository) List(ctx context.Context) ([]Role, error) {
	query, args, err := psql.Select(roleColumns...).From("roles").OrderBy("role_name").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}

	roles := []Role{}
	if err := pgxscan.Select(ctx, r.db, &roles, query, args...); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list roles")
	}
	return roles, nil
}

// GetByID retrieves a role by ID
func (r *RoleRepository) GetByID(ctx context.Context, id int64) (*Role, error) {
	return r.getOne(ctx, sq.Eq{"role_id": id}, id)
}

// GetByName retrieves a role by name
func (r *RoleRepository) GetByName(ctx context.Context, name string) (*Role, error) {
	return r.getOne(ctx, sq.Eq{"role_name": name}, name)
}

func (r *RoleRepository) getOne(ctx context.Context, where sq.Sqlizer, ref any) (*Role, error) {
	query, args, err := psql.Select(roleColumns...).From("roles").Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}

	var role Role
	if err := pgxscan.Get(ctx, r.db, &role, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperrors.NotFound("role", ref)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get role")
	}
	return &role, nil
}

// NameExists reports whether a role other than excludeID is called name
func (r *RoleRepository) NameExists(ctx context.Context, name string, excludeID int64) (bool, error) {
	where := sq.And{sq.Eq{"role_name": name}}
	if excludeID > 0 {
		where = append(where, sq.NotEq{"role_id": excludeID})
	}
	query, args, err := psql.Select("1").Prefix("SELECT EXISTS (").From("roles").Where(where).Suffix(")").ToSql()
	if err != nil {
		return false, fmt.Errorf("building exists query: %w", err)
	}

	var found bool
	if err := r.db.QueryRow(ctx, query, args...).Scan(&found); err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to check role name")
	}
	return found, nil
}

// Create inserts a role and fills ID and CreatedAt
func (r *RoleRepository) Create(ctx context.Context, role *Role) error {
	query, args, err := psql.Insert("roles").
		Columns("role_name", "description", "is_system_role").
		Values(role.Name, role.Description, role.IsSystemRole).
		Suffix("RETURNING role_id, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert query: %w", err)
	}

	if err := r.db.QueryRow(ctx, query, args...).Scan(&role.ID, &role.CreatedAt); err != nil {
		return mapWriteError(err, "Role name already exists", "failed to create role")
	}
	return nil
}

// Update saves the name and description of a role
func (r *RoleRepository) Update(ctx context.Context, role *Role) error {
	query, args, err := psql.Update("roles").
		Set("role_name", role.Name).
		Set("description", role.Description).
		Where(sq.Eq{"role_id": role.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update query: %w", err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return mapWriteError(err, "Role name already exists", "failed to update role")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("role", role.ID)
	}
	return nil
}

// Delete removes a role. Its permission rows go with it (ON DELETE CASCADE).
func (r *RoleRepository) Delete(ctx context.Context, id int64) error {
	query, args, err := psql.Delete("roles").Where(sq.Eq{"role_id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to delete role")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("role", id)
	}
	return nil
}

// CountAssignments counts the users holding a role
func (r *RoleRepository) CountAssignments(ctx context.Context, roleID int64) (int, error) {
	query, args, err := psql.Select("COUNT(*)").From("user_roles").Where(sq.Eq{"role_id": roleID}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}

	var n int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to count role assignments")
	}
	return n, nil
}

// AssignToUser grants a role to a user; an existing assignment is kept
func (r *RoleRepository) AssignToUser(ctx context.Context, userID, roleID int64, assignedBy *int64) error {
	query, args, err := psql.Insert("user_roles").
		Columns("user_id", "role_id", "assigned_by").
		Values(userID, roleID, assignedBy).
		Suffix("ON CONFLICT (user_id, role_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert query: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to assign role")
	}
	return nil
}

// ReplaceUserRole removes every role of a user and assigns roleID. Callers
// run it inside a transaction.
func (r *RoleRepository) ReplaceUserRole(ctx context.Context, userID, roleID int64, assignedBy *int64) error {
	query, args, err := psql.Delete("user_roles").Where(sq.Eq{"user_id": userID}).ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to remove user roles")
	}
	return r.AssignToUser(ctx, userID, roleID, assignedBy)
}

// RoleNamesForUser returns the names of the roles held by a user
func (r *RoleRepository) RoleNamesForUser(ctx context.Context, userID int64) ([]string, error) {
	query, args, err := psql.Select("r.role_name").
		From("user_roles ur").
		Join("roles r ON r.role_id = ur.role_id").
		Where(sq.Eq{"ur.user_id": userID}).
		OrderBy("ur.assigned_at", "r.role_name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}

	names := []string{}
	if err := pgxscan.Select(ctx, r.db, &names, query, args...); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get user roles")
	}
	return names, nil
}

// HasAnyRole reports whether the user holds one of the named roles
func (r *RoleRepository) HasAnyRole(ctx context.Context, userID int64, names ...string) (bool, error) {
	query, args, err := psql.Select("1").
		Prefix("SELECT EXISTS (").
		From("user_roles ur").
		Join("roles r ON r.role_id = ur.role_id").
		Where(sq.Eq{"ur.user_id": userID, "r.role_name": names}).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building exists query: %w", err)
	}

	var found bool
	if err := r.db.QueryRow(ctx, query, args...).Scan(&found); err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to check user roles")
	}
	return found, nil
}

// ListGrants returns every permission_matrix row
func (r *RoleRepository) ListGrants(ctx context.Context) ([]PermissionGrant, error) {
	query, args, err := psql.Select("role_id", "module_name", "can_view", "can_create", "can_edit", "can_delete").
		From("permission_matrix").
		OrderBy("role_id", "module_name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}

	grants := []PermissionGrant{}
	if err := pgxscan.Select(ctx, r.db, &grants, query, args...); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list permissions")
	}
	return grants, nil
}

// ReplacePermissions deletes every grant of a role and inserts perms. Callers
// run it inside a transaction so readers never see the role without grants.
func (r *RoleRepository) ReplacePermissions(ctx context.Context, roleID int64, perms map[string]Permissions) error {
	query, args, err := psql.Delete("permission_matrix").Where(sq.Eq{"role_id": roleID}).ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to clear permissions")
	}

	if len(perms) == 0 {
		return nil
	}

	modules := make([]string, 0, len(perms))
	for m := range perms {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	ins := psql.Insert("permission_matrix").
		Columns("role_id", "module_name", "can_view", "can_create", "can_edit", "can_delete")
	for _, m := range modules {
		p := perms[m]
		ins = ins.Values(roleID, m, p.CanView, p.CanCreate, p.CanEdit, p.CanDelete)
	}

	query, args, err = ins.ToSql()
	if err != nil {
		return fmt.Errorf("building insert query: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to save permissions")
	}
	return nil
}

// UserPermissions returns the union of the grants of a user's roles on a
// module
func (r *RoleRepository) UserPermissions(ctx context.Context, userID int64, module string) (Permissions, error) {
	query, args, err := psql.Select(
		"COALESCE(bool_or(pm.can_view), false) AS can_view",
		"COALESCE(bool_or(pm.can_create), false) AS can_create",
		"COALESCE(bool_or(pm.can_edit), false) AS can_edit",
		"COALESCE(bool_or(pm.can_delete), false) AS can_delete",
	).
		From("user_roles ur").
		Join("permission_matrix pm ON pm.role_id = ur.role_id").
		Where(sq.Eq{"ur.user_id": userID, "pm.module_name": module}).
		ToSql()
	if err != nil {
		return Permissions{}, fmt.Errorf("building select query: %w", err)
	}

	var perms Permissions
	if err := pgxscan.Get(ctx, r.db, &perms, query, args...); err != nil {
		return Permissions{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get permissions")
	}
	return perms, nil
}
