package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	apperrors "github.com/pesio-ai/be-plt-access/pkg/errors"
)

var moduleColumns = []string{"module_id", "module_name", "display_name", "description", "system_key", "created_at"}

// ModuleRepository handles modules and their permission_matrix references
type ModuleRepository struct {
	db DBTX
}

func NewModuleRepository(db DBTX) *ModuleRepository {
	return &ModuleRepository{db: db}
}

func (r *ModuleRepository) List(ctx context.Context) ([]Module, error) {
	query, args, err := psql.Select(moduleColumns...).From("modules").OrderBy("module_name").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}

	modules := []Module{}
	if err := pgxscan.Select(ctx, r.db, &modules, query, args...); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list modules")
	}
	return modules, nil
}

func (r *ModuleRepository) GetByID(ctx context.Context, id int64) (*Module, error) {
	query, args, err := psql.Select(moduleColumns...).From("modules").Where(sq.Eq{"module_id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}

	var m Module
	if err := pgxscan.Get(ctx, r.db, &m, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperrors.NotFound("module", id)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get module")
	}
	return &m, nil
}

// GetBySystemKey returns the module carrying key. System keys are fixed at
// migration time and do not change when the module is renamed.
func (r *ModuleRepository) GetBySystemKey(ctx context.Context, key string) (*Module, error) {
	query, args, err := psql.Select(moduleColumns...).From("modules").Where(sq.Eq{"system_key": key}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}

	var m Module
	if err := pgxscan.Get(ctx, r.db, &m, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperrors.NotFound("module", key)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get module")
	}
	return &m, nil
}

// NameExists reports whether a module other than excludeID is called name
func (r *ModuleRepository) NameExists(ctx context.Context, name string, excludeID int64) (bool, error) {
	where := sq.And{sq.Eq{"module_name": name}}
	if excludeID > 0 {
		where = append(where, sq.NotEq{"module_id": excludeID})
	}
	query, args, err := psql.Select("1").Prefix("SELECT EXISTS (").From("modules").Where(where).Suffix(")").ToSql()
	if err != nil {
		return false, fmt.Errorf("building exists query: %w", err)
	}

	var found bool
	if err := r.db.QueryRow(ctx, query, args...).Scan(&found); err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to check module name")
	}
	return found, nil
}

func (r *ModuleRepository) Create(ctx context.Context, m *Module) error {
	query, args, err := psql.Insert("modules").
		Columns("module_name", "display_name", "description").
		Values(m.Name, m.DisplayName, m.Description).
		Suffix("RETURNING module_id, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert query: %w", err)
	}

	if err := r.db.QueryRow(ctx, query, args...).Scan(&m.ID, &m.CreatedAt); err != nil {
		return mapWriteError(err, "Module name already exists", "failed to create module")
	}
	return nil
}

func (r *ModuleRepository) Update(ctx context.Context, m *Module) error {
	query, args, err := psql.Update("modules").
		Set("module_name", m.Name).
		Set("display_name", m.DisplayName).
		Set("description", m.Description).
		Where(sq.Eq{"module_id": m.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update query: %w", err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return mapWriteError(err, "Module name already exists", "failed to update module")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("module", m.ID)
	}
	return nil
}

func (r *ModuleRepository) Delete(ctx context.Context, id int64) error {
	query, args, err := psql.Delete("modules").Where(sq.Eq{"module_id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to delete module")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("module", id)
	}
	return nil
}

// RenameGrants rewrites permission_matrix rows keyed by oldName to newName
func (r *ModuleRepository) RenameGrants(ctx context.Context, oldName, newName string) error {
	query, args, err := psql.Update("permission_matrix").
		Set("module_name", newName).
		Where(sq.Eq{"module_name": oldName}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update query: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to rename module permissions")
	}
	return nil
}

// CountActiveGrants counts the permission rows on a module with any flag set
func (r *ModuleRepository) CountActiveGrants(ctx context.Context, name string) (int, error) {
	query, args, err := psql.Select("COUNT(*)").
		From("permission_matrix").
		Where(sq.Eq{"module_name": name}).
		Where(sq.Or{
			sq.Eq{"can_view": true},
			sq.Eq{"can_create": true},
			sq.Eq{"can_edit": true},
			sq.Eq{"can_delete": true},
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}

	var n int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to count module permissions")
	}
	return n, nil
}

// DeleteGrants removes every permission row on a module
func (r *ModuleRepository) DeleteGrants(ctx context.Context, name string) error {
	query, args, err := psql.Delete("permission_matrix").Where(sq.Eq{"module_name": name}).ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to delete module permissions")
	}
	return nil
}
