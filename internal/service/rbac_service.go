package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/pesio-ai/be-plt-access/internal/config"
	"github.com/pesio-ai/be-plt-access/internal/repository"
	apperrors "github.com/pesio-ai/be-plt-access/pkg/errors"
	"github.com/pesio-ai/be-plt-access/pkg/logger"
)

// Action is an operation guarded by the permission matrix
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Allowed reports whether p grants a
func (a Action) Allowed(p repository.Permissions) bool {
	switch a {
	case ActionView:
		return p.CanView
	case ActionCreate:
		return p.CanCreate
	case ActionEdit:
		return p.CanEdit
	case ActionDelete:
		return p.CanDelete
	}
	return false
}

// RBACService manages roles, modules and the permission matrix and answers
// permission checks
type RBACService struct {
	store Store
	cache *expirable.LRU[string, repository.Permissions]
	log   *logger.Logger
}

func NewRBACService(store Store, cfg config.CacheConfig, log *logger.Logger) *RBACService {
	size := cfg.PermissionSize
	if size <= 0 {
		size = 1024
	}
	ttl := cfg.PermissionTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RBACService{
		store: store,
		cache: expirable.NewLRU[string, repository.Permissions](size, nil, ttl),
		log:   log,
	}
}

// Purge drops every cached permission lookup
func (s *RBACService) Purge() {
	s.cache.Purge()
}

// HasAdminRole reports whether the user holds SUPER_ADMIN or ADMIN
func (s *RBACService) HasAdminRole(ctx context.Context, userID int64) (bool, error) {
	return s.store.Roles().HasAnyRole(ctx, userID, RoleSuperAdmin, RoleAdmin)
}

// IsSuperAdmin reports whether the user holds SUPER_ADMIN
func (s *RBACService) IsSuperAdmin(ctx context.Context, userID int64) (bool, error) {
	return s.store.Roles().HasAnyRole(ctx, userID, RoleSuperAdmin)
}

// GetPermissions returns the union of the grants of the user's roles on
// module
func (s *RBACService) GetPermissions(ctx context.Context, userID int64, module string) (repository.Permissions, error) {
	key := fmt.Sprintf("%d:%s", userID, module)
	if p, ok := s.cache.Get(key); ok {
		return p, nil
	}

	p, err := s.store.Roles().UserPermissions(ctx, userID, module)
	if err != nil {
		return repository.Permissions{}, err
	}
	s.cache.Add(key, p)
	return p, nil
}

// UserPermissions is GetPermissions for an existing user id
func (s *RBACService) UserPermissions(ctx context.Context, userID int64, module string) (repository.Permissions, error) {
	if module == "" {
		return repository.Permissions{}, apperrors.Validation("Module name is required")
	}
	if _, err := s.store.Users().GetByID(ctx, userID); err != nil {
		return repository.Permissions{}, err
	}
	return s.GetPermissions(ctx, userID, module)
}

// Authorize reports whether the user may perform action on module.
// SUPER_ADMIN is allowed everything.
func (s *RBACService) Authorize(ctx context.Context, userID int64, module string, action Action) (bool, error) {
	super, err := s.IsSuperAdmin(ctx, userID)
	if err != nil {
		return false, err
	}
	if super {
		return true, nil
	}

	p, err := s.GetPermissions(ctx, userID, module)
	if err != nil {
		return false, err
	}
	return action.Allowed(p), nil
}

// AuthorizeSystemModule is Authorize for the module carrying a system key.
// The key is resolved to the module's current name on every call, so a
// renamed module keeps gating the same routes. A missing key denies
// everyone but SUPER_ADMIN.
func (s *RBACService) AuthorizeSystemModule(ctx context.Context, userID int64, key string, action Action) (bool, error) {
	m, err := s.store.Modules().GetBySystemKey(ctx, key)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return s.IsSuperAdmin(ctx, userID)
		}
		return false, err
	}
	return s.Authorize(ctx, userID, m.Name, action)
}

// RoleWithPermissions is a role and its grants keyed by module name
type RoleWithPermissions struct {
	repository.Role
	Permissions map[string]repository.Permissions `json:"permissions"`
}

// ListRoles returns every role with its permission map
func (s *RBACService) ListRoles(ctx context.Context) ([]RoleWithPermissions, error) {
	roles, err := s.store.Roles().List(ctx)
	if err != nil {
		return nil, err
	}
	grants, err := s.store.Roles().ListGrants(ctx)
	if err != nil {
		return nil, err
	}

	byRole := make(map[int64]map[string]repository.Permissions, len(roles))
	for _, g := range grants {
		if byRole[g.RoleID] == nil {
			byRole[g.RoleID] = map[string]repository.Permissions{}
		}
		byRole[g.RoleID][g.ModuleName] = g.Permissions
	}

	out := make([]RoleWithPermissions, 0, len(roles))
	for _, r := range roles {
		perms := byRole[r.ID]
		if perms == nil {
			perms = map[string]repository.Permissions{}
		}
		out = append(out, RoleWithPermissions{Role: r, Permissions: perms})
	}
	return out, nil
}

type CreateRoleRequest struct {
	Name        string                            `json:"role_name"   validate:"required,max=100"`
	Description string                            `json:"description" validate:"max=500"`
	Permissions map[string]repository.Permissions `json:"permissions"`
}

// CreateRole creates a non-system role with the given grants
func (s *RBACService) CreateRole(ctx context.Context, req *CreateRoleRequest) (*repository.Role, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := s.checkModules(ctx, req.Permissions); err != nil {
		return nil, err
	}

	role := &repository.Role{Name: req.Name, Description: req.Description}
	err := s.store.InTx(ctx, func(tx Store) error {
		taken, err := tx.Roles().NameExists(ctx, req.Name, 0)
		if err != nil {
			return err
		}
		if taken {
			return apperrors.Conflict("Role name already exists")
		}
		if err := tx.Roles().Create(ctx, role); err != nil {
			return err
		}
		if len(req.Permissions) > 0 {
			return tx.Roles().ReplacePermissions(ctx, role.ID, req.Permissions)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Purge()
	logger.FromContext(ctx, s.log).Info().Int64("role_id", role.ID).Str("role_name", role.Name).Msg("Role created")
	return role, nil
}

// UpdateRoleRequest changes the non-nil fields. A non-nil Permissions map
// replaces every grant of the role.
type UpdateRoleRequest struct {
	Name        *string                           `json:"role_name"   validate:"omitnil,min=1,max=100"`
	Description *string                           `json:"description" validate:"omitnil,max=500"`
	Permissions map[string]repository.Permissions `json:"permissions"`
}

// UpdateRole updates a non-system role
func (s *RBACService) UpdateRole(ctx context.Context, roleID int64, req *UpdateRoleRequest) error {
	if req.Name != nil {
		req.Name = ptr(strings.TrimSpace(*req.Name))
	}
	if err := validateRequest(req); err != nil {
		return err
	}
	if err := s.checkModules(ctx, req.Permissions); err != nil {
		return err
	}

	err := s.store.InTx(ctx, func(tx Store) error {
		role, err := tx.Roles().GetByID(ctx, roleID)
		if err != nil {
			return err
		}
		if role.IsSystemRole {
			return apperrors.Forbidden("Cannot modify system roles")
		}

		if req.Name != nil && *req.Name != role.Name {
			taken, err := tx.Roles().NameExists(ctx, *req.Name, roleID)
			if err != nil {
				return err
			}
			if taken {
				return apperrors.Conflict("Role name already exists")
			}
			role.Name = *req.Name
		}
		if req.Description != nil {
			role.Description = *req.Description
		}
		if err := tx.Roles().Update(ctx, role); err != nil {
			return err
		}

		if req.Permissions != nil {
			return tx.Roles().ReplacePermissions(ctx, roleID, req.Permissions)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.Purge()
	logger.FromContext(ctx, s.log).Info().Int64("role_id", roleID).Msg("Role updated")
	return nil
}

// DeleteRole deletes a non-system role that no user holds
func (s *RBACService) DeleteRole(ctx context.Context, roleID int64) error {
	err := s.store.InTx(ctx, func(tx Store) error {
		role, err := tx.Roles().GetByID(ctx, roleID)
		if err != nil {
			return err
		}
		if role.IsSystemRole {
			return apperrors.Forbidden("Cannot delete system roles")
		}

		n, err := tx.Roles().CountAssignments(ctx, roleID)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperrors.Conflict("Cannot delete role that is assigned to users")
		}
		return tx.Roles().Delete(ctx, roleID)
	})
	if err != nil {
		return err
	}

	s.Purge()
	logger.FromContext(ctx, s.log).Info().Int64("role_id", roleID).Msg("Role deleted")
	return nil
}

// checkModules rejects grants on modules that do not exist
func (s *RBACService) checkModules(ctx context.Context, perms map[string]repository.Permissions) error {
	if len(perms) == 0 {
		return nil
	}
	modules, err := s.store.Modules().List(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(modules))
	for _, m := range modules {
		known[m.Name] = struct{}{}
	}
	for name := range perms {
		if _, ok := known[name]; !ok {
			return apperrors.Validation(fmt.Sprintf("Unknown module: %s", name))
		}
	}
	return nil
}
