package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-plt-access/internal/repository"
	apperrors "github.com/pesio-ai/be-plt-access/pkg/errors"
	"github.com/pesio-ai/be-plt-access/pkg/logger"
)

// System keys of the modules that gate the admin routes
const (
	SystemModuleUsers    = "users"
	SystemModuleSettings = "settings"
)

var errModuleName = apperrors.Validation("Module name must contain only lowercase letters, numbers, and underscores")

var errSystemModule = apperrors.Forbidden("Cannot delete a system module").WithReason("SYSTEM_MODULE")

func (s *RBACService) ListModules(ctx context.Context) ([]repository.Module, error) {
	return s.store.Modules().List(ctx)
}

type CreateModuleRequest struct {
	Name        string `json:"module_name"  validate:"required,max=100"`
	DisplayName string `json:"display_name" validate:"required,max=200"`
	Description string `json:"description"  validate:"max=500"`
}

// CreateModule registers a module. No role is granted anything on it.
func (s *RBACService) CreateModule(ctx context.Context, req *CreateModuleRequest) (*repository.Module, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if !moduleNamePattern.MatchString(req.Name) {
		return nil, errModuleName
	}

	taken, err := s.store.Modules().NameExists(ctx, req.Name, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, apperrors.Conflict("Module name already exists")
	}

	m := &repository.Module{Name: req.Name, DisplayName: req.DisplayName, Description: req.Description}
	if err := s.store.Modules().Create(ctx, m); err != nil {
		return nil, err
	}

	logger.FromContext(ctx, s.log).Info().Int64("module_id", m.ID).Str("module_name", m.Name).Msg("Module created")
	return m, nil
}

type UpdateModuleRequest struct {
	Name        *string `json:"module_name"  validate:"omitnil,max=100"`
	DisplayName string  `json:"display_name" validate:"required,max=200"`
	Description *string `json:"description"  validate:"omitnil,max=500"`
}

// UpdateModule updates a module. A rename is carried into every
// permission_matrix row of the module in the same transaction.
func (s *RBACService) UpdateModule(ctx context.Context, moduleID int64, req *UpdateModuleRequest) error {
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" {
		return apperrors.Validation("Display name is required")
	}
	if err := validateRequest(req); err != nil {
		return err
	}
	if req.Name != nil {
		req.Name = ptr(strings.TrimSpace(*req.Name))
		if !moduleNamePattern.MatchString(*req.Name) {
			return errModuleName
		}
	}

	var oldName, newName string
	err := s.store.InTx(ctx, func(tx Store) error {
		m, err := tx.Modules().GetByID(ctx, moduleID)
		if err != nil {
			return err
		}
		oldName, newName = m.Name, m.Name

		if req.Name != nil && *req.Name != m.Name {
			taken, err := tx.Modules().NameExists(ctx, *req.Name, moduleID)
			if err != nil {
				return err
			}
			if taken {
				return apperrors.Conflict("Module name already exists")
			}
			newName = *req.Name
		}

		m.Name = newName
		m.DisplayName = req.DisplayName
		if req.Description != nil {
			m.Description = *req.Description
		}
		if err := tx.Modules().Update(ctx, m); err != nil {
			return err
		}
		if newName != oldName {
			return tx.Modules().RenameGrants(ctx, oldName, newName)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.Purge()
	log := logger.FromContext(ctx, s.log)
	if newName != oldName {
		log.Info().Str("old_name", oldName).Str("new_name", newName).Msg("Module renamed")
	} else {
		log.Info().Int64("module_id", moduleID).Msg("Module updated")
	}
	return nil
}

// DeleteModule deletes a module on which no role holds any grant. Rows with
// every flag cleared are removed with it. System modules cannot be deleted.
func (s *RBACService) DeleteModule(ctx context.Context, moduleID int64) error {
	err := s.store.InTx(ctx, func(tx Store) error {
		m, err := tx.Modules().GetByID(ctx, moduleID)
		if err != nil {
			return err
		}
		if m.SystemKey != nil {
			return errSystemModule
		}

		n, err := tx.Modules().CountActiveGrants(ctx, m.Name)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperrors.Conflict("Cannot delete module that is being used in role permissions")
		}

		if err := tx.Modules().DeleteGrants(ctx, m.Name); err != nil {
			return err
		}
		return tx.Modules().Delete(ctx, moduleID)
	})
	if err != nil {
		return err
	}

	s.Purge()
	logger.FromContext(ctx, s.log).Info().Int64("module_id", moduleID).Msg("Module deleted")
	return nil
}
