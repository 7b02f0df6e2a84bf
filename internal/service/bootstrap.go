package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-plt-access/internal/repository"
	apperrors "github.com/pesio-ai/be-plt-access/pkg/errors"
	"github.com/pesio-ai/be-plt-access/pkg/logger"
	"github.com/pesio-ai/be-plt-access/pkg/password"
)

// SuperAdminRequest describes the operator account created at bootstrap
type SuperAdminRequest struct {
	Username  string `json:"username"   validate:"required,max=50"`
	Email     string `json:"email"      validate:"required,email,max=100"`
	Password  string `json:"password"   validate:"required"`
	FirstName string `json:"first_name" validate:"max=50"`
	LastName  string `json:"last_name"  validate:"max=50"`
}

// EnsureSuperAdmin creates an ACTIVE SUPER_ADMIN account, or when a user
// with the same email exists, resets its password, activates it and gives
// it the SUPER_ADMIN role. It reports whether a new user was created.
// The account is not subject to approval.
func (s *UserService) EnsureSuperAdmin(ctx context.Context, req *SuperAdminRequest) (*repository.User, bool, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := validateRequest(req); err != nil {
		return nil, false, err
	}
	if err := password.ValidatePolicy(req.Password); err != nil {
		return nil, false, apperrors.Validation(err.Error())
	}

	hash, salt, err := s.rotator.hash(req.Password)
	if err != nil {
		return nil, false, err
	}

	var (
		user    *repository.User
		created bool
	)
	err = s.store.InTx(ctx, func(tx Store) error {
		role, err := tx.Roles().GetByName(ctx, RoleSuperAdmin)
		if err != nil {
			return err
		}

		existing, err := tx.Users().GetByEmail(ctx, req.Email)
		switch {
		case err == nil:
			user = existing
			if err := tx.Users().Update(ctx, user.ID, repository.UserUpdate{
				IsActive:      ptr(true),
				AccountStatus: ptr(repository.StatusActive),
			}); err != nil {
				return err
			}
			if err := tx.Users().SetPassword(ctx, user.ID, hash, salt, false); err != nil {
				return err
			}
			user.IsActive = true
			user.AccountStatus = repository.StatusActive
		case apperrors.IsNotFound(err):
			if err := checkUnique(ctx, tx.Users(), req.Username, req.Email, 0); err != nil {
				return err
			}
			user = &repository.User{
				Username:      req.Username,
				Email:         req.Email,
				PasswordHash:  hash,
				Salt:          salt,
				IsActive:      true,
				AccountStatus: repository.StatusActive,
			}
			if err := tx.Users().Create(ctx, user); err != nil {
				return err
			}
			created = true
		default:
			return err
		}

		if err := tx.Users().UpsertProfile(ctx, &repository.UserProfile{
			UserID:    user.ID,
			FirstName: req.FirstName,
			LastName:  req.LastName,
		}); err != nil {
			return err
		}
		if err := tx.Roles().ReplaceUserRole(ctx, user.ID, role.ID, nil); err != nil {
			return err
		}
		if err := tx.Users().AddPasswordHistory(ctx, user.ID, hash, salt); err != nil {
			return err
		}
		loginType := LoginTypeUserUpdate
		if created {
			loginType = LoginTypeUserCreate
		}
		return tx.Audit().Record(ctx, auditEntry(nil, "", repository.AuditSuccess, loginType, &user.ID))
	})
	if err != nil {
		return nil, false, err
	}
	s.cache.Purge()

	logger.FromContext(ctx, s.log).Info().
		Int64("user_id", user.ID).
		Str("username", user.Username).
		Bool("created", created).
		Msg("Super admin ensured")
	return user, created, nil
}
