package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/pesio-ai/be-plt-access/internal/config"
	"github.com/pesio-ai/be-plt-access/internal/repository"
	apperrors "github.com/pesio-ai/be-plt-access/pkg/errors"
	"github.com/pesio-ai/be-plt-access/pkg/logger"
	"github.com/pesio-ai/be-plt-access/pkg/password"
)

// Approval actions
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// Actor is the authenticated user performing an admin operation
type Actor struct {
	UserID    int64
	IPAddress string
}

// PermissionCache is purged after role assignments change
type PermissionCache interface {
	Purge()
}

// UserService manages the user lifecycle: creation, dual-control approval,
// updates, status changes, soft deletion and admin password resets
type UserService struct {
	store   Store
	cache   PermissionCache
	rotator credentialRotator
	log     *logger.Logger
}

func NewUserService(store Store, cache PermissionCache, cfg config.AuthConfig, log *logger.Logger) *UserService {
	return &UserService{
		store:   store,
		cache:   cache,
		rotator: newCredentialRotator(cfg),
		log:     log,
	}
}

type CreateUserRequest struct {
	Username   string `json:"username"   validate:"required,max=100"`
	Email      string `json:"email"      validate:"required,email,max=255"`
	Password   string `json:"password"   validate:"required"`
	FirstName  string `json:"first_name" validate:"required,max=100"`
	LastName   string `json:"last_name"  validate:"required,max=100"`
	RoleID     int64  `json:"role_id"    validate:"required"`
	Department string `json:"department" validate:"max=100"`
	Position   string `json:"position"   validate:"max=100"`
	Phone      string `json:"phone"      validate:"max=50"`
}

// CreateUser creates a PENDING user with profile, role and first password
// history entry. The user must be approved by someone other than actor.
func (s *UserService) CreateUser(ctx context.Context, actor Actor, req *CreateUserRequest) (*repository.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := password.ValidatePolicy(req.Password); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	hash, salt, err := s.rotator.hash(req.Password)
	if err != nil {
		return nil, err
	}

	user := &repository.User{
		Username:       req.Username,
		Email:          req.Email,
		PasswordHash:   hash,
		Salt:           salt,
		IsActive:       true,
		AccountStatus:  repository.StatusPending,
		CreatedBy:      &actor.UserID,
		ChangePassword: true,
	}

	err = s.store.InTx(ctx, func(tx Store) error {
		if err := checkUnique(ctx, tx.Users(), user.Username, user.Email, 0); err != nil {
			return err
		}
		if err := checkRoleAssignment(ctx, tx, actor.UserID, req.RoleID); err != nil {
			return err
		}

		if err := tx.Users().Create(ctx, user); err != nil {
			return err
		}
		profile := &repository.UserProfile{
			UserID:     user.ID,
			FirstName:  req.FirstName,
			LastName:   req.LastName,
			Department: req.Department,
			Position:   req.Position,
			Phone:      req.Phone,
		}
		if err := tx.Users().UpsertProfile(ctx, profile); err != nil {
			return err
		}
		if err := tx.Roles().AssignToUser(ctx, user.ID, req.RoleID, &actor.UserID); err != nil {
			return err
		}
		if err := tx.Users().AddPasswordHistory(ctx, user.ID, hash, salt); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, auditEntry(&actor.UserID, actor.IPAddress, repository.AuditSuccess, LoginTypeUserCreate, &user.ID))
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx, s.log).Info().
		Int64("user_id", user.ID).
		Str("username", user.Username).
		Int64("created_by", actor.UserID).
		Msg("User created")
	return user, nil
}

func (s *UserService) ListUsers(ctx context.Context) ([]repository.UserDetail, error) {
	return s.store.Users().List(ctx)
}

func (s *UserService) PendingApprovals(ctx context.Context) ([]repository.PendingUser, error) {
	return s.store.Users().ListPending(ctx)
}

var (
	errNotPending      = apperrors.New(apperrors.ErrCodeNotFound, "User not found or not in pending status")
	errOwnStatus       = apperrors.Forbidden("Cannot change your own status")
	errGrantSuperAdmin = apperrors.Forbidden("Only a super admin can assign the SUPER_ADMIN role").WithReason("SUPER_ADMIN_REQUIRED")
)

// checkRoleAssignment resolves roleID for an assignment by actorID. Only
// holders of SUPER_ADMIN may hand it out.
func checkRoleAssignment(ctx context.Context, tx Store, actorID, roleID int64) error {
	role, err := tx.Roles().GetByID(ctx, roleID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return apperrors.Validation(fmt.Sprintf("Invalid role ID: %d", roleID))
		}
		return err
	}
	if role.Name != RoleSuperAdmin {
		return nil
	}
	super, err := tx.Roles().HasAnyRole(ctx, actorID, RoleSuperAdmin)
	if err != nil {
		return err
	}
	if !super {
		return errGrantSuperAdmin
	}
	return nil
}

// setStatus sets is_active on upd and moves decided accounts between
// ACTIVE and INACTIVE with it
func setStatus(user *repository.User, isActive bool, upd *repository.UserUpdate) {
	upd.IsActive = &isActive
	switch {
	case user.AccountStatus == repository.StatusActive && !isActive:
		upd.AccountStatus = ptr(repository.StatusInactive)
	case user.AccountStatus == repository.StatusInactive && isActive:
		upd.AccountStatus = ptr(repository.StatusActive)
	}
}

// ApproveOrReject decides a PENDING user. The creator of the user cannot
// decide it.
func (s *UserService) ApproveOrReject(ctx context.Context, actor Actor, targetID int64, action string) (*repository.User, error) {
	var (
		status    repository.AccountStatus
		loginType string
	)
	switch action {
	case ActionApprove:
		status, loginType = repository.StatusActive, LoginTypeUserApprove
	case ActionReject:
		status, loginType = repository.StatusRejected, LoginTypeUserReject
	default:
		return nil, apperrors.Validation(`Invalid action. Must be "approve" or "reject"`)
	}

	var decided *repository.User
	err := s.store.InTx(ctx, func(tx Store) error {
		target, err := tx.Users().GetByID(ctx, targetID)
		if err != nil {
			if apperrors.IsNotFound(err) {
				return errNotPending
			}
			return err
		}
		if target.AccountStatus != repository.StatusPending {
			return errNotPending
		}
		if target.CreatedBy != nil && *target.CreatedBy == actor.UserID {
			return apperrors.Forbidden("Creator cannot approve or reject their own user creation")
		}

		isActive := target.IsActive
		if status == repository.StatusActive {
			isActive = true
		}
		ok, err := tx.Users().Decide(ctx, targetID, actor.UserID, status, isActive)
		if err != nil {
			return err
		}
		if !ok {
			return errNotPending
		}

		target.AccountStatus = status
		target.IsActive = isActive
		target.ApprovedBy = &actor.UserID
		decided = target

		return tx.Audit().Record(ctx, auditEntry(&actor.UserID, actor.IPAddress, repository.AuditSuccess, loginType, &targetID))
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx, s.log).Info().
		Int64("user_id", targetID).
		Int64("approved_by", actor.UserID).
		Str("status", string(status)).
		Msg("User decided")
	return decided, nil
}

// UpdateUserRequest changes the non-nil fields of a user, its profile and
// its role
type UpdateUserRequest struct {
	Username   *string `json:"username"   validate:"omitnil,min=1,max=100"`
	Email      *string `json:"email"      validate:"omitnil,email,max=255"`
	FirstName  *string `json:"first_name" validate:"omitnil,max=100"`
	LastName   *string `json:"last_name"  validate:"omitnil,max=100"`
	Department *string `json:"department" validate:"omitnil,max=100"`
	Position   *string `json:"position"   validate:"omitnil,max=100"`
	Phone      *string `json:"phone"      validate:"omitnil,max=50"`
	RoleID     *int64  `json:"role_id"    validate:"omitnil,min=1"`
}

func (r *UpdateUserRequest) touchesProfile() bool {
	return r.FirstName != nil || r.LastName != nil || r.Department != nil || r.Position != nil || r.Phone != nil
}

// UpdateUser applies a partial update. A role_id replaces every role of the
// user.
func (s *UserService) UpdateUser(ctx context.Context, actor Actor, targetID int64, req *UpdateUserRequest) error {
	if err := validateRequest(req); err != nil {
		return err
	}
	if req.Username == nil && req.Email == nil && !req.touchesProfile() && req.RoleID == nil {
		return apperrors.Validation("No fields to update")
	}

	err := s.store.InTx(ctx, func(tx Store) error {
		user, err := tx.Users().GetByID(ctx, targetID)
		if err != nil {
			return err
		}

		var upd repository.UserUpdate
		if req.Username != nil && *req.Username != user.Username {
			upd.Username = req.Username
		}
		if req.Email != nil && *req.Email != user.Email {
			upd.Email = req.Email
		}
		if !upd.Empty() {
			if err := checkUnique(ctx, tx.Users(), deref(upd.Username), deref(upd.Email), targetID); err != nil {
				return err
			}
			if err := tx.Users().Update(ctx, targetID, upd); err != nil {
				return err
			}
		}

		if req.touchesProfile() {
			profile, err := tx.Users().GetProfile(ctx, targetID)
			if err != nil {
				if !apperrors.IsNotFound(err) {
					return err
				}
				profile = &repository.UserProfile{UserID: targetID}
			}
			setIf(&profile.FirstName, req.FirstName)
			setIf(&profile.LastName, req.LastName)
			setIf(&profile.Department, req.Department)
			setIf(&profile.Position, req.Position)
			setIf(&profile.Phone, req.Phone)
			if err := tx.Users().UpsertProfile(ctx, profile); err != nil {
				return err
			}
		}

		if req.RoleID != nil {
			if err := checkRoleAssignment(ctx, tx, actor.UserID, *req.RoleID); err != nil {
				return err
			}
			if err := tx.Roles().ReplaceUserRole(ctx, targetID, *req.RoleID, &actor.UserID); err != nil {
				return err
			}
		}

		return tx.Audit().Record(ctx, auditEntry(&actor.UserID, actor.IPAddress, repository.AuditSuccess, LoginTypeUserUpdate, &targetID))
	})
	if err != nil {
		return err
	}

	if req.RoleID != nil {
		s.cache.Purge()
	}
	logger.FromContext(ctx, s.log).Info().Int64("user_id", targetID).Msg("User updated")
	return nil
}

// UpdateUserDetails sets the allowlisted user columns present in fields:
// username, email and is_active. Any other key is rejected. is_active
// follows the rules of ChangeStatus.
func (s *UserService) UpdateUserDetails(ctx context.Context, actor Actor, targetID int64, fields map[string]any) error {
	upd, err := detailsUpdate(fields)
	if err != nil {
		return err
	}
	statusChange := upd.IsActive != nil
	if statusChange && targetID == actor.UserID {
		return errOwnStatus
	}

	err = s.store.InTx(ctx, func(tx Store) error {
		user, err := tx.Users().GetByID(ctx, targetID)
		if err != nil {
			return err
		}
		if err := checkUnique(ctx, tx.Users(), deref(upd.Username), deref(upd.Email), targetID); err != nil {
			return err
		}
		if statusChange {
			setStatus(user, *upd.IsActive, &upd)
		}
		if err := tx.Users().Update(ctx, targetID, upd); err != nil {
			return err
		}

		if upd.Username != nil || upd.Email != nil {
			if err := tx.Audit().Record(ctx, auditEntry(&actor.UserID, actor.IPAddress, repository.AuditSuccess, LoginTypeUserUpdate, &targetID)); err != nil {
				return err
			}
		}
		if statusChange {
			return tx.Audit().Record(ctx, auditEntry(&actor.UserID, actor.IPAddress, repository.AuditSuccess, LoginTypeStatusChange, &targetID))
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.FromContext(ctx, s.log).Info().Int64("user_id", targetID).Msg("User details updated")
	return nil
}

func detailsUpdate(fields map[string]any) (repository.UserUpdate, error) {
	var upd repository.UserUpdate
	for key, raw := range fields {
		switch key {
		case "username", "email":
			v, ok := raw.(string)
			if !ok || strings.TrimSpace(v) == "" {
				return upd, apperrors.Validation(fmt.Sprintf("Invalid value for %s", key))
			}
			v = strings.TrimSpace(v)
			if key == "username" {
				upd.Username = &v
			} else {
				if err := validate.Var(v, "email"); err != nil {
					return upd, apperrors.Validation("Invalid email address")
				}
				upd.Email = &v
			}
		case "is_active":
			v, ok := raw.(bool)
			if !ok {
				return upd, apperrors.Validation("Invalid value for is_active")
			}
			upd.IsActive = &v
		default:
			return upd, apperrors.Validation(fmt.Sprintf("Field %s cannot be updated", key))
		}
	}
	if upd.Empty() {
		return upd, apperrors.Validation("No valid fields to update")
	}
	return upd, nil
}

// ChangeStatus enables or disables a user. Decided accounts follow the flag
// between ACTIVE and INACTIVE; PENDING and REJECTED are left as they are.
func (s *UserService) ChangeStatus(ctx context.Context, actor Actor, targetID int64, isActive bool) error {
	if targetID == actor.UserID {
		return errOwnStatus
	}

	err := s.store.InTx(ctx, func(tx Store) error {
		user, err := tx.Users().GetByID(ctx, targetID)
		if err != nil {
			return err
		}

		var upd repository.UserUpdate
		setStatus(user, isActive, &upd)
		if err := tx.Users().Update(ctx, targetID, upd); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, auditEntry(&actor.UserID, actor.IPAddress, repository.AuditSuccess, LoginTypeStatusChange, &targetID))
	})
	if err != nil {
		return err
	}

	logger.FromContext(ctx, s.log).Info().
		Int64("user_id", targetID).
		Bool("is_active", isActive).
		Msg("User status changed")
	return nil
}

// SoftDelete deactivates a user. Rows referencing the user are kept.
func (s *UserService) SoftDelete(ctx context.Context, actor Actor, targetID int64) error {
	err := s.store.InTx(ctx, func(tx Store) error {
		if _, err := tx.Users().GetByID(ctx, targetID); err != nil {
			return err
		}
		if targetID == actor.UserID {
			return apperrors.Forbidden("Cannot delete your own account")
		}

		upd := repository.UserUpdate{IsActive: ptr(false), AccountStatus: ptr(repository.StatusInactive)}
		if err := tx.Users().Update(ctx, targetID, upd); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, auditEntry(&actor.UserID, actor.IPAddress, repository.AuditSuccess, LoginTypeUserDelete, &targetID))
	})
	if err != nil {
		return err
	}

	logger.FromContext(ctx, s.log).Info().Int64("user_id", targetID).Msg("User soft deleted")
	return nil
}

// AdminResetPassword sets a new password for targetID. Only admins may reset
// another user's password; that user must change it on next login.
func (s *UserService) AdminResetPassword(ctx context.Context, actor Actor, targetID int64, newPassword string) error {
	if newPassword == "" {
		return apperrors.Validation("New password is required")
	}
	if err := password.ValidatePolicy(newPassword); err != nil {
		return apperrors.Validation(err.Error())
	}

	self := targetID == actor.UserID
	err := s.store.InTx(ctx, func(tx Store) error {
		if _, err := tx.Users().GetByID(ctx, targetID); err != nil {
			return err
		}
		if !self {
			admin, err := tx.Roles().HasAnyRole(ctx, actor.UserID, RoleSuperAdmin, RoleAdmin)
			if err != nil {
				return err
			}
			if !admin {
				return apperrors.Forbidden("Only administrators can reset other users' passwords")
			}
		}

		if err := s.rotator.rotate(ctx, tx.Users(), targetID, newPassword, !self); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, auditEntry(&actor.UserID, actor.IPAddress, repository.AuditSuccess, LoginTypePasswordReset, &targetID))
	})
	if err != nil {
		return err
	}

	logger.FromContext(ctx, s.log).Info().
		Int64("user_id", targetID).
		Int64("reset_by", actor.UserID).
		Msg("Password reset")
	return nil
}

// checkUnique reports a conflict when username or email is taken by a user
// other than excludeID. Empty values are not checked.
func checkUnique(ctx context.Context, users UserStore, username, email string, excludeID int64) error {
	if username != "" {
		taken, err := users.UsernameExists(ctx, username, excludeID)
		if err != nil {
			return err
		}
		if taken {
			return apperrors.Conflict("Username already exists")
		}
	}
	if email != "" {
		taken, err := users.EmailExists(ctx, email, excludeID)
		if err != nil {
			return err
		}
		if taken {
			return apperrors.Conflict("Email already exists")
		}
	}
	return nil
}

func setIf(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
