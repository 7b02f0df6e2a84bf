package service

import (
	"context"
	"fmt"

	"github.com/pesio-ai/be-plt-access/internal/config"
	"github.com/pesio-ai/be-plt-access/internal/repository"
	apperrors "github.com/pesio-ai/be-plt-access/pkg/errors"
	"github.com/pesio-ai/be-plt-access/pkg/password"
)

// Audit login types
const (
	LoginTypePassword      = "PASSWORD"
	LoginTypeUserCreate    = "USER_CREATE"
	LoginTypeUserApprove   = "USER_APPROVE"
	LoginTypeUserReject    = "USER_REJECT"
	LoginTypeUserUpdate    = "USER_UPDATE"
	LoginTypeStatusChange  = "STATUS_CHANGE"
	LoginTypeUserDelete    = "USER_DELETE"
	LoginTypePasswordReset = "PASSWORD_RESET"
)

// System role names
const (
	RoleSuperAdmin = "SUPER_ADMIN"
	RoleAdmin      = "ADMIN"
)

// Mailer delivers password reset links
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, username, link string) error
}

// LoginRecorder counts login outcomes
type LoginRecorder interface {
	LoginAttempt(outcome string)
}

type noopRecorder struct{}

func (noopRecorder) LoginAttempt(string) {}

// PasswordParams returns the argon2id parameters configured in cfg
func PasswordParams(cfg config.AuthConfig) *password.Params {
	p := password.DefaultParams()
	if cfg.Argon2Memory > 0 {
		p.Memory = cfg.Argon2Memory
	}
	if cfg.Argon2Iterations > 0 {
		p.Iterations = cfg.Argon2Iterations
	}
	if cfg.Argon2Parallelism > 0 {
		p.Parallelism = cfg.Argon2Parallelism
	}
	return p
}

// credentialRotator replaces a user's password after the policy and reuse
// checks. Every password change path goes through rotate.
type credentialRotator struct {
	params *password.Params
	depth  int
}

func newCredentialRotator(cfg config.AuthConfig) credentialRotator {
	depth := cfg.PasswordHistoryDepth
	if depth <= 0 {
		depth = 5
	}
	return credentialRotator{params: PasswordParams(cfg), depth: depth}
}

// hash returns a fresh salt and the hash of pw under it
func (r credentialRotator) hash(pw string) (string, string, error) {
	salt, err := password.GenerateSalt()
	if err != nil {
		return "", "", apperrors.Internal(err)
	}
	return password.HashWithSalt(pw, salt, r.params), salt, nil
}

// rotate validates newPassword, rejects reuse of the last depth passwords,
// stores the new hash with mustChange as the change_password flag and
// appends it to the history. Callers run it inside a transaction.
func (r credentialRotator) rotate(ctx context.Context, users UserStore, userID int64, newPassword string, mustChange bool) error {
	if err := password.ValidatePolicy(newPassword); err != nil {
		return apperrors.Validation(err.Error())
	}

	history, err := users.PasswordHistory(ctx, userID, r.depth)
	if err != nil {
		return err
	}
	for _, h := range history {
		used, err := password.Matches(newPassword, h.PasswordHash, h.Salt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to check password history")
		}
		if used {
			return apperrors.Validation(fmt.Sprintf("Cannot reuse any of your last %d passwords", r.depth))
		}
	}

	hash, salt, err := r.hash(newPassword)
	if err != nil {
		return err
	}
	if err := users.SetPassword(ctx, userID, hash, salt, mustChange); err != nil {
		return err
	}
	return users.AddPasswordHistory(ctx, userID, hash, salt)
}

func auditEntry(actorID *int64, ip, status, loginType string, target *int64) *repository.AuditEntry {
	return &repository.AuditEntry{
		UserID:       actorID,
		IPAddress:    ip,
		LoginStatus:  status,
		LoginType:    loginType,
		TargetUserID: target,
	}
}

func ptr[T any](v T) *T {
	return &v
}
