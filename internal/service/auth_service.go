package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/url"
	"time"

	"github.com/pesio-ai/be-plt-access/internal/config"
	"github.com/pesio-ai/be-plt-access/internal/repository"
	apperrors "github.com/pesio-ai/be-plt-access/pkg/errors"
	jwtpkg "github.com/pesio-ai/be-plt-access/pkg/jwt"
	"github.com/pesio-ai/be-plt-access/pkg/logger"
	"github.com/pesio-ai/be-plt-access/pkg/password"
)

var (
	ErrInvalidCredentials = apperrors.Unauthorized("Invalid username or password").WithReason("INVALID_CREDENTIALS")
	ErrAccountPending     = apperrors.Forbidden("Account is pending approval").WithReason("ACCOUNT_PENDING")
	ErrAccountLocked      = apperrors.Forbidden("Account locked. Please try again after 15 minutes").WithReason("ACCOUNT_LOCKED")
	ErrAuthRequired       = apperrors.Unauthorized("Authentication required").WithReason("AUTH_REQUIRED")
	ErrTokenExpired       = apperrors.Unauthorized("Token has expired").WithReason("TOKEN_EXPIRED")
	ErrInvalidToken       = apperrors.Unauthorized("Invalid token").WithReason("INVALID_TOKEN")
	ErrUserNotFound       = apperrors.Unauthorized("User not found").WithReason("USER_NOT_FOUND")
)

// Login outcomes reported to the LoginRecorder
const (
	OutcomeSuccess = "success"
	OutcomeInvalid = "invalid_credentials"
	OutcomePending = "pending"
	OutcomeLocked  = "locked"
	OutcomeError   = "error"
)

const resetTokenBytes = 32

// AuthService authenticates users and manages their credentials
type AuthService struct {
	store   Store
	jwt     *jwtpkg.Manager
	mailer  Mailer
	metrics LoginRecorder
	cfg     config.AuthConfig
	resetTo string
	rotator credentialRotator
	log     *logger.Logger
	now     func() time.Time
}

func NewAuthService(
	store Store,
	jwtManager *jwtpkg.Manager,
	mailer Mailer,
	metrics LoginRecorder,
	cfg config.AuthConfig,
	resetURLBase string,
	log *logger.Logger,
) *AuthService {
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &AuthService{
		store:   store,
		jwt:     jwtManager,
		mailer:  mailer,
		metrics: metrics,
		cfg:     cfg,
		resetTo: resetURLBase,
		rotator: newCredentialRotator(cfg),
		log:     log,
		now:     time.Now,
	}
}

// TokenTTL is the lifetime of the tokens issued by Login
func (s *AuthService) TokenTTL() time.Duration {
	return s.jwt.Duration()
}

type LoginRequest struct {
	Username  string
	Password  string
	IPAddress string
}

// UserSnapshot is the profile returned with a successful login
type UserSnapshot struct {
	UserID           int64  `json:"user_id"`
	Username         string `json:"username"`
	Email            string `json:"email"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	Phone            string `json:"phone"`
	Department       string `json:"department"`
	RoleName         string `json:"role_name"`
	ChangePassword   bool   `json:"change_password"`
	ShowNotification bool   `json:"show_notification"`
}

type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *UserSnapshot
}

// Login authenticates a user and issues a bearer token
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*LoginResult, error) {
	log := logger.FromContext(ctx, s.log)
	log.Info().
		Str("username", req.Username).
		Str("ip_address", req.IPAddress).
		Msg("Login attempt")

	if req.Username == "" || req.Password == "" {
		return nil, apperrors.Validation("Username and password are required")
	}

	user, err := s.store.Users().GetActiveByUsername(ctx, req.Username)
	if err != nil {
		if apperrors.IsNotFound(err) {
			log.Warn().Str("username", req.Username).Msg("User not found")
			s.metrics.LoginAttempt(OutcomeInvalid)
			return nil, ErrInvalidCredentials
		}
		s.metrics.LoginAttempt(OutcomeError)
		return nil, err
	}

	switch user.AccountStatus {
	case repository.StatusPending:
		log.Warn().Int64("user_id", user.ID).Msg("Account is pending approval")
		if s.cfg.UnifyPendingError {
			s.metrics.LoginAttempt(OutcomeInvalid)
			return nil, ErrInvalidCredentials
		}
		s.metrics.LoginAttempt(OutcomePending)
		return nil, ErrAccountPending
	case repository.StatusRejected, repository.StatusInactive:
		log.Warn().Int64("user_id", user.ID).Str("status", string(user.AccountStatus)).Msg("Account is not active")
		s.metrics.LoginAttempt(OutcomeInvalid)
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	failed, err := s.store.Audit().CountFailedSince(ctx, user.ID, LoginTypePassword, now.Add(-s.cfg.LockoutWindow))
	if err != nil {
		s.metrics.LoginAttempt(OutcomeError)
		return nil, err
	}
	if failed >= s.cfg.LockoutThreshold {
		log.Warn().Int64("user_id", user.ID).Int("failed_attempts", failed).Msg("Account is locked")
		s.metrics.LoginAttempt(OutcomeLocked)
		return nil, ErrAccountLocked
	}

	valid, err := password.Matches(req.Password, user.PasswordHash, user.Salt)
	if err != nil {
		log.Error().Err(err).Int64("user_id", user.ID).Msg("Password verification failed")
		s.metrics.LoginAttempt(OutcomeError)
		return nil, apperrors.Internal(err)
	}
	if !valid {
		entry := auditEntry(&user.ID, req.IPAddress, repository.AuditFailed, LoginTypePassword, nil)
		if err := s.store.Audit().Record(ctx, entry); err != nil {
			s.metrics.LoginAttempt(OutcomeError)
			return nil, err
		}
		log.Warn().Int64("user_id", user.ID).Msg("Invalid password")
		s.metrics.LoginAttempt(OutcomeInvalid)
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.jwt.Generate(user.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate token")
		s.metrics.LoginAttempt(OutcomeError)
		return nil, apperrors.Internal(err)
	}

	err = s.store.InTx(ctx, func(tx Store) error {
		entry := auditEntry(&user.ID, req.IPAddress, repository.AuditSuccess, LoginTypePassword, nil)
		if err := tx.Audit().Record(ctx, entry); err != nil {
			return err
		}
		if err := tx.Users().UpdateLastLogin(ctx, user.ID, now); err != nil {
			return err
		}
		if password.NeedsRehash(user.PasswordHash, s.rotator.params) {
			hash, salt, err := s.rotator.hash(req.Password)
			if err != nil {
				return err
			}
			log.Info().Int64("user_id", user.ID).Msg("Upgrading password hash")
			return tx.Users().SetPassword(ctx, user.ID, hash, salt, user.ChangePassword)
		}
		return nil
	})
	if err != nil {
		s.metrics.LoginAttempt(OutcomeError)
		return nil, err
	}

	snapshot, err := s.Snapshot(ctx, user)
	if err != nil {
		s.metrics.LoginAttempt(OutcomeError)
		return nil, err
	}

	log.Info().Int64("user_id", user.ID).Msg("Login successful")
	s.metrics.LoginAttempt(OutcomeSuccess)

	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: snapshot}, nil
}

// Snapshot builds the login profile of user. Users without a role are
// reported with role_name "User".
func (s *AuthService) Snapshot(ctx context.Context, user *repository.User) (*UserSnapshot, error) {
	snap := &UserSnapshot{
		UserID:           user.ID,
		Username:         user.Username,
		Email:            user.Email,
		RoleName:         "User",
		ChangePassword:   user.ChangePassword,
		ShowNotification: user.ShowNotification,
	}

	profile, err := s.store.Users().GetProfile(ctx, user.ID)
	switch {
	case err == nil:
		snap.FirstName = profile.FirstName
		snap.LastName = profile.LastName
		snap.Phone = profile.Phone
		snap.Department = profile.Department
	case !apperrors.IsNotFound(err):
		return nil, err
	}

	roles, err := s.store.Roles().RoleNamesForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(roles) > 0 {
		snap.RoleName = roles[0]
	}
	return snap, nil
}

// VerifyToken validates a bearer token and resolves its live user
func (s *AuthService) VerifyToken(ctx context.Context, token string) (*repository.User, error) {
	if token == "" {
		return nil, ErrAuthRequired
	}

	claims, err := s.jwt.Validate(token)
	if err != nil {
		if errors.Is(err, jwtpkg.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	user, err := s.store.Users().GetActiveByID(ctx, claims.UserID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// ForgotPassword stores a reset token for the account with email and mails
// the reset link. Unknown emails are not reported to the caller.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	log := logger.FromContext(ctx, s.log)
	if email == "" {
		return apperrors.Validation("Email is required")
	}

	user, err := s.store.Users().GetByEmail(ctx, email)
	if err != nil {
		if apperrors.IsNotFound(err) {
			log.Info().Msg("Password reset requested for unknown email")
			return nil
		}
		return err
	}
	if !user.IsActive {
		log.Info().Int64("user_id", user.ID).Msg("Password reset requested for inactive user")
		return nil
	}

	raw := make([]byte, resetTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return apperrors.Internal(err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	if err := s.store.Users().SetResetToken(ctx, user.ID, token, s.now().Add(s.cfg.ResetTokenTTL)); err != nil {
		return err
	}

	link := s.resetTo + "?token=" + url.QueryEscape(token)
	if err := s.mailer.SendPasswordReset(ctx, user.Email, user.Username, link); err != nil {
		log.Error().Err(err).Int64("user_id", user.ID).Msg("Failed to send reset email")
		return nil
	}

	log.Info().Int64("user_id", user.ID).Msg("Password reset email sent")
	return nil
}

// ResetPassword consumes a reset token and sets a new password
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" || newPassword == "" {
		return apperrors.Validation("Token and new password are required")
	}
	if err := password.ValidatePolicy(newPassword); err != nil {
		return apperrors.Validation(err.Error())
	}

	user, err := s.store.Users().GetByResetToken(ctx, token)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return apperrors.Validation("Invalid or expired reset token")
		}
		return err
	}
	if user.ResetTokenExpiry == nil || !user.ResetTokenExpiry.After(s.now()) {
		return apperrors.Validation("Invalid or expired reset token")
	}

	err = s.store.InTx(ctx, func(tx Store) error {
		return s.rotator.rotate(ctx, tx.Users(), user.ID, newPassword, false)
	})
	if err != nil {
		return err
	}

	logger.FromContext(ctx, s.log).Info().Int64("user_id", user.ID).Msg("Password reset via token")
	return nil
}

// ChangePasswordAfterLogin sets a new password for a user whose
// change_password flag is set, or for anyone when force is true. The flag is
// cleared.
func (s *AuthService) ChangePasswordAfterLogin(ctx context.Context, userID int64, newPassword string, force bool) error {
	if newPassword == "" {
		return apperrors.Validation("New password is required")
	}
	if err := password.ValidatePolicy(newPassword); err != nil {
		return apperrors.Validation(err.Error())
	}

	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.ChangePassword && !force {
		return apperrors.Forbidden("Password change not required for this user")
	}

	err = s.store.InTx(ctx, func(tx Store) error {
		return s.rotator.rotate(ctx, tx.Users(), userID, newPassword, false)
	})
	if err != nil {
		return err
	}

	logger.FromContext(ctx, s.log).Info().Int64("user_id", userID).Msg("Password changed after login")
	return nil
}
