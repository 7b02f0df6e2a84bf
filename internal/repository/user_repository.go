package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	apperrors "github.com/pesio-ai/be-plt-access/pkg/errors"
)

var userColumns = []string{
	"user_id", "username", "email", "password_hash", "salt", "is_active", "account_status",
	"created_at", "created_by", "approved_by", "last_login", "change_password",
	"show_notification", "password_reset_token", "reset_token_expiry",
}

const rolesAgg = `COALESCE(array_agg(r.role_name ORDER BY r.role_name) FILTER (WHERE r.role_name IS NOT NULL), '{}') AS roles`

// UserRepository handles user, profile and password history data
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new user repository
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) getOne(ctx context.Context, where sq.Sqlizer, ref any) (*User, error) {
	query, args, err := psql.Select(userColumns...).From("users").Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}

	var user User
	if err := pgxscan.Get(ctx, r.db, &user, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperrors.NotFound("user", ref)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get user")
	}
	return &user, nil
}

// GetByID retrieves a user by ID regardless of state
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	return r.getOne(ctx, sq.Eq{"user_id": id}, id)
}

// GetActiveByID retrieves a user by ID when is_active is set
func (r *UserRepository) GetActiveByID(ctx context.Context, id int64) (*User, error) {
	return r.getOne(ctx, sq.Eq{"user_id": id, "is_active": true}, id)
}

// GetActiveByUsername retrieves a user by username when is_active is set
func (r *UserRepository) GetActiveByUsername(ctx context.Context, username string) (*User, error) {
	return r.getOne(ctx, sq.Eq{"username": username, "is_active": true}, username)
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getOne(ctx, sq.Eq{"email": email}, email)
}

// GetByResetToken retrieves the user holding a password reset token
func (r *UserRepository) GetByResetToken(ctx context.Context, token string) (*User, error) {
	return r.getOne(ctx, sq.Eq{"password_reset_token": token}, "reset token")
}

func (r *UserRepository) exists(ctx context.Context, column, value string, excludeID int64) (bool, error) {
	where := sq.And{sq.Eq{column: value}}
	if excludeID > 0 {
		where = append(where, sq.NotEq{"user_id": excludeID})
	}
	query, args, err := psql.Select("1").Prefix("SELECT EXISTS (").From("users").Where(where).Suffix(")").ToSql()
	if err != nil {
		return false, fmt.Errorf("building exists query: %w", err)
	}

	var found bool
	if err := r.db.QueryRow(ctx, query, args...).Scan(&found); err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to check "+column)
	}
	return found, nil
}

// UsernameExists reports whether another user (not excludeID) has username
func (r *UserRepository) UsernameExists(ctx context.Context, username string, excludeID int64) (bool, error) {
	return r.exists(ctx, "username", username, excludeID)
}

// EmailExists reports whether another user (not excludeID) has email
func (r *UserRepository) EmailExists(ctx context.Context, email string, excludeID int64) (bool, error) {
	return r.exists(ctx, "email", email, excludeID)
}

// Create inserts a user and fills ID and CreatedAt
func (r *UserRepository) Create(ctx context.Context, user *User) error {
	query, args, err := psql.Insert("users").
		Columns("username", "email", "password_hash", "salt", "is_active", "account_status",
			"created_by", "change_password", "show_notification").
		Values(user.Username, user.Email, user.PasswordHash, user.Salt, user.IsActive, user.AccountStatus,
			user.CreatedBy, user.ChangePassword, user.ShowNotification).
		Suffix("RETURNING user_id, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert query: %w", err)
	}

	if err := r.db.QueryRow(ctx, query, args...).Scan(&user.ID, &user.CreatedAt); err != nil {
		return mapWriteError(err, "Username or email already exists", "failed to create user")
	}
	return nil
}

// Update applies the non-nil fields of upd to user id
func (r *UserRepository) Update(ctx context.Context, id int64, upd UserUpdate) error {
	if upd.Empty() {
		return apperrors.Validation("No fields to update")
	}

	b := psql.Update("users").Where(sq.Eq{"user_id": id})
	if upd.Username != nil {
		b = b.Set("username", *upd.Username)
	}
	if upd.Email != nil {
		b = b.Set("email", *upd.Email)
	}
	if upd.IsActive != nil {
		b = b.Set("is_active", *upd.IsActive)
	}
	if upd.AccountStatus != nil {
		b = b.Set("account_status", *upd.AccountStatus)
	}

	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("building update query: %w", err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return mapWriteError(err, "Username or email already exists", "failed to update user")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("user", id)
	}
	return nil
}

// Decide moves a PENDING user to status and records the approver. It
// returns false when the user is missing or no longer pending.
func (r *UserRepository) Decide(ctx context.Context, id, approverID int64, status AccountStatus, isActive bool) (bool, error) {
	query, args, err := psql.Update("users").
		Set("account_status", status).
		Set("is_active", isActive).
		Set("approved_by", approverID).
		Where(sq.Eq{"user_id": id, "account_status": StatusPending}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building update query: %w", err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to update account status")
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateLastLogin stamps the last successful login
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	query, args, err := psql.Update("users").Set("last_login", at).Where(sq.Eq{"user_id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("building update query: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to update last login")
	}
	return nil
}

// SetPassword stores a new hash and salt, sets the change_password flag and
// clears any outstanding reset token
func (r *UserRepository) SetPassword(ctx context.Context, id int64, hash, salt string, changePassword bool) error {
	query, args, err := psql.Update("users").
		Set("password_hash", hash).
		Set("salt", salt).
		Set("change_password", changePassword).
		Set("password_reset_token", nil).
		Set("reset_token_expiry", nil).
		Where(sq.Eq{"user_id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update query: %w", err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to update password")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("user", id)
	}
	return nil
}

// SetResetToken stores a password reset token, replacing any previous one
func (r *UserRepository) SetResetToken(ctx context.Context, id int64, token string, expiry time.Time) error {
	query, args, err := psql.Update("users").
		Set("password_reset_token", token).
		Set("reset_token_expiry", expiry).
		Where(sq.Eq{"user_id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update query: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return mapWriteError(err, "Reset token collision", "failed to store reset token")
	}
	return nil
}

// GetProfile retrieves the profile of a user
func (r *UserRepository) GetProfile(ctx context.Context, userID int64) (*UserProfile, error) {
	query, args, err := psql.Select("user_id", "first_name", "last_name", "department", "position", "phone").
		From("user_profiles").
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}

	var profile UserProfile
	if err := pgxscan.Get(ctx, r.db, &profile, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperrors.NotFound("profile", userID)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get profile")
	}
	return &profile, nil
}

// UpsertProfile inserts the profile or replaces all its fields
func (r *UserRepository) UpsertProfile(ctx context.Context, p *UserProfile) error {
	query, args, err := psql.Insert("user_profiles").
		Columns("user_id", "first_name", "last_name", "department", "position", "phone").
		Values(p.UserID, p.FirstName, p.LastName, p.Department, p.Position, p.Phone).
		Suffix(`ON CONFLICT (user_id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			department = EXCLUDED.department,
			position = EXCLUDED.position,
			phone = EXCLUDED.phone`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building upsert query: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to save profile")
	}
	return nil
}

func detailSelect() sq.SelectBuilder {
	return psql.Select(
		"u.user_id", "u.username", "u.email", "u.is_active", "u.account_status", "u.created_at", "u.last_login",
		"COALESCE(p.first_name, '') AS first_name",
		"COALESCE(p.last_name, '') AS last_name",
		"COALESCE(p.department, '') AS department",
		"COALESCE(p.position, '') AS position",
		"COALESCE(p.phone, '') AS phone",
		rolesAgg,
	).
		From("users u").
		LeftJoin("user_profiles p ON p.user_id = u.user_id").
		LeftJoin("user_roles ur ON ur.user_id = u.user_id").
		LeftJoin("roles r ON r.role_id = ur.role_id").
		GroupBy("u.user_id", "p.user_id")
}

// List returns every user with profile and roles, newest first
func (r *UserRepository) List(ctx context.Context) ([]UserDetail, error) {
	query, args, err := detailSelect().OrderBy("u.created_at DESC", "u.user_id DESC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}

	users := []UserDetail{}
	if err := pgxscan.Select(ctx, r.db, &users, query, args...); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list users")
	}
	return users, nil
}

// ListPending returns users awaiting approval with the creator's username
func (r *UserRepository) ListPending(ctx context.Context) ([]PendingUser, error) {
	query, args, err := detailSelect().
		Columns("u.created_by", "c.username AS creator_username").
		LeftJoin("users c ON c.user_id = u.created_by").
		Where(sq.Eq{"u.account_status": StatusPending}).
		GroupBy("c.username").
		OrderBy("u.created_at DESC", "u.user_id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}

	users := []PendingUser{}
	if err := pgxscan.Select(ctx, r.db, &users, query, args...); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list pending users")
	}
	return users, nil
}

// PasswordHistory returns the newest limit entries for a user
func (r *UserRepository) PasswordHistory(ctx context.Context, userID int64, limit int) ([]PasswordHistoryEntry, error) {
	query, args, err := psql.Select("password_hash", "salt", "created_at").
		From("password_history").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "history_id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}

	var entries []PasswordHistoryEntry
	if err := pgxscan.Select(ctx, r.db, &entries, query, args...); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get password history")
	}
	return entries, nil
}

// AddPasswordHistory appends a password history entry
func (r *UserRepository) AddPasswordHistory(ctx context.Context, userID int64, hash, salt string) error {
	query, args, err := psql.Insert("password_history").
		Columns("user_id", "password_hash", "salt").
		Values(userID, hash, salt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert query: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to record password history")
	}
	return nil
}
