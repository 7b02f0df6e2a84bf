package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	apperrors "github.com/pesio-ai/be-plt-access/pkg/errors"
)

// AuditRepository appends to and reads login_audit_log
type AuditRepository struct {
	db DBTX
}

func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record appends an entry and fills ID and LoginTimestamp
func (r *AuditRepository) Record(ctx context.Context, e *AuditEntry) error {
	query, args, err := psql.Insert("login_audit_log").
		Columns("user_id", "ip_address", "login_status", "login_type", "target_user_id").
		Values(e.UserID, e.IPAddress, e.LoginStatus, e.LoginType, e.TargetUserID).
		Suffix("RETURNING log_id, login_timestamp").
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert query: %w", err)
	}

	if err := r.db.QueryRow(ctx, query, args...).Scan(&e.ID, &e.LoginTimestamp); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to write audit log")
	}
	return nil
}

// CountFailedSince counts FAILED entries of loginType for a user at or after since
func (r *AuditRepository) CountFailedSince(ctx context.Context, userID int64, loginType string, since time.Time) (int, error) {
	query, args, err := psql.Select("COUNT(*)").
		From("login_audit_log").
		Where(sq.Eq{"user_id": userID, "login_status": AuditFailed, "login_type": loginType}).
		Where(sq.GtOrEq{"login_timestamp": since}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}

	var n int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to count failed logins")
	}
	return n, nil
}

// List returns the newest limit entries joined with the username
func (r *AuditRepository) List(ctx context.Context, limit int) ([]AuditEntry, error) {
	query, args, err := psql.Select(
		"l.log_id", "l.user_id", "u.username", "l.login_timestamp", "l.ip_address",
		"l.login_status", "l.login_type", "l.target_user_id",
	).
		From("login_audit_log l").
		LeftJoin("users u ON u.user_id = l.user_id").
		OrderBy("l.login_timestamp DESC", "l.log_id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}

	entries := []AuditEntry{}
	if err := pgxscan.Select(ctx, r.db, &entries, query, args...); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list audit logs")
	}
	return entries, nil
}
