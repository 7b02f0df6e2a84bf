package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/pesio-ai/be-plt-access/pkg/errors"
	"github.com/pesio-ai/be-plt-access/pkg/logger"
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// uniqueViolation is the Postgres SQLSTATE for unique constraint failures
const uniqueViolation = "23505"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store groups the repositories over one connection or transaction
type Store struct {
	db  DBTX
	log *logger.Logger

	Users   *UserRepository
	Roles   *RoleRepository
	Modules *ModuleRepository
	Audit   *AuditRepository
}

// NewStore creates a store over db
func NewStore(db DBTX, log *logger.Logger) *Store {
	return &Store{
		db:      db,
		log:     log,
		Users:   NewUserRepository(db),
		Roles:   NewRoleRepository(db),
		Modules: NewModuleRepository(db),
		Audit:   NewAuditRepository(db),
	}
}

// InTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to begin transaction")
	}
	// no-op after a successful commit
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.log.Error().Err(rbErr).Msg("Failed to roll back transaction")
		}
	}()

	if err := fn(NewStore(tx, s.log)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to commit transaction")
	}
	return nil
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// mapWriteError converts unique violations into conflicts and anything else
// into an internal error
func mapWriteError(err error, conflictMsg, internalMsg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return apperrors.Wrap(err, apperrors.ErrCodeConflict, conflictMsg)
	}
	return apperrors.Wrap(err, apperrors.ErrCodeInternal, internalMsg)
}
