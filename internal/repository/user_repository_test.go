package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pesio-ai/be-plt-access/pkg/errors"
	"github.com/pesio-ai/be-plt-access/pkg/logger"
)

func userRow(mock pgxmock.PgxPoolIface, id int64, username string, status AccountStatus) *pgxmock.Rows {
	var (
		nilID    *int64
		nilTime  *time.Time
		nilToken *string
	)
	creator := int64(1)
	return mock.NewRows(userColumns).AddRow(
		id, username, username+"@example.com", "$argon2id$v=19$m=64,t=1,p=1$c2FsdA$aGFzaA", "73616c74",
		true, status, time.Now(), &creator, nilID, nilTime, false, false, nilToken, nilTime,
	)
}

func TestUserRepository_Get(t *testing.T) {
	t.Run("Should get an active user by username", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewUserRepository(mockPool)

		mockPool.ExpectQuery(`SELECT (.+) FROM users WHERE is_active = \$1 AND username = \$2`).
			WithArgs(true, "alice").
			WillReturnRows(userRow(mockPool, 7, "alice", StatusActive))

		user, err := repo.GetActiveByUsername(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(7), user.ID)
		assert.Equal(t, "alice@example.com", user.Email)
		assert.Equal(t, StatusActive, user.AccountStatus)
		require.NotNil(t, user.CreatedBy)
		assert.Equal(t, int64(1), *user.CreatedBy)
		assert.Nil(t, user.ApprovedBy)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should return not found when no row matches", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewUserRepository(mockPool)

		mockPool.ExpectQuery(`SELECT (.+) FROM users WHERE user_id = \$1`).
			WithArgs(int64(99)).
			WillReturnError(pgx.ErrNoRows)

		user, err := repo.GetByID(context.Background(), 99)
		assert.Nil(t, user)
		assert.True(t, apperrors.IsNotFound(err))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should wrap driver failures as internal", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewUserRepository(mockPool)

		mockPool.ExpectQuery(`SELECT (.+) FROM users WHERE email = \$1`).
			WithArgs("a@x.com").
			WillReturnError(errors.New("connection reset"))

		_, err = repo.GetByEmail(context.Background(), "a@x.com")
		assert.Equal(t, apperrors.ErrCodeInternal, apperrors.CodeOf(err))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestUserRepository_Exists(t *testing.T) {
	t.Run("Should exclude the given user id", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewUserRepository(mockPool)

		mockPool.ExpectQuery(`SELECT EXISTS \( SELECT 1 FROM users WHERE \(username = \$1 AND user_id <> \$2\) \)`).
			WithArgs("alice", int64(7)).
			WillReturnRows(mockPool.NewRows([]string{"exists"}).AddRow(false))

		found, err := repo.UsernameExists(context.Background(), "alice", 7)
		require.NoError(t, err)
		assert.False(t, found)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestUserRepository_Create(t *testing.T) {
	newUser := func() *User {
		creator := int64(1)
		return &User{
			Username:       "alice",
			Email:          "a@x.com",
			PasswordHash:   "hash",
			Salt:           "salt",
			IsActive:       true,
			AccountStatus:  StatusPending,
			CreatedBy:      &creator,
			ChangePassword: true,
		}
	}

	t.Run("Should insert and return the generated id", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewUserRepository(mockPool)
		user := newUser()
		now := time.Now()

		mockPool.ExpectQuery(`INSERT INTO users (.+) RETURNING user_id, created_at`).
			WithArgs("alice", "a@x.com", "hash", "salt", true, StatusPending, user.CreatedBy, true, false).
			WillReturnRows(mockPool.NewRows([]string{"user_id", "created_at"}).AddRow(int64(12), now))

		require.NoError(t, repo.Create(context.Background(), user))
		assert.Equal(t, int64(12), user.ID)
		assert.Equal(t, now, user.CreatedAt)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should translate unique violations into conflicts", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewUserRepository(mockPool)

		mockPool.ExpectQuery(`INSERT INTO users`).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"})

		err = repo.Create(context.Background(), newUser())
		assert.Equal(t, apperrors.ErrCodeConflict, apperrors.CodeOf(err))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestUserRepository_Update(t *testing.T) {
	t.Run("Should only set the provided columns", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewUserRepository(mockPool)
		email := "new@x.com"
		active := false

		mockPool.ExpectExec(`UPDATE users SET email = \$1, is_active = \$2 WHERE user_id = \$3`).
			WithArgs(email, active, int64(7)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err = repo.Update(context.Background(), 7, UserUpdate{Email: &email, IsActive: &active})
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should reject an empty update", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewUserRepository(mockPool)

		err = repo.Update(context.Background(), 7, UserUpdate{})
		assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should report a missing user", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewUserRepository(mockPool)
		name := "bob"

		mockPool.ExpectExec(`UPDATE users SET username = \$1 WHERE user_id = \$2`).
			WithArgs(name, int64(8)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err = repo.Update(context.Background(), 8, UserUpdate{Username: &name})
		assert.True(t, apperrors.IsNotFound(err))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestUserRepository_Decide(t *testing.T) {
	t.Run("Should only move pending users", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewUserRepository(mockPool)

		mockPool.ExpectExec(`UPDATE users SET account_status = \$1, is_active = \$2, approved_by = \$3 WHERE account_status = \$4 AND user_id = \$5`).
			WithArgs(StatusActive, true, int64(2), StatusPending, int64(7)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		updated, err := repo.Decide(context.Background(), 7, 2, StatusActive, true)
		require.NoError(t, err)
		assert.False(t, updated)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestUserRepository_PasswordHistory(t *testing.T) {
	t.Run("Should return the newest entries up to the limit", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewUserRepository(mockPool)
		now := time.Now()

		mockPool.ExpectQuery(`SELECT password_hash, salt, created_at FROM password_history WHERE user_id = \$1 ORDER BY created_at DESC, history_id DESC LIMIT 5`).
			WithArgs(int64(7)).
			WillReturnRows(mockPool.NewRows([]string{"password_hash", "salt", "created_at"}).
				AddRow("h2", "s2", now).
				AddRow("h1", "s1", now.Add(-time.Hour)))

		entries, err := repo.PasswordHistory(context.Background(), 7, 5)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "h2", entries[0].PasswordHash)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestStore_InTx(t *testing.T) {
	t.Run("Should commit when the callback succeeds", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		store := NewStore(mockPool, logger.Nop())

		mockPool.ExpectBegin()
		mockPool.ExpectExec(`INSERT INTO password_history`).
			WithArgs(int64(7), "h", "s").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()

		err = store.InTx(context.Background(), func(tx *Store) error {
			return tx.Users.AddPasswordHistory(context.Background(), 7, "h", "s")
		})
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should roll back when the callback fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		store := NewStore(mockPool, logger.Nop())
		boom := errors.New("boom")

		mockPool.ExpectBegin()
		mockPool.ExpectRollback()

		err = store.InTx(context.Background(), func(tx *Store) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
