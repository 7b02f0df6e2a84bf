package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-access/internal/repository"
	"github.com/pesio-ai/be-plt-access/internal/service"
	"github.com/pesio-ai/be-plt-access/internal/service/servicetest"
	apperrors "github.com/pesio-ai/be-plt-access/pkg/errors"
	"github.com/pesio-ai/be-plt-access/pkg/logger"
	"github.com/pesio-ai/be-plt-access/pkg/password"
)

func TestUserService_EnsureSuperAdmin(t *testing.T) {
	ctx := context.Background()

	newSvc := func() (*servicetest.Store, *purgeCounter, *service.UserService) {
		store := servicetest.New()
		cache := &purgeCounter{}
		return store, cache, service.NewUserService(store, cache, servicetest.AuthConfig(), logger.Nop())
	}
	req := func() *service.SuperAdminRequest {
		return &service.SuperAdminRequest{
			Username:  "root",
			Email:     "root@example.com",
			Password:  goodPassword,
			FirstName: "Root",
		}
	}

	t.Run("Should create an active super admin", func(t *testing.T) {
		store, cache, svc := newSvc()

		u, created, err := svc.EnsureSuperAdmin(ctx, req())
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, repository.StatusActive, u.AccountStatus)
		assert.True(t, u.IsActive)
		assert.False(t, u.ChangePassword)
		assert.Equal(t, 1, cache.n)

		super, err := store.Roles().HasAnyRole(ctx, u.ID, service.RoleSuperAdmin)
		require.NoError(t, err)
		assert.True(t, super)
		assert.Equal(t, 1, countAudit(store.AuditEntries(), repository.AuditSuccess, service.LoginTypeUserCreate))
	})

	t.Run("Should be idempotent and reset the existing account", func(t *testing.T) {
		store, _, svc := newSvc()
		existing := store.AddUser(servicetest.SeedUser{
			Username: "root",
			Email:    "root@example.com",
			Password: "0ld!Passw0rd",
			Status:   repository.StatusRejected,
			Inactive: true,
			Roles:    []string{"USER"},
		})

		u, created, err := svc.EnsureSuperAdmin(ctx, req())
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, existing.ID, u.ID)

		stored, ok := store.User(existing.ID)
		require.True(t, ok)
		assert.True(t, stored.IsActive)
		assert.Equal(t, repository.StatusActive, stored.AccountStatus)
		match, err := password.Matches(goodPassword, stored.PasswordHash, stored.Salt)
		require.NoError(t, err)
		assert.True(t, match)

		names, err := store.Roles().RoleNamesForUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{service.RoleSuperAdmin}, names)

		_, again, err := svc.EnsureSuperAdmin(ctx, req())
		require.NoError(t, err)
		assert.False(t, again)
		assert.Equal(t, 1, store.UserCount())
	})

	t.Run("Should reject a weak password", func(t *testing.T) {
		store, _, svc := newSvc()
		r := req()
		r.Password = "weak"

		_, _, err := svc.EnsureSuperAdmin(ctx, r)
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
		assert.Equal(t, 0, store.UserCount())
	})

	t.Run("Should report missing fields", func(t *testing.T) {
		_, _, svc := newSvc()

		_, _, err := svc.EnsureSuperAdmin(ctx, &service.SuperAdminRequest{Password: goodPassword})
		require.Error(t, err)
		assert.Equal(t, "Missing required fields: username, email", err.Error())
	})

	t.Run("Should refuse a username taken by another email", func(t *testing.T) {
		store, _, svc := newSvc()
		store.AddUser(servicetest.SeedUser{Username: "root", Email: "other@example.com", Password: goodPassword})

		_, _, err := svc.EnsureSuperAdmin(ctx, req())
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
	})
}
