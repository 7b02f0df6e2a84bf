package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-access/internal/repository"
	"github.com/pesio-ai/be-plt-access/internal/service"
	"github.com/pesio-ai/be-plt-access/internal/service/servicetest"
	apperrors "github.com/pesio-ai/be-plt-access/pkg/errors"
	jwtpkg "github.com/pesio-ai/be-plt-access/pkg/jwt"
	"github.com/pesio-ai/be-plt-access/pkg/logger"
	"github.com/pesio-ai/be-plt-access/pkg/password"
)

type purgeCounter struct{ n int }

func (p *purgeCounter) Purge() { p.n++ }

type userFixture struct {
	store *servicetest.Store
	cache *purgeCounter
	svc   *service.UserService
	admin repository.User
	other repository.User
}

func newUserFixture(t *testing.T) *userFixture {
	t.Helper()
	f := &userFixture{store: servicetest.New(), cache: &purgeCounter{}}
	f.svc = service.NewUserService(f.store, f.cache, servicetest.AuthConfig(), logger.Nop())
	f.admin = f.store.AddUser(servicetest.SeedUser{Username: "admin1", Password: goodPassword, Roles: []string{"ADMIN"}})
	f.other = f.store.AddUser(servicetest.SeedUser{Username: "admin2", Password: goodPassword, Roles: []string{"ADMIN"}})
	return f
}

func clientCode(err error) string {
	var e *apperrors.Error
	if apperrors.As(err, &e) {
		return e.ClientCode()
	}
	return ""
}

func (f *userFixture) actor(u repository.User) service.Actor {
	return service.Actor{UserID: u.ID, IPAddress: "10.0.0.2"}
}

func newUserRequest(username string) *service.CreateUserRequest {
	return &service.CreateUserRequest{
		Username:   username,
		Email:      username + "@example.com",
		Password:   goodPassword,
		FirstName:  "First",
		LastName:   "Last",
		RoleID:     servicetest.UserRoleID,
		Department: "Ops",
	}
}

func TestUserService_CreateUser(t *testing.T) {
	ctx := context.Background()

	t.Run("Should create a pending user with profile role and history", func(t *testing.T) {
		f := newUserFixture(t)

		u, err := f.svc.CreateUser(ctx, f.actor(f.admin), newUserRequest("alice"))
		require.NoError(t, err)
		assert.Equal(t, repository.StatusPending, u.AccountStatus)
		assert.True(t, u.IsActive)
		assert.True(t, u.ChangePassword)
		require.NotNil(t, u.CreatedBy)
		assert.Equal(t, f.admin.ID, *u.CreatedBy)

		ok, err := password.Matches(goodPassword, u.PasswordHash, u.Salt)
		require.NoError(t, err)
		assert.True(t, ok)

		history, err := f.store.Users().PasswordHistory(ctx, u.ID, 5)
		require.NoError(t, err)
		assert.Len(t, history, 1)

		profile, err := f.store.Users().GetProfile(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "Ops", profile.Department)

		roles, err := f.store.Roles().RoleNamesForUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"USER"}, roles)

		entries := f.store.AuditEntries()
		require.Len(t, entries, 1)
		assert.Equal(t, service.LoginTypeUserCreate, entries[0].LoginType)
		assert.Equal(t, u.ID, *entries[0].TargetUserID)
	})

	t.Run("Should list every missing required field", func(t *testing.T) {
		f := newUserFixture(t)
		_, err := f.svc.CreateUser(ctx, f.actor(f.admin), &service.CreateUserRequest{Username: "x"})
		assert.EqualError(t, err, "Missing required fields: email, password, first_name, last_name, role_id")
	})

	t.Run("Should reject an invalid email and a weak password", func(t *testing.T) {
		f := newUserFixture(t)

		req := newUserRequest("alice")
		req.Email = "not-an-email"
		_, err := f.svc.CreateUser(ctx, f.actor(f.admin), req)
		assert.EqualError(t, err, "Invalid email address")

		req = newUserRequest("alice")
		req.Password = "password"
		_, err = f.svc.CreateUser(ctx, f.actor(f.admin), req)
		assert.EqualError(t, err, password.ErrPolicy.Error())
	})

	t.Run("Should report duplicates and unknown roles", func(t *testing.T) {
		f := newUserFixture(t)

		_, err := f.svc.CreateUser(ctx, f.actor(f.admin), newUserRequest("admin1"))
		assert.EqualError(t, err, "Username already exists")

		req := newUserRequest("alice")
		req.Email = "admin2@example.com"
		_, err = f.svc.CreateUser(ctx, f.actor(f.admin), req)
		assert.EqualError(t, err, "Email already exists")

		req = newUserRequest("alice")
		req.RoleID = 999
		_, err = f.svc.CreateUser(ctx, f.actor(f.admin), req)
		assert.EqualError(t, err, "Invalid role ID: 999")
	})

	t.Run("Should keep the SUPER_ADMIN role to super admins", func(t *testing.T) {
		f := newUserFixture(t)
		before := f.store.UserCount()

		req := newUserRequest("mallory")
		req.RoleID = servicetest.SuperAdminRoleID
		_, err := f.svc.CreateUser(ctx, f.actor(f.admin), req)
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
		assert.Equal(t, "SUPER_ADMIN_REQUIRED", clientCode(err))
		assert.Equal(t, before, f.store.UserCount())

		root := f.store.AddUser(servicetest.SeedUser{Username: "root", Password: goodPassword, Roles: []string{"SUPER_ADMIN"}})
		u, err := f.svc.CreateUser(ctx, f.actor(root), req)
		require.NoError(t, err)
		roles, err := f.store.Roles().RoleNamesForUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"SUPER_ADMIN"}, roles)
	})

	t.Run("Should roll back every write when a step fails", func(t *testing.T) {
		f := newUserFixture(t)
		before := f.store.UserCount()
		f.store.FailOn("Roles.AssignToUser", errors.New("connection reset"))

		_, err := f.svc.CreateUser(ctx, f.actor(f.admin), newUserRequest("alice"))
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInternal, apperrors.CodeOf(err))

		assert.Equal(t, before, f.store.UserCount())
		_, found := f.store.UserByName("alice")
		assert.False(t, found)
		assert.Empty(t, f.store.AuditEntries())
	})
}

func TestUserService_ApproveOrReject(t *testing.T) {
	ctx := context.Background()

	t.Run("Should let a second admin approve and the user log in", func(t *testing.T) {
		f := newUserFixture(t)
		u, err := f.svc.CreateUser(ctx, f.actor(f.admin), newUserRequest("alice"))
		require.NoError(t, err)

		decided, err := f.svc.ApproveOrReject(ctx, f.actor(f.other), u.ID, service.ActionApprove)
		require.NoError(t, err)
		assert.Equal(t, repository.StatusActive, decided.AccountStatus)
		assert.True(t, decided.IsActive)
		assert.Equal(t, f.other.ID, *decided.ApprovedBy)

		stored, _ := f.store.User(u.ID)
		assert.Equal(t, repository.StatusActive, stored.AccountStatus)
		assert.Equal(t, f.other.ID, *stored.ApprovedBy)

		auth := service.NewAuthService(f.store, mustJWT(t), &fakeMailer{}, nil, servicetest.AuthConfig(), resetBase, logger.Nop())
		_, err = auth.Login(ctx, &service.LoginRequest{Username: "alice", Password: goodPassword})
		assert.NoError(t, err)
	})

	t.Run("Should forbid the creator from deciding", func(t *testing.T) {
		f := newUserFixture(t)
		u, err := f.svc.CreateUser(ctx, f.actor(f.admin), newUserRequest("alice"))
		require.NoError(t, err)

		_, err = f.svc.ApproveOrReject(ctx, f.actor(f.admin), u.ID, service.ActionApprove)
		assert.EqualError(t, err, "Creator cannot approve or reject their own user creation")

		stored, _ := f.store.User(u.ID)
		assert.Equal(t, repository.StatusPending, stored.AccountStatus)
	})

	t.Run("Should reject a user without changing is_active", func(t *testing.T) {
		f := newUserFixture(t)
		u, err := f.svc.CreateUser(ctx, f.actor(f.admin), newUserRequest("alice"))
		require.NoError(t, err)

		decided, err := f.svc.ApproveOrReject(ctx, f.actor(f.other), u.ID, service.ActionReject)
		require.NoError(t, err)
		assert.Equal(t, repository.StatusRejected, decided.AccountStatus)
		assert.True(t, decided.IsActive)

		entries := f.store.AuditEntries()
		assert.Equal(t, service.LoginTypeUserReject, entries[len(entries)-1].LoginType)
	})

	t.Run("Should refuse users that are not pending", func(t *testing.T) {
		f := newUserFixture(t)

		_, err := f.svc.ApproveOrReject(ctx, f.actor(f.other), f.admin.ID, service.ActionApprove)
		assert.EqualError(t, err, "User not found or not in pending status")
		assert.True(t, apperrors.IsNotFound(err))

		_, err = f.svc.ApproveOrReject(ctx, f.actor(f.other), 12345, service.ActionReject)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("Should reject an unknown action", func(t *testing.T) {
		f := newUserFixture(t)
		_, err := f.svc.ApproveOrReject(ctx, f.actor(f.other), f.admin.ID, "maybe")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})
}

func TestUserService_Lists(t *testing.T) {
	ctx := context.Background()
	f := newUserFixture(t)
	u, err := f.svc.CreateUser(ctx, f.actor(f.admin), newUserRequest("alice"))
	require.NoError(t, err)

	t.Run("Should list every user with roles", func(t *testing.T) {
		users, err := f.svc.ListUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 3)
		assert.Equal(t, u.ID, users[0].ID)
		assert.Equal(t, []string{"USER"}, users[0].Roles)
	})

	t.Run("Should list pending users with their creator", func(t *testing.T) {
		pending, err := f.svc.PendingApprovals(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "alice", pending[0].Username)
		require.NotNil(t, pending[0].CreatorUsername)
		assert.Equal(t, "admin1", *pending[0].CreatorUsername)
	})
}

func TestUserService_UpdateUser(t *testing.T) {
	ctx := context.Background()

	t.Run("Should update user fields profile and role", func(t *testing.T) {
		f := newUserFixture(t)
		target := f.store.AddUser(servicetest.SeedUser{Username: "bob", Password: goodPassword, Roles: []string{"USER"}})

		name, dept, role := "robert", "Finance", servicetest.AdminRoleID
		err := f.svc.UpdateUser(ctx, f.actor(f.admin), target.ID, &service.UpdateUserRequest{
			Username: &name, Department: &dept, RoleID: &role,
		})
		require.NoError(t, err)

		stored, _ := f.store.User(target.ID)
		assert.Equal(t, "robert", stored.Username)
		profile, err := f.store.Users().GetProfile(ctx, target.ID)
		require.NoError(t, err)
		assert.Equal(t, "Finance", profile.Department)
		roles, err := f.store.Roles().RoleNamesForUser(ctx, target.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"ADMIN"}, roles)
		assert.Equal(t, 1, f.cache.n)
	})

	t.Run("Should reject an empty update and a taken email", func(t *testing.T) {
		f := newUserFixture(t)

		err := f.svc.UpdateUser(ctx, f.actor(f.admin), f.other.ID, &service.UpdateUserRequest{})
		assert.EqualError(t, err, "No fields to update")

		email := "admin1@example.com"
		err = f.svc.UpdateUser(ctx, f.actor(f.admin), f.other.ID, &service.UpdateUserRequest{Email: &email})
		assert.EqualError(t, err, "Email already exists")
		assert.Zero(t, f.cache.n)
	})

	t.Run("Should forbid an admin from promoting themselves to super admin", func(t *testing.T) {
		f := newUserFixture(t)
		role := servicetest.SuperAdminRoleID

		err := f.svc.UpdateUser(ctx, f.actor(f.admin), f.admin.ID, &service.UpdateUserRequest{RoleID: &role})
		require.Error(t, err)
		assert.Equal(t, "SUPER_ADMIN_REQUIRED", clientCode(err))

		roles, err := f.store.Roles().RoleNamesForUser(ctx, f.admin.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"ADMIN"}, roles)
		assert.Empty(t, f.store.AuditEntries())
		assert.Zero(t, f.cache.n)
	})

	t.Run("Should let a super admin assign SUPER_ADMIN", func(t *testing.T) {
		f := newUserFixture(t)
		root := f.store.AddUser(servicetest.SeedUser{Username: "root", Password: goodPassword, Roles: []string{"SUPER_ADMIN"}})
		role := servicetest.SuperAdminRoleID

		require.NoError(t, f.svc.UpdateUser(ctx, f.actor(root), f.other.ID, &service.UpdateUserRequest{RoleID: &role}))
		roles, err := f.store.Roles().RoleNamesForUser(ctx, f.other.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"SUPER_ADMIN"}, roles)
	})
}

func TestUserService_UpdateUserDetails(t *testing.T) {
	ctx := context.Background()

	t.Run("Should update allowlisted fields", func(t *testing.T) {
		f := newUserFixture(t)
		err := f.svc.UpdateUserDetails(ctx, f.actor(f.admin), f.other.ID, map[string]any{
			"email":     "new@example.com",
			"is_active": false,
		})
		require.NoError(t, err)

		stored, _ := f.store.User(f.other.ID)
		assert.Equal(t, "new@example.com", stored.Email)
		assert.False(t, stored.IsActive)
		assert.Equal(t, repository.StatusInactive, stored.AccountStatus)

		entries := f.store.AuditEntries()
		require.Len(t, entries, 2)
		assert.ElementsMatch(t,
			[]string{service.LoginTypeUserUpdate, service.LoginTypeStatusChange},
			[]string{entries[0].LoginType, entries[1].LoginType})
	})

	t.Run("Should forbid changing your own is_active", func(t *testing.T) {
		f := newUserFixture(t)
		err := f.svc.UpdateUserDetails(ctx, f.actor(f.admin), f.admin.ID, map[string]any{"is_active": false})
		require.Error(t, err)
		assert.EqualError(t, err, "Cannot change your own status")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

		stored, _ := f.store.User(f.admin.ID)
		assert.True(t, stored.IsActive)
		assert.Empty(t, f.store.AuditEntries())
	})

	t.Run("Should let users edit their own username", func(t *testing.T) {
		f := newUserFixture(t)
		require.NoError(t, f.svc.UpdateUserDetails(ctx, f.actor(f.admin), f.admin.ID, map[string]any{"username": "admin_one"}))
		stored, _ := f.store.User(f.admin.ID)
		assert.Equal(t, "admin_one", stored.Username)
	})

	t.Run("Should reject fields outside the allowlist", func(t *testing.T) {
		f := newUserFixture(t)
		err := f.svc.UpdateUserDetails(ctx, f.actor(f.admin), f.other.ID, map[string]any{"password_hash": "x"})
		assert.EqualError(t, err, "Field password_hash cannot be updated")

		err = f.svc.UpdateUserDetails(ctx, f.actor(f.admin), f.other.ID, map[string]any{})
		assert.EqualError(t, err, "No valid fields to update")

		err = f.svc.UpdateUserDetails(ctx, f.actor(f.admin), f.other.ID, map[string]any{"is_active": "yes"})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("Should report a missing user", func(t *testing.T) {
		f := newUserFixture(t)
		err := f.svc.UpdateUserDetails(ctx, f.actor(f.admin), 9999, map[string]any{"username": "x"})
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestUserService_ChangeStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("Should couple is_active with ACTIVE and INACTIVE", func(t *testing.T) {
		f := newUserFixture(t)
		target := f.store.AddUser(servicetest.SeedUser{Username: "bob", Password: goodPassword})

		require.NoError(t, f.svc.ChangeStatus(ctx, f.actor(f.admin), target.ID, false))
		stored, _ := f.store.User(target.ID)
		assert.False(t, stored.IsActive)
		assert.Equal(t, repository.StatusInactive, stored.AccountStatus)

		require.NoError(t, f.svc.ChangeStatus(ctx, f.actor(f.admin), target.ID, true))
		stored, _ = f.store.User(target.ID)
		assert.True(t, stored.IsActive)
		assert.Equal(t, repository.StatusActive, stored.AccountStatus)
	})

	t.Run("Should leave pending accounts pending", func(t *testing.T) {
		f := newUserFixture(t)
		target := f.store.AddUser(servicetest.SeedUser{Username: "bob", Password: goodPassword, Status: repository.StatusPending})

		require.NoError(t, f.svc.ChangeStatus(ctx, f.actor(f.admin), target.ID, false))
		stored, _ := f.store.User(target.ID)
		assert.False(t, stored.IsActive)
		assert.Equal(t, repository.StatusPending, stored.AccountStatus)
	})

	t.Run("Should forbid changing your own status", func(t *testing.T) {
		f := newUserFixture(t)
		err := f.svc.ChangeStatus(ctx, f.actor(f.admin), f.admin.ID, false)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
	})
}

func TestUserService_SoftDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("Should deactivate the user and keep the row", func(t *testing.T) {
		f := newUserFixture(t)
		require.NoError(t, f.svc.SoftDelete(ctx, f.actor(f.admin), f.other.ID))

		stored, found := f.store.User(f.other.ID)
		require.True(t, found)
		assert.False(t, stored.IsActive)
		assert.Equal(t, repository.StatusInactive, stored.AccountStatus)

		entries := f.store.AuditEntries()
		assert.Equal(t, service.LoginTypeUserDelete, entries[len(entries)-1].LoginType)
	})

	t.Run("Should forbid deleting yourself and report missing users", func(t *testing.T) {
		f := newUserFixture(t)
		err := f.svc.SoftDelete(ctx, f.actor(f.admin), f.admin.ID)
		assert.EqualError(t, err, "Cannot delete your own account")

		err = f.svc.SoftDelete(ctx, f.actor(f.admin), 9999)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestUserService_AdminResetPassword(t *testing.T) {
	ctx := context.Background()

	t.Run("Should force a change after an admin reset", func(t *testing.T) {
		f := newUserFixture(t)
		target := f.store.AddUser(servicetest.SeedUser{Username: "bob", Password: goodPassword, Roles: []string{"USER"}})

		require.NoError(t, f.svc.AdminResetPassword(ctx, f.actor(f.admin), target.ID, "Adm1n!Reset"))
		stored, _ := f.store.User(target.ID)
		assert.True(t, stored.ChangePassword)
		ok, err := password.Matches("Adm1n!Reset", stored.PasswordHash, stored.Salt)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Should let users reset their own password without a forced change", func(t *testing.T) {
		f := newUserFixture(t)
		target := f.store.AddUser(servicetest.SeedUser{Username: "bob", Password: goodPassword, Roles: []string{"USER"}})

		require.NoError(t, f.svc.AdminResetPassword(ctx, f.actor(target), target.ID, "S3lf!Reset"))
		stored, _ := f.store.User(target.ID)
		assert.False(t, stored.ChangePassword)
	})

	t.Run("Should forbid non-admins from resetting others", func(t *testing.T) {
		f := newUserFixture(t)
		plain := f.store.AddUser(servicetest.SeedUser{Username: "bob", Password: goodPassword, Roles: []string{"USER"}})

		err := f.svc.AdminResetPassword(ctx, f.actor(plain), f.admin.ID, "Adm1n!Reset")
		assert.EqualError(t, err, "Only administrators can reset other users' passwords")
	})

	t.Run("Should reject the current password", func(t *testing.T) {
		f := newUserFixture(t)
		err := f.svc.AdminResetPassword(ctx, f.actor(f.admin), f.other.ID, goodPassword)
		assert.EqualError(t, err, "Cannot reuse any of your last 5 passwords")
	})
}

func TestAuditService_ListAuditLogs(t *testing.T) {
	ctx := context.Background()
	store := servicetest.New()
	u := store.AddUser(servicetest.SeedUser{Username: "alice", Password: goodPassword})
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Audit().Record(ctx, &repository.AuditEntry{
			UserID: &u.ID, LoginStatus: repository.AuditFailed, LoginType: service.LoginTypePassword,
		}))
	}
	svc := service.NewAuditService(store)

	t.Run("Should return the newest entries with usernames", func(t *testing.T) {
		entries, err := svc.ListAuditLogs(ctx, 2)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Greater(t, entries[0].ID, entries[1].ID)
		require.NotNil(t, entries[0].Username)
		assert.Equal(t, "alice", *entries[0].Username)
	})

	t.Run("Should fall back to the cap for out of range limits", func(t *testing.T) {
		for _, limit := range []int{0, -1, service.MaxAuditLogs + 1} {
			entries, err := svc.ListAuditLogs(ctx, limit)
			require.NoError(t, err)
			assert.Len(t, entries, 3)
		}
	})
}

func mustJWT(t *testing.T) *jwtpkg.Manager {
	t.Helper()
	cfg := servicetest.AuthConfig()
	m, err := jwtpkg.NewManager(cfg.JWTSecret, cfg.TokenTTL, "access-service")
	require.NoError(t, err)
	return m
}
