package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-plt-access/internal/repository"
)

// UserStore is the user, profile and password history data the services need
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*repository.User, error)
	GetActiveByID(ctx context.Context, id int64) (*repository.User, error)
	GetActiveByUsername(ctx context.Context, username string) (*repository.User, error)
	GetByEmail(ctx context.Context, email string) (*repository.User, error)
	GetByResetToken(ctx context.Context, token string) (*repository.User, error)
	UsernameExists(ctx context.Context, username string, excludeID int64) (bool, error)
	EmailExists(ctx context.Context, email string, excludeID int64) (bool, error)
	Create(ctx context.Context, user *repository.User) error
	Update(ctx context.Context, id int64, upd repository.UserUpdate) error
	Decide(ctx context.Context, id, approverID int64, status repository.AccountStatus, isActive bool) (bool, error)
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error
	SetPassword(ctx context.Context, id int64, hash, salt string, changePassword bool) error
	SetResetToken(ctx context.Context, id int64, token string, expiry time.Time) error
	GetProfile(ctx context.Context, userID int64) (*repository.UserProfile, error)
	UpsertProfile(ctx context.Context, p *repository.UserProfile) error
	List(ctx context.Context) ([]repository.UserDetail, error)
	ListPending(ctx context.Context) ([]repository.PendingUser, error)
	PasswordHistory(ctx context.Context, userID int64, limit int) ([]repository.PasswordHistoryEntry, error)
	AddPasswordHistory(ctx context.Context, userID int64, hash, salt string) error
}

// RoleStore is the role, assignment and permission matrix data
type RoleStore interface {
	List(ctx context.Context) ([]repository.Role, error)
	GetByID(ctx context.Context, id int64) (*repository.Role, error)
	GetByName(ctx context.Context, name string) (*repository.Role, error)
	NameExists(ctx context.Context, name string, excludeID int64) (bool, error)
	Create(ctx context.Context, role *repository.Role) error
	Update(ctx context.Context, role *repository.Role) error
	Delete(ctx context.Context, id int64) error
	CountAssignments(ctx context.Context, roleID int64) (int, error)
	AssignToUser(ctx context.Context, userID, roleID int64, assignedBy *int64) error
	ReplaceUserRole(ctx context.Context, userID, roleID int64, assignedBy *int64) error
	RoleNamesForUser(ctx context.Context, userID int64) ([]string, error)
	HasAnyRole(ctx context.Context, userID int64, names ...string) (bool, error)
	ListGrants(ctx context.Context) ([]repository.PermissionGrant, error)
	ReplacePermissions(ctx context.Context, roleID int64, perms map[string]repository.Permissions) error
	UserPermissions(ctx context.Context, userID int64, module string) (repository.Permissions, error)
}

// ModuleStore is the module data and its permission matrix references
type ModuleStore interface {
	List(ctx context.Context) ([]repository.Module, error)
	GetByID(ctx context.Context, id int64) (*repository.Module, error)
	GetBySystemKey(ctx context.Context, key string) (*repository.Module, error)
	NameExists(ctx context.Context, name string, excludeID int64) (bool, error)
	Create(ctx context.Context, m *repository.Module) error
	Update(ctx context.Context, m *repository.Module) error
	Delete(ctx context.Context, id int64) error
	RenameGrants(ctx context.Context, oldName, newName string) error
	CountActiveGrants(ctx context.Context, name string) (int, error)
	DeleteGrants(ctx context.Context, name string) error
}

// AuditStore is the append-only login and admin action log
type AuditStore interface {
	Record(ctx context.Context, e *repository.AuditEntry) error
	CountFailedSince(ctx context.Context, userID int64, loginType string, since time.Time) (int, error)
	List(ctx context.Context, limit int) ([]repository.AuditEntry, error)
}

// Store groups the data access the services need. InTx runs fn against a
// transactional Store; every write of fn is committed or none is.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	Modules() ModuleStore
	Audit() AuditStore
	InTx(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
}

type pgStore struct {
	s *repository.Store
}

// NewStore adapts the Postgres repositories to Store
func NewStore(s *repository.Store) Store {
	return &pgStore{s: s}
}

func (p *pgStore) Users() UserStore     { return p.s.Users }
func (p *pgStore) Roles() RoleStore     { return p.s.Roles }
func (p *pgStore) Modules() ModuleStore { return p.s.Modules }
func (p *pgStore) Audit() AuditStore    { return p.s.Audit }

func (p *pgStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	return p.s.InTx(ctx, func(tx *repository.Store) error {
		return fn(&pgStore{s: tx})
	})
}

func (p *pgStore) Ping(ctx context.Context) error {
	return p.s.Ping(ctx)
}
