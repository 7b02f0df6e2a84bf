// Package servicetest provides an in-memory service.Store seeded like the
// database migrations, for tests of the service and handler packages.
package servicetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pesio-ai/be-plt-access/internal/config"
	"github.com/pesio-ai/be-plt-access/internal/repository"
	"github.com/pesio-ai/be-plt-access/internal/service"
	apperrors "github.com/pesio-ai/be-plt-access/pkg/errors"
	"github.com/pesio-ai/be-plt-access/pkg/password"
)

// Seeded role ids
const (
	SuperAdminRoleID int64 = 1
	AdminRoleID      int64 = 2
	UserRoleID       int64 = 3
)

// FastParams are cheap argon2id parameters for tests
var FastParams = &password.Params{Memory: 64, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

// AuthConfig returns the default auth settings with FastParams
func AuthConfig() config.AuthConfig {
	cfg := config.Default().Auth
	cfg.JWTSecret = "test-secret-key-0123456789"
	cfg.Argon2Memory = FastParams.Memory
	cfg.Argon2Iterations = FastParams.Iterations
	cfg.Argon2Parallelism = FastParams.Parallelism
	return cfg
}

type grantKey struct {
	roleID int64
	module string
}

type userRole struct {
	userID     int64
	roleID     int64
	assignedBy *int64
	seq        int64
}

type historyRow struct {
	id        int64
	userID    int64
	hash      string
	salt      string
	createdAt time.Time
}

type state struct {
	users     map[int64]repository.User
	profiles  map[int64]repository.UserProfile
	roles     map[int64]repository.Role
	userRoles []userRole
	modules   map[int64]repository.Module
	grants    map[grantKey]repository.Permissions
	history   []historyRow
	audit     []repository.AuditEntry
	seq       int64
	failures  map[string]error
	pingErr   error
}

func (st *state) next() int64 {
	st.seq++
	return st.seq
}

func (st *state) clone() *state {
	cp := *st
	cp.users = make(map[int64]repository.User, len(st.users))
	for k, v := range st.users {
		cp.users[k] = v
	}
	cp.profiles = make(map[int64]repository.UserProfile, len(st.profiles))
	for k, v := range st.profiles {
		cp.profiles[k] = v
	}
	cp.roles = make(map[int64]repository.Role, len(st.roles))
	for k, v := range st.roles {
		cp.roles[k] = v
	}
	cp.modules = make(map[int64]repository.Module, len(st.modules))
	for k, v := range st.modules {
		cp.modules[k] = v
	}
	cp.grants = make(map[grantKey]repository.Permissions, len(st.grants))
	for k, v := range st.grants {
		cp.grants[k] = v
	}
	cp.userRoles = append([]userRole(nil), st.userRoles...)
	cp.history = append([]historyRow(nil), st.history...)
	cp.audit = append([]repository.AuditEntry(nil), st.audit...)
	cp.failures = make(map[string]error, len(st.failures))
	for k, v := range st.failures {
		cp.failures[k] = v
	}
	return &cp
}

// Store is an in-memory service.Store. Transactions are serialized and
// rolled back by restoring a snapshot.
type Store struct {
	mu   *sync.Mutex
	st   *state
	held bool
	now  *func() time.Time
}

var _ service.Store = (*Store)(nil)

// New returns a store seeded with the system roles, default modules and
// their grants
func New() *Store {
	now := time.Now
	s := &Store{
		mu: &sync.Mutex{},
		st: &state{
			users:    map[int64]repository.User{},
			profiles: map[int64]repository.UserProfile{},
			roles:    map[int64]repository.Role{},
			modules:  map[int64]repository.Module{},
			grants:   map[grantKey]repository.Permissions{},
			failures: map[string]error{},
		},
		now: &now,
	}
	s.seed()
	return s
}

func (s *Store) seed() {
	created := s.clock()
	for _, r := range []repository.Role{
		{ID: SuperAdminRoleID, Name: service.RoleSuperAdmin, Description: "Full access to every module", IsSystemRole: true},
		{ID: AdminRoleID, Name: service.RoleAdmin, Description: "User and access administration", IsSystemRole: true},
		{ID: UserRoleID, Name: "USER", Description: "Standard user"},
	} {
		r.CreatedAt = created
		s.st.roles[r.ID] = r
	}

	full := repository.Permissions{CanView: true, CanCreate: true, CanEdit: true, CanDelete: true}
	for i, name := range []string{"dashboard", "users", "reports", "analytics", "settings"} {
		id := int64(i + 1)
		m := repository.Module{ID: id, Name: name, DisplayName: name, CreatedAt: created}
		if name == service.SystemModuleUsers || name == service.SystemModuleSettings {
			key := name
			m.SystemKey = &key
		}
		s.st.modules[id] = m
		s.st.grants[grantKey{SuperAdminRoleID, name}] = full
		s.st.grants[grantKey{AdminRoleID, name}] = full
	}
	s.st.grants[grantKey{UserRoleID, "dashboard"}] = repository.Permissions{CanView: true}
	s.st.seq = 100
}

func (s *Store) clock() time.Time {
	return (*s.now)()
}

func (s *Store) lock() func() {
	if s.held {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// fail returns the error injected for op, if any
func (s *Store) fail(op string) error {
	return s.st.failures[op]
}

// FailOn makes every later call of op (for example "Roles.AssignToUser")
// return err. A nil err clears it.
func (s *Store) FailOn(op string, err error) {
	defer s.lock()()
	if err == nil {
		delete(s.st.failures, op)
		return
	}
	s.st.failures[op] = err
}

// SetNow replaces the clock used for timestamps
func (s *Store) SetNow(now func() time.Time) {
	defer s.lock()()
	*s.now = now
}

// SetPingError makes Ping return err
func (s *Store) SetPingError(err error) {
	defer s.lock()()
	s.st.pingErr = err
}

func (s *Store) Users() service.UserStore     { return &userStore{s} }
func (s *Store) Roles() service.RoleStore     { return &roleStore{s} }
func (s *Store) Modules() service.ModuleStore { return &moduleStore{s} }
func (s *Store) Audit() service.AuditStore    { return &auditStore{s} }

func (s *Store) InTx(ctx context.Context, fn func(tx service.Store) error) error {
	if s.held {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	tx := &Store{mu: s.mu, st: s.st, held: true, now: s.now}
	if err := fn(tx); err != nil {
		*s.st = *snapshot
		return err
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	defer s.lock()()
	return s.st.pingErr
}

// SeedUser describes a user created directly in the store
type SeedUser struct {
	Username       string
	Email          string
	Password       string
	Status         repository.AccountStatus
	Inactive       bool
	Roles          []string
	CreatedBy      *int64
	ChangePassword bool
	FirstName      string
	LastName       string
}

// AddUser inserts a user hashed with FastParams, with its profile, roles and
// first history entry. Status defaults to ACTIVE and email to
// <username>@example.com.
func (s *Store) AddUser(u SeedUser) repository.User {
	defer s.lock()()

	if u.Status == "" {
		u.Status = repository.StatusActive
	}
	if u.Email == "" {
		u.Email = u.Username + "@example.com"
	}
	salt, err := password.GenerateSalt()
	if err != nil {
		panic(err)
	}
	hash := password.HashWithSalt(u.Password, salt, FastParams)

	id := s.st.next()
	user := repository.User{
		ID:             id,
		Username:       u.Username,
		Email:          u.Email,
		PasswordHash:   hash,
		Salt:           salt,
		IsActive:       !u.Inactive,
		AccountStatus:  u.Status,
		CreatedAt:      s.clock(),
		CreatedBy:      u.CreatedBy,
		ChangePassword: u.ChangePassword,
	}
	s.st.users[id] = user
	s.st.profiles[id] = repository.UserProfile{UserID: id, FirstName: u.FirstName, LastName: u.LastName}
	s.st.history = append(s.st.history, historyRow{id: s.st.next(), userID: id, hash: hash, salt: salt, createdAt: s.clock()})
	for _, name := range u.Roles {
		role, ok := s.roleByName(name)
		if !ok {
			panic(fmt.Sprintf("unknown role %q", name))
		}
		s.st.userRoles = append(s.st.userRoles, userRole{userID: id, roleID: role.ID, seq: s.st.next()})
	}
	return user
}

// User returns the stored user with id
func (s *Store) User(id int64) (repository.User, bool) {
	defer s.lock()()
	u, ok := s.st.users[id]
	return u, ok
}

// UserByName returns the stored user called username
func (s *Store) UserByName(username string) (repository.User, bool) {
	defer s.lock()()
	for _, u := range s.st.users {
		if u.Username == username {
			return u, true
		}
	}
	return repository.User{}, false
}

// AuditEntries returns every audit entry in insertion order
func (s *Store) AuditEntries() []repository.AuditEntry {
	defer s.lock()()
	return append([]repository.AuditEntry(nil), s.st.audit...)
}

// Grant returns the permission row of roleID on module
func (s *Store) Grant(roleID int64, module string) (repository.Permissions, bool) {
	defer s.lock()()
	p, ok := s.st.grants[grantKey{roleID, module}]
	return p, ok
}

// UserCount returns the number of stored users
func (s *Store) UserCount() int {
	defer s.lock()()
	return len(s.st.users)
}

func (s *Store) roleByName(name string) (repository.Role, bool) {
	for _, r := range s.st.roles {
		if r.Name == name {
			return r, true
		}
	}
	return repository.Role{}, false
}

func (s *Store) roleNames(userID int64) []string {
	var rs []userRole
	for _, ur := range s.st.userRoles {
		if ur.userID == userID {
			rs = append(rs, ur)
		}
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].seq < rs[j].seq })
	names := make([]string, 0, len(rs))
	for _, ur := range rs {
		names = append(names, s.st.roles[ur.roleID].Name)
	}
	return names
}

func (s *Store) detail(u repository.User) repository.UserDetail {
	p := s.st.profiles[u.ID]
	roles := s.roleNames(u.ID)
	sort.Strings(roles)
	return repository.UserDetail{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		IsActive:      u.IsActive,
		AccountStatus: u.AccountStatus,
		CreatedAt:     u.CreatedAt,
		LastLogin:     u.LastLogin,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		Department:    p.Department,
		Position:      p.Position,
		Phone:         p.Phone,
		Roles:         roles,
	}
}

func newest[T any](items []T, createdAt func(T) time.Time, id func(T) int64) {
	sort.Slice(items, func(i, j int) bool {
		ci, cj := createdAt(items[i]), createdAt(items[j])
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return id(items[i]) > id(items[j])
	})
}

func internal(op string, err error) error {
	return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to "+op)
}
