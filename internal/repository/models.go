package repository

import "time"

// AccountStatus is the approval workflow state of a user
type AccountStatus string

const (
	StatusPending  AccountStatus = "PENDING"
	StatusActive   AccountStatus = "ACTIVE"
	StatusRejected AccountStatus = "REJECTED"
	StatusInactive AccountStatus = "INACTIVE"
)

// User represents a user in the system
type User struct {
	ID                 int64         `db:"user_id"             json:"user_id"`
	Username           string        `db:"username"            json:"username"`
	Email              string        `db:"email"               json:"email"`
	PasswordHash       string        `db:"password_hash"       json:"-"`
	Salt               string        `db:"salt"                json:"-"`
	IsActive           bool          `db:"is_active"           json:"is_active"`
	AccountStatus      AccountStatus `db:"account_status"      json:"account_status"`
	CreatedAt          time.Time     `db:"created_at"          json:"created_at"`
	CreatedBy          *int64        `db:"created_by"          json:"created_by,omitempty"`
	ApprovedBy         *int64        `db:"approved_by"         json:"approved_by,omitempty"`
	LastLogin          *time.Time    `db:"last_login"          json:"last_login,omitempty"`
	ChangePassword     bool          `db:"change_password"     json:"change_password"`
	ShowNotification   bool          `db:"show_notification"   json:"show_notification"`
	PasswordResetToken *string       `db:"password_reset_token" json:"-"`
	ResetTokenExpiry   *time.Time    `db:"reset_token_expiry"  json:"-"`
}

// UserProfile is the 1:1 extension of a user
type UserProfile struct {
	UserID     int64  `db:"user_id"    json:"-"`
	FirstName  string `db:"first_name" json:"first_name"`
	LastName   string `db:"last_name"  json:"last_name"`
	Department string `db:"department" json:"department"`
	Position   string `db:"position"   json:"position"`
	Phone      string `db:"phone"      json:"phone"`
}

// UserDetail is a user joined with its profile and role names
type UserDetail struct {
	ID            int64         `db:"user_id"        json:"user_id"`
	Username      string        `db:"username"       json:"username"`
	Email         string        `db:"email"          json:"email"`
	IsActive      bool          `db:"is_active"      json:"is_active"`
	AccountStatus AccountStatus `db:"account_status" json:"account_status"`
	CreatedAt     time.Time     `db:"created_at"     json:"created_at"`
	LastLogin     *time.Time    `db:"last_login"     json:"last_login,omitempty"`
	FirstName     string        `db:"first_name"     json:"first_name"`
	LastName      string        `db:"last_name"      json:"last_name"`
	Department    string        `db:"department"     json:"department"`
	Position      string        `db:"position"       json:"position"`
	Phone         string        `db:"phone"          json:"phone"`
	Roles         []string      `db:"roles"          json:"roles"`
}

// PendingUser is a user awaiting approval together with its creator
type PendingUser struct {
	UserDetail
	CreatedBy       *int64  `db:"created_by"       json:"created_by,omitempty"`
	CreatorUsername *string `db:"creator_username" json:"created_by_username,omitempty"`
}

// UserUpdate is the allowlist of user columns that can be changed in place.
// Nil fields are left untouched.
type UserUpdate struct {
	Username      *string
	Email         *string
	IsActive      *bool
	AccountStatus *AccountStatus
}

// Empty reports whether no field is set
func (u UserUpdate) Empty() bool {
	return u.Username == nil && u.Email == nil && u.IsActive == nil && u.AccountStatus == nil
}

// Role represents a role that can be assigned to users
type Role struct {
	ID           int64     `db:"role_id"        json:"role_id"`
	Name         string    `db:"role_name"      json:"role_name"`
	Description  string    `db:"description"    json:"description"`
	IsSystemRole bool      `db:"is_system_role" json:"is_system_role"`
	CreatedAt    time.Time `db:"created_at"     json:"created_at"`
}

// Permissions are the CRUD grants of one role (or the union of a user's
// roles) on one module
type Permissions struct {
	CanView   bool `db:"can_view"   json:"can_view"`
	CanCreate bool `db:"can_create" json:"can_create"`
	CanEdit   bool `db:"can_edit"   json:"can_edit"`
	CanDelete bool `db:"can_delete" json:"can_delete"`
}

// Any reports whether at least one flag is set
func (p Permissions) Any() bool {
	return p.CanView || p.CanCreate || p.CanEdit || p.CanDelete
}

// Or returns the union of p and o
func (p Permissions) Or(o Permissions) Permissions {
	return Permissions{
		CanView:   p.CanView || o.CanView,
		CanCreate: p.CanCreate || o.CanCreate,
		CanEdit:   p.CanEdit || o.CanEdit,
		CanDelete: p.CanDelete || o.CanDelete,
	}
}

// PermissionGrant is one permission_matrix row
type PermissionGrant struct {
	RoleID     int64  `db:"role_id"`
	ModuleName string `db:"module_name"`
	Permissions
}

// Module is a securable area of the application
type Module struct {
	ID          int64     `db:"module_id"    json:"module_id"`
	Name        string    `db:"module_name"  json:"module_name"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Description string    `db:"description"  json:"description"`
	SystemKey   *string   `db:"system_key"   json:"system_key,omitempty"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
}

// PasswordHistoryEntry is a previously used password
type PasswordHistoryEntry struct {
	PasswordHash string    `db:"password_hash"`
	Salt         string    `db:"salt"`
	CreatedAt    time.Time `db:"created_at"`
}

// Audit outcomes
const (
	AuditSuccess = "SUCCESS"
	AuditFailed  = "FAILED"
)

// AuditEntry is one login_audit_log row
type AuditEntry struct {
	ID             int64     `db:"log_id"          json:"log_id"`
	UserID         *int64    `db:"user_id"         json:"user_id,omitempty"`
	Username       *string   `db:"username"        json:"username,omitempty"`
	LoginTimestamp time.Time `db:"login_timestamp" json:"login_timestamp"`
	IPAddress      string    `db:"ip_address"      json:"ip_address"`
	LoginStatus    string    `db:"login_status"    json:"login_status"`
	LoginType      string    `db:"login_type"      json:"login_type"`
	TargetUserID   *int64    `db:"target_user_id"  json:"target_user_id,omitempty"`
}
