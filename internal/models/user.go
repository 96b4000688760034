package models

// Role is a staff member's application-wide role.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleMember  Role = "member"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleMember:
		return true
	}
	return false
}

// Profile is a staff account.
type Profile struct {
	UserID             int64  `json:"user_id"`
	Email              string `json:"email"`
	Password           string `json:"password,omitempty"`
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	ContactNumber      string `json:"contact_number"`
	Role               Role   `json:"role"`
	DepartmentID       *int64 `json:"department_id"`
	IsActive           bool   `json:"is_active"`
	MustChangePassword bool   `json:"must_change_password"`
	CreatedAt          int64  `json:"created_at"`
	UpdatedAt          int64  `json:"updated_at"`
}

// FullName joins first and last name.
func (p Profile) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

type ResetStatus string

const (
	ResetPending   ResetStatus = "pending"
	ResetResolved  ResetStatus = "resolved"
	ResetDismissed ResetStatus = "dismissed"
)

// PasswordResetRequest is raised by a user who forgot their password and
// resolved by an admin sending a temporary one.
type PasswordResetRequest struct {
	RequestID   int64       `json:"request_id"`
	UserID      int64       `json:"user_id"`
	Email       string      `json:"email"`
	Status      ResetStatus `json:"status"`
	RequestedAt int64       `json:"requested_at"`
	ResolvedAt  *int64      `json:"resolved_at,omitempty"`
	ResolvedBy  *int64      `json:"resolved_by,omitempty"`
}

// ViewPreference stores per-user UI settings for one view.
type ViewPreference struct {
	UserID    int64  `json:"user_id"`
	ViewKey   string `json:"view_key"`
	Settings  []byte `json:"-"`
	UpdatedAt int64  `json:"updated_at"`
}
