package models

type ExternalStatus string

const (
	ExternalInvited ExternalStatus = "invited"
	ExternalActive  ExternalStatus = "active"
	ExternalRevoked ExternalStatus = "revoked"
)

type AccessLevel string

const (
	AccessView    AccessLevel = "view"
	AccessComment AccessLevel = "comment"
)

func (a AccessLevel) Valid() bool {
	return a == AccessView || a == AccessComment
}

// ExternalUser is a guest (client, contractor) with access to selected projects.
type ExternalUser struct {
	ExternalUserID int64           `json:"external_user_id"`
	Email          string          `json:"email"`
	FirstName      string          `json:"first_name"`
	LastName       string          `json:"last_name"`
	Company        string          `json:"company"`
	Status         ExternalStatus  `json:"status"`
	InviteExpires  *int64          `json:"invite_expires_at,omitempty"`
	InvitedBy      int64           `json:"invited_by"`
	CreatedAt      int64           `json:"created_at"`
	UpdatedAt      int64           `json:"updated_at"`
	Access         []ProjectAccess `json:"access"`
}

type ProjectAccess struct {
	ProjectID   int64       `json:"project_id"`
	ProjectName string      `json:"project_name,omitempty"`
	AccessLevel AccessLevel `json:"access_level"`
	GrantedAt   int64       `json:"granted_at"`
}
