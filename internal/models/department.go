package models

// Department groups staff and projects.
type Department struct {
	DepartmentID int64  `json:"department_id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	MemberCount  int    `json:"member_count"`
	ProjectCount int    `json:"project_count"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}
