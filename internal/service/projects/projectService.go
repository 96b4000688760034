package projectService

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nikhil/projectdesk/internal/auth"
	"github.com/nikhil/projectdesk/internal/database"
	"github.com/nikhil/projectdesk/internal/logger"
	"github.com/nikhil/projectdesk/internal/middleware"
	"github.com/nikhil/projectdesk/internal/models"
	"github.com/nikhil/projectdesk/internal/realtime"
	"github.com/nikhil/projectdesk/internal/response"
)

var errUnknownDepartment = response.BadRequest("Department does not exist")

const maxNameLength = 150

// ProjectService handles projects, their members and access checks.
type ProjectService struct {
	DB     *sql.DB
	Events realtime.Publisher
	Log    *logger.Logger
}

func NewProjectService(db *sql.DB, events realtime.Publisher) *ProjectService {
	return &ProjectService{
		DB:     db,
		Events: events,
		Log:    logger.NewLogger("project-service"),
	}
}

type ProjectRequest struct {
	Name         string               `json:"name"`
	Description  string               `json:"description"`
	Status       models.ProjectStatus `json:"status"`
	DepartmentID *int64               `json:"department_id"`
	StartDate    *int64               `json:"start_date"`
	DueDate      *int64               `json:"due_date"`
}

func (req *ProjectRequest) normalize() error {
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	if req.Name == "" {
		return response.BadRequest("Project name is required")
	}
	if len(req.Name) > maxNameLength {
		return response.BadRequest("Project name must be at most %d characters", maxNameLength)
	}
	if req.Status == "" {
		req.Status = models.ProjectPlanning
	}
	if !req.Status.Valid() {
		return response.BadRequest("Invalid status %q", req.Status)
	}
	if req.StartDate != nil && req.DueDate != nil && *req.DueDate < *req.StartDate {
		return response.BadRequest("Due date must not be before the start date")
	}
	return nil
}

// ProjectFilter narrows List.
type ProjectFilter struct {
	Status       models.ProjectStatus
	DepartmentID *int64
}

const projectColumns = `p.project_id, p.name, COALESCE(p.description, ''), p.status, p.department_id,
	p.owner_id, p.start_date, p.due_date, p.created_at, p.updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

// ScanProject reads a row selected with the project column list.
func ScanProject(row scanner) (models.Project, error) {
	var (
		p                    models.Project
		dept, start, dueDate sql.NullInt64
	)
	err := row.Scan(&p.ProjectID, &p.Name, &p.Description, &p.Status, &dept,
		&p.OwnerID, &start, &dueDate, &p.CreatedAt, &p.UpdatedAt)
	p.DepartmentID = database.Int64Ptr(dept)
	p.StartDate = database.Int64Ptr(start)
	p.DueDate = database.Int64Ptr(dueDate)
	return p, err
}

// Load fetches a project without any access check.
func (ps *ProjectService) Load(ctx context.Context, id int64) (models.Project, error) {
	p, err := ScanProject(ps.DB.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects p WHERE p.project_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return p, response.NotFound("Project")
	}
	return p, err
}

// CheckAccess returns nil when the caller may read the project. Admins see
// every project, staff see projects they are members of, and external users
// see projects they were granted while their account is active.
func (ps *ProjectService) CheckAccess(ctx context.Context, claims *auth.Claims, projectID int64) error {
	query := `SELECT 1 FROM project_members WHERE project_id = ? AND user_id = ?`
	args := []interface{}{projectID, claims.UserID}
	switch {
	case claims.IsAdmin():
		query = `SELECT 1 FROM projects WHERE project_id = ?`
		args = args[:1]
	case claims.Kind == auth.KindExternal:
		query = `SELECT 1 FROM external_user_access a
			JOIN external_users e ON e.external_user_id = a.external_user_id
			WHERE a.project_id = ? AND a.external_user_id = ? AND e.status = 'active'`
	}
	var one int
	err := ps.DB.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		// Callers without access get the same answer as for a missing project.
		return response.NotFound("Project")
	}
	return err
}

// CanManage returns nil when the caller may change the project. Besides
// admins and the owner, managers who are members qualify.
func (ps *ProjectService) CanManage(ctx context.Context, claims *auth.Claims, projectID int64) error {
	if claims.Kind != auth.KindUser {
		return response.Forbidden("External users cannot modify projects")
	}
	p, err := ps.Load(ctx, projectID)
	if err != nil {
		return err
	}
	if claims.IsAdmin() || p.OwnerID == claims.UserID {
		return nil
	}
	if err := ps.CheckAccess(ctx, claims, projectID); err != nil {
		return err
	}
	if claims.Role == models.RoleManager {
		return nil
	}
	return response.Forbidden("Only project managers can modify this project")
}

func (ps *ProjectService) Create(ctx context.Context, claims *auth.Claims, req ProjectRequest) (models.Project, error) {
	if err := req.normalize(); err != nil {
		return models.Project{}, err
	}
	now := time.Now().UTC().Unix()
	p := models.Project{
		Name:         req.Name,
		Description:  req.Description,
		Status:       req.Status,
		DepartmentID: req.DepartmentID,
		OwnerID:      claims.UserID,
		StartDate:    req.StartDate,
		DueDate:      req.DueDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, err := ps.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO projects (name, description, status, department_id, owner_id, start_date, due_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Description, p.Status, database.NullInt64(p.DepartmentID), p.OwnerID,
		database.NullInt64(p.StartDate), database.NullInt64(p.DueDate), now, now)
	if database.IsMissingReference(err) {
		return models.Project{}, errUnknownDepartment
	}
	if err != nil {
		return p, err
	}
	if p.ProjectID, err = result.LastInsertId(); err != nil {
		return p, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO project_members (project_id, user_id, role, joined_at) VALUES (?, ?, 'owner', ?)`,
		p.ProjectID, p.OwnerID, now); err != nil {
		return p, err
	}

	result, err = tx.ExecContext(ctx,
		`INSERT INTO chat_rooms (project_id, name, is_direct, created_by, created_at, updated_at) VALUES (?, ?, 0, ?, ?, ?)`,
		p.ProjectID, p.Name, p.OwnerID, now, now)
	if err != nil {
		return p, err
	}
	roomID, err := result.LastInsertId()
	if err != nil {
		return p, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_room_members (room_id, user_id, last_read_at, joined_at) VALUES (?, ?, ?, ?)`,
		roomID, p.OwnerID, now, now); err != nil {
		return p, err
	}
	return p, tx.Commit()
}

func (ps *ProjectService) List(ctx context.Context, claims *auth.Claims, f ProjectFilter) ([]models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects p`
	var (
		where []string
		args  []interface{}
	)
	if !claims.IsAdmin() {
		query += ` JOIN project_members m ON m.project_id = p.project_id AND m.user_id = ?`
		args = append(args, claims.UserID)
	}
	if f.Status != "" {
		where = append(where, "p.status = ?")
		args = append(args, f.Status)
	}
	if f.DepartmentID != nil {
		where = append(where, "p.department_id = ?")
		args = append(args, *f.DepartmentID)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}

	rows, err := ps.DB.QueryContext(ctx, query+` ORDER BY p.updated_at DESC, p.project_id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		p, err := ScanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (ps *ProjectService) Get(ctx context.Context, claims *auth.Claims, id int64) (models.Project, error) {
	if err := ps.CheckAccess(ctx, claims, id); err != nil {
		return models.Project{}, err
	}
	return ps.Load(ctx, id)
}

func (ps *ProjectService) Update(ctx context.Context, claims *auth.Claims, id int64, req ProjectRequest) (models.Project, error) {
	if err := req.normalize(); err != nil {
		return models.Project{}, err
	}
	if err := ps.CanManage(ctx, claims, id); err != nil {
		return models.Project{}, err
	}
	now := time.Now().UTC().Unix()
	if _, err := ps.DB.ExecContext(ctx, `
		UPDATE projects SET name = ?, description = ?, status = ?, department_id = ?,
			start_date = ?, due_date = ?, updated_at = ?
		WHERE project_id = ?`,
		req.Name, req.Description, req.Status, database.NullInt64(req.DepartmentID),
		database.NullInt64(req.StartDate), database.NullInt64(req.DueDate), now, id); err != nil {
		if database.IsMissingReference(err) {
			return models.Project{}, errUnknownDepartment
		}
		return models.Project{}, err
	}
	p, err := ps.Load(ctx, id)
	if err != nil {
		return p, err
	}
	ps.publish(models.EventUpdate, "projects", id, p)
	return p, nil
}

// Delete removes a project and, through cascades, its tasks, rooms and folders.
func (ps *ProjectService) Delete(ctx context.Context, claims *auth.Claims, id int64) error {
	p, err := ps.Load(ctx, id)
	if err != nil {
		return err
	}
	if !claims.IsAdmin() && p.OwnerID != claims.UserID {
		return response.Forbidden("Only the owner or an admin can delete a project")
	}
	if _, err := ps.DB.ExecContext(ctx, `DELETE FROM projects WHERE project_id = ?`, id); err != nil {
		return err
	}
	ps.publish(models.EventDelete, "projects", id, map[string]int64{"project_id": id})
	return nil
}

func (ps *ProjectService) Members(ctx context.Context, claims *auth.Claims, id int64) ([]models.ProjectMember, error) {
	if err := ps.CheckAccess(ctx, claims, id); err != nil {
		return nil, err
	}
	rows, err := ps.DB.QueryContext(ctx, `
		SELECT m.project_id, m.user_id, m.role, p.first_name, p.last_name, p.email, m.joined_at
		FROM project_members m JOIN profiles p ON p.user_id = m.user_id
		WHERE m.project_id = ? ORDER BY m.role DESC, p.first_name`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []models.ProjectMember{}
	for rows.Next() {
		var m models.ProjectMember
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Role, &m.FirstName, &m.LastName, &m.Email, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// AddMember adds an active staff user to the project and its chat room.
func (ps *ProjectService) AddMember(ctx context.Context, claims *auth.Claims, projectID, userID int64) error {
	if err := ps.CanManage(ctx, claims, projectID); err != nil {
		return err
	}
	var active bool
	err := ps.DB.QueryRowContext(ctx, `SELECT is_active FROM profiles WHERE user_id = ?`, userID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return response.NotFound("User")
	}
	if err != nil {
		return err
	}
	if !active {
		return response.BadRequest("User is disabled")
	}

	now := time.Now().UTC().Unix()
	tx, err := ps.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO project_members (project_id, user_id, role, joined_at) VALUES (?, ?, 'member', ?)`,
		projectID, userID, now); err != nil {
		if database.IsDuplicate(err) {
			return response.Conflict("User is already a member of this project")
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT IGNORE INTO chat_room_members (room_id, user_id, last_read_at, joined_at)
		SELECT room_id, ?, ?, ? FROM chat_rooms WHERE project_id = ?`,
		userID, now, now, projectID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	ps.publish(models.EventInsert, "project_members", projectID, map[string]int64{"project_id": projectID, "user_id": userID})
	return nil
}

// RemoveMember removes a member from the project and its chat rooms. The
// owner cannot be removed.
func (ps *ProjectService) RemoveMember(ctx context.Context, claims *auth.Claims, projectID, userID int64) error {
	if err := ps.CanManage(ctx, claims, projectID); err != nil {
		return err
	}
	p, err := ps.Load(ctx, projectID)
	if err != nil {
		return err
	}
	if p.OwnerID == userID {
		return response.BadRequest("The project owner cannot be removed")
	}

	tx, err := ps.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM project_members WHERE project_id = ? AND user_id = ?`, projectID, userID)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return response.NotFound("Member")
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE m FROM chat_room_members m JOIN chat_rooms r ON r.room_id = m.room_id
		WHERE r.project_id = ? AND m.user_id = ?`, projectID, userID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	ps.publish(models.EventDelete, "project_members", projectID, map[string]int64{"project_id": projectID, "user_id": userID})
	return nil
}

func (ps *ProjectService) publish(typ models.EventType, table string, projectID int64, record interface{}) {
	if ps.Events == nil {
		return
	}
	ps.Events.Publish(realtime.ProjectTopic(projectID), models.NewEvent(typ, table, record))
}

// HTTP handlers

func (ps *ProjectService) CreateProject(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())
	var req ProjectRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	p, err := ps.Create(r.Context(), claims, req)
	if err != nil {
		response.Failure(w, r, ps.Log, "Failed to create project", err)
		return
	}
	ps.Log.WithContext(r.Context()).Info("Project created", "project_id", p.ProjectID, "owner_id", p.OwnerID)
	response.Created(w, p)
}

func (ps *ProjectService) ListProjects(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())
	q := r.URL.Query()
	f := ProjectFilter{Status: models.ProjectStatus(q.Get("status"))}
	if f.Status != "" && !f.Status.Valid() {
		response.Fail(w, response.BadRequest("Invalid status %q", f.Status))
		return
	}
	if raw := q.Get("department_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			response.Fail(w, response.BadRequest("Invalid department_id"))
			return
		}
		f.DepartmentID = &id
	}
	projects, err := ps.List(r.Context(), claims, f)
	if err != nil {
		response.Failure(w, r, ps.Log, "Failed to list projects", err)
		return
	}
	response.OK(w, projects)
}

func (ps *ProjectService) GetProject(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	p, err := ps.Get(r.Context(), claims, id)
	if err != nil {
		response.Failure(w, r, ps.Log, "Failed to get project", err)
		return
	}
	response.OK(w, p)
}

func (ps *ProjectService) UpdateProject(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	var req ProjectRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	p, err := ps.Update(r.Context(), claims, id, req)
	if err != nil {
		response.Failure(w, r, ps.Log, "Failed to update project", err)
		return
	}
	response.OK(w, p)
}

func (ps *ProjectService) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	if err := ps.Delete(r.Context(), claims, id); err != nil {
		response.Failure(w, r, ps.Log, "Failed to delete project", err)
		return
	}
	ps.Log.WithContext(r.Context()).Audit("Project deleted", "project_id", id, "by", claims.UserID)
	response.OK(w, map[string]int64{"project_id": id})
}

func (ps *ProjectService) ListMembers(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	members, err := ps.Members(r.Context(), claims, id)
	if err != nil {
		response.Failure(w, r, ps.Log, "Failed to list project members", err)
		return
	}
	response.OK(w, members)
}

type addMemberRequest struct {
	UserID int64 `json:"user_id"`
}

func (ps *ProjectService) AddProjectMember(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	var req addMemberRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	if req.UserID <= 0 {
		response.Fail(w, response.BadRequest("user_id is required"))
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	if err := ps.AddMember(r.Context(), claims, id, req.UserID); err != nil {
		response.Failure(w, r, ps.Log, "Failed to add project member", err)
		return
	}
	ps.Log.WithContext(r.Context()).Info("Project member added", "project_id", id, "user_id", req.UserID)
	response.Created(w, map[string]int64{"project_id": id, "user_id": req.UserID})
}

func (ps *ProjectService) RemoveProjectMember(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	userID, err := response.PathInt64(r, "user_id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	if err := ps.RemoveMember(r.Context(), claims, id, userID); err != nil {
		response.Failure(w, r, ps.Log, "Failed to remove project member", err)
		return
	}
	ps.Log.WithContext(r.Context()).Info("Project member removed", "project_id", id, "user_id", userID)
	response.OK(w, map[string]int64{"project_id": id, "user_id": userID})
}
