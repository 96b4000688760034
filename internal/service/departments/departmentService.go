package departmentService

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nikhil/projectdesk/internal/database"
	"github.com/nikhil/projectdesk/internal/logger"
	"github.com/nikhil/projectdesk/internal/models"
	"github.com/nikhil/projectdesk/internal/response"
)

const maxNameLength = 100

// DepartmentService handles department-related operations
type DepartmentService struct {
	DB  *sql.DB
	Log *logger.Logger
}

// DepartmentRequest is the body of create and update calls.
type DepartmentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (req *DepartmentRequest) normalize() error {
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	if req.Name == "" {
		return response.BadRequest("Department name is required")
	}
	if len(req.Name) > maxNameLength {
		return response.BadRequest("Department name must be at most %d characters", maxNameLength)
	}
	return nil
}

func NewDepartmentService(db *sql.DB) *DepartmentService {
	return &DepartmentService{
		DB:  db,
		Log: logger.NewLogger("department-service"),
	}
}

const selectDepartment = `
	SELECT d.department_id, d.name, COALESCE(d.description, ''), d.created_at, d.updated_at,
		(SELECT COUNT(*) FROM profiles p WHERE p.department_id = d.department_id) AS member_count,
		(SELECT COUNT(*) FROM projects pr WHERE pr.department_id = d.department_id) AS project_count
	FROM departments d`

func scanDepartment(row interface{ Scan(...interface{}) error }) (models.Department, error) {
	var d models.Department
	err := row.Scan(&d.DepartmentID, &d.Name, &d.Description, &d.CreatedAt, &d.UpdatedAt, &d.MemberCount, &d.ProjectCount)
	return d, err
}

// List returns every department ordered by name.
func (ds *DepartmentService) List(ctx context.Context) ([]models.Department, error) {
	rows, err := ds.DB.QueryContext(ctx, selectDepartment+` ORDER BY d.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	departments := []models.Department{}
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		departments = append(departments, d)
	}
	return departments, rows.Err()
}

func (ds *DepartmentService) Get(ctx context.Context, id int64) (models.Department, error) {
	d, err := scanDepartment(ds.DB.QueryRowContext(ctx, selectDepartment+` WHERE d.department_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return d, response.NotFound("Department")
	}
	return d, err
}

func (ds *DepartmentService) Create(ctx context.Context, req DepartmentRequest) (models.Department, error) {
	if err := req.normalize(); err != nil {
		return models.Department{}, err
	}

	now := time.Now().UTC().Unix()
	result, err := ds.DB.ExecContext(ctx,
		`INSERT INTO departments (name, description, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		req.Name, req.Description, now, now)
	if err != nil {
		if database.IsDuplicate(err) {
			return models.Department{}, response.Conflict("A department with this name already exists")
		}
		return models.Department{}, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return models.Department{}, err
	}
	return models.Department{DepartmentID: id, Name: req.Name, Description: req.Description, CreatedAt: now, UpdatedAt: now}, nil
}

func (ds *DepartmentService) Update(ctx context.Context, id int64, req DepartmentRequest) (models.Department, error) {
	if err := req.normalize(); err != nil {
		return models.Department{}, err
	}

	// MySQL reports 0 affected rows for a no-op update, so existence is
	// checked up front.
	if _, err := ds.Get(ctx, id); err != nil {
		return models.Department{}, err
	}
	if _, err := ds.DB.ExecContext(ctx,
		`UPDATE departments SET name = ?, description = ?, updated_at = ? WHERE department_id = ?`,
		req.Name, req.Description, time.Now().UTC().Unix(), id); err != nil {
		if database.IsDuplicate(err) {
			return models.Department{}, response.Conflict("A department with this name already exists")
		}
		return models.Department{}, err
	}
	return ds.Get(ctx, id)
}

// Delete removes a department. Members and projects keep existing with no
// department (ON DELETE SET NULL).
func (ds *DepartmentService) Delete(ctx context.Context, id int64) error {
	result, err := ds.DB.ExecContext(ctx, `DELETE FROM departments WHERE department_id = ?`, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return response.NotFound("Department")
	}
	return nil
}

// Members lists the staff assigned to a department.
func (ds *DepartmentService) Members(ctx context.Context, id int64) ([]models.Profile, error) {
	if _, err := ds.Get(ctx, id); err != nil {
		return nil, err
	}
	rows, err := ds.DB.QueryContext(ctx, `
		SELECT user_id, email, first_name, last_name, role, is_active
		FROM profiles WHERE department_id = ? ORDER BY first_name, last_name`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []models.Profile{}
	for rows.Next() {
		p := models.Profile{DepartmentID: &id}
		if err := rows.Scan(&p.UserID, &p.Email, &p.FirstName, &p.LastName, &p.Role, &p.IsActive); err != nil {
			return nil, err
		}
		members = append(members, p)
	}
	return members, rows.Err()
}

// HTTP handlers

func (ds *DepartmentService) ListDepartments(w http.ResponseWriter, r *http.Request) {
	departments, err := ds.List(r.Context())
	if err != nil {
		response.Failure(w, r, ds.Log, "Failed to list departments", err)
		return
	}
	response.OK(w, departments)
}

func (ds *DepartmentService) GetDepartment(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	d, err := ds.Get(r.Context(), id)
	if err != nil {
		response.Failure(w, r, ds.Log, "Failed to get department", err)
		return
	}
	response.OK(w, d)
}

func (ds *DepartmentService) CreateDepartment(w http.ResponseWriter, r *http.Request) {
	var req DepartmentRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	d, err := ds.Create(r.Context(), req)
	if err != nil {
		response.Failure(w, r, ds.Log, "Failed to create department", err)
		return
	}
	ds.Log.WithContext(r.Context()).Info("Department created", "department_id", d.DepartmentID)
	response.Created(w, d)
}

func (ds *DepartmentService) UpdateDepartment(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	var req DepartmentRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	d, err := ds.Update(r.Context(), id, req)
	if err != nil {
		response.Failure(w, r, ds.Log, "Failed to update department", err)
		return
	}
	ds.Log.WithContext(r.Context()).Info("Department updated", "department_id", id)
	response.OK(w, d)
}

func (ds *DepartmentService) DeleteDepartment(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	if err := ds.Delete(r.Context(), id); err != nil {
		response.Failure(w, r, ds.Log, "Failed to delete department", err)
		return
	}
	ds.Log.WithContext(r.Context()).Info("Department deleted", "department_id", id)
	response.OK(w, map[string]int64{"department_id": id})
}

func (ds *DepartmentService) ListMembers(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	members, err := ds.Members(r.Context(), id)
	if err != nil {
		response.Failure(w, r, ds.Log, "Failed to list department members", err)
		return
	}
	response.OK(w, members)
}
