package taskService

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/nikhil/projectdesk/internal/auth"
	"github.com/nikhil/projectdesk/internal/database"
	"github.com/nikhil/projectdesk/internal/logger"
	"github.com/nikhil/projectdesk/internal/middleware"
	"github.com/nikhil/projectdesk/internal/models"
	"github.com/nikhil/projectdesk/internal/realtime"
	"github.com/nikhil/projectdesk/internal/response"
)

const maxTitleLength = 200

// ProjectAccess is the part of the project service tasks depend on.
type ProjectAccess interface {
	CheckAccess(ctx context.Context, claims *auth.Claims, projectID int64) error
}

type TaskService struct {
	DB       *sql.DB
	Projects ProjectAccess
	Guests   GuestAccess
	Events   realtime.Publisher
	Log      *logger.Logger
}

func NewTaskService(db *sql.DB, projects ProjectAccess, events realtime.Publisher) *TaskService {
	return &TaskService{
		DB:       db,
		Projects: projects,
		Events:   events,
		Log:      logger.NewLogger("task-service"),
	}
}

// TaskRequest is used for both create and partial update. Nil fields are
// left unchanged on update.
type TaskRequest struct {
	Title       *string              `json:"title"`
	Description *string              `json:"description"`
	Status      *models.TaskStatus   `json:"status"`
	Priority    *models.TaskPriority `json:"priority"`
	AssigneeID  *int64               `json:"assignee_id"`
	DueDate     *int64               `json:"due_date"`

	ClearAssignee bool `json:"clear_assignee"`
	ClearDueDate  bool `json:"clear_due_date"`
}

type TaskFilter struct {
	Status     models.TaskStatus
	AssigneeID *int64
}

const taskColumns = `task_id, project_id, title, COALESCE(description, ''), status, priority,
	assignee_id, due_date, completed_at, created_by, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scanner) (models.Task, error) {
	var (
		t                           models.Task
		assignee, due, completedAt sql.NullInt64
	)
	err := row.Scan(&t.TaskID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.Priority,
		&assignee, &due, &completedAt, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	t.AssigneeID = database.Int64Ptr(assignee)
	t.DueDate = database.Int64Ptr(due)
	t.CompletedAt = database.Int64Ptr(completedAt)
	return t, err
}

// applyStatus keeps completed_at in step with the done status.
func applyStatus(t *models.Task, status models.TaskStatus, now int64) {
	if status == models.TaskDone && t.Status != models.TaskDone {
		t.CompletedAt = &now
	} else if status != models.TaskDone {
		t.CompletedAt = nil
	}
	t.Status = status
}

// ProjectTasks returns every task of a project without an access check.
func (ts *TaskService) ProjectTasks(ctx context.Context, projectID int64) ([]models.Task, error) {
	return ts.query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE project_id = ? ORDER BY task_id`, projectID)
}

func (ts *TaskService) query(ctx context.Context, query string, args ...interface{}) ([]models.Task, error) {
	rows, err := ts.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (ts *TaskService) List(ctx context.Context, claims *auth.Claims, projectID int64, f TaskFilter) ([]models.Task, error) {
	if err := ts.Projects.CheckAccess(ctx, claims, projectID); err != nil {
		return nil, err
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE project_id = ?`
	args := []interface{}{projectID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.AssigneeID != nil {
		query += ` AND assignee_id = ?`
		args = append(args, *f.AssigneeID)
	}
	return ts.query(ctx, query+` ORDER BY due_date IS NULL, due_date, task_id`, args...)
}

func (ts *TaskService) load(ctx context.Context, id int64) (models.Task, error) {
	t, err := scanTask(ts.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return t, response.NotFound("Task")
	}
	return t, err
}

func (ts *TaskService) Get(ctx context.Context, claims *auth.Claims, id int64) (models.Task, error) {
	t, err := ts.load(ctx, id)
	if err != nil {
		return t, err
	}
	if err := ts.Projects.CheckAccess(ctx, claims, t.ProjectID); err != nil {
		return models.Task{}, response.NotFound("Task")
	}
	return t, nil
}

func (ts *TaskService) checkAssignee(ctx context.Context, projectID int64, assigneeID *int64) error {
	if assigneeID == nil {
		return nil
	}
	var one int
	err := ts.DB.QueryRowContext(ctx,
		`SELECT 1 FROM project_members WHERE project_id = ? AND user_id = ?`, projectID, *assigneeID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return response.BadRequest("Assignee must be a member of the project")
	}
	return err
}

func validate(t models.Task) error {
	if t.Title == "" {
		return response.BadRequest("Task title is required")
	}
	if len(t.Title) > maxTitleLength {
		return response.BadRequest("Task title must be at most %d characters", maxTitleLength)
	}
	if !t.Status.Valid() {
		return response.BadRequest("Invalid status %q", t.Status)
	}
	if !t.Priority.Valid() {
		return response.BadRequest("Invalid priority %q", t.Priority)
	}
	return nil
}

func (ts *TaskService) Create(ctx context.Context, claims *auth.Claims, projectID int64, req TaskRequest) (models.Task, error) {
	now := time.Now().UTC().Unix()
	t := models.Task{
		ProjectID:  projectID,
		Status:     models.TaskTodo,
		Priority:   models.PriorityMedium,
		AssigneeID: req.AssigneeID,
		DueDate:    req.DueDate,
		CreatedBy:  claims.UserID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.Title != nil {
		t.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		t.Description = strings.TrimSpace(*req.Description)
	}
	if req.Priority != nil {
		t.Priority = *req.Priority
	}
	if req.Status != nil {
		applyStatus(&t, *req.Status, now)
	}
	if err := validate(t); err != nil {
		return t, err
	}
	if err := ts.Projects.CheckAccess(ctx, claims, projectID); err != nil {
		return t, err
	}
	if err := ts.checkAssignee(ctx, projectID, t.AssigneeID); err != nil {
		return t, err
	}

	result, err := ts.DB.ExecContext(ctx, `
		INSERT INTO tasks (project_id, title, description, status, priority, assignee_id, due_date,
			completed_at, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ProjectID, t.Title, t.Description, t.Status, t.Priority, database.NullInt64(t.AssigneeID),
		database.NullInt64(t.DueDate), database.NullInt64(t.CompletedAt), t.CreatedBy, now, now)
	if err != nil {
		return t, err
	}
	if t.TaskID, err = result.LastInsertId(); err != nil {
		return t, err
	}
	ts.publish(models.EventInsert, t.ProjectID, t)
	return t, nil
}

func (ts *TaskService) Update(ctx context.Context, claims *auth.Claims, id int64, req TaskRequest) (models.Task, error) {
	t, err := ts.Get(ctx, claims, id)
	if err != nil {
		return t, err
	}
	now := time.Now().UTC().Unix()
	if req.Title != nil {
		t.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		t.Description = strings.TrimSpace(*req.Description)
	}
	if req.Priority != nil {
		t.Priority = *req.Priority
	}
	if req.Status != nil {
		applyStatus(&t, *req.Status, now)
	}
	assigneeChanged := false
	if req.AssigneeID != nil {
		t.AssigneeID = req.AssigneeID
		assigneeChanged = true
	} else if req.ClearAssignee {
		t.AssigneeID = nil
	}
	if req.DueDate != nil {
		t.DueDate = req.DueDate
	} else if req.ClearDueDate {
		t.DueDate = nil
	}
	if err := validate(t); err != nil {
		return t, err
	}
	if assigneeChanged {
		if err := ts.checkAssignee(ctx, t.ProjectID, t.AssigneeID); err != nil {
			return t, err
		}
	}

	t.UpdatedAt = now
	if _, err := ts.DB.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?, assignee_id = ?,
			due_date = ?, completed_at = ?, updated_at = ?
		WHERE task_id = ?`,
		t.Title, t.Description, t.Status, t.Priority, database.NullInt64(t.AssigneeID),
		database.NullInt64(t.DueDate), database.NullInt64(t.CompletedAt), now, id); err != nil {
		return t, err
	}
	ts.publish(models.EventUpdate, t.ProjectID, t)
	return t, nil
}

func (ts *TaskService) Delete(ctx context.Context, claims *auth.Claims, id int64) error {
	t, err := ts.Get(ctx, claims, id)
	if err != nil {
		return err
	}
	if _, err := ts.DB.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, id); err != nil {
		return err
	}
	ts.publish(models.EventDelete, t.ProjectID, map[string]int64{"task_id": id, "project_id": t.ProjectID})
	return nil
}

// BulkResult reports a log-and-continue batch delete.
type BulkResult struct {
	Deleted []int64       `json:"deleted"`
	Failed  []BulkFailure `json:"failed"`
}

type BulkFailure struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
}

// BulkDelete deletes the listed tasks of one project, skipping ids that
// belong elsewhere.
func (ts *TaskService) BulkDelete(ctx context.Context, claims *auth.Claims, projectID int64, ids []int64) (BulkResult, error) {
	if err := ts.Projects.CheckAccess(ctx, claims, projectID); err != nil {
		return BulkResult{}, err
	}
	result := BulkResult{Deleted: []int64{}, Failed: []BulkFailure{}}
	var errs error
	for _, id := range ids {
		res, err := ts.DB.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ? AND project_id = ?`, id, projectID)
		var n int64
		if err == nil {
			n, err = res.RowsAffected()
		}
		switch {
		case err != nil:
			result.Failed = append(result.Failed, BulkFailure{ID: id, Error: "internal error"})
			errs = multierr.Append(errs, fmt.Errorf("task %d: %w", id, err))
		case n == 0:
			result.Failed = append(result.Failed, BulkFailure{ID: id, Error: "Task not found"})
		default:
			result.Deleted = append(result.Deleted, id)
			ts.publish(models.EventDelete, projectID, map[string]int64{"task_id": id, "project_id": projectID})
		}
	}
	return result, errs
}

func (ts *TaskService) publish(typ models.EventType, projectID int64, record interface{}) {
	if ts.Events == nil {
		return
	}
	ts.Events.Publish(realtime.ProjectTopic(projectID), models.NewEvent(typ, "tasks", record))
}

// HTTP handlers

func (ts *TaskService) ListTasks(w http.ResponseWriter, r *http.Request) {
	projectID, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	q := r.URL.Query()
	f := TaskFilter{Status: models.TaskStatus(q.Get("status"))}
	if f.Status != "" && !f.Status.Valid() {
		response.Fail(w, response.BadRequest("Invalid status %q", f.Status))
		return
	}
	if raw := q.Get("assignee_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			response.Fail(w, response.BadRequest("Invalid assignee_id"))
			return
		}
		f.AssigneeID = &id
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	tasks, err := ts.List(r.Context(), claims, projectID, f)
	if err != nil {
		response.Failure(w, r, ts.Log, "Failed to list tasks", err)
		return
	}
	response.OK(w, tasks)
}

func (ts *TaskService) CreateTask(w http.ResponseWriter, r *http.Request) {
	projectID, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	var req TaskRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	t, err := ts.Create(r.Context(), claims, projectID, req)
	if err != nil {
		response.Failure(w, r, ts.Log, "Failed to create task", err)
		return
	}
	ts.Log.WithContext(r.Context()).Info("Task created", "task_id", t.TaskID, "project_id", projectID)
	response.Created(w, t)
}

func (ts *TaskService) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	t, err := ts.Get(r.Context(), claims, id)
	if err != nil {
		response.Failure(w, r, ts.Log, "Failed to get task", err)
		return
	}
	response.OK(w, t)
}

func (ts *TaskService) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	var req TaskRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	t, err := ts.Update(r.Context(), claims, id, req)
	if err != nil {
		response.Failure(w, r, ts.Log, "Failed to update task", err)
		return
	}
	response.OK(w, t)
}

func (ts *TaskService) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	if err := ts.Delete(r.Context(), claims, id); err != nil {
		response.Failure(w, r, ts.Log, "Failed to delete task", err)
		return
	}
	response.OK(w, map[string]int64{"task_id": id})
}

type bulkDeleteRequest struct {
	TaskIDs []int64 `json:"task_ids"`
}

func (ts *TaskService) BulkDeleteTasks(w http.ResponseWriter, r *http.Request) {
	projectID, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	var req bulkDeleteRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	if len(req.TaskIDs) == 0 {
		response.Fail(w, response.BadRequest("task_ids is required"))
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	result, err := ts.BulkDelete(r.Context(), claims, projectID, req.TaskIDs)
	var e *response.Error
	if errors.As(err, &e) {
		response.Fail(w, err)
		return
	}
	if err != nil {
		ts.Log.WithContext(r.Context()).Warn("Bulk task delete finished with failures",
			"project_id", projectID, "errors", multierr.Errors(err))
	}
	response.OK(w, result)
}
