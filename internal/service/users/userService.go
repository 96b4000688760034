package userService

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/nikhil/projectdesk/internal/auth"
	"github.com/nikhil/projectdesk/internal/database"
	"github.com/nikhil/projectdesk/internal/logger"
	"github.com/nikhil/projectdesk/internal/mailer"
	"github.com/nikhil/projectdesk/internal/middleware"
	"github.com/nikhil/projectdesk/internal/models"
	"github.com/nikhil/projectdesk/internal/response"
)

var errUnknownDepartment = response.BadRequest("Department does not exist")

// UserService handles staff administration and self-service profile calls.
type UserService struct {
	DB     *sql.DB
	Mailer mailer.Mailer
	AppURL string
	Log    *logger.Logger
}

func NewUserService(db *sql.DB, m mailer.Mailer, appURL string) *UserService {
	return &UserService{
		DB:     db,
		Mailer: m,
		AppURL: strings.TrimRight(appURL, "/"),
		Log:    logger.NewLogger("user-service"),
	}
}

// CreateUserRequest is the body of POST /admin/users. When Password is
// empty a temporary password is generated and emailed to the user.
type CreateUserRequest struct {
	Email         string      `json:"email"`
	Password      string      `json:"password"`
	FirstName     string      `json:"first_name"`
	LastName      string      `json:"last_name"`
	ContactNumber string      `json:"contact_number"`
	Role          models.Role `json:"role"`
	DepartmentID  *int64      `json:"department_id"`
}

type UpdateUserRequest struct {
	FirstName     *string      `json:"first_name"`
	LastName      *string      `json:"last_name"`
	ContactNumber *string      `json:"contact_number"`
	Role          *models.Role `json:"role"`
	DepartmentID  *int64       `json:"department_id"`
	ClearDept     bool         `json:"clear_department"`
	IsActive      *bool        `json:"is_active"`
}

// UserFilter narrows GET /admin/users.
type UserFilter struct {
	DepartmentID *int64
	Role         models.Role
	Query        string
}

// BulkResult reports a log-and-continue batch operation.
type BulkResult struct {
	Deleted []int64       `json:"deleted"`
	Failed  []BulkFailure `json:"failed"`
}

type BulkFailure struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
}

// NormalizeEmail lowercases and validates an email address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", response.BadRequest("Invalid email address")
	}
	return email, nil
}

const profileColumns = `user_id, email, first_name, last_name, contact_number, role,
	department_id, is_active, must_change_password, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

// ScanProfile reads a row selected with profileColumns.
func ScanProfile(row scanner) (models.Profile, error) {
	var (
		p    models.Profile
		dept sql.NullInt64
	)
	err := row.Scan(&p.UserID, &p.Email, &p.FirstName, &p.LastName, &p.ContactNumber, &p.Role,
		&dept, &p.IsActive, &p.MustChangePassword, &p.CreatedAt, &p.UpdatedAt)
	p.DepartmentID = database.Int64Ptr(dept)
	return p, err
}

func (us *UserService) Get(ctx context.Context, id int64) (models.Profile, error) {
	p, err := ScanProfile(us.DB.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return p, response.NotFound("User")
	}
	return p, err
}

func (us *UserService) Create(ctx context.Context, req CreateUserRequest) (models.Profile, bool, error) {
	email, err := NormalizeEmail(req.Email)
	if err != nil {
		return models.Profile{}, false, err
	}
	if req.Role == "" {
		req.Role = models.RoleMember
	}
	if !req.Role.Valid() {
		return models.Profile{}, false, response.BadRequest("Invalid role %q", req.Role)
	}

	password := req.Password
	temporary := password == ""
	if temporary {
		if password, err = auth.GenerateTemporaryPassword(); err != nil {
			return models.Profile{}, false, err
		}
	} else if err := auth.ValidatePassword(password); err != nil {
		return models.Profile{}, false, response.BadRequest("%s", err.Error())
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return models.Profile{}, false, err
	}

	now := time.Now().UTC().Unix()
	p := models.Profile{
		Email:              email,
		FirstName:          strings.TrimSpace(req.FirstName),
		LastName:           strings.TrimSpace(req.LastName),
		ContactNumber:      strings.TrimSpace(req.ContactNumber),
		Role:               req.Role,
		DepartmentID:       req.DepartmentID,
		IsActive:           true,
		MustChangePassword: temporary,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	result, err := us.DB.ExecContext(ctx, `
		INSERT INTO profiles (email, password_hash, first_name, last_name, contact_number, role,
			department_id, is_active, must_change_password, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		p.Email, hash, p.FirstName, p.LastName, p.ContactNumber, p.Role,
		database.NullInt64(p.DepartmentID), temporary, now, now)
	if err != nil {
		if database.IsDuplicate(err) {
			return models.Profile{}, false, response.Conflict("A user with this email already exists")
		}
		if database.IsMissingReference(err) {
			return models.Profile{}, false, errUnknownDepartment
		}
		return models.Profile{}, false, err
	}
	if p.UserID, err = result.LastInsertId(); err != nil {
		return models.Profile{}, false, err
	}

	if !temporary {
		return p, false, nil
	}
	if err := us.mailTemporaryPassword(ctx, p, password); err != nil {
		us.Log.WithContext(ctx).Warn("Failed to email temporary password", "user_id", p.UserID, "error", err)
		return p, false, nil
	}
	return p, true, nil
}

func (us *UserService) List(ctx context.Context, f UserFilter, page response.Pagination) (response.List, error) {
	where := []string{"1 = 1"}
	var args []interface{}
	if f.DepartmentID != nil {
		where = append(where, "department_id = ?")
		args = append(args, *f.DepartmentID)
	}
	if f.Role != "" {
		where = append(where, "role = ?")
		args = append(args, f.Role)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		like := "%" + q + "%"
		where = append(where, "(email LIKE ? OR first_name LIKE ? OR last_name LIKE ?)")
		args = append(args, like, like, like)
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := us.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles WHERE `+clause, args...).Scan(&total); err != nil {
		return response.List{}, err
	}

	rows, err := us.DB.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE `+clause+` ORDER BY first_name, last_name, user_id LIMIT ? OFFSET ?`,
		append(args, page.PerPage, page.Offset())...)
	if err != nil {
		return response.List{}, err
	}
	defer rows.Close()

	users := []models.Profile{}
	for rows.Next() {
		p, err := ScanProfile(rows)
		if err != nil {
			return response.List{}, err
		}
		users = append(users, p)
	}
	if err := rows.Err(); err != nil {
		return response.List{}, err
	}
	return response.List{Items: users, TotalCount: total, Pagination: page}, nil
}

func (us *UserService) Update(ctx context.Context, id int64, req UpdateUserRequest) (models.Profile, error) {
	p, err := us.Get(ctx, id)
	if err != nil {
		return p, err
	}
	if req.FirstName != nil {
		p.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		p.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.ContactNumber != nil {
		p.ContactNumber = strings.TrimSpace(*req.ContactNumber)
	}
	if req.Role != nil {
		if !req.Role.Valid() {
			return p, response.BadRequest("Invalid role %q", *req.Role)
		}
		p.Role = *req.Role
	}
	if req.DepartmentID != nil {
		p.DepartmentID = req.DepartmentID
	} else if req.ClearDept {
		p.DepartmentID = nil
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	p.UpdatedAt = time.Now().UTC().Unix()

	_, err = us.DB.ExecContext(ctx, `
		UPDATE profiles SET first_name = ?, last_name = ?, contact_number = ?, role = ?,
			department_id = ?, is_active = ?, updated_at = ?
		WHERE user_id = ?`,
		p.FirstName, p.LastName, p.ContactNumber, p.Role,
		database.NullInt64(p.DepartmentID), p.IsActive, p.UpdatedAt, id)
	if database.IsMissingReference(err) {
		return models.Profile{}, errUnknownDepartment
	}
	return p, err
}

// Delete removes a staff account. Admins cannot delete themselves and users
// who still own projects must hand them over first.
func (us *UserService) Delete(ctx context.Context, actorID, id int64) error {
	if actorID == id {
		return response.BadRequest("You cannot delete your own account")
	}
	result, err := us.DB.ExecContext(ctx, `DELETE FROM profiles WHERE user_id = ?`, id)
	if err != nil {
		if database.IsReferenced(err) {
			return response.Conflict("User still owns projects")
		}
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return response.NotFound("User")
	}
	return nil
}

// BulkDelete deletes every id it can and reports the rest.
func (us *UserService) BulkDelete(ctx context.Context, actorID int64, ids []int64) (BulkResult, error) {
	result := BulkResult{Deleted: []int64{}, Failed: []BulkFailure{}}
	var errs error
	for _, id := range ids {
		if err := us.Delete(ctx, actorID, id); err != nil {
			result.Failed = append(result.Failed, BulkFailure{ID: id, Error: userMessage(err)})
			errs = multierr.Append(errs, fmt.Errorf("user %d: %w", id, err))
			continue
		}
		result.Deleted = append(result.Deleted, id)
	}
	return result, errs
}

// SendTemporaryPassword replaces the user's password with a generated one,
// resolves their pending reset requests and emails the new password.
func (us *UserService) SendTemporaryPassword(ctx context.Context, actorID, id int64) (models.Profile, error) {
	p, err := us.Get(ctx, id)
	if err != nil {
		return p, err
	}
	password, err := auth.GenerateTemporaryPassword()
	if err != nil {
		return p, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return p, err
	}

	now := time.Now().UTC().Unix()
	tx, err := us.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE profiles SET password_hash = ?, must_change_password = 1, updated_at = ? WHERE user_id = ?`,
		hash, now, id); err != nil {
		return p, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE password_reset_requests SET status = 'resolved', resolved_at = ?, resolved_by = ?
		WHERE user_id = ? AND status = 'pending'`, now, actorID, id); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	p.MustChangePassword = true

	if err := us.mailTemporaryPassword(ctx, p, password); err != nil {
		return p, response.NewError(http.StatusBadGateway, "Password was reset but the email could not be sent")
	}
	return p, nil
}

func (us *UserService) mailTemporaryPassword(ctx context.Context, p models.Profile, password string) error {
	html, err := mailer.Render("temporary_password", mailer.TemporaryPasswordData{
		Name:       displayName(p),
		Password:   password,
		Link:       us.AppURL + "/login",
		MustChange: true,
	})
	if err != nil {
		return err
	}
	return us.Mailer.Send(ctx, mailer.Message{
		To:      []string{p.Email},
		Subject: "Your temporary ProjectDesk password",
		HTML:    html,
	})
}

func (us *UserService) ListResetRequests(ctx context.Context, status models.ResetStatus) ([]models.PasswordResetRequest, error) {
	query := `SELECT request_id, user_id, email, status, requested_at, resolved_at, resolved_by
		FROM password_reset_requests`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	rows, err := us.DB.QueryContext(ctx, query+` ORDER BY requested_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := []models.PasswordResetRequest{}
	for rows.Next() {
		var (
			req                    models.PasswordResetRequest
			resolvedAt, resolvedBy sql.NullInt64
		)
		if err := rows.Scan(&req.RequestID, &req.UserID, &req.Email, &req.Status, &req.RequestedAt, &resolvedAt, &resolvedBy); err != nil {
			return nil, err
		}
		req.ResolvedAt = database.Int64Ptr(resolvedAt)
		req.ResolvedBy = database.Int64Ptr(resolvedBy)
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func (us *UserService) DismissResetRequest(ctx context.Context, actorID, requestID int64) error {
	result, err := us.DB.ExecContext(ctx, `
		UPDATE password_reset_requests SET status = 'dismissed', resolved_at = ?, resolved_by = ?
		WHERE request_id = ? AND status = 'pending'`, time.Now().UTC().Unix(), actorID, requestID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return response.NotFound("Pending reset request")
	}
	return nil
}

func displayName(p models.Profile) string {
	if name := p.FullName(); name != "" {
		return name
	}
	return p.Email
}

func userMessage(err error) string {
	var e *response.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// HTTP handlers

func (us *UserService) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	p, emailed, err := us.Create(r.Context(), req)
	if err != nil {
		response.Failure(w, r, us.Log, "Failed to create user", err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	us.Log.WithContext(r.Context()).Audit("User created", "user_id", p.UserID, "by", claims.UserID, "role", p.Role)
	response.Created(w, map[string]interface{}{
		"user":                    p,
		"temporary_password_sent": emailed,
	})
}

func (us *UserService) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := UserFilter{Role: models.Role(q.Get("role")), Query: q.Get("q")}
	if raw := q.Get("department_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			response.Fail(w, response.BadRequest("Invalid department_id"))
			return
		}
		f.DepartmentID = &id
	}
	if f.Role != "" && !f.Role.Valid() {
		response.Fail(w, response.BadRequest("Invalid role %q", f.Role))
		return
	}
	list, err := us.List(r.Context(), f, response.Page(r))
	if err != nil {
		response.Failure(w, r, us.Log, "Failed to list users", err)
		return
	}
	response.OK(w, list)
}

func (us *UserService) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	p, err := us.Get(r.Context(), id)
	if err != nil {
		response.Failure(w, r, us.Log, "Failed to get user", err)
		return
	}
	response.OK(w, p)
}

func (us *UserService) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	var req UpdateUserRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	p, err := us.Update(r.Context(), id, req)
	if err != nil {
		response.Failure(w, r, us.Log, "Failed to update user", err)
		return
	}
	us.Log.WithContext(r.Context()).Info("User updated", "user_id", id)
	response.OK(w, p)
}

func (us *UserService) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	if err := us.Delete(r.Context(), claims.UserID, id); err != nil {
		response.Failure(w, r, us.Log, "Failed to delete user", err)
		return
	}
	us.Log.WithContext(r.Context()).Audit("User deleted", "user_id", id, "by", claims.UserID)
	response.OK(w, map[string]int64{"user_id": id})
}

type bulkDeleteRequest struct {
	UserIDs []int64 `json:"user_ids"`
}

func (us *UserService) BulkDeleteUsers(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	if len(req.UserIDs) == 0 {
		response.Fail(w, response.BadRequest("user_ids is required"))
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	result, err := us.BulkDelete(r.Context(), claims.UserID, req.UserIDs)
	if err != nil {
		us.Log.WithContext(r.Context()).Warn("Bulk delete finished with failures",
			"failed", len(result.Failed), "errors", multierr.Errors(err))
	}
	us.Log.WithContext(r.Context()).Audit("Users bulk deleted", "deleted", result.Deleted, "by", claims.UserID)
	response.OK(w, result)
}

func (us *UserService) SendTemporaryPasswordHandler(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	p, err := us.SendTemporaryPassword(r.Context(), claims.UserID, id)
	if err != nil {
		response.Failure(w, r, us.Log, "Failed to send temporary password", err)
		return
	}
	us.Log.WithContext(r.Context()).Audit("Temporary password issued", "user_id", id, "by", claims.UserID)
	response.OK(w, map[string]interface{}{"user_id": p.UserID, "email": p.Email})
}

func (us *UserService) ListResetRequestsHandler(w http.ResponseWriter, r *http.Request) {
	status := models.ResetStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.ResetPending, models.ResetResolved, models.ResetDismissed:
	default:
		response.Fail(w, response.BadRequest("Invalid status %q", status))
		return
	}
	requests, err := us.ListResetRequests(r.Context(), status)
	if err != nil {
		response.Failure(w, r, us.Log, "Failed to list reset requests", err)
		return
	}
	response.OK(w, requests)
}

func (us *UserService) DismissResetRequestHandler(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	if err := us.DismissResetRequest(r.Context(), claims.UserID, id); err != nil {
		response.Failure(w, r, us.Log, "Failed to dismiss reset request", err)
		return
	}
	response.OK(w, map[string]int64{"request_id": id})
}
