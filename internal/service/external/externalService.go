package externalService

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nikhil/projectdesk/internal/auth"
	"github.com/nikhil/projectdesk/internal/database"
	"github.com/nikhil/projectdesk/internal/logger"
	"github.com/nikhil/projectdesk/internal/mailer"
	"github.com/nikhil/projectdesk/internal/middleware"
	"github.com/nikhil/projectdesk/internal/models"
	"github.com/nikhil/projectdesk/internal/response"
	userService "github.com/nikhil/projectdesk/internal/service/users"
)

var (
	errBadCredentials = response.NewError(http.StatusUnauthorized, "Invalid email or password")
	errInviteExpired  = response.NewError(http.StatusGone, "Invitation has expired")
)

// Projects is what guest management needs from the project service.
type Projects interface {
	CheckAccess(ctx context.Context, claims *auth.Claims, projectID int64) error
	Load(ctx context.Context, id int64) (models.Project, error)
}

// Tasks lists a project's tasks for guests.
type Tasks interface {
	ProjectTasks(ctx context.Context, projectID int64) ([]models.Task, error)
}

// ExternalService manages guests: invitations, project grants and their
// own sign-in.
type ExternalService struct {
	DB        *sql.DB
	Mailer    mailer.Mailer
	Projects  Projects
	Tasks     Tasks
	Secret    string
	TokenTTL  time.Duration
	InviteTTL time.Duration
	AppURL    string
	Log       *logger.Logger

	now func() time.Time
}

type Options struct {
	Secret    string
	TokenTTL  time.Duration
	InviteTTL time.Duration
	AppURL    string
}

func NewExternalService(db *sql.DB, m mailer.Mailer, projects Projects, tasks Tasks, opts Options) *ExternalService {
	return &ExternalService{
		DB:        db,
		Mailer:    m,
		Projects:  projects,
		Tasks:     tasks,
		Secret:    opts.Secret,
		TokenTTL:  opts.TokenTTL,
		InviteTTL: opts.InviteTTL,
		AppURL:    strings.TrimRight(opts.AppURL, "/"),
		Log:       logger.NewLogger("external-service"),
	}
}

func (es *ExternalService) clock() time.Time {
	if es.now != nil {
		return es.now()
	}
	return time.Now().UTC()
}

type InviteRequest struct {
	Email       string             `json:"email"`
	FirstName   string             `json:"first_name"`
	LastName    string             `json:"last_name"`
	Company     string             `json:"company"`
	ProjectIDs  []int64            `json:"project_ids"`
	AccessLevel models.AccessLevel `json:"access_level"`
}

type AccessRequest struct {
	ProjectIDs  []int64            `json:"project_ids"`
	AccessLevel models.AccessLevel `json:"access_level"`
	Revoke      bool               `json:"revoke"`
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id > 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// grantable checks the caller can see every project and returns their names.
func (es *ExternalService) grantable(ctx context.Context, claims *auth.Claims, ids []int64) ([]string, error) {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := es.Projects.CheckAccess(ctx, claims, id); err != nil {
			return nil, err
		}
		p, err := es.Projects.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		names = append(names, p.Name)
	}
	return names, nil
}

// Invite creates a guest or re-invites an invited or revoked one, grants the
// projects and emails the acceptance link. Active guests cannot be invited
// again.
func (es *ExternalService) Invite(ctx context.Context, claims *auth.Claims, req InviteRequest) (models.ExternalUser, bool, error) {
	email, err := userService.NormalizeEmail(req.Email)
	if err != nil {
		return models.ExternalUser{}, false, err
	}
	ids := uniqueIDs(req.ProjectIDs)
	if len(ids) == 0 {
		return models.ExternalUser{}, false, response.BadRequest("At least one project is required")
	}
	if req.AccessLevel == "" {
		req.AccessLevel = models.AccessView
	}
	if !req.AccessLevel.Valid() {
		return models.ExternalUser{}, false, response.BadRequest("Invalid access level %q", req.AccessLevel)
	}
	projectNames, err := es.grantable(ctx, claims, ids)
	if err != nil {
		return models.ExternalUser{}, false, err
	}

	now := es.clock()
	expires := now.Add(es.InviteTTL).Unix()
	token := uuid.NewString()
	u := models.ExternalUser{
		Email:         email,
		FirstName:     strings.TrimSpace(req.FirstName),
		LastName:      strings.TrimSpace(req.LastName),
		Company:       strings.TrimSpace(req.Company),
		Status:        models.ExternalInvited,
		InviteExpires: &expires,
		InvitedBy:     claims.UserID,
		CreatedAt:     now.Unix(),
		UpdatedAt:     now.Unix(),
	}

	tx, err := es.DB.BeginTx(ctx, nil)
	if err != nil {
		return u, false, err
	}
	defer tx.Rollback()

	var (
		existingID int64
		status     models.ExternalStatus
	)
	err = tx.QueryRowContext(ctx,
		`SELECT external_user_id, status FROM external_users WHERE email = ? FOR UPDATE`, email).Scan(&existingID, &status)
	switch {
	case err == nil && status == models.ExternalActive:
		return u, false, response.Conflict("This guest already has an active account")
	case err == nil:
		u.ExternalUserID = existingID
		if _, err := tx.ExecContext(ctx, `
			UPDATE external_users SET first_name = ?, last_name = ?, company = ?, invite_token = ?,
				invite_expires_at = ?, status = 'invited', invited_by = ?, updated_at = ?
			WHERE external_user_id = ?`,
			u.FirstName, u.LastName, u.Company, token, expires, claims.UserID, now.Unix(), existingID); err != nil {
			return u, false, err
		}
	case errors.Is(err, sql.ErrNoRows):
		result, err := tx.ExecContext(ctx, `
			INSERT INTO external_users (email, first_name, last_name, company, invite_token, invite_expires_at,
				status, invited_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 'invited', ?, ?, ?)`,
			email, u.FirstName, u.LastName, u.Company, token, expires, claims.UserID, now.Unix(), now.Unix())
		if err != nil {
			return u, false, err
		}
		if u.ExternalUserID, err = result.LastInsertId(); err != nil {
			return u, false, err
		}
	default:
		return u, false, err
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO external_user_access (external_user_id, project_id, access_level, granted_by, granted_at)
			VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE access_level = VALUES(access_level), granted_by = VALUES(granted_by)`,
			u.ExternalUserID, id, req.AccessLevel, claims.UserID, now.Unix()); err != nil {
			return u, false, err
		}
		u.Access = append(u.Access, models.ProjectAccess{ProjectID: id, AccessLevel: req.AccessLevel, GrantedAt: now.Unix()})
	}
	if err := tx.Commit(); err != nil {
		return u, false, err
	}

	if err := es.mailInvitation(ctx, claims, u, token, projectNames); err != nil {
		es.Log.WithContext(ctx).Warn("Failed to email invitation", "external_user_id", u.ExternalUserID, "error", err)
		return u, false, nil
	}
	return u, true, nil
}

func guestName(u models.ExternalUser) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

func (es *ExternalService) mailInvitation(ctx context.Context, claims *auth.Claims, u models.ExternalUser, token string, projects []string) error {
	html, err := mailer.Render("invitation", mailer.InvitationData{
		Name:      guestName(u),
		InvitedBy: claims.Email,
		Projects:  projects,
		Link:      es.AppURL + "/external/accept?token=" + url.QueryEscape(token),
		ExpiresAt: time.Unix(*u.InviteExpires, 0).UTC().Format("Jan 2, 2006 15:04 MST"),
	})
	if err != nil {
		return err
	}
	return es.Mailer.Send(ctx, mailer.Message{
		To:      []string{u.Email},
		Subject: "You have been invited to ProjectDesk",
		HTML:    html,
	})
}

const externalColumns = `external_user_id, email, first_name, last_name, company, status,
	invite_expires_at, invited_by, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanExternal(row scanner) (models.ExternalUser, error) {
	var (
		u       models.ExternalUser
		expires sql.NullInt64
	)
	err := row.Scan(&u.ExternalUserID, &u.Email, &u.FirstName, &u.LastName, &u.Company, &u.Status,
		&expires, &u.InvitedBy, &u.CreatedAt, &u.UpdatedAt)
	u.InviteExpires = database.Int64Ptr(expires)
	u.Access = []models.ProjectAccess{}
	return u, err
}

// access loads grants keyed by guest, optionally for a single guest.
func (es *ExternalService) access(ctx context.Context, externalID int64) (map[int64][]models.ProjectAccess, error) {
	query := `
		SELECT a.external_user_id, a.project_id, p.name, a.access_level, a.granted_at
		FROM external_user_access a JOIN projects p ON p.project_id = a.project_id`
	var args []interface{}
	if externalID > 0 {
		query += ` WHERE a.external_user_id = ?`
		args = append(args, externalID)
	}
	rows, err := es.DB.QueryContext(ctx, query+` ORDER BY p.name`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]models.ProjectAccess)
	for rows.Next() {
		var (
			userID int64
			a      models.ProjectAccess
		)
		if err := rows.Scan(&userID, &a.ProjectID, &a.ProjectName, &a.AccessLevel, &a.GrantedAt); err != nil {
			return nil, err
		}
		out[userID] = append(out[userID], a)
	}
	return out, rows.Err()
}

func (es *ExternalService) List(ctx context.Context) ([]models.ExternalUser, error) {
	rows, err := es.DB.QueryContext(ctx, `SELECT `+externalColumns+` FROM external_users ORDER BY email`)
	if err != nil {
		return nil, err
	}
	users := []models.ExternalUser{}
	for rows.Next() {
		u, err := scanExternal(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		users = append(users, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	grants, err := es.access(ctx, 0)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if g, ok := grants[users[i].ExternalUserID]; ok {
			users[i].Access = g
		}
	}
	return users, nil
}

func (es *ExternalService) Get(ctx context.Context, id int64) (models.ExternalUser, error) {
	u, err := scanExternal(es.DB.QueryRowContext(ctx, `SELECT `+externalColumns+` FROM external_users WHERE external_user_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return u, response.NotFound("External user")
	}
	if err != nil {
		return u, err
	}
	grants, err := es.access(ctx, id)
	if err != nil {
		return u, err
	}
	if g, ok := grants[id]; ok {
		u.Access = g
	}
	return u, nil
}

// UpdateAccess replaces the guest's project grants, or revokes the guest
// entirely when Revoke is set.
func (es *ExternalService) UpdateAccess(ctx context.Context, claims *auth.Claims, id int64, req AccessRequest) (models.ExternalUser, error) {
	if _, err := es.Get(ctx, id); err != nil {
		return models.ExternalUser{}, err
	}
	ids := uniqueIDs(req.ProjectIDs)
	if !req.Revoke {
		if req.AccessLevel == "" {
			req.AccessLevel = models.AccessView
		}
		if !req.AccessLevel.Valid() {
			return models.ExternalUser{}, response.BadRequest("Invalid access level %q", req.AccessLevel)
		}
		if len(ids) == 0 {
			return models.ExternalUser{}, response.BadRequest("project_ids is required unless revoking")
		}
		if _, err := es.grantable(ctx, claims, ids); err != nil {
			return models.ExternalUser{}, err
		}
	}

	now := es.clock().Unix()
	tx, err := es.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.ExternalUser{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM external_user_access WHERE external_user_id = ?`, id); err != nil {
		return models.ExternalUser{}, err
	}
	if req.Revoke {
		if _, err := tx.ExecContext(ctx, `
			UPDATE external_users SET status = 'revoked', invite_token = NULL, invite_expires_at = NULL, updated_at = ?
			WHERE external_user_id = ?`, now, id); err != nil {
			return models.ExternalUser{}, err
		}
	} else {
		for _, pid := range ids {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO external_user_access (external_user_id, project_id, access_level, granted_by, granted_at)
				VALUES (?, ?, ?, ?, ?)`, id, pid, req.AccessLevel, claims.UserID, now); err != nil {
				return models.ExternalUser{}, err
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE external_users SET updated_at = ? WHERE external_user_id = ?`, now, id); err != nil {
			return models.ExternalUser{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return models.ExternalUser{}, err
	}
	return es.Get(ctx, id)
}

// ResetPassword emails an active guest a new temporary password.
func (es *ExternalService) ResetPassword(ctx context.Context, id int64) error {
	u, err := es.Get(ctx, id)
	if err != nil {
		return err
	}
	if u.Status != models.ExternalActive {
		return response.Conflict("Only active guests can have their password reset")
	}
	password, err := auth.GenerateTemporaryPassword()
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if _, err := es.DB.ExecContext(ctx,
		`UPDATE external_users SET password_hash = ?, updated_at = ? WHERE external_user_id = ?`,
		hash, es.clock().Unix(), id); err != nil {
		return err
	}

	html, err := mailer.Render("temporary_password", mailer.TemporaryPasswordData{
		Name:       guestName(u),
		Password:   password,
		Link:       es.AppURL + "/external/login",
		MustChange: false,
	})
	if err != nil {
		return err
	}
	if err := es.Mailer.Send(ctx, mailer.Message{
		To:      []string{u.Email},
		Subject: "Your new ProjectDesk password",
		HTML:    html,
	}); err != nil {
		return response.NewError(http.StatusBadGateway, "Password was reset but the email could not be sent")
	}
	return nil
}

func (es *ExternalService) Delete(ctx context.Context, id int64) error {
	result, err := es.DB.ExecContext(ctx, `DELETE FROM external_users WHERE external_user_id = ?`, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return response.NotFound("External user")
	}
	return nil
}

func (es *ExternalService) issue(u models.ExternalUser) (string, error) {
	return auth.IssueToken(es.Secret, es.TokenTTL, auth.Claims{
		UserID: u.ExternalUserID,
		Email:  u.Email,
		Kind:   auth.KindExternal,
	})
}

// Accept activates an invitation with the guest's chosen password and
// signs them in.
func (es *ExternalService) Accept(ctx context.Context, token, password string) (string, models.ExternalUser, error) {
	if _, err := uuid.Parse(token); err != nil {
		return "", models.ExternalUser{}, response.NotFound("Invitation")
	}
	if err := auth.ValidatePassword(password); err != nil {
		return "", models.ExternalUser{}, response.BadRequest("%s", err.Error())
	}
	u, err := scanExternal(es.DB.QueryRowContext(ctx,
		`SELECT `+externalColumns+` FROM external_users WHERE invite_token = ?`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return "", u, response.NotFound("Invitation")
	}
	if err != nil {
		return "", u, err
	}
	now := es.clock()
	if u.Status != models.ExternalInvited || u.InviteExpires == nil || now.Unix() > *u.InviteExpires {
		return "", u, errInviteExpired
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return "", u, err
	}
	if _, err := es.DB.ExecContext(ctx, `
		UPDATE external_users SET password_hash = ?, status = 'active', invite_token = NULL,
			invite_expires_at = NULL, updated_at = ?
		WHERE external_user_id = ? AND invite_token = ?`,
		hash, now.Unix(), u.ExternalUserID, token); err != nil {
		return "", u, err
	}
	u.Status = models.ExternalActive
	u.InviteExpires = nil

	signed, err := es.issue(u)
	return signed, u, err
}

func (es *ExternalService) Login(ctx context.Context, email, password string) (string, models.ExternalUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var (
		u    models.ExternalUser
		hash sql.NullString
	)
	err := es.DB.QueryRowContext(ctx, `
		SELECT external_user_id, email, first_name, last_name, company, status, password_hash
		FROM external_users WHERE email = ?`, email).
		Scan(&u.ExternalUserID, &u.Email, &u.FirstName, &u.LastName, &u.Company, &u.Status, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", u, errBadCredentials
	}
	if err != nil {
		return "", u, err
	}
	if !hash.Valid || auth.CheckPassword(hash.String, password) != nil {
		return "", u, errBadCredentials
	}
	if u.Status != models.ExternalActive {
		return "", u, response.Forbidden("Guest access has been revoked")
	}
	signed, err := es.issue(u)
	return signed, u, err
}

// GuestProject is a project as seen by a guest.
type GuestProject struct {
	models.Project
	AccessLevel models.AccessLevel `json:"access_level"`
	Tasks       []models.Task      `json:"tasks,omitempty"`
}

// GuestProjects lists the projects granted to the calling guest.
func (es *ExternalService) GuestProjects(ctx context.Context, claims *auth.Claims) ([]GuestProject, error) {
	grants, err := es.access(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	out := []GuestProject{}
	for _, g := range grants[claims.UserID] {
		p, err := es.Projects.Load(ctx, g.ProjectID)
		if err != nil {
			return nil, err
		}
		out = append(out, GuestProject{Project: p, AccessLevel: g.AccessLevel})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AccessLevel returns the guest's grant on a project, or a not-found error
// when there is none.
func (es *ExternalService) AccessLevel(ctx context.Context, externalID, projectID int64) (models.AccessLevel, error) {
	var level models.AccessLevel
	err := es.DB.QueryRowContext(ctx,
		`SELECT access_level FROM external_user_access WHERE external_user_id = ? AND project_id = ?`,
		externalID, projectID).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return "", response.NotFound("Project")
	}
	return level, err
}

// GuestProject returns one granted project with its tasks.
func (es *ExternalService) GuestProject(ctx context.Context, claims *auth.Claims, projectID int64) (GuestProject, error) {
	if err := es.Projects.CheckAccess(ctx, claims, projectID); err != nil {
		return GuestProject{}, err
	}
	level, err := es.AccessLevel(ctx, claims.UserID, projectID)
	if err != nil {
		return GuestProject{}, err
	}
	p, err := es.Projects.Load(ctx, projectID)
	if err != nil {
		return GuestProject{}, err
	}
	tasks, err := es.Tasks.ProjectTasks(ctx, projectID)
	if err != nil {
		return GuestProject{}, err
	}
	return GuestProject{Project: p, AccessLevel: level, Tasks: tasks}, nil
}

func (es *ExternalService) InviteExternalUser(w http.ResponseWriter, r *http.Request) {
	var req InviteRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	u, emailed, err := es.Invite(r.Context(), claims, req)
	if err != nil {
		response.Failure(w, r, es.Log, "Failed to invite external user", err)
		return
	}
	es.Log.WithContext(r.Context()).Audit("External user invited",
		"external_user_id", u.ExternalUserID, "by", claims.UserID, "projects", len(u.Access))
	response.Created(w, map[string]interface{}{
		"external_user":   u,
		"invitation_sent": emailed,
	})
}

func (es *ExternalService) ListExternalUsers(w http.ResponseWriter, r *http.Request) {
	users, err := es.List(r.Context())
	if err != nil {
		response.Failure(w, r, es.Log, "Failed to list external users", err)
		return
	}
	response.OK(w, users)
}

func (es *ExternalService) GetExternalUser(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	u, err := es.Get(r.Context(), id)
	if err != nil {
		response.Failure(w, r, es.Log, "Failed to get external user", err)
		return
	}
	response.OK(w, u)
}

func (es *ExternalService) UpdateExternalAccess(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	var req AccessRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	u, err := es.UpdateAccess(r.Context(), claims, id, req)
	if err != nil {
		response.Failure(w, r, es.Log, "Failed to update external access", err)
		return
	}
	es.Log.WithContext(r.Context()).Audit("External access updated",
		"external_user_id", id, "by", claims.UserID, "revoked", req.Revoke)
	response.OK(w, u)
}

func (es *ExternalService) ResetExternalPassword(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	if err := es.ResetPassword(r.Context(), id); err != nil {
		response.Failure(w, r, es.Log, "Failed to reset external password", err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	es.Log.WithContext(r.Context()).Audit("External password reset", "external_user_id", id, "by", claims.UserID)
	response.OK(w, map[string]string{"message": "A new password has been emailed"})
}

func (es *ExternalService) DeleteExternalUser(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	if err := es.Delete(r.Context(), id); err != nil {
		response.Failure(w, r, es.Log, "Failed to delete external user", err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	es.Log.WithContext(r.Context()).Audit("External user deleted", "external_user_id", id, "by", claims.UserID)
	response.OK(w, map[string]string{"message": "External user deleted"})
}

type acceptRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (es *ExternalService) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	token, u, err := es.Accept(r.Context(), req.Token, req.Password)
	if err != nil {
		response.Failure(w, r, es.Log, "Failed to accept invitation", err)
		return
	}
	es.Log.WithContext(r.Context()).Info("Invitation accepted", "external_user_id", u.ExternalUserID)
	response.OK(w, map[string]interface{}{"token": token, "external_user": u})
}

func (es *ExternalService) ExternalLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	token, u, err := es.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		response.Failure(w, r, es.Log, "External login failed", err)
		return
	}
	es.Log.WithContext(r.Context()).Info("External user logged in", "external_user_id", u.ExternalUserID)
	response.OK(w, map[string]interface{}{"token": token, "external_user": u})
}

func (es *ExternalService) ListGuestProjects(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())
	projects, err := es.GuestProjects(r.Context(), claims)
	if err != nil {
		response.Failure(w, r, es.Log, "Failed to list guest projects", err)
		return
	}
	response.OK(w, projects)
}

func (es *ExternalService) GetGuestProject(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	p, err := es.GuestProject(r.Context(), claims, id)
	if err != nil {
		response.Failure(w, r, es.Log, "Failed to get guest project", err)
		return
	}
	response.OK(w, p)
}
