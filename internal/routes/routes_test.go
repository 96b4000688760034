package routes

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhil/projectdesk/internal/auth"
	"github.com/nikhil/projectdesk/internal/handlers"
	"github.com/nikhil/projectdesk/internal/logger"
	"github.com/nikhil/projectdesk/internal/realtime"
	"github.com/nikhil/projectdesk/internal/scheduler"
	services "github.com/nikhil/projectdesk/internal/service/auth"
	chatService "github.com/nikhil/projectdesk/internal/service/chat"
	departmentService "github.com/nikhil/projectdesk/internal/service/departments"
	documentService "github.com/nikhil/projectdesk/internal/service/documents"
	externalService "github.com/nikhil/projectdesk/internal/service/external"
	presenceService "github.com/nikhil/projectdesk/internal/service/presence"
	projectService "github.com/nikhil/projectdesk/internal/service/projects"
	reportService "github.com/nikhil/projectdesk/internal/service/reports"
	taskService "github.com/nikhil/projectdesk/internal/service/tasks"
	userService "github.com/nikhil/projectdesk/internal/service/users"
	"github.com/nikhil/projectdesk/internal/testutil"
)

const secret = "route-secret"

func newRouter(t *testing.T) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	box := &testutil.Mailbox{}
	projects := projectService.NewProjectService(db, nil)
	tasks := taskService.NewTaskService(db, projects, nil)
	jobs := scheduler.New(logger.Nop())
	t.Cleanup(jobs.Stop)
	sessions := services.NewAuthService(db, box, secret, time.Hour, "")
	external := externalService.NewExternalService(db, box, projects, tasks, externalService.Options{Secret: secret})
	tasks.Guests = external

	return RegisterAllRoutes(&Deps{
		DB:          db,
		Secret:      secret,
		CORSOrigins: []string{"https://desk.example"},
		Hub:         realtime.NewHub(nil, nil, logger.Nop()),
		Scheduler:   jobs,
		Accounts:    sessions,
		Auth:        handlers.NewAuthHandler(sessions),
		Users:       userService.NewUserService(db, box, ""),
		Departments: departmentService.NewDepartmentService(db),
		Projects:    projects,
		Tasks:       tasks,
		Chat:        chatService.NewChatService(db, nil),
		Presence:    presenceService.NewPresenceService(db, nil, time.Minute),
		Documents:   documentService.NewDocumentService(db, projects, nil),
		External:    external,
		Reports:     reportService.NewReportService(db, box, projects, tasks, ""),
	}), mock
}

func bearer(t *testing.T, claims *auth.Claims) string {
	t.Helper()
	tok, err := auth.IssueToken(secret, time.Hour, *claims)
	require.NoError(t, err)
	return "Bearer " + tok
}

// expectAccount queues the per-request account lookup for claims.
func expectAccount(mock sqlmock.Sqlmock, claims *auth.Claims) {
	if claims.Kind == auth.KindExternal {
		mock.ExpectQuery(`SELECT status FROM external_users`).
			WithArgs(claims.UserID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))
		return
	}
	mock.ExpectQuery(`SELECT role, is_active FROM profiles`).
		WithArgs(claims.UserID).
		WillReturnRows(sqlmock.NewRows([]string{"role", "is_active"}).AddRow(string(claims.Role), true))
}

func TestAccessGates(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		claims *auth.Claims
		want   int
	}{
		{"no token", http.MethodGet, "/projects", nil, http.StatusUnauthorized},
		{"guest on staff route", http.MethodGet, "/projects", testutil.External(3), http.StatusForbidden},
		{"staff on guest route", http.MethodGet, "/external/projects", testutil.Member(3), http.StatusForbidden},
		{"member creating department", http.MethodPost, "/departments", testutil.Member(3), http.StatusForbidden},
		{"member creating project", http.MethodPost, "/projects", testutil.Member(3), http.StatusForbidden},
		{"manager in admin area", http.MethodGet, "/admin/users", testutil.Manager(3), http.StatusForbidden},
		{"member managing guests", http.MethodGet, "/external-users", testutil.Member(3), http.StatusForbidden},
		{"unknown path", http.MethodGet, "/nope", nil, http.StatusNotFound},
		{"wrong method", http.MethodPatch, "/auth/login", nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, mock := newRouter(t)
			r := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.claims != nil {
				r.Header.Set("Authorization", bearer(t, tt.claims))
				expectAccount(mock, tt.claims)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAdminJobs(t *testing.T) {
	h, mock := newRouter(t)
	expectAccount(mock, testutil.Admin(1))

	r := httptest.NewRequest(http.MethodGet, "/admin/jobs", nil)
	r.Header.Set("Authorization", bearer(t, testutil.Admin(1)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	h, mock := newRouter(t)
	mock.ExpectPing()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreflight(t *testing.T) {
	h, _ := newRouter(t)

	r := httptest.NewRequest(http.MethodOptions, "/projects", nil)
	r.Header.Set("Origin", "https://desk.example")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://desk.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStaleTokens(t *testing.T) {
	tests := []struct {
		name   string
		claims *auth.Claims
		setup  func(mock sqlmock.Sqlmock)
		want   int
	}{
		{"deactivated admin", testutil.Admin(1), func(mock sqlmock.Sqlmock) {
			mock.ExpectQuery(`SELECT role, is_active FROM profiles`).WithArgs(int64(1)).
				WillReturnRows(sqlmock.NewRows([]string{"role", "is_active"}).AddRow("admin", false))
		}, http.StatusUnauthorized},
		{"deleted admin", testutil.Admin(1), func(mock sqlmock.Sqlmock) {
			mock.ExpectQuery(`SELECT role, is_active FROM profiles`).WithArgs(int64(1)).
				WillReturnRows(sqlmock.NewRows([]string{"role", "is_active"}))
		}, http.StatusUnauthorized},
		{"demoted admin", testutil.Admin(1), func(mock sqlmock.Sqlmock) {
			mock.ExpectQuery(`SELECT role, is_active FROM profiles`).WithArgs(int64(1)).
				WillReturnRows(sqlmock.NewRows([]string{"role", "is_active"}).AddRow("member", true))
		}, http.StatusForbidden},
		{"revoked guest", testutil.External(4), func(mock sqlmock.Sqlmock) {
			mock.ExpectQuery(`SELECT status FROM external_users`).WithArgs(int64(4)).
				WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("revoked"))
		}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, mock := newRouter(t)
			tt.setup(mock)

			path := "/admin/password-reset-requests"
			if tt.claims.Kind == auth.KindExternal {
				path = "/external/projects"
			}
			r := httptest.NewRequest(http.MethodGet, path, nil)
			r.Header.Set("Authorization", bearer(t, tt.claims))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestViewOnlyGuestCannotComment(t *testing.T) {
	h, mock := newRouter(t)
	guest := testutil.External(4)

	expectAccount(mock, guest)
	mock.ExpectQuery(`FROM tasks WHERE task_id = \?`).WithArgs(int64(21)).
		WillReturnRows(sqlmock.NewRows([]string{"task_id", "project_id", "title", "description", "status", "priority",
			"assignee_id", "due_date", "completed_at", "created_by", "created_at", "updated_at"}).
			AddRow(21, 7, "Draft", "", "todo", "medium", nil, nil, nil, 1, 1, 1))
	mock.ExpectQuery(`FROM external_user_access a`).WithArgs(int64(7), int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(`SELECT access_level FROM external_user_access`).WithArgs(int64(4), int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"access_level"}).AddRow("view"))

	r := httptest.NewRequest(http.MethodPost, "/external/tasks/21/comments", strings.NewReader(`{"content":"Ship it"}`))
	r.Header.Set("Authorization", bearer(t, guest))
	r.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}
