package userService

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhil/projectdesk/internal/logger"
	"github.com/nikhil/projectdesk/internal/models"
	"github.com/nikhil/projectdesk/internal/testutil"
)

var profileCols = []string{"user_id", "email", "first_name", "last_name", "contact_number", "role",
	"department_id", "is_active", "must_change_password", "created_at", "updated_at"}

func newService(t *testing.T) (*UserService, sqlmock.Sqlmock, *testutil.Mailbox) {
	db, mock := testutil.NewMockDB(t)
	box := &testutil.Mailbox{}
	return &UserService{DB: db, Mailer: box, AppURL: "https://app.example.com", Log: logger.Nop()}, mock, box
}

func TestCreateUserWithTemporaryPassword(t *testing.T) {
	us, mock, box := newService(t)
	mock.ExpectExec(`INSERT INTO profiles`).
		WithArgs("new@example.com", sqlmock.AnyArg(), "Ada", "Lovelace", "", models.RoleManager,
			sqlmock.AnyArg(), true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(11, 1))

	req := testutil.Request(t, http.MethodPost, "/admin/users", map[string]interface{}{
		"email": " New@Example.com ", "first_name": "Ada", "last_name": "Lovelace", "role": "manager",
	}, testutil.Admin(1), nil)
	code, env := testutil.Serve(t, us.CreateUser, req)

	require.Equal(t, http.StatusCreated, code, env.Error)
	var body struct {
		User models.Profile `json:"user"`
		Sent bool           `json:"temporary_password_sent"`
	}
	env.Into(t, &body)
	assert.Equal(t, int64(11), body.User.UserID)
	assert.True(t, body.User.MustChangePassword)
	assert.True(t, body.Sent)

	sent := box.Messages()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"new@example.com"}, sent[0].To)
	assert.Contains(t, sent[0].HTML, "https://app.example.com/login")
}

func TestCreateUserWithPasswordSendsNoEmail(t *testing.T) {
	us, mock, box := newService(t)
	mock.ExpectExec(`INSERT INTO profiles`).WillReturnResult(sqlmock.NewResult(3, 1))

	p, emailed, err := us.Create(context.Background(), CreateUserRequest{
		Email: "dev@example.com", Password: "correct horse",
	})
	require.NoError(t, err)
	assert.False(t, emailed)
	assert.False(t, p.MustChangePassword)
	assert.Equal(t, models.RoleMember, p.Role)
	assert.Empty(t, box.Messages())
}

func TestCreateUserValidation(t *testing.T) {
	us, _, _ := newService(t)
	tests := []struct {
		name string
		body map[string]interface{}
		want string
	}{
		{"bad email", map[string]interface{}{"email": "not-an-email"}, "Invalid email address"},
		{"short password", map[string]interface{}{"email": "a@example.com", "password": "short"}, "password must be at least 8 characters"},
		{"bad role", map[string]interface{}{"email": "a@example.com", "role": "owner"}, `Invalid role "owner"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.Request(t, http.MethodPost, "/admin/users", tt.body, testutil.Admin(1), nil)
			code, env := testutil.Serve(t, us.CreateUser, req)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, tt.want, env.Error)
		})
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	us, mock, _ := newService(t)
	mock.ExpectExec(`INSERT INTO profiles`).WillReturnError(&mysql.MySQLError{Number: 1062})

	req := testutil.Request(t, http.MethodPost, "/admin/users",
		map[string]interface{}{"email": "dup@example.com", "password": "longenough"}, testutil.Admin(1), nil)
	code, _ := testutil.Serve(t, us.CreateUser, req)
	assert.Equal(t, http.StatusConflict, code)
}

func TestUnknownDepartmentIsBadRequest(t *testing.T) {
	us, mock, _ := newService(t)
	mock.ExpectExec(`INSERT INTO profiles`).WillReturnError(&mysql.MySQLError{Number: 1452})

	req := testutil.Request(t, http.MethodPost, "/admin/users",
		map[string]interface{}{"email": "dev@example.com", "password": "longenough", "department_id": 99}, testutil.Admin(1), nil)
	code, env := testutil.Serve(t, us.CreateUser, req)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Department does not exist", env.Error)

	mock.ExpectQuery(`FROM profiles WHERE user_id = \?`).WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows(profileCols).
			AddRow(4, "dev@example.com", "Dev", "One", "", "member", nil, true, false, 1, 1))
	mock.ExpectExec(`UPDATE profiles SET first_name = \?`).WillReturnError(&mysql.MySQLError{Number: 1452})

	dept := int64(99)
	_, err := us.Update(context.Background(), 4, UpdateUserRequest{DepartmentID: &dept})
	assert.EqualError(t, err, "Department does not exist")
}

func TestDeleteSelfIsRejected(t *testing.T) {
	us, _, _ := newService(t)
	req := testutil.Request(t, http.MethodDelete, "/admin/users/1", nil, testutil.Admin(1), map[string]string{"id": "1"})
	code, env := testutil.Serve(t, us.DeleteUser, req)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "You cannot delete your own account", env.Error)
}

func TestBulkDeleteContinuesPastFailures(t *testing.T) {
	us, mock, _ := newService(t)
	del := regexp.QuoteMeta(`DELETE FROM profiles WHERE user_id = ?`)
	mock.ExpectExec(del).WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(del).WithArgs(int64(3)).WillReturnError(&mysql.MySQLError{Number: 1451})
	mock.ExpectExec(del).WithArgs(int64(4)).WillReturnError(errors.New("connection reset"))
	mock.ExpectExec(del).WithArgs(int64(5)).WillReturnResult(sqlmock.NewResult(0, 0))

	req := testutil.Request(t, http.MethodPost, "/admin/users/bulk-delete",
		map[string]interface{}{"user_ids": []int64{1, 2, 3, 4, 5}}, testutil.Admin(1), nil)
	code, env := testutil.Serve(t, us.BulkDeleteUsers, req)

	require.Equal(t, http.StatusOK, code)
	var result BulkResult
	env.Into(t, &result)
	assert.Equal(t, []int64{2}, result.Deleted)
	assert.Equal(t, []BulkFailure{
		{ID: 1, Error: "You cannot delete your own account"},
		{ID: 3, Error: "User still owns projects"},
		{ID: 4, Error: "internal error"},
		{ID: 5, Error: "User not found"},
	}, result.Failed)
}

func TestSendTemporaryPassword(t *testing.T) {
	us, mock, box := newService(t)
	mock.ExpectQuery(`SELECT user_id, email`).WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows(profileCols).
			AddRow(8, "sam@example.com", "Sam", "Lee", "", "member", nil, true, false, 1, 1))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE profiles SET password_hash = \?, must_change_password = 1`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE password_reset_requests SET status = 'resolved'`).
		WithArgs(sqlmock.AnyArg(), int64(1), int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	req := testutil.Request(t, http.MethodPost, "/admin/users/8/temporary-password", nil, testutil.Admin(1), map[string]string{"id": "8"})
	code, env := testutil.Serve(t, us.SendTemporaryPasswordHandler, req)

	require.Equal(t, http.StatusOK, code, env.Error)
	sent := box.Messages()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"sam@example.com"}, sent[0].To)
	assert.Contains(t, sent[0].HTML, "Sam Lee")
}

func TestSendTemporaryPasswordMailFailure(t *testing.T) {
	us, mock, box := newService(t)
	box.Err = errors.New("smtp down")
	mock.ExpectQuery(`SELECT user_id, email`).
		WillReturnRows(sqlmock.NewRows(profileCols).
			AddRow(8, "sam@example.com", "", "", "", "member", nil, true, false, 1, 1))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE profiles`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE password_reset_requests`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	req := testutil.Request(t, http.MethodPost, "/", nil, testutil.Admin(1), map[string]string{"id": "8"})
	code, _ := testutil.Serve(t, us.SendTemporaryPasswordHandler, req)
	assert.Equal(t, http.StatusBadGateway, code)
}

func TestListUsersFilters(t *testing.T) {
	us, mock, _ := newService(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM profiles WHERE 1 = 1 AND department_id = ? AND role = ?`)).
		WithArgs(int64(2), models.RoleMember).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT user_id, email`).
		WithArgs(int64(2), models.RoleMember, 20, 0).
		WillReturnRows(sqlmock.NewRows(profileCols).
			AddRow(4, "m@example.com", "M", "N", "", "member", 2, true, false, 1, 1))

	req := testutil.Request(t, http.MethodGet, "/admin/users?department_id=2&role=member", nil, testutil.Admin(1), nil)
	code, env := testutil.Serve(t, us.ListUsers, req)

	require.Equal(t, http.StatusOK, code, env.Error)
	var list struct {
		Items      []models.Profile `json:"items"`
		TotalCount int              `json:"total_count"`
	}
	env.Into(t, &list)
	assert.Equal(t, 1, list.TotalCount)
	require.Len(t, list.Items, 1)
	assert.Equal(t, int64(2), *list.Items[0].DepartmentID)
}

func TestDismissResetRequestNotPending(t *testing.T) {
	us, mock, _ := newService(t)
	mock.ExpectExec(`UPDATE password_reset_requests SET status = 'dismissed'`).
		WithArgs(sqlmock.AnyArg(), int64(1), int64(6)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	req := testutil.Request(t, http.MethodPost, "/", nil, testutil.Admin(1), map[string]string{"id": "6"})
	code, _ := testutil.Serve(t, us.DismissResetRequestHandler, req)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSavePreferenceRequiresObject(t *testing.T) {
	us, _, _ := newService(t)
	req := testutil.Request(t, http.MethodPut, "/user/preferences/board",
		`{"settings":[1,2]}`, testutil.Member(5), map[string]string{"view_key": "board"})
	code, env := testutil.Serve(t, us.PutPreference, req)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "settings must be a JSON object", env.Error)
}

func TestPreferenceRoundTrip(t *testing.T) {
	us, mock, _ := newService(t)
	mock.ExpectExec(`INSERT INTO user_view_preferences`).
		WithArgs(int64(5), "board", `{"columns":["todo"]}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT settings FROM user_view_preferences`).
		WithArgs(int64(5), "list").
		WillReturnRows(sqlmock.NewRows([]string{"settings"}))

	req := testutil.Request(t, http.MethodPut, "/user/preferences/board",
		`{"settings":{"columns":["todo"]}}`, testutil.Member(5), map[string]string{"view_key": "board"})
	code, _ := testutil.Serve(t, us.PutPreference, req)
	assert.Equal(t, http.StatusOK, code)

	req = testutil.Request(t, http.MethodGet, "/user/preferences/list", nil, testutil.Member(5), map[string]string{"view_key": "list"})
	code, env := testutil.Serve(t, us.GetPreference, req)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"view_key":"list","settings":{}}`, string(env.Data))
}

func TestGetUserProfile(t *testing.T) {
	us, mock, _ := newService(t)
	mock.ExpectQuery(`SELECT p.user_id, p.email`).WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "email", "contact_number", "first_name", "last_name",
			"role", "department_id", "department_name", "must_change_password", "created_at"}).
			AddRow(int64(5), []byte("m@example.com"), []byte(""), []byte("Mia"), []byte("Ng"), []byte("member"), nil, []byte(""), int64(0), int64(1)))

	code, env := testutil.Serve(t, us.GetUserProfile, testutil.Request(t, http.MethodGet, "/user/profile", nil, testutil.Member(5), nil))
	require.Equal(t, http.StatusOK, code)
	var user map[string]interface{}
	env.Into(t, &user)
	assert.Equal(t, "Mia Ng", user["name"])
}
