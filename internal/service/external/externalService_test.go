package externalService

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhil/projectdesk/internal/auth"
	"github.com/nikhil/projectdesk/internal/models"
	"github.com/nikhil/projectdesk/internal/response"
	"github.com/nikhil/projectdesk/internal/testutil"
)

const secret = "test-secret"

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

var externalCols = []string{"external_user_id", "email", "first_name", "last_name", "company", "status",
	"invite_expires_at", "invited_by", "created_at", "updated_at"}

type fakeProjects struct {
	names    map[int64]string
	memberOf map[int64]bool
}

func (f fakeProjects) CheckAccess(_ context.Context, claims *auth.Claims, id int64) error {
	if _, ok := f.names[id]; !ok {
		return response.NotFound("Project")
	}
	if claims.IsAdmin() || f.memberOf[id] {
		return nil
	}
	return response.NotFound("Project")
}

func (f fakeProjects) Load(_ context.Context, id int64) (models.Project, error) {
	name, ok := f.names[id]
	if !ok {
		return models.Project{}, response.NotFound("Project")
	}
	return models.Project{ProjectID: id, Name: name, Status: models.ProjectActive}, nil
}

type fakeTasks struct{}

func (fakeTasks) ProjectTasks(_ context.Context, projectID int64) ([]models.Task, error) {
	return []models.Task{{TaskID: 1, ProjectID: projectID, Title: "Kickoff", Status: models.TaskDone}}, nil
}

func newService(t *testing.T, projects fakeProjects) (*ExternalService, sqlmock.Sqlmock, *testutil.Mailbox) {
	t.Helper()
	db, mock := testutil.NewMockDB(t)
	box := &testutil.Mailbox{}
	s := NewExternalService(db, box, projects, fakeTasks{}, Options{
		Secret:    secret,
		TokenTTL:  time.Hour,
		InviteTTL: 7 * 24 * time.Hour,
		AppURL:    "https://desk.example/",
	})
	s.now = func() time.Time { return fixedNow }
	return s, mock, box
}

func statusOf(err error) int {
	var e *response.Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

func apollo() fakeProjects {
	return fakeProjects{names: map[int64]string{4: "Apollo", 5: "Gemini"}, memberOf: map[int64]bool{4: true}}
}

func TestInviteNewGuest(t *testing.T) {
	s, mock, box := newService(t, apollo())

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT external_user_id, status FROM external_users WHERE email = \? FOR UPDATE`).
		WithArgs("guest@client.com").
		WillReturnRows(sqlmock.NewRows([]string{"external_user_id", "status"}))
	mock.ExpectExec(`INSERT INTO external_users`).
		WithArgs("guest@client.com", "Grace", "Hopper", "Client Co", sqlmock.AnyArg(),
			fixedNow.Add(7*24*time.Hour).Unix(), int64(2), fixedNow.Unix(), fixedNow.Unix()).
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectExec(`INSERT INTO external_user_access`).
		WithArgs(int64(11), int64(4), models.AccessComment, int64(2), fixedNow.Unix()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	u, emailed, err := s.Invite(context.Background(), testutil.Manager(2), InviteRequest{
		Email:       " Guest@Client.com ",
		FirstName:   "Grace",
		LastName:    "Hopper",
		Company:     "Client Co",
		ProjectIDs:  []int64{4, 4},
		AccessLevel: models.AccessComment,
	})
	require.NoError(t, err)
	assert.True(t, emailed)
	assert.Equal(t, int64(11), u.ExternalUserID)
	assert.Equal(t, models.ExternalInvited, u.Status)
	require.Len(t, u.Access, 1)

	sent := box.Messages()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"guest@client.com"}, sent[0].To)
	assert.Contains(t, sent[0].HTML, "Apollo")

	_, link, ok := strings.Cut(sent[0].HTML, "https://desk.example/external/accept?token=")
	require.True(t, ok)
	_, err = uuid.Parse(link[:36])
	assert.NoError(t, err)
}

func TestReinviteRevokedGuest(t *testing.T) {
	s, mock, _ := newService(t, apollo())

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM external_users WHERE email = \? FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"external_user_id", "status"}).AddRow(8, "revoked"))
	mock.ExpectExec(`UPDATE external_users SET first_name = \?`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO external_user_access`).
		WithArgs(int64(8), int64(4), models.AccessView, int64(1), fixedNow.Unix()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	u, _, err := s.Invite(context.Background(), testutil.Admin(1), InviteRequest{
		Email:      "guest@client.com",
		ProjectIDs: []int64{4},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8), u.ExternalUserID)
	assert.Equal(t, models.AccessView, u.Access[0].AccessLevel)
}

func TestInviteActiveGuestConflicts(t *testing.T) {
	s, mock, box := newService(t, apollo())

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM external_users WHERE email = \? FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"external_user_id", "status"}).AddRow(8, "active"))
	mock.ExpectRollback()

	_, _, err := s.Invite(context.Background(), testutil.Admin(1), InviteRequest{
		Email:      "guest@client.com",
		ProjectIDs: []int64{4},
	})
	assert.Equal(t, http.StatusConflict, statusOf(err))
	assert.Empty(t, box.Messages())
}

func TestInviteValidation(t *testing.T) {
	s, _, _ := newService(t, apollo())
	ctx := context.Background()

	_, _, err := s.Invite(ctx, testutil.Admin(1), InviteRequest{Email: "nope", ProjectIDs: []int64{4}})
	assert.Equal(t, http.StatusBadRequest, statusOf(err))

	_, _, err = s.Invite(ctx, testutil.Admin(1), InviteRequest{Email: "g@client.com"})
	assert.EqualError(t, err, "At least one project is required")

	_, _, err = s.Invite(ctx, testutil.Admin(1), InviteRequest{Email: "g@client.com", ProjectIDs: []int64{4}, AccessLevel: "edit"})
	assert.Equal(t, http.StatusBadRequest, statusOf(err))

	// managers can only grant projects they belong to
	_, _, err = s.Invite(ctx, testutil.Manager(2), InviteRequest{Email: "g@client.com", ProjectIDs: []int64{5}})
	assert.Equal(t, http.StatusNotFound, statusOf(err))
}

func TestInviteHandlerReportsMailFailure(t *testing.T) {
	s, mock, box := newService(t, apollo())
	box.Err = errors.New("smtp down")

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(sqlmock.NewRows([]string{"external_user_id", "status"}))
	mock.ExpectExec(`INSERT INTO external_users`).WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectExec(`INSERT INTO external_user_access`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	r := testutil.Request(t, http.MethodPost, "/external-users/invite",
		map[string]interface{}{"email": "g@client.com", "project_ids": []int64{4}}, testutil.Admin(1), nil)
	code, env := testutil.Serve(t, s.InviteExternalUser, r)
	require.Equal(t, http.StatusCreated, code)

	var body struct {
		ExternalUser   models.ExternalUser `json:"external_user"`
		InvitationSent bool                `json:"invitation_sent"`
	}
	env.Into(t, &body)
	assert.False(t, body.InvitationSent)
	assert.Equal(t, int64(3), body.ExternalUser.ExternalUserID)
}

func invitedRow(expires int64, status string) *sqlmock.Rows {
	return sqlmock.NewRows(externalCols).
		AddRow(8, "guest@client.com", "Grace", "Hopper", "", status, expires, 1, 100, 100)
}

func TestAcceptInvitation(t *testing.T) {
	s, mock, _ := newService(t, apollo())
	token := uuid.NewString()

	mock.ExpectQuery(`FROM external_users WHERE invite_token = \?`).WithArgs(token).
		WillReturnRows(invitedRow(fixedNow.Add(time.Hour).Unix(), "invited"))
	mock.ExpectExec(`UPDATE external_users SET password_hash = \?, status = 'active'`).
		WithArgs(sqlmock.AnyArg(), fixedNow.Unix(), int64(8), token).
		WillReturnResult(sqlmock.NewResult(0, 1))

	signed, u, err := s.Accept(context.Background(), token, "guestpass1")
	require.NoError(t, err)
	assert.Equal(t, models.ExternalActive, u.Status)
	assert.Nil(t, u.InviteExpires)

	claims, err := auth.ParseToken(secret, signed)
	require.NoError(t, err)
	assert.Equal(t, auth.KindExternal, claims.Kind)
	assert.Equal(t, int64(8), claims.UserID)
}

func TestAcceptRejects(t *testing.T) {
	t.Run("malformed token", func(t *testing.T) {
		s, _, _ := newService(t, apollo())
		_, _, err := s.Accept(context.Background(), "abc", "guestpass1")
		assert.Equal(t, http.StatusNotFound, statusOf(err))
	})
	t.Run("short password", func(t *testing.T) {
		s, _, _ := newService(t, apollo())
		_, _, err := s.Accept(context.Background(), uuid.NewString(), "short")
		assert.Equal(t, http.StatusBadRequest, statusOf(err))
	})
	t.Run("expired", func(t *testing.T) {
		s, mock, _ := newService(t, apollo())
		mock.ExpectQuery(`WHERE invite_token = \?`).
			WillReturnRows(invitedRow(fixedNow.Add(-time.Minute).Unix(), "invited"))
		_, _, err := s.Accept(context.Background(), uuid.NewString(), "guestpass1")
		assert.Equal(t, http.StatusGone, statusOf(err))
	})
	t.Run("unknown", func(t *testing.T) {
		s, mock, _ := newService(t, apollo())
		mock.ExpectQuery(`WHERE invite_token = \?`).WillReturnRows(sqlmock.NewRows(externalCols))
		_, _, err := s.Accept(context.Background(), uuid.NewString(), "guestpass1")
		assert.Equal(t, http.StatusNotFound, statusOf(err))
	})
}

func TestExternalLogin(t *testing.T) {
	hash, err := auth.HashPassword("guestpass1")
	require.NoError(t, err)
	cols := []string{"external_user_id", "email", "first_name", "last_name", "company", "status", "password_hash"}

	t.Run("active", func(t *testing.T) {
		s, mock, _ := newService(t, apollo())
		mock.ExpectQuery(`FROM external_users WHERE email = \?`).WithArgs("guest@client.com").
			WillReturnRows(sqlmock.NewRows(cols).AddRow(8, "guest@client.com", "", "", "", "active", hash))
		signed, _, err := s.Login(context.Background(), "Guest@client.com", "guestpass1")
		require.NoError(t, err)
		claims, err := auth.ParseToken(secret, signed)
		require.NoError(t, err)
		assert.Equal(t, auth.KindExternal, claims.Kind)
	})
	t.Run("revoked", func(t *testing.T) {
		s, mock, _ := newService(t, apollo())
		mock.ExpectQuery(`FROM external_users WHERE email = \?`).
			WillReturnRows(sqlmock.NewRows(cols).AddRow(8, "guest@client.com", "", "", "", "revoked", hash))
		_, _, err := s.Login(context.Background(), "guest@client.com", "guestpass1")
		assert.Equal(t, http.StatusForbidden, statusOf(err))
	})
	t.Run("not accepted", func(t *testing.T) {
		s, mock, _ := newService(t, apollo())
		mock.ExpectQuery(`FROM external_users WHERE email = \?`).
			WillReturnRows(sqlmock.NewRows(cols).AddRow(8, "guest@client.com", "", "", "", "invited", nil))
		_, _, err := s.Login(context.Background(), "guest@client.com", "guestpass1")
		assert.Equal(t, http.StatusUnauthorized, statusOf(err))
	})
}

func expectGet(mock sqlmock.Sqlmock, id int64, status string) {
	mock.ExpectQuery(`FROM external_users WHERE external_user_id = \?`).WithArgs(id).
		WillReturnRows(sqlmock.NewRows(externalCols).
			AddRow(id, "guest@client.com", "Grace", "", "", status, nil, 1, 100, 100))
	mock.ExpectQuery(`FROM external_user_access a JOIN projects p`).WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"external_user_id", "project_id", "name", "access_level", "granted_at"}).
			AddRow(id, 4, "Apollo", "view", 100))
}

func TestUpdateAccessRevoke(t *testing.T) {
	s, mock, _ := newService(t, apollo())

	expectGet(mock, 8, "active")
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM external_user_access WHERE external_user_id = \?`).WithArgs(int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE external_users SET status = 'revoked'`).WithArgs(fixedNow.Unix(), int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectGet(mock, 8, "revoked")

	u, err := s.UpdateAccess(context.Background(), testutil.Admin(1), 8, AccessRequest{Revoke: true})
	require.NoError(t, err)
	assert.Equal(t, models.ExternalRevoked, u.Status)
}

func TestUpdateAccessReplacesProjects(t *testing.T) {
	s, mock, _ := newService(t, apollo())

	expectGet(mock, 8, "active")
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM external_user_access`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO external_user_access`).
		WithArgs(int64(8), int64(4), models.AccessComment, int64(1), fixedNow.Unix()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO external_user_access`).
		WithArgs(int64(8), int64(5), models.AccessComment, int64(1), fixedNow.Unix()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE external_users SET updated_at = \?`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectGet(mock, 8, "active")

	_, err := s.UpdateAccess(context.Background(), testutil.Admin(1), 8, AccessRequest{
		ProjectIDs:  []int64{4, 5},
		AccessLevel: models.AccessComment,
	})
	require.NoError(t, err)
}

func TestUpdateAccessNeedsProjects(t *testing.T) {
	s, mock, _ := newService(t, apollo())
	expectGet(mock, 8, "active")

	_, err := s.UpdateAccess(context.Background(), testutil.Admin(1), 8, AccessRequest{})
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
}

func TestResetPassword(t *testing.T) {
	s, mock, box := newService(t, apollo())

	expectGet(mock, 8, "active")
	mock.ExpectExec(`UPDATE external_users SET password_hash = \?, updated_at = \?`).
		WithArgs(sqlmock.AnyArg(), fixedNow.Unix(), int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.ResetPassword(context.Background(), 8))
	require.Len(t, box.Messages(), 1)
	assert.Equal(t, []string{"guest@client.com"}, box.Messages()[0].To)
}

func TestResetPasswordRequiresActiveGuest(t *testing.T) {
	s, mock, box := newService(t, apollo())
	expectGet(mock, 8, "invited")

	assert.Equal(t, http.StatusConflict, statusOf(s.ResetPassword(context.Background(), 8)))
	assert.Empty(t, box.Messages())
}

func TestDeleteMissingGuest(t *testing.T) {
	s, mock, _ := newService(t, apollo())
	mock.ExpectExec(`DELETE FROM external_users`).WithArgs(int64(9)).WillReturnResult(sqlmock.NewResult(0, 0))

	assert.Equal(t, http.StatusNotFound, statusOf(s.Delete(context.Background(), 9)))
}

func TestGuestProject(t *testing.T) {
	projects := apollo()
	projects.memberOf = map[int64]bool{4: true}
	s, mock, _ := newService(t, projects)

	mock.ExpectQuery(`SELECT access_level FROM external_user_access`).WithArgs(int64(8), int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"access_level"}).AddRow("comment"))

	p, err := s.GuestProject(context.Background(), testutil.External(8), 4)
	require.NoError(t, err)
	assert.Equal(t, "Apollo", p.Name)
	assert.Equal(t, models.AccessComment, p.AccessLevel)
	require.Len(t, p.Tasks, 1)

	_, err = s.GuestProject(context.Background(), testutil.External(8), 5)
	assert.Equal(t, http.StatusNotFound, statusOf(err))
}

func TestAccessLevel(t *testing.T) {
	s, mock, _ := newService(t, apollo())

	mock.ExpectQuery(`SELECT access_level FROM external_user_access`).WithArgs(int64(8), int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"access_level"}).AddRow("view"))
	level, err := s.AccessLevel(context.Background(), 8, 4)
	require.NoError(t, err)
	assert.Equal(t, models.AccessView, level)

	mock.ExpectQuery(`SELECT access_level FROM external_user_access`).WithArgs(int64(8), int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"access_level"}))
	_, err = s.AccessLevel(context.Background(), 8, 9)
	assert.Equal(t, http.StatusNotFound, statusOf(err))
}
