package taskService

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhil/projectdesk/internal/models"
	"github.com/nikhil/projectdesk/internal/response"
	"github.com/nikhil/projectdesk/internal/testutil"
)

// guestLevels maps a guest id to the level it holds on every project.
type guestLevels map[int64]models.AccessLevel

func (g guestLevels) AccessLevel(_ context.Context, externalID, _ int64) (models.AccessLevel, error) {
	if level, ok := g[externalID]; ok {
		return level, nil
	}
	return "", response.NotFound("Project")
}

var commentCols = []string{"comment_id", "task_id", "author_kind", "author_id", "author_name", "content", "created_at"}

func expectTask(mock sqlmock.Sqlmock, taskID, projectID int64) {
	mock.ExpectQuery(`FROM tasks WHERE task_id = \?`).WithArgs(taskID).
		WillReturnRows(sqlmock.NewRows(taskCols).AddRow(taskID, projectID, "Write copy", "", "todo", "medium", nil, nil, nil, 3, 1, 1))
}

func TestStaffAddsAndListsComments(t *testing.T) {
	ts, mock, events := newService(t)

	expectTask(mock, 21, 4)
	mock.ExpectExec(`INSERT INTO task_comments`).
		WithArgs(int64(21), "user", int64(3), "Looks good", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectQuery(`FROM task_comments c .* WHERE c.comment_id = \?`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(commentCols).AddRow(7, 21, "user", 3, "Maya Rao", "Looks good", 100))

	req := testutil.Request(t, http.MethodPost, "/tasks/21/comments", map[string]string{"content": "  Looks good "},
		testutil.Member(3), map[string]string{"id": "21"})
	code, env := testutil.Serve(t, ts.AddCommentHandler, req)
	require.Equal(t, http.StatusCreated, code, env.Error)
	var c models.TaskComment
	env.Into(t, &c)
	assert.Equal(t, "Maya Rao", c.AuthorName)
	assert.Equal(t, []string{"project:4"}, events.Topics)
	assert.Equal(t, "task_comments", events.All()[0].Table)

	expectTask(mock, 21, 4)
	mock.ExpectQuery(`FROM task_comments c .* WHERE c.task_id = \? ORDER BY c.comment_id`).WithArgs(int64(21)).
		WillReturnRows(sqlmock.NewRows(commentCols).
			AddRow(7, 21, "user", 3, "Maya Rao", "Looks good", 100).
			AddRow(8, 21, "external", 5, "Client Person", "Agreed", 200))

	req = testutil.Request(t, http.MethodGet, "/tasks/21/comments", nil, testutil.Member(3), map[string]string{"id": "21"})
	code, env = testutil.Serve(t, ts.ListComments, req)
	require.Equal(t, http.StatusOK, code, env.Error)
	var list []models.TaskComment
	env.Into(t, &list)
	require.Len(t, list, 2)
	assert.Equal(t, "external", list[1].AuthorKind)
}

func TestGuestCommentNeedsCommentLevel(t *testing.T) {
	tests := []struct {
		name   string
		guests GuestAccess
		guest  int64
		code   int
	}{
		{"view level", guestLevels{5: models.AccessView}, 5, http.StatusForbidden},
		{"no guest lookup", nil, 5, http.StatusForbidden},
		{"comment level", guestLevels{6: models.AccessComment}, 6, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, mock, events := newService(t)
			ts.Guests = tt.guests

			expectTask(mock, 21, 4)
			if tt.code == http.StatusCreated {
				mock.ExpectExec(`INSERT INTO task_comments`).
					WithArgs(int64(21), "external", tt.guest, "Please check", sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(9, 1))
				mock.ExpectQuery(`FROM task_comments c`).WithArgs(int64(9)).
					WillReturnRows(sqlmock.NewRows(commentCols).AddRow(9, 21, "external", tt.guest, "Client Person", "Please check", 100))
			}

			req := testutil.Request(t, http.MethodPost, "/external/tasks/21/comments", map[string]string{"content": "Please check"},
				testutil.External(tt.guest), map[string]string{"id": "21"})
			code, env := testutil.Serve(t, ts.AddCommentHandler, req)
			require.Equal(t, tt.code, code, env.Error)
			if tt.code == http.StatusForbidden {
				assert.Equal(t, "Your access to this project is view only", env.Error)
				assert.Empty(t, events.All())
			}
		})
	}
}

func TestAddCommentValidation(t *testing.T) {
	ts, _, _ := newService(t)
	ctx := context.Background()

	_, err := ts.AddComment(ctx, testutil.Member(3), 21, CommentRequest{Content: " \n "})
	assert.EqualError(t, err, "Comment cannot be empty")

	_, err = ts.AddComment(ctx, testutil.Member(3), 21, CommentRequest{Content: strings.Repeat("a", maxCommentLength+1)})
	assert.EqualError(t, err, "Comment must be at most 4000 characters")
}

func TestCommentsHiddenOnInaccessibleTask(t *testing.T) {
	ts, mock, _ := newService(t)
	expectTask(mock, 30, 8)

	req := testutil.Request(t, http.MethodGet, "/tasks/30/comments", nil, testutil.Member(3), map[string]string{"id": "30"})
	code, env := testutil.Serve(t, ts.ListComments, req)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Task not found", env.Error)
}
