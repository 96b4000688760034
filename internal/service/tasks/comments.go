package taskService

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nikhil/projectdesk/internal/auth"
	"github.com/nikhil/projectdesk/internal/middleware"
	"github.com/nikhil/projectdesk/internal/models"
	"github.com/nikhil/projectdesk/internal/realtime"
	"github.com/nikhil/projectdesk/internal/response"
)

const maxCommentLength = 4000

// GuestAccess reports the access level a guest holds on a project.
type GuestAccess interface {
	AccessLevel(ctx context.Context, externalID, projectID int64) (models.AccessLevel, error)
}

type CommentRequest struct {
	Content string `json:"content"`
}

const commentColumns = `c.comment_id, c.task_id, c.author_kind, c.author_id,
	CASE WHEN c.author_kind = 'user'
		THEN COALESCE(TRIM(CONCAT(p.first_name, ' ', p.last_name)), '')
		ELSE COALESCE(TRIM(CONCAT(e.first_name, ' ', e.last_name)), '') END,
	c.content, c.created_at`

const commentFrom = `FROM task_comments c
	LEFT JOIN profiles p ON c.author_kind = 'user' AND p.user_id = c.author_id
	LEFT JOIN external_users e ON c.author_kind = 'external' AND e.external_user_id = c.author_id`

func scanComment(row scanner) (models.TaskComment, error) {
	var c models.TaskComment
	err := row.Scan(&c.CommentID, &c.TaskID, &c.AuthorKind, &c.AuthorID, &c.AuthorName, &c.Content, &c.CreatedAt)
	return c, err
}

// Comments lists a task's comments oldest first. Anyone who can see the
// task can read them.
func (ts *TaskService) Comments(ctx context.Context, claims *auth.Claims, taskID int64) ([]models.TaskComment, error) {
	if _, err := ts.Get(ctx, claims, taskID); err != nil {
		return nil, err
	}
	rows, err := ts.DB.QueryContext(ctx,
		`SELECT `+commentColumns+` `+commentFrom+` WHERE c.task_id = ? ORDER BY c.comment_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comments := []models.TaskComment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// AddComment posts a comment. Staff need project access; guests also need
// the comment access level on the task's project.
func (ts *TaskService) AddComment(ctx context.Context, claims *auth.Claims, taskID int64, req CommentRequest) (models.TaskComment, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return models.TaskComment{}, response.BadRequest("Comment cannot be empty")
	}
	if utf8.RuneCountInString(content) > maxCommentLength {
		return models.TaskComment{}, response.BadRequest("Comment must be at most %d characters", maxCommentLength)
	}

	t, err := ts.Get(ctx, claims, taskID)
	if err != nil {
		return models.TaskComment{}, err
	}
	if claims.Kind == auth.KindExternal {
		if ts.Guests == nil {
			return models.TaskComment{}, response.Forbidden("Your access to this project is view only")
		}
		level, err := ts.Guests.AccessLevel(ctx, claims.UserID, t.ProjectID)
		if err != nil {
			return models.TaskComment{}, err
		}
		if level != models.AccessComment {
			return models.TaskComment{}, response.Forbidden("Your access to this project is view only")
		}
	}

	now := time.Now().UTC().Unix()
	result, err := ts.DB.ExecContext(ctx,
		`INSERT INTO task_comments (task_id, author_kind, author_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		taskID, string(claims.Kind), claims.UserID, content, now)
	if err != nil {
		return models.TaskComment{}, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return models.TaskComment{}, err
	}

	c, err := scanComment(ts.DB.QueryRowContext(ctx,
		`SELECT `+commentColumns+` `+commentFrom+` WHERE c.comment_id = ?`, id))
	if err != nil {
		return c, err
	}
	if ts.Events != nil {
		ts.Events.Publish(realtime.ProjectTopic(t.ProjectID), models.NewEvent(models.EventInsert, "task_comments", c))
	}
	return c, nil
}

func (ts *TaskService) ListComments(w http.ResponseWriter, r *http.Request) {
	taskID, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	comments, err := ts.Comments(r.Context(), claims, taskID)
	if err != nil {
		response.Failure(w, r, ts.Log, "Failed to list comments", err)
		return
	}
	response.OK(w, comments)
}

func (ts *TaskService) AddCommentHandler(w http.ResponseWriter, r *http.Request) {
	taskID, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	var req CommentRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	c, err := ts.AddComment(r.Context(), claims, taskID, req)
	if err != nil {
		response.Failure(w, r, ts.Log, "Failed to add comment", err)
		return
	}
	ts.Log.WithContext(r.Context()).Info("Comment added", "task_id", taskID, "comment_id", c.CommentID,
		"author_kind", c.AuthorKind, "author_id", c.AuthorID)
	response.Created(w, c)
}
