package chatService

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nikhil/projectdesk/internal/auth"
	"github.com/nikhil/projectdesk/internal/database"
	"github.com/nikhil/projectdesk/internal/logger"
	"github.com/nikhil/projectdesk/internal/middleware"
	"github.com/nikhil/projectdesk/internal/models"
	"github.com/nikhil/projectdesk/internal/realtime"
	"github.com/nikhil/projectdesk/internal/response"
)

const (
	maxMessageLength = 4000
	maxRoomName      = 150
	defaultPageSize  = 50
	maxPageSize      = 100
)

// ChatService handles chat rooms and messages.
type ChatService struct {
	DB     *sql.DB
	Events realtime.Publisher
	Log    *logger.Logger
}

func NewChatService(db *sql.DB, events realtime.Publisher) *ChatService {
	return &ChatService{
		DB:     db,
		Events: events,
		Log:    logger.NewLogger("chat-service"),
	}
}

// CreateRoomRequest creates a named room with members, or a direct room
// with DirectUserID.
type CreateRoomRequest struct {
	Name         string  `json:"name"`
	MemberIDs    []int64 `json:"member_ids"`
	DirectUserID *int64  `json:"direct_user_id"`
}

// DirectKey identifies the direct room between two users independent of order.
func DirectKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// Rooms lists the caller's rooms with unread counts. Direct rooms are named
// after the other participant.
func (cs *ChatService) Rooms(ctx context.Context, userID int64) ([]models.ChatRoom, error) {
	rows, err := cs.DB.QueryContext(ctx, `
		SELECT r.room_id, r.project_id,
			CASE WHEN r.is_direct = 1 THEN COALESCE((
				SELECT TRIM(CONCAT(p.first_name, ' ', p.last_name)) FROM chat_room_members o
				JOIN profiles p ON p.user_id = o.user_id
				WHERE o.room_id = r.room_id AND o.user_id <> m.user_id LIMIT 1), '') ELSE r.name END,
			r.is_direct, r.created_by, r.created_at, r.updated_at, m.last_read_at, m.last_read_message_id,
			(SELECT COUNT(*) FROM chat_messages c
				WHERE c.room_id = r.room_id AND c.message_id > m.last_read_message_id
				AND c.user_id <> m.user_id AND c.is_deleted = 0) AS unread
		FROM chat_rooms r JOIN chat_room_members m ON m.room_id = r.room_id
		WHERE m.user_id = ?
		ORDER BY r.updated_at DESC, r.room_id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []models.ChatRoom{}
	for rows.Next() {
		var (
			room    models.ChatRoom
			project sql.NullInt64
		)
		if err := rows.Scan(&room.RoomID, &project, &room.Name, &room.IsDirect, &room.CreatedBy,
			&room.CreatedAt, &room.UpdatedAt, &room.LastReadAt, &room.LastReadMessageID, &room.UnreadCount); err != nil {
			return nil, err
		}
		room.ProjectID = database.Int64Ptr(project)
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// UnreadTotal counts unread messages across every room of the user.
func (cs *ChatService) UnreadTotal(ctx context.Context, userID int64) (int, error) {
	var total int
	err := cs.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chat_messages c
		JOIN chat_room_members m ON m.room_id = c.room_id AND m.user_id = ?
		WHERE c.message_id > m.last_read_message_id AND c.user_id <> m.user_id AND c.is_deleted = 0`,
		userID).Scan(&total)
	return total, err
}

// IsMember returns a not-found error unless userID belongs to the room.
func (cs *ChatService) IsMember(ctx context.Context, roomID, userID int64) error {
	var one int
	err := cs.DB.QueryRowContext(ctx,
		`SELECT 1 FROM chat_room_members WHERE room_id = ? AND user_id = ?`, roomID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return response.NotFound("Room")
	}
	return err
}

// CreateRoom creates a room. For direct rooms it returns the existing room
// when there is one; created reports whether a new room was made.
func (cs *ChatService) CreateRoom(ctx context.Context, userID int64, req CreateRoomRequest) (models.ChatRoom, bool, error) {
	now := time.Now().UTC().Unix()
	room := models.ChatRoom{CreatedBy: userID, CreatedAt: now, UpdatedAt: now, LastReadAt: now}

	var (
		members   []int64
		directKey sql.NullString
	)
	if req.DirectUserID != nil {
		other := *req.DirectUserID
		if other == userID {
			return room, false, response.BadRequest("Cannot start a direct conversation with yourself")
		}
		directKey = sql.NullString{String: DirectKey(userID, other), Valid: true}
		var existing int64
		err := cs.DB.QueryRowContext(ctx, `SELECT room_id FROM chat_rooms WHERE direct_key = ?`, directKey.String).Scan(&existing)
		if err == nil {
			room, err := cs.room(ctx, existing)
			return room, false, err
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return room, false, err
		}
		room.IsDirect = true
		members = []int64{userID, other}
	} else {
		room.Name = strings.TrimSpace(req.Name)
		if room.Name == "" {
			return room, false, response.BadRequest("Room name is required")
		}
		if len(room.Name) > maxRoomName {
			return room, false, response.BadRequest("Room name must be at most %d characters", maxRoomName)
		}
		seen := map[int64]bool{userID: true}
		members = []int64{userID}
		for _, id := range req.MemberIDs {
			if !seen[id] {
				seen[id] = true
				members = append(members, id)
			}
		}
	}

	tx, err := cs.DB.BeginTx(ctx, nil)
	if err != nil {
		return room, false, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO chat_rooms (project_id, name, is_direct, direct_key, created_by, created_at, updated_at) VALUES (NULL, ?, ?, ?, ?, ?, ?)`,
		room.Name, room.IsDirect, directKey, userID, now, now)
	if err != nil {
		if database.IsDuplicate(err) {
			return room, false, response.Conflict("Direct room already exists")
		}
		return room, false, err
	}
	if room.RoomID, err = result.LastInsertId(); err != nil {
		return room, false, err
	}
	for _, id := range members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_room_members (room_id, user_id, last_read_at, joined_at) VALUES (?, ?, ?, ?)`,
			room.RoomID, id, now, now); err != nil {
			if database.IsMissingReference(err) {
				return room, false, response.BadRequest("Unknown user %d", id)
			}
			return room, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return room, false, err
	}

	for _, id := range members {
		if id != userID {
			cs.publish(realtime.UserTopic(id), models.EventInsert, "chat_rooms", room)
		}
	}
	return room, true, nil
}

func (cs *ChatService) room(ctx context.Context, roomID int64) (models.ChatRoom, error) {
	var (
		room    models.ChatRoom
		project sql.NullInt64
	)
	err := cs.DB.QueryRowContext(ctx, `
		SELECT room_id, project_id, name, is_direct, created_by, created_at, updated_at
		FROM chat_rooms WHERE room_id = ?`, roomID).
		Scan(&room.RoomID, &project, &room.Name, &room.IsDirect, &room.CreatedBy, &room.CreatedAt, &room.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return room, response.NotFound("Room")
	}
	room.ProjectID = database.Int64Ptr(project)
	return room, err
}

// Messages returns up to limit messages older than the message id before,
// newest first.
func (cs *ChatService) Messages(ctx context.Context, userID, roomID int64, before *int64, limit int) ([]models.ChatMessage, error) {
	if err := cs.IsMember(ctx, roomID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	query := `
		SELECT c.message_id, c.room_id, c.user_id, c.content, p.first_name, p.last_name,
			c.created_at, c.edited_at, c.is_deleted
		FROM chat_messages c JOIN profiles p ON p.user_id = c.user_id
		WHERE c.room_id = ?`
	args := []interface{}{roomID}
	if before != nil {
		query += ` AND c.message_id < ?`
		args = append(args, *before)
	}
	query += ` ORDER BY c.message_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := cs.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.ChatMessage{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row scanner) (models.ChatMessage, error) {
	var (
		m      models.ChatMessage
		edited sql.NullInt64
	)
	err := row.Scan(&m.MessageID, &m.RoomID, &m.UserID, &m.Content, &m.FirstName, &m.LastName,
		&m.CreatedAt, &edited, &m.IsDeleted)
	m.EditedAt = database.Int64Ptr(edited)
	if m.IsDeleted {
		m.Content = ""
	}
	return m, err
}

func normalizeContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", response.BadRequest("Message content is required")
	}
	if utf8.RuneCountInString(content) > maxMessageLength {
		return "", response.BadRequest("Message must be at most %d characters", maxMessageLength)
	}
	return content, nil
}

func (cs *ChatService) PostMessage(ctx context.Context, userID, roomID int64, content string) (models.ChatMessage, error) {
	content, err := normalizeContent(content)
	if err != nil {
		return models.ChatMessage{}, err
	}
	if err := cs.IsMember(ctx, roomID, userID); err != nil {
		return models.ChatMessage{}, err
	}

	now := time.Now().UTC().Unix()
	tx, err := cs.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.ChatMessage{}, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO chat_messages (room_id, user_id, content, created_at) VALUES (?, ?, ?, ?)`,
		roomID, userID, content, now)
	if err != nil {
		return models.ChatMessage{}, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return models.ChatMessage{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chat_rooms SET updated_at = ? WHERE room_id = ?`, now, roomID); err != nil {
		return models.ChatMessage{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE chat_room_members SET last_read_at = ?, last_read_message_id = GREATEST(last_read_message_id, ?)
		WHERE room_id = ? AND user_id = ?`, now, id, roomID, userID); err != nil {
		return models.ChatMessage{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.ChatMessage{}, err
	}

	msg, err := cs.message(ctx, id)
	if err != nil {
		return msg, err
	}
	cs.publish(realtime.RoomTopic(roomID), models.EventInsert, "chat_messages", msg)
	return msg, nil
}

func (cs *ChatService) message(ctx context.Context, id int64) (models.ChatMessage, error) {
	m, err := scanMessage(cs.DB.QueryRowContext(ctx, `
		SELECT c.message_id, c.room_id, c.user_id, c.content, p.first_name, p.last_name,
			c.created_at, c.edited_at, c.is_deleted
		FROM chat_messages c JOIN profiles p ON p.user_id = c.user_id
		WHERE c.message_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return m, response.NotFound("Message")
	}
	return m, err
}

// ownMessage loads a live message written by userID.
func (cs *ChatService) ownMessage(ctx context.Context, userID, id int64) (models.ChatMessage, error) {
	m, err := cs.message(ctx, id)
	if err != nil {
		return m, err
	}
	if m.IsDeleted {
		return m, response.NotFound("Message")
	}
	if m.UserID != userID {
		return m, response.Forbidden("You can only change your own messages")
	}
	return m, nil
}

func (cs *ChatService) EditMessage(ctx context.Context, userID, id int64, content string) (models.ChatMessage, error) {
	content, err := normalizeContent(content)
	if err != nil {
		return models.ChatMessage{}, err
	}
	m, err := cs.ownMessage(ctx, userID, id)
	if err != nil {
		return m, err
	}
	now := time.Now().UTC().Unix()
	if _, err := cs.DB.ExecContext(ctx,
		`UPDATE chat_messages SET content = ?, edited_at = ? WHERE message_id = ?`, content, now, id); err != nil {
		return m, err
	}
	m.Content = content
	m.EditedAt = &now
	cs.publish(realtime.RoomTopic(m.RoomID), models.EventUpdate, "chat_messages", m)
	return m, nil
}

// DeleteMessage soft-deletes a message so history keeps its place.
func (cs *ChatService) DeleteMessage(ctx context.Context, userID, id int64) error {
	m, err := cs.ownMessage(ctx, userID, id)
	if err != nil {
		return err
	}
	if _, err := cs.DB.ExecContext(ctx,
		`UPDATE chat_messages SET is_deleted = 1, content = '' WHERE message_id = ?`, id); err != nil {
		return err
	}
	cs.publish(realtime.RoomTopic(m.RoomID), models.EventDelete, "chat_messages",
		map[string]int64{"message_id": id, "room_id": m.RoomID})
	return nil
}

// MarkRead moves the caller's read marker to the newest message in the room.
// Messages posted after the lookup stay unread.
func (cs *ChatService) MarkRead(ctx context.Context, userID, roomID int64) (models.ReadMarker, error) {
	marker := models.ReadMarker{RoomID: roomID, LastReadAt: time.Now().UTC().Unix()}
	if err := cs.DB.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(message_id), 0) FROM chat_messages WHERE room_id = ?`, roomID).
		Scan(&marker.LastReadMessageID); err != nil {
		return marker, err
	}

	result, err := cs.DB.ExecContext(ctx, `
		UPDATE chat_room_members SET last_read_at = ?, last_read_message_id = GREATEST(last_read_message_id, ?)
		WHERE room_id = ? AND user_id = ?`, marker.LastReadAt, marker.LastReadMessageID, roomID, userID)
	if err != nil {
		return marker, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return marker, err
	}
	if n == 0 {
		// MySQL reports 0 affected rows when the value is unchanged.
		if err := cs.IsMember(ctx, roomID, userID); err != nil {
			return marker, err
		}
	}
	cs.publish(realtime.UserTopic(userID), models.EventUpdate, "chat_room_members", marker)
	return marker, nil
}

func (cs *ChatService) publish(topic string, typ models.EventType, table string, record interface{}) {
	if cs.Events == nil {
		return
	}
	cs.Events.Publish(topic, models.NewEvent(typ, table, record))
}

// HTTP handlers

func (cs *ChatService) ListRooms(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())
	rooms, err := cs.Rooms(r.Context(), claims.UserID)
	if err != nil {
		response.Failure(w, r, cs.Log, "Failed to list rooms", err)
		return
	}
	response.OK(w, rooms)
}

func (cs *ChatService) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	room, created, err := cs.CreateRoom(r.Context(), claims.UserID, req)
	if err != nil {
		response.Failure(w, r, cs.Log, "Failed to create room", err)
		return
	}
	if !created {
		response.OK(w, room)
		return
	}
	cs.Log.WithContext(r.Context()).Info("Chat room created", "room_id", room.RoomID, "direct", room.IsDirect)
	response.Created(w, room)
}

func (cs *ChatService) Unread(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())
	total, err := cs.UnreadTotal(r.Context(), claims.UserID)
	if err != nil {
		response.Failure(w, r, cs.Log, "Failed to count unread messages", err)
		return
	}
	response.OK(w, map[string]int{"unread": total})
}

func (cs *ChatService) ListMessages(w http.ResponseWriter, r *http.Request) {
	roomID, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	q := r.URL.Query()
	var before *int64
	if raw := q.Get("before"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			response.Fail(w, response.BadRequest("Invalid before"))
			return
		}
		before = &id
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			response.Fail(w, response.BadRequest("Invalid limit"))
			return
		}
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	messages, err := cs.Messages(r.Context(), claims.UserID, roomID, before, limit)
	if err != nil {
		response.Failure(w, r, cs.Log, "Failed to list messages", err)
		return
	}
	response.OK(w, messages)
}

type messageRequest struct {
	Content string `json:"content"`
}

func (cs *ChatService) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	roomID, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	var req messageRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	msg, err := cs.PostMessage(r.Context(), claims.UserID, roomID, req.Content)
	if err != nil {
		response.Failure(w, r, cs.Log, "Failed to send message", err)
		return
	}
	response.Created(w, msg)
}

func (cs *ChatService) EditMessageHandler(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	var req messageRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	msg, err := cs.EditMessage(r.Context(), claims.UserID, id, req.Content)
	if err != nil {
		response.Failure(w, r, cs.Log, "Failed to edit message", err)
		return
	}
	response.OK(w, msg)
}

func (cs *ChatService) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	if err := cs.DeleteMessage(r.Context(), claims.UserID, id); err != nil {
		response.Failure(w, r, cs.Log, "Failed to delete message", err)
		return
	}
	response.OK(w, map[string]int64{"message_id": id})
}

func (cs *ChatService) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	roomID, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	marker, err := cs.MarkRead(r.Context(), claims.UserID, roomID)
	if err != nil {
		response.Failure(w, r, cs.Log, "Failed to mark room read", err)
		return
	}
	response.OK(w, marker)
}

// ProjectAccess is the project check the topic authorizer relies on.
type ProjectAccess interface {
	CheckAccess(ctx context.Context, claims *auth.Claims, projectID int64) error
}

// TopicAuthorizer decides WebSocket subscriptions. Rooms need membership,
// projects need project access, and user and presence topics are staff only.
type TopicAuthorizer struct {
	Chat     *ChatService
	Projects ProjectAccess
}

func (a *TopicAuthorizer) CanSubscribe(ctx context.Context, claims *auth.Claims, topic string) error {
	kind, id, err := realtime.ParseTopic(topic)
	if err != nil {
		return err
	}
	if kind == "project" {
		return a.Projects.CheckAccess(ctx, claims, id)
	}
	if claims.Kind != auth.KindUser {
		return response.Forbidden("External users can only follow projects")
	}
	switch kind {
	case "room":
		return a.Chat.IsMember(ctx, id, claims.UserID)
	case "user":
		if id != claims.UserID {
			return response.Forbidden("Cannot follow another user")
		}
	}
	return nil
}
