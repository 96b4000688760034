package chatService

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhil/projectdesk/internal/auth"
	"github.com/nikhil/projectdesk/internal/logger"
	"github.com/nikhil/projectdesk/internal/models"
	"github.com/nikhil/projectdesk/internal/response"
	"github.com/nikhil/projectdesk/internal/testutil"
)

var messageCols = []string{"message_id", "room_id", "user_id", "content", "first_name", "last_name",
	"created_at", "edited_at", "is_deleted"}

func newService(t *testing.T) (*ChatService, sqlmock.Sqlmock, *testutil.Events) {
	db, mock := testutil.NewMockDB(t)
	events := &testutil.Events{}
	return &ChatService{DB: db, Events: events, Log: logger.Nop()}, mock, events
}

func expectMember(mock sqlmock.Sqlmock, roomID, userID int64, ok bool) {
	rows := sqlmock.NewRows([]string{"1"})
	if ok {
		rows.AddRow(1)
	}
	mock.ExpectQuery(`SELECT 1 FROM chat_room_members`).WithArgs(roomID, userID).WillReturnRows(rows)
}

func TestDirectKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, "3:9", DirectKey(9, 3))
	assert.Equal(t, DirectKey(3, 9), DirectKey(9, 3))
}

func TestCreateDirectRoomReusesExisting(t *testing.T) {
	cs, mock, _ := newService(t)
	mock.ExpectQuery(`SELECT room_id FROM chat_rooms WHERE direct_key = \?`).WithArgs("3:9").
		WillReturnRows(sqlmock.NewRows([]string{"room_id"}).AddRow(14))
	mock.ExpectQuery(`FROM chat_rooms WHERE room_id = \?`).WithArgs(int64(14)).
		WillReturnRows(sqlmock.NewRows([]string{"room_id", "project_id", "name", "is_direct", "created_by", "created_at", "updated_at"}).
			AddRow(14, nil, "", true, 3, 1, 1))

	req := testutil.Request(t, http.MethodPost, "/chat/rooms", map[string]int64{"direct_user_id": 3}, testutil.Member(9), nil)
	code, env := testutil.Serve(t, cs.CreateRoomHandler, req)

	require.Equal(t, http.StatusOK, code, env.Error)
	var room models.ChatRoom
	env.Into(t, &room)
	assert.Equal(t, int64(14), room.RoomID)
	assert.True(t, room.IsDirect)
}

func TestCreateDirectRoom(t *testing.T) {
	cs, mock, events := newService(t)
	mock.ExpectQuery(`SELECT room_id FROM chat_rooms WHERE direct_key = \?`).WithArgs("3:9").
		WillReturnRows(sqlmock.NewRows([]string{"room_id"}))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO chat_rooms`).
		WithArgs("", true, "3:9", int64(9), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(15, 1))
	mock.ExpectExec(`INSERT INTO chat_room_members`).WithArgs(int64(15), int64(9), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO chat_room_members`).WithArgs(int64(15), int64(3), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	room, created, err := cs.CreateRoom(context.Background(), 9, CreateRoomRequest{DirectUserID: ptr(3)})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(15), room.RoomID)
	assert.Equal(t, []string{"user:3"}, events.Topics)
}

func TestCreateRoomValidation(t *testing.T) {
	cs, _, _ := newService(t)
	_, _, err := cs.CreateRoom(context.Background(), 9, CreateRoomRequest{DirectUserID: ptr(9)})
	assert.EqualError(t, err, "Cannot start a direct conversation with yourself")

	_, _, err = cs.CreateRoom(context.Background(), 9, CreateRoomRequest{Name: " "})
	assert.EqualError(t, err, "Room name is required")
}

func ptr(v int64) *int64 { return &v }

func TestPostMessage(t *testing.T) {
	cs, mock, events := newService(t)
	expectMember(mock, 5, 9, true)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO chat_messages`).WithArgs(int64(5), int64(9), "hello", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(100, 1))
	mock.ExpectExec(`UPDATE chat_rooms SET updated_at`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE chat_room_members SET last_read_at = \?, last_read_message_id = GREATEST`).
		WithArgs(sqlmock.AnyArg(), int64(100), int64(5), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`WHERE c.message_id = \?`).WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows(messageCols).AddRow(100, 5, 9, "hello", "Kim", "Ro", 10, nil, false))

	req := testutil.Request(t, http.MethodPost, "/chat/rooms/5/messages", map[string]string{"content": "  hello "},
		testutil.Member(9), map[string]string{"id": "5"})
	code, env := testutil.Serve(t, cs.PostMessageHandler, req)

	require.Equal(t, http.StatusCreated, code, env.Error)
	assert.Equal(t, []string{"room:5"}, events.Topics)
	assert.Equal(t, models.EventInsert, events.All()[0].Type)
}

func TestPostMessageLimits(t *testing.T) {
	cs, mock, _ := newService(t)
	_, err := cs.PostMessage(context.Background(), 9, 5, "   ")
	assert.EqualError(t, err, "Message content is required")

	_, err = cs.PostMessage(context.Background(), 9, 5, strings.Repeat("é", maxMessageLength+1))
	assert.EqualError(t, err, "Message must be at most 4000 characters")

	expectMember(mock, 5, 9, false)
	_, err = cs.PostMessage(context.Background(), 9, 5, strings.Repeat("é", maxMessageLength))
	assert.EqualError(t, err, "Room not found")
}

func TestListMessagesPaging(t *testing.T) {
	cs, mock, _ := newService(t)
	expectMember(mock, 5, 9, true)
	mock.ExpectQuery(`AND c.message_id < \? ORDER BY c.message_id DESC LIMIT \?`).
		WithArgs(int64(5), int64(50), 100).
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow(49, 5, 3, "secret", "A", "B", 9, nil, true).
			AddRow(48, 5, 9, "hi", "K", "R", 8, 9, false))

	req := testutil.Request(t, http.MethodGet, "/chat/rooms/5/messages?before=50&limit=500", nil,
		testutil.Member(9), map[string]string{"id": "5"})
	code, env := testutil.Serve(t, cs.ListMessages, req)
	require.Equal(t, http.StatusOK, code, env.Error)

	var messages []models.ChatMessage
	env.Into(t, &messages)
	require.Len(t, messages, 2)
	assert.Empty(t, messages[0].Content)
	assert.True(t, messages[0].IsDeleted)
	assert.Equal(t, int64(9), *messages[1].EditedAt)
}

func TestEditMessageAuthorOnly(t *testing.T) {
	cs, mock, _ := newService(t)
	mock.ExpectQuery(`WHERE c.message_id = \?`).WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows(messageCols).AddRow(100, 5, 3, "hello", "Kim", "Ro", 10, nil, false))

	_, err := cs.EditMessage(context.Background(), 9, 100, "changed")
	var e *response.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, http.StatusForbidden, e.Status)
}

func TestDeleteMessageIsSoft(t *testing.T) {
	cs, mock, events := newService(t)
	mock.ExpectQuery(`WHERE c.message_id = \?`).WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows(messageCols).AddRow(100, 5, 9, "hello", "Kim", "Ro", 10, nil, false))
	mock.ExpectExec(`UPDATE chat_messages SET is_deleted = 1`).WithArgs(int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, cs.DeleteMessage(context.Background(), 9, 100))
	assert.Equal(t, models.EventDelete, events.All()[0].Type)
}

func expectLatestMessage(mock sqlmock.Sqlmock, roomID, id int64) {
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(message_id\), 0\) FROM chat_messages WHERE room_id = \?`).
		WithArgs(roomID).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(id))
}

func TestMarkRead(t *testing.T) {
	cs, mock, events := newService(t)
	expectLatestMessage(mock, 5, 0)
	mock.ExpectExec(`UPDATE chat_room_members SET last_read_at`).WithArgs(sqlmock.AnyArg(), int64(0), int64(5), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectMember(mock, 5, 9, false)

	_, err := cs.MarkRead(context.Background(), 9, 5)
	assert.EqualError(t, err, "Room not found")
	assert.Empty(t, events.Topics)

	expectLatestMessage(mock, 5, 41)
	mock.ExpectExec(`UPDATE chat_room_members SET last_read_at`).WithArgs(sqlmock.AnyArg(), int64(41), int64(5), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	marker, err := cs.MarkRead(context.Background(), 9, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(41), marker.LastReadMessageID)
	assert.Equal(t, []string{"user:9"}, events.Topics)
}

func TestUnreadCountsByMessageID(t *testing.T) {
	cs, mock, _ := newService(t)

	// Read marker lands on message 41; message 42 is posted within the same
	// second and must still count as unread.
	expectLatestMessage(mock, 5, 41)
	mock.ExpectExec(`UPDATE chat_room_members SET last_read_at`).WithArgs(sqlmock.AnyArg(), int64(41), int64(5), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	marker, err := cs.MarkRead(context.Background(), 9, 5)
	require.NoError(t, err)

	mock.ExpectQuery(`WHERE c.message_id > m.last_read_message_id AND c.user_id <> m.user_id`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	total, err := cs.UnreadTotal(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, int64(41), marker.LastReadMessageID)
}

func TestRoomsWithUnreadCounts(t *testing.T) {
	cs, mock, _ := newService(t)
	mock.ExpectQuery(`FROM chat_rooms r JOIN chat_room_members m`).WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"room_id", "project_id", "name", "is_direct", "created_by",
			"created_at", "updated_at", "last_read_at", "last_read_message_id", "unread"}).
			AddRow(5, 4, "Website", false, 2, 1, 20, 10, 37, 3).
			AddRow(15, nil, "Kim Ro", true, 9, 1, 15, 15, 52, 0))

	rooms, err := cs.Rooms(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, 3, rooms[0].UnreadCount)
	assert.Equal(t, int64(37), rooms[0].LastReadMessageID)
	assert.Equal(t, int64(4), *rooms[0].ProjectID)
	assert.Nil(t, rooms[1].ProjectID)
}

type projectsFor map[int64]bool

func (p projectsFor) CheckAccess(_ context.Context, _ *auth.Claims, projectID int64) error {
	if p[projectID] {
		return nil
	}
	return response.NotFound("Project")
}

func TestTopicAuthorizer(t *testing.T) {
	cs, mock, _ := newService(t)
	authz := &TopicAuthorizer{Chat: cs, Projects: projectsFor{4: true}}
	ctx := context.Background()

	assert.NoError(t, authz.CanSubscribe(ctx, testutil.External(2), "project:4"))
	assert.Error(t, authz.CanSubscribe(ctx, testutil.External(2), "project:5"))
	assert.Error(t, authz.CanSubscribe(ctx, testutil.External(2), "presence"))
	assert.NoError(t, authz.CanSubscribe(ctx, testutil.Member(9), "presence"))
	assert.NoError(t, authz.CanSubscribe(ctx, testutil.Member(9), "user:9"))
	assert.Error(t, authz.CanSubscribe(ctx, testutil.Member(9), "user:8"))

	expectMember(mock, 5, 9, true)
	assert.NoError(t, authz.CanSubscribe(ctx, testutil.Member(9), "room:5"))
	expectMember(mock, 6, 9, false)
	assert.Error(t, authz.CanSubscribe(ctx, testutil.Member(9), "room:6"))
}
