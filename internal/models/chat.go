package models

// ChatRoom is either a named room (optionally tied to a project) or a
// direct conversation between two users.
type ChatRoom struct {
	RoomID      int64  `json:"room_id"`
	ProjectID   *int64 `json:"project_id"`
	Name        string `json:"name"`
	IsDirect    bool   `json:"is_direct"`
	CreatedBy   int64  `json:"created_by"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
	UnreadCount int    `json:"unread_count"`
	LastReadAt  int64  `json:"last_read_at"`

	LastReadMessageID int64 `json:"last_read_message_id"`
}

// ReadMarker is how far a member has read a room. Unread messages are the
// ones with a higher id than LastReadMessageID.
type ReadMarker struct {
	RoomID            int64 `json:"room_id"`
	LastReadAt        int64 `json:"last_read_at"`
	LastReadMessageID int64 `json:"last_read_message_id"`
}

type ChatMessage struct {
	MessageID int64  `json:"message_id"`
	RoomID    int64  `json:"room_id"`
	UserID    int64  `json:"user_id"`
	Content   string `json:"content"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	CreatedAt int64  `json:"created_at"`
	EditedAt  *int64 `json:"edited_at,omitempty"`
	IsDeleted bool   `json:"is_deleted"`
}
