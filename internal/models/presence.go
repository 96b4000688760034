package models

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

type UserPresence struct {
	UserID        int64          `json:"user_id"`
	Status        PresenceStatus `json:"status"`
	LastSeenAt    int64          `json:"last_seen_at"`
	CurrentRoomID *int64         `json:"current_room_id,omitempty"`
}
