package presenceService

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/nikhil/projectdesk/internal/database"
	"github.com/nikhil/projectdesk/internal/logger"
	"github.com/nikhil/projectdesk/internal/middleware"
	"github.com/nikhil/projectdesk/internal/models"
	"github.com/nikhil/projectdesk/internal/realtime"
	"github.com/nikhil/projectdesk/internal/response"
)

// PresenceService tracks who is online. Users become away after half the
// timeout without a heartbeat and offline after the full timeout.
type PresenceService struct {
	DB      *sql.DB
	Events  realtime.Publisher
	Timeout time.Duration
	Log     *logger.Logger
}

func NewPresenceService(db *sql.DB, events realtime.Publisher, timeout time.Duration) *PresenceService {
	return &PresenceService{
		DB:      db,
		Events:  events,
		Timeout: timeout,
		Log:     logger.NewLogger("presence-service"),
	}
}

// Heartbeat marks the user online and remembers the room they are looking at.
func (ps *PresenceService) Heartbeat(ctx context.Context, userID int64, roomID *int64) error {
	var previous models.PresenceStatus
	err := ps.DB.QueryRowContext(ctx, `SELECT status FROM user_presence WHERE user_id = ?`, userID).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	now := time.Now().UTC().Unix()
	if _, err := ps.DB.ExecContext(ctx, `
		INSERT INTO user_presence (user_id, status, last_seen_at, current_room_id) VALUES (?, 'online', ?, ?)
		ON DUPLICATE KEY UPDATE status = 'online', last_seen_at = VALUES(last_seen_at),
			current_room_id = VALUES(current_room_id)`,
		userID, now, database.NullInt64(roomID)); err != nil {
		return err
	}

	if previous != models.PresenceOnline {
		ps.publish(models.UserPresence{UserID: userID, Status: models.PresenceOnline, LastSeenAt: now, CurrentRoomID: roomID})
	}
	return nil
}

// List returns every user who is not offline.
func (ps *PresenceService) List(ctx context.Context) ([]models.UserPresence, error) {
	rows, err := ps.DB.QueryContext(ctx, `
		SELECT user_id, status, last_seen_at, current_room_id FROM user_presence
		WHERE status <> 'offline' ORDER BY last_seen_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.UserPresence{}
	for rows.Next() {
		var (
			p    models.UserPresence
			room sql.NullInt64
		)
		if err := rows.Scan(&p.UserID, &p.Status, &p.LastSeenAt, &room); err != nil {
			return nil, err
		}
		p.CurrentRoomID = database.Int64Ptr(room)
		list = append(list, p)
	}
	return list, rows.Err()
}

// Sweep downgrades users whose heartbeats stopped and publishes each change.
// It returns the number of users whose status changed.
func (ps *PresenceService) Sweep(ctx context.Context, now time.Time) (int, error) {
	offlineBefore := now.Add(-ps.Timeout).Unix()
	awayBefore := now.Add(-ps.Timeout / 2).Unix()

	rows, err := ps.DB.QueryContext(ctx, `
		SELECT user_id, status, last_seen_at FROM user_presence
		WHERE (status <> 'offline' AND last_seen_at < ?) OR (status = 'online' AND last_seen_at < ?)`,
		offlineBefore, awayBefore)
	if err != nil {
		return 0, err
	}
	var changes []models.UserPresence
	for rows.Next() {
		var p models.UserPresence
		if err := rows.Scan(&p.UserID, &p.Status, &p.LastSeenAt); err != nil {
			rows.Close()
			return 0, err
		}
		if p.LastSeenAt < offlineBefore {
			p.Status = models.PresenceOffline
		} else {
			p.Status = models.PresenceAway
		}
		changes = append(changes, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	changed := 0
	for _, p := range changes {
		// last_seen_at guards against a heartbeat that arrived after the select.
		result, err := ps.DB.ExecContext(ctx, `
			UPDATE user_presence SET status = ?, current_room_id = IF(? = 'offline', NULL, current_room_id)
			WHERE user_id = ? AND last_seen_at = ?`,
			p.Status, p.Status, p.UserID, p.LastSeenAt)
		if err != nil {
			return changed, err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			continue
		}
		changed++
		ps.publish(p)
	}
	return changed, nil
}

func (ps *PresenceService) publish(p models.UserPresence) {
	if ps.Events == nil {
		return
	}
	ps.Events.Publish(realtime.PresenceTopic, models.NewEvent(models.EventPresence, "user_presence", p))
}

type heartbeatRequest struct {
	RoomID *int64 `json:"room_id"`
}

func (ps *PresenceService) HeartbeatHandler(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if r.ContentLength > 0 {
		if err := response.Decode(r, &req); err != nil {
			response.Fail(w, err)
			return
		}
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	if err := ps.Heartbeat(r.Context(), claims.UserID, req.RoomID); err != nil {
		response.Failure(w, r, ps.Log, "Failed to record heartbeat", err)
		return
	}
	response.OK(w, map[string]string{"status": string(models.PresenceOnline)})
}

func (ps *PresenceService) ListPresence(w http.ResponseWriter, r *http.Request) {
	list, err := ps.List(r.Context())
	if err != nil {
		response.Failure(w, r, ps.Log, "Failed to list presence", err)
		return
	}
	response.OK(w, list)
}
