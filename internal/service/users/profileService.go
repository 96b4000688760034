package userService

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/nikhil/projectdesk/internal/database"
	"github.com/nikhil/projectdesk/internal/middleware"
	"github.com/nikhil/projectdesk/internal/models"
	"github.com/nikhil/projectdesk/internal/response"
)

const maxViewKeyLength = 100

// ProfileUpdate is the self-service subset of a profile.
type ProfileUpdate struct {
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	ContactNumber string `json:"contact_number"`
}

// Profile returns the caller's own profile as a flat map with a display name.
func (us *UserService) Profile(ctx context.Context, userID int64) (map[string]interface{}, error) {
	user, err := database.QueryRowMap(ctx, us.DB, `
		SELECT p.user_id, p.email, p.contact_number, p.first_name, p.last_name, p.role,
			p.department_id, COALESCE(d.name, '') AS department_name, p.must_change_password, p.created_at
		FROM profiles p LEFT JOIN departments d ON d.department_id = p.department_id
		WHERE p.user_id = ?`, userID)
	if errors.Is(err, database.ErrNoRows) {
		return nil, response.NotFound("User")
	}
	if err != nil {
		return nil, err
	}
	first, _ := user["first_name"].(string)
	last, _ := user["last_name"].(string)
	user["name"] = strings.TrimSpace(first + " " + last)
	return user, nil
}

func (us *UserService) UpdateProfile(ctx context.Context, userID int64, req ProfileUpdate) error {
	_, err := us.DB.ExecContext(ctx,
		`UPDATE profiles SET contact_number = ?, first_name = ?, last_name = ?, updated_at = ? WHERE user_id = ?`,
		strings.TrimSpace(req.ContactNumber), strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName),
		time.Now().UTC().Unix(), userID)
	return err
}

// Preference returns the stored settings for viewKey, or an empty object.
func (us *UserService) Preference(ctx context.Context, userID int64, viewKey string) (json.RawMessage, error) {
	var settings []byte
	err := us.DB.QueryRowContext(ctx,
		`SELECT settings FROM user_view_preferences WHERE user_id = ? AND view_key = ?`,
		userID, viewKey).Scan(&settings)
	if errors.Is(err, sql.ErrNoRows) {
		return json.RawMessage(`{}`), nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(settings), nil
}

// SavePreference upserts the settings object for viewKey.
func (us *UserService) SavePreference(ctx context.Context, userID int64, viewKey string, settings json.RawMessage) error {
	trimmed := bytes.TrimSpace(settings)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return response.BadRequest("settings must be a JSON object")
	}
	_, err := us.DB.ExecContext(ctx, `
		INSERT INTO user_view_preferences (user_id, view_key, settings, updated_at) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE settings = VALUES(settings), updated_at = VALUES(updated_at)`,
		userID, viewKey, string(trimmed), time.Now().UTC().Unix())
	return err
}

func viewKey(r *http.Request) (string, error) {
	key := strings.TrimSpace(mux.Vars(r)["view_key"])
	if key == "" || len(key) > maxViewKeyLength {
		return "", response.BadRequest("Invalid view key")
	}
	return key, nil
}

func (us *UserService) GetUserProfile(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())
	user, err := us.Profile(r.Context(), claims.UserID)
	if err != nil {
		response.Failure(w, r, us.Log, "Failed to load profile", err)
		return
	}
	response.OK(w, user)
}

func (us *UserService) UpdateUserProfile(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())
	var req ProfileUpdate
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	if err := us.UpdateProfile(r.Context(), claims.UserID, req); err != nil {
		response.Failure(w, r, us.Log, "Failed to update profile", err)
		return
	}
	response.OK(w, map[string]string{"message": "User details updated successfully"})
}

func (us *UserService) GetPreference(w http.ResponseWriter, r *http.Request) {
	key, err := viewKey(r)
	if err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	settings, err := us.Preference(r.Context(), claims.UserID, key)
	if err != nil {
		response.Failure(w, r, us.Log, "Failed to load preference", err)
		return
	}
	response.OK(w, map[string]interface{}{"view_key": key, "settings": settings})
}

type preferenceRequest struct {
	Settings json.RawMessage `json:"settings"`
}

func (us *UserService) PutPreference(w http.ResponseWriter, r *http.Request) {
	key, err := viewKey(r)
	if err != nil {
		response.Fail(w, err)
		return
	}
	var req preferenceRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	if err := us.SavePreference(r.Context(), claims.UserID, key, req.Settings); err != nil {
		response.Failure(w, r, us.Log, "Failed to save preference", err)
		return
	}
	response.OK(w, models.ViewPreference{UserID: claims.UserID, ViewKey: key, UpdatedAt: time.Now().UTC().Unix()})
}
