package services

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nikhil/projectdesk/internal/auth"
	"github.com/nikhil/projectdesk/internal/database"
	"github.com/nikhil/projectdesk/internal/logger"
	"github.com/nikhil/projectdesk/internal/mailer"
	"github.com/nikhil/projectdesk/internal/models"
	"github.com/nikhil/projectdesk/internal/response"
	userService "github.com/nikhil/projectdesk/internal/service/users"
)

var (
	errBadCredentials = response.NewError(http.StatusUnauthorized, "Invalid email or password")
	errDisabled       = response.Forbidden("Account is disabled")
)

type AuthService struct {
	DB       *sql.DB
	Mailer   mailer.Mailer
	Secret   string
	TokenTTL time.Duration
	AppURL   string
	Log      *logger.Logger
}

// NewAuthService creates a new instance of AuthService
func NewAuthService(db *sql.DB, m mailer.Mailer, secret string, ttl time.Duration, appURL string) *AuthService {
	return &AuthService{
		DB:       db,
		Mailer:   m,
		Secret:   secret,
		TokenTTL: ttl,
		AppURL:   strings.TrimRight(appURL, "/"),
		Log:      logger.NewLogger("auth-service"),
	}
}

// Login authenticates a staff user and issues a token.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, models.Profile, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var (
		p    models.Profile
		hash string
		dept sql.NullInt64
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT user_id, email, password_hash, first_name, last_name, contact_number, role,
			department_id, is_active, must_change_password, created_at, updated_at
		FROM profiles WHERE email = ?`, email).
		Scan(&p.UserID, &p.Email, &hash, &p.FirstName, &p.LastName, &p.ContactNumber, &p.Role,
			&dept, &p.IsActive, &p.MustChangePassword, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.Profile{}, errBadCredentials
	}
	if err != nil {
		return "", models.Profile{}, err
	}
	if err := auth.CheckPassword(hash, password); err != nil {
		return "", models.Profile{}, errBadCredentials
	}
	if !p.IsActive {
		return "", models.Profile{}, errDisabled
	}
	p.DepartmentID = database.Int64Ptr(dept)

	token, err := auth.IssueToken(s.Secret, s.TokenTTL, auth.Claims{
		UserID: p.UserID,
		Email:  p.Email,
		Role:   p.Role,
		Kind:   auth.KindUser,
	})
	if err != nil {
		return "", models.Profile{}, err
	}
	return token, p, nil
}

// Resolve returns claims carrying the account's current role. Staff must
// still exist and be active, guests must still be active.
func (s *AuthService) Resolve(ctx context.Context, claims *auth.Claims) (*auth.Claims, error) {
	resolved := *claims
	switch claims.Kind {
	case auth.KindUser:
		var (
			role   models.Role
			active bool
		)
		err := s.DB.QueryRowContext(ctx,
			`SELECT role, is_active FROM profiles WHERE user_id = ?`, claims.UserID).Scan(&role, &active)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !active) {
			return nil, auth.ErrAccountInactive
		}
		if err != nil {
			return nil, err
		}
		resolved.Role = role

	case auth.KindExternal:
		var status string
		err := s.DB.QueryRowContext(ctx,
			`SELECT status FROM external_users WHERE external_user_id = ?`, claims.UserID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && status != string(models.ExternalActive)) {
			return nil, auth.ErrAccountInactive
		}
		if err != nil {
			return nil, err
		}

	default:
		return nil, auth.ErrInvalidToken
	}
	return &resolved, nil
}

// ChangePassword replaces the caller's password after checking the current one.
func (s *AuthService) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	if err := auth.ValidatePassword(next); err != nil {
		return response.BadRequest("%s", err.Error())
	}
	var hash string
	err := s.DB.QueryRowContext(ctx, `SELECT password_hash FROM profiles WHERE user_id = ?`, userID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return response.NotFound("User")
	}
	if err != nil {
		return err
	}
	if err := auth.CheckPassword(hash, current); err != nil {
		return response.BadRequest("Current password is incorrect")
	}
	if current == next {
		return response.BadRequest("New password must differ from the current one")
	}

	newHash, err := auth.HashPassword(next)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx,
		`UPDATE profiles SET password_hash = ?, must_change_password = 0, updated_at = ? WHERE user_id = ?`,
		newHash, time.Now().UTC().Unix(), userID)
	return err
}

// RequestPasswordReset records a pending reset request for an active user and
// notifies every active admin. Unknown emails are ignored so callers cannot
// tell which accounts exist.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	email, err := userService.NormalizeEmail(email)
	if err != nil {
		return err
	}
	log := s.Log.WithContext(ctx)

	var p models.Profile
	err = s.DB.QueryRowContext(ctx,
		`SELECT user_id, email, first_name, last_name FROM profiles WHERE email = ? AND is_active = 1`, email).
		Scan(&p.UserID, &p.Email, &p.FirstName, &p.LastName)
	if errors.Is(err, sql.ErrNoRows) {
		log.Info("Password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}

	var pending int
	if err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM password_reset_requests WHERE user_id = ? AND status = 'pending'`,
		p.UserID).Scan(&pending); err != nil {
		return err
	}
	if pending > 0 {
		log.Info("Password reset already pending", "user_id", p.UserID)
		return nil
	}

	now := time.Now().UTC()
	if _, err := s.DB.ExecContext(ctx,
		`INSERT INTO password_reset_requests (user_id, email, status, requested_at) VALUES (?, ?, 'pending', ?)`,
		p.UserID, p.Email, now.Unix()); err != nil {
		return err
	}

	admins, err := s.adminEmails(ctx)
	if err != nil {
		return err
	}
	if len(admins) == 0 {
		log.Warn("No active admins to notify about password reset", "user_id", p.UserID)
		return nil
	}

	name := p.FullName()
	if name == "" {
		name = p.Email
	}
	html, err := mailer.Render("reset_requested", mailer.ResetRequestedData{
		Name:        name,
		Email:       p.Email,
		RequestedAt: now.Format("Jan 2, 2006 15:04 MST"),
		Link:        s.AppURL + "/admin/users",
	})
	if err != nil {
		return err
	}
	if err := s.Mailer.Send(ctx, mailer.Message{
		To:      admins,
		Subject: "Password reset requested by " + name,
		HTML:    html,
	}); err != nil {
		log.Warn("Failed to notify admins about password reset", "user_id", p.UserID, "error", err)
	}
	return nil
}

func (s *AuthService) adminEmails(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT email FROM profiles WHERE role = 'admin' AND is_active = 1 ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}
