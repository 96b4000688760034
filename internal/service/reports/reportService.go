package reportService

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/nikhil/projectdesk/internal/auth"
	"github.com/nikhil/projectdesk/internal/database"
	"github.com/nikhil/projectdesk/internal/logger"
	"github.com/nikhil/projectdesk/internal/mailer"
	"github.com/nikhil/projectdesk/internal/middleware"
	"github.com/nikhil/projectdesk/internal/models"
	"github.com/nikhil/projectdesk/internal/response"
	userService "github.com/nikhil/projectdesk/internal/service/users"
)

// maxParallelSends bounds how many reports RunDue mails at once.
const maxParallelSends = 4

type Projects interface {
	CheckAccess(ctx context.Context, claims *auth.Claims, projectID int64) error
	CanManage(ctx context.Context, claims *auth.Claims, projectID int64) error
	Load(ctx context.Context, id int64) (models.Project, error)
}

type Tasks interface {
	ProjectTasks(ctx context.Context, projectID int64) ([]models.Task, error)
}

// ReportService schedules and sends project status reports by email.
type ReportService struct {
	DB       *sql.DB
	Mailer   mailer.Mailer
	Projects Projects
	Tasks    Tasks
	AppURL   string
	Log      *logger.Logger

	now func() time.Time
}

func NewReportService(db *sql.DB, m mailer.Mailer, projects Projects, tasks Tasks, appURL string) *ReportService {
	return &ReportService{
		DB:       db,
		Mailer:   m,
		Projects: projects,
		Tasks:    tasks,
		AppURL:   strings.TrimRight(appURL, "/"),
		Log:      logger.NewLogger("report-service"),
	}
}

func (rs *ReportService) clock() time.Time {
	if rs.now != nil {
		return rs.now()
	}
	return time.Now().UTC()
}

// DefaultSetting is the schedule of a project that never saved one.
func DefaultSetting(projectID int64) models.ReportSetting {
	return models.ReportSetting{
		ProjectID:  projectID,
		Frequency:  models.FrequencyWeekly,
		DayOfWeek:  1,
		DayOfMonth: 1,
		HourUTC:    8,
	}
}

type SettingsRequest struct {
	Enabled    bool                   `json:"enabled"`
	Frequency  models.ReportFrequency `json:"frequency"`
	DayOfWeek  int                    `json:"day_of_week"`
	DayOfMonth int                    `json:"day_of_month"`
	HourUTC    int                    `json:"hour_utc"`
	Notes      string                 `json:"notes"`
}

func (req *SettingsRequest) validate() error {
	if !req.Frequency.Valid() {
		return response.BadRequest("Invalid frequency %q", req.Frequency)
	}
	if req.DayOfWeek < 0 || req.DayOfWeek > 6 {
		return response.BadRequest("day_of_week must be between 0 and 6")
	}
	if req.DayOfMonth < 1 || req.DayOfMonth > 28 {
		return response.BadRequest("day_of_month must be between 1 and 28")
	}
	if req.HourUTC < 0 || req.HourUTC > 23 {
		return response.BadRequest("hour_utc must be between 0 and 23")
	}
	if len(req.Notes) > 10000 {
		return response.BadRequest("notes must be at most 10000 characters")
	}
	return nil
}

const settingColumns = `project_id, enabled, frequency, day_of_week, day_of_month, hour_utc,
	COALESCE(notes, ''), last_sent_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSetting(row scanner) (models.ReportSetting, error) {
	var (
		s        models.ReportSetting
		lastSent sql.NullInt64
	)
	err := row.Scan(&s.ProjectID, &s.Enabled, &s.Frequency, &s.DayOfWeek, &s.DayOfMonth, &s.HourUTC,
		&s.Notes, &lastSent, &s.UpdatedAt)
	s.LastSentAt = database.Int64Ptr(lastSent)
	return s, err
}

func (rs *ReportService) setting(ctx context.Context, projectID int64) (models.ReportSetting, error) {
	s, err := scanSetting(rs.DB.QueryRowContext(ctx,
		`SELECT `+settingColumns+` FROM project_report_settings WHERE project_id = ?`, projectID))
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSetting(projectID), nil
	}
	return s, err
}

func (rs *ReportService) Settings(ctx context.Context, claims *auth.Claims, projectID int64) (models.ReportSetting, error) {
	if err := rs.Projects.CheckAccess(ctx, claims, projectID); err != nil {
		return models.ReportSetting{}, err
	}
	return rs.setting(ctx, projectID)
}

func (rs *ReportService) SaveSettings(ctx context.Context, claims *auth.Claims, projectID int64, req SettingsRequest) (models.ReportSetting, error) {
	if err := req.validate(); err != nil {
		return models.ReportSetting{}, err
	}
	if err := rs.Projects.CanManage(ctx, claims, projectID); err != nil {
		return models.ReportSetting{}, err
	}
	now := rs.clock().Unix()
	if _, err := rs.DB.ExecContext(ctx, `
		INSERT INTO project_report_settings (project_id, enabled, frequency, day_of_week, day_of_month, hour_utc, notes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE enabled = VALUES(enabled), frequency = VALUES(frequency),
			day_of_week = VALUES(day_of_week), day_of_month = VALUES(day_of_month),
			hour_utc = VALUES(hour_utc), notes = VALUES(notes), updated_at = VALUES(updated_at)`,
		projectID, req.Enabled, req.Frequency, req.DayOfWeek, req.DayOfMonth, req.HourUTC, req.Notes, now); err != nil {
		return models.ReportSetting{}, err
	}
	return rs.setting(ctx, projectID)
}

func (rs *ReportService) recipients(ctx context.Context, projectID int64) ([]models.ReportRecipient, error) {
	rows, err := rs.DB.QueryContext(ctx, `
		SELECT recipient_id, project_id, email, name, created_at
		FROM project_report_recipients WHERE project_id = ? ORDER BY email`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ReportRecipient{}
	for rows.Next() {
		var r models.ReportRecipient
		if err := rows.Scan(&r.RecipientID, &r.ProjectID, &r.Email, &r.Name, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (rs *ReportService) Recipients(ctx context.Context, claims *auth.Claims, projectID int64) ([]models.ReportRecipient, error) {
	if err := rs.Projects.CheckAccess(ctx, claims, projectID); err != nil {
		return nil, err
	}
	return rs.recipients(ctx, projectID)
}

type RecipientRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (rs *ReportService) AddRecipient(ctx context.Context, claims *auth.Claims, projectID int64, req RecipientRequest) (models.ReportRecipient, error) {
	email, err := userService.NormalizeEmail(req.Email)
	if err != nil {
		return models.ReportRecipient{}, err
	}
	name := strings.TrimSpace(req.Name)
	if len(name) > 150 {
		return models.ReportRecipient{}, response.BadRequest("name must be at most 150 characters")
	}
	if err := rs.Projects.CanManage(ctx, claims, projectID); err != nil {
		return models.ReportRecipient{}, err
	}

	r := models.ReportRecipient{ProjectID: projectID, Email: email, Name: name, CreatedAt: rs.clock().Unix()}
	result, err := rs.DB.ExecContext(ctx,
		`INSERT INTO project_report_recipients (project_id, email, name, created_at) VALUES (?, ?, ?, ?)`,
		projectID, email, name, r.CreatedAt)
	if database.IsDuplicate(err) {
		return r, response.Conflict("This address already receives the report")
	}
	if err != nil {
		return r, err
	}
	r.RecipientID, err = result.LastInsertId()
	return r, err
}

func (rs *ReportService) RemoveRecipient(ctx context.Context, claims *auth.Claims, projectID, recipientID int64) error {
	if err := rs.Projects.CanManage(ctx, claims, projectID); err != nil {
		return err
	}
	result, err := rs.DB.ExecContext(ctx,
		`DELETE FROM project_report_recipients WHERE recipient_id = ? AND project_id = ?`, recipientID, projectID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return response.NotFound("Recipient")
	}
	return nil
}

// Report is a rendered status report.
type Report struct {
	Summary Summary `json:"summary"`
	Subject string  `json:"subject"`
	HTML    string  `json:"html"`
}

type reportEmail struct {
	Summary
	Period      string
	HealthLabel string
	HealthColor string
	Description template.HTML
	Notes       template.HTML
	Link        string
}

func markdown(src string) (template.HTML, error) {
	if strings.TrimSpace(src) == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

func humanHealth(label string) string {
	switch label {
	case HealthOnTrack:
		return "On track"
	case HealthAtRisk:
		return "At risk"
	}
	return "Off track"
}

// Build summarizes a project and renders the report email.
func (rs *ReportService) Build(ctx context.Context, projectID int64, now time.Time) (Report, error) {
	p, err := rs.Projects.Load(ctx, projectID)
	if err != nil {
		return Report{}, err
	}
	tasks, err := rs.Tasks.ProjectTasks(ctx, projectID)
	if err != nil {
		return Report{}, err
	}
	setting, err := rs.setting(ctx, projectID)
	if err != nil {
		return Report{}, err
	}

	summary := Summarize(p, tasks, now)
	description, err := markdown(p.Description)
	if err != nil {
		return Report{}, fmt.Errorf("rendering description: %w", err)
	}
	notes, err := markdown(setting.Notes)
	if err != nil {
		return Report{}, fmt.Errorf("rendering notes: %w", err)
	}

	html, err := mailer.Render("project_report", reportEmail{
		Summary:     summary,
		Period:      "Status as of " + now.UTC().Format("Monday, Jan 2 2006"),
		HealthLabel: humanHealth(summary.Health),
		HealthColor: healthColor(summary.Health),
		Description: description,
		Notes:       notes,
		Link:        fmt.Sprintf("%s/projects/%d", rs.AppURL, projectID),
	})
	if err != nil {
		return Report{}, err
	}
	return Report{
		Summary: summary,
		Subject: fmt.Sprintf("%s status report: %s", p.Name, humanHealth(summary.Health)),
		HTML:    html,
	}, nil
}

func (rs *ReportService) Preview(ctx context.Context, claims *auth.Claims, projectID int64) (Report, error) {
	if err := rs.Projects.CheckAccess(ctx, claims, projectID); err != nil {
		return Report{}, err
	}
	return rs.Build(ctx, projectID, rs.clock())
}

// Send mails the report to each recipient separately and records
// last_sent_at once anyone was reached. It returns how many recipients got
// the report; per-recipient failures are joined into the error.
func (rs *ReportService) Send(ctx context.Context, projectID int64, now time.Time) (int, error) {
	recipients, err := rs.recipients(ctx, projectID)
	if err != nil {
		return 0, err
	}
	if len(recipients) == 0 {
		return 0, response.BadRequest("No report recipients are configured for this project")
	}
	report, err := rs.Build(ctx, projectID, now)
	if err != nil {
		return 0, err
	}

	// Recipients never see each other's addresses.
	var (
		sent   int
		failed error
	)
	for _, r := range recipients {
		msg := mailer.Message{To: []string{r.Email}, Subject: report.Subject, HTML: report.HTML}
		if err := rs.Mailer.Send(ctx, msg); err != nil {
			failed = multierr.Append(failed, fmt.Errorf("%s: %w", r.Email, err))
			continue
		}
		sent++
	}
	if sent == 0 {
		return 0, fmt.Errorf("sending report for project %d: %w", projectID, failed)
	}

	def := DefaultSetting(projectID)
	if _, err := rs.DB.ExecContext(ctx, `
		INSERT INTO project_report_settings (project_id, enabled, frequency, day_of_week, day_of_month, hour_utc, last_sent_at, updated_at)
		VALUES (?, 0, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE last_sent_at = VALUES(last_sent_at)`,
		projectID, def.Frequency, def.DayOfWeek, def.DayOfMonth, def.HourUTC, now.Unix(), now.Unix()); err != nil {
		return sent, multierr.Append(failed, err)
	}
	return sent, failed
}

func (rs *ReportService) SendNow(ctx context.Context, claims *auth.Claims, projectID int64) (int, error) {
	if err := rs.Projects.CanManage(ctx, claims, projectID); err != nil {
		return 0, err
	}
	return rs.Send(ctx, projectID, rs.clock())
}

// Due returns the projects whose report should go out at now.
func (rs *ReportService) Due(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := rs.DB.QueryContext(ctx,
		`SELECT `+settingColumns+` FROM project_report_settings WHERE enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []int64
	for rows.Next() {
		s, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		if IsDue(s, now) {
			due = append(due, s.ProjectID)
		}
	}
	return due, rows.Err()
}

// RunDue sends every due report, a few at a time. A failed project does not
// stop the others; all failures are returned together.
func (rs *ReportService) RunDue(ctx context.Context, now time.Time) (int, error) {
	due, err := rs.Due(ctx, now)
	if err != nil {
		return 0, err
	}

	var (
		mu   sync.Mutex
		sent int
		errs error
	)
	var g errgroup.Group
	g.SetLimit(maxParallelSends)
	for _, projectID := range due {
		projectID := projectID
		g.Go(func() error {
			n, err := rs.Send(ctx, projectID, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("project %d: %w", projectID, err))
			}
			if n > 0 {
				sent++
			}
			return nil
		})
	}
	g.Wait()

	if sent > 0 || errs != nil {
		rs.Log.WithContext(ctx).Info("Report dispatch finished", "due", len(due), "sent", sent,
			"failed", len(multierr.Errors(errs)))
	}
	return sent, errs
}

func (rs *ReportService) GetReportSettings(w http.ResponseWriter, r *http.Request) {
	projectID, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	s, err := rs.Settings(r.Context(), claims, projectID)
	if err != nil {
		response.Failure(w, r, rs.Log, "Failed to get report settings", err)
		return
	}
	response.OK(w, s)
}

func (rs *ReportService) PutReportSettings(w http.ResponseWriter, r *http.Request) {
	projectID, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	var req SettingsRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	s, err := rs.SaveSettings(r.Context(), claims, projectID, req)
	if err != nil {
		response.Failure(w, r, rs.Log, "Failed to save report settings", err)
		return
	}
	rs.Log.WithContext(r.Context()).Info("Report settings saved", "project_id", projectID, "enabled", s.Enabled)
	response.OK(w, s)
}

func (rs *ReportService) ListRecipients(w http.ResponseWriter, r *http.Request) {
	projectID, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	list, err := rs.Recipients(r.Context(), claims, projectID)
	if err != nil {
		response.Failure(w, r, rs.Log, "Failed to list report recipients", err)
		return
	}
	response.OK(w, list)
}

func (rs *ReportService) AddRecipientHandler(w http.ResponseWriter, r *http.Request) {
	projectID, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	var req RecipientRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	rec, err := rs.AddRecipient(r.Context(), claims, projectID, req)
	if err != nil {
		response.Failure(w, r, rs.Log, "Failed to add report recipient", err)
		return
	}
	response.Created(w, rec)
}

func (rs *ReportService) RemoveRecipientHandler(w http.ResponseWriter, r *http.Request) {
	projectID, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	recipientID, err := response.PathInt64(r, "recipient_id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	if err := rs.RemoveRecipient(r.Context(), claims, projectID, recipientID); err != nil {
		response.Failure(w, r, rs.Log, "Failed to remove report recipient", err)
		return
	}
	response.OK(w, map[string]string{"message": "Recipient removed"})
}

func (rs *ReportService) PreviewReport(w http.ResponseWriter, r *http.Request) {
	projectID, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	report, err := rs.Preview(r.Context(), claims, projectID)
	if err != nil {
		response.Failure(w, r, rs.Log, "Failed to build report", err)
		return
	}
	response.OK(w, report)
}

func (rs *ReportService) SendReport(w http.ResponseWriter, r *http.Request) {
	projectID, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	n, err := rs.SendNow(r.Context(), claims, projectID)
	if err != nil && n == 0 {
		response.Failure(w, r, rs.Log, "Failed to send report", err)
		return
	}
	failed := multierr.Errors(err)
	if err != nil {
		rs.Log.WithContext(r.Context()).Warn("Report partially sent", "project_id", projectID, "error", err)
	}
	rs.Log.WithContext(r.Context()).Audit("Report sent", "project_id", projectID, "by", claims.UserID, "recipients", n)
	response.OK(w, map[string]int{"recipients": n, "failed": len(failed)})
}
