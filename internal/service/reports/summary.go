package reportService

import (
	"math"
	"sort"
	"time"

	"github.com/nikhil/projectdesk/internal/models"
)

const (
	HealthOnTrack  = "on_track"
	HealthAtRisk   = "at_risk"
	HealthOffTrack = "off_track"

	week = 7 * 24 * time.Hour
)

type StatusCount struct {
	Status models.TaskStatus `json:"status"`
	Count  int               `json:"count"`
}

type OverdueTask struct {
	TaskID  int64  `json:"task_id"`
	Title   string `json:"title"`
	DueDate int64  `json:"due_date"`
	Due     string `json:"-"`
}

// Summary is the computed state of a project at a point in time.
type Summary struct {
	ProjectID         int64         `json:"project_id"`
	ProjectName       string        `json:"project_name"`
	Total             int           `json:"total"`
	Completed         int           `json:"completed"`
	CompletionPercent int           `json:"completion_percent"`
	Overdue           int           `json:"overdue"`
	DueSoon           int           `json:"due_soon"`
	CompletedRecently int           `json:"completed_recently"`
	Blocked           int           `json:"blocked"`
	ByStatus          []StatusCount `json:"by_status"`
	OverdueTasks      []OverdueTask `json:"overdue_tasks"`
	HealthScore       int           `json:"health_score"`
	Health            string        `json:"health"`
	GeneratedAt       int64         `json:"generated_at"`
}

// Summarize counts tasks and scores project health. The score starts at 100,
// loses up to 60 for the share of overdue tasks and up to 20 for the share
// of blocked ones, and loses 20 more when the project itself is past due
// with work outstanding.
func Summarize(p models.Project, tasks []models.Task, now time.Time) Summary {
	s := Summary{
		ProjectID:    p.ProjectID,
		ProjectName:  p.Name,
		Total:        len(tasks),
		OverdueTasks: []OverdueTask{},
		GeneratedAt:  now.Unix(),
	}
	nowUnix := now.Unix()
	soon := now.Add(week).Unix()
	recent := now.Add(-week).Unix()

	counts := make(map[models.TaskStatus]int, len(models.TaskStatuses))
	for _, t := range tasks {
		counts[t.Status]++
		switch {
		case t.Status == models.TaskDone:
			s.Completed++
			if t.CompletedAt != nil && *t.CompletedAt >= recent {
				s.CompletedRecently++
			}
		case t.DueDate != nil && *t.DueDate < nowUnix:
			s.Overdue++
			s.OverdueTasks = append(s.OverdueTasks, OverdueTask{
				TaskID:  t.TaskID,
				Title:   t.Title,
				DueDate: *t.DueDate,
				Due:     time.Unix(*t.DueDate, 0).UTC().Format("Jan 2"),
			})
		case t.DueDate != nil && *t.DueDate <= soon:
			s.DueSoon++
		}
		if t.Status == models.TaskBlocked {
			s.Blocked++
		}
	}
	for _, st := range models.TaskStatuses {
		s.ByStatus = append(s.ByStatus, StatusCount{Status: st, Count: counts[st]})
	}
	sort.Slice(s.OverdueTasks, func(i, j int) bool { return s.OverdueTasks[i].DueDate < s.OverdueTasks[j].DueDate })

	if s.Total == 0 {
		s.HealthScore = 100
		s.Health = HealthOnTrack
		return s
	}

	s.CompletionPercent = int(math.Round(100 * float64(s.Completed) / float64(s.Total)))

	score := 100.0
	score -= 60 * float64(s.Overdue) / float64(s.Total)
	score -= 20 * float64(s.Blocked) / float64(s.Total)
	if p.DueDate != nil && *p.DueDate < nowUnix && s.Completed < s.Total &&
		p.Status != models.ProjectCompleted && p.Status != models.ProjectCancelled {
		score -= 20
	}
	s.HealthScore = int(math.Max(0, math.Round(score)))
	s.Health = healthLabel(s.HealthScore)
	return s
}

func healthLabel(score int) string {
	switch {
	case score >= 75:
		return HealthOnTrack
	case score >= 50:
		return HealthAtRisk
	default:
		return HealthOffTrack
	}
}

func healthColor(label string) string {
	switch label {
	case HealthOnTrack:
		return "#15803d"
	case HealthAtRisk:
		return "#b45309"
	}
	return "#b91c1c"
}

// IsDue reports whether an enabled schedule should send at now. A report is
// sent at most once per UTC day, on or after the configured hour.
func IsDue(s models.ReportSetting, now time.Time) bool {
	now = now.UTC()
	if !s.Enabled || now.Hour() < s.HourUTC {
		return false
	}
	if s.LastSentAt != nil {
		last := time.Unix(*s.LastSentAt, 0).UTC()
		if last.Year() == now.Year() && last.YearDay() == now.YearDay() {
			return false
		}
	}
	switch s.Frequency {
	case models.FrequencyDaily:
		return true
	case models.FrequencyWeekly:
		return int(now.Weekday()) == s.DayOfWeek
	case models.FrequencyMonthly:
		return now.Day() == s.DayOfMonth
	}
	return false
}
