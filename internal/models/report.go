package models

type ReportFrequency string

const (
	FrequencyDaily   ReportFrequency = "daily"
	FrequencyWeekly  ReportFrequency = "weekly"
	FrequencyMonthly ReportFrequency = "monthly"
)

func (f ReportFrequency) Valid() bool {
	return f == FrequencyDaily || f == FrequencyWeekly || f == FrequencyMonthly
}

// ReportSetting is the delivery schedule of a project's status report.
type ReportSetting struct {
	ProjectID  int64           `json:"project_id"`
	Enabled    bool            `json:"enabled"`
	Frequency  ReportFrequency `json:"frequency"`
	DayOfWeek  int             `json:"day_of_week"`
	DayOfMonth int             `json:"day_of_month"`
	HourUTC    int             `json:"hour_utc"`
	Notes      string          `json:"notes"`
	LastSentAt *int64          `json:"last_sent_at"`
	UpdatedAt  int64           `json:"updated_at"`
}

type ReportRecipient struct {
	RecipientID int64  `json:"recipient_id"`
	ProjectID   int64  `json:"project_id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	CreatedAt   int64  `json:"created_at"`
}
