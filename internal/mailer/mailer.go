package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nikhil/projectdesk/internal/config"
	"github.com/nikhil/projectdesk/internal/logger"
)

var ErrNoRecipients = errors.New("mailer: message has no recipients")

// Message is one outbound email.
type Message struct {
	To      []string
	Subject string
	HTML    string
}

// Mailer delivers transactional email.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// New returns an HTTPMailer when an API key is configured and a LogMailer otherwise.
func New(cfg config.MailConfig, log *logger.Logger) Mailer {
	if cfg.APIKey == "" {
		log.Warn("MAIL_API_KEY not set, emails will only be logged")
		return &LogMailer{Log: log}
	}
	return NewHTTPMailer(cfg.APIURL, cfg.APIKey, cfg.From)
}

// HTTPMailer posts messages to a transactional email API
// (POST {base}/emails with a bearer key).
type HTTPMailer struct {
	BaseURL string
	APIKey  string
	From    string
	Client  *http.Client
}

func NewHTTPMailer(baseURL, apiKey, from string) *HTTPMailer {
	return &HTTPMailer{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		From:    from,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (m *HTTPMailer) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}

	body, err := json.Marshal(sendRequest{From: m.From, To: msg.To, Subject: msg.Subject, HTML: msg.HTML})
	if err != nil {
		return fmt.Errorf("failed to marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.APIKey)

	resp, err := m.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr apiError
		detail := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiErr) == nil {
			if apiErr.Message != "" {
				detail = apiErr.Message
			} else if apiErr.Error != "" {
				detail = apiErr.Error
			}
		}
		return fmt.Errorf("email API returned status %d: %s", resp.StatusCode, detail)
	}
	return nil
}

// LogMailer writes emails to the log instead of sending them.
type LogMailer struct {
	Log *logger.Logger
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	m.Log.WithContext(ctx).Info("Email (not sent)", "to", msg.To, "subject", msg.Subject, "html_bytes", len(msg.HTML))
	return nil
}
