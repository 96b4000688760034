// Package testutil holds helpers shared by service tests.
package testutil

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/nikhil/projectdesk/internal/auth"
	"github.com/nikhil/projectdesk/internal/mailer"
	"github.com/nikhil/projectdesk/internal/middleware"
	"github.com/nikhil/projectdesk/internal/models"
)

// NewMockDB returns a sqlmock-backed *sql.DB that verifies expectations
// when the test ends.
func NewMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func Admin(id int64) *auth.Claims {
	return &auth.Claims{UserID: id, Email: "admin@example.com", Role: models.RoleAdmin, Kind: auth.KindUser}
}

func Manager(id int64) *auth.Claims {
	return &auth.Claims{UserID: id, Email: "manager@example.com", Role: models.RoleManager, Kind: auth.KindUser}
}

func Member(id int64) *auth.Claims {
	return &auth.Claims{UserID: id, Email: "member@example.com", Role: models.RoleMember, Kind: auth.KindUser}
}

func External(id int64) *auth.Claims {
	return &auth.Claims{UserID: id, Email: "guest@example.com", Kind: auth.KindExternal}
}

// Request builds a request with an optional JSON body, caller and route vars.
func Request(t *testing.T, method, target string, body interface{}, claims *auth.Claims, vars map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	r := httptest.NewRequest(method, target, &buf)
	if claims != nil {
		r = r.WithContext(middleware.WithClaims(r.Context(), claims))
	}
	if vars != nil {
		r = mux.SetURLVars(r, vars)
	}
	return r
}

// Serve runs h and decodes the JSON envelope.
func Serve(t *testing.T, h http.HandlerFunc, r *http.Request) (int, Envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, r)
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

// Envelope mirrors the response envelope with a raw data field.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// Into decodes Data into dst.
func (e Envelope) Into(t *testing.T, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(e.Data, dst))
}

// Mailbox is a mailer.Mailer that records messages.
type Mailbox struct {
	mu   sync.Mutex
	Sent []mailer.Message
	Err  error
	// Reject fails messages addressed to the listed recipients.
	Reject map[string]error
}

func (m *Mailbox) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, to := range msg.To {
		if err := m.Reject[to]; err != nil {
			return err
		}
	}
	m.Sent = append(m.Sent, msg)
	return nil
}

func (m *Mailbox) Messages() []mailer.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailer.Message(nil), m.Sent...)
}

// Events is a realtime.Publisher that records published events.
type Events struct {
	mu     sync.Mutex
	Topics []string
	Events []models.Event
}

func (e *Events) Publish(topic string, ev models.Event) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	ev.Topic = topic
	e.Topics = append(e.Topics, topic)
	e.Events = append(e.Events, ev)
	return 1
}

func (e *Events) All() []models.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Event(nil), e.Events...)
}
