package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/nikhil/projectdesk/internal/logger"
)

const maxBodyBytes = 1 << 20

// Error is an error with an HTTP status and a message safe to show users.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func NewError(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

func BadRequest(format string, args ...interface{}) *Error {
	return NewError(http.StatusBadRequest, fmt.Sprintf(format, args...))
}

func NotFound(what string) *Error {
	return NewError(http.StatusNotFound, what+" not found")
}

func Forbidden(message string) *Error {
	return NewError(http.StatusForbidden, message)
}

func Conflict(message string) *Error {
	return NewError(http.StatusConflict, message)
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// JSON writes payload inside the success envelope.
func JSON(w http.ResponseWriter, code int, payload interface{}) {
	write(w, code, envelope{Success: true, Data: payload})
}

func OK(w http.ResponseWriter, payload interface{}) {
	JSON(w, http.StatusOK, payload)
}

func Created(w http.ResponseWriter, payload interface{}) {
	JSON(w, http.StatusCreated, payload)
}

// WithError writes the failure envelope.
func WithError(w http.ResponseWriter, code int, message string) {
	write(w, code, envelope{Success: false, Error: message})
}

// Fail maps err to a response. *Error keeps its status and message,
// anything else becomes a 500 without leaking details.
func Fail(w http.ResponseWriter, err error) {
	var e *Error
	if errors.As(err, &e) {
		WithError(w, e.Status, e.Message)
		return
	}
	WithError(w, http.StatusInternalServerError, "internal error")
}

func write(w http.ResponseWriter, code int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error marshaling JSON: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}

// Decode reads a JSON request body into dst, rejecting unknown fields.
func Decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return BadRequest("Invalid request body")
	}
	return nil
}

// PathInt64 parses a positive integer route variable.
func PathInt64(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || v <= 0 {
		return 0, BadRequest("Invalid %s", name)
	}
	return v, nil
}

// Pagination is the page window of list endpoints.
type Pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Page reads page/per_page query parameters with defaults 1 and 20.
func Page(r *http.Request) Pagination {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return Pagination{Page: page, PerPage: perPage}
}

// List is the payload of paginated endpoints.
type List struct {
	Items      interface{} `json:"items"`
	TotalCount int         `json:"total_count"`
	Pagination
}

// Failure logs unexpected errors with the request context and writes the
// response for err. Typed *Error values are not logged as errors.
func Failure(w http.ResponseWriter, r *http.Request, log *logger.Logger, msg string, err error) {
	var e *Error
	if errors.As(err, &e) {
		log.WithContext(r.Context()).Debug(msg, "status", e.Status, "reason", e.Message)
	} else {
		log.WithContext(r.Context()).Error(msg, "error", err)
	}
	Fail(w, err)
}
