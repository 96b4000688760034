package models

import "time"

type EventType string

const (
	EventInsert   EventType = "insert"
	EventUpdate   EventType = "update"
	EventDelete   EventType = "delete"
	EventPresence EventType = "presence"
)

// Event is a row change pushed to real-time subscribers of Topic.
type Event struct {
	Type   EventType   `json:"type"`
	Table  string      `json:"table"`
	Topic  string      `json:"topic"`
	Record interface{} `json:"record"`
	At     int64       `json:"at"`
}

// NewEvent stamps an event with the current time.
func NewEvent(typ EventType, table string, record interface{}) Event {
	return Event{Type: typ, Table: table, Record: record, At: time.Now().UTC().Unix()}
}
