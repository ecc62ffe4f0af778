package websocket

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/raaihank/scribe-sentinel/internal/privacy"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeRedaction reports counts from one redaction
	EventTypeRedaction EventType = "redaction"
	// EventTypeNoteGenerated reports a finished note
	EventTypeNoteGenerated EventType = "note_generated"
	// EventTypeNoteFailed reports a generation that ended in an error
	EventTypeNoteFailed EventType = "note_failed"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
)

// Event represents a WebSocket event sent to clients. Payloads carry counts
// and identifiers only, never transcript or note text.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// RedactionEvent summarizes one redaction
type RedactionEvent struct {
	Source        string         `json:"source"` // api, stream, websocket, scribe
	Counts        map[string]int `json:"entities_found"`
	TotalFindings int            `json:"total_findings"`
	ProcessingMS  float64        `json:"processing_ms"`
}

// NoteEvent reports the outcome of a note generation
type NoteEvent struct {
	NoteID       string  `json:"note_id,omitempty"`
	CodeCount    int     `json:"icd10_count"`
	Cached       bool    `json:"cached"`
	Attempts     int     `json:"attempts"`
	ProcessingMS float64 `json:"processing_ms"`
	Error        string  `json:"error,omitempty"` // error class, not message text
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string   `json:"status"`
	Uptime           string   `json:"uptime"`
	ActiveRules      []string `json:"active_rules"`
	ConnectedClients int      `json:"connected_clients"`
	Model            string   `json:"model,omitempty"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	Message  string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type   string      `json:"type"`
	Events []EventType `json:"events,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	ConnectedAt time.Time
	IP          string
	UserAgent   string

	// nil subscribes to everything
	subscription map[EventType]bool
}

// StreamRequest is one inbound message on the redaction socket.
type StreamRequest struct {
	Text string `json:"text"`
}

// StreamMessage is one outbound message on the redaction socket: an entity
// record per match, then a summary.
type StreamMessage struct {
	Type          string          `json:"type"` // entity, summary, error
	Entity        *privacy.Record `json:"entity,omitempty"`
	RedactedText  string          `json:"redacted_text,omitempty"`
	Counts        map[string]int  `json:"entities_found,omitempty"`
	TotalFindings int             `json:"total_findings,omitempty"`
	Advisory      string          `json:"advisory,omitempty"`
	Error         string          `json:"error,omitempty"`
}
