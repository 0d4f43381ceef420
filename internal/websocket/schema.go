package websocket

import "encoding/json"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave  Action = "autosave"
	ActionSubmit    Action = "submit"
	ActionIntegrity Action = "integrity"
	ActionProgress  Action = "progress"
	ActionPing      Action = "ping"
)

// RequestEnvelope is one client frame. Payload is decoded according to
// Action: model.SaveAnswerRequest for autosave, model.IntegrityBatchRequest
// for integrity, model.ProgressRequest for progress. RequestID is echoed back
// so the client can match replies.
type RequestEnvelope struct {
	Action    Action          `json:"action"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventAck       Event = "ack"
	EventSubmitted Event = "submitted"
	EventError     Event = "error"
	EventPong      Event = "pong"
)

// ResponseEnvelope is one server frame.
type ResponseEnvelope struct {
	Event     Event             `json:"event"`
	RequestID string            `json:"requestId,omitempty"`
	Data      any               `json:"data,omitempty"`
	Code      string            `json:"code,omitempty"`
	Error     string            `json:"error,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}
