package ws

import (
	"encoding/json"
	"time"
)

// Inbound event names.
const (
	EventConnect            = "connect"
	EventDisconnect         = "disconnect"
	EventStartTranscription = "start_transcription"
	EventAudioData          = "audio_data"
	EventStopTranscription  = "stop_transcription"
	EventRetryAnalysis      = "retry_analysis"
)

// Outbound event names.
const (
	EventStatus               = "status"
	EventTranscript           = "transcript"
	EventConversationAnalysis = "conversation_analysis"
	EventError                = "error"
	EventClearSession         = "clear_session"
)

// Envelope is the frame every message travels in, both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AudioDataPayload carries one base64-encoded audio chunk.
type AudioDataPayload struct {
	Audio string `json:"audio"`
}

// StatusPayload reports the controller's state to the client.
type StatusPayload struct {
	State     string    `json:"state"`
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptPayload is a live recognition update.
type TranscriptPayload struct {
	Text       string    `json:"text"`
	IsFinal    bool      `json:"is_final"`
	Speaker    *int      `json:"speaker,omitempty"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrorPayload reports a recoverable failure to the client.
type ErrorPayload struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
