package stt

// EventType identifies what a provider stream event carries.
type EventType string

const (
	// EventTranscript carries a recognized speech fragment.
	EventTranscript EventType = "transcript"
	// EventUtteranceEnd marks the provider's end-of-utterance signal.
	EventUtteranceEnd EventType = "utterance_end"
	// EventError reports a fatal stream failure. The stream produces no
	// further events after an error.
	EventError EventType = "error"
	// EventClosed marks orderly end of the stream.
	EventClosed EventType = "closed"
)

// Word is a single recognized word with optional speaker attribution.
type Word struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
	Speaker    int     `json:"speaker"`
}

// Transcript is a recognized fragment of speech.
type Transcript struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
	Speaker    int     `json:"speaker"`
	HasSpeaker bool    `json:"has_speaker"`
	Words      []Word  `json:"words,omitempty"`
}

// Event is a single item on a provider stream's event channel.
type Event struct {
	Type       EventType
	Transcript Transcript
	Err        error
}
