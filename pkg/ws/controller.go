package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"scribe-server/pkg/analysis"
	"scribe-server/pkg/cache"
	"scribe-server/pkg/config"
	"scribe-server/pkg/errors"
	"scribe-server/pkg/metrics"
	"scribe-server/pkg/stt"
)

// ControllerState is the lifecycle state of one client connection.
type ControllerState string

const (
	StateConnected    ControllerState = "connected"
	StateTranscribing ControllerState = "transcribing"
	StateAnalyzing    ControllerState = "analyzing"
	StateStopped      ControllerState = "stopped"
)

// lastAnalysisKey is the per-connection cache slot holding the most
// recent analysis result.
const lastAnalysisKey = "last_analysis"

// Sender delivers outbound events to one client. Implementations must be
// safe for concurrent use; the controller emits from more than one
// goroutine.
type Sender interface {
	SendEvent(event string, data interface{}) error
}

// Publisher mirrors final transcripts and completed analyses to external
// consumers. Optional; publish failures are logged and ignored.
type Publisher interface {
	PublishTranscript(connectionID, text string) error
	PublishAnalysis(connectionID string, result *analysis.Result) error
}

// Controller drives one client connection: it owns the transcription
// session lifecycle, relays audio, and runs analysis when the session
// stops. One controller exists per WebSocket connection.
type Controller struct {
	id       string
	logger   *logrus.Entry
	sender   Sender
	provider stt.Provider
	analyzer *analysis.Analyzer
	sessions *cache.SessionCacheStore
	config   config.STTConfig

	publisher Publisher

	mu             sync.Mutex
	state          ControllerState
	session        *stt.Session
	lastTranscript string
}

// NewController creates a controller for a freshly accepted connection.
func NewController(logger *logrus.Logger, sender Sender, provider stt.Provider,
	analyzer *analysis.Analyzer, sessions *cache.SessionCacheStore, cfg config.STTConfig) *Controller {

	id := uuid.New().String()
	return &Controller{
		id:       id,
		logger:   logger.WithField("connection_id", id),
		sender:   sender,
		provider: provider,
		analyzer: analyzer,
		sessions: sessions,
		config:   cfg,
		state:    StateConnected,
	}
}

// SetPublisher attaches an optional analysis publisher.
func (c *Controller) SetPublisher(p Publisher) {
	c.publisher = p
}

// ID returns the connection identifier.
func (c *Controller) ID() string {
	return c.id
}

// State returns the controller's current state.
func (c *Controller) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HandleEvent dispatches one inbound client event. Unknown events get an
// error reply rather than closing the connection.
func (c *Controller) HandleEvent(ctx context.Context, envelope Envelope) {
	switch envelope.Event {
	case EventConnect:
		c.handleConnect()
	case EventStartTranscription:
		c.handleStart(ctx)
	case EventAudioData:
		c.handleAudio(envelope.Data)
	case EventStopTranscription:
		c.handleStop(ctx)
	case EventRetryAnalysis:
		c.handleRetry(ctx)
	case EventDisconnect:
		c.handleDisconnect()
	default:
		c.sendError("VALIDATION_ERROR", "unknown event: "+envelope.Event)
	}
}

func (c *Controller) handleConnect() {
	c.mu.Lock()
	c.state = StateConnected
	c.mu.Unlock()

	c.sendStatus(StateConnected, "", "")
	c.logger.Info("Client connected")
}

func (c *Controller) handleStart(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateAnalyzing {
		c.mu.Unlock()
		c.sendError("VALIDATION_ERROR", "cannot start transcription while analysis is running")
		return
	}
	current := c.session
	c.session = nil
	c.mu.Unlock()

	// Starting while a session is live restarts: the stream is stopped
	// and its transcript discarded.
	if current != nil {
		current.Stop()
	}

	// The client discards any prior display state before the new session.
	c.send(EventClearSession, nil)

	session := stt.NewSession(c.logger.Logger, c.provider, c.config, c)
	if err := session.Start(ctx); err != nil {
		c.mu.Lock()
		c.state = StateConnected
		c.mu.Unlock()
		c.logger.WithError(err).Error("Failed to start transcription session")
		c.sendError(errors.GetCode(err), "could not connect to transcription service")
		c.sendStatus(StateConnected, "", "")
		return
	}

	c.mu.Lock()
	c.session = session
	c.state = StateTranscribing
	c.mu.Unlock()

	c.sendStatus(StateTranscribing, session.ID(), "")
}

func (c *Controller) handleAudio(data json.RawMessage) {
	var payload AudioDataPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.sendError("VALIDATION_ERROR", "malformed audio_data payload")
		return
	}

	audio, err := base64.StdEncoding.DecodeString(payload.Audio)
	if err != nil {
		c.sendError("AUDIO_PROCESSING_ERROR", "audio chunk is not valid base64")
		return
	}
	if len(audio) > c.config.MaxChunkBytes {
		metrics.RecordDroppedChunk("oversize")
		c.sendError("AUDIO_PROCESSING_ERROR", "audio chunk exceeds maximum size")
		return
	}

	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		metrics.RecordDroppedChunk("no_session")
		return
	}

	if err := session.SendAudio(audio); err != nil {
		c.logger.WithError(err).Warn("Audio forwarding failed")
		c.sendError(errors.GetCode(err), "failed to forward audio")
	}
}

func (c *Controller) handleStop(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateTranscribing {
		state := c.state
		c.mu.Unlock()
		c.sendError("VALIDATION_ERROR", "no active transcription to stop in state "+string(state))
		return
	}
	session := c.session
	c.state = StateAnalyzing
	c.mu.Unlock()

	c.sendStatus(StateAnalyzing, session.ID(), "analyzing conversation")

	session.Stop()
	transcript := session.Transcript()

	c.mu.Lock()
	c.lastTranscript = transcript
	c.mu.Unlock()

	// Analysis can take tens of seconds; run it off the read loop so the
	// client can still disconnect cleanly.
	go c.runAnalysis(ctx, transcript, false)
}

func (c *Controller) handleRetry(ctx context.Context) {
	c.mu.Lock()
	transcript := c.lastTranscript
	state := c.state
	c.mu.Unlock()

	if state == StateTranscribing || state == StateAnalyzing {
		c.sendError("VALIDATION_ERROR", "cannot retry analysis in state "+string(state))
		return
	}
	if transcript == "" {
		c.sendError("VALIDATION_ERROR", "no completed transcription to re-analyze")
		return
	}

	// A retry must reach the model again, so drop the cached result first.
	c.analyzer.Invalidate(transcript, analysis.VariantSourced)

	c.mu.Lock()
	c.state = StateAnalyzing
	c.mu.Unlock()
	c.sendStatus(StateAnalyzing, "", "re-analyzing conversation")

	go c.runAnalysis(ctx, transcript, true)
}

// runAnalysis produces and delivers the conversation analysis, then moves
// the controller to stopped.
func (c *Controller) runAnalysis(ctx context.Context, transcript string, isRetry bool) {
	var result *analysis.Result

	if transcript == "" {
		result = analysis.NewNoSpeechResult()
	} else {
		var err error
		result, err = c.analyzer.Analyze(ctx, transcript, analysis.VariantSourced)
		if err != nil {
			c.logger.WithError(err).Error("Conversation analysis failed")
			c.sendError(errors.GetCode(err), "conversation analysis failed")
			c.setStopped()
			return
		}
	}

	c.sessions.GetOrCreate(c.id).Put(lastAnalysisKey, result)

	if c.publisher != nil && !result.IsError() {
		if err := c.publisher.PublishAnalysis(c.id, result); err != nil {
			c.logger.WithError(err).Warn("Failed to publish analysis result")
		}
	}

	c.logger.WithFields(logrus.Fields{
		"retry":      isRetry,
		"transcript": len(transcript),
		"degraded":   result.IsError(),
	}).Info("Conversation analysis delivered")

	c.send(EventConversationAnalysis, result)
	c.setStopped()
}

func (c *Controller) handleDisconnect() {
	c.Shutdown()
	c.send(EventClearSession, nil)
}

// Shutdown releases everything the connection holds. Safe to call twice;
// the handler invokes it when the socket closes regardless of whether the
// client said goodbye.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.state = StateStopped
	c.mu.Unlock()

	if session != nil {
		session.Stop()
	}
	c.sessions.Clear(c.id)
	c.logger.Info("Connection controller shut down")
}

// LastAnalysis returns the cached result of the most recent analysis for
// this connection, if still present.
func (c *Controller) LastAnalysis() (*analysis.Result, bool) {
	value, ok := c.sessions.GetOrCreate(c.id).Get(lastAnalysisKey)
	if !ok {
		return nil, false
	}
	return value.(*analysis.Result), true
}

// OnTranscript implements stt.Listener; it relays recognition updates to
// the client as they arrive.
func (c *Controller) OnTranscript(sessionID string, transcript stt.Transcript) {
	payload := TranscriptPayload{
		Text:       transcript.Text,
		IsFinal:    transcript.IsFinal,
		Confidence: transcript.Confidence,
		Timestamp:  time.Now(),
	}
	if transcript.HasSpeaker {
		speaker := transcript.Speaker
		payload.Speaker = &speaker
	}
	c.send(EventTranscript, payload)

	if c.publisher != nil && transcript.IsFinal {
		if err := c.publisher.PublishTranscript(c.id, transcript.Text); err != nil {
			c.logger.WithError(err).Debug("Failed to publish transcript")
		}
	}
}

// OnSessionError implements stt.Listener; a mid-session stream failure is
// surfaced to the client and the controller returns to connected so the
// client may start again.
func (c *Controller) OnSessionError(sessionID string, err error) {
	c.logger.WithError(err).WithField("session_id", sessionID).Error("Transcription stream failed")

	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	// Keep whatever was transcribed before the failure so the client can
	// still request an analysis of the partial conversation.
	var transcript string
	if session != nil {
		transcript = session.Transcript()
	}

	c.mu.Lock()
	if transcript != "" {
		c.lastTranscript = transcript
	}
	c.state = StateConnected
	c.mu.Unlock()

	c.sendError(errors.GetCode(err), "transcription stream failed")
	c.sendStatus(StateConnected, "", "session ended unexpectedly")
}

func (c *Controller) setStopped() {
	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()
	c.sendStatus(StateStopped, "", "")
}

func (c *Controller) sendStatus(state ControllerState, sessionID, message string) {
	c.send(EventStatus, StatusPayload{
		State:     string(state),
		SessionID: sessionID,
		Message:   message,
		Timestamp: time.Now(),
	})
}

func (c *Controller) sendError(code, message string) {
	c.mu.Lock()
	var sessionID string
	if c.session != nil {
		sessionID = c.session.ID()
	}
	c.mu.Unlock()

	c.send(EventError, ErrorPayload{
		Type:      code,
		Message:   message,
		SessionID: sessionID,
		Timestamp: time.Now(),
	})
}

func (c *Controller) send(event string, data interface{}) {
	if err := c.sender.SendEvent(event, data); err != nil {
		c.logger.WithError(err).WithField("event", event).Debug("Dropping outbound event")
	}
}
