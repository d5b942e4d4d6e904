package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"scribe-server/pkg/config"
	"scribe-server/pkg/errors"
	"scribe-server/pkg/metrics"
)

// State is the lifecycle state of a transcription session.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateStopping   State = "stopping"
	StateError      State = "error"
)

// Listener receives session callbacks. Callbacks for one session are
// delivered sequentially from a single goroutine, in stream order.
type Listener interface {
	// OnTranscript is invoked for every recognized fragment, interim and
	// final alike.
	OnTranscript(sessionID string, transcript Transcript)

	// OnSessionError is invoked when the stream fails mid-session. The
	// session has already moved to the error state when this fires.
	OnSessionError(sessionID string, err error)
}

// Session owns one recognition stream and accumulates the conversation
// transcript from its final fragments. All exported methods are safe for
// concurrent use.
type Session struct {
	id       string
	logger   *logrus.Entry
	provider Provider
	config   config.STTConfig
	listener Listener

	mu              sync.Mutex
	state           State
	stream          Stream
	transcript      strings.Builder
	startedAt       time.Time
	duration        time.Duration
	finalCount      int
	interimCount    int
	chunksProcessed int
	droppedChunks   int
	retryCount      int
	consumerDone    chan struct{}
}

// NewSession creates an idle session for the given provider.
func NewSession(logger *logrus.Logger, provider Provider, cfg config.STTConfig, listener Listener) *Session {
	id := uuid.New().String()
	return &Session{
		id:       id,
		logger:   logger.WithField("session_id", id),
		provider: provider,
		config:   cfg,
		listener: listener,
		state:    StateIdle,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start connects to the provider and begins consuming recognition events.
// Connection failures are retried with a linearly increasing backoff; when
// every attempt fails the session returns to idle and the last error is
// returned. Starting an active session restarts it: the live stream is
// stopped and the transcript accumulated so far is discarded.
func (s *Session) Start(ctx context.Context) error {
	if s.State() == StateActive {
		s.Stop()
	}

	s.mu.Lock()
	if s.state != StateIdle && s.state != StateError {
		state := s.state
		s.mu.Unlock()
		return errors.NewValidation(
			fmt.Sprintf("cannot start session in state %s", state),
			map[string]interface{}{"session_id": s.id})
	}
	s.state = StateConnecting
	s.transcript.Reset()
	s.duration = 0
	s.finalCount = 0
	s.interimCount = 0
	s.chunksProcessed = 0
	s.mu.Unlock()

	var stream Stream
	var err error
	for attempt := 1; attempt <= s.config.ConnectRetries; attempt++ {
		stream, err = s.provider.Connect(ctx)
		if err == nil {
			break
		}

		metrics.ConnectRetriesInc()
		s.mu.Lock()
		s.retryCount++
		s.mu.Unlock()
		s.logger.WithError(err).WithField("attempt", attempt).Warn("Provider connection attempt failed")

		if attempt < s.config.ConnectRetries {
			backoff := s.config.RetryBackoff * time.Duration(attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				err = ctx.Err()
				attempt = s.config.ConnectRetries
			}
		}
	}

	if err != nil {
		metrics.ConnectFailuresInc()
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return errors.Wrap(err, "could not establish transcription stream",
			map[string]interface{}{
				"provider": s.provider.Name(),
				"attempts": s.config.ConnectRetries,
			}).WithCode("CONNECTION_ERROR")
	}

	s.mu.Lock()
	s.stream = stream
	s.state = StateActive
	s.startedAt = time.Now()
	s.consumerDone = make(chan struct{})
	s.mu.Unlock()

	metrics.SessionStarted()
	s.logger.WithField("provider", s.provider.Name()).Info("Transcription session started")

	go s.consumeEvents(stream, s.consumerDone)
	return nil
}

// SendAudio forwards an audio chunk to the live stream. Chunks arriving
// while the session is not active are dropped without error; callers need
// no awareness of stop races.
func (s *Session) SendAudio(audio []byte) error {
	s.mu.Lock()
	if len(audio) == 0 {
		s.droppedChunks++
		s.mu.Unlock()
		metrics.RecordDroppedChunk("empty")
		return nil
	}
	if s.state != StateActive {
		s.droppedChunks++
		s.mu.Unlock()
		metrics.RecordDroppedChunk("inactive_session")
		return nil
	}
	stream := s.stream
	s.mu.Unlock()

	if err := stream.Send(audio); err != nil {
		return err
	}

	s.mu.Lock()
	s.chunksProcessed++
	s.mu.Unlock()
	metrics.RecordAudioChunk(len(audio))
	return nil
}

// Stop finalizes the stream and waits for the consumer to drain the
// remaining events, so the transcript includes everything the provider
// flushed on close. Stopping an idle or already stopped session is a
// no-op; the accumulated transcript is always preserved.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	stream := s.stream
	done := s.consumerDone
	startedAt := s.startedAt
	s.mu.Unlock()

	stream.Close()
	<-done

	s.mu.Lock()
	if s.state == StateStopping {
		s.state = StateIdle
	}
	s.stream = nil
	s.duration = time.Since(startedAt)
	s.mu.Unlock()

	metrics.SessionStopped(time.Since(startedAt))
	s.logger.WithField("duration", time.Since(startedAt).String()).Info("Transcription session stopped")
}

// Transcript returns the accumulated conversation text.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.TrimSpace(s.transcript.String())
}

// Stats returns read-only session counters. Duration is live while the
// session is active and frozen once it stops.
func (s *Session) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	duration := s.duration
	if s.state == StateActive || s.state == StateStopping {
		duration = time.Since(s.startedAt)
	}

	return map[string]interface{}{
		"session_id":             s.id,
		"state":                  string(s.state),
		"connected":              s.state == StateActive,
		"audio_chunks_processed": s.chunksProcessed,
		"retry_count":            s.retryCount,
		"duration":               duration.Seconds(),
		"final_results":          s.finalCount,
		"interim_count":          s.interimCount,
		"dropped_chunks":         s.droppedChunks,
		"transcript_len":         s.transcript.Len(),
	}
}

// consumeEvents is the single apply loop for one stream. Final fragments
// are appended to the transcript in arrival order; every fragment is
// forwarded to the listener.
func (s *Session) consumeEvents(stream Stream, done chan struct{}) {
	defer close(done)

	for event := range stream.Events() {
		switch event.Type {
		case EventTranscript:
			s.applyTranscript(event.Transcript)
			if s.listener != nil {
				s.listener.OnTranscript(s.id, event.Transcript)
			}

		case EventError:
			s.mu.Lock()
			stopping := s.state == StateStopping
			startedAt := s.startedAt
			if !stopping {
				s.state = StateError
				s.duration = time.Since(startedAt)
			}
			s.mu.Unlock()

			if !stopping {
				metrics.SessionStopped(time.Since(startedAt))
				if s.listener != nil {
					s.listener.OnSessionError(s.id, event.Err)
				}
			}

		case EventClosed, EventUtteranceEnd:
			// Lifecycle markers; nothing to accumulate.
		}
	}
}

// applyTranscript folds one recognized fragment into session state. Only
// final fragments extend the transcript; interim ones are counted and
// passed through to the listener for live display.
func (s *Session) applyTranscript(t Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !t.IsFinal {
		s.interimCount++
		metrics.RecordTranscript(false)
		return
	}

	if t.HasSpeaker {
		fmt.Fprintf(&s.transcript, "[Speaker %d] %s ", t.Speaker, t.Text)
	} else {
		s.transcript.WriteString(t.Text)
		s.transcript.WriteString(" ")
	}
	s.finalCount++
	metrics.RecordTranscript(true)
}
