package stt

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"scribe-server/pkg/errors"
)

// MockProvider implements a scripted speech-to-text provider for testing.
// Each Connect returns a stream that replays the configured events; the
// provider can also be told to fail a number of connection attempts.
type MockProvider struct {
	logger *logrus.Logger

	mu           sync.Mutex
	failuresLeft int
	scripted     []Event
	connectCount int
	streams      []*MockStream
}

// NewMockProvider creates a mock provider with no scripted events.
func NewMockProvider(logger *logrus.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Name returns the provider name.
func (p *MockProvider) Name() string {
	return "mock"
}

// FailConnects makes the next n Connect calls fail.
func (p *MockProvider) FailConnects(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failuresLeft = n
}

// Script sets the events every future stream replays after Close.
func (p *MockProvider) Script(events ...Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripted = events
}

// ConnectCount reports how many Connect calls were made, including
// failed ones.
func (p *MockProvider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectCount
}

// LastStream returns the most recently created stream, or nil.
func (p *MockProvider) LastStream() *MockStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		return nil
	}
	return p.streams[len(p.streams)-1]
}

// Connect returns a scripted stream, or a connection error while scripted
// failures remain.
func (p *MockProvider) Connect(ctx context.Context) (Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.connectCount++
	if p.failuresLeft > 0 {
		p.failuresLeft--
		return nil, errors.NewConnection("mock connection failure")
	}

	stream := &MockStream{
		events:   make(chan Event, 64),
		scripted: append([]Event(nil), p.scripted...),
	}
	p.streams = append(p.streams, stream)
	return stream, nil
}

// MockStream records sent audio and emits events on demand.
type MockStream struct {
	mu       sync.Mutex
	sent     [][]byte
	scripted []Event
	events   chan Event
	closed   bool
}

func (s *MockStream) Send(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.NewConnection("stream is closed")
	}
	s.sent = append(s.sent, append([]byte(nil), audio...))
	return nil
}

func (s *MockStream) Events() <-chan Event {
	return s.events
}

// Emit delivers an event to the stream's consumer immediately.
func (s *MockStream) Emit(event Event) {
	s.events <- event
}

// Close replays any scripted events, emits EventClosed and closes the
// event channel, mirroring a provider flushing on stream close.
func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	for _, event := range s.scripted {
		s.events <- event
	}
	s.events <- Event{Type: EventClosed}
	close(s.events)
	return nil
}

// Fail emits a fatal error and closes the event channel.
func (s *MockStream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.events <- Event{Type: EventError, Err: err}
	close(s.events)
}

// SentChunks returns the audio chunks sent so far.
func (s *MockStream) SentChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}
