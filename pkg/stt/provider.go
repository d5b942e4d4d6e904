package stt

import "context"

// Stream is one live recognition stream to a provider. Send and Close may
// be called from a different goroutine than the one draining Events.
type Stream interface {
	// Send forwards a chunk of raw audio to the provider.
	Send(audio []byte) error

	// Events returns the channel the stream delivers recognition events
	// on. The channel is closed after an EventError or EventClosed event.
	Events() <-chan Event

	// Close finalizes the stream, asking the provider to flush any
	// pending recognition before disconnecting.
	Close() error
}

// Provider opens recognition streams against a speech-to-text backend.
type Provider interface {
	// Name returns the provider identifier used in logs and metrics.
	Name() string

	// Connect opens a new recognition stream. A returned error means no
	// stream was established; the caller owns retry policy.
	Connect(ctx context.Context) (Stream, error)
}
