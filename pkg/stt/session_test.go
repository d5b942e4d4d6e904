package stt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scribe-server/pkg/config"
	"scribe-server/pkg/metrics"
)

func init() {
	metrics.EnableMetrics(false)
}

func testSTTConfig() config.STTConfig {
	return config.STTConfig{
		ConnectRetries: 3,
		RetryBackoff:   time.Millisecond,
		MaxChunkBytes:  1024 * 1024,
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// recordingListener collects callbacks for assertions.
type recordingListener struct {
	mu          sync.Mutex
	transcripts []Transcript
	errs        []error
}

func (l *recordingListener) OnTranscript(sessionID string, transcript Transcript) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transcripts = append(l.transcripts, transcript)
}

func (l *recordingListener) OnSessionError(sessionID string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *recordingListener) transcriptCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.transcripts)
}

func (l *recordingListener) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errs)
}

func TestSessionStartSuccess(t *testing.T) {
	provider := NewMockProvider(testLogger())
	session := NewSession(testLogger(), provider, testSTTConfig(), &recordingListener{})

	require.NoError(t, session.Start(context.Background()))
	assert.Equal(t, StateActive, session.State())
	assert.Equal(t, 1, provider.ConnectCount())

	session.Stop()
	assert.Equal(t, StateIdle, session.State())
}

func TestSessionStartRetriesThenSucceeds(t *testing.T) {
	provider := NewMockProvider(testLogger())
	provider.FailConnects(2)
	session := NewSession(testLogger(), provider, testSTTConfig(), &recordingListener{})

	require.NoError(t, session.Start(context.Background()))
	assert.Equal(t, 3, provider.ConnectCount(), "two failures then one success")
	assert.Equal(t, StateActive, session.State())

	session.Stop()
}

func TestSessionStartExhaustsRetries(t *testing.T) {
	provider := NewMockProvider(testLogger())
	provider.FailConnects(5)
	session := NewSession(testLogger(), provider, testSTTConfig(), &recordingListener{})

	err := session.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, provider.ConnectCount(), "attempts are bounded")
	assert.Equal(t, StateIdle, session.State(), "failed start returns the session to idle")
}

func TestSessionRestartWhileActiveDiscardsTranscript(t *testing.T) {
	provider := NewMockProvider(testLogger())
	session := NewSession(testLogger(), provider, testSTTConfig(), &recordingListener{})

	require.NoError(t, session.Start(context.Background()))
	provider.LastStream().Emit(Event{Type: EventTranscript, Transcript: Transcript{Text: "First take.", IsFinal: true}})

	// A second start stops the live stream and begins over.
	require.NoError(t, session.Start(context.Background()))

	assert.Equal(t, StateActive, session.State())
	assert.Equal(t, 2, provider.ConnectCount())
	assert.Empty(t, session.Transcript(), "restart discards the prior transcript")

	provider.LastStream().Emit(Event{Type: EventTranscript, Transcript: Transcript{Text: "Second take.", IsFinal: true}})
	session.Stop()

	assert.Equal(t, "Second take.", session.Transcript())
}

func TestSessionAccumulatesFinalTranscripts(t *testing.T) {
	provider := NewMockProvider(testLogger())
	listener := &recordingListener{}
	session := NewSession(testLogger(), provider, testSTTConfig(), listener)

	require.NoError(t, session.Start(context.Background()))

	stream := provider.LastStream()
	stream.Emit(Event{Type: EventTranscript, Transcript: Transcript{Text: "Hello doctor", IsFinal: false}})
	stream.Emit(Event{Type: EventTranscript, Transcript: Transcript{Text: "Hello doctor.", IsFinal: true}})
	stream.Emit(Event{Type: EventTranscript, Transcript: Transcript{Text: "I have a headache.", IsFinal: true}})

	session.Stop()

	assert.Equal(t, "Hello doctor. I have a headache.", session.Transcript(),
		"only final fragments extend the transcript, in arrival order")
	assert.Equal(t, 3, listener.transcriptCount(), "interim fragments still reach the listener")
}

func TestSessionSpeakerAttribution(t *testing.T) {
	provider := NewMockProvider(testLogger())
	session := NewSession(testLogger(), provider, testSTTConfig(), &recordingListener{})

	require.NoError(t, session.Start(context.Background()))

	stream := provider.LastStream()
	stream.Emit(Event{Type: EventTranscript, Transcript: Transcript{Text: "How are you.", IsFinal: true, Speaker: 0, HasSpeaker: true}})
	stream.Emit(Event{Type: EventTranscript, Transcript: Transcript{Text: "Fine, thanks.", IsFinal: true, Speaker: 1, HasSpeaker: true}})

	session.Stop()

	assert.Equal(t, "[Speaker 0] How are you. [Speaker 1] Fine, thanks.", session.Transcript())
}

func TestSessionStopDrainsFlushedEvents(t *testing.T) {
	provider := NewMockProvider(testLogger())
	// Scripted events replay on Close, like a provider flushing its
	// buffer when the stream is finalized.
	provider.Script(Event{Type: EventTranscript, Transcript: Transcript{Text: "Final words.", IsFinal: true}})
	session := NewSession(testLogger(), provider, testSTTConfig(), &recordingListener{})

	require.NoError(t, session.Start(context.Background()))
	session.Stop()

	assert.Equal(t, "Final words.", session.Transcript(),
		"fragments flushed during stop must reach the transcript")
}

func TestSessionStopIsIdempotent(t *testing.T) {
	provider := NewMockProvider(testLogger())
	provider.Script(Event{Type: EventTranscript, Transcript: Transcript{Text: "Something said.", IsFinal: true}})
	session := NewSession(testLogger(), provider, testSTTConfig(), &recordingListener{})

	require.NoError(t, session.Start(context.Background()))
	session.Stop()
	session.Stop()
	session.Stop()

	assert.Equal(t, StateIdle, session.State())
	assert.Equal(t, "Something said.", session.Transcript(), "repeated stops preserve the transcript")
}

func TestSessionStopBeforeStartIsNoop(t *testing.T) {
	provider := NewMockProvider(testLogger())
	session := NewSession(testLogger(), provider, testSTTConfig(), &recordingListener{})

	session.Stop()
	assert.Equal(t, StateIdle, session.State())
}

func TestSessionSendAudioForwardsToStream(t *testing.T) {
	provider := NewMockProvider(testLogger())
	session := NewSession(testLogger(), provider, testSTTConfig(), &recordingListener{})

	require.NoError(t, session.Start(context.Background()))
	require.NoError(t, session.SendAudio([]byte{1, 2, 3}))

	stream := provider.LastStream()
	require.Len(t, stream.SentChunks(), 1)
	assert.Equal(t, []byte{1, 2, 3}, stream.SentChunks()[0])

	session.Stop()
}

func TestSessionSendAudioWhenInactiveIsDropped(t *testing.T) {
	provider := NewMockProvider(testLogger())
	session := NewSession(testLogger(), provider, testSTTConfig(), &recordingListener{})

	// Before start.
	require.NoError(t, session.SendAudio([]byte{1}))

	require.NoError(t, session.Start(context.Background()))
	session.Stop()

	// After stop.
	require.NoError(t, session.SendAudio([]byte{2}))

	stats := session.Stats()
	assert.Equal(t, 2, stats["dropped_chunks"])
}

func TestSessionStatsCounters(t *testing.T) {
	provider := NewMockProvider(testLogger())
	provider.FailConnects(2)
	session := NewSession(testLogger(), provider, testSTTConfig(), &recordingListener{})

	require.NoError(t, session.Start(context.Background()))
	require.NoError(t, session.SendAudio([]byte{1, 2, 3}))
	require.NoError(t, session.SendAudio([]byte{4, 5}))

	stats := session.Stats()
	assert.Equal(t, true, stats["connected"])
	assert.Equal(t, 2, stats["audio_chunks_processed"])
	assert.Equal(t, 2, stats["retry_count"], "each failed connection attempt is counted")

	session.Stop()

	stats = session.Stats()
	assert.Equal(t, false, stats["connected"])
	assert.Equal(t, 2, stats["audio_chunks_processed"])
	assert.GreaterOrEqual(t, stats["duration"].(float64), 0.0)
}

func TestSessionStreamErrorNotifiesListener(t *testing.T) {
	provider := NewMockProvider(testLogger())
	listener := &recordingListener{}
	session := NewSession(testLogger(), provider, testSTTConfig(), listener)

	require.NoError(t, session.Start(context.Background()))
	provider.LastStream().Fail(assert.AnError)

	require.Eventually(t, func() bool {
		return session.State() == StateError
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, listener.errorCount())
}
