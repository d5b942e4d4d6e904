package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"scribe-server/pkg/config"
	"scribe-server/pkg/errors"
)

const (
	deepgramListenURL = "wss://api.deepgram.com/v1/listen"

	writeTimeout      = 10 * time.Second
	keepAliveInterval = 5 * time.Second
)

// DeepgramProvider opens live transcription streams against Deepgram's
// streaming API over WebSocket.
type DeepgramProvider struct {
	logger *logrus.Logger
	config config.STTConfig
	wsURL  string
	dialer *websocket.Dialer
}

// NewDeepgramProvider creates a Deepgram provider from the configuration.
func NewDeepgramProvider(logger *logrus.Logger, cfg config.STTConfig) *DeepgramProvider {
	return &DeepgramProvider{
		logger: logger,
		config: cfg,
		wsURL:  deepgramListenURL,
		dialer: websocket.DefaultDialer,
	}
}

// Name returns the provider identifier.
func (p *DeepgramProvider) Name() string {
	return "deepgram"
}

// Connect dials the streaming endpoint and starts the read loop. The
// returned Stream is live; audio may be sent immediately.
func (p *DeepgramProvider) Connect(ctx context.Context) (Stream, error) {
	if p.config.APIKey == "" {
		return nil, errors.NewConfiguration("deepgram API key is not configured")
	}

	wsURL, err := url.Parse(p.wsURL)
	if err != nil {
		return nil, errors.NewConnection("invalid Deepgram endpoint", map[string]interface{}{"url": p.wsURL})
	}
	wsURL.RawQuery = p.buildQueryParams().Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.config.APIKey)

	conn, _, err := p.dialer.DialContext(ctx, wsURL.String(), headers)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial Deepgram WebSocket",
			map[string]interface{}{"provider": p.Name()}).WithCode("CONNECTION_ERROR")
	}

	stream := &deepgramStream{
		logger: p.logger.WithField("provider", p.Name()),
		conn:   conn,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}

	go stream.readLoop()
	go stream.keepAliveLoop()

	p.logger.WithField("model", p.config.Model).Info("Deepgram streaming connection established")
	return stream, nil
}

// buildQueryParams renders the streaming options into the listen URL.
func (p *DeepgramProvider) buildQueryParams() url.Values {
	query := url.Values{}

	query.Set("model", p.config.Model)
	query.Set("language", p.config.Language)

	query.Set("encoding", p.config.Encoding)
	query.Set("sample_rate", fmt.Sprintf("%d", p.config.SampleRate))
	query.Set("channels", fmt.Sprintf("%d", p.config.Channels))

	query.Set("punctuate", fmt.Sprintf("%t", p.config.Punctuate))
	query.Set("diarize", fmt.Sprintf("%t", p.config.Diarize))
	query.Set("interim_results", fmt.Sprintf("%t", p.config.InterimResults))
	query.Set("smart_format", "true")

	if p.config.UtteranceEndMs > 0 {
		query.Set("utterance_end_ms", fmt.Sprintf("%d", p.config.UtteranceEndMs))
	}
	if p.config.Endpointing > 0 {
		query.Set("endpointing", fmt.Sprintf("%d", p.config.Endpointing))
	}
	if len(p.config.Keywords) > 0 {
		query.Set("keywords", strings.Join(p.config.Keywords, ","))
	}

	return query
}

// deepgramStream is one live WebSocket stream. The read loop is the only
// reader; writes are serialized by writeMu.
type deepgramStream struct {
	logger *logrus.Entry
	conn   *websocket.Conn

	writeMu sync.Mutex
	events  chan Event

	closeOnce sync.Once
	done      chan struct{}
}

// deepgramMessage covers the streaming message types the stream cares
// about: Results, UtteranceEnd and Metadata frames.
type deepgramMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
				Speaker    *int    `json:"speaker,omitempty"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *deepgramStream) Send(audio []byte) error {
	select {
	case <-s.done:
		return errors.NewConnection("stream is closed")
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return errors.Wrap(err, "failed to send audio frame",
			map[string]interface{}{"bytes": len(audio)}).WithCode("CONNECTION_ERROR")
	}
	return nil
}

func (s *deepgramStream) Events() <-chan Event {
	return s.events
}

// Close sends the CloseStream control message so Deepgram flushes pending
// recognition, then tears the connection down. Safe to call more than once.
func (s *deepgramStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
		s.writeMu.Unlock()

		close(s.done)

		// Give the read loop a moment to drain the final results before
		// forcing the connection closed.
		time.Sleep(250 * time.Millisecond)
		s.conn.Close()
	})
	return err
}

// readLoop is the single reader of the WebSocket. It translates provider
// frames into Events and closes the event channel on exit.
func (s *deepgramStream) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				s.events <- Event{Type: EventClosed}
			default:
				s.logger.WithError(err).Warn("Deepgram stream read failed")
				s.events <- Event{
					Type: EventError,
					Err:  errors.Wrap(err, "transcription stream failed").WithCode("CONNECTION_ERROR"),
				}
			}
			return
		}

		var msg deepgramMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.WithError(err).Debug("Skipping unparseable stream frame")
			continue
		}

		switch msg.Type {
		case "Results":
			if event, ok := s.transcriptEvent(&msg); ok {
				s.events <- event
			}
		case "UtteranceEnd":
			s.events <- Event{Type: EventUtteranceEnd}
		case "Metadata":
			// Sent on stream close; nothing to surface.
		}
	}
}

// transcriptEvent converts a Results frame to a transcript Event. Empty
// alternatives are dropped.
func (s *deepgramStream) transcriptEvent(msg *deepgramMessage) (Event, bool) {
	if len(msg.Channel.Alternatives) == 0 {
		return Event{}, false
	}
	alt := msg.Channel.Alternatives[0]
	if strings.TrimSpace(alt.Transcript) == "" {
		return Event{}, false
	}

	transcript := Transcript{
		Text:       alt.Transcript,
		IsFinal:    msg.IsFinal,
		Confidence: alt.Confidence,
	}

	for _, w := range alt.Words {
		word := Word{
			Word:       w.Word,
			Start:      w.Start,
			End:        w.End,
			Confidence: w.Confidence,
		}
		if w.Speaker != nil {
			word.Speaker = *w.Speaker
		}
		transcript.Words = append(transcript.Words, word)
	}

	// Diarization arrives per word; attribute the fragment to the first
	// word's speaker, matching how utterances are grouped upstream.
	if len(alt.Words) > 0 && alt.Words[0].Speaker != nil {
		transcript.Speaker = *alt.Words[0].Speaker
		transcript.HasSpeaker = true
	}

	return Event{Type: EventTranscript, Transcript: transcript}, true
}

// keepAliveLoop sends periodic KeepAlive messages so Deepgram does not
// drop the connection during silence.
func (s *deepgramStream) keepAliveLoop() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
