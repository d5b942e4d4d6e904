package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"scribe-server/pkg/analysis"
	"scribe-server/pkg/cache"
	"scribe-server/pkg/config"
	"scribe-server/pkg/stt"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// defaultMaxMessageBytes bounds one inbound frame: a base64-encoded
	// chunk is 4/3 of the raw bound, plus envelope overhead.
	defaultMaxMessageBytes = 2 * 1024 * 1024
)

// Upgrader configures the WebSocket handshake.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all connections
		return true
	},
}

// Handler accepts client connections and runs one Controller per
// connection.
type Handler struct {
	logger   *logrus.Logger
	provider stt.Provider
	analyzer *analysis.Analyzer
	sessions *cache.SessionCacheStore
	config   config.STTConfig

	publisher  Publisher
	maxMessage int64
}

// NewHandler creates the connection handler.
func NewHandler(logger *logrus.Logger, provider stt.Provider, analyzer *analysis.Analyzer,
	sessions *cache.SessionCacheStore, cfg config.STTConfig) *Handler {

	return &Handler{
		logger:     logger,
		provider:   provider,
		analyzer:   analyzer,
		sessions:   sessions,
		config:     cfg,
		maxMessage: defaultMaxMessageBytes,
	}
}

// SetPublisher attaches an optional analysis publisher shared by all
// connections.
func (h *Handler) SetPublisher(p Publisher) {
	h.publisher = p
}

// SetMaxMessageBytes overrides the inbound frame size bound.
func (h *Handler) SetMaxMessageBytes(n int64) {
	if n > 0 {
		h.maxMessage = n
	}
}

// ServeWS upgrades the request and serves the connection until it closes.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("WebSocket upgrade failed")
		return
	}

	client := &client{
		logger:     h.logger,
		conn:       conn,
		send:       make(chan []byte, 256),
		done:       make(chan struct{}),
		maxMessage: h.maxMessage,
	}

	controller := NewController(h.logger, client, h.provider, h.analyzer, h.sessions, h.config)
	if h.publisher != nil {
		controller.SetPublisher(h.publisher)
	}
	client.controller = controller

	go client.writePump()
	client.readLoop(r.Context())
}

// client owns one WebSocket connection. readLoop is the sole reader,
// writePump the sole writer; SendEvent hands frames to writePump over the
// send channel. The done channel gates late sends from analysis
// goroutines that outlive the socket.
type client struct {
	logger     *logrus.Logger
	conn       *websocket.Conn
	send       chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	maxMessage int64
	controller *Controller
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// SendEvent implements Sender.
func (c *client) SendEvent(event string, data interface{}) error {
	envelope := struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data,omitempty"`
	}{Event: event, Data: data}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return websocket.ErrCloseSent
	case c.send <- payload:
		return nil
	default:
		// Slow consumer; drop rather than block the controller.
		return websocket.ErrCloseSent
	}
}

func (c *client) readLoop(ctx context.Context) {
	defer func() {
		c.close()
		c.controller.Shutdown()
	}()

	c.conn.SetReadLimit(c.maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Debug("WebSocket read error")
			}
			return
		}

		var envelope Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			c.SendEvent(EventError, ErrorPayload{
				Type:      "VALIDATION_ERROR",
				Message:   "malformed message envelope",
				Timestamp: time.Now(),
			})
			continue
		}

		c.controller.HandleEvent(ctx, envelope)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
