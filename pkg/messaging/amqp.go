package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"scribe-server/pkg/analysis"
	"scribe-server/pkg/config"
	"scribe-server/pkg/errors"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 200 * time.Millisecond

	// messageExpiration prevents queue buildup when no consumer is
	// attached. 12 hours in milliseconds.
	messageExpiration = "43200000"
)

// AnalysisMessage is the JSON shape delivered to the queue for each
// completed conversation analysis.
type AnalysisMessage struct {
	Type         string           `json:"type"`
	ConnectionID string           `json:"connection_id"`
	Timestamp    time.Time        `json:"timestamp"`
	Result       *analysis.Result `json:"result"`
}

// TranscriptMessage is the JSON shape delivered for each finalized
// transcript fragment.
type TranscriptMessage struct {
	Type         string    `json:"type"`
	ConnectionID string    `json:"connection_id"`
	Timestamp    time.Time `json:"timestamp"`
	Text         string    `json:"text"`
}

// AMQPClient delivers completed analyses to an AMQP queue. All methods
// are safe for concurrent use. Publishing is best effort; callers treat
// failures as non-fatal.
type AMQPClient struct {
	logger *logrus.Logger
	config config.MessagingConfig

	connMutex sync.RWMutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
}

// NewAMQPClient creates a client; call Connect before publishing.
func NewAMQPClient(logger *logrus.Logger, cfg config.MessagingConfig) *AMQPClient {
	return &AMQPClient{
		logger: logger,
		config: cfg,
	}
}

// Connect dials the broker and declares the delivery queue.
func (c *AMQPClient) Connect() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		return nil
	}
	if !c.config.Enabled() {
		return errors.NewConfiguration("AMQP_URL or AMQP_QUEUE_NAME not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	connChan := make(chan struct {
		conn *amqp.Connection
		err  error
	}, 1)
	go func() {
		conn, err := amqp.Dial(c.config.AMQPUrl)
		select {
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		case connChan <- struct {
			conn *amqp.Connection
			err  error
		}{conn, err}:
		}
	}()

	var conn *amqp.Connection
	select {
	case result := <-connChan:
		if result.err != nil {
			return errors.Wrap(result.err, "failed to connect to AMQP server").WithCode("CONNECTION_ERROR")
		}
		conn = result.conn
	case <-ctx.Done():
		return errors.NewConnection("connection to AMQP server timed out")
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to open AMQP channel").WithCode("CONNECTION_ERROR")
	}

	if _, err := channel.QueueDeclare(
		c.config.QueueName,
		true,  // Durable
		false, // Delete when unused
		false, // Exclusive
		false, // No-wait
		nil,   // Arguments
	); err != nil {
		channel.Close()
		conn.Close()
		return errors.Wrap(err, "failed to declare AMQP queue",
			map[string]interface{}{"queue": c.config.QueueName}).WithCode("CONNECTION_ERROR")
	}

	c.conn = conn
	c.channel = channel
	c.connected = true

	c.logger.WithField("queue", c.config.QueueName).Info("Connected to AMQP server")
	return nil
}

// Disconnect closes the channel and connection.
func (c *AMQPClient) Disconnect() {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.connected {
		return
	}
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.connected = false
	c.logger.Info("Disconnected from AMQP server")
}

// IsConnected reports whether the client holds a live connection.
func (c *AMQPClient) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// PublishAnalysis delivers one analysis result to the queue.
func (c *AMQPClient) PublishAnalysis(connectionID string, result *analysis.Result) error {
	message := AnalysisMessage{
		Type:         "analysis",
		ConnectionID: connectionID,
		Timestamp:    time.Now(),
		Result:       result,
	}
	if err := c.publish(message); err != nil {
		return err
	}
	c.logger.WithField("connection_id", connectionID).Debug("Published analysis result")
	return nil
}

// PublishTranscript delivers one finalized transcript fragment.
func (c *AMQPClient) PublishTranscript(connectionID, text string) error {
	return c.publish(TranscriptMessage{
		Type:         "transcript",
		ConnectionID: connectionID,
		Timestamp:    time.Now(),
		Text:         text,
	})
}

// publish marshals and delivers one message, bounding the publish so a
// stalled broker cannot hold up the caller.
func (c *AMQPClient) publish(message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal queue message").WithCode("VALIDATION_ERROR")
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	publishChan := make(chan error, 1)
	go func() {
		c.connMutex.RLock()
		defer c.connMutex.RUnlock()

		if !c.connected || c.channel == nil {
			select {
			case <-ctx.Done():
			case publishChan <- errors.NewConnection("not connected to AMQP server"):
			}
			return
		}

		err := c.channel.Publish(
			"",                 // Exchange
			c.config.QueueName, // Routing key
			false,              // Mandatory
			false,              // Immediate
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         body,
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
				Expiration:   messageExpiration,
			},
		)
		select {
		case <-ctx.Done():
		case publishChan <- err:
		}
	}()

	select {
	case err := <-publishChan:
		if err != nil {
			return errors.Wrap(err, "failed to publish queue message").WithCode("CONNECTION_ERROR")
		}
	case <-ctx.Done():
		return errors.NewConnection("publishing to AMQP timed out")
	}
	return nil
}
