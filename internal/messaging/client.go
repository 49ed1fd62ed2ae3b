package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Config holds broker connection settings.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name identifies the connection to the server.
	Name string

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for infinite reconnects.
	MaxReconnects int

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// Timeout is the connection timeout.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "eventloom",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Client wraps a NATS connection with a JetStream context and the
// pipeline's stream topology.
type Client struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// Connect establishes a JetStream-enabled connection to the broker.
func Connect(cfg Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return &Client{conn: conn, js: js}, nil
}

// EnsureStreams creates or updates the working and dead-letter streams.
// Safe to call from every process at startup.
func (c *Client) EnsureStreams(ctx context.Context) error {
	if _, err := c.js.CreateOrUpdateStream(ctx, EventsStreamConfig()); err != nil {
		return fmt.Errorf("ensure stream %s: %w", StreamEvents, err)
	}
	if _, err := c.js.CreateOrUpdateStream(ctx, DLQStreamConfig()); err != nil {
		return fmt.Errorf("ensure stream %s: %w", StreamEventsDLQ, err)
	}
	return nil
}

// Publish sends data to the subject without envelope headers.
// The broker acknowledges durable storage before Publish returns.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := c.js.Publish(ctx, subject, data)
	return err
}

// PublishMsg sends data to the subject carrying the retry envelope.
func (c *Client) PublishMsg(ctx context.Context, subject string, data []byte, env Envelope) error {
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  env.Header(),
	}
	_, err := c.js.PublishMsg(ctx, msg)
	return err
}

// WorkersConsumer creates or looks up the shared durable consumer on the
// working stream. Every worker process attaches to the same durable, so
// the broker delivers each message to exactly one of them.
func (c *Client) WorkersConsumer(ctx context.Context, ackWait time.Duration, maxAckPending int) (jetstream.Consumer, error) {
	stream, err := c.js.Stream(ctx, StreamEvents)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", StreamEvents, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          DurableWorkers,
		Durable:       DurableWorkers,
		FilterSubject: SubjectEventsIngest,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxAckPending: maxAckPending,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", DurableWorkers, err)
	}
	return cons, nil
}

// DLQStream returns a handle to the dead-letter stream.
func (c *Client) DLQStream(ctx context.Context) (jetstream.Stream, error) {
	stream, err := c.js.Stream(ctx, StreamEventsDLQ)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", StreamEventsDLQ, err)
	}
	return stream, nil
}

// JetStream exposes the underlying JetStream context.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// IsConnected reports whether the client is connected to the broker.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// Drain gracefully closes the connection, letting in-flight messages finish.
func (c *Client) Drain() error {
	return c.conn.Drain()
}

// Close releases the connection.
func (c *Client) Close() {
	c.conn.Close()
}
