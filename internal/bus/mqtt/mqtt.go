// Package mqtt implements [bus.Bus] over github.com/eclipse/paho.mqtt.golang.
// It is the transport half of the provider-interface/concrete-implementation
// split internal/bus defines, the same shape internal/llmprovider uses to
// keep its callers decoupled from any one backend.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"dawn/internal/bus"
	"dawn/internal/tool/router"
)

// Config configures a [Bus].
type Config struct {
	// Brokers are tcp://host:port (or ssl://) broker URLs.
	Brokers []string

	// ClientID identifies this connection to the broker. Empty lets the
	// client library generate one.
	ClientID string

	Username string
	Password string

	// DefaultTopic is used by [Bus.Publish] when a tool's Definition.Topic
	// is empty.
	DefaultTopic string

	// ReplyTopic is subscribed at construction time; incoming messages on
	// it are decoded as [bus.Reply] and delivered to Router.
	ReplyTopic string

	// ConnectTimeout bounds how long New waits for the initial connection.
	ConnectTimeout time.Duration
}

// Bus publishes command envelopes to an MQTT broker and feeds decoded reply
// envelopes into a [router.Router], applying the fail-closed checksum
// policy from SPEC_FULL.md §6 before any delivery.
type Bus struct {
	client       paho.Client
	router       *router.Router
	defaultTopic string
}

// New connects to cfg.Brokers and subscribes cfg.ReplyTopic, delivering
// decoded replies to r. Returns once the connection succeeds or
// cfg.ConnectTimeout elapses (default 10s).
func New(cfg Config, r *router.Router) (*Bus, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	opts := paho.NewClientOptions()
	for _, b := range cfg.Brokers {
		opts.AddBroker(b)
	}
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(timeout)

	b := &Bus{router: r, defaultTopic: cfg.DefaultTopic}

	if cfg.ReplyTopic != "" {
		opts.OnConnect = func(c paho.Client) {
			if token := c.Subscribe(cfg.ReplyTopic, 1, b.handleReply); token.Wait() && token.Error() != nil {
				slog.Error("mqtt bus: subscribe to reply topic failed", "topic", cfg.ReplyTopic, "error", token.Error())
			}
		}
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt bus: connect timed out after %s", timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt bus: connect: %w", err)
	}

	b.client = client
	return b, nil
}

// Publish implements [bus.Bus].
func (b *Bus) Publish(ctx context.Context, topic string, env bus.Envelope) error {
	if topic == "" {
		topic = b.defaultTopic
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("mqtt bus: marshal envelope: %w", err)
	}

	token := b.client.Publish(topic, 1, false, payload)
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()

	select {
	case <-done:
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements [bus.Bus].
func (b *Bus) Close() error {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
	}
	return nil
}

// handleReply decodes an inbound MQTT message as a [bus.Reply] and, if it
// passes the fail-closed checksum policy, delivers it to the router.
func (b *Bus) handleReply(_ paho.Client, msg paho.Message) {
	var reply bus.Reply
	if err := json.Unmarshal(msg.Payload(), &reply); err != nil {
		slog.Warn("mqtt bus: malformed reply payload, discarded", "error", err)
		return
	}
	if reply.RequestID == "" {
		slog.Warn("mqtt bus: reply with empty request_id, discarded")
		return
	}

	text, ok, err := replyText(reply)
	if err != nil {
		slog.Warn("mqtt bus: reply failed checksum validation, discarded", "request_id", reply.RequestID, "error", err)
		return
	}
	if !ok {
		slog.Info("mqtt bus: reply reported error status", "request_id", reply.RequestID)
	}

	b.router.Deliver(reply.RequestID, text)
}
