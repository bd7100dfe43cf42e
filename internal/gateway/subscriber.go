package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smartstache/keychain/internal/marketplace"
)

// SubscriberConfig configures WebSocket subscriber behavior.
type SubscriberConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// ReadTimeout is timeout for reading messages. Must exceed the
	// server's ping interval.
	ReadTimeout time.Duration
	// Buffer is the event channel capacity.
	Buffer int
}

// DefaultSubscriberConfig returns default subscriber configuration.
func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReadTimeout:       90 * time.Second,
		Buffer:            256,
	}
}

// Subscriber consumes the gateway event stream over WebSocket,
// reconnecting with backoff when the connection drops.
type Subscriber struct {
	endpoint string
	config   SubscriberConfig

	events chan marketplace.Event
	done   chan struct{}
	closed atomic.Bool
}

// NewSubscriber connects to the event stream endpoint (ws://.../v1/events)
// and starts reading. Pass nil config for defaults.
func NewSubscriber(ctx context.Context, endpoint string, config *SubscriberConfig) (*Subscriber, error) {
	cfg := DefaultSubscriberConfig()
	if config != nil {
		cfg = *config
	}

	s := &Subscriber{
		endpoint: endpoint,
		config:   cfg,
		events:   make(chan marketplace.Event, cfg.Buffer),
		done:     make(chan struct{}),
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}

	go s.run(conn)
	return s, nil
}

// Events returns the stream of marketplace events. The channel is closed
// when the subscriber is closed.
func (s *Subscriber) Events() <-chan marketplace.Event {
	return s.events
}

// Close stops the subscriber and closes the event channel.
func (s *Subscriber) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.done)
	}
}

func (s *Subscriber) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})
	return conn, nil
}

// run reads events until Close, redialing with exponential backoff on
// connection loss.
func (s *Subscriber) run(conn *websocket.Conn) {
	defer close(s.events)

	for {
		s.readLoop(conn)
		conn.Close()

		if s.closed.Load() {
			return
		}

		delay := s.config.ReconnectDelay
		for {
			select {
			case <-s.done:
				return
			case <-time.After(delay):
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			next, err := s.dial(ctx)
			cancel()
			if err == nil {
				conn = next
				break
			}

			delay *= 2
			if delay > s.config.MaxReconnectDelay {
				delay = s.config.MaxReconnectDelay
			}
		}
	}
}

func (s *Subscriber) readLoop(conn *websocket.Conn) {
	for {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var ev marketplace.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}
