package bus

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// subjectPrefix roots all directory events in the NATS subject space.
const subjectPrefix = "agentdir.events."

// NATSBus implements EventBus over NATS, letting multiple directory nodes
// share one event stream.
type NATSBus struct {
	conn   *nats.Conn
	config NATSConfig
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	Config // Embed base config

	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for identification.
	Name string

	// Token for token-based auth.
	Token string

	// User and Password for basic auth.
	User     string
	Password string

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects is the maximum number of reconnection attempts.
	// -1 = unlimited
	MaxReconnects int

	// ConnectTimeout for initial connection.
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Config:         DefaultConfig(),
		URL:            nats.DefaultURL,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1, // Unlimited
		ConnectTimeout: 5 * time.Second,
	}
}

// NewNATSBus connects to NATS and returns an event bus over it.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}

	conn, err := nats.Connect(cfg.URL, buildNATSOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &NATSBus{conn: conn, config: cfg}, nil
}

// NewNATSBusFromConn creates a NATSBus from an existing connection.
func NewNATSBusFromConn(conn *nats.Conn, cfg NATSConfig) *NATSBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &NATSBus{conn: conn, config: cfg}
}

// buildNATSOptions constructs NATS connection options from config.
func buildNATSOptions(cfg NATSConfig) []nats.Option {
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}

	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	return opts
}

// Publish sends an event to its type subject.
func (b *NATSBus) Publish(ev Event) error {
	if err := validateEvent(ev); err != nil {
		return err
	}
	if b.conn.IsClosed() {
		return ErrClosed
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.conn.Publish(subjectPrefix+string(ev.Type), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Subscribe creates a subscription for the given event types. With no
// types it subscribes to the full event wildcard.
func (b *NATSBus) Subscribe(types ...EventType) (Subscription, error) {
	if b.conn.IsClosed() {
		return nil, ErrClosed
	}

	subjects := []string{subjectPrefix + ">"}
	if len(types) > 0 {
		subjects = subjects[:0]
		for _, t := range types {
			subjects = append(subjects, subjectPrefix+string(t))
		}
	}

	sub := &natsSub{ch: make(chan Event, b.config.BufferSize)}

	for _, subject := range subjects {
		ns, err := b.conn.Subscribe(subject, func(m *nats.Msg) {
			var ev Event
			if err := json.Unmarshal(m.Data, &ev); err != nil {
				return
			}
			sub.deliver(ev)
		})
		if err != nil {
			sub.Unsubscribe()
			return nil, fmt.Errorf("nats subscribe: %w", err)
		}
		sub.subs = append(sub.subs, ns)
	}

	return sub, nil
}

// Close shuts down the NATS connection.
func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}

// Conn returns the underlying NATS connection for advanced use.
func (b *NATSBus) Conn() *nats.Conn {
	return b.conn
}

// natsSub wraps one or more NATS subscriptions feeding a single channel.
// sendMu serializes handler deliveries against close, since a handler can
// still be in flight when Unsubscribe returns.
type natsSub struct {
	subs []*nats.Subscription
	ch   chan Event

	sendMu sync.Mutex
	closed atomic.Bool
}

// Events returns the event channel.
func (s *natsSub) Events() <-chan Event {
	return s.ch
}

func (s *natsSub) deliver(ev Event) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- ev:
	default:
		// Buffer full, drop event
	}
}

// Unsubscribe cancels the subscription.
func (s *natsSub) Unsubscribe() error {
	if s.closed.Swap(true) {
		return nil
	}

	var err error
	for _, ns := range s.subs {
		if e := ns.Unsubscribe(); e != nil && err == nil {
			err = e
		}
	}

	s.sendMu.Lock()
	close(s.ch)
	s.sendMu.Unlock()
	return err
}
