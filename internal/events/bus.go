// Package events carries per-conversation progress events over NATS and
// tracks which conversations have a request in flight.
//
// Events are published to subjects of the form
//
//	supportd.sessions.{conversation_id}.{type}
//
// where type is one of status, agent, message, error or done. The HTTP
// layer subscribes to a conversation and relays its events as SSE.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/supportd/internal/config"
	"github.com/fyrsmithlabs/supportd/internal/logging"
)

const subjectPrefix = "supportd.sessions"

// Event types.
const (
	TypeStatus  = "status"
	TypeAgent   = "agent"
	TypeMessage = "message"
	TypeError   = "error"
	TypeDone    = "done"
)

var (
	// ErrInvalidConversationID is returned for IDs that cannot be a subject token.
	ErrInvalidConversationID = errors.New("invalid conversation id")

	// ErrClosed is returned by Next after the subscription is closed.
	ErrClosed = errors.New("subscription closed")
)

var conversationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidConversationID reports whether id can be used as a conversation ID.
func ValidConversationID(id string) bool {
	return conversationIDPattern.MatchString(id)
}

// Event is one published event.
type Event struct {
	ConversationID string
	Type           string
	Data           json.RawMessage
}

// Bus publishes and subscribes to conversation events.
type Bus struct {
	nc       *nats.Conn
	embedded *natsserver.Server
	logger   *logging.Logger
}

// Open connects to the configured NATS server, starting an embedded one
// first when cfg.Embedded is set.
func Open(cfg config.EventsConfig, logger *logging.Logger) (*Bus, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	b := &Bus{logger: logger}

	url := cfg.URL
	if cfg.Embedded {
		srv, err := startEmbedded(cfg.Host, cfg.Port)
		if err != nil {
			return nil, err
		}
		b.embedded = srv
		url = srv.ClientURL()
	}
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url,
		nats.Name("supportd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		b.shutdownEmbedded()
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	b.nc = nc
	logger.Info(context.Background(), "connected to event bus",
		zap.String("url", url),
		zap.Bool("embedded", cfg.Embedded),
	)
	return b, nil
}

// NewBus wraps an existing connection.
func NewBus(nc *nats.Conn, logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bus{nc: nc, logger: logger}
}

func startEmbedded(host string, port int) (*natsserver.Server, error) {
	if host == "" {
		host = "127.0.0.1"
	}
	if port == 0 {
		port = -1
	}
	srv, err := natsserver.NewServer(&natsserver.Options{
		ServerName:     "supportd-events",
		Host:           host,
		Port:           port,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, errors.New("embedded NATS server not ready")
	}
	return srv, nil
}

func (b *Bus) shutdownEmbedded() {
	if b.embedded != nil {
		b.embedded.Shutdown()
		b.embedded.WaitForShutdown()
	}
}

// Close drains the connection and stops the embedded server.
func (b *Bus) Close() error {
	var err error
	if b.nc != nil {
		err = b.nc.Drain()
		b.nc.Close()
	}
	b.shutdownEmbedded()
	return err
}

// Connected reports whether the NATS connection is up.
func (b *Bus) Connected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

// Subject returns the subject for one event type of a conversation. An
// empty eventType returns the wildcard subject for all types.
func Subject(conversationID, eventType string) string {
	if eventType == "" {
		eventType = "*"
	}
	return subjectPrefix + "." + conversationID + "." + eventType
}

// Publish marshals payload and publishes it as an event.
func (b *Bus) Publish(conversationID, eventType string, payload any) error {
	if !ValidConversationID(conversationID) {
		return fmt.Errorf("%w: %q", ErrInvalidConversationID, conversationID)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	if err := b.nc.Publish(Subject(conversationID, eventType), data); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}
	return nil
}

// Subscription receives the events of one conversation.
type Subscription struct {
	sub *nats.Subscription
	ch  chan *nats.Msg
}

// Subscribe starts receiving events for a conversation. The subscription
// is registered with the server before Subscribe returns.
func (b *Bus) Subscribe(conversationID string) (*Subscription, error) {
	if !ValidConversationID(conversationID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidConversationID, conversationID)
	}
	ch := make(chan *nats.Msg, 64)
	sub, err := b.nc.ChanSubscribe(Subject(conversationID, ""), ch)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if err := b.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription: %w", err)
	}
	return &Subscription{sub: sub, ch: ch}, nil
}

// Next blocks until the next event or ctx is done.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	select {
	case msg, ok := <-s.ch:
		if !ok {
			return Event{}, ErrClosed
		}
		return parse(msg), nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// C exposes the raw message channel for select loops.
func (s *Subscription) C() <-chan *nats.Msg { return s.ch }

// Close unsubscribes.
func (s *Subscription) Close() error {
	return s.sub.Unsubscribe()
}

// Parse converts a raw message from C into an Event.
func Parse(msg *nats.Msg) Event { return parse(msg) }

func parse(msg *nats.Msg) Event {
	rest := strings.TrimPrefix(msg.Subject, subjectPrefix+".")
	id, typ, _ := strings.Cut(rest, ".")
	return Event{ConversationID: id, Type: typ, Data: json.RawMessage(msg.Data)}
}
