// Package registry holds named connections to capability providers.
//
// Reads go through an immutable snapshot swapped atomically on every
// write, so a lookup never observes a half-applied registration. Writers
// are serialized by a mutex. Registration performs a handshake (agent card
// fetch) before the name becomes resolvable.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/supportd/internal/a2a"
	"github.com/fyrsmithlabs/supportd/internal/logging"
)

// Errors for registry operations.
var (
	ErrNotFound       = errors.New("provider not found")
	ErrInvalidName    = errors.New("invalid provider name")
	ErrInvalidAddress = errors.New("invalid provider address")
	ErrHandshake      = errors.New("provider handshake failed")
)

// namePattern allows display names such as "Intent Agent".
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 ._-]*$`)

const (
	maxNameLen              = 128
	defaultHandshakeTimeout = 10 * time.Second
)

// Connection is a handle to one registered provider.
type Connection struct {
	Name         string        `json:"name"`
	Address      string        `json:"address"`
	Card         a2a.AgentCard `json:"card"`
	RegisteredAt time.Time     `json:"registered_at"`

	client *a2a.Client
}

// Client returns the transport client for the provider.
func (c *Connection) Client() *a2a.Client { return c.client }

// Description returns the card description.
func (c *Connection) Description() string { return c.Card.Description }

// ClientFactory builds a transport client for an address.
type ClientFactory func(address string) *a2a.Client

type snapshot map[string]*Connection

// Registry maps provider names to connections.
type Registry struct {
	current atomic.Pointer[snapshot]
	mu      sync.Mutex

	newClient        ClientFactory
	handshakeTimeout time.Duration
	logger           *logging.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClientFactory overrides how transport clients are created.
func WithClientFactory(f ClientFactory) Option {
	return func(r *Registry) {
		if f != nil {
			r.newClient = f
		}
	}
}

// WithHandshakeTimeout bounds the agent card fetch.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.handshakeTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		newClient:        func(addr string) *a2a.Client { return a2a.NewClient(addr) },
		handshakeTimeout: defaultHandshakeTimeout,
		logger:           logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	empty := snapshot{}
	r.current.Store(&empty)
	return r
}

// ValidateName checks a provider name.
func ValidateName(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("%w: name too long (max %d)", ErrInvalidName, maxNameLen)
	}
	if !namePattern.MatchString(name) || strings.TrimSpace(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func validateAddress(address string) error {
	u, err := url.Parse(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidAddress)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidAddress)
	}
	return nil
}

// Register performs the handshake against address and publishes the
// provider. name overrides the card name when set. Re-registering a name
// replaces the previous connection.
func (r *Registry) Register(ctx context.Context, address, name string) (*Connection, error) {
	address = strings.TrimRight(strings.TrimSpace(address), "/")
	if err := validateAddress(address); err != nil {
		return nil, err
	}
	if name != "" {
		if err := ValidateName(name); err != nil {
			return nil, err
		}
	}

	client := r.newClient(address)
	hctx, cancel := context.WithTimeout(ctx, r.handshakeTimeout)
	defer cancel()
	card, err := client.FetchCard(hctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrHandshake, address, err)
	}

	if name == "" {
		name = strings.TrimSpace(card.Name)
		if err := ValidateName(name); err != nil {
			return nil, fmt.Errorf("%w: card name: %v", ErrHandshake, err)
		}
	}

	conn := &Connection{
		Name:         name,
		Address:      address,
		Card:         *card,
		RegisteredAt: time.Now().UTC(),
		client:       client,
	}
	r.publish(conn)

	r.logger.Info(ctx, "provider registered",
		zap.String("provider", name),
		zap.String("address", address),
	)
	return conn, nil
}

func (r *Registry) publish(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.current.Load()
	next := make(snapshot, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[conn.Name] = conn
	r.current.Store(&next)
}

// Remove unregisters a provider. It reports whether the name existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.current.Load()
	if _, ok := old[name]; !ok {
		return false
	}
	next := make(snapshot, len(old))
	for k, v := range old {
		if k != name {
			next[k] = v
		}
	}
	r.current.Store(&next)
	return true
}

// Bootstrap registers every address concurrently. Failed handshakes are
// logged and skipped. It returns the number of providers registered.
func (r *Registry) Bootstrap(ctx context.Context, addresses []string) int {
	var registered atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range addresses {
		g.Go(func() error {
			if _, err := r.Register(gctx, addr, ""); err != nil {
				r.logger.Warn(ctx, "provider unavailable at startup",
					zap.String("address", addr),
					zap.Error(err),
				)
				return nil
			}
			registered.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(registered.Load())
}

// Resolve returns the connection registered under name.
func (r *Registry) Resolve(name string) (*Connection, error) {
	conn, ok := (*r.current.Load())[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return conn, nil
}

// List returns all connections sorted by name.
func (r *Registry) List() []*Connection {
	snap := *r.current.Load()
	out := make([]*Connection, 0, len(snap))
	for _, c := range snap {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns registered names sorted.
func (r *Registry) Names() []string {
	conns := r.List()
	names := make([]string, len(conns))
	for i, c := range conns {
		names[i] = c.Name
	}
	return names
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	return len(*r.current.Load())
}

type catalogEntry struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Skills      []string `json:"skills,omitempty"`
}

// Catalog renders the current providers as JSON lines, one per provider,
// sorted by name. It is computed from the live snapshot on every call.
func (r *Registry) Catalog() string {
	var b strings.Builder
	for _, c := range r.List() {
		entry := catalogEntry{Name: c.Name, Description: c.Card.Description}
		for _, s := range c.Card.Skills {
			entry.Skills = append(entry.Skills, s.Name)
		}
		line, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return b.String()
}
