package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/supportd/internal/a2a/a2atest"
	"github.com/fyrsmithlabs/supportd/internal/logging"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "memory", false},
		{"display name", "Intent Agent", false},
		{"with dot and hyphen", "rag-v2.1", false},
		{"empty", "", true},
		{"leading space", " Intent", true},
		{"trailing space", "Intent ", true},
		{"starts with hyphen", "-agent", true},
		{"slash", "a/b", true},
		{"newline", "a\nb", true},
		{"too long", strings.Repeat("a", maxNameLen+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidName)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistry_Register(t *testing.T) {
	ctx := context.Background()
	p := a2atest.New(t, "Intent Agent", a2atest.Reply("ok"))
	r := New()

	conn, err := r.Register(ctx, p.URL+"/", "")
	require.NoError(t, err)
	assert.Equal(t, "Intent Agent", conn.Name)
	assert.Equal(t, p.URL, conn.Address)
	assert.NotNil(t, conn.Client())
	assert.False(t, conn.RegisteredAt.IsZero())

	got, err := r.Resolve("Intent Agent")
	require.NoError(t, err)
	assert.Same(t, conn, got)
}

func TestRegistry_RegisterWithAlias(t *testing.T) {
	p := a2atest.New(t, "Intent Agent", a2atest.Reply("ok"))
	r := New()

	conn, err := r.Register(context.Background(), p.URL, "classifier")
	require.NoError(t, err)
	assert.Equal(t, "classifier", conn.Name)
	assert.Equal(t, "Intent Agent", conn.Card.Name)

	_, err = r.Resolve("Intent Agent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_ReRegisterReplaces(t *testing.T) {
	ctx := context.Background()
	first := a2atest.New(t, "RAG Agent", a2atest.Reply("a"), a2atest.WithDescription("v1"))
	second := a2atest.New(t, "RAG Agent", a2atest.Reply("b"), a2atest.WithDescription("v2"))
	r := New()

	_, err := r.Register(ctx, first.URL, "")
	require.NoError(t, err)
	_, err = r.Register(ctx, second.URL, "")
	require.NoError(t, err)

	conn, err := r.Resolve("RAG Agent")
	require.NoError(t, err)
	assert.Equal(t, second.URL, conn.Address)
	assert.Equal(t, "v2", conn.Description())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RegisterErrors(t *testing.T) {
	ctx := context.Background()
	r := New()

	t.Run("bad address", func(t *testing.T) {
		_, err := r.Register(ctx, "ftp://example.com", "")
		assert.ErrorIs(t, err, ErrInvalidAddress)
		_, err = r.Register(ctx, "http://", "")
		assert.ErrorIs(t, err, ErrInvalidAddress)
	})

	t.Run("bad alias", func(t *testing.T) {
		_, err := r.Register(ctx, "http://localhost:1", "bad/name")
		assert.ErrorIs(t, err, ErrInvalidName)
	})

	t.Run("handshake fails", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := r.Register(ctx, srv.URL, "")
		assert.ErrorIs(t, err, ErrHandshake)
		assert.Zero(t, r.Len())
	})
}

func TestRegistry_Bootstrap(t *testing.T) {
	logger := logging.NewTestLogger()
	good := a2atest.New(t, "Memory Agent", a2atest.Reply("ok"))
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	r := New(WithLogger(logger.Logger))
	n := r.Bootstrap(context.Background(), []string{good.URL, dead.URL})

	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"Memory Agent"}, r.Names())
	logger.AssertLogged(t, zapcore.WarnLevel, "provider unavailable at startup")
}

func TestRegistry_ListSortedAndCatalog(t *testing.T) {
	ctx := context.Background()
	r := New()
	for _, name := range []string{"Response Agent", "Intent Agent", "Memory Agent"} {
		p := a2atest.New(t, name, a2atest.Reply("ok"), a2atest.WithDescription(name+" does things"))
		_, err := r.Register(ctx, p.URL, "")
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"Intent Agent", "Memory Agent", "Response Agent"}, r.Names())

	lines := strings.Split(strings.TrimSpace(r.Catalog()), "\n")
	require.Len(t, lines, 3)
	var first catalogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "Intent Agent", first.Name)
	assert.Equal(t, "Intent Agent does things", first.Description)

	// Catalog follows the live snapshot.
	require.True(t, r.Remove("Memory Agent"))
	assert.NotContains(t, r.Catalog(), "Memory Agent")
	assert.False(t, r.Remove("Memory Agent"))
}

func TestRegistry_ConcurrentReadsDuringWrites(t *testing.T) {
	ctx := context.Background()
	p := a2atest.New(t, "Reasoning Agent", a2atest.Reply("ok"))
	r := New()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, c := range r.List() {
					assert.NotEmpty(t, c.Name)
				}
				_ = r.Catalog()
			}
		}()
	}

	for i := range 20 {
		_, err := r.Register(ctx, p.URL, "alias-"+string(rune('a'+i)))
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, 20, r.Len())
}
