package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/supportd/internal/config"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	})
	require.NoError(t, err)
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})
	return srv
}

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	srv := startTestNATSServer(t)
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	bus := NewBus(nc, nil)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestValidConversationID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"conv-123", true},
		{"abc_DEF_9", true},
		{"", false},
		{"has.dot", false},
		{"wild*", false},
		{"with space", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidConversationID(tt.id), tt.id)
	}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "supportd.sessions.c1.agent", Subject("c1", TypeAgent))
	assert.Equal(t, "supportd.sessions.c1.*", Subject("c1", ""))
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus(t)
	sub, err := bus.Subscribe("conv-1")
	require.NoError(t, err)
	defer sub.Close()

	other, err := bus.Subscribe("conv-2")
	require.NoError(t, err)
	defer other.Close()

	require.NoError(t, bus.Publish("conv-1", TypeStatus, map[string]string{"message": "working"}))
	require.NoError(t, bus.Publish("conv-1", TypeDone, map[string]string{"status": "resolved"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "conv-1", ev.ConversationID)
	assert.Equal(t, TypeStatus, ev.Type)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, "working", payload["message"])

	ev, err = sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, TypeDone, ev.Type)

	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	_, err = other.Next(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublish_InvalidConversation(t *testing.T) {
	bus := newTestBus(t)
	err := bus.Publish("bad.id", TypeStatus, nil)
	assert.ErrorIs(t, err, ErrInvalidConversationID)

	_, err = bus.Subscribe("*")
	assert.ErrorIs(t, err, ErrInvalidConversationID)
}

func TestOpen_Embedded(t *testing.T) {
	bus, err := Open(config.EventsConfig{Embedded: true, Host: "127.0.0.1", Port: -1}, nil)
	require.NoError(t, err)
	defer bus.Close()
	assert.True(t, bus.Connected())

	sub, err := bus.Subscribe("embedded")
	require.NoError(t, err)
	defer sub.Close()
	require.NoError(t, bus.Publish("embedded", TypeMessage, map[string]string{"text": "hi"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, TypeMessage, ev.Type)
}

func TestOpen_External(t *testing.T) {
	srv := startTestNATSServer(t)
	bus, err := Open(config.EventsConfig{URL: srv.ClientURL()}, nil)
	require.NoError(t, err)
	defer bus.Close()
	assert.True(t, bus.Connected())
}
