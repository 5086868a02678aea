package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/netsync/internal/core/observability/log"
	"github.com/zeusync/netsync/internal/core/protocol"
)

func TestWebSocket_FrameExchange(t *testing.T) {
	listener := NewListener(log.NewNop())
	s := httptest.NewServer(listener)
	defer s.Close()
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u := "ws" + strings.TrimPrefix(s.URL, "http")
	client, err := Dial(ctx, u)
	require.NoError(t, err)
	defer client.Close()

	server, err := listener.Accept(ctx)
	require.NoError(t, err)
	defer server.Close()

	require.NoError(t, client.WriteFrame(ctx, []byte("hello")))
	frame, err := server.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), frame)

	require.NoError(t, server.WriteFrame(ctx, []byte{0, 1, 2}))
	frame, err = client.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, frame)
}

func TestWebSocket_PeerCloseIsConnectionClosed(t *testing.T) {
	listener := NewListener(log.NewNop())
	s := httptest.NewServer(listener)
	defer s.Close()
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, "ws"+strings.TrimPrefix(s.URL, "http"))
	require.NoError(t, err)

	server, err := listener.Accept(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Close())
	_, err = server.ReadFrame(ctx)
	assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
}

func TestWebSocket_AcceptAfterClose(t *testing.T) {
	listener := NewListener(log.NewNop())
	require.NoError(t, listener.Close())
	require.NoError(t, listener.Close())

	_, err := listener.Accept(context.Background())
	assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
}

func TestWebSocket_Listen(t *testing.T) {
	listener, err := Listen(log.NewNop(), "127.0.0.1:0", "/sync")
	require.NoError(t, err)
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, "ws://"+listener.Addr()+"/sync")
	require.NoError(t, err)
	defer client.Close()

	server, err := listener.Accept(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, server.RemoteAddr())
}
