package gateway

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"agentrelay/internal/adapter/protocol"
	"agentrelay/internal/domain"
	"agentrelay/internal/infra/config"
)

func startStreamServer(t *testing.T, agent domain.Agent) *Server {
	t.Helper()
	cfg := config.Defaults()
	cfg.Server.Addr = "127.0.0.1:0"
	srv := NewServer(cfg, protocol.NewRegistry(), slog.Default())
	if agent != nil {
		srv.SetAgent(agent, nil)
		srv.SetState(StateReady)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Start(ctx) }()

	deadline := time.After(3 * time.Second)
	for srv.BoundAddr() == "" {
		select {
		case <-deadline:
			t.Fatal("server did not bind in time")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	return srv
}

func dialStream(t *testing.T, srv *Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws://"+srv.BoundAddr()+"/chat/stream"+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) streamEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var ev streamEvent
	require.NoError(t, wsjson.Read(ctx, ws, &ev))
	return ev
}

func TestStreamEventOrdering(t *testing.T) {
	srv := startStreamServer(t, &echoAgent{})
	ws := dialStream(t, srv, "?session_id=s1")

	ctx := context.Background()
	require.NoError(t, ws.Write(ctx, websocket.MessageText,
		[]byte(`[{"input":{"input":"hello","chat_history":[]}}]`)))

	start := readEvent(t, ws)
	assert.Equal(t, eventStreamStart, start.Event)
	require.NotNil(t, start.Data.Chunk)
	assert.Equal(t, "", start.Data.Chunk.Content)

	var content string
	for {
		ev := readEvent(t, ws)
		if ev.Event == eventStreamEnd {
			require.NotNil(t, ev.Data.Output)
			assert.Equal(t, "echo: hello", ev.Data.Output.Content)
			break
		}
		require.Equal(t, eventStreamChunk, ev.Event)
		require.NotNil(t, ev.Data.Chunk)
		content += ev.Data.Chunk.Content
	}
	assert.Equal(t, "echo: hello", content)
}

func TestStreamMalformedFrameKeepsConnectionOpen(t *testing.T) {
	srv := startStreamServer(t, &echoAgent{})
	ws := dialStream(t, srv, "")

	ctx := context.Background()
	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte(`{not json`)))

	ev := readEvent(t, ws)
	assert.Equal(t, eventStreamError, ev.Event)
	assert.NotEmpty(t, ev.Data.Error)

	// The connection survives; a valid frame still gets a full reply.
	require.NoError(t, ws.Write(ctx, websocket.MessageText,
		[]byte(`[{"input":{"input":"still here"}}]`)))
	ev = readEvent(t, ws)
	assert.Equal(t, eventStreamStart, ev.Event)
}

func TestStreamEmptyInputRejectedWithoutAgentCall(t *testing.T) {
	agent := &echoAgent{}
	srv := startStreamServer(t, agent)
	ws := dialStream(t, srv, "")

	ctx := context.Background()
	require.NoError(t, ws.Write(ctx, websocket.MessageText,
		[]byte(`[{"input":{"input":"","chat_history":[]}}]`)))

	ev := readEvent(t, ws)
	assert.Equal(t, eventStreamError, ev.Event)
	assert.Equal(t, "Input message cannot be empty.", ev.Data.Error)
	assert.Equal(t, 0, agent.calls)

	// The connection survives; a non-empty frame still gets a reply.
	require.NoError(t, ws.Write(ctx, websocket.MessageText,
		[]byte(`[{"input":{"input":"hello"}}]`)))
	ev = readEvent(t, ws)
	assert.Equal(t, eventStreamStart, ev.Event)
}

func TestStreamNonBatchFrameRejected(t *testing.T) {
	srv := startStreamServer(t, &echoAgent{})
	ws := dialStream(t, srv, "")

	ctx := context.Background()
	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte(`[]`)))

	ev := readEvent(t, ws)
	assert.Equal(t, eventStreamError, ev.Event)
}

func TestStreamWithoutAgentClosesAfterError(t *testing.T) {
	srv := startStreamServer(t, nil)
	ws := dialStream(t, srv, "")

	ev := readEvent(t, ws)
	assert.Equal(t, eventStreamError, ev.Event)
	assert.Equal(t, "Agent not initialized", ev.Data.Error)

	// The server closes the connection after the error frame.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := ws.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusInternalError, websocket.CloseStatus(err))
}

func TestStreamAgentFailureReportedInBracket(t *testing.T) {
	srv := startStreamServer(t, &echoAgent{fail: true})
	ws := dialStream(t, srv, "")

	ctx := context.Background()
	require.NoError(t, ws.Write(ctx, websocket.MessageText,
		[]byte(`[{"input":{"input":"boom"}}]`)))

	start := readEvent(t, ws)
	assert.Equal(t, eventStreamStart, start.Event)

	ev := readEvent(t, ws)
	assert.Equal(t, eventStreamError, ev.Event)

	end := readEvent(t, ws)
	assert.Equal(t, eventStreamEnd, end.Event)
}
