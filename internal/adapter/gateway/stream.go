package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"agentrelay/internal/domain"
)

// Outbound stream frame names. A reply is always bracketed: one start,
// zero or more content chunks, exactly one end. Errors are their own
// frame and never terminate the connection once it is established.
const (
	eventStreamStart = "on_chat_model_start"
	eventStreamChunk = "on_chat_model_stream"
	eventStreamEnd   = "on_chat_model_end"
	eventStreamError = "error"
)

type streamEvent struct {
	Event string     `json:"event"`
	Data  streamData `json:"data"`
}

type streamData struct {
	Chunk  *streamChunk `json:"chunk,omitempty"`
	Output *streamChunk `json:"output,omitempty"`
	Error  string       `json:"error,omitempty"`
}

type streamChunk struct {
	Content string `json:"content"`
}

// streamInput is one element of the inbound batch frame:
// [{"input": {"input": "...", "chat_history": [...]}}].
type streamInput struct {
	Input struct {
		Input       string        `json:"input"`
		ChatHistory []historyTurn `json:"chat_history"`
	} `json:"input"`
}

type historyTurn struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// handleStream upgrades to WebSocket and serves a frame-per-turn chat
// stream. A connection made while the agent is absent gets a single error
// frame and an abnormal close; once established, malformed frames are
// answered with error frames and the connection stays open.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	ctx := r.Context()

	if s.State() != StateReady || s.agent == nil {
		_ = wsjson.Write(ctx, ws, streamEvent{
			Event: eventStreamError,
			Data:  streamData{Error: "Agent not initialized"},
		})
		ws.Close(websocket.StatusInternalError, "agent not initialized")
		return
	}

	defer ws.Close(websocket.StatusNormalClosure, "")

	sessionID := r.URL.Query().Get("session_id")

	for {
		msgType, data, err := ws.Read(ctx)
		if err != nil {
			return // closed or transport error
		}
		if msgType != websocket.MessageText {
			continue
		}

		input, perr := parseStreamFrame(data)
		if perr != nil {
			if werr := wsjson.Write(ctx, ws, streamEvent{
				Event: eventStreamError,
				Data:  streamData{Error: frameErrorText(perr)},
			}); werr != nil {
				return
			}
			continue
		}

		if err := s.streamReply(ctx, ws, sessionID, input); err != nil {
			return
		}
	}
}

func parseStreamFrame(data []byte) (streamInput, error) {
	var batch []streamInput
	if err := json.Unmarshal(data, &batch); err != nil {
		return streamInput{}, domain.NewDomainError("stream.parse", domain.ErrInvalidPayload, err.Error())
	}
	if len(batch) == 0 {
		return streamInput{}, domain.NewDomainError("stream.parse", domain.ErrInvalidPayload, "empty batch")
	}
	if batch[0].Input.Input == "" {
		return streamInput{}, domain.NewDomainError("stream.parse", domain.ErrInvalidPayload, "Input message cannot be empty.")
	}
	return batch[0], nil
}

// frameErrorText strips the operation wrapping so the wire carries just
// the human-readable detail.
func frameErrorText(err error) string {
	var derr *domain.DomainError
	if errors.As(err, &derr) && derr.Detail != "" {
		return derr.Detail
	}
	return err.Error()
}

// streamReply runs one turn: start frame, content frames, end frame. The
// returned error is transport-level only; agent failures are delivered as
// error frames inside the bracket.
func (s *Server) streamReply(ctx context.Context, ws *websocket.Conn, sessionID string, input streamInput) error {
	send := func(ev streamEvent) error {
		return wsjson.Write(ctx, ws, ev)
	}

	if err := send(streamEvent{
		Event: eventStreamStart,
		Data:  streamData{Chunk: &streamChunk{Content: ""}},
	}); err != nil {
		return err
	}

	req := domain.AgentRequest{
		Message:   input.Input.Input,
		SessionID: sessionID,
		Metadata: map[string]any{
			"source_protocol": "websocket",
		},
	}
	if len(input.Input.ChatHistory) > 0 {
		req.Metadata["chat_history"] = flattenHistory(input.Input.ChatHistory)
	}

	var full strings.Builder

	if sa, ok := s.agent.(domain.StreamingAgent); ok {
		deltas, err := sa.ProcessStream(ctx, req)
		if err != nil {
			return s.streamFailure(send, err)
		}
		for delta := range deltas {
			if delta.Done {
				break
			}
			if delta.Content == "" {
				continue
			}
			full.WriteString(delta.Content)
			if err := send(streamEvent{
				Event: eventStreamChunk,
				Data:  streamData{Chunk: &streamChunk{Content: delta.Content}},
			}); err != nil {
				return err
			}
		}
	} else {
		resp, err := s.agent.Process(ctx, req)
		if err != nil {
			return s.streamFailure(send, err)
		}
		full.WriteString(resp.Message)
		if err := send(streamEvent{
			Event: eventStreamChunk,
			Data:  streamData{Chunk: &streamChunk{Content: resp.Message}},
		}); err != nil {
			return err
		}
	}

	return send(streamEvent{
		Event: eventStreamEnd,
		Data:  streamData{Output: &streamChunk{Content: full.String()}},
	})
}

// streamFailure reports an agent failure inside the reply bracket and
// still closes it with an end frame.
func (s *Server) streamFailure(send func(streamEvent) error, err error) error {
	s.logger.Error("stream turn failed", "error", err)
	if werr := send(streamEvent{
		Event: eventStreamError,
		Data:  streamData{Error: err.Error()},
	}); werr != nil {
		return werr
	}
	return send(streamEvent{
		Event: eventStreamEnd,
		Data:  streamData{Output: &streamChunk{Content: ""}},
	})
}

func flattenHistory(turns []historyTurn) []map[string]any {
	out := make([]map[string]any, 0, len(turns))
	for _, t := range turns {
		out = append(out, map[string]any{"type": t.Type, "content": t.Content})
	}
	return out
}
