package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"interra/core/events"
)

const wsWriteTimeout = 10 * time.Second

// handleEventsWS streams the ordered event log over a websocket. The optional
// cursor query parameter selects the log offset to resume from; events before
// the cursor are replayed as backlog before live delivery starts.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.broker == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	cursor := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		cursor = parsed
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := s.streamEvents(r.Context(), conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

// streamEvents replays the backlog, then forwards live entries. Each frame
// carries the entry's log offset, so clients detect dropped events by an
// offset jump and resubscribe with cursor = last offset + 1.
func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor int) error {
	live, cancel, backlog := s.broker.Subscribe(ctx, cursor)
	defer cancel()

	for _, entry := range backlog {
		if err := writeEvent(ctx, conn, entry); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-live:
			if !ok {
				return nil
			}
			if err := writeEvent(ctx, conn, entry); err != nil {
				return err
			}
		}
	}
}

type eventPayload struct {
	Sequence   int               `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func writeEvent(ctx context.Context, conn *websocket.Conn, entry events.Entry) error {
	payload := eventPayload{Sequence: entry.Offset, Type: entry.Event.Type, Attributes: entry.Event.Attributes}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
