package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"voucherchain/core"
)

const wsWriteTimeout = 10 * time.Second

// handleEventStream upgrades to a websocket and sends every committed event
// after the cursor, then follows live. The optional type parameter keeps only
// events of that type.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	eventType := strings.TrimSpace(r.URL.Query().Get("type"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, cursor, eventType); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
			s.logger.Warn("rpc: event stream failed", "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor, eventType string) error {
	updates, cancel, backlog, err := s.node.SubscribeEvents(ctx, cursor)
	if err != nil {
		return err
	}
	defer cancel()

	for _, update := range backlog {
		if err := writeEventUpdate(ctx, conn, update, eventType); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEventUpdate(ctx, conn, update, eventType); err != nil {
				return err
			}
		}
	}
}

func writeEventUpdate(ctx context.Context, conn *websocket.Conn, update core.EventUpdate, eventType string) error {
	if eventType != "" && update.Type != eventType {
		return nil
	}
	data, err := json.Marshal(newEventView(update))
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
