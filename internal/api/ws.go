package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"fieldsync/internal/logger"
	"fieldsync/internal/status"
)

// Watch streams snapshot updates over a WebSocket. Slow consumers miss
// intermediate snapshots rather than stall the engine; the latest state
// always arrives.
func (h *Handler) Watch(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Log.Debug("WebSocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()

	updates := make(chan *status.Snapshot, 1)
	unsubscribe := h.engine.Subscribe(func(snap *status.Snapshot) {
		// Keep only the most recent snapshot for this consumer.
		for {
			select {
			case updates <- snap:
				return
			default:
				select {
				case <-updates:
				default:
				}
			}
		}
	})
	defer unsubscribe()

	// Initial state so the client renders without waiting for a change.
	snap, err := h.engine.GetSnapshot(ctx)
	if err == nil {
		if err := writeSnapshot(ctx, conn, snap); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			if err := writeSnapshot(ctx, conn, snap); err != nil {
				return
			}
		}
	}
}

func writeSnapshot(ctx context.Context, conn *websocket.Conn, snap *status.Snapshot) error {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(writeCtx, conn, snap)
}
