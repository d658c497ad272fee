package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hdevtech/ticket/internal/settlement"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsFinal struct {
	Done    bool                `json:"done"`
	Outcome *settlement.Outcome `json:"outcome,omitempty"`
	Error   string              `json:"error,omitempty"`
	Status  int                 `json:"status,omitempty"`
}

// WatchSettlement runs the workflow for the life of the connection and
// streams every poll. Closing the socket stops polling.
func (h *Handlers) WatchSettlement(w http.ResponseWriter, r *http.Request) {
	txRef := chi.URLParam(r, "tx_ref")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "tx_ref", txRef, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client sends nothing; a read error means it left.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(v any) {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(v); err != nil {
			slog.Debug("websocket write failed", "tx_ref", txRef, "error", err)
			cancel()
		}
	}

	out, err := h.workflow.SettleWithProgress(ctx, txRef, func(p settlement.Progress) {
		send(p)
	})
	if ctx.Err() != nil && err != nil {
		return
	}

	final := wsFinal{Done: true, Outcome: out}
	if err != nil {
		final.Error = err.Error()
		final.Status = StatusFor(err)
	}
	send(final)

	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
