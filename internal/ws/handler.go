package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tungdtfgw/ccviz/internal/relay"
	"github.com/tungdtfgw/ccviz/pkg/types"
)

const (
	outboxSize   = 64
	writeTimeout = 3 * time.Second
)

// Handler upgrades the request and streams every relayed BarEvent to the
// socket as one JSON text frame. Clients send nothing upward; reads only
// detect the close.
func Handler(r *relay.Relay, log *zap.Logger) http.HandlerFunc {
	log = log.With(zap.String("component", "ws"))

	return func(w http.ResponseWriter, req *http.Request) {
		conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{
			// the renderer is served from another origin (vite dev server, file://)
			InsecureSkipVerify: true,
		})
		if err != nil {
			log.Warn("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan types.BarEvent, outboxSize)
		clientID := uuid.NewString()

		if err := r.Join(req.Context(), clientID, out); err != nil {
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
		defer func() { _ = r.Leave(context.Background(), clientID) }()

		// Writer goroutine. It exits when the reader returns or when the relay
		// closes out after dropping this client.
		writeCtx, writeCancel := context.WithCancel(req.Context())
		defer writeCancel()
		go func() {
			defer writeCancel()
			for {
				select {
				case <-writeCtx.Done():
					return
				case ev, ok := <-out:
					if !ok {
						conn.Close(websocket.StatusTryAgainLater, "resync required")
						return
					}
					payload, err := json.Marshal(ev)
					if err != nil {
						log.Error("encode event", zap.String("type", string(ev.Type)), zap.Error(err))
						continue
					}
					ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
					err = conn.Write(ctx, websocket.MessageText, payload)
					cancel()
					if err != nil {
						log.Debug("write failed", zap.String("client", clientID), zap.Error(err))
						return
					}
				}
			}
		}()

		// Reader loop
		for {
			_, _, err := conn.Read(writeCtx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read ended", zap.String("client", clientID), zap.Error(err))
				}
				return
			}
		}
	}
}
