package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/turinggame/core/internal/alias"
	"github.com/turinggame/core/internal/coordinator"
	"github.com/turinggame/core/pkg/types"
)

// Handler upgrades a client connection and bridges it to the session actor:
// one writer goroutine draining the seat's outbox, the request goroutine
// running the reader loop.
func Handler(h *coordinator.Hub, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("sessionId")
		if code == "" {
			http.Error(w, "missing sessionId", http.StatusBadRequest)
			return
		}

		reply := make(chan *coordinator.Session, 1)
		h.Inbox() <- coordinator.GetSession{Code: code, Reply: reply}
		sess := <-reply
		if sess == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan types.Frame, 8)
		// A client that reconnects with its previous playerId keeps its
		// seat; without one it gets a fresh identity.
		playerID := r.URL.Query().Get("playerId")
		if playerID == "" {
			playerID = uuid.NewString()
		}

		sess.Inbox() <- coordinator.Join{PlayerID: playerID, Alias: alias.Generate(), Outbox: out}
		defer func() { sess.Inbox() <- coordinator.Leave{PlayerID: playerID, Outbox: out} }()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for frame := range out {
				payload, err := json.Marshal(frame)
				if err != nil {
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				// Treat clean close/going-away as normal:
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				// Otherwise, just exit (coordinator.Leave in defer):
				return
			}

			var frame types.Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				writeError(r.Context(), conn, "bad json")
				continue
			}

			msg, ok := toSessionMsg(playerID, frame)
			if !ok {
				writeError(r.Context(), conn, "unknown type")
				continue
			}

			sess.Inbox() <- msg
		}
	}
}

func toSessionMsg(playerID string, frame types.Frame) (coordinator.SessionMsg, bool) {
	switch frame.Type {
	case types.FrameChat:
		// Clients send chat content as a bare string; the coordinator
		// wraps it with an id on the way back out.
		var text string
		if err := json.Unmarshal(frame.Content, &text); err != nil {
			return nil, false
		}
		return coordinator.Chat{PlayerID: playerID, Text: text}, true
	case types.FrameGetTopic:
		return coordinator.RequestTopic{PlayerID: playerID}, true
	case types.FrameStartSession:
		return coordinator.Start{PlayerID: playerID}, true
	default:
		return nil, false
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, message string) {
	frame, err := types.NewFrame(types.FrameError, types.NoticeContent{Message: message})
	if err != nil {
		return
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}
