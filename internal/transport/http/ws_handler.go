package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

const writeWait = 10 * time.Second

// WSHandler streams a session's events to one client. Control messages use
// {"type","payload"}; session events are forwarded as envelopes
// {"session_id","seq","type","timestamp","data"}.
type WSHandler struct {
	service  *app.QuizService
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.QuizService, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type snapshot struct {
	Session     domain.PublicSession      `json:"session"`
	Players     []domain.Player           `json:"players"`
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
}

// ServeWS subscribes before taking the snapshot, so a client that applies
// events with seq above what it has seen never misses a transition.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	playerID := r.URL.Query().Get("playerId")
	if sessionID == "" {
		writeError(w, r, domain.NewValidationError("sessionId", "is required"))
		return
	}
	ctx := context.WithoutCancel(r.Context())

	events, cancel, err := h.service.Subscribe(ctx, sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer cancel()

	snap, err := h.snapshot(ctx, sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.log.With(zap.String("session_id", sessionID), zap.String("player_id", playerID))
	send := make(chan any, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		failed := false
		for msg := range send {
			if failed {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug("ws write failed", zap.Error(err))
				failed = true
				// unblocks the reader; remaining messages are drained
				_ = conn.Close()
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case env, ok := <-events:
				if !ok {
					// dropped as a slow subscriber; the client reconnects for a fresh snapshot
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber lagged"),
						time.Now().Add(writeWait))
					_ = conn.Close()
					return
				}
				select {
				case send <- env:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[snapshot]{Type: "snapshot", Payload: snap}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			send <- h.answer(ctx, playerID, inbound.Payload)
		case "ping":
			send <- outboundMessage[struct{}]{Type: "pong"}
		default:
			send <- errorMessage(domain.NewValidationError("type", "unsupported message type"))
		}
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

func (h *WSHandler) snapshot(ctx context.Context, sessionID string) (snapshot, error) {
	session, err := h.service.GetSession(ctx, sessionID)
	if err != nil {
		return snapshot{}, err
	}
	players, err := h.service.ListPlayers(ctx, sessionID)
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{
		Session:     session.Redacted(),
		Players:     players,
		Leaderboard: app.RankPlayers(players),
	}, nil
}

// answer submits on behalf of the connection's player. The result goes to this socket only.
func (h *WSHandler) answer(ctx context.Context, playerID string, raw json.RawMessage) any {
	var in app.SubmitAnswerInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return errorMessage(domain.NewValidationError("payload", "invalid answer payload"))
	}
	if playerID != "" {
		if in.PlayerID != "" && in.PlayerID != playerID {
			return errorMessage(domain.NewValidationError("player_id", "does not match connection"))
		}
		in.PlayerID = playerID
	}
	result, err := h.service.SubmitAnswer(ctx, in)
	if err != nil {
		if domain.Code(err) == domain.CodeInternal {
			h.log.Error("ws answer failed", zap.Error(err))
		}
		return errorMessage(err)
	}
	return outboundMessage[domain.AnswerResult]{Type: "answer_result", Payload: result}
}

func errorMessage(err error) outboundMessage[errorPayload] {
	code := domain.Code(err)
	msg := err.Error()
	if code == domain.CodeInternal {
		msg = "internal error"
	}
	return outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Code: code, Message: msg}}
}
