package http

import (
	"net/http"

	"go.uber.org/zap"
	"live-quiz-service/internal/app"
)

// API serves the host console, the player endpoints and the event socket.
type API struct {
	service *app.QuizService
	auth    *Auth
	ws      *WSHandler
	log     *zap.Logger
}

func NewAPI(service *app.QuizService, auth *Auth, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{
		service: service,
		auth:    auth,
		ws:      NewWSHandler(service, log),
		log:     log,
	}
}

// Handler returns the routed, logged handler.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	host := a.auth.Require

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /ws", a.ws.ServeWS)

	mux.HandleFunc("POST /api/host/login", a.login)
	mux.HandleFunc("GET /api/host/sessions", host(a.listSessions))
	mux.HandleFunc("POST /api/host/sessions", host(a.createSession))
	mux.HandleFunc("GET /api/host/sessions/{id}", host(a.hostSession))
	mux.HandleFunc("PATCH /api/host/sessions/{id}", host(a.updateSession))
	mux.HandleFunc("DELETE /api/host/sessions/{id}", host(a.deleteSession))
	mux.HandleFunc("PUT /api/host/sessions/{id}/questions", host(a.replaceQuestions))
	mux.HandleFunc("POST /api/host/sessions/{id}/publish", host(a.publish))
	mux.HandleFunc("POST /api/host/sessions/{id}/unpublish", host(a.unpublish))
	mux.HandleFunc("POST /api/host/sessions/{id}/start", host(a.start))
	mux.HandleFunc("POST /api/host/sessions/{id}/advance", host(a.advance))
	mux.HandleFunc("POST /api/host/sessions/{id}/stop", host(a.stop))
	mux.HandleFunc("POST /api/host/sessions/{id}/restart", host(a.restart))
	mux.HandleFunc("POST /api/host/questions/{id}/close", host(a.closeQuestion))

	mux.HandleFunc("GET /api/sessions/{id}", a.publicSession)
	mux.HandleFunc("GET /api/join/{code}", a.sessionByCode)
	mux.HandleFunc("GET /api/sessions/{id}/players", a.players)
	mux.HandleFunc("GET /api/sessions/{id}/leaderboard", a.leaderboard)
	mux.HandleFunc("POST /api/sessions/{id}/players", a.register)
	mux.HandleFunc("POST /api/answers", a.submitAnswer)
	mux.HandleFunc("GET /api/questions/{id}/results", a.results)
	mux.HandleFunc("GET /api/questions/{qid}/answers/{pid}", a.answer)

	return withRequestLog(a.log, mux)
}
