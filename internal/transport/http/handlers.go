package http

import (
	"net/http"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	token, expires, err := a.auth.Login(req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expires})
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.service.ListSessions(r.Context())
	respond(w, r, http.StatusOK, sessions, err)
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var in app.CreateSessionInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := a.service.CreateSession(r.Context(), in)
	respond(w, r, http.StatusCreated, session, err)
}

func (a *API) hostSession(w http.ResponseWriter, r *http.Request) {
	session, err := a.service.GetSession(r.Context(), r.PathValue("id"))
	respond(w, r, http.StatusOK, session, err)
}

func (a *API) updateSession(w http.ResponseWriter, r *http.Request) {
	var in app.UpdateSessionInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := a.service.UpdateSession(r.Context(), r.PathValue("id"), in)
	respond(w, r, http.StatusOK, session, err)
}

func (a *API) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := a.service.DeleteSession(r.Context(), id)
	respond(w, r, http.StatusOK, map[string]string{"deleted": id}, err)
}

func (a *API) replaceQuestions(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Questions []app.QuestionInput `json:"questions"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := a.service.ReplaceQuestions(r.Context(), r.PathValue("id"), body.Questions)
	respond(w, r, http.StatusOK, session, err)
}

func (a *API) publish(w http.ResponseWriter, r *http.Request) {
	session, err := a.service.Publish(r.Context(), r.PathValue("id"))
	respond(w, r, http.StatusOK, session, err)
}

func (a *API) unpublish(w http.ResponseWriter, r *http.Request) {
	session, err := a.service.Unpublish(r.Context(), r.PathValue("id"))
	respond(w, r, http.StatusOK, session, err)
}

func (a *API) start(w http.ResponseWriter, r *http.Request) {
	session, err := a.service.Start(r.Context(), r.PathValue("id"))
	respond(w, r, http.StatusOK, session, err)
}

// advance accepts an optional {"expected_index": n} body.
func (a *API) advance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ExpectedIndex *int `json:"expected_index"`
	}
	if err := decodeOptionalJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	id := r.PathValue("id")
	var (
		result domain.AdvanceResult
		err    error
	)
	if body.ExpectedIndex != nil {
		result, err = a.service.AdvanceFrom(r.Context(), id, *body.ExpectedIndex)
	} else {
		result, err = a.service.Advance(r.Context(), id)
	}
	respond(w, r, http.StatusOK, result, err)
}

func (a *API) stop(w http.ResponseWriter, r *http.Request) {
	session, top, err := a.service.Stop(r.Context(), r.PathValue("id"))
	respond(w, r, http.StatusOK, struct {
		Session domain.Session            `json:"session"`
		Top3    []domain.LeaderboardEntry `json:"top_3"`
	}{session, top}, err)
}

func (a *API) restart(w http.ResponseWriter, r *http.Request) {
	session, err := a.service.Restart(r.Context(), r.PathValue("id"))
	respond(w, r, http.StatusOK, session, err)
}

func (a *API) closeQuestion(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.CloseQuestion(r.Context(), r.PathValue("id"))
	respond(w, r, http.StatusOK, result, err)
}

func (a *API) publicSession(w http.ResponseWriter, r *http.Request) {
	session, err := a.service.GetSession(r.Context(), r.PathValue("id"))
	respond(w, r, http.StatusOK, session.Redacted(), err)
}

func (a *API) sessionByCode(w http.ResponseWriter, r *http.Request) {
	session, err := a.service.GetSessionByCode(r.Context(), r.PathValue("code"))
	respond(w, r, http.StatusOK, session.Redacted(), err)
}

func (a *API) players(w http.ResponseWriter, r *http.Request) {
	players, err := a.service.ListPlayers(r.Context(), r.PathValue("id"))
	respond(w, r, http.StatusOK, players, err)
}

func (a *API) leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := a.service.Leaderboard(r.Context(), r.PathValue("id"))
	respond(w, r, http.StatusOK, entries, err)
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var in app.RegisterPlayerInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	player, err := a.service.RegisterPlayer(r.Context(), r.PathValue("id"), in)
	respond(w, r, http.StatusCreated, player, err)
}

func (a *API) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var in app.SubmitAnswerInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := a.service.SubmitAnswer(r.Context(), in)
	respond(w, r, http.StatusOK, result, err)
}

func (a *API) results(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.PlayerResults(r.Context(), r.PathValue("id"))
	respond(w, r, http.StatusOK, result, err)
}

func (a *API) answer(w http.ResponseWriter, r *http.Request) {
	answer, err := a.service.GetAnswer(r.Context(), r.PathValue("qid"), r.PathValue("pid"))
	respond(w, r, http.StatusOK, answer, err)
}

func respond(w http.ResponseWriter, r *http.Request, status int, data any, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, status, data)
}
