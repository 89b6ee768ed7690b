package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

const testSecret = "test-secret"

func newTestAPI(t *testing.T, secured bool) (http.Handler, *app.QuizService) {
	t.Helper()
	svc := newTestQuizService(t)
	cfg := AuthConfig{TokenTTL: time.Hour}
	if secured {
		hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		cfg.Username = "host"
		cfg.PasswordHash = string(hash)
		cfg.Secret = testSecret
	}
	return NewAPI(svc, NewAuth(cfg), zaptest.NewLogger(t)).Handler(), svc
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error: %v (%s)", err, rec.Body.String())
	}
	return env.Error.Code
}

var geoQuiz = map[string]any{
	"title": "Geo Quiz",
	"questions": []map[string]any{{
		"question_text":  "Capital of Colombia?",
		"options":        []string{"Lima", "Quito", "Bogota", "Caracas"},
		"correct_answer": 2,
		"time_limit":     30,
	}},
}

func TestHostRoutesRequireToken(t *testing.T) {
	h, _ := newTestAPI(t, true)

	rec := doJSON(t, h, http.MethodGet, "/api/host/sessions", "", nil)
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != codeUnauthorized {
		t.Fatalf("expected 401, got %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/host/login", "", map[string]string{"username": "host", "password": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/host/login", "", map[string]string{"username": "host", "password": "hunter2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	var login loginResponse
	decodeData(t, rec, &login)

	rec = doJSON(t, h, http.MethodGet, "/api/host/sessions", login.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/host/sessions", login.Token+"x", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for tampered token, got %d", rec.Code)
	}
}

func TestSessionFlowOverHTTP(t *testing.T) {
	h, _ := newTestAPI(t, false)

	rec := doJSON(t, h, http.MethodPost, "/api/host/sessions", "", geoQuiz)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var session domain.Session
	decodeData(t, rec, &session)
	base := "/api/host/sessions/" + session.ID

	rec = doJSON(t, h, http.MethodPost, "/api/sessions/"+session.ID+"/players", "", map[string]string{"username": "Ann"})
	if rec.Code != http.StatusConflict || errorCode(t, rec) != domain.CodeInvalidState {
		t.Fatalf("joining a draft should be 409 INVALID_STATE, got %d %s", rec.Code, rec.Body.String())
	}

	if rec = doJSON(t, h, http.MethodPost, base+"/publish", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("publish: %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/join/"+session.JoinCode, "", nil)
	if rec.Code != http.StatusOK || bytes.Contains(rec.Body.Bytes(), []byte("correct_answer")) {
		t.Fatalf("code lookup: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/sessions/"+session.ID+"/players", "", map[string]string{"username": "Ann"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", rec.Code, rec.Body.String())
	}
	var ann domain.Player
	decodeData(t, rec, &ann)

	rec = doJSON(t, h, http.MethodPost, "/api/sessions/"+session.ID+"/players", "", map[string]string{"username": "Ann"})
	if rec.Code != http.StatusConflict || errorCode(t, rec) != domain.CodeConflict {
		t.Fatalf("duplicate username should be 409 CONFLICT, got %d", rec.Code)
	}

	if rec = doJSON(t, h, http.MethodPost, base+"/start", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	qid := session.Questions[0].ID

	rec = doJSON(t, h, http.MethodGet, "/api/questions/"+qid+"/results", "", nil)
	if rec.Code != http.StatusOK || bytes.Contains(rec.Body.Bytes(), []byte("correct_answer")) {
		t.Fatalf("live results must hide the answer: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/answers", "", map[string]any{
		"question_id": qid, "player_id": ann.ID, "selected_option": 2, "elapsed_seconds": 9,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("answer: %d %s", rec.Code, rec.Body.String())
	}
	var result domain.AnswerResult
	decodeData(t, rec, &result)
	if result.Points != 1350 {
		t.Fatalf("expected 1350 points, got %d", result.Points)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/answers", "", map[string]any{
		"question_id": qid, "player_id": ann.ID, "selected_option": 7,
	})
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != domain.CodeValidation {
		t.Fatalf("bad option should be 400, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, base+"/advance", "", map[string]int{"expected_index": 5})
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale expected_index should be 409, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, base+"/advance", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("advance: %d %s", rec.Code, rec.Body.String())
	}
	var adv domain.AdvanceResult
	decodeData(t, rec, &adv)
	if !adv.Completed || len(adv.Leaderboard) != 1 || adv.Leaderboard[0].Score != 1350 {
		t.Fatalf("unexpected advance result %+v", adv)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/sessions/"+session.ID+"/leaderboard", "", nil)
	var board []domain.LeaderboardEntry
	decodeData(t, rec, &board)
	if len(board) != 1 || board[0].Rank != 1 {
		t.Fatalf("unexpected leaderboard %+v", board)
	}
}

func TestErrorMapping(t *testing.T) {
	h, _ := newTestAPI(t, false)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown session", http.MethodGet, "/api/sessions/nope", nil, http.StatusNotFound, domain.CodeNotFound},
		{"unknown code", http.MethodGet, "/api/join/ZZZZZZ", nil, http.StatusNotFound, domain.CodeNotFound},
		{"missing title", http.MethodPost, "/api/host/sessions", map[string]any{"title": ""}, http.StatusBadRequest, domain.CodeValidation},
		{"start unknown", http.MethodPost, "/api/host/sessions/nope/start", nil, http.StatusNotFound, domain.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, tc.method, tc.path, "", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d (%s)", tc.status, rec.Code, rec.Body.String())
			}
			if got := errorCode(t, rec); got != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, got)
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Fatalf("missing request id")
			}
		})
	}
}

func TestMalformedBody(t *testing.T) {
	h, _ := newTestAPI(t, false)
	req := httptest.NewRequest(http.MethodPost, "/api/host/sessions", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
