package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

type wsFrame struct {
	Type    string          `json:"type"`
	Seq     int64           `json:"seq"`
	Payload json.RawMessage `json:"payload"`
	Data    json.RawMessage `json:"data"`
}

func newTestQuizService(t *testing.T) *app.QuizService {
	t.Helper()
	log := zaptest.NewLogger(t)
	return app.NewQuizService(memory.NewRepository(), memory.NewHub(64, log), app.WithLogger(log))
}

func publishedSession(t *testing.T, svc *app.QuizService) domain.Session {
	t.Helper()
	ctx := context.Background()
	session, err := svc.CreateSession(ctx, app.CreateSessionInput{
		Title: "Geo Quiz",
		Questions: []app.QuestionInput{{
			Text:          "Capital of Colombia?",
			Options:       []string{"Lima", "Quito", "Bogota", "Caracas"},
			CorrectAnswer: 2,
			TimeLimit:     30,
		}},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := svc.Publish(ctx, session.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}
	return session
}

func dialWS(t *testing.T, svc *app.QuizService, query string) *websocket.Conn {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(svc, zaptest.NewLogger(t)).ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	var f wsFrame
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read json: %v", err)
	}
	return f
}

func TestWebSocketSnapshotEventsAndAnswer(t *testing.T) {
	ctx := context.Background()
	svc := newTestQuizService(t)
	session := publishedSession(t, svc)
	player, err := svc.RegisterPlayer(ctx, session.ID, app.RegisterPlayerInput{Username: "Ann"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	conn := dialWS(t, svc, "sessionId="+session.ID+"&playerId="+player.ID)

	first := readFrame(t, conn)
	if first.Type != "snapshot" {
		t.Fatalf("expected snapshot, got %s", first.Type)
	}
	var snap struct {
		Session struct {
			Status    string           `json:"status"`
			Questions []map[string]any `json:"questions"`
		} `json:"session"`
		Players []domain.Player `json:"players"`
	}
	if err := json.Unmarshal(first.Payload, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Session.Status != string(domain.StatusPublished) || len(snap.Players) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if _, leaked := snap.Session.Questions[0]["correct_answer"]; leaked {
		t.Fatalf("snapshot leaked the correct answer")
	}

	started, err := svc.Start(ctx, session.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	ev := readFrame(t, conn)
	if ev.Type != string(domain.EventQuizStarted) || ev.Seq != 1 {
		t.Fatalf("expected quiz_started seq 1, got %s seq %d", ev.Type, ev.Seq)
	}
	if strings.Contains(string(ev.Data), "correct_answer") {
		t.Fatalf("quiz_started leaked the correct answer: %s", ev.Data)
	}

	answer := map[string]any{
		"type": "answer",
		"payload": map[string]any{
			"question_id":     started.Questions[0].ID,
			"selected_option": 2,
			"elapsed_seconds": 0,
		},
	}
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}

	var result domain.AnswerResult
	submittedSeen := false
	for i := 0; i < 2; i++ {
		f := readFrame(t, conn)
		switch f.Type {
		case "answer_result":
			if err := json.Unmarshal(f.Payload, &result); err != nil {
				t.Fatalf("decode answer result: %v", err)
			}
		case string(domain.EventAnswerSubmitted):
			submittedSeen = true
		default:
			t.Fatalf("unexpected frame %s", f.Type)
		}
	}
	if !result.Correct || result.Points != 1500 || result.TotalScore != 1500 {
		t.Fatalf("unexpected answer result %+v", result)
	}
	if !submittedSeen {
		t.Fatalf("expected answer_submitted broadcast")
	}

	// second answer to the same question
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write duplicate: %v", err)
	}
	f := readFrame(t, conn)
	var ep errorPayload
	if f.Type != "error" || json.Unmarshal(f.Payload, &ep) != nil || ep.Code != domain.CodeConflict {
		t.Fatalf("expected conflict error, got %s %s", f.Type, f.Payload)
	}
}

func TestWebSocketRejectsForeignPlayer(t *testing.T) {
	svc := newTestQuizService(t)
	session := publishedSession(t, svc)
	conn := dialWS(t, svc, "sessionId="+session.ID+"&playerId=p-1")
	readFrame(t, conn)

	msg := map[string]any{
		"type":    "answer",
		"payload": map[string]any{"question_id": "q", "player_id": "p-2"},
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := readFrame(t, conn)
	var ep errorPayload
	if err := json.Unmarshal(f.Payload, &ep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Type != "error" || ep.Code != domain.CodeValidation {
		t.Fatalf("expected validation error, got %s %+v", f.Type, ep)
	}
}

func TestWebSocketUnknownSession(t *testing.T) {
	svc := newTestQuizService(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(svc, nil).ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?sessionId=missing"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", resp)
	}
}
