package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

func seedActive(t *testing.T, repo *Repository, questions int) domain.Session {
	t.Helper()
	ctx := context.Background()
	session := domain.Session{ID: "s1", Title: "Quiz", JoinCode: "ABC234", Status: domain.StatusDraft}
	for i := 0; i < questions; i++ {
		session.Questions = append(session.Questions, domain.Question{
			ID:            "q" + string(rune('1'+i)),
			SessionID:     "s1",
			Order:         i,
			Text:          "question",
			Type:          domain.QuestionText,
			Options:       []string{"a", "b", "c", "d"},
			CorrectAnswer: 1,
			TimeLimit:     30,
		})
	}
	if _, err := repo.CreateSession(ctx, session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := repo.TransitionStatus(ctx, "s1", app.Transition{
		Op: "publish", From: []domain.SessionStatus{domain.StatusDraft}, To: domain.StatusPublished,
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	started := time.Now()
	s, err := repo.TransitionStatus(ctx, "s1", app.Transition{
		Op: "start", From: []domain.SessionStatus{domain.StatusPublished}, To: domain.StatusActive,
		ResetCursor: true, RequireQuestions: true, StartedAt: &started,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return s
}

func addPlayer(t *testing.T, repo *Repository, id, name string) domain.Player {
	t.Helper()
	p, err := repo.AddPlayer(context.Background(), domain.Player{ID: id, SessionID: "s1", Username: name, Active: true},
		[]domain.SessionStatus{domain.StatusPublished, domain.StatusActive})
	if err != nil {
		t.Fatalf("add player %s: %v", name, err)
	}
	return p
}

func TestJoinCodeCollision(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	if _, err := repo.CreateSession(ctx, domain.Session{ID: "a", JoinCode: "XYZ234"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := repo.CreateSession(ctx, domain.Session{ID: "b", JoinCode: "XYZ234"})
	if !errors.Is(err, domain.ErrJoinCodeTaken) {
		t.Fatalf("expected join code conflict, got %v", err)
	}
}

func TestReturnedSessionIsACopy(t *testing.T) {
	repo := NewRepository()
	s := seedActive(t, repo, 1)
	s.Questions[0].Options[0] = "mutated"

	again, err := repo.GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.Questions[0].Options[0] != "a" {
		t.Fatalf("stored session was mutated through returned value")
	}
}

func TestTransitionRejectsWrongState(t *testing.T) {
	repo := NewRepository()
	seedActive(t, repo, 1)

	_, err := repo.TransitionStatus(context.Background(), "s1", app.Transition{
		Op: "publish", From: []domain.SessionStatus{domain.StatusDraft}, To: domain.StatusPublished,
	})
	var stateErr *domain.InvalidStateError
	if !errors.As(err, &stateErr) || stateErr.Current != domain.StatusActive {
		t.Fatalf("expected invalid state naming active, got %v", err)
	}
}

func TestAdvanceCursorCompareAndSwap(t *testing.T) {
	repo := NewRepository()
	seedActive(t, repo, 2)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, moved := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.AdvanceCursor(ctx, "s1", 0, time.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrCursorMoved):
				moved++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || moved != 9 {
		t.Fatalf("expected 1 win and 9 conflicts, got %d and %d", wins, moved)
	}
	s, _ := repo.GetSession(ctx, "s1")
	if s.CurrentQuestionIndex != 1 || s.Status != domain.StatusActive {
		t.Fatalf("unexpected cursor %d status %s", s.CurrentQuestionIndex, s.Status)
	}

	s, err := repo.AdvanceCursor(ctx, "s1", 1, time.Now())
	if err != nil {
		t.Fatalf("advance past last: %v", err)
	}
	if s.Status != domain.StatusCompleted || s.CurrentQuestionIndex != 2 {
		t.Fatalf("expected completed at cursor 2, got %s at %d", s.Status, s.CurrentQuestionIndex)
	}
}

func TestRecordAnswerConcurrentScoring(t *testing.T) {
	repo := NewRepository()
	seedActive(t, repo, 1)
	ctx := context.Background()
	addPlayer(t, repo, "p1", "ann")

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted, dup := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := repo.RecordAnswer(ctx, domain.Answer{
				ID: "a" + string(rune('a'+i)), QuestionID: "q1", PlayerID: "p1", PointsEarned: 1200,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
			} else if errors.Is(err, domain.ErrDuplicateAnswer) {
				dup++
			}
		}(i)
	}
	wg.Wait()

	if accepted != 1 || dup != 19 {
		t.Fatalf("expected one accepted answer, got %d accepted %d duplicates", accepted, dup)
	}
	p, _ := repo.GetPlayer(ctx, "p1")
	if p.Score != 1200 {
		t.Fatalf("expected score 1200, got %d", p.Score)
	}
}

func TestRecordAnswerOutsideWindow(t *testing.T) {
	repo := NewRepository()
	seedActive(t, repo, 2)
	ctx := context.Background()
	addPlayer(t, repo, "p1", "ann")

	if _, _, err := repo.RecordAnswer(ctx, domain.Answer{ID: "x", QuestionID: "q2", PlayerID: "p1"}); !errors.Is(err, domain.ErrQuestionClosed) {
		t.Fatalf("expected closed for future question, got %v", err)
	}
	if _, err := repo.AdvanceCursor(ctx, "s1", 0, time.Now()); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, _, err := repo.RecordAnswer(ctx, domain.Answer{ID: "y", QuestionID: "q1", PlayerID: "p1"}); !errors.Is(err, domain.ErrQuestionClosed) {
		t.Fatalf("expected closed for past question, got %v", err)
	}
}

func TestCloseQuestionShutsWindow(t *testing.T) {
	repo := NewRepository()
	seedActive(t, repo, 2)
	ctx := context.Background()
	addPlayer(t, repo, "p1", "ann")
	addPlayer(t, repo, "p2", "bo")

	if _, _, err := repo.RecordAnswer(ctx, domain.Answer{ID: "a1", QuestionID: "q1", PlayerID: "p1"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	closedAt := time.Now().UTC()
	if err := repo.CloseQuestion(ctx, "q1", closedAt); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := repo.CloseQuestion(ctx, "q1", closedAt.Add(time.Minute)); err != nil {
		t.Fatalf("close again: %v", err)
	}
	s, _ := repo.GetSession(ctx, "s1")
	if s.QuestionClosedAt == nil || !s.QuestionClosedAt.Equal(closedAt) {
		t.Fatalf("expected first close time to stick, got %v", s.QuestionClosedAt)
	}
	if _, _, err := repo.RecordAnswer(ctx, domain.Answer{ID: "a2", QuestionID: "q1", PlayerID: "p2"}); !errors.Is(err, domain.ErrQuestionClosed) {
		t.Fatalf("expected closed after close, got %v", err)
	}

	// closing a question that is not live changes nothing
	if err := repo.CloseQuestion(ctx, "q2", time.Now()); err != nil {
		t.Fatalf("close future question: %v", err)
	}
	if _, err := repo.AdvanceCursor(ctx, "s1", 0, time.Now()); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, _, err := repo.RecordAnswer(ctx, domain.Answer{ID: "a3", QuestionID: "q2", PlayerID: "p2"}); err != nil {
		t.Fatalf("next question should be open: %v", err)
	}
	if err := repo.CloseQuestion(ctx, "nope", time.Now()); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
}

func TestResetSessionPurges(t *testing.T) {
	repo := NewRepository()
	seedActive(t, repo, 1)
	ctx := context.Background()
	addPlayer(t, repo, "p1", "ann")
	if _, _, err := repo.RecordAnswer(ctx, domain.Answer{ID: "a1", QuestionID: "q1", PlayerID: "p1", PointsEarned: 10}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := repo.AdvanceCursor(ctx, "s1", 0, time.Now()); err != nil {
		t.Fatalf("advance: %v", err)
	}

	s, err := repo.ResetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if s.Status != domain.StatusPublished || s.CurrentQuestionIndex != 0 || s.JoinCode != "ABC234" {
		t.Fatalf("unexpected session after reset: %+v", s)
	}
	players, _ := repo.ListPlayers(ctx, "s1")
	answers, _ := repo.ListAnswers(ctx, "q1")
	if len(players) != 0 || len(answers) != 0 {
		t.Fatalf("expected purge, got %d players %d answers", len(players), len(answers))
	}
}

func TestUsernameScopedToSession(t *testing.T) {
	repo := NewRepository()
	seedActive(t, repo, 1)
	ctx := context.Background()
	addPlayer(t, repo, "p1", "ann")

	open := []domain.SessionStatus{domain.StatusActive}
	if _, err := repo.AddPlayer(ctx, domain.Player{ID: "p2", SessionID: "s1", Username: "ann"}, open); !errors.Is(err, domain.ErrUsernameTaken) {
		t.Fatalf("expected username conflict, got %v", err)
	}
	if _, err := repo.AddPlayer(ctx, domain.Player{ID: "p3", SessionID: "s1", Username: "Ann"}, open); err != nil {
		t.Fatalf("usernames are case sensitive: %v", err)
	}
}
