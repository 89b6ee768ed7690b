package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEnvelopeRoundTripKeepsConcreteType(t *testing.T) {
	ts := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	in := Envelope{
		SessionID: "s1",
		Seq:       7,
		Timestamp: ts,
		Event:     QuestionChanged{Question: PlayerQuestion{ID: "q2", Options: []string{"a", "b", "c", "d"}}, Index: 1},
	}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"type":"question_changed"`) {
		t.Fatalf("expected type tag in %s", raw)
	}

	var out Envelope
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	ev, ok := out.Event.(QuestionChanged)
	if !ok {
		t.Fatalf("expected QuestionChanged, got %T", out.Event)
	}
	if ev.Index != 1 || ev.Question.ID != "q2" || out.Seq != 7 || !out.Timestamp.Equal(ts) {
		t.Fatalf("unexpected envelope %+v", out)
	}
}

func TestRedactedQuestionOmitsCorrectAnswer(t *testing.T) {
	q := Question{ID: "q1", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: 3}
	raw, err := json.Marshal(QuizStarted{Question: q.Redacted()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "correct_answer") {
		t.Fatalf("redacted payload leaks correct answer: %s", raw)
	}
}

func TestUnknownEventTypeRejected(t *testing.T) {
	var env Envelope
	err := json.Unmarshal([]byte(`{"session_id":"s","seq":1,"type":"player_left","data":{}}`), &env)
	if err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{NewValidationError("title", "is required"), CodeValidation},
		{&InvalidStateError{Op: "start", Current: StatusDraft, Allowed: []SessionStatus{StatusPublished}}, CodeInvalidState},
		{ErrDuplicateAnswer, CodeConflict},
		{ErrQuestionClosed, CodeInvalidState},
		{ErrSessionNotFound, CodeNotFound},
		{errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		if got := Code(tt.err); got != tt.code {
			t.Fatalf("Code(%v) = %s, want %s", tt.err, got, tt.code)
		}
	}

	wrapped := errors.Join(errors.New("ctx"), ErrUsernameTaken)
	if !errors.Is(wrapped, ErrConflict) || !errors.Is(wrapped, ErrUsernameTaken) {
		t.Fatalf("expected wrapped username error to match both sentinel and category")
	}
}
