package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"live-quiz-service/internal/domain"
)

var (
	editableStates  = []domain.SessionStatus{domain.StatusDraft}
	metadataStates  = []domain.SessionStatus{domain.StatusDraft, domain.StatusPublished, domain.StatusCompleted}
	deletableStates = []domain.SessionStatus{domain.StatusDraft, domain.StatusCompleted}
	stoppableStates = []domain.SessionStatus{domain.StatusDraft, domain.StatusPublished, domain.StatusActive}
)

// CreateSession validates the input and stores a new draft session with a unique join code.
func (s *QuizService) CreateSession(ctx context.Context, in CreateSessionInput) (domain.Session, error) {
	in.normalize()
	if err := validateStruct(in); err != nil {
		return domain.Session{}, err
	}

	now := s.now().UTC()
	sessionID := uuid.NewString()
	session := domain.Session{
		ID:          sessionID,
		Title:       in.Title,
		Description: in.Description,
		Status:      domain.StatusDraft,
		Questions:   buildQuestions(sessionID, in.Questions, now),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for attempt := 0; attempt < joinCodeAttempts; attempt++ {
		code, err := GenerateJoinCode(s.codeLen)
		if err != nil {
			return domain.Session{}, fmt.Errorf("generate join code: %w", err)
		}
		session.JoinCode = code

		created, err := s.repo.CreateSession(ctx, session)
		if errors.Is(err, domain.ErrJoinCodeTaken) {
			s.log.Debug("join code collision", zap.String("code", code))
			continue
		}
		if err != nil {
			return domain.Session{}, fmt.Errorf("create session: %w", err)
		}
		s.log.Info("session created",
			zap.String("session_id", created.ID),
			zap.String("code", created.JoinCode),
			zap.Int("questions", len(created.Questions)),
		)
		return created, nil
	}
	return domain.Session{}, fmt.Errorf("create session after %d attempts: %w", joinCodeAttempts, domain.ErrJoinCodeTaken)
}

// UpdateSession changes title and description. Active sessions are left alone.
func (s *QuizService) UpdateSession(ctx context.Context, sessionID string, in UpdateSessionInput) (domain.Session, error) {
	in.normalize()
	if err := validateStruct(in); err != nil {
		return domain.Session{}, err
	}
	updated, err := s.repo.UpdateSessionDetails(ctx, sessionID, in.Title, in.Description, metadataStates)
	if err != nil {
		return domain.Session{}, fmt.Errorf("update session %s: %w", sessionID, err)
	}
	return updated, nil
}

// ReplaceQuestions swaps the question list of a draft session.
func (s *QuizService) ReplaceQuestions(ctx context.Context, sessionID string, inputs []QuestionInput) (domain.Session, error) {
	for i := range inputs {
		inputs[i].normalize()
	}
	payload := struct {
		Questions []QuestionInput `json:"questions" validate:"dive"`
	}{Questions: inputs}
	if err := validateStruct(payload); err != nil {
		return domain.Session{}, err
	}

	questions := buildQuestions(sessionID, inputs, s.now().UTC())
	updated, err := s.repo.ReplaceQuestions(ctx, sessionID, questions, editableStates)
	if err != nil {
		return domain.Session{}, fmt.Errorf("replace questions of %s: %w", sessionID, err)
	}
	return updated, nil
}

// DeleteSession removes a draft or completed session with everything it owns.
func (s *QuizService) DeleteSession(ctx context.Context, sessionID string) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteSession(ctx, sessionID, deletableStates); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	if s.codes != nil {
		s.codes.Forget(ctx, session.JoinCode)
	}
	s.log.Info("session deleted", zap.String("session_id", sessionID))
	return nil
}

// Publish makes a draft joinable.
func (s *QuizService) Publish(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.transition(ctx, sessionID, Transition{
		Op:   "publish",
		From: []domain.SessionStatus{domain.StatusDraft},
		To:   domain.StatusPublished,
	})
}

// Unpublish returns a published, not yet started session to draft.
func (s *QuizService) Unpublish(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.transition(ctx, sessionID, Transition{
		Op:   "unpublish",
		From: []domain.SessionStatus{domain.StatusPublished},
		To:   domain.StatusDraft,
	})
}

// Start activates a published session on its first question and broadcasts it without the answer.
func (s *QuizService) Start(ctx context.Context, sessionID string) (domain.Session, error) {
	now := s.now().UTC()
	updated, err := s.transition(ctx, sessionID, Transition{
		Op:               "start",
		From:             []domain.SessionStatus{domain.StatusPublished},
		To:               domain.StatusActive,
		ResetCursor:      true,
		RequireQuestions: true,
		StartedAt:        &now,
	})
	if err != nil {
		return domain.Session{}, err
	}

	first, ok := updated.CurrentQuestion()
	if !ok {
		return domain.Session{}, fmt.Errorf("start session %s: %w", sessionID, domain.ErrNoQuestions)
	}
	s.broadcast(ctx, sessionID, domain.QuizStarted{Question: first.Redacted()})
	return updated, nil
}

// Advance moves an active session to its next question, completing it after the last one.
func (s *QuizService) Advance(ctx context.Context, sessionID string) (domain.AdvanceResult, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return domain.AdvanceResult{}, err
	}
	if session.Status != domain.StatusActive {
		return domain.AdvanceResult{}, &domain.InvalidStateError{
			Op:      "advance",
			Current: session.Status,
			Allowed: []domain.SessionStatus{domain.StatusActive},
		}
	}
	return s.AdvanceFrom(ctx, sessionID, session.CurrentQuestionIndex)
}

// AdvanceFrom advances only if the cursor still equals expected. A concurrent winner yields domain.ErrCursorMoved.
func (s *QuizService) AdvanceFrom(ctx context.Context, sessionID string, expected int) (domain.AdvanceResult, error) {
	updated, err := s.repo.AdvanceCursor(ctx, sessionID, expected, s.now().UTC())
	if err != nil {
		return domain.AdvanceResult{}, fmt.Errorf("advance session %s from %d: %w", sessionID, expected, err)
	}

	if updated.Status == domain.StatusCompleted {
		top := s.finish(ctx, updated, func(top []domain.LeaderboardEntry) domain.Event {
			return domain.QuizCompleted{Top3: top}
		})
		return domain.AdvanceResult{
			Session:     updated,
			Completed:   true,
			Index:       updated.CurrentQuestionIndex,
			Leaderboard: top,
		}, nil
	}

	next, ok := updated.CurrentQuestion()
	if !ok {
		return domain.AdvanceResult{}, fmt.Errorf("advance session %s: cursor %d out of range", sessionID, updated.CurrentQuestionIndex)
	}
	redacted := next.Redacted()
	s.broadcast(ctx, sessionID, domain.QuestionChanged{Question: redacted, Index: updated.CurrentQuestionIndex})
	return domain.AdvanceResult{
		Session:  updated,
		Index:    updated.CurrentQuestionIndex,
		Question: &redacted,
	}, nil
}

// Stop ends a session early at the host's request.
func (s *QuizService) Stop(ctx context.Context, sessionID string) (domain.Session, []domain.LeaderboardEntry, error) {
	updated, err := s.transition(ctx, sessionID, Transition{
		Op:   "stop",
		From: stoppableStates,
		To:   domain.StatusCompleted,
	})
	if err != nil {
		return domain.Session{}, nil, err
	}
	top := s.finish(ctx, updated, func(top []domain.LeaderboardEntry) domain.Event {
		return domain.QuizStopped{Top3: top}
	})
	return updated, top, nil
}

// Restart purges players and answers of a completed session and publishes it again.
func (s *QuizService) Restart(ctx context.Context, sessionID string) (domain.Session, error) {
	updated, err := s.repo.ResetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("restart session %s: %w", sessionID, err)
	}
	s.log.Info("session restarted", zap.String("session_id", sessionID))
	s.broadcast(ctx, sessionID, domain.QuizRestarted{SessionID: sessionID})
	return updated, nil
}

func (s *QuizService) transition(ctx context.Context, sessionID string, t Transition) (domain.Session, error) {
	updated, err := s.repo.TransitionStatus(ctx, sessionID, t)
	if err != nil {
		return domain.Session{}, fmt.Errorf("%s session %s: %w", t.Op, sessionID, err)
	}
	s.log.Info("session transition",
		zap.String("session_id", sessionID),
		zap.String("op", t.Op),
		zap.String("status", string(updated.Status)),
	)
	return updated, nil
}

// finish snapshots the podium, announces the terminal event and drops the session's answers.
// The session is already completed, so a failed leaderboard read only shrinks the podium.
func (s *QuizService) finish(ctx context.Context, session domain.Session, event func([]domain.LeaderboardEntry) domain.Event) []domain.LeaderboardEntry {
	top := []domain.LeaderboardEntry{}
	players, err := s.repo.ListPlayers(ctx, session.ID)
	if err != nil {
		s.log.Error("final leaderboard unavailable", zap.String("session_id", session.ID), zap.Error(err))
	} else {
		top = podium(RankPlayers(players))
	}
	s.broadcast(ctx, session.ID, event(top))

	if err := s.repo.DeleteAnswers(ctx, session.ID); err != nil {
		// restart purges again, so a failed cleanup is not fatal here
		s.log.Warn("answer cleanup failed", zap.String("session_id", session.ID), zap.Error(err))
	}
	return top
}

func buildQuestions(sessionID string, inputs []QuestionInput, now time.Time) []domain.Question {
	questions := make([]domain.Question, 0, len(inputs))
	for i, in := range inputs {
		options := make([]string, len(in.Options))
		copy(options, in.Options)
		questions = append(questions, domain.Question{
			ID:            uuid.NewString(),
			SessionID:     sessionID,
			Order:         i,
			Text:          in.Text,
			Type:          in.Type,
			MediaURL:      in.MediaURL,
			Options:       options,
			CorrectAnswer: in.CorrectAnswer,
			TimeLimit:     in.TimeLimit,
			Points:        in.Points,
			CreatedAt:     now,
		})
	}
	return questions
}
