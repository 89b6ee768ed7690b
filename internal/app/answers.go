package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"live-quiz-service/internal/domain"
)

// SubmitAnswer grades and records one answer for the session's live question.
// Only the submitting player learns the outcome; the session sees an answer count tick.
func (s *QuizService) SubmitAnswer(ctx context.Context, in SubmitAnswerInput) (domain.AnswerResult, error) {
	if err := in.check(); err != nil {
		return domain.AnswerResult{}, err
	}

	question, err := s.repo.GetQuestion(ctx, in.QuestionID)
	if err != nil {
		return domain.AnswerResult{}, fmt.Errorf("submit answer to %s: %w", in.QuestionID, err)
	}

	now := s.now().UTC()
	elapsed := in.ElapsedSeconds
	if s.elapsed == ElapsedFromServer {
		session, err := s.repo.GetSession(ctx, question.SessionID)
		if err != nil {
			return domain.AnswerResult{}, fmt.Errorf("submit answer to %s: %w", in.QuestionID, err)
		}
		if session.QuestionStartedAt != nil {
			elapsed = now.Sub(*session.QuestionStartedAt).Seconds()
		}
	}

	correct, points := domain.Grade(question, in.SelectedOption, elapsed)
	answer, total, err := s.repo.RecordAnswer(ctx, domain.Answer{
		ID:             uuid.NewString(),
		QuestionID:     question.ID,
		PlayerID:       in.PlayerID,
		SelectedOption: in.SelectedOption,
		ElapsedSeconds: domain.ClampElapsed(elapsed, question.TimeLimit),
		Correct:        correct,
		PointsEarned:   points,
		AnsweredAt:     now,
	})
	if err != nil {
		return domain.AnswerResult{}, fmt.Errorf("record answer of %s to %s: %w", in.PlayerID, in.QuestionID, err)
	}

	s.log.Debug("answer recorded",
		zap.String("session_id", question.SessionID),
		zap.String("question_id", question.ID),
		zap.String("player_id", answer.PlayerID),
		zap.Bool("correct", answer.Correct),
		zap.Int("points", answer.PointsEarned),
	)
	s.broadcast(ctx, question.SessionID, domain.AnswerSubmitted{PlayerID: answer.PlayerID})

	return domain.AnswerResult{
		QuestionID: question.ID,
		Correct:    answer.Correct,
		Points:     answer.PointsEarned,
		TotalScore: total,
	}, nil
}

// GetAnswer returns a player's own answer to a question.
func (s *QuizService) GetAnswer(ctx context.Context, questionID, playerID string) (domain.Answer, error) {
	answer, err := s.repo.GetAnswer(ctx, questionID, playerID)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("get answer of %s to %s: %w", playerID, questionID, err)
	}
	return answer, nil
}
