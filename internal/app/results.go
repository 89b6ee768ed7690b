package app

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"live-quiz-service/internal/domain"
)

// Results aggregates a question's answers without side effects.
func (s *QuizService) Results(ctx context.Context, questionID string) (domain.QuestionResult, error) {
	question, err := s.repo.GetQuestion(ctx, questionID)
	if err != nil {
		return domain.QuestionResult{}, fmt.Errorf("results of %s: %w", questionID, err)
	}
	answers, err := s.repo.ListAnswers(ctx, questionID)
	if err != nil {
		return domain.QuestionResult{}, fmt.Errorf("list answers of %s: %w", questionID, err)
	}

	top, err := s.topPerformers(ctx, answers)
	if err != nil {
		return domain.QuestionResult{}, err
	}
	return domain.QuestionResult{
		Question:          question,
		TotalResponses:    len(answers),
		OptionPercentages: OptionPercentages(answers, len(question.Options)),
		CorrectAnswer:     question.CorrectAnswer,
		TopPerformers:     top,
	}, nil
}

// CloseQuestion stops answer intake for a question, then aggregates the answers and
// announces them together with the updated leaderboard. Concurrent calls for the
// same question share one aggregation.
func (s *QuizService) CloseQuestion(ctx context.Context, questionID string) (domain.QuestionResult, error) {
	v, err, shared := s.closing.Do(questionID, func() (any, error) {
		// the window shuts before the result carrying the correct option is broadcast
		if err := s.repo.CloseQuestion(ctx, questionID, s.now().UTC()); err != nil {
			return domain.QuestionResult{}, fmt.Errorf("close question %s: %w", questionID, err)
		}
		result, err := s.Results(ctx, questionID)
		if err != nil {
			return domain.QuestionResult{}, err
		}
		sessionID := result.Question.SessionID
		s.broadcast(ctx, sessionID, domain.QuestionCompleted{QuestionResult: result})

		players, err := s.repo.ListPlayers(ctx, sessionID)
		if err != nil {
			s.log.Warn("leaderboard after close failed", zap.String("session_id", sessionID), zap.Error(err))
			return result, nil
		}
		s.broadcast(ctx, sessionID, domain.LeaderboardUpdated{Leaderboard: RankPlayers(players)})
		return result, nil
	})
	if err != nil {
		return domain.QuestionResult{}, err
	}
	if shared {
		s.log.Debug("close coalesced", zap.String("question_id", questionID))
	}
	return v.(domain.QuestionResult), nil
}

// OptionPercentages rounds each option's share of the votes independently. No votes means all zeros.
func OptionPercentages(answers []domain.Answer, options int) []int {
	if options <= 0 {
		options = domain.OptionCount
	}
	counts := make([]int, options)
	for _, a := range answers {
		if a.SelectedOption >= 0 && a.SelectedOption < options {
			counts[a.SelectedOption]++
		}
	}
	percentages := make([]int, options)
	if len(answers) == 0 {
		return percentages
	}
	for i, c := range counts {
		percentages[i] = int(math.Round(100 * float64(c) / float64(len(answers))))
	}
	return percentages
}

// topPerformers ranks answers by points, earliest submission first on ties.
func (s *QuizService) topPerformers(ctx context.Context, answers []domain.Answer) ([]domain.LeaderboardEntry, error) {
	sorted := make([]domain.Answer, len(answers))
	copy(sorted, answers)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.PointsEarned != b.PointsEarned {
			return a.PointsEarned > b.PointsEarned
		}
		if !a.AnsweredAt.Equal(b.AnsweredAt) {
			return a.AnsweredAt.Before(b.AnsweredAt)
		}
		return a.Seq < b.Seq
	})
	if len(sorted) > domain.PodiumSize {
		sorted = sorted[:domain.PodiumSize]
	}

	entries := make([]domain.LeaderboardEntry, 0, len(sorted))
	for i, a := range sorted {
		player, err := s.repo.GetPlayer(ctx, a.PlayerID)
		if err != nil {
			return nil, fmt.Errorf("resolve performer %s: %w", a.PlayerID, err)
		}
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID: player.ID,
			Username: player.Username,
			Avatar:   player.Avatar,
			Score:    player.Score,
			Rank:     i + 1,
		})
	}
	return entries, nil
}

// PlayerResults is Results for players: the question is redacted and the
// correct option withheld while the question still accepts answers.
func (s *QuizService) PlayerResults(ctx context.Context, questionID string) (domain.PlayerQuestionResult, error) {
	result, err := s.Results(ctx, questionID)
	if err != nil {
		return domain.PlayerQuestionResult{}, err
	}
	session, err := s.GetSession(ctx, result.Question.SessionID)
	if err != nil {
		return domain.PlayerQuestionResult{}, err
	}

	out := domain.PlayerQuestionResult{
		Question:          result.Question.Redacted(),
		TotalResponses:    result.TotalResponses,
		OptionPercentages: result.OptionPercentages,
		TopPerformers:     result.TopPerformers,
	}
	if open, ok := session.OpenQuestion(); !ok || open.ID != questionID {
		correct := result.CorrectAnswer
		out.CorrectAnswer = &correct
	}
	return out, nil
}
