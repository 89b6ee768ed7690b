package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"live-quiz-service/internal/domain"
)

var joinableStates = []domain.SessionStatus{domain.StatusPublished, domain.StatusActive}

var avatars = []string{
	"🦊", "🐯", "🦁", "🐸", "🐵", "🐼", "🐨", "🐰", "🦝", "🐻",
	"🐷", "🐮", "🐶", "🐱", "🐭", "🐹", "🐺", "🦄", "🐙", "🦀",
	"🐠", "🐡", "🦈", "🐬", "🦭", "🐧", "🦩", "🦜", "🦚", "🦢",
}

// RandomAvatar picks an animal emoji for players that did not choose one.
func RandomAvatar() string {
	return avatars[rand.IntN(len(avatars))]
}

// RegisterPlayer adds a player to a published or running session.
func (s *QuizService) RegisterPlayer(ctx context.Context, sessionID string, in RegisterPlayerInput) (domain.Player, error) {
	in.normalize()
	if err := validateStruct(in); err != nil {
		return domain.Player{}, err
	}
	if in.Avatar == "" {
		in.Avatar = RandomAvatar()
	}

	player, err := s.repo.AddPlayer(ctx, domain.Player{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Username:  in.Username,
		Avatar:    in.Avatar,
		Active:    true,
		JoinedAt:  s.now().UTC(),
	}, joinableStates)
	if err != nil {
		var stateErr *domain.InvalidStateError
		if errors.As(err, &stateErr) && stateErr.Current == domain.StatusCompleted {
			err = domain.ErrSessionClosed
		}
		return domain.Player{}, fmt.Errorf("register player %q in %s: %w", in.Username, sessionID, err)
	}

	s.log.Info("player joined",
		zap.String("session_id", sessionID),
		zap.String("player_id", player.ID),
		zap.String("username", player.Username),
	)
	s.broadcast(ctx, sessionID, domain.PlayerJoined{Player: player})
	return player, nil
}

// GetPlayer returns one player.
func (s *QuizService) GetPlayer(ctx context.Context, playerID string) (domain.Player, error) {
	player, err := s.repo.GetPlayer(ctx, playerID)
	if err != nil {
		return domain.Player{}, fmt.Errorf("get player %s: %w", playerID, err)
	}
	return player, nil
}
