package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"live-quiz-service/internal/domain"
)

// ElapsedSource selects where the elapsed time used for scoring comes from.
type ElapsedSource string

const (
	// ElapsedFromClient trusts the elapsed seconds reported by the player.
	ElapsedFromClient ElapsedSource = "client"
	// ElapsedFromServer measures from the question's start timestamp.
	ElapsedFromServer ElapsedSource = "server"
)

// QuizService is the session engine: lifecycle, answer intake, results and fan-out.
type QuizService struct {
	repo    Repository
	bus     EventBus
	codes   CodeIndex
	log     *zap.Logger
	now     func() time.Time
	elapsed ElapsedSource
	codeLen int
	closing singleflight.Group
}

// Option customises a QuizService.
type Option func(*QuizService)

// WithLogger sets the logger used for broadcast failures and lifecycle events.
func WithLogger(log *zap.Logger) Option {
	return func(s *QuizService) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *QuizService) { s.now = now }
}

// WithCodeIndex routes join code lookups through a cache.
func WithCodeIndex(idx CodeIndex) Option {
	return func(s *QuizService) { s.codes = idx }
}

// WithElapsedSource selects client-reported or server-measured elapsed time.
func WithElapsedSource(src ElapsedSource) Option {
	return func(s *QuizService) { s.elapsed = src }
}

// WithJoinCodeLength sets the generated join code length.
func WithJoinCodeLength(n int) Option {
	return func(s *QuizService) {
		if n > 0 {
			s.codeLen = n
		}
	}
}

func NewQuizService(repo Repository, bus EventBus, opts ...Option) *QuizService {
	s := &QuizService{
		repo:    repo,
		bus:     bus,
		log:     zap.NewNop(),
		now:     time.Now,
		elapsed: ElapsedFromClient,
		codeLen: DefaultJoinCodeLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetSession returns the full session including correct answers (host view).
func (s *QuizService) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return session, nil
}

// GetSessionByCode looks a session up by its join code, ignoring case.
func (s *QuizService) GetSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	code = NormalizeJoinCode(code)
	if code == "" {
		return domain.Session{}, domain.NewValidationError("code", "is required")
	}
	if !ValidJoinCode(code) {
		return domain.Session{}, fmt.Errorf("get session by code %s: %w", code, domain.ErrSessionNotFound)
	}
	if s.codes == nil {
		session, err := s.repo.GetSessionByCode(ctx, code)
		if err != nil {
			return domain.Session{}, fmt.Errorf("get session by code %s: %w", code, err)
		}
		return session, nil
	}

	sessionID, err := s.codes.Resolve(ctx, code)
	if err != nil {
		return domain.Session{}, fmt.Errorf("resolve code %s: %w", code, err)
	}
	session, err := s.repo.GetSession(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) || (err == nil && session.JoinCode != code) {
		// stale cache entry
		s.codes.Forget(ctx, code)
		return domain.Session{}, fmt.Errorf("get session by code %s: %w", code, domain.ErrSessionNotFound)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session by code %s: %w", code, err)
	}
	return session, nil
}

// ListSessions returns every session, newest first.
func (s *QuizService) ListSessions(ctx context.Context) ([]domain.Session, error) {
	sessions, err := s.repo.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// ListPlayers returns the active players of a session in join order.
func (s *QuizService) ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	players, err := s.repo.ListPlayers(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list players of %s: %w", sessionID, err)
	}
	return players, nil
}

// Leaderboard ranks a session's players by score.
func (s *QuizService) Leaderboard(ctx context.Context, sessionID string) ([]domain.LeaderboardEntry, error) {
	players, err := s.ListPlayers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return RankPlayers(players), nil
}

// Subscribe streams a session's events. Callers must reconcile with a fetch before relying on it.
func (s *QuizService) Subscribe(ctx context.Context, sessionID string) (<-chan domain.Envelope, func(), error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, nil, err
	}
	ch, cancel, err := s.bus.Subscribe(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", sessionID, err)
	}
	return ch, cancel, nil
}

// RankPlayers sorts by score descending. Ties keep join order.
func RankPlayers(players []domain.Player) []domain.LeaderboardEntry {
	sorted := make([]domain.Player, len(players))
	copy(sorted, players)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Seq < sorted[j].Seq
	})

	entries := make([]domain.LeaderboardEntry, 0, len(sorted))
	for i, p := range sorted {
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID: p.ID,
			Username: p.Username,
			Avatar:   p.Avatar,
			Score:    p.Score,
			Rank:     i + 1,
		})
	}
	return entries
}

func podium(entries []domain.LeaderboardEntry) []domain.LeaderboardEntry {
	if len(entries) > domain.PodiumSize {
		return entries[:domain.PodiumSize]
	}
	return entries
}

// broadcast is fire-and-forget: a failed publish is logged and never undoes the mutation.
func (s *QuizService) broadcast(ctx context.Context, sessionID string, ev domain.Event) {
	env := domain.Envelope{
		SessionID: sessionID,
		Timestamp: s.now().UTC(),
		Event:     ev,
	}
	if err := s.bus.Publish(context.WithoutCancel(ctx), env); err != nil {
		s.log.Warn("broadcast failed",
			zap.String("session_id", sessionID),
			zap.String("event", string(ev.Type())),
			zap.Error(err),
		)
	}
}

// NormalizeJoinCode upper-cases and trims a user-entered code.
func NormalizeJoinCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
