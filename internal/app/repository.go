package app

import (
	"context"
	"time"

	"live-quiz-service/internal/domain"
)

// Repository is the durable store behind the engine and its only serialization point.
// Every method is atomic; methods that take expected states or cursors are compare-and-swap.
type Repository interface {
	// CreateSession stores a session with its questions. A join code collision yields domain.ErrJoinCodeTaken.
	CreateSession(ctx context.Context, session domain.Session) (domain.Session, error)
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	GetSessionByCode(ctx context.Context, code string) (domain.Session, error)
	ListSessions(ctx context.Context) ([]domain.Session, error)
	UpdateSessionDetails(ctx context.Context, sessionID, title, description string, allowed []domain.SessionStatus) (domain.Session, error)
	// ReplaceQuestions swaps the question list while the session is in one of the allowed states.
	ReplaceQuestions(ctx context.Context, sessionID string, questions []domain.Question, allowed []domain.SessionStatus) (domain.Session, error)
	DeleteSession(ctx context.Context, sessionID string, allowed []domain.SessionStatus) error

	// TransitionStatus moves a session from one of the allowed states to `to`.
	TransitionStatus(ctx context.Context, sessionID string, t Transition) (domain.Session, error)
	// AdvanceCursor increments the cursor only if the session is active and the cursor equals expected.
	// When the new cursor reaches the question count the session becomes completed in the same write.
	AdvanceCursor(ctx context.Context, sessionID string, expected int, at time.Time) (domain.Session, error)
	// ResetSession turns a completed session back to published, removing its players and answers.
	ResetSession(ctx context.Context, sessionID string) (domain.Session, error)
	// CloseQuestion shuts the answer window of the question if it is the session's live one.
	// Closing twice, or closing a question that is no longer live, is a no-op.
	CloseQuestion(ctx context.Context, questionID string, at time.Time) error
	// DeleteAnswers removes every answer to the session's questions.
	DeleteAnswers(ctx context.Context, sessionID string) error

	// AddPlayer inserts a player if the session is in one of the allowed states and the username is free.
	AddPlayer(ctx context.Context, player domain.Player, allowed []domain.SessionStatus) (domain.Player, error)
	GetPlayer(ctx context.Context, playerID string) (domain.Player, error)
	// ListPlayers returns active players in join order.
	ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error)

	GetQuestion(ctx context.Context, questionID string) (domain.Question, error)
	// RecordAnswer inserts the answer if the question is the session's live, unclosed question and the
	// (question, player) pair is new, then adds its points to the player's score. Returns the new score.
	RecordAnswer(ctx context.Context, answer domain.Answer) (domain.Answer, int, error)
	// ListAnswers returns a question's answers in submission order.
	ListAnswers(ctx context.Context, questionID string) ([]domain.Answer, error)
	GetAnswer(ctx context.Context, questionID, playerID string) (domain.Answer, error)
}

// Transition is a compare-and-swap on session status.
type Transition struct {
	Op          string
	From        []domain.SessionStatus
	To          domain.SessionStatus
	ResetCursor bool
	// RequireQuestions fails the transition with domain.ErrNoQuestions when the session is empty.
	RequireQuestions bool
	// StartedAt, when set, stamps question_started_at.
	StartedAt *time.Time
}

// EventBus fans session events out to subscribers.
type EventBus interface {
	// Publish assigns the envelope's sequence number and delivers it.
	Publish(ctx context.Context, env domain.Envelope) error
	// Subscribe returns a stream of envelopes for a session. The cancel func releases it.
	Subscribe(ctx context.Context, sessionID string) (<-chan domain.Envelope, func(), error)
}

// CodeIndex resolves join codes to session ids, possibly from a cache.
type CodeIndex interface {
	Resolve(ctx context.Context, code string) (string, error)
	Forget(ctx context.Context, code string)
}
