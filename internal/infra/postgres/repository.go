package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// Repository stores sessions, questions, players and answers in Postgres.
// Guarded writes lock the session row inside a transaction, so checks and
// writes on the same session never interleave.
type Repository struct {
	pool *pgxpool.Pool
}

var _ app.Repository = (*Repository)(nil)

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

const sessionColumns = `id, title, description, join_code, status, current_question_index, question_started_at, question_closed_at, created_at, updated_at`

const questionColumns = `id, session_id, position, question_text, question_type, media_url, options, correct_answer, time_limit, points, created_at`

const playerColumns = `id, seq, session_id, username, avatar, score, is_active, joined_at`

const answerColumns = `id, seq, question_id, player_id, selected_option, time_taken, is_correct, points_earned, answered_at`

func (r *Repository) CreateSession(ctx context.Context, session domain.Session) (domain.Session, error) {
	var created domain.Session
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO sessions (id, title, description, join_code, status, current_question_index, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 0, $6, $6)`,
			session.ID, session.Title, session.Description, session.JoinCode, string(session.Status), session.CreatedAt)
		if err != nil {
			return mapWriteErr(err)
		}
		if err := insertQuestions(ctx, tx, session.ID, session.Questions); err != nil {
			return err
		}
		created, err = getSession(ctx, tx, session.ID)
		return err
	})
	return created, err
}

func (r *Repository) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return getSession(ctx, r.pool, sessionID)
}

func (r *Repository) GetSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	sessionID, err := r.LoadSessionID(ctx, code)
	if err != nil {
		return domain.Session{}, err
	}
	return getSession(ctx, r.pool, sessionID)
}

// LoadSessionID resolves a join code. It backs the code index caches.
func (r *Repository) LoadSessionID(ctx context.Context, code string) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `SELECT id FROM sessions WHERE join_code = $1`, code).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load session id: %w", err)
	}
	return id, nil
}

func (r *Repository) ListSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	index := make(map[string]int)
	ids := make([]string, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		index[s.ID] = len(sessions)
		ids = append(ids, s.ID)
		s.Questions = []domain.Question{}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	rows.Close()
	if len(ids) == 0 {
		return []domain.Session{}, nil
	}

	qrows, err := r.pool.Query(ctx, `SELECT `+questionColumns+` FROM questions WHERE session_id = ANY($1) ORDER BY session_id, position`, ids)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer qrows.Close()
	for qrows.Next() {
		q, err := scanQuestion(qrows)
		if err != nil {
			return nil, err
		}
		i := index[q.SessionID]
		sessions[i].Questions = append(sessions[i].Questions, q)
	}
	if err := qrows.Err(); err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return sessions, nil
}

func (r *Repository) UpdateSessionDetails(ctx context.Context, sessionID, title, description string, allowed []domain.SessionStatus) (domain.Session, error) {
	return r.mutate(ctx, sessionID, "update", allowed, func(tx pgx.Tx, _ lockedSession) error {
		_, err := tx.Exec(ctx, `UPDATE sessions SET title = $2, description = $3, updated_at = now() WHERE id = $1`,
			sessionID, title, description)
		return err
	})
}

func (r *Repository) ReplaceQuestions(ctx context.Context, sessionID string, questions []domain.Question, allowed []domain.SessionStatus) (domain.Session, error) {
	return r.mutate(ctx, sessionID, "edit", allowed, func(tx pgx.Tx, _ lockedSession) error {
		if _, err := tx.Exec(ctx, `DELETE FROM questions WHERE session_id = $1`, sessionID); err != nil {
			return err
		}
		if err := insertQuestions(ctx, tx, sessionID, questions); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE sessions SET updated_at = now() WHERE id = $1`, sessionID)
		return err
	})
}

func (r *Repository) DeleteSession(ctx context.Context, sessionID string, allowed []domain.SessionStatus) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := lockSession(ctx, tx, sessionID, "delete", allowed); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
		return err
	})
}

func (r *Repository) TransitionStatus(ctx context.Context, sessionID string, t app.Transition) (domain.Session, error) {
	return r.mutate(ctx, sessionID, t.Op, t.From, func(tx pgx.Tx, locked lockedSession) error {
		if t.RequireQuestions && locked.questions == 0 {
			return domain.ErrNoQuestions
		}
		_, err := tx.Exec(ctx, `
			UPDATE sessions
			   SET status = $2,
			       current_question_index = CASE WHEN $3 THEN 0 ELSE current_question_index END,
			       question_started_at = COALESCE($4, question_started_at),
			       question_closed_at = CASE WHEN $3 THEN NULL ELSE question_closed_at END,
			       updated_at = now()
			 WHERE id = $1`,
			sessionID, string(t.To), t.ResetCursor, t.StartedAt)
		return err
	})
}

func (r *Repository) AdvanceCursor(ctx context.Context, sessionID string, expected int, at time.Time) (domain.Session, error) {
	active := []domain.SessionStatus{domain.StatusActive}
	return r.mutate(ctx, sessionID, "advance", active, func(tx pgx.Tx, locked lockedSession) error {
		if locked.cursor != expected {
			return domain.ErrCursorMoved
		}
		next := locked.cursor + 1
		if next >= locked.questions {
			_, err := tx.Exec(ctx, `
				UPDATE sessions
				   SET status = 'completed', current_question_index = $2, question_closed_at = NULL, updated_at = now()
				 WHERE id = $1`, sessionID, locked.questions)
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE sessions
			   SET current_question_index = $2, question_started_at = $3, question_closed_at = NULL, updated_at = now()
			 WHERE id = $1`, sessionID, next, at)
		return err
	})
}

func (r *Repository) ResetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	completed := []domain.SessionStatus{domain.StatusCompleted}
	return r.mutate(ctx, sessionID, "restart", completed, func(tx pgx.Tx, _ lockedSession) error {
		if err := deleteAnswers(ctx, tx, sessionID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM players WHERE session_id = $1`, sessionID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE sessions
			   SET status = 'published', current_question_index = 0,
			       question_started_at = NULL, question_closed_at = NULL, updated_at = now()
			 WHERE id = $1`, sessionID)
		return err
	})
}

// CloseQuestion stamps question_closed_at under the session row lock, so it
// serialises with RecordAnswer's shared lock.
func (r *Repository) CloseQuestion(ctx context.Context, questionID string, at time.Time) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		var (
			sessionID string
			position  int
		)
		err := tx.QueryRow(ctx, `SELECT session_id, position FROM questions WHERE id = $1`, questionID).
			Scan(&sessionID, &position)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrQuestionNotFound
		}
		if err != nil {
			return err
		}
		locked, err := lockSession(ctx, tx, sessionID, "close question", domain.AllStatuses)
		if err != nil {
			return err
		}
		if locked.status != domain.StatusActive || locked.cursor != position {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE sessions
			   SET question_closed_at = COALESCE(question_closed_at, $2), updated_at = now()
			 WHERE id = $1`, sessionID, at)
		return err
	})
}

func (r *Repository) DeleteAnswers(ctx context.Context, sessionID string) error {
	if err := deleteAnswers(ctx, r.pool, sessionID); err != nil {
		return fmt.Errorf("delete answers: %w", err)
	}
	return nil
}

func (r *Repository) AddPlayer(ctx context.Context, player domain.Player, allowed []domain.SessionStatus) (domain.Player, error) {
	var stored domain.Player
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := lockSession(ctx, tx, player.SessionID, "join", allowed); err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO players (id, session_id, username, avatar, score, is_active, joined_at)
			VALUES ($1, $2, $3, $4, 0, $5, $6)
			RETURNING `+playerColumns,
			player.ID, player.SessionID, player.Username, player.Avatar, player.Active, player.JoinedAt)
		var err error
		stored, err = scanPlayer(row)
		return mapWriteErr(err)
	})
	return stored, err
}

func (r *Repository) GetPlayer(ctx context.Context, playerID string) (domain.Player, error) {
	p, err := scanPlayer(r.pool.QueryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE id = $1`, playerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	return p, err
}

func (r *Repository) ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+playerColumns+` FROM players
		 WHERE session_id = $1 AND is_active
		 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()
	players := make([]domain.Player, 0)
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (r *Repository) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	q, err := scanQuestion(r.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, questionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return q, err
}

func (r *Repository) RecordAnswer(ctx context.Context, answer domain.Answer) (domain.Answer, int, error) {
	var (
		stored domain.Answer
		total  int
	)
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var (
			sessionID string
			position  int
			status    string
			cursor    int
			closed    bool
		)
		// FOR SHARE holds off a concurrent advance or close until the answer is committed.
		err := tx.QueryRow(ctx, `
			SELECT q.session_id, q.position, s.status, s.current_question_index, s.question_closed_at IS NOT NULL
			  FROM questions q JOIN sessions s ON s.id = q.session_id
			 WHERE q.id = $1
			   FOR SHARE OF s`, answer.QuestionID).Scan(&sessionID, &position, &status, &cursor, &closed)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrQuestionNotFound
		}
		if err != nil {
			return err
		}
		if domain.SessionStatus(status) != domain.StatusActive || position != cursor || closed {
			return domain.ErrQuestionClosed
		}

		var playerSession string
		err = tx.QueryRow(ctx, `SELECT session_id FROM players WHERE id = $1`, answer.PlayerID).Scan(&playerSession)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && playerSession != sessionID) {
			return domain.ErrPlayerNotFound
		}
		if err != nil {
			return err
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO answers (id, question_id, player_id, selected_option, time_taken, is_correct, points_earned, answered_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT ON CONSTRAINT answers_question_player_key DO NOTHING
			RETURNING `+answerColumns,
			answer.ID, answer.QuestionID, answer.PlayerID, answer.SelectedOption,
			answer.ElapsedSeconds, answer.Correct, answer.PointsEarned, answer.AnsweredAt)
		stored, err = scanAnswer(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrDuplicateAnswer
		}
		if err != nil {
			return err
		}

		return tx.QueryRow(ctx, `UPDATE players SET score = score + $2 WHERE id = $1 RETURNING score`,
			answer.PlayerID, stored.PointsEarned).Scan(&total)
	})
	if err != nil {
		return domain.Answer{}, 0, err
	}
	return stored, total, nil
}

func (r *Repository) ListAnswers(ctx context.Context, questionID string) ([]domain.Answer, error) {
	if _, err := r.GetQuestion(ctx, questionID); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+answerColumns+` FROM answers WHERE question_id = $1 ORDER BY seq`, questionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()
	answers := make([]domain.Answer, 0)
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

func (r *Repository) GetAnswer(ctx context.Context, questionID, playerID string) (domain.Answer, error) {
	a, err := scanAnswer(r.pool.QueryRow(ctx, `
		SELECT `+answerColumns+` FROM answers WHERE question_id = $1 AND player_id = $2`, questionID, playerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Answer{}, domain.ErrAnswerNotFound
	}
	return a, err
}

type lockedSession struct {
	status    domain.SessionStatus
	cursor    int
	questions int
}

// lockSession takes the row lock and checks the status against allowed.
func lockSession(ctx context.Context, tx pgx.Tx, sessionID, op string, allowed []domain.SessionStatus) (lockedSession, error) {
	var (
		locked lockedSession
		status string
	)
	err := tx.QueryRow(ctx, `
		SELECT status, current_question_index,
		       (SELECT count(*) FROM questions q WHERE q.session_id = s.id)
		  FROM sessions s WHERE id = $1
		   FOR UPDATE`, sessionID).Scan(&status, &locked.cursor, &locked.questions)
	if errors.Is(err, pgx.ErrNoRows) {
		return lockedSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return lockedSession{}, err
	}
	locked.status = domain.SessionStatus(status)
	for _, s := range allowed {
		if locked.status == s {
			return locked, nil
		}
	}
	return lockedSession{}, &domain.InvalidStateError{Op: op, Current: locked.status, Allowed: allowed}
}

// mutate runs fn under the session lock and returns the session as committed.
func (r *Repository) mutate(ctx context.Context, sessionID, op string, allowed []domain.SessionStatus, fn func(pgx.Tx, lockedSession) error) (domain.Session, error) {
	var updated domain.Session
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		locked, err := lockSession(ctx, tx, sessionID, op, allowed)
		if err != nil {
			return err
		}
		if err := fn(tx, locked); err != nil {
			return err
		}
		updated, err = getSession(ctx, tx, sessionID)
		return err
	})
	return updated, err
}

func (r *Repository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func deleteAnswers(ctx context.Context, db execer, sessionID string) error {
	_, err := db.Exec(ctx, `
		DELETE FROM answers
		 WHERE question_id IN (SELECT id FROM questions WHERE session_id = $1)`, sessionID)
	return err
}

func insertQuestions(ctx context.Context, tx pgx.Tx, sessionID string, questions []domain.Question) error {
	if len(questions) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, q := range questions {
		batch.Queue(`
			INSERT INTO questions (`+questionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			q.ID, sessionID, q.Order, q.Text, string(q.Type), q.MediaURL, q.Options,
			q.CorrectAnswer, q.TimeLimit, q.Points, q.CreatedAt)
	}
	results := tx.SendBatch(ctx, batch)
	for range questions {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("insert question: %w", err)
		}
	}
	return results.Close()
}

func getSession(ctx context.Context, db querier, sessionID string) (domain.Session, error) {
	s, err := scanSession(db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}

	rows, err := db.Query(ctx, `SELECT `+questionColumns+` FROM questions WHERE session_id = $1 ORDER BY position`, sessionID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()
	s.Questions = make([]domain.Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return domain.Session{}, err
		}
		s.Questions = append(s.Questions, q)
	}
	return s, rows.Err()
}

func scanSession(row pgx.Row) (domain.Session, error) {
	var (
		s      domain.Session
		status string
	)
	err := row.Scan(&s.ID, &s.Title, &s.Description, &s.JoinCode, &status,
		&s.CurrentQuestionIndex, &s.QuestionStartedAt, &s.QuestionClosedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return domain.Session{}, err
	}
	s.Status = domain.SessionStatus(status)
	return s, nil
}

func scanQuestion(row pgx.Row) (domain.Question, error) {
	var (
		q     domain.Question
		qtype string
	)
	err := row.Scan(&q.ID, &q.SessionID, &q.Order, &q.Text, &qtype, &q.MediaURL,
		&q.Options, &q.CorrectAnswer, &q.TimeLimit, &q.Points, &q.CreatedAt)
	if err != nil {
		return domain.Question{}, err
	}
	q.Type = domain.QuestionType(qtype)
	return q, nil
}

func scanPlayer(row pgx.Row) (domain.Player, error) {
	var p domain.Player
	err := row.Scan(&p.ID, &p.Seq, &p.SessionID, &p.Username, &p.Avatar, &p.Score, &p.Active, &p.JoinedAt)
	return p, err
}

func scanAnswer(row pgx.Row) (domain.Answer, error) {
	var a domain.Answer
	err := row.Scan(&a.ID, &a.Seq, &a.QuestionID, &a.PlayerID, &a.SelectedOption,
		&a.ElapsedSeconds, &a.Correct, &a.PointsEarned, &a.AnsweredAt)
	return a, err
}

// mapWriteErr turns unique violations into the matching conflict sentinel.
func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch pgErr.ConstraintName {
	case "sessions_join_code_key":
		return domain.ErrJoinCodeTaken
	case "players_session_username_key":
		return domain.ErrUsernameTaken
	case "answers_question_player_key":
		return domain.ErrDuplicateAnswer
	default:
		return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
	}
}
