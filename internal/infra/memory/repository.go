package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// Repository is an in-memory implementation of app.Repository. A single mutex
// makes every method one atomic step, which is what the engine's CAS calls rely on.
type Repository struct {
	mu sync.RWMutex

	seq       int64
	sessions  map[string]*sessionEntry
	codes     map[string]string
	questions map[string]string // question id -> session id
	players   map[string]*domain.Player
	answers   map[string]map[string]*domain.Answer // question id -> player id -> answer
}

type sessionEntry struct {
	session domain.Session
	seq     int64
}

var _ app.Repository = (*Repository)(nil)

func NewRepository() *Repository {
	return &Repository{
		sessions:  make(map[string]*sessionEntry),
		codes:     make(map[string]string),
		questions: make(map[string]string),
		players:   make(map[string]*domain.Player),
		answers:   make(map[string]map[string]*domain.Answer),
	}
}

func (r *Repository) CreateSession(_ context.Context, session domain.Session) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.codes[session.JoinCode]; taken {
		return domain.Session{}, domain.ErrJoinCodeTaken
	}
	r.seq++
	stored := cloneSession(session)
	r.sessions[session.ID] = &sessionEntry{session: stored, seq: r.seq}
	r.codes[session.JoinCode] = session.ID
	for _, q := range stored.Questions {
		r.questions[q.ID] = session.ID
	}
	return cloneSession(stored), nil
}

func (r *Repository) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return cloneSession(entry.session), nil
}

func (r *Repository) GetSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	sessionID, err := r.LoadSessionID(ctx, code)
	if err != nil {
		return domain.Session{}, err
	}
	return r.GetSession(ctx, sessionID)
}

// LoadSessionID resolves a join code. It backs the code index cache.
func (r *Repository) LoadSessionID(_ context.Context, code string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessionID, ok := r.codes[code]
	if !ok {
		return "", domain.ErrSessionNotFound
	}
	return sessionID, nil
}

func (r *Repository) ListSessions(_ context.Context) ([]domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*sessionEntry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })
	sessions := make([]domain.Session, 0, len(entries))
	for _, e := range entries {
		sessions = append(sessions, cloneSession(e.session))
	}
	return sessions, nil
}

func (r *Repository) UpdateSessionDetails(_ context.Context, sessionID, title, description string, allowed []domain.SessionStatus) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.entryIn(sessionID, "update", allowed)
	if err != nil {
		return domain.Session{}, err
	}
	entry.session.Title = title
	entry.session.Description = description
	entry.session.UpdatedAt = time.Now().UTC()
	return cloneSession(entry.session), nil
}

func (r *Repository) ReplaceQuestions(_ context.Context, sessionID string, questions []domain.Question, allowed []domain.SessionStatus) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.entryIn(sessionID, "edit", allowed)
	if err != nil {
		return domain.Session{}, err
	}
	for _, q := range entry.session.Questions {
		delete(r.questions, q.ID)
		delete(r.answers, q.ID)
	}
	entry.session.Questions = cloneQuestions(questions)
	for _, q := range entry.session.Questions {
		r.questions[q.ID] = sessionID
	}
	entry.session.UpdatedAt = time.Now().UTC()
	return cloneSession(entry.session), nil
}

func (r *Repository) DeleteSession(_ context.Context, sessionID string, allowed []domain.SessionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.entryIn(sessionID, "delete", allowed)
	if err != nil {
		return err
	}
	r.deleteAnswersLocked(entry.session)
	r.deletePlayersLocked(sessionID)
	for _, q := range entry.session.Questions {
		delete(r.questions, q.ID)
	}
	delete(r.codes, entry.session.JoinCode)
	delete(r.sessions, sessionID)
	return nil
}

func (r *Repository) TransitionStatus(_ context.Context, sessionID string, t app.Transition) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.entryIn(sessionID, t.Op, t.From)
	if err != nil {
		return domain.Session{}, err
	}
	if t.RequireQuestions && len(entry.session.Questions) == 0 {
		return domain.Session{}, domain.ErrNoQuestions
	}
	entry.session.Status = t.To
	if t.ResetCursor {
		entry.session.CurrentQuestionIndex = 0
		entry.session.QuestionClosedAt = nil
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		entry.session.QuestionStartedAt = &started
	}
	entry.session.UpdatedAt = time.Now().UTC()
	return cloneSession(entry.session), nil
}

func (r *Repository) AdvanceCursor(_ context.Context, sessionID string, expected int, at time.Time) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.entryIn(sessionID, "advance", []domain.SessionStatus{domain.StatusActive})
	if err != nil {
		return domain.Session{}, err
	}
	s := &entry.session
	if s.CurrentQuestionIndex != expected {
		return domain.Session{}, domain.ErrCursorMoved
	}
	s.CurrentQuestionIndex++
	s.QuestionClosedAt = nil
	if s.CurrentQuestionIndex >= len(s.Questions) {
		s.CurrentQuestionIndex = len(s.Questions)
		s.Status = domain.StatusCompleted
	} else {
		started := at
		s.QuestionStartedAt = &started
	}
	s.UpdatedAt = time.Now().UTC()
	return cloneSession(*s), nil
}

func (r *Repository) ResetSession(_ context.Context, sessionID string) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.entryIn(sessionID, "restart", []domain.SessionStatus{domain.StatusCompleted})
	if err != nil {
		return domain.Session{}, err
	}
	r.deleteAnswersLocked(entry.session)
	r.deletePlayersLocked(sessionID)
	entry.session.Status = domain.StatusPublished
	entry.session.CurrentQuestionIndex = 0
	entry.session.QuestionStartedAt = nil
	entry.session.QuestionClosedAt = nil
	entry.session.UpdatedAt = time.Now().UTC()
	return cloneSession(entry.session), nil
}

func (r *Repository) CloseQuestion(_ context.Context, questionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, ok := r.questions[questionID]
	if !ok {
		return domain.ErrQuestionNotFound
	}
	s := &r.sessions[sessionID].session
	live, ok := s.OpenQuestion()
	if !ok || live.ID != questionID {
		return nil
	}
	closed := at
	s.QuestionClosedAt = &closed
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *Repository) DeleteAnswers(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	r.deleteAnswersLocked(entry.session)
	return nil
}

func (r *Repository) AddPlayer(_ context.Context, player domain.Player, allowed []domain.SessionStatus) (domain.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.entryIn(player.SessionID, "join", allowed); err != nil {
		return domain.Player{}, err
	}
	for _, p := range r.players {
		if p.SessionID == player.SessionID && p.Username == player.Username {
			return domain.Player{}, domain.ErrUsernameTaken
		}
	}
	r.seq++
	stored := player
	stored.Seq = r.seq
	r.players[stored.ID] = &stored
	return stored, nil
}

func (r *Repository) GetPlayer(_ context.Context, playerID string) (domain.Player, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[playerID]
	if !ok {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	return *p, nil
}

func (r *Repository) ListPlayers(_ context.Context, sessionID string) ([]domain.Player, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	players := make([]domain.Player, 0)
	for _, p := range r.players {
		if p.SessionID == sessionID && p.Active {
			players = append(players, *p)
		}
	}
	sort.Slice(players, func(i, j int) bool { return players[i].Seq < players[j].Seq })
	return players, nil
}

func (r *Repository) GetQuestion(_ context.Context, questionID string) (domain.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.questionLocked(questionID)
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return cloneQuestion(q), nil
}

func (r *Repository) RecordAnswer(_ context.Context, answer domain.Answer) (domain.Answer, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, ok := r.questions[answer.QuestionID]
	if !ok {
		return domain.Answer{}, 0, domain.ErrQuestionNotFound
	}
	live, ok := r.sessions[sessionID].session.OpenQuestion()
	if !ok || live.ID != answer.QuestionID {
		return domain.Answer{}, 0, domain.ErrQuestionClosed
	}
	player, ok := r.players[answer.PlayerID]
	if !ok || player.SessionID != sessionID {
		return domain.Answer{}, 0, domain.ErrPlayerNotFound
	}
	byPlayer := r.answers[answer.QuestionID]
	if byPlayer == nil {
		byPlayer = make(map[string]*domain.Answer)
		r.answers[answer.QuestionID] = byPlayer
	}
	if _, dup := byPlayer[answer.PlayerID]; dup {
		return domain.Answer{}, 0, domain.ErrDuplicateAnswer
	}

	r.seq++
	stored := answer
	stored.Seq = r.seq
	byPlayer[answer.PlayerID] = &stored
	player.Score += stored.PointsEarned
	return stored, player.Score, nil
}

func (r *Repository) ListAnswers(_ context.Context, questionID string) ([]domain.Answer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.questions[questionID]; !ok {
		return nil, domain.ErrQuestionNotFound
	}
	answers := make([]domain.Answer, 0, len(r.answers[questionID]))
	for _, a := range r.answers[questionID] {
		answers = append(answers, *a)
	}
	sort.Slice(answers, func(i, j int) bool { return answers[i].Seq < answers[j].Seq })
	return answers, nil
}

func (r *Repository) GetAnswer(_ context.Context, questionID, playerID string) (domain.Answer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.answers[questionID][playerID]
	if !ok {
		return domain.Answer{}, domain.ErrAnswerNotFound
	}
	return *a, nil
}

// entryIn returns the session if its status is one of allowed. Callers hold r.mu.
func (r *Repository) entryIn(sessionID, op string, allowed []domain.SessionStatus) (*sessionEntry, error) {
	entry, ok := r.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	for _, s := range allowed {
		if entry.session.Status == s {
			return entry, nil
		}
	}
	return nil, &domain.InvalidStateError{Op: op, Current: entry.session.Status, Allowed: allowed}
}

func (r *Repository) questionLocked(questionID string) (domain.Question, bool) {
	sessionID, ok := r.questions[questionID]
	if !ok {
		return domain.Question{}, false
	}
	for _, q := range r.sessions[sessionID].session.Questions {
		if q.ID == questionID {
			return q, true
		}
	}
	return domain.Question{}, false
}

func (r *Repository) deleteAnswersLocked(session domain.Session) {
	for _, q := range session.Questions {
		delete(r.answers, q.ID)
	}
}

func (r *Repository) deletePlayersLocked(sessionID string) {
	for id, p := range r.players {
		if p.SessionID == sessionID {
			delete(r.players, id)
		}
	}
}

func cloneSession(s domain.Session) domain.Session {
	out := s
	if s.QuestionStartedAt != nil {
		started := *s.QuestionStartedAt
		out.QuestionStartedAt = &started
	}
	if s.QuestionClosedAt != nil {
		closed := *s.QuestionClosedAt
		out.QuestionClosedAt = &closed
	}
	out.Questions = cloneQuestions(s.Questions)
	return out
}

func cloneQuestions(qs []domain.Question) []domain.Question {
	out := make([]domain.Question, len(qs))
	for i, q := range qs {
		out[i] = cloneQuestion(q)
	}
	return out
}

func cloneQuestion(q domain.Question) domain.Question {
	out := q
	out.Options = append([]string(nil), q.Options...)
	return out
}
