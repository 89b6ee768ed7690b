package domain

import "time"

// SessionStatus is the lifecycle state of a quiz session.
type SessionStatus string

const (
	StatusDraft     SessionStatus = "draft"
	StatusPublished SessionStatus = "published"
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// AllStatuses lists every lifecycle state.
var AllStatuses = []SessionStatus{StatusDraft, StatusPublished, StatusActive, StatusCompleted}

// Valid reports whether s is one of the known lifecycle states.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusActive, StatusCompleted:
		return true
	}
	return false
}

// QuestionType tags the media attached to a question.
type QuestionType string

const (
	QuestionText  QuestionType = "text"
	QuestionImage QuestionType = "image"
	QuestionVideo QuestionType = "video"
	QuestionAudio QuestionType = "audio"
)

const (
	// OptionCount is the fixed number of answer options per question.
	OptionCount = 4
	// MaxTimeLimit bounds a question's time limit in seconds.
	MaxTimeLimit = 300
	// DefaultTimeLimit applies when a question is created without one.
	DefaultTimeLimit = 60
	// DefaultPoints is the nominal point value stored on new questions.
	DefaultPoints = 1000
	// PodiumSize is how many entries terminal events and results carry.
	PodiumSize = 3
)

// Session is one quiz being played.
type Session struct {
	ID                   string        `json:"id"`
	Title                string        `json:"title"`
	Description          string        `json:"description"`
	JoinCode             string        `json:"code"`
	Status               SessionStatus `json:"status"`
	CurrentQuestionIndex int           `json:"current_question_index"`
	QuestionStartedAt    *time.Time    `json:"question_started_at,omitempty"`
	QuestionClosedAt     *time.Time    `json:"question_closed_at,omitempty"`
	Questions            []Question    `json:"questions"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// CurrentQuestion returns the question under the cursor while the session is active.
func (s Session) CurrentQuestion() (Question, bool) {
	if s.Status != StatusActive || s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.Questions) {
		return Question{}, false
	}
	return s.Questions[s.CurrentQuestionIndex], true
}

// OpenQuestion is CurrentQuestion while its answer window has not been closed.
func (s Session) OpenQuestion() (Question, bool) {
	if s.QuestionClosedAt != nil {
		return Question{}, false
	}
	return s.CurrentQuestion()
}

// Redacted returns the player-facing projection of the session.
func (s Session) Redacted() PublicSession {
	questions := make([]PlayerQuestion, 0, len(s.Questions))
	for _, q := range s.Questions {
		questions = append(questions, q.Redacted())
	}
	return PublicSession{
		ID:                   s.ID,
		Title:                s.Title,
		Description:          s.Description,
		JoinCode:             s.JoinCode,
		Status:               s.Status,
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		QuestionStartedAt:    s.QuestionStartedAt,
		QuestionClosedAt:     s.QuestionClosedAt,
		QuestionCount:        len(s.Questions),
		Questions:            questions,
	}
}

// PublicSession is the session as players see it.
type PublicSession struct {
	ID                   string           `json:"id"`
	Title                string           `json:"title"`
	Description          string           `json:"description"`
	JoinCode             string           `json:"code"`
	Status               SessionStatus    `json:"status"`
	CurrentQuestionIndex int              `json:"current_question_index"`
	QuestionStartedAt    *time.Time       `json:"question_started_at,omitempty"`
	QuestionClosedAt     *time.Time       `json:"question_closed_at,omitempty"`
	QuestionCount        int              `json:"question_count"`
	Questions            []PlayerQuestion `json:"questions"`
}

// Question models a four-option multiple choice question.
type Question struct {
	ID            string       `json:"id"`
	SessionID     string       `json:"quiz_id"`
	Order         int          `json:"order"`
	Text          string       `json:"question_text"`
	Type          QuestionType `json:"question_type"`
	MediaURL      string       `json:"media_url,omitempty"`
	Options       []string     `json:"options"`
	CorrectAnswer int          `json:"correct_answer"`
	TimeLimit     int          `json:"time_limit"`
	Points        int          `json:"points"` // nominal only, scoring ignores it
	CreatedAt     time.Time    `json:"created_at"`
}

// Redacted strips the correct option so the question can be sent to players.
func (q Question) Redacted() PlayerQuestion {
	options := make([]string, len(q.Options))
	copy(options, q.Options)
	return PlayerQuestion{
		ID:        q.ID,
		SessionID: q.SessionID,
		Order:     q.Order,
		Text:      q.Text,
		Type:      q.Type,
		MediaURL:  q.MediaURL,
		Options:   options,
		TimeLimit: q.TimeLimit,
		Points:    q.Points,
	}
}

// PlayerQuestion is a Question without its correct answer.
type PlayerQuestion struct {
	ID        string       `json:"id"`
	SessionID string       `json:"quiz_id"`
	Order     int          `json:"order"`
	Text      string       `json:"question_text"`
	Type      QuestionType `json:"question_type"`
	MediaURL  string       `json:"media_url,omitempty"`
	Options   []string     `json:"options"`
	TimeLimit int          `json:"time_limit"`
	Points    int          `json:"points"`
}

// Player is a participant registered in one session.
type Player struct {
	ID        string    `json:"id"`
	SessionID string    `json:"quiz_id"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar"`
	Score     int       `json:"score"`
	Active    bool      `json:"is_active"`
	JoinedAt  time.Time `json:"joined_at"`
	// Seq is the insertion order, used for stable tie-breaking.
	Seq int64 `json:"-"`
}

// Answer is one player's submission for one question.
type Answer struct {
	ID             string    `json:"id"`
	QuestionID     string    `json:"question_id"`
	PlayerID       string    `json:"player_id"`
	SelectedOption int       `json:"selected_option"`
	ElapsedSeconds float64   `json:"time_taken"`
	Correct        bool      `json:"is_correct"`
	PointsEarned   int       `json:"points_earned"`
	AnsweredAt     time.Time `json:"answered_at"`
	Seq            int64     `json:"-"`
}

// AnswerResult is returned to the submitting player only.
type AnswerResult struct {
	QuestionID string `json:"question_id"`
	Correct    bool   `json:"is_correct"`
	Points     int    `json:"points"`
	TotalScore int    `json:"total_score"`
}

// LeaderboardEntry is a ranked view of a player.
type LeaderboardEntry struct {
	PlayerID string `json:"player_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}

// QuestionResult aggregates the answers of a closed question.
type QuestionResult struct {
	Question          Question           `json:"question"`
	TotalResponses    int                `json:"total_responses"`
	OptionPercentages []int              `json:"option_percentages"`
	CorrectAnswer     int                `json:"correct_answer"`
	TopPerformers     []LeaderboardEntry `json:"top_performers"`
}

// PlayerQuestionResult is a QuestionResult safe to show to players. The correct
// option is omitted while the question still accepts answers.
type PlayerQuestionResult struct {
	Question          PlayerQuestion     `json:"question"`
	TotalResponses    int                `json:"total_responses"`
	OptionPercentages []int              `json:"option_percentages"`
	CorrectAnswer     *int               `json:"correct_answer,omitempty"`
	TopPerformers     []LeaderboardEntry `json:"top_performers"`
}

// AdvanceResult describes where an advance left the session.
type AdvanceResult struct {
	Session     Session            `json:"session"`
	Completed   bool               `json:"completed"`
	Index       int                `json:"index"`
	Question    *PlayerQuestion    `json:"question,omitempty"`
	Leaderboard []LeaderboardEntry `json:"top_3,omitempty"`
}
