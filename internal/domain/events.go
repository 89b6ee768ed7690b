package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags an event on a session channel.
type EventType string

const (
	EventPlayerJoined       EventType = "player_joined"
	EventQuizStarted        EventType = "quiz_started"
	EventQuestionChanged    EventType = "question_changed"
	EventAnswerSubmitted    EventType = "answer_submitted"
	EventQuestionCompleted  EventType = "question_completed"
	EventLeaderboardUpdated EventType = "leaderboard_updated"
	EventQuizCompleted      EventType = "quiz_completed"
	EventQuizStopped        EventType = "quiz_stopped"
	EventQuizRestarted      EventType = "quiz_restarted"
)

// Event is the closed set of messages broadcast to session subscribers.
// Only types in this package implement it.
type Event interface {
	Type() EventType
	sealed()
}

type PlayerJoined struct {
	Player
}

type QuizStarted struct {
	Question PlayerQuestion `json:"question"`
}

type QuestionChanged struct {
	Question PlayerQuestion `json:"question"`
	Index    int            `json:"index"`
}

type AnswerSubmitted struct {
	PlayerID string `json:"player_id"`
}

type QuestionCompleted struct {
	QuestionResult
}

type LeaderboardUpdated struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

type QuizCompleted struct {
	Top3 []LeaderboardEntry `json:"top_3"`
}

type QuizStopped struct {
	Top3 []LeaderboardEntry `json:"top_3"`
}

type QuizRestarted struct {
	SessionID string `json:"quiz_id"`
}

func (PlayerJoined) Type() EventType       { return EventPlayerJoined }
func (QuizStarted) Type() EventType        { return EventQuizStarted }
func (QuestionChanged) Type() EventType    { return EventQuestionChanged }
func (AnswerSubmitted) Type() EventType    { return EventAnswerSubmitted }
func (QuestionCompleted) Type() EventType  { return EventQuestionCompleted }
func (LeaderboardUpdated) Type() EventType { return EventLeaderboardUpdated }
func (QuizCompleted) Type() EventType      { return EventQuizCompleted }
func (QuizStopped) Type() EventType        { return EventQuizStopped }
func (QuizRestarted) Type() EventType      { return EventQuizRestarted }

func (PlayerJoined) sealed()       {}
func (QuizStarted) sealed()        {}
func (QuestionChanged) sealed()    {}
func (AnswerSubmitted) sealed()    {}
func (QuestionCompleted) sealed()  {}
func (LeaderboardUpdated) sealed() {}
func (QuizCompleted) sealed()      {}
func (QuizStopped) sealed()        {}
func (QuizRestarted) sealed()      {}

// Envelope is an event as delivered on a session channel.
// Seq increases per session so clients can drop duplicates and detect gaps.
type Envelope struct {
	SessionID string
	Seq       int64
	Timestamp time.Time
	Event     Event
}

type envelopeWire struct {
	SessionID string          `json:"session_id"`
	Seq       int64           `json:"seq"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Event == nil {
		return nil, fmt.Errorf("envelope for session %s has no event", e.SessionID)
	}
	data, err := json.Marshal(e.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopeWire{
		SessionID: e.SessionID,
		Seq:       e.Seq,
		Type:      e.Event.Type(),
		Timestamp: e.Timestamp,
		Data:      data,
	})
}

func (e *Envelope) UnmarshalJSON(raw []byte) error {
	var wire envelopeWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return err
	}
	event, err := decodeEvent(wire.Type, wire.Data)
	if err != nil {
		return err
	}
	*e = Envelope{
		SessionID: wire.SessionID,
		Seq:       wire.Seq,
		Timestamp: wire.Timestamp,
		Event:     event,
	}
	return nil
}

func decodeEvent(t EventType, data json.RawMessage) (Event, error) {
	var err error
	switch t {
	case EventPlayerJoined:
		var ev PlayerJoined
		err = json.Unmarshal(data, &ev)
		return ev, err
	case EventQuizStarted:
		var ev QuizStarted
		err = json.Unmarshal(data, &ev)
		return ev, err
	case EventQuestionChanged:
		var ev QuestionChanged
		err = json.Unmarshal(data, &ev)
		return ev, err
	case EventAnswerSubmitted:
		var ev AnswerSubmitted
		err = json.Unmarshal(data, &ev)
		return ev, err
	case EventQuestionCompleted:
		var ev QuestionCompleted
		err = json.Unmarshal(data, &ev)
		return ev, err
	case EventLeaderboardUpdated:
		var ev LeaderboardUpdated
		err = json.Unmarshal(data, &ev)
		return ev, err
	case EventQuizCompleted:
		var ev QuizCompleted
		err = json.Unmarshal(data, &ev)
		return ev, err
	case EventQuizStopped:
		var ev QuizStopped
		err = json.Unmarshal(data, &ev)
		return ev, err
	case EventQuizRestarted:
		var ev QuizRestarted
		err = json.Unmarshal(data, &ev)
		return ev, err
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}
