package app

import (
	"time"

	"chainquiz-service/internal/domain"
)

// Room event kinds. Membership updates are always full snapshots, never
// deltas, so a client that misses one update self-heals on the next.
const (
	EventCreated  = "quiz:created"
	EventPlayers  = "quiz:players"
	EventStarted  = "quiz:started"
	EventQuestion = "quiz:question"
	EventEnded    = "quiz:ended"
)

// RoomEvent is one outbound message for every participant of a PIN room.
type RoomEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// StartedPayload announces the Running(0) transition. Deadline is the
// authoritative close time for the first question; client countdowns are
// display only.
type StartedPayload struct {
	RedirectURL   string    `json:"redirectUrl"`
	QuestionIndex int       `json:"questionIndex"`
	Deadline      time.Time `json:"deadline"`
	DurationMs    int64     `json:"durationMs"`
}

// QuestionPayload announces an authoritative advance to the next question.
type QuestionPayload struct {
	QuestionIndex int       `json:"questionIndex"`
	Deadline      time.Time `json:"deadline"`
	DurationMs    int64     `json:"durationMs"`
}

// EndedPayload announces the Finished transition together with the resolved
// winner so clients need no follow-up fetch.
type EndedPayload struct {
	RedirectURL string              `json:"redirectUrl"`
	Winner      domain.WinnerRecord `json:"winner"`
}
