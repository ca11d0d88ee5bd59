package domain

import (
	"fmt"
	"strings"
	"time"
)

// MaxOptions caps the number of answer options per question.
const MaxOptions = 50

// NoAnswer is the sentinel option index recorded when a player's deadline
// passes without a submission.
const NoAnswer = -1

// Question models an MCQ question with a single correct option index.
type Question struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	Correct int      `json:"correct"`
}

// Validate checks the authoring invariants: 2..MaxOptions non-empty options
// after trimming, and a correct index that points at one of them.
func (q Question) Validate() error {
	options := q.TrimmedOptions()
	if len(options) < 2 {
		return fmt.Errorf("question %q: need at least 2 non-empty options", q.Prompt)
	}
	if len(options) > MaxOptions {
		return fmt.Errorf("question %q: at most %d options allowed", q.Prompt, MaxOptions)
	}
	if q.Correct < 0 || q.Correct >= len(options) {
		return fmt.Errorf("question %q: correct index %d out of range", q.Prompt, q.Correct)
	}
	return nil
}

// TrimmedOptions returns the options with whitespace stripped and empty
// entries removed. The correct index refers into this subsequence.
func (q Question) TrimmedOptions() []string {
	options := make([]string, 0, len(q.Options))
	for _, opt := range q.Options {
		trimmed := strings.TrimSpace(opt)
		if trimmed != "" {
			options = append(options, trimmed)
		}
	}
	return options
}

// Quiz is an immutable quiz definition: once stored it is never edited in
// place, only superseded by a new quiz at a new address.
type Quiz struct {
	Address   string     `json:"quizAddress"`
	Name      string     `json:"quizName"`
	Creator   string     `json:"creatorAddress"`
	Questions []Question `json:"questions"`
}

// Validate checks the whole definition.
func (q Quiz) Validate() error {
	if q.Creator == "" {
		return fmt.Errorf("quiz %q: missing creator address", q.Name)
	}
	if len(q.Questions) == 0 {
		return fmt.Errorf("quiz %q: no questions", q.Name)
	}
	for _, question := range q.Questions {
		if err := question.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Redacted returns a copy safe to hand to players: correct indexes are
// replaced with the NoAnswer sentinel so clients cannot score locally.
func (q Quiz) Redacted() Quiz {
	redacted := q
	redacted.Questions = make([]Question, len(q.Questions))
	for i, question := range q.Questions {
		question.Correct = NoAnswer
		redacted.Questions[i] = question
	}
	return redacted
}

// SessionState is the lifecycle of one run of a quiz.
type SessionState int

const (
	StateCreated SessionState = iota
	StateQueuing
	StateRunning
	StateFinished
)

func (s SessionState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateQueuing:
		return "queuing"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PlayerAnswer records one player's submission for one question. At most one
// record exists per (session, player, question); a missed deadline yields a
// NoAnswer record with latency equal to the full question duration.
type PlayerAnswer struct {
	Player        string `json:"player"`
	QuestionIndex int    `json:"questionIndex"`
	Option        int    `json:"option"`
	LatencyMs     int64  `json:"latencyMs"`
}

// Answered reports whether the record is a real submission rather than the
// missed-deadline sentinel.
func (a PlayerAnswer) Answered() bool {
	return a.Option != NoAnswer
}

// Tie-break reasons recorded on a WinnerRecord.
const (
	TieBreakScore   = "score"
	TieBreakLatency = "latency"
	TieBreakJoined  = "joined-first"
)

// WinnerRecord is the final, immutable result of a finished session.
type WinnerRecord struct {
	PIN        string    `json:"pin"`
	Winner     string    `json:"winner"`
	Score      int       `json:"score"`
	TieBreak   string    `json:"tieBreak"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

// SessionSnapshot is a read-only view of a session for transports.
type SessionSnapshot struct {
	PIN           string    `json:"pin"`
	QuizAddress   string    `json:"quizAddress"`
	Creator       string    `json:"creatorAddress"`
	State         string    `json:"state"`
	Players       []string  `json:"players"`
	QuestionIndex int       `json:"questionIndex"`
	Deadline      time.Time `json:"deadline"`
}
