package app

import (
	"fmt"

	"chainquiz-service/internal/domain"
)

// Submit records a player's answer for the currently open question.
// First submit wins: an accepted answer is never revised. Submissions for any
// index other than the current Running index are rejected as stale, in every
// lifecycle state, so late answers can never leak into the tally.
func (s *Session) Submit(player string, questionIndex, option int, latencyMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.StateRunning || questionIndex != s.questionIndex {
		return fmt.Errorf("submit %s q%d: %w", s.pin, questionIndex, domain.ErrStaleSubmission)
	}
	if _, ok := s.players[player]; !ok {
		return fmt.Errorf("submit %s: player %s not in session: %w", s.pin, player, domain.ErrInvalidTransition)
	}
	if option != domain.NoAnswer {
		if option < 0 || option >= len(s.quiz.Questions[questionIndex].TrimmedOptions()) {
			return fmt.Errorf("submit %s q%d: option %d out of range", s.pin, questionIndex, option)
		}
	}
	if _, ok := s.answers[questionIndex][player]; ok {
		return fmt.Errorf("submit %s q%d player %s: %w", s.pin, questionIndex, player, domain.ErrDuplicateSubmission)
	}

	maxLatency := s.opts.QuestionDuration.Milliseconds()
	if latencyMs < 0 {
		latencyMs = 0
	}
	if latencyMs > maxLatency {
		latencyMs = maxLatency
	}

	s.recordAnswerLocked(domain.PlayerAnswer{
		Player:        player,
		QuestionIndex: questionIndex,
		Option:        option,
		LatencyMs:     latencyMs,
	})
	return nil
}

// Answers returns all recorded answers for a question, keyed by player.
func (s *Session) Answers(questionIndex int) map[string]domain.PlayerAnswer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]domain.PlayerAnswer, len(s.answers[questionIndex]))
	for player, answer := range s.answers[questionIndex] {
		out[player] = answer
	}
	return out
}

func (s *Session) recordAnswerLocked(answer domain.PlayerAnswer) {
	byPlayer, ok := s.answers[answer.QuestionIndex]
	if !ok {
		byPlayer = make(map[string]domain.PlayerAnswer)
		s.answers[answer.QuestionIndex] = byPlayer
	}
	byPlayer[answer.Player] = answer
}

// fillSentinelsLocked closes a question: every player without a record gets
// the NoAnswer sentinel at full-duration latency, keeping the total record
// count at players × questions by the time the session finishes.
func (s *Session) fillSentinelsLocked(questionIndex int) {
	for player := range s.players {
		if _, ok := s.answers[questionIndex][player]; ok {
			continue
		}
		s.recordAnswerLocked(domain.PlayerAnswer{
			Player:        player,
			QuestionIndex: questionIndex,
			Option:        domain.NoAnswer,
			LatencyMs:     s.opts.QuestionDuration.Milliseconds(),
		})
	}
}
