package app

import (
	"fmt"

	"chainquiz-service/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Start moves the session into Running(0). Only the creator may trigger it,
// and only from Created or Queuing with the creator connected. The question-0
// deadline is computed here, once, by the server; clients merely render it.
func (s *Session) Start(actor string) (domain.SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if actor != s.creator {
		return domain.SessionSnapshot{}, fmt.Errorf("start %s: only the creator may start: %w", s.pin, domain.ErrInvalidTransition)
	}
	if s.state != domain.StateCreated && s.state != domain.StateQueuing {
		return domain.SessionSnapshot{}, fmt.Errorf("start %s: state %s: %w", s.pin, s.state, domain.ErrInvalidTransition)
	}
	if !s.creatorOnline {
		return domain.SessionSnapshot{}, fmt.Errorf("start %s: creator not connected: %w", s.pin, domain.ErrTransportUnavailable)
	}

	now := s.clock.Now()
	s.state = domain.StateRunning
	s.questionIndex = 0
	s.startedAt = now
	s.deadline = now.Add(s.opts.QuestionDuration)

	s.broadcastLocked(RoomEvent{Type: EventStarted, Payload: StartedPayload{
		RedirectURL:   "/live-quiz/" + s.pin,
		QuestionIndex: 0,
		Deadline:      s.deadline,
		DurationMs:    s.opts.QuestionDuration.Milliseconds(),
	}})
	s.scheduleQuestionTimerLocked()

	return s.snapshotLocked(), nil
}

// ForceEnd finishes the session early. Creator only, any time during Running.
func (s *Session) ForceEnd(actor string) (domain.WinnerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if actor != s.creator {
		return domain.WinnerRecord{}, fmt.Errorf("end %s: only the creator may end: %w", s.pin, domain.ErrInvalidTransition)
	}
	if s.state != domain.StateRunning {
		return domain.WinnerRecord{}, fmt.Errorf("end %s: state %s: %w", s.pin, s.state, domain.ErrInvalidTransition)
	}
	s.finishLocked()
	return *s.winner, nil
}

// advance is the authoritative timeout transition. A stale generation means
// the timer was superseded by a force-end or teardown and must not fire.
func (s *Session) advance(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.timerGen || s.state != domain.StateRunning {
		return
	}
	s.fillSentinelsLocked(s.questionIndex)

	if s.questionIndex+1 < len(s.quiz.Questions) {
		s.questionIndex++
		s.deadline = s.clock.Now().Add(s.opts.QuestionDuration)
		s.broadcastLocked(RoomEvent{Type: EventQuestion, Payload: QuestionPayload{
			QuestionIndex: s.questionIndex,
			Deadline:      s.deadline,
			DurationMs:    s.opts.QuestionDuration.Milliseconds(),
		}})
		s.scheduleQuestionTimerLocked()
		return
	}
	s.finishLocked()
}

// finishLocked transitions to Finished, tops up sentinel answers so every
// player has exactly one record per question, resolves the winner once, and
// notifies the room.
func (s *Session) finishLocked() {
	s.timerGen++
	s.stopQuestionTimerLocked()
	s.state = domain.StateFinished
	for i := range s.quiz.Questions {
		s.fillSentinelsLocked(i)
	}
	if s.winner == nil {
		record := s.resolveWinnerLocked()
		s.winner = &record
	}
	s.broadcastLocked(RoomEvent{Type: EventEnded, Payload: EndedPayload{
		RedirectURL: "/leaderboard/" + s.pin,
		Winner:      *s.winner,
	}})
	if s.onFinished != nil {
		callback := s.onFinished
		record := *s.winner
		go callback(record)
	}
}

func (s *Session) scheduleQuestionTimerLocked() {
	s.stopQuestionTimerLocked()
	s.timerGen++
	gen := s.timerGen

	timer := s.clock.NewTimer(s.deadline.Sub(s.clock.Now()))
	cancel := make(chan struct{})
	s.questionTimer = timer
	s.questionCancel = cancel
	go func() {
		select {
		case <-timer.Chan():
			s.advance(gen)
		case <-cancel:
		}
	}()
}

func (s *Session) stopQuestionTimerLocked() {
	if s.questionTimer != nil {
		stopAndDrainTimer(s.questionTimer)
		s.questionTimer = nil
	}
	if s.questionCancel != nil {
		close(s.questionCancel)
		s.questionCancel = nil
	}
}

// stopAndDrainTimer stops a timer and drains its channel so the waiting
// goroutine unblocks on a stale generation instead of leaking.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

func (s *Session) snapshotLocked() domain.SessionSnapshot {
	return domain.SessionSnapshot{
		PIN:           s.pin,
		QuizAddress:   s.quiz.Address,
		Creator:       s.creator,
		State:         s.state.String(),
		Players:       s.membersLocked(),
		QuestionIndex: s.questionIndex,
		Deadline:      s.deadline,
	}
}
