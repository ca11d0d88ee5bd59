package app

import (
	"fmt"
	"sort"

	"chainquiz-service/internal/domain"
)

// Resolve returns the session's winner record, computing it on first call
// after Finished and returning the stored record verbatim afterwards.
func (s *Session) Resolve() (domain.WinnerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.winner != nil {
		return *s.winner, nil
	}
	if s.state != domain.StateFinished {
		return domain.WinnerRecord{}, fmt.Errorf("resolve %s: state %s: %w", s.pin, s.state, domain.ErrNotResolved)
	}
	record := s.resolveWinnerLocked()
	s.winner = &record
	return record, nil
}

type standing struct {
	player         string
	score          int
	correctLatency int64
	joinSeq        int
}

// resolveWinnerLocked determines the winner deterministically: highest score,
// then lowest cumulative latency across correctly answered questions, then
// earliest join.
func (s *Session) resolveWinnerLocked() domain.WinnerRecord {
	standings := make([]standing, 0, len(s.players))
	for player, entry := range s.players {
		row := standing{player: player, joinSeq: entry.joinSeq}
		for i, question := range s.quiz.Questions {
			answer, ok := s.answers[i][player]
			if !ok || !answer.Answered() {
				continue
			}
			if answer.Option == question.Correct {
				row.score++
				row.correctLatency += answer.LatencyMs
			}
		}
		standings = append(standings, row)
	}

	sort.Slice(standings, func(i, j int) bool {
		if standings[i].score != standings[j].score {
			return standings[i].score > standings[j].score
		}
		if standings[i].correctLatency != standings[j].correctLatency {
			return standings[i].correctLatency < standings[j].correctLatency
		}
		return standings[i].joinSeq < standings[j].joinSeq
	})

	record := domain.WinnerRecord{
		PIN:        s.pin,
		TieBreak:   domain.TieBreakScore,
		ResolvedAt: s.clock.Now(),
	}
	if len(standings) == 0 {
		return record
	}

	top := standings[0]
	record.Winner = top.player
	record.Score = top.score
	if len(standings) > 1 && standings[1].score == top.score {
		if standings[1].correctLatency == top.correctLatency {
			record.TieBreak = domain.TieBreakJoined
		} else {
			record.TieBreak = domain.TieBreakLatency
		}
	}
	return record
}
