package app

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"chainquiz-service/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Options tunes per-session behavior. Zero values fall back to defaults.
type Options struct {
	// QuestionDuration is the authoritative countdown per question.
	QuestionDuration time.Duration
	// GracePeriod is how long a dropped connection keeps its membership
	// entry before a real leave is fired.
	GracePeriod time.Duration
	// Retention is how long a finished session stays queryable before
	// eviction.
	Retention time.Duration
	// AllowLateJoin permits joins while Running. Default is reject.
	AllowLateJoin bool
	// Clock drives all timing decisions; tests inject a fake.
	Clock clockwork.Clock
}

func (o Options) withDefaults() Options {
	if o.QuestionDuration <= 0 {
		o.QuestionDuration = 20 * time.Second
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = 10 * time.Second
	}
	if o.Retention <= 0 {
		o.Retention = 5 * time.Minute
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

type playerEntry struct {
	joinedAt  time.Time
	joinSeq   int
	connected bool
	// leaveGen invalidates a pending grace timer after a reconnect.
	leaveGen int
}

// Session is the authoritative record of one live run of a quiz, keyed by
// PIN. All mutations go through its mutex so concurrent join, start, and
// submit events for the same PIN serialize; different PINs share nothing.
type Session struct {
	pin     string
	quiz    domain.Quiz
	creator string
	opts    Options
	clock   clockwork.Clock

	mu             sync.Mutex
	state          domain.SessionState
	players        map[string]*playerEntry
	nextJoinSeq    int
	creatorOnline  bool
	questionIndex  int
	startedAt      time.Time
	deadline       time.Time
	questionTimer  clockwork.Timer
	questionCancel chan struct{}
	timerGen       int
	answers        map[int]map[string]domain.PlayerAnswer
	winner         *domain.WinnerRecord
	closed         bool
	subscribers    map[chan RoomEvent]struct{}
	onFinished     func(domain.WinnerRecord)
}

// NewSession is exported for infrastructure layers and tests that need to
// seed sessions directly.
func NewSession(pin string, quiz domain.Quiz, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		pin:         pin,
		quiz:        quiz,
		creator:     quiz.Creator,
		opts:        opts,
		clock:       opts.Clock,
		state:       domain.StateCreated,
		players:     make(map[string]*playerEntry),
		answers:     make(map[int]map[string]domain.PlayerAnswer),
		subscribers: make(map[chan RoomEvent]struct{}),
	}
}

func (s *Session) setPIN(pin string) { s.pin = pin }

// PIN returns the session's 6-digit key.
func (s *Session) PIN() string { return s.pin }

// QuizAddress returns the address of the referenced quiz definition.
func (s *Session) QuizAddress() string { return s.quiz.Address }

// Creator returns the distinguished creator identity.
func (s *Session) Creator() string { return s.creator }

// Quiz returns the referenced quiz definition.
func (s *Session) Quiz() domain.Quiz { return s.quiz }

// Join adds a player identity to the session. It is idempotent: re-adding a
// present identity (including a reconnect inside the grace period) keeps the
// membership set unchanged and still succeeds. The creator attaching counts
// as presence, not membership.
func (s *Session) Join(addr string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if addr == s.creator {
		s.creatorOnline = true
		return s.broadcastPlayersLocked(), nil
	}

	if entry, ok := s.players[addr]; ok {
		entry.connected = true
		entry.leaveGen++
		return s.broadcastPlayersLocked(), nil
	}

	switch s.state {
	case domain.StateFinished:
		return nil, fmt.Errorf("join %s: session over: %w", s.pin, domain.ErrInvalidTransition)
	case domain.StateRunning:
		if !s.opts.AllowLateJoin {
			return nil, fmt.Errorf("join %s: quiz already running: %w", s.pin, domain.ErrInvalidTransition)
		}
	}

	s.players[addr] = &playerEntry{
		joinedAt:  s.clock.Now(),
		joinSeq:   s.nextJoinSeq,
		connected: true,
	}
	s.nextJoinSeq++
	if s.state == domain.StateCreated {
		s.state = domain.StateQueuing
	}
	return s.broadcastPlayersLocked(), nil
}

// Disconnect reports a transport drop. Membership survives for the grace
// period; only its expiry fires a real leave. Lifecycle state never changes.
func (s *Session) Disconnect(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if addr == s.creator {
		s.creatorOnline = false
		return
	}
	entry, ok := s.players[addr]
	if !ok || !entry.connected {
		return
	}
	entry.connected = false
	entry.leaveGen++
	gen := entry.leaveGen

	timer := s.clock.NewTimer(s.opts.GracePeriod)
	go func() {
		<-timer.Chan()
		s.expireLeave(addr, gen)
	}()
}

func (s *Session) expireLeave(addr string, gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.players[addr]
	if !ok || entry.connected || entry.leaveGen != gen {
		return
	}
	delete(s.players, addr)
	s.broadcastPlayersLocked()
}

// Leave removes a player immediately, bypassing the grace period.
func (s *Session) Leave(addr string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if addr == s.creator {
		s.creatorOnline = false
		return s.membersLocked()
	}
	if entry, ok := s.players[addr]; ok {
		entry.leaveGen++
		delete(s.players, addr)
	}
	return s.broadcastPlayersLocked()
}

// Players returns the current de-duplicated membership snapshot.
func (s *Session) Players() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.membersLocked()
}

// State returns the current lifecycle state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a read-only view for transports.
func (s *Session) Snapshot() domain.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
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

// Subscribe registers a room participant. The channel immediately receives a
// membership snapshot; the caller must invoke cancel to avoid leaks.
func (s *Session) Subscribe() (<-chan RoomEvent, func()) {
	ch := make(chan RoomEvent, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	initial := RoomEvent{Type: EventPlayers, Payload: s.membersLocked()}
	s.mu.Unlock()

	ch <- initial

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Close stops the session's timers and detaches subscribers. Used by
// teardown and store eviction.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.timerGen++
	s.stopQuestionTimerLocked()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

func (s *Session) broadcastPlayersLocked() []string {
	members := s.membersLocked()
	s.broadcastLocked(RoomEvent{Type: EventPlayers, Payload: members})
	return members
}

func (s *Session) broadcastLocked(event RoomEvent) {
	for ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			// Drop the oldest buffered event so a slow client never
			// blocks the room.
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
}

func (s *Session) membersLocked() []string {
	members := make([]string, 0, len(s.players))
	for addr := range s.players {
		members = append(members, addr)
	}
	sort.Strings(members)
	return members
}
