package app

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"chainquiz-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// SessionRepository abstracts how live sessions are stored (in-memory,
// Redis-backed, etc). Reserve must be atomic: it returns false when the PIN
// is already taken so the generator can redraw.
type SessionRepository interface {
	Reserve(pin string, session *Session) bool
	Get(pin string) (*Session, bool)
	FindByQuiz(quizAddress string) (*Session, bool)
	Delete(pin string)
}

// QuizRepository loads and stores quiz definitions (cache plus backing
// store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, address string) (domain.Quiz, error)
	SaveQuiz(ctx context.Context, quiz domain.Quiz) error
}

// Settlement is the opaque hand-off to whatever records final results: an
// on-chain relayer, a backend, or nothing at all.
type Settlement interface {
	StartQuiz(ctx context.Context, quizAddress string, players []string) error
	EndQuiz(ctx context.Context, quizAddress, winner string, score int) error
}

// pinAttempts bounds PIN generation so a saturated keyspace fails fast
// instead of looping.
const pinAttempts = 100

const settleTimeout = 10 * time.Second

// SessionService contains the live quiz use cases: authoring hand-off,
// session creation, the room membership operations, and the start/submit/end
// flow around the per-session state machine.
type SessionService struct {
	sessions SessionRepository
	quizzes  QuizRepository
	settle   Settlement
	opts     Options
	clock    clockwork.Clock
	log      zerolog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSessionService(sessions SessionRepository, quizzes QuizRepository, settle Settlement, opts Options, log zerolog.Logger) *SessionService {
	opts = opts.withDefaults()
	return &SessionService{
		sessions: sessions,
		quizzes:  quizzes,
		settle:   settle,
		opts:     opts,
		clock:    opts.Clock,
		log:      log,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CreateQuiz validates and stores a quiz definition, then opens a session
// for it under a freshly generated PIN.
func (s *SessionService) CreateQuiz(ctx context.Context, quiz domain.Quiz) (string, domain.Quiz, error) {
	if err := quiz.Validate(); err != nil {
		return "", domain.Quiz{}, err
	}
	if quiz.Address == "" {
		quiz.Address = newQuizAddress()
	}
	// Canonicalize options so stored indexes always refer into the trimmed,
	// non-empty subsequence.
	for i := range quiz.Questions {
		quiz.Questions[i].Options = quiz.Questions[i].TrimmedOptions()
	}
	if err := s.quizzes.SaveQuiz(ctx, quiz); err != nil {
		return "", domain.Quiz{}, err
	}

	session := NewSession("", quiz, s.opts)
	session.onFinished = s.finishHook(session)
	pin, err := s.placeSession(session)
	if err != nil {
		return "", domain.Quiz{}, err
	}
	s.log.Info().Str("pin", pin).Str("quiz", quiz.Address).Str("creator", quiz.Creator).Msg("session created")
	return pin, quiz, nil
}

// GetSession returns a snapshot for a PIN.
func (s *SessionService) GetSession(pin string) (domain.SessionSnapshot, error) {
	session, ok := s.sessions.Get(pin)
	if !ok {
		return domain.SessionSnapshot{}, fmt.Errorf("session %s: %w", pin, domain.ErrSessionNotFound)
	}
	return session.Snapshot(), nil
}

// GetQuiz resolves a quiz by PIN or quiz address. Correct answers are
// redacted unless the viewer is the creator.
func (s *SessionService) GetQuiz(ctx context.Context, ref, viewer string) (domain.Quiz, domain.SessionSnapshot, error) {
	session, ok := s.lookup(ref)
	if !ok {
		return domain.Quiz{}, domain.SessionSnapshot{}, fmt.Errorf("quiz %s: %w", ref, domain.ErrSessionNotFound)
	}
	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizAddress())
	if err != nil {
		return domain.Quiz{}, domain.SessionSnapshot{}, err
	}
	if viewer != quiz.Creator {
		quiz = quiz.Redacted()
	}
	return quiz, session.Snapshot(), nil
}

// Join adds a player to a session's membership and returns the updated
// snapshot list. Idempotent for already-present identities.
func (s *SessionService) Join(_ context.Context, pin, player string) ([]string, error) {
	if strings.TrimSpace(player) == "" {
		return nil, fmt.Errorf("join %s: empty player identity", pin)
	}
	session, ok := s.sessions.Get(pin)
	if !ok {
		return nil, fmt.Errorf("join %s: %w", pin, domain.ErrSessionNotFound)
	}
	return session.Join(player)
}

// AddPlayers joins a batch of identities, stopping at the first rejection.
func (s *SessionService) AddPlayers(ctx context.Context, pin string, players []string) ([]string, error) {
	var members []string
	for _, player := range players {
		var err error
		if members, err = s.Join(ctx, pin, player); err != nil {
			return nil, err
		}
	}
	if members == nil {
		snapshot, err := s.GetSession(pin)
		if err != nil {
			return nil, err
		}
		members = snapshot.Players
	}
	return members, nil
}

// Leave removes a player immediately.
func (s *SessionService) Leave(_ context.Context, pin, player string) {
	if session, ok := s.sessions.Get(pin); ok {
		session.Leave(player)
	}
}

// Disconnect reports a dropped transport; membership survives the grace
// period.
func (s *SessionService) Disconnect(pin, player string) {
	if session, ok := s.sessions.Get(pin); ok {
		session.Disconnect(player)
	}
}

// Subscribe attaches a room participant to the session's event stream.
func (s *SessionService) Subscribe(pin string) (<-chan RoomEvent, func(), error) {
	session, ok := s.sessions.Get(pin)
	if !ok {
		return nil, nil, fmt.Errorf("subscribe %s: %w", pin, domain.ErrSessionNotFound)
	}
	ch, cancel := session.Subscribe()
	return ch, cancel, nil
}

// Start triggers the Running(0) transition and hands the player roster to
// settlement in the background.
func (s *SessionService) Start(_ context.Context, pin, actor string) (domain.SessionSnapshot, error) {
	session, ok := s.sessions.Get(pin)
	if !ok {
		return domain.SessionSnapshot{}, fmt.Errorf("start %s: %w", pin, domain.ErrSessionNotFound)
	}
	snapshot, err := session.Start(actor)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	s.log.Info().Str("pin", pin).Int("players", len(snapshot.Players)).Msg("quiz started")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
		defer cancel()
		if err := s.settle.StartQuiz(ctx, session.QuizAddress(), snapshot.Players); err != nil {
			s.log.Warn().Err(err).Str("pin", pin).Msg("settlement start failed")
		}
	}()
	return snapshot, nil
}

// Submit records a player answer against the current question.
func (s *SessionService) Submit(_ context.Context, pin, player string, questionIndex, option int, latencyMs int64) error {
	session, ok := s.sessions.Get(pin)
	if !ok {
		return fmt.Errorf("submit %s: %w", pin, domain.ErrSessionNotFound)
	}
	return session.Submit(player, questionIndex, option, latencyMs)
}

// SubmitByQuiz is the REST-shaped variant keyed by quiz address.
func (s *SessionService) SubmitByQuiz(ctx context.Context, quizAddress, player string, questionIndex, option int, latencyMs int64) error {
	session, ok := s.sessions.FindByQuiz(quizAddress)
	if !ok {
		return fmt.Errorf("submit quiz %s: %w", quizAddress, domain.ErrSessionNotFound)
	}
	return s.Submit(ctx, session.PIN(), player, questionIndex, option, latencyMs)
}

// End force-finishes a Running session. Creator only.
func (s *SessionService) End(_ context.Context, pin, actor string) (domain.WinnerRecord, error) {
	session, ok := s.sessions.Get(pin)
	if !ok {
		return domain.WinnerRecord{}, fmt.Errorf("end %s: %w", pin, domain.ErrSessionNotFound)
	}
	record, err := session.ForceEnd(actor)
	if err != nil {
		return domain.WinnerRecord{}, err
	}
	s.log.Info().Str("pin", pin).Str("winner", record.Winner).Int("score", record.Score).Msg("quiz force-ended")
	return record, nil
}

// EndByQuiz is the REST-shaped variant keyed by quiz address.
func (s *SessionService) EndByQuiz(ctx context.Context, quizAddress, actor string) (domain.WinnerRecord, error) {
	session, ok := s.sessions.FindByQuiz(quizAddress)
	if !ok {
		return domain.WinnerRecord{}, fmt.Errorf("end quiz %s: %w", quizAddress, domain.ErrSessionNotFound)
	}
	return s.End(ctx, session.PIN(), actor)
}

// Results returns the winner record for a finished session, resolving it on
// first call. Ref may be a PIN or quiz address.
func (s *SessionService) Results(_ context.Context, ref string) (domain.WinnerRecord, error) {
	session, ok := s.lookup(ref)
	if !ok {
		return domain.WinnerRecord{}, fmt.Errorf("results %s: %w", ref, domain.ErrSessionNotFound)
	}
	return session.Resolve()
}

// Teardown removes a session. Internal callers pass an empty actor; external
// callers must be the creator.
func (s *SessionService) Teardown(_ context.Context, pin, actor string) error {
	session, ok := s.sessions.Get(pin)
	if !ok {
		return fmt.Errorf("teardown %s: %w", pin, domain.ErrSessionNotFound)
	}
	if actor != "" && actor != session.Creator() {
		return fmt.Errorf("teardown %s: only the creator may tear down: %w", pin, domain.ErrInvalidTransition)
	}
	session.Close()
	s.sessions.Delete(pin)
	s.log.Info().Str("pin", pin).Msg("session torn down")
	return nil
}

// finishHook wires settlement and retention eviction to the Finished
// transition.
func (s *SessionService) finishHook(session *Session) func(domain.WinnerRecord) {
	return func(record domain.WinnerRecord) {
		ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
		defer cancel()
		if err := s.settle.EndQuiz(ctx, session.QuizAddress(), record.Winner, record.Score); err != nil {
			s.log.Warn().Err(err).Str("pin", session.PIN()).Msg("settlement end failed")
		}

		timer := s.clock.NewTimer(s.opts.Retention)
		go func() {
			<-timer.Chan()
			session.Close()
			s.sessions.Delete(session.PIN())
			s.log.Debug().Str("pin", session.PIN()).Msg("finished session evicted")
		}()
	}
}

func (s *SessionService) placeSession(session *Session) (string, error) {
	for attempt := 0; attempt < pinAttempts; attempt++ {
		pin := s.drawPIN()
		session.setPIN(pin)
		if s.sessions.Reserve(pin, session) {
			return pin, nil
		}
	}
	return "", domain.ErrPinExhausted
}

// drawPIN picks a uniform 6-digit value in [100000, 999999]; the leading
// digit is never zero.
func (s *SessionService) drawPIN() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%06d", 100000+s.rnd.Intn(900000))
}

func (s *SessionService) lookup(ref string) (*Session, bool) {
	if IsPIN(ref) {
		return s.sessions.Get(ref)
	}
	return s.sessions.FindByQuiz(ref)
}

// IsPIN reports whether ref is a valid session PIN: exactly 6 ASCII digits
// with a non-zero first digit.
func IsPIN(ref string) bool {
	if len(ref) != 6 {
		return false
	}
	if ref[0] < '1' || ref[0] > '9' {
		return false
	}
	for i := 1; i < len(ref); i++ {
		if ref[i] < '0' || ref[i] > '9' {
			return false
		}
	}
	return true
}

// newQuizAddress mints a placeholder address for quizzes created without an
// on-chain deployment.
func newQuizAddress() string {
	return "0x" + strings.ReplaceAll(uuid.New().String(), "-", "")
}
