// Package clarify decides what happens between resolution and execution:
// whether a resolved command runs immediately, needs a yes/no confirmation,
// or needs the user to pick between candidates — and keeps the pending
// command alive across that round-trip.
//
// Pending commands are single-use and expire. A resumed command is not
// replayed from the stored result: the pipeline re-runs resolution with the
// stored payload plus the user's choice folded in as a hint, so a resume
// sees current data and can surface fresh ambiguity.
package clarify

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lessonbook/lessonbook/internal/voice/parser"
	"github.com/lessonbook/lessonbook/internal/voice/resolver"
)

// DefaultTTL is how long a pending command stays resumable.
const DefaultTTL = 5 * time.Minute

// DefaultConfidenceThreshold gates execution: resolved commands parsed below
// it require confirmation first.
const DefaultConfidenceThreshold = 0.75

// Sentinel errors returned by [PendingStore.Take].
var (
	ErrNoPending      = errors.New("clarify: no pending command for token")
	ErrPendingExpired = errors.New("clarify: pending command expired")
)

// Disposition is the gate's verdict for a resolution outcome.
type Disposition int

const (
	// DispositionExecute runs the command immediately.
	DispositionExecute Disposition = iota

	// DispositionConfirm asks a yes/no question before running.
	DispositionConfirm

	// DispositionChoose asks the user to pick a candidate.
	DispositionChoose

	// DispositionReject reports the outcome's reason and stores nothing.
	DispositionReject
)

// Classify gates a resolution outcome. A zero threshold falls back to
// [DefaultConfidenceThreshold].
func Classify(out resolver.Outcome, threshold float64) Disposition {
	if threshold == 0 {
		threshold = DefaultConfidenceThreshold
	}
	switch out.Kind {
	case resolver.OutcomeResolved:
		if out.Command.Confidence < threshold {
			return DispositionConfirm
		}
		return DispositionExecute
	case resolver.OutcomeAmbiguous:
		return DispositionChoose
	default:
		return DispositionReject
	}
}

// Pending is a parked command awaiting a confirmation or a choice.
type Pending struct {
	// Token identifies the entry; assigned by [PendingStore.Put].
	Token string

	// Payload is the original parse result, re-resolved on resume.
	Payload parser.Payload

	// Hint accumulates choices from earlier clarification rounds.
	Hint resolver.Hint

	// ReferenceDateKey anchors the re-resolution to the same "today" the
	// original utterance used.
	ReferenceDateKey string

	// Options are the candidates offered, used to validate the user's pick.
	Options []resolver.Candidate

	// CreatedAt is stamped by [PendingStore.Put].
	CreatedAt time.Time
}

// ValidOption reports whether id is one of the offered candidates and
// returns it.
func (p Pending) ValidOption(id string) (resolver.Candidate, bool) {
	for _, c := range p.Options {
		if c.ID == id {
			return c, true
		}
	}
	return resolver.Candidate{}, false
}

// PendingStore holds pending commands in memory, keyed by token. Safe for
// concurrent use.
type PendingStore struct {
	mu      sync.Mutex
	entries map[string]Pending
	ttl     time.Duration
	now     func() time.Time
}

// StoreOption configures a [PendingStore].
type StoreOption func(*PendingStore)

// WithTTL overrides the pending lifetime.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *PendingStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) StoreOption {
	return func(s *PendingStore) { s.now = now }
}

// NewPendingStore returns an empty store with [DefaultTTL].
func NewPendingStore(opts ...StoreOption) *PendingStore {
	s := &PendingStore{
		entries: make(map[string]Pending),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put parks a command and returns its token.
func (s *PendingStore) Put(p Pending) string {
	p.Token = uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	p.CreatedAt = s.now()
	s.entries[p.Token] = p
	return p.Token
}

// Take removes and returns the pending command for token. A second Take with
// the same token fails with [ErrNoPending]; an entry past its TTL fails with
// [ErrPendingExpired] and is dropped.
func (s *PendingStore) Take(token string) (Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.entries[token]
	if !ok {
		return Pending{}, ErrNoPending
	}
	delete(s.entries, token)
	if s.now().Sub(p.CreatedAt) > s.ttl {
		return Pending{}, ErrPendingExpired
	}
	return p, nil
}

// Open returns the number of live entries. Expired entries count until swept
// or taken.
func (s *PendingStore) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops expired entries and reports how many were removed.
func (s *PendingStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for token, p := range s.entries {
		if p.CreatedAt.Before(cutoff) {
			delete(s.entries, token)
			removed++
		}
	}
	return removed
}
