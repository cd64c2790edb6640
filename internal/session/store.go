package session

import (
	"context"
	"sync"
	"time"

	"github.com/fieldservice/concierge/internal/errs"
	"github.com/fieldservice/concierge/internal/telemetry"
)

// Backend persists Session documents. Implementations must be safe for
// concurrent use across distinct sessions: store serializes access per
// session only, so calls for different sessions may run concurrently.
type Backend interface {
	// Load returns the persisted session, or found=false if none exists.
	Load(ctx context.Context, sid string) (sess *Session, found bool, err error)
	// Save persists sess. Implementations should make the write atomic with
	// respect to crashes (write-to-temp-then-rename or equivalent).
	Save(ctx context.Context, sess *Session) error
}

// store is the concrete Store implementation: one mutex per session so
// unrelated sessions never serialize against each other, backed by a
// pluggable persistence Backend.
type store struct {
	backend Backend
	log     telemetry.Logger
	metrics telemetry.Metrics

	locksMu sync.RWMutex
	locks   map[string]*sync.Mutex

	cacheMu sync.RWMutex
	cache   map[string]*Session
	active  int
}

// StoreOption configures optional store behavior.
type StoreOption func(*store)

// WithMetrics wires a metrics recorder; the store keeps the
// sessions_active gauge current as sessions are created and terminated.
func WithMetrics(m telemetry.Metrics) StoreOption {
	return func(s *store) { s.metrics = m }
}

// NewStore builds a Store over the given persistence Backend.
func NewStore(backend Backend, log telemetry.Logger, opts ...StoreOption) Store {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	s := &store{
		backend: backend,
		log:     log,
		metrics: telemetry.NewNoopMetrics(),
		locks:   make(map[string]*sync.Mutex),
		cache:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *store) sessionLock(sid string) *sync.Mutex {
	s.locksMu.RLock()
	l, ok := s.locks[sid]
	s.locksMu.RUnlock()
	if ok {
		return l
	}
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if l, ok = s.locks[sid]; ok {
		return l
	}
	l = &sync.Mutex{}
	s.locks[sid] = l
	return l
}

// loadLocked loads sess from the in-memory cache, falling back to the
// backend, creating an empty session on miss. Caller must hold the
// session's lock.
func (s *store) loadLocked(ctx context.Context, sid string) (*Session, error) {
	s.cacheMu.RLock()
	cached, ok := s.cache[sid]
	s.cacheMu.RUnlock()
	if ok {
		return cached, nil
	}
	sess, found, err := s.backend.Load(ctx, sid)
	if err != nil {
		return nil, errs.Wrap(errs.KindSessionIOFailure, "load session "+sid, err)
	}
	if !found {
		sess = newSession(sid, time.Now().UTC())
	}
	s.cacheMu.Lock()
	s.cache[sid] = sess
	if !sess.Terminal {
		s.active++
	}
	gauge := float64(s.active)
	s.cacheMu.Unlock()
	s.metrics.RecordGauge("sessions_active", gauge)
	return sess, nil
}

// saveLocked persists sess, retrying once on failure; on a second failure
// the in-memory cache is reverted to prev and the error surfaces.
func (s *store) saveLocked(ctx context.Context, sid string, prev, next *Session) error {
	err := s.backend.Save(ctx, next)
	if err != nil {
		err = s.backend.Save(ctx, next)
	}
	if err != nil {
		s.cacheMu.Lock()
		s.cache[sid] = prev
		s.cacheMu.Unlock()
		s.log.Error(ctx, "session persistence failed after retry", "session_id", sid, "error", err)
		return errs.Wrap(errs.KindSessionIOFailure, "persist session "+sid, err)
	}
	s.cacheMu.Lock()
	s.cache[sid] = next
	if !prev.Terminal && next.Terminal {
		s.active--
	}
	gauge := float64(s.active)
	s.cacheMu.Unlock()
	s.metrics.RecordGauge("sessions_active", gauge)
	return nil
}

func (s *store) Get(ctx context.Context, sid string) (*Session, error) {
	lock := s.sessionLock(sid)
	lock.Lock()
	defer lock.Unlock()
	sess, err := s.loadLocked(ctx, sid)
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

func (s *store) Update(ctx context.Context, sid string, update map[string]any, appendPaths map[string]bool) (*Session, error) {
	return s.WithLock(ctx, sid, func(ctx context.Context, sess *Session) (*Session, error) {
		sess.Memory = sess.Memory.Merge(update, appendPaths)
		return sess, nil
	})
}

func (s *store) ReadPaths(ctx context.Context, sid string, paths []string) (map[string]any, error) {
	lock := s.sessionLock(sid)
	lock.Lock()
	defer lock.Unlock()
	sess, err := s.loadLocked(ctx, sid)
	if err != nil {
		return nil, err
	}
	return sess.Memory.ReadPaths(paths)
}

func (s *store) AppendHistory(ctx context.Context, sid string, role, text string) (*Session, error) {
	return s.WithLock(ctx, sid, func(ctx context.Context, sess *Session) (*Session, error) {
		sess.History = append(sess.History, HistoryEntry{Role: role, Text: text, Timestamp: time.Now().UTC()})
		return sess, nil
	})
}

func (s *store) SetGoal(ctx context.Context, sid string, goalID string) (*Session, error) {
	return s.WithLock(ctx, sid, func(ctx context.Context, sess *Session) (*Session, error) {
		sess.CurrentGoal = goalID
		sess.EnteredGoals = append(sess.EnteredGoals, goalID)
		return sess, nil
	})
}

func (s *store) RecordTurn(ctx context.Context, sid string, tokensIn, tokensOut int, costUnits float64) (*Session, error) {
	return s.WithLock(ctx, sid, func(ctx context.Context, sess *Session) (*Session, error) {
		sess.Counters.Turns++
		sess.Counters.TokensIn += tokensIn
		sess.Counters.TokensOut += tokensOut
		sess.Counters.CostUnits += costUnits
		return sess, nil
	})
}

func (s *store) MarkTerminal(ctx context.Context, sid string) (*Session, error) {
	return s.WithLock(ctx, sid, func(ctx context.Context, sess *Session) (*Session, error) {
		sess.Terminal = true
		return sess, nil
	})
}

func (s *store) ActiveSessions() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.active
}

func (s *store) WithLock(ctx context.Context, sid string, fn func(ctx context.Context, s *Session) (*Session, error)) (*Session, error) {
	lock := s.sessionLock(sid)
	lock.Lock()
	defer lock.Unlock()

	prev, err := s.loadLocked(ctx, sid)
	if err != nil {
		return nil, err
	}
	working := prev.Clone()
	next, err := fn(ctx, working)
	if err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	if err := s.saveLocked(ctx, sid, prev, next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}
