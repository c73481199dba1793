package throttle

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limit bounds the jobs of one name.
type Limit struct {
	// JobName is the job the limit applies to.
	JobName string

	// MaxConcurrency limits how many of these jobs run at once. Zero
	// means no limit beyond the pool's own concurrency.
	MaxConcurrency int

	// RateLimit is the sustained number of jobs started per second. Zero
	// disables rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst. Defaults to 1 when RateLimit
	// is set.
	RateBurst int
}

type state struct {
	limit   Limit
	limiter *rate.Limiter
	active  int
}

func newState(l Limit) *state {
	s := &state{limit: l}
	if l.RateLimit > 0 {
		burst := l.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(l.RateLimit), burst)
	}
	return s
}

func (s *state) full() bool {
	return s.limit.MaxConcurrency > 0 && s.active >= s.limit.MaxConcurrency
}

// idle reports whether the state carries nothing worth keeping: no
// running jobs and a full token bucket.
func (s *state) idle(now time.Time) bool {
	if s.active > 0 {
		return false
	}
	return s.limiter == nil || s.limiter.TokensAt(now) >= float64(s.limiter.Burst())
}

// Manager enforces job and session limits. Safe for concurrent use.
type Manager struct {
	mu            sync.Mutex
	jobs          map[string]*state
	sessionLimits map[string]Limit
	sessions      map[sessionKey]*state
}

type sessionKey struct {
	job     string
	session string
}

// NewManager creates a Manager with the given job limits. Jobs with no
// limit are never refused.
func NewManager(limits ...Limit) *Manager {
	m := &Manager{
		jobs:          make(map[string]*state, len(limits)),
		sessionLimits: make(map[string]Limit),
		sessions:      make(map[sessionKey]*state),
	}
	for _, l := range limits {
		m.jobs[l.JobName] = newState(l)
	}
	return m
}

// SetLimit replaces the limit for l.JobName, keeping its running count.
func (m *Manager) SetLimit(l Limit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := newState(l)
	if existing := m.jobs[l.JobName]; existing != nil {
		s.active = existing.active
	}
	m.jobs[l.JobName] = s
}

// SetSessionLimit applies l to each session of l.JobName independently.
// Sessions already tracked keep their running count.
func (m *Manager) SetSessionLimit(l Limit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessionLimits[l.JobName] = l
	for k, existing := range m.sessions {
		if k.job != l.JobName {
			continue
		}
		s := newState(l)
		s.active = existing.active
		m.sessions[k] = s
	}
}

// Acquire reports whether a job may start now and, if so, counts it as
// running. The caller must call Release when the job finishes. An empty
// sessionID skips session limits.
func (m *Manager) Acquire(jobName, sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	js := m.jobs[jobName]
	ss := m.session(jobName, sessionID)
	now := time.Now()

	refuse := func() bool {
		if ss != nil && ss.idle(now) {
			delete(m.sessions, sessionKey{job: jobName, session: sessionID})
		}
		return false
	}

	if (js != nil && js.full()) || (ss != nil && ss.full()) {
		return refuse()
	}

	// Tokens are reserved from both buckets together so a refusal by one
	// does not spend a token from the other.
	var limiters []*rate.Limiter
	if js != nil && js.limiter != nil {
		limiters = append(limiters, js.limiter)
	}
	if ss != nil && ss.limiter != nil {
		limiters = append(limiters, ss.limiter)
	}
	if !reserve(now, limiters) {
		return refuse()
	}

	if js != nil {
		js.active++
	}
	if ss != nil {
		ss.active++
	}
	return true
}

// Release marks a job acquired with the same arguments as finished.
func (m *Manager) Release(jobName, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if js := m.jobs[jobName]; js != nil && js.active > 0 {
		js.active--
	}
	if sessionID == "" {
		return
	}
	k := sessionKey{job: jobName, session: sessionID}
	ss := m.sessions[k]
	if ss == nil {
		return
	}
	if ss.active > 0 {
		ss.active--
	}
	if ss.idle(time.Now()) {
		delete(m.sessions, k)
	}
}

// ActiveCount returns how many jobs named jobName are running.
func (m *Manager) ActiveCount(jobName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if js := m.jobs[jobName]; js != nil {
		return js.active
	}
	return 0
}

// SessionActiveCount returns how many jobs named jobName are running for
// sessionID.
func (m *Manager) SessionActiveCount(jobName, sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ss := m.sessions[sessionKey{job: jobName, session: sessionID}]; ss != nil {
		return ss.active
	}
	return 0
}

// session returns the state for a session, creating it when the job has a
// session limit. Caller holds mu.
func (m *Manager) session(jobName, sessionID string) *state {
	if sessionID == "" {
		return nil
	}
	l, ok := m.sessionLimits[jobName]
	if !ok {
		return nil
	}
	k := sessionKey{job: jobName, session: sessionID}
	s := m.sessions[k]
	if s == nil {
		s = newState(l)
		m.sessions[k] = s
	}
	return s
}

func reserve(now time.Time, limiters []*rate.Limiter) bool {
	taken := make([]*rate.Reservation, 0, len(limiters))
	for _, l := range limiters {
		r := l.ReserveN(now, 1)
		if !r.OK() || r.DelayFrom(now) > 0 {
			r.CancelAt(now)
			for _, t := range taken {
				t.CancelAt(now)
			}
			return false
		}
		taken = append(taken, r)
	}
	return true
}
