package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ExpireFunc is invoked when a visitor's idle timer fires.
type ExpireFunc func(visitorID string)

// TimeoutManager keeps exactly one deferred expiry action per visitor.
// Arming replaces any existing timer atomically; a replaced timer that has
// already fired finds itself evicted and does not invoke the callback.
type TimeoutManager struct {
	onExpire ExpireFunc
	logger   zerolog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewTimeoutManager creates a manager that calls onExpire when a visitor's
// idle timeout elapses.
func NewTimeoutManager(onExpire ExpireFunc, logger zerolog.Logger) *TimeoutManager {
	return &TimeoutManager{
		onExpire: onExpire,
		logger:   logger.With().Str("component", "timeouts").Logger(),
		timers:   make(map[string]*time.Timer),
	}
}

// Arm schedules the expiry action after d, replacing any previous timer for
// the visitor.
func (m *TimeoutManager) Arm(visitorID string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.timers[visitorID]; ok {
		prev.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		m.mu.Lock()
		cur, ok := m.timers[visitorID]
		if !ok || cur != t {
			// Rearmed or disarmed between firing and acquiring the lock.
			m.mu.Unlock()
			return
		}
		delete(m.timers, visitorID)
		m.mu.Unlock()

		m.logger.Info().Str("visitor_id", visitorID).Dur("after", d).Msg("idle timeout expired")
		m.onExpire(visitorID)
	})
	m.timers[visitorID] = t

	m.logger.Debug().Str("visitor_id", visitorID).Dur("timeout", d).Msg("idle timer armed")
}

// Disarm cancels the visitor's timer. Calling it for a visitor with no armed
// timer is a no-op.
func (m *TimeoutManager) Disarm(visitorID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.timers[visitorID]; ok {
		t.Stop()
		delete(m.timers, visitorID)
		m.logger.Debug().Str("visitor_id", visitorID).Msg("idle timer disarmed")
	}
}

// Armed reports whether a live timer exists for the visitor.
func (m *TimeoutManager) Armed(visitorID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[visitorID]
	return ok
}

// Len returns the number of live timers.
func (m *TimeoutManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Stop cancels every timer. Used on shutdown.
func (m *TimeoutManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}
