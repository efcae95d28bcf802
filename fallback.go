package reqsync

import "time"

// SetFallback switches polling mode. Turning it on runs a poll at once
// instead of waiting for the first interval. Turning it off cancels the
// pending timer; a poll already in flight still commits its result.
func (m *Manager) SetFallback(active bool) {
	m.mu.Lock()
	if m.disposed || m.fallback == active {
		m.mu.Unlock()
		return
	}
	m.fallback = active
	if active {
		if m.started {
			m.triggerLocked()
		}
	} else {
		m.stopTimerLocked()
		m.again = false
	}
	m.mu.Unlock()

	if active {
		m.logger.Info().Msg("Push delivery degraded, fallback polling on")
	} else {
		m.logger.Info().Msg("Push delivery restored, fallback polling off")
	}
	m.hooks.triggerFallback(active)
}

// Fallback reports whether polling mode is active.
func (m *Manager) Fallback() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fallback
}

// triggerLocked starts a poll cycle now, or marks a follow-up cycle when one
// is already running. Must be called with m.mu held.
func (m *Manager) triggerLocked() {
	if m.disposed {
		return
	}
	if m.polling {
		m.again = true
		return
	}
	m.stopTimerLocked()
	m.polling = true
	m.wg.Add(1)
	go m.pollLoop()
}

// scheduleLocked arms the single poll timer. Must be called with m.mu held.
func (m *Manager) scheduleLocked() {
	m.stopTimerLocked()
	gen := m.timerGen
	m.timer = m.clock.AfterFunc(m.nextDelayLocked(), func() { m.onTimer(gen) })
}

func (m *Manager) onTimer(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.timerGen || m.disposed || !m.fallback {
		return
	}
	m.timer = nil
	m.triggerLocked()
}

// stopTimerLocked cancels the pending timer and invalidates any callback
// already racing to fire. Must be called with m.mu held.
func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerGen++
}

// nextDelayLocked is the poll interval doubled per consecutive failure and
// capped at the backoff limit. Must be called with m.mu held.
func (m *Manager) nextDelayLocked() time.Duration {
	d := m.cfg.pollInterval
	for i := 0; i < m.failures && d < m.cfg.maxPollBackoff; i++ {
		d *= 2
	}
	return min(d, m.cfg.maxPollBackoff)
}
