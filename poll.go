package reqsync

import (
	"context"
	stderrors "errors"

	"github.com/agentstation/reqsync/pkg/errors"
	"github.com/agentstation/reqsync/pkg/requisition"
)

// PollResult summarizes one poll cycle.
type PollResult struct {
	Requested int `json:"requested"`
	Returned  int `json:"returned"`
	Applied   int `json:"applied"`
	Stale     int `json:"stale"`
}

// PollNow runs one poll cycle immediately regardless of fallback mode and
// returns once its results are merged. It waits for an in-flight cycle.
func (m *Manager) PollNow(ctx context.Context) (PollResult, error) {
	if m.closed.Load() {
		return PollResult{}, errors.ErrClosed
	}
	ctx, cancel := mergeCancel(ctx, m.ctx)
	defer cancel()
	return m.poll(ctx)
}

// pollLoop runs the scheduled cycle plus any follow-up requested while it
// ran, then arms the timer if fallback is still active.
func (m *Manager) pollLoop() {
	defer m.wg.Done()
	for {
		_, _ = m.poll(m.ctx)

		m.mu.Lock()
		if m.disposed || !m.fallback {
			m.polling = false
			m.again = false
			m.mu.Unlock()
			return
		}
		if m.again {
			m.again = false
			m.mu.Unlock()
			continue
		}
		m.polling = false
		m.scheduleLocked()
		m.mu.Unlock()
		return
	}
}

// poll fetches every tracked id in batches and merges the results.
func (m *Manager) poll(ctx context.Context) (PollResult, error) {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	ids := m.trackedIDs()
	res := PollResult{Requested: len(ids)}

	var errs []error
	for start := 0; start < len(ids) && ctx.Err() == nil; start += m.cfg.maxIDsPerPoll {
		batch := ids[start:min(start+m.cfg.maxIDsPerPoll, len(ids))]
		results, err := m.fetchBatch(ctx, batch)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res.Returned += len(results)
		for _, pr := range results {
			switch m.mergePolled(pr) {
			case OutcomeApplied:
				res.Applied++
			case OutcomeStale:
				res.Stale++
			}
		}
	}

	// A cancelled caller or disposal leaves the poll counters alone.
	if err := ctx.Err(); err != nil {
		return res, err
	}

	err := stderrors.Join(errs...)
	m.mu.Lock()
	m.polls++
	m.lastPoll = m.clock.Now()
	if err != nil {
		m.failures++
		m.failed++
		err = errors.WrapPoll(ids, m.failures, err)
		m.lastErr = err
	} else {
		m.failures = 0
		m.lastErr = nil
	}
	next := m.nextDelayLocked()
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn().Err(err).Dur("next_poll", next).Msg("Fallback poll failed")
		return res, err
	}
	m.logger.Debug().
		Int("requested", res.Requested).
		Int("applied", res.Applied).
		Int("stale", res.Stale).
		Msg("Fallback poll complete")
	return res, nil
}

// fetchBatch calls fetch under the poll timeout. A fetch that ignores its
// context is abandoned at the deadline and its late result discarded.
func (m *Manager) fetchBatch(ctx context.Context, ids []string) ([]requisition.PurchaseRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.pollTimeout)
	defer cancel()

	type result struct {
		prs []requisition.PurchaseRequest
		err error
	}
	done := make(chan result, 1)
	go func() {
		prs, err := m.fetch(ctx, ids)
		done <- result{prs, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.NewTimeoutError("poll", m.cfg.pollTimeout, r.err)
		}
		return r.prs, r.err
	case <-ctx.Done():
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.NewTimeoutError("poll", m.cfg.pollTimeout, ctx.Err())
		}
		return nil, ctx.Err()
	}
}

func (m *Manager) mergePolled(pr requisition.PurchaseRequest) Outcome {
	if pr.ID == "" {
		m.logger.Warn().Msg("Poll result without id ignored")
		return OutcomeMalformed
	}
	return m.merge(mutation{
		id:      pr.ID,
		version: pr.Marker(),
		source:  SourcePoll,
		request: &pr,
	})
}

// mergeCancel returns a context cancelled when either parent is done.
func mergeCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
