package broker

import (
	"context"
	"errors"
	"time"

	"github.com/MikeSquared-Agency/scribematch/internal/hermes"
	"github.com/MikeSquared-Agency/scribematch/internal/store"
)

func (b *Broker) expiryLoop(ctx context.Context) {
	defer b.wg.Done()
	interval := b.cfg.ExpiryInterval()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.expireStale(ctx)
			b.publishStats(ctx)
		}
	}
}

// expireStale expires proposals left unanswered past the response SLA. A
// non-positive SLA disables expiry.
func (b *Broker) expireStale(ctx context.Context) int {
	sla := b.cfg.ResponseSLA()
	if sla <= 0 {
		return 0
	}
	cutoff := b.now().Add(-sla)
	stale, err := b.store.GetStaleProposals(ctx, cutoff)
	if err != nil {
		b.logger.Error("failed to get stale proposals", "error", err)
		return 0
	}

	expired := 0
	for _, a := range stale {
		if b.expire(ctx, a) {
			expired++
		}
	}
	if expired > 0 {
		b.logger.Info("expired stale proposals", "count", expired, "cutoff", cutoff)
	}
	return expired
}

func (b *Broker) expire(ctx context.Context, a *store.MatchAttempt) bool {
	if err := b.store.UpdateMatchStatus(ctx, a.ID, store.MatchStatusExpired); err != nil {
		// answered between listing and updating
		if !errors.Is(err, store.ErrNotProposed) {
			b.logger.Error("failed to expire proposal", "attempt_id", a.ID, "error", err)
		}
		return false
	}
	a.Status = store.MatchStatusExpired
	b.announceExpired(a)
	return true
}

func (b *Broker) announceExpired(a *store.MatchAttempt) {
	b.metrics.IncExpired(1)
	if b.hermes != nil {
		_ = b.hermes.Publish(hermes.SubjectAttemptExpired(a.ID.String()), attemptEvent(a))
	}
}

func (b *Broker) publishStats(ctx context.Context) {
	if b.hermes == nil {
		return
	}
	stats, err := b.store.GetStats(ctx)
	if err != nil {
		b.logger.Warn("failed to load match stats", "error", err)
		return
	}
	_ = b.hermes.Publish(hermes.SubjectMatchStats, hermes.StatsEvent{
		Proposed:  stats.TotalProposed,
		Accepted:  stats.TotalAccepted,
		Declined:  stats.TotalDeclined,
		Expired:   stats.TotalExpired,
		AvgScore:  stats.AvgScore,
		Timestamp: b.now(),
	})
}
