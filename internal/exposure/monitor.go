package exposure

import (
	"context"
	"time"

	"gold_tally/internal/utils"

	"github.com/sirupsen/logrus"
)

// CacheKey holds the last computed dashboard
const CacheKey = "exposure:dashboard"

// Monitor recomputes the dashboard on an interval and publishes it to the cache
type Monitor struct {
	agg   *Aggregator
	cache utils.Cache
	ttl   time.Duration
	log   logrus.FieldLogger
}

// NewMonitor builds a monitor; cache may be nil
func NewMonitor(agg *Aggregator, cache utils.Cache, ttl time.Duration, log logrus.FieldLogger) *Monitor {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Monitor{agg: agg, cache: cache, ttl: ttl, log: log}
}

// Refresh recomputes, caches and logs every alert
func (m *Monitor) Refresh(ctx context.Context) (*Dashboard, error) {
	d, err := m.agg.Dashboard(ctx)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		if err := m.cache.Set(ctx, CacheKey, d, m.ttl); err != nil {
			m.log.WithField("error", err).Warn("failed to cache exposure dashboard")
		}
	}
	for _, a := range d.Alerts {
		m.log.WithFields(logrus.Fields{"code": a.Code, "unlinked": d.UnlinkedDeposits}).Warn(a.Message)
	}
	return d, nil
}

// Dashboard serves the cached snapshot when present. The flag reports a cache hit.
func (m *Monitor) Dashboard(ctx context.Context) (*Dashboard, bool, error) {
	if m.cache != nil {
		var d Dashboard
		ok, err := m.cache.Get(ctx, CacheKey, &d)
		if err != nil {
			m.log.WithField("error", err).Warn("failed to read cached exposure dashboard")
		}
		if ok && err == nil {
			return &d, true, nil
		}
	}
	d, err := m.Refresh(ctx)
	return d, false, err
}

// Invalidate drops the cached dashboard so the next read recomputes it.
// Call it after any commit that moves a wallet, vault or the cash ledger.
func (m *Monitor) Invalidate(ctx context.Context) {
	if m == nil || m.cache == nil {
		return
	}
	if err := m.cache.Delete(ctx, CacheKey); err != nil {
		m.log.WithField("error", err).Warn("failed to invalidate cached exposure dashboard")
	}
}

// Run refreshes on every tick until ctx is done
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d, err := m.Refresh(ctx)
			if err != nil {
				m.log.WithField("error", err).Error("coverage recompute failed")
				continue
			}
			m.log.WithFields(logrus.Fields{"alerts": len(d.Alerts), "cash_consistent": d.CashConsistent}).Debug("coverage recomputed")
		}
	}
}
