package pricefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gold_tally/internal/utils"

	"github.com/sirupsen/logrus"
)

// CacheKey is where the last good quote is shared between instances
const CacheKey = "pricefeed:spot"

// Service keeps the last good quote. Spot serves it while it is fresher than
// maxAge and otherwise fetches synchronously.
type Service struct {
	source Source
	cache  utils.Cache
	maxAge time.Duration
	log    logrus.FieldLogger

	mu   sync.RWMutex
	last Rate
}

// NewService builds a price service; cache may be nil
func NewService(source Source, cache utils.Cache, maxAge time.Duration, log logrus.FieldLogger) *Service {
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{source: source, cache: cache, maxAge: maxAge, log: log}
}

// Spot returns a quote no older than maxAge
func (s *Service) Spot(ctx context.Context) (Rate, error) {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()
	if last.USDPerGram.IsPositive() && time.Since(last.FetchedAt) < s.maxAge {
		return last, nil
	}

	if s.cache != nil {
		var shared Rate
		if ok, err := s.cache.Get(ctx, CacheKey, &shared); err == nil && ok && shared.USDPerGram.IsPositive() && time.Since(shared.FetchedAt) < s.maxAge {
			s.remember(shared)
			return shared, nil
		}
	}
	return s.Refresh(ctx)
}

// Refresh fetches from the source and publishes the quote
func (s *Service) Refresh(ctx context.Context) (Rate, error) {
	rate, err := s.source.Fetch(ctx)
	if err != nil {
		return Rate{}, fmt.Errorf("refresh spot price: %w", err)
	}
	s.remember(rate)
	if s.cache != nil {
		if err := s.cache.Set(ctx, CacheKey, rate, s.maxAge); err != nil {
			s.log.WithField("error", err).Warn("failed to cache spot price")
		}
	}
	return rate, nil
}

func (s *Service) remember(r Rate) {
	s.mu.Lock()
	s.last = r
	s.mu.Unlock()
}

// Run refreshes on every tick until ctx is done. Failures are logged and the
// previous quote stays in place.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rate, err := s.Refresh(ctx)
			if err != nil {
				s.log.WithField("error", err).Error("spot price refresh failed")
				continue
			}
			s.log.WithFields(logrus.Fields{"usd_per_gram": rate.USDPerGram.String(), "source": rate.Source}).Debug("spot price refreshed")
		}
	}
}
