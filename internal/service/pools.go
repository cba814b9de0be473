// Package service reúne los casos de uso que consume la API HTTP: la fuente de pools
// con last-known-good, el flujo de predicción de un mercado y las vistas derivadas.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/destaker/internal/domain"
	"github.com/alejandrodnm/destaker/internal/metrics"
	"github.com/alejandrodnm/destaker/internal/ports"
)

const (
	// DefaultPoolTTL es cuánto se reutiliza un fetch antes de volver a pedir la lista.
	DefaultPoolTTL = 5 * time.Minute
	// RelevantMinTVL es el TVL mínimo de los pools que se guardan en la cache persistente.
	RelevantMinTVL = 1_000_000
	// YieldsLimit es el número de pools que devuelven /yields y /yields/refresh.
	YieldsLimit = 50
)

// PoolSource implementa ports.PoolProvider sobre el upstream con dos niveles de cache:
// la última lista buena en memoria y el snapshot de pools relevantes en storage.
// Si el upstream falla se sirve lo último conocido; solo sin nada cacheado devuelve error.
type PoolSource struct {
	upstream ports.PoolProvider
	store    ports.Storage
	patterns *domain.PatternTable
	ttl      time.Duration
	metrics  *metrics.Registry
	now      func() time.Time

	mu        sync.Mutex
	cached    []domain.PoolRecord
	fetchedAt time.Time
}

// NewPoolSource crea la fuente. store, patterns y m pueden ser nil; ttl <= 0 usa DefaultPoolTTL.
func NewPoolSource(upstream ports.PoolProvider, store ports.Storage, patterns *domain.PatternTable, ttl time.Duration, m *metrics.Registry) *PoolSource {
	if patterns == nil {
		patterns = domain.NewPatternTable(nil)
	}
	if ttl <= 0 {
		ttl = DefaultPoolTTL
	}
	return &PoolSource{
		upstream: upstream,
		store:    store,
		patterns: patterns,
		ttl:      ttl,
		metrics:  m,
		now:      time.Now,
	}
}

// FetchPools devuelve la lista completa de pools, reutilizando el último fetch si es reciente.
func (s *PoolSource) FetchPools(ctx context.Context) ([]domain.PoolRecord, error) {
	s.mu.Lock()
	if s.cached != nil && s.now().Sub(s.fetchedAt) < s.ttl {
		pools := s.cached
		s.mu.Unlock()
		s.metrics.ObservePoolFetch("cached")
		return pools, nil
	}
	s.mu.Unlock()

	pools, err := s.fetch(ctx)
	if err == nil {
		return pools, nil
	}

	if stale := s.lastKnownGood(ctx); len(stale) > 0 {
		slog.Warn("pool fetch failed, serving last known good", "pools", len(stale), "err", err)
		return stale, nil
	}
	return nil, err
}

// Refresh fuerza un fetch al upstream, guarda los pools relevantes y devuelve los
// YieldsLimit de mayor TVL.
func (s *PoolSource) Refresh(ctx context.Context) ([]domain.PoolRecord, error) {
	pools, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if s.store != nil {
		if top, err := s.store.LoadPools(ctx, YieldsLimit); err == nil && len(top) > 0 {
			return top, nil
		}
	}
	return domain.TopByTVL(s.Relevant(pools), YieldsLimit), nil
}

// Yields devuelve los pools relevantes cacheados, de mayor a menor TVL, sin tocar el upstream.
func (s *PoolSource) Yields(ctx context.Context, limit int) ([]domain.PoolRecord, error) {
	if limit <= 0 {
		limit = YieldsLimit
	}
	if s.store != nil {
		pools, err := s.store.LoadPools(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("service.Yields: %w", err)
		}
		if len(pools) > 0 {
			return pools, nil
		}
	}

	s.mu.Lock()
	cached := s.cached
	s.mu.Unlock()
	return domain.TopByTVL(s.Relevant(cached), limit), nil
}

// Relevant filtra los pools que coinciden con algún asset conocido y superan RelevantMinTVL.
func (s *PoolSource) Relevant(pools []domain.PoolRecord) []domain.PoolRecord {
	return domain.FilterMinTVL(domain.MatchPools(pools, s.patterns.Union()), RelevantMinTVL)
}

func (s *PoolSource) fetch(ctx context.Context) ([]domain.PoolRecord, error) {
	pools, err := s.upstream.FetchPools(ctx)
	if err != nil {
		s.metrics.ObservePoolFetch("error")
		return nil, fmt.Errorf("service.FetchPools: %w", err)
	}
	s.metrics.ObservePoolFetch("ok")

	s.mu.Lock()
	s.cached = pools
	s.fetchedAt = s.now()
	s.mu.Unlock()

	if s.store != nil {
		relevant := s.Relevant(pools)
		if err := s.store.SavePools(ctx, relevant); err != nil {
			slog.Warn("failed to cache pools", "pools", len(relevant), "err", err)
		} else {
			slog.Debug("pools cached", "total", len(pools), "relevant", len(relevant))
		}
	}
	return pools, nil
}

func (s *PoolSource) lastKnownGood(ctx context.Context) []domain.PoolRecord {
	s.mu.Lock()
	cached := s.cached
	s.mu.Unlock()
	if len(cached) > 0 {
		return cached
	}
	if s.store == nil {
		return nil
	}
	pools, err := s.store.LoadPools(ctx, 0)
	if err != nil {
		slog.Warn("failed to load cached pools", "err", err)
		return nil
	}
	return pools
}
