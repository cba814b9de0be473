package workflow

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// PacerConfig es la política de ritmo de llamadas al clasificador: como mucho una llamada
// en vuelo, un intervalo mínimo entre llamadas y backoff exponencial tras un 429.
type PacerConfig struct {
	MinInterval time.Duration
	Backoff     time.Duration
	Multiplier  float64
	MaxBackoff  time.Duration
}

// Pacer es el objeto que el orquestador consulta antes de cada llamada al clasificador.
// Un mismo Pacer compartido entre batches concurrentes serializa sus llamadas.
type Pacer struct {
	limiter  *rate.Limiter
	inflight *semaphore.Weighted
	cfg      PacerConfig

	mu      sync.Mutex
	current time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewPacer crea un Pacer. MinInterval <= 0 desactiva el intervalo mínimo.
func NewPacer(cfg PacerConfig) *Pacer {
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = cfg.Backoff
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Pacer{
		limiter:  rate.NewLimiter(limit, 1),
		inflight: semaphore.NewWeighted(1),
		cfg:      cfg,
		current:  cfg.Backoff,
		sleep:    sleepCtx,
	}
}

// Acquire reserva el turno de la siguiente llamada: espera a que no haya otra en vuelo
// y a que pase el intervalo mínimo. release devuelve el turno y se llama una sola vez,
// después de la llamada y de su backoff si lo hubo.
func (p *Pacer) Acquire(ctx context.Context) (release func(), err error) {
	if err := p.inflight.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := p.Wait(ctx); err != nil {
		p.inflight.Release(1)
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { p.inflight.Release(1) }) }, nil
}

// Wait bloquea hasta que pase el intervalo mínimo. No reserva turno: ver Acquire.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Backoff espera el backoff actual tras un 429 y lo escala para el siguiente.
// Devuelve la espera aplicada.
func (p *Pacer) Backoff(ctx context.Context) (time.Duration, error) {
	p.mu.Lock()
	wait := p.current
	next := time.Duration(float64(p.current) * p.cfg.Multiplier)
	if next > p.cfg.MaxBackoff {
		next = p.cfg.MaxBackoff
	}
	p.current = next
	p.mu.Unlock()

	return wait, p.sleep(ctx, wait)
}

// Success resetea el backoff tras una llamada que no fue rate-limited.
func (p *Pacer) Success() {
	p.mu.Lock()
	p.current = p.cfg.Backoff
	p.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
