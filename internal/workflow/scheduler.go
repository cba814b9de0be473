package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule dispara el workflow cada 30 minutos (formato con segundos).
const DefaultSchedule = "0 */30 * * * *"

var scheduleParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler dispara un job según una expresión cron con campo de segundos.
// Si una ejecución sigue en curso cuando llega el siguiente tick, ese tick se salta:
// el workflow nunca corre en paralelo consigo mismo.
type Scheduler struct {
	schedule cron.Schedule
	spec     string
	job      func(ctx context.Context)
}

// NewScheduler valida la expresión y prepara el scheduler. No arranca nada hasta Run.
func NewScheduler(spec string, job func(ctx context.Context)) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("workflow.NewScheduler: parse schedule %q: %w", spec, err)
	}
	return &Scheduler{schedule: sched, spec: spec, job: job}, nil
}

// Run arranca el cron y bloquea hasta que ctx se cancele. Al salir espera a que
// termine la ejecución en curso, si la hay.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(s.schedule, cron.FuncJob(func() {
		slog.Info("scheduled run triggered", "schedule", s.spec)
		s.job(ctx)
	}))

	c.Start()
	slog.Info("scheduler started", "schedule", s.spec, "next", c.Entries()[0].Next)

	<-ctx.Done()
	<-c.Stop().Done()
	slog.Info("scheduler stopped")
	return nil
}
