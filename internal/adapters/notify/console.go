package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/destaker/internal/domain"
	"github.com/alejandrodnm/destaker/internal/ports"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Notify imprime los settlements del batch en el modo configurado.
func (c *Console) Notify(_ context.Context, report ports.BatchReport) error {
	now := time.Now().Format("15:04:05")
	if len(report.Settlements) == 0 {
		fmt.Fprintf(c.out, "[%s] no settlements produced\n", now)
		c.printErrors(report.Errors)
		return nil
	}

	if c.table {
		fmt.Fprintf(c.out, "\n[%s] execution %s: %d settlements, %d errors\n",
			now, shortID(report.ExecutionID), len(report.Settlements), len(report.Errors))
		c.printSettlements(report.Settlements)
	} else {
		c.printCompact(now, report)
	}
	c.printErrors(report.Errors)
	return nil
}

// printCompact imprime lo esencial en una línea.
func (c *Console) printCompact(now string, report ports.BatchReport) {
	yes, no, fallback := countOutcomes(report.Settlements)

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %d mkts → YES:%d NO:%d fallback:%d err:%d",
		now, len(report.Settlements), yes, no, fallback, len(report.Errors))
	for i, s := range report.Settlements {
		if i >= 4 {
			break
		}
		fmt.Fprintf(&sb, " | %s %.2f%% %s(%.2f)", truncate(s.Asset, 12), s.CurrentAPY, s.Outcome, s.Confidence)
	}
	fmt.Fprintln(c.out, sb.String())
}

// printSettlements imprime la tabla de settlements.
func (c *Console) printSettlements(results []domain.SettlementResult) {
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Market", "Asset", "APY", "Threshold", "Outcome", "Conf", "Source", "Reasoning")

	for i, s := range results {
		table.Append(
			fmt.Sprintf("%d", i+1),
			s.MarketID,
			s.Asset,
			fmt.Sprintf("%.2f%%", s.CurrentAPY),
			fmt.Sprintf("%g%%", s.Threshold),
			string(s.Outcome),
			fmt.Sprintf("%.2f", s.Confidence),
			string(s.Source),
			truncate(s.Reasoning, 48),
		)
	}
	table.Render()
}

func (c *Console) printErrors(errs []string) {
	for _, e := range errs {
		fmt.Fprintf(c.out, "  ⚠ %s\n", e)
	}
}

// PrintMarkets imprime el tablero de mercados con precios YES/NO.
func (c *Console) PrintMarkets(views []domain.DerivedMarketView) {
	if len(views) == 0 {
		fmt.Fprintln(c.out, "no markets configured")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("ID", "Asset", "Question", "Yield", "YES", "NO", "Vol 24h", "Ends", "AI")

	for _, v := range views {
		ai := "-"
		if v.HasPrediction && v.PredictionConfidence != nil {
			ai = fmt.Sprintf("%s %.0f%%", v.PredictionDirection, *v.PredictionConfidence*100)
		}
		table.Append(
			v.ID,
			v.Asset,
			truncate(v.Question(), 40),
			fmt.Sprintf("%.2f%%", v.CurrentYield),
			fmt.Sprintf("%.2f", v.YesPrice),
			fmt.Sprintf("%.2f", v.NoPrice),
			compactUSD(v.Volume24h),
			v.TimeRemaining,
			ai,
		)
	}
	table.Render()
}

// PrintSimulation imprime los pasos de una ejecución simulada y sus settlements.
func (c *Console) PrintSimulation(r domain.SimulationReport) {
	fmt.Fprintf(c.out, "\n=== WORKFLOW SIMULATION %s — %s (%dms) ===\n",
		shortID(r.ExecutionID), strings.ToUpper(string(r.Status)), r.DurationMs)

	table := tablewriter.NewWriter(c.out)
	table.Header("Step", "Status", "ms", "Detail")
	for _, s := range r.Steps {
		table.Append(s.Name, string(s.Status), fmt.Sprintf("%d", s.DurationMs), truncate(s.Detail, 60))
	}
	table.Render()

	if len(r.Settlements) > 0 {
		c.printSettlements(r.Settlements)
	}
	c.printErrors(r.Errors)
}

// --- helpers ---

func countOutcomes(results []domain.SettlementResult) (yes, no, fallback int) {
	for _, s := range results {
		switch s.Outcome {
		case domain.OutcomeYes:
			yes++
		case domain.OutcomeNo:
			no++
		}
		if s.Source == domain.SourceFallback {
			fallback++
		}
	}
	return
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func compactUSD(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("$%.1fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("$%.1fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("$%.0fK", v/1e3)
	default:
		return fmt.Sprintf("$%.0f", v)
	}
}
