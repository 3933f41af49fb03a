package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/keeperlabs/stakekeeper/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implements ports.Notifier writing to a terminal.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole creates a notifier that writes to stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter creates a notifier for tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// CycleSummary prints one finished cycle in the configured mode.
func (c *Console) CycleSummary(_ context.Context, r domain.CycleReport) error {
	if c.table {
		c.printFull(r)
	} else {
		c.printCompact(r)
	}
	return nil
}

// Alert prints an urgent condition so it stands out in the scroll.
func (c *Console) Alert(_ context.Context, subject, body string) error {
	fmt.Fprintf(c.out, "\n  !! %s — %s\n\n", subject, body)
	return nil
}

// printCompact keeps the whole cycle on one line.
func (c *Console) printCompact(r domain.CycleReport) {
	now := r.Timestamp.Format("15:04:05")
	executed, failed := countOutcomes(r.Executed)

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] cycle %d | gas %.4f | stable $%.2f | pool $%.2f | stakes %d",
		now, r.Cycle, r.Balances.Native, r.Balances.Stable, r.Balances.Pool, r.OpenStakes)

	if r.Yield > 0 {
		fmt.Fprintf(&sb, " | yield $%.4f", r.Yield)
	}
	if executed > 0 || failed > 0 {
		fmt.Fprintf(&sb, " | actions %d", executed)
		if failed > 0 {
			fmt.Fprintf(&sb, " (%d failed)", failed)
		}
	}
	if r.DryRun {
		sb.WriteString(" | DRY-RUN")
	}
	fmt.Fprintf(&sb, " | %.1fs", r.Duration.Seconds())

	fmt.Fprintln(c.out, sb.String())
}

// printFull prints the cycle header plus one table row per action.
func (c *Console) printFull(r domain.CycleReport) {
	c.printCompact(r)
	if len(r.Executed) == 0 {
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Action", "Stable$", "Tx", "OK", "Detail")
	for _, a := range r.Executed {
		ok := "yes"
		if !a.Success {
			ok = "NO"
		}
		table.Append(
			string(a.Action),
			fmt.Sprintf("$%.2f", a.StableAmount),
			shortTx(a.TxID),
			ok,
			truncate(a.Description, 48),
		)
	}
	table.Render()
}

// TreasuryReport bundles everything the offline report renders.
type TreasuryReport struct {
	Revenue     float64
	Costs       float64
	BySource    map[string]float64
	ByCategory  map[string]float64
	Actions     []domain.ActionRecord
	Balances    *domain.Balances // nil when the chain was not reachable
	CycleCount  int64
	LastCycleAt time.Time
}

// PrintTreasuryReport renders the lifetime financial picture from the ledger.
func (c *Console) PrintTreasuryReport(r TreasuryReport) {
	fmt.Fprintf(c.out, "\n╔══════════════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(c.out, "║  TREASURY REPORT                                                 ║\n")
	fmt.Fprintf(c.out, "╚══════════════════════════════════════════════════════════════════╝\n\n")

	if r.CycleCount > 0 {
		fmt.Fprintf(c.out, "  Cycles run:       %d (last at %s)\n",
			r.CycleCount, r.LastCycleAt.Format("2006-01-02 15:04:05"))
	}
	if r.Balances != nil {
		fmt.Fprintf(c.out, "  Gas balance:      %.4f\n", r.Balances.Native)
		fmt.Fprintf(c.out, "  Liquid stable:    $%.2f\n", r.Balances.Stable)
		fmt.Fprintf(c.out, "  Pool position:    $%.2f\n", r.Balances.Pool)
	}

	fmt.Fprintf(c.out, "\n  --- P&L ---\n")
	fmt.Fprintf(c.out, "  Total revenue:    $%.4f\n", r.Revenue)
	fmt.Fprintf(c.out, "  Total costs:      $%.4f\n", r.Costs)
	fmt.Fprintf(c.out, "  Net profit:       $%.4f\n", r.Revenue-r.Costs)

	if len(r.BySource) > 0 {
		fmt.Fprintf(c.out, "\n  --- REVENUE BY SOURCE ---\n")
		for _, k := range sortedKeys(r.BySource) {
			fmt.Fprintf(c.out, "  %-18s $%.4f\n", k, r.BySource[k])
		}
	}
	if len(r.ByCategory) > 0 {
		fmt.Fprintf(c.out, "\n  --- COSTS BY CATEGORY ---\n")
		for _, k := range sortedKeys(r.ByCategory) {
			fmt.Fprintf(c.out, "  %-18s $%.4f\n", k, r.ByCategory[k])
		}
	}

	if len(r.Actions) > 0 {
		fmt.Fprintf(c.out, "\n  --- RECENT ACTIONS ---\n")
		table := tablewriter.NewWriter(c.out)
		table.Header("When", "Action", "Stable$", "OK", "Tx")
		for _, a := range r.Actions {
			ok := "yes"
			if !a.Success {
				ok = "NO"
			}
			table.Append(
				a.Timestamp.Format("01-02 15:04"),
				string(a.Action),
				fmt.Sprintf("$%.2f", a.StableAmount),
				ok,
				shortTx(a.TxID),
			)
		}
		table.Render()
	}
	fmt.Fprintln(c.out)
}

// --- helpers ---

func countOutcomes(actions []domain.ActionRecord) (ok, failed int) {
	for _, a := range actions {
		if a.Success {
			ok++
		} else {
			failed++
		}
	}
	return
}

func shortTx(tx string) string {
	if len(tx) > 14 {
		return tx[:12] + "..."
	}
	if tx == "" {
		return "-"
	}
	return tx
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
