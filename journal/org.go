package journal

import (
	"fmt"
	"strings"
	"time"
)

// FormatTradeOrg renders a TradeRecord and its exit legs as an Org-mode
// block suitable for pasting into a trading journal.
func FormatTradeOrg(t TradeRecord, exits []ExitRecord) string {
	heading := fmt.Sprintf("** Trade: %s %s (%s)", t.Symbol, t.Side, shortID(t.PositionID))
	open := t.OpenTime.UTC().Format(time.RFC3339)
	close := t.CloseTime.UTC().Format(time.RFC3339)

	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	b.WriteString(":PROPERTIES:\n")
	b.WriteString(fmt.Sprintf(":ID: %s\n", t.PositionID))
	b.WriteString(fmt.Sprintf(":SYMBOL: %s\n", t.Symbol))
	b.WriteString(fmt.Sprintf(":SIDE: %s\n", t.Side))
	b.WriteString(fmt.Sprintf(":PROFILE: %s\n", t.Profile))
	b.WriteString(fmt.Sprintf(":QTY: %g\n", t.Qty))
	b.WriteString(fmt.Sprintf(":ENTRY_PLAN: %.5f\n", t.EntryPlan))
	b.WriteString(fmt.Sprintf(":ENTRY_EXEC: %.5f\n", t.EntryExec))
	b.WriteString(fmt.Sprintf(":EXIT_AVG: %.5f\n", t.ExitAvg))
	b.WriteString(fmt.Sprintf(":OPEN_TIME: %s\n", open))
	b.WriteString(fmt.Sprintf(":CLOSE_TIME: %s\n", close))
	b.WriteString(fmt.Sprintf(":REALIZED_PL: %.2f\n", t.RealizedPL))
	b.WriteString(fmt.Sprintf(":EXITS: %s\n", t.Labels))
	b.WriteString(":END:\n")
	if len(exits) > 0 {
		b.WriteString("\n| Label | Fraction | Price | P/L |\n|-------+----------+-------+-----|\n")
		for _, x := range exits {
			b.WriteString(fmt.Sprintf("| %s | %.4f | %.5f | %.2f |\n", x.Label, x.Fraction, x.ExecPrice, x.PnL))
		}
	}
	b.WriteString("\n")
	b.WriteString("*** Thesis\n- \n\n")
	b.WriteString("*** Execution\n- \n\n")
	b.WriteString("*** Review\n- \n")

	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
