package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders a report as a Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Trade Performance Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Window: %s\n\n", formatWindow(r.WindowStart, r.WindowEnd)))

	// Summary
	sb.WriteString("## Summary\n\n")
	if r.Summary.TotalTrades > 0 {
		sb.WriteString("| Metric | Value |\n")
		sb.WriteString("|--------|-------|\n")
		sb.WriteString(fmt.Sprintf("| Total Trades | %d |\n", r.Summary.TotalTrades))
		sb.WriteString(fmt.Sprintf("| Wins | %d |\n", r.Summary.Wins))
		sb.WriteString(fmt.Sprintf("| Losses | %d |\n", r.Summary.Losses))
		sb.WriteString(fmt.Sprintf("| Win Rate | %.4f |\n", r.Summary.WinRate))
		sb.WriteString(fmt.Sprintf("| Gross R | %+.4f |\n", r.Summary.GrossRTotal))
		sb.WriteString(fmt.Sprintf("| Cost R | %.4f |\n", r.Summary.CostRTotal))
		sb.WriteString(fmt.Sprintf("| Net R | %+.4f |\n", r.Summary.NetRTotal))
		sb.WriteString(fmt.Sprintf("| Max Drawdown (R) | %.4f |\n", r.Summary.MaxDrawdownR))
		sb.WriteString(fmt.Sprintf("| Max Consecutive Losses | %d |\n", r.Summary.MaxConsecutiveLosses))
	} else {
		sb.WriteString("No completed trades in window.\n")
	}
	sb.WriteString("\n")

	// Mode/timeframe breakdown
	sb.WriteString("## By Mode and Timeframe\n\n")
	if len(r.Groups) > 0 {
		sb.WriteString("| Mode | Timeframe | Trades | Wins | Losses | WinRate | NetR | Mean | Median | P10 | P90 | Stddev | MaxDD | MaxLossStreak |\n")
		sb.WriteString("|------|-----------|--------|------|--------|---------|------|------|--------|-----|-----|--------|-------|---------------|\n")
		for _, g := range r.Groups {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %d | %.4f | %+.4f | %.4f | %.4f | %.4f | %.4f | %.4f | %.4f | %d |\n",
				g.TradeMode, g.Timeframe,
				g.TotalTrades, g.Wins, g.Losses, g.WinRate,
				g.NetRTotal, g.NetRMean, g.NetRMedian,
				g.NetRP10, g.NetRP90, g.NetRStddev,
				g.MaxDrawdownR, g.MaxConsecutiveLosses))
		}
	} else {
		sb.WriteString("No group breakdown available.\n")
	}
	sb.WriteString("\n")

	// Exit reasons
	sb.WriteString("## Exit Reasons\n\n")
	if len(r.Reasons) > 0 {
		sb.WriteString("| Reason | Count | Share |\n")
		sb.WriteString("|--------|-------|-------|\n")
		for _, row := range r.Reasons {
			sb.WriteString(fmt.Sprintf("| %s | %d | %.4f |\n", row.Reason, row.Count, row.Share))
		}
	} else {
		sb.WriteString("No exit reason data available.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

// formatWindow describes the report window. Zero bounds are open.
func formatWindow(start, end int64) string {
	switch {
	case start == 0 && end == 0:
		return "all completed trades"
	case end == 0:
		return fmt.Sprintf("from %d (ms, open end)", start)
	case start == 0:
		return fmt.Sprintf("up to %d (ms)", end)
	default:
		return fmt.Sprintf("%d to %d (ms)", start, end)
	}
}
