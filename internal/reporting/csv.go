package reporting

import (
	"fmt"
	"strings"
)

// RenderCSV renders the mode/timeframe breakdown as a CSV string.
func RenderCSV(groups []GroupRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("trade_mode,timeframe,total_trades,wins,losses,win_rate,")
	sb.WriteString("net_r_total,net_r_mean,net_r_median,net_r_p10,net_r_p90,net_r_stddev,")
	sb.WriteString("max_drawdown_r,max_consecutive_losses\n")

	// Rows
	for _, g := range groups {
		sb.WriteString(fmt.Sprintf("%s,%s,%d,%d,%d,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%d\n",
			g.TradeMode,
			g.Timeframe,
			g.TotalTrades,
			g.Wins,
			g.Losses,
			g.WinRate,
			g.NetRTotal,
			g.NetRMean,
			g.NetRMedian,
			g.NetRP10,
			g.NetRP90,
			g.NetRStddev,
			g.MaxDrawdownR,
			g.MaxConsecutiveLosses,
		))
	}

	return sb.String()
}
