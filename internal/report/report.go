// Package report formats the admin control surface's status and stats
// snapshots for an operator console, the way the scanner's console notifier
// formatted opportunity scans.
package report

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
)

// Console prints SystemStatus and DailyStats snapshots to an io.Writer.
type Console struct {
	out io.Writer
}

// NewConsole builds a Console writing to stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter builds a Console writing to w, for tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// PrintStatus renders a HealthCheck snapshot as a one-line summary plus a
// two-column table of its fields.
func (c *Console) PrintStatus(s domain.SystemStatus) {
	now := time.Now().Format("15:04:05")
	health := "OK"
	if !s.DBConnected || !s.DataFeedConnected || s.EmergencyStopActive {
		health = "DEGRADED"
	}
	fmt.Fprintf(c.out, "[%s] coordinator %s — state:%s uptime:%s\n",
		now, health, s.LifecycleState, (time.Duration(s.UptimeSeconds) * time.Second).String())

	table := tablewriter.NewWriter(c.out)
	table.Header("Field", "Value")
	table.Append("lifecycle_state", string(s.LifecycleState))
	table.Append("db_connected", fmt.Sprintf("%t", s.DBConnected))
	table.Append("data_feed_connected", fmt.Sprintf("%t", s.DataFeedConnected))
	table.Append("error_count_1h", fmt.Sprintf("%d", s.ErrorCount1h))
	table.Append("emergency_stop_active", fmt.Sprintf("%t", s.EmergencyStopActive))
	if s.LastTradeAt != nil {
		table.Append("last_trade_at", s.LastTradeAt.Format(time.RFC3339))
	} else {
		table.Append("last_trade_at", "-")
	}
	table.Render()
}

// PrintDailyStats renders an account's rolling-day execution rollup.
func (c *Console) PrintDailyStats(s domain.DailyStats) {
	fmt.Fprintf(c.out, "\n=== daily stats: %s ===\n", s.AccountID)

	table := tablewriter.NewWriter(c.out)
	table.Header("Metric", "Value")
	table.Append("total_trades", fmt.Sprintf("%d", s.TotalTrades))
	table.Append("successful_trades", fmt.Sprintf("%d", s.SuccessfulTrades))
	table.Append("failed_trades", fmt.Sprintf("%d", s.FailedTrades))
	table.Append("win_rate", fmt.Sprintf("%.1f%%", s.WinRate*100))
	table.Append("total_volume", fmt.Sprintf("$%s", s.TotalVolume.StringFixed(2)))
	table.Append("pnl", fmt.Sprintf("$%s", s.PnL.StringFixed(4)))
	table.Append("avg_fill_latency_ms", fmt.Sprintf("%d", s.AvgFillLatencyMS))
	table.Append("active_positions", fmt.Sprintf("%d", s.ActivePositions))
	table.Render()

	verdict := "NET NEGATIVE"
	if s.PnL.IsPositive() {
		verdict = "NET POSITIVE"
	} else if s.PnL.IsZero() {
		verdict = "FLAT"
	}
	fmt.Fprintf(c.out, "  >>> %s\n\n", verdict)
}
