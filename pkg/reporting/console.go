package reporting

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/crypto-execution-core/internal/exchange"
	"github.com/ducminhle1904/crypto-execution-core/internal/orders"
	"github.com/ducminhle1904/crypto-execution-core/internal/risk"
)

// ConsoleReporter renders engine state as terminal tables
type ConsoleReporter struct{}

// NewConsoleReporter creates a new console reporter
func NewConsoleReporter() *ConsoleReporter {
	return &ConsoleReporter{}
}

// PrintVenues renders the registered venues and their connection status
func (r *ConsoleReporter) PrintVenues(venues []exchange.ExchangeInfo) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("REGISTERED EXCHANGES")
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"ID", "Type", "Status"})
	for _, venue := range venues {
		t.AppendRow(table.Row{venue.ID, venue.Type, string(venue.Status)})
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 15, Align: text.AlignLeft},
		{Number: 3, Align: text.AlignLeft},
	})

	t.Render()
	fmt.Println()
}

// PrintRiskReport renders a portfolio risk report
func (r *ConsoleReporter) PrintRiskReport(report *risk.RiskReport) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("RISK REPORT - %s", report.PortfolioID))
	t.SetStyle(table.StyleRounded)

	names := make([]string, 0, len(report.RiskMetrics))
	for name := range report.RiskMetrics {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t.AppendRow(table.Row{name, fmt.Sprintf("%.4f", report.RiskMetrics[name])})
	}
	t.AppendSeparator()
	t.AppendRow(table.Row{"overall_risk_score", fmt.Sprintf("%.4f", report.OverallRiskScore)})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 25, Align: text.AlignLeft},
		{Number: 2, WidthMin: 12, Align: text.AlignRight},
	})

	t.Render()
	fmt.Println()
}

// PrintRealTimeChecks renders the outcome of the risk check battery
func (r *ConsoleReporter) PrintRealTimeChecks(result *risk.RealTimeCheckResult) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("RISK CHECKS - %s (%s)", result.PortfolioID, result.OverallSeverity))
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"Check", "Value", "Limit", "Severity"})
	for _, check := range result.Checks {
		t.AppendRow(table.Row{
			check.Name,
			fmt.Sprintf("%.4f", check.Value),
			fmt.Sprintf("%.4f", check.Limit),
			string(check.Severity),
		})
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})

	t.Render()
	fmt.Println()
}

// PrintExecutionAnalytics renders the strategy order summary
func (r *ConsoleReporter) PrintExecutionAnalytics(analytics *orders.ExecutionAnalytics) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	title := "EXECUTION ANALYTICS"
	if analytics.Window > 0 {
		title = fmt.Sprintf("EXECUTION ANALYTICS (last %s)", analytics.Window)
	}
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Total Orders", analytics.TotalOrders},
		{"Active", analytics.ActiveOrders},
		{"Filled", analytics.FilledOrders},
		{"Partially Filled", analytics.PartialOrders},
		{"Canceled", analytics.CanceledOrders},
		{"Failed", analytics.FailedOrders},
		{"Success Rate", fmt.Sprintf("%.1f%%", analytics.SuccessRate*100)},
		{"Child Orders", analytics.TotalChildOrders},
		{"Avg Execution Time", analytics.AvgExecutionTime.Round(time.Millisecond).String()},
	})

	if len(analytics.ByStrategy) > 0 {
		t.AppendSeparator()
		strategies := make([]string, 0, len(analytics.ByStrategy))
		for name := range analytics.ByStrategy {
			strategies = append(strategies, name)
		}
		sort.Strings(strategies)
		for _, name := range strategies {
			stats := analytics.ByStrategy[name]
			t.AppendRow(table.Row{
				name,
				fmt.Sprintf("%d total / %d filled / %d failed", stats.Total, stats.Filled, stats.Failed),
			})
		}
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 20, Align: text.AlignLeft},
		{Number: 2, WidthMin: 15, Align: text.AlignLeft},
	})

	t.Render()
	fmt.Println()
}

// PrintOrders renders strategy order lifecycle records
func (r *ConsoleReporter) PrintOrders(orderStates []*orders.OrderExecutionState) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("STRATEGY ORDERS")
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"Order ID", "Strategy", "Symbol", "Side", "Status", "Filled", "Avg Price", "Children"})
	for _, order := range orderStates {
		t.AppendRow(table.Row{
			order.OrderID,
			string(order.StrategyType),
			order.Symbol,
			string(order.Side),
			string(order.Status),
			fmt.Sprintf("%.8f", order.FilledQty),
			fmt.Sprintf("%.2f", order.AvgFillPrice),
			len(order.ChildOrders),
		})
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})

	t.Render()
	fmt.Println()
}

// PrintPortfolios renders risk portfolio snapshots
func (r *ConsoleReporter) PrintPortfolios(portfolios []*risk.Portfolio) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("PORTFOLIOS")
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"ID", "Cash", "Total Value", "Positions", "Gross Exposure"})
	for _, portfolio := range portfolios {
		t.AppendRow(table.Row{
			portfolio.ID,
			fmt.Sprintf("$%.2f", portfolio.Cash),
			fmt.Sprintf("$%.2f", portfolio.TotalValue),
			len(portfolio.Positions),
			fmt.Sprintf("$%.2f", portfolio.GrossExposure()),
		})
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})

	t.Render()
	fmt.Println()
}
