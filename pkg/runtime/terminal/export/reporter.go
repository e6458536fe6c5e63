package export

import (
	"fmt"
	"io"
	"os"

	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Reporter renders engine results as terminal tables.
type Reporter struct {
	writer io.Writer
}

func NewReporter(writer io.Writer) *Reporter {
	if writer == nil {
		writer = os.Stdout
	}
	return &Reporter{writer: writer}
}

func (c *Reporter) newTable(title string, header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(c.writer)
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle(title)
	tw.AppendHeader(header)
	return tw
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func (c *Reporter) Summary(s domain.Summary) {
	tw := c.newTable("Cost summary "+s.Period.String(), table.Row{"", "Current", "Previous", "Delta", "Delta %"})
	pct := "n/a"
	if p := s.Comparison.PercentDelta; p != nil {
		pct = fmt.Sprintf("%.1f", *p)
	}
	tw.AppendRow(table.Row{
		"Cost (USD)",
		money(s.Comparison.Current.AmountUSD),
		money(s.Comparison.Previous.AmountUSD),
		money(s.Comparison.AbsoluteDelta),
		pct,
	})
	tw.AppendRow(table.Row{
		"Records",
		s.Comparison.Current.Records,
		s.Comparison.Previous.Records,
		"",
		"",
	})
	tw.SetColumnConfigs(rightAligned(2, 3, 4, 5))
	tw.Render()
}

func (c *Reporter) Breakdown(dim domain.Dimension, period domain.Period, items []domain.BreakdownItem) {
	tw := c.newTable(fmt.Sprintf("Cost by %s %s", dim, period), table.Row{string(dim), "Cost (USD)", "Share %"})
	var total float64
	for _, it := range items {
		tw.AppendRow(table.Row{it.Value, money(it.AmountUSD), fmt.Sprintf("%.1f", it.Percentage)})
		total += it.AmountUSD
	}
	tw.AppendFooter(table.Row{"Total", money(total), ""})
	tw.SetColumnConfigs(rightAligned(2, 3))
	tw.Render()
}

func (c *Reporter) SyncReports(reports []domain.SyncReport) {
	tw := c.newTable("Ingestion", table.Row{"Account", "Period", "Status", "Fetched", "Written", "Unchanged", "Quarantined", "Error"})
	for _, r := range reports {
		status := string(r.Status)
		switch r.Status {
		case domain.SyncStatusFailed:
			status = text.FgRed.Sprint(status)
		case domain.SyncStatusPartialSuccess:
			status = text.FgYellow.Sprint(status)
		}
		var errMsg string
		if r.Err != nil {
			errMsg = r.Err.Error()
		}
		tw.AppendRow(table.Row{r.AccountID, r.Period.String(), status, r.Fetched, r.Written, r.Unchanged, r.Quarantined, errMsg})
	}
	tw.Render()
}

func (c *Reporter) Evaluations(evals []domain.Evaluation) {
	tw := c.newTable("Alarm evaluation", table.Row{"Rule", "Triggered", "Current", "Threshold", "Severity", "Window", "Note"})
	for _, e := range evals {
		note := e.Reason
		if e.Deduplicated {
			note = "updated existing event " + e.EventID
		} else if e.EventID != "" {
			note = "opened event " + e.EventID
		}
		tw.AppendRow(table.Row{e.RuleID, e.Triggered, money(e.CurrentValue), money(e.ThresholdValue), string(e.Severity), e.WindowKey, note})
	}
	tw.SetColumnConfigs(rightAligned(3, 4))
	tw.Render()
}

func (c *Reporter) Consistency(r domain.ConsistencyReport) {
	if r.Consistent() {
		fmt.Fprintf(c.writer, "Period %s is consistent: every dimension sums to the account totals.\n", r.Period)
		return
	}
	tw := c.newTable("Consistency mismatches "+r.Period.String(), table.Row{"Dimension", "Value", "Per account", "All accounts", "Diff"})
	for _, m := range r.Mismatches {
		tw.AppendRow(table.Row{string(m.Dimension), m.Value, money(m.PerAccount), money(m.AllAccounts), money(m.Diff())})
	}
	tw.SetColumnConfigs(rightAligned(3, 4, 5))
	tw.Render()
}

func (c *Reporter) Message(format string, args ...any) {
	fmt.Fprintf(c.writer, format+"\n", args...)
}

func rightAligned(columns ...int) []table.ColumnConfig {
	configs := make([]table.ColumnConfig, 0, len(columns))
	for _, n := range columns {
		configs = append(configs, table.ColumnConfig{Number: n, Align: text.AlignRight})
	}
	return configs
}
