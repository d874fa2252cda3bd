// Package reporter renders human-readable run summaries.
package reporter

import (
	"io"
	"time"

	"bitkub-grid-bot-go/internal/backtest"
	"bitkub-grid-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"
)

// PrintBacktestReport renders the backtest summary and the trade list.
func PrintBacktestReport(w io.Writer, res *backtest.Result) {
	buys, sells := 0, 0
	fees := decimal.Zero
	for _, t := range res.Trades {
		if t.Side == models.Buy {
			buys++
		} else {
			sells++
		}
		fees = fees.Add(t.Fee)
	}

	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.SetStyle(table.StyleLight)
	summary.SetTitle("Backtest " + res.Symbol)
	summary.AppendRows([]table.Row{
		{"Period", res.Start.Format("2006-01-02") + " to " + res.End.Format("2006-01-02")},
		{"Candles", res.Candles},
		{"Buys", buys},
		{"Sells", sells},
		{"Realized PnL", res.FinalState.RealizedPnL.StringFixed(2)},
		{"Fees paid", fees.StringFixed(4)},
		{"Open quantity", res.FinalState.Quantity.String()},
		{"Average cost", res.FinalState.AverageCost.StringFixed(4)},
		{"Open slots", res.FinalState.OpenSlots()},
	})
	for asset, amt := range res.FinalBalances {
		summary.AppendRow(table.Row{"Balance " + asset, amt.StringFixed(4)})
	}
	summary.Render()

	if len(res.Trades) == 0 {
		return
	}

	trades := table.NewWriter()
	trades.SetOutputMirror(w)
	trades.SetStyle(table.StyleLight)
	trades.AppendHeader(table.Row{"Time", "Side", "Price", "Quantity", "Fee"})
	trades.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Price", Align: text.AlignRight},
		{Name: "Quantity", Align: text.AlignRight},
		{Name: "Fee", Align: text.AlignRight},
	})
	for _, t := range res.Trades {
		trades.AppendRow(table.Row{
			t.Timestamp.Format(time.RFC3339),
			t.Side,
			t.Price.String(),
			t.Quantity.String(),
			t.Fee.StringFixed(6),
		})
	}
	trades.Render()
}

// PrintPositionSummary renders each symbol's position on shutdown.
func PrintPositionSummary(w io.Writer, states []*models.SymbolState) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Positions")
	t.AppendHeader(table.Row{"Symbol", "Quantity", "Avg Cost", "Realized PnL", "Open Slots", "Last Trade"})
	for _, st := range states {
		lastTrade := "-"
		if st.HasTraded {
			lastTrade = st.LastTradePrice.String() + " @ " + st.LastTradeTime.Format(time.RFC3339)
		}
		t.AppendRow(table.Row{
			st.Symbol,
			st.Quantity.String(),
			st.AverageCost.StringFixed(4),
			st.RealizedPnL.StringFixed(2),
			st.OpenSlots(),
			lastTrade,
		})
	}
	t.Render()
}
