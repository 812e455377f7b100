package notifier

import (
	"fmt"
	"strings"

	"MarketTicker/internal/calculator"
	"MarketTicker/internal/model"
	"MarketTicker/internal/ticker"
)

// FormatTick formats one presented response into a Telegram message.
func FormatTick(s ticker.Settings, resp *model.TickerResponse) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("📈 <b>%s</b> | %s\n\n", s.Symbol, s.Interval.Code))
	b.WriteString(fmt.Sprintf("Price: %.2f", resp.CurrentPrice))
	if s.Currency != "" {
		b.WriteString(" " + s.Currency)
	}
	b.WriteString("\n")

	if pct, err := calculator.PercentChange(resp.Series, resp.CurrentPrice); err == nil {
		b.WriteString(fmt.Sprintf("Change: %+.2f%% over %d bars\n", pct, len(resp.Series)))
	}
	if high, low, err := calculator.SeriesRange(resp.Series); err == nil {
		pos, _ := calculator.Position(resp.CurrentPrice, high, low)
		b.WriteString(fmt.Sprintf("Range: %.2f ~ %.2f (%.0f%%)\n", low, high, pos*100))
	}
	if last, ok := resp.Series.Last(); ok {
		b.WriteString(fmt.Sprintf("Last bar: %s UTC\n", last.Time.UTC().Format("2006-01-02 15:04")))
	}
	return b.String()
}

// FormatList lists the tickers of a sequence, marking the current one.
func FormatList(settings []ticker.Settings, current int) string {
	var b strings.Builder
	b.WriteString("📋 <b>Tickers</b>\n\n")
	for i, s := range settings {
		marker := "  "
		if i == current {
			marker = "▶ "
		}
		b.WriteString(fmt.Sprintf("%s%d. %s (%s, %s, every %s)\n", marker, i, s.Symbol, s.Type, s.Interval.Code, s.WaitTime))
	}
	return b.String()
}
