// Package render turns engine outputs into chat-ready artifacts: fixed-width
// tables and ASCII charts. No ANSI styling is applied so the output survives
// being posted inside a code block.
package render

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"galactic/internal/ledger"
)

var asciiBorder = lipgloss.Border{
	Top: "-", Bottom: "-", Left: "|", Right: "|",
	TopLeft: "+", TopRight: "+", BottomLeft: "+", BottomRight: "+",
	MiddleLeft: "+", MiddleRight: "+", Middle: "+", MiddleTop: "+", MiddleBottom: "+",
}

var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(asciiBorder).
		BorderStyle(lipgloss.NewStyle()).
		StyleFunc(func(_, _ int) lipgloss.Style { return cellStyle }).
		Headers(headers...)
	for _, r := range rows {
		t.Row(r...)
	}
	return t.String()
}

// Leaderboard renders the top players as a rank/player/balance/24h table.
func Leaderboard(rows []ledger.LeaderboardRow) string {
	if len(rows) == 0 {
		return "Nobody is on the leaderboard yet."
	}
	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		cells = append(cells, []string{
			strconv.Itoa(r.Rank),
			r.Username,
			fmt.Sprintf("%.2f", r.Balance),
			signedPercent(r.Return24h),
		})
	}
	return renderTable([]string{"RANK", "PLAYER", "BALANCE", "24H"}, cells)
}

// Stocks renders the market overview sorted by symbol.
func Stocks(quotes []ledger.StockQuote) string {
	if len(quotes) == 0 {
		return "No stocks are listed yet."
	}
	sorted := make([]ledger.StockQuote, len(quotes))
	copy(sorted, quotes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Symbol < sorted[j].Symbol })

	cells := make([][]string, 0, len(sorted))
	for _, q := range sorted {
		cells = append(cells, []string{
			q.Symbol,
			q.Name,
			fmt.Sprintf("%.2f", q.Price),
			signedPercent(q.Return24h),
		})
	}
	return renderTable([]string{"SYMBOL", "COMPANY", "PRICE", "24H"}, cells)
}

// Portfolio renders one user's cash, balance, and holdings.
func Portfolio(snap ledger.UserSnapshot) string {
	head := fmt.Sprintf("%s — cash %.2f, balance %.2f\n", snap.Username, snap.Cash, snap.Balance)
	if len(snap.Holdings) == 0 {
		return head + "No open positions."
	}

	symbols := make([]string, 0, len(snap.Holdings))
	for s := range snap.Holdings {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	cells := make([][]string, 0, len(symbols))
	for _, s := range symbols {
		pos := snap.Holdings[s]
		cells = append(cells, []string{
			s,
			strconv.FormatInt(pos.Quantity, 10),
			fmt.Sprintf("%.2f", pos.AveragePrice),
		})
	}
	return head + renderTable([]string{"SYMBOL", "QTY", "AVG PRICE"}, cells)
}

func signedPercent(v float64) string {
	return fmt.Sprintf("%+.2f%%", v)
}
