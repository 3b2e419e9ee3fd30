package ui

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
)

// MatchSummary holds the fields shown after a successful match.
type MatchSummary struct {
	RoomID   string
	Role     string
	SelfID   string
	Opponent string
}

// MatchSummaryView renders the match details as a table string.
func MatchSummaryView(summary MatchSummary) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Room", summary.RoomID},
		{"Role", summary.Role},
		{"You", summary.SelfID},
		{"Opponent", summary.Opponent},
	})
	return t.Render()
}

// RenderMatchSummary outputs the match table directly to stdout.
func RenderMatchSummary(title string, summary MatchSummary) {
	fmt.Println(TitleStyle.Render(title))
	fmt.Println(MatchSummaryView(summary))
}
