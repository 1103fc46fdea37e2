package main

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pevans/psahunter/pipeline"
)

// printSummary renders the end-of-run counters as a table.
func printSummary(out io.Writer, sum pipeline.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Run", sum.RunID.String()})

	t.AppendRow(table.Row{"Status", sum.Status})
	t.AppendRow(table.Row{"Duration", sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond)})
	t.AppendSeparator()
	t.AppendRow(table.Row{"URLs added", sum.URLsAdded})
	t.AppendRow(table.Row{"Certs added", sum.CertsAdded})
	t.AppendSeparator()
	t.AppendRow(table.Row{"Saved", sum.Saved})
	t.AppendRow(table.Row{"Ignored", sum.Ignored})
	t.AppendRow(table.Row{"API calls", sum.Calls})

	t.SetStyle(table.StyleRounded)
	t.Render()
}
