package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/chaz8081/jointist-go/internal/jointist"
)

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// renderSummary prints the detected instruments and their note counts: a
// table on a terminal, tab-separated lines otherwise.
func renderSummary(w io.Writer, res *jointist.Result, output string) {
	if !isTerminal(w) {
		for _, tr := range res.Tracks {
			fmt.Fprintf(w, "%s\t%d\t%.3f\t%d\n", tr.Instrument.Name, tr.Instrument.Program, tr.Probability, len(tr.Notes))
		}
		fmt.Fprintf(w, "output\t%s\n", output)
		return
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Instrument", "Program", "Probability", "Notes"})
	for _, tr := range res.Tracks {
		program := fmt.Sprint(tr.Instrument.Program)
		if tr.Instrument.Drums {
			program = "drums"
		}
		tw.AppendRow(table.Row{tr.Instrument.DisplayName(), program, fmt.Sprintf("%.3f", tr.Probability), len(tr.Notes)})
	}
	tw.AppendFooter(table.Row{"Total", "", "", res.NoteCount()})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	fmt.Fprintln(w, tw.Render())
	fmt.Fprintf(w, "Duration: %.2fs  Output: %s\n", res.Duration, output)
}
