package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/clusterd/scheduler/internal/apiclient"
	"github.com/clusterd/scheduler/internal/task"
)

// kubectl-style bare table: no borders, tab-separated, left-aligned.
func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	return table
}

// PrintTask renders a single task snapshot as a key/value table.
func PrintTask(w io.Writer, snap task.Snapshot, noColor bool) {
	colors := NewColorScheme(w, noColor)
	table := newTable(w)
	table.SetHeader([]string{colors.Header("FIELD"), colors.Header("VALUE")})

	rows := [][2]string{
		{"ident", snap.Ident},
		{"command", snap.Command.Name},
		{"state", colors.State(strings.ToUpper(snap.State.String()))},
		{"finish_type", colors.FinishColor(snap.FinishType)(strings.ToUpper(snap.FinishType.String()))},
	}
	if snap.KillReason != task.KillReasonNone {
		rows = append(rows, [2]string{"kill_reason", colors.Warning(snap.KillReason.String())})
	}
	if snap.Result != nil {
		rows = append(rows, [2]string{"result", fmt.Sprintf("%v", snap.Result)})
	}
	for _, row := range rows {
		table.Append([]string{row[0], row[1]})
	}
	table.Render()

	if len(snap.Reports) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, colors.Header("REPORTS"))
		rt := newTable(w)
		rt.SetHeader([]string{"SEVERITY", "CODE", "INFO"})
		for _, rep := range snap.Reports {
			rt.Append([]string{rep.Severity.String(), rep.Code, fmt.Sprintf("%v", rep.Info)})
		}
		rt.Render()
	}
}

// PrintPool renders a pool occupancy snapshot.
func PrintPool(w io.Writer, status apiclient.PoolStatus, noColor bool) {
	colors := NewColorScheme(w, noColor)
	table := newTable(w)
	table.SetHeader([]string{
		colors.Header("PERSISTENT TOTAL"),
		colors.Header("PERSISTENT BUSY"),
		colors.Header("TEMP ACTIVE"),
		colors.Header("TEMP CAP"),
	})
	table.Append([]string{
		fmt.Sprintf("%d", status.PersistentTotal),
		fmt.Sprintf("%d", status.PersistentBusy),
		fmt.Sprintf("%d", status.TempActive),
		fmt.Sprintf("%d", status.TempCap),
	})
	table.Render()
}

// PrintCommands renders the registered command manifest.
func PrintCommands(w io.Writer, entries []apiclient.CommandEntry, noColor bool) {
	colors := NewColorScheme(w, noColor)
	table := newTable(w)
	table.SetHeader([]string{colors.Header("NAME"), colors.Header("DESCRIPTION"), colors.Header("DEFAULT TIMEOUT")})
	for _, e := range entries {
		table.Append([]string{e.Name, e.Description, e.DefaultTimeout})
	}
	table.Render()
}
