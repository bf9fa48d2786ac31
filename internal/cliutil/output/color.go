// Package output provides clusterctl's table and color formatting for
// task snapshots, pool occupancy, and the command manifest.
package output

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/clusterd/scheduler/internal/task"
)

// ColorScheme provides color functions for the states and finish types
// clusterctl prints. Colors are disabled automatically for non-TTY output
// or when the caller passes noColor.
type ColorScheme struct {
	State    func(format string, a ...interface{}) string
	Success  func(format string, a ...interface{}) string
	Error    func(format string, a ...interface{}) string
	Warning  func(format string, a ...interface{}) string
	Header   func(format string, a ...interface{}) string
	Disabled bool
}

// NewColorScheme builds a ColorScheme for writer w.
func NewColorScheme(w io.Writer, noColor bool) *ColorScheme {
	if noColor || !isTTY(w) {
		return &ColorScheme{
			State:    color.New().Sprintf,
			Success:  color.New().Sprintf,
			Error:    color.New().Sprintf,
			Warning:  color.New().Sprintf,
			Header:   color.New().Sprintf,
			Disabled: true,
		}
	}
	return &ColorScheme{
		State:   color.New(color.FgCyan, color.Bold).Sprintf,
		Success: color.New(color.FgGreen).Sprintf,
		Error:   color.New(color.FgRed, color.Bold).Sprintf,
		Warning: color.New(color.FgYellow).Sprintf,
		Header:  color.New(color.FgWhite, color.Bold).Sprintf,
	}
}

func isTTY(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// FinishColor picks Success/Error/State based on a task's finish type,
// falling back to State for non-terminal tasks (FinishUnfinished).
func (cs *ColorScheme) FinishColor(ft task.FinishType) func(format string, a ...interface{}) string {
	switch ft {
	case task.FinishSuccess:
		return cs.Success
	case task.FinishFail, task.FinishUnhandledException, task.FinishKill:
		return cs.Error
	default:
		return cs.State
	}
}
