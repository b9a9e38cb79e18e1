package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/tidwall/pretty"

	"github.com/compozy/relay/engine/executor"
)

type runOutput struct {
	Workflow   string `json:"workflow"`
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func toRunOutput(res executor.Result) runOutput {
	out := runOutput{
		Workflow:   res.Workflow,
		RunID:      res.RunID,
		Status:     string(res.Status),
		DurationMs: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// writeJSONResult prints the result as one JSON object, indented and
// colored on terminals.
func writeJSONResult(w io.Writer, res executor.Result) error {
	data, err := json.Marshal(toRunOutput(res))
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if isTerminal(w) {
		data = pretty.Color(pretty.Pretty(data), nil)
	} else {
		data = append(data, '\n')
	}
	_, err = w.Write(data)
	return err
}

// writeTextResult prints a one-line styled summary.
func writeTextResult(w io.Writer, res executor.Result) error {
	r := lipgloss.NewRenderer(w)
	name := r.NewStyle().Bold(true).Render(res.Workflow)
	meta := r.NewStyle().Foreground(lipgloss.Color("#888888")).
		Render(fmt.Sprintf("(%s, run %s)", res.Duration.Round(time.Millisecond), res.RunID))
	var line string
	if res.Status.OK() {
		status := r.NewStyle().Foreground(lipgloss.Color("#4ECDC4")).Bold(true).Render("✓ " + string(res.Status))
		line = fmt.Sprintf("%s %s %s", status, name, meta)
	} else {
		status := r.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true).Render("✗ " + string(res.Status))
		line = fmt.Sprintf("%s %s %s", status, name, meta)
		if res.Err != nil {
			line += "\n" + r.NewStyle().Italic(true).Render("Details: "+res.Err.Error())
		}
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

// eventPrinter streams run progress to w in text mode.
func eventPrinter(w io.Writer) func(string, executor.Event) {
	r := lipgloss.NewRenderer(w)
	dim := r.NewStyle().Foreground(lipgloss.Color("#888888"))
	return func(_ string, ev executor.Event) {
		label := ev.Type
		if ev.Step != "" {
			label += " " + ev.Step
		}
		if ev.Message != "" {
			label += " " + dim.Render(ev.Message)
		}
		fmt.Fprintln(w, "  "+label)
	}
}
