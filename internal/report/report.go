package report

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/gridrun/gridrun/internal/aggregate"
)

var (
	passStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	abortStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

// Reporter prints per-invocation lines and a final suite summary. Output is
// styled only when writing to a terminal. Safe for concurrent Invocation
// calls; cells report in completion order.
type Reporter struct {
	mu      sync.Mutex
	out     io.Writer
	color   bool
	verbose bool
}

func New(out io.Writer, verbose bool) *Reporter {
	color := false
	if f, ok := out.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Reporter{out: out, color: color, verbose: verbose}
}

// Invocation prints one completed invocation. Aborted invocations render
// distinctly from reported test failures.
func (r *Reporter) Invocation(res aggregate.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var symbol, label string
	switch {
	case res.Passed():
		symbol, label = r.style(passStyle, "✓"), "passed"
	case res.Aborted():
		symbol, label = r.style(abortStyle, "!"), "aborted"
	case res.State == aggregate.StatePrepFailed:
		symbol, label = r.style(failStyle, "✗"), "preparation failed"
	default:
		symbol, label = r.style(failStyle, "✗"), fmt.Sprintf("failed (%s, exit %d)", res.Stage, res.ExitCode)
	}

	fmt.Fprintf(r.out, "%s %s [%s/%s] %s %s\n",
		symbol, res.Cell, res.Config.Mode, res.Config.Tag, label,
		r.style(dimStyle, res.Duration.Round(durationPrecision).String()))

	if r.verbose {
		if res.Err != nil {
			fmt.Fprintf(r.out, "    error: %v\n", res.Err)
		}
		if res.Stderr != "" {
			fmt.Fprintf(r.out, "    stderr: %s\n", res.Stderr)
		}
	}
}

// Suite prints the aggregate verdict.
func (r *Reporter) Suite(out aggregate.Outcome) {
	fmt.Fprintln(r.out)
	if out.Incomplete {
		fmt.Fprintf(r.out, "%s incomplete: %d of %d invocations recorded\n",
			r.style(failStyle, "✗"), out.Recorded, out.Expected)
	}

	fmt.Fprintf(r.out, "%d passed, %d failed (%d aborted) of %d in %s\n",
		out.Passed, len(out.Failed), out.Aborted, out.Expected,
		out.Duration.Round(durationPrecision))

	for _, f := range out.Failed {
		reason := f.Stage
		if f.Aborted() {
			reason = "aborted"
		}
		fmt.Fprintf(r.out, "  %s %s [%s] %s\n",
			r.style(failStyle, "✗"), f.Cell, f.Config.Mode, reason)
	}

	if out.OverallSuccess {
		fmt.Fprintf(r.out, "%s matrix passed\n", r.style(passStyle, "✓"))
	} else {
		fmt.Fprintf(r.out, "%s matrix failed\n", r.style(failStyle, "✗"))
	}
}

func (r *Reporter) style(s lipgloss.Style, text string) string {
	if !r.color {
		return text
	}
	return s.Render(text)
}
