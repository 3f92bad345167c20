package harness

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
)

const spacesPerIndent = 2

// ConsoleReporter renders events as an interactive, colored test log.
type ConsoleReporter struct {
	w        io.Writer
	exitCode int
	indent   int
	failures []TestResult
}

// NewConsoleReporter creates a console reporter writing to w.
func NewConsoleReporter(w io.Writer) *ConsoleReporter {
	return &ConsoleReporter{w: w}
}

func (r *ConsoleReporter) Report(ev TestEvent) {
	switch ev.Type {
	case EventBeginGroup:
		fmt.Fprintf(r.w, "%srunning test group '%s' with %s tests...\n",
			r.pad(),
			text.Colors{text.FgCyan, text.Bold}.Sprint(ev.Name),
			text.Colors{text.FgCyan, text.Bold}.Sprint(ev.Count),
		)
		r.indent++

	case EventEndGroup:
		if r.indent > 0 {
			r.indent--
		}

	case EventResult:
		res := ev.Result
		fmt.Fprintf(r.w, "%stest %s... ", r.pad(), text.Bold.Sprint(res.Name))
		switch res.Status {
		case StatusFailed:
			r.failures = append(r.failures, *res)
			r.exitCode = 1
			fmt.Fprintln(r.w, text.Colors{text.FgRed, text.Bold}.Sprint("FAILED"))
		case StatusIgnored:
			fmt.Fprintln(r.w, text.Colors{text.FgYellow, text.Bold}.Sprint("ignored"))
		default:
			fmt.Fprintln(r.w, text.Colors{text.FgGreen, text.Bold}.Sprint("ok"))
		}

	case EventEnd:
		for _, f := range r.failures {
			fmt.Fprintf(r.w, "\n---- %s ----\n%s\n", text.Bold.Sprint(f.Name), f.Failure)
		}
		if r.exitCode == 0 {
			fmt.Fprintf(r.w, "test result: %s\n", text.FgGreen.Sprint("ok"))
		} else {
			fmt.Fprintf(r.w, "test result: %s\n", text.FgRed.Sprint("FAILED"))
		}
	}
}

func (r *ConsoleReporter) Finish() int {
	return r.exitCode
}

func (r *ConsoleReporter) pad() string {
	return strings.Repeat(" ", r.indent*spacesPerIndent)
}
