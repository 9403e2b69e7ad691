package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aretw0/quill/pkg/domain"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Printer renders cells and system messages on a terminal.
type Printer struct {
	out     io.Writer
	profile termenv.Profile
}

// NewPrinter writes to f, with colours only when f is a terminal.
func NewPrinter(f *os.File) *Printer {
	profile := termenv.Ascii
	if term.IsTerminal(int(f.Fd())) {
		profile = termenv.EnvColorProfile()
	}
	return &Printer{out: f, profile: profile}
}

// NewPlainPrinter writes to w without escape sequences.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{out: w, profile: termenv.Ascii}
}

func (p *Printer) paint(s, color string) string {
	return p.profile.String(s).Foreground(p.profile.Color(color)).String()
}

// Banner prints the application banner.
func (p *Printer) Banner(version string) {
	lines := []struct{ text, color string }{
		{"   __ _ _   _ _| | |", "#818cf8"},
		{"  / _` | | | | | | |", "#a78bfa"},
		{" | (_| | |_| | | | |", "#c084fc"},
		{"  \\__, |\\__,_|_|_|_|", "#e879f9"},
		{"     |_|", "#f472b6"},
	}
	fmt.Fprintln(p.out)
	for _, l := range lines {
		fmt.Fprintln(p.out, p.paint(l.text, l.color))
	}
	fmt.Fprintf(p.out, "  %s\n\n", p.paint("v"+version, "#6b7280"))
}

// System prints a standardized system message.
func (p *Printer) System(format string, args ...any) {
	fmt.Fprintf(p.out, ">>> %s\n", fmt.Sprintf(format, args...))
}

// Cell prints a code cell with its outputs. Markdown cells are skipped.
func (p *Printer) Cell(c domain.Cell, source string) {
	if c.Type != domain.CellCode {
		return
	}

	label := "In [ ]"
	status := "not run"
	if r := c.Result; r != nil {
		if r.ExecutionCount != nil {
			label = fmt.Sprintf("In [%d]", *r.ExecutionCount)
		}
		status = string(r.Status)
		if !r.Running() {
			status += ", " + r.Duration().Round(time.Millisecond).String()
		}
	}
	color := "#818cf8"
	if c.Result != nil && c.Result.Status == domain.StatusError {
		color = "#f87171"
	}
	fmt.Fprintf(p.out, "%s %s\n", p.paint(label, color), p.paint("("+status+")", "#6b7280"))

	for _, line := range strings.Split(strings.TrimRight(source, "\n"), "\n") {
		fmt.Fprintf(p.out, "  %s\n", line)
	}
	if c.Result == nil {
		return
	}

	for _, o := range c.Result.Outputs {
		p.output(o)
	}
	fmt.Fprintln(p.out)
}

func (p *Printer) output(o domain.Output) {
	text := strings.TrimRight(o.PlainText(), "\n")
	switch o.Type {
	case domain.OutputStream:
		if o.Name == domain.Stderr {
			text = p.paint(text, "#fbbf24")
		}
		fmt.Fprintln(p.out, text)
	case domain.OutputExecuteResult:
		label := "Out:"
		if o.ExecutionCount != nil {
			label = fmt.Sprintf("Out[%d]:", *o.ExecutionCount)
		}
		fmt.Fprintf(p.out, "%s %s\n", p.paint(label, "#34d399"), text)
	case domain.OutputError:
		fmt.Fprintln(p.out, p.paint(text, "#f87171"))
		for _, line := range o.Traceback {
			fmt.Fprintf(p.out, "  %s\n", strings.TrimRight(line, "\n"))
		}
	default:
		fmt.Fprintln(p.out, text)
	}
}
