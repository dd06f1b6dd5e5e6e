package diagnostics

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
	ansiDim    = "\x1b[2m"
)

// ShouldColorize reports whether f is an interactive terminal that can
// render ANSI colors.
func ShouldColorize(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Render writes the batch in a human-readable form. With color enabled the
// severity is highlighted; the layout is otherwise identical, so piping the
// output stays stable.
func Render(w io.Writer, b *Batch, color bool) {
	diags := b.All()
	for _, d := range diags {
		severity := d.Severity.String()
		if color {
			tint := ansiRed
			if d.Severity == SeverityWarning {
				tint = ansiYellow
			}
			severity = tint + severity + ansiReset
		}
		if d.Route != "" {
			fmt.Fprintf(w, "%s[%s] route %q: %s\n", severity, d.Code, d.Route, d.Summary)
		} else {
			fmt.Fprintf(w, "%s[%s]: %s\n", severity, d.Code, d.Summary)
		}
		if !d.Site.IsZero() {
			site := fmt.Sprintf("  --> %s", d.Site)
			if color {
				site = ansiDim + site + ansiReset
			}
			fmt.Fprintln(w, site)
		}
		for _, rel := range d.Related {
			if rel.Site.IsZero() {
				fmt.Fprintf(w, "  note: %s\n", rel.Message)
			} else {
				fmt.Fprintf(w, "  note: %s (%s)\n", rel.Message, rel.Site)
			}
		}
		if d.Help != "" {
			fmt.Fprintf(w, "  help: %s\n", d.Help)
		}
	}
	if len(diags) > 0 {
		fmt.Fprintf(w, "%d diagnostic(s) emitted (run %s)\n", len(diags), b.RunID())
	}
}
