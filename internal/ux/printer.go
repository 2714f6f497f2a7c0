package ux

import (
	"fmt"
	"io"
)

// Printer writes status lines to the console. Styling can be disabled
// (--no-color, tests); the text content is identical either way.
type Printer struct {
	out   io.Writer
	color bool
}

// NewPrinter returns a printer writing to out.
func NewPrinter(out io.Writer, color bool) *Printer {
	return &Printer{out: out, color: color}
}

func (p *Printer) render(style interface{ Render(...string) string }, s string) string {
	if !p.color {
		return s
	}
	return style.Render(s)
}

// Stage announces a pipeline stage before it runs.
func (p *Printer) Stage(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.out, p.render(stageStyle, "==> "+msg))
}

// Success reports a completed run or stage.
func (p *Printer) Success(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.out, p.render(successStyle, "✓ "+msg))
}

// Warn reports a non-fatal condition (best-effort checks).
func (p *Printer) Warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.out, p.render(warnStyle, "! "+msg))
}

// Fail reports the failing stage. The process exit code carries the cause.
func (p *Printer) Fail(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.out, p.render(failStyle, "✗ "+msg))
}

// Detail prints a muted informational line under the current stage banner.
func (p *Printer) Detail(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.out, p.render(detailStyle, "    "+msg))
}
