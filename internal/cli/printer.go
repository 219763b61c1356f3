package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/zjrosen/ultrawork/internal/store"
)

// Format selects how structured results are rendered.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

// ParseFormat validates a --format flag value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatTable, FormatJSON:
		return Format(s), nil
	case "":
		return FormatTable, nil
	}
	return "", fmt.Errorf("%w: format %q (want table or json)", store.ErrInvalidValue, s)
}

// Printer emits command output in the configured format. Success lines and
// structured results go to out; error lines go to errw.
type Printer struct {
	out    io.Writer
	errw   io.Writer
	format Format
}

// NewPrinter creates a printer for the given writers and format.
func NewPrinter(out, errw io.Writer, format Format) *Printer {
	if format == "" {
		format = FormatTable
	}
	return &Printer{out: out, errw: errw, format: format}
}

// Format returns the configured output format.
func (p *Printer) Format() Format { return p.format }

// Out exposes the success stream for callers emitting raw values.
func (p *Printer) Out() io.Writer { return p.out }

// OK prints a success confirmation. In JSON mode the confirmation is a
// structured document so scripted callers never parse prose.
func (p *Printer) OK(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if p.format == FormatJSON {
		_ = p.JSON(map[string]any{"ok": true, "message": msg})
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", okStyle.Render("OK:"), msg)
}

// Fail prints the single error line every failing command emits.
func (p *Printer) Fail(err error) {
	fmt.Fprintf(p.errw, "%s %v\n", errStyle.Render("Error:"), err)
}

// JSON writes v with the store's canonical two-space indentation.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Result renders a structured result: the raw document in JSON mode, the
// render callback otherwise.
func (p *Printer) Result(v any, render func(w io.Writer) error) error {
	if p.format == FormatJSON {
		return p.JSON(v)
	}
	return render(p.out)
}
