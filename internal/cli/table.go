package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/wordwrap"
)

const gutter = "  "

// defaultValueWidth bounds wrapped field values.
const defaultValueWidth = 80

// Truncate shortens s to maxWidth display cells, ending in an ellipsis.
func Truncate(s string, maxWidth int) string {
	if maxWidth < 1 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return strings.Repeat(".", maxWidth)
	}
	out := ""
	for _, r := range s {
		next := out + string(r)
		if runewidth.StringWidth(next) > maxWidth-3 {
			break
		}
		out = next
	}
	return out + "..."
}

// Table is a static column-aligned view for list output.
type Table struct {
	headers []string
	rows    [][]string
	limits  map[int]int
}

// NewTable creates a table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers, limits: map[int]int{}}
}

// Limit caps a column's width; overflowing cells wrap onto extra lines.
func (t *Table) Limit(col, width int) *Table {
	if width > 0 {
		t.limits[col] = width
	}
	return t
}

// AddRow appends one row. Missing cells render empty; extra cells are
// dropped.
func (t *Table) AddRow(cells ...string) *Table {
	row := make([]string, len(t.headers))
	for i := range row {
		if i < len(cells) {
			row[i] = cells[i]
		}
	}
	t.rows = append(t.rows, row)
	return t
}

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool { return len(t.rows) == 0 }

// Render writes the table: a styled header row, then the rows, with
// wrapped cells continuing on indented lines.
func (t *Table) Render(w io.Writer) error {
	if len(t.headers) == 0 {
		return nil
	}
	widths := t.columnWidths()

	header := make([]string, len(t.headers))
	for i, h := range t.headers {
		header[i] = pad(headerStyle.Render(strings.ToUpper(h)), runewidth.StringWidth(h), widths[i])
	}
	if _, err := fmt.Fprintln(w, strings.TrimRight(strings.Join(header, gutter), " ")); err != nil {
		return err
	}

	for _, row := range t.rows {
		for _, line := range t.rowLines(row, widths) {
			if _, err := fmt.Fprintln(w, strings.TrimRight(line, " ")); err != nil {
				return err
			}
		}
	}
	return nil
}

// String renders the table to a string.
func (t *Table) String() string {
	var sb strings.Builder
	_ = t.Render(&sb)
	return sb.String()
}

// columnWidths computes each column's display width: the widest cell line,
// capped by the column's limit.
func (t *Table) columnWidths() []int {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			for _, line := range t.cellLines(i, cell) {
				if w := runewidth.StringWidth(line); w > widths[i] {
					widths[i] = w
				}
			}
		}
	}
	for i, limit := range t.limits {
		if i < len(widths) && widths[i] > limit {
			widths[i] = limit
		}
	}
	return widths
}

// cellLines splits a cell into display lines, wrapping limited columns.
func (t *Table) cellLines(col int, cell string) []string {
	if limit, ok := t.limits[col]; ok {
		cell = wordwrap.String(cell, limit)
	}
	return strings.Split(cell, "\n")
}

// rowLines lays one logical row out as one or more physical lines.
func (t *Table) rowLines(row []string, widths []int) []string {
	cells := make([][]string, len(row))
	height := 1
	for i, cell := range row {
		cells[i] = t.cellLines(i, cell)
		if len(cells[i]) > height {
			height = len(cells[i])
		}
	}

	lines := make([]string, 0, height)
	for ln := 0; ln < height; ln++ {
		parts := make([]string, len(row))
		for i := range row {
			text := ""
			if ln < len(cells[i]) {
				text = cells[i][ln]
			}
			parts[i] = pad(text, runewidth.StringWidth(text), widths[i])
		}
		lines = append(lines, strings.Join(parts, gutter))
	}
	return lines
}

// pad right-pads rendered text to width using its unstyled display width.
func pad(rendered string, textWidth, width int) string {
	if textWidth >= width {
		return rendered
	}
	return rendered + strings.Repeat(" ", width-textWidth)
}

// Fields is a key/value detail view for single-document output.
type Fields struct {
	pairs      [][2]string
	valueWidth int
}

// NewFields creates an empty detail view.
func NewFields() *Fields {
	return &Fields{valueWidth: defaultValueWidth}
}

// Add appends one key/value pair.
func (f *Fields) Add(key, value string) *Fields {
	f.pairs = append(f.pairs, [2]string{key, value})
	return f
}

// Addf appends one formatted pair.
func (f *Fields) Addf(key, format string, args ...any) *Fields {
	return f.Add(key, fmt.Sprintf(format, args...))
}

// Render writes aligned "key  value" lines, wrapping long values under
// their first line.
func (f *Fields) Render(w io.Writer) error {
	keyWidth := 0
	for _, pair := range f.pairs {
		if kw := runewidth.StringWidth(pair[0]); kw > keyWidth {
			keyWidth = kw
		}
	}
	indent := strings.Repeat(" ", keyWidth+len(gutter))
	for _, pair := range f.pairs {
		key := pad(keyStyle.Render(pair[0]), runewidth.StringWidth(pair[0]), keyWidth)
		value := wordwrap.String(pair[1], f.valueWidth)
		for i, line := range strings.Split(value, "\n") {
			var err error
			if i == 0 {
				_, err = fmt.Fprintf(w, "%s%s%s\n", key, gutter, line)
			} else {
				_, err = fmt.Fprintf(w, "%s%s\n", indent, line)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}
