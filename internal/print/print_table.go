package print

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bgunnarsson/crudgate/internal/db"
)

type Options struct {
	MaxWidth int  // max width for each column, 0 = 40
	Color    bool // bold header
}

var headerStyle = lipgloss.NewStyle().Bold(true)

// RenderRows prints rows under the column names of the first row.
func RenderRows(w io.Writer, rows []db.Row, opts Options) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "(no rows)")
		return
	}

	header := rows[0].Columns
	data := make([][]string, len(rows))
	for i, r := range rows {
		cells := make([]string, len(header))
		for j, name := range header {
			cells[j] = formatCell(r.Get(name))
		}
		data[i] = cells
	}
	renderTable(w, header, data, opts)
	fmt.Fprintf(w, "%d row(s)\n", len(rows))
}

// RenderColumns prints a table model.
func RenderColumns(w io.Writer, cols []db.Column, opts Options) {
	if len(cols) == 0 {
		fmt.Fprintln(w, "(no columns)")
		return
	}

	header := []string{"#", "name", "type", "nullable", "pk", "max length"}
	data := make([][]string, len(cols))
	for i, c := range cols {
		maxLen := ""
		if c.MaxLength != nil {
			maxLen = strconv.FormatInt(*c.MaxLength, 10)
		}
		data[i] = []string{
			strconv.Itoa(c.OrdinalPosition),
			c.Name,
			c.DataType,
			yesNo(c.Nullable),
			yesNo(c.IsPrimaryKey),
			maxLen,
		}
	}
	renderTable(w, header, data, opts)
}

// RenderStructure prints one line per table, sorted by schema and table.
func RenderStructure(w io.Writer, s db.DatabaseStructure, opts Options) {
	var data [][]string
	for schema, tables := range s {
		for table, cols := range tables {
			data = append(data, []string{schema, table, strconv.Itoa(len(cols))})
		}
	}
	if len(data) == 0 {
		fmt.Fprintln(w, "(no tables)")
		return
	}
	sort.Slice(data, func(i, j int) bool {
		if data[i][0] != data[j][0] {
			return data[i][0] < data[j][0]
		}
		return data[i][1] < data[j][1]
	})
	renderTable(w, []string{"schema", "table", "columns"}, data, opts)
}

// RenderDiagnostics prints diagnostics as a two-column key/value table.
func RenderDiagnostics(w io.Writer, d *db.Diagnostics, opts Options) {
	data := [][]string{
		{"provider", d.Provider},
		{"database", d.Database},
		{"schema", d.Schema},
		{"server version", d.ServerVersion},
		{"server type", d.ServerType},
		{"host", d.Host},
		{"port", strconv.Itoa(d.Port)},
		{"current user", d.CurrentUser},
		{"connection id", strconv.FormatInt(d.ConnectionID, 10)},
	}
	if d.StartTime != "" {
		data = append(data, []string{"start time", d.StartTime})
	}
	if d.Uptime != "" {
		data = append(data, []string{"uptime", d.Uptime})
	}
	renderTable(w, []string{"property", "value"}, data, opts)
}

func renderTable(w io.Writer, header []string, data [][]string, opts Options) {
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = 40
	}

	cols := len(header)

	// compute widths
	widths := make([]int, cols)
	for i, name := range header {
		widths[i] = min(len(name), opts.MaxWidth)
	}

	for _, r := range data {
		for i, s := range r {
			if l := len(s); l > widths[i] {
				widths[i] = min(l, opts.MaxWidth)
			}
		}
	}

	// helpers
	sep := func(ch string) string {
		var b strings.Builder
		b.WriteString("+")
		for i := range widths {
			b.WriteString(strings.Repeat(ch, widths[i]+2))
			b.WriteString("+")
		}
		return b.String()
	}

	writeRow := func(cells []string, style *lipgloss.Style) {
		var b strings.Builder
		b.WriteString("|")
		for i, c := range cells {
			cell := padRight(truncate(c, widths[i]), widths[i])
			if style != nil {
				cell = style.Render(cell)
			}
			b.WriteString(" ")
			b.WriteString(cell)
			b.WriteString(" |")
		}
		fmt.Fprintln(w, b.String())
	}

	// header
	fmt.Fprintln(w, sep("-"))
	if opts.Color {
		writeRow(header, &headerStyle)
	} else {
		writeRow(header, nil)
	}
	fmt.Fprintln(w, sep("="))

	// data
	for _, r := range data {
		writeRow(r, nil)
	}
	fmt.Fprintln(w, sep("-"))
}

func formatCell(v any) string {
	if v == nil {
		return "NULL"
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		// heuristic: treat as string if printable, else show len
		s := string(t)
		if isPrintable(s) {
			return s
		}
		return fmt.Sprintf("<blob %d bytes>", len(t))
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func isPrintable(s string) bool {
	for _, r := range s {
		if r < 32 && r != '\n' && r != '\t' {
			return false
		}
	}
	return true
}

func padRight(s string, w int) string {
	if len(s) >= w {
		return s
	}
	return s + strings.Repeat(" ", w-len(s))
}

func truncate(s string, w int) string {
	if len(s) <= w {
		return s
	}
	if w <= 3 {
		return s[:w]
	}
	return s[:w-3] + "..."
}
