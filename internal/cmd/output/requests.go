package output

import (
	"io"
	"strconv"
	"time"

	"github.com/agentstation/reqsync"
)

// EntriesToTableData renders cache entries as table rows. Wide adds the
// requester, department and version columns.
func EntriesToTableData(entries []reqsync.Entry, wide bool) Data {
	headers := []string{"ID", "Number", "Title", "Phase", "Amount", "Updated"}
	align := []Align{AlignLeft, AlignLeft, AlignLeft, AlignLeft, AlignRight, AlignLeft}
	if wide {
		headers = append(headers, "Requester", "Department", "Version", "Flags")
		align = append(align, AlignLeft, AlignLeft, AlignRight, AlignLeft)
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		pr := e.Request
		updated := "-"
		if !pr.UpdatedAt.IsZero() {
			updated = pr.UpdatedAt.Local().Format(time.DateTime)
		}
		phase := pr.Phase.Title()
		if phase == "" {
			phase = "-"
		}
		row := []string{pr.ID, pr.Number, pr.Title, phase, pr.Amount.String(), updated}
		if wide {
			row = append(row, pr.Requester, pr.Department, strconv.FormatInt(e.Version.Seq, 10), flags(e))
		}
		rows = append(rows, row)
	}

	return Data{Headers: headers, Rows: rows, ColumnAlignment: align}
}

func flags(e reqsync.Entry) string {
	switch {
	case e.Partial && e.Dirty:
		return "partial,dirty"
	case e.Partial:
		return "partial"
	case e.Dirty:
		return "dirty"
	}
	return ""
}

// FormatEntries writes entries in the given format.
func FormatEntries(w io.Writer, entries []reqsync.Entry, format Format) error {
	formatter := NewFormatter(format)

	var data any = entries
	switch format {
	case FormatTable, FormatWide, "":
		data = EntriesToTableData(entries, format == FormatWide)
	}
	return formatter.Format(w, data)
}
