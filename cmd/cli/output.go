package cli

import (
	"encoding/json"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/homiodev/addon-ipscanner/internal/scanning"
	"github.com/homiodev/addon-ipscanner/internal/services"
)

// scanReport is the --json output of a scan.
type scanReport struct {
	ScanID  string                 `json:"scan_id"`
	Summary *services.Summary      `json:"summary,omitempty"`
	Columns []string               `json:"columns"`
	Results []services.ResultValue `json:"results"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func columnNames(columns []scanning.Fetcher) []string {
	names := make([]string, len(columns))
	for i, f := range columns {
		names[i] = f.FullName()
	}
	return names
}

// writeResultsTable prints one row per host with a column per fetcher.
func writeResultsTable(w io.Writer, columns []scanning.Fetcher, rows []services.ResultValue) error {
	table := tablewriter.NewWriter(w)

	header := []any{"IP"}
	for _, name := range columnNames(columns) {
		header = append(header, name)
	}
	table.Header(header...)

	for i := range rows {
		row := &rows[i]
		cells := make([]string, 0, len(columns)+1)
		cells = append(cells, row.Address)
		for _, f := range columns {
			cells = append(cells, row.Get(f.ID()))
		}
		if err := table.Append(cells); err != nil {
			return err
		}
	}

	return table.Render()
}

func printSummary(w io.Writer, s services.Summary) {
	printf(w, "%d hosts scanned, %d alive, %d with open ports in %s (%s)\n",
		s.Hosts, s.Alive, s.WithPorts, s.Duration.Round(time.Millisecond), s.Status)
}

// writeListTable prints a simple two or more column listing.
func writeListTable(w io.Writer, header []any, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(header...)
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
