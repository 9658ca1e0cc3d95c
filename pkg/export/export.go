// Package export renders a cycle's schedule as JSON, CSV, an aligned table
// or an HTML chart.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/kilianp07/obsched/core/preemption"
)

// Row is one committed reservation.
type Row struct {
	Resource    string  `json:"resource"`
	Reservation int64   `json:"reservation"`
	Ref         string  `json:"ref"`
	Start       int64   `json:"start"`
	Quantum     int64   `json:"quantum"`
	End         int64   `json:"end"`
	Priority    float64 `json:"priority"`
	Pass        string  `json:"pass"`
}

var header = []string{"resource", "reservation", "ref", "start", "quantum", "end", "priority", "pass"}

// Rows flattens both passes of res, ordered by resource then start.
func Rows(res preemption.CycleResult) []Row {
	var rows []Row
	for _, pr := range []preemption.PassResult{res.Urgent, res.Normal} {
		for resource, rs := range pr.Schedule {
			for _, r := range rs {
				rows = append(rows, Row{
					Resource:    resource,
					Reservation: int64(r.ID),
					Ref:         r.Ref,
					Start:       r.ScheduledStart,
					Quantum:     r.ScheduledQuantum,
					End:         r.ScheduledStart + r.ScheduledQuantum,
					Priority:    r.Priority,
					Pass:        pr.Pass.String(),
				})
			}
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Resource != rows[j].Resource {
			return rows[i].Resource < rows[j].Resource
		}
		return rows[i].Start < rows[j].Start
	})
	return rows
}

func (r Row) fields() []string {
	return []string{
		r.Resource,
		strconv.FormatInt(r.Reservation, 10),
		r.Ref,
		strconv.FormatInt(r.Start, 10),
		strconv.FormatInt(r.Quantum, 10),
		strconv.FormatInt(r.End, 10),
		strconv.FormatFloat(r.Priority, 'f', -1, 64),
		r.Pass,
	}
}

// WriteJSON writes the rows to w as a JSON array.
func WriteJSON(w io.Writer, rows []Row) error {
	if rows == nil {
		rows = []Row{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// WriteCSV writes the rows to w in CSV format with a header line.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.fields()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTable writes the rows to w as space aligned columns.
func WriteTable(w io.Writer, rows []Row) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	line := func(cols []string) error {
		for i, c := range cols {
			sep := "\t"
			if i == len(cols)-1 {
				sep = "\n"
			}
			if _, err := fmt.Fprint(tw, c, sep); err != nil {
				return err
			}
		}
		return nil
	}
	if err := line(header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := line(r.fields()); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// WriteHTML renders the scheduled seconds per resource as a stacked bar chart
// with one series per pass.
func WriteHTML(w io.Writer, rows []Row) error {
	var resources []string
	seconds := map[string]map[string]int64{"urgent": {}, "normal": {}}
	for _, r := range rows {
		if len(resources) == 0 || resources[len(resources)-1] != r.Resource {
			resources = append(resources, r.Resource)
		}
		seconds[r.Pass][r.Resource] += r.Quantum
	}
	series := func(pass string) []opts.BarData {
		out := make([]opts.BarData, len(resources))
		for i, res := range resources {
			out[i] = opts.BarData{Value: seconds[pass][res]}
		}
		return out
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Scheduled time per resource"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Resource"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Seconds"}),
	)
	stack := charts.WithBarChartOpts(opts.BarChart{Stack: "pass"})
	bar.SetXAxis(resources).
		AddSeries("urgent", series("urgent"), stack).
		AddSeries("normal", series("normal"), stack)
	if err := bar.Render(w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

// Write renders rows in the named format: "table", "json", "csv" or "html".
func Write(w io.Writer, format string, rows []Row) error {
	switch format {
	case "", "table":
		return WriteTable(w, rows)
	case "json":
		return WriteJSON(w, rows)
	case "csv":
		return WriteCSV(w, rows)
	case "html":
		return WriteHTML(w, rows)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
