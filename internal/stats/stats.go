// Package stats builds the usage and cost summary over all tracked lights.
package stats

import (
	"html/template"
	"io"
	"math"

	"github.com/dokzlo13/lightmeter/internal/registry"
)

// Row is one light in the summary.
type Row struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Manufacturer string  `json:"manufacturer"`
	Model        string  `json:"model"`
	Watts        float64 `json:"watts"`
	RuntimeHours float64 `json:"runtime_hours"`
	EnergyKwh    float64 `json:"energy_kwh"`
	Cost         float64 `json:"cost"`
	IsOn         bool    `json:"is_on"`
}

// Totals sums the rounded row values.
type Totals struct {
	Count        int     `json:"count"`
	Watts        float64 `json:"watts"`
	RuntimeHours float64 `json:"runtime_hours"`
	EnergyKwh    float64 `json:"energy_kwh"`
	Cost         float64 `json:"cost"`
}

// Summary is the full report.
type Summary struct {
	PricePerKwh float64 `json:"price_per_kwh"`
	Currency    string  `json:"currency,omitempty"`
	Rows        []Row   `json:"rows"`
	Totals      Totals  `json:"totals"`
}

// Lister lists registered lights. *registry.Registry implements it.
type Lister interface {
	ListAll() []registry.Entry
}

// Summarize reads all lights from l and builds the summary.
func Summarize(l Lister, pricePerKwh float64) Summary {
	return SummarizeEntries(l.ListAll(), pricePerKwh)
}

// SummarizeEntries builds the summary from a snapshot. Each row is rounded
// to two decimals before summing; cost is derived from the rounded kWh.
func SummarizeEntries(entries []registry.Entry, pricePerKwh float64) Summary {
	s := Summary{
		PricePerKwh: pricePerKwh,
		Rows:        make([]Row, 0, len(entries)),
	}

	for _, e := range entries {
		kwh := round2(e.State.EnergyWattHours / 1000)
		row := Row{
			ID:           e.Profile.ID,
			Name:         e.Profile.Name,
			Manufacturer: e.Profile.Manufacturer,
			Model:        e.Profile.Model,
			Watts:        e.Profile.Watts,
			RuntimeHours: round2(e.State.RuntimeSeconds / 3600),
			EnergyKwh:    kwh,
			Cost:         round2(kwh * pricePerKwh),
			IsOn:         e.State.IsOn,
		}
		if row.Name == "" {
			row.Name = row.ID
		}
		s.Rows = append(s.Rows, row)

		s.Totals.Count++
		s.Totals.Watts += row.Watts
		s.Totals.RuntimeHours += row.RuntimeHours
		s.Totals.EnergyKwh += row.EnergyKwh
		s.Totals.Cost += row.Cost
	}

	s.Totals.Watts = round2(s.Totals.Watts)
	s.Totals.RuntimeHours = round2(s.Totals.RuntimeHours)
	s.Totals.EnergyKwh = round2(s.Totals.EnergyKwh)
	s.Totals.Cost = round2(s.Totals.Cost)
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

var htmlTemplate = template.Must(template.New("summary").Parse(`<html><head><meta charset="utf-8"><title>Light statistics</title></head>
<body>
<table>
<thead><tr><th>Light</th><th>Manufacturer</th><th>Model</th><th>Watts</th><th>Hours</th><th>kWh</th><th>Cost{{if .Currency}} ({{.Currency}}){{end}}</th></tr></thead>
<tbody>
{{- range .Rows}}
<tr{{if .IsOn}} class="on"{{end}}><td>{{.Name}}</td><td>{{.Manufacturer}}</td><td>{{.Model}}</td><td>{{printf "%.0f" .Watts}}</td><td>{{printf "%.2f" .RuntimeHours}}</td><td>{{printf "%.2f" .EnergyKwh}}</td><td>{{printf "%.2f" .Cost}}</td></tr>
{{- end}}
</tbody>
<tfoot><tr><td>{{.Totals.Count}} lights</td><td></td><td></td><td>{{printf "%.0f" .Totals.Watts}}</td><td>{{printf "%.2f" .Totals.RuntimeHours}}</td><td>{{printf "%.2f" .Totals.EnergyKwh}}</td><td>{{printf "%.2f" .Totals.Cost}}</td></tr></tfoot>
</table>
<p>Price per kWh: {{printf "%.4f" .PricePerKwh}}</p>
</body></html>
`))

// RenderHTML writes the summary as an HTML table.
func RenderHTML(w io.Writer, s Summary) error {
	return htmlTemplate.Execute(w, s)
}
