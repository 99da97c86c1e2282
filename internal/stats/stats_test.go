package stats

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/lightmeter/internal/adapter/sim"
	"github.com/dokzlo13/lightmeter/internal/light"
	"github.com/dokzlo13/lightmeter/internal/registry"
)

func entry(id string, watts, runtime, wh float64) registry.Entry {
	return registry.Entry{
		Profile: light.Profile{ID: id, Name: id, Watts: watts, Class: light.ClassSwitch},
		State:   light.Tracked{RuntimeSeconds: runtime, EnergyWattHours: wh},
	}
}

func TestSummarizeEntries(t *testing.T) {
	tests := []struct {
		name       string
		entries    []registry.Entry
		price      float64
		wantCosts  []float64
		wantTotals Totals
	}{
		{
			name:       "empty",
			price:      0.20,
			wantTotals: Totals{},
		},
		{
			name: "two lights",
			entries: []registry.Entry{
				entry("hall", 1000, 3600, 1000),
				entry("porch", 500, 3600, 500),
			},
			price:     0.20,
			wantCosts: []float64{0.20, 0.10},
			wantTotals: Totals{
				Count:        2,
				Watts:        1500,
				RuntimeHours: 2,
				EnergyKwh:    1.50,
				Cost:         0.30,
			},
		},
		{
			name: "rows rounded before summing",
			entries: []registry.Entry{
				entry("a", 7, 0, 4),
				entry("b", 7, 0, 4),
				entry("c", 7, 0, 4),
			},
			price:     1,
			wantCosts: []float64{0, 0, 0},
			wantTotals: Totals{
				Count: 3,
				Watts: 21,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := SummarizeEntries(tt.entries, tt.price)
			require.Len(t, s.Rows, len(tt.entries))
			for i, want := range tt.wantCosts {
				assert.InDelta(t, want, s.Rows[i].Cost, 1e-9)
			}
			assert.Equal(t, tt.wantTotals.Count, s.Totals.Count)
			assert.InDelta(t, tt.wantTotals.Watts, s.Totals.Watts, 1e-9)
			assert.InDelta(t, tt.wantTotals.RuntimeHours, s.Totals.RuntimeHours, 1e-9)
			assert.InDelta(t, tt.wantTotals.EnergyKwh, s.Totals.EnergyKwh, 1e-9)
			assert.InDelta(t, tt.wantTotals.Cost, s.Totals.Cost, 1e-9)
		})
	}
}

func TestSummarizeFromRegistry(t *testing.T) {
	r := registry.New()
	_, err := r.Register(light.Profile{ID: "kitchen", Watts: 60}, sim.NewSwitch(), 0)
	require.NoError(t, err)
	_, err = r.Register(light.Profile{ID: "attic", Name: "Attic", Watts: 40}, sim.NewSwitch(), 0)
	require.NoError(t, err)

	s := Summarize(r, 0.3)
	require.Len(t, s.Rows, 2)
	assert.Equal(t, "kitchen", s.Rows[0].Name)
	assert.Equal(t, "Attic", s.Rows[1].Name)
	assert.Equal(t, 100.0, s.Totals.Watts)
	assert.Equal(t, 0.3, s.PricePerKwh)
}

func TestRenderHTML(t *testing.T) {
	s := SummarizeEntries([]registry.Entry{
		entry("<script>", 1000, 3600, 1000),
	}, 0.20)
	s.Currency = "EUR"

	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, s))

	out := buf.String()
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "&lt;script&gt;")
	assert.NotContains(t, out, "<td><script>")
	assert.Contains(t, out, "<td>1.00</td><td>0.20</td>")
	assert.Contains(t, out, "Cost (EUR)")
}
