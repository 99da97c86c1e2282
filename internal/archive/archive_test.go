package archive

import (
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/lightmeter/internal/config"
)

func TestConnectDisabled(t *testing.T) {
	c, err := Connect(config.InfluxDBConfig{Enabled: false})
	assert.ErrorIs(t, err, ErrDisabled)
	assert.Nil(t, c)
}

func TestSplitKey(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		wantField string
		wantID    string
		wantOK    bool
	}{
		{name: "runtime", key: "LC_Runtime_hall", wantField: "Runtime", wantID: "hall", wantOK: true},
		{name: "energy", key: "LC_Energy_Counter_plug", wantField: "Energy_Counter", wantID: "plug", wantOK: true},
		{name: "state without prefix", key: "State_porch", wantField: "State", wantID: "porch", wantOK: true},
		{name: "last read is not archived", key: "LC_Last_Read_plug", wantOK: false},
		{name: "id resembling a field", key: "LC_Energy_Counter_last_read_hall", wantField: "Energy_Counter", wantID: "last_read_hall", wantOK: true},
		{name: "id containing a field name", key: "LC_State_Runtime_x", wantField: "State", wantID: "Runtime_x", wantOK: true},
		{name: "field without id", key: "LC_Runtime_", wantOK: false},
		{name: "unrelated", key: "something", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field, id, ok := splitKey(tt.key)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantField, field)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestNewPoint(t *testing.T) {
	at := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)
	p := NewPoint("lightmeter", "LC_Runtime_hall", 3600, at)

	line := write.PointToLineProtocol(p, time.Second)
	require.NotEmpty(t, line)
	assert.Contains(t, line, "lightmeter,")
	assert.Contains(t, line, "field=Runtime")
	assert.Contains(t, line, "light_id=hall")
	assert.Contains(t, line, "value=3600")
}

func TestArchiveAfterCloseIsNoop(t *testing.T) {
	c := &Client{}
	assert.False(t, c.IsConnected())
	c.Archive("LC_Runtime_hall", 1, time.Now())
	c.Flush()
	assert.NoError(t, c.Close())
}
