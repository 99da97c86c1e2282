package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/lightmeter/internal/light"
)

func TestDimmerOnMeansLevelAboveZero(t *testing.T) {
	ctx := context.Background()
	d := NewDimmer()
	assert.True(t, light.CanDim(d))
	assert.False(t, light.CanDim(NewSwitch()))

	require.NoError(t, d.SwitchOn(ctx))
	st, err := d.ReadState(ctx)
	require.NoError(t, err)
	assert.True(t, st.On)
	require.NotNil(t, st.DimLevel)
	assert.Equal(t, 1.0, *st.DimLevel)

	require.NoError(t, d.SetDimLevel(ctx, 0))
	st, err = d.ReadState(ctx)
	require.NoError(t, err)
	assert.False(t, st.On)

	assert.ErrorIs(t, d.SetDimLevel(ctx, 1.2), light.ErrInvalidArgument)
}

func TestMeteredCounter(t *testing.T) {
	ctx := context.Background()
	d := NewMetered(100)
	d.AddEnergy(20)

	st, err := d.ReadState(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.RawEnergyWh)
	assert.Equal(t, 120.0, *st.RawEnergyWh)
	assert.Nil(t, st.DimLevel)

	d.ResetCounter()
	st, err = d.ReadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, *st.RawEnergyWh)
}

func TestFailureModes(t *testing.T) {
	ctx := context.Background()
	d := NewSwitch()

	d.FailSwitchOff(true)
	require.NoError(t, d.SwitchOn(ctx))
	assert.ErrorIs(t, d.SwitchOff(ctx), light.ErrDeviceUnreachable)
	assert.True(t, d.IsOn())

	d.SetUnreachable(true)
	_, err := d.ReadState(ctx)
	assert.ErrorIs(t, err, light.ErrDeviceUnreachable)

	d.SetUnreachable(false)
	d.SetDelay(time.Second)
	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = d.ReadState(cctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
