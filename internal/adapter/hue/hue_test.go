package hue

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/amimof/huego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/lightmeter/internal/light"
)

type fakeBridge struct {
	mu      sync.Mutex
	lights  map[int]*huego.State
	applied []huego.State
	err     error
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{lights: make(map[int]*huego.State)}
}

func (b *fakeBridge) GetLightContext(_ context.Context, id int) (*huego.Light, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	st, ok := b.lights[id]
	if !ok {
		return nil, errors.New("resource not available")
	}
	copied := *st
	return &huego.Light{ID: id, State: &copied}, nil
}

func (b *fakeBridge) SetLightStateContext(_ context.Context, id int, state huego.State) (*huego.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.applied = append(b.applied, state)
	st := b.lights[id]
	st.On = state.On
	if state.Bri != 0 {
		st.Bri = state.Bri
	}
	return &huego.Response{}, nil
}

func TestNewSwitchRejectsNonNumericID(t *testing.T) {
	_, err := NewSwitch(newFakeBridge(), "kitchen", nil)
	assert.ErrorIs(t, err, light.ErrInvalidArgument)
}

func TestSwitch(t *testing.T) {
	ctx := context.Background()
	b := newFakeBridge()
	b.lights[1] = &huego.State{Reachable: true}

	s, err := NewSwitch(b, "1", nil)
	require.NoError(t, err)
	assert.False(t, light.CanDim(s))

	require.NoError(t, s.SwitchOn(ctx))
	st, err := s.ReadState(ctx)
	require.NoError(t, err)
	assert.True(t, st.On)
	assert.Nil(t, st.DimLevel)

	require.NoError(t, s.SwitchOff(ctx))
	st, err = s.ReadState(ctx)
	require.NoError(t, err)
	assert.False(t, st.On)
}

func TestUnreachable(t *testing.T) {
	ctx := context.Background()
	b := newFakeBridge()
	b.lights[2] = &huego.State{On: true, Reachable: false}

	s, err := NewSwitch(b, "2", nil)
	require.NoError(t, err)

	_, err = s.ReadState(ctx)
	assert.ErrorIs(t, err, light.ErrDeviceUnreachable)

	b.err = errors.New("connection refused")
	assert.ErrorIs(t, s.SwitchOff(ctx), light.ErrDeviceUnreachable)
}

func TestDimmer(t *testing.T) {
	ctx := context.Background()
	b := newFakeBridge()
	b.lights[3] = &huego.State{Reachable: true}

	d, err := NewDimmer(b, "3", nil)
	require.NoError(t, err)
	assert.True(t, light.CanDim(d))

	require.NoError(t, d.SwitchOn(ctx))
	st, err := d.ReadState(ctx)
	require.NoError(t, err)
	assert.True(t, st.On)
	require.NotNil(t, st.DimLevel)
	assert.Equal(t, 1.0, *st.DimLevel)

	require.NoError(t, d.SetDimLevel(ctx, 0.5))
	assert.Equal(t, uint8(127), b.applied[len(b.applied)-1].Bri)

	require.NoError(t, d.SetDimLevel(ctx, 0))
	st, err = d.ReadState(ctx)
	require.NoError(t, err)
	assert.False(t, st.On)
	assert.Equal(t, 0.0, *st.DimLevel)

	assert.ErrorIs(t, d.SetDimLevel(ctx, 1.1), light.ErrInvalidArgument)
}

func TestLevelConversion(t *testing.T) {
	tests := []struct {
		name  string
		level float64
		bri   uint8
	}{
		{name: "full", level: 1, bri: 254},
		{name: "half", level: 0.5, bri: 127},
		{name: "tiny rounds up to minimum", level: 0.001, bri: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.bri, LevelToBri(tt.level))
		})
	}

	assert.Equal(t, 1.0, BriToLevel(254))
	assert.InDelta(t, 0.5, BriToLevel(127), 1e-9)
}
