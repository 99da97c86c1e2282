package light

import "context"

// State is what an adapter reports about the physical device.
type State struct {
	On          bool
	DimLevel    *float64 // nil unless the device dims
	RawEnergyWh *float64 // nil unless the device meters
}

// Adapter is the capability every device driver provides.
// Failures should wrap ErrDeviceUnreachable or ErrUnsupportedOperation.
type Adapter interface {
	ReadState(ctx context.Context) (State, error)
	SwitchOn(ctx context.Context) error
	SwitchOff(ctx context.Context) error
}

// Dimmer is implemented by adapters that accept a relative dim level in [0,1].
type Dimmer interface {
	SetDimLevel(ctx context.Context, level float64) error
}

// CanDim reports whether the adapter exposes the Dimmer capability.
func CanDim(a Adapter) bool {
	_, ok := a.(Dimmer)
	return ok
}
