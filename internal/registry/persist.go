package registry

import (
	"time"

	"github.com/dokzlo13/lightmeter/internal/light"
	"github.com/dokzlo13/lightmeter/internal/store"
)

// persister maps a light's fields onto store keys of the form
// <prefix><Field>_<id>.
type persister struct {
	store  store.Store
	prefix string
}

// No field name may be a prefix of another, otherwise two lights could
// map onto the same key (Energy_Counter_ + "last_read_hall" would collide
// with a last-read field named Energy_Counter_last_read_ + "hall").
const (
	keyRuntime       = "Runtime_"
	keyEnergy        = "Energy_Counter_"
	keyLastRead      = "Last_Read_"
	keyState         = "State_"
	keyLastOn        = "Last_On_"
	keyLastActivated = "Last_Activated_"
)

var keyFields = []string{keyRuntime, keyEnergy, keyLastRead, keyState, keyLastOn, keyLastActivated}

func (p *persister) key(field, id string) string {
	return p.prefix + field + id
}

func (p *persister) save(id string, t light.Tracked) error {
	writes := []struct {
		field   string
		value   float64
		archive bool
	}{
		{keyRuntime, t.RuntimeSeconds, true},
		{keyEnergy, t.EnergyWattHours, true},
		{keyState, boolValue(t.IsOn), true},
		{keyLastOn, timeValue(t.LastOn), false},
		{keyLastActivated, timeValue(t.LastActivated), false},
	}
	if t.LastRawWh != nil {
		writes = append(writes, struct {
			field   string
			value   float64
			archive bool
		}{keyLastRead, *t.LastRawWh, false})
	}

	for _, w := range writes {
		if err := p.store.Set(p.key(w.field, id), w.value, w.archive); err != nil {
			return err
		}
	}
	return nil
}

func (p *persister) restore(id string, t *light.Tracked) error {
	get := func(field string) (float64, bool, error) {
		return p.store.Get(p.key(field, id))
	}

	if v, ok, err := get(keyRuntime); err != nil {
		return err
	} else if ok && v > 0 {
		t.RuntimeSeconds = v
	}

	if v, ok, err := get(keyEnergy); err != nil {
		return err
	} else if ok && v > 0 {
		t.EnergyWattHours = v
	}

	if v, ok, err := get(keyLastRead); err != nil {
		return err
	} else if ok {
		t.LastRawWh = &v
	}

	if v, ok, err := get(keyState); err != nil {
		return err
	} else if ok {
		t.IsOn = v != 0
	}

	if v, ok, err := get(keyLastActivated); err != nil {
		return err
	} else if ok {
		t.LastActivated = valueTime(v)
	}

	if v, ok, err := get(keyLastOn); err != nil {
		return err
	} else if ok && t.IsOn {
		t.LastOn = valueTime(v)
	}

	return nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Times are stored as unix milliseconds, 0 meaning absent.
func timeValue(t *time.Time) float64 {
	if t == nil {
		return 0
	}
	return float64(t.UnixMilli())
}

func valueTime(v float64) *time.Time {
	if v <= 0 {
		return nil
	}
	t := time.UnixMilli(int64(v)).UTC()
	return &t
}
