// Package devicemap translates fleet device identities into the ordinals the
// worker uses on its command line and in its /stat responses, and back.
package devicemap

import (
	"fmt"

	"github.com/qudata/gminer-agent/internal/domain"
)

// Entry is one row of the inventory table supplied at startup.
type Entry struct {
	DeviceID domain.DeviceID    `mapstructure:"id"`
	Class    domain.DeviceClass `mapstructure:"class"`
	Index    int                `mapstructure:"index"`
}

// Map is read-only after New.
type Map struct {
	toIndex  map[domain.DeviceID]int
	toDevice map[int]domain.Device
}

// New builds a Map from the inventory table. Two devices claiming the same
// index, or one device listed twice, is rejected: lookups must be exact in
// both directions.
func New(entries []Entry) (*Map, error) {
	m := &Map{
		toIndex:  make(map[domain.DeviceID]int, len(entries)),
		toDevice: make(map[int]domain.Device, len(entries)),
	}

	for _, e := range entries {
		if e.DeviceID == "" {
			return nil, fmt.Errorf("device map: empty device id for index %d", e.Index)
		}
		if e.Index < 0 {
			return nil, fmt.Errorf("device map: negative index %d for %s", e.Index, e.DeviceID)
		}
		if _, dup := m.toIndex[e.DeviceID]; dup {
			return nil, fmt.Errorf("device map: device %s listed twice", e.DeviceID)
		}
		if other, dup := m.toDevice[e.Index]; dup {
			return nil, fmt.Errorf("device map: index %d claimed by %s and %s", e.Index, other.ID, e.DeviceID)
		}
		m.toIndex[e.DeviceID] = e.Index
		m.toDevice[e.Index] = domain.Device{ID: e.DeviceID, Class: e.Class}
	}

	return m, nil
}

// ExternalIndex returns the worker ordinal for d.
func (m *Map) ExternalIndex(d domain.DeviceID) (int, error) {
	idx, ok := m.toIndex[d]
	if !ok {
		return 0, domain.ErrUnmappedDevice{DeviceID: d}
	}
	return idx, nil
}

// InternalDevice is the inverse of ExternalIndex.
func (m *Map) InternalDevice(index int) (domain.Device, bool) {
	d, ok := m.toDevice[index]
	return d, ok
}

// Indices resolves every device in order. The first unmapped device aborts.
func (m *Map) Indices(devices []domain.Device) ([]int, error) {
	out := make([]int, 0, len(devices))
	for _, d := range devices {
		idx, err := m.ExternalIndex(d.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, nil
}

func (m *Map) Len() int {
	return len(m.toIndex)
}
