package devicemap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qudata/gminer-agent/internal/domain"
)

func testMap(t *testing.T) *Map {
	t.Helper()
	m, err := New([]Entry{
		{DeviceID: "GPU-aaaa", Class: domain.ClassCUDA, Index: 1},
		{DeviceID: "GPU-bbbb", Class: domain.ClassCUDA, Index: 0},
		{DeviceID: "GPU-cccc", Class: domain.ClassCUDA, Index: 4},
	})
	require.NoError(t, err)
	return m
}

func TestRoundTrip(t *testing.T) {
	m := testMap(t)

	for _, id := range []domain.DeviceID{"GPU-aaaa", "GPU-bbbb", "GPU-cccc"} {
		idx, err := m.ExternalIndex(id)
		require.NoError(t, err)

		d, ok := m.InternalDevice(idx)
		require.True(t, ok)
		assert.Equal(t, id, d.ID)

		again, err := m.ExternalIndex(d.ID)
		require.NoError(t, err)
		assert.Equal(t, idx, again)
	}
}

func TestExternalIndexUnmapped(t *testing.T) {
	m := testMap(t)

	_, err := m.ExternalIndex("GPU-missing")
	require.Error(t, err)
	assert.Equal(t, domain.ErrUnmappedDevice{DeviceID: "GPU-missing"}, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}

func TestInternalDeviceNotFound(t *testing.T) {
	m := testMap(t)

	_, ok := m.InternalDevice(2)
	assert.False(t, ok)
}

func TestIndicesPreservesOrder(t *testing.T) {
	m := testMap(t)

	idx, err := m.Indices([]domain.Device{{ID: "GPU-cccc"}, {ID: "GPU-aaaa"}, {ID: "GPU-bbbb"}})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 1, 0}, idx)

	_, err = m.Indices([]domain.Device{{ID: "GPU-aaaa"}, {ID: "GPU-zzzz"}})
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}

func TestNewRejectsAmbiguousTables(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
	}{
		{"duplicate device", []Entry{{DeviceID: "A", Index: 0}, {DeviceID: "A", Index: 1}}},
		{"duplicate index", []Entry{{DeviceID: "A", Index: 0}, {DeviceID: "B", Index: 0}}},
		{"empty id", []Entry{{DeviceID: "", Index: 0}}},
		{"negative index", []Entry{{DeviceID: "A", Index: -1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.entries)
			assert.Error(t, err)
			assert.Nil(t, m)
		})
	}
}
