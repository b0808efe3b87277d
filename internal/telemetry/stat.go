package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDuplicateDevice means a /stat payload listed the same gpu_id twice.
// GMiner does this briefly while it re-enumerates devices; the sample is
// dropped without logging.
var ErrDuplicateDevice = errors.New("duplicate device record")

// Stat mirrors the JSON served by GMiner's GET /stat.
type Stat struct {
	Miner     string       `json:"miner"`
	Uptime    int64        `json:"uptime"`
	Server    string       `json:"server"`
	User      string       `json:"user"`
	Algorithm string       `json:"algorithm"`
	Devices   []DeviceStat `json:"devices"`
}

type DeviceStat struct {
	GPUID          int     `json:"gpu_id"`
	BusID          string  `json:"bus_id"`
	Name           string  `json:"name"`
	Speed          float64 `json:"speed"`
	AcceptedShares int     `json:"accepted_shares"`
	RejectedShares int     `json:"rejected_shares"`
	Temperature    int     `json:"temperature"`
	PowerUsage     int     `json:"power_usage"`
}

// ParseStat decodes a /stat body and checks that device indices are unique.
func ParseStat(data []byte) (*Stat, error) {
	var stat Stat
	if err := json.Unmarshal(data, &stat); err != nil {
		return nil, fmt.Errorf("decode stat: %w", err)
	}

	seen := make(map[int]struct{}, len(stat.Devices))
	for _, d := range stat.Devices {
		if _, dup := seen[d.GPUID]; dup {
			return nil, fmt.Errorf("gpu_id %d: %w", d.GPUID, ErrDuplicateDevice)
		}
		seen[d.GPUID] = struct{}{}
	}
	return &stat, nil
}

// ByIndex returns the record for a worker GPU index.
func (s *Stat) ByIndex(idx int) (DeviceStat, bool) {
	for _, d := range s.Devices {
		if d.GPUID == idx {
			return d, true
		}
	}
	return DeviceStat{}, false
}
