package domain

import (
	"fmt"
	"strings"
	"time"
)

// BenchmarkTier selects how long a benchmark samples the worker.
type BenchmarkTier string

const (
	TierQuick    BenchmarkTier = "quick"
	TierStandard BenchmarkTier = "standard"
	TierPrecise  BenchmarkTier = "precise"
)

// Duration is the total sampling window of the tier.
func (t BenchmarkTier) Duration() time.Duration {
	switch t {
	case TierStandard:
		return 60 * time.Second
	case TierPrecise:
		return 120 * time.Second
	default:
		return 20 * time.Second
	}
}

func ParseBenchmarkTier(s string) (BenchmarkTier, error) {
	switch BenchmarkTier(strings.ToLower(strings.TrimSpace(s))) {
	case TierQuick:
		return TierQuick, nil
	case TierStandard, "":
		return TierStandard, nil
	case TierPrecise:
		return TierPrecise, nil
	default:
		return "", fmt.Errorf("unknown benchmark tier %q", s)
	}
}

type BenchmarkState string

const (
	StateRunning   BenchmarkState = "running"
	StateConverged BenchmarkState = "converged"
	StateExhausted BenchmarkState = "exhausted"
	StateTimedOut  BenchmarkState = "timed_out"
	StateCancelled BenchmarkState = "cancelled"
)

// Terminal reports whether no further samples may change the outcome.
func (s BenchmarkState) Terminal() bool {
	return s != StateRunning && s != ""
}

// BenchmarkResult is returned for every benchmark, successful or not.
// Speed is the fee-adjusted running mean at the moment the run ended.
type BenchmarkResult struct {
	RunID     string         `json:"run_id"`
	Algorithm AlgorithmType  `json:"algorithm"`
	Speed     float64        `json:"speed"`
	Success   bool           `json:"success"`
	State     BenchmarkState `json:"state"`
	Samples   int            `json:"samples"`
	Target    int            `json:"target"`
}
