// Package benchmark runs the convergence protocol over a worker's streamed
// output: sample the reported hashrate until enough samples are in, the
// time budget runs out, or the caller cancels.
package benchmark

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/qudata/gminer-agent/internal/domain"
)

const (
	// DefaultGrace is added to the sampling window to form the timeout.
	DefaultGrace = 5 * time.Second

	secondsPerIteration = 30
)

type Options struct {
	// Duration is the sampling window of the selected tier.
	Duration time.Duration
	// Timeout defaults to Duration + DefaultGrace.
	Timeout time.Duration
	Fee     float64
}

// TargetIterations is max(1, floor(seconds/30)).
func TargetIterations(d time.Duration) int {
	n := int(math.Floor(d.Seconds() / secondsPerIteration))
	if n < 1 {
		return 1
	}
	return n
}

type Engine struct {
	classifier LineClassifier
	logger     *slog.Logger
}

func NewEngine(classifier LineClassifier, logger *slog.Logger) *Engine {
	return &Engine{classifier: classifier, logger: logger}
}

// run is the accumulator of a single benchmark. Only Engine.Run touches it.
type run struct {
	fee    float64
	sum    float64
	count  int
	mean   float64
	target int
	state  domain.BenchmarkState
}

func (r *run) add(v float64) {
	r.sum += v
	r.count++
	r.mean = domain.ApplyFee(r.sum/float64(r.count), r.fee)
	if r.count >= r.target {
		r.state = domain.StateConverged
	}
}

func (r *run) result() domain.BenchmarkResult {
	return domain.BenchmarkResult{
		Speed:   r.mean,
		Success: r.state == domain.StateConverged,
		State:   r.state,
		Samples: r.count,
		Target:  r.target,
	}
}

// Run consumes lines until the run reaches a terminal state. It never
// returns an error: non-convergence is reported as Success == false with the
// running mean collected so far.
//
// If lines is closed (the worker exited) the run waits out the timeout; it
// then ends Exhausted if any sample was collected and TimedOut otherwise.
func (e *Engine) Run(ctx context.Context, lines <-chan string, opts Options) domain.BenchmarkResult {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = opts.Duration + DefaultGrace
	}

	r := &run{
		fee:    opts.Fee,
		target: TargetIterations(opts.Duration),
		state:  domain.StateRunning,
	}

	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	streamClosed := false

	for r.state == domain.StateRunning {
		select {
		case <-ctx.Done():
			r.state = domain.StateCancelled

		case <-timer.C:
			r.state = expired(streamClosed, r.count)

		case line, ok := <-lines:
			if !ok {
				lines = nil
				streamClosed = true
				e.logger.Warn("worker output closed before benchmark converged",
					"samples", r.count,
					"target", r.target,
				)
				continue
			}
			// A line racing a stop signal or the deadline is discarded.
			if ctx.Err() != nil {
				r.state = domain.StateCancelled
				continue
			}
			if !time.Now().Before(deadline) {
				r.state = expired(streamClosed, r.count)
				continue
			}

			v, found := e.classifier.Classify(line)
			if !found {
				continue
			}
			r.add(v)
			e.logger.Debug("benchmark sample",
				"hashrate", v,
				"samples", r.count,
				"target", r.target,
				"mean", r.mean,
			)
		}
	}

	return r.result()
}

func expired(streamClosed bool, samples int) domain.BenchmarkState {
	if streamClosed && samples > 0 {
		return domain.StateExhausted
	}
	return domain.StateTimedOut
}
