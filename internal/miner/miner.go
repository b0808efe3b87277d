// Package miner binds one device assignment to the GMiner worker and exposes
// the operations the agent drives: benchmark, start, stop and stats.
package miner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qudata/gminer-agent/internal/benchmark"
	"github.com/qudata/gminer-agent/internal/domain"
	"github.com/qudata/gminer-agent/internal/gminer"
	"github.com/qudata/gminer-agent/internal/metrics"
	"github.com/qudata/gminer-agent/internal/process"
	"github.com/qudata/gminer-agent/internal/telemetry"
)

const defaultTelemetryTimeout = 5 * time.Second

type Launcher interface {
	Launch(spec *gminer.InvocationSpec) (process.Worker, error)
}

type Builder interface {
	Build(req gminer.Request) (*gminer.InvocationSpec, error)
}

// EndpointResolver returns the stratum "host:port" for an algorithm at a
// location.
type EndpointResolver interface {
	Endpoint(algorithm domain.AlgorithmType, location string) (string, error)
}

// DeviceMapper is what the miner needs from the device identity table.
type DeviceMapper interface {
	telemetry.Indexer
	gminer.Indexer
}

type Config struct {
	Username         string
	BenchmarkUser    string
	Location         string
	ExtraOptions     string
	TelemetryTimeout time.Duration
}

type Miner struct {
	cfg        Config
	assignment domain.Assignment
	mapper     DeviceMapper
	builder    Builder
	launcher   Launcher
	resolver   EndpointResolver
	engine     *benchmark.Engine
	logger     *slog.Logger

	mu          sync.Mutex
	status      domain.MinerStatus
	worker      process.Worker
	reconciler  *telemetry.Reconciler
	cancelBench context.CancelFunc

	// Set while Start is between claim and publishing the worker.
	cancelStart context.CancelFunc
	starting    chan struct{}
}

// New validates the assignment up front: the algorithm must be supported, every
// device mapped and the endpoint resolvable. Errors satisfy
// errors.Is(err, domain.ErrConfiguration).
func New(
	cfg Config,
	assignment domain.Assignment,
	mapper DeviceMapper,
	builder Builder,
	launcher Launcher,
	resolver EndpointResolver,
	logger *slog.Logger,
) (*Miner, error) {
	if !gminer.Supported(assignment.Algorithm()) {
		return nil, domain.ErrUnsupportedAlgorithm{Algorithm: assignment.Algorithm()}
	}
	if _, err := mapper.Indices(assignment.Devices()); err != nil {
		return nil, err
	}
	if _, err := resolveEndpoint(resolver, assignment.Algorithm(), cfg.Location); err != nil {
		return nil, err
	}
	if cfg.TelemetryTimeout <= 0 {
		cfg.TelemetryTimeout = defaultTelemetryTimeout
	}

	return &Miner{
		cfg:        cfg,
		assignment: assignment,
		mapper:     mapper,
		builder:    builder,
		launcher:   launcher,
		resolver:   resolver,
		engine:     benchmark.NewEngine(benchmark.TotalSpeed(), logger),
		logger:     logger,
		status:     domain.StatusIdle,
	}, nil
}

func resolveEndpoint(r EndpointResolver, algo domain.AlgorithmType, location string) (string, error) {
	raw, err := r.Endpoint(algo, location)
	if err != nil {
		return "", err
	}
	if _, err := gminer.SplitEndpoint(raw); err != nil {
		return "", err
	}
	return raw, nil
}

func (m *Miner) Assignment() domain.Assignment {
	return m.assignment
}

func (m *Miner) Status() domain.MinerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// claim moves an idle (or failed) miner into next.
func (m *Miner) claim(next domain.MinerStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != domain.StatusIdle && m.status != domain.StatusError {
		return domain.ErrMinerBusy{Status: m.status}
	}
	m.status = next
	return nil
}

func (m *Miner) setStatus(s domain.MinerStatus) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Miner) prepare(username string) (*gminer.InvocationSpec, error) {
	endpoint, err := resolveEndpoint(m.resolver, m.assignment.Algorithm(), m.cfg.Location)
	if err != nil {
		return nil, err
	}
	return m.builder.Build(gminer.Request{
		Algorithm:    m.assignment.Algorithm(),
		Devices:      m.assignment.Devices(),
		Endpoint:     endpoint,
		Username:     username,
		ExtraOptions: m.cfg.ExtraOptions,
	})
}

// Benchmark launches the worker with the benchmark credential and samples its
// output for the tier's window. A run that does not converge is returned with
// Success == false and a nil error; errors are reserved for failures to
// launch at all.
func (m *Miner) Benchmark(ctx context.Context, tier domain.BenchmarkTier) (domain.BenchmarkResult, error) {
	if err := m.claim(domain.StatusBenchmarking); err != nil {
		return domain.BenchmarkResult{}, err
	}
	defer m.setStatus(domain.StatusIdle)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.mu.Lock()
	m.cancelBench = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.cancelBench = nil
		m.mu.Unlock()
	}()

	runID := uuid.NewString()
	logger := m.logger.With("run_id", runID, "tier", tier)

	spec, err := m.prepare(m.cfg.BenchmarkUser)
	if err != nil {
		return domain.BenchmarkResult{}, fmt.Errorf("prepare benchmark: %w", err)
	}
	defer spec.Release()

	logger.Info("benchmarking started",
		"algorithm", m.assignment.Algorithm(),
		"api_port", spec.APIPort,
		"command", spec.CommandLine(),
	)

	worker, err := m.launcher.Launch(spec)
	if err != nil {
		return domain.BenchmarkResult{}, fmt.Errorf("launch benchmark: %w", err)
	}
	metrics.WorkerRunning.Set(1)
	defer func() {
		if err := worker.Stop(); err != nil {
			logger.Warn("failed to stop benchmark worker", "err", err)
		}
		metrics.WorkerRunning.Set(0)
	}()

	res := m.engine.Run(runCtx, worker.Lines(), benchmark.Options{
		Duration: tier.Duration(),
		Fee:      gminer.DevFee,
	})
	res.RunID = runID
	res.Algorithm = m.assignment.Algorithm()

	metrics.ObserveBenchmark(res)
	logger.Info("benchmarking finished",
		"state", res.State,
		"speed", res.Speed,
		"samples", res.Samples,
		"target", res.Target,
		"success", res.Success,
	)
	return res, nil
}

// Start launches the production worker with the payout username. The worker
// keeps running until Stop or until it exits on its own. Cancelling ctx, or a
// Stop that arrives before the worker is published, aborts the start and
// leaves the miner idle.
func (m *Miner) Start(ctx context.Context) error {
	if err := m.claim(domain.StatusMining); err != nil {
		return err
	}

	startCtx, cancel := context.WithCancel(ctx)
	starting := make(chan struct{})
	m.mu.Lock()
	m.cancelStart = cancel
	m.starting = starting
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.cancelStart = nil
		m.starting = nil
		m.mu.Unlock()
		cancel()
		close(starting)
	}()

	spec, err := m.prepare(m.cfg.Username)
	if err != nil {
		m.setStatus(domain.StatusIdle)
		return fmt.Errorf("prepare mining: %w", err)
	}
	if err := startCtx.Err(); err != nil {
		spec.Release()
		m.setStatus(domain.StatusIdle)
		return fmt.Errorf("start mining: %w", err)
	}

	worker, err := m.launcher.Launch(spec)
	if err != nil {
		spec.Release()
		m.setStatus(domain.StatusError)
		return fmt.Errorf("launch mining: %w", err)
	}

	logger := m.logger.With("api_port", spec.APIPort)
	client := telemetry.NewClient(spec.APIPort, m.cfg.TelemetryTimeout)
	reconciler := telemetry.NewReconciler(client, m.mapper, m.assignment, gminer.DevFee, logger)

	m.mu.Lock()
	if err := startCtx.Err(); err != nil {
		m.status = domain.StatusIdle
		m.mu.Unlock()
		if stopErr := worker.Stop(); stopErr != nil {
			logger.Warn("failed to stop aborted worker", "err", stopErr)
		}
		spec.Release()
		logger.Info("mining start aborted", "err", err)
		return fmt.Errorf("start mining: %w", err)
	}
	m.worker = worker
	m.reconciler = reconciler
	m.mu.Unlock()
	metrics.WorkerRunning.Set(1)

	logger.Info("mining started",
		"algorithm", m.assignment.Algorithm(),
		"command", spec.CommandLine(),
	)

	go m.watch(worker, spec, logger)
	return nil
}

// watch drains worker output into debug logs and records an unexpected exit.
func (m *Miner) watch(worker process.Worker, spec *gminer.InvocationSpec, logger *slog.Logger) {
	for line := range worker.Lines() {
		logger.Debug("worker", "line", line)
	}
	<-worker.Done()
	spec.Release()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.worker != worker {
		return
	}
	logger.Error("worker exited unexpectedly")
	m.worker = nil
	m.reconciler = nil
	m.status = domain.StatusError
	metrics.WorkerRunning.Set(0)
}

// Stop cancels a running benchmark or terminates the mining worker. A Start
// still in progress is aborted and Stop waits for it to unwind. Stopping an
// idle miner is a no-op.
func (m *Miner) Stop() error {
	m.mu.Lock()
	cancel := m.cancelBench
	cancelStart, starting := m.cancelStart, m.starting
	worker := m.worker
	m.worker = nil
	m.reconciler = nil
	if worker != nil {
		m.status = domain.StatusIdle
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cancelStart != nil {
		cancelStart()
		<-starting
	}
	if worker == nil {
		return nil
	}

	metrics.WorkerRunning.Set(0)
	if err := worker.Stop(); err != nil {
		return fmt.Errorf("stop worker: %w", err)
	}
	m.logger.Info("mining stopped")
	return nil
}

// Stats polls the running worker. When nothing is mining the report is empty.
func (m *Miner) Stats(ctx context.Context) domain.SpeedReport {
	m.mu.Lock()
	reconciler := m.reconciler
	m.mu.Unlock()

	report := domain.EmptySpeedReport(m.assignment.Algorithm())
	if reconciler != nil {
		report = reconciler.Poll(ctx)
	}
	metrics.ObserveSpeedReport(report)
	return report
}
