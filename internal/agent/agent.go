package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/qudata/gminer-agent/internal/config"
	"github.com/qudata/gminer-agent/internal/devicemap"
	"github.com/qudata/gminer-agent/internal/domain"
	"github.com/qudata/gminer-agent/internal/fleet"
	"github.com/qudata/gminer-agent/internal/gminer"
	"github.com/qudata/gminer-agent/internal/miner"
	"github.com/qudata/gminer-agent/internal/network"
	"github.com/qudata/gminer-agent/internal/process"
	"github.com/qudata/gminer-agent/internal/server"
	"github.com/qudata/gminer-agent/internal/storage"
)

// Agent is the top-level application that orchestrates all subsystems.
type Agent struct {
	cfg    *config.Config
	logger *slog.Logger

	store *storage.Store
	api   *fleet.Client // nil when running standalone
	miner *miner.Miner

	handler    *server.Handler
	httpServer *server.Server

	agentID string
}

// New creates and wires all agent subsystems. Configuration errors in the
// device table or assignment surface here, before anything is launched.
func New(cfg *config.Config, logger *slog.Logger) (*Agent, error) {
	store, err := storage.NewStore(cfg.Agent.DataDir)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	devices, err := devicemap.New(cfg.Devices)
	if err != nil {
		return nil, fmt.Errorf("device table: %w", err)
	}
	logger.Debug("device table loaded", "devices", devices.Len())

	assignment, err := cfg.Assignment()
	if err != nil {
		return nil, fmt.Errorf("assignment: %w", err)
	}

	ports := network.NewPortAllocator()
	if err := ports.Configure(cfg.Ports); err != nil {
		return nil, fmt.Errorf("ports: %w", err)
	}

	env, err := cfg.Miner.Environment()
	if err != nil {
		return nil, err
	}

	builder := gminer.NewBuilder(cfg.Miner.WorkDir, cfg.Miner.Binary, env, devices, ports)
	resolver := fleet.NewStaticResolver(cfg.Stratum.Endpoints)

	m, err := miner.New(
		miner.Config{
			Username:         cfg.Miner.Username,
			BenchmarkUser:    cfg.Miner.BenchmarkUser,
			Location:         cfg.Miner.Location,
			ExtraOptions:     gminer.JoinOptions(cfg.Miner.ExtraParams, cfg.Miner.TemperatureParams),
			TelemetryTimeout: cfg.Miner.TelemetryTimeout,
		},
		assignment,
		devices,
		builder,
		process.NewLauncher(logger),
		resolver,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("init miner: %w", err)
	}

	var api *fleet.Client
	if cfg.Fleet.URL != "" {
		api = fleet.NewClient(cfg.Fleet.APIKey, cfg.Fleet.URL, logger)
	}

	a := &Agent{
		cfg:    cfg,
		logger: logger,
		store:  store,
		api:    api,
		miner:  m,
	}
	a.handler = server.NewHandler(m, a.benchmarkFinished, logger)
	return a, nil
}

// Run registers with the fleet manager, serves the control API and publishes
// stats. It blocks until the context is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	port, secret, err := a.bootstrap(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	if last, err := a.store.LastBenchmark(); err != nil {
		a.logger.Warn("failed to load last benchmark", "err", err)
	} else if last != nil {
		a.handler.RestoreLast(last.Tier, last.BenchmarkResult)
	}

	if a.api != nil {
		go a.publishStats(ctx)
	} else {
		a.logger.Warn("no fleet url configured, running standalone")
	}

	a.httpServer = server.New(port, secret, a.handler, a.logger)

	a.logger.Info("agent ready",
		"version", config.Version,
		"agent_id", a.agentID,
		"port", port,
		"algorithm", a.miner.Assignment().Algorithm(),
		"devices", len(a.miner.Assignment().Devices()),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.httpServer.Start()
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down agent")
		return a.shutdown()
	case err := <-errCh:
		_ = a.miner.Stop()
		return fmt.Errorf("http server: %w", err)
	}
}

func (a *Agent) bootstrap(ctx context.Context) (int, string, error) {
	agentID, err := a.store.AgentID()
	if err != nil {
		return 0, "", fmt.Errorf("agent id: %w", err)
	}
	a.agentID = agentID

	port := a.cfg.Agent.Port
	if port == 0 {
		port, err = network.NewPortAllocator().AllocateOne()
		if err != nil {
			return 0, "", fmt.Errorf("allocate agent port: %w", err)
		}
	}

	secret := a.cfg.Agent.Secret

	if a.api != nil {
		a.logger.Info("pinging fleet manager", "url", a.cfg.Fleet.URL)
		if err := a.api.Ping(ctx); err != nil {
			return 0, "", fmt.Errorf("fleet ping: %w", err)
		}

		assignment := a.miner.Assignment()
		ids := make([]domain.DeviceID, 0, len(assignment.Devices()))
		for _, d := range assignment.Devices() {
			ids = append(ids, d.ID)
		}

		resp, err := a.api.Register(ctx, domain.AgentRegistration{
			AgentID:   agentID,
			AgentPort: port,
			PID:       os.Getpid(),
			Version:   config.Version,
			Algorithm: assignment.Algorithm(),
			Devices:   ids,
		})
		if err != nil {
			return 0, "", err
		}
		if resp.SecretKey != "" {
			a.api.UseSecret(resp.SecretKey)
			if secret == "" {
				secret = resp.SecretKey
			}
		}
	}

	if secret == "" {
		secret, err = a.store.Secret()
		if err != nil {
			return 0, "", fmt.Errorf("load secret: %w", err)
		}
	}
	if secret == "" {
		secret = uuid.NewString()
		a.logger.Info("generated control API secret", "path", a.cfg.Agent.DataDir)
	}
	if err := a.store.SaveSecret(secret); err != nil {
		a.logger.Warn("failed to save secret", "err", err)
	}

	return port, secret, nil
}

func (a *Agent) benchmarkFinished(tier domain.BenchmarkTier, res domain.BenchmarkResult) {
	report := domain.BenchmarkReport{
		AgentID:         a.agentID,
		Tier:            tier,
		BenchmarkResult: res,
	}
	if err := a.store.SaveLastBenchmark(report); err != nil {
		a.logger.Warn("failed to save benchmark", "err", err)
	}
	if a.api == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.api.SendBenchmark(ctx, report); err != nil {
		a.logger.Warn("failed to send benchmark", "run_id", res.RunID, "err", err)
	}
}

func (a *Agent) publishStats(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Fleet.ReportInterval)
	defer ticker.Stop()

	count := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := a.miner.Status()
			speed := a.miner.Stats(ctx)

			report := domain.StatsReport{
				AgentID:     a.agentID,
				Status:      status,
				SpeedReport: speed,
			}

			if err := a.api.SendStats(ctx, report); err != nil {
				if count%40 == 0 {
					a.logger.Warn("failed to send stats", "err", err)
				}
			}

			if count%20 == 0 && status == domain.StatusMining {
				a.logger.Info("stats",
					"algorithm", speed.Algorithm,
					"speed", speed.TotalSpeed,
					"power", speed.TotalPower,
				)
			}
			count++
		}
	}
}

func (a *Agent) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.miner.Stop(); err != nil {
		a.logger.Error("miner stop error", "err", err)
	}

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.logger.Error("http server shutdown error", "err", err)
		}
	}

	a.handler.Wait()
	a.logger.Info("agent stopped")
	return nil
}
