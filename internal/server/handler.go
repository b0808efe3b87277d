package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/qudata/gminer-agent/internal/domain"
)

// Miner is the control surface the API drives.
type Miner interface {
	Status() domain.MinerStatus
	Stats(ctx context.Context) domain.SpeedReport
	Benchmark(ctx context.Context, tier domain.BenchmarkTier) (domain.BenchmarkResult, error)
	Start(ctx context.Context) error
	Stop() error
}

// BenchmarkFunc receives every finished benchmark.
type BenchmarkFunc func(tier domain.BenchmarkTier, res domain.BenchmarkResult)

type Handler struct {
	miner       Miner
	onBenchmark BenchmarkFunc
	logger      *slog.Logger

	mu   sync.RWMutex
	last *benchmarkResponse
	wg   sync.WaitGroup
}

func NewHandler(miner Miner, onBenchmark BenchmarkFunc, logger *slog.Logger) *Handler {
	return &Handler{
		miner:       miner,
		onBenchmark: onBenchmark,
		logger:      logger,
	}
}

type statsResponse struct {
	Status domain.MinerStatus `json:"status"`
	domain.SpeedReport
}

type benchmarkRequest struct {
	Tier string `json:"tier"`
}

type benchmarkResponse struct {
	Tier domain.BenchmarkTier `json:"tier"`
	domain.BenchmarkResult
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) Stats(c *gin.Context) {
	report := h.miner.Stats(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"ok":   true,
		"data": statsResponse{Status: h.miner.Status(), SpeedReport: report},
	})
}

// StartBenchmark accepts the run and executes it in the background; a tier
// can take minutes. The outcome is available from LastBenchmark.
func (h *Handler) StartBenchmark(c *gin.Context) {
	var req benchmarkRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
			return
		}
	}

	tier, err := domain.ParseBenchmarkTier(req.Tier)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}

	if status := h.miner.Status(); status != domain.StatusIdle && status != domain.StatusError {
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": domain.ErrMinerBusy{Status: status}.Error()})
		return
	}

	h.wg.Add(1)
	go h.runBenchmark(context.Background(), tier)

	c.JSON(http.StatusAccepted, gin.H{"ok": true, "data": gin.H{"tier": tier}})
}

func (h *Handler) runBenchmark(ctx context.Context, tier domain.BenchmarkTier) {
	defer h.wg.Done()

	res, err := h.miner.Benchmark(ctx, tier)
	if err != nil {
		h.logger.Error("benchmark failed to run", "tier", tier, "err", err)
		return
	}

	h.mu.Lock()
	h.last = &benchmarkResponse{Tier: tier, BenchmarkResult: res}
	h.mu.Unlock()

	if h.onBenchmark != nil {
		h.onBenchmark(tier, res)
	}
}

func (h *Handler) LastBenchmark(c *gin.Context) {
	h.mu.RLock()
	last := h.last
	h.mu.RUnlock()

	if last == nil {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "no benchmark has finished yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": last})
}

func (h *Handler) StartMining(c *gin.Context) {
	if err := h.miner.Start(c.Request.Context()); err != nil {
		c.JSON(errorStatus(err), gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) StopMining(c *gin.Context) {
	if err := h.miner.Stop(); err != nil {
		h.logger.Error("failed to stop miner", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// RestoreLast seeds LastBenchmark with a result persisted by a previous run.
func (h *Handler) RestoreLast(tier domain.BenchmarkTier, res domain.BenchmarkResult) {
	h.mu.Lock()
	h.last = &benchmarkResponse{Tier: tier, BenchmarkResult: res}
	h.mu.Unlock()
}

// Wait blocks until background benchmarks have returned.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func errorStatus(err error) int {
	var busy domain.ErrMinerBusy
	switch {
	case errors.As(err, &busy), errors.Is(err, context.Canceled):
		return http.StatusConflict
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
