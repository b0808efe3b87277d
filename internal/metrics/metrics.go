package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/qudata/gminer-agent/internal/domain"
)

var (
	// Gauges, refreshed on every successful telemetry poll
	SpeedTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gminer_speed_total",
			Help: "Fee-adjusted total speed reported by the worker",
		},
		[]string{"algorithm"},
	)

	PowerTotalWatts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gminer_power_total_watts",
			Help: "Total power draw of the assigned devices",
		},
	)

	DeviceSpeed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gminer_device_speed",
			Help: "Fee-adjusted speed per device",
		},
		[]string{"device", "algorithm"},
	)

	DevicePowerWatts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gminer_device_power_watts",
			Help: "Power draw per device",
		},
		[]string{"device"},
	)

	WorkerRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gminer_worker_running",
			Help: "1 while a worker process is running",
		},
	)

	// Counters
	TelemetryErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gminer_telemetry_errors_total",
			Help: "Telemetry polls that degraded to an empty report",
		},
		[]string{"reason"}, // fetch, duplicate
	)

	BenchmarksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gminer_benchmarks_total",
			Help: "Finished benchmarks by terminal state",
		},
		[]string{"algorithm", "state"},
	)

	BenchmarkSpeed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gminer_benchmark_speed",
			Help: "Fee-adjusted speed of the most recent benchmark",
		},
		[]string{"algorithm", "success"},
	)
)

// ObserveSpeedReport replaces the speed/power gauges with report.
func ObserveSpeedReport(report domain.SpeedReport) {
	algo := string(report.Algorithm)
	SpeedTotal.WithLabelValues(algo).Set(report.TotalSpeed)
	PowerTotalWatts.Set(float64(report.TotalPower))

	DeviceSpeed.Reset()
	for id, v := range report.PerDeviceSpeed {
		DeviceSpeed.WithLabelValues(string(id), algo).Set(v)
	}
	DevicePowerWatts.Reset()
	for id, w := range report.PerDevicePower {
		DevicePowerWatts.WithLabelValues(string(id)).Set(float64(w))
	}
}

func ObserveBenchmark(res domain.BenchmarkResult) {
	algo := string(res.Algorithm)
	BenchmarksTotal.WithLabelValues(algo, string(res.State)).Inc()

	success := "false"
	if res.Success {
		success = "true"
	}
	BenchmarkSpeed.WithLabelValues(algo, success).Set(res.Speed)
}
