// Package telemetry polls a running worker and maps its per-GPU figures back
// onto fleet device identities.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/qudata/gminer-agent/internal/domain"
	"github.com/qudata/gminer-agent/internal/metrics"
)

type StatSource interface {
	Stat(ctx context.Context) (*Stat, error)
}

type Indexer interface {
	ExternalIndex(d domain.DeviceID) (int, error)
}

// Reconciler turns one /stat sample into a SpeedReport. It keeps no state
// between polls; callers decide how often to call Poll.
type Reconciler struct {
	source    StatSource
	indexer   Indexer
	algorithm domain.AlgorithmType
	devices   []domain.Device
	fee       float64
	logger    *slog.Logger
}

func NewReconciler(source StatSource, indexer Indexer, assignment domain.Assignment, fee float64, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		source:    source,
		indexer:   indexer,
		algorithm: assignment.Algorithm(),
		devices:   assignment.Devices(),
		fee:       fee,
		logger:    logger,
	}
}

// Poll never fails: network and decode errors degrade to an empty report.
func (r *Reconciler) Poll(ctx context.Context) domain.SpeedReport {
	report, err := r.poll(ctx)
	if err != nil {
		if errors.Is(err, ErrDuplicateDevice) {
			metrics.TelemetryErrorsTotal.WithLabelValues("duplicate").Inc()
		} else {
			metrics.TelemetryErrorsTotal.WithLabelValues("fetch").Inc()
			r.logger.Error("error occurred while getting API stats", "err", err)
		}
		return domain.EmptySpeedReport(r.algorithm)
	}
	return report
}

func (r *Reconciler) poll(ctx context.Context) (domain.SpeedReport, error) {
	stat, err := r.source.Stat(ctx)
	if err != nil {
		return domain.SpeedReport{}, err
	}
	return r.Reconcile(stat)
}

// Reconcile applies the fee per device and once to the raw total.
// Devices the worker did not report are left out of the per-device maps.
func (r *Reconciler) Reconcile(stat *Stat) (domain.SpeedReport, error) {
	report := domain.EmptySpeedReport(r.algorithm)
	var rawTotal float64

	for _, d := range r.devices {
		idx, err := r.indexer.ExternalIndex(d.ID)
		if err != nil {
			return domain.SpeedReport{}, fmt.Errorf("reconcile: %w", err)
		}

		rec, ok := stat.ByIndex(idx)
		if !ok {
			continue
		}

		rawTotal += rec.Speed
		report.TotalPower += rec.PowerUsage
		report.PerDeviceSpeed[d.ID] = domain.ApplyFee(rec.Speed, r.fee)
		report.PerDevicePower[d.ID] = rec.PowerUsage
	}

	report.TotalSpeed = domain.ApplyFee(rawTotal, r.fee)
	return report, nil
}
