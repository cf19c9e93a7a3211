package services

import (
	"context"
	"fmt"
	"time"

	"ev-analytics-platform/internal/models"
	"ev-analytics-platform/internal/repository"
	"ev-analytics-platform/pkg/logging"
	"ev-analytics-platform/pkg/metrics"
)

// DefaultBatchSize is the number of vehicles inserted per bulk statement.
const DefaultBatchSize = 10000

// BatchError records one failed batch inside an otherwise successful load.
type BatchError struct {
	Batch int    `json:"batch"`
	Size  int    `json:"size"`
	Error string `json:"error"`
}

// LoadReport summarizes a load: how many records were attempted, how many
// landed, and which batches failed. A load with failed batches is partial,
// not failed; the surviving batches stay in the store.
type LoadReport struct {
	RecordsAttempted int           `json:"records_attempted"`
	RecordsInserted  int           `json:"records_inserted"`
	BatchesTotal     int           `json:"batches_total"`
	BatchesFailed    int           `json:"batches_failed"`
	Errors           []BatchError  `json:"errors,omitempty"`
	Duration         time.Duration `json:"-"`
}

// BatchLoader writes validated vehicles to the repository in fixed-size
// batches and ensures the analytical indexes exist afterwards.
type BatchLoader struct {
	repo      repository.VehicleRepository
	batchSize int
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// NewBatchLoader creates a loader. A non-positive batchSize falls back to
// DefaultBatchSize.
func NewBatchLoader(repo repository.VehicleRepository, batchSize int, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *BatchLoader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &BatchLoader{
		repo:      repo,
		batchSize: batchSize,
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// Load inserts vehicles batch by batch. A failed batch is recorded in the
// report and loading continues with the next batch. Indexes are created after
// the data lands so index maintenance does not slow the bulk insert.
func (l *BatchLoader) Load(ctx context.Context, vehicles []*models.Vehicle) (*LoadReport, error) {
	startTime := time.Now()
	report := &LoadReport{RecordsAttempted: len(vehicles)}

	l.logger.Info(ctx, "[LOAD_START] Starting batch load", logging.Fields{
		"record_count": len(vehicles),
		"batch_size":   l.batchSize,
		"stage":        "LOADING",
	})

	for start := 0; start < len(vehicles); start += l.batchSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		end := start + l.batchSize
		if end > len(vehicles) {
			end = len(vehicles)
		}
		batch := vehicles[start:end]
		report.BatchesTotal++

		inserted, err := l.repo.InsertVehiclesBatch(ctx, batch)
		if err != nil {
			report.BatchesFailed++
			report.Errors = append(report.Errors, BatchError{
				Batch: report.BatchesTotal,
				Size:  len(batch),
				Error: err.Error(),
			})
			l.logger.Error(ctx, "[LOAD_BATCH_ERROR] Batch insert failed", logging.Fields{
				"batch":      report.BatchesTotal,
				"batch_size": len(batch),
				"stage":      "LOADING",
			}, err)
			l.metrics.BatchFailuresTotal.Inc()
			continue
		}

		report.RecordsInserted += inserted
		l.metrics.LoadRecordsTotal.Add(float64(inserted))
		l.metrics.LoadBatchSize.Observe(float64(len(batch)))
	}

	if err := l.repo.EnsureIndexes(ctx); err != nil {
		return report, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	report.Duration = time.Since(startTime)

	l.logger.Info(ctx, "[LOAD_COMPLETE] Batch load finished", logging.Fields{
		"records_attempted": report.RecordsAttempted,
		"records_inserted":  report.RecordsInserted,
		"batches_total":     report.BatchesTotal,
		"batches_failed":    report.BatchesFailed,
		"duration_ms":       report.Duration.Milliseconds(),
		"stage":             "LOADING",
	})

	return report, nil
}
