package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"ev-analytics-platform/internal/models"
	"ev-analytics-platform/internal/repository"
	"ev-analytics-platform/internal/source"
	"ev-analytics-platform/pkg/logging"
	"ev-analytics-platform/pkg/metrics"
)

// State is the lifecycle stage of a pipeline run.
type State string

const (
	StateIdle         State = "idle"
	StateExtracting   State = "extracting"
	StateTransforming State = "transforming"
	StateLoading      State = "loading"
	StateComplete     State = "complete"
	StateFailed       State = "failed"
)

// PipelineResult is the outcome of a completed run.
type PipelineResult struct {
	Source     string                `json:"source"`
	Quality    *models.QualityReport `json:"quality_report"`
	Load       *LoadReport           `json:"load_report"`
	Duration   time.Duration         `json:"-"`
	FinishedAt time.Time             `json:"finished_at"`
}

// Pipeline runs the extract-validate-load cycle against a record source.
// Rows stream through validation as they are read, so only the validated
// vehicles are ever held in memory at once.
//
// Only an unreachable source fails a run outright. Malformed rows become
// rejections in the quality report, and failed insert batches become errors
// in the load report; both leave the run in StateComplete.
type Pipeline struct {
	src       source.Source
	loader    *BatchLoader
	validator *models.Validator
	sampleCap int
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector

	mu    sync.RWMutex
	state State
}

// NewPipeline creates a pipeline. A non-positive sampleCap falls back to
// models.DefaultRejectionSampleCap.
func NewPipeline(src source.Source, repo repository.VehicleRepository, validator *models.Validator, batchSize, sampleCap int, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Pipeline {
	if sampleCap <= 0 {
		sampleCap = models.DefaultRejectionSampleCap
	}
	return &Pipeline{
		src:       src,
		loader:    NewBatchLoader(repo, batchSize, logger, metricsCollector),
		validator: validator,
		sampleCap: sampleCap,
		logger:    logger,
		metrics:   metricsCollector,
		state:     StateIdle,
	}
}

// State reports the current lifecycle stage.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Run executes one full pipeline pass.
func (p *Pipeline) Run(ctx context.Context) (*PipelineResult, error) {
	startTime := time.Now()
	timer := p.metrics.NewTimer(p.metrics.PipelineDuration)
	defer timer.ObserveDuration()

	p.logger.Info(ctx, "[PIPELINE_START] Starting pipeline run", logging.Fields{
		"source": p.src.Name(),
		"stage":  "INITIALIZATION",
	})

	p.setState(StateExtracting)
	reader, err := p.src.Open(ctx)
	if err != nil {
		p.setState(StateFailed)
		p.logger.Error(ctx, "[PIPELINE_SOURCE_ERROR] Record source unavailable", logging.Fields{
			"source": p.src.Name(),
			"stage":  "EXTRACTION",
		}, err)
		if errors.Is(err, source.ErrSourceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", source.ErrSourceUnavailable, err)
	}
	defer reader.Close()

	reporter := models.NewQualityReporter(p.sampleCap)
	vehicles := make([]*models.Vehicle, 0, DefaultBatchSize)

	var rowNumber int64
	for {
		if err := ctx.Err(); err != nil {
			p.setState(StateFailed)
			return nil, err
		}

		row, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			p.setState(StateFailed)
			return nil, fmt.Errorf("%w: reading row %d: %v", source.ErrSourceUnavailable, rowNumber+1, err)
		}

		rowNumber++
		p.metrics.PipelineRowsTotal.Inc()
		reporter.ObserveRow(row)

		vehicle, rej := p.validator.Validate(row)
		if rej != nil {
			reporter.RecordRejection(rowNumber, row[models.ColVINPrefix], rej)
			p.metrics.RecordRejection(string(rej.Code))
			continue
		}
		reporter.RecordValid()
		vehicles = append(vehicles, vehicle)
	}

	p.setState(StateTransforming)
	quality := reporter.Finalize()

	p.logger.Info(ctx, "[PIPELINE_VALIDATED] Validation finished", logging.Fields{
		"total_records":   quality.TotalRecords,
		"valid_records":   quality.ValidRecords,
		"invalid_records": quality.InvalidRecords,
		"stage":           "TRANSFORMATION",
	})

	p.setState(StateLoading)
	load, err := p.loader.Load(ctx, vehicles)

	p.setState(StateComplete)
	result := &PipelineResult{
		Source:     p.src.Name(),
		Quality:    quality,
		Load:       load,
		Duration:   time.Since(startTime),
		FinishedAt: time.Now().UTC(),
	}
	if err != nil {
		// Data past the source stage is already in the store and counted in
		// the reports, so the run still completes; the caller gets the error
		// next to the result rather than instead of it.
		p.logger.Error(ctx, "[PIPELINE_LOAD_ERROR] Load finished with error", logging.Fields{
			"source":           p.src.Name(),
			"records_inserted": load.RecordsInserted,
			"stage":            "LOADING",
		}, err)
		return result, err
	}

	p.logger.Info(ctx, "[PIPELINE_COMPLETE] Pipeline run finished", logging.Fields{
		"source":           p.src.Name(),
		"total_records":    quality.TotalRecords,
		"valid_records":    quality.ValidRecords,
		"invalid_records":  quality.InvalidRecords,
		"records_inserted": load.RecordsInserted,
		"batches_failed":   load.BatchesFailed,
		"duration_ms":      result.Duration.Milliseconds(),
		"stage":            "COMPLETION",
	})

	return result, nil
}
