package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"ev-analytics-platform/internal/cache"
	"ev-analytics-platform/internal/config"
	"ev-analytics-platform/internal/models"
	"ev-analytics-platform/internal/repository"
	"ev-analytics-platform/internal/services"
	"ev-analytics-platform/internal/source"
	"ev-analytics-platform/pkg/database"
	"ev-analytics-platform/pkg/logging"
	"ev-analytics-platform/pkg/metrics"
)

func main() {
	// Parse command-line flags
	csvPath := flag.String("csv", "", "Path to a local CSV file (overrides configured source)")
	batchSize := flag.Int("batch-size", 0, "Records per insert batch (0 uses the configured size)")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("ev-analytics-pipeline", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[PIPELINE_MAIN] Starting EV registration pipeline", logging.Fields{
		"version":     "1.0.0",
		"source_kind": cfg.Source.Kind,
		"batch_size":  cfg.Pipeline.BatchSize,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("ev_pipeline")

	// Initialize database
	dbConfig := &database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}

	db, err := database.NewPostgresDB(dbConfig, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[PIPELINE_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	// Initialize repository
	vehicleRepo := repository.NewVehicleRepository(db, logger, metricsCollector)

	// Resolve the record source
	var src source.Source
	switch {
	case *csvPath != "":
		src = source.NewLocalSource(*csvPath)
	case cfg.Source.Kind == "s3":
		src = source.NewS3Source(source.S3Config{
			Bucket:          cfg.Source.S3Bucket,
			Key:             cfg.Source.S3Key,
			Region:          cfg.Source.AWSRegion,
			AccessKeyID:     cfg.Source.AWSAccessKeyID,
			SecretAccessKey: cfg.Source.AWSSecretKey,
		})
	default:
		src = source.NewLocalSource(cfg.Source.LocalPath)
	}

	size := *batchSize
	if size <= 0 {
		size = cfg.Pipeline.BatchSize
	}

	validator := models.NewValidator(cfg.Pipeline.MinModelYear, time.Now().Year()+cfg.Pipeline.YearSlack)
	pipeline := services.NewPipeline(src, vehicleRepo, validator, size, cfg.Pipeline.SampleCap, logger, metricsCollector)

	result, err := pipeline.Run(ctx)
	if result == nil {
		logger.Fatal(ctx, "[PIPELINE_ERROR] Pipeline run failed", logging.Fields{
			"source": src.Name(),
		}, err)
	}
	if err != nil {
		// Loaded data survives a late failure, so the report still prints.
		logger.Error(ctx, "[PIPELINE_ERROR] Pipeline finished with error", logging.Fields{
			"source": src.Name(),
		}, err)
	}

	// Stale cached analytics would otherwise survive until TTL expiry.
	if cfg.Redis.CacheEnabled {
		if responseCache, cacheErr := cache.NewResponseCache(ctx, cfg.Redis.URL, cfg.Redis.CacheTTL, logger); cacheErr == nil {
			services.NewAnalyticsService(vehicleRepo, responseCache, logger, metricsCollector).InvalidateCaches(ctx)
			responseCache.Close()
		}
	}

	// Print results
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("PIPELINE COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Source:             %s\n", result.Source)
	fmt.Printf("Total Records:      %d\n", result.Quality.TotalRecords)
	fmt.Printf("Valid Records:      %d\n", result.Quality.ValidRecords)
	fmt.Printf("Invalid Records:    %d\n", result.Quality.InvalidRecords)
	fmt.Printf("Records Inserted:   %d\n", result.Load.RecordsInserted)
	fmt.Printf("Batches (failed):   %d (%d)\n", result.Load.BatchesTotal, result.Load.BatchesFailed)
	fmt.Printf("Duration:           %v\n", result.Duration)
	if result.Duration.Seconds() > 0 {
		fmt.Printf("Records/Second:     %.2f\n", float64(result.Quality.TotalRecords)/result.Duration.Seconds())
	}

	if len(result.Quality.MissingValues) > 0 {
		fmt.Println("\nMissing values by column:")
		for _, col := range models.CanonicalColumns {
			if n := result.Quality.MissingValues[col]; n > 0 {
				fmt.Printf("  - %-22s %d\n", col, n)
			}
		}
	}

	if len(result.Quality.Samples) > 0 {
		fmt.Printf("\nSampled rejections (%d):\n", len(result.Quality.Samples))
		for i, sample := range result.Quality.Samples {
			if i >= 10 {
				fmt.Printf("  ... and %d more\n", len(result.Quality.Samples)-10)
				break
			}
			fmt.Printf("  - row %d (%s): %s\n", sample.RowNumber, sample.VINPrefix, sample.Reason)
		}
	}

	if len(result.Load.Errors) > 0 {
		fmt.Printf("\nFailed batches (%d):\n", len(result.Load.Errors))
		for _, batchErr := range result.Load.Errors {
			fmt.Printf("  - batch %d (%d records): %s\n", batchErr.Batch, batchErr.Size, batchErr.Error)
		}
	}

	logger.Info(ctx, "[PIPELINE_MAIN_COMPLETE] Pipeline finished", logging.Fields{
		"total_records":    result.Quality.TotalRecords,
		"valid_records":    result.Quality.ValidRecords,
		"invalid_records":  result.Quality.InvalidRecords,
		"records_inserted": result.Load.RecordsInserted,
		"duration_seconds": result.Duration.Seconds(),
	})

	if err != nil {
		os.Exit(1)
	}
}
