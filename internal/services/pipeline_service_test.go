package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ev-analytics-platform/internal/models"
	"ev-analytics-platform/internal/repository"
	"ev-analytics-platform/internal/source"
)

const pipelineCSV = `VIN (1-10),County,City,State,Postal Code,Model Year,Make,Model,Electric Vehicle Type,Clean Alternative Fuel Vehicle (CAFV) Eligibility,Electric Range,Base MSRP,Legislative District,DOL Vehicle ID,Vehicle Location,Electric Utility,2020 Census Tract
5YJ3E1EB0K,King,Seattle,WA,98101,2023,TESLA,MODEL 3,Battery Electric Vehicle (BEV),Eligible,250,0,43,100000001,POINT (-122.33 47.61),CITY OF SEATTLE,53033007800
5YJ3E1EB1K,,Seattle,WA,98101,2023,TESLA,MODEL 3,Battery Electric Vehicle (BEV),Eligible,250,0,43,100000002,,,
7FCTGAAA0P,Pierce,Tacoma,WA,98402,1990,RIVIAN,R1T,Battery Electric Vehicle (BEV),Eligible,300,0,27,100000003,,,
`

func writePipelineCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "population.csv")
	require.NoError(t, os.WriteFile(path, []byte(pipelineCSV), 0o644))
	return path
}

func TestPipeline_Run(t *testing.T) {
	repo := repository.NewMemoryRepository()
	validator := models.NewValidator(1997, 2028)
	pipeline := NewPipeline(source.NewLocalSource(writePipelineCSV(t)), repo, validator, 100, 10, testLogger(), testMetrics)

	assert.Equal(t, StateIdle, pipeline.State())

	result, err := pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateComplete, pipeline.State())

	// One valid row, one missing county, one pre-1997 model year.
	assert.Equal(t, int64(3), result.Quality.TotalRecords)
	assert.Equal(t, int64(1), result.Quality.ValidRecords)
	assert.Equal(t, int64(2), result.Quality.InvalidRecords)
	require.Len(t, result.Quality.Samples, 2)
	assert.Contains(t, result.Quality.Samples[0].Reason, string(models.RejectionMissingRequiredField))
	assert.Contains(t, result.Quality.Samples[1].Reason, string(models.RejectionYearOutOfRange))

	// Blank cells are tallied per column across all rows, rejected ones too.
	assert.Equal(t, int64(1), result.Quality.MissingValues[models.ColCounty])
	assert.Equal(t, int64(2), result.Quality.MissingValues[models.ColElectricUtility])
	assert.Equal(t, int64(0), result.Quality.MissingValues[models.ColVINPrefix])

	assert.Equal(t, 1, result.Load.RecordsInserted)
	assert.Equal(t, 0, result.Load.BatchesFailed)

	// The loaded vehicle is queryable afterwards.
	listing, err := NewAnalyticsService(repo, nil, testLogger(), testMetrics).
		CountyListing(context.Background(), CountyListingParams{County: "KING"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), listing.TotalCount)
	require.Len(t, listing.Vehicles, 1)
	assert.Equal(t, 250, listing.Vehicles[0].ElectricRange)
}

func TestPipeline_RunIsIdempotent(t *testing.T) {
	repo := repository.NewMemoryRepository()
	validator := models.NewValidator(1997, 2028)
	path := writePipelineCSV(t)

	for i := 0; i < 2; i++ {
		pipeline := NewPipeline(source.NewLocalSource(path), repo, validator, 100, 10, testLogger(), testMetrics)
		_, err := pipeline.Run(context.Background())
		require.NoError(t, err, "run %d", i)
	}

	total, _ := repo.TotalVehicles(context.Background())
	assert.Equal(t, int64(1), total, "reloading the same extract must not duplicate records")
	assert.Greater(t, repo.IndexCount(), 0)
}

// brokenIndexRepository loads fine but cannot provision indexes.
type brokenIndexRepository struct {
	*repository.MemoryRepository
}

func (b *brokenIndexRepository) EnsureIndexes(context.Context) error {
	return errors.New("permission denied for schema public")
}

func TestPipeline_IndexErrorKeepsReports(t *testing.T) {
	repo := &brokenIndexRepository{MemoryRepository: repository.NewMemoryRepository()}
	validator := models.NewValidator(1997, 2028)
	pipeline := NewPipeline(source.NewLocalSource(writePipelineCSV(t)), repo, validator, 100, 10, testLogger(), testMetrics)

	result, err := pipeline.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")

	// The data landed before the index step, so the run completes and the
	// reports come back alongside the error.
	assert.Equal(t, StateComplete, pipeline.State())
	require.NotNil(t, result)
	require.NotNil(t, result.Quality)
	require.NotNil(t, result.Load)
	assert.Equal(t, int64(3), result.Quality.TotalRecords)
	assert.Equal(t, 1, result.Load.RecordsInserted)

	total, _ := repo.TotalVehicles(context.Background())
	assert.Equal(t, int64(1), total)
}

func TestPipeline_UnavailableSourceFailsRun(t *testing.T) {
	repo := repository.NewMemoryRepository()
	pipeline := NewPipeline(
		source.NewLocalSource(filepath.Join(t.TempDir(), "missing.csv")),
		repo, models.NewValidator(1997, 2028), 100, 10, testLogger(), testMetrics,
	)

	_, err := pipeline.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, source.ErrSourceUnavailable))
	assert.Equal(t, StateFailed, pipeline.State())

	// Nothing was loaded.
	total, _ := repo.TotalVehicles(context.Background())
	assert.Equal(t, int64(0), total)
}
