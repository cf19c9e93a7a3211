package repository

import (
	"context"
	"io"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ev-analytics-platform/internal/models"
	"ev-analytics-platform/pkg/database"
	"ev-analytics-platform/pkg/logging"
	"ev-analytics-platform/pkg/metrics"
)

// promauto registers against the global registry, so the package shares one
// collector across tests.
var testMetrics = metrics.NewCollector("repository_test")

func testLogger() *logging.StructuredLogger {
	logger := logging.NewStructuredLogger("repository-test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	return logger
}

func newMockRepository(t *testing.T) (VehicleRepository, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := database.WrapDB(sqlx.NewDb(mockDB, "sqlmock"), testLogger(), testMetrics)
	return NewVehicleRepository(db, testLogger(), testMetrics), mock
}

func TestVehicleRepository_InsertVehiclesBatch(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO vehicles")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	// Second row conflicts on (vin_prefix, dol_vehicle_id) and is skipped.
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	batch := []*models.Vehicle{
		vehicle("VIN0000001", "1", "KING", "TESLA", "MODEL 3", 2023, 250, models.VehicleTypeBEV),
		vehicle("VIN0000001", "1", "KING", "TESLA", "MODEL 3", 2023, 250, models.VehicleTypeBEV),
	}

	inserted, err := repo.InsertVehiclesBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVehicleRepository_InsertVehiclesBatch_Empty(t *testing.T) {
	repo, mock := newMockRepository(t)

	inserted, err := repo.InsertVehiclesBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVehicleRepository_EnsureIndexes(t *testing.T) {
	repo, mock := newMockRepository(t)

	for range analyticalIndexes {
		mock.ExpectExec("CREATE INDEX IF NOT EXISTS").
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, repo.EnsureIndexes(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVehicleRepository_CountVehicles(t *testing.T) {
	repo, mock := newMockRepository(t)

	county := "KING"
	year := 2023

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM vehicles WHERE 1=1 AND county = $1 AND model_year = $2")).
		WithArgs("KING", 2023).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	count, err := repo.CountVehicles(context.Background(), VehicleFilter{County: &county, ModelYear: &year})
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVehicleRepository_FindVehicles(t *testing.T) {
	repo, mock := newMockRepository(t)

	county := "KING"

	rows := sqlmock.NewRows([]string{
		"id", "vin_prefix", "county", "city", "state", "model_year",
		"make", "model", "vehicle_type", "electric_range", "dol_vehicle_id",
	}).AddRow(1, "VIN0000001", "KING", "SEATTLE", "WA", 2023, "TESLA", "MODEL 3", "BEV", 250, "123456789")

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY model_year DESC, vin_prefix, dol_vehicle_id LIMIT $2 OFFSET $3")).
		WithArgs("KING", 20, 0).
		WillReturnRows(rows)

	got, err := repo.FindVehicles(context.Background(), VehicleFilter{County: &county},
		SortSpec{Field: SortByModelYear, Descending: true}, 20, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "TESLA", got[0].Make)
	assert.Equal(t, 250, got[0].ElectricRange)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVehicleRepository_FindVehicles_BadSortField(t *testing.T) {
	repo, _ := newMockRepository(t)

	_, err := repo.FindVehicles(context.Background(), VehicleFilter{}, SortSpec{Field: "postal_code"}, 20, 0)
	assert.Error(t, err)
}

func TestVehicleRepository_TopMakes(t *testing.T) {
	repo, mock := newMockRepository(t)

	rows := sqlmock.NewRows([]string{"label", "count"}).
		AddRow("TESLA", 120).
		AddRow("NISSAN", 45)

	mock.ExpectQuery("SELECT make AS label").
		WithArgs(10).
		WillReturnRows(rows)

	got, err := repo.TopMakes(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, LabelCount{Label: "TESLA", Count: 120}, got[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVehicleRepository_GroupAggregates(t *testing.T) {
	repo, mock := newMockRepository(t)

	rows := sqlmock.NewRows([]string{"group_key", "count", "avg_range", "top_vehicle"}).
		AddRow("KING", 4, 225.0, "TESLA MODEL 3").
		AddRow("PIERCE", 2, 10.5, "JEEP WRANGLER")

	mock.ExpectQuery("WITH matched AS").WillReturnRows(rows)

	got, err := repo.GroupAggregates(context.Background(), AnalyticsFilter{}, GroupByCounty)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "KING", got[0].Key)
	assert.Equal(t, "TESLA MODEL 3", got[0].TopVehicle)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVehicleRepository_GroupAggregates_BadDimension(t *testing.T) {
	repo, _ := newMockRepository(t)

	_, err := repo.GroupAggregates(context.Background(), AnalyticsFilter{}, "city")
	assert.Error(t, err)
}

func TestVehicleRepository_YearTrends(t *testing.T) {
	repo, mock := newMockRepository(t)

	rows := sqlmock.NewRows([]string{"model_year", "vehicle_count", "avg_range", "bev_count", "phev_count"}).
		AddRow(2021, 10, 180.0, 7, 3).
		AddRow(2022, 25, 210.0, 20, 5)

	mock.ExpectQuery("GROUP BY model_year").WillReturnRows(rows)

	got, err := repo.YearTrends(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2021, got[0].Year)
	assert.Equal(t, int64(20), got[1].BEVCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}
