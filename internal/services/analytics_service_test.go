package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ev-analytics-platform/internal/models"
	"ev-analytics-platform/internal/repository"
)

func seededService(t *testing.T) (*AnalyticsService, *repository.MemoryRepository) {
	t.Helper()

	repo := repository.NewMemoryRepository()
	vehicles := []*models.Vehicle{
		testVehicle("VIN0000001", "1", "KING", "TESLA", "MODEL 3", 2023, 250, models.VehicleTypeBEV),
		testVehicle("VIN0000002", "2", "KING", "TESLA", "MODEL Y", 2023, 260, models.VehicleTypeBEV),
		testVehicle("VIN0000003", "3", "KING", "TESLA", "MODEL 3", 2022, 240, models.VehicleTypeBEV),
		testVehicle("VIN0000004", "4", "KING", "NISSAN", "LEAF", 2022, 150, models.VehicleTypeBEV),
		testVehicle("VIN0000005", "5", "PIERCE", "JEEP", "WRANGLER", 2022, 21, models.VehicleTypePHEV),
		testVehicle("VIN0000006", "6", "PIERCE", "TESLA", "MODEL 3", 2021, 0, models.VehicleTypeBEV),
	}
	_, err := repo.InsertVehiclesBatch(context.Background(), vehicles)
	require.NoError(t, err)

	return NewAnalyticsService(repo, nil, testLogger(), testMetrics), repo
}

func TestAnalyticsService_Summary(t *testing.T) {
	svc, _ := seededService(t)

	summary, err := svc.Summary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(6), summary.TotalVehicles)
	require.Len(t, summary.VehiclesByType, 2)
	assert.Equal(t, TypeCount{Type: models.VehicleTypeBEV, Count: 5}, summary.VehiclesByType[0])

	require.NotEmpty(t, summary.TopMakes)
	assert.Equal(t, MakeCount{Make: "TESLA", Count: 4}, summary.TopMakes[0])

	// Zero-range records are part of the mean.
	want := round2(float64(250+260+240+150+21+0) / 6)
	assert.Equal(t, want, summary.AverageElectricRange)
}

func TestAnalyticsService_Summary_EmptyStore(t *testing.T) {
	svc := NewAnalyticsService(repository.NewMemoryRepository(), nil, testLogger(), testMetrics)

	summary, err := svc.Summary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(0), summary.TotalVehicles)
	assert.Empty(t, summary.VehiclesByType)
	assert.Zero(t, summary.AverageElectricRange)
}

func TestAnalyticsService_CountyListing(t *testing.T) {
	svc, _ := seededService(t)
	ctx := context.Background()

	t.Run("normalizes county and defaults paging", func(t *testing.T) {
		listing, err := svc.CountyListing(ctx, CountyListingParams{County: "king"})
		require.NoError(t, err)

		assert.Equal(t, "KING", listing.County)
		assert.Equal(t, int64(4), listing.TotalCount)
		assert.Equal(t, 1, listing.Page)
		assert.Equal(t, DefaultPageSize, listing.PageSize)
		assert.Equal(t, 1, listing.TotalPages)
		assert.Len(t, listing.Vehicles, 4)
	})

	t.Run("clamps page_size and floors page", func(t *testing.T) {
		listing, err := svc.CountyListing(ctx, CountyListingParams{County: "KING", Page: -3, PageSize: 500})
		require.NoError(t, err)

		assert.Equal(t, 1, listing.Page)
		assert.Equal(t, MaxPageSize, listing.PageSize)
	})

	t.Run("page past the end returns empty list with totals", func(t *testing.T) {
		listing, err := svc.CountyListing(ctx, CountyListingParams{County: "KING", Page: 99, PageSize: 2})
		require.NoError(t, err)

		assert.Empty(t, listing.Vehicles)
		assert.Equal(t, int64(4), listing.TotalCount)
		assert.Equal(t, 2, listing.TotalPages)
	})

	t.Run("model year filter narrows totals", func(t *testing.T) {
		year := 2022
		listing, err := svc.CountyListing(ctx, CountyListingParams{County: "KING", ModelYear: &year})
		require.NoError(t, err)

		assert.Equal(t, int64(2), listing.TotalCount)
	})

	t.Run("unknown county is empty, not an error", func(t *testing.T) {
		listing, err := svc.CountyListing(ctx, CountyListingParams{County: "SPOKANE"})
		require.NoError(t, err)

		assert.Equal(t, int64(0), listing.TotalCount)
		assert.Empty(t, listing.Vehicles)
	})

	t.Run("rejects blank county and bad sort field", func(t *testing.T) {
		_, err := svc.CountyListing(ctx, CountyListingParams{County: "  "})
		assert.True(t, errors.Is(err, ErrInvalidQuery))

		_, err = svc.CountyListing(ctx, CountyListingParams{County: "KING", SortBy: "vin_prefix"})
		assert.True(t, errors.Is(err, ErrInvalidQuery))
	})
}

func TestAnalyticsService_MakeModels(t *testing.T) {
	svc, _ := seededService(t)
	ctx := context.Background()

	result, err := svc.MakeModels(ctx, "tesla")
	require.NoError(t, err)

	assert.Equal(t, "TESLA", result.Make)
	assert.Equal(t, 2, result.TotalModels)
	assert.Equal(t, "MODEL 3", result.MostPopularModel)
	assert.Equal(t, int64(3), result.MostPopularCount)
	assert.Equal(t, round2(float64(250+240+0)/3), result.Models[0].AverageElectricRange)

	// Unknown make is empty, not an error.
	result, err = svc.MakeModels(ctx, "DELOREAN")
	require.NoError(t, err)
	assert.Equal(t, 0, result.TotalModels)
	assert.Empty(t, result.Models)

	_, err = svc.MakeModels(ctx, "")
	assert.True(t, errors.Is(err, ErrInvalidQuery))
}

func TestAnalyticsService_Analyze(t *testing.T) {
	svc, repo := seededService(t)
	ctx := context.Background()

	t.Run("group counts sum to matching vehicles", func(t *testing.T) {
		result, err := svc.Analyze(ctx, AnalyzeRequest{GroupBy: repository.GroupByCounty})
		require.NoError(t, err)

		total, _ := repo.TotalVehicles(ctx)
		assert.Equal(t, total, result.TotalMatchingVehicles)

		var sum int64
		for _, g := range result.Groups {
			sum += g.Count
		}
		assert.Equal(t, result.TotalMatchingVehicles, sum)
		assert.Equal(t, "KING", result.Groups[0].GroupValue)
		assert.Equal(t, "TESLA MODEL 3", result.Groups[0].MostCommonVehicle)
	})

	t.Run("filters are conjunctive and case-normalized", func(t *testing.T) {
		minRange := 200
		start, end := 2022, 2023
		result, err := svc.Analyze(ctx, AnalyzeRequest{
			Filters: AnalyzeFilters{
				Makes:            []string{"tesla"},
				ModelYears:       &YearRange{Start: &start, End: &end},
				MinElectricRange: &minRange,
			},
			GroupBy: repository.GroupByModelYear,
		})
		require.NoError(t, err)

		assert.Equal(t, int64(3), result.TotalMatchingVehicles)
	})

	t.Run("empty match yields empty groups", func(t *testing.T) {
		result, err := svc.Analyze(ctx, AnalyzeRequest{
			Filters: AnalyzeFilters{Counties: []string{"SPOKANE"}},
			GroupBy: repository.GroupByMake,
		})
		require.NoError(t, err)

		assert.Empty(t, result.Groups)
		assert.Zero(t, result.TotalMatchingVehicles)
	})

	t.Run("rejects malformed requests", func(t *testing.T) {
		_, err := svc.Analyze(ctx, AnalyzeRequest{GroupBy: "city"})
		assert.True(t, errors.Is(err, ErrInvalidQuery))

		negative := -5
		_, err = svc.Analyze(ctx, AnalyzeRequest{
			Filters: AnalyzeFilters{MinElectricRange: &negative},
			GroupBy: repository.GroupByMake,
		})
		assert.True(t, errors.Is(err, ErrInvalidQuery))

		start, end := 2023, 2020
		_, err = svc.Analyze(ctx, AnalyzeRequest{
			Filters: AnalyzeFilters{ModelYears: &YearRange{Start: &start, End: &end}},
			GroupBy: repository.GroupByMake,
		})
		assert.True(t, errors.Is(err, ErrInvalidQuery))
	})
}

func TestAnalyticsService_Trends(t *testing.T) {
	svc, _ := seededService(t)

	trends, err := svc.Trends(context.Background())
	require.NoError(t, err)
	require.Len(t, trends.Trends, 3)

	// Ascending year order, percentages sum to 100 within rounding.
	assert.Equal(t, 2021, trends.Trends[0].ModelYear)
	for _, y := range trends.Trends {
		sum := y.BEVPercentage + y.PHEVPercentage
		assert.InDelta(t, 100, sum, 0.1, "year %d", y.ModelYear)
	}

	// 2021: 1 vehicle, 2023: 2 vehicles -> +100% count growth.
	assert.Equal(t, round2(100), trends.OverallGrowthRate)

	// Range moves from 0 to 255; a zero base reports 0 rather than dividing.
	wantRate := percentChange(0, 255)
	assert.Equal(t, round2(wantRate), trends.RangeImprovementRate)
	assert.Zero(t, trends.RangeImprovementRate)
}

func TestAnalyticsService_Trends_SingleYear(t *testing.T) {
	repo := repository.NewMemoryRepository()
	_, err := repo.InsertVehiclesBatch(context.Background(), []*models.Vehicle{
		testVehicle("VIN0000001", "1", "KING", "TESLA", "MODEL 3", 2023, 250, models.VehicleTypeBEV),
	})
	require.NoError(t, err)

	svc := NewAnalyticsService(repo, nil, testLogger(), testMetrics)
	trends, err := svc.Trends(context.Background())
	require.NoError(t, err)

	require.Len(t, trends.Trends, 1)
	assert.Zero(t, trends.OverallGrowthRate)
	assert.Zero(t, trends.RangeImprovementRate)
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 3.33, round2(10.0/3.0))
	assert.Equal(t, 66.67, round2(200.0/3.0))
	assert.Equal(t, 0.0, round2(0))
}
