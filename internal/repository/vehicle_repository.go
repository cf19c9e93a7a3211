package repository

import (
	"context"
	"fmt"

	"ev-analytics-platform/internal/models"
)

// Group-by dimensions accepted by GroupAggregates.
const (
	GroupByCounty      = "county"
	GroupByMake        = "make"
	GroupByModelYear   = "model_year"
	GroupByVehicleType = "vehicle_type"
)

// Sortable fields for county listings.
const (
	SortByModelYear = "model_year"
	SortByMake      = "make"
	SortByModel     = "model"
)

// VehicleFilter narrows a county listing. County is an exact match on the
// normalized (upper-cased) value.
type VehicleFilter struct {
	County    *string
	ModelYear *int
}

// SortSpec orders a county listing by one whitelisted field.
type SortSpec struct {
	Field      string
	Descending bool
}

// AnalyticsFilter is the conjunctive filter set for grouped aggregation.
// Any zero-valued member is unconstrained.
type AnalyticsFilter struct {
	Makes            []string
	ModelYearStart   *int
	ModelYearEnd     *int
	MinElectricRange *int
	Counties         []string
	VehicleTypes     []string
}

// LabelCount is one bucket of a categorical count.
type LabelCount struct {
	Label string `db:"label"`
	Count int64  `db:"count"`
}

// ModelAggregate is per-model statistics within one make.
type ModelAggregate struct {
	Model        string  `db:"model"`
	Count        int64   `db:"count"`
	AverageRange float64 `db:"avg_range"`
}

// GroupAggregate is one group of an Analyze query. TopVehicle is the most
// frequent "MAKE MODEL" pair in the group, ties broken by make then model
// ascending so results are reproducible.
type GroupAggregate struct {
	Key          string  `db:"group_key"`
	Count        int64   `db:"count"`
	AverageRange float64 `db:"avg_range"`
	TopVehicle   string  `db:"top_vehicle"`
}

// YearAggregate is per-model-year trend input.
type YearAggregate struct {
	Year         int     `db:"model_year"`
	Count        int64   `db:"vehicle_count"`
	AverageRange float64 `db:"avg_range"`
	BEVCount     int64   `db:"bev_count"`
	PHEVCount    int64   `db:"phev_count"`
}

// VehicleRepository provides data access for vehicle registrations. The
// write side covers exactly what the batch loader needs (bulk insert plus
// idempotent index provisioning); the read side covers the analytical views.
type VehicleRepository interface {
	// Load operations
	InsertVehiclesBatch(ctx context.Context, vehicles []*models.Vehicle) (inserted int, err error)
	EnsureIndexes(ctx context.Context) error

	// Listing operations
	CountVehicles(ctx context.Context, filter VehicleFilter) (int64, error)
	FindVehicles(ctx context.Context, filter VehicleFilter, sort SortSpec, limit, offset int) ([]*models.Vehicle, error)

	// Aggregation operations
	TotalVehicles(ctx context.Context) (int64, error)
	CountsByVehicleType(ctx context.Context) ([]LabelCount, error)
	TopMakes(ctx context.Context, limit int) ([]LabelCount, error)
	AverageElectricRange(ctx context.Context) (float64, error)
	CountsByEligibility(ctx context.Context) ([]LabelCount, error)
	ModelStatsByMake(ctx context.Context, makeName string) ([]ModelAggregate, error)
	GroupAggregates(ctx context.Context, filter AnalyticsFilter, groupBy string) ([]GroupAggregate, error)
	YearTrends(ctx context.Context) ([]YearAggregate, error)

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// groupColumn maps a group-by dimension to its column. Callers validate the
// dimension before reaching the repository; this guards the SQL path anyway.
func groupColumn(groupBy string) (string, error) {
	switch groupBy {
	case GroupByCounty, GroupByMake, GroupByModelYear, GroupByVehicleType:
		return groupBy, nil
	default:
		return "", fmt.Errorf("unsupported group_by dimension: %q", groupBy)
	}
}

// sortColumn whitelists listing sort fields.
func sortColumn(field string) (string, error) {
	switch field {
	case SortByModelYear, SortByMake, SortByModel:
		return field, nil
	default:
		return "", fmt.Errorf("unsupported sort field: %q", field)
	}
}
