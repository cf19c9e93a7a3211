package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"ev-analytics-platform/internal/models"
	"ev-analytics-platform/pkg/database"
	"ev-analytics-platform/pkg/logging"
	"ev-analytics-platform/pkg/metrics"
)

const vehicleColumns = `id, vin_prefix, county, city, state, postal_code, model_year, make, model,
	       vehicle_type, cafv_eligibility, electric_range, base_msrp, legislative_district,
	       dol_vehicle_id, longitude, latitude, electric_utility, census_tract, created_at`

// analyticalIndexes is the declared index set provisioned after each load.
// Every statement is IF NOT EXISTS, so provisioning is idempotent.
var analyticalIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_vehicles_county ON vehicles (county)`,
	`CREATE INDEX IF NOT EXISTS idx_vehicles_make ON vehicles (make)`,
	`CREATE INDEX IF NOT EXISTS idx_vehicles_model_year ON vehicles (model_year DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_vehicles_type ON vehicles (vehicle_type)`,
	`CREATE INDEX IF NOT EXISTS idx_vehicles_electric_range ON vehicles (electric_range DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_vehicles_make_model ON vehicles (make, model)`,
	`CREATE INDEX IF NOT EXISTS idx_vehicles_county_year ON vehicles (county, model_year DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_vehicles_year_type ON vehicles (model_year DESC, vehicle_type)`,
}

// vehicleRepository implements VehicleRepository against PostgreSQL.
type vehicleRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewVehicleRepository creates a Postgres-backed vehicle repository.
func NewVehicleRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) VehicleRepository {
	return &vehicleRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// InsertVehiclesBatch writes one batch in a single transaction. Inserts are
// keyed on (vin_prefix, dol_vehicle_id) with conflicts skipped, so re-running
// a pipeline over the same source is idempotent at the storage level.
func (r *vehicleRepository) InsertVehiclesBatch(ctx context.Context, vehicles []*models.Vehicle) (int, error) {
	if len(vehicles) == 0 {
		return 0, nil
	}

	timer := time.Now()
	defer func() {
		r.logger.Debug(ctx, "[REPO_BATCH_INSERT] Batch insert completed", logging.Fields{
			"count":       len(vehicles),
			"duration_ms": time.Since(timer).Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vehicles (
			vin_prefix, county, city, state, postal_code, model_year, make, model,
			vehicle_type, cafv_eligibility, electric_range, base_msrp,
			legislative_district, dol_vehicle_id, longitude, latitude,
			electric_utility, census_tract, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (vin_prefix, dol_vehicle_id) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	inserted := 0
	for _, v := range vehicles {
		createdAt := v.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		res, err := stmt.ExecContext(ctx,
			v.VINPrefix, v.County, v.City, v.State, v.PostalCode, v.ModelYear, v.Make, v.Model,
			v.VehicleType, v.CAFVEligibility, v.ElectricRange, v.BaseMSRP,
			v.LegislativeDistrict, v.DOLVehicleID, v.Longitude, v.Latitude,
			v.ElectricUtility, v.CensusTract, createdAt,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert vehicle %s: %w", v.VINPrefix, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return inserted, nil
}

// EnsureIndexes provisions the declared index set. Creating an index that
// already exists is a no-op, not an error.
func (r *vehicleRepository) EnsureIndexes(ctx context.Context) error {
	for _, ddl := range analyticalIndexes {
		if _, err := r.db.ExecContext(ctx, "ensure_index", ddl); err != nil {
			return fmt.Errorf("failed to ensure index: %w", err)
		}
	}

	r.logger.Info(ctx, "[REPO_INDEXES] Analytical indexes provisioned", logging.Fields{
		"index_count": len(analyticalIndexes),
	})
	return nil
}

// buildVehicleFilter renders a VehicleFilter as a WHERE fragment.
func buildVehicleFilter(filter VehicleFilter) (string, []interface{}) {
	clause := " WHERE 1=1"
	args := []interface{}{}

	if filter.County != nil {
		args = append(args, *filter.County)
		clause += fmt.Sprintf(" AND county = $%d", len(args))
	}
	if filter.ModelYear != nil {
		args = append(args, *filter.ModelYear)
		clause += fmt.Sprintf(" AND model_year = $%d", len(args))
	}
	return clause, args
}

func (r *vehicleRepository) CountVehicles(ctx context.Context, filter VehicleFilter) (int64, error) {
	clause, args := buildVehicleFilter(filter)

	var count int64
	err := r.db.GetContext(ctx, "count_vehicles", &count, "SELECT COUNT(*) FROM vehicles"+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to count vehicles: %w", err)
	}
	return count, nil
}

func (r *vehicleRepository) FindVehicles(ctx context.Context, filter VehicleFilter, sort SortSpec, limit, offset int) ([]*models.Vehicle, error) {
	col, err := sortColumn(sort.Field)
	if err != nil {
		return nil, err
	}
	direction := "ASC"
	if sort.Descending {
		direction = "DESC"
	}

	clause, args := buildVehicleFilter(filter)
	query := "SELECT " + vehicleColumns + " FROM vehicles" + clause
	// Secondary sort keeps pagination stable across identical sort keys.
	query += fmt.Sprintf(" ORDER BY %s %s, vin_prefix, dol_vehicle_id", col, direction)
	args = append(args, limit, offset)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var vehicles []*models.Vehicle
	if err := r.db.SelectContext(ctx, "find_vehicles", &vehicles, query, args...); err != nil {
		return nil, fmt.Errorf("failed to find vehicles: %w", err)
	}
	return vehicles, nil
}

func (r *vehicleRepository) TotalVehicles(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.GetContext(ctx, "total_vehicles", &count, "SELECT COUNT(*) FROM vehicles"); err != nil {
		return 0, fmt.Errorf("failed to count vehicles: %w", err)
	}
	return count, nil
}

func (r *vehicleRepository) CountsByVehicleType(ctx context.Context) ([]LabelCount, error) {
	return r.labelCounts(ctx, "counts_by_type", `
		SELECT vehicle_type AS label, COUNT(*) AS count
		FROM vehicles
		GROUP BY vehicle_type
		ORDER BY count DESC, label ASC
	`)
}

func (r *vehicleRepository) TopMakes(ctx context.Context, limit int) ([]LabelCount, error) {
	var counts []LabelCount
	err := r.db.SelectContext(ctx, "top_makes", &counts, `
		SELECT make AS label, COUNT(*) AS count
		FROM vehicles
		GROUP BY make
		ORDER BY count DESC, label ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate top makes: %w", err)
	}
	return counts, nil
}

// AverageElectricRange averages over every record including coerced zeros;
// 0 is the "unknown" sentinel and the summary deliberately keeps it.
func (r *vehicleRepository) AverageElectricRange(ctx context.Context) (float64, error) {
	var avg float64
	err := r.db.GetContext(ctx, "avg_electric_range", &avg,
		"SELECT COALESCE(AVG(electric_range), 0) FROM vehicles")
	if err != nil {
		return 0, fmt.Errorf("failed to average electric range: %w", err)
	}
	return avg, nil
}

func (r *vehicleRepository) CountsByEligibility(ctx context.Context) ([]LabelCount, error) {
	return r.labelCounts(ctx, "counts_by_eligibility", `
		SELECT cafv_eligibility AS label, COUNT(*) AS count
		FROM vehicles
		GROUP BY cafv_eligibility
		ORDER BY count DESC, label ASC
	`)
}

func (r *vehicleRepository) labelCounts(ctx context.Context, queryType, query string) ([]LabelCount, error) {
	var counts []LabelCount
	if err := r.db.SelectContext(ctx, queryType, &counts, query); err != nil {
		return nil, fmt.Errorf("failed to aggregate %s: %w", queryType, err)
	}
	return counts, nil
}

func (r *vehicleRepository) ModelStatsByMake(ctx context.Context, makeName string) ([]ModelAggregate, error) {
	var stats []ModelAggregate
	err := r.db.SelectContext(ctx, "model_stats_by_make", &stats, `
		SELECT model, COUNT(*) AS count, COALESCE(AVG(electric_range), 0) AS avg_range
		FROM vehicles
		WHERE make = $1
		GROUP BY model
		ORDER BY count DESC, model ASC
	`, makeName)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate models for make %s: %w", makeName, err)
	}
	return stats, nil
}

// buildAnalyticsFilter renders the conjunctive filter set. Omitted members
// add no clause at all.
func buildAnalyticsFilter(filter AnalyticsFilter) (string, []interface{}) {
	clause := " WHERE 1=1"
	args := []interface{}{}

	if len(filter.Makes) > 0 {
		args = append(args, pq.Array(filter.Makes))
		clause += fmt.Sprintf(" AND make = ANY($%d)", len(args))
	}
	if filter.ModelYearStart != nil {
		args = append(args, *filter.ModelYearStart)
		clause += fmt.Sprintf(" AND model_year >= $%d", len(args))
	}
	if filter.ModelYearEnd != nil {
		args = append(args, *filter.ModelYearEnd)
		clause += fmt.Sprintf(" AND model_year <= $%d", len(args))
	}
	if filter.MinElectricRange != nil {
		args = append(args, *filter.MinElectricRange)
		clause += fmt.Sprintf(" AND electric_range >= $%d", len(args))
	}
	if len(filter.Counties) > 0 {
		args = append(args, pq.Array(filter.Counties))
		clause += fmt.Sprintf(" AND county = ANY($%d)", len(args))
	}
	if len(filter.VehicleTypes) > 0 {
		args = append(args, pq.Array(filter.VehicleTypes))
		clause += fmt.Sprintf(" AND vehicle_type = ANY($%d)", len(args))
	}
	return clause, args
}

// GroupAggregates groups matching vehicles by one dimension. The per-group
// top vehicle is resolved inside the query with a deterministic window
// ordering: frequency descending, then make and model ascending.
func (r *vehicleRepository) GroupAggregates(ctx context.Context, filter AnalyticsFilter, groupBy string) ([]GroupAggregate, error) {
	col, err := groupColumn(groupBy)
	if err != nil {
		return nil, err
	}

	clause, args := buildAnalyticsFilter(filter)
	query := strings.ReplaceAll(`
		WITH matched AS (
			SELECT GROUP_COL::text AS group_key, make, model, electric_range
			FROM vehicles`+clause+`
		),
		grouped AS (
			SELECT group_key, COUNT(*) AS count, COALESCE(AVG(electric_range), 0) AS avg_range
			FROM matched
			GROUP BY group_key
		),
		ranked AS (
			SELECT group_key, make, model,
			       ROW_NUMBER() OVER (
			           PARTITION BY group_key
			           ORDER BY COUNT(*) DESC, make ASC, model ASC
			       ) AS rn
			FROM matched
			GROUP BY group_key, make, model
		)
		SELECT g.group_key, g.count, g.avg_range,
		       v.make || ' ' || v.model AS top_vehicle
		FROM grouped g
		JOIN ranked v ON v.group_key = g.group_key AND v.rn = 1
		ORDER BY g.count DESC, g.group_key ASC
	`, "GROUP_COL", col)

	var groups []GroupAggregate
	if err := r.db.SelectContext(ctx, "group_aggregates", &groups, query, args...); err != nil {
		return nil, fmt.Errorf("failed to aggregate by %s: %w", groupBy, err)
	}
	return groups, nil
}

func (r *vehicleRepository) YearTrends(ctx context.Context) ([]YearAggregate, error) {
	var trends []YearAggregate
	err := r.db.SelectContext(ctx, "year_trends", &trends, `
		SELECT model_year,
		       COUNT(*) AS vehicle_count,
		       COALESCE(AVG(electric_range), 0) AS avg_range,
		       COUNT(*) FILTER (WHERE vehicle_type = 'BEV') AS bev_count,
		       COUNT(*) FILTER (WHERE vehicle_type = 'PHEV') AS phev_count
		FROM vehicles
		GROUP BY model_year
		ORDER BY model_year ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate year trends: %w", err)
	}
	return trends, nil
}

func (r *vehicleRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
