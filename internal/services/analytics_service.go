package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"ev-analytics-platform/internal/cache"
	"ev-analytics-platform/internal/models"
	"ev-analytics-platform/internal/repository"
	"ev-analytics-platform/pkg/logging"
	"ev-analytics-platform/pkg/metrics"
)

// ErrInvalidQuery marks a malformed filter, pagination, or group-by value.
// Handlers map it to a 400 response.
var ErrInvalidQuery = errors.New("invalid query")

const (
	// MaxPageSize caps county-listing pages; larger requests are clamped,
	// not rejected.
	MaxPageSize     = 100
	DefaultPageSize = 20

	// SummaryTopMakes is how many makes the summary ranks.
	SummaryTopMakes = 10

	cacheKeySummary = "analytics:summary"
	cacheKeyTrends  = "analytics:trends"
)

// TypeCount is one vehicle-type bucket of the summary.
type TypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// MakeCount is one make bucket of the summary.
type MakeCount struct {
	Make  string `json:"make"`
	Count int64  `json:"count"`
}

// EligibilityCount is one CAFV-eligibility bucket of the summary.
type EligibilityCount struct {
	Eligibility string `json:"eligibility"`
	Count       int64  `json:"count"`
}

// SummaryResponse is the dataset-wide overview.
type SummaryResponse struct {
	TotalVehicles        int64              `json:"total_vehicles"`
	VehiclesByType       []TypeCount        `json:"vehicles_by_type"`
	TopMakes             []MakeCount        `json:"top_10_makes"`
	AverageElectricRange float64            `json:"average_electric_range"`
	EligibilitySummary   []EligibilityCount `json:"eligibility_summary"`
}

// CountyListingParams carries the parsed county-listing query. Zero values
// mean "not supplied" and are normalized by the service.
type CountyListingParams struct {
	County    string
	Page      int
	PageSize  int
	ModelYear *int
	SortBy    string
	SortDesc  bool
}

// CountyListingResponse is one page of a county's vehicles.
type CountyListingResponse struct {
	County     string            `json:"county"`
	TotalCount int64             `json:"total_count"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
	Vehicles   []*models.Vehicle `json:"vehicles"`
}

// ModelStats is per-model statistics within a make.
type ModelStats struct {
	Model                string  `json:"model"`
	Count                int64   `json:"count"`
	AverageElectricRange float64 `json:"average_electric_range"`
}

// MakeModelsResponse breaks one make down by model.
type MakeModelsResponse struct {
	Make             string       `json:"make"`
	TotalModels      int          `json:"total_models"`
	MostPopularModel string       `json:"most_popular_model"`
	MostPopularCount int64        `json:"most_popular_count"`
	Models           []ModelStats `json:"models"`
}

// YearRange bounds a model-year filter; either end may be omitted.
type YearRange struct {
	Start *int `json:"start,omitempty"`
	End   *int `json:"end,omitempty"`
}

// AnalyzeFilters is the conjunctive filter set of an Analyze request. Every
// omitted member is unconstrained.
type AnalyzeFilters struct {
	Makes            []string   `json:"makes,omitempty"`
	ModelYears       *YearRange `json:"model_years,omitempty"`
	MinElectricRange *int       `json:"min_electric_range,omitempty"`
	Counties         []string   `json:"counties,omitempty"`
	VehicleTypes     []string   `json:"vehicle_types,omitempty"`
}

// AnalyzeRequest is the body of a grouped-aggregation request.
type AnalyzeRequest struct {
	Filters AnalyzeFilters `json:"filters"`
	GroupBy string         `json:"group_by"`
}

// GroupStats is one group of an Analyze response.
type GroupStats struct {
	GroupValue           string  `json:"group_value"`
	Count                int64   `json:"count"`
	AverageElectricRange float64 `json:"average_electric_range"`
	MostCommonVehicle    string  `json:"most_common_vehicle,omitempty"`
}

// AnalyzeResponse is the grouped-aggregation result.
type AnalyzeResponse struct {
	GroupBy               string       `json:"group_by"`
	TotalMatchingVehicles int64        `json:"total_matching_vehicles"`
	Groups                []GroupStats `json:"groups"`
}

// YearTrend is one model year of the trends series.
type YearTrend struct {
	ModelYear            int     `json:"model_year"`
	VehicleCount         int64   `json:"vehicle_count"`
	AverageElectricRange float64 `json:"average_electric_range"`
	BEVCount             int64   `json:"bev_count"`
	PHEVCount            int64   `json:"phev_count"`
	BEVPercentage        float64 `json:"bev_percentage"`
	PHEVPercentage       float64 `json:"phev_percentage"`
}

// TrendsResponse is the adoption time series with derived rates. Both rates
// are the plain percentage change from the earliest to the latest year
// present, and 0 when fewer than two years exist.
type TrendsResponse struct {
	Trends               []YearTrend `json:"trends"`
	OverallGrowthRate    float64     `json:"overall_growth_rate"`
	RangeImprovementRate float64     `json:"range_improvement_rate"`
}

// AnalyticsService serves the read-side analytical views. Summary and Trends
// responses pass through the optional Redis cache; the listing and per-make
// views are parameterized and hit the store directly.
type AnalyticsService struct {
	repo    repository.VehicleRepository
	cache   *cache.ResponseCache
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewAnalyticsService creates an analytics service. cache may be nil.
func NewAnalyticsService(repo repository.VehicleRepository, responseCache *cache.ResponseCache, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *AnalyticsService {
	return &AnalyticsService{
		repo:    repo,
		cache:   responseCache,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Summary computes the dataset-wide overview. The average electric range
// includes zero-range records, since zero is the coerced value for unknown
// ranges.
func (s *AnalyticsService) Summary(ctx context.Context) (*SummaryResponse, error) {
	var cached SummaryResponse
	if s.cache.Get(ctx, cacheKeySummary, &cached) {
		s.metrics.CacheHitsTotal.Inc()
		return &cached, nil
	}
	s.metrics.CacheMissesTotal.Inc()

	total, err := s.repo.TotalVehicles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count vehicles: %w", err)
	}

	byType, err := s.repo.CountsByVehicleType(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count by vehicle type: %w", err)
	}

	topMakes, err := s.repo.TopMakes(ctx, SummaryTopMakes)
	if err != nil {
		return nil, fmt.Errorf("failed to rank makes: %w", err)
	}

	avgRange, err := s.repo.AverageElectricRange(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to average electric range: %w", err)
	}

	byEligibility, err := s.repo.CountsByEligibility(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count by eligibility: %w", err)
	}

	resp := &SummaryResponse{
		TotalVehicles:        total,
		VehiclesByType:       make([]TypeCount, 0, len(byType)),
		TopMakes:             make([]MakeCount, 0, len(topMakes)),
		AverageElectricRange: round2(avgRange),
		EligibilitySummary:   make([]EligibilityCount, 0, len(byEligibility)),
	}
	for _, lc := range byType {
		resp.VehiclesByType = append(resp.VehiclesByType, TypeCount{Type: lc.Label, Count: lc.Count})
	}
	for _, lc := range topMakes {
		resp.TopMakes = append(resp.TopMakes, MakeCount{Make: lc.Label, Count: lc.Count})
	}
	for _, lc := range byEligibility {
		resp.EligibilitySummary = append(resp.EligibilitySummary, EligibilityCount{Eligibility: lc.Label, Count: lc.Count})
	}

	s.cache.Set(ctx, cacheKeySummary, resp)
	return resp, nil
}

// CountyListing returns one page of a county's vehicles. Out-of-range pages
// return an empty list with the correct totals rather than an error.
func (s *AnalyticsService) CountyListing(ctx context.Context, params CountyListingParams) (*CountyListingResponse, error) {
	county := strings.ToUpper(strings.TrimSpace(params.County))
	if county == "" {
		return nil, fmt.Errorf("%w: county must not be empty", ErrInvalidQuery)
	}

	page := params.Page
	if page < 1 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	sortBy := params.SortBy
	if sortBy == "" {
		sortBy = repository.SortByModelYear
	}
	switch sortBy {
	case repository.SortByModelYear, repository.SortByMake, repository.SortByModel:
	default:
		return nil, fmt.Errorf("%w: unsupported sort_by %q", ErrInvalidQuery, params.SortBy)
	}

	filter := repository.VehicleFilter{County: &county, ModelYear: params.ModelYear}

	totalCount, err := s.repo.CountVehicles(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count county vehicles: %w", err)
	}

	totalPages := int(math.Ceil(float64(totalCount) / float64(pageSize)))
	offset := (page - 1) * pageSize

	vehicles := []*models.Vehicle{}
	if int64(offset) < totalCount {
		vehicles, err = s.repo.FindVehicles(ctx, filter, repository.SortSpec{Field: sortBy, Descending: params.SortDesc}, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to list county vehicles: %w", err)
		}
	}

	return &CountyListingResponse{
		County:     county,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
		Vehicles:   vehicles,
	}, nil
}

// MakeModels breaks one make down per model. An unknown make yields an empty
// model list, not an error.
func (s *AnalyticsService) MakeModels(ctx context.Context, makeName string) (*MakeModelsResponse, error) {
	normalized := strings.ToUpper(strings.TrimSpace(makeName))
	if normalized == "" {
		return nil, fmt.Errorf("%w: make must not be empty", ErrInvalidQuery)
	}

	stats, err := s.repo.ModelStatsByMake(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate models for make: %w", err)
	}

	resp := &MakeModelsResponse{
		Make:        normalized,
		TotalModels: len(stats),
		Models:      make([]ModelStats, 0, len(stats)),
	}
	for _, st := range stats {
		resp.Models = append(resp.Models, ModelStats{
			Model:                st.Model,
			Count:                st.Count,
			AverageElectricRange: round2(st.AverageRange),
		})
	}
	// Stats arrive ordered by descending count, so the first entry is the
	// most popular model.
	if len(stats) > 0 {
		resp.MostPopularModel = stats[0].Model
		resp.MostPopularCount = stats[0].Count
	}

	return resp, nil
}

// Analyze groups the matching vehicles by the requested dimension. An empty
// match produces an empty group list.
func (s *AnalyticsService) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResponse, error) {
	switch req.GroupBy {
	case repository.GroupByCounty, repository.GroupByMake, repository.GroupByModelYear, repository.GroupByVehicleType:
	default:
		return nil, fmt.Errorf("%w: unsupported group_by %q", ErrInvalidQuery, req.GroupBy)
	}
	if req.Filters.MinElectricRange != nil && *req.Filters.MinElectricRange < 0 {
		return nil, fmt.Errorf("%w: min_electric_range must not be negative", ErrInvalidQuery)
	}
	if yr := req.Filters.ModelYears; yr != nil && yr.Start != nil && yr.End != nil && *yr.Start > *yr.End {
		return nil, fmt.Errorf("%w: model_years start %d exceeds end %d", ErrInvalidQuery, *yr.Start, *yr.End)
	}

	filter := repository.AnalyticsFilter{
		Makes:            upperAll(req.Filters.Makes),
		MinElectricRange: req.Filters.MinElectricRange,
		Counties:         upperAll(req.Filters.Counties),
		VehicleTypes:     upperAll(req.Filters.VehicleTypes),
	}
	if req.Filters.ModelYears != nil {
		filter.ModelYearStart = req.Filters.ModelYears.Start
		filter.ModelYearEnd = req.Filters.ModelYears.End
	}

	groups, err := s.repo.GroupAggregates(ctx, filter, req.GroupBy)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate groups: %w", err)
	}

	resp := &AnalyzeResponse{
		GroupBy: req.GroupBy,
		Groups:  make([]GroupStats, 0, len(groups)),
	}
	for _, g := range groups {
		resp.TotalMatchingVehicles += g.Count
		resp.Groups = append(resp.Groups, GroupStats{
			GroupValue:           g.Key,
			Count:                g.Count,
			AverageElectricRange: round2(g.AverageRange),
			MostCommonVehicle:    g.TopVehicle,
		})
	}

	return resp, nil
}

// Trends computes the per-year adoption series and the earliest-to-latest
// growth rates.
func (s *AnalyticsService) Trends(ctx context.Context) (*TrendsResponse, error) {
	var cached TrendsResponse
	if s.cache.Get(ctx, cacheKeyTrends, &cached) {
		s.metrics.CacheHitsTotal.Inc()
		return &cached, nil
	}
	s.metrics.CacheMissesTotal.Inc()

	years, err := s.repo.YearTrends(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate year trends: %w", err)
	}

	resp := &TrendsResponse{Trends: make([]YearTrend, 0, len(years))}
	for _, y := range years {
		trend := YearTrend{
			ModelYear:            y.Year,
			VehicleCount:         y.Count,
			AverageElectricRange: round2(y.AverageRange),
			BEVCount:             y.BEVCount,
			PHEVCount:            y.PHEVCount,
		}
		if y.Count > 0 {
			trend.BEVPercentage = round2(float64(y.BEVCount) / float64(y.Count) * 100)
			trend.PHEVPercentage = round2(float64(y.PHEVCount) / float64(y.Count) * 100)
		}
		resp.Trends = append(resp.Trends, trend)
	}

	if len(years) >= 2 {
		first, last := years[0], years[len(years)-1]
		resp.OverallGrowthRate = round2(percentChange(float64(first.Count), float64(last.Count)))
		resp.RangeImprovementRate = round2(percentChange(first.AverageRange, last.AverageRange))
	}

	s.cache.Set(ctx, cacheKeyTrends, resp)
	return resp, nil
}

// InvalidateCaches drops the cached analytics responses, typically after a
// pipeline run replaces the data.
func (s *AnalyticsService) InvalidateCaches(ctx context.Context) {
	s.cache.Invalidate(ctx, cacheKeySummary, cacheKeyTrends)
}

func percentChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}

func upperAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.ToUpper(strings.TrimSpace(v)))
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
