package repository

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"ev-analytics-platform/internal/models"
)

// MemoryRepository is an in-memory VehicleRepository with the same observable
// semantics as the Postgres implementation, including the deterministic
// tie-break ordering of every aggregate. Used by unit tests and local
// development; not safe for data sets that matter.
type MemoryRepository struct {
	mu       sync.RWMutex
	vehicles []*models.Vehicle
	indexes  map[string]struct{}
	nextID   int64
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{indexes: make(map[string]struct{})}
}

func dedupeKey(v *models.Vehicle) string {
	return v.VINPrefix + "\x00" + v.DOLVehicleID
}

func (m *MemoryRepository) InsertVehiclesBatch(_ context.Context, vehicles []*models.Vehicle) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := make(map[string]struct{}, len(m.vehicles))
	for _, v := range m.vehicles {
		existing[dedupeKey(v)] = struct{}{}
	}

	inserted := 0
	now := time.Now().UTC()
	for _, v := range vehicles {
		key := dedupeKey(v)
		if _, ok := existing[key]; ok {
			continue
		}
		existing[key] = struct{}{}

		m.nextID++
		stored := *v
		stored.ID = m.nextID
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		m.vehicles = append(m.vehicles, &stored)
		inserted++
	}
	return inserted, nil
}

func (m *MemoryRepository) EnsureIndexes(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ddl := range analyticalIndexes {
		m.indexes[ddl] = struct{}{}
	}
	return nil
}

// IndexCount reports how many distinct indexes have been provisioned.
func (m *MemoryRepository) IndexCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.indexes)
}

func matchesFilter(v *models.Vehicle, filter VehicleFilter) bool {
	if filter.County != nil && v.County != *filter.County {
		return false
	}
	if filter.ModelYear != nil && v.ModelYear != *filter.ModelYear {
		return false
	}
	return true
}

func (m *MemoryRepository) CountVehicles(_ context.Context, filter VehicleFilter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, v := range m.vehicles {
		if matchesFilter(v, filter) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryRepository) FindVehicles(_ context.Context, filter VehicleFilter, sortSpec SortSpec, limit, offset int) ([]*models.Vehicle, error) {
	if _, err := sortColumn(sortSpec.Field); err != nil {
		return nil, err
	}

	m.mu.RLock()
	matched := make([]*models.Vehicle, 0)
	for _, v := range m.vehicles {
		if matchesFilter(v, filter) {
			matched = append(matched, v)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var less, equal bool
		switch sortSpec.Field {
		case SortByModelYear:
			less, equal = a.ModelYear < b.ModelYear, a.ModelYear == b.ModelYear
		case SortByMake:
			less, equal = a.Make < b.Make, a.Make == b.Make
		default:
			less, equal = a.Model < b.Model, a.Model == b.Model
		}
		if !equal {
			if sortSpec.Descending {
				return !less
			}
			return less
		}
		if a.VINPrefix != b.VINPrefix {
			return a.VINPrefix < b.VINPrefix
		}
		return a.DOLVehicleID < b.DOLVehicleID
	})

	if offset >= len(matched) {
		return []*models.Vehicle{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (m *MemoryRepository) TotalVehicles(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.vehicles)), nil
}

// labelCountsBy counts buckets of one categorical field and orders them by
// count descending, label ascending.
func (m *MemoryRepository) labelCountsBy(key func(*models.Vehicle) string, limit int) []LabelCount {
	m.mu.RLock()
	buckets := make(map[string]int64)
	for _, v := range m.vehicles {
		buckets[key(v)]++
	}
	m.mu.RUnlock()

	counts := make([]LabelCount, 0, len(buckets))
	for label, count := range buckets {
		counts = append(counts, LabelCount{Label: label, Count: count})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Label < counts[j].Label
	})
	if limit > 0 && len(counts) > limit {
		counts = counts[:limit]
	}
	return counts
}

func (m *MemoryRepository) CountsByVehicleType(_ context.Context) ([]LabelCount, error) {
	return m.labelCountsBy(func(v *models.Vehicle) string { return v.VehicleType }, 0), nil
}

func (m *MemoryRepository) TopMakes(_ context.Context, limit int) ([]LabelCount, error) {
	return m.labelCountsBy(func(v *models.Vehicle) string { return v.Make }, limit), nil
}

func (m *MemoryRepository) AverageElectricRange(_ context.Context) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.vehicles) == 0 {
		return 0, nil
	}
	var sum int64
	for _, v := range m.vehicles {
		sum += int64(v.ElectricRange)
	}
	return float64(sum) / float64(len(m.vehicles)), nil
}

func (m *MemoryRepository) CountsByEligibility(_ context.Context) ([]LabelCount, error) {
	return m.labelCountsBy(func(v *models.Vehicle) string { return v.CAFVEligibility }, 0), nil
}

func (m *MemoryRepository) ModelStatsByMake(_ context.Context, makeName string) ([]ModelAggregate, error) {
	m.mu.RLock()
	counts := make(map[string]int64)
	sums := make(map[string]int64)
	for _, v := range m.vehicles {
		if v.Make != makeName {
			continue
		}
		counts[v.Model]++
		sums[v.Model] += int64(v.ElectricRange)
	}
	m.mu.RUnlock()

	stats := make([]ModelAggregate, 0, len(counts))
	for model, count := range counts {
		stats = append(stats, ModelAggregate{
			Model:        model,
			Count:        count,
			AverageRange: float64(sums[model]) / float64(count),
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Model < stats[j].Model
	})
	return stats, nil
}

func matchesAnalyticsFilter(v *models.Vehicle, filter AnalyticsFilter) bool {
	if len(filter.Makes) > 0 && !containsString(filter.Makes, v.Make) {
		return false
	}
	if filter.ModelYearStart != nil && v.ModelYear < *filter.ModelYearStart {
		return false
	}
	if filter.ModelYearEnd != nil && v.ModelYear > *filter.ModelYearEnd {
		return false
	}
	if filter.MinElectricRange != nil && v.ElectricRange < *filter.MinElectricRange {
		return false
	}
	if len(filter.Counties) > 0 && !containsString(filter.Counties, v.County) {
		return false
	}
	if len(filter.VehicleTypes) > 0 && !containsString(filter.VehicleTypes, v.VehicleType) {
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func (m *MemoryRepository) GroupAggregates(_ context.Context, filter AnalyticsFilter, groupBy string) ([]GroupAggregate, error) {
	if _, err := groupColumn(groupBy); err != nil {
		return nil, err
	}

	groupKey := func(v *models.Vehicle) string {
		switch groupBy {
		case GroupByCounty:
			return v.County
		case GroupByMake:
			return v.Make
		case GroupByModelYear:
			return strconv.Itoa(v.ModelYear)
		default:
			return v.VehicleType
		}
	}

	type bucket struct {
		count    int64
		rangeSum int64
		pairs    map[string]int64
	}

	m.mu.RLock()
	buckets := make(map[string]*bucket)
	for _, v := range m.vehicles {
		if !matchesAnalyticsFilter(v, filter) {
			continue
		}
		key := groupKey(v)
		b := buckets[key]
		if b == nil {
			b = &bucket{pairs: make(map[string]int64)}
			buckets[key] = b
		}
		b.count++
		b.rangeSum += int64(v.ElectricRange)
		b.pairs[v.Make+" "+v.Model]++
	}
	m.mu.RUnlock()

	groups := make([]GroupAggregate, 0, len(buckets))
	for key, b := range buckets {
		groups = append(groups, GroupAggregate{
			Key:          key,
			Count:        b.count,
			AverageRange: float64(b.rangeSum) / float64(b.count),
			TopVehicle:   topPair(b.pairs),
		})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].Key < groups[j].Key
	})
	return groups, nil
}

// topPair picks the most frequent make+model pair, ties broken by the pair
// label ascending. Matches the window ordering in the Postgres query.
func topPair(pairs map[string]int64) string {
	var best string
	var bestCount int64 = -1
	for pair, count := range pairs {
		if count > bestCount || (count == bestCount && pair < best) {
			best = pair
			bestCount = count
		}
	}
	return best
}

func (m *MemoryRepository) YearTrends(_ context.Context) ([]YearAggregate, error) {
	m.mu.RLock()
	buckets := make(map[int]*YearAggregate)
	sums := make(map[int]int64)
	for _, v := range m.vehicles {
		b := buckets[v.ModelYear]
		if b == nil {
			b = &YearAggregate{Year: v.ModelYear}
			buckets[v.ModelYear] = b
		}
		b.Count++
		sums[v.ModelYear] += int64(v.ElectricRange)
		switch v.VehicleType {
		case models.VehicleTypeBEV:
			b.BEVCount++
		case models.VehicleTypePHEV:
			b.PHEVCount++
		}
	}
	m.mu.RUnlock()

	trends := make([]YearAggregate, 0, len(buckets))
	for year, b := range buckets {
		b.AverageRange = float64(sums[year]) / float64(b.Count)
		trends = append(trends, *b)
	}
	sort.Slice(trends, func(i, j int) bool { return trends[i].Year < trends[j].Year })
	return trends, nil
}

func (m *MemoryRepository) HealthCheck(_ context.Context) error {
	return nil
}
