package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinModelYear is the earliest model year accepted by the validator.
const MinModelYear = 1997

// requiredColumns in validation order. The first missing column names the
// rejection, so the order is part of the contract.
var requiredColumns = []string{
	ColVINPrefix,
	ColCounty,
	ColCity,
	ColMake,
	ColModel,
	ColModelYear,
	ColVehicleType,
}

// Validator turns raw rows into validated vehicles. It is pure and holds no
// mutable state, so a single instance is safe to share across goroutines.
type Validator struct {
	minYear int
	maxYear int
}

// NewValidator creates a validator with explicit model-year bounds.
func NewValidator(minYear, maxYear int) *Validator {
	return &Validator{minYear: minYear, maxYear: maxYear}
}

// DefaultValidator creates a validator with the standard bounds
// [MinModelYear, current year + 2].
func DefaultValidator() *Validator {
	return NewValidator(MinModelYear, time.Now().UTC().Year()+2)
}

// Validate checks a single raw row and either returns the normalized vehicle
// or the reason the row was rejected. Checks run in a fixed order and the
// first failing check wins, so the same row always yields the same outcome.
func (v *Validator) Validate(row RawRow) (*Vehicle, *Rejection) {
	for _, col := range requiredColumns {
		if strings.TrimSpace(row[col]) == "" {
			return nil, &Rejection{
				Code:    RejectionMissingRequiredField,
				Field:   col,
				Message: "required field is missing or blank",
			}
		}
	}

	year, ok := parseInt(row[ColModelYear])
	if !ok || year < v.minYear || year > v.maxYear {
		return nil, &Rejection{
			Code:    RejectionYearOutOfRange,
			Field:   ColModelYear,
			Message: fmt.Sprintf("model year %q outside [%d, %d]", strings.TrimSpace(row[ColModelYear]), v.minYear, v.maxYear),
		}
	}

	vehicleType, ok := normalizeVehicleType(row[ColVehicleType])
	if !ok {
		return nil, &Rejection{
			Code:    RejectionUnrecognizedVehicleType,
			Field:   ColVehicleType,
			Message: fmt.Sprintf("vehicle type %q is neither BEV nor PHEV", strings.TrimSpace(row[ColVehicleType])),
		}
	}

	state := normalizeString(row[ColState])
	if state == "" {
		state = "WA"
	}

	vehicle := &Vehicle{
		VINPrefix:           normalizeString(row[ColVINPrefix]),
		County:              normalizeString(row[ColCounty]),
		City:                normalizeString(row[ColCity]),
		State:               state,
		PostalCode:          optionalString(row[ColPostalCode]),
		ModelYear:           year,
		Make:                normalizeString(row[ColMake]),
		Model:               normalizeString(row[ColModel]),
		VehicleType:         vehicleType,
		CAFVEligibility:     normalizeString(row[ColCAFVEligibility]),
		ElectricRange:       coerceNonNegativeInt(row[ColElectricRange]),
		BaseMSRP:            coerceNonNegativeInt(row[ColBaseMSRP]),
		LegislativeDistrict: optionalString(row[ColLegislativeDistrict]),
		DOLVehicleID:        strings.TrimSpace(row[ColDOLVehicleID]),
		ElectricUtility:     optionalString(row[ColElectricUtility]),
		CensusTract:         optionalString(row[ColCensusTract]),
	}

	// Malformed geometry clears the field, it never rejects the record.
	if lon, lat, ok := parsePointGeometry(row[ColVehicleLocation]); ok {
		vehicle.Longitude = &lon
		vehicle.Latitude = &lat
	}

	return vehicle, nil
}

// normalizeString trims and upper-cases a free-text field.
func normalizeString(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// optionalString preserves an optional field as-is apart from trimming.
// Postal codes in particular must stay strings to keep leading zeros.
func optionalString(s string) *string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// parseInt accepts plain integers as well as float-formatted integers such as
// "2023.0", which show up when upstream tooling round-trips the column
// through a floating-point type.
func parseInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f), true
	}
	return 0, false
}

// coerceNonNegativeInt is the lenient numeric rule: blank, "NA", "N/A",
// non-numeric, and negative values all coerce to 0 rather than rejecting the
// record. Only identity and categorical fields are strict.
func coerceNonNegativeInt(s string) int {
	s = strings.TrimSpace(s)
	switch s {
	case "", "NA", "N/A":
		return 0
	}
	n, ok := parseInt(s)
	if !ok || n < 0 {
		return 0
	}
	return n
}

// normalizeVehicleType maps the long-form labels ("Battery Electric Vehicle
// (BEV)", "Plug-in Hybrid Electric Vehicle (PHEV)") and their short codes to
// BEV or PHEV. PHEV is checked first since its label contains "BEV".
func normalizeVehicleType(s string) (string, bool) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	switch {
	case strings.Contains(upper, VehicleTypePHEV):
		return VehicleTypePHEV, true
	case strings.Contains(upper, VehicleTypeBEV):
		return VehicleTypeBEV, true
	default:
		return "", false
	}
}

// parsePointGeometry parses the "POINT (lon lat)" text form. Any deviation
// from that shape is treated as no location.
func parsePointGeometry(s string) (lon, lat float64, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, false
	}
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "POINT") {
		return 0, 0, false
	}
	open := strings.IndexByte(s, '(')
	end := strings.IndexByte(s, ')')
	if open < 0 || end < open {
		return 0, 0, false
	}
	parts := strings.Fields(s[open+1 : end])
	if len(parts) != 2 {
		return 0, 0, false
	}
	lon, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, false
	}
	lat, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, false
	}
	return lon, lat, true
}
