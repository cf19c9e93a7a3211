package models

import (
	"fmt"
	"time"
)

// Canonical column names for raw rows. Sources map their native headers to
// these before a row reaches validation.
const (
	ColVINPrefix           = "vin_prefix"
	ColCounty              = "county"
	ColCity                = "city"
	ColState               = "state"
	ColPostalCode          = "postal_code"
	ColModelYear           = "model_year"
	ColMake                = "make"
	ColModel               = "model"
	ColVehicleType         = "vehicle_type"
	ColCAFVEligibility     = "cafv_eligibility"
	ColElectricRange       = "electric_range"
	ColBaseMSRP            = "base_msrp"
	ColLegislativeDistrict = "legislative_district"
	ColDOLVehicleID        = "dol_vehicle_id"
	ColVehicleLocation     = "vehicle_location"
	ColElectricUtility     = "electric_utility"
	ColCensusTract         = "census_tract"
)

// CanonicalColumns lists every canonical column in dataset order. Quality
// reporting walks this list so its per-column tallies stay stable across runs.
var CanonicalColumns = []string{
	ColVINPrefix,
	ColCounty,
	ColCity,
	ColState,
	ColPostalCode,
	ColModelYear,
	ColMake,
	ColModel,
	ColVehicleType,
	ColCAFVEligibility,
	ColElectricRange,
	ColBaseMSRP,
	ColLegislativeDistrict,
	ColDOLVehicleID,
	ColVehicleLocation,
	ColElectricUtility,
	ColCensusTract,
}

// Recognized vehicle type codes.
const (
	VehicleTypeBEV  = "BEV"
	VehicleTypePHEV = "PHEV"
)

// RawRow is a single row exactly as read from a source, keyed by canonical
// column name. No semantic guarantees beyond that.
type RawRow map[string]string

// Vehicle is a validated, normalized registration record. Immutable once
// produced by the validator; the pipeline never mutates it afterwards.
type Vehicle struct {
	ID                  int64     `json:"-" db:"id"`
	VINPrefix           string    `json:"vin_prefix" db:"vin_prefix"`
	County              string    `json:"county" db:"county"`
	City                string    `json:"city" db:"city"`
	State               string    `json:"state" db:"state"`
	PostalCode          *string   `json:"postal_code,omitempty" db:"postal_code"`
	ModelYear           int       `json:"model_year" db:"model_year"`
	Make                string    `json:"make" db:"make"`
	Model               string    `json:"model" db:"model"`
	VehicleType         string    `json:"vehicle_type" db:"vehicle_type"`
	CAFVEligibility     string    `json:"cafv_eligibility" db:"cafv_eligibility"`
	ElectricRange       int       `json:"electric_range" db:"electric_range"`
	BaseMSRP            int       `json:"base_msrp" db:"base_msrp"`
	LegislativeDistrict *string   `json:"legislative_district,omitempty" db:"legislative_district"`
	DOLVehicleID        string    `json:"dol_vehicle_id" db:"dol_vehicle_id"`
	Longitude           *float64  `json:"longitude,omitempty" db:"longitude"`
	Latitude            *float64  `json:"latitude,omitempty" db:"latitude"`
	ElectricUtility     *string   `json:"electric_utility,omitempty" db:"electric_utility"`
	CensusTract         *string   `json:"census_tract,omitempty" db:"census_tract"`
	CreatedAt           time.Time `json:"-" db:"created_at"`
}

// RejectionCode classifies why a row was rejected by the validator.
type RejectionCode string

const (
	RejectionMissingRequiredField    RejectionCode = "missing_required_field"
	RejectionYearOutOfRange          RejectionCode = "year_out_of_range"
	RejectionUnrecognizedVehicleType RejectionCode = "unrecognized_vehicle_type"
)

// Rejection describes a single rejected row. Rejections are expected during a
// run: they are tallied, never propagated as process-ending errors.
type Rejection struct {
	Code    RejectionCode
	Field   string
	Message string
}

func (r *Rejection) Error() string {
	if r.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", r.Code, r.Message, r.Field)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// IsTransient returns false as rejections are permanent for a given row.
func (r *Rejection) IsTransient() bool {
	return false
}
