package models

import (
	"testing"
)

func validRow() RawRow {
	return RawRow{
		ColVINPrefix:       "5YJ3E1EB0K",
		ColCounty:          "King",
		ColCity:            "Seattle",
		ColState:           "WA",
		ColPostalCode:      "98101",
		ColModelYear:       "2023",
		ColMake:            "Tesla",
		ColModel:           "Model 3",
		ColVehicleType:     "Battery Electric Vehicle (BEV)",
		ColCAFVEligibility: "Clean Alternative Fuel Vehicle Eligible",
		ColElectricRange:   "250",
		ColBaseMSRP:        "0",
		ColDOLVehicleID:    "123456789",
		ColVehicleLocation: "POINT (-122.33 47.61)",
	}
}

func TestValidator_Validate(t *testing.T) {
	validator := NewValidator(1997, 2028)

	tests := []struct {
		name        string
		mutate      func(RawRow)
		wantCode    RejectionCode
		wantField   string
		checkValues func(*testing.T, *Vehicle)
	}{
		{
			name:   "valid row normalizes text fields",
			mutate: func(r RawRow) {},
			checkValues: func(t *testing.T, v *Vehicle) {
				if v.County != "KING" {
					t.Errorf("County = %v, want KING", v.County)
				}
				if v.Make != "TESLA" {
					t.Errorf("Make = %v, want TESLA", v.Make)
				}
				if v.Model != "MODEL 3" {
					t.Errorf("Model = %v, want MODEL 3", v.Model)
				}
				if v.VehicleType != VehicleTypeBEV {
					t.Errorf("VehicleType = %v, want BEV", v.VehicleType)
				}
				if v.ElectricRange != 250 {
					t.Errorf("ElectricRange = %v, want 250", v.ElectricRange)
				}
				if v.Longitude == nil || *v.Longitude != -122.33 {
					t.Errorf("Longitude = %v, want -122.33", v.Longitude)
				}
				if v.Latitude == nil || *v.Latitude != 47.61 {
					t.Errorf("Latitude = %v, want 47.61", v.Latitude)
				}
			},
		},
		{
			name:      "missing county rejects with field name",
			mutate:    func(r RawRow) { delete(r, ColCounty) },
			wantCode:  RejectionMissingRequiredField,
			wantField: ColCounty,
		},
		{
			name:      "whitespace-only make counts as missing",
			mutate:    func(r RawRow) { r[ColMake] = "   " },
			wantCode:  RejectionMissingRequiredField,
			wantField: ColMake,
		},
		{
			name: "first missing required field wins",
			mutate: func(r RawRow) {
				delete(r, ColCounty)
				delete(r, ColModel)
			},
			wantCode:  RejectionMissingRequiredField,
			wantField: ColCounty,
		},
		{
			name:      "model year below minimum",
			mutate:    func(r RawRow) { r[ColModelYear] = "1990" },
			wantCode:  RejectionYearOutOfRange,
			wantField: ColModelYear,
		},
		{
			name:      "model year above maximum",
			mutate:    func(r RawRow) { r[ColModelYear] = "2035" },
			wantCode:  RejectionYearOutOfRange,
			wantField: ColModelYear,
		},
		{
			name:      "non-numeric model year rejects as out of range",
			mutate:    func(r RawRow) { r[ColModelYear] = "twenty" },
			wantCode:  RejectionYearOutOfRange,
			wantField: ColModelYear,
		},
		{
			name:   "float-formatted model year is accepted",
			mutate: func(r RawRow) { r[ColModelYear] = "2023.0" },
			checkValues: func(t *testing.T, v *Vehicle) {
				if v.ModelYear != 2023 {
					t.Errorf("ModelYear = %v, want 2023", v.ModelYear)
				}
			},
		},
		{
			name:      "unknown vehicle type rejects",
			mutate:    func(r RawRow) { r[ColVehicleType] = "Hydrogen Fuel Cell" },
			wantCode:  RejectionUnrecognizedVehicleType,
			wantField: ColVehicleType,
		},
		{
			name:   "PHEV long label maps to short code",
			mutate: func(r RawRow) { r[ColVehicleType] = "Plug-in Hybrid Electric Vehicle (PHEV)" },
			checkValues: func(t *testing.T, v *Vehicle) {
				if v.VehicleType != VehicleTypePHEV {
					t.Errorf("VehicleType = %v, want PHEV", v.VehicleType)
				}
			},
		},
		{
			name:   "short codes are accepted directly",
			mutate: func(r RawRow) { r[ColVehicleType] = "bev" },
			checkValues: func(t *testing.T, v *Vehicle) {
				if v.VehicleType != VehicleTypeBEV {
					t.Errorf("VehicleType = %v, want BEV", v.VehicleType)
				}
			},
		},
		{
			name: "lenient numeric coercion",
			mutate: func(r RawRow) {
				r[ColElectricRange] = "N/A"
				r[ColBaseMSRP] = "-100"
			},
			checkValues: func(t *testing.T, v *Vehicle) {
				if v.ElectricRange != 0 {
					t.Errorf("ElectricRange = %v, want 0", v.ElectricRange)
				}
				if v.BaseMSRP != 0 {
					t.Errorf("BaseMSRP = %v, want 0", v.BaseMSRP)
				}
			},
		},
		{
			name:   "blank state defaults to WA",
			mutate: func(r RawRow) { delete(r, ColState) },
			checkValues: func(t *testing.T, v *Vehicle) {
				if v.State != "WA" {
					t.Errorf("State = %v, want WA", v.State)
				}
			},
		},
		{
			name:   "malformed geometry clears location without rejecting",
			mutate: func(r RawRow) { r[ColVehicleLocation] = "POINT (not numbers)" },
			checkValues: func(t *testing.T, v *Vehicle) {
				if v.Longitude != nil || v.Latitude != nil {
					t.Errorf("location = (%v, %v), want cleared", v.Longitude, v.Latitude)
				}
			},
		},
		{
			name:   "missing DOL vehicle id stores empty string",
			mutate: func(r RawRow) { delete(r, ColDOLVehicleID) },
			checkValues: func(t *testing.T, v *Vehicle) {
				if v.DOLVehicleID != "" {
					t.Errorf("DOLVehicleID = %q, want empty", v.DOLVehicleID)
				}
			},
		},
		{
			name:   "postal code keeps leading zeros",
			mutate: func(r RawRow) { r[ColPostalCode] = "02134" },
			checkValues: func(t *testing.T, v *Vehicle) {
				if v.PostalCode == nil || *v.PostalCode != "02134" {
					t.Errorf("PostalCode = %v, want 02134", v.PostalCode)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := validRow()
			tt.mutate(row)

			vehicle, rej := validator.Validate(row)

			if tt.wantCode != "" {
				if rej == nil {
					t.Fatalf("Validate() accepted row, want rejection %s", tt.wantCode)
				}
				if rej.Code != tt.wantCode {
					t.Errorf("rejection code = %v, want %v", rej.Code, tt.wantCode)
				}
				if rej.Field != tt.wantField {
					t.Errorf("rejection field = %v, want %v", rej.Field, tt.wantField)
				}
				return
			}

			if rej != nil {
				t.Fatalf("Validate() rejected row: %v", rej)
			}
			if tt.checkValues != nil {
				tt.checkValues(t, vehicle)
			}
		})
	}
}

func TestValidator_Deterministic(t *testing.T) {
	validator := NewValidator(1997, 2028)
	row := validRow()
	row[ColModelYear] = "1990"

	for i := 0; i < 3; i++ {
		_, rej := validator.Validate(row)
		if rej == nil || rej.Code != RejectionYearOutOfRange {
			t.Fatalf("run %d: rejection = %v, want %v", i, rej, RejectionYearOutOfRange)
		}
	}
}

func TestParsePointGeometry(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLon float64
		wantLat float64
		wantOK  bool
	}{
		{"standard form", "POINT (-122.33 47.61)", -122.33, 47.61, true},
		{"no space after POINT", "POINT(-120.5 46.2)", -120.5, 46.2, true},
		{"empty string", "", 0, 0, false},
		{"not a point", "LINESTRING (0 0, 1 1)", 0, 0, false},
		{"single coordinate", "POINT (-122.33)", 0, 0, false},
		{"unbalanced parens", "POINT (-122.33 47.61", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lon, lat, ok := parsePointGeometry(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (lon != tt.wantLon || lat != tt.wantLat) {
				t.Errorf("point = (%v, %v), want (%v, %v)", lon, lat, tt.wantLon, tt.wantLat)
			}
		})
	}
}
