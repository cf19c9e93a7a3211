package source

import (
	"strings"

	"ev-analytics-platform/internal/models"
)

// headerMapping maps the published dataset's column headers to canonical
// column names. Unlisted headers fall back to a snake_case rendering so rows
// stay complete even if the upstream file grows new columns.
var headerMapping = map[string]string{
	"VIN (1-10)":            models.ColVINPrefix,
	"County":                models.ColCounty,
	"City":                  models.ColCity,
	"State":                 models.ColState,
	"Postal Code":           models.ColPostalCode,
	"Model Year":            models.ColModelYear,
	"Make":                  models.ColMake,
	"Model":                 models.ColModel,
	"Electric Vehicle Type": models.ColVehicleType,
	"Clean Alternative Fuel Vehicle (CAFV) Eligibility": models.ColCAFVEligibility,
	"Electric Range":       models.ColElectricRange,
	"Base MSRP":            models.ColBaseMSRP,
	"Legislative District": models.ColLegislativeDistrict,
	"DOL Vehicle ID":       models.ColDOLVehicleID,
	"Vehicle Location":     models.ColVehicleLocation,
	"Electric Utility":     models.ColElectricUtility,
	"2020 Census Tract":    models.ColCensusTract,
}

// canonicalColumns maps a header row to canonical column names. Headers that
// already use canonical names pass through unchanged.
func canonicalColumns(headers []string) []string {
	cols := make([]string, len(headers))
	for i, h := range headers {
		h = strings.TrimSpace(h)
		if mapped, ok := headerMapping[h]; ok {
			cols[i] = mapped
			continue
		}
		cols[i] = snakeCase(h)
	}
	return cols
}

func snakeCase(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
