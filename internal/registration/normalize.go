package registration

import (
	"strings"

	"github.com/OhMinsSup/jwc-platform-sub001/internal/normalize"
)

var categoryDomains = map[string]normalize.Domain{
	KeyIsPaid:         normalize.DomainPayment,
	KeyGender:         normalize.DomainGender,
	KeyDepartment:     normalize.DomainDepartment,
	KeyAgeGroup:       normalize.DomainAgeGroup,
	KeyStayType:       normalize.DomainStayType,
	KeyTFTeam:         normalize.DomainTFTeam,
	KeyTShirtSize:     normalize.DomainTShirtSize,
	KeyCanProvideRide: normalize.DomainRide,
}

// CategoryDomain returns the label vocabulary of a categorical field.
func CategoryDomain(key string) (normalize.Domain, bool) {
	d, ok := categoryDomains[key]
	return d, ok
}

// Normalize canonicalizes a record arriving from the form layer. It returns
// the keys whose non-empty label had no internal value; those fields keep
// their trimmed input.
func Normalize(rec Record, labels *normalize.Labels) (Record, []string) {
	if labels == nil {
		labels = normalize.DefaultLabels()
	}
	var unmapped []string
	category := func(key string, field *string) {
		raw := strings.TrimSpace(*field)
		*field = raw
		if raw == "" {
			return
		}
		v, ok := labels.Map(categoryDomains[key], raw)
		s, isString := v.(string)
		if !ok || !isString {
			unmapped = append(unmapped, key)
			return
		}
		*field = s
	}

	rec.ID = strings.TrimSpace(rec.ID)
	rec.Name = strings.TrimSpace(rec.Name)
	category(KeyGender, &rec.Gender)
	category(KeyDepartment, &rec.Department)
	category(KeyAgeGroup, &rec.AgeGroup)
	category(KeyStayType, &rec.StayType)
	category(KeyTFTeam, &rec.TFTeam)
	category(KeyTShirtSize, &rec.TShirtSize)
	rec.Phone = normalize.ParsePhone(rec.Phone)
	rec.AttendanceDay = normalize.ParseDate(rec.AttendanceDay)
	rec.AttendanceTime = normalize.ParseTime(rec.AttendanceTime)
	rec.RideDetails = strings.TrimSpace(rec.RideDetails)
	rec.PickupTimeDescription = strings.TrimSpace(rec.PickupTimeDescription)
	return rec, unmapped
}
