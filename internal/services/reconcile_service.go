package services

import (
	"ips-map/internal/models"
)

// DefaultSector is used when the geolocation source has no sector label
const DefaultSector = "Public"

// DropReason tells why a raw IPS row produced no establishment
type DropReason string

const (
	DropMissingIdentifier  DropReason = "missing_identifier"
	DropNoLocalization     DropReason = "no_localization"
	DropMissingCoordinates DropReason = "missing_coordinates"
	DropMissingIPS         DropReason = "missing_ips"
	DropInvalidIPS         DropReason = "invalid_ips"
)

// TypeReport counts what happened to the rows of one IPS source
type TypeReport struct {
	Read              int                `json:"read"`
	Kept              int                `json:"kept"`
	WithoutEnrollment int                `json:"without_enrollment"`
	Dropped           map[DropReason]int `json:"dropped"`
}

// ReconcileReport summarizes one reconciliation pass
type ReconcileReport struct {
	Localizations int                                      `json:"localizations"`
	Enrollments   int                                      `json:"enrollments"`
	ByType        map[models.EstablishmentType]*TypeReport `json:"by_type"`
}

// Kept returns the total number of establishments produced
func (r *ReconcileReport) Kept() int {
	total := 0
	for _, tr := range r.ByType {
		total += tr.Kept
	}
	return total
}

// Dropped returns the total number of IPS rows excluded
func (r *ReconcileReport) Dropped() int {
	total := 0
	for _, tr := range r.ByType {
		for _, n := range tr.Dropped {
			total += n
		}
	}
	return total
}

// Reconcile joins the three IPS sources with the geolocation and effectifs
// sources and returns the canonical establishments: schools first, then
// colleges, then high-schools, each in source order. Rows missing their
// identifier, geolocation, coordinates or a finite IPS are left out.
func Reconcile(schools, colleges, highSchools, localizations, enrollments []Row) []models.Establishment {
	establishments, _ := ReconcileWithReport(schools, colleges, highSchools, localizations, enrollments)
	return establishments
}

// ReconcileWithReport is Reconcile plus per-source counters
func ReconcileWithReport(schools, colleges, highSchools, localizations, enrollments []Row) ([]models.Establishment, *ReconcileReport) {
	locIndex := buildLocalizationIndex(localizations)
	effIndex := buildEnrollmentIndex(enrollments)

	report := &ReconcileReport{
		Localizations: len(locIndex),
		Enrollments:   len(effIndex),
		ByType:        make(map[models.EstablishmentType]*TypeReport, len(models.EstablishmentTypes)),
	}

	sources := []struct {
		typ  models.EstablishmentType
		rows []Row
	}{
		{models.TypeSchool, schools},
		{models.TypeCollege, colleges},
		{models.TypeHighSchool, highSchools},
	}

	establishments := make([]models.Establishment, 0, len(schools)+len(colleges)+len(highSchools))

	for _, src := range sources {
		tr := &TypeReport{Dropped: make(map[DropReason]int)}
		report.ByType[src.typ] = tr

		fields := IPSFields(src.typ)
		for _, row := range src.rows {
			tr.Read++

			e, reason, ok := mergeRow(row, src.typ, fields, locIndex, effIndex)
			if !ok {
				tr.Dropped[reason]++
				continue
			}
			if e.StudentCount == nil && e.ClassCount == nil {
				tr.WithoutEnrollment++
			}
			tr.Kept++
			establishments = append(establishments, e)
		}
	}

	return establishments, report
}

// buildLocalizationIndex keys geolocation rows by normalized identifier; the last duplicate wins
func buildLocalizationIndex(rows []Row) map[string]models.Localization {
	index := make(map[string]models.Localization, len(rows))
	for _, row := range rows {
		loc := NewLocalization(row)
		key := NormalizeKey(loc.Identifier)
		if key == "" {
			continue
		}
		index[key] = loc
	}
	return index
}

// buildEnrollmentIndex keys effectifs rows by normalized identifier; the last duplicate wins
func buildEnrollmentIndex(rows []Row) map[string]models.Enrollment {
	index := make(map[string]models.Enrollment, len(rows))
	for _, row := range rows {
		eff := NewEnrollment(row)
		key := NormalizeKey(eff.Identifier)
		if key == "" {
			continue
		}
		index[key] = eff
	}
	return index
}

func mergeRow(
	row Row,
	typ models.EstablishmentType,
	fields IPSFieldSet,
	locIndex map[string]models.Localization,
	effIndex map[string]models.Enrollment,
) (models.Establishment, DropReason, bool) {
	key := NormalizeKey(ResolveIdentifier(row, fields.Identifier))
	if key == "" {
		return models.Establishment{}, DropMissingIdentifier, false
	}

	loc, ok := locIndex[key]
	if !ok {
		return models.Establishment{}, DropNoLocalization, false
	}
	if !loc.HasCoordinates() {
		return models.Establishment{}, DropMissingCoordinates, false
	}

	raw, ok := row.First(fields.IPS...)
	if !ok {
		return models.Establishment{}, DropMissingIPS, false
	}
	ips, ok := FloatValue(raw)
	if !ok {
		return models.Establishment{}, DropInvalidIPS, false
	}

	e := models.Establishment{
		Identifier:   key,
		Type:         typ,
		IPS:          ips,
		Latitude:     *loc.Latitude,
		Longitude:    *loc.Longitude,
		DisplayName:  firstNonEmpty(loc.Denomination, row.Text(fields.Denomination...)),
		OfficialName: loc.OfficialName,
		Sector:       firstNonEmpty(loc.Sector, DefaultSector),
		Commune:      firstNonEmpty(loc.Commune, row.Text(fields.Commune...)),
		Department:   firstNonEmpty(loc.Department, row.Text(fields.Department...)),
		Region:       firstNonEmpty(loc.Region, row.Text(fields.Region...)),
	}

	if eff, ok := effIndex[key]; ok {
		e.StudentCount = eff.StudentCount
		e.ClassCount = eff.ClassCount
	}

	comparison := models.ComparisonIPS{
		Commune:    row.Float(fields.CommuneIPS...),
		Department: row.Float(fields.DepartmentIPS...),
		Academy:    row.Float(fields.AcademyIPS...),
		National:   row.Float(fields.NationalIPS...),
	}
	if !comparison.IsEmpty() {
		e.ComparisonIPS = &comparison
	}

	return e, "", true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
