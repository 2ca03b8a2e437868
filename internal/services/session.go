package services

import (
	"strings"
	"time"

	"golang.org/x/exp/slices"

	geom2 "github.com/peterstace/simplefeatures/geom"
	"github.com/twpayne/go-geom"

	"ips-map/internal/models"
)

// Session is one loaded, reconciled dataset. It never changes after
// construction; reloading builds a new Session.
type Session struct {
	establishments []models.Establishment
	index          *models.SpatialIndex
	report         *ReconcileReport
	loadedAt       time.Time
}

// NewSession takes a private copy of establishments and indexes it
func NewSession(establishments []models.Establishment, report *ReconcileReport) *Session {
	owned := slices.Clone(establishments)

	pointers := make([]*models.Establishment, len(owned))
	for i := range owned {
		pointers[i] = &owned[i]
	}

	if report == nil {
		report = &ReconcileReport{ByType: make(map[models.EstablishmentType]*TypeReport)}
	}

	return &Session{
		establishments: owned,
		index:          models.NewSpatialIndex(pointers),
		report:         report,
		loadedAt:       time.Now(),
	}
}

// Len returns the number of establishments in the session
func (s *Session) Len() int {
	return len(s.establishments)
}

// Establishments returns a copy of the canonical collection
func (s *Session) Establishments() []models.Establishment {
	return slices.Clone(s.establishments)
}

// Report returns the reconciliation counters of the load
func (s *Session) Report() *ReconcileReport {
	return s.report
}

// LoadedAt returns when the session was built
func (s *Session) LoadedAt() time.Time {
	return s.loadedAt
}

// Bounds returns the lon/lat extent of the whole collection
func (s *Session) Bounds() *geom.Bounds {
	return s.index.Bounds()
}

// FilterCriteria selects establishments. Zero values match everything.
type FilterCriteria struct {
	Types      []models.EstablishmentType
	Sectors    []string
	Region     string
	Department string
	MinIPS     *float64
	MaxIPS     *float64
	Area       *geom2.Geometry
}

// IsEmpty reports whether the criteria select the whole collection
func (c FilterCriteria) IsEmpty() bool {
	return len(c.Types) == 0 && len(c.Sectors) == 0 &&
		strings.TrimSpace(c.Region) == "" && strings.TrimSpace(c.Department) == "" &&
		c.MinIPS == nil && c.MaxIPS == nil && c.Area == nil
}

// Matches reports whether e satisfies every criterion except Area
func (c FilterCriteria) Matches(e *models.Establishment) bool {
	if len(c.Types) > 0 && !slices.Contains(c.Types, e.Type) {
		return false
	}

	if len(c.Sectors) > 0 && !slices.ContainsFunc(c.Sectors, func(sector string) bool {
		return strings.EqualFold(strings.TrimSpace(sector), e.Sector)
	}) {
		return false
	}

	if region := strings.TrimSpace(c.Region); region != "" && !strings.EqualFold(region, e.Region) {
		return false
	}

	if department := strings.TrimSpace(c.Department); department != "" && !strings.EqualFold(department, e.Department) {
		return false
	}

	if c.MinIPS != nil && e.IPS < *c.MinIPS {
		return false
	}

	if c.MaxIPS != nil && e.IPS > *c.MaxIPS {
		return false
	}

	return true
}

// Filter derives the view of s selected by criteria, in canonical order.
// The session is left untouched and the returned slice is owned by the caller.
func Filter(s *Session, criteria FilterCriteria) []models.Establishment {
	if criteria.IsEmpty() {
		return s.Establishments()
	}

	var inArea map[*models.Establishment]bool
	if criteria.Area != nil {
		matches := s.index.Query(*criteria.Area)
		inArea = make(map[*models.Establishment]bool, len(matches))
		for _, e := range matches {
			inArea[e] = true
		}
	}

	view := make([]models.Establishment, 0, len(s.establishments)/2)
	for i := range s.establishments {
		e := &s.establishments[i]
		if inArea != nil && !inArea[e] {
			continue
		}
		if !criteria.Matches(e) {
			continue
		}
		view = append(view, *e)
	}

	return view
}

// Options lists the distinct values a map UI can offer as filters
type Options struct {
	Types       []models.EstablishmentType `json:"types"`
	Sectors     []string                   `json:"sectors"`
	Regions     []string                   `json:"regions"`
	Departments []string                   `json:"departments"`
	MinIPS      float64                    `json:"min_ips"`
	MaxIPS      float64                    `json:"max_ips"`
}

// FilterOptions returns the sorted distinct types, sectors, regions and
// departments present in the session, plus its IPS range
func FilterOptions(s *Session) Options {
	opts := Options{
		Types:       make([]models.EstablishmentType, 0, len(models.EstablishmentTypes)),
		Sectors:     make([]string, 0),
		Regions:     make([]string, 0),
		Departments: make([]string, 0),
	}

	present := make(map[models.EstablishmentType]bool)
	for i := range s.establishments {
		e := &s.establishments[i]
		present[e.Type] = true

		if e.Sector != "" {
			opts.Sectors = append(opts.Sectors, e.Sector)
		}
		if e.Region != "" {
			opts.Regions = append(opts.Regions, e.Region)
		}
		if e.Department != "" {
			opts.Departments = append(opts.Departments, e.Department)
		}

		if i == 0 || e.IPS < opts.MinIPS {
			opts.MinIPS = e.IPS
		}
		if i == 0 || e.IPS > opts.MaxIPS {
			opts.MaxIPS = e.IPS
		}
	}

	for _, t := range models.EstablishmentTypes {
		if present[t] {
			opts.Types = append(opts.Types, t)
		}
	}

	opts.Sectors = sortedDistinct(opts.Sectors)
	opts.Regions = sortedDistinct(opts.Regions)
	opts.Departments = sortedDistinct(opts.Departments)

	return opts
}

func sortedDistinct(values []string) []string {
	slices.Sort(values)
	return slices.Compact(values)
}
