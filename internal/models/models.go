package models

import (
	"math"
	"strings"

	geom2 "github.com/peterstace/simplefeatures/geom"
	"github.com/twpayne/go-geom"
)

// EstablishmentType is the kind of establishment an IPS record belongs to
type EstablishmentType string

const (
	TypeSchool     EstablishmentType = "school"
	TypeCollege    EstablishmentType = "college"
	TypeHighSchool EstablishmentType = "high-school"
)

// EstablishmentTypes lists the known types in reconciliation order
var EstablishmentTypes = []EstablishmentType{TypeSchool, TypeCollege, TypeHighSchool}

// Valid reports whether t is one of the known types
func (t EstablishmentType) Valid() bool {
	switch t {
	case TypeSchool, TypeCollege, TypeHighSchool:
		return true
	}
	return false
}

// ParseEstablishmentType accepts the English names and the French labels used by the viewer
func ParseEstablishmentType(s string) (EstablishmentType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "school", "ecole", "école":
		return TypeSchool, true
	case "college", "collège":
		return TypeCollege, true
	case "high-school", "highschool", "lycee", "lycée":
		return TypeHighSchool, true
	}
	return "", false
}

// Point represents a geographical point with latitude and longitude
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ToGeomPoint converts our Point to a go-geom Point
func (p Point) ToGeomPoint() *geom.Point {
	return geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{p.Lng, p.Lat})
}

// Localization is one row of the geolocation source
type Localization struct {
	Identifier   string
	Latitude     *float64
	Longitude    *float64
	OfficialName string
	Denomination string
	Sector       string
	Commune      string
	Department   string
	Region       string
}

// HasCoordinates reports whether both coordinates are present
func (l *Localization) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// Enrollment is one row of the effectifs source
type Enrollment struct {
	Identifier   string
	StudentCount *int
	ClassCount   *int
}

// ComparisonIPS holds the reference IPS values published next to an establishment's own score
type ComparisonIPS struct {
	Commune    *float64 `json:"commune,omitempty"`
	Department *float64 `json:"department,omitempty"`
	Academy    *float64 `json:"academy,omitempty"`
	National   *float64 `json:"national,omitempty"`
}

// IsEmpty reports whether no comparison value is set
func (c ComparisonIPS) IsEmpty() bool {
	return c.Commune == nil && c.Department == nil && c.Academy == nil && c.National == nil
}

// Establishment is the reconciled record consumed by filtering and display.
// IPS, Latitude and Longitude are always finite.
type Establishment struct {
	Identifier    string            `json:"identifier"`
	Type          EstablishmentType `json:"type"`
	IPS           float64           `json:"ips"`
	Latitude      float64           `json:"latitude"`
	Longitude     float64           `json:"longitude"`
	DisplayName   string            `json:"display_name"`
	OfficialName  string            `json:"official_name,omitempty"`
	Sector        string            `json:"sector"`
	Commune       string            `json:"commune"`
	Department    string            `json:"department"`
	Region        string            `json:"region"`
	StudentCount  *int              `json:"student_count"`
	ClassCount    *int              `json:"class_count"`
	ComparisonIPS *ComparisonIPS    `json:"comparison_ips,omitempty"`
}

// Location returns the establishment position
func (e *Establishment) Location() Point {
	return Point{Lat: e.Latitude, Lng: e.Longitude}
}

// ToGeomPoint converts the establishment location to a go-geom Point
func (e *Establishment) ToGeomPoint() *geom.Point {
	return e.Location().ToGeomPoint()
}

// SpatialIndex answers point-in-polygon queries over a fixed set of establishments
type SpatialIndex struct {
	establishments []*Establishment
	bounds         *geom.Bounds
}

// NewSpatialIndex creates a new spatial index from a list of establishments
func NewSpatialIndex(establishments []*Establishment) *SpatialIndex {
	if len(establishments) == 0 {
		return &SpatialIndex{
			establishments: make([]*Establishment, 0),
			bounds:         geom.NewBounds(geom.XY),
		}
	}

	bounds := geom.NewBounds(geom.XY)
	minX, minY := math.MaxFloat64, math.MaxFloat64
	maxX, maxY := -math.MaxFloat64, -math.MaxFloat64

	// Calculate bounds in a single pass
	for _, e := range establishments {
		if e.Longitude < minX {
			minX = e.Longitude
		}
		if e.Longitude > maxX {
			maxX = e.Longitude
		}
		if e.Latitude < minY {
			minY = e.Latitude
		}
		if e.Latitude > maxY {
			maxY = e.Latitude
		}
	}

	bounds.Set(minX, minY, maxX, maxY)

	return &SpatialIndex{
		establishments: establishments,
		bounds:         bounds,
	}
}

// Len returns the number of indexed establishments
func (s *SpatialIndex) Len() int {
	return len(s.establishments)
}

// Bounds returns a copy of the lon/lat extent of the index. It is empty
// when the index holds no establishment.
func (s *SpatialIndex) Bounds() *geom.Bounds {
	return s.bounds.Clone()
}

// IsEmpty reports whether the index holds no establishment
func (s *SpatialIndex) IsEmpty() bool {
	return len(s.establishments) == 0
}

// Query returns all establishments that are within the given geometry, in index order
func (s *SpatialIndex) Query(geometry geom2.Geometry) []*Establishment {
	if len(s.establishments) == 0 || geometry.IsEmpty() {
		return nil
	}

	results := make([]*Establishment, 0, len(s.establishments)/4)

	for _, e := range s.establishments {
		point := geom2.XY{X: e.Longitude, Y: e.Latitude}.AsPoint().AsGeometry()
		contains, err := geom2.Contains(geometry, point)
		if err != nil {
			continue
		}
		if contains {
			results = append(results, e)
		}
	}

	return results
}
