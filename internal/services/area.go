package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"

	geom2 "github.com/peterstace/simplefeatures/geom"
)

// Area parsing errors
var (
	ErrUnsupportedGeoJSON = errors.New("unsupported GeoJSON type, expected Polygon, MultiPolygon, Feature or FeatureCollection")
	ErrEmptyPolygon       = errors.New("empty polygon coordinates")
)

// Constants for polygon complexity thresholds
const (
	// Maximum number of points before simplification is considered
	maxPoints = 700
	// Minimum number of points to consider for simplification
	minPoints = 400
	// Base percentage of bounding box diagonal for epsilon
	baseEpsilonPercent = 0.1
)

type xy struct {
	X float64
	Y float64
}

type geoJSONObject struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
	Geometry    *geoJSONObject  `json:"geometry"`
	Features    []geoJSONObject `json:"features"`
}

// ParseArea turns a GeoJSON Polygon or MultiPolygon, bare or wrapped in a
// Feature or FeatureCollection, into a geometry usable as an area filter.
// Only the outer ring of each polygon is kept.
func ParseArea(data []byte) (geom2.Geometry, error) {
	var obj geoJSONObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return geom2.Geometry{}, fmt.Errorf("error parsing GeoJSON: %w", err)
	}

	switch obj.Type {
	case "FeatureCollection":
		if len(obj.Features) == 0 || obj.Features[0].Geometry == nil {
			return geom2.Geometry{}, fmt.Errorf("%w: feature collection has no geometry", ErrEmptyPolygon)
		}
		return geometryFromObject(*obj.Features[0].Geometry)
	case "Feature":
		if obj.Geometry == nil {
			return geom2.Geometry{}, fmt.Errorf("%w: feature has no geometry", ErrEmptyPolygon)
		}
		return geometryFromObject(*obj.Geometry)
	default:
		return geometryFromObject(obj)
	}
}

func geometryFromObject(obj geoJSONObject) (geom2.Geometry, error) {
	switch obj.Type {
	case "Polygon":
		var coordinates [][][]float64
		if err := json.Unmarshal(obj.Coordinates, &coordinates); err != nil {
			return geom2.Geometry{}, fmt.Errorf("error parsing polygon coordinates: %w", err)
		}
		polygon, err := polygonFromRing(coordinates)
		if err != nil {
			return geom2.Geometry{}, err
		}
		return polygon.AsGeometry(), nil

	case "MultiPolygon":
		var coordinates [][][][]float64
		if err := json.Unmarshal(obj.Coordinates, &coordinates); err != nil {
			return geom2.Geometry{}, fmt.Errorf("error parsing multipolygon coordinates: %w", err)
		}
		polygons := make([]geom2.Polygon, 0, len(coordinates))
		for _, rings := range coordinates {
			polygon, err := polygonFromRing(rings)
			if err != nil {
				return geom2.Geometry{}, err
			}
			polygons = append(polygons, polygon)
		}
		if len(polygons) == 0 {
			return geom2.Geometry{}, ErrEmptyPolygon
		}
		return geom2.NewMultiPolygon(polygons).AsGeometry(), nil
	}

	return geom2.Geometry{}, fmt.Errorf("%w: %q", ErrUnsupportedGeoJSON, obj.Type)
}

func polygonFromRing(rings [][][]float64) (geom2.Polygon, error) {
	if len(rings) == 0 || len(rings[0]) < 4 {
		return geom2.Polygon{}, ErrEmptyPolygon
	}

	points := make([]xy, 0, len(rings[0]))
	for _, coord := range rings[0] {
		if len(coord) < 2 {
			return geom2.Polygon{}, fmt.Errorf("invalid coordinate %v", coord)
		}
		points = append(points, xy{X: coord[0], Y: coord[1]})
	}
	points = simplifyRing(points)

	flatCoords := make([]float64, len(points)*2)
	for i, p := range points {
		flatCoords[i*2] = p.X
		flatCoords[i*2+1] = p.Y
	}

	lineString := geom2.NewLineString(geom2.NewSequence(flatCoords, geom2.DimXY))
	if lineString.IsEmpty() {
		return geom2.Polygon{}, fmt.Errorf("error creating line string")
	}

	polygon := geom2.NewPolygon([]geom2.LineString{lineString})
	if polygon.IsEmpty() {
		return geom2.Polygon{}, fmt.Errorf("error creating polygon")
	}
	return polygon, nil
}

// simplifyRing reduces a dense outer ring with Ramer-Douglas-Peucker, keeping it closed
func simplifyRing(points []xy) []xy {
	needsSimplification, epsilon := polygonComplexity(points)
	if !needsSimplification {
		return points
	}

	simplified := simplifyPolygon(points, epsilon)
	if len(simplified) < 4 {
		return points
	}

	log.Printf("Area polygon simplified from %d to %d points (epsilon: %f)", len(points), len(simplified), epsilon)
	return simplified
}

// polygonArea calculates the area of a polygon using the shoelace formula
func polygonArea(points []xy) float64 {
	area := 0.0
	j := len(points) - 1
	for i := 0; i < len(points); i++ {
		area += (points[j].X + points[i].X) * (points[j].Y - points[i].Y)
		j = i
	}
	return math.Abs(area) / 2
}

// boundingBoxDiagonal calculates the diagonal length of the polygon's bounding box
func boundingBoxDiagonal(points []xy) float64 {
	if len(points) == 0 {
		return 0
	}

	minX, minY := points[0].X, points[0].Y
	maxX, maxY := points[0].X, points[0].Y

	for _, p := range points {
		minX = math.Min(minX, p.X)
		maxX = math.Max(maxX, p.X)
		minY = math.Min(minY, p.Y)
		maxY = math.Max(maxY, p.Y)
	}

	dx := maxX - minX
	dy := maxY - minY
	return math.Sqrt(dx*dx + dy*dy)
}

// polygonComplexity determines if a polygon needs simplification and returns an appropriate epsilon value
func polygonComplexity(points []xy) (bool, float64) {
	numPoints := len(points)
	if numPoints < minPoints {
		return false, 0
	}

	area := polygonArea(points)
	if area == 0 {
		return false, 0
	}

	pointsPerArea := float64(numPoints) / area
	if numPoints <= maxPoints && pointsPerArea <= 700 {
		return false, 0
	}

	diagonal := boundingBoxDiagonal(points)
	baseEpsilon := diagonal * baseEpsilonPercent / 100.0

	// More points = larger epsilon, capped at 1% of the diagonal
	epsilon := baseEpsilon * math.Pow(float64(numPoints)/float64(minPoints), 0.55)
	if maxEpsilon := diagonal * 0.01; epsilon > maxEpsilon {
		epsilon = maxEpsilon
	}

	return true, epsilon
}

// perpendicularDistance calculates the perpendicular distance from a point to a line segment
func perpendicularDistance(point, lineStart, lineEnd xy) float64 {
	if lineStart.X == lineEnd.X && lineStart.Y == lineEnd.Y {
		return math.Hypot(point.X-lineStart.X, point.Y-lineStart.Y)
	}

	area := math.Abs((lineEnd.Y-lineStart.Y)*point.X - (lineEnd.X-lineStart.X)*point.Y + lineEnd.X*lineStart.Y - lineEnd.Y*lineStart.X)
	lineLength := math.Hypot(lineEnd.X-lineStart.X, lineEnd.Y-lineStart.Y)

	return area / lineLength
}

// simplifyPolygon applies the Ramer-Douglas-Peucker algorithm
func simplifyPolygon(points []xy, epsilon float64) []xy {
	if len(points) <= 2 {
		return points
	}

	maxDistance := 0.0
	maxIndex := 0

	for i := 1; i < len(points)-1; i++ {
		distance := perpendicularDistance(points[i], points[0], points[len(points)-1])
		if distance > maxDistance {
			maxDistance = distance
			maxIndex = i
		}
	}

	if maxDistance > epsilon {
		firstLine := simplifyPolygon(points[:maxIndex+1], epsilon)
		secondLine := simplifyPolygon(points[maxIndex:], epsilon)

		result := make([]xy, 0, len(firstLine)+len(secondLine)-1)
		result = append(result, firstLine[:len(firstLine)-1]...)
		return append(result, secondLine...)
	}

	return []xy{points[0], points[len(points)-1]}
}
