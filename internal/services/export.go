package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/twpayne/go-geom/encoding/geojson"

	"ips-map/internal/models"
)

// BuildFeatureCollection renders a view as GeoJSON, one Point feature per
// establishment, with the marker style for zoom in its properties.
func BuildFeatureCollection(view []models.Establishment, zoom int) *geojson.FeatureCollection {
	features := make([]*geojson.Feature, 0, len(view))
	pointers := make([]*models.Establishment, 0, len(view))

	for i := range view {
		e := &view[i]
		pointers = append(pointers, e)
		features = append(features, &geojson.Feature{
			ID:         e.Identifier,
			Geometry:   e.ToGeomPoint(),
			Properties: featureProperties(e, zoom),
		})
	}

	fc := &geojson.FeatureCollection{Features: features}

	// An empty bounds holds infinities, which JSON cannot encode
	if index := models.NewSpatialIndex(pointers); !index.IsEmpty() {
		fc.BBox = index.Bounds()
	}

	return fc
}

func featureProperties(e *models.Establishment, zoom int) map[string]interface{} {
	properties := map[string]interface{}{
		"identifier":    e.Identifier,
		"type":          string(e.Type),
		"ips":           e.IPS,
		"display_name":  e.DisplayName,
		"sector":        e.Sector,
		"commune":       e.Commune,
		"department":    e.Department,
		"region":        e.Region,
		"student_count": e.StudentCount,
		"class_count":   e.ClassCount,
		"marker":        StyleFor(e, zoom),
	}
	if e.OfficialName != "" {
		properties["official_name"] = e.OfficialName
	}
	if e.ComparisonIPS != nil {
		properties["comparison_ips"] = e.ComparisonIPS
	}
	return properties
}

// TimestampedPath returns a fresh file name under dir, such as
// results/establishments_20240102_150405.json
func TimestampedPath(dir, prefix string) string {
	timestamp := time.Now().Format("20060102_150405")
	return filepath.Join(dir, fmt.Sprintf("%s_%s.json", prefix, timestamp))
}

// ErrMissingOutputPath is returned by WriteJSON when no path is given
var ErrMissingOutputPath = errors.New("missing output path")

// WriteJSON writes v as indented JSON to path, creating its directory.
// Callers wanting a dated file under their results directory pass
// TimestampedPath. The path written is returned.
func WriteJSON(path string, v any) (string, error) {
	if path == "" {
		return "", ErrMissingOutputPath
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("error creating results directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("error creating results file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return "", fmt.Errorf("error writing results to file: %w", err)
	}

	return path, nil
}
