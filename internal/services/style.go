package services

import (
	"math"

	"ips-map/internal/models"
)

// Marker sizing bounds, in pixels and map zoom levels
const (
	markerSizeMin = 8
	markerSizeMax = 18
	zoomMin       = 5
	zoomMax       = 18
)

// ipsBands maps upper IPS bounds to marker colors, from most to least disadvantaged
var ipsBands = []struct {
	upTo  float64
	color string
}{
	{80, "#d73027"},
	{90, "#fc8d59"},
	{100, "#fee08b"},
	{110, "#d9ef8b"},
	{120, "#91cf60"},
}

const ipsTopColor = "#1a9850"

// MarkerStyle is everything a renderer needs to draw one establishment
type MarkerStyle struct {
	Color string `json:"color"`
	Shape string `json:"shape"`
	Size  int    `json:"size"`
}

// ColorByIPS returns the marker color for an IPS score
func ColorByIPS(ips float64) string {
	for _, band := range ipsBands {
		if ips < band.upTo {
			return band.color
		}
	}
	return ipsTopColor
}

// ShapeByType returns the marker shape for an establishment type
func ShapeByType(t models.EstablishmentType) string {
	switch t {
	case models.TypeCollege:
		return "square"
	case models.TypeHighSchool:
		return "diamond"
	default:
		return "circle"
	}
}

// MarkerSize grows linearly from markerSizeMin at zoomMin to markerSizeMax at
// zoomMax and keeps growing past zoomMax. Below zoomMin it stays at markerSizeMin.
func MarkerSize(zoom int) int {
	size := float64(markerSizeMin)
	if zoom > zoomMin {
		size = markerSizeMin + float64(zoom-zoomMin)/(zoomMax-zoomMin)*(markerSizeMax-markerSizeMin)
	}
	return int(math.Round(size))
}

// StyleFor derives the marker style from the canonical record
func StyleFor(e *models.Establishment, zoom int) MarkerStyle {
	return MarkerStyle{
		Color: ColorByIPS(e.IPS),
		Shape: ShapeByType(e.Type),
		Size:  MarkerSize(zoom),
	}
}
