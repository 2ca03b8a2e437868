package services

import (
	"math"

	"golang.org/x/exp/slices"

	"ips-map/internal/models"
)

// GroupStatistics aggregates the IPS of a group of establishments
type GroupStatistics struct {
	Key           string  `json:"key"`
	Count         int     `json:"count"`
	AverageIPS    float64 `json:"average_ips"`
	MinIPS        float64 `json:"min_ips"`
	MaxIPS        float64 `json:"max_ips"`
	TotalStudents int     `json:"total_students"`
	sum           float64
}

func (g *GroupStatistics) add(e *models.Establishment) {
	if g.Count == 0 || e.IPS < g.MinIPS {
		g.MinIPS = e.IPS
	}
	if g.Count == 0 || e.IPS > g.MaxIPS {
		g.MaxIPS = e.IPS
	}
	g.Count++
	g.sum += e.IPS
	if e.StudentCount != nil {
		g.TotalStudents += *e.StudentCount
	}
}

func (g *GroupStatistics) finish() {
	if g.Count > 0 {
		g.AverageIPS = math.Round(g.sum/float64(g.Count)*10) / 10
	}
}

// Statistics summarizes a view of establishments
type Statistics struct {
	Overall      GroupStatistics   `json:"overall"`
	ByType       []GroupStatistics `json:"by_type"`
	BySector     []GroupStatistics `json:"by_sector"`
	ByDepartment []GroupStatistics `json:"by_department"`
}

// ComputeStatistics aggregates establishments overall and per type, sector and
// department. Groups are sorted by key, types follow reconciliation order.
func ComputeStatistics(establishments []models.Establishment) Statistics {
	stats := Statistics{Overall: GroupStatistics{Key: "all"}}

	byType := make(map[string]*GroupStatistics)
	bySector := make(map[string]*GroupStatistics)
	byDepartment := make(map[string]*GroupStatistics)

	for i := range establishments {
		e := &establishments[i]
		stats.Overall.add(e)
		group(byType, string(e.Type)).add(e)
		group(bySector, e.Sector).add(e)
		if e.Department != "" {
			group(byDepartment, e.Department).add(e)
		}
	}
	stats.Overall.finish()

	for _, t := range models.EstablishmentTypes {
		if g, ok := byType[string(t)]; ok {
			g.finish()
			stats.ByType = append(stats.ByType, *g)
		}
	}
	stats.BySector = sortedGroups(bySector)
	stats.ByDepartment = sortedGroups(byDepartment)

	return stats
}

func group(groups map[string]*GroupStatistics, key string) *GroupStatistics {
	g, ok := groups[key]
	if !ok {
		g = &GroupStatistics{Key: key}
		groups[key] = g
	}
	return g
}

func sortedGroups(groups map[string]*GroupStatistics) []GroupStatistics {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	result := make([]GroupStatistics, 0, len(keys))
	for _, k := range keys {
		g := groups[k]
		g.finish()
		result = append(result, *g)
	}
	return result
}
