package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"ips-map/internal/config"
	"ips-map/internal/models"
	"ips-map/internal/services"
)

const (
	AppVersion = "1.0.0"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to JSON or YAML configuration file")
	out := flag.String("out", "", "GeoJSON output file (default: timestamped file under the results directory)")
	statsOut := flag.String("stats-out", "", "Write IPS statistics of the view to this file")
	optionsOut := flag.String("options", "", "Write the available filter values to this file")
	types := flag.String("types", "", "Comma-separated establishment types (school, college, high-school)")
	sectors := flag.String("sectors", "", "Comma-separated sectors, e.g. Public,Privé")
	region := flag.String("region", "", "Keep only this region")
	department := flag.String("department", "", "Keep only this department")
	minIPS := flag.String("min-ips", "", "Minimum IPS, inclusive")
	maxIPS := flag.String("max-ips", "", "Maximum IPS, inclusive")
	areaFile := flag.String("area", "", "GeoJSON polygon file restricting the view")
	zoom := flag.Int("zoom", -1, "Map zoom used for marker sizes (default from configuration)")
	flag.Parse()

	log.Printf("Starting IPS map v%s", AppVersion)

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	log.Printf("Using data directory: %s", cfg.DataDir)

	criteria, err := buildCriteria(*types, *sectors, *region, *department, *minIPS, *maxIPS, *areaFile)
	if err != nil {
		log.Fatalf("Invalid filter: %v", err)
	}

	session, err := services.LoadSession(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Error loading data: %v", err)
	}

	log.Printf("Session loaded at %s with %d establishments", session.LoadedAt().Format(time.RFC3339), session.Len())

	report := session.Report()
	for _, t := range models.EstablishmentTypes {
		if tr, ok := report.ByType[t]; ok {
			log.Printf("%s: %d read, %d kept, %d without enrollment, dropped %v", t, tr.Read, tr.Kept, tr.WithoutEnrollment, tr.Dropped)
		}
	}

	view := services.Filter(session, criteria)
	log.Printf("Filter kept %d of %d establishments", len(view), session.Len())

	if *zoom < 0 {
		*zoom = cfg.DefaultZoom
	}

	outPath := *out
	if outPath == "" {
		outPath = services.TimestampedPath(cfg.ResultsDir, "establishments")
	}
	written, err := services.WriteJSON(outPath, services.BuildFeatureCollection(view, *zoom))
	if err != nil {
		log.Fatalf("Error writing GeoJSON: %v", err)
	}
	log.Printf("GeoJSON written to %s", written)

	if *statsOut != "" {
		if _, err := services.WriteJSON(*statsOut, services.ComputeStatistics(view)); err != nil {
			log.Fatalf("Error writing statistics: %v", err)
		}
		log.Printf("Statistics written to %s", *statsOut)
	}

	if *optionsOut != "" {
		if _, err := services.WriteJSON(*optionsOut, services.FilterOptions(session)); err != nil {
			log.Fatalf("Error writing filter options: %v", err)
		}
		log.Printf("Filter options written to %s", *optionsOut)
	}
}

func buildCriteria(types, sectors, region, department, minIPS, maxIPS, areaFile string) (services.FilterCriteria, error) {
	criteria := services.FilterCriteria{
		Sectors:    splitList(sectors),
		Region:     region,
		Department: department,
	}

	for _, name := range splitList(types) {
		t, ok := models.ParseEstablishmentType(name)
		if !ok {
			return criteria, fmt.Errorf("unknown establishment type %q", name)
		}
		criteria.Types = append(criteria.Types, t)
	}

	var err error
	if criteria.MinIPS, err = parseBound(minIPS); err != nil {
		return criteria, fmt.Errorf("min-ips: %w", err)
	}
	if criteria.MaxIPS, err = parseBound(maxIPS); err != nil {
		return criteria, fmt.Errorf("max-ips: %w", err)
	}
	if criteria.MinIPS != nil && criteria.MaxIPS != nil && *criteria.MinIPS > *criteria.MaxIPS {
		return criteria, fmt.Errorf("min-ips %v is greater than max-ips %v", *criteria.MinIPS, *criteria.MaxIPS)
	}

	if areaFile != "" {
		data, err := os.ReadFile(areaFile)
		if err != nil {
			return criteria, fmt.Errorf("error reading area file: %w", err)
		}
		area, err := services.ParseArea(data)
		if err != nil {
			return criteria, fmt.Errorf("area %s: %w", areaFile, err)
		}
		criteria.Area = &area
	}

	return criteria, nil
}

func splitList(s string) []string {
	var values []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}

func parseBound(s string) (*float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
