package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"ips-map/internal/config"
)

// Sources holds the parsed rows of the five datasets
type Sources struct {
	Schools       []Row
	Colleges      []Row
	HighSchools   []Row
	Localizations []Row
	Enrollments   []Row
}

// LoadSources reads and parses every configured source. Files are read
// concurrently; the first failure cancels the others.
func LoadSources(ctx context.Context, cfg *config.Config) (*Sources, error) {
	sources := &Sources{}
	targets := map[string]*[]Row{
		"ips_schools":      &sources.Schools,
		"ips_colleges":     &sources.Colleges,
		"ips_high_schools": &sources.HighSchools,
		"localizations":    &sources.Localizations,
		"enrollments":      &sources.Enrollments,
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, entry := range cfg.Sources.Entries() {
		target := targets[entry.Name]
		g.Go(func() error {
			rows, err := loadSource(ctx, cfg, entry)
			if err != nil {
				return err
			}
			*target = rows
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return sources, nil
}

func loadSource(ctx context.Context, cfg *config.Config, entry config.NamedSource) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := cfg.GetDataFilePath(entry.Source.File)
	format, err := config.Format(path)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", entry.Name, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("source %s: error opening file: %w", entry.Name, err)
	}

	rows, err := ParseRows(data, format, entry.Source.Comma())
	if err != nil {
		return nil, fmt.Errorf("source %s (%s): %w", entry.Name, path, err)
	}

	log.Printf("Loaded %d rows from %s", len(rows), path)
	return rows, nil
}

// LoadSession loads every source, reconciles them and returns a fresh session.
// Calling it again is how data gets reloaded.
func LoadSession(ctx context.Context, cfg *config.Config) (*Session, error) {
	startTime := time.Now()

	sources, err := LoadSources(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("error loading sources: %w", err)
	}

	establishments, report := ReconcileWithReport(
		sources.Schools,
		sources.Colleges,
		sources.HighSchools,
		sources.Localizations,
		sources.Enrollments,
	)

	log.Printf("Reconciled %d establishments (%d rows dropped) in %v", report.Kept(), report.Dropped(), time.Since(startTime))

	return NewSession(establishments, report), nil
}
