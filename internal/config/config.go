package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Source formats understood by the loader.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Configuration errors.
var (
	ErrMissingSourceFile  = errors.New("source file name is required")
	ErrInvalidDelimiter   = errors.New("csv delimiter must be a single character")
	ErrUnsupportedFormat  = errors.New("unsupported source format, expected .json or .csv")
	ErrUnsupportedConfig  = errors.New("unsupported config file extension, expected .json, .yaml or .yml")
	ErrMissingDataDir     = errors.New("data_dir is required")
	ErrInvalidDefaultZoom = errors.New("default_zoom must be between 0 and 22")
)

// SourceConfig describes one raw dataset on disk.
type SourceConfig struct {
	File      string `json:"file" yaml:"file"`
	Delimiter string `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
}

// Comma returns the CSV field delimiter, ',' when unset.
func (s SourceConfig) Comma() rune {
	if s.Delimiter == "" {
		return ','
	}
	r, _ := utf8.DecodeRuneInString(s.Delimiter)
	return r
}

// NamedSource pairs a source with its configuration key.
type NamedSource struct {
	Name   string
	Source SourceConfig
}

// SourcesConfig lists the five datasets joined into the establishment collection.
type SourcesConfig struct {
	IPSSchools     SourceConfig `json:"ips_schools" yaml:"ips_schools"`
	IPSColleges    SourceConfig `json:"ips_colleges" yaml:"ips_colleges"`
	IPSHighSchools SourceConfig `json:"ips_high_schools" yaml:"ips_high_schools"`
	Localizations  SourceConfig `json:"localizations" yaml:"localizations"`
	Enrollments    SourceConfig `json:"enrollments" yaml:"enrollments"`
}

// Entries returns the sources in a fixed order.
func (s SourcesConfig) Entries() []NamedSource {
	return []NamedSource{
		{Name: "ips_schools", Source: s.IPSSchools},
		{Name: "ips_colleges", Source: s.IPSColleges},
		{Name: "ips_high_schools", Source: s.IPSHighSchools},
		{Name: "localizations", Source: s.Localizations},
		{Name: "enrollments", Source: s.Enrollments},
	}
}

// Config is the complete pipeline configuration.
type Config struct {
	DataDir     string        `json:"data_dir" yaml:"data_dir"`
	ResultsDir  string        `json:"results_dir" yaml:"results_dir"`
	DefaultZoom int           `json:"default_zoom" yaml:"default_zoom"`
	Sources     SourcesConfig `json:"sources" yaml:"sources"`
}

// Default returns the configuration used when no file overrides it.
// DATA_DIR from the environment (or a .env file) sets the data directory.
func Default() *Config {
	dataDir := filepath.Join(".", "data")
	if envDataDir := os.Getenv("DATA_DIR"); envDataDir != "" {
		dataDir = envDataDir
	}

	return &Config{
		DataDir:     dataDir,
		ResultsDir:  "results",
		DefaultZoom: 6,
		Sources: SourcesConfig{
			IPSSchools:     SourceConfig{File: "fr-en-ips-ecoles.json"},
			IPSColleges:    SourceConfig{File: "fr-en-ips-colleges.json"},
			IPSHighSchools: SourceConfig{File: "fr-en-ips-lycees.json"},
			Localizations:  SourceConfig{File: "fr-en-adresse-et-geolocalisation-etablissements.json"},
			Enrollments:    SourceConfig{File: "fr-en-ecoles-effectifs.json"},
		},
	}
}

// Load builds the configuration: .env first, then defaults, then the
// config file at path if it exists.
func Load(path string) (*Config, error) {
	// a missing .env is the normal case
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := cfg.decode(path, data); err != nil {
				return nil, err
			}
		}
	}

	// the environment wins over the file
	if envDataDir := os.Getenv("DATA_DIR"); envDataDir != "" {
		cfg.DataDir = envDataDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) decode(path string, data []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedConfig, path)
	}
	return nil
}

// Validate checks file names, delimiters and formats of every source.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return ErrMissingDataDir
	}

	if c.DefaultZoom < 0 || c.DefaultZoom > 22 {
		return ErrInvalidDefaultZoom
	}

	for _, entry := range c.Sources.Entries() {
		if entry.Source.File == "" {
			return fmt.Errorf("%w: sources.%s", ErrMissingSourceFile, entry.Name)
		}
		if entry.Source.Delimiter != "" && utf8.RuneCountInString(entry.Source.Delimiter) != 1 {
			return fmt.Errorf("%w: sources.%s", ErrInvalidDelimiter, entry.Name)
		}
		if _, err := Format(entry.Source.File); err != nil {
			return fmt.Errorf("sources.%s: %w", entry.Name, err)
		}
	}

	return nil
}

// GetDataFilePath returns the path of a data file; absolute names are kept as is.
func (c *Config) GetDataFilePath(filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}
	return filepath.Join(c.DataDir, filename)
}

// Format returns the source format implied by the file extension.
func Format(filename string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return FormatJSON, nil
	case ".csv":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
}
