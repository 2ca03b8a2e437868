package services

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"ips-map/internal/config"
	"ips-map/internal/models"
)

// Source parsing errors. Any of them makes the whole source unusable.
var (
	ErrNotRowArray      = errors.New("source is not a JSON array of objects")
	ErrMissingCSVHeader = errors.New("csv source has no header row")
	ErrUnknownFormat    = errors.New("unknown source format")
)

const utf8BOM = "\ufeff"

// Row is one raw source record, field name to value. Values are strings for
// CSV sources and decoded JSON values (json.Number for numbers) otherwise.
type Row map[string]any

// First returns the first value among candidates that is present and not
// blank, in candidate order.
func (r Row) First(candidates ...string) (any, bool) {
	for _, name := range candidates {
		v, ok := r[name]
		if !ok || v == nil {
			continue
		}
		if StringValue(v) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

// Text returns the first non-blank candidate as a trimmed string.
func (r Row) Text(candidates ...string) string {
	v, _ := r.First(candidates...)
	return StringValue(v)
}

// Float returns the first non-blank candidate parsed as a finite number.
func (r Row) Float(candidates ...string) *float64 {
	v, ok := r.First(candidates...)
	if !ok {
		return nil
	}
	f, ok := FloatValue(v)
	if !ok {
		return nil
	}
	return &f
}

// Int returns the first non-blank candidate parsed as an integer.
func (r Row) Int(candidates ...string) *int {
	v, ok := r.First(candidates...)
	if !ok {
		return nil
	}
	n, ok := IntValue(v)
	if !ok {
		return nil
	}
	return &n
}

// LocalizationFieldSet declares the candidate field names of the geolocation source.
type LocalizationFieldSet struct {
	Identifier   []string
	Latitude     []string
	Longitude    []string
	OfficialName []string
	Denomination []string
	Sector       []string
	Commune      []string
	Department   []string
	Region       []string
}

// EnrollmentFieldSet declares the candidate field names of the effectifs source.
type EnrollmentFieldSet struct {
	Identifier   []string
	StudentCount []string
	ClassCount   []string
}

// IPSFieldSet declares the candidate field names of one IPS source.
type IPSFieldSet struct {
	Identifier    []string
	IPS           []string
	Denomination  []string
	Commune       []string
	Department    []string
	Region        []string
	CommuneIPS    []string
	DepartmentIPS []string
	AcademyIPS    []string
	NationalIPS   []string
}

// Field precedence lists. Order matters: the first non-blank field wins.
var (
	LocalizationFields = LocalizationFieldSet{
		Identifier:   []string{"numero_uai", "uai"},
		Latitude:     []string{"latitude"},
		Longitude:    []string{"longitude"},
		OfficialName: []string{"appellation_officielle"},
		Denomination: []string{"denomination_principale"},
		Sector:       []string{"secteur_public_prive_libe", "secteur"},
		Commune:      []string{"libelle_commune", "nom_de_la_commune"},
		Department:   []string{"libelle_departement"},
		Region:       []string{"libelle_region", "code_region"},
	}

	EnrollmentFields = EnrollmentFieldSet{
		Identifier:   []string{"numero_ecole", "numero_uai", "uai"},
		StudentCount: []string{"nombre_total_eleves"},
		ClassCount:   []string{"nombre_total_classes"},
	}

	// "nom_de_l_etablissment" is misspelled in one published vintage
	baseIPSFields = IPSFieldSet{
		Identifier:    []string{"uai", "numero_uai"},
		IPS:           []string{"ips"},
		Denomination:  []string{"denomination_principale", "nom_de_l_etablissement", "nom_de_l_etablissment"},
		Commune:       []string{"nom_de_la_commune"},
		Department:    []string{"departement"},
		Region:        []string{"region_academique"},
		CommuneIPS:    []string{"ips_commune"},
		DepartmentIPS: []string{"ips_departement", "ips_departemental"},
		AcademyIPS:    []string{"ips_academie", "ips_academique"},
		NationalIPS:   []string{"ips_national", "ips_france"},
	}
)

// IPSFields returns the candidate field names for an establishment type.
func IPSFields(t models.EstablishmentType) IPSFieldSet {
	fields := baseIPSFields
	if t == models.TypeHighSchool {
		fields.IPS = []string{"ips_etab", "ips_ensemble_gt_pro"}
	}
	return fields
}

// ResolveIdentifier returns the first non-blank identifier among candidates,
// or "" when the row has none.
func ResolveIdentifier(row Row, candidates []string) string {
	return row.Text(candidates...)
}

// NormalizeKey is the join key form used on both sides of every lookup.
func NormalizeKey(identifier string) string {
	return strings.ToUpper(strings.TrimSpace(identifier))
}

// StringValue renders a raw value as a trimmed string; nil is "".
func StringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// FloatValue parses a raw value as a finite number. nil, blank strings,
// non-numeric text such as "NC", NaN and infinities are rejected.
func FloatValue(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		parsed, err := strconv.ParseFloat(val.String(), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(val)
		if s == "" || isHexLiteral(s) {
			return 0, false
		}
		// decimal comma, as in "102,5"
		if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
			s = strings.Replace(s, ",", ".", 1)
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func isHexLiteral(s string) bool {
	s = strings.TrimLeft(s, "+-")
	return strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")
}

// hasThousandsSeparator reports whether s ends in a comma followed by
// exactly three digits, as in "1,234".
func hasThousandsSeparator(s string) bool {
	i := strings.LastIndexByte(s, ',')
	if i < 0 || len(s)-i-1 != 3 {
		return false
	}
	for _, c := range s[i+1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// IntValue parses a raw value as an integer, rounding numeric values.
// Thousands-separated strings such as "1,234" are rejected rather than
// read as decimals.
func IntValue(v any) (int, bool) {
	if s, ok := v.(string); ok && hasThousandsSeparator(strings.TrimSpace(s)) {
		return 0, false
	}
	f, ok := FloatValue(v)
	if !ok || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(math.Round(f)), true
}

// NewLocalization maps a raw geolocation row.
func NewLocalization(row Row) models.Localization {
	f := LocalizationFields
	return models.Localization{
		Identifier:   ResolveIdentifier(row, f.Identifier),
		Latitude:     row.Float(f.Latitude...),
		Longitude:    row.Float(f.Longitude...),
		OfficialName: row.Text(f.OfficialName...),
		Denomination: row.Text(f.Denomination...),
		Sector:       row.Text(f.Sector...),
		Commune:      row.Text(f.Commune...),
		Department:   row.Text(f.Department...),
		Region:       row.Text(f.Region...),
	}
}

// NewEnrollment maps a raw effectifs row.
func NewEnrollment(row Row) models.Enrollment {
	f := EnrollmentFields
	return models.Enrollment{
		Identifier:   ResolveIdentifier(row, f.Identifier),
		StudentCount: row.Int(f.StudentCount...),
		ClassCount:   row.Int(f.ClassCount...),
	}
}

// ParseRows parses raw source bytes in the given format.
func ParseRows(data []byte, format string, comma rune) ([]Row, error) {
	switch format {
	case config.FormatJSON:
		return ParseJSONRows(data)
	case config.FormatCSV:
		return ParseCSVRows(data, comma)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// ParseJSONRows decodes a JSON array of objects. Numbers are kept as json.Number.
func ParseJSONRows(data []byte) ([]Row, error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(data, []byte(utf8BOM)))
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrNotRowArray
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var rows []Row
	if err := decoder.Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRowArray, err)
	}

	return rows, nil
}

// ParseCSVRows reads a CSV document whose first row is the header.
// Every line is one record: quoted fields may hold the delimiter but never a
// line break, so an unbalanced quote only affects its own line.
// Header names and values are trimmed; missing trailing fields stay absent.
func ParseCSVRows(data []byte, comma rune) ([]Row, error) {
	lines := strings.Split(strings.TrimPrefix(string(data), utf8BOM), "\n")

	var names []string
	rows := make([]Row, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		record, err := parseCSVLine(line, comma)
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				if names == nil {
					return nil, fmt.Errorf("error reading CSV header: %w", err)
				}
				continue
			}
			return nil, fmt.Errorf("error reading CSV record: %w", err)
		}

		if names == nil {
			names = make([]string, len(record))
			for i, h := range record {
				names[i] = strings.TrimSpace(h)
			}
			continue
		}

		row := make(Row, len(names))
		for i, name := range names {
			if i >= len(record) {
				break
			}
			row[name] = strings.TrimSpace(record[i])
		}
		rows = append(rows, row)
	}

	if names == nil {
		return nil, ErrMissingCSVHeader
	}

	return rows, nil
}

func parseCSVLine(line string, comma rune) ([]string, error) {
	reader := csv.NewReader(strings.NewReader(line))
	reader.Comma = comma
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	return reader.Read()
}
