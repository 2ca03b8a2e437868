package services

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"

	"ips-map/internal/models"
)

func localizationRow(uai string, lat, lng any, denomination string) Row {
	return Row{
		"numero_uai":              uai,
		"latitude":                lat,
		"longitude":               lng,
		"denomination_principale": denomination,
	}
}

func TestReconcile_EndToEnd(t *testing.T) {
	localizations := []Row{localizationRow("0010001X", json.Number("48.8"), json.Number("2.3"), "Ecole Test")}
	enrollments := []Row{{"numero_ecole": "0010001X", "nombre_total_eleves": json.Number("200"), "nombre_total_classes": json.Number("8")}}
	schools := []Row{{"uai": "0010001X", "ips": "102.5"}}

	got := Reconcile(schools, nil, nil, localizations, enrollments)
	if len(got) != 1 {
		t.Fatalf("Expected exactly one establishment, got %d", len(got))
	}

	e := got[0]
	if e.IPS != 102.5 || e.Latitude != 48.8 || e.Longitude != 2.3 {
		t.Errorf("Unexpected values: ips=%v lat=%v lng=%v", e.IPS, e.Latitude, e.Longitude)
	}
	if e.DisplayName != "Ecole Test" {
		t.Errorf("Expected display name 'Ecole Test', got %q", e.DisplayName)
	}
	if e.StudentCount == nil || *e.StudentCount != 200 {
		t.Errorf("Expected 200 students, got %v", e.StudentCount)
	}
	if e.ClassCount == nil || *e.ClassCount != 8 {
		t.Errorf("Expected 8 classes, got %v", e.ClassCount)
	}
	if e.Type != models.TypeSchool {
		t.Errorf("Expected school type, got %q", e.Type)
	}
	if e.Sector != DefaultSector {
		t.Errorf("Expected default sector, got %q", e.Sector)
	}
	if e.Commune != "" || e.Department != "" || e.Region != "" {
		t.Errorf("Expected empty labels, got %q %q %q", e.Commune, e.Department, e.Region)
	}
	if e.ComparisonIPS != nil {
		t.Errorf("Expected no comparison IPS, got %+v", e.ComparisonIPS)
	}
}

func TestReconcile_KeyNormalization(t *testing.T) {
	localizations := []Row{localizationRow(" ab12 ", 45.0, 5.0, "")}
	enrollments := []Row{{"numero_ecole": "Ab12", "nombre_total_eleves": "30"}}
	colleges := []Row{{"uai": "AB12", "ips": "95"}}

	got := Reconcile(nil, colleges, nil, localizations, enrollments)
	if len(got) != 1 {
		t.Fatalf("Expected whitespace/case insensitive match, got %d records", len(got))
	}
	if got[0].Identifier != "AB12" {
		t.Errorf("Expected normalized identifier, got %q", got[0].Identifier)
	}
	if got[0].StudentCount == nil || *got[0].StudentCount != 30 {
		t.Errorf("Expected enrollment to join on normalized key, got %v", got[0].StudentCount)
	}
}

func TestReconcile_InvalidIPSExcluded(t *testing.T) {
	localizations := []Row{localizationRow("A", 45.0, 5.0, "")}

	tests := []struct {
		name string
		ips  any
	}{
		{"Empty string", ""},
		{"Null", nil},
		{"NC", "NC"},
		{"NaN", "NaN"},
		{"Infinity", "+Inf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schools := []Row{{"uai": "A", "ips": tt.ips}}
			if got := Reconcile(schools, nil, nil, localizations, nil); len(got) != 0 {
				t.Errorf("Expected row to be excluded, got %+v", got)
			}
		})
	}

	missing := []Row{{"uai": "A"}}
	if got := Reconcile(missing, nil, nil, localizations, nil); len(got) != 0 {
		t.Errorf("Expected row without IPS field to be excluded, got %+v", got)
	}
}

func TestReconcile_NoLocalization(t *testing.T) {
	localizations := []Row{localizationRow("OTHER", 45.0, 5.0, "")}
	schools := []Row{{"uai": "A", "ips": "100"}}

	if got := Reconcile(schools, nil, nil, localizations, nil); len(got) != 0 {
		t.Errorf("Expected zero records, got %d", len(got))
	}
}

func TestReconcile_MissingCoordinates(t *testing.T) {
	tests := []struct {
		name     string
		lat, lng any
	}{
		{"No latitude", nil, 5.0},
		{"No longitude", 45.0, ""},
		{"Neither", nil, nil},
		{"Unparseable", "abc", 5.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			localizations := []Row{localizationRow("A", tt.lat, tt.lng, "")}
			schools := []Row{{"uai": "A", "ips": "100"}}
			if got := Reconcile(schools, nil, nil, localizations, nil); len(got) != 0 {
				t.Errorf("Expected zero records, got %d", len(got))
			}
		})
	}
}

func TestReconcile_MissingIdentifier(t *testing.T) {
	localizations := []Row{localizationRow("A", 45.0, 5.0, "")}
	schools := []Row{{"uai": "  ", "ips": "100"}, {"ips": "100"}}

	if got := Reconcile(schools, nil, nil, localizations, nil); len(got) != 0 {
		t.Errorf("Expected zero records, got %d", len(got))
	}
}

func TestReconcile_NoEnrollment(t *testing.T) {
	localizations := []Row{localizationRow("A", 45.0, 5.0, "")}
	schools := []Row{{"uai": "A", "ips": "100"}}

	got := Reconcile(schools, nil, nil, localizations, []Row{{"numero_ecole": "B", "nombre_total_eleves": "10"}})
	if len(got) != 1 {
		t.Fatalf("Expected one record, got %d", len(got))
	}
	if got[0].StudentCount != nil || got[0].ClassCount != nil {
		t.Errorf("Expected null counts, got %v %v", got[0].StudentCount, got[0].ClassCount)
	}
}

func TestReconcile_HighSchoolFallbackField(t *testing.T) {
	localizations := []Row{localizationRow("L1", 45.0, 5.0, ""), localizationRow("L2", 46.0, 6.0, "")}
	highSchools := []Row{
		{"uai": "L1", "ips_ensemble_gt_pro": "111.4"},
		{"uai": "L2", "ips_etab": "120", "ips_ensemble_gt_pro": "90"},
	}

	got := Reconcile(nil, nil, highSchools, localizations, nil)
	if len(got) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(got))
	}
	if got[0].IPS != 111.4 {
		t.Errorf("Expected fallback IPS 111.4, got %v", got[0].IPS)
	}
	if got[1].IPS != 120 {
		t.Errorf("Expected primary IPS to win, got %v", got[1].IPS)
	}
	if got[0].Type != models.TypeHighSchool {
		t.Errorf("Expected high-school type, got %q", got[0].Type)
	}
}

func TestReconcile_SchoolIgnoresHighSchoolField(t *testing.T) {
	localizations := []Row{localizationRow("A", 45.0, 5.0, "")}
	schools := []Row{{"uai": "A", "ips_etab": "100"}}

	if got := Reconcile(schools, nil, nil, localizations, nil); len(got) != 0 {
		t.Errorf("Expected school row without 'ips' to be excluded, got %d", len(got))
	}
}

func TestReconcile_DisplayNamePrecedence(t *testing.T) {
	localizations := []Row{
		localizationRow("A", 45.0, 5.0, "Localized name"),
		localizationRow("B", 45.0, 5.0, ""),
		localizationRow("C", 45.0, 5.0, ""),
	}
	schools := []Row{
		{"uai": "A", "ips": "100", "denomination_principale": "Raw name"},
		{"uai": "B", "ips": "100", "nom_de_l_etablissment": "Raw name"},
		{"uai": "C", "ips": "100"},
	}

	got := Reconcile(schools, nil, nil, localizations, nil)
	want := []string{"Localized name", "Raw name", ""}
	if len(got) != len(want) {
		t.Fatalf("Expected %d records, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].DisplayName != w {
			t.Errorf("Record %d: display name %q, want %q", i, got[i].DisplayName, w)
		}
	}
}

func TestReconcile_LastLocalizationWins(t *testing.T) {
	localizations := []Row{
		localizationRow("A", 45.0, 5.0, "First"),
		localizationRow("a ", 46.0, 6.0, "Second"),
	}
	schools := []Row{{"uai": "A", "ips": "100"}}

	got := Reconcile(schools, nil, nil, localizations, nil)
	if len(got) != 1 || got[0].DisplayName != "Second" || got[0].Latitude != 46.0 {
		t.Errorf("Expected last duplicate to win, got %+v", got)
	}
}

func TestReconcile_LabelsAndComparison(t *testing.T) {
	localizations := []Row{{
		"numero_uai":                "A",
		"latitude":                  "45.0",
		"longitude":                 "5.0",
		"appellation_officielle":    "Collège Jean Moulin",
		"secteur_public_prive_libe": "Privé",
		"libelle_commune":           "Lyon",
	}}
	colleges := []Row{{
		"uai":             "A",
		"ips":             json.Number("104.2"),
		"departement":     "RHONE",
		"ips_national":    "103.1",
		"ips_departement": "NC",
		"ips_academie":    json.Number("101"),
	}}

	got := Reconcile(nil, colleges, nil, localizations, nil)
	if len(got) != 1 {
		t.Fatalf("Expected one record, got %d", len(got))
	}

	e := got[0]
	if e.Sector != "Privé" || e.Commune != "Lyon" || e.Department != "RHONE" || e.OfficialName != "Collège Jean Moulin" {
		t.Errorf("Unexpected labels: %+v", e)
	}
	if e.ComparisonIPS == nil {
		t.Fatal("Expected comparison IPS")
	}
	if e.ComparisonIPS.National == nil || *e.ComparisonIPS.National != 103.1 {
		t.Errorf("Unexpected national IPS %v", e.ComparisonIPS.National)
	}
	if e.ComparisonIPS.Academy == nil || *e.ComparisonIPS.Academy != 101 {
		t.Errorf("Unexpected academy IPS %v", e.ComparisonIPS.Academy)
	}
	if e.ComparisonIPS.Department != nil || e.ComparisonIPS.Commune != nil {
		t.Errorf("Expected unparseable and missing comparisons to stay nil, got %+v", e.ComparisonIPS)
	}
}

func TestReconcile_OrderAndDeterminism(t *testing.T) {
	localizations := []Row{
		localizationRow("S1", 45.0, 5.0, ""),
		localizationRow("S2", 45.1, 5.1, ""),
		localizationRow("C1", 45.2, 5.2, ""),
		localizationRow("H1", 45.3, 5.3, ""),
	}
	schools := []Row{{"uai": "S2", "ips": "90"}, {"uai": "S1", "ips": "80"}}
	colleges := []Row{{"uai": "C1", "ips": "100"}}
	highSchools := []Row{{"uai": "H1", "ips_etab": "110"}}

	first := Reconcile(schools, colleges, highSchools, localizations, nil)
	second := Reconcile(schools, colleges, highSchools, localizations, nil)

	wantIDs := []string{"S2", "S1", "C1", "H1"}
	if len(first) != len(wantIDs) {
		t.Fatalf("Expected %d records, got %d", len(wantIDs), len(first))
	}
	for i, id := range wantIDs {
		if first[i].Identifier != id {
			t.Errorf("Position %d: got %q, want %q", i, first[i].Identifier, id)
		}
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("Expected identical output for identical input")
	}
}

func TestReconcile_DuplicateIPSRowsPassThrough(t *testing.T) {
	localizations := []Row{localizationRow("A", 45.0, 5.0, "")}
	schools := []Row{{"uai": "A", "ips": "100"}, {"uai": "a", "ips": "101"}}

	if got := Reconcile(schools, nil, nil, localizations, nil); len(got) != 2 {
		t.Errorf("Expected duplicates to pass through, got %d", len(got))
	}
}

func TestReconcile_OutputInvariants(t *testing.T) {
	localizations := []Row{
		localizationRow("A", 45.0, 5.0, ""),
		localizationRow("B", "44.5", "4.5", ""),
		localizationRow("C", nil, 4.5, ""),
	}
	schools := []Row{{"uai": "A", "ips": "100"}, {"uai": "B", "ips": "NC"}, {"uai": "C", "ips": "90"}}
	colleges := []Row{{"uai": "B", "ips": "85,5"}}
	highSchools := []Row{{"uai": "A", "ips_etab": ""}, {"uai": "B", "ips_etab": json.Number("99")}}

	for _, e := range Reconcile(schools, colleges, highSchools, localizations, nil) {
		for name, v := range map[string]float64{"ips": e.IPS, "latitude": e.Latitude, "longitude": e.Longitude} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Errorf("%s: %s is not finite", e.Identifier, name)
			}
		}
		if !e.Type.Valid() {
			t.Errorf("%s: invalid type %q", e.Identifier, e.Type)
		}
	}
}

func TestReconcileWithReport(t *testing.T) {
	localizations := []Row{
		localizationRow("A", 45.0, 5.0, ""),
		localizationRow("B", nil, nil, ""),
	}
	enrollments := []Row{{"numero_ecole": "A", "nombre_total_eleves": "12"}}
	schools := []Row{
		{"uai": "A", "ips": "100"},
		{"uai": "B", "ips": "100"},
		{"uai": "Z", "ips": "100"},
		{"uai": "A", "ips": "NC"},
		{"uai": "A"},
		{"ips": "100"},
	}

	got, report := ReconcileWithReport(schools, nil, nil, localizations, enrollments)
	if len(got) != 1 {
		t.Fatalf("Expected one establishment, got %d", len(got))
	}

	sr := report.ByType[models.TypeSchool]
	if sr.Read != 6 || sr.Kept != 1 {
		t.Errorf("Unexpected counters read=%d kept=%d", sr.Read, sr.Kept)
	}
	wantDropped := map[DropReason]int{
		DropMissingCoordinates: 1,
		DropNoLocalization:     1,
		DropInvalidIPS:         1,
		DropMissingIPS:         1,
		DropMissingIdentifier:  1,
	}
	if !reflect.DeepEqual(sr.Dropped, wantDropped) {
		t.Errorf("Dropped = %v, want %v", sr.Dropped, wantDropped)
	}
	if report.Kept() != 1 || report.Dropped() != 5 {
		t.Errorf("Unexpected totals kept=%d dropped=%d", report.Kept(), report.Dropped())
	}
	if report.Localizations != 2 || report.Enrollments != 1 {
		t.Errorf("Unexpected index sizes %d %d", report.Localizations, report.Enrollments)
	}
	if report.ByType[models.TypeCollege].Read != 0 {
		t.Error("Expected empty college report")
	}
}
