package export

import (
	"encoding/csv"
	"encoding/json"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"turnoutd/internal/analyze"
)

func sampleResult() *analyze.Result {
	return &analyze.Result{
		Dataset:            "city_2024",
		TotalRows:          3,
		TotalPrecincts:     2,
		TotalRegistered:    150,
		TotalVoted:         40,
		RegisteredNotVoted: 110,
		TurnoutRate:        analyze.Ratio{Value: 40.0 / 150.0, Valid: true},
		PartyBreakdown: map[string]analyze.PartyStats{
			"D": {Registered: 100, Voted: 40, TurnoutRate: analyze.Ratio{Value: 0.4, Valid: true}},
			"R": {Registered: 50, Voted: 0, TurnoutRate: analyze.Ratio{Value: 0, Valid: true}},
		},
		Precincts: []analyze.PrecinctMetrics{
			{Precinct: "A", Registered: 100, Voted: 40, TurnoutRate: analyze.Ratio{Value: 0.4, Valid: true}, Tier: analyze.TierBelowAverage},
			{Precinct: "B", Registered: 50, Voted: 0, TurnoutRate: analyze.Ratio{Value: 0, Valid: true}, Tier: analyze.TierNeedsAttention},
		},
		Performance: &analyze.Performance{
			TotalPrecincts: 2,
			AverageTurnout: analyze.Ratio{Value: 0.2, Valid: true},
			MedianTurnout:  analyze.Ratio{Value: 0.2, Valid: true},
			TopPerformers:  []analyze.PrecinctRate{{Precinct: "A", TurnoutRate: analyze.Ratio{Value: 0.4, Valid: true}}},
			Tiers:          map[string]int{analyze.TierBelowAverage: 1, analyze.TierNeedsAttention: 1},
		},
	}
}

func TestParseFormat(t *testing.T) {
	cases := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"", FormatJSON, false},
		{"CSV", FormatCSV, false},
		{" report ", FormatReport, false},
		{"xml", "", true},
	}
	for _, c := range cases {
		got, err := ParseFormat(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseFormat(%q): expected error", c.in)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Errorf("ParseFormat(%q) = (%v, %v), want %v", c.in, got, err, c.want)
		}
	}
}

func TestJSONRoundTrip(t *testing.T) {
	res := sampleResult()
	data, err := JSON(res)
	if err != nil {
		t.Fatalf("JSON failed: %v", err)
	}

	var back analyze.Result
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("round-trip unmarshal failed: %v", err)
	}
	if math.Abs(back.TurnoutRate.Value-res.TurnoutRate.Value) > 1e-12 {
		t.Fatalf("turnout drifted: %v vs %v", back.TurnoutRate.Value, res.TurnoutRate.Value)
	}
	if back.TotalRegistered != res.TotalRegistered || back.TotalVoted != res.TotalVoted {
		t.Fatalf("totals drifted: %+v", back)
	}
	if back.PartyBreakdown["D"].Registered != 100 {
		t.Fatalf("party breakdown drifted: %+v", back.PartyBreakdown)
	}
	if len(back.Precincts) != 2 || back.Precincts[0].Precinct != "A" {
		t.Fatalf("precinct order drifted: %+v", back.Precincts)
	}
}

func TestJSONUndefinedTurnoutIsNull(t *testing.T) {
	res := &analyze.Result{Dataset: "empty"}
	data, err := JSON(res)
	if err != nil {
		t.Fatalf("JSON failed: %v", err)
	}
	if !strings.Contains(string(data), `"turnout_rate": null`) {
		t.Fatalf("expected null turnout_rate, got: %s", data)
	}
}

func TestCSVSummary(t *testing.T) {
	data, err := CSVSummary(sampleResult())
	if err != nil {
		t.Fatalf("CSVSummary failed: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("summary is not valid csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header + 1 row, got %d records", len(records))
	}

	header, row := records[0], records[1]
	byName := map[string]string{}
	for i, name := range header {
		byName[name] = row[i]
	}
	if byName["dataset"] != "city_2024" {
		t.Fatalf("dataset = %q", byName["dataset"])
	}
	if byName["total_registered"] != "150" {
		t.Fatalf("total_registered = %q", byName["total_registered"])
	}
	if byName["D_registered"] != "100" || byName["R_registered"] != "50" {
		t.Fatalf("party columns = %v", byName)
	}

	// Numeric round-trip through the delimited form.
	rate, err := strconv.ParseFloat(byName["turnout_rate"], 64)
	if err != nil {
		t.Fatalf("turnout_rate %q not parseable: %v", byName["turnout_rate"], err)
	}
	if math.Abs(rate-40.0/150.0) > 1e-12 {
		t.Fatalf("turnout_rate drifted: %v", rate)
	}
}

func TestMarkdownReport(t *testing.T) {
	report := MarkdownReport(sampleResult(), time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC))

	for _, want := range []string{
		"# Voter Turnout Analysis: city_2024",
		"Total Registered: 150",
		"Turnout Rate: 26.67%",
		"## Party Performance",
		"- D: 40.00% turnout (40 of 100)",
		"## Precinct Performance",
		"1. A: 40.00%",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q\n---\n%s", want, report)
		}
	}
}

func TestMarkdownReportUndefinedTurnout(t *testing.T) {
	res := &analyze.Result{Dataset: "no_votes"}
	report := MarkdownReport(res, time.Now())
	if !strings.Contains(report, "Turnout Rate: undefined") {
		t.Fatalf("expected undefined turnout in report:\n%s", report)
	}
}

func TestWriteReportFile(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteReportFile("# report\n", dir, "My City/2024", time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("WriteReportFile failed: %v", err)
	}
	if !strings.HasSuffix(path, "My_City_2024_20260828.md") {
		t.Fatalf("unexpected path %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if string(data) != "# report\n" {
		t.Fatalf("unexpected content %q", data)
	}
}
