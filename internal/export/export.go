// Package export serializes an analysis result to its external formats:
// JSON, a delimited summary, and a formatted markdown report. Formatting
// only; no values are recomputed here.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"turnoutd/internal/analyze"
)

// Format selects an export encoding.
type Format string

const (
	FormatJSON   Format = "json"
	FormatCSV    Format = "csv"
	FormatReport Format = "report"
)

// ParseFormat validates a caller-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON, "":
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatReport:
		return FormatReport, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want json, csv, or report)", s)
	}
}

// ContentType returns the MIME type for a format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatReport:
		return "text/markdown; charset=utf-8"
	default:
		return "application/json; charset=utf-8"
	}
}

// Render encodes a result in the given format.
func Render(res *analyze.Result, f Format, generatedAt time.Time) ([]byte, error) {
	switch f {
	case FormatCSV:
		return CSVSummary(res)
	case FormatReport:
		return []byte(MarkdownReport(res, generatedAt)), nil
	default:
		return JSON(res)
	}
}

// JSON encodes the full result. Numeric values round-trip through
// encoding/json without precision loss.
func JSON(res *analyze.Result) ([]byte, error) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return data, nil
}

// CSVSummary writes a one-row-per-dataset summary plus optional per-party
// columns, mirroring what a spreadsheet consumer expects.
func CSVSummary(res *analyze.Result) ([]byte, error) {
	header := []string{
		"dataset", "total_precincts", "total_registered", "total_voted",
		"turnout_rate", "registered_not_voted", "rows_filtered",
	}
	row := []string{
		res.Dataset,
		fmt.Sprintf("%d", res.TotalPrecincts),
		formatNumber(res.TotalRegistered),
		formatNumber(res.TotalVoted),
		formatRatio(res.TurnoutRate),
		formatNumber(res.RegisteredNotVoted),
		fmt.Sprintf("%d", res.RowsFiltered),
	}

	for _, party := range sortedKeys(res.PartyBreakdown) {
		stats := res.PartyBreakdown[party]
		header = append(header,
			party+"_registered",
			party+"_voted",
			party+"_turnout_rate",
		)
		row = append(row,
			formatNumber(stats.Registered),
			formatNumber(stats.Voted),
			formatRatio(stats.TurnoutRate),
		)
	}

	if perf := res.Performance; perf != nil {
		header = append(header, "avg_precinct_turnout", "median_precinct_turnout")
		row = append(row, formatRatio(perf.AverageTurnout), formatRatio(perf.MedianTurnout))
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("writing csv header: %w", err)
	}
	if err := w.Write(row); err != nil {
		return nil, fmt.Errorf("writing csv row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flushing csv: %w", err)
	}
	return buf.Bytes(), nil
}

// MarkdownReport renders the human-readable analysis report.
func MarkdownReport(res *analyze.Result, generatedAt time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Voter Turnout Analysis: %s\n\n", res.Dataset)
	fmt.Fprintf(&b, "Generated on: %s\n\n", generatedAt.Format("2006-01-02 15:04:05"))

	b.WriteString("## Overview\n\n")
	fmt.Fprintf(&b, "- Total Precincts: %d\n", res.TotalPrecincts)
	fmt.Fprintf(&b, "- Total Registered: %s\n", formatNumber(res.TotalRegistered))
	fmt.Fprintf(&b, "- Total Voted: %s\n", formatNumber(res.TotalVoted))
	fmt.Fprintf(&b, "- Turnout Rate: %s\n", formatPercent(res.TurnoutRate))
	fmt.Fprintf(&b, "- Registered But Did Not Vote: %s\n", formatNumber(res.RegisteredNotVoted))
	if res.RowsFiltered > 0 {
		fmt.Fprintf(&b, "- Summary Rows Filtered: %d\n", res.RowsFiltered)
	}
	b.WriteString("\n")

	if len(res.PartyBreakdown) > 0 {
		b.WriteString("## Party Performance\n\n")
		for _, party := range sortedKeys(res.PartyBreakdown) {
			stats := res.PartyBreakdown[party]
			fmt.Fprintf(&b, "- %s: %s turnout (%s of %s)\n",
				party, formatPercent(stats.TurnoutRate),
				formatNumber(stats.Voted), formatNumber(stats.Registered))
		}
		b.WriteString("\n")
	}

	if perf := res.Performance; perf != nil {
		b.WriteString("## Precinct Performance\n\n")
		fmt.Fprintf(&b, "- Average Turnout: %s\n", formatPercent(perf.AverageTurnout))
		fmt.Fprintf(&b, "- Median Turnout: %s\n", formatPercent(perf.MedianTurnout))
		if len(perf.Tiers) > 0 {
			tiers := make([]string, 0, len(perf.Tiers))
			for tier := range perf.Tiers {
				tiers = append(tiers, tier)
			}
			sort.Strings(tiers)
			for _, tier := range tiers {
				fmt.Fprintf(&b, "- %s: %d precincts\n", tier, perf.Tiers[tier])
			}
		}
		b.WriteString("\n### Top Performers\n\n")
		for i, p := range perf.TopPerformers {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&b, "%d. %s: %s\n", i+1, p.Precinct, formatPercent(p.TurnoutRate))
		}
		b.WriteString("\n### Need Attention\n\n")
		for i, p := range perf.BottomPerformers {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&b, "%d. %s: %s\n", i+1, p.Precinct, formatPercent(p.TurnoutRate))
		}
		b.WriteString("\n")
	}

	if len(res.VotingMethods) > 0 {
		b.WriteString("## Voting Methods\n\n")
		for _, method := range sortedKeys(res.VotingMethods) {
			stats := res.VotingMethods[method]
			fmt.Fprintf(&b, "- %s: %s turnout, %s votes across %d precinct rows\n",
				method, formatPercent(stats.TurnoutRate),
				formatNumber(stats.Voted), stats.Precincts)
		}
		b.WriteString("\n")
	}

	if eff := res.Efficiency; eff != nil {
		b.WriteString("## Registration Efficiency\n\n")
		fmt.Fprintf(&b, "- Estimated Eligible Population: %s\n", formatNumber(eff.EstimatedEligible))
		fmt.Fprintf(&b, "- Registration Rate: %s\n", formatPercent(eff.RegistrationRate))
		fmt.Fprintf(&b, "- Voting Rate Of Eligible: %s\n", formatPercent(eff.VotingRateOfEligible))
		fmt.Fprintf(&b, "- Potential New Voters: %s\n", formatNumber(eff.PotentialNewVoters))
		fmt.Fprintf(&b, "- Turnout Improvement Potential: %s\n", formatNumber(eff.PotentialTurnoutImprovement))
		b.WriteString("\n")
	}

	if len(res.Benchmarks) > 0 {
		b.WriteString("## Benchmarks\n\n")
		for _, bench := range res.Benchmarks {
			fmt.Fprintf(&b, "- %s: %.0f%% benchmark, %+.1f points (%s)\n",
				bench.Name, bench.Benchmark*100, bench.Difference*100, bench.Performance)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// WriteReportFile saves a rendered report under outputDir with a
// date-stamped filename and returns the path.
func WriteReportFile(content, outputDir, datasetName string, reportDate time.Time) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}
	filename := fmt.Sprintf("%s_%s.md", sanitizeFilename(datasetName), reportDate.Format("20060102"))
	path := filepath.Join(outputDir, filename)
	return path, os.WriteFile(path, []byte(content), 0644)
}

func sanitizeFilename(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_", " ", "_")
	return replacer.Replace(s)
}

func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

func formatRatio(r analyze.Ratio) string {
	if !r.Valid {
		return ""
	}
	return fmt.Sprintf("%g", r.Value)
}

func formatPercent(r analyze.Ratio) string {
	if !r.Valid {
		return "undefined"
	}
	return fmt.Sprintf("%.2f%%", r.Value*100)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
