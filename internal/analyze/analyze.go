// Package analyze computes turnout and registration statistics from an
// uploaded table and its inferred column roles. The computation is
// deterministic: the same table and role map always produce the same
// Result. Metrics whose required roles are unmapped are omitted, never
// fabricated.
package analyze

import (
	"fmt"
	"sort"
	"strings"

	"turnoutd/internal/dataset"
	"turnoutd/internal/schema"
)

// Rows whose precinct value contains one of these are jurisdiction-wide
// summary lines, not real precincts, and would double-count totals.
var summaryIndicators = []string{"total", "sum", "grand", "summary", "citywide", "combined", "all precincts"}

// eligibleRegistrationShare is the conservative assumption that registered
// voters are about 70% of the eligible population, used to estimate
// registration efficiency.
const eligibleRegistrationShare = 0.7

var benchmarks = []struct {
	Name string
	Rate float64
}{
	{"excellent_turnout", 0.80},
	{"good_turnout", 0.65},
	{"average_turnout", 0.50},
	{"presidential_average", 0.60},
	{"midterm_average", 0.45},
	{"local_average", 0.35},
}

// Analyze runs the full aggregation pipeline over a table.
func Analyze(name string, t *dataset.Table, roles *schema.RoleMap) *Result {
	res := &Result{
		Dataset:   name,
		TotalRows: len(t.Rows),
	}
	res.note("total rows in file: %d", len(t.Rows))

	precinctCol, hasPrecinct := roles.Column(schema.RolePrecinct)
	methodCol, hasMethod := roles.Column(schema.RoleVoteMethod)
	partyCol, hasParty := roles.Column(schema.RoleParty)
	regCol, hasReg := roles.Column(schema.RoleRegistrationTotal)
	voteCol, hasVote := roles.Column(schema.RoleVoteTotal)

	res.ColumnsUsed = ColumnsUsed{
		Precinct:     precinctCol,
		VoteMethod:   methodCol,
		Party:        partyCol,
		Registration: regCol,
		Votes:        voteCol,
	}

	rows := res.filterSummaryRows(t, precinctCol, hasPrecinct)

	// Per-precinct aggregation: registration columns take the max seen for
	// a precinct (the same roll repeats across method rows), count columns
	// sum across rows.
	var precincts []PrecinctMetrics
	if hasPrecinct {
		precincts = aggregateByPrecinct(t, rows, precinctCol, regCol, hasReg, voteCol, hasVote)
		res.TotalPrecincts = len(precincts)
		res.note("unique precincts: %d", len(precincts))
	} else {
		res.note("no precinct column detected; per-precinct metrics skipped")
	}

	if hasPrecinct {
		for _, p := range precincts {
			res.TotalRegistered += p.Registered
			res.TotalVoted += p.Voted
		}
	} else {
		for _, row := range rows {
			if hasReg {
				res.TotalRegistered += dataset.CleanNumeric(t.Rows[row][mustIndex(t, regCol)])
			}
			if hasVote {
				res.TotalVoted += dataset.CleanNumeric(t.Rows[row][mustIndex(t, voteCol)])
			}
		}
	}
	if !hasReg {
		res.note("no registration column detected; turnout metrics skipped")
	}
	if !hasVote {
		res.note("no vote count column detected; turnout metrics skipped")
	}

	if hasReg && hasVote {
		res.RegisteredNotVoted = max0(res.TotalRegistered - res.TotalVoted)
		res.TurnoutRate = ratioOf(res.TotalVoted, res.TotalRegistered)
		res.Efficiency = computeEfficiency(res.TotalRegistered, res.TotalVoted)
		res.Benchmarks = computeBenchmarks(res.TurnoutRate)
	}

	if hasPrecinct && hasReg && hasVote {
		res.Precincts = precincts
		res.Performance = computePerformance(precincts)
		res.Hotspots = computeHotspots(precincts)
	}

	if hasMethod && hasReg && hasVote {
		res.VotingMethods = aggregateByMethod(t, rows, methodCol, regCol, voteCol)
	}

	res.PartyBreakdown = computePartyBreakdown(t, rows, roles, partyCol, hasParty, regCol, hasReg, voteCol, hasVote, precincts, precinctCol)

	res.note("final totals: %d precincts, %.0f registered, %.0f voted", res.TotalPrecincts, res.TotalRegistered, res.TotalVoted)
	return res
}

func (r *Result) note(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// filterSummaryRows returns the indexes of rows to aggregate, dropping
// jurisdiction-wide summary lines.
func (r *Result) filterSummaryRows(t *dataset.Table, precinctCol string, hasPrecinct bool) []int {
	rows := make([]int, 0, len(t.Rows))
	if !hasPrecinct {
		for i := range t.Rows {
			rows = append(rows, i)
		}
		return rows
	}

	idx := mustIndex(t, precinctCol)
	removed := 0
	for i, row := range t.Rows {
		if isSummaryValue(row[idx]) {
			removed++
			continue
		}
		rows = append(rows, i)
	}
	r.RowsFiltered = removed
	if removed > 0 {
		r.note("removed %d summary rows", removed)
	}
	return rows
}

func isSummaryValue(v string) bool {
	lower := strings.ToLower(v)
	for _, indicator := range summaryIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

func aggregateByPrecinct(t *dataset.Table, rows []int, precinctCol, regCol string, hasReg bool, voteCol string, hasVote bool) []PrecinctMetrics {
	pIdx := mustIndex(t, precinctCol)

	type acc struct {
		registered float64
		voted      float64
	}
	byPrecinct := make(map[string]*acc)
	var order []string

	for _, row := range rows {
		precinct := strings.TrimSpace(t.Rows[row][pIdx])
		a, ok := byPrecinct[precinct]
		if !ok {
			a = &acc{}
			byPrecinct[precinct] = a
			order = append(order, precinct)
		}
		if hasReg {
			v := dataset.CleanNumeric(t.Rows[row][mustIndex(t, regCol)])
			if v > a.registered {
				a.registered = v
			}
		}
		if hasVote {
			a.voted += dataset.CleanNumeric(t.Rows[row][mustIndex(t, voteCol)])
		}
	}

	out := make([]PrecinctMetrics, 0, len(order))
	for _, precinct := range order {
		a := byPrecinct[precinct]
		rate := ratioOf(a.voted, a.registered)
		out = append(out, PrecinctMetrics{
			Precinct:    precinct,
			Registered:  a.registered,
			Voted:       a.voted,
			TurnoutRate: rate,
			Tier:        TierFor(rate),
		})
	}

	// Highest turnout first; undefined rates last; names break ties so the
	// ordering is stable across runs.
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TurnoutRate.Valid != b.TurnoutRate.Valid {
			return a.TurnoutRate.Valid
		}
		if a.TurnoutRate.Valid && a.TurnoutRate.Value != b.TurnoutRate.Value {
			return a.TurnoutRate.Value > b.TurnoutRate.Value
		}
		return a.Precinct < b.Precinct
	})
	return out
}

func aggregateByMethod(t *dataset.Table, rows []int, methodCol, regCol, voteCol string) map[string]MethodStats {
	mIdx := mustIndex(t, methodCol)
	rIdx := mustIndex(t, regCol)
	vIdx := mustIndex(t, voteCol)

	out := make(map[string]MethodStats)
	for _, row := range rows {
		method := strings.TrimSpace(t.Rows[row][mIdx])
		if method == "" {
			continue
		}
		stats := out[method]
		stats.Precincts++
		stats.Registered += dataset.CleanNumeric(t.Rows[row][rIdx])
		stats.Voted += dataset.CleanNumeric(t.Rows[row][vIdx])
		out[method] = stats
	}
	for method, stats := range out {
		stats.TurnoutRate = ratioOf(stats.Voted, stats.Registered)
		out[method] = stats
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// computePartyBreakdown supports two shapes of party data: a categorical
// party column (one value per row, rolled up by value) or per-party
// registration/vote column pairs. The categorical form wins when both are
// present.
func computePartyBreakdown(
	t *dataset.Table,
	rows []int,
	roles *schema.RoleMap,
	partyCol string, hasParty bool,
	regCol string, hasReg bool,
	voteCol string, hasVote bool,
	precincts []PrecinctMetrics,
	precinctCol string,
) map[string]PartyStats {
	if hasParty && (hasReg || hasVote) {
		pIdx := mustIndex(t, partyCol)
		out := make(map[string]PartyStats)
		for _, row := range rows {
			party := strings.TrimSpace(t.Rows[row][pIdx])
			if party == "" {
				continue
			}
			stats := out[party]
			if hasReg {
				stats.Registered += dataset.CleanNumeric(t.Rows[row][mustIndex(t, regCol)])
			}
			if hasVote {
				stats.Voted += dataset.CleanNumeric(t.Rows[row][mustIndex(t, voteCol)])
			}
			out[party] = stats
		}
		for party, stats := range out {
			stats.TurnoutRate = ratioOf(stats.Voted, stats.Registered)
			out[party] = stats
		}
		if len(out) > 0 {
			return out
		}
	}

	if len(roles.PartyRegistration) == 0 && len(roles.PartyVotes) == 0 {
		return nil
	}

	// Column-pair form. Registration columns repeat per precinct the same
	// way the registration total does, so take the per-precinct max before
	// summing when a precinct grouping exists.
	out := make(map[string]PartyStats)
	parties := make(map[string]bool)
	for party := range roles.PartyRegistration {
		parties[party] = true
	}
	for party := range roles.PartyVotes {
		parties[party] = true
	}

	for party := range parties {
		var stats PartyStats
		if col, ok := roles.PartyRegistration[party]; ok {
			if _, exists := t.ColumnIndex(col); exists {
				stats.Registered = sumRegistrationColumn(t, rows, col, precinctCol)
			}
		}
		if col, ok := roles.PartyVotes[party]; ok {
			if idx, exists := t.ColumnIndex(col); exists {
				for _, row := range rows {
					stats.Voted += dataset.CleanNumeric(t.Rows[row][idx])
				}
			}
		}
		stats.TurnoutRate = ratioOf(stats.Voted, stats.Registered)
		out[party] = stats
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sumRegistrationColumn(t *dataset.Table, rows []int, col, precinctCol string) float64 {
	idx, ok := t.ColumnIndex(col)
	if !ok {
		return 0
	}
	pIdx, hasPrecinct := t.ColumnIndex(precinctCol)
	if !hasPrecinct {
		var total float64
		for _, row := range rows {
			total += dataset.CleanNumeric(t.Rows[row][idx])
		}
		return total
	}

	maxByPrecinct := make(map[string]float64)
	for _, row := range rows {
		precinct := strings.TrimSpace(t.Rows[row][pIdx])
		v := dataset.CleanNumeric(t.Rows[row][idx])
		if v > maxByPrecinct[precinct] {
			maxByPrecinct[precinct] = v
		}
	}
	var total float64
	for _, v := range maxByPrecinct {
		total += v
	}
	return total
}

func computePerformance(precincts []PrecinctMetrics) *Performance {
	if len(precincts) == 0 {
		return nil
	}

	var rates []float64
	tiers := make(map[string]int)
	for _, p := range precincts {
		if p.TurnoutRate.Valid {
			rates = append(rates, p.TurnoutRate.Value)
		}
		if p.Tier != "" {
			tiers[p.Tier]++
		}
	}

	perf := &Performance{
		TotalPrecincts: len(precincts),
		Tiers:          tiers,
	}
	if len(rates) > 0 {
		perf.AverageTurnout = Ratio{Value: mean(rates), Valid: true}
		perf.MedianTurnout = Ratio{Value: median(rates), Valid: true}
	}

	limit := func(n int) int {
		if n > 10 {
			return 10
		}
		return n
	}
	for _, p := range precincts[:limit(len(precincts))] {
		perf.TopPerformers = append(perf.TopPerformers, PrecinctRate{Precinct: p.Precinct, TurnoutRate: p.TurnoutRate})
	}
	start := len(precincts) - limit(len(precincts))
	for _, p := range precincts[start:] {
		perf.BottomPerformers = append(perf.BottomPerformers, PrecinctRate{Precinct: p.Precinct, TurnoutRate: p.TurnoutRate})
	}
	return perf
}

// computeHotspots picks the top and bottom 10% of precincts (at least one
// each) as high/low performance clusters.
func computeHotspots(precincts []PrecinctMetrics) *Hotspots {
	var ranked []PrecinctMetrics
	for _, p := range precincts {
		if p.TurnoutRate.Valid {
			ranked = append(ranked, p)
		}
	}
	if len(ranked) == 0 {
		return nil
	}

	count := len(ranked) / 10
	if count < 1 {
		count = 1
	}

	return &Hotspots{
		HighPerformers: hotspotGroup(ranked[:count]),
		LowPerformers:  hotspotGroup(ranked[len(ranked)-count:]),
	}
}

func hotspotGroup(precincts []PrecinctMetrics) *HotspotGroup {
	g := &HotspotGroup{Count: len(precincts)}
	minRate := precincts[0].TurnoutRate.Value
	maxRate := minRate
	var sum float64
	for i, p := range precincts {
		if i < 5 {
			g.Precincts = append(g.Precincts, p.Precinct)
		}
		rate := p.TurnoutRate.Value
		sum += rate
		if rate < minRate {
			minRate = rate
		}
		if rate > maxRate {
			maxRate = rate
		}
	}
	g.AvgTurnout = Ratio{Value: sum / float64(len(precincts)), Valid: true}
	g.MinTurnout = Ratio{Value: minRate, Valid: true}
	g.MaxTurnout = Ratio{Value: maxRate, Valid: true}
	return g
}

func computeEfficiency(registered, voted float64) *Efficiency {
	if registered <= 0 {
		return nil
	}
	eligible := registered / eligibleRegistrationShare
	return &Efficiency{
		EstimatedEligible:           eligible,
		RegistrationRate:            ratioOf(registered, eligible),
		VotingRateOfEligible:        ratioOf(voted, eligible),
		VotingRateOfRegistered:      ratioOf(voted, registered),
		RegistrationGap:             max0(eligible - registered),
		ParticipationGap:            max0(registered - voted),
		PotentialNewVoters:          max0(eligible - registered),
		PotentialTurnoutImprovement: max0(registered - voted),
	}
}

func computeBenchmarks(turnout Ratio) []BenchmarkResult {
	if !turnout.Valid {
		return nil
	}
	out := make([]BenchmarkResult, 0, len(benchmarks))
	for _, b := range benchmarks {
		diff := turnout.Value - b.Rate
		perf := "Below"
		if diff > 0 {
			perf = "Above"
		}
		out = append(out, BenchmarkResult{
			Name:        b.Name,
			Benchmark:   b.Rate,
			Difference:  diff,
			Performance: perf,
		})
	}
	return out
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func mustIndex(t *dataset.Table, col string) int {
	idx, ok := t.ColumnIndex(col)
	if !ok {
		// Role maps are inferred from this table's own header, so a missing
		// column is a programming defect.
		panic(fmt.Sprintf("analyze: column %q not in table", col))
	}
	return idx
}
