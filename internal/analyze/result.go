package analyze

import "encoding/json"

// Ratio is a turnout-style ratio with an explicit defined/undefined state.
// Dividing by zero registrations yields an undefined ratio, which marshals
// to JSON null instead of a fabricated zero.
type Ratio struct {
	Value float64
	Valid bool
}

func ratioOf(num, den float64) Ratio {
	if den <= 0 {
		return Ratio{}
	}
	return Ratio{Value: num / den, Valid: true}
}

func (r Ratio) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Ratio{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = Ratio{Value: v, Valid: true}
	return nil
}

// Performance tiers, by turnout rate.
const (
	TierNeedsAttention = "Needs Attention"
	TierBelowAverage   = "Below Average"
	TierGood           = "Good"
	TierExcellent      = "Excellent"
)

// TierFor buckets a turnout rate. An undefined rate has no tier.
func TierFor(rate Ratio) string {
	switch {
	case !rate.Valid:
		return ""
	case rate.Value < 0.40:
		return TierNeedsAttention
	case rate.Value < 0.60:
		return TierBelowAverage
	case rate.Value < 0.80:
		return TierGood
	default:
		return TierExcellent
	}
}

// PrecinctMetrics is one entry of the ordered per-precinct breakdown.
type PrecinctMetrics struct {
	Precinct    string  `json:"precinct"`
	Registered  float64 `json:"registered"`
	Voted       float64 `json:"voted"`
	TurnoutRate Ratio   `json:"turnout_rate"`
	Tier        string  `json:"tier,omitempty"`
}

type PrecinctRate struct {
	Precinct    string `json:"precinct"`
	TurnoutRate Ratio  `json:"turnout_rate"`
}

type PartyStats struct {
	Registered  float64 `json:"registered"`
	Voted       float64 `json:"voted"`
	TurnoutRate Ratio   `json:"turnout_rate"`
}

type MethodStats struct {
	Precincts   int     `json:"precincts"`
	Registered  float64 `json:"total_registered"`
	Voted       float64 `json:"total_voted"`
	TurnoutRate Ratio   `json:"turnout_rate"`
}

type Performance struct {
	TotalPrecincts   int            `json:"total_precincts"`
	AverageTurnout   Ratio          `json:"average_turnout"`
	MedianTurnout    Ratio          `json:"median_turnout"`
	TopPerformers    []PrecinctRate `json:"top_performers"`
	BottomPerformers []PrecinctRate `json:"bottom_performers"`
	Tiers            map[string]int `json:"performance_tiers"`
}

type HotspotGroup struct {
	Count      int      `json:"count"`
	Precincts  []string `json:"precincts"`
	AvgTurnout Ratio    `json:"avg_turnout"`
	MinTurnout Ratio    `json:"min_turnout"`
	MaxTurnout Ratio    `json:"max_turnout"`
}

type Hotspots struct {
	HighPerformers *HotspotGroup `json:"high_performers,omitempty"`
	LowPerformers  *HotspotGroup `json:"low_performers,omitempty"`
}

type Efficiency struct {
	EstimatedEligible           float64 `json:"estimated_eligible"`
	RegistrationRate            Ratio   `json:"registration_rate"`
	VotingRateOfEligible        Ratio   `json:"voting_rate_of_eligible"`
	VotingRateOfRegistered      Ratio   `json:"voting_rate_of_registered"`
	RegistrationGap             float64 `json:"registration_gap"`
	ParticipationGap            float64 `json:"participation_gap"`
	PotentialNewVoters          float64 `json:"potential_new_voters"`
	PotentialTurnoutImprovement float64 `json:"potential_turnout_improvement"`
}

type BenchmarkResult struct {
	Name        string  `json:"name"`
	Benchmark   float64 `json:"benchmark"`
	Difference  float64 `json:"difference"`
	Performance string  `json:"performance"`
}

type ColumnsUsed struct {
	Precinct     string `json:"precinct,omitempty"`
	VoteMethod   string `json:"vote_method,omitempty"`
	Party        string `json:"party,omitempty"`
	Registration string `json:"registration,omitempty"`
	Votes        string `json:"votes,omitempty"`
}

// Result holds everything computed for one analysis. It is immutable after
// Analyze returns; exporters and the suggestion gateway only read it.
type Result struct {
	Dataset            string                 `json:"dataset"`
	TotalRows          int                    `json:"total_rows"`
	TotalPrecincts     int                    `json:"total_precincts"`
	TotalRegistered    float64                `json:"total_registered"`
	TotalVoted         float64                `json:"total_voted"`
	RegisteredNotVoted float64                `json:"registered_not_voted"`
	TurnoutRate        Ratio                  `json:"turnout_rate"`
	PartyBreakdown     map[string]PartyStats  `json:"party_breakdown,omitempty"`
	Precincts          []PrecinctMetrics      `json:"precincts,omitempty"`
	Performance        *Performance           `json:"precinct_performance,omitempty"`
	Hotspots           *Hotspots              `json:"hotspots,omitempty"`
	VotingMethods      map[string]MethodStats `json:"voting_methods,omitempty"`
	Efficiency         *Efficiency            `json:"efficiency_metrics,omitempty"`
	Benchmarks         []BenchmarkResult      `json:"benchmarks,omitempty"`
	ColumnsUsed        ColumnsUsed            `json:"columns_used"`
	RowsFiltered       int                    `json:"rows_filtered"`
	Notes              []string               `json:"notes,omitempty"`
}
