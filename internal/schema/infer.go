// Package schema maps raw voter-file column names onto a fixed vocabulary
// of canonical roles. Detection is name-based keyword scoring; a role that
// cannot be matched stays absent and downstream metrics that need it are
// skipped.
package schema

import (
	"strings"
)

// Role is a canonical column meaning.
type Role string

const (
	RolePrecinct          Role = "precinct"
	RoleVoteMethod        Role = "vote_method"
	RoleParty             Role = "party"
	RoleRegistrationTotal Role = "registration_total"
	RoleVoteTotal         Role = "vote_total"
	RoleDateOfBirth       Role = "date_of_birth"
)

// Canonical party labels for per-party column pairs.
const (
	PartyDem = "Dem"
	PartyRep = "Rep"
	PartyNon = "Non"
)

// RoleMap records which table column fills each role. Each role maps to at
// most one column; an unmapped role is absent, never defaulted.
type RoleMap struct {
	columns map[Role]string

	// Per-party column pairs, keyed by canonical party label.
	PartyRegistration map[string]string
	PartyVotes        map[string]string
}

// Column reports the column detected for a role, with an explicit
// found/absent result.
func (m *RoleMap) Column(role Role) (string, bool) {
	col, ok := m.columns[role]
	return col, ok
}

// Roles returns the set of mapped single-column roles.
func (m *RoleMap) Roles() map[Role]string {
	out := make(map[Role]string, len(m.columns))
	for role, col := range m.columns {
		out[role] = col
	}
	return out
}

func (m *RoleMap) set(role Role, column string) {
	if column != "" {
		m.columns[role] = column
	}
}

var precinctKeywords = [][]string{
	{"precinct", "name"},
	{"precinct"},
	{"district", "name"},
	{"ward", "name"},
	{"location", "name"},
	{"polling", "place"},
	{"voting", "location"},
}

var methodKeywords = [][]string{
	{"vote", "method"},
	{"voting", "method"},
	{"method"},
	{"vote", "type"},
	{"voting", "type"},
	{"ballot", "type"},
}

var partyKeywords = [][]string{
	{"party", "affiliation"},
	{"political", "party"},
	{"party"},
}

var registrationKeywords = [][]string{
	{"registration", "total"},
	{"registered", "total"},
	{"reg", "total"},
	{"total", "registration"},
	{"total", "registered"},
	{"total", "reg"},
	{"registered"},
	{"registration"},
}

var voteCountKeywords = [][]string{
	{"public", "count", "total"},
	{"ballot", "count", "total"},
	{"vote", "count", "total"},
	{"votes", "cast", "total"},
	{"total", "votes", "cast"},
	{"total", "ballots"},
	{"ballots", "total"},
	{"turnout", "total"},
	{"voted", "total"},
	{"total", "voted"},
	{"voted"},
	{"ballots", "cast"},
}

var dobKeywords = [][]string{
	{"date", "birth"},
	{"birth", "date"},
	{"dob"},
	{"birthdate"},
	{"birth_date"},
	{"date_of_birth"},
}

// partyAliases feed per-party column-pair detection. Each alias is
// canonicalized via canonicalParty.
var partyAliases = []string{"dem", "rep", "republican", "democrat", "non", "unaffiliated", "independent"}

// Infer builds a RoleMap from a header. It is a pure function of the
// column list, so running it twice on the same header yields the same map.
func Infer(columns []string) *RoleMap {
	m := &RoleMap{
		columns:           make(map[Role]string),
		PartyRegistration: make(map[string]string),
		PartyVotes:        make(map[string]string),
	}

	m.set(RolePrecinct, findByKeywords(columns, precinctKeywords))
	m.set(RoleVoteMethod, findByKeywords(columns, methodKeywords))
	m.set(RoleDateOfBirth, findByKeywords(columns, dobKeywords))

	// A bare "party" column is categorical (one party value per row), so it
	// must not collide with per-party count columns like "Dem Registered".
	if col := findByKeywords(columns, partyKeywords); col != "" && !looksLikeCount(col) {
		m.set(RoleParty, col)
	}

	m.set(RoleRegistrationTotal, findRegistrationTotal(columns))
	m.set(RoleVoteTotal, findVoteTotal(columns))

	m.detectPartyColumns(columns)
	m.applySafetyChecks(columns)

	return m
}

// findByKeywords scores every column against every keyword group and
// returns the best match. A keyword found on a word boundary scores 10,
// a bare substring hit scores 5; the first column reaching 10 wins
// outright, preserving the priority order of the groups.
func findByKeywords(columns []string, groups [][]string) string {
	bestMatch := ""
	bestScore := 0

	for _, column := range columns {
		for _, keywords := range groups {
			score := matchScore(column, keywords)
			if score > bestScore {
				bestScore = score
				bestMatch = column
			}
			if score >= 10 {
				return column
			}
		}
	}

	if bestScore > 0 {
		return bestMatch
	}
	return ""
}

// matchScore requires every keyword of the group to appear in the column
// name; partial groups would let "Registration Total" satisfy a party
// group like {registration, dem}. A keyword on a word boundary scores 10,
// a bare substring 5.
func matchScore(column string, keywords []string) int {
	normalized := normalizeName(column)
	padded := " " + normalized + " "
	score := 0
	for _, kw := range keywords {
		nkw := normalizeName(kw)
		if nkw == "" || !strings.Contains(normalized, nkw) {
			return 0
		}
		if strings.Contains(padded, " "+nkw+" ") {
			score += 10
		} else {
			score += 5
		}
	}
	return score
}

// normalizeName lowercases and replaces punctuation with spaces, so
// "Reg_Total" and "reg total" compare equal.
func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func findRegistrationTotal(columns []string) string {
	if col := findByKeywords(columns, registrationKeywords[:6]); col != "" {
		return col
	}
	// Fallback: any registration-ish column that also says total/sum/all
	// and is not a per-method breakdown.
	for _, col := range columns {
		lower := strings.ToLower(col)
		if containsAny(lower, "registration", "registered", "reg") &&
			containsAny(lower, "total", "sum", "all") &&
			!strings.Contains(lower, "method") {
			return col
		}
	}
	return findByKeywords(columns, registrationKeywords[6:])
}

func findVoteTotal(columns []string) string {
	// Prefer an explicit "... count total" / "... cast total" column.
	for _, col := range columns {
		lower := strings.ToLower(col)
		if (strings.Contains(lower, "count") || strings.Contains(lower, "cast")) &&
			strings.Contains(lower, "total") &&
			!strings.Contains(lower, "method") {
			return col
		}
	}
	if col := findByKeywords(columns, voteCountKeywords[:10]); col != "" {
		return col
	}
	for _, col := range columns {
		lower := strings.ToLower(col)
		if containsAny(lower, "count", "votes", "voted", "turnout") &&
			containsAny(lower, "total", "sum", "all") &&
			!strings.Contains(lower, "method") {
			return col
		}
	}
	return findByKeywords(columns, voteCountKeywords[10:])
}

func (m *RoleMap) detectPartyColumns(columns []string) {
	for _, alias := range partyAliases {
		canonical := canonicalParty(alias)

		regGroups := [][]string{
			{"registration", alias},
			{"registered", alias},
			{"reg", alias},
			{alias, "registration"},
			{alias, "registered"},
			{alias, "reg"},
		}
		if col := findByKeywords(columns, regGroups); col != "" {
			if _, exists := m.PartyRegistration[canonical]; !exists {
				m.PartyRegistration[canonical] = col
			}
		}

		voteGroups := [][]string{
			{"public", "count", alias},
			{"vote", "count", alias},
			{"votes", alias},
			{alias, "votes"},
			{alias, "count"},
			{"ballot", alias},
			{alias, "voted"},
		}
		if col := findByKeywords(columns, voteGroups); col != "" {
			if _, exists := m.PartyVotes[canonical]; !exists {
				m.PartyVotes[canonical] = col
			}
		}
	}
}

// applySafetyChecks fixes detections that would corrupt aggregation: a
// vote total pointed at the vote-method column, or a registration total
// identical to the vote total.
func (m *RoleMap) applySafetyChecks(columns []string) {
	voteCol, hasVote := m.columns[RoleVoteTotal]
	methodCol, hasMethod := m.columns[RoleVoteMethod]
	if hasVote && hasMethod && voteCol == methodCol {
		replacement := ""
		for _, col := range columns {
			lower := strings.ToLower(col)
			if (strings.Contains(lower, "count") || strings.Contains(lower, "cast")) &&
				strings.Contains(lower, "total") && col != methodCol {
				replacement = col
				break
			}
		}
		if replacement != "" {
			m.columns[RoleVoteTotal] = replacement
		} else {
			delete(m.columns, RoleVoteTotal)
		}
	}

	regCol, hasReg := m.columns[RoleRegistrationTotal]
	if hasReg && hasVote && regCol == m.columns[RoleVoteTotal] {
		delete(m.columns, RoleRegistrationTotal)
	}
}

func canonicalParty(alias string) string {
	switch strings.ToLower(alias) {
	case "dem", "democrat":
		return PartyDem
	case "rep", "republican":
		return PartyRep
	case "non", "unaffiliated", "independent":
		return PartyNon
	default:
		if alias == "" {
			return alias
		}
		return strings.ToUpper(alias[:1]) + strings.ToLower(alias[1:])
	}
}

func looksLikeCount(column string) bool {
	lower := strings.ToLower(column)
	return containsAny(lower, "count", "total", "registered", "registration", "votes", "voted")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
