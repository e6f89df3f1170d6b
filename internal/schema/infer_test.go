package schema

import (
	"reflect"
	"testing"
)

func TestInferDetectsSpecColumns(t *testing.T) {
	columns := []string{"Precinct", "Registered", "Voted", "Party"}
	m := Infer(columns)

	if col, ok := m.Column(RolePrecinct); !ok || col != "Precinct" {
		t.Fatalf("precinct = (%q, %v)", col, ok)
	}
	if col, ok := m.Column(RoleRegistrationTotal); !ok || col != "Registered" {
		t.Fatalf("registration_total = (%q, %v)", col, ok)
	}
	if col, ok := m.Column(RoleVoteTotal); !ok || col != "Voted" {
		t.Fatalf("vote_total = (%q, %v)", col, ok)
	}
	if col, ok := m.Column(RoleParty); !ok || col != "Party" {
		t.Fatalf("party = (%q, %v)", col, ok)
	}
	if _, ok := m.Column(RoleVoteMethod); ok {
		t.Fatal("vote_method should be absent")
	}
}

func TestInferElectionExportHeader(t *testing.T) {
	columns := []string{
		"Precinct Name",
		"Vote Method",
		"Registration Total",
		"Public Count Total",
		"Registration Dem",
		"Registration Rep",
		"Registration Non",
		"Public Count Dem",
		"Public Count Rep",
		"Public Count Non",
	}
	m := Infer(columns)

	if col, _ := m.Column(RolePrecinct); col != "Precinct Name" {
		t.Fatalf("precinct = %q", col)
	}
	if col, _ := m.Column(RoleVoteMethod); col != "Vote Method" {
		t.Fatalf("vote_method = %q", col)
	}
	if col, _ := m.Column(RoleRegistrationTotal); col != "Registration Total" {
		t.Fatalf("registration_total = %q", col)
	}
	if col, _ := m.Column(RoleVoteTotal); col != "Public Count Total" {
		t.Fatalf("vote_total = %q", col)
	}

	wantReg := map[string]string{
		PartyDem: "Registration Dem",
		PartyRep: "Registration Rep",
		PartyNon: "Registration Non",
	}
	if !reflect.DeepEqual(m.PartyRegistration, wantReg) {
		t.Fatalf("party registration = %v", m.PartyRegistration)
	}
	wantVotes := map[string]string{
		PartyDem: "Public Count Dem",
		PartyRep: "Public Count Rep",
		PartyNon: "Public Count Non",
	}
	if !reflect.DeepEqual(m.PartyVotes, wantVotes) {
		t.Fatalf("party votes = %v", m.PartyVotes)
	}
}

func TestInferIsIdempotent(t *testing.T) {
	columns := []string{"Ward Name", "Ballot Type", "Total Registered", "Ballots Cast Total", "DOB"}
	first := Infer(columns)
	second := Infer(columns)

	if !reflect.DeepEqual(first.Roles(), second.Roles()) {
		t.Fatalf("role maps differ: %v vs %v", first.Roles(), second.Roles())
	}
	if !reflect.DeepEqual(first.PartyRegistration, second.PartyRegistration) {
		t.Fatal("party registration maps differ")
	}
}

func TestInferVoteTotalNeverMethodColumn(t *testing.T) {
	// A header where the method column also scores against vote keywords.
	columns := []string{"Precinct", "Vote Count Method", "Vote Count Total"}
	m := Infer(columns)

	voteCol, ok := m.Column(RoleVoteTotal)
	if !ok {
		t.Fatal("expected a vote total column")
	}
	methodCol, _ := m.Column(RoleVoteMethod)
	if voteCol == methodCol {
		t.Fatalf("vote total resolved to the method column %q", voteCol)
	}
	if voteCol != "Vote Count Total" {
		t.Fatalf("vote_total = %q", voteCol)
	}
}

func TestInferLeavesUnmatchedRolesAbsent(t *testing.T) {
	m := Infer([]string{"id", "first_name", "last_name", "address"})

	for _, role := range []Role{RolePrecinct, RoleVoteMethod, RoleParty, RoleRegistrationTotal, RoleVoteTotal, RoleDateOfBirth} {
		if col, ok := m.Column(role); ok {
			t.Errorf("role %s unexpectedly mapped to %q", role, col)
		}
	}
	if len(m.PartyRegistration) != 0 || len(m.PartyVotes) != 0 {
		t.Fatalf("expected no party columns, got %v / %v", m.PartyRegistration, m.PartyVotes)
	}
}

func TestInferDateOfBirth(t *testing.T) {
	m := Infer([]string{"Precinct", "Date Of Birth", "Registered Total", "Voted Total"})
	if col, ok := m.Column(RoleDateOfBirth); !ok || col != "Date Of Birth" {
		t.Fatalf("date_of_birth = (%q, %v)", col, ok)
	}
}

func TestNormalizeName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Reg_Total", "reg total"},
		{"  Precinct-Name ", "precinct name"},
		{"PUBLIC COUNT (TOTAL)", "public count total"},
	}
	for _, c := range cases {
		if got := normalizeName(c.in); got != c.want {
			t.Errorf("normalizeName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestMatchScoreWordBoundaryBeatsSubstring(t *testing.T) {
	whole := matchScore("Precinct Name", []string{"precinct"})
	partial := matchScore("PrecinctCode", []string{"precinct"})
	if whole != 10 {
		t.Fatalf("whole-word score = %d, want 10", whole)
	}
	if partial != 5 {
		t.Fatalf("substring score = %d, want 5", partial)
	}
}
