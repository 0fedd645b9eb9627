package social

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"
)

func candidateIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}
	return ids
}

func TestAggregateUnanimity(t *testing.T) {
	candidates := candidateIDs(4)
	ballots := []Ballot{
		{ParticipantID: "p1", Ordered: []string{"c", "a", "b", "d"}},
		{ParticipantID: "p2", Ordered: []string{"c", "b", "d", "a"}},
		{ParticipantID: "p3", Ordered: []string{"c", "d", "a", "b"}},
	}

	res, err := Aggregate(candidates, ballots, 1)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if res.Ordered[0] != "c" {
		t.Errorf("unanimous first choice did not win: got %q", res.Ordered[0])
	}
}

func TestAggregateCondorcetWinner(t *testing.T) {
	// "b" beats every other candidate head-to-head by strict majority
	// without being everyone's first choice.
	candidates := candidateIDs(3)
	ballots := []Ballot{
		{ParticipantID: "p1", Ordered: []string{"a", "b", "c"}},
		{ParticipantID: "p2", Ordered: []string{"b", "c", "a"}},
		{ParticipantID: "p3", Ordered: []string{"b", "a", "c"}},
		{ParticipantID: "p4", Ordered: []string{"c", "b", "a"}},
		{ParticipantID: "p5", Ordered: []string{"a", "b", "c"}},
	}

	res, err := Aggregate(candidates, ballots, 1)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if res.Ordered[0] != "b" {
		t.Errorf("Condorcet winner lost: got order %v", res.Ordered)
	}
}

func TestAggregateTotalOrderProperty(t *testing.T) {
	// Randomized ballots must always yield a strict total order.
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		m := 2 + rng.Intn(8)
		k := 1 + rng.Intn(7)
		candidates := candidateIDs(m)

		ballots := make([]Ballot, k)
		for i := range ballots {
			ordered := append([]string(nil), candidates...)
			rng.Shuffle(m, func(x, y int) {
				ordered[x], ordered[y] = ordered[y], ordered[x]
			})
			ballots[i] = Ballot{ParticipantID: "p", Ordered: ordered}
		}

		res, err := Aggregate(candidates, ballots, rng.Int63())
		if err != nil {
			t.Fatalf("trial %d: Aggregate failed: %v", trial, err)
		}
		if len(res.Ordered) != m {
			t.Fatalf("trial %d: got %d candidates, want %d", trial, len(res.Ordered), m)
		}
		seen := map[string]bool{}
		for _, id := range res.Ordered {
			if seen[id] {
				t.Fatalf("trial %d: candidate %q appears twice", trial, id)
			}
			seen[id] = true
		}
	}
}

func TestAggregateDeterministic(t *testing.T) {
	// Two identical ballots with reversed preferences are a pure tie; the
	// seeded tie-break must reproduce the same order on every run.
	candidates := candidateIDs(4)
	ballots := []Ballot{
		{ParticipantID: "p1", Ordered: []string{"a", "b", "c", "d"}},
		{ParticipantID: "p2", Ordered: []string{"d", "c", "b", "a"}},
	}

	first, err := Aggregate(candidates, ballots, 99)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if !first.Tied {
		t.Error("expected a tie to be detected")
	}
	for i := 0; i < 10; i++ {
		again, err := Aggregate(candidates, ballots, 99)
		if err != nil {
			t.Fatalf("Aggregate failed: %v", err)
		}
		if !reflect.DeepEqual(first.Ordered, again.Ordered) {
			t.Fatalf("non-deterministic: %v vs %v", first.Ordered, again.Ordered)
		}
	}
}

func TestAggregateNoTieFlagOnCleanResult(t *testing.T) {
	candidates := candidateIDs(3)
	ballots := []Ballot{
		{ParticipantID: "p1", Ordered: []string{"a", "b", "c"}},
		{ParticipantID: "p2", Ordered: []string{"a", "b", "c"}},
		{ParticipantID: "p3", Ordered: []string{"a", "c", "b"}},
	}

	res, err := Aggregate(candidates, ballots, 7)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if res.Tied {
		t.Error("tie flagged on a strict result")
	}
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(res.Ordered, want) {
		t.Errorf("order mismatch: got %v, want %v", res.Ordered, want)
	}
}

func TestAggregateRejectsMalformedBallots(t *testing.T) {
	candidates := candidateIDs(3)

	cases := []struct {
		name   string
		ballot Ballot
	}{
		{"short", Ballot{ParticipantID: "p", Ordered: []string{"a", "b"}}},
		{"unknown", Ballot{ParticipantID: "p", Ordered: []string{"a", "b", "x"}}},
		{"duplicate", Ballot{ParticipantID: "p", Ordered: []string{"a", "b", "b"}}},
	}
	for _, tc := range cases {
		_, err := Aggregate(candidates, []Ballot{tc.ballot}, 1)
		var inv *InvariantError
		if !errors.As(err, &inv) {
			t.Errorf("%s: expected InvariantError, got %v", tc.name, err)
		}
	}

	if _, err := Aggregate(nil, nil, 1); err == nil {
		t.Error("expected error on empty candidate set")
	}
	if _, err := Aggregate(candidates, nil, 1); err == nil {
		t.Error("expected error on empty ballot set")
	}
}

func TestSeedStable(t *testing.T) {
	ids := []string{"s1", "s2", "s3"}
	a := Seed("delib-1", 0, ids)
	b := Seed("delib-1", 0, []string{"s1", "s2", "s3"})
	if a != b {
		t.Error("seed not stable for identical inputs")
	}
	if a == Seed("delib-1", 1, ids) {
		t.Error("seed should vary with round")
	}
	if a == Seed("delib-2", 0, ids) {
		t.Error("seed should vary with deliberation")
	}
}
