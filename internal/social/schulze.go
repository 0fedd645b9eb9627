// Package social implements rank aggregation over candidate statements.
// It provides a Schulze-method aggregator (Schulze, M. 2011) that turns
// individual strict rankings into a single group order, with deterministic
// tie-breaking so identical inputs always reproduce the same result.
package social

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
)

// InvariantError signals malformed input reaching the aggregator, such as a
// ballot that is not a permutation of the candidate set. It indicates a bug
// in the caller and is never retried.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return "aggregation invariant violation: " + e.Reason
}

// Ballot is one participant's full strict ranking: candidate IDs ordered
// from most to least preferred.
type Ballot struct {
	// ParticipantID identifies whose preferences these are.
	ParticipantID string
	// Ordered lists candidate IDs, best first.
	Ordered []string
}

// Result holds the aggregated group order.
type Result struct {
	// Ordered lists candidate IDs from winner to loser. Always a strict
	// total order over the input candidate set.
	Ordered []string
	// Tied is true if the Schulze relation alone left a genuine tie that
	// had to be broken by the seeded tie-break procedure.
	Tied bool
}

// Seed derives the deterministic tie-break seed for a round from the
// deliberation identity and candidate set, so re-running aggregation on the
// same inputs reproduces the same order.
func Seed(deliberationID string, round int, candidateIDs []string) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d", deliberationID, round)
	for _, id := range candidateIDs {
		h.Write([]byte("|"))
		h.Write([]byte(id))
	}
	return int64(h.Sum64())
}

// Aggregate computes the Schulze group ranking over candidates given one
// ballot per participant. Every ballot must be a permutation of candidates.
// Ties in the Schulze relation are broken first by randomly drawn ballots
// (tie-breaking ranking of the candidates), then by a seeded random order,
// so the result is a strict total order and deterministic for a given seed.
func Aggregate(candidates []string, ballots []Ballot, seed int64) (*Result, error) {
	m := len(candidates)
	if m == 0 {
		return nil, &InvariantError{Reason: "empty candidate set"}
	}
	if len(ballots) == 0 {
		return nil, &InvariantError{Reason: "no ballots"}
	}

	index := make(map[string]int, m)
	for i, id := range candidates {
		if _, dup := index[id]; dup {
			return nil, &InvariantError{Reason: fmt.Sprintf("duplicate candidate %q", id)}
		}
		index[id] = i
	}

	// positions[k][c] is candidate c's position in ballot k; lower is better.
	positions := make([][]int, len(ballots))
	for k, b := range ballots {
		pos, err := ballotPositions(index, b)
		if err != nil {
			return nil, err
		}
		positions[k] = pos
	}

	defeats := pairwiseDefeats(positions, m)
	strengths := strongestPaths(defeats)

	// A candidate's score is how many others it beats via strongest paths.
	beats := make([]int, m)
	for a := 0; a < m; a++ {
		for b := 0; b < m; b++ {
			if a != b && strengths[a][b] > strengths[b][a] {
				beats[a]++
			}
		}
	}

	order := make([]int, m)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return beats[order[i]] > beats[order[j]]
	})

	tied := hasTies(order, beats)
	if tied {
		rng := rand.New(rand.NewSource(seed))
		order = breakTies(order, beats, positions, rng)
	}

	ordered := make([]string, m)
	for i, c := range order {
		ordered[i] = candidates[c]
	}
	return &Result{Ordered: ordered, Tied: tied}, nil
}

// ballotPositions converts an ordered ballot into a position-per-candidate
// array, verifying the ballot covers the candidate set exactly once.
func ballotPositions(index map[string]int, b Ballot) ([]int, error) {
	m := len(index)
	if len(b.Ordered) != m {
		return nil, &InvariantError{Reason: fmt.Sprintf(
			"ballot for %s has %d entries, want %d", b.ParticipantID, len(b.Ordered), m)}
	}
	pos := make([]int, m)
	seen := make([]bool, m)
	for p, id := range b.Ordered {
		c, ok := index[id]
		if !ok {
			return nil, &InvariantError{Reason: fmt.Sprintf(
				"ballot for %s names unknown candidate %q", b.ParticipantID, id)}
		}
		if seen[c] {
			return nil, &InvariantError{Reason: fmt.Sprintf(
				"ballot for %s ranks candidate %q twice", b.ParticipantID, id)}
		}
		seen[c] = true
		pos[c] = p
	}
	return pos, nil
}

// pairwiseDefeats counts, for each ordered pair (a, b), the participants
// ranking a strictly above b.
func pairwiseDefeats(positions [][]int, m int) [][]int {
	d := matrix(m)
	for _, pos := range positions {
		for a := 0; a < m; a++ {
			for b := 0; b < m; b++ {
				if pos[a] < pos[b] {
					d[a][b]++
				}
			}
		}
	}
	return d
}

// strongestPaths computes the widest-path matrix over the defeat graph with
// a Floyd-Warshall style relaxation. Only winning pairwise preferences seed
// the paths.
func strongestPaths(defeats [][]int) [][]int {
	m := len(defeats)
	p := matrix(m)
	for a := 0; a < m; a++ {
		for b := 0; b < m; b++ {
			if a != b && defeats[a][b] > defeats[b][a] {
				p[a][b] = defeats[a][b]
			}
		}
	}
	for via := 0; via < m; via++ {
		for a := 0; a < m; a++ {
			if a == via {
				continue
			}
			for b := 0; b < m; b++ {
				if b == via || b == a {
					continue
				}
				if w := min(p[a][via], p[via][b]); w > p[a][b] {
					p[a][b] = w
				}
			}
		}
	}
	return p
}

func hasTies(order, beats []int) bool {
	for i := 1; i < len(order); i++ {
		if beats[order[i-1]] == beats[order[i]] {
			return true
		}
	}
	return false
}

// breakTies resolves groups of candidates with equal beat counts. Shuffled
// participant ballots are applied in turn, each ordering tied candidates by
// that participant's preference; a final seeded random ballot settles
// anything the ballots could not.
func breakTies(order, beats []int, positions [][]int, rng *rand.Rand) []int {
	ballots := make([][]int, len(positions))
	copy(ballots, positions)
	rng.Shuffle(len(ballots), func(i, j int) {
		ballots[i], ballots[j] = ballots[j], ballots[i]
	})

	// Random ballot of last resort. With strict input ballots a single
	// participant ballot unties everything, but the fallback keeps the
	// result total no matter what.
	final := make([]int, len(beats))
	for i := range final {
		final[i] = i
	}
	rng.Shuffle(len(final), func(i, j int) {
		final[i], final[j] = final[j], final[i]
	})
	ballots = append(ballots, final)

	keys := make([][]int, len(beats))
	for _, c := range order {
		keys[c] = []int{-beats[c]}
	}
	for _, ballot := range ballots {
		for c := range keys {
			keys[c] = append(keys[c], ballot[c])
		}
		if untied(order, keys) {
			break
		}
	}

	sorted := make([]int, len(order))
	copy(sorted, order)
	sort.SliceStable(sorted, func(i, j int) bool {
		return lessKey(keys[sorted[i]], keys[sorted[j]])
	})
	return sorted
}

// untied reports whether the accumulated tie-break keys already induce a
// strict order.
func untied(order []int, keys [][]int) bool {
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			a, b := keys[order[i]], keys[order[j]]
			if !lessKey(a, b) && !lessKey(b, a) {
				return false
			}
		}
	}
	return true
}

func lessKey(a, b []int) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func matrix(m int) [][]int {
	rows := make([][]int, m)
	for i := range rows {
		rows[i] = make([]int, m)
	}
	return rows
}
