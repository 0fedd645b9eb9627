package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockGenerator is a deterministic CandidateGenerator for tests and offline
// demos. It synthesizes candidate text from the request without any network
// calls.
type MockGenerator struct {
	mu sync.Mutex
	// FailuresRemaining makes the next N Generate calls fail. Used to
	// exercise retry and failure-surfacing paths.
	FailuresRemaining int
	// Short caps the number of candidates returned, regardless of the
	// requested count. Zero means no cap.
	Short int

	calls int
}

var _ CandidateGenerator = (*MockGenerator)(nil)

// Generate returns n synthetic candidates built from the request contents.
func (m *MockGenerator) Generate(ctx context.Context, req GenerateRequest, n int) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls++
	call := m.calls
	fail := m.FailuresRemaining > 0
	if fail {
		m.FailuresRemaining--
	}
	short := m.Short
	m.mu.Unlock()

	if fail {
		return nil, fmt.Errorf("mock generation failure (call %d)", call)
	}

	if short > 0 && short < n {
		n = short
	}

	kind := "opinions"
	if req.Revision() {
		kind = "critiques"
	}

	candidates := make([]Candidate, n)
	for i := range candidates {
		candidates[i] = Candidate{
			Text:        fmt.Sprintf("Candidate %d (round %d): position drawing on %d %s regarding %q.", i+1, call, len(req.Opinions), kind, req.Question),
			Explanation: fmt.Sprintf("Synthesized deterministically from %d inputs.", len(req.Opinions)),
			Model:       "mock",
		}
	}
	return candidates, nil
}

// Calls returns how many times Generate has been invoked.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockPredictor is a deterministic PreferencePredictor that ranks statements
// by how close their length is to the participant's opinion length, preferring
// earlier statements on ties.
type MockPredictor struct {
	mu sync.Mutex
	// FailuresRemaining makes the next N Rank calls fail.
	FailuresRemaining int

	calls int
}

var _ PreferencePredictor = (*MockPredictor)(nil)

// Rank returns a full ranking over the statements, best first.
func (m *MockPredictor) Rank(ctx context.Context, req RankRequest) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls++
	call := m.calls
	fail := m.FailuresRemaining > 0
	if fail {
		m.FailuresRemaining--
	}
	m.mu.Unlock()

	if fail {
		return nil, fmt.Errorf("mock prediction failure (call %d)", call)
	}

	n := len(req.Statements)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	target := len(req.Opinion)
	score := func(i int) int {
		d := len(req.Statements[i]) - target
		if d < 0 {
			d = -d
		}
		return d
	}

	// Insertion sort keeps ties in index order.
	for i := 1; i < n; i++ {
		for j := i; j > 0 && score(order[j]) < score(order[j-1]); j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	return order, nil
}

// Calls returns how many times Rank has been invoked.
func (m *MockPredictor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
