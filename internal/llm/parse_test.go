package llm

import (
	"context"
	"strings"
	"testing"
)

func TestParseAnswer(t *testing.T) {
	explanation, payload, err := parseAnswer("<answer>The group broadly agrees.<sep>We should fund the library.</answer>")
	if err != nil {
		t.Fatalf("parseAnswer() error = %v", err)
	}
	if explanation != "The group broadly agrees." {
		t.Errorf("explanation = %q", explanation)
	}
	if payload != "We should fund the library." {
		t.Errorf("payload = %q", payload)
	}
}

func TestParseAnswerMissingClosingTag(t *testing.T) {
	// The closing tag is a stop sequence, so it is normally absent.
	_, payload, err := parseAnswer("<answer>reasoning here<sep>The statement.")
	if err != nil {
		t.Fatalf("parseAnswer() error = %v", err)
	}
	if payload != "The statement." {
		t.Errorf("payload = %q, want %q", payload, "The statement.")
	}
}

func TestParseAnswerMissingSep(t *testing.T) {
	if _, _, err := parseAnswer("<answer>just prose, no separator</answer>"); err == nil {
		t.Error("parseAnswer() should reject a response without <sep>")
	}
}

func TestParseAnswerEmptyPayload(t *testing.T) {
	if _, _, err := parseAnswer("<answer>reasoning<sep>   </answer>"); err == nil {
		t.Error("parseAnswer() should reject an empty payload")
	}
}

func TestParseArrowRanking(t *testing.T) {
	got, err := parseArrowRanking("C > A > B", 3)
	if err != nil {
		t.Fatalf("parseArrowRanking() error = %v", err)
	}
	want := []int{2, 0, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("parseArrowRanking() = %v, want %v", got, want)
		}
	}
}

func TestParseArrowRankingKeepsLastLine(t *testing.T) {
	payload := "Considering statement A > statement B tradeoffs:\nB > A"
	got, err := parseArrowRanking(payload, 2)
	if err != nil {
		t.Fatalf("parseArrowRanking() error = %v", err)
	}
	if got[0] != 1 || got[1] != 0 {
		t.Errorf("parseArrowRanking() = %v, want [1 0]", got)
	}
}

func TestParseArrowRankingTrailingPunctuation(t *testing.T) {
	got, err := parseArrowRanking("A > C > B.", 3)
	if err != nil {
		t.Fatalf("parseArrowRanking() error = %v", err)
	}
	if got[2] != 1 {
		t.Errorf("last index = %d, want 1", got[2])
	}
}

func TestParseArrowRankingRejectsMalformed(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		n       int
	}{
		{"too few entries", "A > B", 3},
		{"too many entries", "A > B > C > A", 3},
		{"repeated letter", "A > A > B", 3},
		{"letter out of range", "A > B > D", 3},
		{"multi-char token", "AB > C > D", 3},
		{"lowercase letter", "a > b > c", 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseArrowRanking(tc.payload, tc.n); err == nil {
				t.Errorf("parseArrowRanking(%q, %d) should fail", tc.payload, tc.n)
			}
		})
	}
}

func TestStatementPromptIncludesInputs(t *testing.T) {
	prompt := statementPrompt(GenerateRequest{
		Question: "Should the town build a new pool?",
		Opinions: []string{"Yes, swimming is healthy.", "No, too expensive."},
	})
	if !strings.Contains(prompt, "Should the town build a new pool?") {
		t.Error("prompt missing question")
	}
	if !strings.Contains(prompt, "No, too expensive.") {
		t.Error("prompt missing opinion")
	}
	if !strings.Contains(prompt, "<answer>") {
		t.Error("prompt missing answer template")
	}
}

func TestStatementPromptRevisionIncludesCritiques(t *testing.T) {
	prompt := statementPrompt(GenerateRequest{
		Question:       "Should the town build a new pool?",
		Opinions:       []string{"Yes.", "No."},
		PreviousWinner: "A modest pool with community funding.",
		Critiques:      []string{"Too vague on cost.", "Ignores maintenance."},
	})
	if !strings.Contains(prompt, "A modest pool with community funding.") {
		t.Error("revision prompt missing previous winner")
	}
	if !strings.Contains(prompt, "Ignores maintenance.") {
		t.Error("revision prompt missing critique")
	}
}

func TestRankingPromptLabelsStatements(t *testing.T) {
	prompt := rankingPrompt(RankRequest{
		Question:   "Q",
		Opinion:    "my view",
		Statements: []string{"first", "second", "third"},
	})
	for _, want := range []string{"A. first", "B. second", "C. third"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("ranking prompt missing %q", want)
		}
	}
}

func TestRankRejectsUnlabelableStatementCounts(t *testing.T) {
	p := &Predictor{}

	// Statement sets beyond the A-Z label alphabet are rejected before
	// any API call is made.
	req := RankRequest{Question: "Q", Opinion: "O"}
	for i := 0; i <= MaxRankableStatements; i++ {
		req.Statements = append(req.Statements, "statement")
	}
	if _, err := p.Rank(context.Background(), req); err == nil {
		t.Errorf("Rank() with %d statements succeeded, want error", len(req.Statements))
	}

	req.Statements = req.Statements[:1]
	if _, err := p.Rank(context.Background(), req); err == nil {
		t.Error("Rank() with a single statement succeeded, want error")
	}
}
