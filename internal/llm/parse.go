package llm

import (
	"fmt"
	"strings"
)

// parseAnswer splits a templated model response into explanation and
// payload. The template is "<answer> explanation <sep> payload </answer>";
// the closing tag is usually absent because it is used as a stop sequence,
// and some models omit the opening tag.
func parseAnswer(response string) (explanation, payload string, err error) {
	body := strings.TrimSpace(response)
	body = strings.TrimPrefix(body, "<answer>")
	if i := strings.Index(body, "</answer>"); i >= 0 {
		body = body[:i]
	}

	parts := strings.SplitN(body, "<sep>", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("response missing <sep> separator")
	}

	explanation = strings.TrimSpace(parts[0])
	payload = strings.TrimSpace(parts[1])
	if payload == "" {
		return "", "", fmt.Errorf("response has empty payload after <sep>")
	}
	return explanation, payload, nil
}

// parseArrowRanking parses an arrow ranking such as "C > A > B" into
// statement indices, most preferred first. The ranking must be a strict
// permutation: every one of the n statement letters exactly once, no ties.
func parseArrowRanking(payload string, n int) ([]int, error) {
	// Models occasionally wrap the ranking in prose; keep only the last
	// line containing a ">".
	line := payload
	for _, l := range strings.Split(payload, "\n") {
		if strings.Contains(l, ">") {
			line = l
		}
	}

	tokens := strings.Split(line, ">")
	if len(tokens) != n {
		return nil, fmt.Errorf("arrow ranking has %d entries, want %d: %q", len(tokens), n, line)
	}

	indices := make([]int, 0, n)
	seen := make([]bool, n)
	for _, tok := range tokens {
		tok = strings.TrimSpace(strings.Trim(strings.TrimSpace(tok), ".,"))
		if len(tok) != 1 {
			return nil, fmt.Errorf("invalid ranking token %q in %q", tok, line)
		}
		idx := int(tok[0] - 'A')
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("ranking letter %q out of range in %q", tok, line)
		}
		if seen[idx] {
			return nil, fmt.Errorf("ranking letter %q repeated in %q", tok, line)
		}
		seen[idx] = true
		indices = append(indices, idx)
	}
	return indices, nil
}
