package llm

import (
	"fmt"
	"strings"
)

// statementPrompt builds the generation prompt for one candidate statement.
// Round 0 requests a first draft from the opinions alone; later rounds
// request a revision of the previous winner incorporating the critiques.
func statementPrompt(req GenerateRequest) string {
	var b strings.Builder

	if req.Revision() {
		b.WriteString(`You are assisting a citizens' jury in forming a consensus opinion on an important question. The jury members have provided their individual opinions, a first draft of a consensus statement was created, and critiques of that draft were gathered. Your role is to generate a revised consensus statement that incorporates the feedback and aims to better represent the collective view of the jury. Ensure the revised statement does not conflict with the individual opinions.

Think through the task step by step: analyze the opinions, weigh the previous draft against the critiques, and synthesize a revised statement that addresses the concerns raised.`)
	} else {
		b.WriteString(`You are assisting a citizens' jury in forming an initial consensus opinion on an important question. The jury members have provided their individual opinions. Your role is to generate a draft consensus statement that captures the main points of agreement and represents the collective view of the jury. The draft statement must not conflict with any of the individual opinions.

Think through the task step by step: analyze the opinions, note themes and points of agreement, and synthesize a concise statement reflecting the shared perspective.`)
	}

	b.WriteString(`

Provide your answer in the following format:
<answer>
[Your step-by-step reasoning and explanation for the statement]
<sep>
[Consensus statement]
</answer>

It is important to follow the template EXACTLY: start with <answer>, then the explanation, then <sep>, then only the statement, then </answer>.

Question: `)
	b.WriteString(req.Question)
	b.WriteString("\n\nIndividual Opinions:\n")
	for i, opinion := range req.Opinions {
		fmt.Fprintf(&b, "Opinion Person %d: %s\n", i+1, opinion)
	}

	if req.Revision() {
		b.WriteString("\nPrevious Draft Consensus Statement: ")
		b.WriteString(req.PreviousWinner)
		b.WriteString("\n\nCritiques of the Previous Draft:\n")
		for i, critique := range req.Critiques {
			fmt.Fprintf(&b, "Critique Person %d: %s\n", i+1, critique)
		}
	}

	return strings.TrimSpace(b.String())
}

// rankingPrompt builds the preference prediction prompt. Statements are
// labeled A, B, C, ... and the model must answer with an arrow ranking
// such as "C > A > B" covering every letter exactly once.
func rankingPrompt(req RankRequest) string {
	var b strings.Builder

	b.WriteString(`As an AI assistant, your job is to rank these statements in the order that the participant would most likely agree with them, based on their opinion`)
	if req.PreviousWinner != "" {
		b.WriteString(` and their critique of a summary statement from a previous discussion round`)
	}
	b.WriteString(`. Use arrow notation for the ranking, where ">" means "preferred to". Ties are NOT allowed and items must be in descending order of preference, so you can ONLY use ">" and the letters of the statements in the final ranking. Examples of valid final rankings: B > A, D > A > C > B.

Provide your answer in the following format:
<answer>
[Your step-by-step reasoning and explanation for the ranking]
<sep>
[Final ranking using arrow notation]
</answer>

It is important to follow the template EXACTLY: start with <answer>, then the explanation, then <sep>, then only the final ranking, then </answer>.

Question: `)
	b.WriteString(req.Question)
	b.WriteString("\n\nParticipant's Opinion: ")
	b.WriteString(req.Opinion)

	if req.PreviousWinner != "" {
		b.WriteString("\n\nStatement from previous round: ")
		b.WriteString(req.PreviousWinner)
		b.WriteString("\n\nCritique: ")
		b.WriteString(req.Critique)
	}

	b.WriteString("\n\nStatements to rank:\n")
	for i, statement := range req.Statements {
		fmt.Fprintf(&b, "%c. %s\n", statementLetter(i), strings.TrimSpace(statement))
	}

	return strings.TrimSpace(b.String())
}

// statementLetter returns the label for statement i: A..Z.
func statementLetter(i int) rune {
	return rune('A' + i)
}
