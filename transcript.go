package caresession

import "strings"

// FormatRounds renders rounds as plain transcript text suitable as
// summarizer or refiner input. Proactive rounds keep their sentinel input
// so the summarizer can tell who opened the exchange.
func FormatRounds(rounds []Round) string {
	var b strings.Builder
	for i, r := range rounds {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("User: ")
		b.WriteString(r.Input)
		b.WriteString("\nBot: ")
		b.WriteString(r.Output)
	}
	return b.String()
}

// RoundTokens estimates the token weight of a single round.
func RoundTokens(r Round) int {
	return EstimateTokens(r.Input) + EstimateTokens(r.Output)
}

// TruncateRounds trims rounds to fit token and round-count limits.
// It applies the round limit first, then the token limit, removing oldest
// rounds as needed so the most recent rounds are preserved.
func TruncateRounds(rounds []Round, tokenLimit, roundLimit int) []Round {
	if len(rounds) == 0 {
		return rounds
	}

	// First, apply round limit
	if roundLimit > 0 && len(rounds) > roundLimit {
		rounds = rounds[len(rounds)-roundLimit:]
	}

	if tokenLimit <= 0 {
		return rounds
	}

	// Then, apply token limit
	totalTokens := 0
	for _, r := range rounds {
		totalTokens += RoundTokens(r)
	}

	// Remove oldest rounds until within token limit
	for totalTokens > tokenLimit && len(rounds) > 0 {
		totalTokens -= RoundTokens(rounds[0])
		rounds = rounds[1:]
	}

	return rounds
}
