// Package analyzer classifies inbound prompts into coarse complexity classes
// used to scale quality and cost trade-offs during route selection.
package analyzer

import (
	"strings"
	"unicode"
)

// Complexity is the coarse bucket derived from prompt structure.
type Complexity int

const (
	// Simple prompts are short, plain text.
	Simple Complexity = iota
	// Moderate prompts carry some structural weight (length or code).
	Moderate
	// Complex prompts combine length with embedded code or mixed scripts.
	Complex
)

func (c Complexity) String() string {
	switch c {
	case Simple:
		return "simple"
	case Moderate:
		return "moderate"
	case Complex:
		return "complex"
	default:
		return "unknown"
	}
}

// Scoring weights. The thresholds are structural signals only; no model is
// consulted and the function performs no I/O.
const (
	longPromptWords     = 100
	veryLongPromptWords = 500

	moderateFloor = 3
	complexFloor  = 6
)

// Classify derives a complexity class from the prompt text. Deterministic and
// pure: identical input always yields the identical class.
func Classify(prompt string) Complexity {
	score := 0

	words := len(strings.Fields(prompt))
	if words > longPromptWords {
		score += 2
	}
	if words > veryLongPromptWords {
		score += 3
	}

	if strings.Contains(prompt, "```") {
		score += 2
	}

	if hasNonLatinRun(prompt) {
		score++
	}

	switch {
	case score >= complexFloor:
		return Complex
	case score >= moderateFloor:
		return Moderate
	default:
		return Simple
	}
}

// hasNonLatinRun reports whether the text contains at least two consecutive
// letters outside the Latin script. A single stray rune (an accent, a symbol
// pasted mid-sentence) does not count as a script run.
func hasNonLatinRun(s string) bool {
	run := 0
	for _, r := range s {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			run++
			if run >= 2 {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}
