package dispatch

import (
	"strings"

	"github.com/emberwood/gameserver/internal/lucidity"
)

// DampenResult is the outcome of applying a recipient's lucidity tier to a
// message: either blocked outright, or delivered with possibly rewritten
// text and descriptive tags.
type DampenResult struct {
	Blocked bool
	Message string
	Tags    []string
}

// Dampen applies the tier-keyed communication dampening transform. Lucid
// recipients hear everything unchanged; lost recipients hear nothing.
func Dampen(tier lucidity.Tier, message string) DampenResult {
	switch tier {
	case lucidity.TierHazy:
		return DampenResult{Message: message, Tags: []string{"muffled"}}
	case lucidity.TierDelirious:
		return DampenResult{Message: garble(message), Tags: []string{"distorted"}}
	case lucidity.TierLost:
		return DampenResult{Blocked: true}
	default:
		return DampenResult{Message: message}
	}
}

// garble replaces every second word with an ellipsis, so delirious
// recipients catch fragments of what was said.
func garble(message string) string {
	words := strings.Fields(message)
	for i := range words {
		if i%2 == 1 {
			words[i] = "..."
		}
	}
	return strings.Join(words, " ")
}
