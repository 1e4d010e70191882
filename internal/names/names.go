// Package names generates human-readable session identifiers and display
// name placeholders.
package names

import (
	"math/rand"
	"strings"
)

var adjectives = []string{
	"happy", "clever", "bright", "swift", "calm", "bold", "wise", "kind",
	"quick", "cool", "warm", "fresh", "sharp", "smooth", "strong", "gentle",
	"brave", "smart", "clear", "neat", "epic", "mega", "turbo", "cosmic",
	"spicy", "crispy", "chunky", "sleepy", "wacky", "silly", "funky", "sparkly",
}

var nouns = []string{
	"cat", "dog", "bird", "fish", "bear", "lion", "wolf", "fox",
	"owl", "hawk", "tree", "star", "moon", "cloud", "lake", "hill",
	"pickle", "banana", "potato", "nugget", "taco", "pizza", "donut", "waffle",
	"unicorn", "dragon", "llama", "sloth", "penguin", "capybara", "otter", "wizard",
}

var verbs = []string{
	"runs", "jumps", "flies", "swims", "sings", "dances", "plays", "reads",
	"draws", "builds", "cooks", "grows", "climbs", "rolls", "spins", "shines",
	"glows", "sparkles", "flows", "vibes", "bops", "zooms", "chills", "bounces",
	"wiggles", "splashes", "munches", "fizzes", "pops", "beeps", "chirps", "purrs",
}

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateSessionName returns a memorable adjective-noun-verb slug, e.g.
// "epic-capybara-vibes".
func GenerateSessionName() string {
	parts := []string{
		adjectives[rand.Intn(len(adjectives))],
		nouns[rand.Intn(len(nouns))],
		verbs[rand.Intn(len(verbs))],
	}
	return strings.Join(parts, "-")
}

// GenerateSessionID appends a short random suffix to a readable slug so
// concurrently created sessions do not collide.
func GenerateSessionID() string {
	return GenerateSessionName() + "-" + randomToken(4)
}

// DefaultDisplayName returns a placeholder name for participants who never
// chose one.
func DefaultDisplayName() string {
	return "User_" + randomToken(8)
}

func randomToken(n int) string {
	var sb strings.Builder
	sb.Grow(n)
	for range n {
		sb.WriteByte(suffixAlphabet[rand.Intn(len(suffixAlphabet))])
	}
	return sb.String()
}
