// Package alias produces the blinded display names shown during play, so a
// wallet identity never leaks into the detection game.
package alias

import (
	"fmt"
	"math/rand"
)

var adjectives = []string{
	"Swift", "Clever", "Wise", "Bright", "Sharp", "Quick", "Bold", "Keen",
	"Smart", "Agile", "Witty", "Astute", "Shrewd", "Nimble", "Adept",
}

var scientists = []string{
	"Turing", "Einstein", "Curie", "Newton", "Tesla", "Bohr", "Hawking",
	"Feynman", "Lovelace", "Darwin", "Planck", "Heisenberg", "Schrödinger",
}

func Generate() string {
	return fmt.Sprintf("%s %s",
		adjectives[rand.Intn(len(adjectives))],
		scientists[rand.Intn(len(scientists))])
}
