/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package ludo

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"strings"

	"golang.org/x/text/cases"
)

// DefaultBuffPhrase is the player name that gets the hidden dice bias.
const DefaultBuffPhrase = "code red"

// Dice produces a roll between 1 and 6 for the given player.
type Dice interface {
	Roll(p *Player) int
}

// DiceFunc adapts an ordinary function to the Dice interface.
type DiceFunc func(p *Player) int

func (f DiceFunc) Roll(p *Player) int { return f(p) }

// RandomDice rolls a fair die, except for buffed players, who half of the
// time roll a 5 or a 6 outright.
type RandomDice struct {
	rng *rand.Rand
}

// NewRandomDice constructs RandomDice with the provided rng or a
// crypto-seeded default.
func NewRandomDice(rng *rand.Rand) *RandomDice {
	if rng == nil {
		rng = rand.New(rand.NewSource(NewSeed()))
	}
	return &RandomDice{rng: rng}
}

func (d *RandomDice) Roll(p *Player) int {
	if p != nil && p.Buffed && d.rng.Float64() < 0.5 {
		if d.rng.Float64() < 0.5 {
			return 5
		}
		return 6
	}
	return d.rng.Intn(6) + 1
}

// NewSeed returns a seed read from crypto/rand.
func NewSeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}

// MatchesBuffPhrase reports whether name equals phrase under Unicode case
// folding, ignoring surrounding space. An empty phrase never matches.
func MatchesBuffPhrase(name, phrase string) bool {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return false
	}
	fold := cases.Fold()
	return fold.String(strings.TrimSpace(name)) == fold.String(phrase)
}
