/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package ludo implements the rules and turn sequencing of a four-color
// race game played on a shared 52-cell ring.
//
// The package has no notion of rendering or transport. A presentation layer
// drives a Session through Start, Roll and ChooseMove, and renders the
// events and snapshots it gets back.
package ludo

import (
	"fmt"
	"strings"
)

const (
	// TrackLength is the number of cells on the shared ring.
	TrackLength = 52
	// FinishLine is the progress a token must reach exactly to finish.
	FinishLine = TrackLength
	// TokensPerPlayer is the number of tokens each color owns.
	TokensPerPlayer = 4
	// EntryRoll is the only roll that lets a token leave home, and the
	// roll that grants another turn.
	EntryRoll = 6
)

// Absolute cells on which tokens cannot be captured.
var safeCells = [...]int{0, 8, 13, 21, 26, 34, 39, 47}

// IsSafe reports whether the absolute track cell is a safe cell.
func IsSafe(cell int) bool {
	for _, c := range safeCells {
		if c == cell {
			return true
		}
	}
	return false
}

// SafeCells returns the safe cell indices in ascending order.
func SafeCells() []int {
	return append([]int(nil), safeCells[:]...)
}

// Color identifies a player. The zero value is Red.
type Color int

const (
	Red Color = iota
	Green
	Yellow
	Blue
)

// Colors lists every color in canonical turn order.
var Colors = [...]Color{Red, Green, Yellow, Blue}

var colorNames = [...]string{"red", "green", "yellow", "blue"}

func (c Color) String() string {
	if c < Red || c > Blue {
		return fmt.Sprintf("Color(%d)", int(c))
	}
	return colorNames[c]
}

// Entry is the absolute cell where tokens of this color join the track.
func (c Color) Entry() int {
	return int(c) * (TrackLength / len(Colors))
}

// ParseColor is the inverse of Color.String, ignoring case and surrounding space.
func ParseColor(s string) (Color, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range colorNames {
		if name == s {
			return Color(i), nil
		}
	}
	return 0, fmt.Errorf("unknown color %q", s)
}

func (c Color) MarshalText() ([]byte, error) {
	if c < Red || c > Blue {
		return nil, fmt.Errorf("invalid color %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *Color) UnmarshalText(b []byte) error {
	parsed, err := ParseColor(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// State is the coarse state of a token.
type State int

const (
	AtHome State = iota
	OnTrack
	Finished
)

func (s State) String() string {
	switch s {
	case AtHome:
		return "home"
	case OnTrack:
		return "track"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Position is where a single token is. Progress is only meaningful when
// State is OnTrack and counts cells travelled from the owner's entry cell.
type Position struct {
	State    State `json:"state"`
	Progress int   `json:"progress,omitempty"`
}

// Home is the position of a token that has not entered the track.
func Home() Position { return Position{State: AtHome} }

// Track returns an on-track position at the given progress.
func Track(progress int) Position { return Position{State: OnTrack, Progress: progress} }

// Done is the position of a finished token.
func Done() Position { return Position{State: Finished} }

// Cell returns the absolute ring cell for a token of color c, and false
// when the token is not on the track.
func (p Position) Cell(c Color) (int, bool) {
	if p.State != OnTrack {
		return 0, false
	}
	return (c.Entry() + p.Progress) % TrackLength, true
}

func (p Position) String() string {
	if p.State == OnTrack {
		return fmt.Sprintf("track+%d", p.Progress)
	}
	return p.State.String()
}

// Player is one color's seat in a session.
type Player struct {
	Color  Color
	Name   string
	Tokens [TokensPerPlayer]Position

	// Buffed marks a player whose name matched the buff phrase. It is read
	// by Dice implementations and never rendered.
	Buffed bool
}

// Label is the "Red (Ann)" form used in log messages.
func (p *Player) Label() string {
	name := p.Name
	if name == "" {
		name = "?"
	}
	s := p.Color.String()
	return strings.ToUpper(s[:1]) + s[1:] + " (" + name + ")"
}

// Won reports whether all four tokens have finished.
func (p *Player) Won() bool {
	for _, t := range p.Tokens {
		if t.State != Finished {
			return false
		}
	}
	return true
}

// FinishedCount returns how many tokens have finished.
func (p *Player) FinishedCount() int {
	n := 0
	for _, t := range p.Tokens {
		if t.State == Finished {
			n++
		}
	}
	return n
}
