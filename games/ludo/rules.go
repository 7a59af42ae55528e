/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package ludo

import "fmt"

// Capture names a token that was sent home.
type Capture struct {
	Color Color `json:"color"`
	Token int   `json:"token"`
}

// MoveOutcome describes the result of ApplyMove.
type MoveOutcome struct {
	Color     Color     `json:"color"`
	Token     int       `json:"token"`
	Roll      int       `json:"roll"`
	From      Position  `json:"from"`
	To        Position  `json:"to"`
	Cell      int       `json:"cell"` // absolute landing cell, -1 unless To is on the track
	Captured  []Capture `json:"captured,omitempty"`
	Completed bool      `json:"completed"`
	Illegal   bool      `json:"illegal"`
}

// Advance returns where a token at pos ends up after roll, and false if
// the move is not allowed.
func Advance(pos Position, roll int) (Position, bool) {
	if roll < 1 || roll > 6 {
		return pos, false
	}

	switch pos.State {
	case AtHome:
		if roll != EntryRoll {
			return pos, false
		}
		return Track(0), true
	case OnTrack:
		next := pos.Progress + roll
		switch {
		case next > FinishLine:
			return pos, false
		case next == FinishLine:
			return Done(), true
		default:
			return Track(next), true
		}
	default:
		return pos, false
	}
}

// MovableTokens returns the indices of p's tokens that can legally move by roll.
func MovableTokens(p *Player, roll int) []int {
	var out []int
	for i, t := range p.Tokens {
		if _, ok := Advance(t, roll); ok {
			out = append(out, i)
		}
	}
	return out
}

// ApplyMove moves token of players[mover] by roll and resolves captures
// against every other player. Nothing changes when the move is illegal.
func ApplyMove(players []*Player, mover, token, roll int) (MoveOutcome, error) {
	if mover < 0 || mover >= len(players) {
		return MoveOutcome{Illegal: true, Cell: -1}, fmt.Errorf("%w: no player at index %d", ErrIllegalMove, mover)
	}
	p := players[mover]

	out := MoveOutcome{Color: p.Color, Token: token, Roll: roll, Cell: -1}
	if token < 0 || token >= TokensPerPlayer {
		out.Illegal = true
		return out, fmt.Errorf("%w: %s has no token %d", ErrIllegalMove, p.Color, token)
	}

	out.From = p.Tokens[token]
	to, ok := Advance(out.From, roll)
	if !ok {
		out.Illegal = true
		out.To = out.From
		return out, fmt.Errorf("%w: %s token %d at %s cannot move %d", ErrIllegalMove, p.Color, token, out.From, roll)
	}

	p.Tokens[token] = to
	out.To = to
	out.Completed = to.State == Finished

	cell, onTrack := to.Cell(p.Color)
	if !onTrack {
		return out, nil
	}
	out.Cell = cell
	out.Captured = captureAt(players, mover, cell)

	return out, nil
}

// captureAt sends home every opposing token on cell, unless cell is safe.
func captureAt(players []*Player, mover, cell int) []Capture {
	if IsSafe(cell) {
		return nil
	}

	var captured []Capture
	for i, other := range players {
		if i == mover {
			continue
		}
		for j, t := range other.Tokens {
			if c, ok := t.Cell(other.Color); ok && c == cell {
				other.Tokens[j] = Home()
				captured = append(captured, Capture{Color: other.Color, Token: j})
			}
		}
	}
	return captured
}

// ChooseToken picks a token for automatic play: a token that finishes
// exactly, then a home token on a six, then the lowest on-track token that
// can move.
func ChooseToken(p *Player, roll int) (int, bool) {
	for i, t := range p.Tokens {
		if to, ok := Advance(t, roll); ok && t.State == OnTrack && to.State == Finished {
			return i, true
		}
	}

	if roll == EntryRoll {
		for i, t := range p.Tokens {
			if t.State == AtHome {
				return i, true
			}
		}
	}

	for i, t := range p.Tokens {
		if _, ok := Advance(t, roll); ok && t.State == OnTrack {
			return i, true
		}
	}

	return -1, false
}
