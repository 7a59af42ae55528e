/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package ludo

import "fmt"

// Phase is the turn sequencer's state.
type Phase int

const (
	// PhaseIdle means no game has been started.
	PhaseIdle Phase = iota
	PhaseAwaitingRoll
	PhaseAwaitingMove
	PhaseGameOver
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingRoll:
		return "awaiting_roll"
	case PhaseAwaitingMove:
		return "awaiting_move"
	case PhaseGameOver:
		return "game_over"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Turn is a snapshot of the sequencer. Color is the player to act, or the
// winner once Phase is PhaseGameOver. Roll and Movable are set only while
// a move is pending.
type Turn struct {
	Phase   Phase `json:"phase"`
	Color   Color `json:"color"`
	Roll    int   `json:"roll,omitempty"`
	Movable []int `json:"movable,omitempty"`
}

// sequencer rotates through a fixed set of seats.
type sequencer struct {
	seats   int
	current int
	phase   Phase
	roll    int
	movable []int
}

func (s *sequencer) reset(seats int) {
	*s = sequencer{seats: seats, phase: PhaseAwaitingRoll}
}

func (s *sequencer) awaitMove(roll int, movable []int) {
	s.phase = PhaseAwaitingMove
	s.roll = roll
	s.movable = movable
}

func (s *sequencer) canMove(token int) bool {
	if s.phase != PhaseAwaitingMove {
		return false
	}
	for _, t := range s.movable {
		if t == token {
			return true
		}
	}
	return false
}

// resolve closes out a roll, whether it moved a token or was forfeited,
// and reports whether the same seat rolls again.
func (s *sequencer) resolve(roll int, won bool) (again bool) {
	s.roll = 0
	s.movable = nil

	if won {
		s.phase = PhaseGameOver
		return false
	}

	s.phase = PhaseAwaitingRoll
	if roll == EntryRoll {
		return true
	}

	s.current = (s.current + 1) % s.seats
	return false
}
