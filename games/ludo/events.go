/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package ludo

// EventKind identifies a state change for the presentation layer.
type EventKind string

const (
	EventGameStarted   EventKind = "game_started"
	EventInvalidStart  EventKind = "invalid_start"
	EventDiceRolled    EventKind = "dice_rolled"
	EventNoValidMove   EventKind = "no_valid_move"
	EventTokenMoved    EventKind = "token_moved"
	EventTokenCaptured EventKind = "token_captured"
	EventTokenFinished EventKind = "token_finished"
	EventExtraTurn     EventKind = "extra_turn"
	EventTurnChanged   EventKind = "turn_changed"
	EventPlayerWon     EventKind = "player_won"
)

// Event is one state change together with the log line it produced.
type Event struct {
	Kind    EventKind `json:"kind"`
	Payload any       `json:"payload,omitempty"`
	Message string    `json:"message"`
}

type GameStartedPayload struct {
	Players []PlayerInfo `json:"players"`
	First   Color        `json:"first"`
}

// PlayerInfo is the public identity of a seated player.
type PlayerInfo struct {
	Color Color  `json:"color"`
	Name  string `json:"name"`
}

type DiceRolledPayload struct {
	Color   Color `json:"color"`
	Value   int   `json:"value"`
	Movable []int `json:"movable"`
}

type NoValidMovePayload struct {
	Color Color `json:"color"`
	Roll  int   `json:"roll"`
}

type TokenMovedPayload struct {
	Color Color    `json:"color"`
	Token int      `json:"token"`
	From  Position `json:"from"`
	To    Position `json:"to"`
}

type TokenCapturedPayload struct {
	By    Color `json:"by"`
	Color Color `json:"color"`
	Token int   `json:"token"`
	Cell  int   `json:"cell"`
}

type TokenFinishedPayload struct {
	Color    Color `json:"color"`
	Token    int   `json:"token"`
	Finished int   `json:"finished"`
}

type ExtraTurnPayload struct {
	Color Color `json:"color"`
}

type TurnChangedPayload struct {
	Color Color `json:"color"`
}

type PlayerWonPayload struct {
	Color Color  `json:"color"`
	Name  string `json:"name"`
}
