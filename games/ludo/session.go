/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package ludo

import (
	"fmt"
	"strings"
)

// Session is one game. It is not safe for concurrent use; callers that
// share a Session between goroutines must serialize access.
type Session struct {
	dice       Dice
	buffPhrase string

	players  []*Player
	turn     sequencer
	lastRoll int
	log      []string
}

// Option configures a Session.
type Option func(*Session)

// WithBuffPhrase overrides DefaultBuffPhrase. An empty phrase disables the buff.
func WithBuffPhrase(phrase string) Option {
	return func(s *Session) {
		s.buffPhrase = phrase
	}
}

// NewSession constructs a Session rolling with dice, or with crypto-seeded
// RandomDice when dice is nil.
func NewSession(dice Dice, opts ...Option) *Session {
	if dice == nil {
		dice = NewRandomDice(nil)
	}
	s := &Session{
		dice:       dice,
		buffPhrase: DefaultBuffPhrase,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start seats a player for every color with a non-blank name and resets
// all tokens. On ErrNoPlayers the previous game, if any, is left untouched.
func (s *Session) Start(names map[Color]string) ([]Event, error) {
	var players []*Player
	for _, c := range Colors {
		name := strings.TrimSpace(names[c])
		if name == "" {
			continue
		}
		p := &Player{
			Color:  c,
			Name:   name,
			Buffed: MatchesBuffPhrase(name, s.buffPhrase),
		}
		for i := range p.Tokens {
			p.Tokens[i] = Home()
		}
		players = append(players, p)
	}

	if len(players) == 0 {
		return []Event{{
			Kind:    EventInvalidStart,
			Message: "Enter at least 1 player.",
		}}, ErrNoPlayers
	}

	s.players = players
	s.turn.reset(len(players))
	s.lastRoll = 0
	s.log = nil

	info := make([]PlayerInfo, 0, len(players))
	for _, p := range players {
		info = append(info, PlayerInfo{Color: p.Color, Name: p.Name})
	}

	return []Event{
		s.event(EventGameStarted, GameStartedPayload{Players: info, First: players[0].Color},
			"Game started! %s rolls first.", players[0].Label()),
	}, nil
}

// Roll rolls for the player on turn. When no token can move, the roll is
// forfeited and the turn resolves immediately.
func (s *Session) Roll() (int, []Event, error) {
	switch s.turn.phase {
	case PhaseIdle:
		return 0, nil, fmt.Errorf("%w: no game in progress", ErrInvalidState)
	case PhaseGameOver:
		return 0, nil, fmt.Errorf("%w: game is over", ErrInvalidState)
	case PhaseAwaitingMove:
		return 0, nil, fmt.Errorf("%w: a move is pending for roll %d", ErrInvalidState, s.turn.roll)
	}

	p := s.players[s.turn.current]
	value := s.dice.Roll(p)
	if value < 1 || value > 6 {
		return 0, nil, fmt.Errorf("%w: dice returned %d", ErrInvalidState, value)
	}
	s.lastRoll = value

	movable := MovableTokens(p, value)
	events := []Event{
		s.event(EventDiceRolled, DiceRolledPayload{Color: p.Color, Value: value, Movable: movable},
			"%s rolled %d.", p.Label(), value),
	}

	if len(movable) == 0 {
		events = append(events, s.event(EventNoValidMove, NoValidMovePayload{Color: p.Color, Roll: value},
			"%s cannot move.", p.Label()))
		return value, append(events, s.endTurn(p, value)...), nil
	}

	s.turn.awaitMove(value, movable)
	return value, events, nil
}

// ChooseMove moves token of the player on turn by the pending roll.
func (s *Session) ChooseMove(token int) (MoveOutcome, []Event, error) {
	if err := s.checkMove(); err != nil {
		return MoveOutcome{Illegal: true, Cell: -1}, nil, err
	}
	return s.apply(token)
}

// Move is ChooseMove for callers that also name the color, which must be
// the color on turn.
func (s *Session) Move(color Color, token int) (MoveOutcome, []Event, error) {
	if err := s.checkMove(); err != nil {
		return MoveOutcome{Illegal: true, Cell: -1}, nil, err
	}
	if p := s.players[s.turn.current]; p.Color != color {
		return MoveOutcome{Color: color, Token: token, Illegal: true, Cell: -1}, nil,
			fmt.Errorf("%w: it is %s's turn, not %s's", ErrIllegalMove, p.Color, color)
	}
	return s.apply(token)
}

// AutoMove resolves the pending roll with ChooseToken.
func (s *Session) AutoMove() (MoveOutcome, []Event, error) {
	if err := s.checkMove(); err != nil {
		return MoveOutcome{Illegal: true, Cell: -1}, nil, err
	}
	token, ok := ChooseToken(s.players[s.turn.current], s.turn.roll)
	if !ok {
		return MoveOutcome{Illegal: true, Cell: -1}, nil, fmt.Errorf("%w: no token can move %d", ErrIllegalMove, s.turn.roll)
	}
	return s.apply(token)
}

func (s *Session) checkMove() error {
	switch s.turn.phase {
	case PhaseIdle:
		return fmt.Errorf("%w: no game in progress", ErrIllegalMove)
	case PhaseGameOver:
		return fmt.Errorf("%w: game is over", ErrInvalidState)
	case PhaseAwaitingRoll:
		return fmt.Errorf("%w: roll first", ErrIllegalMove)
	}
	return nil
}

func (s *Session) apply(token int) (MoveOutcome, []Event, error) {
	p := s.players[s.turn.current]
	roll := s.turn.roll

	if !s.turn.canMove(token) {
		return MoveOutcome{Color: p.Color, Token: token, Roll: roll, Illegal: true, Cell: -1}, nil,
			fmt.Errorf("%w: %s token %d cannot move %d", ErrIllegalMove, p.Color, token, roll)
	}

	out, err := ApplyMove(s.players, s.turn.current, token, roll)
	if err != nil {
		return out, nil, err
	}

	var events []Event
	moved := TokenMovedPayload{Color: p.Color, Token: token, From: out.From, To: out.To}
	switch {
	case out.From.State == AtHome:
		events = append(events, s.event(EventTokenMoved, moved,
			"%s brought token %d onto the track.", p.Label(), token+1))
	case out.Completed:
		events = append(events, s.event(EventTokenMoved, moved,
			"%s moved token %d home.", p.Label(), token+1))
	default:
		events = append(events, s.event(EventTokenMoved, moved,
			"%s moved token %d to cell %d.", p.Label(), token+1, out.Cell))
	}

	for _, c := range out.Captured {
		victim := s.playerFor(c.Color)
		events = append(events, s.event(EventTokenCaptured,
			TokenCapturedPayload{By: p.Color, Color: c.Color, Token: c.Token, Cell: out.Cell},
			"%s captured %s!", p.Label(), victim.Label()))
	}

	if out.Completed {
		events = append(events, s.event(EventTokenFinished,
			TokenFinishedPayload{Color: p.Color, Token: token, Finished: p.FinishedCount()},
			"%s finished a token!", p.Label()))
	}

	return out, append(events, s.endTurn(p, roll)...), nil
}

// endTurn hands the resolved roll to the sequencer and reports what follows.
func (s *Session) endTurn(p *Player, roll int) []Event {
	won := p.Won()
	again := s.turn.resolve(roll, won)

	switch {
	case won:
		return []Event{s.event(EventPlayerWon, PlayerWonPayload{Color: p.Color, Name: p.Name},
			"%s won!", p.Label())}
	case again:
		return []Event{s.event(EventExtraTurn, ExtraTurnPayload{Color: p.Color},
			"%s rolled 6, play again!", p.Label())}
	default:
		next := s.players[s.turn.current]
		return []Event{s.event(EventTurnChanged, TurnChangedPayload{Color: next.Color},
			"%s to roll.", next.Label())}
	}
}

func (s *Session) event(kind EventKind, payload any, format string, args ...any) Event {
	msg := fmt.Sprintf(format, args...)
	s.log = append(s.log, msg)
	return Event{Kind: kind, Payload: payload, Message: msg}
}

func (s *Session) playerFor(c Color) *Player {
	for _, p := range s.players {
		if p.Color == c {
			return p
		}
	}
	return &Player{Color: c}
}

// Active reports whether a game is in progress.
func (s *Session) Active() bool {
	return s.turn.phase == PhaseAwaitingRoll || s.turn.phase == PhaseAwaitingMove
}

// Players returns copies of the seated players in turn order.
func (s *Session) Players() []Player {
	out := make([]Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, *p)
	}
	return out
}

// CurrentPlayer returns the player on turn, or the winner once the game is
// over. It returns false before the first Start.
func (s *Session) CurrentPlayer() (Player, bool) {
	if s.turn.phase == PhaseIdle {
		return Player{}, false
	}
	return *s.players[s.turn.current], true
}

// CurrentState returns a snapshot of the sequencer.
func (s *Session) CurrentState() Turn {
	t := Turn{Phase: s.turn.phase}
	if s.turn.phase == PhaseIdle {
		return t
	}
	t.Color = s.players[s.turn.current].Color
	if s.turn.phase == PhaseAwaitingMove {
		t.Roll = s.turn.roll
		t.Movable = append([]int(nil), s.turn.movable...)
	}
	return t
}

// Winner returns the winning player once the game is over.
func (s *Session) Winner() (Player, bool) {
	if s.turn.phase != PhaseGameOver {
		return Player{}, false
	}
	return *s.players[s.turn.current], true
}

// LastRoll returns the most recent dice value, or 0 before the first roll.
func (s *Session) LastRoll() int {
	return s.lastRoll
}

// Log returns every log line since the last Start, oldest first.
func (s *Session) Log() []string {
	return append([]string(nil), s.log...)
}
