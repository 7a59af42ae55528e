/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package ludo

import "errors"

var (
	// ErrNoPlayers is returned by Start when no color has a usable name.
	ErrNoPlayers = errors.New("no players")
	// ErrIllegalMove rejects a move for a token, color or phase that cannot
	// move right now.
	ErrIllegalMove = errors.New("illegal move")
	// ErrInvalidState rejects a roll while a move is pending, any request
	// without an active game, and anything after the game is over.
	ErrInvalidState = errors.New("invalid state")
)
