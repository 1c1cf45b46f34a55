// Package contract declares the external collaborators the game core
// consumes as black boxes: the wallet identity provider and the on-chain
// betting contract. Chain RPC bindings live outside this repository; callers
// inject an implementation.
package contract

import (
	"context"
	"errors"
)

var ErrGameNotFound = errors.New("game not found")
var ErrAlreadyVoted = errors.New("vote already recorded on chain")

// Identity is the wallet authentication provider.
type Identity interface {
	Authenticate(ctx context.Context) (address string, err error)
	Logout(ctx context.Context) error
	Authenticated() bool
}

// Guess is one human-or-AI classification relayed on chain. Encoding the
// target set into the contract's numeric choice id is the implementation's
// concern.
type Guess struct {
	TargetID string
	Human    bool
}

type PlayerData struct {
	Addr    string
	Voted   bool
	Guessed bool
}

// GameData mirrors the on-chain game record.
type GameData struct {
	ID        string
	BetWei    string
	Player1   PlayerData
	Player2   PlayerData
	Validated bool
}

// GameContract is the on-chain wager collaborator. The stage controller
// relays votes through it and reads validated results from it; it never
// computes outcomes itself.
type GameContract interface {
	CreateGame(ctx context.Context, betWei string) (gameID string, err error)
	JoinGame(ctx context.Context, gameID, betWei string) error
	Vote(ctx context.Context, gameID string, guesses []Guess) error
	GetGameData(ctx context.Context, gameID string) (GameData, error)
}
