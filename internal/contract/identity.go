package contract

import (
	"context"
	"errors"
)

var ErrNotAuthenticated = errors.New("wallet not authenticated")

// StaticWallet is an Identity backed by a fixed address, for the headless
// player and tests. A browser build would wire the real wallet provider.
type StaticWallet struct {
	addr   string
	authed bool
}

func NewStaticWallet(addr string) *StaticWallet {
	return &StaticWallet{addr: addr}
}

func (w *StaticWallet) Authenticate(context.Context) (string, error) {
	if w.addr == "" {
		return "", ErrNotAuthenticated
	}
	w.authed = true
	return w.addr, nil
}

func (w *StaticWallet) Logout(context.Context) error {
	w.authed = false
	return nil
}

func (w *StaticWallet) Authenticated() bool { return w.authed }
