package contract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryLedgerLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLedger()

	id, err := m.CreateGame(ctx, "1000000000000000")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, m.JoinGame(ctx, id, "1000000000000000"))
	require.NoError(t, m.JoinGame(ctx, id, "1000000000000000"))

	require.NoError(t, m.Vote(ctx, id, []Guess{{TargetID: "p2", Human: true}}))
	require.ErrorIs(t, m.Vote(ctx, id, nil), ErrAlreadyVoted)

	g, err := m.GetGameData(ctx, id)
	require.NoError(t, err)
	require.True(t, g.Player1.Voted)
	require.True(t, g.Validated)
}

func TestStaticWallet(t *testing.T) {
	ctx := context.Background()

	w := NewStaticWallet("0xabc")
	require.False(t, w.Authenticated())

	addr, err := w.Authenticate(ctx)
	require.NoError(t, err)
	require.Equal(t, "0xabc", addr)
	require.True(t, w.Authenticated())

	require.NoError(t, w.Logout(ctx))
	require.False(t, w.Authenticated())

	_, err = NewStaticWallet("").Authenticate(ctx)
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestMemoryLedgerUnknownGame(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLedger()

	require.ErrorIs(t, m.JoinGame(ctx, "nope", "0"), ErrGameNotFound)
	require.ErrorIs(t, m.Vote(ctx, "nope", nil), ErrGameNotFound)
	_, err := m.GetGameData(ctx, "nope")
	require.ErrorIs(t, err, ErrGameNotFound)
}
