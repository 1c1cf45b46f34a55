package controller

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/turinggame/core/internal/channel"
	"github.com/turinggame/core/internal/contract"
	"github.com/turinggame/core/internal/coordinator"
	"github.com/turinggame/core/internal/httpapi"
	"github.com/turinggame/core/internal/stage"
	"github.com/turinggame/core/pkg/types"
)

// Runs the controller against the real hub/ws stack to pin the start
// handshake down: the initiator keeps its full topic-review window while the
// other seats receive session_started.
func TestInitiatorKeepsTopicReviewWindow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := coordinator.NewHub(ctx, zap.NewNop())
	defer func() { hub.Inbox() <- coordinator.ShutdownHub{} }()
	srv := httptest.NewServer(httpapi.SetupRoutes(hub, zap.NewNop()))
	defer srv.Close()

	reply := make(chan *coordinator.Session, 1)
	hub.Inbox() <- coordinator.EnsureSession{Code: "ABC123", Reply: reply}
	require.NotNil(t, <-reply)

	wsBase := "ws://" + strings.TrimPrefix(srv.URL, "http://") + "/ws"

	// Second seat on a raw websocket, draining frames.
	dialCtx, dialCancel := context.WithTimeout(ctx, 5*time.Second)
	defer dialCancel()
	rival, _, err := websocket.Dial(dialCtx, wsBase+"?sessionId=ABC123", nil)
	require.NoError(t, err)
	defer rival.Close(websocket.StatusNormalClosure, "bye")

	var rivalStarted atomic.Bool
	go func() {
		for {
			_, data, err := rival.Read(ctx)
			if err != nil {
				return
			}
			var f types.Frame
			if json.Unmarshal(data, &f) == nil && f.Type == types.FrameSessionStarted {
				rivalStarted.Store(true)
			}
		}
	}()

	ch := channel.New(wsBase, channel.ReconnectPolicy{}, zap.NewNop())
	cfg := Config{
		SessionID: "ABC123",
		GameID:    "42",
		Local:     stage.Player{ID: "0xlocal", Alias: "Swift Turing", WalletAddress: "0xlocal", HasJoined: true},
		// A window so long that only a premature session_started echo could
		// end it inside this test.
		Timings:      stage.Timings{TopicReviewSec: 1000, DiscussionSec: 1000, VotingSec: 1000},
		AISeats:      2,
		TickInterval: 5 * time.Millisecond,
	}
	c, err := New(ctx, cfg, ch, contract.NewMemoryLedger(), zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	require.Eventually(t, func() bool {
		snap, err := c.Snapshot()
		return err == nil && len(snap.Roster) == 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, c.StartGame())
	phaseIs(t, c, stage.PhaseTopicDiscovery)

	// The other seat hears the start signal within one round trip.
	require.Eventually(t, func() bool { return rivalStarted.Load() }, 3*time.Second, 10*time.Millisecond)

	// Well past that round trip, the initiator is still reviewing the topic.
	time.Sleep(800 * time.Millisecond)
	snap, err := c.Snapshot()
	require.NoError(t, err)
	require.Equal(t, stage.PhaseTopicDiscovery, snap.Phase)
}
