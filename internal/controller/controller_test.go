package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/turinggame/core/internal/channel"
	"github.com/turinggame/core/internal/contract"
	"github.com/turinggame/core/internal/stage"
	"github.com/turinggame/core/pkg/types"
)

type sentFrame struct {
	Type    string
	Content any
}

// fakeChannel satisfies Channel without a transport; tests inject inbound
// events through emit.
type fakeChannel struct {
	mu      sync.Mutex
	session string
	sent    []sentFrame
	sendErr error
	subs    map[channel.EventKind]map[int]func(channel.Event)
	downs   map[int]func()
	ups     map[int]func()
	nextID  int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		subs:  make(map[channel.EventKind]map[int]func(channel.Event)),
		downs: make(map[int]func()),
		ups:   make(map[int]func()),
	}
}

func (f *fakeChannel) Connect(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = sessionID
	return nil
}

func (f *fakeChannel) Disconnect() {}

func (f *fakeChannel) Send(frameType string, content any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentFrame{Type: frameType, Content: content})
	return nil
}

func (f *fakeChannel) Subscribe(kind channel.EventKind, fn func(channel.Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[kind] == nil {
		f.subs[kind] = make(map[int]func(channel.Event))
	}
	id := f.nextID
	f.nextID++
	f.subs[kind][id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[kind], id)
	}
}

func (f *fakeChannel) OnDisconnect(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.downs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.downs, id)
	}
}

func (f *fakeChannel) OnReconnect(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.ups[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.ups, id)
	}
}

func (f *fakeChannel) emit(ev channel.Event) {
	f.mu.Lock()
	handlers := make([]func(channel.Event), 0, len(f.subs[ev.Kind]))
	for _, fn := range f.subs[ev.Kind] {
		handlers = append(handlers, fn)
	}
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func (f *fakeChannel) emitDown() {
	f.mu.Lock()
	handlers := make([]func(), 0, len(f.downs))
	for _, fn := range f.downs {
		handlers = append(handlers, fn)
	}
	f.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

func (f *fakeChannel) emitUp() {
	f.mu.Lock()
	handlers := make([]func(), 0, len(f.ups))
	for _, fn := range f.ups {
		handlers = append(handlers, fn)
	}
	f.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

func (f *fakeChannel) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.Type
	}
	return out
}

type mockContract struct{ mock.Mock }

func (m *mockContract) CreateGame(ctx context.Context, betWei string) (string, error) {
	args := m.Called(ctx, betWei)
	return args.String(0), args.Error(1)
}

func (m *mockContract) JoinGame(ctx context.Context, gameID, betWei string) error {
	return m.Called(ctx, gameID, betWei).Error(0)
}

func (m *mockContract) Vote(ctx context.Context, gameID string, guesses []contract.Guess) error {
	return m.Called(ctx, gameID, guesses).Error(0)
}

func (m *mockContract) GetGameData(ctx context.Context, gameID string) (contract.GameData, error) {
	args := m.Called(ctx, gameID)
	return args.Get(0).(contract.GameData), args.Error(1)
}

func testConfig() Config {
	return Config{
		SessionID:    "g1",
		GameID:       "42",
		Local:        stage.Player{ID: "0xlocal", Alias: "Swift Turing", WalletAddress: "0xlocal"},
		// Windows sized so assertions between transitions never race the
		// 2ms test ticker.
		Timings:      stage.Timings{TopicReviewSec: 2, DiscussionSec: 50, VotingSec: 5000},
		AISeats:      2,
		TickInterval: 2 * time.Millisecond,
	}
}

func rivalInfo() channel.Event {
	return channel.Event{Kind: channel.EventSessionInfo, Info: &types.SessionInfoContent{
		Players: []types.PlayerInfo{
			{ID: "0xlocal", Name: "Swift Turing"},
			{ID: "0xrival", Name: "Clever Curie"},
		},
		You:       "0xlocal",
		SessionID: "g1",
	}}
}

func phaseIs(t *testing.T, c *Controller, want stage.Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, err := c.Snapshot()
		return err == nil && snap.Phase == want
	}, 5*time.Second, 2*time.Millisecond, "never reached %s", want)
}

func TestFullSessionScenario(t *testing.T) {
	ch := newFakeChannel()
	gc := &mockContract{}
	gc.On("Vote", mock.Anything, "42", mock.Anything).Return(nil)
	gc.On("GetGameData", mock.Anything, "42").Return(contract.GameData{
		ID:     "42",
		BetWei: "200000000000000000",
		Player1: contract.PlayerData{Addr: "0xlocal", Voted: true, Guessed: true},
		Player2: contract.PlayerData{Addr: "0xrival", Voted: true},
		Validated: true,
	}, nil)

	c, err := New(context.Background(), testConfig(), ch, gc, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	// Solo start is gated.
	require.ErrorIs(t, c.StartGame(), stage.ErrNotEnoughPlayers)

	ch.emit(rivalInfo())
	require.Eventually(t, func() bool {
		snap, err := c.Snapshot()
		return err == nil && len(snap.Roster) == 2
	}, time.Second, 2*time.Millisecond)

	require.NoError(t, c.StartGame())
	snap, err := c.Snapshot()
	require.NoError(t, err)
	require.GreaterOrEqual(t, stage.Rank(snap.Phase), stage.Rank(stage.PhaseTopicDiscovery))
	require.Len(t, snap.Roster, 4) // two humans, two ai seats
	require.Contains(t, ch.sentTypes(), types.FrameStartSession)

	phaseIs(t, c, stage.PhaseDiscussion)
	require.Contains(t, ch.sentTypes(), types.FrameGetTopic)

	ch.emit(channel.Event{Kind: channel.EventTopic, Topic: &types.TopicContent{
		Title:       "Space Colonization",
		Description: "Debate the challenges of settling Mars.",
	}})
	require.Eventually(t, func() bool {
		snap, err := c.Snapshot()
		return err == nil && snap.Topic != nil && snap.Topic.Title == "Space Colonization"
	}, time.Second, 2*time.Millisecond)

	ch.emit(channel.Event{Kind: channel.EventChat, Chat: &channel.ChatMessage{
		ID: "m1", SenderID: "0xrival", Text: "hello", ReceivedAt: time.Now(),
	}})

	phaseIs(t, c, stage.PhaseHumanDetection)

	require.NoError(t, c.SubmitVote(map[string]stage.Classification{
		"0xrival": stage.ClassHuman,
		"ai-gone": stage.ClassAI,
	}))
	phaseIs(t, c, stage.PhaseAwaitingVotes)
	snap, err = c.Snapshot()
	require.NoError(t, err)
	require.True(t, snap.VoteCast)
	require.Nil(t, snap.Countdown)
	require.Len(t, snap.Messages, 1)

	ch.emit(channel.Event{Kind: channel.EventSessionValidated})
	phaseIs(t, c, stage.PhaseResults)
	require.Eventually(t, func() bool {
		snap, err := c.Snapshot()
		return err == nil && snap.Result != nil && snap.Result.Won
	}, time.Second, 2*time.Millisecond)

	gc.AssertCalled(t, "Vote", mock.Anything, "42", mock.Anything)
}

func TestVoteRelayFailureKeepsDetectionPhase(t *testing.T) {
	ch := newFakeChannel()
	gc := &mockContract{}
	gc.On("Vote", mock.Anything, "42", mock.Anything).Return(context.DeadlineExceeded)

	c, err := New(context.Background(), testConfig(), ch, gc, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	ch.emit(rivalInfo())
	require.Eventually(t, func() bool {
		snap, err := c.Snapshot()
		return err == nil && len(snap.Roster) == 2
	}, time.Second, 2*time.Millisecond)
	require.NoError(t, c.StartGame())
	phaseIs(t, c, stage.PhaseHumanDetection)

	require.NoError(t, c.SubmitVote(map[string]stage.Classification{"0xrival": stage.ClassAI}))

	// The failed relay surfaces a notice and the phase holds.
	select {
	case <-c.Notices():
	case <-time.After(2 * time.Second):
		t.Fatal("no failure notice")
	}
	snap, err := c.Snapshot()
	require.NoError(t, err)
	require.Equal(t, stage.PhaseHumanDetection, snap.Phase)
	require.False(t, snap.VoteCast)

	// Retry is allowed once the failure settled.
	require.Eventually(t, func() bool {
		return c.SubmitVote(map[string]stage.Classification{"0xrival": stage.ClassAI}) == nil
	}, time.Second, 5*time.Millisecond)
}

func TestChannelDegradationFlag(t *testing.T) {
	ch := newFakeChannel()
	c, err := New(context.Background(), testConfig(), ch, contract.NewMemoryLedger(), zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	ch.emit(rivalInfo())
	require.Eventually(t, func() bool {
		snap, err := c.Snapshot()
		return err == nil && len(snap.Roster) == 2
	}, time.Second, 2*time.Millisecond)
	require.NoError(t, c.StartGame())
	before, err := c.Snapshot()
	require.NoError(t, err)

	ch.emitDown()
	require.Eventually(t, func() bool {
		snap, err := c.Snapshot()
		return err == nil && snap.Degraded
	}, time.Second, 2*time.Millisecond)

	snap, err := c.Snapshot()
	require.NoError(t, err)
	require.GreaterOrEqual(t, stage.Rank(snap.Phase), stage.Rank(before.Phase), "degradation must not reset phase")

	ch.emitUp()
	require.Eventually(t, func() bool {
		snap, err := c.Snapshot()
		return err == nil && !snap.Degraded
	}, time.Second, 2*time.Millisecond)
}

func TestSendChatSurfacesChannelNotReady(t *testing.T) {
	ch := newFakeChannel()
	ch.sendErr = channel.ErrChannelNotReady

	c, err := New(context.Background(), testConfig(), ch, contract.NewMemoryLedger(), zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	require.ErrorIs(t, c.SendChat("hello"), channel.ErrChannelNotReady)
}

func TestTeardownSafety(t *testing.T) {
	ch := newFakeChannel()
	c, err := New(context.Background(), testConfig(), ch, contract.NewMemoryLedger(), zap.NewNop())
	require.NoError(t, err)

	ch.emit(rivalInfo())
	require.Eventually(t, func() bool {
		snap, err := c.Snapshot()
		return err == nil && len(snap.Roster) == 2
	}, time.Second, 2*time.Millisecond)

	c.Close()
	c.Close() // idempotent

	// Post-teardown callbacks and requests must be inert.
	ch.emit(rivalInfo())
	ch.emitDown()
	require.ErrorIs(t, c.StartGame(), ErrClosed)
	_, err = c.Snapshot()
	require.ErrorIs(t, err, ErrClosed)

	// Handlers were deregistered during teardown.
	ch.mu.Lock()
	remaining := 0
	for _, m := range ch.subs {
		remaining += len(m)
	}
	remaining += len(ch.downs) + len(ch.ups)
	ch.mu.Unlock()
	require.Zero(t, remaining)
}
