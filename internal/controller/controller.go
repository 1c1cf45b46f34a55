// Package controller is the per-client authority for "what phase is the
// game in and how much time is left". It owns a stage.State, runs it on a
// single goroutine, and reconciles timer ticks, channel events, and local
// user actions into one ordered event stream.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/turinggame/core/internal/alias"
	"github.com/turinggame/core/internal/channel"
	"github.com/turinggame/core/internal/contract"
	"github.com/turinggame/core/internal/stage"
	"github.com/turinggame/core/pkg/types"
)

var ErrClosed = errors.New("controller closed")

// Channel is the slice of the event-channel client the controller needs;
// tests substitute a fake.
type Channel interface {
	Connect(ctx context.Context, sessionID string) error
	Disconnect()
	Send(frameType string, content any) error
	Subscribe(kind channel.EventKind, fn func(channel.Event)) func()
	OnDisconnect(fn func()) func()
	OnReconnect(fn func()) func()
}

type Config struct {
	SessionID string
	GameID    string // on-chain game id for the wager collaborator
	Local     stage.Player
	Timings   stage.Timings
	AISeats   int

	// TickInterval defaults to one second; tests shrink it.
	TickInterval time.Duration
}

// Snapshot is the read-only projection handed to the presentation layer
// after every applied event.
type Snapshot struct {
	Phase     stage.Phase
	Countdown *int
	Urgent    bool
	Topic     *stage.Topic
	Roster    []stage.Player
	Messages  []stage.ChatMessage
	VoteCast  bool
	Degraded  bool
	Result    *stage.Result
}

type ctrlMsg interface{ isCtrlMsg() }

type fromChannel struct {
	gen uint64
	cmd stage.Command
}

type userCmd struct {
	cmd   stage.Command
	reply chan error
}

type getSnapshot struct{ reply chan Snapshot }

func (fromChannel) isCtrlMsg() {}
func (userCmd) isCtrlMsg()     {}
func (getSnapshot) isCtrlMsg() {}

type Controller struct {
	cfg Config
	ch  Channel
	gc  contract.GameContract
	log *zap.Logger

	inbox   chan ctrlMsg
	updates chan Snapshot
	notices chan string

	state  stage.State
	gen    atomic.Uint64
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	unsubs []func()

	closeOnce sync.Once
}

// New connects the channel client to the session and starts the controller
// loop. The caller owns Close.
func New(ctx context.Context, cfg Config, ch Channel, gc contract.GameContract, log *zap.Logger) (*Controller, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}

	c := &Controller{
		cfg:     cfg,
		ch:      ch,
		gc:      gc,
		log:     log.With(zap.String("session", cfg.SessionID)),
		inbox:   make(chan ctrlMsg, 64),
		updates: make(chan Snapshot, 8),
		notices: make(chan string, 8),
		state:   stage.NewState(cfg.SessionID, cfg.Local, cfg.Timings),
		done:    make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.gen.Store(1)

	// Handlers are installed before dialing so the coordinator's initial
	// session_info burst is never missed.
	c.subscribe()
	if err := ch.Connect(ctx, cfg.SessionID); err != nil {
		for _, unsub := range c.unsubs {
			unsub()
		}
		c.cancel()
		close(c.done)
		return nil, err
	}

	go c.loop()
	return c, nil
}

// subscribe installs channel handlers that forward into the inbox. Each
// forwarded message carries the generation current at delivery time, so
// callbacks racing a teardown are dropped instead of mutating state.
func (c *Controller) subscribe() {
	forward := func(cmd stage.Command) {
		msg := fromChannel{gen: c.gen.Load(), cmd: cmd}
		select {
		case c.inbox <- msg:
		case <-c.ctx.Done():
		}
	}

	c.unsubs = append(c.unsubs,
		c.ch.Subscribe(channel.EventChat, func(ev channel.Event) {
			forward(stage.Command{Type: stage.CmdChatReceived, Message: &stage.ChatMessage{
				ID:         ev.Chat.ID,
				SenderID:   ev.Chat.SenderID,
				Text:       ev.Chat.Text,
				ReceivedAt: ev.Chat.ReceivedAt,
			}})
		}),
		c.ch.Subscribe(channel.EventSessionInfo, func(ev channel.Event) {
			forward(stage.Command{Type: stage.CmdRosterUpdate, Roster: c.rosterFromInfo(ev.Info)})
		}),
		c.ch.Subscribe(channel.EventTopic, func(ev channel.Event) {
			forward(stage.Command{Type: stage.CmdTopicReceived, Topic: &stage.Topic{
				Title:       ev.Topic.Title,
				Description: ev.Topic.Description,
			}})
		}),
		c.ch.Subscribe(channel.EventSessionStarted, func(channel.Event) {
			forward(stage.Command{Type: stage.CmdSessionStarted})
		}),
		c.ch.Subscribe(channel.EventSessionValidated, func(channel.Event) {
			forward(stage.Command{Type: stage.CmdSessionValidated})
		}),
		c.ch.Subscribe(channel.EventSessionPending, func(ev channel.Event) {
			c.notify(ev.Message)
		}),
		c.ch.Subscribe(channel.EventError, func(ev channel.Event) {
			c.notify(ev.Message)
		}),
		c.ch.OnDisconnect(func() {
			forward(stage.Command{Type: stage.CmdChannelDown})
		}),
		c.ch.OnReconnect(func() {
			forward(stage.Command{Type: stage.CmdChannelUp})
		}),
	)
}

func (c *Controller) rosterFromInfo(info *types.SessionInfoContent) []stage.Player {
	if info == nil {
		return nil
	}
	roster := make([]stage.Player, 0, len(info.Players))
	for _, p := range info.Players {
		if p.ID == info.You || p.ID == c.cfg.Local.ID {
			continue // local seat is fixed at attach time
		}
		roster = append(roster, stage.Player{ID: p.ID, Alias: p.Name, Kind: stage.KindHuman})
	}
	return roster
}

func (c *Controller) loop() {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			return

		case <-ticker.C:
			c.step(stage.Command{Type: stage.CmdTick}, nil)

		case m := <-c.inbox:
			switch msg := m.(type) {
			case fromChannel:
				if msg.gen != c.gen.Load() {
					continue // stale callback from before a teardown
				}
				c.step(msg.cmd, nil)
			case userCmd:
				c.step(msg.cmd, msg.reply)
			case getSnapshot:
				msg.reply <- c.snapshot()
			}
		}
	}
}

// step is the one atomic unit of work: apply event, derive new state,
// notify the view.
func (c *Controller) step(cmd stage.Command, reply chan error) {
	events, next, err := stage.Apply(c.state, cmd)
	if reply != nil {
		reply <- err
	}
	if err != nil {
		if reply == nil {
			c.log.Warn("command rejected", zap.String("cmd", string(cmd.Type)), zap.Error(err))
		}
		return
	}
	c.state = next

	for _, ev := range events {
		c.runEffect(ev)
	}
	if len(events) > 0 {
		c.publish(c.snapshot())
	}
}

func (c *Controller) runEffect(ev stage.Event) {
	switch ev.Type {
	case stage.EvtSessionStartRequested:
		if err := c.ch.Send(types.FrameStartSession, nil); err != nil {
			c.log.Warn("start_session send failed", zap.Error(err))
		}
	case stage.EvtTopicRequested:
		if err := c.ch.Send(types.FrameGetTopic, nil); err != nil {
			c.log.Warn("get_topic send failed", zap.Error(err))
		}
	case stage.EvtVoteRelayRequested:
		go c.relayVote(c.gen.Load(), ev.Votes)
	case stage.EvtSessionCompleted:
		go c.fetchResult(c.gen.Load())
	case stage.EvtVoteFailed:
		c.notify("vote submission failed, please retry")
	}
}

// relayVote pushes the classification to the on-chain collaborator off the
// controller goroutine; completion re-enters the loop as an event.
func (c *Controller) relayVote(gen uint64, votes map[string]stage.Classification) {
	guesses := make([]contract.Guess, 0, len(votes))
	for target, class := range votes {
		guesses = append(guesses, contract.Guess{TargetID: target, Human: class == stage.ClassHuman})
	}

	ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancel()
	cmd := stage.Command{Type: stage.CmdVoteAccepted}
	if err := c.gc.Vote(ctx, c.cfg.GameID, guesses); err != nil {
		c.log.Warn("vote relay failed", zap.Error(err))
		cmd = stage.Command{Type: stage.CmdVoteFailed}
	}
	c.post(fromChannel{gen: gen, cmd: cmd})
}

func (c *Controller) fetchResult(gen uint64) {
	ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancel()
	data, err := c.gc.GetGameData(ctx, c.cfg.GameID)
	if err != nil {
		c.log.Warn("result fetch failed", zap.Error(err))
		c.notify("could not load game result")
		return
	}

	won := false
	switch c.cfg.Local.WalletAddress {
	case data.Player1.Addr:
		won = data.Player1.Guessed
	case data.Player2.Addr:
		won = data.Player2.Guessed
	}
	c.post(fromChannel{gen: gen, cmd: stage.Command{Type: stage.CmdResultReady, Result: &stage.Result{
		GameID:    data.ID,
		Won:       won,
		PayoutWei: data.BetWei,
	}}})
}

func (c *Controller) post(msg fromChannel) {
	select {
	case c.inbox <- msg:
	case <-c.ctx.Done():
	}
}

// StartGame is the local "start" trigger out of the waiting phase. AI seats
// are minted here so the coordinator roster stays purely human.
func (c *Controller) StartGame() error {
	seats := make([]stage.Player, 0, c.cfg.AISeats)
	for i := 0; i < c.cfg.AISeats; i++ {
		seats = append(seats, stage.Player{
			ID:    fmt.Sprintf("ai-%s", uuid.NewString()[:8]),
			Alias: alias.Generate(),
			Kind:  stage.KindAI,
		})
	}
	return c.request(stage.Command{Type: stage.CmdStartGame, AISeats: seats})
}

// SubmitVote records the local player's classification and relays it for
// authoritative tallying. Accepted only during human_detection; repeat
// submissions are rejected.
func (c *Controller) SubmitVote(votes map[string]stage.Classification) error {
	return c.request(stage.Command{Type: stage.CmdSubmitVote, Votes: votes})
}

// SendChat forwards an utterance over the channel. The caller sees
// channel.ErrChannelNotReady when the transport is down.
func (c *Controller) SendChat(text string) error {
	return c.ch.Send(types.FrameChat, text)
}

func (c *Controller) request(cmd stage.Command) error {
	reply := make(chan error, 1)
	select {
	case c.inbox <- userCmd{cmd: cmd, reply: reply}:
	case <-c.ctx.Done():
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.ctx.Done():
		return ErrClosed
	}
}

func (c *Controller) Snapshot() (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case c.inbox <- getSnapshot{reply: reply}:
	case <-c.ctx.Done():
		return Snapshot{}, ErrClosed
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-c.ctx.Done():
		return Snapshot{}, ErrClosed
	}
}

// Updates streams a snapshot after every applied event. A slow consumer
// misses intermediate snapshots, never blocks the loop.
func (c *Controller) Updates() <-chan Snapshot { return c.updates }

// Notices carries user-visible application errors and pending hints; they
// never alter phase state.
func (c *Controller) Notices() <-chan string { return c.notices }

func (c *Controller) snapshot() Snapshot {
	roster := make([]stage.Player, len(c.state.Roster))
	copy(roster, c.state.Roster)
	messages := make([]stage.ChatMessage, len(c.state.Messages))
	copy(messages, c.state.Messages)
	return Snapshot{
		Phase:     c.state.Phase,
		Countdown: c.state.Countdown(),
		Urgent:    c.state.Urgent(),
		Topic:     c.state.Topic,
		Roster:    roster,
		Messages:  messages,
		VoteCast:  c.state.VoteCast,
		Degraded:  c.state.Degraded,
		Result:    c.state.Result,
	}
}

func (c *Controller) publish(snap Snapshot) {
	select {
	case c.updates <- snap:
	default:
	}
}

func (c *Controller) notify(msg string) {
	if msg == "" {
		return
	}
	select {
	case c.notices <- msg:
	default:
	}
}

// Close tears the session down: the generation is bumped so in-flight
// callbacks and timers become stale, the loop exits, channel handlers are
// removed, and the transport is released. Safe to call more than once.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.gen.Add(1)
		c.cancel()
		<-c.done
		for _, unsub := range c.unsubs {
			unsub()
		}
		c.ch.Disconnect()
	})
}
