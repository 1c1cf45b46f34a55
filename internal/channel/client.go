// Package channel owns the single live connection to the session
// coordinator and translates wire frames into typed, deduplicated events.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/turinggame/core/pkg/types"
)

var ErrChannelNotReady = errors.New("event channel not ready")

type EventKind string

const (
	EventChat             EventKind = "chat"
	EventSessionInfo      EventKind = "sessionInfo"
	EventTopic            EventKind = "topic"
	EventSessionStarted   EventKind = "sessionStarted"
	EventSessionValidated EventKind = "sessionValidated"
	EventSessionPending   EventKind = "sessionPending"
	EventError            EventKind = "error"
)

type ChatMessage struct {
	ID          string
	SenderID    string
	SenderAlias string
	Text        string
	ReceivedAt  time.Time
}

// Event is one classified inbound frame. Only the field matching Kind is set.
type Event struct {
	Kind    EventKind
	Chat    *ChatMessage
	Info    *types.SessionInfoContent
	Topic   *types.TopicContent
	Message string
}

// ReconnectPolicy controls recovery after an abrupt transport close. The
// zero value means no automatic reconnection: the caller decides when to
// call Connect again.
type ReconnectPolicy struct {
	AutoReconnect bool
	MaxAttempts   int
	Backoff       time.Duration // doubled after each failed attempt
}

type Client struct {
	baseURL string
	policy  ReconnectPolicy
	log     *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	gen       int
	seen      map[string]struct{}
	seq       uint64
	subs      map[EventKind]map[int]func(Event)
	onDown    map[int]func()
	onUp      map[int]func()
	nextSub   int
}

func New(baseURL string, policy ReconnectPolicy, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		policy:  policy,
		log:     log,
		subs:    make(map[EventKind]map[int]func(Event)),
		onDown:  make(map[int]func()),
		onUp:    make(map[int]func()),
	}
}

// Connect attaches to a session. Connecting again to the same session is a
// no-op; switching sessions tears the old connection down first, so dedup
// state never leaks between sessions.
func (c *Client) Connect(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if c.conn != nil {
		if c.sessionID == sessionID {
			c.mu.Unlock()
			return nil
		}
		c.teardownLocked()
	}
	c.mu.Unlock()

	target := fmt.Sprintf("%s?sessionId=%s", c.baseURL, url.QueryEscape(sessionID))
	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial coordinator: %w", err)
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.conn = conn
	c.sessionID = sessionID
	c.seen = make(map[string]struct{})
	c.seq = 0
	c.mu.Unlock()

	c.log.Info("channel connected", zap.String("session", sessionID))
	go c.readLoop(conn, gen, sessionID)
	return nil
}

// Disconnect closes the transport and releases per-session dedup state.
// Safe to call repeatedly. An explicit disconnect does not fire the
// degraded-connectivity handlers; those are reserved for transport failure.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	c.sessionID = ""
}

// teardownLocked invalidates the current reader generation and drops the
// connection. Caller holds c.mu.
func (c *Client) teardownLocked() {
	c.gen++
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
		c.conn = nil
	}
	c.seen = nil
	c.seq = 0
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes one outbound frame. A closed or never-opened transport is a
// typed failure, never a silent drop.
func (c *Client) Send(frameType string, content any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrChannelNotReady
	}

	frame, err := types.NewFrame(frameType, content)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("write %s frame: %w", frameType, err)
	}
	return nil
}

// Subscribe registers a handler for one inbound event kind and returns a
// function deregistering exactly that handler.
func (c *Client) Subscribe(kind EventKind, fn func(Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[kind] == nil {
		c.subs[kind] = make(map[int]func(Event))
	}
	id := c.nextSub
	c.nextSub++
	c.subs[kind][id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[kind], id)
	}
}

// OnDisconnect registers a handler invoked when the transport closes
// unexpectedly.
func (c *Client) OnDisconnect(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.onDown[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.onDown, id)
	}
}

// OnReconnect registers a handler invoked after a successful automatic
// reconnection.
func (c *Client) OnReconnect(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.onUp[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.onUp, id)
	}
}

func (c *Client) readLoop(conn *websocket.Conn, gen int, sessionID string) {
	ctx := context.Background()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleClose(gen, sessionID, err)
			return
		}
		var frame types.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Warn("malformed frame dropped", zap.Error(err))
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame types.Frame) {
	switch frame.Type {
	case types.FrameChat:
		var content types.ChatContent
		if err := json.Unmarshal(frame.Content, &content); err != nil {
			c.log.Warn("bad chat content", zap.Error(err))
			return
		}
		msg, dup := c.markSeen(frame, content)
		if dup {
			return
		}
		c.emit(Event{Kind: EventChat, Chat: msg})

	case types.FrameTopic:
		var content types.TopicContent
		if err := json.Unmarshal(frame.Content, &content); err != nil {
			c.log.Warn("bad topic content", zap.Error(err))
			return
		}
		c.emit(Event{Kind: EventTopic, Topic: &content})

	case types.FrameSessionInfo:
		if info := c.parseInfo(frame); info != nil {
			c.emit(Event{Kind: EventSessionInfo, Info: info})
		}

	case types.FrameSessionStarted:
		c.emit(Event{Kind: EventSessionStarted, Info: c.parseInfo(frame)})

	case types.FrameSessionFinished:
		c.emit(Event{Kind: EventSessionValidated, Info: c.parseInfo(frame)})

	case types.FrameSessionPending:
		// Waiting on other participants; distinct from connectivity loss.
		c.emit(Event{Kind: EventSessionPending, Message: c.parseNotice(frame)})

	case types.FrameError:
		c.emit(Event{Kind: EventError, Message: c.parseNotice(frame)})

	default:
		c.log.Warn("unknown frame type dropped", zap.String("type", frame.Type))
	}
}

// markSeen resolves the dedup key for a chat frame and records it. Frames
// without a source-assigned id fall back to a per-connection sequence number
// rather than a timestamp-derived key.
func (c *Client) markSeen(frame types.Frame, content types.ChatContent) (*ChatMessage, bool) {
	c.mu.Lock()
	if c.seen == nil {
		// Frame raced an explicit disconnect; nothing to deliver it to.
		c.mu.Unlock()
		return nil, true
	}
	id := content.ID
	if id == "" {
		c.seq++
		id = fmt.Sprintf("seq-%d", c.seq)
	}
	if _, dup := c.seen[id]; dup {
		c.mu.Unlock()
		c.log.Debug("duplicate chat dropped", zap.String("id", id))
		return nil, true
	}
	c.seen[id] = struct{}{}
	c.mu.Unlock()

	msg := &ChatMessage{ID: id, Text: content.Message, ReceivedAt: time.Now()}
	if frame.Sender != nil {
		msg.SenderID = frame.Sender.ID
		msg.SenderAlias = frame.Sender.Name
	}
	return msg, false
}

func (c *Client) parseInfo(frame types.Frame) *types.SessionInfoContent {
	if len(frame.Content) == 0 {
		return nil
	}
	var info types.SessionInfoContent
	if err := json.Unmarshal(frame.Content, &info); err != nil {
		c.log.Warn("bad session info content", zap.Error(err))
		return nil
	}
	return &info
}

func (c *Client) parseNotice(frame types.Frame) string {
	var n types.NoticeContent
	if len(frame.Content) > 0 {
		if err := json.Unmarshal(frame.Content, &n); err != nil {
			c.log.Warn("bad notice content", zap.Error(err))
		}
	}
	return n.Message
}

func (c *Client) emit(ev Event) {
	c.mu.Lock()
	handlers := make([]func(Event), 0, len(c.subs[ev.Kind]))
	for _, fn := range c.subs[ev.Kind] {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

// handleClose reacts to the reader stopping. A teardown bumps the generation
// first, so only an unexpected close reaches the disconnect handlers and the
// reconnect policy.
func (c *Client) handleClose(gen int, sessionID string, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.seen = nil
	downs := make([]func(), 0, len(c.onDown))
	for _, fn := range c.onDown {
		downs = append(downs, fn)
	}
	c.mu.Unlock()

	c.log.Warn("channel closed", zap.String("session", sessionID), zap.Error(cause))
	for _, fn := range downs {
		fn()
	}

	if c.policy.AutoReconnect {
		go c.retry(gen, sessionID)
	}
}

// retry keeps the generation it was spawned for: an explicit Disconnect (or a
// newer Connect) bumps c.gen, and a stale retry must stand down instead of
// resurrecting a connection the caller tore down.
func (c *Client) retry(gen int, sessionID string) {
	backoff := c.policy.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		time.Sleep(backoff)
		backoff *= 2

		c.mu.Lock()
		stale := c.gen != gen
		c.mu.Unlock()
		if stale {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.Connect(ctx, sessionID)
		cancel()
		if err == nil {
			c.mu.Lock()
			ups := make([]func(), 0, len(c.onUp))
			for _, fn := range c.onUp {
				ups = append(ups, fn)
			}
			c.mu.Unlock()
			for _, fn := range ups {
				fn()
			}
			return
		}
		c.log.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	c.log.Error("reconnect attempts exhausted", zap.String("session", sessionID))
}
