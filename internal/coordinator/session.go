// Package coordinator is the reference session coordinator: the server-side
// authority that seats players, relays chat with authoritative message ids,
// and pushes session lifecycle signals to every connected client.
package coordinator

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/turinggame/core/pkg/types"
)

type SessionMsg interface{ isSessionMsg() }

type Join struct {
	PlayerID string
	Alias    string
	Outbox   chan types.Frame // where this client receives frames
}

// Leave with a non-nil Outbox only removes the seat while that transport is
// still current, so a dead connection's deferred leave cannot evict a seat
// that has since rejoined. A nil Outbox removes unconditionally.
type Leave struct {
	PlayerID string
	Outbox   chan types.Frame
}

type Chat struct {
	PlayerID string
	Text     string
}

type Start struct{ PlayerID string }

type RequestTopic struct{ PlayerID string }

type Finish struct{}

type Shutdown struct{}

// GetState is test-only: reflect internal state without data races.
type GetState struct{ Reply chan View }

func (Join) isSessionMsg()         {}
func (Leave) isSessionMsg()        {}
func (Chat) isSessionMsg()         {}
func (Start) isSessionMsg()        {}
func (RequestTopic) isSessionMsg() {}
func (Finish) isSessionMsg()       {}
func (Shutdown) isSessionMsg()     {}
func (GetState) isSessionMsg()     {}

type View struct {
	Players  []types.PlayerInfo
	Started  bool
	Finished bool
	Topic    types.TopicContent
}

type seat struct {
	id     string
	alias  string
	outbox chan types.Frame
}

type Session struct {
	code     string
	topic    types.TopicContent
	inbox    chan SessionMsg
	seats    []*seat // join order
	started  bool
	finished bool
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewSession(parent context.Context, code string, topic types.TopicContent, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		code:   code,
		topic:  topic,
		inbox:  make(chan SessionMsg, 64),
		log:    log.With(zap.String("session", code)),
		ctx:    ctx,
		cancel: cancel,
	}
	go s.loop()
	return s
}

// Inbox exposes the message channel to the transport layer and tests.
func (s *Session) Inbox() chan<- SessionMsg { return s.inbox }

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				s.handleJoin(msg)
			case Leave:
				s.handleLeave(msg.PlayerID, msg.Outbox)
			case Chat:
				s.handleChat(msg)
			case Start:
				s.handleStart(msg)
			case RequestTopic:
				s.handleTopic(msg.PlayerID)
			case Finish:
				s.handleFinish()
			case GetState:
				msg.Reply <- View{
					Players:  s.players(),
					Started:  s.started,
					Finished: s.finished,
					Topic:    s.topic,
				}
			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) handleJoin(msg Join) {
	for _, st := range s.seats {
		if st.id == msg.PlayerID {
			// Rejoin replaces the transport, keeps the seat and alias.
			// Closing the old outbox lets its writer goroutine exit.
			close(st.outbox)
			st.outbox = msg.Outbox
			s.log.Info("player rejoined", zap.String("player", msg.PlayerID))
			s.sendInfo(st, types.FrameSessionInfo)
			return
		}
	}
	st := &seat{id: msg.PlayerID, alias: msg.Alias, outbox: msg.Outbox}
	s.seats = append(s.seats, st)
	s.log.Info("player joined", zap.String("player", msg.PlayerID), zap.Int("seats", len(s.seats)))

	s.broadcastInfo(types.FrameSessionInfo)
	if len(s.seats) < 2 {
		s.sendNotice(st, types.FrameSessionPending, "Waiting for other players to join...")
	}
}

func (s *Session) handleLeave(playerID string, outbox chan types.Frame) {
	for i, st := range s.seats {
		if st.id != playerID {
			continue
		}
		if outbox != nil && st.outbox != outbox {
			return // stale leave from a transport that was already replaced
		}
		close(st.outbox)
		s.seats = append(s.seats[:i], s.seats[i+1:]...)
		s.log.Info("player left", zap.String("player", playerID))
		s.broadcastInfo(types.FrameSessionInfo)
		return
	}
}

func (s *Session) handleChat(msg Chat) {
	sender := s.seat(msg.PlayerID)
	if sender == nil {
		return
	}
	// The coordinator assigns the dedup key so clients never have to
	// synthesize one from sender and wall clock.
	frame, err := types.NewFrame(types.FrameChat, types.ChatContent{
		ID:      uuid.NewString(),
		Message: msg.Text,
	})
	if err != nil {
		s.log.Error("chat frame", zap.Error(err))
		return
	}
	frame.Sender = &types.Sender{ID: sender.id, Name: sender.alias}
	s.broadcast(frame)
}

func (s *Session) handleStart(msg Start) {
	if s.started || s.finished {
		return
	}
	if len(s.seats) < 2 {
		if st := s.seat(msg.PlayerID); st != nil {
			s.sendNotice(st, types.FrameError, "cannot start: waiting for an opponent")
		}
		return
	}
	s.started = true
	s.log.Info("session started")
	// The initiator is already running its own topic countdown; echoing the
	// signal back would cut that window short. It is for the other seats.
	for _, st := range s.snapshotSeats() {
		if st.id == msg.PlayerID {
			continue
		}
		s.sendInfo(st, types.FrameSessionStarted)
	}
}

func (s *Session) handleTopic(playerID string) {
	st := s.seat(playerID)
	if st == nil {
		return
	}
	frame, err := types.NewFrame(types.FrameTopic, s.topic)
	if err != nil {
		s.log.Error("topic frame", zap.Error(err))
		return
	}
	s.send(st, frame)
}

func (s *Session) handleFinish() {
	if s.finished {
		return
	}
	s.finished = true
	s.log.Info("session finished")
	s.broadcastInfo(types.FrameSessionFinished)
}

func (s *Session) shutdown() {
	for _, st := range s.seats {
		close(st.outbox)
	}
	s.seats = nil
	s.cancel()
}

func (s *Session) seat(id string) *seat {
	for _, st := range s.seats {
		if st.id == id {
			return st
		}
	}
	return nil
}

func (s *Session) players() []types.PlayerInfo {
	out := make([]types.PlayerInfo, 0, len(s.seats))
	for _, st := range s.seats {
		out = append(out, types.PlayerInfo{ID: st.id, Name: st.alias})
	}
	return out
}

// broadcastInfo sends a per-recipient session_info style frame: the "you"
// field differs for every seat.
func (s *Session) broadcastInfo(frameType string) {
	for _, st := range s.snapshotSeats() {
		s.sendInfo(st, frameType)
	}
}

// snapshotSeats copies the seat list so slow-client eviction during a
// broadcast cannot disturb the iteration.
func (s *Session) snapshotSeats() []*seat {
	out := make([]*seat, len(s.seats))
	copy(out, s.seats)
	return out
}

func (s *Session) sendInfo(st *seat, frameType string) {
	frame, err := types.NewFrame(frameType, types.SessionInfoContent{
		Players:   s.players(),
		You:       st.id,
		SessionID: s.code,
	})
	if err != nil {
		s.log.Error("info frame", zap.Error(err))
		return
	}
	s.send(st, frame)
}

func (s *Session) sendNotice(st *seat, frameType, message string) {
	frame, err := types.NewFrame(frameType, types.NoticeContent{Message: message})
	if err != nil {
		s.log.Error("notice frame", zap.Error(err))
		return
	}
	s.send(st, frame)
}

func (s *Session) broadcast(frame types.Frame) {
	for _, st := range s.snapshotSeats() {
		s.send(st, frame)
	}
}

func (s *Session) send(st *seat, frame types.Frame) {
	if s.seat(st.id) == nil {
		return // already evicted mid-broadcast
	}
	select {
	case st.outbox <- frame:
	default:
		// Client is slow/full - drop them.
		s.log.Warn("dropping slow client", zap.String("player", st.id))
		s.handleLeave(st.id, st.outbox)
	}
}
