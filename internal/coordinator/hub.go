package coordinator

import (
	"context"
	"math/rand"

	"go.uber.org/zap"

	"github.com/turinggame/core/pkg/types"
)

// Built-in discussion topics; one is fixed per session at creation time.
var topics = []types.TopicContent{
	{
		Title:       "The Future of Artificial Intelligence",
		Description: "Discuss the potential impact of AI on society, ethics, and human development in the next 50 years.",
	},
	{
		Title:       "Climate Change Solutions",
		Description: "Explore innovative approaches to combat global warming and create sustainable futures.",
	},
	{
		Title:       "Space Colonization",
		Description: "Debate the challenges and opportunities of establishing human settlements on Mars and beyond.",
	},
}

type HubMsg interface{ isHubMsg() }

type GetSession struct {
	Code  string
	Reply chan *Session
}

type EnsureSession struct {
	Code  string
	Reply chan *Session
}

type RemoveSession struct{ Code string }

type ShutdownHub struct{}

func (GetSession) isHubMsg()    {}
func (EnsureSession) isHubMsg() {}
func (RemoveSession) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*Session
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*Session),
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetSession:
				msg.Reply <- h.sessions[msg.Code] // may be nil

			case EnsureSession:
				if sess := h.sessions[msg.Code]; sess != nil {
					msg.Reply <- sess
					break
				}
				topic := topics[rand.Intn(len(topics))]
				sess := NewSession(h.ctx, msg.Code, topic, h.log)
				h.sessions[msg.Code] = sess
				h.log.Info("session created", zap.String("code", msg.Code), zap.String("topic", topic.Title))
				msg.Reply <- sess

			case RemoveSession:
				if sess := h.sessions[msg.Code]; sess != nil {
					sess.Inbox() <- Shutdown{}
					delete(h.sessions, msg.Code)
				}

			case ShutdownHub:
				for _, sess := range h.sessions {
					sess.Inbox() <- Shutdown{}
				}
				clear(h.sessions)
				h.cancel()
				return
			}
		}
	}
}
