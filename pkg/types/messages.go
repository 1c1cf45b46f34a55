package types

import "encoding/json"

// Client -> Server
// chat:
//   content: string (the utterance)
//
// get_topic: {}
//
// start_session: {}

// Server -> Client
// chat:
//   content: { id: string, message: string }
//   sender:  { id: string, name: string }
//
// topic:
//   content: { title: string, description: string }
//
// session_info | session_started | session_finished:
//   content: { players: [{id, name}], you: string, session_id: string }
//
// session_pending:
//   content: { message: string }
//
// error:
//   content: { message: string }

const (
	FrameChat            = "chat"
	FrameTopic           = "topic"
	FrameSessionInfo     = "session_info"
	FrameSessionStarted  = "session_started"
	FrameSessionFinished = "session_finished"
	FrameSessionPending  = "session_pending"
	FrameError           = "error"

	// outbound only
	FrameGetTopic     = "get_topic"
	FrameStartSession = "start_session"
)

type Sender struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Frame is the envelope for every message on the event channel. Content is
// type-specific and left raw until the frame has been classified.
type Frame struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
	Sender  *Sender         `json:"sender,omitempty"`
}

type ChatContent struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type TopicContent struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type PlayerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type SessionInfoContent struct {
	Players   []PlayerInfo `json:"players"`
	You       string       `json:"you"`
	SessionID string       `json:"session_id"`
}

type NoticeContent struct {
	Message string `json:"message"`
}

// NewFrame marshals content into a typed frame. Marshal errors are reported
// to the caller rather than producing a half-built frame.
func NewFrame(frameType string, content any) (Frame, error) {
	f := Frame{Type: frameType}
	if content == nil {
		return f, nil
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return Frame{}, err
	}
	f.Content = raw
	return f, nil
}
