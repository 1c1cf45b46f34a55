package stage

import "time"

type Phase string

const (
	PhaseWaiting        Phase = "waiting"
	PhaseTopicDiscovery Phase = "topic_discovery"
	PhaseDiscussion     Phase = "discussion"
	PhaseHumanDetection Phase = "human_detection"
	PhaseAwaitingVotes  Phase = "awaiting_votes"
	PhaseResults        Phase = "results"
)

// phaseRank orders phases for the forward-only progression check.
var phaseRank = map[Phase]int{
	PhaseWaiting:        0,
	PhaseTopicDiscovery: 1,
	PhaseDiscussion:     2,
	PhaseHumanDetection: 3,
	PhaseAwaitingVotes:  4,
	PhaseResults:        5,
}

// Rank exposes the progression index of a phase, mainly for monotonicity
// assertions.
func Rank(p Phase) int { return phaseRank[p] }

type PlayerKind string

const (
	KindHuman PlayerKind = "human"
	KindAI    PlayerKind = "ai"
)

type Classification string

const (
	ClassHuman Classification = "human"
	ClassAI    Classification = "ai"
)

type Player struct {
	ID            string
	Alias         string
	WalletAddress string
	HasJoined     bool
	Kind          PlayerKind
}

type Topic struct {
	Title       string
	Description string
}

type ChatMessage struct {
	ID         string
	SenderID   string
	Text       string
	ReceivedAt time.Time
}

// Result carries the outcome payload obtained from the on-chain collaborator
// once the session has been validated. The machine never computes it.
type Result struct {
	GameID    string
	Won       bool
	PayoutWei string
}

// Timings holds the per-phase countdown durations in seconds. Phases not
// listed here (waiting, results) are not time-boxed.
type Timings struct {
	TopicReviewSec int
	DiscussionSec  int
	VotingSec      int
}

type State struct {
	SessionID string
	LocalID   string
	Phase     Phase
	Timings   Timings

	// Remaining is meaningful only while Timed is true. A phase with no
	// countdown has Timed == false, which the view must render as "no
	// timer", not as zero.
	Remaining int
	Timed     bool

	Topic    *Topic
	Roster   []Player
	Messages []ChatMessage

	VoteInFlight bool
	VoteCast     bool
	Votes        map[string]Classification
	pendingVotes map[string]Classification

	Degraded bool
	Result   *Result
}

// urgencyThresholdSec is the window at the end of a countdown where the view
// switches to its urgent treatment. Purely derived, never stored.
const urgencyThresholdSec = 10

func (s State) Urgent() bool {
	return s.Timed && s.Remaining < urgencyThresholdSec
}

// Countdown returns the remaining seconds, or nil for phases that carry no
// countdown.
func (s State) Countdown() *int {
	if !s.Timed {
		return nil
	}
	r := s.Remaining
	return &r
}

// NewState attaches to a session. The local player's seat is always the
// first roster entry; no other entry counts toward phase advancement until
// the local seat exists.
func NewState(sessionID string, local Player, timings Timings) State {
	local.HasJoined = true
	if local.Kind == "" {
		local.Kind = KindHuman
	}
	return State{
		SessionID: sessionID,
		LocalID:   local.ID,
		Phase:     PhaseWaiting,
		Timings:   timings,
		Roster:    []Player{local},
	}
}

func (s State) player(id string) (Player, bool) {
	for _, p := range s.Roster {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

func (s State) joinedHumans() int {
	n := 0
	for _, p := range s.Roster {
		if p.Kind == KindHuman && p.HasJoined {
			n++
		}
	}
	return n
}
