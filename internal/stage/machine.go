package stage

import (
	"errors"
	"math/rand"
)

var ErrNotEnoughPlayers = errors.New("need at least two joined human players")
var ErrLocalPlayerMissing = errors.New("local player not seated")
var ErrInvalidPhase = errors.New("invalid phase for action")
var ErrAlreadyVoted = errors.New("vote already submitted")
var ErrSessionCompleted = errors.New("session already completed")
var ErrUnsupportedCommand = errors.New("unsupported command")

type CommandType string

const (
	CmdStartGame        CommandType = "StartGame"
	CmdTick             CommandType = "Tick"
	CmdTopicReceived    CommandType = "TopicReceived"
	CmdSessionStarted   CommandType = "SessionStarted"
	CmdRosterUpdate     CommandType = "RosterUpdate"
	CmdChatReceived     CommandType = "ChatReceived"
	CmdSubmitVote       CommandType = "SubmitVote"
	CmdVoteAccepted     CommandType = "VoteAccepted"
	CmdVoteFailed       CommandType = "VoteFailed"
	CmdSessionValidated CommandType = "SessionValidated"
	CmdResultReady      CommandType = "ResultReady"
	CmdChannelDown      CommandType = "ChannelDown"
	CmdChannelUp        CommandType = "ChannelUp"
)

type Command struct {
	Type    CommandType
	Topic   *Topic
	Roster  []Player
	AISeats []Player
	Message *ChatMessage
	Votes   map[string]Classification
	Result  *Result
}

type EventType string

const (
	EvtPhaseChanged EventType = "PhaseChanged"
	EvtTimerStarted EventType = "TimerStarted"
	EvtTimerTicked  EventType = "TimerTicked"
	EvtTimerExpired EventType = "TimerExpired"
	EvtTopicSet     EventType = "TopicSet"
	EvtRosterChanged EventType = "RosterChanged"
	EvtChatAppended EventType = "ChatAppended"
	EvtVoteRecorded EventType = "VoteRecorded"
	EvtVoteFailed   EventType = "VoteFailed"
	EvtResultSet    EventType = "ResultSet"
	EvtChannelStateChanged EventType = "ChannelStateChanged"
	EvtSessionCompleted    EventType = "SessionCompleted"

	// Effect requests for the controller, never state on their own.
	EvtSessionStartRequested EventType = "SessionStartRequested"
	EvtTopicRequested        EventType = "TopicRequested"
	EvtVoteRelayRequested    EventType = "VoteRelayRequested"
)

type Event struct {
	Type      EventType
	Phase     Phase
	Remaining int
	Votes     map[string]Classification
}

// Apply runs one command against the state and returns the resulting events
// and next state. It never blocks and performs no I/O; effectful events
// (EvtTopicRequested, EvtVoteRelayRequested, ...) are executed by the
// controller that owns the state.
//
// Duplicate advance triggers are ignored rather than rejected: the first
// processed trigger wins and the late one produces no events. Out-of-order
// user actions are rejected with a typed error.
func Apply(s State, cmd Command) ([]Event, State, error) {
	switch cmd.Type {
	case CmdStartGame:
		return applyStartGame(s, cmd)
	case CmdTick:
		return applyTick(s)
	case CmdTopicReceived:
		return applyTopic(s, cmd)
	case CmdSessionStarted:
		if s.Phase != PhaseTopicDiscovery {
			// Timer expiry already advanced us, or the signal is premature.
			return nil, s, nil
		}
		return enterDiscussion(s, nil)
	case CmdRosterUpdate:
		return applyRoster(s, cmd)
	case CmdChatReceived:
		return applyChat(s, cmd)
	case CmdSubmitVote:
		return applySubmitVote(s, cmd)
	case CmdVoteAccepted:
		return applyVoteAccepted(s)
	case CmdVoteFailed:
		if !s.VoteInFlight {
			return nil, s, nil
		}
		s.VoteInFlight = false
		s.pendingVotes = nil
		return []Event{{Type: EvtVoteFailed, Phase: s.Phase}}, s, nil
	case CmdSessionValidated:
		return applyValidated(s)
	case CmdResultReady:
		if s.Phase != PhaseAwaitingVotes && s.Phase != PhaseResults {
			return nil, s, nil
		}
		s.Result = cmd.Result
		return []Event{{Type: EvtResultSet, Phase: s.Phase}}, s, nil
	case CmdChannelDown:
		if s.Degraded {
			return nil, s, nil
		}
		s.Degraded = true
		return []Event{{Type: EvtChannelStateChanged, Phase: s.Phase}}, s, nil
	case CmdChannelUp:
		if !s.Degraded {
			return nil, s, nil
		}
		s.Degraded = false
		return []Event{{Type: EvtChannelStateChanged, Phase: s.Phase}}, s, nil
	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func applyStartGame(s State, cmd Command) ([]Event, State, error) {
	if s.Phase == PhaseResults {
		return nil, s, ErrSessionCompleted
	}
	if s.Phase != PhaseWaiting {
		return nil, s, ErrInvalidPhase
	}
	if _, ok := s.player(s.LocalID); !ok {
		return nil, s, ErrLocalPlayerMissing
	}
	if s.joinedHumans() < 2 {
		return nil, s, ErrNotEnoughPlayers
	}

	// AI seats join now and the roster is shuffled so seating order never
	// betrays who is human.
	roster := append(s.Roster[:len(s.Roster):len(s.Roster)], cmd.AISeats...)
	for i := len(s.Roster); i < len(roster); i++ {
		roster[i].Kind = KindAI
		roster[i].HasJoined = true
	}
	rand.Shuffle(len(roster), func(i, j int) { roster[i], roster[j] = roster[j], roster[i] })
	s.Roster = roster

	s.Phase = PhaseTopicDiscovery
	s.Timed = true
	s.Remaining = s.Timings.TopicReviewSec
	events := []Event{
		{Type: EvtPhaseChanged, Phase: s.Phase},
		{Type: EvtTimerStarted, Phase: s.Phase, Remaining: s.Remaining},
		{Type: EvtRosterChanged, Phase: s.Phase},
		{Type: EvtSessionStartRequested, Phase: s.Phase},
	}
	return events, s, nil
}

func applyTick(s State) ([]Event, State, error) {
	if !s.Timed {
		// Stale tick after expiry or teardown; the transition already fired.
		return nil, s, nil
	}
	s.Remaining--
	events := []Event{{Type: EvtTimerTicked, Phase: s.Phase, Remaining: s.Remaining}}
	if s.Remaining > 0 {
		return events, s, nil
	}

	s.Timed = false
	events = append(events, Event{Type: EvtTimerExpired, Phase: s.Phase})
	switch s.Phase {
	case PhaseTopicDiscovery:
		return enterDiscussion(s, events)
	case PhaseDiscussion:
		s.Phase = PhaseHumanDetection
		s.Timed = true
		s.Remaining = s.Timings.VotingSec
		events = append(events,
			Event{Type: EvtPhaseChanged, Phase: s.Phase},
			Event{Type: EvtTimerStarted, Phase: s.Phase, Remaining: s.Remaining},
		)
		return events, s, nil
	case PhaseHumanDetection:
		s.Phase = PhaseAwaitingVotes
		events = append(events, Event{Type: EvtPhaseChanged, Phase: s.Phase})
		return events, s, nil
	default:
		return events, s, nil
	}
}

// enterDiscussion is shared by the countdown-expiry and session_started
// triggers; whichever arrives first wins.
func enterDiscussion(s State, events []Event) ([]Event, State, error) {
	s.Phase = PhaseDiscussion
	s.Timed = true
	s.Remaining = s.Timings.DiscussionSec
	events = append(events,
		Event{Type: EvtPhaseChanged, Phase: s.Phase},
		Event{Type: EvtTimerStarted, Phase: s.Phase, Remaining: s.Remaining},
		Event{Type: EvtTopicRequested, Phase: s.Phase},
	)
	return events, s, nil
}

func applyTopic(s State, cmd Command) ([]Event, State, error) {
	switch s.Phase {
	case PhaseWaiting, PhaseTopicDiscovery, PhaseDiscussion:
		s.Topic = cmd.Topic
		return []Event{{Type: EvtTopicSet, Phase: s.Phase}}, s, nil
	default:
		// Too late to matter for the discussion; drop it.
		return nil, s, nil
	}
}

func applyRoster(s State, cmd Command) ([]Event, State, error) {
	added := 0
	roster := s.Roster[:len(s.Roster):len(s.Roster)]
	for _, in := range cmd.Roster {
		if _, ok := s.player(in.ID); ok {
			continue
		}
		in.HasJoined = true
		if in.Kind == "" {
			in.Kind = KindHuman
		}
		roster = append(roster, in)
		added++
	}
	if added == 0 {
		return nil, s, nil
	}
	s.Roster = roster
	return []Event{{Type: EvtRosterChanged, Phase: s.Phase}}, s, nil
}

func applyChat(s State, cmd Command) ([]Event, State, error) {
	if cmd.Message == nil {
		return nil, s, nil
	}
	s.Messages = append(s.Messages[:len(s.Messages):len(s.Messages)], *cmd.Message)
	return []Event{{Type: EvtChatAppended, Phase: s.Phase}}, s, nil
}

func applySubmitVote(s State, cmd Command) ([]Event, State, error) {
	if s.Phase != PhaseHumanDetection {
		return nil, s, ErrInvalidPhase
	}
	if s.VoteCast || s.VoteInFlight {
		return nil, s, ErrAlreadyVoted
	}

	// Votes naming players who left mid-session are skipped, never fatal.
	votes := make(map[string]Classification, len(cmd.Votes))
	for target, class := range cmd.Votes {
		if target == s.LocalID {
			continue
		}
		if _, ok := s.player(target); !ok {
			continue
		}
		votes[target] = class
	}

	s.VoteInFlight = true
	s.pendingVotes = votes
	return []Event{{Type: EvtVoteRelayRequested, Phase: s.Phase, Votes: votes}}, s, nil
}

func applyVoteAccepted(s State) ([]Event, State, error) {
	if !s.VoteInFlight {
		return nil, s, nil
	}
	s.VoteInFlight = false
	s.VoteCast = true
	s.Votes = s.pendingVotes
	s.pendingVotes = nil
	events := []Event{{Type: EvtVoteRecorded, Phase: s.Phase, Votes: s.Votes}}
	if s.Phase == PhaseHumanDetection {
		// Local vote pre-empts the voting countdown.
		s.Phase = PhaseAwaitingVotes
		s.Timed = false
		events = append(events, Event{Type: EvtPhaseChanged, Phase: s.Phase})
	}
	return events, s, nil
}

func applyValidated(s State) ([]Event, State, error) {
	switch s.Phase {
	case PhaseHumanDetection, PhaseAwaitingVotes:
		s.Phase = PhaseResults
		s.Timed = false
		return []Event{
			{Type: EvtPhaseChanged, Phase: s.Phase},
			{Type: EvtSessionCompleted, Phase: s.Phase},
		}, s, nil
	case PhaseResults:
		return nil, s, nil
	default:
		// Validation cannot predate voting; ignore rather than jump phases.
		return nil, s, nil
	}
}
