package contract

import (
	"context"
	"strconv"
	"sync"
)

// MemoryLedger is an in-process GameContract used by the headless player and
// by integration-style tests. It tracks bets and votes but settles nothing.
type MemoryLedger struct {
	mu     sync.Mutex
	nextID int
	games  map[string]*GameData
	votes  map[string]map[string][]Guess // gameID -> voter bucket
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		nextID: 1,
		games:  make(map[string]*GameData),
		votes:  make(map[string]map[string][]Guess),
	}
}

func (m *MemoryLedger) CreateGame(_ context.Context, betWei string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := strconv.Itoa(m.nextID)
	m.nextID++
	m.games[id] = &GameData{ID: id, BetWei: betWei}
	m.votes[id] = make(map[string][]Guess)
	return id, nil
}

func (m *MemoryLedger) JoinGame(_ context.Context, gameID, betWei string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return ErrGameNotFound
	}
	if g.Player1.Addr == "" {
		g.Player1.Addr = "player1"
	} else {
		g.Player2.Addr = "player2"
	}
	return nil
}

func (m *MemoryLedger) Vote(_ context.Context, gameID string, guesses []Guess) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.votes[gameID]
	if !ok {
		return ErrGameNotFound
	}
	if _, dup := bucket["local"]; dup {
		return ErrAlreadyVoted
	}
	bucket["local"] = guesses

	g := m.games[gameID]
	g.Player1.Voted = true
	if g.Player2.Addr != "" {
		g.Validated = true
	}
	return nil
}

func (m *MemoryLedger) GetGameData(_ context.Context, gameID string) (GameData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return GameData{}, ErrGameNotFound
	}
	return *g, nil
}
