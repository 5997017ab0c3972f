// Package session owns the per-game runtime: one goroutine per active game
// id consumes a FIFO mailbox and is the single mutator of that game's state,
// clock transitions and terminal outcome. The registry map is the only state
// shared across games.
package session

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/channel27tech/clubmaster-sub003/internal/clock"
	"github.com/channel27tech/clubmaster-sub003/internal/obslog"
	"github.com/channel27tech/clubmaster-sub003/internal/rating"
	"github.com/channel27tech/clubmaster-sub003/pkg/gamewire"
)

type Manager struct {
	mu       sync.Mutex
	games    map[string]*runtime
	finished map[string]*gamewire.GameTerminated

	clocks  *clock.Service
	ratings *rating.Store
	rooms   Broadcaster
	repo    Repository
	notify  Notifier

	defaultControl string
	linger         time.Duration
	onEvict        func(gameID string)
}

func NewManager(clocks *clock.Service, ratings *rating.Store, rooms Broadcaster, defaultControl string, linger time.Duration) *Manager {
	if linger <= 0 {
		linger = 2 * time.Minute
	}
	return &Manager{
		games:          make(map[string]*runtime),
		finished:       make(map[string]*gamewire.GameTerminated),
		clocks:         clocks,
		ratings:        ratings,
		rooms:          rooms,
		defaultControl: defaultControl,
		linger:         linger,
	}
}

// AttachRepository wires durable result persistence. Optional.
func (m *Manager) AttachRepository(r Repository) { m.repo = r }

// AttachNotifier wires the fire-and-forget event egress. Optional.
func (m *Manager) AttachNotifier(n Notifier) { m.notify = n }

// SetEvictHook registers a callback invoked when a finished game is evicted
// from memory after its linger period.
func (m *Manager) SetEvictHook(fn func(gameID string)) { m.onEvict = fn }

// CreateGame registers an already-paired game and initializes its clock,
// paused. Pairing itself happens elsewhere; the engine only accepts the
// resulting game id and two identities.
func (m *Manager) CreateGame(gameID, whiteID, blackID, timeControl string) (*Game, error) {
	gameID = strings.TrimSpace(gameID)
	whiteID = strings.TrimSpace(whiteID)
	blackID = strings.TrimSpace(blackID)
	if gameID == "" || whiteID == "" || blackID == "" || whiteID == blackID {
		return nil, gamewire.DomainError{Code: gamewire.CodeValidationFailure, Message: "invalid game participants"}
	}
	if timeControl == "" {
		timeControl = m.defaultControl
	}

	m.mu.Lock()
	if _, exists := m.games[gameID]; exists {
		m.mu.Unlock()
		return nil, gamewire.DomainError{Code: gamewire.CodeInvalidState, Message: "game id already registered"}
	}
	rt := newRuntime(m, gameID, whiteID, blackID, timeControl)
	m.games[gameID] = rt
	m.mu.Unlock()
	go rt.loop()

	if err := m.clocks.Initialize(gameID, timeControl); err != nil {
		m.mu.Lock()
		delete(m.games, gameID)
		m.mu.Unlock()
		rt.post(command{kind: cmdStop})
		return nil, err
	}

	obslog.L().Info("game_create",
		zap.String("game_id", gameID),
		zap.String("white_id", whiteID),
		zap.String("black_id", blackID),
		zap.String("time_control", timeControl),
	)
	snapshot := *rt.game
	return &snapshot, nil
}

// SubmitMove relays a player's move record into the owning game task and
// waits for the verdict.
func (m *Manager) SubmitMove(gameID, playerID, channelID string, rec *gamewire.MoveRecord) error {
	if rec == nil {
		return gamewire.ErrMalformedMove
	}
	return m.dispatch(gameID, command{kind: cmdMove, player: playerID, channel: channelID, move: rec})
}

// Resign ends the game in favor of the opponent.
func (m *Manager) Resign(gameID, playerID string) error {
	return m.dispatch(gameID, command{kind: cmdResign, player: playerID})
}

// AgreeDraw records a draw offer, or seals the draw when the opposing side
// has a standing offer. Offers lapse when a move is applied.
func (m *Manager) AgreeDraw(gameID, playerID string) error {
	return m.dispatch(gameID, command{kind: cmdDrawAgreed, player: playerID})
}

// ReportRepetition accepts a client-side threefold detection. The first
// report terminates the game; racing duplicates collapse into the memoized
// outcome.
func (m *Manager) ReportRepetition(gameID, playerID string) error {
	return m.dispatch(gameID, command{kind: cmdRepetition, player: playerID})
}

// RequestResync replies to one channel with the authoritative snapshot.
func (m *Manager) RequestResync(gameID, channelID string) error {
	return m.dispatch(gameID, command{kind: cmdResync, channel: channelID})
}

// HandleClockExpiry is wired as the clock service's expiry hook. It must not
// block the caller: the tick goroutine may be delivering into the same game
// task that is currently mid-command.
func (m *Manager) HandleClockExpiry(gameID string, flagged clock.Side) {
	rt := m.lookup(gameID)
	if rt == nil {
		return
	}
	c := command{kind: cmdClockExpired, side: flagged}
	select {
	case rt.mailbox <- c:
	case <-rt.done:
	default:
		go func() { rt.post(c) }()
	}
}

// HandleAbandonment is invoked by the presence coordinator when a
// disconnected player's grace deadline passes without a reconnect.
func (m *Manager) HandleAbandonment(gameID, playerID string) {
	if err := m.dispatch(gameID, command{kind: cmdAbandon, player: playerID}); err != nil {
		obslog.L().Debug("abandonment_ignored", zap.String("game_id", gameID), zap.Error(err))
	}
}

// ResumeClock starts the countdown once play can proceed; an already running
// clock is fine.
func (m *Manager) ResumeClock(gameID string) error {
	err := m.clocks.Start(gameID)
	if err == gamewire.ErrAlreadyRunning {
		return nil
	}
	return err
}

// PauseClock suspends the countdown, tolerating an already paused clock.
func (m *Manager) PauseClock(gameID string) error {
	err := m.clocks.Pause(gameID)
	if err == gamewire.ErrNotRunning {
		return nil
	}
	return err
}

// Result returns the memoized terminal outcome, if the game has one. It
// remains available during the post-termination linger window.
func (m *Manager) Result(gameID string) (*gamewire.GameTerminated, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fin, ok := m.finished[gameID]
	return fin, ok
}

// Snapshot returns the authoritative resync payload for a game.
func (m *Manager) Snapshot(gameID string) (*gamewire.ResyncSnapshot, error) {
	rt := m.lookup(gameID)
	if rt == nil {
		return nil, gamewire.ErrGameNotFound
	}
	reply := make(chan *gamewire.ResyncSnapshot, 1)
	if !rt.post(command{kind: cmdSnapshot, snapshot: reply}) {
		return nil, gamewire.ErrGameNotFound
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-rt.done:
		select {
		case snap := <-reply:
			return snap, nil
		default:
			return nil, gamewire.ErrGameNotFound
		}
	}
}

// Participants reports the two player identities of a registered game.
func (m *Manager) Participants(gameID string) (white, black string, err error) {
	rt := m.lookup(gameID)
	if rt == nil {
		return "", "", gamewire.ErrGameNotFound
	}
	return rt.game.WhiteID, rt.game.BlackID, nil
}

// Close stops every game task. Used on shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	rts := make([]*runtime, 0, len(m.games))
	for _, rt := range m.games {
		rts = append(rts, rt)
	}
	m.mu.Unlock()
	for _, rt := range rts {
		rt.post(command{kind: cmdStop})
	}
}

func (m *Manager) lookup(gameID string) *runtime {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.games[gameID]
}

func (m *Manager) dispatch(gameID string, c command) error {
	rt := m.lookup(gameID)
	if rt == nil {
		return gamewire.ErrGameNotFound
	}
	c.reply = make(chan error, 1)
	if !rt.post(c) {
		return gamewire.ErrGameNotFound
	}
	select {
	case err := <-c.reply:
		return err
	case <-rt.done:
		// the loop exited: it either answered first or never saw the command
		select {
		case err := <-c.reply:
			return err
		default:
			return gamewire.ErrGameNotFound
		}
	}
}

func (m *Manager) storeFinal(gameID string, fin *gamewire.GameTerminated) {
	m.mu.Lock()
	m.finished[gameID] = fin
	m.mu.Unlock()
}

func (m *Manager) evict(gameID string) {
	m.mu.Lock()
	rt, ok := m.games[gameID]
	if ok {
		delete(m.games, gameID)
	}
	delete(m.finished, gameID)
	m.mu.Unlock()

	if ok {
		rt.post(command{kind: cmdStop})
	}
	if m.onEvict != nil {
		m.onEvict(gameID)
	}
	obslog.L().Info("game_evict", zap.String("game_id", gameID))
}
