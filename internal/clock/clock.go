package clock

import (
	"context"
	"sync"
	"time"

	"github.com/channel27tech/clubmaster-sub003/internal/obslog"
	"github.com/channel27tech/clubmaster-sub003/pkg/gamewire"
	"go.uber.org/zap"
)

// Side identifies a chess color on the clock.
type Side string

const (
	SideWhite Side = "white"
	SideBlack Side = "black"
)

func (s Side) Opponent() Side {
	if s == SideWhite {
		return SideBlack
	}
	return SideWhite
}

// Snapshot is the full clock state broadcast on every mutation.
type Snapshot struct {
	GameID     string
	WhiteMs    int64
	BlackMs    int64
	SideToMove Side
	Running    bool
}

// UpdateFunc receives a snapshot after every clock state change.
type UpdateFunc func(Snapshot)

// ExpireFunc is invoked exactly once per game when a side's time reaches zero.
type ExpireFunc func(gameID string, flagged Side)

// Service owns one authoritative countdown pair per active game id. Remaining
// time is tracked as accumulated milliseconds and reconciled against wall
// clock on every read and tick, so the server stays authoritative against
// network jitter. Each running clock is driven by its own cancellable ticker
// goroutine.
type Service struct {
	mu    sync.Mutex
	games map[string]*gameClock

	tick     time.Duration
	onUpdate UpdateFunc
	onExpire ExpireFunc
}

type gameClock struct {
	mu sync.Mutex

	id      string
	control TimeControl

	whiteMs    int64
	blackMs    int64
	sideToMove Side
	running    bool
	expired    bool
	lastUpdate time.Time

	cancel context.CancelFunc
}

func NewService(tick time.Duration) *Service {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	return &Service{games: make(map[string]*gameClock), tick: tick}
}

// SetHooks wires the broadcast and expiry callbacks. Must be called before
// the first Initialize; hooks are invoked without any service lock held.
func (s *Service) SetHooks(onUpdate UpdateFunc, onExpire ExpireFunc) {
	s.onUpdate = onUpdate
	s.onExpire = onExpire
}

// Initialize (re)creates the clock for a game with both sides at the time
// control's base allotment, white to move, paused. A prior clock for the same
// id is torn down first so no duplicate ticker survives.
func (s *Service) Initialize(gameID, controlName string) error {
	tc, err := LookupControl(controlName)
	if err != nil {
		return gamewire.DomainError{Code: gamewire.CodeValidationFailure, Message: err.Error()}
	}

	s.mu.Lock()
	if old, ok := s.games[gameID]; ok {
		old.mu.Lock()
		old.stopTickerLocked()
		old.running = false
		old.mu.Unlock()
	}
	gc := &gameClock{
		id:         gameID,
		control:    tc,
		whiteMs:    tc.BaseMs,
		blackMs:    tc.BaseMs,
		sideToMove: SideWhite,
	}
	s.games[gameID] = gc
	s.mu.Unlock()

	obslog.L().Info("clock_init",
		zap.String("game_id", gameID),
		zap.String("time_control", tc.Name),
		zap.Int64("base_ms", tc.BaseMs),
	)
	s.emit(gc.snapshot())
	return nil
}

// Start begins the countdown for the side to move.
func (s *Service) Start(gameID string) error {
	gc, err := s.lookup(gameID)
	if err != nil {
		return err
	}

	gc.mu.Lock()
	if gc.running {
		gc.mu.Unlock()
		return gamewire.ErrAlreadyRunning
	}
	gc.running = true
	gc.lastUpdate = time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	gc.cancel = cancel
	snap := gc.snapshotLocked()
	gc.mu.Unlock()

	go s.tickLoop(ctx, gc)
	s.emit(snap)
	return nil
}

// Pause finalizes the in-flight deduction and stops the ticker.
func (s *Service) Pause(gameID string) error {
	gc, err := s.lookup(gameID)
	if err != nil {
		return err
	}

	gc.mu.Lock()
	if !gc.running {
		gc.mu.Unlock()
		return gamewire.ErrNotRunning
	}
	_, fired, flagged := gc.reconcileLocked(time.Now())
	gc.running = false
	gc.stopTickerLocked()
	snap := gc.snapshotLocked()
	gc.mu.Unlock()

	s.emit(snap)
	s.fireExpiry(gameID, fired, flagged)
	return nil
}

// SwitchTurn finalizes the mover's deduction, flips the side to move and
// resets the reference timestamp. The ticker is left untouched.
func (s *Service) SwitchTurn(gameID string) error {
	gc, err := s.lookup(gameID)
	if err != nil {
		return err
	}

	gc.mu.Lock()
	_, fired, flagged := gc.reconcileLocked(time.Now())
	gc.sideToMove = gc.sideToMove.Opponent()
	gc.lastUpdate = time.Now()
	snap := gc.snapshotLocked()
	gc.mu.Unlock()

	s.emit(snap)
	s.fireExpiry(gameID, fired, flagged)
	return nil
}

// State returns both remaining times. The read reconciles the in-flight
// deduction for the running side, which keeps reads and ticks from drifting
// apart; it may therefore detect expiry itself.
func (s *Service) State(gameID string) (Snapshot, error) {
	gc, err := s.lookup(gameID)
	if err != nil {
		return Snapshot{}, err
	}

	gc.mu.Lock()
	snap, fired, flagged := gc.reconcileLocked(time.Now())
	gc.mu.Unlock()

	s.fireExpiry(gameID, fired, flagged)
	return snap, nil
}

// HasExpired reports whether either side has reached zero after reconciling.
func (s *Service) HasExpired(gameID string) (bool, error) {
	snap, err := s.State(gameID)
	if err != nil {
		return false, err
	}
	return snap.WhiteMs <= 0 || snap.BlackMs <= 0, nil
}

// Teardown cancels the ticker and evicts the clock.
func (s *Service) Teardown(gameID string) {
	s.mu.Lock()
	gc, ok := s.games[gameID]
	if ok {
		delete(s.games, gameID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	gc.mu.Lock()
	gc.stopTickerLocked()
	gc.running = false
	gc.mu.Unlock()
}

func (s *Service) lookup(gameID string) (*gameClock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gc, ok := s.games[gameID]
	if !ok {
		return nil, gamewire.ErrClockNotFound
	}
	return gc, nil
}

func (s *Service) tickLoop(ctx context.Context, gc *gameClock) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		gc.mu.Lock()
		if !gc.running {
			gc.mu.Unlock()
			return
		}
		snap, fired, flagged := gc.reconcileLocked(time.Now())
		stopped := !gc.running
		gc.mu.Unlock()

		s.emit(snap)
		if stopped {
			// reconcile hit zero: the running flag guards against ever
			// firing expiry again from a late tick
			s.fireExpiry(gc.id, fired, flagged)
			return
		}
	}
}

func (s *Service) emit(snap Snapshot) {
	if s.onUpdate != nil {
		s.onUpdate(snap)
	}
}

func (s *Service) fireExpiry(gameID string, fired bool, flagged Side) {
	if !fired {
		return
	}
	obslog.L().Info("clock_flag_fall", zap.String("game_id", gameID), zap.String("side", string(flagged)))
	if s.onExpire != nil {
		s.onExpire(gameID, flagged)
	}
}

// reconcileLocked deducts elapsed wall-clock time from the side to move.
// Returns the post-reconcile snapshot and whether this call crossed zero for
// the first time. Only the side to move ever loses time; the other side's
// remaining milliseconds are frozen.
func (gc *gameClock) reconcileLocked(now time.Time) (Snapshot, bool, Side) {
	if !gc.running {
		return gc.snapshotLocked(), false, ""
	}

	elapsed := now.Sub(gc.lastUpdate).Milliseconds()
	if elapsed > 0 {
		if gc.sideToMove == SideWhite {
			gc.whiteMs -= elapsed
		} else {
			gc.blackMs -= elapsed
		}
		gc.lastUpdate = now
	}

	firedNow := false
	var flagged Side
	if gc.whiteMs <= 0 || gc.blackMs <= 0 {
		if gc.whiteMs < 0 {
			gc.whiteMs = 0
		}
		if gc.blackMs < 0 {
			gc.blackMs = 0
		}
		gc.running = false
		if !gc.expired {
			gc.expired = true
			firedNow = true
			flagged = gc.sideToMove
		}
	}
	return gc.snapshotLocked(), firedNow, flagged
}

func (gc *gameClock) snapshotLocked() Snapshot {
	return Snapshot{
		GameID:     gc.id,
		WhiteMs:    gc.whiteMs,
		BlackMs:    gc.blackMs,
		SideToMove: gc.sideToMove,
		Running:    gc.running,
	}
}

func (gc *gameClock) snapshot() Snapshot {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.snapshotLocked()
}

func (gc *gameClock) stopTickerLocked() {
	if gc.cancel != nil {
		gc.cancel()
		gc.cancel = nil
	}
}
