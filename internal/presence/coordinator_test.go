package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/channel27tech/clubmaster-sub003/internal/clock"
	"github.com/channel27tech/clubmaster-sub003/pkg/gamewire"
)

type fakeEngine struct {
	mu        sync.Mutex
	white     string
	black     string
	abandoned []string
	resumes   int
}

func (f *fakeEngine) Participants(gameID string) (string, string, error) {
	if gameID != "g1" {
		return "", "", gamewire.ErrGameNotFound
	}
	return f.white, f.black, nil
}

func (f *fakeEngine) HandleAbandonment(gameID, playerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abandoned = append(f.abandoned, playerID)
}

func (f *fakeEngine) ResumeClock(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
	return nil
}

func (f *fakeEngine) resumeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resumes
}

func (f *fakeEngine) abandonedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.abandoned)
}

type eventSink struct {
	mu     sync.Mutex
	events []gamewire.Envelope
}

func (s *eventSink) Broadcast(_ string, env gamewire.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, env)
}

func (s *eventSink) count(typ string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, env := range s.events {
		if env.Type == typ {
			n++
		}
	}
	return n
}

func newTestCoordinator(t *testing.T, ceiling time.Duration) (*Coordinator, *fakeEngine, *eventSink) {
	t.Helper()
	clocks := clock.NewService(time.Hour)
	if err := clocks.Initialize("g1", "blitz5"); err != nil {
		t.Fatalf("clock init: %v", err)
	}
	eng := &fakeEngine{white: "alice", black: "bob"}
	sink := &eventSink{}
	return NewCoordinator(clocks, eng, sink, ceiling), eng, sink
}

func TestConnectValidation(t *testing.T) {
	c, _, _ := newTestCoordinator(t, time.Minute)

	if _, err := c.Connect("nope", "alice", "ch-1"); err != gamewire.ErrGameNotFound {
		t.Fatalf("unknown game: got %v", err)
	}
	if _, err := c.Connect("g1", "mallory", "ch-1"); err != gamewire.ErrNotParticipant {
		t.Fatalf("stranger: got %v", err)
	}
	if _, err := c.Connect("g1", "alice", "ch-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
}

func TestNewChannelSupersedesOld(t *testing.T) {
	c, _, _ := newTestCoordinator(t, time.Minute)

	if _, err := c.Connect("g1", "alice", "ch-old"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	superseded, err := c.Connect("g1", "alice", "ch-new")
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if superseded != "ch-old" {
		t.Fatalf("superseded: got %q, want ch-old", superseded)
	}
	if ch, ok := c.Channel("g1", "alice"); !ok || ch != "ch-new" {
		t.Fatalf("live channel: got %q %v", ch, ok)
	}

	// the stale channel's disconnect must not mark the player absent
	c.Disconnect("g1", "alice", "ch-old")
	if _, ok := c.Channel("g1", "alice"); !ok {
		t.Fatal("stale disconnect marked the player absent")
	}
}

func TestForfeitAfterGraceDeadline(t *testing.T) {
	c, eng, sink := newTestCoordinator(t, 20*time.Millisecond)

	if _, err := c.Connect("g1", "alice", "ch-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.Disconnect("g1", "alice", "ch-1")

	deadline := time.Now().Add(2 * time.Second)
	for eng.abandonedCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("forfeit never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := sink.count(gamewire.TypePresenceChanged); got != 2 {
		t.Fatalf("presence events: got %d, want connect+disconnect", got)
	}
}

func TestReconnectCancelsForfeit(t *testing.T) {
	c, eng, _ := newTestCoordinator(t, 30*time.Millisecond)

	if _, err := c.Connect("g1", "alice", "ch-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.Disconnect("g1", "alice", "ch-1")
	if _, err := c.Connect("g1", "alice", "ch-2"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	if got := eng.abandonedCount(); got != 0 {
		t.Fatalf("forfeit fired despite reconnect: %d", got)
	}
}

func TestClockResumesOnceBothConnected(t *testing.T) {
	c, eng, _ := newTestCoordinator(t, time.Minute)

	if _, err := c.Connect("g1", "alice", "ch-a"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := eng.resumeCount(); got != 0 {
		t.Fatalf("clock resumed with one player: %d", got)
	}
	if _, err := c.Connect("g1", "bob", "ch-b"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := eng.resumeCount(); got != 1 {
		t.Fatalf("resume count: got %d, want 1", got)
	}

	// a reconnect while both are up resumes again, which the session layer
	// treats as a no-op on a running clock
	if _, err := c.Connect("g1", "bob", "ch-b2"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if got := eng.resumeCount(); got != 2 {
		t.Fatalf("resume count after reconnect: got %d, want 2", got)
	}
}

func TestGraceCappedByRemainingClock(t *testing.T) {
	c, _, _ := newTestCoordinator(t, time.Hour)

	// blitz5 leaves 300s on the clock, well under the one hour ceiling
	if got := c.grace("g1", "alice"); got != 300*time.Second {
		t.Fatalf("grace: got %v, want 5m", got)
	}
	// unknown clock falls back to the ceiling
	if got := c.grace("g9", "alice"); got != time.Hour {
		t.Fatalf("fallback grace: got %v, want ceiling", got)
	}
}

func TestDropGameCancelsTimers(t *testing.T) {
	c, eng, _ := newTestCoordinator(t, 20*time.Millisecond)

	if _, err := c.Connect("g1", "alice", "ch-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.Disconnect("g1", "alice", "ch-1")
	c.DropGame("g1")

	time.Sleep(60 * time.Millisecond)
	if got := eng.abandonedCount(); got != 0 {
		t.Fatalf("forfeit fired after drop: %d", got)
	}
}
