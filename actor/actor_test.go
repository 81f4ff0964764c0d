package actor

import (
	"sync"
	"testing"
	"time"

	"github.com/actorkit/tdcore/internal/telemetry"
	"github.com/actorkit/tdcore/poll"
)

func newTestScheduler(t *testing.T, id int) *Scheduler {
	t.Helper()
	backend, err := poll.NewBackend()
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewScheduler(id, backend, telemetry.New(nil, 0))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func runInBackground(s *Scheduler) {
	go s.Run()
}

// recordingActor tracks which lifecycle events it has seen, guarded by a
// mutex since assertions run from the test goroutine while the scheduler
// goroutine delivers events.
type recordingActor struct {
	Base
	mu       sync.Mutex
	started  bool
	stopped  bool
	torndown bool
	timeouts int
	raws     []uint64
	done     chan struct{}
}

func (a *recordingActor) StartUp(c *Cell) {
	a.mu.Lock()
	a.started = true
	a.mu.Unlock()
}

func (a *recordingActor) TearDown(c *Cell) {
	a.mu.Lock()
	a.torndown = true
	a.mu.Unlock()
	if a.done != nil {
		close(a.done)
	}
}

func (a *recordingActor) TimeoutExpired(c *Cell) {
	a.mu.Lock()
	a.timeouts++
	a.mu.Unlock()
}

func (a *recordingActor) RawEvent(c *Cell, payload uint64) {
	a.mu.Lock()
	a.raws = append(a.raws, payload)
	a.mu.Unlock()
}

func (a *recordingActor) snapshot() (started, stopped, torndown bool, timeouts int, raws []uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started, a.stopped, a.torndown, a.timeouts, append([]uint64(nil), a.raws...)
}

func TestSpawnStartUpAndStop(t *testing.T) {
	s := newTestScheduler(t, 1)
	runInBackground(s)
	defer s.Shutdown()

	done := make(chan struct{})
	ra := &recordingActor{done: done}
	id := Spawn(s, Context{}, ra)

	waitFor(t, func() bool {
		started, _, _, _, _ := ra.snapshot()
		return started
	})

	id.Send(NewStop())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for TearDown")
	}

	_, _, torndown, _, _ := ra.snapshot()
	if !torndown {
		t.Fatal("expected TearDown to have run")
	}
}

func TestRawEventDelivery(t *testing.T) {
	s := newTestScheduler(t, 1)
	runInBackground(s)
	defer s.Shutdown()

	ra := &recordingActor{}
	id := Spawn(s, Context{}, ra)
	id.Send(NewRaw(42))

	waitFor(t, func() bool {
		_, _, _, _, raws := ra.snapshot()
		return len(raws) == 1 && raws[0] == 42
	})
}

func TestTimeoutFires(t *testing.T) {
	s := newTestScheduler(t, 1)
	runInBackground(s)
	defer s.Shutdown()

	ra := &recordingActor{}
	id := Spawn(s, Context{}, ra)

	SendClosure(id, func(a *recordingActor, c *Cell) {
		c.SetTimeoutAfter(20 * time.Millisecond)
	})

	waitFor(t, func() bool {
		_, _, _, timeouts, _ := ra.snapshot()
		return timeouts >= 1
	})
}

type hangupActor struct {
	Base
	got chan struct{}
}

func (a *hangupActor) HangupReceived(c *Cell) { close(a.got) }

func TestHangupOnOwnReset(t *testing.T) {
	s := newTestScheduler(t, 1)
	runInBackground(s)
	defer s.Shutdown()

	ha := &hangupActor{got: make(chan struct{})}
	id := Spawn(s, Context{}, ha)
	own := NewOwn(id)
	own.Reset()
	own.Reset() // second call must be a no-op, not a double Hangup (would panic on a closed channel close)

	select {
	case <-ha.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hangup")
	}
}

func TestMigrateMovesActorBetweenSchedulers(t *testing.T) {
	s1 := newTestScheduler(t, 1)
	s2 := newTestScheduler(t, 2)
	runInBackground(s1)
	runInBackground(s2)
	defer s1.Shutdown()
	defer s2.Shutdown()

	ra := &recordingActor{}
	id := Spawn(s1, Context{}, ra)

	waitFor(t, func() bool {
		started, _, _, _, _ := ra.snapshot()
		return started
	})

	migrated := make(chan struct{})
	SendClosure(id, func(a *recordingActor, c *Cell) {
		c.Migrate(s2)
		close(migrated)
	})
	select {
	case <-migrated:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the migrate closure to run")
	}

	// After migration the actor should still be reachable and keep
	// processing events, now homed on s2.
	id.Send(NewRaw(99))
	waitFor(t, func() bool {
		_, _, _, _, raws := ra.snapshot()
		for _, r := range raws {
			if r == 99 {
				return true
			}
		}
		return false
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
