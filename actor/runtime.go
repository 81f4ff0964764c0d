package actor

import (
	"fmt"

	"github.com/actorkit/tdcore/internal/telemetry"
	"github.com/actorkit/tdcore/poll"
)

// Runtime owns a fixed pool of worker Schedulers plus one auxiliary
// Scheduler, mirroring the source's SchedulerGroup: most actors run on a
// worker, while housekeeping actors (binlog flush, reindex throttling, long
// poll timeouts) that shouldn't compete with request-serving workers for a
// slot are spawned on the auxiliary Scheduler instead.
type Runtime struct {
	workers   []*Scheduler
	auxiliary *Scheduler
	log       *telemetry.Logger
}

// NewRuntime starts workerCount worker Schedulers and one auxiliary
// Scheduler, each with its own poll.Backend and goroutine. Call Shutdown to
// stop them all.
func NewRuntime(workerCount int, log *telemetry.Logger) (*Runtime, error) {
	if workerCount < 1 {
		workerCount = 1
	}
	rt := &Runtime{log: log}

	for i := 0; i < workerCount; i++ {
		backend, err := poll.NewBackend()
		if err != nil {
			rt.closePartial()
			return nil, fmt.Errorf("actor: runtime: worker %d backend: %w", i, err)
		}
		s, err := NewScheduler(i, backend, log.With(fmt.Sprintf("worker[%d]", i)))
		if err != nil {
			rt.closePartial()
			return nil, fmt.Errorf("actor: runtime: worker %d scheduler: %w", i, err)
		}
		rt.workers = append(rt.workers, s)
	}

	auxBackend, err := poll.NewBackend()
	if err != nil {
		rt.closePartial()
		return nil, fmt.Errorf("actor: runtime: auxiliary backend: %w", err)
	}
	aux, err := NewScheduler(workerCount, auxBackend, log.With("auxiliary"))
	if err != nil {
		rt.closePartial()
		return nil, fmt.Errorf("actor: runtime: auxiliary scheduler: %w", err)
	}
	rt.auxiliary = aux

	for _, s := range rt.workers {
		go s.Run()
	}
	go rt.auxiliary.Run()

	return rt, nil
}

func (rt *Runtime) closePartial() {
	for _, s := range rt.workers {
		s.Shutdown()
	}
}

// WorkerCount returns the number of worker Schedulers (excluding the
// auxiliary one).
func (rt *Runtime) WorkerCount() int { return len(rt.workers) }

// Worker returns the i'th worker Scheduler, chosen round-robin by callers
// that need to spread actors across the pool (i is taken mod WorkerCount).
func (rt *Runtime) Worker(i int) *Scheduler {
	return rt.workers[i%len(rt.workers)]
}

// Auxiliary returns the Scheduler reserved for housekeeping actors.
func (rt *Runtime) Auxiliary() *Scheduler { return rt.auxiliary }

// CreateActor spawns a onto the i'th worker scheduler (see Worker).
func CreateActor[T Actor](rt *Runtime, i int, ctx Context, a T) ID[T] {
	return Spawn(rt.Worker(i), ctx, a)
}

// CreateAuxiliaryActor spawns a onto the auxiliary scheduler.
func CreateAuxiliaryActor[T Actor](rt *Runtime, ctx Context, a T) ID[T] {
	return Spawn(rt.auxiliary, ctx, a)
}

// Shutdown stops every worker and the auxiliary Scheduler, blocking until
// each has returned from Run.
func (rt *Runtime) Shutdown() {
	for _, s := range rt.workers {
		s.Shutdown()
	}
	rt.auxiliary.Shutdown()
}
