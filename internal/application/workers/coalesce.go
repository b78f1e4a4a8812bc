package workers

import (
	"context"
	"sync"

	"github.com/aescanero/taskmesh/pkg/domain"
)

// flight is one outstanding external call shared by every waiter with the same fingerprint
type flight struct {
	done      chan struct{}
	outcome   domain.Outcome
	waiters   int
	abandoned bool
	cancel    context.CancelFunc
}

// flightGroup coalesces concurrent calls per fingerprint.
//
// The shared call runs on a context detached from any single waiter and is
// cancelled once every waiter has left. golang.org/x/sync/singleflight has no
// notion of abandoning waiters, so the table is kept here. An abandoned flight
// stays in the table until its call returns, so a fingerprint never has two
// external calls outstanding.
type flightGroup struct {
	mu      sync.Mutex
	flights map[string]*flight
}

func newFlightGroup() *flightGroup {
	return &flightGroup{flights: make(map[string]*flight)}
}

// do runs fn once per key at a time. joined is true when the caller attached to
// a call already in progress.
func (g *flightGroup) do(ctx context.Context, key string, fn func(ctx context.Context) domain.Outcome) (outcome domain.Outcome, joined bool, err error) {
	for {
		g.mu.Lock()
		f, ok := g.flights[key]
		if ok && f.abandoned {
			g.mu.Unlock()
			// the cancelled call may ignore its context: wait it out before starting another
			select {
			case <-f.done:
				continue
			case <-ctx.Done():
				return domain.Outcome{}, false, ctx.Err()
			}
		}
		if !ok {
			callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			f = &flight{done: make(chan struct{}), cancel: cancel}
			g.flights[key] = f
			go g.run(callCtx, key, f, fn)
		}
		f.waiters++
		g.mu.Unlock()

		select {
		case <-f.done:
			g.leave(f)
			return f.outcome, ok, nil
		case <-ctx.Done():
			g.leave(f)
			return domain.Outcome{}, ok, ctx.Err()
		}
	}
}

func (g *flightGroup) run(ctx context.Context, key string, f *flight, fn func(ctx context.Context) domain.Outcome) {
	f.outcome = fn(ctx)

	g.mu.Lock()
	if g.flights[key] == f {
		delete(g.flights, key)
	}
	g.mu.Unlock()

	close(f.done)
	f.cancel()
}

func (g *flightGroup) leave(f *flight) {
	g.mu.Lock()
	defer g.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}

	select {
	case <-f.done:
	default:
		// nobody is waiting any more: abort the call, run removes the entry once it returns
		f.abandoned = true
		f.cancel()
	}
}

// inFlight returns the number of outstanding calls
func (g *flightGroup) inFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.flights)
}
