// Package machine drives an emfrp runtime. A Machine owns one vm.Runtime and
// serializes every operation on it through a single goroutine, so loads,
// ticks and inspection requests from the CLI, the console and the RPC
// service never race.
package machine

import (
	"context"
	"sync"
	"time"

	"github.com/chazu/emfrp/vm"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("emfrp.machine")

// ErrStopped is returned for requests submitted after Stop.
var ErrStopped = errors.New("machine stopped")

// TickFunc observes the node graph after each successful tick. tick counts
// from 1 within a Run.
type TickFunc func(tick int, nodes []vm.NodeState)

// request is a unit of work executed on the machine goroutine.
type request struct {
	fn   func(*vm.Runtime) error
	done chan error
}

// Machine serializes all runtime access through a single goroutine.
type Machine struct {
	rt       *vm.Runtime
	requests chan request
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	interval time.Duration
	onTick   TickFunc
	metrics  *Metrics
}

// Option configures a Machine.
type Option func(*Machine)

// WithInterval paces Run: consecutive ticks start at least d apart.
func WithInterval(d time.Duration) Option {
	return func(m *Machine) { m.interval = d }
}

// WithTickHook registers fn to be called after every successful tick.
func WithTickHook(fn TickFunc) Option {
	return func(m *Machine) { m.onTick = fn }
}

// WithRegistry records machine metrics in r instead of a private registry.
func WithRegistry(r metrics.Registry) Option {
	return func(m *Machine) { m.metrics = newMetrics(r) }
}

// New creates a Machine around rt and starts its goroutine.
func New(rt *vm.Runtime, opts ...Option) *Machine {
	m := &Machine{
		rt:       rt,
		requests: make(chan request, 64),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = newMetrics(metrics.NewRegistry())
	}
	go m.loop()
	return m
}

// loop processes requests sequentially on the machine goroutine.
func (m *Machine) loop() {
	defer close(m.stopped)
	for {
		select {
		case req := <-m.requests:
			req.done <- m.execute(req.fn)
		case <-m.quit:
			return
		}
	}
}

// execute runs fn on the runtime, recovering from panics raised by device
// drivers.
func (m *Machine) execute(fn func(*vm.Runtime) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("machine: panic: %v", r)
			log.Errorf("recovered: %v", r)
		}
	}()
	return fn(m.rt)
}

// Do submits fn for execution on the machine goroutine and blocks until it
// completes or ctx is done.
//
// A ctx.Err() result does not mean fn was skipped: once queued, fn runs to
// completion even if the caller has stopped waiting. Callers that must
// finish regardless of cancellation, such as a final state dump, should pass
// context.WithoutCancel(ctx).
func (m *Machine) Do(ctx context.Context, fn func(*vm.Runtime) error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case m.requests <- req:
	case <-m.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Load installs a load buffer, running its init segment. The load and
// failure counters are updated on the machine goroutine, so they reflect
// what happened to the runtime even when ctx ends first.
func (m *Machine) Load(ctx context.Context, buf []byte) error {
	err := m.Do(ctx, func(rt *vm.Runtime) error {
		if err := rt.SetNewCode(buf); err != nil {
			m.metrics.failures.Inc(1)
			return err
		}
		m.metrics.loads.Inc(1)
		log.Infof("loaded %d byte program", len(buf))
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "load")
	}
	return nil
}

// Tick runs the retained update program once and flushes output drivers.
func (m *Machine) Tick(ctx context.Context) error {
	_, err := m.tick(ctx)
	return err
}

func (m *Machine) tick(ctx context.Context) ([]vm.NodeState, error) {
	var nodes []vm.NodeState
	start := time.Now()
	err := m.Do(ctx, func(rt *vm.Runtime) error {
		ok := false
		// Deferred so a panicking output driver still counts as a failure.
		defer func() {
			if ok {
				m.metrics.ticks.Inc(1)
				m.metrics.tickTime.UpdateSince(start)
			} else {
				m.metrics.failures.Inc(1)
			}
		}()
		err := rt.Tick()
		m.metrics.instructions.Inc(int64(rt.Steps()))
		if err != nil {
			return err
		}
		rt.FlushOutputs()
		if m.onTick != nil {
			nodes = rt.Nodes()
		}
		ok = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// Run executes n ticks, or ticks until ctx is done when n <= 0. It stops at
// the first tick that does not complete with StatusOK and returns the number
// of ticks that did.
func (m *Machine) Run(ctx context.Context, n int) (int, error) {
	var pace <-chan time.Time
	if m.interval > 0 {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		pace = ticker.C
	}

	done := 0
	for n <= 0 || done < n {
		if done > 0 && pace != nil {
			select {
			case <-pace:
			case <-ctx.Done():
				return done, ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return done, err
		}
		nodes, err := m.tick(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return done, err
		}
		if err != nil {
			log.Errorf("tick %d failed (%s): %v", done+1, vm.StatusOf(err), err)
			return done, errors.Wrapf(err, "tick %d", done+1)
		}
		done++
		if m.onTick != nil {
			m.onTick(done, nodes)
		}
	}
	return done, nil
}

// Nodes returns the current state of every node.
func (m *Machine) Nodes(ctx context.Context) ([]vm.NodeState, error) {
	var nodes []vm.NodeState
	err := m.Do(ctx, func(rt *vm.Runtime) error {
		nodes = rt.Nodes()
		return nil
	})
	return nodes, err
}

// Snapshot captures the runtime state.
func (m *Machine) Snapshot(ctx context.Context) (*vm.Snapshot, error) {
	var s *vm.Snapshot
	err := m.Do(ctx, func(rt *vm.Runtime) error {
		s = rt.Snapshot()
		return nil
	})
	return s, err
}

// Restore replaces the runtime state with s.
func (m *Machine) Restore(ctx context.Context, s *vm.Snapshot) error {
	return m.Do(ctx, func(rt *vm.Runtime) error {
		return rt.Restore(s)
	})
}

// Metrics returns the machine's counters.
func (m *Machine) Metrics() *Metrics { return m.metrics }

// Stop shuts down the machine goroutine. Pending and later requests fail
// with ErrStopped.
func (m *Machine) Stop() {
	m.stopOnce.Do(func() { close(m.quit) })
	<-m.stopped
}
