package machine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chazu/emfrp/vm"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMachine(t *testing.T, opts ...Option) *Machine {
	t.Helper()
	m := New(vm.New(vm.Config{}), opts...)
	t.Cleanup(m.Stop)
	return m
}

// counterProgram keeps node #0 incrementing by one each tick.
func counterProgram() []byte {
	body := vm.NewBuilder()
	body.EmitByte(vm.OpGetLast, 0)
	body.EmitInt(1)
	body.Emit(vm.OpAdd)
	body.Emit(vm.OpReturn)

	setup := vm.NewBuilder()
	setup.EmitInt(0)
	setup.EmitAllocNodeNew(body.Bytes())
	setup.Emit(vm.OpHalt)

	update := vm.NewBuilder()
	update.Emit(vm.OpSaveLast)
	update.EmitByte(vm.OpUpdateNode, 0)
	update.EmitByte(vm.OpSetNode, 0)
	update.Emit(vm.OpHalt)
	return vm.EncodeLoad(setup.Bytes(), update.Bytes())
}

func TestRunCountsTicks(t *testing.T) {
	var seen []int32
	m := newMachine(t, WithTickHook(func(tick int, nodes []vm.NodeState) {
		require.Len(t, nodes, 1)
		seen = append(seen, nodes[0].Value)
	}))
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, counterProgram()))
	n, err := m.Run(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []int32{1, 2, 3, 4, 5}, seen)

	stats := m.Metrics().Stats()
	assert.EqualValues(t, 5, stats.Ticks)
	assert.EqualValues(t, 1, stats.Loads)
	assert.EqualValues(t, 0, stats.Failures)
	assert.Greater(t, stats.Instructions, int64(0))
}

func TestRunAbortsOnFailure(t *testing.T) {
	m := newMachine(t)
	ctx := context.Background()

	// Counter node whose update program panics once the value reaches 3.
	setup := vm.NewBuilder()
	setup.EmitInt(0)
	setup.EmitAllocNodeNew([]byte{byte(vm.OpGetLast), 0, byte(vm.OpInt), 1, 0, 0, 0, byte(vm.OpAdd), byte(vm.OpReturn)})
	setup.Emit(vm.OpHalt)

	update := vm.NewBuilder()
	update.Emit(vm.OpSaveLast)
	update.EmitByte(vm.OpUpdateNode, 0)
	update.EmitByte(vm.OpSetNode, 0)
	update.EmitByte(vm.OpGetNode, 0)
	update.EmitInt(-3)
	update.Emit(vm.OpAdd)
	skip := update.EmitJump(vm.OpJe8)
	update.Emit(vm.OpNone)
	require.NoError(t, update.PatchJump(skip))
	update.Emit(vm.OpHalt)
	require.NoError(t, m.Load(ctx, vm.EncodeLoad(setup.Bytes(), update.Bytes())))

	n, err := m.Run(ctx, 10)
	require.Error(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, vm.StatusPanic, vm.StatusOf(err))
	assert.True(t, errors.Is(err, vm.ErrNoneOpcode))

	stats := m.Metrics().Stats()
	assert.EqualValues(t, 2, stats.Ticks)
	assert.EqualValues(t, 1, stats.Failures)
}

func TestRunFailsOnFirstTick(t *testing.T) {
	m := newMachine(t)
	ctx := context.Background()

	// Each tick appends a node and then reads node #2, which does not exist
	// yet on the first tick.
	update := vm.NewBuilder()
	update.EmitInt(0)
	update.EmitAllocNodeNew([]byte{byte(vm.OpReturn)})
	update.EmitByte(vm.OpGetNode, 2)
	update.Emit(vm.OpExit)
	require.NoError(t, m.Load(ctx, vm.EncodeLoad(nil, update.Bytes())))

	n, err := m.Run(ctx, 10)
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, vm.StatusIndexOutOfRange, vm.StatusOf(err))

	nodes, err := m.Nodes(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestTickWithoutProgram(t *testing.T) {
	m := newMachine(t)
	err := m.Tick(context.Background())
	assert.True(t, errors.Is(err, vm.ErrNoProgram))
}

func TestLoadFailureIsReported(t *testing.T) {
	m := newMachine(t)
	err := m.Load(context.Background(), []byte{1, 2, 3})
	require.Error(t, err)
	assert.Equal(t, vm.StatusMalformedProgram, vm.StatusOf(err))
	assert.EqualValues(t, 0, m.Metrics().Stats().Loads)
}

func TestOutputDriversRunAfterTick(t *testing.T) {
	m := newMachine(t)
	ctx := context.Background()
	require.NoError(t, m.Load(ctx, counterProgram()))

	var got []int32
	require.NoError(t, m.Do(ctx, func(rt *vm.Runtime) error {
		return rt.SetOutputAction(0, func(v *int32) { got = append(got, *v) })
	}))
	_, err := m.Run(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 3}, got)
}

func TestDoRecoversDriverPanic(t *testing.T) {
	m := newMachine(t)
	ctx := context.Background()
	require.NoError(t, m.Load(ctx, counterProgram()))
	require.NoError(t, m.Do(ctx, func(rt *vm.Runtime) error {
		return rt.SetOutputAction(0, func(*int32) { panic("driver fault") })
	}))

	err := m.Tick(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver fault")

	// The machine keeps serving requests.
	_, err = m.Nodes(ctx)
	assert.NoError(t, err)
}

func TestConcurrentRequestsAreSerialized(t *testing.T) {
	m := newMachine(t)
	ctx := context.Background()
	require.NoError(t, m.Load(ctx, counterProgram()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.NoError(t, m.Tick(ctx))
			}
		}()
	}
	wg.Wait()

	nodes, err := m.Nodes(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 80, nodes[0].Value)
}

func TestRunHonorsContext(t *testing.T) {
	m := newMachine(t, WithInterval(5*time.Millisecond))
	require.NoError(t, m.Load(context.Background(), counterProgram()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	n, err := m.Run(ctx, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, n, 0)
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	a := newMachine(t)
	require.NoError(t, a.Load(ctx, counterProgram()))
	_, err := a.Run(ctx, 4)
	require.NoError(t, err)

	s, err := a.Snapshot(ctx)
	require.NoError(t, err)

	b := newMachine(t)
	require.NoError(t, b.Restore(ctx, s))
	_, err = b.Run(ctx, 2)
	require.NoError(t, err)
	nodes, err := b.Nodes(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 6, nodes[0].Value)
}

func TestStoppedMachineRejectsRequests(t *testing.T) {
	m := New(vm.New(vm.Config{}))
	m.Stop()
	m.Stop()
	assert.ErrorIs(t, m.Tick(context.Background()), ErrStopped)
}

func TestSharedRegistry(t *testing.T) {
	r := metrics.NewRegistry()
	m := newMachine(t, WithRegistry(r))
	require.NoError(t, m.Load(context.Background(), counterProgram()))
	c, ok := r.Get("emfrp/machine/loads").(metrics.Counter)
	require.True(t, ok)
	assert.EqualValues(t, 1, c.Count())
}

func TestSnapshotAfterCancel(t *testing.T) {
	m := newMachine(t)
	require.NoError(t, m.Load(context.Background(), counterProgram()))
	_, err := m.Run(context.Background(), 2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 50; i++ {
		snap, err := m.Snapshot(context.WithoutCancel(ctx))
		require.NoError(t, err)
		require.Len(t, snap.Nodes, 1)
		assert.EqualValues(t, 2, snap.Nodes[0].Value)
	}
}

func TestCanceledLoadIsNotCountedAsFailure(t *testing.T) {
	for i := 0; i < 50; i++ {
		m := newMachine(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := m.Load(ctx, counterProgram())
		if err != nil {
			assert.True(t, errors.Is(err, context.Canceled), "unexpected error: %v", err)
		}

		// Waits for a queued load to finish before reading the counters.
		nodes, err := m.Nodes(context.Background())
		require.NoError(t, err)
		stats := m.Metrics().Stats()
		assert.EqualValues(t, 0, stats.Failures)
		assert.Equal(t, stats.Loads == 1, len(nodes) == 1)
	}
}

func TestOutputDriverPanicCountsAsFailure(t *testing.T) {
	m := newMachine(t)
	ctx := context.Background()
	require.NoError(t, m.Load(ctx, counterProgram()))
	require.NoError(t, m.Do(ctx, func(rt *vm.Runtime) error {
		return rt.SetOutputAction(0, func(*int32) { panic("driver fault") })
	}))

	require.Error(t, m.Tick(ctx))
	stats := m.Metrics().Stats()
	assert.EqualValues(t, 0, stats.Ticks)
	assert.EqualValues(t, 1, stats.Failures)
}
