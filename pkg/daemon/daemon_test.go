// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package daemon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/hydrant/pkg/command"
	"github.com/Thermoquad/hydrant/pkg/config"
	"github.com/Thermoquad/hydrant/pkg/meter"
	"github.com/Thermoquad/hydrant/pkg/meter/metertest"
	"github.com/Thermoquad/hydrant/pkg/report"
	"github.com/Thermoquad/hydrant/pkg/rtu"
	"github.com/Thermoquad/hydrant/pkg/store"
	"github.com/Thermoquad/hydrant/pkg/supervisor"
)

// fakeLink records reports and runs until cancelled
type fakeLink struct {
	mu        sync.Mutex
	reports   []report.Report
	connected atomic.Bool
}

func (l *fakeLink) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (l *fakeLink) Publish(r report.Report) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reports = append(l.reports, r)
}

func (l *fakeLink) Connected() bool {
	return l.connected.Load()
}

func (l *fakeLink) has(status report.Status) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.reports {
		if r.Status == status {
			return true
		}
	}
	return false
}

func (l *fakeLink) find(status report.Status) (report.Report, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.reports {
		if r.Status == status {
			return r, true
		}
	}
	return report.Report{}, false
}

type fakeRestarter struct {
	calls atomic.Int32
	cause atomic.Value
}

func (r *fakeRestarter) Restart(cause error) {
	r.calls.Add(1)
	r.cause.Store(cause)
}

type countingWatchdog struct {
	feeds  atomic.Int64
	closed atomic.Bool
}

func (w *countingWatchdog) Feed() error {
	w.feeds.Add(1)
	return nil
}

func (w *countingWatchdog) Close() error {
	w.closed.Store(true)
	return nil
}

type fixedMemory struct {
	avail uint64
	panic bool
}

func (m fixedMemory) Available() (uint64, error) {
	if m.panic {
		panic("procfs unavailable")
	}
	return m.avail, nil
}

type testRig struct {
	cfg      config.Config
	sim      *metertest.Simulator
	backend  *store.FileBackend
	link     *fakeLink
	queue    *command.Queue
	restarts *fakeRestarter
}

func newRig(t *testing.T) *testRig {
	t.Helper()

	cfg := config.Default()
	cfg.DeviceID = "ATM-7"
	cfg.Addresses = []rtu.Address{1}
	cfg.Meter.Settle = 0
	cfg.Meter.DrainQuiet = 0
	cfg.Meter.DrainPoll = 0
	cfg.Meter.ReadInterval = 0
	cfg.Dispense.PollInterval = time.Millisecond
	cfg.Dispense.OpenSettle = 0
	cfg.Dispense.RetryDelay = 0
	cfg.Loop.StartupDelay = 0
	cfg.Loop.IdleInterval = 20 * time.Millisecond
	cfg.Loop.QueuePause = 0
	cfg.Loop.MinFreeMemory = 1 << 20
	cfg.Supervisor.Interval = 5 * time.Millisecond
	cfg.Supervisor.HardwareTimeout = time.Second
	require.NoError(t, cfg.Validate())

	return &testRig{
		cfg:      cfg,
		sim:      metertest.NewSimulator(),
		backend:  store.NewFileBackend(t.TempDir()),
		link:     &fakeLink{},
		queue:    command.NewQueue(),
		restarts: &fakeRestarter{},
	}
}

func (r *testRig) daemon(mem MemoryProbe) *Daemon {
	return r.daemonWith(mem, nil)
}

func (r *testRig) daemonWith(mem MemoryProbe, wd supervisor.Watchdog) *Daemon {
	return New(r.cfg, Deps{
		Meter:     meter.NewDriver(r.sim, r.cfg.Meter, nil),
		Backend:   r.backend,
		Link:      r.link,
		Queue:     r.queue,
		Watchdog:  wd,
		Memory:    mem,
		Restarter: r.restarts,
	}, nil)
}

func valveOpen(sim *metertest.Simulator, addr rtu.Address) bool {
	open := false
	sim.Update(addr, func(u *metertest.Unit) { open = u.ValveOpen })
	return open
}

func runDaemon(t *testing.T, d *Daemon) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	return cancel, done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
		return nil
	}
}

// ============================================================================
// End-to-end Tests
// ============================================================================

func TestDaemon_ResumesAtBootThenServesCommands(t *testing.T) {
	rig := newRig(t)
	rig.link.connected.Store(true)
	u := rig.sim.AddUnit(1, 150)
	u.FlowPerRead = 10
	require.NoError(t, rig.backend.Put(1, 200))

	d := rig.daemon(fixedMemory{avail: 1 << 30})
	cancel, done := runDaemon(t, d)

	require.Eventually(t, func() bool {
		v, ok := d.Targets().Load(1)
		return ok && v == 200 && rig.link.has(report.StatusResumingBatch)
	}, 5*time.Second, 5*time.Millisecond)

	resume, _ := rig.link.find(report.StatusResumingBatch)
	assert.Equal(t, "ATM-7-1", resume.Device)
	assert.Equal(t, 50.0, *resume.Remaining)

	in := command.NewIngest(rig.queue, 0, 0, nil)
	_, err := in.Submit([]byte(`{"message":"success","litres":30,"deviceID":"ATM-7-1"}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return rig.link.has(report.StatusDispenseComplete)
	}, 5*time.Second, 5*time.Millisecond)

	complete, _ := rig.link.find(report.StatusDispenseComplete)
	assert.Equal(t, "ATM-7-1", complete.Device)
	assert.GreaterOrEqual(t, *complete.Dispensed, 30.0)
	v, ok := d.Targets().Load(1)
	require.True(t, ok)
	assert.Equal(t, *complete.FinalReading, v)

	require.Eventually(t, func() bool {
		return rig.link.has(report.StatusIdle)
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, waitDone(t, done))
	assert.Zero(t, rig.restarts.calls.Load())
	assert.False(t, rig.sim.Unit(1).ValveOpen, "valve left closed")
}

func TestDaemon_ShutdownSupervisesDispenseToTheEnd(t *testing.T) {
	rig := newRig(t)
	rig.sim.AddUnit(1, 100) // no flow until the test adds it
	wd := &countingWatchdog{}

	d := rig.daemonWith(nil, wd)
	cancel, done := runDaemon(t, d)

	rig.queue.Enqueue(command.Command{Kind: command.KindDispense, Address: 1, DeviceID: "ATM-7-1", Litres: 10})
	require.Eventually(t, func() bool {
		return valveOpen(rig.sim, 1)
	}, 5*time.Second, time.Millisecond)

	cancel()
	before := wd.feeds.Load()
	time.Sleep(100 * time.Millisecond)

	select {
	case <-done:
		t.Fatal("daemon returned while the dispense was still running")
	default:
	}
	assert.True(t, valveOpen(rig.sim, 1))
	assert.Greater(t, wd.feeds.Load(), before+5, "watchdog fed after shutdown was requested")

	rig.sim.Update(1, func(u *metertest.Unit) { u.Counter = 110 })
	require.NoError(t, waitDone(t, done))
	assert.False(t, valveOpen(rig.sim, 1), "valve closed at the target")

	v, ok := d.Targets().Load(1)
	require.True(t, ok)
	assert.Equal(t, 110.0, v)

	stopped := wd.feeds.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, wd.feeds.Load(), "supervisor stops with the loop")

	require.NoError(t, d.Close())
	assert.True(t, wd.closed.Load())
}

// ============================================================================
// Fault Tests
// ============================================================================

func TestDaemon_LowMemoryRestarts(t *testing.T) {
	rig := newRig(t)
	rig.link.connected.Store(true)
	rig.sim.AddUnit(1, 10)

	cancel, done := runDaemon(t, rig.daemon(fixedMemory{avail: 1024}))
	defer cancel()

	err := waitDone(t, done)
	var lf *FatalLoopFault
	require.ErrorAs(t, err, &lf)
	assert.Equal(t, "maintenance", lf.Step)
	assert.ErrorIs(t, err, ErrLowMemory)
	assert.Equal(t, int32(1), rig.restarts.calls.Load())
}

func TestDaemon_PanicBecomesFault(t *testing.T) {
	rig := newRig(t)
	rig.link.connected.Store(true)
	rig.sim.AddUnit(1, 10)

	cancel, done := runDaemon(t, rig.daemon(fixedMemory{panic: true}))
	defer cancel()

	err := waitDone(t, done)
	var lf *FatalLoopFault
	require.ErrorAs(t, err, &lf)
	assert.Contains(t, lf.Error(), "procfs unavailable")
	assert.Equal(t, int32(1), rig.restarts.calls.Load())
}

func TestDaemon_LinkLostBeyondGrace(t *testing.T) {
	rig := newRig(t)
	rig.cfg.Loop.LinkGrace = 10 * time.Millisecond
	rig.sim.AddUnit(1, 10)

	cancel, done := runDaemon(t, rig.daemon(nil))
	defer cancel()

	err := waitDone(t, done)
	assert.ErrorIs(t, err, ErrLinkLost)
	assert.Equal(t, int32(1), rig.restarts.calls.Load())
	assert.False(t, rig.link.has(report.StatusIdle), "no idle reports while disconnected")
}

// ============================================================================
// Loop Step Tests
// ============================================================================

func TestIdlePoll_ReportsDebt(t *testing.T) {
	rig := newRig(t)
	rig.cfg.Addresses = []rtu.Address{1, 2, 3}
	rig.link.connected.Store(true)
	rig.sim.AddUnit(1, 100)
	rig.sim.AddUnit(2, 250)
	require.NoError(t, rig.backend.Put(1, 100))
	require.NoError(t, rig.backend.Put(2, 300))

	d := rig.daemon(nil)
	d.loop.idlePoll()

	require.Len(t, rig.link.reports, 2, "unit 3 is silent and skipped")
	assert.Equal(t, report.StatusIdle, rig.link.reports[0].Status)
	assert.Equal(t, "ATM-7-1", rig.link.reports[0].Device)
	assert.Equal(t, 100.0, *rig.link.reports[0].CumulativeFlowL)
	assert.Equal(t, report.StatusInterrupted, rig.link.reports[1].Status)
	assert.Equal(t, 250.0, *rig.link.reports[1].CumulativeFlowL)
}

func TestIdlePoll_RetriesNoisyUnit(t *testing.T) {
	rig := newRig(t)
	rig.link.connected.Store(true)
	u := rig.sim.AddUnit(1, 42)
	u.DropReplies = 2
	require.NoError(t, rig.backend.Put(1, 42))

	d := rig.daemon(nil)
	d.loop.idlePoll()

	require.Len(t, rig.link.reports, 1)
	assert.Equal(t, report.StatusIdle, rig.link.reports[0].Status)
	assert.Equal(t, 42.0, *rig.link.reports[0].CumulativeFlowL)
	assert.Equal(t, 3, rig.sim.Unit(1).Reads)
}

func TestCheckLink_Grace(t *testing.T) {
	rig := newRig(t)
	rig.cfg.Loop.LinkGrace = time.Minute
	l := rig.daemon(nil).loop

	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	assert.NoError(t, l.checkLink(), "first observation starts the clock")
	now = now.Add(time.Minute)
	assert.NoError(t, l.checkLink(), "at the grace limit")
	now = now.Add(time.Second)
	assert.ErrorIs(t, l.checkLink(), ErrLinkLost)

	rig.link.connected.Store(true)
	assert.NoError(t, l.checkLink())
	assert.True(t, l.linkDownSince.IsZero())
}

func TestFatalLoopFault_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := error(fault("commands", cause))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "fatal loop fault in commands: boom", err.Error())
}

func TestClose_Idempotent(t *testing.T) {
	rig := newRig(t)
	d := rig.daemon(nil)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
}
