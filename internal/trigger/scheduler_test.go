package trigger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autoposter/internal/core"
	"autoposter/internal/eventbus"
	"autoposter/internal/orchestrator"
	logx "autoposter/pkg/logx"
)

type fakeSource struct {
	mu      sync.Mutex
	cfg     core.SchedulerSettings
	version int
	seen    int
}

func newSource(enabled bool, tz string, times ...string) *fakeSource {
	cfg := core.DefaultSettings()
	cfg.Enabled = enabled
	cfg.TimezoneName = tz
	cfg.TriggerTimesLocal = times
	return &fakeSource{cfg: cfg, version: 1}
}

func (f *fakeSource) Reload(context.Context) (core.SchedulerSettings, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	changed := f.version != f.seen
	f.seen = f.version
	return f.cfg, changed, nil
}

func (f *fakeSource) set(fn func(*core.SchedulerSettings)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.cfg)
	f.version++
}

type fakeRunner struct {
	calls   atomic.Int32
	block   chan struct{}
	sawDone atomic.Bool
}

func (r *fakeRunner) Run(ctx context.Context, _ string) (orchestrator.Result, error) {
	r.calls.Add(1)
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			r.sawDone.Store(true)
			return orchestrator.Result{}, ctx.Err()
		}
	}
	return orchestrator.Result{Committed: true}, nil
}

func at(hh, mm int) time.Time { return time.Date(2024, 6, 10, hh, mm, 0, 0, time.UTC) }

func newTestScheduler(t *testing.T, src SettingsSource, r Runner, start time.Time, cfg Config) (*Scheduler, *eventbus.MemBus) {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Hour
	}
	cfg.ServerLocation = time.UTC
	bus := eventbus.New()
	s := New(cfg, src, r, nil, bus, logx.Nop())
	s.now = func() time.Time { return start }
	return s, bus
}

func startScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
}

func TestNextTriggerRollsPassedTimeToTomorrow(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t, newSource(true, "UTC", "09:00", "21:00"), &fakeRunner{}, at(10, 0), Config{})
	startScheduler(t, s)

	st := s.Status()
	require.Equal(t, StateArmed, st.State)
	require.NotNil(t, st.NextTrigger)
	require.True(t, at(21, 0).Equal(*st.NextTrigger))
	require.Len(t, st.Candidates, 2)
	require.True(t, at(9, 0).AddDate(0, 0, 1).Equal(st.Candidates[1].At))
}

func TestStartArmsWithoutWaitingForPoll(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{}
	s, _ := newTestScheduler(t, newSource(true, "UTC", "09:00", "21:00"), r, at(10, 0), Config{PollInterval: 24 * time.Hour})
	startScheduler(t, s)

	st := s.Status()
	require.Equal(t, StateArmed, st.State)
	require.NotNil(t, st.NextTrigger)
	require.True(t, at(21, 0).Equal(*st.NextTrigger))

	// A second Start keeps the armed trigger and runs nothing.
	require.NoError(t, s.Start(context.Background()))
	require.True(t, at(21, 0).Equal(*s.Status().NextTrigger))
	require.Zero(t, r.calls.Load())
}

func TestDisabledNeverFires(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{}
	s, _ := newTestScheduler(t, newSource(false, "UTC", "09:00"), r, at(8, 0), Config{})
	startScheduler(t, s)

	s.Tick(context.Background(), at(9, 0))
	s.Tick(context.Background(), at(9, 1))

	st := s.Status()
	require.Equal(t, StateDisabled, st.State)
	require.Nil(t, st.NextTrigger)
	require.Zero(t, r.calls.Load())
}

func TestDueCandidateFiresOnce(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{}
	s, _ := newTestScheduler(t, newSource(true, "UTC", "09:00"), r, at(8, 59), Config{MisfireGrace: 10 * time.Minute})
	startScheduler(t, s)

	s.Tick(context.Background(), at(8, 59))
	require.Zero(t, r.calls.Load())

	s.Tick(context.Background(), at(9, 0).Add(30*time.Second))
	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !s.Status().InFlight }, time.Second, 5*time.Millisecond)

	s.Tick(context.Background(), at(9, 1))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), r.calls.Load())
	require.True(t, at(9, 0).AddDate(0, 0, 1).Equal(*s.Status().NextTrigger))
}

func TestMisfireBeyondGraceIsSkipped(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{}
	s, _ := newTestScheduler(t, newSource(true, "UTC", "09:00"), r, at(8, 0), Config{MisfireGrace: 5 * time.Minute})
	startScheduler(t, s)

	s.Tick(context.Background(), at(9, 30))
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, r.calls.Load())
	require.True(t, at(9, 0).AddDate(0, 0, 1).Equal(*s.Status().NextTrigger))
}

func TestRearmOnlyWhenTimesOrZoneChange(t *testing.T) {
	t.Parallel()
	src := newSource(true, "UTC", "09:00")
	s, bus := newTestScheduler(t, src, &fakeRunner{}, at(8, 0), Config{})
	events, unsub := bus.Subscribe(16, eventbus.SchedulerRearmed)
	defer unsub()
	startScheduler(t, s)
	require.Len(t, events, 1)

	s.Tick(context.Background(), at(8, 1))
	require.Len(t, events, 1)

	src.set(func(c *core.SchedulerSettings) { c.ImagesPerPost = 3 })
	s.Tick(context.Background(), at(8, 2))
	require.Len(t, events, 1)

	src.set(func(c *core.SchedulerSettings) { c.TriggerTimesLocal = []string{"09:00", "12:00"} })
	s.Tick(context.Background(), at(8, 3))
	require.Len(t, events, 2)

	src.set(func(c *core.SchedulerSettings) { c.TimezoneName = "Europe/Berlin" })
	s.Tick(context.Background(), at(8, 4))
	require.Len(t, events, 3)
	// 09:00 Berlin (CEST) is 07:00 UTC, already passed; 12:00 Berlin is 10:00 UTC.
	require.True(t, at(10, 0).Equal(*s.Status().NextTrigger))
}

func TestConcurrentFiresRunOnce(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{block: make(chan struct{})}
	s, _ := newTestScheduler(t, newSource(true, "UTC"), r, at(8, 0), Config{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.fire(context.Background(), TriggerSchedule)
		}()
	}
	wg.Wait()
	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	_, err := s.PostNow(context.Background())
	require.ErrorIs(t, err, core.ErrAlreadyRunning)

	close(r.block)
	s.flights.Wait()
	require.Equal(t, int32(1), r.calls.Load())

	res, err := s.PostNow(context.Background())
	require.NoError(t, err)
	require.True(t, res.Committed)
	require.Equal(t, int32(2), r.calls.Load())
}

func TestStopForcesInFlightCycleAfterTimeout(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{block: make(chan struct{})}
	s, _ := newTestScheduler(t, newSource(true, "UTC"), r, at(8, 0), Config{StopTimeout: 50 * time.Millisecond})
	require.NoError(t, s.Start(context.Background()))

	s.fire(context.Background(), TriggerSchedule)
	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Stop(context.Background()))
	require.Less(t, time.Since(start), time.Second)
	require.Eventually(t, r.sawDone.Load, time.Second, 5*time.Millisecond)
	require.False(t, s.Running())
	require.Equal(t, StateStopped, s.Status().State)
}

func TestNextOccurrenceConvertsZone(t *testing.T) {
	t.Parallel()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 08:00 EDT: 09:00 local is still ahead today.
	got, err := nextOccurrence("09:00", ny, at(12, 0))
	require.NoError(t, err)
	require.True(t, at(13, 0).Equal(got))

	// 10:00 EDT: rolled to tomorrow, exactly once.
	got, err = nextOccurrence("09:00", ny, at(14, 0))
	require.NoError(t, err)
	require.True(t, at(13, 0).AddDate(0, 0, 1).Equal(got))

	_, err = nextOccurrence("9am", ny, at(12, 0))
	require.Error(t, err)
}

func TestPreviewMatchesArmedTrigger(t *testing.T) {
	t.Parallel()
	cfg := core.DefaultSettings()
	cfg.TriggerTimesLocal = []string{"09:00", "21:00"}

	_, ok := Preview(cfg, time.UTC, at(10, 0))
	require.False(t, ok, "disabled settings arm nothing")

	cfg.Enabled = true
	next, ok := Preview(cfg, time.UTC, at(10, 0))
	require.True(t, ok)
	require.True(t, at(21, 0).Equal(next))
}
