package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hoppxi/umbra/internal/bus"
	"github.com/hoppxi/umbra/internal/bus/bustest"
	"github.com/hoppxi/umbra/internal/helper"
	"github.com/hoppxi/umbra/pkg/brightness"
	"github.com/hoppxi/umbra/pkg/displayinfo"
	"github.com/hoppxi/umbra/pkg/operation"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	mu     sync.Mutex
	levels map[uint32]brightness.Value
	sets   []brightness.Value
	failOn map[uint32]bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{levels: map[uint32]brightness.Value{}, failOn: map[uint32]bool{}}
}

func (d *fakeDriver) Brightness(handle uint32) (brightness.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOn[handle] {
		return 0, operation.ErrDriver
	}
	return d.levels[handle], nil
}

func (d *fakeDriver) SetBrightness(handle uint32, v brightness.Value) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOn[handle] {
		return errors.New("status 5")
	}
	d.sets = append(d.sets, v)
	d.levels[handle] = v
	return nil
}

func (d *fakeDriver) Sets() []brightness.Value {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]brightness.Value(nil), d.sets...)
}

type rig struct {
	engine *Engine
	driver *fakeDriver
	helper *bustest.Helper
	client *bus.Client
}

func newRig(t *testing.T, timeout time.Duration, displays ...displayinfo.Display) *rig {
	t.Helper()
	h := bustest.NewHelper()
	client := bus.NewClient(h, bus.NewRegistry(timeout), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go client.Run(ctx)

	enum := displayinfo.EnumeratorFunc(func() ([]displayinfo.Display, error) {
		return append([]displayinfo.Display(nil), displays...), nil
	})
	adapter := helper.NewAdapter(client, helper.StaticPresence{IsInstalled: true, IsRunning: true}, 0, zerolog.Nop())
	mapper := helper.NewMapper(enum, adapter, zerolog.Nop())
	driver := newFakeDriver()

	e := New(enum, driver, adapter, mapper, zerolog.Nop(), WithMappingWait(time.Second))
	t.Cleanup(e.Close)
	return &rig{engine: e, driver: driver, helper: h, client: client}
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

var (
	panel = displayinfo.Display{Handle: 1, Name: "eDP-1", Kind: displayinfo.Internal}
	extX  = displayinfo.Display{Handle: 10, Name: "DP-1", Kind: displayinfo.External}
	extA  = displayinfo.Display{Handle: 20, Name: "DP-2", Kind: displayinfo.External}
	extB  = displayinfo.Display{Handle: 30, Name: "HDMI-A-1", Kind: displayinfo.External}
)

func TestEngine_BuiltinDimUndim(t *testing.T) {
	r := newRig(t, time.Second, panel)
	r.driver.levels[1] = 0.8

	require.NoError(t, r.engine.DimContext(ctx(t), 0))
	assert.Equal(t, Dimmed, r.engine.State())
	assert.Equal(t, []brightness.Value{0}, r.driver.Sets())

	require.NoError(t, r.engine.UndimContext(ctx(t)))
	assert.Equal(t, Idle, r.engine.State())
	assert.Equal(t, []brightness.Value{0, 0.8}, r.driver.Sets())
}

func TestEngine_DimClampsTarget(t *testing.T) {
	r := newRig(t, time.Second, panel)
	r.driver.levels[1] = 0.5

	require.NoError(t, r.engine.DimContext(ctx(t), -3))
	require.NoError(t, r.engine.SetCustomContext(ctx(t), 9))
	assert.Equal(t, []brightness.Value{0, 1}, r.driver.Sets())
}

func TestEngine_ExternalRoundTrip(t *testing.T) {
	r := newRig(t, time.Second, extX)
	r.helper.DisplayList = `{"uuid":"X","id":10}`
	r.helper.SetLevel("X", 0.45)

	require.NoError(t, r.engine.DimContext(ctx(t), 0.10))

	st, err := r.engine.Status(ctx(t))
	require.NoError(t, err)
	assert.Equal(t, map[uint32]brightness.Value{10: 0.45}, st.Cache)
	assert.Equal(t, Dimmed, st.State)

	require.NoError(t, r.engine.UndimContext(ctx(t)))
	assert.Equal(t, []bustest.Set{
		{Identity: "X", Brightness: "0.10"},
		{Identity: "X", Brightness: "0.45"},
	}, r.helper.Sets())
	assert.Equal(t, brightness.Value(0.45), r.helper.Level("X"))
}

func TestEngine_MixedRoundTripAndIdempotentUndim(t *testing.T) {
	r := newRig(t, time.Second, panel, extA, extB)
	r.helper.DisplayList = `{"uuid":"A","id":20}{"uuid":"B","id":30}`
	r.helper.SetLevel("A", 0.3)
	r.helper.SetLevel("B", 0.9)
	r.driver.levels[1] = 0.65

	require.NoError(t, r.engine.DimContext(ctx(t), 0))
	assert.Equal(t, brightness.Value(0), r.helper.Level("A"))
	assert.Equal(t, brightness.Value(0), r.helper.Level("B"))

	for i := 0; i < 2; i++ {
		require.NoError(t, r.engine.UndimContext(ctx(t)))
		assert.Equal(t, brightness.Value(0.3), r.helper.Level("A"))
		assert.Equal(t, brightness.Value(0.9), r.helper.Level("B"))
		assert.Equal(t, brightness.Value(0.65), r.driver.levels[1])
	}
	assert.Equal(t, []brightness.Value{0, 0.65, 0.65}, r.driver.Sets())
	assert.Len(t, r.helper.Sets(), 6)
}

func TestEngine_TimeoutLeavesDisplayOutOfCache(t *testing.T) {
	r := newRig(t, 50*time.Millisecond, panel, extX)
	r.helper.DisplayList = `{"uuid":"X","id":10}`
	r.helper.SetLevel("X", 0.45)
	r.driver.levels[1] = 0.8

	// build the mapping first, then silence the display
	require.NoError(t, r.engine.RefreshMappingContext(ctx(t)))
	r.helper.Silent["X"] = true

	require.NoError(t, r.engine.DimContext(ctx(t), 0))
	st, err := r.engine.Status(ctx(t))
	require.NoError(t, err)
	assert.Equal(t, map[uint32]brightness.Value{1: 0.8}, st.Cache)
	assert.Equal(t, 0, r.client.Registry().Pending())

	r.helper.Silent["X"] = false
	require.NoError(t, r.engine.UndimContext(ctx(t)))
	for _, s := range r.helper.Sets() {
		assert.NotEqual(t, "0.45", s.Brightness, "unsaved display must not be restored")
	}
}

func TestEngine_BatchWaitsForSlowestDisplay(t *testing.T) {
	const delay = 60 * time.Millisecond
	r := newRig(t, time.Second, extA, extB)
	r.helper.DisplayList = `{"uuid":"A","id":20}{"uuid":"B","id":30}`
	r.helper.SetLevel("A", 0.3)
	r.helper.SetLevel("B", 0.9)
	require.NoError(t, r.engine.RefreshMappingContext(ctx(t)))
	r.helper.Delay["A"] = delay

	start := time.Now()
	require.NoError(t, r.engine.DimContext(ctx(t), 0.2))
	// A's get and set are both delayed while B answers at once
	assert.GreaterOrEqual(t, time.Since(start), 2*delay)

	st, err := r.engine.Status(ctx(t))
	require.NoError(t, err)
	assert.Equal(t, map[uint32]brightness.Value{20: 0.3, 30: 0.9}, st.Cache)
}

func TestEngine_UnmappedExternalSkipped(t *testing.T) {
	r := newRig(t, time.Second, panel, extX, extB)
	r.helper.DisplayList = `{"uuid":"X","id":10}`
	r.helper.SetLevel("X", 0.4)
	r.driver.levels[1] = 0.7

	require.NoError(t, r.engine.DimContext(ctx(t), 0))
	st, err := r.engine.Status(ctx(t))
	require.NoError(t, err)
	assert.Equal(t, map[uint32]brightness.Value{1: 0.7, 10: 0.4}, st.Cache)

	for _, req := range r.helper.Requests() {
		if id, ok := req.Param("uuid"); ok && id != nil {
			assert.Equal(t, "X", *id)
		}
	}
}

func TestEngine_DriverErrorDoesNotStallBatch(t *testing.T) {
	r := newRig(t, time.Second, panel, extX)
	r.helper.DisplayList = `{"uuid":"X","id":10}`
	r.helper.SetLevel("X", 0.4)
	r.driver.failOn[1] = true

	require.NoError(t, r.engine.DimContext(ctx(t), 0))
	assert.Equal(t, Dimmed, r.engine.State())
	st, err := r.engine.Status(ctx(t))
	require.NoError(t, err)
	assert.Equal(t, map[uint32]brightness.Value{10: 0.4}, st.Cache)
}

func TestEngine_HelperUnavailable(t *testing.T) {
	r := newRig(t, time.Second, panel, extX)
	r.driver.levels[1] = 0.6

	adapter := helper.NewAdapter(r.client, helper.StaticPresence{IsInstalled: false}, 0, zerolog.Nop())
	r.engine.helper = adapter
	r.engine.mapper = helper.NewMapper(r.engine.enum, adapter, zerolog.Nop())

	require.NoError(t, r.engine.DimContext(ctx(t), 0))
	require.NoError(t, r.engine.UndimContext(ctx(t)))
	assert.Empty(t, r.helper.Requests())
	assert.Equal(t, []brightness.Value{0, 0.6}, r.driver.Sets())
}

func TestEngine_RedimOverwritesCache(t *testing.T) {
	r := newRig(t, time.Second, panel)
	r.driver.levels[1] = 0.8

	require.NoError(t, r.engine.DimContext(ctx(t), 0.5))
	require.NoError(t, r.engine.DimContext(ctx(t), 0.1))

	// the second save read the level the first dim had set
	st, err := r.engine.Status(ctx(t))
	require.NoError(t, err)
	assert.Equal(t, brightness.Value(0.5), st.Cache[1])
	assert.Equal(t, Dimmed, st.State)
}

func TestEngine_OverlappingDimsEndAtLastTarget(t *testing.T) {
	r := newRig(t, time.Second, panel)
	r.driver.levels[1] = 0.8

	var wg sync.WaitGroup
	wg.Add(2)
	r.engine.Dim(0.5, wg.Done)
	r.engine.Dim(0.1, wg.Done)
	wg.Wait()

	// the first dim writes nothing when the second one started before its
	// saves were delivered
	sets := r.driver.Sets()
	require.NotEmpty(t, sets)
	assert.LessOrEqual(t, len(sets), 2)
	assert.Equal(t, brightness.Value(0.1), sets[len(sets)-1])
	assert.Equal(t, Dimmed, r.engine.State())
}

func TestEngine_UndimOvertakesDim(t *testing.T) {
	r := newRig(t, time.Second, extX)
	r.helper.DisplayList = `{"uuid":"X","id":10}`
	r.helper.SetLevel("X", 0.45)
	require.NoError(t, r.engine.RefreshMappingContext(ctx(t)))
	r.helper.Delay["X"] = 100 * time.Millisecond

	dimmed := make(chan struct{})
	r.engine.Dim(0, func() { close(dimmed) })
	require.NoError(t, r.engine.UndimContext(ctx(t)))

	select {
	case <-dimmed:
	case <-time.After(2 * time.Second):
		t.Fatal("dim never completed")
	}

	assert.Empty(t, r.helper.Sets(), "superseded dim must not darken the display")
	assert.Equal(t, brightness.Value(0.45), r.helper.Level("X"))

	st, err := r.engine.Status(ctx(t))
	require.NoError(t, err)
	assert.Equal(t, Idle, st.State)
}

func TestEngine_SetMappingWait(t *testing.T) {
	r := newRig(t, time.Second, extX)
	assert.Equal(t, time.Second, r.engine.MappingWait())

	r.engine.SetMappingWait(40 * time.Millisecond)
	assert.Equal(t, 40*time.Millisecond, r.engine.MappingWait())

	// an unanswered display list now holds the batch for the new wait only
	r.helper.Silent[""] = true
	start := time.Now()
	require.NoError(t, r.engine.DimContext(ctx(t), 0))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestEngine_CurrentBrightness(t *testing.T) {
	r := newRig(t, time.Second, panel, extX, extB)
	r.helper.DisplayList = `{"uuid":"X","id":10}`
	r.helper.SetLevel("X", 0.25)
	r.driver.levels[1] = 0.75

	readings, err := r.engine.CurrentBrightnessContext(ctx(t))
	require.NoError(t, err)
	require.Len(t, readings, 3)

	assert.Equal(t, Reading{Display: panel, Value: 0.75, OK: true}, readings[0])
	want := extX
	want.ExternalIdentity = "X"
	assert.Equal(t, Reading{Display: want, Value: 0.25, OK: true}, readings[1])
	assert.False(t, readings[2].OK)

	st, err := r.engine.Status(ctx(t))
	require.NoError(t, err)
	assert.Empty(t, st.Cache)
}

func TestEngine_NoDisplays(t *testing.T) {
	r := newRig(t, time.Second)
	require.NoError(t, r.engine.DimContext(ctx(t), 0))
	assert.Equal(t, Dimmed, r.engine.State())
	require.NoError(t, r.engine.UndimContext(ctx(t)))
	assert.Equal(t, Idle, r.engine.State())
}

func TestEngine_ContextCancelled(t *testing.T) {
	r := newRig(t, time.Minute, extX)
	r.helper.DisplayList = `{"uuid":"X","id":10}`
	require.NoError(t, r.engine.RefreshMappingContext(ctx(t)))
	r.helper.Silent["X"] = true

	c, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.engine.DimContext(c, 0), context.DeadlineExceeded)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "saving", Saving.String())
	assert.Equal(t, "setting", Setting.String())
	assert.Equal(t, "dimmed", Dimmed.String())
	assert.Equal(t, "restoring", Restoring.String())
}
