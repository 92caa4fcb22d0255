package node

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-edgecam/pkg/capture"
	"github.com/teslashibe/go-edgecam/pkg/engine"
	"github.com/teslashibe/go-edgecam/pkg/imgproc"
	"github.com/teslashibe/go-edgecam/pkg/memory"
	"github.com/teslashibe/go-edgecam/pkg/task"
	"github.com/teslashibe/go-edgecam/pkg/variant"
)

// scriptedLock grants or refuses acquisitions in a fixed order.
type scriptedLock struct {
	mu       sync.Mutex
	script   []bool
	next     int
	held     bool
	releases int
}

func (l *scriptedLock) Acquire(ctx context.Context, timeout time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	grant := l.next >= len(l.script) || l.script[l.next]
	l.next++
	if !grant || l.held {
		return capture.ErrLockTimeout
	}
	l.held = true
	return nil
}

func (l *scriptedLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.releases++
}

func testConfig(t *testing.T) Config {
	t.Helper()
	v, err := variant.Lookup("person")
	if err != nil {
		t.Fatal(err)
	}
	pc := imgproc.DefaultConfig()
	return Config{
		Variant:     v,
		Pipeline:    pc,
		Regions:     append(pc.Regions(), memory.Region{Name: memory.RegionArena, Size: 160 * 1024}),
		Model:       engine.MockModel(nil),
		Threshold:   50,
		LockTimeout: 5 * time.Millisecond,
		IdleDelay:   time.Millisecond,
		SkipDelay:   time.Millisecond,
	}
}

func newDevice(t *testing.T) *capture.MockDevice {
	t.Helper()
	dev, err := capture.NewMockDevice(capture.DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return dev
}

func hostTiers() []memory.Tier {
	return []memory.Tier{memory.NewPool("sram", 0), memory.NewPool("psram", 8<<20)}
}

func TestNode_EndToEndAlternatingLock(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	lock := &scriptedLock{script: []bool{true, false, true}}
	dev := newDevice(t)
	eng := engine.NewMock(engine.DefaultMockConfig(), nil)

	n, err := New(testConfig(t), dev, eng, hostTiers(), logger, WithLocker(lock))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := n.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer n.Shutdown()

	ctx := context.Background()
	want := []task.Outcome{task.Processed, task.Skipped, task.Processed}
	for i, w := range want {
		outcome, stop, err := n.inference.Step(ctx)
		if outcome != w || stop {
			t.Fatalf("cycle %d: outcome %v (err %v), want %v", i, outcome, err, w)
		}
	}

	if got := eng.CallCount("Invoke"); got != 2 {
		t.Errorf("engine invoked %d times, want 2", got)
	}
	if got := strings.Count(logs.String(), "cycle skipped"); got != 1 {
		t.Errorf("expected 1 skip log, got %d", got)
	}
	if lock.releases != 2 || lock.held {
		t.Errorf("lock releases %d held %v", lock.releases, lock.held)
	}
	if dev.Outstanding() != 0 {
		t.Errorf("%d frames outstanding", dev.Outstanding())
	}
	if _, ok := n.Latest(); !ok {
		t.Error("expected a published detection")
	}
}

func TestNode_InitFailsWhenMemoryShort(t *testing.T) {
	tiers := []memory.Tier{memory.NewPool("sram", 64*1024)}
	eng := engine.NewMock(engine.DefaultMockConfig(), nil)

	n, err := New(testConfig(t), newDevice(t), eng, tiers, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = n.Init()
	if !errors.Is(err, memory.ErrOutOfMemory) {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}
	if eng.CallCount("Load") != 0 {
		t.Error("model loaded despite allocation failure")
	}
	if got := tiers[0].(*memory.Pool).Outstanding(); got != 0 {
		t.Errorf("%d buffers leaked", got)
	}
	if err := n.Run(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Run after failed Init: %v", err)
	}
}

func TestNode_InitFailsOnSchemaMismatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.Model = []byte("not a model at all")
	tiers := hostTiers()

	n, err := New(cfg, newDevice(t), engine.NewMock(engine.DefaultMockConfig(), nil), tiers, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Init(); !errors.Is(err, engine.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
	for _, tier := range tiers {
		if got := tier.(*memory.Pool).Outstanding(); got != 0 {
			t.Errorf("tier %s: %d buffers leaked", tier.Name(), got)
		}
	}
}

func TestNode_InitFailsWhenArenaTooSmall(t *testing.T) {
	cfg := testConfig(t)
	cfg.Regions[len(cfg.Regions)-1].Size = 1024

	n, err := New(cfg, newDevice(t), engine.NewMock(engine.DefaultMockConfig(), nil), hostTiers(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Init(); !errors.Is(err, engine.ErrArenaTooSmall) {
		t.Fatalf("expected ErrArenaTooSmall, got %v", err)
	}
}

func TestNode_RejectsNonVisionVariant(t *testing.T) {
	cfg := testConfig(t)
	cfg.Variant, _ = variant.Lookup("kws01")
	if _, err := New(cfg, newDevice(t), engine.NewMock(engine.DefaultMockConfig(), nil), hostTiers(), nil); err == nil {
		t.Error("expected error for non-vision variant")
	}
}

func TestNode_RunPublishesDetections(t *testing.T) {
	n, err := New(testConfig(t), newDevice(t), engine.NewMock(engine.DefaultMockConfig(), nil), hostTiers(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Init(); err != nil {
		t.Fatal(err)
	}

	ch, cancelSub := n.Subscribe()
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	select {
	case d := <-ch:
		if d.Seq == 0 || d.Timestamp.IsZero() {
			t.Errorf("unexpected detection %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no detection published")
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}

	st := n.Status()
	if st.Inference.Processed == 0 || st.Latest == nil || len(st.Regions) != 4 {
		t.Errorf("unexpected status %+v", st)
	}
	if st.Lock.Acquired == 0 {
		t.Error("status missing lock counters")
	}
	n.Shutdown()
}
