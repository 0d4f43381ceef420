package integrity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
)

type fakeTransport struct {
	mu      sync.Mutex
	sent    [][]model.IntegrityEventInput
	beacons [][]model.IntegrityEventInput
	sendErr error
	beacon  bool
	notify  chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{beacon: true, notify: make(chan struct{}, 16)}
}

func (f *fakeTransport) Send(_ context.Context, events []model.IntegrityEventInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, events)
	select {
	case f.notify <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeTransport) Beacon(events []model.IntegrityEventInput) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.beacon {
		return false
	}
	f.beacons = append(f.beacons, events)
	return true
}

func (f *fakeTransport) sentBatches() [][]model.IntegrityEventInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]model.IntegrityEventInput(nil), f.sent...)
}

func waitSend(t *testing.T, f *fakeTransport) {
	t.Helper()
	select {
	case <-f.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("no batch was sent")
	}
}

func TestCollectorFlushesAtBatchSize(t *testing.T) {
	tr := newFakeTransport()
	c := NewCollector(tr, Config{FlushInterval: time.Hour, DriftInterval: time.Hour}, zerolog.Nop())
	c.Start(t.Context())
	defer c.Close()

	for range 5 {
		c.Record(model.EventWindowBlur, nil)
	}
	waitSend(t, tr)

	batches := tr.sentBatches()
	if len(batches) != 1 || len(batches[0]) != 5 {
		t.Fatalf("batches = %d, want one batch of 5", len(batches))
	}
}

func TestCollectorFlushesOnInterval(t *testing.T) {
	tr := newFakeTransport()
	c := NewCollector(tr, Config{FlushInterval: 10 * time.Millisecond, DriftInterval: time.Hour}, zerolog.Nop())
	c.Start(t.Context())
	defer c.Close()

	c.Record(model.EventVisibilityHidden, map[string]any{"durationMs": 1200})
	waitSend(t, tr)

	ev := tr.sentBatches()[0][0]
	if ev.Type != model.EventVisibilityHidden || ev.Severity != model.SeverityWarning {
		t.Fatalf("unexpected event %+v", ev)
	}
	if string(ev.Metadata) != `{"durationMs":1200}` {
		t.Fatalf("metadata = %s", ev.Metadata)
	}
}

func TestCollectorRequeuesFailedBatch(t *testing.T) {
	tr := newFakeTransport()
	tr.sendErr = errors.New("offline")
	c := NewCollector(tr, Config{BatchSize: 100}, zerolog.Nop())

	c.Record("first", nil)
	c.Record("second", nil)
	if err := c.Flush(t.Context()); err == nil {
		t.Fatal("expected flush error")
	}
	c.Record("third", nil)
	if c.Len() != 3 {
		t.Fatalf("len = %d, want 3", c.Len())
	}

	tr.mu.Lock()
	tr.sendErr = nil
	tr.mu.Unlock()
	if err := c.Flush(t.Context()); err != nil {
		t.Fatal(err)
	}

	batch := tr.sentBatches()[0]
	want := []string{"first", "second", "third"}
	for i, ev := range batch {
		if ev.Type != want[i] {
			t.Fatalf("order = %v, want %v", batch, want)
		}
	}
}

func TestCollectorQueueIsBounded(t *testing.T) {
	c := NewCollector(newFakeTransport(), Config{BatchSize: 100, QueueLimit: 3}, zerolog.Nop())
	for range 5 {
		c.Record(model.EventWindowBlur, nil)
	}
	if c.Len() != 3 || c.Dropped() != 2 {
		t.Fatalf("len = %d dropped = %d, want 3 and 2", c.Len(), c.Dropped())
	}
}

func TestCollectorCloseUsesBeacon(t *testing.T) {
	tr := newFakeTransport()
	c := NewCollector(tr, Config{BatchSize: 100}, zerolog.Nop())
	c.Record(model.EventFullscreenExit, nil)
	c.Close()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.beacons) != 1 || len(tr.sent) != 0 {
		t.Fatalf("beacons = %d sent = %d, want 1 and 0", len(tr.beacons), len(tr.sent))
	}
	last := tr.beacons[0][len(tr.beacons[0])-1]
	if last.Type != model.EventPageHide {
		t.Fatalf("last event = %q, want page_hide", last.Type)
	}
}

func TestCollectorCloseFallsBackToKeepalive(t *testing.T) {
	tr := newFakeTransport()
	tr.beacon = false
	c := NewCollector(tr, Config{BatchSize: 100}, zerolog.Nop())
	c.Record(model.EventFullscreenExit, nil)
	c.Close()

	if batches := tr.sentBatches(); len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("batches = %v, want one batch of 2", batches)
	}

	c.Record(model.EventWindowBlur, nil)
	if c.Len() != 0 {
		t.Fatal("closed collector accepted an event")
	}
}

func TestDriftDetector(t *testing.T) {
	start := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	d := NewDriftDetector(time.Second, 1500*time.Millisecond, start)

	if _, ok := d.Observe(start.Add(1100 * time.Millisecond)); ok {
		t.Fatal("small jitter reported as drift")
	}
	drift, ok := d.Observe(start.Add(5 * time.Second))
	if !ok || drift != 2900*time.Millisecond {
		t.Fatalf("drift = %v ok = %v, want 2.9s true", drift, ok)
	}
	if _, ok := d.Observe(start.Add(3 * time.Second)); !ok {
		t.Fatal("backwards clock jump not reported")
	}
}

func TestDriftDetectorReportsClockChange(t *testing.T) {
	start := time.Now()
	d := NewDriftDetector(time.Second, 1500*time.Millisecond, start)

	if _, ok := d.Observe(start.Add(time.Second)); ok {
		t.Fatal("on-time tick reported as drift")
	}

	// The system clock is set back an hour between two ticks.
	drift, ok := d.Observe(start.Round(0).Add(2*time.Second - time.Hour))
	if !ok || drift != time.Hour {
		t.Fatalf("drift = %v ok = %v, want 1h true", drift, ok)
	}
}
