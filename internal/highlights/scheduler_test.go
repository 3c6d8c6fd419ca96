package highlights

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerCoalescesBursts(t *testing.T) {
	var runs atomic.Int32
	scheduler := NewScheduler(20*time.Millisecond, func() { runs.Add(1) })
	defer scheduler.Stop()

	for i := 0; i < 5; i++ {
		scheduler.Schedule()
		time.Sleep(2 * time.Millisecond)
	}
	deadline := time.Now().Add(time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("expected exactly one run, got %d", got)
	}
}

func TestSchedulerFlushRunsPendingTaskOnce(t *testing.T) {
	var runs atomic.Int32
	scheduler := NewScheduler(time.Hour, func() { runs.Add(1) })
	defer scheduler.Stop()

	if scheduler.Flush() {
		t.Fatalf("expected flush without pending task to be a no-op")
	}
	scheduler.Schedule()
	if !scheduler.Pending() {
		t.Fatalf("expected pending task after schedule")
	}
	if !scheduler.Flush() {
		t.Fatalf("expected flush to run the pending task")
	}
	if scheduler.Pending() {
		t.Fatalf("expected no pending task after flush")
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("expected one run, got %d", got)
	}
}

func TestSchedulerSetDelayAndStop(t *testing.T) {
	var runs atomic.Int32
	scheduler := NewScheduler(0, func() { runs.Add(1) })
	if scheduler.Delay() != DefaultSaveDelay {
		t.Fatalf("expected default delay %s, got %s", DefaultSaveDelay, scheduler.Delay())
	}

	scheduler.Schedule()
	scheduler.SetDelay(10 * time.Millisecond)
	if scheduler.Delay() != 10*time.Millisecond {
		t.Fatalf("expected delay to change, got %s", scheduler.Delay())
	}
	deadline := time.Now().Add(time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("expected rescheduled run, got %d", got)
	}

	scheduler.Stop()
	scheduler.Schedule()
	if scheduler.Pending() {
		t.Fatalf("expected stopped scheduler to ignore schedule")
	}
}
