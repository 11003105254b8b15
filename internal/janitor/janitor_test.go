package janitor

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeMaintainer struct {
	calls       int
	err         error
	sawDeadline bool
}

func (f *fakeMaintainer) RunMaintenance(ctx context.Context) (map[string]any, error) {
	f.calls++
	_, f.sawDeadline = ctx.Deadline()
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"notificationsPurged": int64(3)}, nil
}

func TestNewRejectsBadSchedule(t *testing.T) {
	if _, err := New(&fakeMaintainer{}, "every day at dawn"); err == nil {
		t.Fatalf("expected an error for a bad schedule")
	}
}

func TestNewAcceptsStandardSchedule(t *testing.T) {
	if _, err := New(&fakeMaintainer{}, "10 3 * * *"); err != nil {
		t.Fatalf("New() error = %v", err)
	}
}

func TestRunOnceDelegatesWithDeadline(t *testing.T) {
	m := &fakeMaintainer{}
	j, err := New(m, "10 3 * * *")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	j.runOnce()

	if m.calls != 1 {
		t.Fatalf("expected one sweep, got %d", m.calls)
	}
	if !m.sawDeadline {
		t.Fatalf("expected the sweep context to carry a deadline")
	}
}

func TestRunOnceSurvivesFailure(t *testing.T) {
	m := &fakeMaintainer{err: errors.New("db down")}
	j, err := New(m, "10 3 * * *")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	j.runOnce()

	if m.calls != 1 {
		t.Fatalf("expected the sweep to run despite the failure, got %d calls", m.calls)
	}
}

func TestStopWaitsForShutdown(t *testing.T) {
	j, err := New(&fakeMaintainer{}, "10 3 * * *")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	j.Start()

	done := make(chan struct{})
	go func() {
		j.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop() did not return")
	}
}
