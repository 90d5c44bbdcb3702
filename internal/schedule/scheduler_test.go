package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 6 * * *", false},    // 6 AM daily
		{"0 6 * * 1-5", false},  // 6 AM weekdays
		{"*/15 * * * *", false}, // every 15 minutes
		{"invalid", true},
		{"", true},
		{"0 6 * * * *", true}, // six fields, seconds not supported
	}

	for _, tt := range tests {
		_, err := ParseCron(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestNew_RejectsInvalidExpression(t *testing.T) {
	if _, err := New("not a cron", zerolog.Nop()); err == nil {
		t.Error("New() succeeded with invalid expression")
	}
}

func TestNextRun_InTheFuture(t *testing.T) {
	s, err := New("0 6 * * *", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	next := s.NextRun(now)
	if !next.After(now) {
		t.Errorf("NextRun(%v) = %v, want a future time", now, next)
	}
	if next.Hour() != 6 || next.Minute() != 0 {
		t.Errorf("NextRun() = %v, want 06:00", next)
	}
}

func TestShouldRun(t *testing.T) {
	s, err := New("* * * * *", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	// Fresh scheduler: the next firing has not arrived yet.
	if s.shouldRun(time.Now()) {
		t.Error("shouldRun() = true immediately after New")
	}

	// Last run two minutes ago on an every-minute cron: due.
	s.lastRun = time.Now().Add(-2 * time.Minute)
	if !s.shouldRun(time.Now()) {
		t.Error("shouldRun() = false after cron interval passed")
	}

	// A run in flight suppresses firing even when due.
	s.running = true
	if s.shouldRun(time.Now()) {
		t.Error("shouldRun() = true while a run is in flight")
	}
}

func TestMarkRunning_Exclusive(t *testing.T) {
	s, err := New("* * * * *", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	if !s.markRunning() {
		t.Fatal("first markRunning() = false")
	}
	if s.markRunning() {
		t.Error("second markRunning() = true, want exclusion")
	}

	s.markComplete(time.Now())
	if !s.markRunning() {
		t.Error("markRunning() after markComplete() = false")
	}
}

func TestStart_FiresDueRun(t *testing.T) {
	s, err := New("* * * * *", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	// Shrink the tick and age lastRun so the first tick is already due.
	s.tick = 10 * time.Millisecond
	s.lastRun = time.Now().Add(-2 * time.Minute)

	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Start(ctx, func(context.Context) error {
			runs.Add(1)
			return nil
		})
	}()

	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("scheduled run never fired")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done

	// The completed run advanced lastRun to the firing, so only one
	// run may have happened within the same minute.
	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
}

func TestStart_SkipsWhileRunning(t *testing.T) {
	s, err := New("* * * * *", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	s.tick = 10 * time.Millisecond
	s.lastRun = time.Now().Add(-2 * time.Minute)

	var started atomic.Int32
	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Start(ctx, func(context.Context) error {
			started.Add(1)
			<-release
			return nil
		})
	}()

	deadline := time.After(2 * time.Second)
	for started.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("scheduled run never started")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Let several ticks pass while the run blocks; none may overlap.
	time.Sleep(100 * time.Millisecond)
	if got := started.Load(); got != 1 {
		t.Errorf("started = %d runs while one was in flight, want 1", got)
	}

	close(release)
	cancel()
	<-done
}
