package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: 24 * time.Hour, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC)

	if got, want := s.nextTick(now), time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if got, want := s.slotStart(now), time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}

	boundary := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
	if got := s.nextTick(boundary); !got.Equal(boundary.Add(24 * time.Hour)) {
		t.Fatalf("a tick exactly on the boundary should wait a full interval, got %s", got)
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())
	now := time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected next tick %s", got)
	}
	if got := s.slotStart(now); !got.Equal(now) {
		t.Fatalf("unaligned slot should be the tick time, got %s", got)
	}
}

func TestRunOnStartFiresCurrentSlot(t *testing.T) {
	s := New(Options{Interval: 24 * time.Hour, AlignToStart: true, RunOnStart: true}, zerolog.Nop())
	s.now = func() time.Time { return time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	var slots []time.Time
	err := s.Run(ctx, func(ctx context.Context, slot time.Time) error {
		slots = append(slots, slot)
		cancel()
		return errors.New("tick errors are logged, not returned")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(slots) != 1 || !slots[0].Equal(time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected one tick for today's slot, got %v", slots)
	}
}

func TestRunStopsDuringStartupDelay(t *testing.T) {
	s := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Run(ctx, func(context.Context, time.Time) error {
		t.Fatal("tick should not run")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewPanicsOnZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New(Options{}, zerolog.Nop())
}
