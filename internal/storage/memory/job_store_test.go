package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/JakeFAU/mediafetch/internal/download"
)

type steppingClock struct {
	t time.Time
}

func (c *steppingClock) now() time.Time { return c.t }

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	clk := &steppingClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewJobStore(clk.now)
	ctx := context.Background()
	job := download.Job{ID: "job-1", SourceURL: "https://example.com/a.jpg", Status: download.StatusPending}

	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Create(ctx, job); !errors.Is(err, download.ErrJobExists) {
		t.Fatalf("expected duplicate job error, got %v", err)
	}
	if _, err := store.Transition(ctx, job.ID, download.StatusActive, func(j *download.Job) {
		j.TransportID = "t-1"
	}); err != nil {
		t.Fatalf("Transition active error = %v", err)
	}

	clk.t = clk.t.Add(time.Minute)
	final, err := store.Transition(ctx, job.ID, download.StatusComplete, nil)
	if err != nil {
		t.Fatalf("Transition complete error = %v", err)
	}
	if final.CompletedAt == nil || !final.CompletedAt.Equal(clk.t) {
		t.Fatalf("expected completion timestamp, got %+v", final)
	}
	if final.TransportID != "t-1" {
		t.Fatalf("expected mutation to persist, got %+v", final)
	}

	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != download.StatusComplete {
		t.Fatalf("unexpected status %s", got.Status)
	}
}

func TestJobStoreRejectsIllegalTransition(t *testing.T) {
	t.Parallel()

	store := NewJobStore(nil)
	ctx := context.Background()
	if err := store.Create(ctx, download.Job{ID: "a", Status: download.StatusPending}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, err := store.Transition(ctx, "a", download.StatusComplete, func(j *download.Job) { j.LastError = "x" })
	var tErr *download.TransitionError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	got, _ := store.Get(ctx, "a")
	if got.Status != download.StatusPending || got.LastError != "" {
		t.Fatalf("illegal transition must not mutate the job, got %+v", got)
	}
	if _, err := store.Transition(ctx, "missing", download.StatusActive, nil); !errors.Is(err, download.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobStoreListOrderAndRemove(t *testing.T) {
	t.Parallel()

	store := NewJobStore(nil)
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		if err := store.Create(ctx, download.Job{ID: id, Status: download.StatusPending}); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}
	list := store.List(ctx)
	if len(list) != 3 || list[0].ID != "c" || list[1].ID != "a" || list[2].ID != "b" {
		t.Fatalf("expected submission order, got %+v", list)
	}

	if err := store.Remove(ctx, "a"); !errors.Is(err, download.ErrJobNotTerminal) {
		t.Fatalf("expected ErrJobNotTerminal, got %v", err)
	}
	_, _ = store.Transition(ctx, "a", download.StatusActive, nil)
	_, _ = store.Transition(ctx, "a", download.StatusFailed, nil)
	if err := store.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := store.Remove(ctx, "a"); err != nil {
		t.Fatalf("second Remove() should be a no-op, got %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 jobs, got %d", store.Len())
	}
}

func TestJobStoreReapTerminalSkipsLiveJobs(t *testing.T) {
	t.Parallel()

	clk := &steppingClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewJobStore(clk.now)
	ctx := context.Background()
	for _, id := range []string{"done", "running", "waiting"} {
		_ = store.Create(ctx, download.Job{ID: id, Status: download.StatusPending})
	}
	_, _ = store.Transition(ctx, "done", download.StatusActive, nil)
	_, _ = store.Transition(ctx, "done", download.StatusComplete, nil)
	_, _ = store.Transition(ctx, "running", download.StatusActive, nil)
	_, _ = store.Transition(ctx, "waiting", download.StatusQueued, nil)

	clk.t = clk.t.Add(48 * time.Hour)
	reaped := store.ReapTerminal(ctx, clk.t.Add(-24*time.Hour))
	if len(reaped) != 1 || reaped[0] != "done" {
		t.Fatalf("expected only the terminal job reaped, got %v", reaped)
	}
	if store.Len() != 2 {
		t.Fatalf("expected live jobs kept, got %d", store.Len())
	}
	if got := store.ReapTerminal(ctx, clk.t); len(got) != 0 {
		t.Fatalf("expected nothing left to reap, got %v", got)
	}
}

func TestJobStoreReapTerminalKeepsOrderOfSurvivors(t *testing.T) {
	t.Parallel()

	clk := &steppingClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewJobStore(clk.now)
	ctx := context.Background()

	const total = 2000
	var live []string
	for i := 0; i < total; i++ {
		id := fmt.Sprintf("job-%04d", i)
		if err := store.Create(ctx, download.Job{ID: id, Status: download.StatusPending}); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
		_, _ = store.Transition(ctx, id, download.StatusActive, nil)
		if i%3 == 0 {
			live = append(live, id)
			continue
		}
		_, _ = store.Transition(ctx, id, download.StatusComplete, nil)
	}

	reaped := store.ReapTerminal(ctx, clk.t)
	if len(reaped) != total-len(live) {
		t.Fatalf("expected %d reaped, got %d", total-len(live), len(reaped))
	}
	list := store.List(ctx)
	if len(list) != len(live) {
		t.Fatalf("expected %d survivors, got %d", len(live), len(list))
	}
	for i, job := range list {
		if job.ID != live[i] {
			t.Fatalf("survivor %d: expected %s, got %s", i, live[i], job.ID)
		}
	}
}
