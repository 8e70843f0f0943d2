package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"prowler/internal/model"
)

func newJob(url string, status model.Status, createdAt time.Time) *model.Job {
	return &model.Job{
		ID:          uuid.New(),
		URL:         url,
		Status:      status,
		ScraperType: model.ScraperAuto,
		CreatedAt:   createdAt,
	}
}

func TestMemoryCRUD(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	job := newJob("https://example.com", model.StatusQueued, time.Now())
	if err := m.Create(ctx, job); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := m.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.URL != job.URL || got.Status != model.StatusQueued {
		t.Fatalf("got %+v", got)
	}

	got.Status = model.StatusRunning
	if err := m.Update(ctx, got); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	again, _ := m.Get(ctx, job.ID)
	if again.Status != model.StatusRunning {
		t.Fatalf("status = %s after update", again.Status)
	}

	if err := m.Delete(ctx, job.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := m.Get(ctx, job.ID); !errors.Is(err, model.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	job := newJob("https://example.com", model.StatusQueued, time.Now())
	job.Entities = []model.Entity{{Type: model.EntityCustom, Data: map[string]any{"k": "v"}}}
	if err := m.Create(ctx, job); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, _ := m.Get(ctx, job.ID)
	got.Entities[0].Data["k"] = "mutated"

	fresh, _ := m.Get(ctx, job.ID)
	if fresh.Entities[0].Data["k"] != "v" {
		t.Fatal("stored job mutated through a returned copy")
	}
}

func TestMemoryListFilterAndPaging(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		j := newJob("https://example.com", model.StatusQueued, base.Add(time.Duration(i)*time.Minute))
		j.UserID = "u1"
		if i%2 == 0 {
			j.Status = model.StatusCompleted
		}
		if err := m.Create(ctx, j); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	jobs, total, err := m.List(ctx, ListFilter{Status: model.StatusCompleted})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 3 || len(jobs) != 3 {
		t.Fatalf("total=%d len=%d, want 3/3", total, len(jobs))
	}

	jobs, total, err = m.List(ctx, ListFilter{UserID: "u1", Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 5 || len(jobs) != 2 {
		t.Fatalf("total=%d len=%d, want 5/2", total, len(jobs))
	}
	if !jobs[0].CreatedAt.After(jobs[1].CreatedAt) {
		t.Fatal("list should order newest first")
	}
}

func TestMemoryFindRecentCompleted(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	old := newJob("https://example.com/page", model.StatusCompleted, now.Add(-time.Hour))
	oldDone := now.Add(-30 * time.Minute)
	old.CompletedAt = &oldDone

	fresh := newJob("https://example.com/page", model.StatusCompleted, now.Add(-4*time.Minute))
	freshDone := now.Add(-2 * time.Minute)
	fresh.CompletedAt = &freshDone

	queued := newJob("https://example.com/page", model.StatusQueued, now)

	for _, j := range []*model.Job{old, fresh, queued} {
		if err := m.Create(ctx, j); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	got, err := m.FindRecentCompleted(ctx, "https://example.com/page", "", now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if got.ID != fresh.ID {
		t.Fatalf("got job %s, want the fresh one", got.ID)
	}

	if _, err := m.FindRecentCompleted(ctx, "https://example.com/other", "", now.Add(-5*time.Minute)); !errors.Is(err, model.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryFindRecentCompletedScopesBySession(t *testing.T) {
	// A page scraped under one session may carry that session's auth
	// state; another session must never get it back.
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	job := newJob("https://example.com/account", model.StatusCompleted, now.Add(-3*time.Minute))
	job.SessionID = "session-a"
	done := now.Add(-2 * time.Minute)
	job.CompletedAt = &done
	if err := m.Create(ctx, job); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	since := now.Add(-5 * time.Minute)
	if _, err := m.FindRecentCompleted(ctx, "https://example.com/account", "session-b", since); !errors.Is(err, model.ErrJobNotFound) {
		t.Fatalf("cross-session lookup: err = %v, want ErrJobNotFound", err)
	}
	if _, err := m.FindRecentCompleted(ctx, "https://example.com/account", "", since); !errors.Is(err, model.ErrJobNotFound) {
		t.Fatalf("sessionless lookup: err = %v, want ErrJobNotFound", err)
	}

	got, err := m.FindRecentCompleted(ctx, "https://example.com/account", "session-a", since)
	if err != nil {
		t.Fatalf("same-session lookup failed: %v", err)
	}
	if got.ID != job.ID {
		t.Fatalf("got job %s, want %s", got.ID, job.ID)
	}
}

func TestMemoryDeleteOlderThan(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	stale := newJob("https://example.com/a", model.StatusCompleted, now.Add(-48*time.Hour))
	recent := newJob("https://example.com/b", model.StatusCompleted, now)
	m.Create(ctx, stale)
	m.Create(ctx, recent)

	n, err := m.DeleteOlderThan(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d jobs, want 1", n)
	}
	if _, err := m.Get(ctx, recent.ID); err != nil {
		t.Fatal("recent job should survive cleanup")
	}
}
