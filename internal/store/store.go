package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"prowler/internal/model"
)

// ListFilter narrows List results. Zero values mean "any".
type ListFilter struct {
	Status model.Status
	UserID string
	Limit  int
	Offset int
}

// Repository persists jobs. Get returns model.ErrJobNotFound for
// unknown ids; List also reports the total matching count for paging.
// FindRecentCompleted matches URL and session both: content scraped
// under one session is never reused to answer another session's
// question.
type Repository interface {
	Create(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)
	Update(ctx context.Context, job *model.Job) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter) ([]*model.Job, int, error)
	FindRecentCompleted(ctx context.Context, url, sessionID string, since time.Time) (*model.Job, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Close()
}
