package store

import (
	"context"
	"time"

	"PPost/module/point/model"
)

// Operation is the kind of change reported by the feed.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Change is one change-feed entry. Document is the full point after the
// change; for deletes only Document.ID is set.
type Change struct {
	Operation Operation
	Document  model.Point
}

// Guard is an optimistic precondition: the write applies only while the
// point still has this status and checkAt.
type Guard struct {
	Status  model.Status
	CheckAt time.Time
}

// Patch is a partial update. Zero fields are left untouched.
type Patch struct {
	Status  model.Status
	CheckAt time.Time
	VotedAt *time.Time
	Vote    *model.Vote // appended to votes

	If            *Guard
	UnlessVotedBy string // skip the write when this subject already voted
}

// Store is the point persistence collaborator.
type Store interface {
	Insert(ctx context.Context, p *model.Point) error
	// FindByID returns nil, nil when the point does not exist.
	FindByID(ctx context.Context, id string) (*model.Point, error)
	FindAll(ctx context.Context) ([]model.Point, error)
	// FindDueForSweep returns points with checkAt <= now, oldest first.
	FindDueForSweep(ctx context.Context, now time.Time) ([]model.Point, error)
	// Update reports false when no point matched id and the patch conditions.
	Update(ctx context.Context, id string, p Patch) (bool, error)
	Remove(ctx context.Context, id string, g *Guard) (bool, error)
	// Watch streams changes until ctx ends; the channel is closed afterwards.
	Watch(ctx context.Context) (<-chan Change, error)
}
