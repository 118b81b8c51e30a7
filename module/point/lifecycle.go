// Package point ages reported checkpoints: creation, confirmation and the
// periodic sweep that demotes and finally removes unconfirmed points.
package point

import (
	"context"
	"strings"
	"time"

	"PPost/logger"
	"PPost/module/point/model"
	"PPost/module/point/store"
	"PPost/tools/errs"
	"PPost/tools/geo"
	"PPost/tools/ids"

	"go.uber.org/zap"
)

// Timing holds how long a point stays in each status before the next sweep
// acts on it.
type Timing struct {
	Created   time.Duration // after creation
	Confirmed time.Duration // after a confirmation
	Weak      time.Duration // in weakly_unconfirmed
	Strong    time.Duration // in strongly_unconfirmed, then removed
}

func DefaultTiming() Timing {
	return Timing{
		Created:   time.Minute,
		Confirmed: 2 * time.Minute,
		Weak:      5 * time.Minute,
		Strong:    10 * time.Minute,
	}
}

func (t *Timing) norm() {
	d := DefaultTiming()
	if t.Created <= 0 {
		t.Created = d.Created
	}
	if t.Confirmed <= 0 {
		t.Confirmed = d.Confirmed
	}
	if t.Weak <= 0 {
		t.Weak = d.Weak
	}
	if t.Strong <= 0 {
		t.Strong = d.Strong
	}
}

// Next is the sweep transition for a due point in status s: the status it
// moves to and how long until it is due again, or remove when s is terminal.
// Unknown statuses are treated as terminal.
func (t Timing) Next(s model.Status) (next model.Status, after time.Duration, remove bool) {
	switch s {
	case model.StatusCreated, model.StatusConfirmed:
		return model.StatusWeaklyUnconfirmed, t.Weak, false
	case model.StatusWeaklyUnconfirmed:
		return model.StatusStronglyUnconfirmed, t.Strong, false
	case model.StatusStronglyUnconfirmed:
		return "", 0, true
	}
	return "", 0, true
}

type NewPoint struct {
	CreatedBy     string  `json:"createdBy"`
	CreatedByName string  `json:"createdByName,omitempty"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Description   string  `json:"description,omitempty"`
	Medical       bool    `json:"medical"`
}

type LifecycleOptions struct {
	Timing Timing
	IDs    *ids.Generator   // nil => ids.Default()
	Now    func() time.Time // nil => time.Now
	Log    *zap.Logger
}

// Lifecycle applies the non-periodic transitions: creation and confirmation.
type Lifecycle struct {
	store  store.Store
	timing Timing
	ids    *ids.Generator
	now    func() time.Time
	log    *zap.Logger
}

func NewLifecycle(st store.Store, opts LifecycleOptions) *Lifecycle {
	opts.Timing.norm()
	if opts.IDs == nil {
		opts.IDs = ids.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Lifecycle{
		store:  st,
		timing: opts.Timing,
		ids:    opts.IDs,
		now:    opts.Now,
		log:    logger.OrNamed(opts.Log, "lifecycle"),
	}
}

func (l *Lifecycle) Timing() Timing { return l.timing }

// Create stores a new point in status created, due for its first sweep after
// Timing.Created.
func (l *Lifecycle) Create(ctx context.Context, np NewPoint) (*model.Point, error) {
	if strings.TrimSpace(np.CreatedBy) == "" {
		return nil, errs.ErrArgs.WrapMsg("createdBy is required")
	}
	if !(geo.Coord{Latitude: np.Latitude, Longitude: np.Longitude}).Valid() {
		return nil, errs.ErrArgs.WrapMsg("coordinates out of range", "latitude", np.Latitude, "longitude", np.Longitude)
	}
	now := l.now()
	p := &model.Point{
		ID:            l.ids.NextString(),
		Status:        model.StatusCreated,
		CreatedBy:     np.CreatedBy,
		CreatedByName: np.CreatedByName,
		CreatedAt:     now,
		Latitude:      np.Latitude,
		Longitude:     np.Longitude,
		Description:   strings.TrimSpace(np.Description),
		Medical:       np.Medical,
		CheckAt:       now.Add(l.timing.Created),
		Votes:         []model.Vote{},
	}
	if err := l.store.Insert(ctx, p); err != nil {
		return nil, errs.ErrTransientStore.WrapMsg("insert point", "err", err)
	}
	l.log.Info("[lifecycle] point created", zap.String("id", p.ID), zap.String("by", p.CreatedBy))
	return p, nil
}

// Confirm records subject's vote on point id. The creator and subjects who
// already voted are rejected with errs.ErrValidation; a point that does not
// exist, or was removed by a sweep in the meantime, yields errs.ErrNotFound.
func (l *Lifecycle) Confirm(ctx context.Context, id, subject string) (*model.Point, error) {
	if id == "" || subject == "" {
		return nil, errs.ErrArgs.WrapMsg("id and subjectId are required")
	}
	p, err := l.store.FindByID(ctx, id)
	if err != nil {
		return nil, errs.ErrTransientStore.WrapMsg("find point", "id", id, "err", err)
	}
	if p == nil {
		return nil, errs.ErrNotFound.WrapMsg("point not found", "id", id)
	}
	if p.CreatedBy == subject {
		return nil, errs.ErrValidation.WrapMsg("creator cannot confirm own point", "id", id)
	}
	if p.HasVoteFrom(subject) {
		return nil, errs.ErrValidation.WrapMsg("already confirmed", "id", id)
	}

	now := l.now()
	ok, err := l.store.Update(ctx, id, store.Patch{
		Status:        model.StatusConfirmed,
		CheckAt:       now.Add(l.timing.Confirmed),
		VotedAt:       &now,
		Vote:          &model.Vote{At: now, By: subject},
		UnlessVotedBy: subject,
	})
	if err != nil {
		return nil, errs.ErrTransientStore.WrapMsg("confirm point", "id", id, "err", err)
	}
	if !ok {
		// lost a race: either the point was swept away or a concurrent
		// confirmation by the same subject landed first
		cur, ferr := l.store.FindByID(ctx, id)
		if ferr != nil {
			return nil, errs.ErrTransientStore.WrapMsg("find point", "id", id, "err", ferr)
		}
		if cur == nil {
			return nil, errs.ErrNotFound.WrapMsg("point removed", "id", id)
		}
		return nil, errs.ErrValidation.WrapMsg("already confirmed", "id", id)
	}

	l.log.Info("[lifecycle] point confirmed", zap.String("id", id), zap.String("by", subject))
	out, err := l.store.FindByID(ctx, id)
	if err != nil || out == nil {
		// the vote is stored; report what was written
		p.Status = model.StatusConfirmed
		p.CheckAt = now.Add(l.timing.Confirmed)
		p.VotedAt = &now
		p.Votes = append(p.Votes, model.Vote{At: now, By: subject})
		return p, nil
	}
	return out, nil
}
