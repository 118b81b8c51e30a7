package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"PPost/module/point/model"
)

var ErrDuplicateID = errors.New("point id already exists")

const memFeedBuffer = 256

// MemStore is a process-local Store used by tests and by the store process
// when no database is configured.
type MemStore struct {
	mu     sync.RWMutex
	points map[string]*model.Point
	subs   map[chan Change]struct{}
}

func NewMemStore() *MemStore {
	return &MemStore{
		points: make(map[string]*model.Point),
		subs:   make(map[chan Change]struct{}),
	}
}

func clonePoint(p *model.Point) model.Point {
	cp := *p
	cp.Votes = append([]model.Vote(nil), p.Votes...)
	if p.VotedAt != nil {
		t := *p.VotedAt
		cp.VotedAt = &t
	}
	return cp
}

func (db *MemStore) Insert(ctx context.Context, p *model.Point) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.points[p.ID]; ok {
		return ErrDuplicateID
	}
	cp := clonePoint(p)
	db.points[p.ID] = &cp
	db.emitLocked(Change{Operation: OpInsert, Document: clonePoint(&cp)})
	return nil
}

func (db *MemStore) FindByID(ctx context.Context, id string) (*model.Point, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if p, ok := db.points[id]; ok {
		cp := clonePoint(p)
		return &cp, nil
	}
	return nil, nil
}

func (db *MemStore) FindAll(ctx context.Context) ([]model.Point, error) {
	db.mu.RLock()
	out := make([]model.Point, 0, len(db.points))
	for _, p := range db.points {
		out = append(out, clonePoint(p))
	}
	db.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (db *MemStore) FindDueForSweep(ctx context.Context, now time.Time) ([]model.Point, error) {
	db.mu.RLock()
	out := make([]model.Point, 0)
	for _, p := range db.points {
		if !p.CheckAt.After(now) {
			out = append(out, clonePoint(p))
		}
	}
	db.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CheckAt.Before(out[j].CheckAt) })
	return out, nil
}

func guardHolds(p *model.Point, g *Guard) bool {
	if g == nil {
		return true
	}
	return p.Status == g.Status && p.CheckAt.Equal(g.CheckAt)
}

func (db *MemStore) Update(ctx context.Context, id string, patch Patch) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	p, ok := db.points[id]
	if !ok || !guardHolds(p, patch.If) {
		return false, nil
	}
	if patch.UnlessVotedBy != "" && p.HasVoteFrom(patch.UnlessVotedBy) {
		return false, nil
	}
	if patch.Status != "" {
		p.Status = patch.Status
	}
	if !patch.CheckAt.IsZero() {
		p.CheckAt = patch.CheckAt
	}
	if patch.VotedAt != nil {
		t := *patch.VotedAt
		p.VotedAt = &t
	}
	if patch.Vote != nil {
		p.Votes = append(p.Votes, *patch.Vote)
	}
	db.emitLocked(Change{Operation: OpUpdate, Document: clonePoint(p)})
	return true, nil
}

func (db *MemStore) Remove(ctx context.Context, id string, g *Guard) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	p, ok := db.points[id]
	if !ok || !guardHolds(p, g) {
		return false, nil
	}
	delete(db.points, id)
	db.emitLocked(Change{Operation: OpDelete, Document: model.Point{ID: id}})
	return true, nil
}

func (db *MemStore) Watch(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, memFeedBuffer)
	db.mu.Lock()
	db.subs[ch] = struct{}{}
	db.mu.Unlock()

	go func() {
		<-ctx.Done()
		db.mu.Lock()
		delete(db.subs, ch)
		close(ch)
		db.mu.Unlock()
	}()
	return ch, nil
}

// emitLocked never blocks the writer: a subscriber that falls behind by a
// full buffer loses changes, matching a dropped change-stream cursor.
func (db *MemStore) emitLocked(c Change) {
	for ch := range db.subs {
		select {
		case ch <- c:
		default:
		}
	}
}
