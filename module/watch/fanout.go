package watch

import (
	"context"

	"PPost/logger"
	"PPost/module/point/store"
	"PPost/tools/geo"

	"go.uber.org/zap"
)

// Matcher finds the watch targets whose radius covers a point;
// proximity.Finder is the production one.
type Matcher interface {
	NearbyTargets(ctx context.Context, point geo.Coord, targets []geo.Target) ([]geo.TargetMatch, error)
}

// Fanout turns store insert events into notifications for the watches that
// have the new point in range.
type Fanout struct {
	reg    *Registry
	finder Matcher
	log    *zap.Logger
}

func NewFanout(reg *Registry, finder Matcher, log *zap.Logger) *Fanout {
	return &Fanout{reg: reg, finder: finder, log: logger.OrNamed(log, "fanout")}
}

// Run consumes changes until the feed closes or ctx ends. Only inserts fan
// out; updates and deletes are ignored.
func (f *Fanout) Run(ctx context.Context, changes <-chan store.Change) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			if c.Operation != store.OpInsert {
				continue
			}
			if err := f.insert(ctx, c); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				f.log.Warn("[fanout] insert not delivered", zap.String("pointId", c.Document.ID), zap.Error(err))
			}
		}
	}
}

func (f *Fanout) insert(ctx context.Context, c store.Change) error {
	targets, err := f.reg.Targets(ctx)
	if err != nil || len(targets) == 0 {
		return err
	}
	p := c.Document
	matches, err := f.finder.NearbyTargets(ctx, p.Coord(), targets)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		// 匹配失败：每个 watch 都可能错过这个点，统一告知
		ids := make([]string, len(targets))
		for i, t := range targets {
			ids[i] = t.ID
		}
		if ferr := f.reg.Fail(ctx, ids, err); ferr != nil {
			return ferr
		}
		return err
	}
	if len(matches) == 0 {
		return nil
	}
	f.log.Debug("[fanout] point in range", zap.String("pointId", p.ID), zap.Int("watches", len(matches)))
	return f.reg.Deliver(ctx, p, matches)
}
