// Package proximity runs the geo queries for points and live watches, moving
// large candidate sets off the caller's goroutine onto the worker pool.
package proximity

import (
	"context"

	"PPost/module/point/model"
	"PPost/service/workerpool"
	"PPost/tools/geo"
)

type Finder struct {
	pool *workerpool.Pool
}

func NewFinder(pool *workerpool.Pool) *Finder {
	return &Finder{pool: pool}
}

// NearbyPoints returns points within radius of origin, closest first.
func (f *Finder) NearbyPoints(ctx context.Context, origin geo.Coord, points []model.Point, radius float64) ([]model.NearbyPoint, error) {
	compute := func() ([]model.NearbyPoint, error) {
		coords := make([]geo.Coord, len(points))
		for i := range points {
			coords[i] = points[i].Coord()
		}
		matches := geo.Nearby(origin, coords, radius)
		out := make([]model.NearbyPoint, len(matches))
		for i, m := range matches {
			out[i] = model.NearbyPoint{Point: points[m.Index], Distance: m.Distance}
		}
		return out, nil
	}
	if f.pool.Inline(len(points)) {
		return compute()
	}
	return workerpool.Submit(ctx, f.pool, compute)
}

// NearbyTargets returns the watches that have point inside their radius.
func (f *Finder) NearbyTargets(ctx context.Context, point geo.Coord, targets []geo.Target) ([]geo.TargetMatch, error) {
	compute := func() ([]geo.TargetMatch, error) {
		return geo.NearbyTargets(point, targets), nil
	}
	if f.pool.Inline(len(targets)) {
		return compute()
	}
	return workerpool.Submit(ctx, f.pool, compute)
}
