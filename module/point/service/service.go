// Package service is the point store side of the control link: it owns the
// store, the lifecycle sweeper and the live-watch registry, and answers the
// front-end's RPC calls.
package service

import (
	"context"
	"time"

	"PPost/logger"
	"PPost/module/point"
	"PPost/module/point/store"
	"PPost/module/proximity"
	"PPost/module/watch"
	"PPost/service/rpc"
	"PPost/service/storage"
	"PPost/service/workerpool"
	"PPost/tools/ids"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Store   store.Store
	Channel *rpc.Channel
	Pool    *workerpool.Pool  // nil => workerpool.New defaults
	Users   storage.UserCache // nil => in-memory cache
	Events  point.Events      // nil => log only

	Timing           point.Timing
	SweepInterval    time.Duration
	SweepParallelism int
	Watch            watch.Options
	IDs              *ids.Generator
	Now              func() time.Time
	Log              *zap.Logger
}

// Service wires the store, lifecycle, sweeper, registry and fan-out together.
// Construction registers the RPC handlers on the channel; Run starts the
// background loops.
type Service struct {
	store   store.Store
	ch      *rpc.Channel
	lc      *point.Lifecycle
	sweeper *point.Sweeper
	reg     *watch.Registry
	fanout  *watch.Fanout
	finder  *proximity.Finder
	users   storage.UserCache
	metrics *metrics
	radius  float64
	log     *zap.Logger
}

func New(opts Options) *Service {
	log := logger.OrNamed(opts.Log, "pointstore")
	if opts.Pool == nil {
		opts.Pool = workerpool.New(workerpool.Options{Log: log})
	}
	if opts.Users == nil {
		opts.Users = storage.NewMemUserCache(storage.DefaultUserTTL, nil)
	}
	if opts.Events == nil {
		opts.Events = point.LogEvents{Log: log}
	}
	if opts.Watch.Log == nil {
		opts.Watch.Log = log.Named("watch")
	}
	if opts.Watch.Radius <= 0 {
		opts.Watch.Radius = watch.DefaultRadius
	}

	m := newMetrics()
	events := countingEvents{next: opts.Events, c: m.transitions}

	finder := proximity.NewFinder(opts.Pool)
	reg := watch.NewRegistry(opts.Channel, opts.Watch)
	s := &Service{
		store: opts.Store,
		ch:    opts.Channel,
		lc: point.NewLifecycle(opts.Store, point.LifecycleOptions{
			Timing: opts.Timing, IDs: opts.IDs, Now: opts.Now, Log: log.Named("lifecycle"),
		}),
		sweeper: point.NewSweeper(opts.Store, point.SweeperOptions{
			Interval: opts.SweepInterval, Parallelism: opts.SweepParallelism,
			Timing: opts.Timing, Events: events, Now: opts.Now, Log: log.Named("sweep"),
		}),
		reg:     reg,
		fanout:  watch.NewFanout(reg, finder, log.Named("fanout")),
		finder:  finder,
		users:   opts.Users,
		metrics: m,
		radius:  opts.Watch.Radius,
		log:     log,
	}
	m.watch(s)
	s.register()
	return s
}

// Run starts the registry, the sweeper and the insert fan-out, and blocks
// until ctx ends or one of them fails.
func (s *Service) Run(ctx context.Context) error {
	feed, err := s.store.Watch(ctx)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.reg.Run(gctx) })
	g.Go(func() error { return s.sweeper.Run(gctx) })
	g.Go(func() error { return s.fanout.Run(gctx, feed) })
	s.log.Info("[pointstore] running")
	err = g.Wait()
	s.log.Info("[pointstore] stopped", zap.Error(err))
	return err
}

func (s *Service) Registry() *watch.Registry { return s.reg }

func (s *Service) Lifecycle() *point.Lifecycle { return s.lc }
