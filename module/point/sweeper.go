package point

import (
	"context"
	"sync"
	"time"

	"PPost/logger"
	"PPost/module/point/model"
	"PPost/module/point/store"
	"PPost/tools/errs"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type SweeperOptions struct {
	Interval    time.Duration // pause between the end of one sweep and the next; <=0 => 10s
	Parallelism int           // points transitioned at once; <=0 => 8
	Timing      Timing
	Events      Events // nil => discard
	Now         func() time.Time
	Log         *zap.Logger
}

func (o *SweeperOptions) norm() {
	if o.Interval <= 0 {
		o.Interval = 10 * time.Second
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 8
	}
	o.Timing.norm()
	if o.Events == nil {
		o.Events = nopEvents{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	o.Log = logger.OrNamed(o.Log, "sweep")
}

// SweepReport counts what one sweep did with the due points.
type SweepReport struct {
	Due      int
	Advanced int // moved to a later status
	Removed  int
	Skipped  int // changed concurrently (confirmed or already gone)
	Failed   int // store error; the point stays due
}

// Sweeper advances due points through the aging table. Sweeps never overlap:
// the next one is scheduled only after the previous one has finished.
type Sweeper struct {
	store store.Store
	opts  SweeperOptions
	log   *zap.Logger
}

func NewSweeper(st store.Store, opts SweeperOptions) *Sweeper {
	opts.norm()
	return &Sweeper{store: st, opts: opts, log: opts.Log}
}

// Run sweeps until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		rep, err := s.SweepOnce(ctx, s.opts.Now())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("[sweep] query due points", zap.Error(err))
		} else if rep.Due > 0 {
			s.log.Debug("[sweep] done", zap.Int("due", rep.Due), zap.Int("advanced", rep.Advanced),
				zap.Int("removed", rep.Removed), zap.Int("skipped", rep.Skipped), zap.Int("failed", rep.Failed))
		}
		timer.Reset(s.opts.Interval)
	}
}

// SweepOnce applies one transition to every point due at now. Points are
// handled concurrently but each id at most once; a failed write is logged and
// left for the next sweep. Only the due-point query itself can fail the sweep.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (SweepReport, error) {
	due, err := s.store.FindDueForSweep(ctx, now)
	if err != nil {
		return SweepReport{}, errs.ErrTransientStore.WrapMsg("find due points", "err", err)
	}

	seen := make(map[string]struct{}, len(due))
	batch := due[:0:0]
	for _, p := range due {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		batch = append(batch, p)
	}

	var (
		mu  sync.Mutex
		rep = SweepReport{Due: len(batch)}
	)
	count := func(f func(r *SweepReport)) {
		mu.Lock()
		f(&rep)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(s.opts.Parallelism)
	for i := range batch {
		p := batch[i]
		g.Go(func() error {
			tr, applied, err := s.step(ctx, p, now)
			switch {
			case err != nil:
				s.log.Warn("[sweep] transition failed, retry next sweep",
					zap.String("point", p.ID), zap.String("status", string(p.Status)),
					zap.Error(errs.ErrTransientStore.WrapMsg(err.Error())))
				count(func(r *SweepReport) { r.Failed++ })
			case !applied:
				count(func(r *SweepReport) { r.Skipped++ })
			default:
				if tr.Removed {
					count(func(r *SweepReport) { r.Removed++ })
				} else {
					count(func(r *SweepReport) { r.Advanced++ })
				}
				s.opts.Events.Transitioned(ctx, tr)
			}
			return nil
		})
	}
	_ = g.Wait()
	return rep, nil
}

// step writes one transition guarded by the status and checkAt the sweep
// observed, so a confirmation that landed in between wins.
func (s *Sweeper) step(ctx context.Context, p model.Point, now time.Time) (Transition, bool, error) {
	guard := &store.Guard{Status: p.Status, CheckAt: p.CheckAt}
	next, after, remove := s.opts.Timing.Next(p.Status)
	tr := Transition{PointID: p.ID, From: p.Status, DueAt: p.CheckAt, At: now}

	if remove {
		ok, err := s.store.Remove(ctx, p.ID, guard)
		tr.Removed = true
		return tr, ok, err
	}
	tr.To = next
	tr.CheckAt = now.Add(after)
	ok, err := s.store.Update(ctx, p.ID, store.Patch{Status: next, CheckAt: tr.CheckAt, If: guard})
	return tr, ok, err
}
