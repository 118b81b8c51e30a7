// Package watch keeps the live proximity subscriptions of the store process
// and decides which notifications each of them gets.
//
// All watch state belongs to the goroutine running Registry.Run. Other
// goroutines reach it by submitting closures, so no lock guards the map.
package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	"PPost/logger"
	"PPost/module/point/model"
	"PPost/service/rpc"
	"PPost/tools/errs"
	"PPost/tools/geo"

	"go.uber.org/zap"
)

const (
	DefaultExpiry = 2 * time.Minute
	DefaultRadius = 500.0

	cmdQueueSize = 64
	outboxSize   = 256
)

var ErrStopped = errors.New("watch registry stopped")

// Kind is the category of the last notification a watch received.
type Kind string

const (
	KindNone   Kind = ""
	KindPoints Kind = "points"
	KindEmpty  Kind = "empty"
	KindError  Kind = "error"
)

// Location is one position update of a live watch.
type Location struct {
	WatchID   string  `json:"watchId"`
	Subject   string  `json:"subject"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float64 `json:"radius"`
}

// Notification is the payload of a pointsNearby event.
type Notification struct {
	WatchID string              `json:"watchId"`
	Subject string              `json:"subject"`
	Kind    Kind                `json:"kind"`
	Points  []model.NearbyPoint `json:"points"`
}

// Expired is the payload of a watchExpired event.
type Expired struct {
	WatchID string `json:"watchId"`
	Subject string `json:"subject"`
}

// Publisher delivers events to the front-end; *rpc.Channel satisfies it.
type Publisher interface {
	Publish(ctx context.Context, m rpc.Method, payload any) error
}

type Options struct {
	Expiry time.Duration
	// Radius applies when a location update carries none.
	Radius float64
	Log    *zap.Logger
}

func (o *Options) norm() {
	if o.Expiry <= 0 {
		o.Expiry = DefaultExpiry
	}
	if o.Radius <= 0 {
		o.Radius = DefaultRadius
	}
	o.Log = logger.OrNamed(o.Log, "watch")
}

type entry struct {
	id      string
	subject string
	coord   geo.Coord
	radius  float64
	shown   map[string]struct{}
	last    Kind
	timer   *time.Timer
	// gen is bumped whenever the timer is replaced; an expiry carrying an
	// older gen is ignored.
	gen uint64
}

// unseen returns the points of ps not shown to w yet, keeping order.
func (w *entry) unseen(ps []model.NearbyPoint) []model.NearbyPoint {
	out := make([]model.NearbyPoint, 0, len(ps))
	for _, p := range ps {
		if _, ok := w.shown[p.Point.ID]; !ok {
			out = append(out, p)
		}
	}
	return out
}

func (w *entry) remember(ps []model.NearbyPoint) {
	for _, p := range ps {
		w.shown[p.Point.ID] = struct{}{}
	}
}

type outMsg struct {
	method  rpc.Method
	payload any
}

// Registry is the single owner of the live watches. Run must be called once;
// every other method blocks until Run has processed it.
type Registry struct {
	pub  Publisher
	opts Options
	log  *zap.Logger

	cmds   chan func()
	outbox chan outMsg
	done   chan struct{}

	watches map[string]*entry
}

func NewRegistry(pub Publisher, opts Options) *Registry {
	opts.norm()
	return &Registry{
		pub:     pub,
		opts:    opts,
		log:     opts.Log,
		cmds:    make(chan func(), cmdQueueSize),
		outbox:  make(chan outMsg, outboxSize),
		done:    make(chan struct{}),
		watches: make(map[string]*entry),
	}
}

// Run owns the watch map until ctx ends. Notifications leave through a
// separate sender goroutine in the order they were decided.
func (r *Registry) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.send(ctx)
	}()

	defer func() {
		close(r.done)
		for _, w := range r.watches {
			w.timer.Stop()
		}
		r.watches = nil
		close(r.outbox)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-r.cmds:
			cmd()
		}
	}
}

func (r *Registry) send(ctx context.Context) {
	for m := range r.outbox {
		if err := r.pub.Publish(ctx, m.method, m.payload); err != nil {
			r.log.Warn("[watch] publish dropped", zap.String("event", string(m.method)), zap.Error(err))
		}
	}
}

// do runs fn on the owner goroutine and waits for it.
func (r *Registry) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	cmd := func() {
		fn()
		close(finished)
	}
	select {
	case r.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-r.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// post queues fn without waiting; used by timer callbacks.
func (r *Registry) post(fn func()) {
	select {
	case r.cmds <- fn:
	case <-r.done:
	}
}

func (r *Registry) emit(w *entry, kind Kind, points []model.NearbyPoint) {
	w.last = kind
	if points == nil {
		points = []model.NearbyPoint{}
	}
	r.outbox <- outMsg{method: rpc.EventPointsNearby, payload: Notification{
		WatchID: w.id, Subject: w.subject, Kind: kind, Points: points,
	}}
}

// touch registers loc.WatchID or refreshes it, restarting its expiry timer.
// Shown points survive a refresh.
func (r *Registry) touch(loc Location) *entry {
	radius := loc.Radius
	if radius <= 0 {
		radius = r.opts.Radius
	}
	w, ok := r.watches[loc.WatchID]
	if !ok {
		w = &entry{id: loc.WatchID, shown: make(map[string]struct{})}
		r.watches[loc.WatchID] = w
		r.log.Debug("[watch] registered", zap.String("watchId", loc.WatchID), zap.String("subject", loc.Subject))
	} else {
		w.timer.Stop()
	}
	if loc.Subject != "" {
		w.subject = loc.Subject
	}
	w.coord = geo.Coord{Latitude: loc.Latitude, Longitude: loc.Longitude}
	w.radius = radius
	w.gen++
	id, gen := w.id, w.gen
	w.timer = time.AfterFunc(r.opts.Expiry, func() {
		r.post(func() { r.expire(id, gen) })
	})
	return w
}

func (r *Registry) expire(id string, gen uint64) {
	w, ok := r.watches[id]
	if !ok || w.gen != gen {
		return
	}
	delete(r.watches, id)
	r.log.Debug("[watch] expired", zap.String("watchId", id))
	r.outbox <- outMsg{method: rpc.EventWatchExpired, payload: Expired{WatchID: id, Subject: w.subject}}
}

// Locate applies a position update. nearby is the full in-range set at the
// new position, or queryErr when it could not be computed.
//
//	error            -> "error", unless the last notification was an error
//	nothing in range -> "empty", unless the last notification was empty
//	unseen points    -> "points" with only the unseen ones
//	all seen         -> nothing
func (r *Registry) Locate(ctx context.Context, loc Location, nearby []model.NearbyPoint, queryErr error) error {
	if loc.WatchID == "" {
		return errs.ErrArgs.WrapMsg("watchId required")
	}
	if !(geo.Coord{Latitude: loc.Latitude, Longitude: loc.Longitude}).Valid() {
		return errs.ErrArgs.WrapMsg("coordinates out of range", "lat", loc.Latitude, "lon", loc.Longitude)
	}
	return r.do(ctx, func() {
		w := r.touch(loc)
		switch {
		case queryErr != nil:
			if w.last != KindError {
				r.emit(w, KindError, nil)
			}
		case len(nearby) == 0:
			if w.last != KindEmpty {
				r.emit(w, KindEmpty, nil)
			}
		default:
			if fresh := w.unseen(nearby); len(fresh) > 0 {
				w.remember(fresh)
				r.emit(w, KindPoints, fresh)
			}
		}
	})
}

// Stop removes a watch. Unknown ids are ignored and no event is sent.
func (r *Registry) Stop(ctx context.Context, watchID string) error {
	return r.do(ctx, func() {
		w, ok := r.watches[watchID]
		if !ok {
			return
		}
		w.timer.Stop()
		delete(r.watches, watchID)
		r.log.Debug("[watch] stopped", zap.String("watchId", watchID))
	})
}

// Targets snapshots the active watches for a proximity query.
func (r *Registry) Targets(ctx context.Context) ([]geo.Target, error) {
	var out []geo.Target
	err := r.do(ctx, func() {
		out = make([]geo.Target, 0, len(r.watches))
		for _, w := range r.watches {
			out = append(out, geo.Target{ID: w.id, Coord: w.coord, Radius: w.radius})
		}
	})
	return out, err
}

// Deliver reports a newly inserted point to the watches that have it in
// range. Watches that expired since the snapshot are skipped, and a watch
// that was already shown the point gets nothing.
func (r *Registry) Deliver(ctx context.Context, p model.Point, matches []geo.TargetMatch) error {
	return r.do(ctx, func() {
		for _, m := range matches {
			w, ok := r.watches[m.ID]
			if !ok {
				continue
			}
			fresh := w.unseen([]model.NearbyPoint{{Point: p, Distance: m.Distance}})
			if len(fresh) == 0 {
				continue
			}
			w.remember(fresh)
			r.emit(w, KindPoints, fresh)
		}
	})
}

// Fail tells the given watches that a proximity query for them failed. A
// watch whose last notification was already an error is not told again.
func (r *Registry) Fail(ctx context.Context, watchIDs []string, cause error) error {
	return r.do(ctx, func() {
		for _, id := range watchIDs {
			w, ok := r.watches[id]
			if !ok || w.last == KindError {
				continue
			}
			r.log.Debug("[watch] query failed", zap.String("watchId", id), zap.Error(cause))
			r.emit(w, KindError, nil)
		}
	})
}

// Count returns the number of active watches.
func (r *Registry) Count(ctx context.Context) (int, error) {
	var n int
	err := r.do(ctx, func() { n = len(r.watches) })
	return n, err
}
