// Package rpc is the control-plane link between the front-end and the point
// store: correlated request/reply plus one-way events over a single active
// link, multiplexing any number of in-flight calls.
package rpc

import (
	"context"
	"errors"
	"sync"
	"time"

	"PPost/logger"
	"PPost/tools/decode"
	"PPost/tools/errs"
	"PPost/tools/safe"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultCallTimeout = 2 * time.Second
	eventQueueSize     = 256
)

var ErrLinkClosed = errors.New("link closed")

// Link is one physical connection carrying Messages. Send may be called
// concurrently; Recv is called from a single goroutine.
type Link interface {
	Send(m *Message) error
	Recv() (*Message, error)
	Close() error
}

// Params are the decoded params of a request or event.
type Params map[string]any

func (p Params) Decode(out any) error {
	return decode.Decode(map[string]any(p), out)
}

// HandlerFunc serves one request. A nil result is replied as null.
type HandlerFunc func(ctx context.Context, params Params) (any, error)

// EventFunc consumes one inbound event.
type EventFunc func(ctx context.Context, params Params)

// Result is the data of a successful reply.
type Result struct {
	data any
}

func (r Result) IsNull() bool { return r.data == nil }

func (r Result) Raw() any { return r.data }

// Decode copies the reply data into out. A null reply leaves out untouched.
func (r Result) Decode(out any) error {
	if r.data == nil {
		return nil
	}
	return decode.Decode(r.data, out)
}

type Options struct {
	CallTimeout time.Duration // default deadline of Call; <=0 => 2s
	Log         *zap.Logger
}

func (o *Options) norm() {
	if o.CallTimeout <= 0 {
		o.CallTimeout = defaultCallTimeout
	}
	o.Log = logger.OrNamed(o.Log, "rpc")
}

// Channel owns the active link, the handler tables and the pending-call
// table. Both processes hold one; either side may call the other.
type Channel struct {
	opts Options
	log  *zap.Logger

	mu       sync.RWMutex
	link     Link
	handlers map[Method]HandlerFunc
	events   map[Method]EventFunc

	pending *pendingTable

	closed    chan struct{}
	closeOnce sync.Once
}

func NewChannel(opts Options) *Channel {
	opts.norm()
	return &Channel{
		opts:     opts,
		log:      opts.Log,
		handlers: make(map[Method]HandlerFunc),
		events:   make(map[Method]EventFunc),
		pending:  newPendingTable(),
		closed:   make(chan struct{}),
	}
}

// Handle registers the server side of a request method.
func (c *Channel) Handle(m Method, h HandlerFunc) {
	if !m.Valid() || m.IsEvent() {
		panic("rpc: Handle on non-request method " + string(m))
	}
	c.mu.Lock()
	c.handlers[m] = h
	c.mu.Unlock()
}

// OnEvent registers the consumer of an inbound event.
func (c *Channel) OnEvent(m Method, h EventFunc) {
	if !m.IsEvent() {
		panic("rpc: OnEvent on non-event method " + string(m))
	}
	c.mu.Lock()
	c.events[m] = h
	c.mu.Unlock()
}

func (c *Channel) Connected() bool {
	return c.current() != nil
}

func (c *Channel) current() Link {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.link
}

// Call sends a request and waits for its reply or the default deadline.
func (c *Channel) Call(ctx context.Context, m Method, params any) (Result, error) {
	return c.CallTimeout(ctx, m, params, c.opts.CallTimeout)
}

// CallTimeout fails fast with errs.ErrNoLink when no link is attached. The
// call resolves exactly once: by its reply, by the deadline (errs.ErrTimeout)
// or by ctx. A reply arriving after that is discarded.
func (c *Channel) CallTimeout(ctx context.Context, m Method, params any, timeout time.Duration) (Result, error) {
	if !m.Valid() || m.IsEvent() {
		return Result{}, errs.ErrArgs.WrapMsg("not a request method", "method", m)
	}
	link := c.current()
	if link == nil {
		return Result{}, errs.ErrNoLink.WrapMsg("no active link", "method", m)
	}
	p, err := decode.ToMap(params)
	if err != nil {
		return Result{}, errs.ErrArgs.WrapMsg(err.Error(), "method", m)
	}

	id := uuid.NewString()
	call := c.pending.add(id, m, time.Now().Add(timeout))
	if err := link.Send(&Message{RequestID: id, Method: m, Params: p}); err != nil {
		c.pending.take(id)
		return Result{}, errs.ErrNoLink.WrapMsg("send failed", "method", m, "err", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var cause error
	select {
	case rep := <-call.done:
		return replyResult(rep)
	case <-timer.C:
		cause = errs.ErrTimeout.WrapMsg("no reply", "method", m, "requestId", id, "timeout", timeout)
	case <-ctx.Done():
		cause = ctx.Err()
	case <-c.closed:
		cause = errs.ErrNoLink.WrapMsg("channel closed", "method", m)
	}
	if c.pending.take(id) != nil {
		return Result{}, cause
	}
	// the reply won the race and is already in flight to call.done
	return replyResult(<-call.done)
}

func replyResult(rep *Message) (Result, error) {
	if rep.Error != "" || rep.Code != 0 {
		return Result{}, errs.FromCode(rep.Code, rep.Error)
	}
	return Result{data: rep.Data}, nil
}

// Publish sends a one-way event. Delivery is best effort.
func (c *Channel) Publish(ctx context.Context, m Method, payload any) error {
	if !m.IsEvent() {
		return errs.ErrArgs.WrapMsg("not an event", "method", m)
	}
	link := c.current()
	if link == nil {
		return errs.ErrNoLink.WrapMsg("no active link", "event", m)
	}
	p, err := decode.ToMap(payload)
	if err != nil {
		return errs.ErrArgs.WrapMsg(err.Error(), "event", m)
	}
	if err := link.Send(&Message{Method: m, Params: p}); err != nil {
		return errs.ErrNoLink.WrapMsg("send failed", "event", m, "err", err)
	}
	return nil
}

// Serve makes link the active link and reads from it until it fails or ctx
// ends. A link already attached is closed and replaced. Calls pending on a
// lost link are left to time out.
func (c *Channel) Serve(ctx context.Context, link Link) error {
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		_ = link.Close()
		return errs.ErrNoLink.WrapMsg("channel closed")
	default:
	}
	prev := c.link
	c.link = link
	c.mu.Unlock()
	if prev != nil {
		c.log.Info("[rpc] active link replaced")
		_ = prev.Close()
	}

	sctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(sctx, func() { _ = link.Close() })

	var inflight sync.WaitGroup
	evq := make(chan *Message, eventQueueSize)
	inflight.Add(1)
	go func() {
		defer inflight.Done()
		for ev := range evq {
			c.dispatchEvent(sctx, ev)
		}
	}()

	defer func() {
		stop()
		cancel()
		close(evq)
		inflight.Wait()
		_ = link.Close()
		c.mu.Lock()
		if c.link == link {
			c.link = nil
		}
		c.mu.Unlock()
	}()

	for {
		msg, err := link.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Info("[rpc] link lost", zap.Error(err))
			return err
		}
		switch msg.Kind() {
		case KindRequest:
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				c.serveRequest(sctx, link, msg)
			}()
		case KindReply:
			c.resolve(msg)
		case KindEvent:
			select {
			case evq <- msg:
			default:
				c.log.Warn("[rpc] event queue full, drop", zap.String("event", string(msg.Method)))
			}
		default:
			c.log.Debug("[rpc] drop invalid frame")
		}
	}
}

func (c *Channel) resolve(rep *Message) {
	call := c.pending.take(rep.RequestID)
	if call == nil {
		c.log.Debug("[rpc] drop reply for unknown or resolved request", zap.String("requestId", rep.RequestID))
		return
	}
	call.done <- rep
}

func (c *Channel) serveRequest(ctx context.Context, link Link, req *Message) {
	c.mu.RLock()
	h := c.handlers[req.Method]
	c.mu.RUnlock()

	rep := &Message{RequestID: req.RequestID}
	if h == nil {
		err := errs.ErrArgs.WrapMsg("unknown method", "method", req.Method)
		rep.Error, rep.Code = errs.Text(err), errs.ArgsError
	} else {
		var data any
		err := safe.Call(func() error {
			var herr error
			data, herr = h(ctx, Params(req.Params))
			return herr
		})
		if err != nil {
			c.log.Debug("[rpc] handler failed", zap.String("method", string(req.Method)), zap.Error(err))
			rep.Error, rep.Code = errs.Text(err), errs.CodeOf(err)
			if rep.Code == 0 {
				rep.Code = errs.ServerInternalError
			}
		} else {
			rep.Data = data
		}
	}
	if err := link.Send(rep); err != nil {
		c.log.Warn("[rpc] reply not sent", zap.String("method", string(req.Method)), zap.Error(err))
	}
}

func (c *Channel) dispatchEvent(ctx context.Context, ev *Message) {
	c.mu.RLock()
	h := c.events[ev.Method]
	c.mu.RUnlock()
	if h == nil {
		c.log.Debug("[rpc] no consumer for event", zap.String("event", string(ev.Method)))
		return
	}
	if err := safe.Call(func() error { h(ctx, Params(ev.Params)); return nil }); err != nil {
		c.log.Error("[rpc] event consumer failed", zap.String("event", string(ev.Method)), zap.Error(err))
	}
}

// Close detaches and closes the active link; pending calls fail with
// errs.ErrNoLink. The Channel cannot be served again.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		close(c.closed)
		link := c.link
		c.link = nil
		c.mu.Unlock()
		if link != nil {
			_ = link.Close()
		}
	})
	return nil
}

// Pending reports the number of unresolved calls.
func (c *Channel) Pending() int { return c.pending.len() }

type pendingCall struct {
	method   Method
	deadline time.Time
	done     chan *Message // buffered 1; written once by whoever takes the entry
}

// pendingTable is keyed by request id. Removal is the resolution point: only
// the goroutine whose take returns the entry may complete it.
type pendingTable struct {
	mu sync.Mutex
	m  map[string]*pendingCall
}

func newPendingTable() *pendingTable {
	return &pendingTable{m: make(map[string]*pendingCall)}
}

func (t *pendingTable) add(id string, m Method, deadline time.Time) *pendingCall {
	call := &pendingCall{method: m, deadline: deadline, done: make(chan *Message, 1)}
	t.mu.Lock()
	t.m[id] = call
	t.mu.Unlock()
	return call
}

func (t *pendingTable) take(id string) *pendingCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	call, ok := t.m[id]
	if !ok {
		return nil
	}
	delete(t.m, id)
	return call
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}
