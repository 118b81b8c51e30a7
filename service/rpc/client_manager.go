package rpc

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"PPost/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type DialerConfig struct {
	URL              string        // ws://host:port/link
	Token            string        // sent as "Authorization: Bearer"
	HandshakeTimeout time.Duration // <=0 => 5s
	BaseBackoff      time.Duration // <=0 => 200ms
	MaxBackoff       time.Duration // <=0 => 5s
	WS               WSOptions
	Log              *zap.Logger
}

func (c *DialerConfig) norm() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	c.Log = logger.OrNamed(c.Log, "dialer")
	if c.WS.Log == nil {
		c.WS.Log = c.Log
	}
}

// Dialer keeps ch attached to the remote end, redialing with backoff whenever
// the link drops. Calls made while disconnected fail with errs.ErrNoLink.
type Dialer struct {
	cfg DialerConfig
	ch  *Channel
	ws  *websocket.Dialer
}

func NewDialer(cfg DialerConfig, ch *Channel) *Dialer {
	cfg.norm()
	return &Dialer{
		cfg: cfg,
		ch:  ch,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// Run blocks until ctx ends.
func (d *Dialer) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := d.dial(ctx)
		if err != nil {
			d.cfg.Log.Info("[dialer] connect failed", zap.String("url", d.cfg.URL), zap.Int("attempt", attempt), zap.Error(err))
			if !sleepCtx(ctx, backoff(d.cfg.BaseBackoff, d.cfg.MaxBackoff, attempt)) {
				return nil
			}
			if attempt < 6 {
				attempt++
			}
			continue
		}
		attempt = 0
		d.cfg.Log.Info("[dialer] connected", zap.String("url", d.cfg.URL))

		err = d.ch.Serve(ctx, NewWSLink(conn, d.cfg.WS))
		if ctx.Err() != nil {
			return nil
		}
		d.cfg.Log.Warn("[dialer] link dropped, reconnecting", zap.Error(err))
		if !sleepCtx(ctx, d.cfg.BaseBackoff) {
			return nil
		}
	}
}

func (d *Dialer) dial(ctx context.Context) (*websocket.Conn, error) {
	h := http.Header{}
	if d.cfg.Token != "" {
		h.Set("Authorization", "Bearer "+d.cfg.Token)
	}
	conn, resp, err := d.ws.DialContext(ctx, d.cfg.URL, h)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// 退避 + 抖动
func backoff(base, limit time.Duration, attempt int) time.Duration {
	b := base << attempt
	if b > limit || b <= 0 {
		b = limit
	}
	jitter := time.Duration(rand.Int63n(int64(b/5) + 1)) // 0~20%
	return b - jitter/2
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
