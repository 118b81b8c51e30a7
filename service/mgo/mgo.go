package mgo

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	mgo "PPost/data/database/mgo/mongoutil"
	"PPost/logger"
	"PPost/tools/safe"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var ErrNotReady = errors.New("mongo not ready")

// MongoManager keeps one client alive: it connects with backoff, pings on an
// interval and reconnects after repeated ping failures.
type MongoManager struct {
	cfg *mgo.Config
	log *zap.Logger

	mu        sync.RWMutex
	client    *mgo.Client
	readyCh   chan struct{} // closed on the first successful connect
	readyOnce sync.Once

	lastErr atomic.Value // error
}

func NewManager(cfg *mgo.Config, log *zap.Logger) *MongoManager {
	return &MongoManager{
		cfg:     cfg,
		log:     logger.OrNamed(log, "mgo"),
		readyCh: make(chan struct{}),
	}
}

// StartAsync 一直运行到 ctx.Done()；首次连上时 close readyCh，后续掉线会自动重连
func (m *MongoManager) StartAsync(ctx context.Context) {
	safe.Go(m.log, "mongo reconnect", func() { m.run(ctx) })
}

func (m *MongoManager) run(ctx context.Context) {
	const (
		baseBackoff = 200 * time.Millisecond
		maxBackoff  = 5 * time.Second
		healthEvery = 10 * time.Second
		failThresh  = 3
	)

	for {
		// ===== 连接阶段（带退避重试） =====
		attempt := 0
		for {
			if ctx.Err() != nil {
				return
			}
			cli, err := mgo.NewMongoDB(ctx, m.cfg)
			if err == nil {
				m.mu.Lock()
				m.client = cli
				m.mu.Unlock()
				m.readyOnce.Do(func() { close(m.readyCh) })
				m.log.Info("[mgo] connected", zap.String("database", m.cfg.Database))
				break
			}
			m.lastErr.Store(err)
			m.log.Warn("[mgo] connect failed", zap.Int("attempt", attempt), zap.Error(err))

			backoff := baseBackoff << attempt
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			jitter := time.Duration(rand.Int63n(int64(backoff/5) + 1)) // 0~20%
			timer := time.NewTimer(backoff - jitter/2)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if attempt < 6 {
				attempt++
			}
		}

		// ===== 健康检查阶段（保持/掉线→重连）=====
		if !m.health(ctx, healthEvery, failThresh) {
			return
		}
	}
}

// health returns false when ctx ended, true when the client was dropped and
// a reconnect is due.
func (m *MongoManager) health(ctx context.Context, every time.Duration, failThresh int) bool {
	fail := 0
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.drop()
			return false
		case <-ticker.C:
			m.mu.RLock()
			c := m.client
			m.mu.RUnlock()
			if c == nil {
				return true
			}
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := c.Ping(pctx)
			cancel()
			if err == nil {
				fail = 0
				continue
			}
			fail++
			m.lastErr.Store(err)
			if fail >= failThresh {
				m.log.Warn("[mgo] ping failed, reconnecting", zap.Error(err))
				m.drop()
				return true
			}
		}
	}
}

func (m *MongoManager) drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		_ = m.client.Disconnect(context.Background())
		m.client = nil
	}
}

// Ready is closed after the first successful connect.
func (m *MongoManager) Ready() <-chan struct{} {
	return m.readyCh
}

// Err 最近一次错误
func (m *MongoManager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// DB returns the database handle, or ErrNotReady while disconnected.
func (m *MongoManager) DB() (*mongo.Database, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, ErrNotReady
	}
	return m.client.GetDB(), nil
}

// WaitReady blocks until the first connect succeeded or ctx ends.
func (m *MongoManager) WaitReady(ctx context.Context) error {
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		if err := m.Err(); err != nil {
			return errors.Join(ctx.Err(), err)
		}
		return ctx.Err()
	}
}
