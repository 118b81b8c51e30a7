// Package global wires the process-wide collaborators out of the loaded
// configuration. Each Config* helper returns what it built together with its
// teardown.
package global

import (
	"context"
	"errors"
	"net/http"
	"time"

	"PPost/data/database/mgo/mongoutil"
	mid "PPost/middleware"
	"PPost/module/point"
	"PPost/module/point/store"
	mgoSrv "PPost/service/mgo"
	"PPost/service/natsx"
	"PPost/service/storage"
	"PPost/service/storage/redis"
	"PPost/tools/ids"

	"go.uber.org/zap"
)

const (
	mongoReadyTimeout = 30 * time.Second
	shutdownTimeout   = 5 * time.Second
	natsRetries       = 3
	natsBackoff       = 200 * time.Millisecond
)

// ConfigIds 设置节点号，返回点位 id 生成器
func ConfigIds(node int64) *ids.Generator {
	ids.SetNodeID(node)
	return ids.Default()
}

// ConfigMgo connects mongo in the background and waits for the first connect.
// Without a mongo address the points live in memory.
func ConfigMgo(ctx context.Context, cfg mongoutil.Config, log *zap.Logger) (store.Store, error) {
	if cfg.Uri == "" && len(cfg.Address) == 0 {
		log.Warn("[boot] no mongo configured, points are kept in memory")
		return store.NewMemStore(), nil
	}
	m := mgoSrv.NewManager(&cfg, log.Named("mgo"))
	m.StartAsync(ctx)

	wctx, cancel := context.WithTimeout(ctx, mongoReadyTimeout)
	defer cancel()
	if err := m.WaitReady(wctx); err != nil {
		return nil, err
	}
	st := store.NewMongoStore(m, log.Named("store"))
	if err := st.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	log.Info("[boot] mongo ready", zap.String("db", cfg.Database))
	return st, nil
}

// ConfigRedis returns the user cache: redis backed when an address is set,
// in-memory otherwise.
func ConfigRedis(ctx context.Context, cfg redis.Config, ttl time.Duration, log *zap.Logger) (storage.UserCache, func(), error) {
	if !cfg.Enabled() {
		return storage.NewMemUserCache(ttl, nil), func() {}, nil
	}
	rm, err := redis.NewRedis(ctx, cfg, log.Named("redis"))
	if err != nil {
		return nil, nil, err
	}
	return storage.NewRedisUserCache(rm.Client(), ttl), func() { _ = rm.Close() }, nil
}

// ConfigNats returns the transition sink: JetStream with retries when servers
// are configured, the log otherwise.
func ConfigNats(cfg natsx.NatsxConfig, log *zap.Logger) (point.Events, func(), error) {
	if len(cfg.Servers) == 0 {
		return point.LogEvents{Log: log.Named("events")}, func() {}, nil
	}
	nm, err := natsx.NewNatsManager(cfg, log.Named("nats"), natsx.WithRetry(natsRetries, natsBackoff, log.Named("nats")))
	if err != nil {
		return nil, nil, err
	}
	if err := nm.RegisterRoute(natsx.TransitionRoute(point.BizTransition)); err != nil {
		_ = nm.Close()
		return nil, nil, err
	}
	return point.NewNatsEvents(nm, log.Named("events")), func() { _ = nm.Close() }, nil
}

// ConfigMiddleware 全局中间件：访问日志
func ConfigMiddleware(log *zap.Logger) *mid.MiddlewareManager {
	m := mid.NewManager()
	m.Add(mid.AccessLog(log.Named("http")))
	return m
}

// RunHTTP serves h on addr until ctx ends, then shuts down gracefully.
func RunHTTP(ctx context.Context, addr string, h http.Handler, log *zap.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info("[HTTP] listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(sctx)
	if lerr := <-errCh; lerr != nil && !errors.Is(lerr, http.ErrServerClosed) && err == nil {
		err = lerr
	}
	return err
}
