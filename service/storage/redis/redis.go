package redis

import (
	"context"
	"time"

	"PPost/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config 用于初始化 Redis
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// Enabled reports whether a redis address is configured.
func (c Config) Enabled() bool { return c.Addr != "" }

type RedisManager struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedis connects and pings once; the client reconnects on its own after that.
func NewRedis(ctx context.Context, c Config, log *zap.Logger) (*RedisManager, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	log = logger.OrNamed(log, "redis")
	log.Info("[redis] connected", zap.String("addr", c.Addr), zap.Int("db", c.DB))
	return &RedisManager{client: rdb, log: log}, nil
}

func (m *RedisManager) Client() *redis.Client { return m.client }

// Close 关闭连接
func (m *RedisManager) Close() error {
	if m != nil && m.client != nil {
		return m.client.Close()
	}
	return nil
}
