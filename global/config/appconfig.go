package config

import (
	"time"

	"PPost/data/database/mgo/mongoutil"
	"PPost/logger"
	"PPost/service/natsx"
	"PPost/service/storage/redis"
)

const NodeTypePointStore = "pointStore" // 数据节点
const NodeTypeFrontend = "frontend"     // 消息前端

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LinkConfig is the control link shared by both processes.
type LinkConfig struct {
	URL         string        `yaml:"url"`    // front-end only: ws://host:port/link
	Secret      string        `yaml:"secret"` // empty disables the link token
	TokenTTL    time.Duration `yaml:"tokenTtl"`
	CallTimeout time.Duration `yaml:"callTimeout"`
	PongWait    time.Duration `yaml:"pongWait"`
	MaxBackoff  time.Duration `yaml:"maxBackoff"`
}

type LifecycleConfig struct {
	SweepInterval time.Duration `yaml:"sweepInterval"`
	Parallelism   int           `yaml:"parallelism"`
	Created       time.Duration `yaml:"created"`
	Confirmed     time.Duration `yaml:"confirmed"`
	Weak          time.Duration `yaml:"weak"`
	Strong        time.Duration `yaml:"strong"`
}

type WatchConfig struct {
	Expiry time.Duration `yaml:"expiry"`
	Radius float64       `yaml:"radius"`
}

type PoolConfig struct {
	Size      int `yaml:"size"`
	Threshold int `yaml:"threshold"`
}

// StoreConfig configures cmd/pointstore. Mongo, redis and nats are optional:
// without them the store keeps points in memory, caches users in memory and
// logs transitions instead of publishing them.
type StoreConfig struct {
	NodeType  string             `yaml:"-"`
	NodeID    int64              `yaml:"nodeId"`
	LogLevel  string             `yaml:"logLevel"`
	LogFile   logger.FileOptions `yaml:"logFile"`
	HTTP      HTTPConfig         `yaml:"http"`
	Link      LinkConfig         `yaml:"link"`
	Mongo     mongoutil.Config   `yaml:"mongo"`
	Redis     redis.Config       `yaml:"redis"`
	Nats      natsx.NatsxConfig  `yaml:"nats"`
	Lifecycle LifecycleConfig    `yaml:"lifecycle"`
	Watch     WatchConfig        `yaml:"watch"`
	Pool      PoolConfig         `yaml:"pool"`
	UserTTL   time.Duration      `yaml:"userTtl"`
}

// FrontendConfig configures cmd/frontend.
type FrontendConfig struct {
	NodeType string             `yaml:"-"`
	Peer     string             `yaml:"peer"`
	LogLevel string             `yaml:"logLevel"`
	LogFile  logger.FileOptions `yaml:"logFile"`
	HTTP     HTTPConfig         `yaml:"http"`
	Link     LinkConfig         `yaml:"link"`
	// WatchRadius is the radius sent with every nearby query, in meters.
	WatchRadius float64 `yaml:"watchRadius"`
	// WatchExpiry should match the store's watch.expiry.
	WatchExpiry time.Duration `yaml:"watchExpiry"`
	MapURL      string        `yaml:"mapUrl"`
	// WebhookSecret, when set, must arrive as X-Webhook-Secret on /updates.
	WebhookSecret string `yaml:"webhookSecret"`
	// RateLimit is per chat, in updates per second; 0 => unlimited.
	RateLimit float64 `yaml:"rateLimit"`
	RateBurst int     `yaml:"rateBurst"`
}
