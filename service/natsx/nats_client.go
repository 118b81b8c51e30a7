package natsx

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"PPost/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NatsxMode 工作模式
type NatsxMode int

const (
	Core          NatsxMode = iota // 无持久化
	JetStreamPush                  // JS 推送订阅
	JetStreamPull                  // JS 拉取订阅
)

// NatsxRoute binds a business name to a subject. JetStream routes with a
// Stream name get that stream created on registration when it is missing.
type NatsxRoute struct {
	Biz     string
	Subject string
	Mode    NatsxMode
	Stream  string
	// Duplicates is the stream's Nats-Msg-Id dedupe window.
	Duplicates time.Duration
	MaxAge     time.Duration
}

// NatsxConfig 客户端配置
type NatsxConfig struct {
	Servers         []string      `yaml:"servers"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	ReconnectWait   time.Duration `yaml:"reconnectWait"`
	Timeout         time.Duration `yaml:"timeout"`
	PublishAsyncMax int           `yaml:"publishAsyncMax"`
}

func (c *NatsxConfig) norm() {
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Second
	}
	if c.PublishAsyncMax == 0 {
		c.PublishAsyncMax = 4096
	}
	if c.Name == "" {
		c.Name = "ppost"
	}
}

// NatsxClient 统一客户端
type NatsxClient struct {
	cfg NatsxConfig
	nc  *nats.Conn
	js  nats.JetStreamContext
	log *zap.Logger

	mu     sync.RWMutex
	routes map[string]NatsxRoute // biz -> route
}

// NewNatsxClient 连接 NATS
func NewNatsxClient(cfg NatsxConfig, log *zap.Logger) (*NatsxClient, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	cfg.norm()
	log = logger.OrNamed(log, "nats")
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("[nats] disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("[nats] reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, err
	}
	return &NatsxClient{
		cfg:    cfg,
		nc:     nc,
		log:    log,
		routes: make(map[string]NatsxRoute),
	}, nil
}

// Close flushes pending publishes and closes the connection.
func (c *NatsxClient) Close() error {
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

// ensureJS 初始化 JetStream 上下文
func (c *NatsxClient) ensureJS() error {
	if c.js != nil {
		return nil
	}
	js, err := c.nc.JetStream(nats.PublishAsyncMaxPending(c.cfg.PublishAsyncMax))
	if err != nil {
		return err
	}
	c.js = js
	return nil
}

func (c *NatsxClient) ensureStream(r NatsxRoute) error {
	if r.Stream == "" {
		return nil
	}
	_, err := c.js.StreamInfo(r.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:       r.Stream,
		Subjects:   []string{r.Subject},
		Duplicates: r.Duplicates,
		MaxAge:     r.MaxAge,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return err
	}
	c.log.Info("[nats] stream created", zap.String("stream", r.Stream), zap.String("subject", r.Subject))
	return nil
}

// RegisterRoute 注册 Biz 路由
func (c *NatsxClient) RegisterRoute(r NatsxRoute) error {
	if err := r.validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.Mode == JetStreamPush || r.Mode == JetStreamPull {
		if err := c.ensureJS(); err != nil {
			return fmt.Errorf("init jetstream: %w", err)
		}
		if err := c.ensureStream(r); err != nil {
			return fmt.Errorf("ensure stream %s: %w", r.Stream, err)
		}
	}
	c.routes[r.Biz] = r
	return nil
}

func (r NatsxRoute) validate() error {
	if r.Biz == "" || r.Subject == "" {
		return errors.New("invalid route")
	}
	switch r.Mode {
	case Core, JetStreamPush, JetStreamPull:
		return nil
	}
	return fmt.Errorf("unknown mode %d", r.Mode)
}

// route 查询已注册路由
func (c *NatsxClient) route(biz string) (NatsxRoute, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[biz]
	return r, ok
}
