package natsx

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// NatsManager 统一门面：对外只暴露这一个对象来用
type NatsManager struct {
	client    *NatsxClient
	publisher NatsxPublisher
}

// NewNatsManager connects and wraps the producer in middlewares.
func NewNatsManager(cfg NatsxConfig, log *zap.Logger, middlewares ...NatsxMiddleware) (*NatsManager, error) {
	c, err := NewNatsxClient(cfg, log)
	if err != nil {
		return nil, err
	}
	return &NatsManager{
		client:    c,
		publisher: NatsxChain(routePublisher{c: c}, middlewares...),
	}, nil
}

// Close 释放资源
func (m *NatsManager) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

// RegisterRoute 注册业务路由（biz -> subject / mode / stream）
func (m *NatsManager) RegisterRoute(r NatsxRoute) error {
	if m == nil || m.client == nil {
		return fmt.Errorf("manager not initialized")
	}
	return m.client.RegisterRoute(r)
}

// PublishOnce 生产消息（带 Nats-Msg-Id 去重）
func (m *NatsManager) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	if m == nil || m.publisher == nil {
		return fmt.Errorf("manager not initialized")
	}
	return m.publisher.PublishOnce(ctx, biz, data, hdr, msgID)
}

// TransitionRoute is the JetStream route lifecycle transitions go out on.
func TransitionRoute(biz string) NatsxRoute {
	return NatsxRoute{
		Biz:        biz,
		Subject:    "points.transition",
		Mode:       JetStreamPush,
		Stream:     "POINTS",
		Duplicates: 2 * time.Minute,
		MaxAge:     24 * time.Hour,
	}
}
