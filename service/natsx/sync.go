package natsx

import (
	"context"
	"time"

	"PPost/logger"

	"go.uber.org/zap"
)

// WithRetry retries a failed publish up to retries more times. The msgID is
// kept across attempts so the stream drops a retry whose first attempt did
// land.
func WithRetry(retries int, backoff time.Duration, log *zap.Logger) NatsxMiddleware {
	log = logger.OrNamed(log, "nats")
	return func(next NatsxPublisher) NatsxPublisher {
		return &NatsxSyncPublisher{P: next, Retries: retries, Backoff: backoff, log: log}
	}
}

// NatsxSyncPublisher 同步发布器（带重试）
type NatsxSyncPublisher struct {
	P       NatsxPublisher
	Retries int
	Backoff time.Duration
	log     *zap.Logger
}

func (sp *NatsxSyncPublisher) PublishOnce(ctx context.Context, biz string, payload []byte, hdr map[string]string, msgID string) error {
	hdr = withMsgID(hdr, msgID)
	msgID = hdr[HeaderMsgID]
	var err error
	for i := 0; i <= sp.Retries; i++ {
		if i > 0 {
			t := time.NewTimer(sp.Backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		err = sp.P.PublishOnce(ctx, biz, payload, hdr, msgID)
		if err == nil {
			return nil
		}
		if sp.log != nil {
			sp.log.Warn("[nats] publish failed", zap.String("biz", biz), zap.Int("attempt", i), zap.Error(err))
		}
	}
	return err
}
