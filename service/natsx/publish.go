package natsx

import (
	"context"

	"PPost/tools/errs"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const HeaderMsgID = "Nats-Msg-Id"

// NatsxPublisher is what the point store needs from NATS: a deduplicated
// publish keyed by Nats-Msg-Id.
type NatsxPublisher interface {
	PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error
}

// NatsxMiddleware wraps a publisher (retries, ...).
type NatsxMiddleware func(NatsxPublisher) NatsxPublisher

// NatsxChain 组合中间件，第一个中间件在最外层
func NatsxChain(p NatsxPublisher, mws ...NatsxMiddleware) NatsxPublisher {
	for i := len(mws) - 1; i >= 0; i-- {
		p = mws[i](p)
	}
	return p
}

// withMsgID copies hdr and sets the dedupe header, generating an id when
// msgID is empty.
func withMsgID(hdr map[string]string, msgID string) map[string]string {
	out := make(map[string]string, len(hdr)+1)
	for k, v := range hdr {
		out[k] = v
	}
	if msgID == "" {
		msgID = uuid.NewString()
	}
	out[HeaderMsgID] = msgID
	return out
}

// routePublisher sends on the subject registered for biz.
type routePublisher struct{ c *NatsxClient }

func (p routePublisher) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	r, ok := p.c.route(biz)
	if !ok {
		return errs.ErrArgs.WrapMsg("nats route not registered", "biz", biz)
	}
	msg := nats.NewMsg(r.Subject)
	msg.Data = data
	for k, v := range withMsgID(hdr, msgID) {
		msg.Header.Set(k, v)
	}

	if r.Mode == Core {
		return errs.WrapMsg(p.c.nc.PublishMsg(msg), "nats publish", "subject", r.Subject)
	}
	ack, err := p.c.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return errs.WrapMsg(err, "jetstream publish", "subject", r.Subject)
	}
	if ack.Duplicate {
		// 去重窗口内的重发，stream 已经有了
		p.c.log.Debug("[nats] duplicate dropped by stream", zap.String("stream", ack.Stream), zap.String("msgId", msg.Header.Get(HeaderMsgID)))
		return nil
	}
	p.c.log.Debug("[nats] published", zap.String("stream", ack.Stream), zap.Uint64("seq", ack.Sequence))
	return nil
}
