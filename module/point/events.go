package point

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PPost/logger"
	"PPost/module/point/model"

	"go.uber.org/zap"
)

// BizTransition is the natsx route name transitions are published under.
const BizTransition = "point.transition"

// Transition is one sweep step applied to a point.
type Transition struct {
	PointID string       `json:"pointId"`
	From    model.Status `json:"from"`
	To      model.Status `json:"to,omitempty"`
	DueAt   time.Time    `json:"dueAt"`             // checkAt that made the point due
	CheckAt time.Time    `json:"checkAt,omitempty"` // new checkAt; zero when removed
	At      time.Time    `json:"at"`
	Removed bool         `json:"removed"`
}

// Events receives every applied transition. Implementations must not block
// the sweep for long.
type Events interface {
	Transitioned(ctx context.Context, t Transition)
}

type nopEvents struct{}

func (nopEvents) Transitioned(context.Context, Transition) {}

// OnceProducer publishes with a dedupe id; natsx.NatsManager satisfies it.
type OnceProducer interface {
	PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error
}

// NatsEvents forwards transitions to NATS. The message id is derived from the
// point, the target status and DueAt, so republishing one transition dedupes
// on JetStream.
type NatsEvents struct {
	p   OnceProducer
	log *zap.Logger
}

func NewNatsEvents(p OnceProducer, log *zap.Logger) *NatsEvents {
	return &NatsEvents{p: p, log: logger.OrNamed(log, "events")}
}

func (e *NatsEvents) Transitioned(ctx context.Context, t Transition) {
	data, err := json.Marshal(t)
	if err != nil {
		e.log.Error("[events] marshal transition", zap.Error(err))
		return
	}
	to := string(t.To)
	if t.Removed {
		to = "removed"
	}
	msgID := fmt.Sprintf("%s:%s:%d", t.PointID, to, t.DueAt.UnixMilli())
	if err := e.p.PublishOnce(ctx, BizTransition, data, map[string]string{"Content-Type": "application/json"}, msgID); err != nil {
		e.log.Warn("[events] publish transition", zap.String("point", t.PointID), zap.Error(err))
	}
}

// LogEvents writes transitions to the log only.
type LogEvents struct{ Log *zap.Logger }

func (e LogEvents) Transitioned(_ context.Context, t Transition) {
	log := logger.OrNamed(e.Log, "events")
	if t.Removed {
		log.Info("[events] point removed", zap.String("point", t.PointID), zap.String("from", string(t.From)))
		return
	}
	log.Info("[events] point aged", zap.String("point", t.PointID),
		zap.String("from", string(t.From)), zap.String("to", string(t.To)), zap.Time("checkAt", t.CheckAt))
}
