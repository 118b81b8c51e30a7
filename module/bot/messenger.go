package bot

import (
	"context"
	"time"

	"PPost/logger"
	"PPost/module/point/model"
	"PPost/service/storage"
	"PPost/tools/errs"

	"go.uber.org/zap"
)

// Messenger is the chat platform as seen by the bot. Implementations talk to
// a real platform; LogMessenger only logs.
type Messenger interface {
	SendText(ctx context.Context, chatID, text string) error
	SendNearby(ctx context.Context, chatID string, points []model.NearbyPoint) error
	SendPoint(ctx context.Context, chatID string, p model.Point) error
	// ChatInfo describes a chat or user; unknown ids yield errs.ErrNotFound.
	ChatInfo(ctx context.Context, chatID string) (storage.UserInfo, error)
}

// LogMessenger writes every outgoing message to the log. It knows no chats
// of its own.
type LogMessenger struct {
	mapURL string
	log    *zap.Logger
	now    func() time.Time
}

func NewLogMessenger(mapURL string, log *zap.Logger) *LogMessenger {
	return &LogMessenger{
		mapURL: mapURL,
		log:    logger.OrNamed(log, "messenger"),
		now:    time.Now,
	}
}

func (m *LogMessenger) SendText(_ context.Context, chatID, text string) error {
	m.log.Info("[messenger] text", zap.String("chat", chatID), zap.String("text", text))
	return nil
}

func (m *LogMessenger) SendNearby(_ context.Context, chatID string, points []model.NearbyPoint) error {
	buttons := NearbyButtons(m.mapURL, chatID, points)
	labels := make([]string, len(buttons))
	for i, b := range buttons {
		labels[i] = b.Text
	}
	m.log.Info("[messenger] nearby",
		zap.String("chat", chatID),
		zap.String("text", NearbyText(points)),
		zap.Strings("buttons", labels))
	return nil
}

func (m *LogMessenger) SendPoint(_ context.Context, chatID string, p model.Point) error {
	m.log.Info("[messenger] point",
		zap.String("chat", chatID),
		zap.Float64("lat", p.Latitude), zap.Float64("lon", p.Longitude),
		zap.String("text", PointDetails(p, m.now())))
	return nil
}

func (m *LogMessenger) ChatInfo(_ context.Context, chatID string) (storage.UserInfo, error) {
	return storage.UserInfo{}, errs.ErrNotFound.WrapMsg("unknown chat", "chat", chatID)
}
