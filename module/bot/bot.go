// Package bot is the messaging front-end. It turns chat updates into calls on
// the control link and link events into chat messages; the chat platform itself
// sits behind Messenger.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"PPost/logger"
	"PPost/module/point"
	"PPost/module/point/model"
	"PPost/module/point/service"
	"PPost/module/watch"
	"PPost/service/rpc"
	"PPost/service/storage"
	"PPost/tools/errs"

	"go.uber.org/zap"
)

type Options struct {
	Channel   *rpc.Channel
	Messenger Messenger
	// Radius of one-shot and live queries in meters; <=0 => watch.DefaultRadius.
	Radius float64
	MapURL string
	// Users remembers senders seen in updates for getUserInfo; nil => in-memory.
	Users storage.UserCache
	// RateLimit caps commands, one-shot queries and button presses per chat,
	// in events per second; <=0 disables the limit.
	RateLimit float64
	RateBurst int
	// WatchExpiry mirrors the store's watch expiry; a live watch not updated
	// for that long is dropped here even if watchExpired never arrived.
	// <=0 => watch.DefaultExpiry.
	WatchExpiry time.Duration
	Now         func() time.Time
	Log         *zap.Logger
}

type liveWatch struct {
	chat     string
	lat, lon float64
	failed   bool // last live query failed on the link
	seen     time.Time
}

type Bot struct {
	ch     *rpc.Channel
	msgr   Messenger
	radius float64
	mapURL string
	users  storage.UserCache
	limit  *chatLimiter
	expiry time.Duration
	now    func() time.Time
	log    *zap.Logger

	mu   sync.Mutex
	live map[string]*liveWatch // watchId -> chat and last position
}

func New(opts Options) *Bot {
	if opts.Radius <= 0 {
		opts.Radius = watch.DefaultRadius
	}
	if opts.Users == nil {
		opts.Users = storage.NewMemUserCache(storage.DefaultUserTTL, nil)
	}
	if opts.WatchExpiry <= 0 {
		opts.WatchExpiry = watch.DefaultExpiry
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	b := &Bot{
		ch:     opts.Channel,
		msgr:   opts.Messenger,
		radius: opts.Radius,
		mapURL: opts.MapURL,
		users:  opts.Users,
		limit:  newChatLimiter(opts.RateLimit, opts.RateBurst),
		expiry: opts.WatchExpiry,
		now:    opts.Now,
		log:    logger.OrNamed(opts.Log, "bot"),
		live:   make(map[string]*liveWatch),
	}
	b.ch.Handle(rpc.MethodGetUserInfo, b.getUserInfo)
	b.ch.OnEvent(rpc.EventPointsNearby, b.onPointsNearby)
	b.ch.OnEvent(rpc.EventWatchExpired, b.onWatchExpired)
	return b
}

// HandleUpdate processes one update to completion. Malformed updates yield
// errs.ErrArgs; messenger failures are returned as they are.
func (b *Bot) HandleUpdate(ctx context.Context, u Update) error {
	switch {
	case u.Message != nil:
		return b.onMessage(ctx, u.Message, false)
	case u.EditedMessage != nil:
		return b.onMessage(ctx, u.EditedMessage, true)
	case u.CallbackQuery != nil:
		return b.onCallback(ctx, u.CallbackQuery)
	}
	return errs.ErrArgs.WrapMsg("empty update", "updateId", u.ID)
}

// LiveWatches reports how many live watches this front-end is tracking.
func (b *Bot) LiveWatches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	return len(b.live)
}

// pruneLocked drops live watches the store has expired by now; b.mu held.
func (b *Bot) pruneLocked() {
	now := b.now()
	for id, w := range b.live {
		if now.Sub(w.seen) >= b.expiry {
			delete(b.live, id)
		}
	}
}

func (b *Bot) onMessage(ctx context.Context, m *Message, edited bool) error {
	if m.Chat.ID == "" {
		return errs.ErrArgs.WrapMsg("message without chat", "messageId", m.ID)
	}
	b.remember(ctx, m.From)
	if !m.Location.Live() && !b.allowed(m.Chat.ID) {
		return nil
	}

	switch {
	case m.WebAppData != "":
		return b.onWebApp(ctx, m)
	case m.Location != nil:
		return b.onLocation(ctx, m)
	case edited:
		return nil
	}

	text := strings.TrimSpace(m.Text)
	name, ok := isCommand(text)
	if !ok {
		return b.msgr.SendText(ctx, m.Chat.ID, textUseCommands)
	}
	switch name {
	case "start":
		return b.msgr.SendText(ctx, m.Chat.ID, welcomeText(m.From))
	case "help":
		return b.msgr.SendText(ctx, m.Chat.ID, helpText())
	case "map":
		msg := textMapIntro
		if b.mapURL != "" {
			msg += "\n\n" + MapLink(b.mapURL, m.Chat.ID)
		}
		return b.msgr.SendText(ctx, m.Chat.ID, msg)
	}
	return nil
}

func watchID(m *Message) string { return m.Chat.ID + ":" + m.ID }

// onLocation: a live location starts or moves a watch, the final static edit
// of a live message ends it, any other location is a one-shot query.
func (b *Bot) onLocation(ctx context.Context, m *Message) error {
	id := watchID(m)
	loc := m.Location
	if loc.Live() {
		return b.liveUpdate(ctx, id, m.Chat.ID, loc.Latitude, loc.Longitude)
	}
	if b.forget(id) {
		_, err := b.ch.Call(ctx, rpc.MethodStopWatch, service.StopWatchParams{WatchID: id})
		if err != nil {
			b.log.Warn("[bot] stopWatch", zap.String("watchId", id), zap.Error(err))
		}
		return nil
	}
	return b.sendNearby(ctx, m.Chat.ID, loc.Latitude, loc.Longitude)
}

// liveUpdate forwards the position; the answer arrives as pointsNearby events.
// Only link failures are reported here, once until the next success.
func (b *Bot) liveUpdate(ctx context.Context, id, chat string, lat, lon float64) error {
	b.mu.Lock()
	w, ok := b.live[id]
	if !ok {
		w = &liveWatch{chat: chat}
		b.live[id] = w
	}
	w.lat, w.lon = lat, lon
	w.seen = b.now()
	b.mu.Unlock()

	_, err := b.ch.Call(ctx, rpc.MethodGetNearbyPoints, service.NearbyParams{
		Latitude: lat, Longitude: lon, Radius: b.radius, WatchID: id, Subject: chat,
	})
	linkDown := errors.Is(err, errs.ErrTransport)

	b.mu.Lock()
	notify := linkDown && !w.failed
	w.failed = linkDown
	b.mu.Unlock()

	if err != nil {
		b.log.Info("[bot] live update failed", zap.String("watchId", id), zap.Error(err))
	}
	if notify {
		return b.msgr.SendText(ctx, chat, textFetchFailed)
	}
	return nil
}

func (b *Bot) sendNearby(ctx context.Context, chat string, lat, lon float64) error {
	res, err := b.ch.Call(ctx, rpc.MethodGetNearbyPoints, service.NearbyParams{
		Latitude: lat, Longitude: lon, Radius: b.radius,
	})
	var points []model.NearbyPoint
	if err == nil {
		err = res.Decode(&points)
	}
	if err != nil {
		b.log.Info("[bot] nearby query failed", zap.String("chat", chat), zap.Error(err))
		return b.msgr.SendText(ctx, chat, textFetchFailed)
	}
	if len(points) == 0 {
		return b.msgr.SendText(ctx, chat, textNoPoints)
	}
	return b.msgr.SendNearby(ctx, chat, points)
}

func (b *Bot) forget(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.live[id]
	delete(b.live, id)
	return ok
}

// liveOf returns the position of chat's live watch, if it has one.
func (b *Bot) liveOf(chat string) (lat, lon float64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	for _, w := range b.live {
		if w.chat == chat {
			return w.lat, w.lon, true
		}
	}
	return 0, 0, false
}

func (b *Bot) onCallback(ctx context.Context, q *CallbackQuery) error {
	if q.Message == nil || q.Message.Chat.ID == "" {
		return errs.ErrArgs.WrapMsg("callback without message", "id", q.ID)
	}
	var data callbackData
	if err := json.Unmarshal([]byte(q.Data), &data); err != nil {
		return errs.ErrArgs.WrapMsg("bad callback data", "data", q.Data)
	}
	chat := q.Message.Chat.ID
	b.remember(ctx, q.From)
	if !b.allowed(chat) {
		return nil
	}

	switch {
	case data.Point != "":
		return b.showPoint(ctx, chat, data.Point)
	case data.Points == "all":
		if lat, lon, ok := b.liveOf(chat); ok {
			return b.sendNearby(ctx, chat, lat, lon)
		}
		return nil
	case data.Confirm != "":
		subject := chat
		if q.From != nil && q.From.ID != "" {
			subject = q.From.ID
		}
		return b.confirm(ctx, chat, subject, data.Confirm)
	}
	return errs.ErrArgs.WrapMsg("unknown callback", "data", q.Data)
}

func (b *Bot) showPoint(ctx context.Context, chat, id string) error {
	res, err := b.ch.Call(ctx, rpc.MethodGetPointByID, service.IDParams{ID: id})
	if err != nil {
		b.log.Info("[bot] getPointById", zap.String("id", id), zap.Error(err))
		return b.msgr.SendText(ctx, chat, textFetchFailed)
	}
	if res.IsNull() {
		return b.msgr.SendText(ctx, chat, textPointMissing)
	}
	var p model.Point
	if err := res.Decode(&p); err != nil {
		return errs.WrapMsg(err, "decode point", "id", id)
	}
	return b.msgr.SendPoint(ctx, chat, p)
}

func (b *Bot) confirm(ctx context.Context, chat, subject, id string) error {
	_, err := b.ch.Call(ctx, rpc.MethodConfirmPoint, service.ConfirmParams{ID: id, SubjectID: subject})
	switch {
	case err == nil:
		return b.msgr.SendText(ctx, chat, textConfirmed)
	case errors.Is(err, errs.ErrValidation):
		return b.msgr.SendText(ctx, chat, textCantConfirm)
	case errors.Is(err, errs.ErrNotFound):
		return b.msgr.SendText(ctx, chat, textPointMissing)
	}
	b.log.Warn("[bot] confirmPoint", zap.String("id", id), zap.Error(err))
	return b.msgr.SendText(ctx, chat, textConfirmFailed)
}

func (b *Bot) onWebApp(ctx context.Context, m *Message) error {
	var d webAppData
	if err := json.Unmarshal([]byte(m.WebAppData), &d); err != nil {
		return errs.ErrArgs.WrapMsg("bad web app data", "chat", m.Chat.ID)
	}
	switch d.Action {
	case "create":
		res, err := b.ch.Call(ctx, rpc.MethodCreatePoint, point.NewPoint{
			CreatedBy: m.sender(), Latitude: d.Latitude, Longitude: d.Longitude,
			Description: d.Description, Medical: d.Medical,
		})
		var p model.Point
		if err == nil {
			err = res.Decode(&p)
		}
		if err != nil {
			b.log.Info("[bot] createPoint", zap.String("chat", m.Chat.ID), zap.Error(err))
			return b.msgr.SendText(ctx, m.Chat.ID, textCreateFailed)
		}
		return b.msgr.SendPoint(ctx, m.Chat.ID, p)
	case "confirm":
		if d.ID == "" {
			return errs.ErrArgs.WrapMsg("confirm without id")
		}
		return b.confirm(ctx, m.Chat.ID, m.sender(), d.ID)
	}
	return errs.ErrArgs.WrapMsg("unknown web app action", "action", d.Action)
}

func (b *Bot) allowed(chat string) bool {
	if b.limit.allow(chat) {
		return true
	}
	b.log.Debug("[bot] rate limited", zap.String("chat", chat))
	return false
}

func (b *Bot) remember(ctx context.Context, u *User) {
	if u == nil || u.ID == "" {
		return
	}
	info := storage.UserInfo{
		ID:       u.ID,
		Name:     strings.TrimSpace(u.FirstName + " " + u.LastName),
		Username: u.Username,
	}
	if err := b.users.Put(ctx, info); err != nil {
		b.log.Debug("[bot] remember sender", zap.Error(err))
	}
}

func (b *Bot) getUserInfo(ctx context.Context, params rpc.Params) (any, error) {
	var p service.UserInfoParams
	if err := params.Decode(&p); err != nil {
		return nil, errs.ErrArgs.WrapMsg(err.Error())
	}
	if p.SubjectID == "" {
		return nil, errs.ErrArgs.WrapMsg("subjectId required")
	}
	if u, ok, err := b.users.Get(ctx, p.SubjectID); err == nil && ok {
		return u, nil
	}
	u, err := b.msgr.ChatInfo(ctx, p.SubjectID)
	if err != nil {
		return nil, err
	}
	_ = b.users.Put(ctx, u)
	return u, nil
}

func (b *Bot) onPointsNearby(ctx context.Context, params rpc.Params) {
	var n watch.Notification
	if err := params.Decode(&n); err != nil {
		b.log.Warn("[bot] bad pointsNearby", zap.Error(err))
		return
	}
	chat := n.Subject
	if chat == "" {
		b.mu.Lock()
		if w, ok := b.live[n.WatchID]; ok {
			chat = w.chat
		}
		b.mu.Unlock()
	}
	if chat == "" {
		b.log.Debug("[bot] pointsNearby for unknown watch", zap.String("watchId", n.WatchID))
		return
	}

	var err error
	switch n.Kind {
	case watch.KindPoints:
		err = b.msgr.SendNearby(ctx, chat, n.Points)
	case watch.KindEmpty:
		err = b.msgr.SendText(ctx, chat, textNoPoints)
	case watch.KindError:
		err = b.msgr.SendText(ctx, chat, textFetchFailed)
	case watch.KindNone:
		return
	}
	if err != nil {
		b.log.Warn("[bot] notify", zap.String("chat", chat), zap.Error(err))
	}
}

func (b *Bot) onWatchExpired(_ context.Context, params rpc.Params) {
	var x watch.Expired
	if err := params.Decode(&x); err != nil {
		b.log.Warn("[bot] bad watchExpired", zap.Error(err))
		return
	}
	b.forget(x.WatchID)
	b.log.Info("[bot] live watch expired", zap.String("watchId", x.WatchID), zap.String("chat", x.Subject))
}
