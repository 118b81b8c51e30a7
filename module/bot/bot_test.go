package bot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"PPost/middleware"
	"PPost/module/point/model"
	"PPost/module/point/service"
	"PPost/module/point/store"
	"PPost/module/watch"
	"PPost/service/rpc"
	"PPost/service/storage"
	"PPost/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const metersPerDegree = 60 * 1.1515 * 1.609344 * 1000

type sent struct {
	chat   string
	text   string
	nearby []model.NearbyPoint
	point  *model.Point
}

type fakeMessenger struct {
	mu    sync.Mutex
	out   []sent
	chats map[string]storage.UserInfo
}

func (f *fakeMessenger) add(s sent) error {
	f.mu.Lock()
	f.out = append(f.out, s)
	f.mu.Unlock()
	return nil
}

func (f *fakeMessenger) SendText(_ context.Context, chat, text string) error {
	return f.add(sent{chat: chat, text: text})
}

func (f *fakeMessenger) SendNearby(_ context.Context, chat string, points []model.NearbyPoint) error {
	return f.add(sent{chat: chat, nearby: points})
}

func (f *fakeMessenger) SendPoint(_ context.Context, chat string, p model.Point) error {
	return f.add(sent{chat: chat, point: &p})
}

func (f *fakeMessenger) ChatInfo(_ context.Context, chat string) (storage.UserInfo, error) {
	if u, ok := f.chats[chat]; ok {
		return u, nil
	}
	return storage.UserInfo{}, errs.ErrNotFound.WrapMsg("unknown chat")
}

func (f *fakeMessenger) sent() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.out...)
}

func (f *fakeMessenger) wait(t *testing.T, n int) []sent {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.sent()) >= n }, time.Second, time.Millisecond)
	return f.sent()
}

// start wires a bot to a real point store service over an in-memory link.
func start(t *testing.T, wopts watch.Options) (*Bot, *fakeMessenger) {
	t.Helper()
	nop := zap.NewNop()
	back := rpc.NewChannel(rpc.Options{Log: nop, CallTimeout: time.Second})
	front := rpc.NewChannel(rpc.Options{Log: nop, CallTimeout: time.Second})
	wopts.Log = nop
	svc := service.New(service.Options{
		Store: store.NewMemStore(), Channel: back, Watch: wopts, SweepInterval: time.Hour, Log: nop,
	})
	msgr := &fakeMessenger{chats: map[string]storage.UserInfo{}}
	b := New(Options{Channel: front, Messenger: msgr, Radius: 500, Log: nop})

	ctx, cancel := context.WithCancel(context.Background())
	l1, l2 := rpc.Pipe()
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); _ = back.Serve(ctx, l1) }()
	go func() { defer wg.Done(); _ = front.Serve(ctx, l2) }()
	go func() { defer wg.Done(); _ = svc.Run(ctx) }()
	require.Eventually(t, func() bool { return back.Connected() && front.Connected() }, time.Second, time.Millisecond)
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return b, msgr
}

func locationMsg(chat, id string, lat, lon float64, live bool) *Message {
	m := &Message{ID: id, Chat: Chat{ID: chat}, From: &User{ID: chat, FirstName: "Ann"}, Location: &Location{Latitude: lat, Longitude: lon}}
	if live {
		m.Location.LivePeriod = 900
	}
	return m
}

func create(t *testing.T, b *Bot, chat string, lat, lon float64) model.Point {
	t.Helper()
	msgr := b.msgr.(*fakeMessenger)
	before := len(msgr.sent())
	data := mustJSON(webAppData{Action: "create", Latitude: lat, Longitude: lon, Description: "two cars"})
	require.NoError(t, b.HandleUpdate(context.Background(), Update{Message: &Message{
		ID: "w", Chat: Chat{ID: chat}, From: &User{ID: chat, Username: "ann"}, WebAppData: data,
	}}))
	// live watches may be notified concurrently
	for _, s := range msgr.sent()[before:] {
		if s.chat == chat && s.point != nil {
			return *s.point
		}
	}
	require.FailNow(t, "created point was not shown")
	return model.Point{}
}

func TestCommands(t *testing.T) {
	b, msgr := start(t, watch.Options{})
	b.mapURL = "https://map.example/web_app"
	ctx := context.Background()
	for _, text := range []string{"/start", "/help", "/map", "hello"} {
		require.NoError(t, b.HandleUpdate(ctx, Update{Message: &Message{ID: "1", Chat: Chat{ID: "c"}, From: &User{ID: "c", FirstName: "Ann", LastName: "Lee"}, Text: text}}))
	}
	out := msgr.sent()
	require.Len(t, out, 4)
	assert.Contains(t, out[0].text, "Welcome, Ann Lee.")
	assert.Contains(t, out[1].text, "/map: Checkpoint map")
	assert.NotContains(t, out[1].text, "/start")
	assert.Contains(t, out[2].text, "https://map.example/web_app?chat_id=c")
	assert.Equal(t, textUseCommands, out[3].text)
}

func TestOneShotLocation(t *testing.T) {
	b, msgr := start(t, watch.Options{})
	ctx := context.Background()
	require.NoError(t, b.HandleUpdate(ctx, Update{Message: locationMsg("c", "1", 55, 37, false)}))
	assert.Equal(t, textNoPoints, msgr.sent()[0].text)

	p := create(t, b, "u", 55+100/metersPerDegree, 37)
	assert.Equal(t, "@ann", p.CreatedByName)

	require.NoError(t, b.HandleUpdate(ctx, Update{Message: locationMsg("c", "2", 55, 37, false)}))
	out := msgr.sent()
	last := out[len(out)-1]
	require.Len(t, last.nearby, 1)
	assert.Equal(t, p.ID, last.nearby[0].Point.ID)
	assert.Zero(t, b.LiveWatches())
}

func TestLiveLocationFlow(t *testing.T) {
	b, msgr := start(t, watch.Options{})
	ctx := context.Background()

	require.NoError(t, b.HandleUpdate(ctx, Update{Message: locationMsg("c", "7", 55, 37, true)}))
	out := msgr.wait(t, 1)
	assert.Equal(t, sent{chat: "c", text: textNoPoints}, out[0])
	assert.Equal(t, 1, b.LiveWatches())

	p := create(t, b, "other", 55+400/metersPerDegree, 37)
	out = msgr.wait(t, 3)
	var note *sent
	for i := range out[1:3] {
		if out[1+i].nearby != nil {
			note = &out[1+i]
		}
	}
	require.NotNil(t, note)
	assert.Equal(t, "c", note.chat)
	require.Len(t, note.nearby, 1)
	assert.Equal(t, p.ID, note.nearby[0].Point.ID)

	// show all: re-queried from the watch position
	require.NoError(t, b.HandleUpdate(ctx, Update{CallbackQuery: &CallbackQuery{
		Message: &Message{ID: "7", Chat: Chat{ID: "c"}}, Data: `{"points":"all"}`,
	}}))
	out = msgr.wait(t, 4)
	require.Len(t, out[3].nearby, 1)

	// sharing ended: the final edit carries a static location
	require.NoError(t, b.HandleUpdate(ctx, Update{EditedMessage: locationMsg("c", "7", 55, 37, false)}))
	assert.Zero(t, b.LiveWatches())
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, msgr.sent(), 4)
}

func TestPointCallbacks(t *testing.T) {
	b, msgr := start(t, watch.Options{})
	ctx := context.Background()
	p := create(t, b, "author", 55, 37)

	cb := func(data string) {
		require.NoError(t, b.HandleUpdate(ctx, Update{CallbackQuery: &CallbackQuery{
			From: &User{ID: "voter"}, Message: &Message{ID: "1", Chat: Chat{ID: "c"}}, Data: data,
		}}))
	}
	cb(mustJSON(callbackData{Point: p.ID}))
	cb(mustJSON(callbackData{Point: "nonexistent"}))
	cb(mustJSON(callbackData{Confirm: p.ID}))
	cb(mustJSON(callbackData{Confirm: p.ID}))

	out := msgr.sent()[1:]
	require.Len(t, out, 4)
	require.NotNil(t, out[0].point)
	assert.Equal(t, p.ID, out[0].point.ID)
	assert.Equal(t, textPointMissing, out[1].text)
	assert.Equal(t, textConfirmed, out[2].text)
	assert.Equal(t, textCantConfirm, out[3].text)

	err := b.HandleUpdate(ctx, Update{CallbackQuery: &CallbackQuery{Message: &Message{Chat: Chat{ID: "c"}}, Data: "{"}})
	assert.ErrorIs(t, err, errs.ErrArgs)
}

func TestGetUserInfoFallsBackToMessenger(t *testing.T) {
	b, msgr := start(t, watch.Options{})
	msgr.chats["group"] = storage.UserInfo{ID: "group", Name: "Road club"}
	res, err := b.getUserInfo(context.Background(), rpc.Params{"subjectId": "group"})
	require.NoError(t, err)
	assert.Equal(t, "Road club", res.(storage.UserInfo).Name)

	_, err = b.getUserInfo(context.Background(), rpc.Params{"subjectId": "nobody"})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestLiveUpdateWithoutLinkWarnsOnce(t *testing.T) {
	front := rpc.NewChannel(rpc.Options{Log: zap.NewNop(), CallTimeout: 50 * time.Millisecond})
	msgr := &fakeMessenger{}
	b := New(Options{Channel: front, Messenger: msgr, Log: zap.NewNop()})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, b.HandleUpdate(ctx, Update{EditedMessage: locationMsg("c", "9", 55, 37, true)}))
	}
	out := msgr.sent()
	require.Len(t, out, 1)
	assert.Equal(t, textFetchFailed, out[0].text)

	require.NoError(t, b.HandleUpdate(ctx, Update{Message: locationMsg("c", "10", 55, 37, false)}))
	assert.Equal(t, textFetchFailed, msgr.sent()[1].text)
}

func TestLiveWatchDroppedWithoutExpiredEvent(t *testing.T) {
	front := rpc.NewChannel(rpc.Options{Log: zap.NewNop(), CallTimeout: 50 * time.Millisecond})
	msgr := &fakeMessenger{}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	b := New(Options{Channel: front, Messenger: msgr, WatchExpiry: time.Minute, Now: clock, Log: zap.NewNop()})
	ctx := context.Background()

	require.NoError(t, b.HandleUpdate(ctx, Update{EditedMessage: locationMsg("c", "9", 55, 37, true)}))
	require.Equal(t, 1, b.LiveWatches())
	showAll := Update{CallbackQuery: &CallbackQuery{ID: "q", Message: &Message{ID: "9", Chat: Chat{ID: "c"}}, Data: mustJSON(callbackData{Points: "all"})}}
	require.NoError(t, b.HandleUpdate(ctx, showAll))
	require.Len(t, msgr.sent(), 2, "live position still known")

	// watchExpired was lost with the link; the local expiry still applies
	now = now.Add(time.Minute)
	assert.Equal(t, 0, b.LiveWatches())
	require.NoError(t, b.HandleUpdate(ctx, showAll))
	assert.Len(t, msgr.sent(), 2)
}

func TestEventsReachTheChat(t *testing.T) {
	front := rpc.NewChannel(rpc.Options{Log: zap.NewNop()})
	msgr := &fakeMessenger{}
	b := New(Options{Channel: front, Messenger: msgr, Log: zap.NewNop()})
	b.live["c:1"] = &liveWatch{chat: "c"}

	b.onPointsNearby(context.Background(), rpc.Params{"watchId": "c:1", "kind": "error"})
	b.onPointsNearby(context.Background(), rpc.Params{"watchId": "zz", "kind": "empty"})
	b.onWatchExpired(context.Background(), rpc.Params{"watchId": "c:1", "subject": "c"})

	assert.Equal(t, []sent{{chat: "c", text: textFetchFailed}}, msgr.sent())
	assert.Zero(t, b.LiveWatches())
}

func TestWebhook(t *testing.T) {
	b, msgr := start(t, watch.Options{})
	r := middleware.NewEngine(nil)
	b.Routes(r, "s3cret")

	post := func(body, secret string) int {
		req := httptest.NewRequest(http.MethodPost, "/updates", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if secret != "" {
			req.Header.Set("X-Webhook-Secret", secret)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusUnauthorized, post(`{}`, ""))
	assert.Equal(t, http.StatusBadRequest, post(`{}`, "s3cret"))
	assert.Equal(t, http.StatusBadRequest, post(`not json`, "s3cret"))
	assert.Equal(t, http.StatusOK, post(`{"updateId":1,"message":{"messageId":"1","chat":{"id":"c"},"text":"/help"}}`, "s3cret"))
	require.Len(t, msgr.sent(), 1)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.JSONEq(t, `{"link":true,"pending":0,"watches":0}`, w.Body.String())
}

func TestNearbyButtons(t *testing.T) {
	points := []model.NearbyPoint{
		{Point: model.Point{ID: "a", Status: model.StatusConfirmed, Medical: true}, Distance: 1.7},
		{Point: model.Point{ID: "b", Status: model.StatusCreated}, Distance: 420.2},
	}
	bs := NearbyButtons("https://m/web_app", "42", points)
	require.Len(t, bs, 4)
	assert.Equal(t, "1 meter. Confirmed. Medical", bs[0].Text)
	assert.Equal(t, `{"point":"a"}`, bs[0].Data)
	assert.Equal(t, "420 meters. Reported.", bs[1].Text)
	assert.Equal(t, `{"points":"all"}`, bs[2].Data)
	assert.Equal(t, "https://m/web_app?chat_id=42", bs[3].URL)
	assert.Equal(t, "2 new checkpoints nearby", NearbyText(points))
}

func TestPointDetailsSkipsEmptyFields(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := model.Point{
		Latitude: 55.7558, Longitude: 37.6173, Status: model.StatusCreated,
		CreatedAt: now.Add(-3 * time.Minute), CreatedBy: "7",
	}
	txt := PointDetails(p, now)
	assert.Contains(t, txt, "*Coordinates*\n55.7558, 37.6173")
	assert.Contains(t, txt, "*Created*\n3 minutes ago")
	assert.Contains(t, txt, "*Author*\n7")
	assert.NotContains(t, txt, "Last confirmed")
	assert.NotContains(t, txt, "Description")
}
