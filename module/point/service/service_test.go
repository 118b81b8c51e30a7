package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"PPost/middleware"
	"PPost/module/point/model"
	"PPost/module/point/store"
	"PPost/module/watch"
	"PPost/service/rpc"
	"PPost/service/storage"
	"PPost/tools/errs"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const metersPerDegree = 60 * 1.1515 * 1.609344 * 1000

type env struct {
	front *rpc.Channel
	svc   *Service
	st    *store.MemStore
	users *storage.MemUserCache
	// events received by the front-end side
	mu     sync.Mutex
	notes  []watch.Notification
	expiry []watch.Expired
}

func (e *env) notifications() []watch.Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]watch.Notification(nil), e.notes...)
}

func setup(t *testing.T, wopts watch.Options) *env {
	t.Helper()
	nop := zap.NewNop()
	e := &env{st: store.NewMemStore(), users: storage.NewMemUserCache(time.Minute, nil)}
	back := rpc.NewChannel(rpc.Options{Log: nop, CallTimeout: time.Second})
	e.front = rpc.NewChannel(rpc.Options{Log: nop, CallTimeout: time.Second})
	wopts.Log = nop
	e.svc = New(Options{
		Store: e.st, Channel: back, Users: e.users, Watch: wopts,
		SweepInterval: time.Hour, Log: nop,
	})

	e.front.OnEvent(rpc.EventPointsNearby, func(_ context.Context, p rpc.Params) {
		var n watch.Notification
		if !assert.NoError(t, p.Decode(&n)) {
			return
		}
		e.mu.Lock()
		e.notes = append(e.notes, n)
		e.mu.Unlock()
	})
	e.front.OnEvent(rpc.EventWatchExpired, func(_ context.Context, p rpc.Params) {
		var x watch.Expired
		if !assert.NoError(t, p.Decode(&x)) {
			return
		}
		e.mu.Lock()
		e.expiry = append(e.expiry, x)
		e.mu.Unlock()
	})
	e.front.Handle(rpc.MethodGetUserInfo, func(_ context.Context, p rpc.Params) (any, error) {
		var in UserInfoParams
		if err := p.Decode(&in); err != nil {
			return nil, err
		}
		if in.SubjectID == "unknown" {
			return nil, errs.ErrNotFound.WrapMsg("no such chat")
		}
		return storage.UserInfo{ID: in.SubjectID, Name: "Name " + in.SubjectID, Username: "u" + in.SubjectID}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	a, b := rpc.Pipe()
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); _ = back.Serve(ctx, a) }()
	go func() { defer wg.Done(); _ = e.front.Serve(ctx, b) }()
	go func() { defer wg.Done(); _ = e.svc.Run(ctx) }()
	require.Eventually(t, func() bool { return back.Connected() && e.front.Connected() }, time.Second, time.Millisecond)

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return e
}

func (e *env) call(t *testing.T, m rpc.Method, params any) (rpc.Result, error) {
	t.Helper()
	return e.front.Call(context.Background(), m, params)
}

func (e *env) create(t *testing.T, by string, lat, lon float64) model.Point {
	t.Helper()
	res, err := e.call(t, rpc.MethodCreatePoint, map[string]any{
		"createdBy": by, "latitude": lat, "longitude": lon, "description": "two cars",
	})
	require.NoError(t, err)
	var p model.Point
	require.NoError(t, res.Decode(&p))
	return p
}

func TestGetPointByIDMissingIsNull(t *testing.T) {
	e := setup(t, watch.Options{})
	res, err := e.call(t, rpc.MethodGetPointByID, IDParams{ID: "nonexistent"})
	require.NoError(t, err)
	assert.True(t, res.IsNull())
}

func TestCreateResolvesNameOnce(t *testing.T) {
	e := setup(t, watch.Options{})
	p := e.create(t, "42", 55, 37)
	assert.Equal(t, "@u42", p.CreatedByName)
	assert.Equal(t, model.StatusCreated, p.Status)

	u, ok, err := e.users.Get(context.Background(), "42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Name 42", u.Name)

	res, err := e.call(t, rpc.MethodGetPointByID, IDParams{ID: p.ID})
	require.NoError(t, err)
	var got model.Point
	require.NoError(t, res.Decode(&got))
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "two cars", got.Description)
}

func TestCreateFallsBackToRawID(t *testing.T) {
	e := setup(t, watch.Options{})
	p := e.create(t, "unknown", 55, 37)
	assert.Equal(t, "unknown", p.CreatedByName)
}

func TestCreateRejectsBadCoordinates(t *testing.T) {
	e := setup(t, watch.Options{})
	_, err := e.call(t, rpc.MethodCreatePoint, map[string]any{"createdBy": "1", "latitude": 120, "longitude": 0})
	assert.ErrorIs(t, err, errs.ErrArgs)
}

func TestConfirmOverTheLink(t *testing.T) {
	e := setup(t, watch.Options{})
	p := e.create(t, "1", 55, 37)

	_, err := e.call(t, rpc.MethodConfirmPoint, ConfirmParams{ID: p.ID, SubjectID: "1"})
	assert.ErrorIs(t, err, errs.ErrValidation)

	res, err := e.call(t, rpc.MethodConfirmPoint, ConfirmParams{ID: p.ID, SubjectID: "2"})
	require.NoError(t, err)
	var got model.Point
	require.NoError(t, res.Decode(&got))
	assert.Equal(t, model.StatusConfirmed, got.Status)
	require.Len(t, got.Votes, 1)

	_, err = e.call(t, rpc.MethodConfirmPoint, ConfirmParams{ID: p.ID, SubjectID: "2"})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = e.call(t, rpc.MethodConfirmPoint, ConfirmParams{ID: "nope", SubjectID: "2"})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestOneShotNearbyDoesNotRegister(t *testing.T) {
	e := setup(t, watch.Options{})
	e.create(t, "1", 55+300/metersPerDegree, 37)
	e.create(t, "1", 55+100/metersPerDegree, 37)
	e.create(t, "1", 56, 37)

	res, err := e.call(t, rpc.MethodGetNearbyPoints, NearbyParams{Latitude: 55, Longitude: 37, Radius: 500})
	require.NoError(t, err)
	var got []model.NearbyPoint
	require.NoError(t, res.Decode(&got))
	require.Len(t, got, 2)
	assert.Less(t, got[0].Distance, got[1].Distance)

	n, err := e.svc.Registry().Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, e.notifications())
}

func TestLiveWatchScenario(t *testing.T) {
	e := setup(t, watch.Options{})
	_, err := e.call(t, rpc.MethodGetNearbyPoints, NearbyParams{
		Latitude: 55, Longitude: 37, Radius: 500, WatchID: "msg-1", Subject: "chat-1",
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(e.notifications()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, watch.KindEmpty, e.notifications()[0].Kind)

	in := e.create(t, "9", 55+400/metersPerDegree, 37)
	require.Eventually(t, func() bool { return len(e.notifications()) == 2 }, time.Second, time.Millisecond)
	n := e.notifications()[1]
	assert.Equal(t, watch.KindPoints, n.Kind)
	assert.Equal(t, "chat-1", n.Subject)
	require.Len(t, n.Points, 1)
	assert.Equal(t, in.ID, n.Points[0].Point.ID)
	assert.InDelta(t, 400, n.Points[0].Distance, 1)

	e.create(t, "9", 55+600/metersPerDegree, 37)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, e.notifications(), 2)

	// moving closer re-reports nothing already shown
	_, err = e.call(t, rpc.MethodGetNearbyPoints, NearbyParams{
		Latitude: 55 + 300/metersPerDegree, Longitude: 37, Radius: 500, WatchID: "msg-1", Subject: "chat-1",
	})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	got := e.notifications()
	require.Len(t, got, 3)
	require.Len(t, got[2].Points, 1)
	assert.NotContains(t, model.IDs(got[2].Points), in.ID)
}

func TestWatchExpiryThenStop(t *testing.T) {
	e := setup(t, watch.Options{Expiry: 40 * time.Millisecond})
	_, err := e.call(t, rpc.MethodGetNearbyPoints, NearbyParams{Latitude: 55, Longitude: 37, WatchID: "w", Subject: "c"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.expiry) == 1
	}, time.Second, time.Millisecond)

	_, err = e.call(t, rpc.MethodStopWatch, StopWatchParams{WatchID: "w"})
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Equal(t, []watch.Expired{{WatchID: "w", Subject: "c"}}, e.expiry)
}

func TestListPointsAndMapAPI(t *testing.T) {
	e := setup(t, watch.Options{})
	e.create(t, "1", 55, 37)
	e.create(t, "1", 56, 38)

	res, err := e.call(t, rpc.MethodListPoints, nil)
	require.NoError(t, err)
	var all []model.Point
	require.NoError(t, res.Decode(&all))
	assert.Len(t, all, 2)

	r := middleware.NewEngine(nil)
	NewServer(e.svc).Routes(context.Background(), r, nil, rpc.WSOptions{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/map/list", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Points []model.Point `json:"points"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Points, 2)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"link":true,"pending":0,"watches":0}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ppost_link_connected 1")
	assert.Contains(t, w.Body.String(), "ppost_live_watches 0")
}

func TestSweepTransitionsAreCounted(t *testing.T) {
	e := setup(t, watch.Options{})
	e.create(t, "1", 55, 37)
	e.create(t, "1", 56, 37)

	rep, err := e.svc.sweeper.SweepOnce(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Advanced)
	assert.Equal(t, 2.0, testutil.ToFloat64(e.svc.metrics.transitions.WithLabelValues(string(model.StatusWeaklyUnconfirmed))))
}
