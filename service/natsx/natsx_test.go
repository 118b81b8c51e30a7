package natsx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PPost/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePub struct {
	mu    sync.Mutex
	fails int
	ids   []string
	hdrs  []map[string]string
}

func (f *fakePub) PublishOnce(_ context.Context, _ string, _ []byte, hdr map[string]string, msgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, msgID)
	f.hdrs = append(f.hdrs, hdr)
	if f.fails > 0 {
		f.fails--
		return errors.New("nats: timeout")
	}
	return nil
}

func TestRetryKeepsMessageID(t *testing.T) {
	fp := &fakePub{fails: 2}
	p := NatsxChain(fp, WithRetry(3, time.Millisecond, zap.NewNop()))
	require.NoError(t, p.PublishOnce(context.Background(), "biz", []byte("x"), nil, "m-1"))
	assert.Equal(t, []string{"m-1", "m-1", "m-1"}, fp.ids)
	assert.Equal(t, "m-1", fp.hdrs[0][HeaderMsgID])
}

func TestRetryGivesUp(t *testing.T) {
	fp := &fakePub{fails: 10}
	p := NatsxChain(fp, WithRetry(1, time.Millisecond, zap.NewNop()))
	assert.Error(t, p.PublishOnce(context.Background(), "biz", nil, nil, ""))
	require.Len(t, fp.ids, 2)
	assert.NotEmpty(t, fp.ids[0], "generated id")
	assert.Equal(t, fp.ids[0], fp.ids[1])
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fp := &fakePub{fails: 10}
	p := NatsxChain(fp, WithRetry(5, time.Hour, zap.NewNop()))
	assert.ErrorIs(t, p.PublishOnce(ctx, "biz", nil, nil, "id"), context.Canceled)
	assert.Len(t, fp.ids, 1)
}

func TestWithMsgIDCopiesHeader(t *testing.T) {
	in := map[string]string{"k": "v"}
	out := withMsgID(in, "abc")
	assert.Equal(t, "abc", out[HeaderMsgID])
	assert.Equal(t, "v", out["k"])
	_, touched := in[HeaderMsgID]
	assert.False(t, touched)
}

func TestRouteValidate(t *testing.T) {
	assert.Error(t, NatsxRoute{Subject: "s"}.validate())
	assert.Error(t, NatsxRoute{Biz: "b", Subject: "s", Mode: NatsxMode(9)}.validate())
	assert.NoError(t, TransitionRoute("point.transition").validate())
}

func TestPublishUnknownRoute(t *testing.T) {
	p := routePublisher{c: &NatsxClient{routes: map[string]NatsxRoute{}, log: zap.NewNop()}}
	err := p.PublishOnce(context.Background(), "nope", nil, nil, "")
	assert.ErrorIs(t, err, errs.ErrArgs)
}
