package rpc

import (
	"errors"
	"net"
	"sync"
	"time"

	"PPost/logger"
	"PPost/tools/safe"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrSendQueueFull = errors.New("send queue full")

type WSOptions struct {
	SendQueue      int           // outbound frames buffered per link; <=0 => 256
	WriteWait      time.Duration // <=0 => 5s
	PongWait       time.Duration // <=0 => 60s
	PingPeriod     time.Duration // <=0 => PongWait*9/10
	MaxMessageSize int64         // <=0 => 1MiB
	Log            *zap.Logger
}

func (o *WSOptions) norm() {
	if o.SendQueue <= 0 {
		o.SendQueue = 256
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 1 << 20
	}
	o.Log = logger.OrNamed(o.Log, "ws")
}

// WSLink carries Messages as JSON text frames. Outbound frames go through a
// queue drained by a single writer goroutine, which also owns pings and the
// final close of the connection.
type WSLink struct {
	conn *websocket.Conn
	opts WSOptions
	send chan []byte

	closed     chan struct{}
	closeOnce  sync.Once
	writerDone chan struct{}
}

func NewWSLink(conn *websocket.Conn, opts WSOptions) *WSLink {
	opts.norm()
	l := &WSLink{
		conn:       conn,
		opts:       opts,
		send:       make(chan []byte, opts.SendQueue),
		closed:     make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	conn.SetReadLimit(opts.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})
	safe.Go(opts.Log, "ws writer", l.writeLoop)
	return l
}

// Send never blocks; a full queue means the peer is not keeping up.
func (l *WSLink) Send(m *Message) error {
	b, err := encodeMessage(m)
	if err != nil {
		return err
	}
	select {
	case <-l.closed:
		return ErrLinkClosed
	default:
	}
	select {
	case l.send <- b:
		return nil
	case <-l.closed:
		return ErrLinkClosed
	default:
		return ErrSendQueueFull
	}
}

func (l *WSLink) Recv() (*Message, error) {
	for {
		mt, data, err := l.conn.ReadMessage()
		if err != nil {
			var ne net.Error
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				l.opts.Log.Info("[WS] peer closed", zap.Error(err))
			case errors.As(err, &ne) && ne.Timeout():
				l.opts.Log.Info("[WS] read timeout", zap.Error(err))
			}
			l.shutdown()
			return nil, err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		m, err := decodeMessage(data)
		if err != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			l.opts.Log.Warn("[WS] bad frame", zap.Error(err), zap.ByteString("sample", sample), zap.Int("len", len(data)))
			continue
		}
		return m, nil
	}
}

func (l *WSLink) writeLoop() {
	ticker := time.NewTicker(l.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = l.conn.Close()
		close(l.writerDone)
	}()
	for {
		select {
		case b := <-l.send:
			_ = l.conn.SetWriteDeadline(time.Now().Add(l.opts.WriteWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				l.opts.Log.Info("[WS] write failed", zap.Error(err))
				l.shutdown()
				return
			}
		case <-ticker.C:
			if err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(l.opts.WriteWait)); err != nil {
				l.opts.Log.Info("[WS] ping failed", zap.Error(err))
				l.shutdown()
				return
			}
		case <-l.closed:
			_ = l.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(l.opts.WriteWait))
			return
		}
	}
}

func (l *WSLink) shutdown() {
	l.closeOnce.Do(func() { close(l.closed) })
}

// Close stops the writer and closes the connection, unblocking Recv.
func (l *WSLink) Close() error {
	l.shutdown()
	<-l.writerDone
	return nil
}
