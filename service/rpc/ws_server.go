package rpc

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }}

// HandleWS upgrades the request and serves it as ch's active link until the
// link fails or base ends. A newer connection replaces an older one.
func HandleWS(base context.Context, ch *Channel, opts WSOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// 常见：非 WebSocket 请求/握手失败
			ch.log.Info("[HandleWS] upgrade failed", zap.Error(err))
			return
		}
		if opts.Log == nil {
			opts.Log = ch.log
		}
		ch.log.Info("[HandleWS] link attached", zap.String("remote", c.Request.RemoteAddr))
		err = ch.Serve(base, NewWSLink(ws, opts))
		ch.log.Info("[HandleWS] link detached", zap.String("remote", c.Request.RemoteAddr), zap.Error(err))
	}
}
