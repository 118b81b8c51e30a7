package bot

import (
	"errors"
	"net/http"

	mid "PPost/middleware"
	"PPost/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Routes mounts the update webhook and a health check. secret, when set, must
// match the X-Webhook-Secret header of every update.
func (b *Bot) Routes(r gin.IRoutes, secret string) {
	auth := mid.HeaderSecret("X-Webhook-Secret", secret)
	mid.POST(r, "/updates", b.postUpdate, mid.RouteOpt{Auth: auth})
	mid.GET(r, "/healthz", b.getHealth, mid.RouteOpt{})
}

// postUpdate 处理一次平台推送
func (b *Bot) postUpdate(c *gin.Context) {
	var u Update
	if err := c.ShouldBindJSON(&u); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": errs.ArgsError, "error": err.Error()})
		return
	}
	if err := b.HandleUpdate(c.Request.Context(), u); err != nil {
		if errors.Is(err, errs.ErrArgs) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": errs.ArgsError, "error": errs.Text(err)})
			return
		}
		// the platform would only redeliver; the failure is ours to log
		b.log.Warn("[bot] update failed", zap.Int64("updateId", u.ID), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (b *Bot) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"link":    b.ch.Connected(),
		"pending": b.ch.Pending(),
		"watches": b.LiveWatches(),
	})
}
