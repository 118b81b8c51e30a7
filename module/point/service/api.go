package service

import (
	"context"
	"net/http"

	"PPost/logger"
	mid "PPost/middleware"
	"PPost/service/rpc"
	"PPost/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server is the HTTP face of the store process.
type Server struct {
	svc *Service
}

func NewServer(svc *Service) *Server { return &Server{svc: svc} }

// Routes mounts the map list, health, metrics and the link endpoint. auth
// guards /link only.
func (s *Server) Routes(ctx context.Context, r gin.IRoutes, auth gin.HandlerFunc, ws rpc.WSOptions) {
	mid.GET(r, "/api/map/list", wrap(s.GetMapList), mid.RouteOpt{})
	mid.GET(r, "/healthz", wrap(s.GetHealth), mid.RouteOpt{})
	mid.GET(r, "/metrics", s.svc.metrics.handler(), mid.RouteOpt{})
	mid.GET(r, "/link", rpc.HandleWS(ctx, s.svc.ch, ws), mid.RouteOpt{Auth: auth})
}

// GetMapList 地图组件：返回全部点位
func (s *Server) GetMapList(c *gin.Context) error {
	points, err := s.svc.store.FindAll(c.Request.Context())
	if err != nil {
		return errs.ErrTransientStore.WrapMsg("find points", "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"points": points})
	return nil
}

func (s *Server) GetHealth(c *gin.Context) error {
	watches, err := s.svc.reg.Count(c.Request.Context())
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{
		"link":    s.svc.ch.Connected(),
		"pending": s.svc.ch.Pending(),
		"watches": watches,
	})
	return nil
}

// wrap turns an error-returning handler into a gin handler that replies
// {code, error}.
func wrap(h func(*gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h(c)
		if err == nil {
			return
		}
		code := errs.CodeOf(err)
		status := http.StatusInternalServerError
		switch code {
		case errs.ArgsError, errs.ValidationError:
			status = http.StatusBadRequest
		case errs.NotFoundError:
			status = http.StatusNotFound
		case errs.TransientStoreError:
			status = http.StatusServiceUnavailable
		}
		if code == 0 {
			code = errs.ServerInternalError
		}
		logger.Debug("[http] handler error", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.AbortWithStatusJSON(status, gin.H{"code": code, "error": errs.Text(err)})
	}
}
