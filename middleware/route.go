package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RouteOpt 路由选项
type RouteOpt struct {
	Auth gin.HandlerFunc // nil => public route
}

func handlers(h gin.HandlerFunc, opt RouteOpt) []gin.HandlerFunc {
	if opt.Auth == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{opt.Auth, h}
}

func POST(r gin.IRoutes, path string, h gin.HandlerFunc, opt RouteOpt) {
	r.POST(path, handlers(h, opt)...)
}

func GET(r gin.IRoutes, path string, h gin.HandlerFunc, opt RouteOpt) {
	r.GET(path, handlers(h, opt)...)
}

// HeaderSecret rejects requests whose header does not carry secret. It
// returns nil for an empty secret, which RouteOpt treats as public.
func HeaderSecret(header, secret string) gin.HandlerFunc {
	if secret == "" {
		return nil
	}
	want := []byte(secret)
	return func(c *gin.Context) {
		if subtle.ConstantTimeCompare([]byte(c.GetHeader(header)), want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bad " + header})
			return
		}
		c.Next()
	}
}
