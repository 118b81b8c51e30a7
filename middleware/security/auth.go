package security

import (
	"net/http"
	"strings"

	"PPost/tools/errs"
	"PPost/tools/security"

	"github.com/gin-gonic/gin"
)

// CtxPeerKey holds the authenticated link peer name.
const CtxPeerKey = "linkPeer"

type Options struct {
	Token security.Options

	HeaderToken string // 默认 "authorization"
	QueryToken  string // 默认 "token"; lets browsers pass the token on upgrade
}

func DefaultOptions(tok security.Options) *Options {
	return &Options{
		Token:       tok,
		HeaderToken: "Authorization",
		QueryToken:  "token",
	}
}

// Middleware verifies the link token. With no secret configured every request
// passes.
func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !opts.Token.Enabled() {
			c.Next()
			return
		}
		token := bearer(c.GetHeader(opts.HeaderToken))
		if token == "" && opts.QueryToken != "" {
			token = strings.TrimSpace(c.Query(opts.QueryToken))
		}
		if token == "" {
			abort(c, "missing link token")
			return
		}
		peer, err := security.VerifyLinkToken(opts.Token, token)
		if err != nil {
			abort(c, err.Error())
			return
		}
		c.Set(CtxPeerKey, peer)
		c.Next()
	}
}

// 兼容 Authorization: Bearer xxx
func bearer(h string) string {
	h = strings.TrimSpace(h)
	if len(h) > len("bearer ") && strings.EqualFold(h[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(h[len("bearer "):])
	}
	return h
}

func abort(c *gin.Context, reason string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":  errs.ArgsError,
		"error": reason,
	})
}
