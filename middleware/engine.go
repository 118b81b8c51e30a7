package middleware

import (
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// MiddlewareManager 全局中间件链，运行中也可以追加
type MiddlewareManager struct {
	mu   sync.Mutex // serialises writers
	mids atomic.Pointer[[]gin.HandlerFunc]
}

func NewManager() *MiddlewareManager {
	m := &MiddlewareManager{}
	m.mids.Store(&[]gin.HandlerFunc{})
	return m
}

// Add appends h; requests already in flight keep the chain they started with.
func (m *MiddlewareManager) Add(h ...gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := *m.mids.Load()
	next := make([]gin.HandlerFunc, 0, len(old)+len(h))
	next = append(append(next, old...), h...)
	m.mids.Store(&next)
}

// Use 作为总控挂载到 Engine 上；任一中间件 Abort 则停止
func (m *MiddlewareManager) Use() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, h := range *m.mids.Load() {
			h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}

// NewEngine builds a gin engine in release mode with recovery plus whatever
// m holds.
func NewEngine(m *MiddlewareManager) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	if m != nil {
		r.Use(m.Use())
	}
	return r
}
