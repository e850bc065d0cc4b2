package server

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// Faults makes the server answer the next requests with an error status.
// Tests use it to exercise client retries.
type Faults struct {
	mu       sync.Mutex
	status   int
	pending  int
	requests atomic.Int64
}

// FailNext answers the next n requests with status.
func (f *Faults) FailNext(n, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = n
	f.status = status
}

// Requests counts the requests seen so far, failed ones included.
func (f *Faults) Requests() int64 {
	return f.requests.Load()
}

func (f *Faults) take() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending <= 0 {
		return 0, false
	}
	f.pending--
	return f.status, true
}

func (f *Faults) middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		f.requests.Add(1)
		if status, ok := f.take(); ok {
			ctx.AbortWithStatusJSON(status, gin.H{
				"error": "injected fault: " + http.StatusText(status),
			})
			return
		}
		ctx.Next()
	}
}
