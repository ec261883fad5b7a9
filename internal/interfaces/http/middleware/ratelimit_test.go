package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/erp/mobilesync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRateLimiter(t *testing.T) {
	t.Run("allows the burst then blocks", func(t *testing.T) {
		limiter := NewRateLimiter(1, 3, shared.NewManualClock(epoch))

		for i := range 3 {
			ok, _ := limiter.Allow("client")
			assert.True(t, ok, "request %d should be allowed", i+1)
		}
		ok, remaining := limiter.Allow("client")
		assert.False(t, ok)
		assert.Zero(t, remaining)
	})

	t.Run("separate buckets per client", func(t *testing.T) {
		limiter := NewRateLimiter(1, 1, shared.NewManualClock(epoch))

		ok, _ := limiter.Allow("a")
		assert.True(t, ok)
		ok, _ = limiter.Allow("a")
		assert.False(t, ok)
		ok, _ = limiter.Allow("b")
		assert.True(t, ok)
	})

	t.Run("refills over time", func(t *testing.T) {
		clock := shared.NewManualClock(epoch)
		limiter := NewRateLimiter(2, 1, clock)

		ok, _ := limiter.Allow("a")
		assert.True(t, ok)
		ok, _ = limiter.Allow("a")
		assert.False(t, ok)

		clock.Advance(time.Second)
		ok, _ = limiter.Allow("a")
		assert.True(t, ok)
	})

	t.Run("forgets idle clients", func(t *testing.T) {
		clock := shared.NewManualClock(epoch)
		limiter := NewRateLimiter(1, 1, clock)
		limiter.Allow("a")
		limiter.Allow("b")
		assert.Equal(t, 2, limiter.Clients())

		clock.Advance(2 * idleAfter)
		limiter.Allow("c")
		assert.Equal(t, 1, limiter.Clients())
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RateLimit(NewRateLimiter(1, 2, shared.NewManualClock(epoch))))
	router.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	send := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		return w
	}

	first := send()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, send().Code)

	blocked := send()
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.Contains(t, blocked.Body.String(), dto.ErrCodeRateLimited)
}
