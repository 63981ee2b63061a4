package middlewares

import (
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/supplymap_backend/config"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
)

const defaultRateLimit = "300-M"

// RateLimit limits requests per client IP. API_RATE_LIMIT uses the limiter
// format ("300-M", "20-S"). The store is picked on the first request, after
// the readiness gate: redis when connected so instances share counters,
// memory otherwise.
func RateLimit(logger *logrus.Logger) (gin.HandlerFunc, error) {
	formatted := strings.TrimSpace(os.Getenv("API_RATE_LIMIT"))
	if formatted == "" {
		formatted = defaultRateLimit
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}

	var (
		once              sync.Once
		limiterMiddleware *stdlib.Middleware
	)
	build := func() {
		var store limiter.Store
		if client := config.GetRedisDB(); client != nil {
			store, err = redisstore.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: "supplymap:ratelimit"})
			if err != nil {
				logger.WithField("field", "RateLimit").Warn("redis rate limit store unavailable, using memory: " + err.Error())
				store = nil
			}
		}
		if store == nil {
			store = memory.NewStore()
		}
		limiterMiddleware = stdlib.NewMiddleware(limiter.New(store, rate))
	}

	return func(c *gin.Context) {
		once.Do(build)
		limiterMiddleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.Next()
		})).ServeHTTP(c.Writer, c.Request)

		if c.Writer.Status() == http.StatusTooManyRequests {
			c.Abort()
			return
		}
	}, nil
}
