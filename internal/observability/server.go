package observability

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// StatusServer exposes read-only run state while a convergence run
// lasts: /health, /metrics and /run. It serves on a background
// goroutine and dies with the process; runs are short-lived, so there
// is no drain/shutdown path.
type StatusServer struct {
	addr      string
	startedAt time.Time
	snapshot  func() any
}

// NewStatusServer wires the endpoints. snapshot is called per /run
// request and must be safe for concurrent use.
func NewStatusServer(addr string, snapshot func() any) *StatusServer {
	return &StatusServer{addr: addr, startedAt: time.Now(), snapshot: snapshot}
}

// Start serves in the background. Startup failures are logged, not
// fatal: the status surface is an observer, never a reason to stop a
// run.
func (s *StatusServer) Start(logger zerolog.Logger, origins []string) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	if len(origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.startedAt).String(),
			"service": "kitchenctl",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/run", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.snapshot())
	})

	go func() {
		if err := r.Run(s.addr); err != nil {
			logger.Warn().Err(err).Str("addr", s.addr).Msg("status server stopped")
		}
	}()
}
