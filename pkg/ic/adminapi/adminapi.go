// Package adminapi exposes a read-only HTTP status surface over the
// running IC: registered clients, I/O-set admission state,
// and the malleability coordinator's current phase. It never mutates
// anything the RPC dispatcher owns; every handler only reads.
package adminapi

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/admire-eurohpc/ic/pkg/common"
	"github.com/admire-eurohpc/ic/pkg/ic/ioset"
	"github.com/admire-eurohpc/ic/pkg/ic/malleability"
	"github.com/admire-eurohpc/ic/pkg/ic/model"
	"github.com/admire-eurohpc/ic/pkg/ic/store"
	"github.com/admire-eurohpc/ic/pkg/ratelimit"
)

// Backend collects the read-only accessors the admin API's handlers
// query. server.Server implements this; tests can supply a smaller one.
type Backend interface {
	Store() store.Store
	IOSetController() *ioset.Controller
	Coordinator() *malleability.Coordinator
}

// Config controls the admin API's listener and middleware.
type Config struct {
	Address            string
	RateLimitPerSecond int
	CORSAllowedOrigins []string
}

// errorResponse and successResponse mirror the {retcode, message,
// payload} envelope used across the fleet's other gin-based HTTP APIs.
func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"retcode": code, "message": message, "payload": nil})
}

func successResponse(c *gin.Context, payload interface{}) {
	c.JSON(http.StatusOK, gin.H{"retcode": 0, "message": "success", "payload": payload})
}

// NewRouter builds the gin.Engine serving the status endpoints, with
// recovery, CORS, and per-client-IP rate limiting middleware attached.
func NewRouter(cfg Config, backend Backend, log *common.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = os.Stderr
	gin.DefaultErrorWriter = os.Stderr

	router := gin.New()
	router.Use(gin.RecoveryWithWriter(os.Stderr))

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSAllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	maxTokens := cfg.RateLimitPerSecond
	if maxTokens <= 0 {
		maxTokens = 20
	}
	router.Use(rateLimitMiddleware(maxTokens, time.Second, log))

	status := router.Group("/status")
	registerHandlers(status, backend)

	return router
}

// rateLimitMiddleware throttles by client IP using the token-bucket
// limiter shared with the rest of the fleet's HTTP surfaces.
func rateLimitMiddleware(maxTokens int, refillInterval time.Duration, log *common.Logger) gin.HandlerFunc {
	limiter := ratelimit.NewClientLimiter(maxTokens, refillInterval)

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			limiter.Cleanup(5 * time.Minute)
		}
	}()

	return func(c *gin.Context) {
		clientIP := clientIP(c)
		if !limiter.Allow(clientIP) {
			log.Warning("adminapi: rate limit exceeded for %s", clientIP)
			c.Header("Retry-After", "1")
			errorResponse(c, http.StatusTooManyRequests, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

func clientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	return c.ClientIP()
}

func registerHandlers(g *gin.RouterGroup, backend Backend) {
	g.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	g.GET("/clients", func(c *gin.Context) {
		jobID := parseUintQuery(c, "job_id")
		h := backend.Store().Handle(0)

		clients := make([]clientView, 0)
		var cursor uint64
		for {
			page, next, res := h.ListClients(store.ClientFilter{JobID: jobID}, cursor, 200)
			if res == store.Err {
				errorResponse(c, http.StatusInternalServerError, "failed to list clients")
				return
			}
			for _, cl := range page {
				clients = append(clients, newClientView(cl))
			}
			if next == 0 {
				break
			}
			cursor = next
		}
		successResponse(c, clients)
	})

	g.GET("/iosets", func(c *gin.Context) {
		sets, anyWriterRunning := backend.IOSetController().Snapshot()
		successResponse(c, gin.H{
			"sets":               sets,
			"any_writer_running": anyWriterRunning,
		})
	})

	g.GET("/malleability", func(c *gin.Context) {
		payload := gin.H{"state": backend.Coordinator().State()}
		if dlq := backend.Coordinator().DLQ(); dlq != nil {
			if stats, err := dlq.GetStats(); err == nil {
				payload["dead_letter_queue"] = stats
			}
		}
		successResponse(c, payload)
	})
}

// clientView is the admin API's stable JSON shape for a registered
// client, independent of model.Client's on-disk field names.
type clientView struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	JobID        uint32 `json:"job_id"`
	NProcs       int32  `json:"nprocs"`
	CallbackAddr string `json:"callback_addr"`
}

func newClientView(c model.Client) clientView {
	return clientView{
		ID:           c.ID,
		Kind:         string(c.Kind),
		JobID:        c.JobID,
		NProcs:       c.NProcs,
		CallbackAddr: c.CallbackAddr,
	}
}

func parseUintQuery(c *gin.Context, name string) uint32 {
	v := c.Query(name)
	if v == "" {
		return 0
	}
	var n uint32
	for _, r := range v {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + uint32(r-'0')
	}
	return n
}
