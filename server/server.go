// Package server is the HTTP surface of the chat stream service.
//
// Routes:
//
//	POST /chats/:chatId/stream           start an assistant turn (SSE)
//	GET  /chats/:chatId/stream           resume the chat's latest stream
//	GET  /chats/:chatId/stream/:streamId resume one stream
//	GET  /healthz                        liveness and load
//	GET  /metrics                        Prometheus exposition
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"

	"github.com/vercel/ai-chatbot-sub000/chunkstore"
	"github.com/vercel/ai-chatbot-sub000/log"
	"github.com/vercel/ai-chatbot-sub000/metrics"
	"github.com/vercel/ai-chatbot-sub000/runtime"
	"github.com/vercel/ai-chatbot-sub000/types"
)

// StreamIDHeader carries the stream id of a live response.
const StreamIDHeader = "X-Stream-Id"

// DefaultRecentWindow is how fresh the latest assistant message must be
// for a resume of a still-active stream to answer with an empty stream.
const DefaultRecentWindow = 15 * time.Second

// Archive is the chat history the handlers read and write.
// Satisfied by *lode.Archive.
type Archive interface {
	SaveMessages(ctx context.Context, msgs []types.StoredMessage) error
	CreateStreamID(ctx context.Context, chatID string) (string, error)
	StreamIDs(ctx context.Context, chatID string) ([]string, error)
	LatestMessage(ctx context.Context, chatID string) (types.StoredMessage, bool, error)
}

// Config configures a Server.
type Config struct {
	Controller *runtime.Controller
	Archive    Archive
	// Store is the chunk store resumes replay from. Nil disables resume.
	Store *chunkstore.Store
	// Registry and Supervisor are reported by /healthz when set.
	Registry   *runtime.Registry
	Supervisor *runtime.Supervisor
	// Gatherer backs /metrics. Nil leaves the route unregistered.
	Gatherer prometheus.Gatherer
	// RecentWindow defaults to DefaultRecentWindow.
	RecentWindow time.Duration
	// KeepAlive is the interval of SSE comment pings on live streams.
	// Zero disables pings.
	KeepAlive time.Duration
	Logger    *log.Logger
	Collector *metrics.Collector
	// Now overrides the clock (for tests).
	Now func() time.Time
}

// Server holds the handlers and their collaborators.
type Server struct {
	config    Config
	logger    *log.Logger
	collector *metrics.Collector
	replays   singleflight.Group
}

// New validates cfg and creates a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Controller == nil {
		return nil, errors.New("server: controller is required")
	}
	if cfg.Archive == nil {
		return nil, errors.New("server: archive is required")
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = DefaultRecentWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Server{
		config:    cfg,
		logger:    logger.WithComponent("server"),
		collector: cfg.Collector,
	}, nil
}

// Handler builds the gin engine.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/healthz", s.handleHealth)
	if s.config.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})))
	}

	chats := r.Group("/chats/:chatId")
	chats.POST("/stream", s.handleStream)
	chats.GET("/stream", s.handleResumeLatest)
	chats.GET("/stream/:streamId", s.handleResume)
	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request served", map[string]any{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok", "version": types.Version}
	if s.config.Registry != nil {
		body["sessions"] = s.config.Registry.Len()
	}
	if s.config.Supervisor != nil {
		body["background_tasks"] = s.config.Supervisor.Len()
	}
	if s.config.Store != nil {
		body["chunk_store"] = s.config.Store.Backend()
	}
	c.JSON(http.StatusOK, body)
}
