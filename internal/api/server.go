// Package api serves the debug HTTP API: buffer inspection and lifecycle,
// notification stats and Prometheus metrics.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zsiec/framexchange/internal/exchange"
	"github.com/zsiec/framexchange/media"
)

// Server wires the debug routes to a registry.
type Server struct {
	log     *slog.Logger
	router  *gin.Engine
	reg     *exchange.Registry
	metrics http.Handler
}

// New creates the API. metrics is mounted at /metrics when non-nil. If log
// is nil, slog.Default() is used.
func New(log *slog.Logger, reg *exchange.Registry, metrics http.Handler) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		log:     log.With("component", "api"),
		reg:     reg,
		metrics: metrics,
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLog)

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/buffers", s.handleListBuffers)
		api.POST("/buffers", s.handleCreateBuffer)
		api.GET("/buffers/:key", s.handleGetBuffer)
		api.GET("/buffers/:key/last", s.handleLastFrame)
		api.DELETE("/buffers/:key", s.handleFreeBuffer)
		api.GET("/notify", s.handleNotifyStats)
	}
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}

	s.router = router
}

func (s *Server) requestLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debug("request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration", time.Since(start),
	)
}

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
		"time":    time.Now().Unix(),
	})
}

// BufferList is the response of GET /api/buffers.
type BufferList struct {
	Buffers []exchange.BufferStats `json:"buffers"`
	Total   int                    `json:"total"`
}

func (s *Server) handleListBuffers(c *gin.Context) {
	stats := s.reg.Stats()
	c.JSON(http.StatusOK, BufferList{Buffers: stats, Total: len(stats)})
}

// CreateRequest is the body of POST /api/buffers. An empty key is replaced
// by a generated one; zero sizes select the media defaults.
type CreateRequest struct {
	Key          string `json:"key"`
	Capacity     int    `json:"capacity"`
	MaxFrameSize int    `json:"maxFrameSize"`
}

func (s *Server) handleCreateBuffer(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Key == "" {
		req.Key = uuid.NewString()
	}
	if req.Capacity == 0 {
		req.Capacity = media.DefaultCapacity
	}
	if req.MaxFrameSize == 0 {
		req.MaxFrameSize = media.DefaultMaxFrameSize
	}

	if err := s.reg.Init(req.Key, req.Capacity, req.MaxFrameSize); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, ok := s.reg.Stat(req.Key)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "buffer freed concurrently"})
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (s *Server) handleGetBuffer(c *gin.Context) {
	st, ok := s.reg.Stat(c.Param("key"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "buffer not found"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// LastFrame describes the most recently pushed frame of a buffer.
type LastFrame struct {
	Key       string `json:"key"`
	Kind      string `json:"kind"`
	Seq       uint64 `json:"seq"`
	Timestamp uint64 `json:"timestamp"`
	Size      int    `json:"size"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Rotation  int    `json:"rotation,omitempty"`
	FrameType int    `json:"frameType,omitempty"`
	Rate      int    `json:"sampleRate,omitempty"`
	Channels  int    `json:"channels,omitempty"`
}

func (s *Server) handleLastFrame(c *gin.Context) {
	key := c.Param("key")
	hdr, ok := s.reg.LastHeader(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame written"})
		return
	}

	out := LastFrame{
		Key:       key,
		Kind:      hdr.Kind.String(),
		Seq:       hdr.Seq,
		Timestamp: hdr.Timestamp,
		Size:      hdr.Length,
	}
	if hdr.Kind == media.KindVideo {
		out.Width, out.Height = int(hdr.Meta[0]), int(hdr.Meta[1])
		out.Rotation, out.FrameType = int(hdr.Meta[2]), int(hdr.Meta[3])
	} else {
		out.Rate, out.Channels = int(hdr.Meta[0]), int(hdr.Meta[1])
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleFreeBuffer(c *gin.Context) {
	key := c.Param("key")
	if _, ok := s.reg.Stat(key); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "buffer not found"})
		return
	}
	s.reg.Free(key)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleNotifyStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.reg.Bridge().Stats())
}
