// Package repo owns the development module repository.
//
// Ownership boundary:
// - HTTP surface for unit and archive retrieval
// - repository root containment (no path escapes)
// - health, readiness and metrics endpoints
//
// The repository is a plain directory of unit files. It never evaluates
// units; decoding and declaration belong to the loader on the client side.
package repo

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/skriptd/modload/internal/observability"
)

var (
	ErrPathEscapes = errors.New("repo: path escapes repository root")
	ErrNotFound    = errors.New("repo: file not found")
)

type Server struct {
	ID      string
	Addr    string
	Root    string
	Started time.Time

	router   *gin.Engine
	basePath string
}

// Open builds a repository server rooted at dir with the full middleware
// stack attached.
func Open(id, addr, dir string, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, id))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	return &Server{
		ID:      id,
		Addr:    addr,
		Root:    dir,
		Started: time.Now(),
		router:  r,
	}
}

// Attach mounts the repository on an existing router under basePath, for
// embedding in a larger process.
func Attach(id string, router *gin.Engine, basePath, dir string) *Server {
	return &Server{
		ID:       id,
		Root:     dir,
		Started:  time.Now(),
		router:   router,
		basePath: basePath,
	}
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) RegisterRoutes() {
	routes := s.routes()
	routes.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"service": s.ID,
			"version": "0.0.1",
		})
	})

	routes.GET("/ready", func(c *gin.Context) {
		ready := true
		if _, err := os.Stat(s.Root); err != nil {
			ready = false
		}
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(s.Started).String(),
			"service": s.ID,
			"version": "0.0.1",
		})
	})

	routes.GET("/metrics", gin.WrapH(promhttp.Handler()))

	routes.GET("/manifest.toml", func(c *gin.Context) {
		s.serveFile(c, "manifest.toml")
	})

	routes.GET("/units/*path", func(c *gin.Context) {
		s.serveFile(c, c.Param("path"))
	})

	routes.GET("/archives/:name", func(c *gin.Context) {
		s.serveFile(c, filepath.Join("archives", c.Param("name")))
	})
}

func (s *Server) serveFile(c *gin.Context, rel string) {
	data, err := s.ReadFile(rel)
	switch {
	case errors.Is(err, ErrPathEscapes):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		log.Error().Str("repo", s.ID).Str("path", rel).Err(err).Msg("repository read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read failed"})
	default:
		c.Data(http.StatusOK, "application/toml", data)
	}
}

// ReadFile returns the repository file at rel. The path is contained to
// the repository root.
func (s *Server) ReadFile(rel string) ([]byte, error) {
	clean := filepath.Clean(strings.TrimPrefix(rel, "/"))
	if clean == ".." || strings.HasPrefix(clean, "../") || filepath.IsAbs(clean) {
		return nil, ErrPathEscapes
	}
	data, err := os.ReadFile(filepath.Join(s.Root, clean))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *Server) Serve() error {
	s.RegisterRoutes()
	log.Info().Str("repo", s.ID).Str("addr", s.Addr).Str("root", s.Root).
		Msg("module repository listening")
	return s.router.Run(s.Addr)
}

func (s *Server) routes() gin.IRoutes {
	if s.basePath == "" {
		return s.router
	}
	return s.router.Group(s.basePath)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
