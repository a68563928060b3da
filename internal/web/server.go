// Package web serves the browser chat page and its API.
package web

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ireland-samantha/zia-gateway/internal/config"
)

//go:embed static
var staticFiles embed.FS

// Server is the HTTP chat API and the browser page that drives it.
type Server struct {
	cfg    config.WebConfig
	engine *gin.Engine
	logger *slog.Logger
}

// New creates a server with its routes registered.
func New(cfg config.WebConfig, chats Chats, users *UserStore, logger *slog.Logger) *Server {
	switch cfg.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    cfg,
		engine: gin.New(),
		logger: logger,
	}

	h := &handler{
		chats:        chats,
		users:        users,
		tokens:       NewTokens(cfg.JWTSecret, cfg.TokenTTL),
		historyLimit: cfg.HistoryLimit,
		logger:       logger,
	}
	s.setupRoutes(h)
	return s
}

func (s *Server) setupRoutes(h *handler) {
	s.engine.Use(Recovery(s.logger))
	s.engine.Use(RequestID())
	s.engine.Use(Logger(s.logger))

	s.engine.GET("/health", h.health)

	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	index, err := fs.ReadFile(static, "index.html")
	if err != nil {
		panic(err)
	}
	s.engine.StaticFS("/static", http.FS(static))
	s.engine.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", index)
	})

	// Unprefixed paths for older chat pages that post forms to /register and /login.
	s.engine.POST("/register", h.register)
	s.engine.POST("/login", h.login)
	s.engine.POST("/chat/:chat_id", Auth(h.tokens), h.chat)

	api := s.engine.Group("/api")
	{
		api.POST("/register", h.register)
		api.POST("/login", h.login)

		chat := api.Group("/chat/:chat_id", Auth(h.tokens))
		{
			chat.POST("", h.chat)
			chat.GET("/history", h.history)
			chat.DELETE("", h.reset)
		}
	}
}

// Run serves on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting web server", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down web server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Engine returns the gin engine, for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
