// Package server — HTTP-сервер: webhook пополнений, API клиента на ПК и health.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Routes — модуль, который вешает свои маршруты на роутер.
type Routes interface {
	Register(r gin.IRouter)
}

// Server оборачивает gin и http.Server.
type Server struct {
	router *gin.Engine
	server *http.Server
}

// New собирает роутер. stats попадает в ответ health, может быть nil.
func New(port int, production bool, stats func() gin.H, routes ...Routes) *Server {
	if production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	health := func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if stats != nil {
			for k, v := range stats() {
				body[k] = v
			}
		}
		c.JSON(http.StatusOK, body)
	}
	router.GET("/", health)
	router.GET("/health", health)

	for _, r := range routes {
		r.Register(router)
	}

	return &Server{
		router: router,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Handler — для тестов.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run слушает порт до отмены ctx, затем плавно останавливается.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Ошибка остановки HTTP-сервера")
		}
	}()

	log.WithField("addr", s.server.Addr).Info("HTTP-сервер запущен")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("HTTP")
	}
}
