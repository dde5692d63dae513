package diag

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/devicebridge/ha-connector-go/internal/config"
	"github.com/devicebridge/ha-connector-go/internal/mapping"
)

// StatusSource exposes the connector state the diagnostics endpoints report.
type StatusSource interface {
	ConnectionState() string
	LoadErrors() []mapping.LoadError
}

// WriteSink accepts desired property values for a device. Nil disables the
// write endpoint.
type WriteSink interface {
	DispatchForDevice(ctx context.Context, deviceID string, values map[string]any) error
}

// MappingReloader is implemented by status sources that can re-read the
// mapping configuration. The reload endpoint is only registered when the
// source supports it.
type MappingReloader interface {
	ReloadMappings() error
}

// Server is the small operational HTTP surface: health, status and metrics.
type Server struct {
	logger *logrus.Logger
	http   *http.Server
}

func NewServer(cfg config.DiagnosticsConfig, source StatusSource, sink WriteSink, registry *prometheus.Registry, logger *logrus.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	started := time.Now()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/status", func(c *gin.Context) {
		loadErrors := source.LoadErrors()
		messages := make([]string, len(loadErrors))
		for i, loadErr := range loadErrors {
			messages[i] = loadErr.Error()
		}
		c.JSON(http.StatusOK, gin.H{
			"connection":          source.ConnectionState(),
			"uptime_seconds":      int(time.Since(started).Seconds()),
			"mapping_load_errors": messages,
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	if reloader, ok := source.(MappingReloader); ok {
		router.POST("/mappings/reload", func(c *gin.Context) {
			if err := reloader.ReloadMappings(); err != nil {
				logger.WithError(err).Error("Mapping reload failed")
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
		})
	}

	if sink != nil {
		router.POST("/devices/:id/values", func(c *gin.Context) {
			var values map[string]any
			if err := c.ShouldBindJSON(&values); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if err := sink.DispatchForDevice(c.Request.Context(), c.Param("id"), values); err != nil {
				logger.WithError(err).WithField("device", c.Param("id")).Error("Write request failed")
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "dispatched"})
		})
	}

	return &Server{
		logger: logger,
		http: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler: router,
		},
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start() {
	s.logger.WithField("addr", s.http.Addr).Info("Diagnostics server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("Diagnostics server failed")
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
