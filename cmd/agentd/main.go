// Command agentd is the thin HTTP front end (SPEC_FULL §6): a
// github.com/gin-gonic/gin server exposing a read/submit surface over the
// same core cmd/agent-cli drives, matching the teacher's cmd/server pattern
// of a thin transport layer over domain packages.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/jasonk87/selfevolve/common/logger"
	"github.com/jasonk87/selfevolve/common/otel"
	"github.com/jasonk87/selfevolve/core/config"
	"github.com/jasonk87/selfevolve/internal/app"
	"github.com/jasonk87/selfevolve/internal/model"
)

func main() {
	ctx := context.Background()
	cfg := config.Load()

	// OTel must init before logger: the production logger handler reads the
	// active trace/span id off the context, which only exists once the
	// tracer provider is installed.
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "startup failed", "error", err)
		os.Exit(1)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(a, cfg.OTel.ServiceName)
	server := &http.Server{
		Addr:              ":" + port(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "agentd starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}
	if err := a.Close(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "app shutdown error", "error", err)
	}
	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}
}

func port() string {
	if p := os.Getenv("AGENTD_PORT"); p != "" {
		return p
	}
	return "8080"
}

type goalRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

type goalResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func setupRouter(a *app.App, serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(requestLogger())

	router.POST("/goals", func(c *gin.Context) {
		var req goalRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, goalResponse{Success: false, Message: err.Error()})
			return
		}
		ok, message := a.Orchestrator.HandlePrompt(c.Request.Context(), req.Prompt)
		c.JSON(http.StatusOK, goalResponse{Success: ok, Message: message})
	})

	router.GET("/notifications", func(c *gin.Context) {
		limit := 20
		notifications := a.Notifications.GetNotifications("", nil, limit)
		c.JSON(http.StatusOK, gin.H{"notifications": notifications})
	})

	router.GET("/tasks", func(c *gin.Context) {
		tasks := a.Tasks.ListActiveTasks(nil, nil)
		c.JSON(http.StatusOK, gin.H{"tasks": tasks})
	})

	router.GET("/insights", func(c *gin.Context) {
		open := make([]model.ActionableInsight, 0)
		for _, ins := range a.Insights.All() {
			if ins.Status == model.InsightStatusNew || ins.Status == model.InsightStatusPendingManualReview {
				open = append(open, ins)
			}
		}
		c.JSON(http.StatusOK, gin.H{"insights": open})
	})

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.InfoContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
