// Package ingress is the HTTP boundary that receives tracker events and
// hands them to the orchestrator. Authentication and signature checks
// happen upstream; by the time an event reaches this server it is trusted.
package ingress

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/conductor/internal/event"
	"github.com/zulandar/conductor/internal/orchestrator"
)

// StartOpts holds configuration for the ingress server.
type StartOpts struct {
	Orchestrator *orchestrator.Orchestrator
	Port         int
	Out          io.Writer
}

// Start launches the ingress HTTP server. It blocks until ctx is
// cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Orchestrator == nil {
		return fmt.Errorf("ingress: orchestrator is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8484
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts.Orchestrator)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Ingress listening on :%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ingress: %w", err)
	}
	return nil
}

func registerRoutes(router *gin.Engine, orch *orchestrator.Orchestrator) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":          "ok",
			"active_sessions": orch.ActiveSessionCount(),
		})
	})

	router.POST("/events", func(c *gin.Context) {
		var ev event.Event
		if err := c.ShouldBindJSON(&ev); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("decode event: %v", err)})
			return
		}
		if ev.ID == "" || ev.Type == "" || ev.Data.ResourceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "event requires id, type, and data.resourceId"})
			return
		}

		switch orch.Submit(ev) {
		case orchestrator.OutcomeDuplicate:
			// Acknowledged so the sender stops redelivering.
			c.JSON(http.StatusOK, gin.H{"outcome": "duplicate"})
		case orchestrator.OutcomeUnroutable:
			c.JSON(http.StatusOK, gin.H{"outcome": "unroutable"})
		default:
			c.JSON(http.StatusAccepted, gin.H{"outcome": "accepted"})
		}
	})

	// A running worker requests a sub-session for a related piece of work
	// through this endpoint.
	router.POST("/sessions/:key/children", func(c *gin.Context) {
		var ev event.Event
		if err := c.ShouldBindJSON(&ev); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("decode event: %v", err)})
			return
		}
		if err := orch.SpawnChild(c.Param("key"), ev); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"outcome": "accepted"})
	})
}
