package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dkeye/Pulse/internal/adapters/signal"
	"github.com/dkeye/Pulse/internal/app/orch"
	"github.com/dkeye/Pulse/internal/config"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// AdminTokenMiddleware guards the admin API. An empty token disables it.
func AdminTokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" || !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		c.Next()
	}
}

// SetupRouter wires the websocket endpoint, health, metrics and the admin API.
func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ctrl *signal.SignalWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": o.Registry.Count()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ws", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	api := r.Group("/api", AdminTokenMiddleware(cfg.AdminToken))

	// GET /api/rooms: live rooms with member counts
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": o.ListRooms()})
	})

	// GET /api/rooms/:id: presence snapshot of one room
	api.GET("/rooms/:id", func(c *gin.Context) {
		id, err := domain.ResolveRoomID("", c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": domain.Code(err)})
			return
		}
		detail, ok := o.RoomDetail(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		c.JSON(http.StatusOK, detail)
	})

	// POST /api/users/:id/notify: deliver a notification on the user channel
	api.POST("/users/:id/notify", func(c *gin.Context) {
		uid, err := domain.ParseUserID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
			return
		}
		var payload json.RawMessage
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
			return
		}
		n, err := o.NotifyUser(uid, payload)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": domain.Code(err)})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"delivered": n})
	})

	// POST /api/users/:id/disconnect: close every connection of a user
	api.POST("/users/:id/disconnect", func(c *gin.Context) {
		uid, err := domain.ParseUserID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
			return
		}
		n := o.DisconnectUser(uid)
		c.JSON(http.StatusOK, gin.H{"disconnected": n})
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
