package http

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/app/room"
	"github.com/dkeye/Meet/internal/config"
)

const clientTokenKey = "client_token"

// ClientTokenMiddleware keeps a stable token per UI client in its cookie
// session.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save failed")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

// SetupRouter exposes the room to a local UI: JSON commands under /api and
// the event feed at /api/events.
func SetupRouter(cfg *config.Config, rm *room.Room, stream *EventStream) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.HTTP.Secret))
	r.Use(sessions.Sessions("MeetSessions", store))
	r.Use(ClientTokenMiddleware())

	h := &handlers{
		room:   rm,
		stream: stream,
		chat:   NewChatLimiter(cfg.HTTP.ChatLimit, cfg.HTTP.ChatWindow),
	}

	api := r.Group("/api")
	api.GET("/state", h.state)
	api.GET("/events", h.events)
	api.GET("/devices", h.devices)
	api.GET("/stats", h.stats)
	api.POST("/leave", h.leave)

	media := api.Group("/media")
	media.POST("/mic/start", h.startMic)
	media.POST("/mic/stop", h.stopMic)
	media.POST("/mic/mute", h.muteMic)
	media.POST("/mic/unmute", h.unmuteMic)
	media.PATCH("/mic", h.updateMic)
	media.POST("/webcam/start", h.startWebcam)
	media.POST("/webcam/stop", h.stopWebcam)
	media.PATCH("/webcam", h.updateWebcam)
	media.POST("/screen/start", h.startScreen)
	media.POST("/screen/stop", h.stopScreen)
	media.PATCH("/screen", h.updateScreen)
	media.POST("/extra-video", h.addExtraVideo)
	media.DELETE("/extra-video/:id", h.stopExtraVideo)

	consumers := api.Group("/consumers/:id")
	consumers.POST("/pause", h.pauseConsumer)
	consumers.POST("/resume", h.resumeConsumer)
	consumers.POST("/keyframe", h.requestKeyFrame)
	consumers.PUT("/layers", h.setLayers)
	consumers.PUT("/priority", h.setPriority)
	consumers.PUT("/viewport", h.setViewport)

	spot := api.Group("/spotlight")
	spot.POST("/selected/:peer", h.selectPeer)
	spot.DELETE("/selected/:peer", h.deselectPeer)
	spot.DELETE("/selected", h.clearSelected)
	spot.PUT("/max", h.setMaxSpotlights)

	api.POST("/chat", h.sendChat)
	api.DELETE("/chat", h.clearChat)
	api.POST("/files", h.shareFile)
	api.DELETE("/files", h.clearFiles)

	me := api.Group("/me")
	me.PUT("/hand", h.setHand)
	me.PUT("/name", h.setName)
	me.PUT("/picture", h.setPicture)

	rc := api.Group("/room")
	rc.POST("/lock", h.lock)
	rc.POST("/unlock", h.unlock)
	rc.PUT("/access-code", h.setAccessCode)
	rc.PUT("/join-by-access-code", h.setJoinByAccessCode)
	rc.POST("/promote-all", h.promoteAll)
	rc.POST("/lobby/:peer/promote", h.promote)
	rc.POST("/mute-all", h.muteAll)
	rc.POST("/stop-all-video", h.stopAllVideo)
	rc.POST("/stop-all-screen-sharing", h.stopAllScreenSharing)
	rc.POST("/close", h.closeMeeting)

	peers := api.Group("/peers/:peer")
	peers.PUT("/roles/:role", h.giveRole)
	peers.DELETE("/roles/:role", h.removeRole)
	peers.POST("/kick", h.kick)
	peers.POST("/mute", h.mutePeer)
	peers.POST("/stop-video", h.stopPeerVideo)
	peers.POST("/stop-screen-sharing", h.stopPeerScreenSharing)
	peers.POST("/lower-hand", h.lowerHand)

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
