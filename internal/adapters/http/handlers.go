package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/app/producer"
	"github.com/dkeye/Meet/internal/app/room"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

var errBadRequest = errors.New("bad request")

type handlers struct {
	room   *room.Room
	stream *EventStream
	chat   *ChatLimiter
}

// statusOf maps component errors onto HTTP statuses. Anything not listed is
// treated as a failure upstream of us.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, domain.ErrDisplayNameEmpty),
		errors.Is(err, domain.ErrDisplayNameTooLong):
		return http.StatusBadRequest
	case errors.Is(err, room.ErrNotPermitted):
		return http.StatusForbidden
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, room.ErrClosed),
		errors.Is(err, room.ErrNotConnected),
		errors.Is(err, producer.ErrCannotProduce),
		errors.Is(err, producer.ErrNotActive),
		errors.Is(err, producer.ErrScreenUnavailable),
		errors.Is(err, producer.ErrDeviceInUse):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Warn().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("command failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func reply(c *gin.Context, err error) {
	if err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// bind decodes the JSON body into v, failing the request on error.
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		fail(c, errors.Join(errBadRequest, err))
		return false
	}
	return true
}

func intParam(c *gin.Context, name string) (int, bool) {
	n, err := strconv.Atoi(c.Param(name))
	if err != nil {
		fail(c, errors.Join(errBadRequest, err))
		return 0, false
	}
	return n, true
}

func peerParam(c *gin.Context) domain.PeerID { return domain.PeerID(c.Param("peer")) }

func (h *handlers) state(c *gin.Context) {
	c.JSON(http.StatusOK, h.room.Snapshot())
}

func (h *handlers) devices(c *gin.Context) {
	c.JSON(http.StatusOK, h.room.Producers().Devices())
}

func (h *handlers) stats(c *gin.Context) {
	stats, err := h.room.Transport().Stats(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// events streams the room as server-sent events: a snapshot first, then
// every component event.
func (h *handlers) events(c *gin.Context) {
	ch, cancel := h.stream.Subscribe()
	defer cancel()

	c.SSEvent("snapshot", h.room.Snapshot())
	c.Writer.Flush()
	c.Stream(func(io.Writer) bool {
		select {
		case env, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(env.Name, env.Data)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *handlers) leave(c *gin.Context) {
	h.room.Close()
	c.Status(http.StatusNoContent)
}

func (h *handlers) startMic(c *gin.Context) { reply(c, h.room.EnableMic(c.Request.Context())) }
func (h *handlers) stopMic(c *gin.Context)  { reply(c, h.room.Producers().StopMic(c.Request.Context())) }
func (h *handlers) muteMic(c *gin.Context)  { reply(c, h.room.Producers().MuteMic(c.Request.Context())) }

func (h *handlers) unmuteMic(c *gin.Context) {
	reply(c, h.room.Producers().UnmuteMic(c.Request.Context()))
}

func (h *handlers) updateMic(c *gin.Context) {
	var s producer.AudioSettings
	if !bind(c, &s) {
		return
	}
	reply(c, h.room.Producers().UpdateMic(c.Request.Context(), s))
}

func (h *handlers) startWebcam(c *gin.Context) { reply(c, h.room.EnableWebcam(c.Request.Context())) }
func (h *handlers) stopWebcam(c *gin.Context)  { reply(c, h.room.Producers().StopWebcam(c.Request.Context())) }

func (h *handlers) updateWebcam(c *gin.Context) {
	var s producer.VideoSettings
	if !bind(c, &s) {
		return
	}
	reply(c, h.room.Producers().UpdateWebcam(c.Request.Context(), s))
}

func (h *handlers) startScreen(c *gin.Context) {
	var req struct {
		Audio bool `json:"audio"`
	}
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	reply(c, h.room.EnableScreenShare(c.Request.Context(), req.Audio))
}

func (h *handlers) stopScreen(c *gin.Context) {
	reply(c, h.room.Producers().StopScreenShare(c.Request.Context()))
}

func (h *handlers) updateScreen(c *gin.Context) {
	var s producer.VideoSettings
	if !bind(c, &s) {
		return
	}
	reply(c, h.room.Producers().UpdateScreenShare(c.Request.Context(), s))
}

func (h *handlers) addExtraVideo(c *gin.Context) {
	var req struct {
		DeviceID string `json:"deviceId" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	id, err := h.room.AddExtraVideo(c.Request.Context(), req.DeviceID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *handlers) stopExtraVideo(c *gin.Context) {
	reply(c, h.room.Producers().StopExtraVideo(c.Request.Context(), c.Param("id")))
}

func (h *handlers) pauseConsumer(c *gin.Context) {
	reply(c, h.room.Consumers().PauseConsumer(c.Request.Context(), c.Param("id")))
}

func (h *handlers) resumeConsumer(c *gin.Context) {
	reply(c, h.room.Consumers().ResumeConsumer(c.Request.Context(), c.Param("id")))
}

func (h *handlers) requestKeyFrame(c *gin.Context) {
	reply(c, h.room.Consumers().RequestKeyFrame(c.Request.Context(), c.Param("id")))
}

func (h *handlers) setLayers(c *gin.Context) {
	var req struct {
		Spatial  int `json:"spatialLayer"`
		Temporal int `json:"temporalLayer"`
	}
	if !bind(c, &req) {
		return
	}
	reply(c, h.room.Consumers().SetPreferredLayers(c.Request.Context(), c.Param("id"), req.Spatial, req.Temporal))
}

func (h *handlers) setPriority(c *gin.Context) {
	var req struct {
		Priority int `json:"priority"`
	}
	if !bind(c, &req) {
		return
	}
	reply(c, h.room.Consumers().SetPriority(c.Request.Context(), c.Param("id"), req.Priority))
}

// setViewport reports the size a consumer is rendered at. Layer selection
// follows after the debounce.
func (h *handlers) setViewport(c *gin.Context) {
	var req struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	if !bind(c, &req) {
		return
	}
	id := c.Param("id")
	if _, ok := h.room.Consumers().Consumer(id); !ok {
		fail(c, core.ErrNotFound)
		return
	}
	h.room.Consumers().ScheduleAdaptLayers(id, req.Width, req.Height)
	c.Status(http.StatusAccepted)
}

func (h *handlers) selectPeer(c *gin.Context) {
	h.room.Spotlight().AddSelected(peerParam(c))
	c.Status(http.StatusNoContent)
}

func (h *handlers) deselectPeer(c *gin.Context) {
	h.room.Spotlight().RemoveSelected(peerParam(c))
	c.Status(http.StatusNoContent)
}

func (h *handlers) clearSelected(c *gin.Context) {
	h.room.Spotlight().ClearSelected()
	c.Status(http.StatusNoContent)
}

func (h *handlers) setMaxSpotlights(c *gin.Context) {
	var req struct {
		Max int `json:"max" binding:"min=1"`
	}
	if !bind(c, &req) {
		return
	}
	h.room.Spotlight().SetMaxSpotlights(req.Max)
	c.Status(http.StatusNoContent)
}

func (h *handlers) sendChat(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	if !h.chat.Allow(c.GetString(clientTokenKey)) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "chat rate limit"})
		return
	}
	msg, err := h.room.SendChatMessage(c.Request.Context(), req.Text)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *handlers) clearChat(c *gin.Context) { reply(c, h.room.ClearChat(c.Request.Context())) }

func (h *handlers) shareFile(c *gin.Context) {
	var req struct {
		MagnetURI string `json:"magnetUri" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	f, err := h.room.ShareFile(c.Request.Context(), req.MagnetURI)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (h *handlers) clearFiles(c *gin.Context) { reply(c, h.room.ClearFiles(c.Request.Context())) }

func (h *handlers) setHand(c *gin.Context) {
	var req struct {
		Raised bool `json:"raised"`
	}
	if !bind(c, &req) {
		return
	}
	reply(c, h.room.SetRaisedHand(c.Request.Context(), req.Raised))
}

func (h *handlers) setName(c *gin.Context) {
	var req struct {
		DisplayName string `json:"displayName"`
	}
	if !bind(c, &req) {
		return
	}
	reply(c, h.room.ChangeDisplayName(c.Request.Context(), req.DisplayName))
}

func (h *handlers) setPicture(c *gin.Context) {
	var req struct {
		Picture string `json:"picture"`
	}
	if !bind(c, &req) {
		return
	}
	reply(c, h.room.ChangePicture(c.Request.Context(), req.Picture))
}

func (h *handlers) lock(c *gin.Context)   { reply(c, h.room.LockRoom(c.Request.Context())) }
func (h *handlers) unlock(c *gin.Context) { reply(c, h.room.UnlockRoom(c.Request.Context())) }

func (h *handlers) setAccessCode(c *gin.Context) {
	var req struct {
		AccessCode string `json:"accessCode"`
	}
	if !bind(c, &req) {
		return
	}
	reply(c, h.room.SetAccessCode(c.Request.Context(), req.AccessCode))
}

func (h *handlers) setJoinByAccessCode(c *gin.Context) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !bind(c, &req) {
		return
	}
	reply(c, h.room.SetJoinByAccessCode(c.Request.Context(), req.Enabled))
}

func (h *handlers) promote(c *gin.Context) {
	reply(c, h.room.PromoteLobbyPeer(c.Request.Context(), peerParam(c)))
}

func (h *handlers) promoteAll(c *gin.Context) { reply(c, h.room.PromoteAllPeers(c.Request.Context())) }

func (h *handlers) giveRole(c *gin.Context) {
	role, ok := intParam(c, "role")
	if !ok {
		return
	}
	reply(c, h.room.GiveRole(c.Request.Context(), peerParam(c), domain.RoleID(role)))
}

func (h *handlers) removeRole(c *gin.Context) {
	role, ok := intParam(c, "role")
	if !ok {
		return
	}
	reply(c, h.room.RemoveRole(c.Request.Context(), peerParam(c), domain.RoleID(role)))
}

func (h *handlers) kick(c *gin.Context) { reply(c, h.room.KickPeer(c.Request.Context(), peerParam(c))) }

func (h *handlers) mutePeer(c *gin.Context) {
	reply(c, h.room.MutePeer(c.Request.Context(), peerParam(c)))
}

func (h *handlers) stopPeerVideo(c *gin.Context) {
	reply(c, h.room.StopPeerVideo(c.Request.Context(), peerParam(c)))
}

func (h *handlers) stopPeerScreenSharing(c *gin.Context) {
	reply(c, h.room.StopPeerScreenSharing(c.Request.Context(), peerParam(c)))
}

func (h *handlers) lowerHand(c *gin.Context) {
	reply(c, h.room.LowerPeerHand(c.Request.Context(), peerParam(c)))
}

func (h *handlers) muteAll(c *gin.Context)      { reply(c, h.room.MuteAll(c.Request.Context())) }
func (h *handlers) stopAllVideo(c *gin.Context) { reply(c, h.room.StopAllVideo(c.Request.Context())) }

func (h *handlers) stopAllScreenSharing(c *gin.Context) {
	reply(c, h.room.StopAllScreenSharing(c.Request.Context()))
}

func (h *handlers) closeMeeting(c *gin.Context) { reply(c, h.room.CloseMeeting(c.Request.Context())) }
