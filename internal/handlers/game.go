package handlers

import (
	"errors"
	"io"
	"net/http"
	"path"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"flipmaster/internal/models"
	"flipmaster/internal/services"
)

type GameHandler struct {
	gameEngine  *services.GameEngine
	stats       *services.StatsAggregator
	assets      *services.AssetResolver
	broadcaster services.Broadcaster
	clock       clock.Clock
	log         zerolog.Logger
}

func NewGameHandler(
	gameEngine *services.GameEngine,
	stats *services.StatsAggregator,
	assets *services.AssetResolver,
	broadcaster services.Broadcaster,
	logger zerolog.Logger,
) *GameHandler {
	if broadcaster == nil {
		broadcaster = services.NopBroadcaster{}
	}
	return &GameHandler{
		gameEngine:  gameEngine,
		stats:       stats,
		assets:      assets,
		broadcaster: broadcaster,
		clock:       clock.New(),
		log:         logger.With().Str("component", "http").Logger(),
	}
}

func (h *GameHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": h.gameEngine.Session(),
		"stats":   h.stats.View(),
		"assets":  h.assets.Capability(),
		"faces": gin.H{
			"heads": h.assets.Face(models.FaceHeads),
			"tails": h.assets.Face(models.FaceTails),
		},
	})
}

func (h *GameHandler) Predict(c *gin.Context) {
	var req models.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	choice, err := models.ParseFace(string(req.Choice))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Choice must be heads or tails",
			"details": err.Error(),
		})
		return
	}

	session, err := h.gameEngine.SelectPrediction(choice)
	if err != nil {
		h.gameError(c, "Failed to select prediction", session, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": session,
	})
}

func (h *GameHandler) Flip(c *gin.Context) {
	session, err := h.gameEngine.Flip(c.Request.Context())
	if errors.Is(err, services.ErrNoPrediction) {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"shake":   true,
			"error":   err.Error(),
			"session": session,
		})
		return
	}
	if err != nil {
		h.gameError(c, "Failed to flip", session, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": session,
	})
}

func (h *GameHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   h.stats.View(),
	})
}

func (h *GameHandler) ResetStats(c *gin.Context) {
	view := h.stats.Reset(c.Request.Context())
	session := h.gameEngine.Session()

	h.broadcaster.BroadcastRound(models.RoundEvent{
		Type:      models.EventStats,
		RoundID:   session.RoundID,
		Session:   session,
		Stats:     &view,
		Timestamp: h.clock.Now(),
	})

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   view,
	})
}

func (h *GameHandler) ServeAsset(c *gin.Context) {
	face, err := models.ParseFace(c.Param("face"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown coin face"})
		return
	}

	f, name, err := h.assets.Open(face)
	if err != nil {
		h.log.Warn().Err(err).Str("face", string(face)).Msg("coin image unavailable")
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Image unavailable",
			"glyph": face.Glyph(),
		})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		h.assets.MarkLoadFailed()
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Image unavailable",
			"glyph": face.Glyph(),
		})
		return
	}

	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, contentType(name), data)
}

func (h *GameHandler) gameError(c *gin.Context, msg string, session models.FlipSession, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, services.ErrRoundInProgress), errors.Is(err, services.ErrAssetsLoading):
		status = http.StatusConflict
	}

	c.JSON(status, gin.H{
		"error":   msg,
		"details": err.Error(),
		"session": session,
	})
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".webp":
		return "image/webp"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
