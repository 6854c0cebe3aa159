package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/Conceptual-Machines/magda-variations/internal/api/middleware"
	"github.com/Conceptual-Machines/magda-variations/internal/logger"
	"github.com/Conceptual-Machines/magda-variations/internal/models"
	"github.com/Conceptual-Machines/magda-variations/internal/services"
	"github.com/Conceptual-Machines/magda-variations/internal/stream"
	"github.com/gin-gonic/gin"
)

// VariationService is what the variation endpoints need from the service layer.
type VariationService interface {
	Propose(ctx context.Context, caller services.Caller, req services.ProposeRequest) (*services.ProposeResponse, error)
	Get(variationID string) (*models.Variation, error)
	Subscribe(variationID string, fromSequence int64) (*stream.Cursor, error)
	StreamClosed(cursor *stream.Cursor)
	Discard(ctx context.Context, req services.DiscardRequest) error
	Commits() *services.CommitEngine
}

type VariationHandler struct {
	svc VariationService
}

func NewVariationHandler(svc VariationService) *VariationHandler {
	return &VariationHandler{svc: svc}
}

// callerFrom builds the service caller from the auth middleware values.
// The NoAuth placeholder owner is not a real identity and is dropped.
func callerFrom(c *gin.Context) services.Caller {
	owner, _ := middleware.GetOwner(c)
	if owner == middleware.AnonymousOwner {
		owner = ""
	}
	return services.Caller{
		Owner:     owner,
		Role:      middleware.GetRole(c),
		RequestID: c.GetString("request_id"),
	}
}

// Propose handles POST /variation/propose
func (h *VariationHandler) Propose(c *gin.Context) {
	var req services.ProposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	resp, err := h.svc.Propose(c.Request.Context(), callerFrom(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Get handles GET /variation/:id
func (h *VariationHandler) Get(c *gin.Context) {
	v, err := h.svc.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// Commit handles POST /variation/commit
func (h *VariationHandler) Commit(c *gin.Context) {
	var req services.CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	result, err := h.svc.Commits().Commit(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Discard handles POST /variation/discard
func (h *VariationHandler) Discard(c *gin.Context) {
	var req services.DiscardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	if err := h.svc.Discard(c.Request.Context(), req); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// fromSequence reads the replay position from the query, falling back to Last-Event-ID on reconnect.
func fromSequence(c *gin.Context) (int64, error) {
	raw := c.Query("fromSequence")
	if raw == "" {
		raw = c.GetHeader("Last-Event-ID")
	}
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("fromSequence must be a non-negative integer, got %q", raw)
	}
	return n, nil
}

// Stream handles GET /variation/stream?variationId&fromSequence
// It replays retained events after fromSequence, follows live events and ends after done.
func (h *VariationHandler) Stream(c *gin.Context) {
	variationID := c.Query("variationId")
	if variationID == "" {
		writeBindError(c, errors.New("variationId is required"))
		return
	}
	from, err := fromSequence(c)
	if err != nil {
		writeBindError(c, err)
		return
	}

	cursor, err := h.svc.Subscribe(variationID, from)
	if err != nil {
		writeError(c, err)
		return
	}
	defer h.svc.StreamClosed(cursor)

	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	fields := logger.WithContext(c).With(logger.Fields{
		"variation_id":  variationID,
		"from_sequence": from,
	})
	logger.Debug("Stream opened", fields)

	ctx := c.Request.Context()
	for {
		env, err := cursor.Next(ctx)
		if errors.Is(err, io.EOF) {
			logger.Debug("Stream complete", fields)
			return
		}
		if err != nil {
			// client went away
			return
		}
		if err := writeEvent(c.Writer, env); err != nil {
			logger.Warn("Failed to write stream event", fields.With(logger.Fields{"error": err.Error()}))
			return
		}
		c.Writer.Flush()
	}
}

// writeEvent writes one SSE frame. Sequenced events carry their sequence as the event id
// so a reconnecting EventSource resumes with Last-Event-ID.
func writeEvent(w io.Writer, env models.EventEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if env.Sequence > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", env.Sequence); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Type, data)
	return err
}
