package handlers

import (
	"net/http"
	"strings"

	"github.com/Conceptual-Machines/magda-variations/internal/logger"
	"github.com/Conceptual-Machines/magda-variations/internal/models"
	"github.com/gin-gonic/gin"
)

// AdminService is the operator view of the variation service.
type AdminService interface {
	List(projectID string, status models.Status) ([]*models.Variation, error)
	Sweep() (expired, deleted int)
}

type AdminHandler struct {
	svc AdminService
}

func NewAdminHandler(svc AdminService) *AdminHandler {
	return &AdminHandler{svc: svc}
}

// variationSummary drops phrase bodies from admin listings.
type variationSummary struct {
	VariationID string            `json:"variationId"`
	ProjectID   string            `json:"projectId"`
	BaseStateID string            `json:"baseStateId"`
	Status      models.Status     `json:"status"`
	Intent      string            `json:"intent"`
	PhraseCount int               `json:"phraseCount"`
	NoteCounts  models.NoteCounts `json:"noteCounts"`
}

// ListVariations returns variations, filtered by ?project_id= and ?status=
func (h *AdminHandler) ListVariations(c *gin.Context) {
	status := models.Status(strings.ToUpper(c.Query("status")))

	variations, err := h.svc.List(c.Query("project_id"), status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch variations"})
		return
	}

	out := make([]variationSummary, 0, len(variations))
	for _, v := range variations {
		out = append(out, variationSummary{
			VariationID: v.VariationID,
			ProjectID:   v.ProjectID,
			BaseStateID: v.BaseStateID,
			Status:      v.Status,
			Intent:      v.Intent,
			PhraseCount: len(v.Phrases),
			NoteCounts:  v.NoteCounts,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"variations": out,
		"total":      len(out),
	})
}

// Sweep runs the expiry janitor once
func (h *AdminHandler) Sweep(c *gin.Context) {
	expired, deleted := h.svc.Sweep()
	logger.Info("🧹 Manual sweep", logger.WithContext(c).With(logger.Fields{
		"expired": expired,
		"deleted": deleted,
	}))
	c.JSON(http.StatusOK, gin.H{
		"expired": expired,
		"deleted": deleted,
	})
}
