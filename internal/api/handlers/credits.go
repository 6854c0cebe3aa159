package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Conceptual-Machines/magda-variations/internal/api/middleware"
	"github.com/Conceptual-Machines/magda-variations/internal/models"
	"github.com/Conceptual-Machines/magda-variations/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	defaultStatsWindow = 30 * 24 * time.Hour
	lowCreditThreshold = 5 // warn callers when credits fall below this
)

// CreditsLedger is the read side of services.CreditsService.
type CreditsLedger interface {
	GetOwnerCredits(ctx context.Context, owner string) (*models.OwnerCredits, error)
	GetUsageStats(ctx context.Context, owner string, from, to time.Time) (*services.UsageStats, error)
}

type CreditsHandler struct {
	ledger CreditsLedger
	now    func() time.Time
}

func NewCreditsHandler(ledger CreditsLedger) *CreditsHandler {
	return &CreditsHandler{ledger: ledger, now: time.Now}
}

// GetCredits returns the caller's balance and proposal usage
func (h *CreditsHandler) GetCredits(c *gin.Context) {
	owner, ok := middleware.GetOwner(c)
	if !ok || owner == middleware.AnonymousOwner {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	role := middleware.GetRole(c)

	// Parse time range from query params
	to := h.now()
	from := to.Add(-defaultStatsWindow)
	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from date format (use RFC3339)"})
			return
		}
		from = parsed
	}

	// An owner with no ledger row has not been charged yet
	balance := models.InitialCreditsForRole(role)
	var updatedAt *time.Time
	credits, err := h.ledger.GetOwnerCredits(c.Request.Context(), owner)
	switch {
	case err == nil:
		balance = credits.Credits
		updatedAt = &credits.UpdatedAt
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get credits"})
		return
	}

	stats, err := h.ledger.GetUsageStats(c.Request.Context(), owner, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get usage stats"})
		return
	}

	resp := gin.H{
		"owner":      owner,
		"credits":    balance,
		"unlimited":  models.HasUnlimitedCredits(role),
		"low":        !models.HasUnlimitedCredits(role) && balance < lowCreditThreshold,
		"usage":      stats,
		"from":       from.UTC().Format(time.RFC3339),
		"to":         to.UTC().Format(time.RFC3339),
		"updated_at": updatedAt,
	}
	c.JSON(http.StatusOK, resp)
}
