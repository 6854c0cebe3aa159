package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Conceptual-Machines/magda-variations/internal/api/middleware"
	"github.com/Conceptual-Machines/magda-variations/internal/models"
	"github.com/Conceptual-Machines/magda-variations/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeLedger struct {
	credits  map[string]*models.OwnerCredits
	stats    services.UsageStats
	gotFrom  time.Time
	gotOwner string
}

func (f *fakeLedger) GetOwnerCredits(_ context.Context, owner string) (*models.OwnerCredits, error) {
	c, ok := f.credits[owner]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return c, nil
}

func (f *fakeLedger) GetUsageStats(_ context.Context, owner string, from, _ time.Time) (*services.UsageStats, error) {
	f.gotOwner = owner
	f.gotFrom = from
	return &f.stats, nil
}

func setupCreditsRouter(ledger CreditsLedger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.GatewayAuth())
	router.GET("/api/credits", NewCreditsHandler(ledger).GetCredits)
	return router
}

func TestCreditsHandler_GetCredits(t *testing.T) {
	ledger := &fakeLedger{
		credits: map[string]*models.OwnerCredits{
			"u1": {Owner: "u1", Role: models.RoleUser, Credits: 3},
		},
		stats: services.UsageStats{TotalProposals: 22, TotalCreditsUsed: 22},
	}
	router := setupCreditsRouter(ledger)

	tests := []struct {
		name        string
		owner       string
		role        string
		query       string
		wantStatus  int
		wantCredits float64
		wantLow     bool
	}{
		{name: "existing owner with low balance", owner: "u1", role: models.RoleUser, wantStatus: http.StatusOK, wantCredits: 3, wantLow: true},
		{name: "new beta owner gets opening balance", owner: "u2", role: models.RoleBeta, wantStatus: http.StatusOK, wantCredits: models.BetaInitialCredits},
		{name: "bad from date", owner: "u1", query: "?from=yesterday", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/credits"+tt.query, nil)
			req.Header.Set("X-User-ID", tt.owner)
			req.Header.Set("X-User-Role", tt.role)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.owner, resp["owner"])
			assert.Equal(t, tt.wantCredits, resp["credits"])
			assert.Equal(t, tt.wantLow, resp["low"])
			usage, ok := resp["usage"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, float64(22), usage["total_proposals"])
		})
	}
}

func TestCreditsHandler_FromQuery(t *testing.T) {
	ledger := &fakeLedger{}
	router := setupCreditsRouter(ledger)

	req := httptest.NewRequest(http.MethodGet, "/api/credits?from=2026-01-01T00:00:00Z", nil)
	req.Header.Set("X-User-ID", "u9")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u9", ledger.gotOwner)
	assert.True(t, ledger.gotFrom.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestCreditsHandler_RejectsAnonymous(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.NoAuth())
	router.GET("/api/credits", NewCreditsHandler(&fakeLedger{}).GetCredits)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/credits", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
