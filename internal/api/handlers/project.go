package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Conceptual-Machines/magda-variations/internal/canonical"
	"github.com/Conceptual-Machines/magda-variations/internal/logger"
	"github.com/Conceptual-Machines/magda-variations/internal/variation"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxProjectIDLength = 64

type ProjectHandler struct {
	store canonical.Store
}

func NewProjectHandler(store canonical.Store) *ProjectHandler {
	return &ProjectHandler{store: store}
}

type CreateProjectRequest struct {
	ProjectID string `json:"projectId"`
	Name      string `json:"name" binding:"required"`
}

// Create handles POST /projects
func (h *ProjectHandler) Create(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	projectID := strings.TrimSpace(req.ProjectID)
	if projectID == "" {
		projectID = uuid.New().String()
	}
	if len(projectID) > maxProjectIDLength {
		writeError(c, variation.BadRequest("projectId is longer than %d characters", maxProjectIDLength))
		return
	}

	project, err := h.store.CreateProject(c.Request.Context(), projectID, strings.TrimSpace(req.Name))
	if err != nil {
		if errors.Is(err, canonical.ErrProjectExists) {
			c.JSON(http.StatusConflict, gin.H{
				"error":      err.Error(),
				"code":       "project_exists",
				"request_id": c.GetString("request_id"),
			})
			return
		}
		writeError(c, err)
		return
	}

	logger.Info("📁 Project created", logger.WithContext(c).With(logger.Fields{
		"project_id": project.ProjectID,
		"state_id":   project.StateID,
	}))
	c.JSON(http.StatusCreated, project)
}

// Get handles GET /projects/:id
func (h *ProjectHandler) Get(c *gin.Context) {
	project, err := h.store.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, canonical.ErrProjectNotFound) {
			writeError(c, variation.NotFound("project", c.Param("id")))
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}
