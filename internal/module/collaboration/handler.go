package collaboration

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/pagecraft/server/internal/shared/errors"
)

// Handler serves the read-only HTTP surface of the collaboration engine:
// share-link resolution and project snapshots. All mutation goes through the
// websocket protocol so permission checks are never bypassed.
type Handler struct {
	store    *Store
	registry *Registry
	hub      *Hub
}

// NewHandler creates a new collaboration HTTP handler.
func NewHandler(store *Store, registry *Registry, hub *Hub) *Handler {
	return &Handler{
		store:    store,
		registry: registry,
		hub:      hub,
	}
}

// RegisterRoutes registers collaboration routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	collab := r.Group("/collab")
	{
		collab.GET("/join/:token", h.ResolveShareLink)
		collab.GET("/projects/:id", h.GetProject)
	}
}

// ShareLinkResponse is returned when a share token resolves.
type ShareLinkResponse struct {
	ProjectID   uuid.UUID `json:"projectId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	MemberCount int       `json:"memberCount"`
	DefaultRole Role      `json:"defaultRole"`
	ShareLink   string    `json:"shareLink"`
}

// ProjectResponse is the HTTP project snapshot.
type ProjectResponse struct {
	Project       ProjectView `json:"project"`
	OnlineUserIDs []string    `json:"onlineUserIds"`
}

// ResolveShareLink handles invite-link resolution.
//
//	@Summary		Resolve share link
//	@Description	Resolve a project share token to a joinable project summary
//	@Tags			Collaboration
//	@Produce		json
//	@Param			token	path		string	true	"Share token"
//	@Success		200		{object}	ShareLinkResponse
//	@Failure		404		{object}	apperrors.ErrorResponse
//	@Router			/collab/join/{token} [get]
func (h *Handler) ResolveShareLink(c *gin.Context) {
	token := c.Param("token")

	var resp ShareLinkResponse
	found := h.store.ViewByShareToken(token, func(p *Project) {
		resp = ShareLinkResponse{
			ProjectID:   p.ID,
			Name:        p.Name,
			Description: p.Description,
			MemberCount: len(p.Members),
			DefaultRole: p.DefaultRole,
			ShareLink:   h.hub.ShareLink(p.ShareToken),
		}
	})
	if !found {
		h.handleError(c, apperrors.NotFound("project"))
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetProject handles reading a project snapshot with computed presence.
//
//	@Summary		Get project
//	@Description	Get a collaboration project snapshot with the online user set
//	@Tags			Collaboration
//	@Produce		json
//	@Param			id	path		string	true	"Project ID"
//	@Success		200	{object}	ProjectResponse
//	@Failure		400	{object}	apperrors.ErrorResponse
//	@Failure		404	{object}	apperrors.ErrorResponse
//	@Router			/collab/projects/{id} [get]
func (h *Handler) GetProject(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.handleError(c, apperrors.BadRequest("invalid project id"))
		return
	}

	var resp ProjectResponse
	found := h.store.View(id, func(p *Project) {
		resp = ProjectResponse{
			Project:       h.hub.projectView(p),
			OnlineUserIDs: h.registry.OnlineUserIDs(p.ID),
		}
	})
	if !found {
		h.handleError(c, apperrors.NotFound("project"))
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) handleError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if e, ok := err.(*apperrors.AppError); ok {
		appErr = e
	} else {
		appErr = apperrors.Internal("internal error", err)
	}
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}
