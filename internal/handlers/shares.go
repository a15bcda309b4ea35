package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trellis/backend/internal/middleware"
	"github.com/trellis/backend/internal/models"
	"github.com/trellis/backend/internal/services"
	"github.com/trellis/backend/pkg/logger"
	"github.com/trellis/backend/pkg/utils"
)

// SharesHandler manages the share subresource of documents and pages.
// Handlers are parameterized by resource kind so one implementation
// serves both route trees.
type SharesHandler struct {
	DB     *gorm.DB
	Access *services.AccessService
	Audit  *services.AuditService
}

func NewSharesHandler(db *gorm.DB, access *services.AccessService, audit *services.AuditService) *SharesHandler {
	return &SharesHandler{DB: db, Access: access, Audit: audit}
}

// loadResource fetches the share target scoped to the workspace. On
// failure the response has already been written and the returned
// resource is nil.
func (h *SharesHandler) loadResource(c *fiber.Ctx, kind models.ShareResourceKind, workspaceID uuid.UUID) (services.AccessControlled, error) {
	resourceID, err := parseUUID(c.Params("id"))
	if err != nil {
		return nil, utils.Error(c, fiber.StatusBadRequest, "invalid "+string(kind)+" id")
	}

	switch kind {
	case models.ShareResourceDocument:
		var doc models.Document
		if err := h.DB.First(&doc, "id = ? AND workspace_id = ?", resourceID, workspaceID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, utils.Denied(c)
			}
			return nil, utils.Error(c, fiber.StatusInternalServerError, "failed loading document")
		}
		return doc, nil
	case models.ShareResourcePage:
		var page models.Page
		if err := h.DB.First(&page, "id = ? AND workspace_id = ?", resourceID, workspaceID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, utils.Denied(c)
			}
			return nil, utils.Error(c, fiber.StatusInternalServerError, "failed loading page")
		}
		return page, nil
	default:
		return nil, utils.Error(c, fiber.StatusInternalServerError, "unknown resource kind")
	}
}

type createShareRequest struct {
	UserID     uuid.UUID `json:"userID"`
	Permission string    `json:"permission"`
}

// Create grants a workspace member access to one resource.
func (h *SharesHandler) Create(kind models.ShareResourceKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		currentUser := middleware.GetCurrentUser(c)
		workspace := middleware.GetCurrentWorkspace(c)
		member := middleware.GetCurrentMember(c)
		if currentUser == nil || workspace == nil || member == nil {
			return utils.Denied(c)
		}

		resource, err := h.loadResource(c, kind, workspace.ID)
		if resource == nil {
			return err
		}

		if !h.Access.CanManageShares(c.Context(), member, resource) {
			return utils.Denied(c)
		}

		var req createShareRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
		}

		if !isValidSharePermission(req.Permission) {
			return utils.Error(c, fiber.StatusBadRequest, "permission must be view, edit, or admin")
		}
		permission := models.SharePermission(strings.ToLower(strings.TrimSpace(req.Permission)))

		if req.UserID == uuid.Nil {
			return utils.Error(c, fiber.StatusBadRequest, "userID is required")
		}
		if req.UserID == resource.ResourceOwnerID() {
			return utils.Error(c, fiber.StatusBadRequest, "the owner does not need a share")
		}

		// Grants only go to active members of the workspace.
		if _, err := h.Access.ActiveMembership(c.Context(), req.UserID, workspace.ID); err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.Error(c, fiber.StatusBadRequest, "user is not an active member of this workspace")
			}
			return utils.Error(c, fiber.StatusInternalServerError, "failed checking membership")
		}

		// One active share per (resource, user). A previously revoked
		// share is soft deleted and does not block a fresh grant.
		var existing int64
		if err := h.DB.Model(&models.Share{}).
			Where("resource_kind = ? AND resource_id = ? AND user_id = ?", kind, resource.ResourceID(), req.UserID).
			Count(&existing).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed checking existing shares")
		}
		if existing > 0 {
			return utils.Error(c, fiber.StatusConflict, "share already exists for this user")
		}

		share := models.Share{
			ResourceKind: kind,
			ResourceID:   resource.ResourceID(),
			WorkspaceID:  workspace.ID,
			UserID:       req.UserID,
			Permission:   permission,
			CreatedByID:  currentUser.ID,
		}

		if err := h.DB.Create(&share).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed creating share")
		}

		logger.InfoWithUser(currentUser.ID.String(), "share_created", map[string]interface{}{
			"workspace_id":  workspace.ID.String(),
			"resource_kind": string(kind),
			"resource_id":   resource.ResourceID().String(),
			"share_id":      share.ID.String(),
			"user_id":       req.UserID.String(),
			"permission":    string(permission),
		})

		resourceID := resource.ResourceID()
		h.Audit.LogAsync(services.AuditEntry{
			WorkspaceID:  &workspace.ID,
			UserID:       &currentUser.ID,
			Action:       "share.create",
			ResourceType: string(kind),
			ResourceID:   &resourceID,
			Details: map[string]interface{}{
				"share_id":   share.ID.String(),
				"user_id":    req.UserID.String(),
				"permission": string(permission),
			},
			IPAddress: c.IP(),
			RequestID: getRequestID(c),
		})

		return utils.Success(c, fiber.StatusCreated, share)
	}
}

// List returns the active shares on one resource.
func (h *SharesHandler) List(kind models.ShareResourceKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		workspace := middleware.GetCurrentWorkspace(c)
		member := middleware.GetCurrentMember(c)
		if workspace == nil || member == nil {
			return utils.Denied(c)
		}

		resource, err := h.loadResource(c, kind, workspace.ID)
		if resource == nil {
			return err
		}

		if !h.Access.CanManageShares(c.Context(), member, resource) {
			return utils.Denied(c)
		}

		shares := []models.Share{}
		if err := h.DB.Preload("User").Preload("CreatedBy").
			Where("resource_kind = ? AND resource_id = ?", kind, resource.ResourceID()).
			Order("created_at ASC").
			Find(&shares).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed listing shares")
		}

		return utils.Success(c, fiber.StatusOK, shares)
	}
}

type updateShareRequest struct {
	Permission string `json:"permission"`
}

// Update changes the tier of an existing share.
func (h *SharesHandler) Update(kind models.ShareResourceKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		currentUser := middleware.GetCurrentUser(c)
		workspace := middleware.GetCurrentWorkspace(c)
		member := middleware.GetCurrentMember(c)
		if currentUser == nil || workspace == nil || member == nil {
			return utils.Denied(c)
		}

		resource, err := h.loadResource(c, kind, workspace.ID)
		if resource == nil {
			return err
		}

		if !h.Access.CanManageShares(c.Context(), member, resource) {
			return utils.Denied(c)
		}

		shareID, err := parseUUID(c.Params("shareId"))
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid share id")
		}

		var share models.Share
		if err := h.DB.First(&share,
			"id = ? AND resource_kind = ? AND resource_id = ?", shareID, kind, resource.ResourceID()).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.Error(c, fiber.StatusNotFound, "share not found")
			}
			return utils.Error(c, fiber.StatusInternalServerError, "failed loading share")
		}

		var req updateShareRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
		}
		if !isValidSharePermission(req.Permission) {
			return utils.Error(c, fiber.StatusBadRequest, "permission must be view, edit, or admin")
		}
		permission := models.SharePermission(strings.ToLower(strings.TrimSpace(req.Permission)))

		oldPermission := share.Permission
		if err := h.DB.Model(&share).Update("permission", permission).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed updating share")
		}
		share.Permission = permission

		resourceID := resource.ResourceID()
		h.Audit.LogAsync(services.AuditEntry{
			WorkspaceID:  &workspace.ID,
			UserID:       &currentUser.ID,
			Action:       "share.update",
			ResourceType: string(kind),
			ResourceID:   &resourceID,
			Details: map[string]interface{}{
				"share_id":       share.ID.String(),
				"user_id":        share.UserID.String(),
				"old_permission": string(oldPermission),
				"new_permission": string(permission),
			},
			IPAddress: c.IP(),
			RequestID: getRequestID(c),
		})

		return utils.Success(c, fiber.StatusOK, share)
	}
}

// Revoke soft-deletes a share; the user immediately loses the grant.
func (h *SharesHandler) Revoke(kind models.ShareResourceKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		currentUser := middleware.GetCurrentUser(c)
		workspace := middleware.GetCurrentWorkspace(c)
		member := middleware.GetCurrentMember(c)
		if currentUser == nil || workspace == nil || member == nil {
			return utils.Denied(c)
		}

		resource, err := h.loadResource(c, kind, workspace.ID)
		if resource == nil {
			return err
		}

		if !h.Access.CanManageShares(c.Context(), member, resource) {
			return utils.Denied(c)
		}

		shareID, err := parseUUID(c.Params("shareId"))
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid share id")
		}

		var share models.Share
		if err := h.DB.First(&share,
			"id = ? AND resource_kind = ? AND resource_id = ?", shareID, kind, resource.ResourceID()).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.Error(c, fiber.StatusNotFound, "share not found")
			}
			return utils.Error(c, fiber.StatusInternalServerError, "failed loading share")
		}

		if err := h.DB.Delete(&share).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed revoking share")
		}

		logger.InfoWithUser(currentUser.ID.String(), "share_revoked", map[string]interface{}{
			"workspace_id":  workspace.ID.String(),
			"resource_kind": string(kind),
			"resource_id":   resource.ResourceID().String(),
			"share_id":      share.ID.String(),
			"user_id":       share.UserID.String(),
		})

		resourceID := resource.ResourceID()
		h.Audit.LogAsync(services.AuditEntry{
			WorkspaceID:  &workspace.ID,
			UserID:       &currentUser.ID,
			Action:       "share.revoke",
			ResourceType: string(kind),
			ResourceID:   &resourceID,
			Details: map[string]interface{}{
				"share_id": share.ID.String(),
				"user_id":  share.UserID.String(),
			},
			IPAddress: c.IP(),
			RequestID: getRequestID(c),
		})

		return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "share revoked"})
	}
}
