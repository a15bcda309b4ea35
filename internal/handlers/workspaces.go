package handlers

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/trellis/backend/internal/middleware"
	"github.com/trellis/backend/internal/models"
	"github.com/trellis/backend/internal/services"
	"github.com/trellis/backend/pkg/logger"
	"github.com/trellis/backend/pkg/utils"
)

// Slugs are the tenant namespace, so the charset is locked down: lower
// case, digits, inner hyphens, 3 to 48 characters.
var slugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{1,46}[a-z0-9])$`)

type WorkspacesHandler struct {
	DB    *gorm.DB
	Audit *services.AuditService
}

func NewWorkspacesHandler(db *gorm.DB, audit *services.AuditService) *WorkspacesHandler {
	return &WorkspacesHandler{DB: db, Audit: audit}
}

type createWorkspaceRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

func (h *WorkspacesHandler) Create(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req createWorkspaceRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Slug = strings.ToLower(strings.TrimSpace(req.Slug))

	if req.Name == "" {
		return utils.Error(c, fiber.StatusBadRequest, "name is required")
	}
	if !slugPattern.MatchString(req.Slug) {
		return utils.Error(c, fiber.StatusBadRequest, "slug must be 3-48 lowercase letters, digits, or hyphens")
	}

	var existing models.Workspace
	if err := h.DB.First(&existing, "slug = ?", req.Slug).Error; err == nil {
		return utils.Error(c, fiber.StatusConflict, "slug is already taken")
	} else if err != gorm.ErrRecordNotFound {
		return utils.Error(c, fiber.StatusInternalServerError, "failed checking slug")
	}

	workspace := models.Workspace{
		Name:    req.Name,
		Slug:    req.Slug,
		OwnerID: currentUser.ID,
	}

	// The creator becomes the first Admin member in the same
	// transaction; a workspace without an active admin is unreachable.
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&workspace).Error; err != nil {
			return err
		}
		member := models.Member{
			UserID:      currentUser.ID,
			WorkspaceID: workspace.ID,
			Role:        models.RoleAdmin,
			IsActive:    true,
		}
		return tx.Create(&member).Error
	})
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating workspace")
	}

	logger.InfoWithUser(currentUser.ID.String(), "workspace_created", map[string]interface{}{
		"workspace_id": workspace.ID.String(),
		"slug":         workspace.Slug,
	})

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "workspace.create",
		ResourceType: "workspace",
		ResourceID:   &workspace.ID,
		Details: map[string]interface{}{
			"name": workspace.Name,
			"slug": workspace.Slug,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, workspace)
}

func (h *WorkspacesHandler) List(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	workspaces := []models.Workspace{}
	if err := h.DB.
		Joins("JOIN members ON members.workspace_id = workspaces.id").
		Where("members.user_id = ? AND members.is_active = ? AND members.deleted_at IS NULL", currentUser.ID, true).
		Order("workspaces.created_at ASC").
		Find(&workspaces).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing workspaces")
	}

	return utils.Success(c, fiber.StatusOK, workspaces)
}

func (h *WorkspacesHandler) Get(c *fiber.Ctx) error {
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if workspace == nil || member == nil {
		return utils.Denied(c)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"workspace": workspace,
		"role":      member.Role.String(),
	})
}

type updateWorkspaceRequest struct {
	Name    *string `json:"name"`
	LogoURL *string `json:"logoURL"`
}

func (h *WorkspacesHandler) Update(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	if !member.Role.AtLeast(models.RoleAdmin) {
		return utils.Denied(c)
	}

	var req updateWorkspaceRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		value := strings.TrimSpace(*req.Name)
		if value == "" {
			return utils.Error(c, fiber.StatusBadRequest, "name cannot be empty")
		}
		updates["name"] = value
	}
	if req.LogoURL != nil {
		trimmed := strings.TrimSpace(*req.LogoURL)
		if trimmed == "" {
			updates["logo_url"] = nil
		} else {
			updates["logo_url"] = trimmed
		}
	}

	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	if err := h.DB.Model(&models.Workspace{}).Where("id = ?", workspace.ID).Updates(updates).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating workspace")
	}

	var updated models.Workspace
	if err := h.DB.First(&updated, "id = ?", workspace.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed reloading workspace")
	}

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "workspace.update",
		ResourceType: "workspace",
		ResourceID:   &workspace.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, updated)
}

func (h *WorkspacesHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	if !member.Role.AtLeast(models.RoleAdmin) {
		return utils.Denied(c)
	}

	if err := h.DB.Delete(&models.Workspace{}, "id = ?", workspace.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting workspace")
	}

	logger.InfoWithUser(currentUser.ID.String(), "workspace_deleted", map[string]interface{}{
		"workspace_id": workspace.ID.String(),
		"slug":         workspace.Slug,
	})

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "workspace.delete",
		ResourceType: "workspace",
		ResourceID:   &workspace.ID,
		Details: map[string]interface{}{
			"slug": workspace.Slug,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "workspace deleted"})
}
