package handlers

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/trellis/backend/internal/middleware"
	"github.com/trellis/backend/internal/models"
	"github.com/trellis/backend/internal/services"
	"github.com/trellis/backend/pkg/logger"
	"github.com/trellis/backend/pkg/utils"
)

type MembersHandler struct {
	DB    *gorm.DB
	Audit *services.AuditService
}

func NewMembersHandler(db *gorm.DB, audit *services.AuditService) *MembersHandler {
	return &MembersHandler{DB: db, Audit: audit}
}

func (h *MembersHandler) List(c *fiber.Ctx) error {
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if workspace == nil || member == nil {
		return utils.Denied(c)
	}

	p := utils.ParsePagination(c)

	baseQuery := h.DB.Model(&models.Member{}).Where("workspace_id = ?", workspace.ID)

	var total int64
	if err := baseQuery.Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed counting members")
	}

	members := []models.Member{}
	if err := utils.ApplyPagination(baseQuery.Preload("User").Order("created_at ASC"), p).
		Find(&members).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing members")
	}

	return utils.Paginated(c, members, p.Page, p.Limit, total)
}

type updateMemberRoleRequest struct {
	Role models.MemberRole `json:"role"`
}

func (h *MembersHandler) UpdateRole(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	if !member.Role.AtLeast(models.RoleAdmin) {
		return utils.Denied(c)
	}

	memberID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid member id")
	}

	var req updateMemberRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if !req.Role.Valid() {
		return utils.Error(c, fiber.StatusBadRequest, "role must be guest (5), member (15), or admin (20)")
	}

	var target models.Member
	if err := h.DB.First(&target, "id = ? AND workspace_id = ?", memberID, workspace.ID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "member not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading member")
	}

	// The owner's membership is always admin.
	if target.UserID == workspace.OwnerID && req.Role != models.RoleAdmin {
		return utils.Error(c, fiber.StatusBadRequest, "the workspace owner must stay an admin")
	}

	previousRole := target.Role
	if err := h.DB.Model(&target).Update("role", req.Role).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating member role")
	}

	logger.InfoWithUser(currentUser.ID.String(), "member_role_updated", map[string]interface{}{
		"workspace_id":   workspace.ID.String(),
		"member_id":      target.ID.String(),
		"member_user_id": target.UserID.String(),
		"old_role":       previousRole.String(),
		"new_role":       req.Role.String(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "member.role_update",
		ResourceType: "member",
		ResourceID:   &target.ID,
		Details: map[string]interface{}{
			"member_user_id": target.UserID.String(),
			"old_role":       previousRole.String(),
			"new_role":       req.Role.String(),
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	target.Role = req.Role
	return utils.Success(c, fiber.StatusOK, target)
}

func (h *MembersHandler) Deactivate(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	if !member.Role.AtLeast(models.RoleAdmin) {
		return utils.Denied(c)
	}

	memberID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid member id")
	}

	var target models.Member
	if err := h.DB.First(&target, "id = ? AND workspace_id = ?", memberID, workspace.ID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "member not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading member")
	}

	if target.UserID == workspace.OwnerID {
		return utils.Error(c, fiber.StatusBadRequest, "the workspace owner cannot be deactivated")
	}

	if !target.IsActive {
		return utils.Error(c, fiber.StatusBadRequest, "member is already deactivated")
	}

	// Deactivation, never deletion; a later invitation can reactivate
	// the row.
	if err := h.DB.Model(&target).Update("is_active", false).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deactivating member")
	}

	logger.InfoWithUser(currentUser.ID.String(), "member_deactivated", map[string]interface{}{
		"workspace_id":   workspace.ID.String(),
		"member_id":      target.ID.String(),
		"member_user_id": target.UserID.String(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "member.deactivate",
		ResourceType: "member",
		ResourceID:   &target.ID,
		Details: map[string]interface{}{
			"member_user_id": target.UserID.String(),
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "member deactivated"})
}
