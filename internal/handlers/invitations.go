package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"net/mail"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/trellis/backend/internal/config"
	"github.com/trellis/backend/internal/middleware"
	"github.com/trellis/backend/internal/models"
	"github.com/trellis/backend/internal/services"
	"github.com/trellis/backend/pkg/logger"
	"github.com/trellis/backend/pkg/utils"
)

type InvitationsHandler struct {
	DB     *gorm.DB
	Audit  *services.AuditService
	Mailer *services.MailerService
	Cfg    config.InvitationConfig
}

func NewInvitationsHandler(db *gorm.DB, audit *services.AuditService, mailer *services.MailerService, cfg config.InvitationConfig) *InvitationsHandler {
	return &InvitationsHandler{DB: db, Audit: audit, Mailer: mailer, Cfg: cfg}
}

type createInvitationRequest struct {
	Email string            `json:"email"`
	Role  models.MemberRole `json:"role"`
}

func (h *InvitationsHandler) Create(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	if !member.Role.AtLeast(models.RoleAdmin) {
		return utils.Denied(c)
	}

	var req createInvitationRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid email")
	}
	if !req.Role.Valid() {
		return utils.Error(c, fiber.StatusBadRequest, "role must be guest (5), member (15), or admin (20)")
	}

	// An existing active member does not need an invitation.
	var invitee models.User
	if err := h.DB.First(&invitee, "email = ?", req.Email).Error; err == nil {
		var existingMember models.Member
		memberErr := h.DB.First(&existingMember,
			"user_id = ? AND workspace_id = ? AND is_active = ?", invitee.ID, workspace.ID, true).Error
		if memberErr == nil {
			return utils.Error(c, fiber.StatusConflict, "user is already a member of this workspace")
		}
	}

	var pending models.Invitation
	if err := h.DB.First(&pending,
		"workspace_id = ? AND email = ? AND status = ?",
		workspace.ID, req.Email, models.InvitationStatusPending).Error; err == nil {
		return utils.Error(c, fiber.StatusConflict, "an invitation for this email is already pending")
	} else if err != gorm.ErrRecordNotFound {
		return utils.Error(c, fiber.StatusInternalServerError, "failed checking invitations")
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to generate invitation token")
	}

	invitation := models.Invitation{
		WorkspaceID: workspace.ID,
		Email:       req.Email,
		Role:        req.Role,
		Token:       hex.EncodeToString(tokenBytes),
		Status:      models.InvitationStatusPending,
		ExpiresAt:   time.Now().Add(h.Cfg.Expiry),
		InvitedByID: currentUser.ID,
	}

	if err := h.DB.Create(&invitation).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating invitation")
	}

	inviterName := strings.TrimSpace(currentUser.FirstName + " " + currentUser.LastName)
	h.Mailer.SendInvitation(invitation.Email, workspace.Name, inviterName, invitation.Role, invitation.Token, invitation.ExpiresAt)

	logger.InfoWithUser(currentUser.ID.String(), "invitation_created", map[string]interface{}{
		"workspace_id":  workspace.ID.String(),
		"invitation_id": invitation.ID.String(),
		"email":         invitation.Email,
		"role":          invitation.Role.String(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "invitation.create",
		ResourceType: "invitation",
		ResourceID:   &invitation.ID,
		Details: map[string]interface{}{
			"email": invitation.Email,
			"role":  invitation.Role.String(),
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, invitation)
}

func (h *InvitationsHandler) List(c *fiber.Ctx) error {
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if workspace == nil || member == nil {
		return utils.Denied(c)
	}

	if !member.Role.AtLeast(models.RoleAdmin) {
		return utils.Denied(c)
	}

	p := utils.ParsePagination(c)

	baseQuery := h.DB.Model(&models.Invitation{}).Where("workspace_id = ?", workspace.ID)

	if status := strings.TrimSpace(c.Query("status")); status != "" {
		baseQuery = baseQuery.Where("status = ?", status)
	}

	var total int64
	if err := baseQuery.Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed counting invitations")
	}

	invitations := []models.Invitation{}
	if err := utils.ApplyPagination(baseQuery.Preload("InvitedBy").Order("created_at DESC"), p).
		Find(&invitations).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing invitations")
	}

	return utils.Paginated(c, invitations, p.Page, p.Limit, total)
}

func (h *InvitationsHandler) Revoke(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	if !member.Role.AtLeast(models.RoleAdmin) {
		return utils.Denied(c)
	}

	invitationID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid invitation id")
	}

	var invitation models.Invitation
	if err := h.DB.First(&invitation, "id = ? AND workspace_id = ?", invitationID, workspace.ID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "invitation not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading invitation")
	}

	if invitation.Status != models.InvitationStatusPending {
		return utils.Error(c, fiber.StatusBadRequest, "only pending invitations can be revoked")
	}

	if err := h.DB.Model(&invitation).Update("status", models.InvitationStatusRevoked).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed revoking invitation")
	}

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "invitation.revoke",
		ResourceType: "invitation",
		ResourceID:   &invitation.ID,
		Details: map[string]interface{}{
			"email": invitation.Email,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "invitation revoked"})
}

type acceptInvitationRequest struct {
	Token string `json:"token"`
}

// Accept turns a pending invitation into an active membership. It is
// not workspace-scoped: the caller is not a member yet.
func (h *InvitationsHandler) Accept(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req acceptInvitationRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Token) == "" {
		return utils.Error(c, fiber.StatusBadRequest, "token is required")
	}

	var invitation models.Invitation
	if err := h.DB.Preload("Workspace").First(&invitation, "token = ?", strings.TrimSpace(req.Token)).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "invitation not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading invitation")
	}

	if invitation.Status != models.InvitationStatusPending {
		return utils.Error(c, fiber.StatusBadRequest, "invitation is no longer valid")
	}

	if time.Now().After(invitation.ExpiresAt) {
		h.DB.Model(&invitation).Update("status", models.InvitationStatusExpired)
		return utils.Error(c, fiber.StatusBadRequest, "invitation has expired")
	}

	// The invitation is bound to an address; forwarding the token to a
	// different account must not grant membership.
	if !strings.EqualFold(invitation.Email, currentUser.Email) {
		return utils.Error(c, fiber.StatusForbidden, "invitation was issued for a different email address")
	}

	var membership models.Member
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		var existing models.Member
		findErr := tx.First(&existing, "user_id = ? AND workspace_id = ?", currentUser.ID, invitation.WorkspaceID).Error
		switch {
		case findErr == nil && existing.IsActive:
			return gorm.ErrDuplicatedKey
		case findErr == nil:
			// Deactivated members come back with the invited role.
			if err := tx.Model(&existing).Updates(map[string]interface{}{
				"is_active":     true,
				"role":          invitation.Role,
				"invited_by_id": invitation.InvitedByID,
			}).Error; err != nil {
				return err
			}
			existing.IsActive = true
			existing.Role = invitation.Role
			membership = existing
		case findErr == gorm.ErrRecordNotFound:
			membership = models.Member{
				UserID:      currentUser.ID,
				WorkspaceID: invitation.WorkspaceID,
				Role:        invitation.Role,
				IsActive:    true,
				InvitedByID: &invitation.InvitedByID,
			}
			if err := tx.Create(&membership).Error; err != nil {
				return err
			}
		default:
			return findErr
		}

		now := time.Now()
		return tx.Model(&invitation).Updates(map[string]interface{}{
			"status":      models.InvitationStatusAccepted,
			"accepted_at": now,
		}).Error
	})
	if err == gorm.ErrDuplicatedKey {
		return utils.Error(c, fiber.StatusConflict, "you are already a member of this workspace")
	}
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed accepting invitation")
	}

	logger.InfoWithUser(currentUser.ID.String(), "invitation_accepted", map[string]interface{}{
		"workspace_id":  invitation.WorkspaceID.String(),
		"invitation_id": invitation.ID.String(),
		"role":          invitation.Role.String(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &invitation.WorkspaceID,
		UserID:       &currentUser.ID,
		Action:       "invitation.accept",
		ResourceType: "invitation",
		ResourceID:   &invitation.ID,
		Details: map[string]interface{}{
			"role": invitation.Role.String(),
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"workspace": invitation.Workspace,
		"member":    membership,
	})
}
