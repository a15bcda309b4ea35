package handlers

import (
	"regexp"
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

// Identifiers prefix issue keys (TRL-42), so they stay short and upper case.
var identifierPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,11}$`)

type ProjectsHandler struct {
	DB     *gorm.DB
	Access *services.AccessService
	Audit  *services.AuditService
}

func NewProjectsHandler(db *gorm.DB, access *services.AccessService, audit *services.AuditService) *ProjectsHandler {
	return &ProjectsHandler{DB: db, Access: access, Audit: audit}
}

type createProjectRequest struct {
	Identifier  string     `json:"identifier"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	LeadID      *uuid.UUID `json:"leadID"`
}

func (h *ProjectsHandler) Create(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	if decision := h.Access.EvaluateCollection(member, services.MethodMutating); !decision.Allowed {
		return utils.Denied(c)
	}

	var req createProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Identifier = strings.ToUpper(strings.TrimSpace(req.Identifier))
	req.Name = strings.TrimSpace(req.Name)
	if !identifierPattern.MatchString(req.Identifier) {
		return utils.Error(c, fiber.StatusBadRequest, "identifier must be 2 to 12 characters, upper case letters and digits, starting with a letter")
	}
	if req.Name == "" {
		return utils.Error(c, fiber.StatusBadRequest, "name is required")
	}

	var count int64
	if err := h.DB.Model(&models.Project{}).
		Where("workspace_id = ? AND identifier = ?", workspace.ID, req.Identifier).
		Count(&count).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed checking identifier")
	}
	if count > 0 {
		return utils.Error(c, fiber.StatusConflict, "identifier is already taken in this workspace")
	}

	if req.LeadID != nil {
		if _, err := h.Access.ActiveMembership(c.Context(), *req.LeadID, workspace.ID); err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.Error(c, fiber.StatusBadRequest, "lead must be an active member of this workspace")
			}
			return utils.Error(c, fiber.StatusInternalServerError, "failed checking lead membership")
		}
	}

	project := models.Project{
		WorkspaceID: workspace.ID,
		Identifier:  req.Identifier,
		Name:        req.Name,
		Description: req.Description,
		LeadID:      req.LeadID,
		CreatedByID: currentUser.ID,
	}

	if err := h.DB.Create(&project).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating project")
	}

	logger.InfoWithUser(currentUser.ID.String(), "project_created", map[string]interface{}{
		"workspace_id": workspace.ID.String(),
		"project_id":   project.ID.String(),
		"identifier":   project.Identifier,
	})

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "project.create",
		ResourceType: "project",
		ResourceID:   &project.ID,
		Details: map[string]interface{}{
			"identifier": project.Identifier,
			"name":       project.Name,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, project)
}

func (h *ProjectsHandler) List(c *fiber.Ctx) error {
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if workspace == nil || member == nil {
		return utils.Denied(c)
	}

	if decision := h.Access.EvaluateCollection(member, services.MethodSafe); !decision.Allowed {
		return utils.Denied(c)
	}

	p := utils.ParsePagination(c)

	baseQuery := h.DB.Model(&models.Project{}).Where("workspace_id = ?", workspace.ID)

	if search := strings.TrimSpace(c.Query("search")); search != "" {
		pattern := "%" + search + "%"
		baseQuery = baseQuery.Where("name LIKE ? OR identifier LIKE ?", pattern, pattern)
	}

	var total int64
	if err := baseQuery.Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed counting projects")
	}

	projects := []models.Project{}
	if err := utils.ApplyPagination(baseQuery.Preload("Lead").Order("identifier ASC"), p).
		Find(&projects).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing projects")
	}

	return utils.Paginated(c, projects, p.Page, p.Limit, total)
}

func (h *ProjectsHandler) Get(c *fiber.Ctx) error {
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if workspace == nil || member == nil {
		return utils.Denied(c)
	}

	if decision := h.Access.EvaluateCollection(member, services.MethodSafe); !decision.Allowed {
		return utils.Denied(c)
	}

	projectID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid project id")
	}

	var project models.Project
	if err := h.DB.Preload("Lead").First(&project, "id = ? AND workspace_id = ?", projectID, workspace.ID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "project not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading project")
	}

	return utils.Success(c, fiber.StatusOK, project)
}

type updateProjectRequest struct {
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	LeadID      *uuid.UUID `json:"leadID"`
	ClearLead   bool       `json:"clearLead"`
}

func (h *ProjectsHandler) Update(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	if decision := h.Access.EvaluateCollection(member, services.MethodMutating); !decision.Allowed {
		return utils.Denied(c)
	}

	projectID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid project id")
	}

	var project models.Project
	if err := h.DB.First(&project, "id = ? AND workspace_id = ?", projectID, workspace.ID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "project not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading project")
	}

	var req updateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return utils.Error(c, fiber.StatusBadRequest, "name cannot be empty")
		}
		updates["name"] = name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.ClearLead {
		updates["lead_id"] = nil
	} else if req.LeadID != nil {
		if _, err := h.Access.ActiveMembership(c.Context(), *req.LeadID, workspace.ID); err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.Error(c, fiber.StatusBadRequest, "lead must be an active member of this workspace")
			}
			return utils.Error(c, fiber.StatusInternalServerError, "failed checking lead membership")
		}
		updates["lead_id"] = *req.LeadID
	}

	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no fields to update")
	}

	if err := h.DB.Model(&project).Updates(updates).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating project")
	}

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "project.update",
		ResourceType: "project",
		ResourceID:   &project.ID,
		Details: map[string]interface{}{
			"identifier": project.Identifier,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, project)
}

func (h *ProjectsHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	if decision := h.Access.EvaluateCollection(member, services.MethodMutating); !decision.Allowed {
		return utils.Denied(c)
	}

	projectID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid project id")
	}

	var project models.Project
	if err := h.DB.First(&project, "id = ? AND workspace_id = ?", projectID, workspace.ID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "project not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading project")
	}

	// Issues go with their project; both deletes are soft.
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", project.ID).Delete(&models.Issue{}).Error; err != nil {
			return err
		}
		return tx.Delete(&project).Error
	})
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting project")
	}

	logger.InfoWithUser(currentUser.ID.String(), "project_deleted", map[string]interface{}{
		"workspace_id": workspace.ID.String(),
		"project_id":   project.ID.String(),
		"identifier":   project.Identifier,
	})

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "project.delete",
		ResourceType: "project",
		ResourceID:   &project.ID,
		Details: map[string]interface{}{
			"identifier": project.Identifier,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "project deleted"})
}
