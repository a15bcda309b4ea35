package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trellis/backend/internal/middleware"
	"github.com/trellis/backend/internal/models"
	"github.com/trellis/backend/internal/services"
	"github.com/trellis/backend/pkg/utils"
)

type IssuesHandler struct {
	DB     *gorm.DB
	Access *services.AccessService
	Audit  *services.AuditService
}

func NewIssuesHandler(db *gorm.DB, access *services.AccessService, audit *services.AuditService) *IssuesHandler {
	return &IssuesHandler{DB: db, Access: access, Audit: audit}
}

// loadProject scopes the :projectId route param to the current
// workspace. On failure the response has already been written and the
// returned project is nil.
func (h *IssuesHandler) loadProject(c *fiber.Ctx, workspaceID uuid.UUID) (*models.Project, error) {
	projectID, err := parseUUID(c.Params("projectId"))
	if err != nil {
		return nil, utils.Error(c, fiber.StatusBadRequest, "invalid project id")
	}

	var project models.Project
	if err := h.DB.First(&project, "id = ? AND workspace_id = ?", projectID, workspaceID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.Error(c, fiber.StatusNotFound, "project not found")
		}
		return nil, utils.Error(c, fiber.StatusInternalServerError, "failed loading project")
	}
	return &project, nil
}

type createIssueRequest struct {
	Title       string               `json:"title"`
	Description string               `json:"description"`
	State       models.IssueState    `json:"state"`
	Priority    models.IssuePriority `json:"priority"`
	AssigneeID  *uuid.UUID           `json:"assigneeID"`
}

func (h *IssuesHandler) Create(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	if decision := h.Access.EvaluateCollection(member, services.MethodMutating); !decision.Allowed {
		return utils.Denied(c)
	}

	project, err := h.loadProject(c, workspace.ID)
	if project == nil {
		return err
	}

	var req createIssueRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return utils.Error(c, fiber.StatusBadRequest, "title is required")
	}
	if req.State == "" {
		req.State = models.IssueStateBacklog
	}
	if !req.State.Valid() {
		return utils.Error(c, fiber.StatusBadRequest, "invalid state")
	}
	if req.Priority == "" {
		req.Priority = models.IssuePriorityNone
	}
	if !req.Priority.Valid() {
		return utils.Error(c, fiber.StatusBadRequest, "invalid priority")
	}
	if req.AssigneeID != nil {
		if _, err := h.Access.ActiveMembership(c.Context(), *req.AssigneeID, workspace.ID); err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.Error(c, fiber.StatusBadRequest, "assignee must be an active member of this workspace")
			}
			return utils.Error(c, fiber.StatusInternalServerError, "failed checking assignee membership")
		}
	}

	issue := models.Issue{
		WorkspaceID: workspace.ID,
		ProjectID:   project.ID,
		Title:       req.Title,
		Description: req.Description,
		State:       req.State,
		Priority:    req.Priority,
		AssigneeID:  req.AssigneeID,
		CreatedByID: currentUser.ID,
	}

	// Sequence numbers are per project and never reused; the MAX lookup
	// runs unscoped so soft deleted issues keep their number, and inside
	// the insert transaction to keep concurrent creates from colliding.
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		if err := tx.Unscoped().Model(&models.Issue{}).
			Where("project_id = ?", project.ID).
			Select("COALESCE(MAX(sequence), 0)").
			Row().Scan(&maxSeq); err != nil {
			return err
		}
		issue.Sequence = maxSeq + 1
		return tx.Create(&issue).Error
	})
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating issue")
	}

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "issue.create",
		ResourceType: "issue",
		ResourceID:   &issue.ID,
		Details: map[string]interface{}{
			"project_id": project.ID.String(),
			"key":        project.Identifier + "-" + formatSequence(issue.Sequence),
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, issue)
}

func (h *IssuesHandler) List(c *fiber.Ctx) error {
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if workspace == nil || member == nil {
		return utils.Denied(c)
	}

	if decision := h.Access.EvaluateCollection(member, services.MethodSafe); !decision.Allowed {
		return utils.Denied(c)
	}

	project, err := h.loadProject(c, workspace.ID)
	if project == nil {
		return err
	}

	p := utils.ParsePagination(c)

	baseQuery := h.DB.Model(&models.Issue{}).Where("project_id = ?", project.ID)

	if state := models.IssueState(c.Query("state")); state != "" {
		if !state.Valid() {
			return utils.Error(c, fiber.StatusBadRequest, "invalid state")
		}
		baseQuery = baseQuery.Where("state = ?", state)
	}
	if assignee := strings.TrimSpace(c.Query("assignee")); assignee != "" {
		assigneeID, err := parseUUID(assignee)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid assignee id")
		}
		baseQuery = baseQuery.Where("assignee_id = ?", assigneeID)
	}

	var total int64
	if err := baseQuery.Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed counting issues")
	}

	issues := []models.Issue{}
	if err := utils.ApplyPagination(baseQuery.Preload("Assignee").Order("sequence DESC"), p).
		Find(&issues).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing issues")
	}

	return utils.Paginated(c, issues, p.Page, p.Limit, total)
}

func (h *IssuesHandler) Get(c *fiber.Ctx) error {
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if workspace == nil || member == nil {
		return utils.Denied(c)
	}

	if decision := h.Access.EvaluateCollection(member, services.MethodSafe); !decision.Allowed {
		return utils.Denied(c)
	}

	project, err := h.loadProject(c, workspace.ID)
	if project == nil {
		return err
	}

	issueID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid issue id")
	}

	var issue models.Issue
	if err := h.DB.Preload("Assignee").Preload("CreatedBy").
		First(&issue, "id = ? AND project_id = ?", issueID, project.ID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "issue not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading issue")
	}

	return utils.Success(c, fiber.StatusOK, issue)
}

type updateIssueRequest struct {
	Title         *string               `json:"title"`
	Description   *string               `json:"description"`
	State         *models.IssueState    `json:"state"`
	Priority      *models.IssuePriority `json:"priority"`
	AssigneeID    *uuid.UUID            `json:"assigneeID"`
	ClearAssignee bool                  `json:"clearAssignee"`
}

func (h *IssuesHandler) Update(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	if decision := h.Access.EvaluateCollection(member, services.MethodMutating); !decision.Allowed {
		return utils.Denied(c)
	}

	project, err := h.loadProject(c, workspace.ID)
	if project == nil {
		return err
	}

	issueID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid issue id")
	}

	var issue models.Issue
	if err := h.DB.First(&issue, "id = ? AND project_id = ?", issueID, project.ID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "issue not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading issue")
	}

	var req updateIssueRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return utils.Error(c, fiber.StatusBadRequest, "title cannot be empty")
		}
		updates["title"] = title
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.State != nil {
		if !req.State.Valid() {
			return utils.Error(c, fiber.StatusBadRequest, "invalid state")
		}
		updates["state"] = *req.State
	}
	if req.Priority != nil {
		if !req.Priority.Valid() {
			return utils.Error(c, fiber.StatusBadRequest, "invalid priority")
		}
		updates["priority"] = *req.Priority
	}
	if req.ClearAssignee {
		updates["assignee_id"] = nil
	} else if req.AssigneeID != nil {
		if _, err := h.Access.ActiveMembership(c.Context(), *req.AssigneeID, workspace.ID); err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.Error(c, fiber.StatusBadRequest, "assignee must be an active member of this workspace")
			}
			return utils.Error(c, fiber.StatusInternalServerError, "failed checking assignee membership")
		}
		updates["assignee_id"] = *req.AssigneeID
	}

	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no fields to update")
	}

	if err := h.DB.Model(&issue).Updates(updates).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating issue")
	}

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "issue.update",
		ResourceType: "issue",
		ResourceID:   &issue.ID,
		Details: map[string]interface{}{
			"key": project.Identifier + "-" + formatSequence(issue.Sequence),
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, issue)
}

func (h *IssuesHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	if decision := h.Access.EvaluateCollection(member, services.MethodMutating); !decision.Allowed {
		return utils.Denied(c)
	}

	project, err := h.loadProject(c, workspace.ID)
	if project == nil {
		return err
	}

	issueID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid issue id")
	}

	var issue models.Issue
	if err := h.DB.First(&issue, "id = ? AND project_id = ?", issueID, project.ID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "issue not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading issue")
	}

	if err := h.DB.Delete(&issue).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting issue")
	}

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "issue.delete",
		ResourceType: "issue",
		ResourceID:   &issue.ID,
		Details: map[string]interface{}{
			"key": project.Identifier + "-" + formatSequence(issue.Sequence),
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "issue deleted"})
}
