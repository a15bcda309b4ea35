package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trellis/backend/internal/middleware"
	"github.com/trellis/backend/internal/models"
	"github.com/trellis/backend/internal/services"
	"github.com/trellis/backend/pkg/logger"
	"github.com/trellis/backend/pkg/utils"
)

type DocumentsHandler struct {
	DB     *gorm.DB
	Access *services.AccessService
	Audit  *services.AuditService
	Render *services.RenderService
}

func NewDocumentsHandler(db *gorm.DB, access *services.AccessService, audit *services.AuditService, render *services.RenderService) *DocumentsHandler {
	return &DocumentsHandler{DB: db, Access: access, Audit: audit, Render: render}
}

// loadDocument fetches a document scoped to the workspace. A row that
// does not exist and a row in another workspace produce the same
// gorm.ErrRecordNotFound, so callers cannot probe across tenants. On
// failure the response has already been written and the returned
// document is nil.
func (h *DocumentsHandler) loadDocument(c *fiber.Ctx, workspaceID uuid.UUID) (*models.Document, error) {
	docID, err := parseUUID(c.Params("id"))
	if err != nil {
		return nil, utils.Error(c, fiber.StatusBadRequest, "invalid document id")
	}

	var doc models.Document
	if err := h.DB.First(&doc, "id = ? AND workspace_id = ?", docID, workspaceID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			// Absence and denial answer identically.
			return nil, utils.Denied(c)
		}
		return nil, utils.Error(c, fiber.StatusInternalServerError, "failed loading document")
	}
	return &doc, nil
}

// lockedByAnother reports whether an active lock blocks the given user.
// The lock holder keeps write access to their own locked document.
func lockedByAnother(doc *models.Document, userID uuid.UUID) bool {
	return doc.Locked && (doc.LockedByID == nil || *doc.LockedByID != userID)
}

type createDocumentRequest struct {
	Title     string             `json:"title"`
	Body      string             `json:"body"`
	Access    models.AccessLevel `json:"access"`
	ProjectID *uuid.UUID         `json:"projectID"`
}

func (h *DocumentsHandler) Create(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	if decision := h.Access.EvaluateCollection(member, services.MethodMutating); !decision.Allowed {
		return utils.Denied(c)
	}

	var req createDocumentRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return utils.Error(c, fiber.StatusBadRequest, "title is required")
	}
	if req.Access == "" {
		req.Access = models.AccessPrivate
	}
	if !req.Access.Assignable() {
		return utils.Error(c, fiber.StatusBadRequest, "access must be private or shared")
	}
	if req.ProjectID != nil {
		var count int64
		if err := h.DB.Model(&models.Project{}).
			Where("id = ? AND workspace_id = ?", *req.ProjectID, workspace.ID).
			Count(&count).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed checking project")
		}
		if count == 0 {
			return utils.Error(c, fiber.StatusBadRequest, "project not found in this workspace")
		}
	}

	doc := models.Document{
		WorkspaceID: workspace.ID,
		ProjectID:   req.ProjectID,
		OwnerID:     currentUser.ID,
		Title:       req.Title,
		Body:        req.Body,
		Access:      req.Access,
	}

	if err := h.DB.Create(&doc).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating document")
	}

	logger.InfoWithUser(currentUser.ID.String(), "document_created", map[string]interface{}{
		"workspace_id": workspace.ID.String(),
		"document_id":  doc.ID.String(),
		"access":       string(doc.Access),
	})

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "document.create",
		ResourceType: "document",
		ResourceID:   &doc.ID,
		Details: map[string]interface{}{
			"title":  doc.Title,
			"access": string(doc.Access),
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, doc)
}

func (h *DocumentsHandler) List(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	if decision := h.Access.EvaluateCollection(member, services.MethodSafe); !decision.Allowed {
		return utils.Denied(c)
	}

	p := utils.ParsePagination(c)

	baseQuery := h.DB.Model(&models.Document{}).Where("documents.workspace_id = ?", workspace.ID)

	// The list only shows what a Safe fetch of each row would allow.
	// Admins see every private and shared document; everyone else sees
	// what they own plus shared documents granted to them. Public rows
	// stay visible to their owner only.
	if member.Role.AtLeast(models.RoleAdmin) {
		baseQuery = baseQuery.Where("documents.owner_id = ? OR documents.access <> ?", currentUser.ID, models.AccessPublic)
	} else {
		shareSub := h.DB.Table("shares").
			Select("resource_id").
			Where("resource_kind = ? AND user_id = ? AND deleted_at IS NULL", models.ShareResourceDocument, currentUser.ID)
		baseQuery = baseQuery.Where("documents.owner_id = ? OR (documents.access = ? AND documents.id IN (?))",
			currentUser.ID, models.AccessShared, shareSub)
	}

	if projectParam := strings.TrimSpace(c.Query("project")); projectParam != "" {
		projectID, err := parseUUID(projectParam)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid project id")
		}
		baseQuery = baseQuery.Where("documents.project_id = ?", projectID)
	}
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		baseQuery = baseQuery.Where("documents.title LIKE ?", "%"+search+"%")
	}

	var total int64
	if err := baseQuery.Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed counting documents")
	}

	docs := []models.Document{}
	if err := utils.ApplyPagination(baseQuery.Preload("Owner").Order("documents.updated_at DESC"), p).
		Find(&docs).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing documents")
	}

	return utils.Paginated(c, docs, p.Page, p.Limit, total)
}

func (h *DocumentsHandler) Get(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	doc, err := h.loadDocument(c, workspace.ID)
	if doc == nil {
		return err
	}

	decision := h.Access.EvaluateResource(c.Context(), member, *doc, services.MethodSafe)
	if !decision.Allowed {
		return utils.Denied(c)
	}
	if decision.AdminPrivateView {
		recordAdminPrivateView(c, h.Audit, workspace.ID, currentUser.ID, doc.ID, "document")
	}

	if err := h.DB.Preload("Owner").Preload("Project").First(doc, "id = ?", doc.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading document")
	}

	return utils.Success(c, fiber.StatusOK, doc)
}

type updateDocumentRequest struct {
	Title        *string             `json:"title"`
	Body         *string             `json:"body"`
	Access       *models.AccessLevel `json:"access"`
	ProjectID    *uuid.UUID          `json:"projectID"`
	ClearProject bool                `json:"clearProject"`
}

func (h *DocumentsHandler) Update(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	doc, err := h.loadDocument(c, workspace.ID)
	if doc == nil {
		return err
	}

	decision := h.Access.EvaluateResource(c.Context(), member, *doc, services.MethodMutating)
	if !decision.Allowed {
		return utils.Denied(c)
	}

	if lockedByAnother(doc, currentUser.ID) {
		return utils.Error(c, fiber.StatusLocked, "document is locked")
	}

	var req updateDocumentRequest
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
	if req.Body != nil {
		updates["body"] = *req.Body
	}
	if req.Access != nil {
		if !req.Access.Assignable() {
			return utils.Error(c, fiber.StatusBadRequest, "access must be private or shared")
		}
		updates["access"] = *req.Access
	}
	if req.ClearProject {
		updates["project_id"] = nil
	} else if req.ProjectID != nil {
		var count int64
		if err := h.DB.Model(&models.Project{}).
			Where("id = ? AND workspace_id = ?", *req.ProjectID, workspace.ID).
			Count(&count).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed checking project")
		}
		if count == 0 {
			return utils.Error(c, fiber.StatusBadRequest, "project not found in this workspace")
		}
		updates["project_id"] = *req.ProjectID
	}

	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no fields to update")
	}

	if err := h.DB.Model(doc).Updates(updates).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating document")
	}

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "document.update",
		ResourceType: "document",
		ResourceID:   &doc.ID,
		Details: map[string]interface{}{
			"title": doc.Title,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, doc)
}

func (h *DocumentsHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	doc, err := h.loadDocument(c, workspace.ID)
	if doc == nil {
		return err
	}

	decision := h.Access.EvaluateResource(c.Context(), member, *doc, services.MethodMutating)
	if !decision.Allowed {
		return utils.Denied(c)
	}

	if lockedByAnother(doc, currentUser.ID) {
		return utils.Error(c, fiber.StatusLocked, "document is locked")
	}

	// Shares and attachment rows go with the document; all soft deletes.
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resource_kind = ? AND resource_id = ?", models.ShareResourceDocument, doc.ID).
			Delete(&models.Share{}).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", doc.ID).Delete(&models.Attachment{}).Error; err != nil {
			return err
		}
		return tx.Delete(doc).Error
	})
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting document")
	}

	logger.InfoWithUser(currentUser.ID.String(), "document_deleted", map[string]interface{}{
		"workspace_id": workspace.ID.String(),
		"document_id":  doc.ID.String(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "document.delete",
		ResourceType: "document",
		ResourceID:   &doc.ID,
		Details: map[string]interface{}{
			"title": doc.Title,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "document deleted"})
}

func (h *DocumentsHandler) Lock(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	doc, err := h.loadDocument(c, workspace.ID)
	if doc == nil {
		return err
	}

	decision := h.Access.EvaluateResource(c.Context(), member, *doc, services.MethodMutating)
	if !decision.Allowed {
		return utils.Denied(c)
	}

	if lockedByAnother(doc, currentUser.ID) {
		return utils.Error(c, fiber.StatusConflict, "document is locked by another user")
	}

	// Re-locking refreshes the timestamp so an active editor is not
	// swept by the stale lock cleanup.
	now := time.Now()
	if err := h.DB.Model(doc).Updates(map[string]interface{}{
		"locked":       true,
		"locked_at":    now,
		"locked_by_id": currentUser.ID,
	}).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed locking document")
	}

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "document.lock",
		ResourceType: "document",
		ResourceID:   &doc.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	doc.Locked = true
	doc.LockedAt = &now
	doc.LockedByID = &currentUser.ID
	return utils.Success(c, fiber.StatusOK, doc)
}

func (h *DocumentsHandler) Unlock(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	doc, err := h.loadDocument(c, workspace.ID)
	if doc == nil {
		return err
	}

	decision := h.Access.EvaluateResource(c.Context(), member, *doc, services.MethodMutating)
	if !decision.Allowed {
		return utils.Denied(c)
	}

	if !doc.Locked {
		return utils.Error(c, fiber.StatusBadRequest, "document is not locked")
	}

	// Anyone with write access may clear a lock, including one held by
	// someone else. The audit row records whose lock was cleared.
	details := map[string]interface{}{}
	if doc.LockedByID != nil {
		details["locked_by"] = doc.LockedByID.String()
	}

	if err := h.DB.Model(doc).Updates(map[string]interface{}{
		"locked":       false,
		"locked_at":    nil,
		"locked_by_id": nil,
	}).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed unlocking document")
	}

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "document.unlock",
		ResourceType: "document",
		ResourceID:   &doc.ID,
		Details:      details,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	doc.Locked = false
	doc.LockedAt = nil
	doc.LockedByID = nil
	return utils.Success(c, fiber.StatusOK, doc)
}

// RenderBody converts the document's markdown body to sanitized HTML.
func (h *DocumentsHandler) RenderBody(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	doc, err := h.loadDocument(c, workspace.ID)
	if doc == nil {
		return err
	}

	decision := h.Access.EvaluateResource(c.Context(), member, *doc, services.MethodSafe)
	if !decision.Allowed {
		return utils.Denied(c)
	}
	if decision.AdminPrivateView {
		recordAdminPrivateView(c, h.Audit, workspace.ID, currentUser.ID, doc.ID, "document")
	}

	html, err := h.Render.RenderHTML(doc.Body)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed rendering document")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"html": html})
}
