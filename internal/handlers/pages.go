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

// PagesHandler mirrors the document handler for wiki pages. The two
// kinds share the evaluator and the share table; only the project link
// and attachments are document-specific.
type PagesHandler struct {
	DB     *gorm.DB
	Access *services.AccessService
	Audit  *services.AuditService
	Render *services.RenderService
}

func NewPagesHandler(db *gorm.DB, access *services.AccessService, audit *services.AuditService, render *services.RenderService) *PagesHandler {
	return &PagesHandler{DB: db, Access: access, Audit: audit, Render: render}
}

// loadPage fetches a page scoped to the workspace. On failure the
// response has already been written and the returned page is nil.
func (h *PagesHandler) loadPage(c *fiber.Ctx, workspaceID uuid.UUID) (*models.Page, error) {
	pageID, err := parseUUID(c.Params("id"))
	if err != nil {
		return nil, utils.Error(c, fiber.StatusBadRequest, "invalid page id")
	}

	var page models.Page
	if err := h.DB.First(&page, "id = ? AND workspace_id = ?", pageID, workspaceID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.Denied(c)
		}
		return nil, utils.Error(c, fiber.StatusInternalServerError, "failed loading page")
	}
	return &page, nil
}

func pageLockedByAnother(page *models.Page, userID uuid.UUID) bool {
	return page.Locked && (page.LockedByID == nil || *page.LockedByID != userID)
}

type createPageRequest struct {
	Title  string             `json:"title"`
	Body   string             `json:"body"`
	Access models.AccessLevel `json:"access"`
}

func (h *PagesHandler) Create(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	if decision := h.Access.EvaluateCollection(member, services.MethodMutating); !decision.Allowed {
		return utils.Denied(c)
	}

	var req createPageRequest
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

	page := models.Page{
		WorkspaceID: workspace.ID,
		OwnerID:     currentUser.ID,
		Title:       req.Title,
		Body:        req.Body,
		Access:      req.Access,
	}

	if err := h.DB.Create(&page).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating page")
	}

	logger.InfoWithUser(currentUser.ID.String(), "page_created", map[string]interface{}{
		"workspace_id": workspace.ID.String(),
		"page_id":      page.ID.String(),
		"access":       string(page.Access),
	})

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "page.create",
		ResourceType: "page",
		ResourceID:   &page.ID,
		Details: map[string]interface{}{
			"title":  page.Title,
			"access": string(page.Access),
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, page)
}

func (h *PagesHandler) List(c *fiber.Ctx) error {
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

	baseQuery := h.DB.Model(&models.Page{}).Where("pages.workspace_id = ?", workspace.ID)

	if member.Role.AtLeast(models.RoleAdmin) {
		baseQuery = baseQuery.Where("pages.owner_id = ? OR pages.access <> ?", currentUser.ID, models.AccessPublic)
	} else {
		shareSub := h.DB.Table("shares").
			Select("resource_id").
			Where("resource_kind = ? AND user_id = ? AND deleted_at IS NULL", models.ShareResourcePage, currentUser.ID)
		baseQuery = baseQuery.Where("pages.owner_id = ? OR (pages.access = ? AND pages.id IN (?))",
			currentUser.ID, models.AccessShared, shareSub)
	}

	if search := strings.TrimSpace(c.Query("search")); search != "" {
		baseQuery = baseQuery.Where("pages.title LIKE ?", "%"+search+"%")
	}

	var total int64
	if err := baseQuery.Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed counting pages")
	}

	pages := []models.Page{}
	if err := utils.ApplyPagination(baseQuery.Preload("Owner").Order("pages.updated_at DESC"), p).
		Find(&pages).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing pages")
	}

	return utils.Paginated(c, pages, p.Page, p.Limit, total)
}

func (h *PagesHandler) Get(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	page, err := h.loadPage(c, workspace.ID)
	if page == nil {
		return err
	}

	decision := h.Access.EvaluateResource(c.Context(), member, *page, services.MethodSafe)
	if !decision.Allowed {
		return utils.Denied(c)
	}
	if decision.AdminPrivateView {
		recordAdminPrivateView(c, h.Audit, workspace.ID, currentUser.ID, page.ID, "page")
	}

	if err := h.DB.Preload("Owner").First(page, "id = ?", page.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading page")
	}

	return utils.Success(c, fiber.StatusOK, page)
}

type updatePageRequest struct {
	Title  *string             `json:"title"`
	Body   *string             `json:"body"`
	Access *models.AccessLevel `json:"access"`
}

func (h *PagesHandler) Update(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	page, err := h.loadPage(c, workspace.ID)
	if page == nil {
		return err
	}

	decision := h.Access.EvaluateResource(c.Context(), member, *page, services.MethodMutating)
	if !decision.Allowed {
		return utils.Denied(c)
	}

	if pageLockedByAnother(page, currentUser.ID) {
		return utils.Error(c, fiber.StatusLocked, "page is locked")
	}

	var req updatePageRequest
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

	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no fields to update")
	}

	if err := h.DB.Model(page).Updates(updates).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating page")
	}

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "page.update",
		ResourceType: "page",
		ResourceID:   &page.ID,
		Details: map[string]interface{}{
			"title": page.Title,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, page)
}

func (h *PagesHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	page, err := h.loadPage(c, workspace.ID)
	if page == nil {
		return err
	}

	decision := h.Access.EvaluateResource(c.Context(), member, *page, services.MethodMutating)
	if !decision.Allowed {
		return utils.Denied(c)
	}

	if pageLockedByAnother(page, currentUser.ID) {
		return utils.Error(c, fiber.StatusLocked, "page is locked")
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resource_kind = ? AND resource_id = ?", models.ShareResourcePage, page.ID).
			Delete(&models.Share{}).Error; err != nil {
			return err
		}
		return tx.Delete(page).Error
	})
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting page")
	}

	logger.InfoWithUser(currentUser.ID.String(), "page_deleted", map[string]interface{}{
		"workspace_id": workspace.ID.String(),
		"page_id":      page.ID.String(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "page.delete",
		ResourceType: "page",
		ResourceID:   &page.ID,
		Details: map[string]interface{}{
			"title": page.Title,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "page deleted"})
}

func (h *PagesHandler) Lock(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	page, err := h.loadPage(c, workspace.ID)
	if page == nil {
		return err
	}

	decision := h.Access.EvaluateResource(c.Context(), member, *page, services.MethodMutating)
	if !decision.Allowed {
		return utils.Denied(c)
	}

	if pageLockedByAnother(page, currentUser.ID) {
		return utils.Error(c, fiber.StatusConflict, "page is locked by another user")
	}

	now := time.Now()
	if err := h.DB.Model(page).Updates(map[string]interface{}{
		"locked":       true,
		"locked_at":    now,
		"locked_by_id": currentUser.ID,
	}).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed locking page")
	}

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "page.lock",
		ResourceType: "page",
		ResourceID:   &page.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	page.Locked = true
	page.LockedAt = &now
	page.LockedByID = &currentUser.ID
	return utils.Success(c, fiber.StatusOK, page)
}

func (h *PagesHandler) Unlock(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	page, err := h.loadPage(c, workspace.ID)
	if page == nil {
		return err
	}

	decision := h.Access.EvaluateResource(c.Context(), member, *page, services.MethodMutating)
	if !decision.Allowed {
		return utils.Denied(c)
	}

	if !page.Locked {
		return utils.Error(c, fiber.StatusBadRequest, "page is not locked")
	}

	details := map[string]interface{}{}
	if page.LockedByID != nil {
		details["locked_by"] = page.LockedByID.String()
	}

	if err := h.DB.Model(page).Updates(map[string]interface{}{
		"locked":       false,
		"locked_at":    nil,
		"locked_by_id": nil,
	}).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed unlocking page")
	}

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "page.unlock",
		ResourceType: "page",
		ResourceID:   &page.ID,
		Details:      details,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	page.Locked = false
	page.LockedAt = nil
	page.LockedByID = nil
	return utils.Success(c, fiber.StatusOK, page)
}

// RenderBody converts the page's markdown body to sanitized HTML.
func (h *PagesHandler) RenderBody(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	page, err := h.loadPage(c, workspace.ID)
	if page == nil {
		return err
	}

	decision := h.Access.EvaluateResource(c.Context(), member, *page, services.MethodSafe)
	if !decision.Allowed {
		return utils.Denied(c)
	}
	if decision.AdminPrivateView {
		recordAdminPrivateView(c, h.Audit, workspace.ID, currentUser.ID, page.ID, "page")
	}

	html, err := h.Render.RenderHTML(page.Body)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed rendering page")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"html": html})
}
