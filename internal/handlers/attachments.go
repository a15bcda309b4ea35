package handlers

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trellis/backend/internal/middleware"
	"github.com/trellis/backend/internal/models"
	"github.com/trellis/backend/internal/services"
	"github.com/trellis/backend/internal/storage"
	"github.com/trellis/backend/pkg/logger"
	"github.com/trellis/backend/pkg/utils"
)

const presignedURLExpiry = 15 * time.Minute

// AttachmentsHandler manages files attached to documents. Bytes live
// in object storage; the database keeps only metadata, and downloads
// go through presigned URLs so content never streams through the API.
type AttachmentsHandler struct {
	DB      *gorm.DB
	Storage *storage.MinIOClient
	Access  *services.AccessService
	Audit   *services.AuditService
}

func NewAttachmentsHandler(db *gorm.DB, storageClient *storage.MinIOClient, access *services.AccessService, audit *services.AuditService) *AttachmentsHandler {
	return &AttachmentsHandler{DB: db, Storage: storageClient, Access: access, Audit: audit}
}

// loadDocument resolves the parent document scoped to the workspace.
// On failure the response has already been written and the returned
// document is nil.
func (h *AttachmentsHandler) loadDocument(c *fiber.Ctx, workspaceID uuid.UUID) (*models.Document, error) {
	docID, err := parseUUID(c.Params("id"))
	if err != nil {
		return nil, utils.Error(c, fiber.StatusBadRequest, "invalid document id")
	}

	var doc models.Document
	if err := h.DB.First(&doc, "id = ? AND workspace_id = ?", docID, workspaceID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.Denied(c)
		}
		return nil, utils.Error(c, fiber.StatusInternalServerError, "failed loading document")
	}
	return &doc, nil
}

func (h *AttachmentsHandler) Upload(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	if h.Storage == nil {
		return utils.Error(c, fiber.StatusServiceUnavailable, "file storage is not configured")
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

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "file is required")
	}

	src, err := fileHeader.Open()
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "failed reading uploaded file")
	}
	defer src.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// Object names carry no user input; the original filename only
	// reappears in the download disposition.
	storagePath := fmt.Sprintf("%s/%s/%s", workspace.ID, doc.ID, uuid.New())

	if err := h.Storage.Upload(c.Context(), storagePath, src, fileHeader.Size, contentType); err != nil {
		logger.Error("attachment_upload_failed", err, map[string]interface{}{
			"document_id":  doc.ID.String(),
			"storage_path": storagePath,
		})
		return utils.Error(c, fiber.StatusInternalServerError, "failed storing file")
	}

	attachment := models.Attachment{
		DocumentID:   doc.ID,
		WorkspaceID:  workspace.ID,
		UploadedByID: currentUser.ID,
		Name:         fileHeader.Filename,
		MimeType:     contentType,
		Size:         fileHeader.Size,
		StoragePath:  storagePath,
	}

	if err := h.DB.Create(&attachment).Error; err != nil {
		// The row is the source of truth; an object left behind by a
		// failed cleanup is unreferenced.
		if delErr := h.Storage.Delete(c.Context(), storagePath); delErr != nil {
			logger.Error("attachment_cleanup_failed", delErr, map[string]interface{}{
				"storage_path": storagePath,
			})
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed saving attachment")
	}

	logger.InfoWithUser(currentUser.ID.String(), "attachment_uploaded", map[string]interface{}{
		"workspace_id":  workspace.ID.String(),
		"document_id":   doc.ID.String(),
		"attachment_id": attachment.ID.String(),
		"size":          attachment.Size,
	})

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "attachment.upload",
		ResourceType: "attachment",
		ResourceID:   &attachment.ID,
		Details: map[string]interface{}{
			"document_id": doc.ID.String(),
			"name":        attachment.Name,
			"size":        attachment.Size,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, attachment)
}

func (h *AttachmentsHandler) List(c *fiber.Ctx) error {
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

	attachments := []models.Attachment{}
	if err := h.DB.Preload("UploadedBy").
		Where("document_id = ?", doc.ID).
		Order("created_at ASC").
		Find(&attachments).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing attachments")
	}

	return utils.Success(c, fiber.StatusOK, attachments)
}

// Download returns a short-lived presigned URL for the attachment.
func (h *AttachmentsHandler) Download(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if currentUser == nil || workspace == nil || member == nil {
		return utils.Denied(c)
	}

	if h.Storage == nil {
		return utils.Error(c, fiber.StatusServiceUnavailable, "file storage is not configured")
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

	attachmentID, err := parseUUID(c.Params("attachmentId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid attachment id")
	}

	var attachment models.Attachment
	if err := h.DB.First(&attachment, "id = ? AND document_id = ?", attachmentID, doc.ID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "attachment not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading attachment")
	}

	disposition := fmt.Sprintf("attachment; filename=%q", attachment.Name)
	url, err := h.Storage.PresignedGetURLWithResponse(c.Context(), attachment.StoragePath, presignedURLExpiry, attachment.MimeType, disposition)
	if err != nil {
		logger.Error("attachment_presign_failed", err, map[string]interface{}{
			"attachment_id": attachment.ID.String(),
			"storage_path":  attachment.StoragePath,
		})
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating download url")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"url":       url,
		"expiresIn": int(presignedURLExpiry.Seconds()),
	})
}

func (h *AttachmentsHandler) Delete(c *fiber.Ctx) error {
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

	attachmentID, err := parseUUID(c.Params("attachmentId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid attachment id")
	}

	var attachment models.Attachment
	if err := h.DB.First(&attachment, "id = ? AND document_id = ?", attachmentID, doc.ID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "attachment not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading attachment")
	}

	if err := h.DB.Delete(&attachment).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting attachment")
	}

	// Best effort; nothing references the object once the row is gone.
	if h.Storage != nil {
		if err := h.Storage.Delete(c.Context(), attachment.StoragePath); err != nil {
			logger.Error("attachment_object_delete_failed", err, map[string]interface{}{
				"attachment_id": attachment.ID.String(),
				"storage_path":  attachment.StoragePath,
			})
		}
	}

	h.Audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspace.ID,
		UserID:       &currentUser.ID,
		Action:       "attachment.delete",
		ResourceType: "attachment",
		ResourceID:   &attachment.ID,
		Details: map[string]interface{}{
			"document_id": doc.ID.String(),
			"name":        attachment.Name,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "attachment deleted"})
}
