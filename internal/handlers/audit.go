package handlers

import (
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/trellis/backend/internal/middleware"
	"github.com/trellis/backend/internal/models"
	"github.com/trellis/backend/pkg/utils"
)

// AuditHandler exposes the workspace audit trail to admins. Admin
// private view events land here too, so owners of private content can
// see who looked.
type AuditHandler struct {
	DB *gorm.DB
}

func NewAuditHandler(db *gorm.DB) *AuditHandler {
	return &AuditHandler{DB: db}
}

func (h *AuditHandler) workspaceQuery(c *fiber.Ctx) (*gorm.DB, error) {
	workspace := middleware.GetCurrentWorkspace(c)
	member := middleware.GetCurrentMember(c)
	if workspace == nil || member == nil {
		return nil, utils.Denied(c)
	}
	if !member.Role.AtLeast(models.RoleAdmin) {
		return nil, utils.Denied(c)
	}

	query := h.DB.Model(&models.AuditLog{}).Where("workspace_id = ?", workspace.ID)

	if action := strings.TrimSpace(c.Query("action")); action != "" {
		query = query.Where("action = ?", action)
	}
	if resourceType := strings.TrimSpace(c.Query("resourceType")); resourceType != "" {
		query = query.Where("resource_type = ?", resourceType)
	}
	if userParam := strings.TrimSpace(c.Query("user")); userParam != "" {
		userID, err := parseUUID(userParam)
		if err != nil {
			return nil, utils.Error(c, fiber.StatusBadRequest, "invalid user id")
		}
		query = query.Where("user_id = ?", userID)
	}
	if since := strings.TrimSpace(c.Query("since")); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return nil, utils.Error(c, fiber.StatusBadRequest, "since must be RFC3339")
		}
		query = query.Where("created_at >= ?", t)
	}
	if until := strings.TrimSpace(c.Query("until")); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return nil, utils.Error(c, fiber.StatusBadRequest, "until must be RFC3339")
		}
		query = query.Where("created_at < ?", t)
	}

	return query, nil
}

// Query returns a page of the workspace audit log, newest first.
func (h *AuditHandler) Query(c *fiber.Ctx) error {
	query, err := h.workspaceQuery(c)
	if query == nil {
		return err
	}

	p := utils.ParsePagination(c)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed counting audit entries")
	}

	logs := []models.AuditLog{}
	if err := utils.ApplyPagination(query.Order("created_at DESC"), p).Find(&logs).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading audit entries")
	}

	return utils.Paginated(c, logs, p.Page, p.Limit, total)
}

// Export downloads the filtered workspace audit log as CSV or JSON.
func (h *AuditHandler) Export(c *fiber.Ctx) error {
	query, err := h.workspaceQuery(c)
	if query == nil {
		return err
	}

	format := strings.ToLower(strings.TrimSpace(c.Query("format", "csv")))
	if format != "csv" && format != "json" {
		return utils.Error(c, fiber.StatusBadRequest, "format must be csv or json")
	}

	logs := []models.AuditLog{}
	if err := query.Order("created_at DESC").Limit(10000).Find(&logs).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading audit entries")
	}

	if format == "json" {
		c.Set("Content-Type", "application/json")
		c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "audit-log.json"))
		return c.JSON(fiber.Map{"success": true, "data": logs})
	}

	c.Set("Content-Type", "text/csv")
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "audit-log.csv"))

	writer := csv.NewWriter(c.Response().BodyWriter())
	_ = writer.Write([]string{"Timestamp", "User ID", "Action", "Resource Type", "Resource ID", "IP Address", "Details"})

	for _, log := range logs {
		userID := ""
		if log.UserID != nil {
			userID = log.UserID.String()
		}
		resourceID := ""
		if log.ResourceID != nil {
			resourceID = log.ResourceID.String()
		}

		detailStr := ""
		if log.Details != nil {
			parts := make([]string, 0, len(log.Details))
			for k, v := range log.Details {
				parts = append(parts, fmt.Sprintf("%s=%v", k, v))
			}
			detailStr = strings.Join(parts, "; ")
		}

		_ = writer.Write([]string{
			log.CreatedAt.Format(time.RFC3339),
			userID,
			log.Action,
			log.ResourceType,
			resourceID,
			log.IPAddress,
			detailStr,
		})
	}

	writer.Flush()
	return nil
}
