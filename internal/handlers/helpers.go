package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/trellis/backend/internal/services"
)

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

func formatSequence(seq int64) string {
	return strconv.FormatInt(seq, 10)
}

// getRequestID returns the per-request ID set by the request logger
// middleware, or "" when the handler runs outside that chain.
func getRequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestID").(string); ok {
		return id
	}
	return ""
}

func isValidSharePermission(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "view", "edit", "admin":
		return true
	default:
		return false
	}
}

// recordAdminPrivateView writes the audit entry that must accompany an
// admin reading a private resource they do not own.
func recordAdminPrivateView(c *fiber.Ctx, audit *services.AuditService, workspaceID, userID, resourceID uuid.UUID, resourceType string) {
	audit.LogAsync(services.AuditEntry{
		WorkspaceID:  &workspaceID,
		UserID:       &userID,
		Action:       "access.admin_private_view",
		ResourceType: resourceType,
		ResourceID:   &resourceID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})
}
