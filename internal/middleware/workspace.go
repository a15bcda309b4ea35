package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/trellis/backend/internal/models"
	"github.com/trellis/backend/internal/services"
	"github.com/trellis/backend/pkg/logger"
	"github.com/trellis/backend/pkg/utils"
)

const currentWorkspaceKey = "currentWorkspace"
const currentMemberKey = "currentMember"

// WorkspaceMiddleware performs the coarse access check for every
// workspace-scoped route: the caller must be authenticated and hold an
// active membership in the workspace named by the :slug parameter. The
// workspace and membership are stored in locals so handlers and the
// access evaluator never re-query them.
type WorkspaceMiddleware struct {
	DB     *gorm.DB
	Access *services.AccessService
}

func NewWorkspaceMiddleware(db *gorm.DB, access *services.AccessService) *WorkspaceMiddleware {
	return &WorkspaceMiddleware{DB: db, Access: access}
}

// RequireMembership denies with one uniform response whether the
// workspace does not exist or the caller simply is not in it, so the
// slug namespace cannot be probed.
func (w *WorkspaceMiddleware) RequireMembership(c *fiber.Ctx) error {
	user := GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	slug := c.Params("slug")
	if slug == "" {
		return utils.Denied(c)
	}

	var workspace models.Workspace
	if err := w.DB.First(&workspace, "slug = ?", slug).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Error("workspace_lookup_failed", err, map[string]interface{}{
				"slug": slug,
			})
		}
		return utils.Denied(c)
	}

	member, err := w.Access.ActiveMembership(c.Context(), user.ID, workspace.ID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Error("membership_lookup_failed", err, map[string]interface{}{
				"user_id":      user.ID.String(),
				"workspace_id": workspace.ID.String(),
			})
		}
		return utils.Denied(c)
	}

	c.Locals(currentWorkspaceKey, &workspace)
	c.Locals(currentMemberKey, member)
	return c.Next()
}

func GetCurrentWorkspace(c *fiber.Ctx) *models.Workspace {
	value := c.Locals(currentWorkspaceKey)
	if value == nil {
		return nil
	}
	workspace, ok := value.(*models.Workspace)
	if !ok {
		return nil
	}
	return workspace
}

func GetCurrentMember(c *fiber.Ctx) *models.Member {
	value := c.Locals(currentMemberKey)
	if value == nil {
		return nil
	}
	member, ok := value.(*models.Member)
	if !ok {
		return nil
	}
	return member
}
