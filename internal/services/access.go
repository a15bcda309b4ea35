package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trellis/backend/internal/models"
	"github.com/trellis/backend/pkg/logger"
)

// MethodClass splits operations by effect: reads are Safe, anything
// that changes state is Mutating.
type MethodClass string

const (
	MethodSafe     MethodClass = "safe"
	MethodMutating MethodClass = "mutating"
)

// DenyReason is internal vocabulary for logs and audit rows. It is
// never sent to clients; every denial looks the same on the wire.
type DenyReason string

const (
	ReasonNone            DenyReason = ""
	ReasonUnauthenticated DenyReason = "unauthenticated"
	ReasonNotAMember      DenyReason = "not_a_workspace_member"
	ReasonPrivate         DenyReason = "private_block"
	ReasonShareTier       DenyReason = "insufficient_share_tier"
	ReasonRoleTooLow      DenyReason = "insufficient_role"
	ReasonPublicDisabled  DenyReason = "public_disabled"
	ReasonMisconfigured   DenyReason = "misconfigured"
)

// Decision is the outcome of one access evaluation. AdminPrivateView
// marks the one allowed path that must leave an audit trail: a
// workspace admin reading a private resource they do not own. The
// evaluator itself never writes; recording the event is the caller's
// job.
type Decision struct {
	Allowed          bool
	Reason           DenyReason
	AdminPrivateView bool
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason DenyReason) Decision {
	return Decision{Reason: reason}
}

// AccessControlled is what the evaluator needs from a shareable
// resource. Documents and pages both satisfy it; new resource kinds
// only have to provide these five values to get the same rules.
type AccessControlled interface {
	ResourceID() uuid.UUID
	ResourceKind() models.ShareResourceKind
	ResourceOwnerID() uuid.UUID
	ResourceAccess() models.AccessLevel
	ResourceWorkspace() uuid.UUID
}

type AccessService struct {
	DB *gorm.DB
}

func NewAccessService(db *gorm.DB) *AccessService {
	return &AccessService{DB: db}
}

// ActiveMembership loads the requester's active membership in a
// workspace. Returns gorm.ErrRecordNotFound both when no membership
// row exists and when the row is deactivated; callers treat the two
// identically.
func (a *AccessService) ActiveMembership(ctx context.Context, userID, workspaceID uuid.UUID) (*models.Member, error) {
	var member models.Member
	err := a.DB.WithContext(ctx).
		Where("user_id = ? AND workspace_id = ? AND is_active = ?", userID, workspaceID, true).
		First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// EvaluateResource applies the object-level rules to one document or
// page:
//
//  1. the owner may do anything
//  2. a workspace admin may read (not write) a private resource, and
//     the decision carries the AdminPrivateView flag
//  3. a shared resource follows its share: any tier reads, edit or
//     admin writes
//  4. with no share, only an admin read succeeds
//  5. public resources are denied for everyone; link sharing is
//     disabled deployment-wide
//
// member must be the requester's active membership in the resource's
// workspace, already verified by the caller; it is re-checked here so
// a wiring mistake fails closed instead of open. The only query is
// the share lookup, and evaluation never caches anything across
// calls.
func (a *AccessService) EvaluateResource(ctx context.Context, member *models.Member, resource AccessControlled, class MethodClass) Decision {
	if member == nil || !member.IsActive {
		return deny(ReasonNotAMember)
	}
	if member.WorkspaceID != resource.ResourceWorkspace() {
		return deny(ReasonNotAMember)
	}
	if class != MethodSafe && class != MethodMutating {
		logger.Warn("access_misconfigured", map[string]interface{}{
			"resource_id": resource.ResourceID().String(),
			"detail":      "unknown method class",
			"class":       string(class),
		})
		return deny(ReasonMisconfigured)
	}
	if resource.ResourceOwnerID() == uuid.Nil {
		logger.Warn("access_misconfigured", map[string]interface{}{
			"resource_id": resource.ResourceID().String(),
			"detail":      "resource has no owner",
		})
		return deny(ReasonMisconfigured)
	}

	if member.UserID == resource.ResourceOwnerID() {
		return allow()
	}

	isAdmin := member.Role.AtLeast(models.RoleAdmin)

	switch resource.ResourceAccess() {
	case models.AccessPrivate:
		if class == MethodSafe && isAdmin {
			d := allow()
			d.AdminPrivateView = true
			return d
		}
		return deny(ReasonPrivate)

	case models.AccessShared:
		share, err := a.lookupShare(ctx, resource, member.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				if class == MethodSafe && isAdmin {
					return allow()
				}
				return deny(ReasonShareTier)
			}
			logger.Error("access_share_lookup_failed", err, map[string]interface{}{
				"resource_id": resource.ResourceID().String(),
				"user_id":     member.UserID.String(),
			})
			return deny(ReasonMisconfigured)
		}

		tier, known := shareTierLevel(share.Permission)
		if !known {
			logger.Warn("access_misconfigured", map[string]interface{}{
				"resource_id": resource.ResourceID().String(),
				"share_id":    share.ID.String(),
				"detail":      "unknown share permission",
				"permission":  string(share.Permission),
			})
			return deny(ReasonMisconfigured)
		}
		if class == MethodSafe {
			return allow()
		}
		if tier >= shareTierEdit {
			return allow()
		}
		return deny(ReasonShareTier)

	case models.AccessPublic:
		return deny(ReasonPublicDisabled)

	default:
		logger.Warn("access_misconfigured", map[string]interface{}{
			"resource_id": resource.ResourceID().String(),
			"detail":      "unknown access level",
			"access":      string(resource.ResourceAccess()),
		})
		return deny(ReasonMisconfigured)
	}
}

// EvaluateCollection applies the workspace-level rules for listing
// and creating content: any active member reads, guests cannot write.
// It takes no queries; the membership was already loaded once for the
// request.
func (a *AccessService) EvaluateCollection(member *models.Member, class MethodClass) Decision {
	if member == nil || !member.IsActive {
		return deny(ReasonNotAMember)
	}

	switch class {
	case MethodSafe:
		return allow()
	case MethodMutating:
		if member.Role.AtLeast(models.RoleMember) {
			return allow()
		}
		return deny(ReasonRoleTooLow)
	default:
		logger.Warn("access_misconfigured", map[string]interface{}{
			"member_id": member.ID.String(),
			"detail":    "unknown method class",
			"class":     string(class),
		})
		return deny(ReasonMisconfigured)
	}
}

// CanManageShares reports whether the member may create, change, or
// revoke shares on a resource. The owner always can, and so can the
// holder of an admin tier share. Workspace role grants nothing here;
// an admin who wants to manage someone else's shares needs a share of
// their own.
func (a *AccessService) CanManageShares(ctx context.Context, member *models.Member, resource AccessControlled) bool {
	if member == nil || !member.IsActive {
		return false
	}
	if member.WorkspaceID != resource.ResourceWorkspace() {
		return false
	}
	if member.UserID == resource.ResourceOwnerID() {
		return true
	}
	share, err := a.lookupShare(ctx, resource, member.UserID)
	if err != nil {
		return false
	}
	return share.Permission == models.SharePermissionAdmin
}

// lookupShare finds the requester's active share on a resource. Soft
// deleted rows are excluded by gorm's default scope. Duplicate active
// shares are rejected at creation, so First is deterministic in
// practice; if legacy duplicates exist, any one of them is
// authoritative.
func (a *AccessService) lookupShare(ctx context.Context, resource AccessControlled, userID uuid.UUID) (*models.Share, error) {
	var share models.Share
	err := a.DB.WithContext(ctx).
		Where("resource_kind = ? AND resource_id = ? AND user_id = ?",
			resource.ResourceKind(), resource.ResourceID(), userID).
		First(&share).Error
	if err != nil {
		return nil, err
	}
	return &share, nil
}

const (
	shareTierView = iota + 1
	shareTierEdit
	shareTierAdmin
)

func shareTierLevel(permission models.SharePermission) (int, bool) {
	switch permission {
	case models.SharePermissionView:
		return shareTierView, true
	case models.SharePermissionEdit:
		return shareTierEdit, true
	case models.SharePermissionAdmin:
		return shareTierAdmin, true
	default:
		return 0, false
	}
}
