package models

import "github.com/google/uuid"

type SharePermission string

const (
	SharePermissionView  SharePermission = "view"
	SharePermissionEdit  SharePermission = "edit"
	SharePermissionAdmin SharePermission = "admin"
)

// Share grants one user access to one document or page. Revocation is
// a soft delete, so default queries already exclude revoked grants.
// Creation must reject a second active share for the same
// (resource, user) pair; lookups take the first match and must not
// depend on ordering among duplicates left by older data.
type Share struct {
	BaseModel
	ResourceKind ShareResourceKind `json:"resourceKind" gorm:"type:varchar(20);not null;index:idx_share_resource"`
	ResourceID   uuid.UUID         `json:"resourceID" gorm:"type:uuid;not null;index:idx_share_resource"`
	WorkspaceID  uuid.UUID         `json:"workspaceID" gorm:"type:uuid;not null;index"`
	UserID       uuid.UUID         `json:"userID" gorm:"type:uuid;not null;index"`
	Permission   SharePermission   `json:"permission" gorm:"type:varchar(20);not null;default:'view'"`
	CreatedByID  uuid.UUID         `json:"createdByID" gorm:"type:uuid;not null"`

	User      User `json:"user,omitempty" gorm:"foreignKey:UserID;references:ID"`
	CreatedBy User `json:"createdBy,omitempty" gorm:"foreignKey:CreatedByID;references:ID"`
}

func (Share) TableName() string {
	return "shares"
}

// AllowsMutation reports whether the grant covers writes, not just reads.
func (s *Share) AllowsMutation() bool {
	return s.Permission == SharePermissionEdit || s.Permission == SharePermissionAdmin
}
