package models

import (
	"time"

	"github.com/google/uuid"
)

// Page is a wiki page. Pages share the access model with documents but
// live in a flat per-workspace wiki rather than under a project.
type Page struct {
	BaseModel
	WorkspaceID uuid.UUID   `json:"workspaceID" gorm:"type:uuid;not null;index"`
	OwnerID     uuid.UUID   `json:"ownerID" gorm:"type:uuid;not null;index"`
	Title       string      `json:"title" gorm:"type:varchar(255);not null"`
	Body        string      `json:"body" gorm:"type:text"`
	Access      AccessLevel `json:"access" gorm:"type:varchar(10);not null;default:'private';index"`
	Locked      bool        `json:"locked" gorm:"not null;default:false"`
	LockedAt    *time.Time  `json:"lockedAt,omitempty"`
	LockedByID  *uuid.UUID  `json:"lockedByID,omitempty" gorm:"type:uuid"`

	Owner User `json:"owner,omitempty" gorm:"foreignKey:OwnerID;references:ID"`
}

func (Page) TableName() string {
	return "pages"
}

func (p Page) ResourceKind() ShareResourceKind { return ShareResourcePage }
func (p Page) ResourceID() uuid.UUID           { return p.ID }
func (p Page) ResourceOwnerID() uuid.UUID      { return p.OwnerID }
func (p Page) ResourceAccess() AccessLevel     { return p.Access }
func (p Page) ResourceWorkspace() uuid.UUID    { return p.WorkspaceID }
