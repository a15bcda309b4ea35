package models

import (
	"time"

	"github.com/google/uuid"
)

type Document struct {
	BaseModel
	WorkspaceID uuid.UUID   `json:"workspaceID" gorm:"type:uuid;not null;index"`
	ProjectID   *uuid.UUID  `json:"projectID,omitempty" gorm:"type:uuid;index"`
	OwnerID     uuid.UUID   `json:"ownerID" gorm:"type:uuid;not null;index"`
	Title       string      `json:"title" gorm:"type:varchar(255);not null"`
	Body        string      `json:"body" gorm:"type:text"`
	Access      AccessLevel `json:"access" gorm:"type:varchar(10);not null;default:'private';index"`
	Locked      bool        `json:"locked" gorm:"not null;default:false"`
	LockedAt    *time.Time  `json:"lockedAt,omitempty"`
	LockedByID  *uuid.UUID  `json:"lockedByID,omitempty" gorm:"type:uuid"`

	Owner       User         `json:"owner,omitempty" gorm:"foreignKey:OwnerID;references:ID"`
	Project     *Project     `json:"project,omitempty" gorm:"foreignKey:ProjectID;references:ID"`
	Attachments []Attachment `json:"-" gorm:"foreignKey:DocumentID"`
}

func (Document) TableName() string {
	return "documents"
}

func (d Document) ResourceKind() ShareResourceKind { return ShareResourceDocument }
func (d Document) ResourceID() uuid.UUID           { return d.ID }
func (d Document) ResourceOwnerID() uuid.UUID      { return d.OwnerID }
func (d Document) ResourceAccess() AccessLevel     { return d.Access }
func (d Document) ResourceWorkspace() uuid.UUID    { return d.WorkspaceID }
