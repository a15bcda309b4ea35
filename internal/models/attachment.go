package models

import "github.com/google/uuid"

type Attachment struct {
	BaseModel
	DocumentID   uuid.UUID `json:"documentID" gorm:"type:uuid;not null;index"`
	WorkspaceID  uuid.UUID `json:"workspaceID" gorm:"type:uuid;not null;index"`
	UploadedByID uuid.UUID `json:"uploadedByID" gorm:"type:uuid;not null"`
	Name         string    `json:"name" gorm:"type:varchar(255);not null"`
	MimeType     string    `json:"mimeType" gorm:"type:varchar(255);not null"`
	Size         int64     `json:"size" gorm:"not null;default:0"`
	StoragePath  string    `json:"-" gorm:"type:text;not null"`

	Document   Document `json:"-" gorm:"foreignKey:DocumentID"`
	UploadedBy User     `json:"uploadedBy,omitempty" gorm:"foreignKey:UploadedByID;references:ID"`
}
