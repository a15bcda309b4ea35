package models

import "github.com/google/uuid"

type Workspace struct {
	BaseModel
	Name    string    `json:"name" gorm:"type:varchar(255);not null"`
	Slug    string    `json:"slug" gorm:"type:varchar(48);uniqueIndex;not null"`
	OwnerID uuid.UUID `json:"ownerID" gorm:"type:uuid;not null;index"`
	LogoURL *string   `json:"logoURL,omitempty" gorm:"type:text"`

	Owner   User     `json:"owner,omitempty" gorm:"foreignKey:OwnerID;references:ID"`
	Members []Member `json:"-" gorm:"foreignKey:WorkspaceID"`
}

func (Workspace) TableName() string {
	return "workspaces"
}
