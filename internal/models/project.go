package models

import "github.com/google/uuid"

type Project struct {
	BaseModel
	WorkspaceID uuid.UUID  `json:"workspaceID" gorm:"type:uuid;not null;index;uniqueIndex:idx_project_identifier"`
	Identifier  string     `json:"identifier" gorm:"type:varchar(12);not null;uniqueIndex:idx_project_identifier"`
	Name        string     `json:"name" gorm:"type:varchar(255);not null"`
	Description string     `json:"description" gorm:"type:text"`
	LeadID      *uuid.UUID `json:"leadID,omitempty" gorm:"type:uuid"`
	CreatedByID uuid.UUID  `json:"createdByID" gorm:"type:uuid;not null"`

	Workspace Workspace `json:"-" gorm:"foreignKey:WorkspaceID"`
	Lead      *User     `json:"lead,omitempty" gorm:"foreignKey:LeadID;references:ID"`
	Issues    []Issue   `json:"-" gorm:"foreignKey:ProjectID"`
}
