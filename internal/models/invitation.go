package models

import (
	"time"

	"github.com/google/uuid"
)

type InvitationStatus string

const (
	InvitationStatusPending  InvitationStatus = "pending"
	InvitationStatusAccepted InvitationStatus = "accepted"
	InvitationStatusRevoked  InvitationStatus = "revoked"
	InvitationStatusExpired  InvitationStatus = "expired"
)

type Invitation struct {
	BaseModel
	WorkspaceID uuid.UUID        `json:"workspaceID" gorm:"type:uuid;not null;index"`
	Email       string           `json:"email" gorm:"type:varchar(255);not null;index"`
	Role        MemberRole       `json:"role" gorm:"not null;default:15"`
	Token       string           `json:"-" gorm:"type:varchar(64);uniqueIndex;not null"`
	Status      InvitationStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	ExpiresAt   time.Time        `json:"expiresAt" gorm:"not null;index"`
	AcceptedAt  *time.Time       `json:"acceptedAt,omitempty"`
	InvitedByID uuid.UUID        `json:"invitedByID" gorm:"type:uuid;not null"`

	Workspace Workspace `json:"workspace,omitempty" gorm:"foreignKey:WorkspaceID"`
	InvitedBy User      `json:"invitedBy,omitempty" gorm:"foreignKey:InvitedByID;references:ID"`
}

func (Invitation) TableName() string {
	return "invitations"
}
