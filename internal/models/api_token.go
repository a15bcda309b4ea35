package models

import (
	"time"

	"github.com/google/uuid"
)

// APIToken is a personal access token. Only the SHA-256 hash is
// stored; the plaintext is shown once at creation.
type APIToken struct {
	BaseModel
	UserID     uuid.UUID  `json:"userID" gorm:"type:uuid;not null;index"`
	Name       string     `json:"name" gorm:"type:varchar(255);not null"`
	TokenHash  string     `json:"-" gorm:"type:text;not null;uniqueIndex"`
	Prefix     string     `json:"prefix" gorm:"type:varchar(12);not null"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty" gorm:"index"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`

	User User `json:"-" gorm:"foreignKey:UserID"`
}

func (APIToken) TableName() string {
	return "api_tokens"
}
