package models

import "github.com/google/uuid"

type AuthProviderType string

const (
	AuthProviderGoogle AuthProviderType = "google"
	AuthProviderGitHub AuthProviderType = "github"
	AuthProviderOIDC   AuthProviderType = "oidc"
)

// LinkedAccount links a local user to an external identity provider.
type LinkedAccount struct {
	BaseModel
	UserID         uuid.UUID        `json:"userID" gorm:"type:uuid;not null;index"`
	Provider       AuthProviderType `json:"provider" gorm:"type:varchar(20);not null;uniqueIndex:idx_linked_provider_user"`
	ProviderUserID string           `json:"providerUserID" gorm:"type:varchar(255);not null;uniqueIndex:idx_linked_provider_user"`
	Email          string           `json:"email" gorm:"type:varchar(255)"`
	ProfileData    string           `json:"-" gorm:"type:text"`

	User User `json:"-" gorm:"foreignKey:UserID"`
}

func (LinkedAccount) TableName() string {
	return "linked_accounts"
}
