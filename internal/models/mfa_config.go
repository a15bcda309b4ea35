package models

import (
	"time"

	"github.com/google/uuid"
)

// MFAConfig holds a user's TOTP state. The secret is stored AES-GCM
// encrypted; recovery codes are stored as a JSON array of bcrypt
// hashes and burned one at a time.
type MFAConfig struct {
	BaseModel
	UserID         uuid.UUID  `json:"userID" gorm:"type:uuid;uniqueIndex;not null"`
	TOTPEnabled    bool       `json:"totpEnabled" gorm:"default:false"`
	TOTPSecret     string     `json:"-" gorm:"type:text"`
	TOTPVerifiedAt *time.Time `json:"totpVerifiedAt,omitempty"`
	RecoveryCodes  string     `json:"-" gorm:"type:text"`
	RecoveryCount  int        `json:"recoveryCodesRemaining" gorm:"default:0"`

	User User `json:"-" gorm:"foreignKey:UserID"`
}

func (MFAConfig) TableName() string {
	return "mfa_configs"
}
