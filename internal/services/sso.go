package services

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trellis/backend/internal/config"
	"github.com/trellis/backend/internal/models"
	"github.com/trellis/backend/pkg/logger"
)

type SSOService struct {
	DB  *gorm.DB
	Cfg *config.Config
}

func NewSSOService(db *gorm.DB, cfg *config.Config) *SSOService {
	return &SSOService{DB: db, Cfg: cfg}
}

// SSOProfile is the normalized identity a provider returned for one
// login, independent of which provider produced it.
type SSOProfile struct {
	Provider       models.AuthProviderType
	ProviderUserID string
	Email          string
	FirstName      string
	LastName       string
	AvatarURL      *string
	RawProfile     map[string]interface{}
}

// FindOrCreateUser resolves an external identity to a local user. A
// previously linked identity wins over an email match, so a changed
// provider email cannot attach to somebody else's account.
func (s *SSOService) FindOrCreateUser(ctx context.Context, profile *SSOProfile) (*models.User, error) {
	if profile.Email == "" {
		return nil, errors.New("sso profile has no email")
	}

	account, err := s.FindLinkedAccount(ctx, profile.Provider, profile.ProviderUserID)
	if err == nil {
		var user models.User
		if err := s.DB.WithContext(ctx).First(&user, "id = ?", account.UserID).Error; err != nil {
			return nil, err
		}
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var user models.User
	err = s.DB.WithContext(ctx).First(&user, "email = ?", profile.Email).Error
	if err == nil {
		if err := s.LinkAccount(ctx, user.ID, profile); err != nil {
			if !errors.Is(err, gorm.ErrDuplicatedKey) {
				logger.Warn("sso_link_account_failed", map[string]interface{}{
					"user_id":  user.ID.String(),
					"provider": string(profile.Provider),
					"error":    err.Error(),
				})
			}
		}

		if user.AuthProvider == nil {
			provider := string(profile.Provider)
			if err := s.DB.WithContext(ctx).Model(&user).Update("auth_provider", provider).Error; err != nil {
				logger.Warn("sso_update_auth_provider_failed", map[string]interface{}{
					"user_id":  user.ID.String(),
					"provider": string(profile.Provider),
				})
			}
		}

		return &user, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if !s.Cfg.SSO.AutoRegister {
		return nil, errors.New("auto-registration is disabled")
	}

	user = models.User{
		Email:           profile.Email,
		FirstName:       profile.FirstName,
		LastName:        profile.LastName,
		Role:            models.UserRoleUser,
		AvatarURL:       profile.AvatarURL,
		IsEmailVerified: true,
		AuthProvider:    func() *string { p := string(profile.Provider); return &p }(),
		ExternalID:      func() *string { p := profile.ProviderUserID; return &p }(),
	}

	if err := s.DB.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}

	if err := s.LinkAccount(ctx, user.ID, profile); err != nil {
		logger.Warn("sso_create_linked_account_failed", map[string]interface{}{
			"user_id":  user.ID.String(),
			"provider": string(profile.Provider),
			"error":    err.Error(),
		})
	}

	logger.Info("sso_user_created", map[string]interface{}{
		"user_id":  user.ID.String(),
		"email":    user.Email,
		"provider": string(profile.Provider),
	})

	return &user, nil
}

func (s *SSOService) LinkAccount(ctx context.Context, userID uuid.UUID, profile *SSOProfile) error {
	linkedAccount := models.LinkedAccount{
		UserID:         userID,
		Provider:       profile.Provider,
		ProviderUserID: profile.ProviderUserID,
		Email:          profile.Email,
	}
	profileJSON, _ := json.Marshal(profile.RawProfile)
	linkedAccount.ProfileData = string(profileJSON)

	return s.DB.WithContext(ctx).Create(&linkedAccount).Error
}

func (s *SSOService) GetLinkedAccounts(ctx context.Context, userID uuid.UUID) ([]models.LinkedAccount, error) {
	accounts := []models.LinkedAccount{}
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Find(&accounts).Error
	return accounts, err
}

func (s *SSOService) UnlinkAccount(ctx context.Context, userID uuid.UUID, accountID uuid.UUID) error {
	return s.DB.WithContext(ctx).
		Where("id = ? AND user_id = ?", accountID, userID).
		Delete(&models.LinkedAccount{}).Error
}

func (s *SSOService) FindLinkedAccount(ctx context.Context, provider models.AuthProviderType, providerUserID string) (*models.LinkedAccount, error) {
	var account models.LinkedAccount
	err := s.DB.WithContext(ctx).
		Where("provider = ? AND provider_user_id = ?", provider, providerUserID).
		First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}
