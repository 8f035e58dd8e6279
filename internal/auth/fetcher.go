package auth

import (
	"errors"
	"time"

	"github.com/SiteMedic/SM-Backend/internal/utils"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// TokenFetcher resolves device bearer tokens against app_auth.device_tokens.
type TokenFetcher struct {
	DB *gorm.DB
}

// FindDeviceSession checks a "<tokenID>.<secret>" bearer value.
func (f TokenFetcher) FindDeviceSession(bearer string) (utils.DeviceSession, error) {
	tokenID, secret, err := ParseBearer(bearer)
	if err != nil {
		return utils.DeviceSession{}, err
	}

	var tok DeviceToken
	err = f.DB.First(&tok, "token_id = ?", tokenID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.DeviceSession{}, ErrUnknownToken
	}
	if err != nil {
		return utils.DeviceSession{}, err
	}
	if tok.Revoked {
		return utils.DeviceSession{}, ErrRevokedToken
	}
	if err := bcrypt.CompareHashAndPassword([]byte(tok.SecretHash), []byte(secret)); err != nil {
		return utils.DeviceSession{}, ErrUnknownToken
	}

	f.DB.Model(&DeviceToken{}).Where("token_id = ?", tokenID).Update("last_used_at", time.Now().UTC())

	s := utils.DeviceSession{MedicID: tok.MedicID, TokenID: tok.TokenID}
	if tok.ExpiresAt != nil {
		s.ExpiresAt = *tok.ExpiresAt
	}
	return s, nil
}
