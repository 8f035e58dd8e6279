package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrMalformedToken = errors.New("malformed device token")
	ErrUnknownToken   = errors.New("unknown device token")
	ErrRevokedToken   = errors.New("device token revoked")
	ErrMissingMedicID = errors.New("medic id is required")
)

// FormatBearer joins a token id and secret into the value a device sends
// as "Authorization: Bearer <tokenID>.<secret>".
func FormatBearer(tokenID, secret string) string {
	return tokenID + "." + secret
}

// ParseBearer splits a bearer value into token id and secret.
func ParseBearer(value string) (tokenID, secret string, err error) {
	tokenID, secret, ok := strings.Cut(strings.TrimSpace(value), ".")
	if !ok || tokenID == "" || secret == "" {
		return "", "", ErrMalformedToken
	}
	if _, err := uuid.Parse(tokenID); err != nil {
		return "", "", ErrMalformedToken
	}
	return tokenID, secret, nil
}

func newSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Issuer creates and revokes device tokens.
type Issuer struct {
	db  *gorm.DB
	now func() time.Time
}

func NewIssuer(db *gorm.DB) *Issuer {
	return &Issuer{db: db, now: time.Now}
}

// Issue stores a new token for medicID and returns it with the plaintext
// bearer value, which is not recoverable afterwards. ttl <= 0 never expires.
func (i *Issuer) Issue(ctx context.Context, medicID, label string, ttl time.Duration) (DeviceToken, string, error) {
	medicID = strings.TrimSpace(medicID)
	if medicID == "" {
		return DeviceToken{}, "", ErrMissingMedicID
	}

	secret, err := newSecret()
	if err != nil {
		return DeviceToken{}, "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return DeviceToken{}, "", fmt.Errorf("hash secret: %w", err)
	}

	now := i.now().UTC()
	tok := DeviceToken{
		TokenID:    uuid.NewString(),
		MedicID:    medicID,
		Label:      label,
		SecretHash: string(hash),
		CreatedAt:  now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		tok.ExpiresAt = &exp
	}

	if err := i.db.WithContext(ctx).Create(&tok).Error; err != nil {
		return DeviceToken{}, "", fmt.Errorf("store device token: %w", err)
	}
	return tok, FormatBearer(tok.TokenID, secret), nil
}

func (i *Issuer) Revoke(ctx context.Context, tokenID string) error {
	res := i.db.WithContext(ctx).Model(&DeviceToken{}).
		Where("token_id = ?", tokenID).
		Update("revoked", true)
	if res.Error != nil {
		return fmt.Errorf("revoke device token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUnknownToken
	}
	return nil
}
