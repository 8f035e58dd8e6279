package auth

import "time"

// DeviceToken is a bearer credential bound to one medic's device. Only the
// bcrypt hash of the secret is stored.
type DeviceToken struct {
	TokenID    string     `gorm:"primaryKey" json:"token_id"`
	MedicID    string     `gorm:"not null;index" json:"medic_id"`
	Label      string     `json:"label,omitempty"`
	SecretHash string     `gorm:"not null" json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Revoked    bool       `gorm:"not null;default:false" json:"revoked"`
}

func (DeviceToken) TableName() string { return "app_auth.device_tokens" }
