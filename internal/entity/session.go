package entity

import (
	"time"

	"github.com/google/uuid"
)

// Session backs the optional refresh-token flow. The login/MFA protocol
// itself is stateless; MFA tickets are never stored here.
type Session struct {
	ID     uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index"`
	User   User      `gorm:"constraint:OnDelete:CASCADE"`

	TokenHash string `gorm:"type:text;not null;index"`

	// MFAVerified records whether a challenge code was validated in the login
	// that created this session. Refreshed access tokens carry this value, so
	// a pre-MFA session can never upgrade itself without a code.
	MFAVerified bool `gorm:"default:false;not null"`

	DeviceName string  `gorm:"type:varchar(100)"`
	DeviceID   string  `gorm:"type:varchar(255);not null"`
	IPAddress  *string `gorm:"type:varchar(45)"`
	UserAgent  *string `gorm:"type:text"`

	ExpiresAt time.Time
	RevokedAt *time.Time

	CreatedAt time.Time
}
