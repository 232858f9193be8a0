package entity

import (
	"time"

	"github.com/google/uuid"
)

type MFAMethod string

const (
	MFAMethodTOTP  MFAMethod = "totp"
	MFAMethodEmail MFAMethod = "email"
)

// MFACredential holds at most one MFA secret per user. The TOTP secret is
// stored ciphertext-only ("ivHex:cipherHex"); the decrypted base32 form never
// touches the database.
type MFACredential struct {
	ID     uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	User   User      `gorm:"constraint:OnDelete:CASCADE"`

	SecretEncrypted string    `gorm:"type:text;not null"`
	Method          MFAMethod `gorm:"type:varchar(20);default:'totp';not null"`

	// Email is the delivery address for the email method. Kept on the
	// credential so a later change of the account email does not silently
	// redirect challenge codes.
	Email string `gorm:"type:varchar(255)"`

	ConfirmedAt *time.Time

	CreatedAt time.Time
}
