package service

import (
	"context"
	"time"

	"identra/internal/entity"

	"github.com/google/uuid"
)

type AuthConfig struct {
	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	VerificationTokenTTL time.Duration
	ResetTokenTTL        time.Duration
	MFATicketTTL         time.Duration
	MFAIssuer            string
}

type EmailSender interface {
	SendVerificationEmail(ctx context.Context, email string, token string) error
	SendPasswordResetEmail(ctx context.Context, email string, token string) error
	SendMFACodeEmail(ctx context.Context, email string, code string) error
}

// PasswordHasher verification reports a wrong password as (false, nil);
// an error means the stored hash itself is corrupt.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash string, password string) (bool, error)
}

type AccessTokenIssuer interface {
	IssueAccessToken(user entity.User, sessionID uuid.UUID, mfaVerified bool) (string, time.Duration, error)
}

// MFATicketIssuer mints the short-lived token that carries login state
// between the password step and the MFA step. The ticket is the only
// continuity: nothing is held server-side between the two transitions.
type MFATicketIssuer interface {
	IssueTicket(userID uuid.UUID) (string, time.Duration, error)
	ParseTicket(ticket string) (uuid.UUID, error)
}

// MFAKey is a freshly provisioned TOTP key in the three forms the setup
// response needs: raw base32 secret, otpauth URL and a scannable PNG.
type MFAKey struct {
	Secret string
	URL    string
	QRPNG  []byte
}

type MFAProvider interface {
	GenerateKey(accountName string) (*MFAKey, error)
	GenerateCode(secret string) (string, error)
	ValidateCode(secret string, code string) bool
	// ValidateEmailCode tolerates more clock steps than ValidateCode since
	// mail delivery adds latency between generation and entry.
	ValidateEmailCode(secret string, code string) bool
}

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}
