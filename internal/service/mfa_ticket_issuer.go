package service

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const ticketTokenType = "mfa"

// MFATicketIssuerJWT signs tickets with the same HS256 key family as access
// tokens but a distinct claim shape, so neither token kind is accepted where
// the other is expected.
type MFATicketIssuerJWT struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

type ticketClaims struct {
	UserID string `json:"sub"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

func (m MFATicketIssuerJWT) IssueTicket(userID uuid.UUID) (string, time.Duration, error) {
	ttl := m.TTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	now := time.Now()
	claims := ticketClaims{
		UserID: userID.String(),
		Type:   ticketTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.Issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.Secret)
	if err != nil {
		return "", 0, err
	}
	return signed, ttl, nil
}

func (m MFATicketIssuerJWT) ParseTicket(ticket string) (uuid.UUID, error) {
	parsed, err := jwt.ParseWithClaims(ticket, &ticketClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidMFATicket
		}
		return m.Secret, nil
	})
	if err != nil {
		return uuid.Nil, ErrInvalidMFATicket
	}
	claims, ok := parsed.Claims.(*ticketClaims)
	if !ok || !parsed.Valid || claims.Type != ticketTokenType {
		return uuid.Nil, ErrInvalidMFATicket
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, ErrInvalidMFATicket
	}
	return id, nil
}
