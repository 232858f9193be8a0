package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

const accessTokenType = "access"

type JWTManager struct {
	Secret         []byte
	Issuer         string
	AccessTokenTTL time.Duration
}

// AccessClaims is the session-token claim shape. MFAVerified is true only
// when a challenge code was actually validated in the login transaction that
// produced this token; the auth middleware enforces it against the account's
// MFA setting on every request.
type AccessClaims struct {
	UserID      string `json:"sub"`
	Role        string `json:"role"`
	SessionID   string `json:"sid"`
	MFAVerified bool   `json:"mfa"`
	TokenType   string `json:"typ"`
	jwt.RegisteredClaims
}

func (m JWTManager) IssueAccessToken(userID string, role string, sessionID string, mfaVerified bool) (string, time.Duration, error) {
	ttl := m.AccessTokenTTL
	if ttl == 0 {
		ttl = 30 * time.Minute
	}
	now := time.Now()
	claims := AccessClaims{
		UserID:      userID,
		Role:        role,
		SessionID:   sessionID,
		MFAVerified: mfaVerified,
		TokenType:   accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.Issuer,
			Subject:   userID,
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

// ParseAccessToken verifies signature and expiry and rejects any token that
// is not an access token, so an MFA ticket can never pass the general guard.
func (m JWTManager) ParseAccessToken(tokenString string) (*AccessClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.Secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid || claims.TokenType != accessTokenType {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
