package service

import "github.com/google/uuid"

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

type LoginInput struct {
	Identifier string
	Password   string
	Code       string
	DeviceID   string
	DeviceName string
	IPAddress  *string
	UserAgent  *string
}

type LoginMFAInput struct {
	Ticket     string
	Code       string
	DeviceID   string
	DeviceName string
	IPAddress  *string
	UserAgent  *string
}

type LoginResult struct {
	AccessToken      string
	ExpiresIn        int64
	RefreshToken     string
	RefreshExpiresIn int64

	MFARequired      bool
	EmailMFARequired bool
	UserID           uuid.UUID
	Ticket           string
	TicketExpiresIn  int64
}

type MFASetupResult struct {
	Secret     string
	OTPAuthURL string
	QRCodePNG  []byte
}
