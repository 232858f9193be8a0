package service

import "errors"

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrUsernameTaken          = errors.New("username already taken")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrEmailNotVerified       = errors.New("email not verified")
	ErrInvalidToken           = errors.New("invalid or expired token")
	ErrInvalidMFATicket       = errors.New("invalid or expired mfa ticket")
	ErrInvalidMFACode         = errors.New("invalid mfa code")
	ErrMFANotConfigured       = errors.New("mfa not configured")
	ErrMFAAlreadyEnabled      = errors.New("mfa already enabled")
	ErrUserNotFound           = errors.New("user not found")
	ErrEmailDelivery          = errors.New("email delivery failed")
)
