package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"identra/internal/entity"
	"identra/internal/repository"
	"identra/internal/utils"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AuthService drives the login protocol: password verification, the optional
// MFA challenge step carried by a signed ticket, and session issuance. No
// login state is held server-side between the password step and the MFA step;
// the ticket is the state.
type AuthService struct {
	users          repository.UserRepository
	sessions       repository.SessionRepository
	verifications  repository.VerificationTokenRepository
	mfaCredentials repository.MFACredentialRepository
	securityLogs   repository.SecurityLogRepository

	emailSender  EmailSender
	passwordHash PasswordHasher
	accessTokens AccessTokenIssuer
	mfaTickets   MFATicketIssuer
	mfaProvider  MFAProvider
	secrets      *utils.SecretCipher
	clock        Clock
	config       AuthConfig

	// dummyHash equalizes verification timing for unknown identifiers.
	dummyHash string
}

func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	verifications repository.VerificationTokenRepository,
	mfaCredentials repository.MFACredentialRepository,
	securityLogs repository.SecurityLogRepository,
	emailSender EmailSender,
	passwordHash PasswordHasher,
	accessTokens AccessTokenIssuer,
	mfaTickets MFATicketIssuer,
	mfaProvider MFAProvider,
	secrets *utils.SecretCipher,
	clock Clock,
	config AuthConfig,
) *AuthService {
	dummyHash := ""
	if passwordHash != nil {
		dummyHash, _ = passwordHash.Hash("identra-timing-equalizer")
	}
	return &AuthService{
		users:          users,
		sessions:       sessions,
		verifications:  verifications,
		mfaCredentials: mfaCredentials,
		securityLogs:   securityLogs,
		emailSender:    emailSender,
		passwordHash:   passwordHash,
		accessTokens:   accessTokens,
		mfaTickets:     mfaTickets,
		mfaProvider:    mfaProvider,
		secrets:        secrets,
		clock:          clock,
		config:         config,
		dummyHash:      dummyHash,
	}
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) error {
	if strings.TrimSpace(input.Username) == "" || strings.TrimSpace(input.Email) == "" || strings.TrimSpace(input.Password) == "" {
		return ErrInvalidInput
	}

	email := utils.NormalizeEmail(input.Email)
	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.EmailVerifiedAt != nil {
			return ErrEmailAlreadyRegistered
		}
		return s.sendEmailVerification(ctx, existing)
	}

	sameName, err := s.users.FindByUsername(ctx, input.Username)
	if err != nil {
		return err
	}
	if sameName != nil {
		return ErrUsernameTaken
	}

	hash, err := s.passwordHash.Hash(input.Password)
	if err != nil {
		return err
	}

	newUser := &entity.User{
		Username:     input.Username,
		Email:        email,
		PasswordHash: &hash,
		Role:         entity.UserRoleUser,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, newUser); err != nil {
		return err
	}

	return s.sendEmailVerification(ctx, newUser)
}

func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	verification, err := s.verifications.FindValid(ctx, utils.HashToken(token), entity.EmailVerify)
	if err != nil {
		return err
	}
	if verification == nil {
		return ErrInvalidToken
	}

	if err := s.users.VerifyEmail(ctx, verification.UserID); err != nil {
		return err
	}
	return s.verifications.MarkUsed(ctx, verification.ID)
}

// Login is the first transition of the login state machine. The outcome is
// one of: full session tokens (no MFA, or a valid code was supplied inline),
// an MFA ticket ("mfa required"), or a typed rejection. Unknown identifiers
// and wrong passwords are externally indistinguishable.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	if strings.TrimSpace(input.Identifier) == "" || strings.TrimSpace(input.Password) == "" || strings.TrimSpace(input.DeviceID) == "" {
		return nil, ErrInvalidInput
	}

	user, err := s.resolveUser(ctx, input.Identifier)
	if err != nil {
		return nil, err
	}
	if user == nil || user.PasswordHash == nil {
		_, _ = s.passwordHash.Verify(s.dummyHash, input.Password)
		_ = s.logSecurity(ctx, nil, input.IPAddress, entity.LoginFailed, map[string]any{"identifier": input.Identifier})
		return nil, ErrInvalidCredentials
	}

	ok, err := s.passwordHash.Verify(*user.PasswordHash, input.Password)
	if err != nil {
		return nil, fmt.Errorf("verify password hash: %w", err)
	}
	if !ok {
		_ = s.logSecurity(ctx, &user.ID, input.IPAddress, entity.LoginFailed, map[string]any{"identifier": input.Identifier})
		return nil, ErrInvalidCredentials
	}

	if user.EmailVerifiedAt == nil {
		return nil, ErrEmailNotVerified
	}

	if !user.MFAEnabled {
		result, err := s.createSessionAndTokens(ctx, user, input.DeviceID, input.DeviceName, input.IPAddress, input.UserAgent, false)
		if err != nil {
			return nil, err
		}
		_ = s.logSecurity(ctx, &user.ID, input.IPAddress, entity.LoginSuccess, map[string]any{"device_id": input.DeviceID})
		return result, nil
	}

	credential, secret, err := s.loadConfirmedCredential(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(input.Code) != "" {
		if !s.validateChallengeCode(credential.Method, secret, input.Code) {
			_ = s.logSecurity(ctx, &user.ID, input.IPAddress, entity.MFAFailed, map[string]any{"device_id": input.DeviceID, "inline": true})
			return nil, ErrInvalidMFACode
		}
		result, err := s.createSessionAndTokens(ctx, user, input.DeviceID, input.DeviceName, input.IPAddress, input.UserAgent, true)
		if err != nil {
			return nil, err
		}
		_ = s.logSecurity(ctx, &user.ID, input.IPAddress, entity.LoginSuccess, map[string]any{"device_id": input.DeviceID, "mfa": true})
		return result, nil
	}

	ticket, ttl, err := s.mfaTickets.IssueTicket(user.ID)
	if err != nil {
		return nil, err
	}
	result := &LoginResult{
		MFARequired:     true,
		Ticket:          ticket,
		TicketExpiresIn: int64(ttl.Seconds()),
	}

	if credential.Method == entity.MFAMethodEmail {
		code, err := s.mfaProvider.GenerateCode(secret)
		if err != nil {
			return nil, err
		}
		to := credential.Email
		if to == "" {
			to = user.Email
		}
		if s.emailSender == nil {
			return nil, ErrEmailDelivery
		}
		if err := s.emailSender.SendMFACodeEmail(ctx, to, code); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmailDelivery, err)
		}
		result.EmailMFARequired = true
		result.UserID = user.ID
	}

	return result, nil
}

// LoginWithMFA is the second transition: a ticket plus a challenge code in
// exchange for full session tokens. A wrong code leaves the ticket usable
// until it expires.
func (s *AuthService) LoginWithMFA(ctx context.Context, input LoginMFAInput) (*LoginResult, error) {
	if strings.TrimSpace(input.Ticket) == "" || strings.TrimSpace(input.Code) == "" || strings.TrimSpace(input.DeviceID) == "" {
		return nil, ErrInvalidInput
	}

	userID, err := s.mfaTickets.ParseTicket(input.Ticket)
	if err != nil {
		return nil, ErrInvalidMFATicket
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidMFATicket
	}

	credential, secret, err := s.loadConfirmedCredential(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	if !s.validateChallengeCode(credential.Method, secret, input.Code) {
		_ = s.logSecurity(ctx, &user.ID, input.IPAddress, entity.MFAFailed, map[string]any{"device_id": input.DeviceID})
		return nil, ErrInvalidMFACode
	}

	result, err := s.createSessionAndTokens(ctx, user, input.DeviceID, input.DeviceName, input.IPAddress, input.UserAgent, true)
	if err != nil {
		return nil, err
	}
	_ = s.logSecurity(ctx, &user.ID, input.IPAddress, entity.LoginSuccess, map[string]any{"device_id": input.DeviceID, "mfa": true})
	return result, nil
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, ErrInvalidInput
	}

	session, err := s.sessions.FindByTokenHash(ctx, utils.HashToken(refreshToken))
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrInvalidToken
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	newRefreshToken, newRefreshHash, newRefreshExpiry, err := s.buildRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := s.sessions.RotateToken(ctx, session.ID, newRefreshHash, newRefreshExpiry); err != nil {
		return nil, err
	}

	// The new access token carries the session's recorded verification state,
	// never the account flag: no refresh can mint mfa=true unless a code was
	// validated when the session was created.
	accessToken, expiresIn, err := s.accessTokens.IssueAccessToken(*user, session.ID, session.MFAVerified)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken:      accessToken,
		ExpiresIn:        int64(expiresIn.Seconds()),
		RefreshToken:     newRefreshToken,
		RefreshExpiresIn: int64(newRefreshExpiry.Sub(s.now()).Seconds()),
	}, nil
}

func (s *AuthService) Logout(ctx context.Context, sessionID uuid.UUID, userID *uuid.UUID, ipAddress *string) error {
	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return err
	}
	_ = s.logSecurity(ctx, userID, ipAddress, entity.Logout, nil)
	return nil
}

func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID, ipAddress *string) error {
	if err := s.sessions.RevokeAllByUser(ctx, userID); err != nil {
		return err
	}
	_ = s.logSecurity(ctx, &userID, ipAddress, entity.SessionRevoked, map[string]any{"scope": "all"})
	return nil
}

func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return ErrInvalidInput
	}

	user, err := s.users.FindByEmail(ctx, utils.NormalizeEmail(email))
	if err != nil {
		return err
	}
	if user == nil || user.EmailVerifiedAt == nil {
		// Accepted silently so the endpoint cannot be used for enumeration.
		return nil
	}

	if s.emailSender == nil {
		return nil
	}
	if err := s.deliverToken(ctx, user, entity.PasswordReset, s.resetTokenTTL(), s.emailSender.SendPasswordResetEmail); err != nil {
		return err
	}

	_ = s.logSecurity(ctx, &user.ID, nil, entity.Reset, map[string]any{"stage": "requested"})
	return nil
}

func (s *AuthService) ResetPassword(ctx context.Context, token string, newPassword string) error {
	if strings.TrimSpace(token) == "" || strings.TrimSpace(newPassword) == "" {
		return ErrInvalidInput
	}

	verification, err := s.verifications.FindValid(ctx, utils.HashToken(token), entity.PasswordReset)
	if err != nil {
		return err
	}
	if verification == nil {
		return ErrInvalidToken
	}

	user, err := s.users.FindByID(ctx, verification.UserID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	hash, err := s.passwordHash.Hash(newPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = &hash
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}

	if err := s.verifications.MarkUsed(ctx, verification.ID); err != nil {
		return err
	}

	_ = s.sessions.RevokeAllByUser(ctx, user.ID)
	_ = s.logSecurity(ctx, &user.ID, nil, entity.Reset, map[string]any{"stage": "completed"})
	return nil
}

// SetupMFA provisions a fresh secret for the user. The credential stays
// unconfirmed and MFAEnabled stays false until ConfirmMFA validates a code
// against it. Re-setup while MFA is active is rejected; disable first.
func (s *AuthService) SetupMFA(ctx context.Context, userID uuid.UUID, method entity.MFAMethod) (*MFASetupResult, error) {
	if s.mfaProvider == nil || s.mfaCredentials == nil || s.secrets == nil {
		return nil, ErrMFANotConfigured
	}
	switch method {
	case entity.MFAMethodTOTP, entity.MFAMethodEmail:
	default:
		return nil, ErrInvalidInput
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if user.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	key, err := s.mfaProvider.GenerateKey(user.Email)
	if err != nil {
		return nil, err
	}

	encrypted, err := s.secrets.Encrypt(key.Secret)
	if err != nil {
		return nil, err
	}

	credential := &entity.MFACredential{
		UserID:          user.ID,
		SecretEncrypted: encrypted,
		Method:          method,
		ConfirmedAt:     nil,
	}
	if method == entity.MFAMethodEmail {
		credential.Email = user.Email
	}
	if err := s.mfaCredentials.Upsert(ctx, credential); err != nil {
		return nil, err
	}

	if method == entity.MFAMethodEmail {
		if s.emailSender == nil {
			return nil, ErrEmailDelivery
		}
		code, err := s.mfaProvider.GenerateCode(key.Secret)
		if err != nil {
			return nil, err
		}
		if err := s.emailSender.SendMFACodeEmail(ctx, user.Email, code); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmailDelivery, err)
		}
	}

	return &MFASetupResult{
		Secret:     key.Secret,
		OTPAuthURL: key.URL,
		QRCodePNG:  key.QRPNG,
	}, nil
}

// ConfirmMFA turns on MFA for the account after one valid code against the
// just-provisioned secret. A wrong code changes nothing; the user may retry
// or redo setup.
func (s *AuthService) ConfirmMFA(ctx context.Context, userID uuid.UUID, code string) error {
	if s.mfaProvider == nil || s.mfaCredentials == nil || s.secrets == nil {
		return ErrMFANotConfigured
	}
	if strings.TrimSpace(code) == "" {
		return ErrInvalidInput
	}

	credential, err := s.mfaCredentials.FindByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if credential == nil {
		return ErrMFANotConfigured
	}

	secret, err := s.secrets.Decrypt(credential.SecretEncrypted)
	if err != nil {
		return fmt.Errorf("decrypt mfa secret: %w", err)
	}
	if !s.validateChallengeCode(credential.Method, secret, code) {
		return ErrInvalidMFACode
	}

	now := s.now()
	credential.ConfirmedAt = &now
	if err := s.mfaCredentials.Upsert(ctx, credential); err != nil {
		return err
	}
	if err := s.users.SetMFAEnabled(ctx, userID, true); err != nil {
		return err
	}
	_ = s.logSecurity(ctx, &userID, nil, entity.MFAEnabled, map[string]any{"method": string(credential.Method)})
	return nil
}

// DisableMFA requires a currently valid code; it removes the credential and
// clears the account flag.
func (s *AuthService) DisableMFA(ctx context.Context, userID uuid.UUID, code string) error {
	if s.mfaProvider == nil || s.mfaCredentials == nil || s.secrets == nil {
		return ErrMFANotConfigured
	}
	if strings.TrimSpace(code) == "" {
		return ErrInvalidInput
	}

	credential, secret, err := s.loadConfirmedCredential(ctx, userID)
	if err != nil {
		return err
	}
	if !s.validateChallengeCode(credential.Method, secret, code) {
		_ = s.logSecurity(ctx, &userID, nil, entity.MFAFailed, map[string]any{"action": "disable"})
		return ErrInvalidMFACode
	}

	// Flag first: a failed credential delete must not leave the account
	// demanding a code it can no longer verify.
	if err := s.users.SetMFAEnabled(ctx, userID, false); err != nil {
		return err
	}
	if err := s.mfaCredentials.Delete(ctx, userID); err != nil {
		return err
	}
	_ = s.logSecurity(ctx, &userID, nil, entity.MFADisabled, nil)
	return nil
}

func (s *AuthService) GetCurrentUser(ctx context.Context, userID uuid.UUID) (*entity.User, error) {
	return s.users.FindByID(ctx, userID)
}

func (s *AuthService) ListUsers(ctx context.Context, limit, offset int) ([]entity.User, error) {
	return s.users.List(ctx, limit, offset)
}

func (s *AuthService) RevokeUserSessions(ctx context.Context, userID uuid.UUID) error {
	return s.sessions.RevokeAllByUser(ctx, userID)
}

func (s *AuthService) resolveUser(ctx context.Context, identifier string) (*entity.User, error) {
	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		return s.users.FindByEmail(ctx, utils.NormalizeEmail(identifier))
	}
	return s.users.FindByUsername(ctx, identifier)
}

// loadConfirmedCredential fetches and decrypts the user's confirmed MFA
// credential. A decrypt failure is an internal fault, never reported as a
// wrong credential.
func (s *AuthService) loadConfirmedCredential(ctx context.Context, userID uuid.UUID) (*entity.MFACredential, string, error) {
	if s.mfaCredentials == nil || s.secrets == nil || s.mfaProvider == nil {
		return nil, "", ErrMFANotConfigured
	}
	credential, err := s.mfaCredentials.FindByUserID(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	if credential == nil || credential.ConfirmedAt == nil {
		return nil, "", ErrMFANotConfigured
	}
	secret, err := s.secrets.Decrypt(credential.SecretEncrypted)
	if err != nil {
		return nil, "", fmt.Errorf("decrypt mfa secret: %w", err)
	}
	return credential, secret, nil
}

func (s *AuthService) validateChallengeCode(method entity.MFAMethod, secret string, code string) bool {
	if method == entity.MFAMethodEmail {
		return s.mfaProvider.ValidateEmailCode(secret, code)
	}
	return s.mfaProvider.ValidateCode(secret, code)
}

func (s *AuthService) createSessionAndTokens(
	ctx context.Context,
	user *entity.User,
	deviceID string,
	deviceName string,
	ipAddress *string,
	userAgent *string,
	mfaVerified bool,
) (*LoginResult, error) {
	refreshToken, refreshHash, refreshExpiry, err := s.buildRefreshToken()
	if err != nil {
		return nil, err
	}

	session := &entity.Session{
		UserID:      user.ID,
		TokenHash:   refreshHash,
		MFAVerified: mfaVerified,
		DeviceID:    deviceID,
		DeviceName:  deviceName,
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		ExpiresAt:   refreshExpiry,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	accessToken, expiresIn, err := s.accessTokens.IssueAccessToken(*user, session.ID, mfaVerified)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken:      accessToken,
		ExpiresIn:        int64(expiresIn.Seconds()),
		RefreshToken:     refreshToken,
		RefreshExpiresIn: int64(refreshExpiry.Sub(s.now()).Seconds()),
	}, nil
}

func (s *AuthService) sendEmailVerification(ctx context.Context, user *entity.User) error {
	if s.emailSender == nil {
		return nil
	}
	return s.deliverToken(ctx, user, entity.EmailVerify, s.verificationTokenTTL(), s.emailSender.SendVerificationEmail)
}

// deliverToken generates an opaque token, emails it, and only then persists
// its hash. A delivery failure therefore leaves nothing behind and the
// request can simply be retried.
func (s *AuthService) deliverToken(
	ctx context.Context,
	user *entity.User,
	typeValue entity.VerificationType,
	ttl time.Duration,
	send func(context.Context, string, string) error,
) error {
	rawToken, err := utils.GenerateRandomToken()
	if err != nil {
		return err
	}

	if err := send(ctx, user.Email, rawToken); err != nil {
		return fmt.Errorf("%w: %v", ErrEmailDelivery, err)
	}

	verification := &entity.VerificationToken{
		UserID:    user.ID,
		TokenHash: utils.HashToken(rawToken),
		Type:      typeValue,
		ExpiresAt: s.now().Add(ttl),
	}
	return s.verifications.Create(ctx, verification)
}

func (s *AuthService) buildRefreshToken() (string, string, time.Time, error) {
	rawToken, err := utils.GenerateRandomToken()
	if err != nil {
		return "", "", time.Time{}, err
	}
	expiresAt := s.now().Add(s.refreshTokenTTL())
	return rawToken, utils.HashToken(rawToken), expiresAt, nil
}

func (s *AuthService) logSecurity(
	ctx context.Context,
	userID *uuid.UUID,
	ipAddress *string,
	action entity.SecurityAction,
	metadata map[string]any,
) error {
	if s.securityLogs == nil {
		return nil
	}
	var payload datatypes.JSON
	if metadata != nil {
		bytes, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		payload = datatypes.JSON(bytes)
	}

	log := &entity.SecurityLog{
		UserID:    userID,
		IPAddress: ipAddress,
		Action:    action,
		Metadata:  payload,
	}
	return s.securityLogs.Log(ctx, log)
}

func (s *AuthService) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock.Now()
}

func (s *AuthService) verificationTokenTTL() time.Duration {
	if s.config.VerificationTokenTTL > 0 {
		return s.config.VerificationTokenTTL
	}
	return 24 * time.Hour
}

func (s *AuthService) resetTokenTTL() time.Duration {
	if s.config.ResetTokenTTL > 0 {
		return s.config.ResetTokenTTL
	}
	return 30 * time.Minute
}

func (s *AuthService) refreshTokenTTL() time.Duration {
	if s.config.RefreshTokenTTL > 0 {
		return s.config.RefreshTokenTTL
	}
	return 30 * 24 * time.Hour
}
