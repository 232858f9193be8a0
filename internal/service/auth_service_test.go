package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"identra/internal/entity"
	"identra/internal/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// In-memory fakes for the repository layer. They keep just enough behavior
// for the protocol tests: token hashes, expiry and used/revoked markers.

type memUserRepo struct {
	users map[uuid.UUID]*entity.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[uuid.UUID]*entity.User{}}
}

func (r *memUserRepo) Create(_ context.Context, user *entity.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	r.users[user.ID] = user
	return nil
}

func (r *memUserRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.User, error) {
	return r.users[id], nil
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string) (*entity.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) FindByUsername(_ context.Context, username string) (*entity.User, error) {
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) Update(_ context.Context, user *entity.User) error {
	r.users[user.ID] = user
	return nil
}

func (r *memUserRepo) VerifyEmail(_ context.Context, userID uuid.UUID) error {
	if u, ok := r.users[userID]; ok && u.EmailVerifiedAt == nil {
		now := time.Now()
		u.EmailVerifiedAt = &now
	}
	return nil
}

func (r *memUserRepo) SetMFAEnabled(_ context.Context, userID uuid.UUID, enabled bool) error {
	if u, ok := r.users[userID]; ok {
		u.MFAEnabled = enabled
	}
	return nil
}

func (r *memUserRepo) List(_ context.Context, _, _ int) ([]entity.User, error) {
	out := make([]entity.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u)
	}
	return out, nil
}

type memSessionRepo struct {
	sessions map[uuid.UUID]*entity.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: map[uuid.UUID]*entity.Session{}}
}

func (r *memSessionRepo) Create(_ context.Context, s *entity.Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	r.sessions[s.ID] = s
	return nil
}

func (r *memSessionRepo) FindByTokenHash(_ context.Context, hash string) (*entity.Session, error) {
	for _, s := range r.sessions {
		if s.TokenHash == hash && s.RevokedAt == nil && s.ExpiresAt.After(time.Now()) {
			return s, nil
		}
	}
	return nil, nil
}

func (r *memSessionRepo) RotateToken(_ context.Context, sessionID uuid.UUID, newHash string, newExpiry time.Time) error {
	s, ok := r.sessions[sessionID]
	if !ok {
		return errors.New("session not found")
	}
	s.TokenHash = newHash
	s.ExpiresAt = newExpiry
	return nil
}

func (r *memSessionRepo) Revoke(_ context.Context, sessionID uuid.UUID) error {
	if s, ok := r.sessions[sessionID]; ok && s.RevokedAt == nil {
		now := time.Now()
		s.RevokedAt = &now
	}
	return nil
}

func (r *memSessionRepo) RevokeAllByUser(_ context.Context, userID uuid.UUID) error {
	now := time.Now()
	for _, s := range r.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &now
		}
	}
	return nil
}

func (r *memSessionRepo) CleanupExpired(_ context.Context) error { return nil }

func (r *memSessionRepo) activeCount() int {
	n := 0
	for _, s := range r.sessions {
		if s.RevokedAt == nil {
			n++
		}
	}
	return n
}

type memVerificationRepo struct {
	tokens []*entity.VerificationToken
}

func (r *memVerificationRepo) Create(_ context.Context, t *entity.VerificationToken) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	r.tokens = append(r.tokens, t)
	return nil
}

func (r *memVerificationRepo) FindValid(_ context.Context, tokenHash string, tokenType entity.VerificationType) (*entity.VerificationToken, error) {
	for _, t := range r.tokens {
		if t.TokenHash == tokenHash && t.Type == tokenType && t.UsedAt == nil && t.ExpiresAt.After(time.Now()) {
			return t, nil
		}
	}
	return nil, nil
}

func (r *memVerificationRepo) MarkUsed(_ context.Context, id uuid.UUID) error {
	for _, t := range r.tokens {
		if t.ID == id {
			now := time.Now()
			t.UsedAt = &now
			return nil
		}
	}
	return errors.New("token not found")
}

type memMFACredentialRepo struct {
	byUser    map[uuid.UUID]*entity.MFACredential
	deleteErr error
}

func newMemMFACredentialRepo() *memMFACredentialRepo {
	return &memMFACredentialRepo{byUser: map[uuid.UUID]*entity.MFACredential{}}
}

func (r *memMFACredentialRepo) FindByUserID(_ context.Context, userID uuid.UUID) (*entity.MFACredential, error) {
	return r.byUser[userID], nil
}

func (r *memMFACredentialRepo) Upsert(_ context.Context, credential *entity.MFACredential) error {
	if credential.ID == uuid.Nil {
		credential.ID = uuid.New()
	}
	r.byUser[credential.UserID] = credential
	return nil
}

func (r *memMFACredentialRepo) Delete(_ context.Context, userID uuid.UUID) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	delete(r.byUser, userID)
	return nil
}

type memSecurityLogRepo struct {
	entries []*entity.SecurityLog
}

func (r *memSecurityLogRepo) Log(_ context.Context, log *entity.SecurityLog) error {
	r.entries = append(r.entries, log)
	return nil
}

// recordingEmailSender captures outgoing tokens and codes so tests can use
// them the way a user reading their inbox would.
type recordingEmailSender struct {
	fail bool

	verificationTokens []string
	resetTokens        []string
	mfaCodes           []string
	lastTo             string
}

func (s *recordingEmailSender) SendVerificationEmail(_ context.Context, email, token string) error {
	if s.fail {
		return errors.New("smtp down")
	}
	s.lastTo = email
	s.verificationTokens = append(s.verificationTokens, token)
	return nil
}

func (s *recordingEmailSender) SendPasswordResetEmail(_ context.Context, email, token string) error {
	if s.fail {
		return errors.New("smtp down")
	}
	s.lastTo = email
	s.resetTokens = append(s.resetTokens, token)
	return nil
}

func (s *recordingEmailSender) SendMFACodeEmail(_ context.Context, email, code string) error {
	if s.fail {
		return errors.New("smtp down")
	}
	s.lastTo = email
	s.mfaCodes = append(s.mfaCodes, code)
	return nil
}

type fixedClock struct {
	at time.Time
}

func (c fixedClock) Now() time.Time { return c.at }

type testEnv struct {
	svc           *AuthService
	users         *memUserRepo
	sessions      *memSessionRepo
	verifications *memVerificationRepo
	credentials   *memMFACredentialRepo
	logs          *memSecurityLogRepo
	sender        *recordingEmailSender
	provider      *TOTPProvider
	manager       *utils.JWTManager
	hasher        Argon2PasswordHasher
	now           time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	now := time.Now().Truncate(time.Second)

	provider := NewTOTPProvider("identra-test")
	provider.Now = func() time.Time { return now }

	cipher, err := utils.NewSecretCipher(make([]byte, 32))
	require.NoError(t, err)

	manager := &utils.JWTManager{Secret: []byte("service-test-secret"), AccessTokenTTL: 30 * time.Minute}

	env := &testEnv{
		users:         newMemUserRepo(),
		sessions:      newMemSessionRepo(),
		verifications: &memVerificationRepo{},
		credentials:   newMemMFACredentialRepo(),
		logs:          &memSecurityLogRepo{},
		sender:        &recordingEmailSender{},
		provider:      provider,
		manager:       manager,
		hasher:        fastHasher(),
		now:           now,
	}
	env.svc = NewAuthService(
		env.users,
		env.sessions,
		env.verifications,
		env.credentials,
		env.logs,
		env.sender,
		env.hasher,
		JWTAccessIssuer{Manager: manager},
		MFATicketIssuerJWT{Secret: []byte("service-test-secret"), TTL: 5 * time.Minute},
		provider,
		cipher,
		fixedClock{at: now},
		AuthConfig{},
	)
	return env
}

func (env *testEnv) createUser(t *testing.T, username, email, password string, verified bool) *entity.User {
	t.Helper()
	hash, err := env.hasher.Hash(password)
	require.NoError(t, err)

	user := &entity.User{
		Username:     username,
		Email:        email,
		PasswordHash: &hash,
		Role:         entity.UserRoleUser,
		IsActive:     true,
	}
	if verified {
		user.EmailVerifiedAt = &env.now
	}
	require.NoError(t, env.users.Create(context.Background(), user))
	return user
}

// enableTOTP walks the real setup/confirm path and returns the base32 secret.
func (env *testEnv) enableTOTP(t *testing.T, user *entity.User) string {
	t.Helper()
	ctx := context.Background()

	setup, err := env.svc.SetupMFA(ctx, user.ID, entity.MFAMethodTOTP)
	require.NoError(t, err)

	code := codeAt(t, env.provider, setup.Secret, env.now)
	require.NoError(t, env.svc.ConfirmMFA(ctx, user.ID, code))
	require.True(t, user.MFAEnabled)
	return setup.Secret
}

func loginInput(identifier, password string) LoginInput {
	return LoginInput{
		Identifier: identifier,
		Password:   password,
		DeviceID:   "device-1",
		DeviceName: "test device",
	}
}

func TestRegisterAndVerifyEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.svc.Register(ctx, RegisterInput{Username: "alice", Email: "Alice@Example.com", Password: "password123"})
	require.NoError(t, err)

	user, err := env.users.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, user, "email should be stored normalized")
	assert.Nil(t, user.EmailVerifiedAt)

	require.Len(t, env.sender.verificationTokens, 1)
	token := env.sender.verificationTokens[0]
	assert.Len(t, token, 64)

	require.NoError(t, env.svc.VerifyEmail(ctx, token))
	assert.NotNil(t, user.EmailVerifiedAt)

	// The token is single use.
	err = env.svc.VerifyEmail(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice", "alice@example.com", "password123", true)

	err := env.svc.Register(ctx, RegisterInput{Username: "alice2", Email: "alice@example.com", Password: "password123"})
	assert.ErrorIs(t, err, ErrEmailAlreadyRegistered)
}

func TestRegisterUnverifiedEmailResends(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice", "alice@example.com", "password123", false)

	err := env.svc.Register(ctx, RegisterInput{Username: "whoever", Email: "alice@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Len(t, env.sender.verificationTokens, 1, "a fresh verification email should go out")
}

func TestRegisterUsernameTaken(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "alice", "alice@example.com", "password123", true)

	err := env.svc.Register(context.Background(), RegisterInput{Username: "alice", Email: "other@example.com", Password: "password123"})
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestRegisterDeliveryFailureLeavesNoToken(t *testing.T) {
	env := newTestEnv(t)
	env.sender.fail = true

	err := env.svc.Register(context.Background(), RegisterInput{Username: "alice", Email: "alice@example.com", Password: "password123"})
	assert.ErrorIs(t, err, ErrEmailDelivery)
	assert.Empty(t, env.verifications.tokens, "no token hash may be persisted when the email never left")
}

func TestLoginWithoutMFA(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "alice", "alice@example.com", "password123", true)

	result, err := env.svc.Login(context.Background(), loginInput("alice@example.com", "password123"))
	require.NoError(t, err)

	assert.False(t, result.MFARequired)
	assert.Empty(t, result.Ticket)
	require.NotEmpty(t, result.AccessToken)
	require.NotEmpty(t, result.RefreshToken)
	assert.Equal(t, 1, env.sessions.activeCount())

	claims, err := env.manager.ParseAccessToken(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.UserID)
	assert.False(t, claims.MFAVerified)
}

func TestLoginByUsername(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "alice", "alice@example.com", "password123", true)

	result, err := env.svc.Login(context.Background(), loginInput("alice", "password123"))
	require.NoError(t, err)
	assert.NotEmpty(t, result.AccessToken)
}

func TestLoginRejections(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "alice", "alice@example.com", "password123", true)
	env.createUser(t, "carol", "carol@example.com", "password123", false)

	tests := []struct {
		name       string
		identifier string
		password   string
		want       error
	}{
		{name: "wrong password", identifier: "alice@example.com", password: "nope", want: ErrInvalidCredentials},
		{name: "unknown email", identifier: "ghost@example.com", password: "password123", want: ErrInvalidCredentials},
		{name: "unknown username", identifier: "ghost", password: "password123", want: ErrInvalidCredentials},
		{name: "unverified email", identifier: "carol@example.com", password: "password123", want: ErrEmailNotVerified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Login(context.Background(), loginInput(tt.identifier, tt.password))
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 0, env.sessions.activeCount())
}

func TestLoginMissingFields(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Login(context.Background(), LoginInput{Identifier: "alice", Password: "password123"})
	assert.ErrorIs(t, err, ErrInvalidInput, "device id is required")
}

func TestLoginWithMFAIssuesTicket(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "bob", "bob@example.com", "password123", true)
	env.enableTOTP(t, user)

	result, err := env.svc.Login(context.Background(), loginInput("bob@example.com", "password123"))
	require.NoError(t, err)

	assert.True(t, result.MFARequired)
	assert.NotEmpty(t, result.Ticket)
	assert.Empty(t, result.AccessToken, "no session tokens before the challenge is passed")
	assert.Empty(t, result.RefreshToken)
	assert.Equal(t, 0, env.sessions.activeCount())
	assert.InDelta(t, 300, result.TicketExpiresIn, 1)
}

func TestLoginInlineCode(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "bob", "bob@example.com", "password123", true)
	secret := env.enableTOTP(t, user)

	input := loginInput("bob@example.com", "password123")
	input.Code = codeAt(t, env.provider, secret, env.now)

	result, err := env.svc.Login(context.Background(), input)
	require.NoError(t, err)
	assert.False(t, result.MFARequired)
	require.NotEmpty(t, result.AccessToken)

	claims, err := env.manager.ParseAccessToken(result.AccessToken)
	require.NoError(t, err)
	assert.True(t, claims.MFAVerified)
}

func TestLoginInlineCodeWrong(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "bob", "bob@example.com", "password123", true)
	secret := env.enableTOTP(t, user)

	input := loginInput("bob@example.com", "password123")
	input.Code = codeAt(t, env.provider, secret, env.now.Add(-5*time.Minute))

	_, err := env.svc.Login(context.Background(), input)
	assert.ErrorIs(t, err, ErrInvalidMFACode)
	assert.Equal(t, 0, env.sessions.activeCount())
}

func TestLoginWithMFATicketFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "bob", "bob@example.com", "password123", true)
	secret := env.enableTOTP(t, user)

	first, err := env.svc.Login(ctx, loginInput("bob@example.com", "password123"))
	require.NoError(t, err)
	require.True(t, first.MFARequired)

	// A wrong code is rejected but does not burn the ticket.
	_, err = env.svc.LoginWithMFA(ctx, LoginMFAInput{
		Ticket:   first.Ticket,
		Code:     codeAt(t, env.provider, secret, env.now.Add(-5*time.Minute)),
		DeviceID: "device-1",
	})
	assert.ErrorIs(t, err, ErrInvalidMFACode)

	result, err := env.svc.LoginWithMFA(ctx, LoginMFAInput{
		Ticket:   first.Ticket,
		Code:     codeAt(t, env.provider, secret, env.now),
		DeviceID: "device-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.AccessToken)

	claims, err := env.manager.ParseAccessToken(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.UserID)
	assert.True(t, claims.MFAVerified)
	assert.Equal(t, 1, env.sessions.activeCount())
}

func TestLoginWithMFABadTickets(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "bob", "bob@example.com", "password123", true)
	secret := env.enableTOTP(t, user)
	code := codeAt(t, env.provider, secret, env.now)

	expiredIssuer := MFATicketIssuerJWT{Secret: []byte("service-test-secret"), TTL: -time.Minute}
	expired, _, err := expiredIssuer.IssueTicket(user.ID)
	require.NoError(t, err)

	foreignIssuer := MFATicketIssuerJWT{Secret: []byte("some-other-secret")}
	foreign, _, err := foreignIssuer.IssueTicket(user.ID)
	require.NoError(t, err)

	for name, ticket := range map[string]string{
		"garbage": "not-a-ticket",
		"expired": expired,
		"foreign": foreign,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := env.svc.LoginWithMFA(context.Background(), LoginMFAInput{Ticket: ticket, Code: code, DeviceID: "device-1"})
			assert.ErrorIs(t, err, ErrInvalidMFATicket)
		})
	}
}

func TestSetupConfirmFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "bob", "bob@example.com", "password123", true)

	setup, err := env.svc.SetupMFA(ctx, user.ID, entity.MFAMethodTOTP)
	require.NoError(t, err)
	assert.NotEmpty(t, setup.Secret)
	assert.NotEmpty(t, setup.OTPAuthURL)
	assert.NotEmpty(t, setup.QRCodePNG)
	assert.False(t, user.MFAEnabled, "setup alone must not enable MFA")

	// Until confirmed, login does not demand a challenge.
	result, err := env.svc.Login(ctx, loginInput("bob@example.com", "password123"))
	require.NoError(t, err)
	assert.False(t, result.MFARequired)

	err = env.svc.ConfirmMFA(ctx, user.ID, codeAt(t, env.provider, setup.Secret, env.now.Add(-5*time.Minute)))
	assert.ErrorIs(t, err, ErrInvalidMFACode)
	assert.False(t, user.MFAEnabled)

	require.NoError(t, env.svc.ConfirmMFA(ctx, user.ID, codeAt(t, env.provider, setup.Secret, env.now)))
	assert.True(t, user.MFAEnabled)

	result, err = env.svc.Login(ctx, loginInput("bob@example.com", "password123"))
	require.NoError(t, err)
	assert.True(t, result.MFARequired)
}

func TestSetupWhileEnabledRejected(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "bob", "bob@example.com", "password123", true)
	env.enableTOTP(t, user)

	_, err := env.svc.SetupMFA(context.Background(), user.ID, entity.MFAMethodTOTP)
	assert.ErrorIs(t, err, ErrMFAAlreadyEnabled)
}

func TestConfirmWithoutSetup(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "bob", "bob@example.com", "password123", true)

	err := env.svc.ConfirmMFA(context.Background(), user.ID, "123456")
	assert.ErrorIs(t, err, ErrMFANotConfigured)
}

func TestDisableMFA(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "bob", "bob@example.com", "password123", true)
	secret := env.enableTOTP(t, user)

	err := env.svc.DisableMFA(ctx, user.ID, codeAt(t, env.provider, secret, env.now.Add(-5*time.Minute)))
	assert.ErrorIs(t, err, ErrInvalidMFACode)
	assert.True(t, user.MFAEnabled)

	require.NoError(t, env.svc.DisableMFA(ctx, user.ID, codeAt(t, env.provider, secret, env.now)))
	assert.False(t, user.MFAEnabled)

	credential, err := env.credentials.FindByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, credential, "credential must be removed on disable")

	result, err := env.svc.Login(ctx, loginInput("bob@example.com", "password123"))
	require.NoError(t, err)
	assert.False(t, result.MFARequired)
}

func TestDisableMFADeleteFailureDoesNotLockOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "bob", "bob@example.com", "password123", true)
	secret := env.enableTOTP(t, user)

	env.credentials.deleteErr = errors.New("connection reset")
	err := env.svc.DisableMFA(ctx, user.ID, codeAt(t, env.provider, secret, env.now))
	require.Error(t, err)
	assert.False(t, user.MFAEnabled, "a failed credential delete must not leave the flag set")

	// No challenge is demanded, so the account is not locked out.
	result, err := env.svc.Login(ctx, loginInput("bob@example.com", "password123"))
	require.NoError(t, err)
	assert.False(t, result.MFARequired)
}

func TestEmailMFAFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "dana", "dana@example.com", "password123", true)

	_, err := env.svc.SetupMFA(ctx, user.ID, entity.MFAMethodEmail)
	require.NoError(t, err)
	require.Len(t, env.sender.mfaCodes, 1, "setup should email an initial code")
	assert.Equal(t, "dana@example.com", env.sender.lastTo)

	require.NoError(t, env.svc.ConfirmMFA(ctx, user.ID, env.sender.mfaCodes[0]))
	assert.True(t, user.MFAEnabled)

	result, err := env.svc.Login(ctx, loginInput("dana@example.com", "password123"))
	require.NoError(t, err)
	assert.True(t, result.MFARequired)
	assert.True(t, result.EmailMFARequired)
	assert.Equal(t, user.ID, result.UserID)
	require.Len(t, env.sender.mfaCodes, 2, "login should email a challenge code")

	final, err := env.svc.LoginWithMFA(ctx, LoginMFAInput{
		Ticket:   result.Ticket,
		Code:     env.sender.mfaCodes[1],
		DeviceID: "device-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, final.AccessToken)

	claims, err := env.manager.ParseAccessToken(final.AccessToken)
	require.NoError(t, err)
	assert.True(t, claims.MFAVerified)
}

func TestEmailMFADeliveryFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "dana", "dana@example.com", "password123", true)

	_, err := env.svc.SetupMFA(ctx, user.ID, entity.MFAMethodEmail)
	require.NoError(t, err)
	require.NoError(t, env.svc.ConfirmMFA(ctx, user.ID, env.sender.mfaCodes[0]))

	env.sender.fail = true
	_, err = env.svc.Login(ctx, loginInput("dana@example.com", "password123"))
	assert.ErrorIs(t, err, ErrEmailDelivery)
}

func TestPasswordResetSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice", "alice@example.com", "oldpassword1", true)

	// An active session that the reset must revoke.
	_, err := env.svc.Login(ctx, loginInput("alice@example.com", "oldpassword1"))
	require.NoError(t, err)
	require.Equal(t, 1, env.sessions.activeCount())

	require.NoError(t, env.svc.RequestPasswordReset(ctx, "alice@example.com"))
	require.Len(t, env.sender.resetTokens, 1)
	token := env.sender.resetTokens[0]

	require.NoError(t, env.svc.ResetPassword(ctx, token, "newpassword1"))
	assert.Equal(t, 0, env.sessions.activeCount(), "existing sessions must be revoked on reset")

	_, err = env.svc.Login(ctx, loginInput("alice@example.com", "oldpassword1"))
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = env.svc.Login(ctx, loginInput("alice@example.com", "newpassword1"))
	assert.NoError(t, err)

	// Replaying the consumed token must fail.
	err = env.svc.ResetPassword(ctx, token, "anotherpassword1")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	env := newTestEnv(t)

	err := env.svc.RequestPasswordReset(context.Background(), "ghost@example.com")
	assert.NoError(t, err)
	assert.Empty(t, env.sender.resetTokens)
}

func TestPasswordResetDeliveryFailureLeavesNoToken(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "alice", "alice@example.com", "password123", true)
	env.sender.fail = true

	err := env.svc.RequestPasswordReset(context.Background(), "alice@example.com")
	assert.ErrorIs(t, err, ErrEmailDelivery)
	assert.Empty(t, env.verifications.tokens)
}

func TestRefreshRotatesToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice", "alice@example.com", "password123", true)

	login, err := env.svc.Login(ctx, loginInput("alice@example.com", "password123"))
	require.NoError(t, err)

	refreshed, err := env.svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)
	require.NotEmpty(t, refreshed.RefreshToken)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	// The old refresh token is dead after rotation.
	_, err = env.svc.Refresh(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = env.svc.Refresh(ctx, refreshed.RefreshToken)
	assert.NoError(t, err)
}

func TestRefreshDoesNotUpgradePreMFASession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "bob", "bob@example.com", "password123", true)

	// Session minted before the account enabled MFA.
	login, err := env.svc.Login(ctx, loginInput("bob@example.com", "password123"))
	require.NoError(t, err)

	env.enableTOTP(t, user)

	refreshed, err := env.svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)

	claims, err := env.manager.ParseAccessToken(refreshed.AccessToken)
	require.NoError(t, err)
	assert.False(t, claims.MFAVerified, "refresh must not mint mfa=true for a session that never passed a challenge")
}

func TestRefreshKeepsMFAVerifiedSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "bob", "bob@example.com", "password123", true)
	secret := env.enableTOTP(t, user)

	input := loginInput("bob@example.com", "password123")
	input.Code = codeAt(t, env.provider, secret, env.now)
	login, err := env.svc.Login(ctx, input)
	require.NoError(t, err)

	refreshed, err := env.svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)

	claims, err := env.manager.ParseAccessToken(refreshed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.UserID)
	assert.True(t, claims.MFAVerified, "a challenge-backed session keeps its verified state across refresh")
}

func TestLogoutRevokesSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice", "alice@example.com", "password123", true)

	login, err := env.svc.Login(ctx, loginInput("alice@example.com", "password123"))
	require.NoError(t, err)

	claims, err := env.manager.ParseAccessToken(login.AccessToken)
	require.NoError(t, err)
	sessionID, err := uuid.Parse(claims.SessionID)
	require.NoError(t, err)

	require.NoError(t, env.svc.Logout(ctx, sessionID, &user.ID, nil))
	assert.Equal(t, 0, env.sessions.activeCount())

	_, err = env.svc.Refresh(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
