package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/otpgate/apiserver/internal/activity"
	"github.com/otpgate/apiserver/internal/apperr"
	"github.com/otpgate/apiserver/internal/logging"
	"github.com/otpgate/apiserver/internal/mailer"
	"github.com/otpgate/apiserver/internal/otp"
	"github.com/otpgate/apiserver/internal/store"
	"github.com/otpgate/apiserver/internal/token"
	"github.com/otpgate/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *fakeMailer) Send(ctx context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type failingRecorder struct{}

func (failingRecorder) Record(ctx context.Context, userID, email string, activityType types.ActivityType) (types.ActivityRecord, error) {
	return types.ActivityRecord{}, errors.New("activity store down")
}

type fixture struct {
	svc    *AuthService
	db     *store.MemoryStore
	codes  *otp.MemoryStore
	tokens *token.Issuer
	mail   *fakeMailer
	now    time.Time
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func newFixture(t *testing.T, opts ...AuthOption) *fixture {
	t.Helper()
	f := &fixture{
		db:     store.NewMemoryStore(),
		codes:  otp.NewMemoryStore(),
		tokens: token.NewIssuer("test-secret", time.Hour),
		mail:   &fakeMailer{},
		now:    time.Now().UTC(),
	}
	clock := func() time.Time { return f.now }
	log := logging.Discard()
	engine := otp.NewEngine(f.codes, otp.WithClock(clock))
	f.svc = NewAuthService(f.db.Users(), activity.NewLogger(f.db.Activity(), log), engine, f.tokens, f.mail, log, opts...)
	f.svc.clock = clock
	return f
}

func (f *fixture) issuedCode(t *testing.T, email string) string {
	t.Helper()
	p, ok := f.codes.Code(email)
	require.True(t, ok, "no code issued for %s", email)
	return p.Code
}

func (f *fixture) signUp(t *testing.T, email, password string) AuthResult {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.SendOTP(ctx, email, password, "")
	require.NoError(t, err)
	res, err := f.svc.VerifyOTP(ctx, email, f.issuedCode(t, email), password)
	require.NoError(t, err)
	return res
}

func TestSignUpScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.svc.SendOTP(ctx, "a@x.com", "secret1", "")
	require.NoError(t, err)
	assert.Equal(t, "OTP sent successfully to your email", msg)
	require.Len(t, f.mail.sent, 1)
	assert.Equal(t, "a@x.com", f.mail.sent[0].To)
	assert.Contains(t, f.mail.sent[0].HTML, f.issuedCode(t, "a@x.com"))

	res, err := f.svc.VerifyOTP(ctx, "a@x.com", f.issuedCode(t, "a@x.com"), "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.User.ID)
	assert.Equal(t, "a@x.com", res.User.Email)
	assert.Equal(t, types.RoleUser, res.User.Role)

	users, err := f.db.Users().List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	u := users[0]
	assert.True(t, u.IsVerified)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("secret1")))
	require.NotNil(t, u.LastLoginAt)

	_, ok := f.codes.Password("a@x.com")
	assert.False(t, ok, "staged password is cleared after sign-up")

	records, err := f.db.Activity().List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "sign-up-a", records[0].DocumentID)
}

func TestVerifyOTP_WrongCodeDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendOTP(ctx, "a@x.com", "secret1", "")
	require.NoError(t, err)
	wrong := "000000"
	if f.issuedCode(t, "a@x.com") == wrong {
		wrong = "000001"
	}

	_, err = f.svc.VerifyOTP(ctx, "a@x.com", wrong, "secret1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	assert.Equal(t, "Invalid or expired OTP", apperr.MessageOf(err))

	users, err := f.db.Users().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
	_, ok := f.codes.Password("a@x.com")
	assert.True(t, ok)
}

func TestVerifyOTP_SingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendOTP(ctx, "a@x.com", "secret1", "")
	require.NoError(t, err)
	code := f.issuedCode(t, "a@x.com")

	_, err = f.svc.VerifyOTP(ctx, "a@x.com", code, "secret1")
	require.NoError(t, err)

	_, err = f.svc.VerifyOTP(ctx, "a@x.com", code, "secret1")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestVerifyOTP_ExpiredCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendOTP(ctx, "a@x.com", "secret1", "")
	require.NoError(t, err)
	code := f.issuedCode(t, "a@x.com")

	f.advance(otp.Validity + time.Second)

	_, err = f.svc.VerifyOTP(ctx, "a@x.com", code, "secret1")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	_, ok := f.codes.Password("a@x.com")
	assert.False(t, ok)
}

func TestVerifyOTP_MissingStagedPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendOTP(ctx, "a@x.com", "secret1", "")
	require.NoError(t, err)
	f.codes.DeletePassword("a@x.com")

	_, err = f.svc.VerifyOTP(ctx, "a@x.com", f.issuedCode(t, "a@x.com"), "secret1")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	assert.Equal(t, "Password not found. Please try signing up again.", apperr.MessageOf(err))
}

func TestVerifyOTP_ExistingAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A code can still be pending when the account gets created elsewhere.
	_, err := f.svc.SendOTP(ctx, "a@x.com", "secret1", "")
	require.NoError(t, err)
	_, err = f.db.Users().Create(ctx, types.User{Email: "a@x.com", Role: types.RoleUser})
	require.NoError(t, err)

	_, err = f.svc.VerifyOTP(ctx, "a@x.com", f.issuedCode(t, "a@x.com"), "secret1")
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Equal(t, "User already exists. Please use sign-in endpoint instead.", apperr.MessageOf(err))

	_, ok := f.codes.Password("a@x.com")
	assert.False(t, ok, "staged password is cleared on conflict")
	_, ok = f.codes.Role("a@x.com")
	assert.False(t, ok, "staged role is cleared on conflict")
}

func TestSendOTP_ExistingEmail(t *testing.T) {
	f := newFixture(t)
	f.signUp(t, "a@x.com", "secret1")

	_, err := f.svc.SendOTP(context.Background(), "a@x.com", "another1", "")
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Equal(t, "User with this email already exists", apperr.MessageOf(err))
}

func TestSendOTP_MailFailure(t *testing.T) {
	f := newFixture(t)
	f.mail.err = errors.New("smtp down")

	_, err := f.svc.SendOTP(context.Background(), "a@x.com", "secret1", "")
	assert.True(t, apperr.Is(err, apperr.KindInternal))
	assert.Equal(t, "Failed to send OTP", apperr.MessageOf(err))
}

func TestSendOTP_AdminRole(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t)
	_, err := f.svc.SendOTP(ctx, "root@x.com", "secret1", types.RoleAdmin)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	f = newFixture(t, WithAdminSignup(true))
	_, err = f.svc.SendOTP(ctx, "root@x.com", "secret1", types.RoleAdmin)
	require.NoError(t, err)
	res, err := f.svc.VerifyOTP(ctx, "root@x.com", f.issuedCode(t, "root@x.com"), "secret1")
	require.NoError(t, err)
	assert.Equal(t, types.RoleAdmin, res.User.Role)
}

func TestSignIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	signedUp := f.signUp(t, "a@x.com", "secret1")

	before, err := f.db.Users().GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)

	f.advance(time.Minute)
	res, err := f.svc.SignIn(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "User signed in successfully", res.Message)
	assert.Equal(t, signedUp.User.ID, res.User.ID)

	claims, err := f.tokens.Parse(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, signedUp.User.ID, claims.Subject)
	assert.Equal(t, "a@x.com", claims.Email)

	after, err := f.db.Users().GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, after.LastLoginAt)
	assert.False(t, after.LastLoginAt.Before(*before.LastLoginAt))
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
}

func TestSignIn_UniformFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signUp(t, "a@x.com", "secret1")
	_, err := f.db.Users().Create(ctx, types.User{Email: "nopass@x.com", Role: types.RoleUser})
	require.NoError(t, err)

	cases := map[string][2]string{
		"wrong password": {"a@x.com", "wrongpass"},
		"unknown email":  {"ghost@x.com", "secret1"},
		"no password":    {"nopass@x.com", "secret1"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.SignIn(ctx, c[0], c[1])
			require.Error(t, err)
			assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
			assert.Equal(t, "Invalid email or password", apperr.MessageOf(err))
		})
	}
}

func TestSignIn_SequenceNumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signUp(t, "alice@x.com", "secret1")

	const n = 4
	for i := 0; i < n; i++ {
		_, err := f.svc.SignIn(ctx, "alice@x.com", "secret1")
		require.NoError(t, err)
	}

	records, err := f.db.Activity().List(ctx)
	require.NoError(t, err)
	var seqs []int64
	for _, r := range records {
		if r.Type == types.ActivitySignIn {
			require.NotNil(t, r.SequenceNumber)
			seqs = append(seqs, *r.SequenceNumber)
		}
	}
	assert.ElementsMatch(t, []int64{1, 2, 3, 4}, seqs)
}

func TestSignOutAndAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.signUp(t, "a@x.com", "secret1")

	user, err := f.svc.Authenticate(ctx, res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, user.ID)

	msg, err := f.svc.SignOut(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "Signed out successfully", msg)

	max, err := f.db.Activity().MaxSequence(ctx, types.ActivitySignOut, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), max)

	_, err = f.svc.Authenticate(ctx, "garbage")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	require.NoError(t, f.db.Users().Delete(ctx, user.ID))
	_, err = f.svc.Authenticate(ctx, res.AccessToken)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	assert.Equal(t, "User not found", apperr.MessageOf(err))
}

func TestDefaultPolicy(t *testing.T) {
	assert.True(t, DefaultPolicy(types.RoleUser, types.RoleUser))
	assert.True(t, DefaultPolicy(types.RoleUser, types.RoleAdmin))
	assert.True(t, DefaultPolicy(types.RoleAdmin, types.RoleAdmin))
	assert.False(t, DefaultPolicy(types.RoleAdmin, types.RoleUser))
	assert.False(t, DefaultPolicy(types.RoleUser, types.Role("guest")))
	assert.False(t, DefaultPolicy(types.Role("owner"), types.RoleAdmin))
}

func TestActivityFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.signUp(t, "seed@x.com", "secret1")
	f.svc.activity = failingRecorder{}

	cases := []struct {
		name    string
		run     func(t *testing.T) (string, error)
		wantErr apperr.Kind
	}{
		{
			name: "sign-up succeeds",
			run: func(t *testing.T) (string, error) {
				_, err := f.svc.SendOTP(ctx, "new@x.com", "secret1", "")
				require.NoError(t, err)
				res, err := f.svc.VerifyOTP(ctx, "new@x.com", f.issuedCode(t, "new@x.com"), "secret1")
				return res.AccessToken, err
			},
		},
		{
			name: "sign-in succeeds",
			run: func(t *testing.T) (string, error) {
				res, err := f.svc.SignIn(ctx, "seed@x.com", "secret1")
				return res.AccessToken, err
			},
		},
		{
			name: "sign-out fails",
			run: func(t *testing.T) (string, error) {
				user, err := f.db.Users().GetByEmail(ctx, "seed@x.com")
				require.NoError(t, err)
				return f.svc.SignOut(ctx, user)
			},
			wantErr: apperr.KindInternal,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := tc.run(t)
			if tc.wantErr == "" {
				require.NoError(t, err)
				assert.NotEmpty(t, out)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.wantErr, apperr.KindOf(err))
			assert.Empty(t, out)
		})
	}
}
