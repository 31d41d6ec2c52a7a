package services

import (
	"context"
	"errors"
	"time"

	"github.com/otpgate/apiserver/internal/apperr"
	"github.com/otpgate/apiserver/internal/logging"
	"github.com/otpgate/apiserver/internal/mailer"
	"github.com/otpgate/apiserver/internal/otp"
	"github.com/otpgate/apiserver/internal/store"
	"github.com/otpgate/apiserver/internal/token"
	"github.com/otpgate/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor for stored password hashes.
const BcryptCost = 10

const (
	msgOTPSent           = "OTP sent successfully to your email"
	msgEmailTaken        = "User with this email already exists"
	msgInvalidOTP        = "Invalid or expired OTP"
	msgAlreadySignedUp   = "User already exists. Please use sign-in endpoint instead."
	msgPasswordMissing   = "Password not found. Please try signing up again."
	msgBadCredentials    = "Invalid email or password"
	msgSignedIn          = "User signed in successfully"
	msgSignedOut         = "Signed out successfully"
	msgUserNotFound      = "User not found"
	msgSendFailed        = "Failed to send OTP"
	msgAdminSignupDenied = "Admin sign-up is disabled"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	ListByRole(ctx context.Context, role types.Role) ([]types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	Delete(ctx context.Context, id string) error
}

// ActivityRecorder appends entries to the activity log.
type ActivityRecorder interface {
	Record(ctx context.Context, userID, email string, activityType types.ActivityType) (types.ActivityRecord, error)
}

// AuthResult is returned by the flows that issue a token.
type AuthResult struct {
	AccessToken string            `json:"accessToken"`
	User        types.UserSummary `json:"user"`
	Message     string            `json:"message,omitempty"`
}

// AuthService runs the OTP sign-up, password sign-in and sign-out flows.
type AuthService struct {
	users            UserRepository
	activity         ActivityRecorder
	otps             *otp.Engine
	tokens           *token.Issuer
	mail             mailer.Mailer
	log              logging.Logger
	allowAdminSignup bool
	clock            func() time.Time
}

type AuthOption func(*AuthService)

// WithAdminSignup lets send-otp stage the admin role.
func WithAdminSignup(allow bool) AuthOption {
	return func(s *AuthService) { s.allowAdminSignup = allow }
}

func NewAuthService(
	users UserRepository,
	activity ActivityRecorder,
	otps *otp.Engine,
	tokens *token.Issuer,
	mail mailer.Mailer,
	log logging.Logger,
	opts ...AuthOption,
) *AuthService {
	s := &AuthService{
		users:    users,
		activity: activity,
		otps:     otps,
		tokens:   tokens,
		mail:     mail,
		log:      log,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendOTP starts sign-up: it stages the hashed password and role for email
// and mails a fresh code.
func (s *AuthService) SendOTP(ctx context.Context, email, password string, role types.Role) (string, error) {
	if role == "" {
		role = types.DefaultRole
	}
	if role == types.RoleAdmin && !s.allowAdminSignup {
		return "", apperr.Forbidden(msgAdminSignupDenied)
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return "", apperr.Conflict(msgEmailTaken)
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", apperr.Internal(msgSendFailed, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", apperr.Internal(msgSendFailed, err)
	}

	code, err := s.otps.GenerateCode()
	if err != nil {
		return "", apperr.Internal(msgSendFailed, err)
	}
	s.otps.Store(email, code)
	s.otps.StagePassword(email, string(hash))
	s.otps.StageRole(email, role)

	msg, err := mailer.OTPMessage(email, code, otp.Validity)
	if err != nil {
		return "", apperr.Internal(msgSendFailed, err)
	}
	if err := s.mail.Send(ctx, msg); err != nil {
		s.log.Error(ctx, "otp email failed", "email", email, "error", err)
		return "", apperr.Internal(msgSendFailed, err)
	}

	s.log.Info(ctx, "otp sent", "email", email)
	return msgOTPSent, nil
}

// VerifyOTP completes sign-up and returns a token for the new account.
// The password argument is accepted for compatibility but the staged hash
// from SendOTP is what gets stored.
func (s *AuthService) VerifyOTP(ctx context.Context, email, code, password string) (AuthResult, error) {
	if !s.otps.Verify(email, code) {
		return AuthResult{}, apperr.Unauthorized(msgInvalidOTP)
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		s.otps.ClearStagedPassword(email)
		s.otps.ClearStagedRole(email)
		return AuthResult{}, apperr.Conflict(msgAlreadySignedUp)
	} else if !errors.Is(err, store.ErrNotFound) {
		return AuthResult{}, apperr.Internal("failed to verify otp", err)
	}

	hash, ok := s.otps.StagedPassword(email)
	if !ok {
		return AuthResult{}, apperr.Unauthorized(msgPasswordMissing)
	}
	role, ok := s.otps.StagedRole(email)
	if !ok {
		role = types.DefaultRole
	}

	now := s.clock()
	user, err := s.upsertAccount(ctx, email, func(u *types.User) {
		u.PasswordHash = hash
		u.IsVerified = true
		u.Role = role
		u.UpdatedAt = now
		u.LastLoginAt = &now
		if u.CreatedAt.IsZero() {
			u.CreatedAt = now
		}
	})
	if err != nil {
		return AuthResult{}, err
	}

	s.otps.ClearStagedPassword(email)
	s.otps.ClearStagedRole(email)

	s.recordBestEffort(ctx, user, types.ActivitySignUp)

	accessToken, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return AuthResult{}, apperr.Internal("failed to issue token", err)
	}
	s.log.Info(ctx, "user signed up", "user_id", user.ID)
	return AuthResult{AccessToken: accessToken, User: user.Summary()}, nil
}

// SignIn checks email and password. All credential failures share one
// message so callers cannot tell which part was wrong.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (AuthResult, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return AuthResult{}, apperr.Unauthorized(msgBadCredentials)
	}
	if err != nil {
		return AuthResult{}, apperr.Internal("failed to sign in", err)
	}
	if user.PasswordHash == "" {
		return AuthResult{}, apperr.Unauthorized(msgBadCredentials)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return AuthResult{}, apperr.Unauthorized(msgBadCredentials)
	}

	now := s.clock()
	user, err = s.upsertAccount(ctx, email, func(u *types.User) {
		u.LastLoginAt = &now
		u.UpdatedAt = now
	})
	if err != nil {
		return AuthResult{}, err
	}

	s.recordBestEffort(ctx, user, types.ActivitySignIn)

	accessToken, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return AuthResult{}, apperr.Internal("failed to issue token", err)
	}
	return AuthResult{AccessToken: accessToken, User: user.Summary(), Message: msgSignedIn}, nil
}

// SignOut records the sign-out. Tokens stay valid until they expire.
func (s *AuthService) SignOut(ctx context.Context, user types.User) (string, error) {
	if _, err := s.activity.Record(ctx, user.ID, user.Email, types.ActivitySignOut); err != nil {
		return "", apperr.Internal("failed to sign out", err)
	}
	return msgSignedOut, nil
}

// Authenticate resolves a bearer token to its user.
func (s *AuthService) Authenticate(ctx context.Context, bearer string) (types.User, error) {
	claims, err := s.tokens.Parse(bearer)
	if err != nil {
		return types.User{}, apperr.Unauthorized("unauthorized")
	}
	user, err := s.users.GetByID(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return types.User{}, apperr.Unauthorized(msgUserNotFound)
	}
	if err != nil {
		return types.User{}, apperr.Internal("failed to load user", err)
	}
	return user, nil
}

// upsertAccount applies mutate to the user with email, creating the user
// when absent. A concurrent create of the same email surfaces as Conflict.
func (s *AuthService) upsertAccount(ctx context.Context, email string, mutate func(*types.User)) (types.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		mutate(&user)
		user, err = s.users.Update(ctx, user)
	case errors.Is(err, store.ErrNotFound):
		user = types.User{Email: email}
		mutate(&user)
		user, err = s.users.Create(ctx, user)
	}
	if errors.Is(err, store.ErrConflict) {
		return types.User{}, apperr.Conflict(msgEmailTaken)
	}
	if err != nil {
		return types.User{}, apperr.Internal("failed to save user", err)
	}
	return user, nil
}

func (s *AuthService) recordBestEffort(ctx context.Context, user types.User, activityType types.ActivityType) {
	if _, err := s.activity.Record(ctx, user.ID, user.Email, activityType); err != nil {
		s.log.Warn(ctx, "activity logging failed",
			"type", string(activityType),
			"user_id", user.ID,
			"error", err,
		)
	}
}
