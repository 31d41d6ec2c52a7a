// Package otp issues and verifies one-time sign-up codes and stages the
// password hash (and requested role) between the two sign-up steps.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/otpgate/apiserver/types"
)

const (
	// Validity is how long an issued code can be used.
	Validity = 10 * time.Minute
	// Length is the number of digits in a code.
	Length = 6

	codeMin = 100000
	codeMax = 999999
)

// Engine owns the OTP lifecycle. It is the only writer of its Store.
type Engine struct {
	store Store
	clock func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{store: store, clock: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GenerateCode returns a uniformly random code in [100000, 999999].
func (e *Engine) GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+codeMin), nil
}

// Store records code as the only pending code for email and purges every
// expired code in the store.
func (e *Engine) Store(email, code string) {
	now := e.clock()
	e.store.PutCode(Pending{Email: email, Code: code, ExpiresAt: now.Add(Validity)})
	e.store.PurgeExpired(now)
}

// Verify consumes the pending code for email if it matches and has not
// expired. An expired code also discards the staged password and role.
// A mismatch leaves everything in place.
func (e *Engine) Verify(email, code string) bool {
	pending, ok := e.store.Code(email)
	if !ok {
		return false
	}

	if e.clock().After(pending.ExpiresAt) {
		e.store.DeleteCode(email)
		e.store.DeletePassword(email)
		e.store.DeleteRole(email)
		return false
	}

	if pending.Code != code {
		return false
	}

	// The staged password stays until the account is created.
	e.store.DeleteCode(email)
	return true
}

func (e *Engine) StagePassword(email, hash string) {
	e.store.PutPassword(email, hash)
}

func (e *Engine) StagedPassword(email string) (string, bool) {
	return e.store.Password(email)
}

func (e *Engine) ClearStagedPassword(email string) {
	e.store.DeletePassword(email)
}

func (e *Engine) StageRole(email string, role types.Role) {
	e.store.PutRole(email, role)
}

func (e *Engine) StagedRole(email string) (types.Role, bool) {
	return e.store.Role(email)
}

func (e *Engine) ClearStagedRole(email string) {
	e.store.DeleteRole(email)
}
