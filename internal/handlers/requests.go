package handlers

import (
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/otpgate/apiserver/types"
)

const minPasswordLength = 6

var otpPattern = regexp.MustCompile(`^\d{6}$`)

func passwordRules() []validation.Rule {
	return []validation.Rule{
		validation.Required,
		validation.Length(minPasswordLength, 0).Error("Password must be at least 6 characters long"),
	}
}

func emailRules() []validation.Rule {
	return []validation.Rule{validation.Required, is.Email}
}

type SendOTPRequest struct {
	Email    string     `json:"email"`
	Password string     `json:"password"`
	Role     types.Role `json:"role,omitempty"`
}

func (r *SendOTPRequest) Validate() error {
	r.Email = strings.TrimSpace(r.Email)
	return validation.ValidateStruct(r,
		validation.Field(&r.Email, emailRules()...),
		validation.Field(&r.Password, passwordRules()...),
		validation.Field(&r.Role, validation.In(types.RoleUser, types.RoleAdmin).
			Error("Role must be either user or admin")),
	)
}

type VerifyOTPRequest struct {
	Email    string `json:"email"`
	OTP      string `json:"otp"`
	Password string `json:"password"`
}

func (r *VerifyOTPRequest) Validate() error {
	r.Email = strings.TrimSpace(r.Email)
	r.OTP = strings.TrimSpace(r.OTP)
	return validation.ValidateStruct(r,
		validation.Field(&r.Email, emailRules()...),
		validation.Field(&r.OTP, validation.Required, validation.Match(otpPattern).Error("OTP must be 6 digits")),
		validation.Field(&r.Password, validation.Required),
	)
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *SignInRequest) Validate() error {
	r.Email = strings.TrimSpace(r.Email)
	return validation.ValidateStruct(r,
		validation.Field(&r.Email, emailRules()...),
		validation.Field(&r.Password, validation.Required),
	)
}

type CreateUserRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	IsVerified *bool  `json:"isVerified,omitempty"`
}

func (r *CreateUserRequest) Validate() error {
	r.Email = strings.TrimSpace(r.Email)
	return validation.ValidateStruct(r,
		validation.Field(&r.Email, emailRules()...),
		validation.Field(&r.Password, passwordRules()...),
	)
}

// UpdateUserRequest is a partial update; absent fields are left alone.
type UpdateUserRequest struct {
	Email      *string `json:"email,omitempty"`
	Password   *string `json:"password,omitempty"`
	IsVerified *bool   `json:"isVerified,omitempty"`
}

func (r *UpdateUserRequest) Validate() error {
	if r.Email != nil {
		trimmed := strings.TrimSpace(*r.Email)
		r.Email = &trimmed
	}
	return validation.ValidateStruct(r,
		validation.Field(&r.Email, validation.NilOrNotEmpty, is.Email),
		validation.Field(&r.Password, validation.NilOrNotEmpty,
			validation.Length(minPasswordLength, 0).Error("Password must be at least 6 characters long")),
	)
}
