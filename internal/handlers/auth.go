package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/otpgate/apiserver/internal/apperr"
	"github.com/otpgate/apiserver/internal/logging"
	"github.com/otpgate/apiserver/internal/services"
	"github.com/otpgate/apiserver/types"
)

// AuthHandler serves the sign-up, sign-in and sign-out endpoints.
type AuthHandler struct {
	auth *services.AuthService
	log  logging.Logger
}

func NewAuthHandler(auth *services.AuthService, log logging.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, log: log}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, auth *services.AuthService, policy services.Policy, log logging.Logger) {
	h := NewAuthHandler(auth, log)
	requireAuth := RequireAuth(auth, log)

	r.Post("/send-otp", h.SendOTP)
	r.Post("/verify-otp", h.VerifyOTP)
	r.Post("/sign-in", h.SignIn)
	r.With(requireAuth).Post("/sign-out", h.SignOut)
	r.With(requireAuth).Get("/me", h.Me)
	r.With(requireAuth, RequireRole(policy, types.RoleAdmin, log)).Get("/admin/ping", h.AdminPing)
}

// RequireAuth resolves the bearer token to a user and stores it in the
// request context.
func RequireAuth(auth *services.AuthService, log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeError(w, r, log, apperr.Unauthorized("unauthorized"))
				return
			}
			user, err := auth.Authenticate(r.Context(), tokenString)
			if err != nil {
				writeError(w, r, log, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
		})
	}
}

// RequireRole rejects callers whose role does not satisfy policy for
// required. It must run after RequireAuth.
func RequireRole(policy services.Policy, required types.Role, log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := userFromContext(r.Context())
			if !ok {
				writeError(w, r, log, apperr.Unauthorized("unauthorized"))
				return
			}
			if !policy(required, user.EffectiveRole()) {
				writeError(w, r, log, apperr.Forbidden("Insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	msg, err := h.auth.SendOTP(r.Context(), req.Email, req.Password, req.Role)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: msg})
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	res, err := h.auth.VerifyOTP(r.Context(), req.Email, req.OTP, req.Password)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	res, err := h.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	msg, err := h.auth.SignOut(r.Context(), user)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: msg})
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	writeJSON(w, http.StatusOK, user)
}

type AdminPingResponse struct {
	Message string     `json:"message"`
	User    types.User `json:"user"`
}

func (h *AuthHandler) AdminPing(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	writeJSON(w, http.StatusOK, AdminPingResponse{Message: "Admin access granted", User: user})
}
