package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/otpgate/apiserver/internal/logging"
	"github.com/otpgate/apiserver/internal/services"
)

type UserHandler struct {
	users *services.UserService
	log   logging.Logger
}

func NewUserHandler(users *services.UserService, log logging.Logger) *UserHandler {
	return &UserHandler{users: users, log: log}
}

// UserRouter registers user management routes. Callers mount it behind
// authentication and an admin role check.
func UserRouter(r chi.Router, users *services.UserService, log logging.Logger) {
	h := NewUserHandler(users, log)

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Route("/{userID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Patch("/", h.Update)
		r.Delete("/", h.Delete)
	})
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	user, err := h.users.Create(r.Context(), services.NewUser{
		Email:      req.Email,
		Password:   req.Password,
		IsVerified: req.IsVerified,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	user, err := h.users.Update(r.Context(), chi.URLParam(r, "userID"), services.UserUpdate{
		Email:      req.Email,
		Password:   req.Password,
		IsVerified: req.IsVerified,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	msg, err := h.users.Delete(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: msg})
}
