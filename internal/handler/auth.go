package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/dabil/internal/service"
)

type signupRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type profileRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type passwordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// Signup регистрирует гостя и возвращает токен доступа.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.Signup(r.Context(), service.Credentials{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		h.fail(w, err, "signup error")
		return
	}

	h.writeJSON(w, http.StatusCreated, authResponse{Token: res.Token, User: newUserResponse(res.User)})
}

// Login выполняет аутентификацию пользователя.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, err, "login error")
		return
	}

	h.writeJSON(w, http.StatusOK, authResponse{Token: res.Token, User: newUserResponse(res.User)})
}

// Me возвращает профиль текущего пользователя.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	u, err := h.service.Profile(r.Context(), actor)
	if err != nil {
		h.fail(w, err, "get profile error", zap.Int64("userID", actor.UserID))
		return
	}

	h.writeJSON(w, http.StatusOK, newUserResponse(u))
}

// UpdateProfile меняет имя и email текущего пользователя.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req profileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.service.UpdateProfile(r.Context(), actor, service.ProfileUpdate{Name: req.Name, Email: req.Email})
	if err != nil {
		h.fail(w, err, "update profile error", zap.Int64("userID", actor.UserID))
		return
	}

	h.writeJSON(w, http.StatusOK, newUserResponse(u))
}

// ChangePassword меняет пароль текущего пользователя.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req passwordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), actor, req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(w, err, "change password error", zap.Int64("userID", actor.UserID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
