package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/milad7akbari/sysense/internal/auth"
	"github.com/milad7akbari/sysense/internal/middleware"
	"github.com/milad7akbari/sysense/internal/model"
)

// UserService is the part of auth.Service the profile endpoints use.
type UserService interface {
	UpdateProfile(ctx context.Context, userID uuid.UUID, firstName, lastName *string) (model.User, error)
	SetPassword(ctx context.Context, userID uuid.UUID, password string) error
}

// UserHandler serves the authenticated user's own record.
type UserHandler struct {
	service UserService
	logger  *zap.Logger
}

func NewUserHandler(service UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{service: service, logger: logger}
}

type userResponse struct {
	ID          string     `json:"id"`
	PhoneNumber string     `json:"phone_number"`
	FirstName   *string    `json:"first_name"`
	LastName    *string    `json:"last_name"`
	IsActive    bool       `json:"is_active"`
	HasPassword bool       `json:"has_password"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at"`
}

func newUserResponse(u model.User) userResponse {
	return userResponse{
		ID:          u.ID.String(),
		PhoneNumber: u.PhoneNumber,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		IsActive:    u.IsActive,
		HasPassword: u.PasswordHash != nil,
		CreatedAt:   u.CreatedAt.UTC(),
		LastLoginAt: u.LastLoginAt,
	}
}

type updateProfileRequest struct {
	FirstName *string `json:"first_name" validate:"omitempty,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,max=100"`
}

func (r *updateProfileRequest) normalize() {
	for _, p := range []*string{r.FirstName, r.LastName} {
		if p != nil {
			*p = strings.TrimSpace(*p)
		}
	}
}

type setPasswordRequest struct {
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// HandleMe handles GET /users/me
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondServiceError(w, h.logger, auth.ErrUnauthorized)
		return
	}
	respondJSON(w, http.StatusOK, newUserResponse(user))
}

// HandleUpdateMe handles PATCH /users/me
func (h *UserHandler) HandleUpdateMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondServiceError(w, h.logger, auth.ErrUnauthorized)
		return
	}
	var req updateProfileRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondInvalidRequest(w, err)
		return
	}

	updated, err := h.service.UpdateProfile(r.Context(), user.ID, req.FirstName, req.LastName)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, newUserResponse(updated))
}

// HandleSetPassword handles PUT /users/me/password
func (h *UserHandler) HandleSetPassword(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondServiceError(w, h.logger, auth.ErrUnauthorized)
		return
	}
	var req setPasswordRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondInvalidRequest(w, err)
		return
	}

	if err := h.service.SetPassword(r.Context(), user.ID, req.Password); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
