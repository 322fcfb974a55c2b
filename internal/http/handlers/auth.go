package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/milad7akbari/sysense/internal/auth"
	"github.com/milad7akbari/sysense/internal/middleware"
)

// AuthService is the part of auth.Service the auth endpoints use.
type AuthService interface {
	SendOTP(ctx context.Context, phone string) (auth.SendOTPResult, error)
	VerifyOTP(ctx context.Context, phone, code string, meta auth.ClientMeta) (auth.TokenPair, error)
	LoginWithPassword(ctx context.Context, phone, password string, meta auth.ClientMeta) (auth.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string, meta auth.ClientMeta) (auth.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID uuid.UUID) error
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	service AuthService
	logger  *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(service AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{service: service, logger: logger}
}

type sendOTPRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,phone"`
}

func (r *sendOTPRequest) normalize() { r.PhoneNumber = strings.TrimSpace(r.PhoneNumber) }

type sendOTPResponse struct {
	Message string `json:"message"`
	DevOTP  string `json:"dev_otp,omitempty"`
}

type verifyOTPRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,phone"`
	OTPCode     string `json:"otp_code" validate:"required,numeric,min=4,max=10"`
}

func (r *verifyOTPRequest) normalize() {
	r.PhoneNumber = strings.TrimSpace(r.PhoneNumber)
	r.OTPCode = strings.TrimSpace(r.OTPCode)
}

type loginRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,phone"`
	Password    string `json:"password" validate:"required,max=128"`
}

func (r *loginRequest) normalize() { r.PhoneNumber = strings.TrimSpace(r.PhoneNumber) }

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (r *refreshRequest) normalize() { r.RefreshToken = strings.TrimSpace(r.RefreshToken) }

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

func newTokenResponse(p auth.TokenPair) tokenResponse {
	return tokenResponse{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken, TokenType: p.TokenType}
}

func clientMeta(r *http.Request) auth.ClientMeta {
	return auth.ClientMeta{UserAgent: r.UserAgent(), IP: middleware.ClientIP(r)}
}

// HandleSendOTP handles POST /auth/send-otp
func (h *AuthHandler) HandleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondInvalidRequest(w, err)
		return
	}

	res, err := h.service.SendOTP(r.Context(), req.PhoneNumber)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusAccepted, sendOTPResponse{Message: "otp_sent", DevOTP: res.DebugCode})
}

// HandleVerifyOTP handles POST /auth/verify-otp
func (h *AuthHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondInvalidRequest(w, err)
		return
	}

	pair, err := h.service.VerifyOTP(r.Context(), req.PhoneNumber, req.OTPCode, clientMeta(r))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, newTokenResponse(pair))
}

// HandleLogin handles POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondInvalidRequest(w, err)
		return
	}

	pair, err := h.service.LoginWithPassword(r.Context(), req.PhoneNumber, req.Password, clientMeta(r))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, newTokenResponse(pair))
}

// HandleRefresh handles POST /auth/refresh. A body without a usable token
// is answered like any other invalid refresh token.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondServiceError(w, h.logger, auth.ErrInvalidRefreshToken)
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken, clientMeta(r))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, newTokenResponse(pair))
}

// HandleLogout handles POST /auth/logout. It answers 204 whatever the token,
// so callers cannot probe which tokens exist.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	_ = decodeAndValidate(w, r, &req)

	if req.RefreshToken != "" {
		if err := h.service.Logout(r.Context(), req.RefreshToken); err != nil {
			respondServiceError(w, h.logger, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLogoutAll handles POST /auth/logout-all (protected)
func (h *AuthHandler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondServiceError(w, h.logger, auth.ErrUnauthorized)
		return
	}
	if err := h.service.LogoutAll(r.Context(), user.ID); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
