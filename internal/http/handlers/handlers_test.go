package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/milad7akbari/sysense/internal/auth"
	"github.com/milad7akbari/sysense/internal/middleware"
	"github.com/milad7akbari/sysense/internal/model"
)

type fakeService struct {
	err        error
	debugCode  string
	gotPhone   string
	gotCode    string
	gotToken   string
	gotMeta    auth.ClientMeta
	logoutHits int
	profile    model.User
	password   string
}

var testPair = auth.TokenPair{AccessToken: "access", RefreshToken: "refresh", TokenType: "bearer"}

func (f *fakeService) SendOTP(_ context.Context, phone string) (auth.SendOTPResult, error) {
	f.gotPhone = phone
	return auth.SendOTPResult{DebugCode: f.debugCode}, f.err
}

func (f *fakeService) VerifyOTP(_ context.Context, phone, code string, meta auth.ClientMeta) (auth.TokenPair, error) {
	f.gotPhone, f.gotCode, f.gotMeta = phone, code, meta
	if f.err != nil {
		return auth.TokenPair{}, f.err
	}
	return testPair, nil
}

func (f *fakeService) LoginWithPassword(_ context.Context, phone, _ string, meta auth.ClientMeta) (auth.TokenPair, error) {
	f.gotPhone, f.gotMeta = phone, meta
	if f.err != nil {
		return auth.TokenPair{}, f.err
	}
	return testPair, nil
}

func (f *fakeService) Refresh(_ context.Context, token string, _ auth.ClientMeta) (auth.TokenPair, error) {
	f.gotToken = token
	if f.err != nil {
		return auth.TokenPair{}, f.err
	}
	return testPair, nil
}

func (f *fakeService) Logout(_ context.Context, token string) error {
	f.gotToken = token
	f.logoutHits++
	return f.err
}

func (f *fakeService) LogoutAll(context.Context, uuid.UUID) error { return f.err }

func (f *fakeService) UpdateProfile(_ context.Context, id uuid.UUID, first, last *string) (model.User, error) {
	if f.err != nil {
		return model.User{}, f.err
	}
	u := f.profile
	u.ID = id
	if first != nil {
		u.FirstName = first
	}
	if last != nil {
		u.LastName = last
	}
	return u, nil
}

func (f *fakeService) SetPassword(_ context.Context, _ uuid.UUID, password string) error {
	f.password = password
	return f.err
}

func post(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("User-Agent", "handler-test")
	req.RemoteAddr = "203.0.113.7:4711"
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestSendOTP(t *testing.T) {
	t.Run("accepted without code", func(t *testing.T) {
		svc := &fakeService{}
		rec := post(NewAuthHandler(svc, zap.NewNop()).HandleSendOTP, `{"phone_number":" 09123456789 "}`)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "09123456789", svc.gotPhone)
		body := decode(t, rec)
		assert.Equal(t, "otp_sent", body["message"])
		assert.NotContains(t, body, "dev_otp")
	})

	t.Run("debug code echoed", func(t *testing.T) {
		svc := &fakeService{debugCode: "123456"}
		rec := post(NewAuthHandler(svc, zap.NewNop()).HandleSendOTP, `{"phone_number":"+4915112345678"}`)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "123456", decode(t, rec)["dev_otp"])
	})

	t.Run("invalid phone", func(t *testing.T) {
		svc := &fakeService{}
		rec := post(NewAuthHandler(svc, zap.NewNop()).HandleSendOTP, `{"phone_number":"12ab"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "invalid_request", body["error"])
		assert.Equal(t, map[string]any{"phone_number": "phone"}, body["fields"])
		assert.Empty(t, svc.gotPhone)
	})

	t.Run("malformed json", func(t *testing.T) {
		rec := post(NewAuthHandler(&fakeService{}, zap.NewNop()).HandleSendOTP, `{"phone_number":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_request", decode(t, rec)["error"])
	})

	t.Run("rate limited", func(t *testing.T) {
		svc := &fakeService{err: &auth.RateLimitError{RetryAfter: 1500 * time.Millisecond}}
		rec := post(NewAuthHandler(svc, zap.NewNop()).HandleSendOTP, `{"phone_number":"09123456789"}`)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("Retry-After"))
		body := decode(t, rec)
		assert.Equal(t, "rate_limited", body["error"])
		assert.Equal(t, float64(2), body["retry_after_seconds"])
	})
}

func TestVerifyOTP(t *testing.T) {
	svc := &fakeService{}
	h := NewAuthHandler(svc, zap.NewNop())

	rec := post(h.HandleVerifyOTP, `{"phone_number":"09123456789","otp_code":"123456"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"access_token": "access", "refresh_token": "refresh", "token_type": "bearer"}, decode(t, rec))
	assert.Equal(t, "123456", svc.gotCode)
	assert.Equal(t, auth.ClientMeta{UserAgent: "handler-test", IP: "203.0.113.7"}, svc.gotMeta)

	rec = post(h.HandleVerifyOTP, `{"phone_number":"09123456789","otp_code":"12a456"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.err = auth.ErrInvalidCredential
	rec = post(h.HandleVerifyOTP, `{"phone_number":"09123456789","otp_code":"000000"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credential", decode(t, rec)["error"])
}

func TestLogin(t *testing.T) {
	svc := &fakeService{err: auth.ErrInvalidCredential}
	h := NewAuthHandler(svc, zap.NewNop())

	rec := post(h.HandleLogin, `{"phone_number":"09123456789","password":"wrong-password"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credential", decode(t, rec)["error"])

	rec = post(h.HandleLogin, `{"phone_number":"09123456789"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"password": "required"}, decode(t, rec)["fields"])
}

func TestRefresh(t *testing.T) {
	svc := &fakeService{}
	h := NewAuthHandler(svc, zap.NewNop())

	rec := post(h.HandleRefresh, `{"refresh_token":"  old  "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "old", svc.gotToken)

	svc.gotToken = ""
	for _, body := range []string{`{}`, `{"refresh_token":"   "}`, `not json`, ``} {
		rec = post(h.HandleRefresh, body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, body)
		assert.Equal(t, "invalid_refresh_token", decode(t, rec)["error"], body)
	}
	assert.Empty(t, svc.gotToken, "service must not see a missing token")

	svc.err = auth.ErrInvalidRefreshToken
	rec = post(h.HandleRefresh, `{"refresh_token":"reused"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_refresh_token", decode(t, rec)["error"])

	svc.err = errors.New("db down")
	rec = post(h.HandleRefresh, `{"refresh_token":"any"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decode(t, rec)["error"])
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestLogout(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantHits int
	}{
		{name: "valid token", body: `{"refresh_token":"tok"}`, wantCode: http.StatusNoContent, wantHits: 1},
		{name: "unknown token", body: `{"refresh_token":"garbage"}`, wantCode: http.StatusNoContent, wantHits: 1},
		{name: "malformed body", body: `not json`, wantCode: http.StatusNoContent},
		{name: "empty body", body: ``, wantCode: http.StatusNoContent},
		{name: "storage fault", body: `{"refresh_token":"tok"}`, err: errors.New("db down"), wantCode: http.StatusInternalServerError, wantHits: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{err: tt.err}
			rec := post(NewAuthHandler(svc, zap.NewNop()).HandleLogout, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantHits, svc.logoutHits)
		})
	}
}

func withUser(req *http.Request, u model.User) *http.Request {
	return req.WithContext(middleware.WithUser(req.Context(), u))
}

func TestLogoutAllRequiresUser(t *testing.T) {
	h := NewAuthHandler(&fakeService{}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.HandleLogoutAll(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	rec = httptest.NewRecorder()
	h.HandleLogoutAll(rec, withUser(httptest.NewRequest(http.MethodPost, "/", nil), model.User{ID: uuid.New()}))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestUserHandler(t *testing.T) {
	first := "Sara"
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hash := "$argon2id$..."
	user := model.User{
		ID:           uuid.New(),
		PhoneNumber:  "09123456789",
		FirstName:    &first,
		PasswordHash: &hash,
		IsActive:     true,
		CreatedAt:    created,
	}
	svc := &fakeService{profile: user}
	h := NewUserHandler(svc, zap.NewNop())

	t.Run("me", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HandleMe(rec, withUser(httptest.NewRequest(http.MethodGet, "/", nil), user))

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, user.ID.String(), body["id"])
		assert.Equal(t, "Sara", body["first_name"])
		assert.Nil(t, body["last_name"])
		assert.Equal(t, true, body["has_password"])
		assert.Equal(t, "2026-03-01T12:00:00Z", body["created_at"])
		assert.NotContains(t, rec.Body.String(), "argon2")
	})

	t.Run("update profile", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"last_name":"  Rahimi "}`))
		h.HandleUpdateMe(rec, withUser(req, user))

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "Rahimi", body["last_name"])
		assert.Equal(t, "Sara", body["first_name"])
	})

	t.Run("name too long", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"first_name":"`+strings.Repeat("x", 101)+`"}`))
		h.HandleUpdateMe(rec, withUser(req, user))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("set password", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"password":"correct horse"}`))
		h.HandleSetPassword(rec, withUser(req, user))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "correct horse", svc.password)
	})

	t.Run("password too short", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"password":"short"}`))
		h.HandleSetPassword(rec, withUser(req, user))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, map[string]any{"password": "min"}, decode(t, rec)["fields"])
	})
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(fakePinger{}, zap.NewNop()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"ok": true}, decode(t, rec))

	rec = httptest.NewRecorder()
	NewHealthHandler(fakePinger{err: errors.New("down")}, zap.NewNop()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
