package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrRejected marks a 4xx answer from the gateway. Rejections do not count
// against the circuit breaker.
var ErrRejected = errors.New("sms gateway rejected message")

// ErrCircuitOpen is returned while the breaker refuses calls.
var ErrCircuitOpen = gobreaker.ErrOpenState

// HTTPConfig configures HTTPSender.
type HTTPConfig struct {
	URL   string
	Token string
	// Breaker trips after MinRequests calls in Interval with at least
	// FailureRatio failing, and stays open for OpenTimeout.
	MinRequests  uint32
	FailureRatio float64
	Interval     time.Duration
	OpenTimeout  time.Duration
}

// DefaultHTTPConfig returns the breaker defaults for url.
func DefaultHTTPConfig(url, token string) HTTPConfig {
	return HTTPConfig{
		URL:          url,
		Token:        token,
		MinRequests:  5,
		FailureRatio: 0.5,
		Interval:     time.Minute,
		OpenTimeout:  30 * time.Second,
	}
}

type gatewayRequest struct {
	PhoneNumber string `json:"phone_number"`
	Code        string `json:"code"`
}

// HTTPSender posts codes to an SMS gateway behind a circuit breaker.
type HTTPSender struct {
	cfg     HTTPConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewHTTPSender creates the sender. client may be nil.
func NewHTTPSender(cfg HTTPConfig, client *http.Client, logger *zap.Logger) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	settings := gobreaker.Settings{
		Name:        "sms-gateway",
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &HTTPSender{
		cfg:     cfg,
		client:  client,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

// Send implements Sender.
func (s *HTTPSender) Send(ctx context.Context, phone, code string) error {
	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.post(ctx, phone, code)
	})
	return err
}

// State returns the breaker state.
func (s *HTTPSender) State() gobreaker.State {
	return s.breaker.State()
}

func (s *HTTPSender) post(ctx context.Context, phone, code string) error {
	body, err := json.Marshal(gatewayRequest{PhoneNumber: phone, Code: code})
	if err != nil {
		return fmt.Errorf("marshal sms request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("sms gateway: server error %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return nil
}
