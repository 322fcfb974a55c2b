// Package sms delivers one-time codes out of band.
package sms

import (
	"context"

	"go.uber.org/zap"

	"github.com/milad7akbari/sysense/internal/logging"
)

// Sender delivers a code to a phone number.
type Sender interface {
	Send(ctx context.Context, phone, code string) error
}

// LogSender only records that a delivery happened. The code itself is never
// written; use it for local development together with debug OTP responses.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, phone, _ string) error {
	s.logger.Info("otp delivery skipped (log driver)", logging.Phone("phone", phone))
	return nil
}
