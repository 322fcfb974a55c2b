package sms

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer KafkaSender needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// otpRequested is the event consumed by the SMS worker.
type otpRequested struct {
	PhoneNumber string `json:"phone_number"`
	Code        string `json:"code"`
}

// KafkaSender publishes codes to a topic for a separate SMS worker.
// Messages are keyed by phone so one phone's codes stay ordered.
type KafkaSender struct {
	writer messageWriter
	topic  string
}

// NewKafkaSender creates a sender writing to topic on brokers.
func NewKafkaSender(brokers []string, topic string) *KafkaSender {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaSender{writer: w, topic: topic}
}

// Send implements Sender.
func (s *KafkaSender) Send(ctx context.Context, phone, code string) error {
	data, err := json.Marshal(otpRequested{PhoneNumber: phone, Code: code})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(phone),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("otp.requested")},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish event to %s: %w", s.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
