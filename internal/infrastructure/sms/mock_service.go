package sms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Sender delivers a text message and returns the provider message id
type Sender interface {
	SendSMS(ctx context.Context, to, message string) (messageID string, err error)
}

// ================================================
// MOCK SMS SERVICE (for development)
// ================================================

// MockSMSService logs messages instead of sending them and keeps them for tests
type MockSMSService struct {
	mu   sync.Mutex
	sent []Message
}

type Message struct {
	ID   string
	To   string
	Body string
}

func NewMockSMSService() *MockSMSService {
	return &MockSMSService{}
}

func (s *MockSMSService) SendSMS(ctx context.Context, to, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := fmt.Sprintf("mock-sms-%d-%d", time.Now().Unix(), len(s.sent)+1)
	s.sent = append(s.sent, Message{ID: id, To: to, Body: message})

	log.Info().
		Str("to", to).
		Str("message", message).
		Msg("[MOCK] SMS sent successfully")

	return id, nil
}

// Sent returns a copy of every message sent so far
func (s *MockSMSService) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}
