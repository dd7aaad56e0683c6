package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// SMSCall records a single call to SendSMS.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender is a test double for SMSSender.
type MockSMSSender struct {
	mu         sync.Mutex
	calls      []SMSCall
	ShouldFail bool
	FailError  string
}

func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded SMS calls.
func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// InAppCall records a single call to CreateInApp.
type InAppCall struct {
	UserID uuid.UUID
	Kind   string
	Title  string
	Body   string
	Link   string
}

// MockInApp is a test double for InAppWriter.
type MockInApp struct {
	mu         sync.Mutex
	calls      []InAppCall
	ShouldFail bool
}

func (m *MockInApp) CreateInApp(_ context.Context, userID uuid.UUID, kind, title, body, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return errors.New("insert failed")
	}
	m.calls = append(m.calls, InAppCall{UserID: userID, Kind: kind, Title: title, Body: body, Link: link})
	return nil
}

func (m *MockInApp) Calls() []InAppCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]InAppCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// StaticDirectory is a Directory backed by a fixed recipient list.
type StaticDirectory struct {
	Recipients []Recipient
	Roles      map[uuid.UUID]string
}

func (s *StaticDirectory) Recipient(_ context.Context, userID uuid.UUID) (*Recipient, error) {
	for i := range s.Recipients {
		if s.Recipients[i].UserID == userID {
			r := s.Recipients[i]
			return &r, nil
		}
	}
	return nil, errors.New("recipient not found")
}

func (s *StaticDirectory) RecipientsByRole(_ context.Context, role string) ([]Recipient, error) {
	var out []Recipient
	for _, r := range s.Recipients {
		if s.Roles[r.UserID] == role {
			out = append(out, r)
		}
	}
	return out, nil
}
