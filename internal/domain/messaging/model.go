package messaging

import (
	"time"

	"github.com/google/uuid"
)

const (
	MaxBodyLength = 2000
	previewLength = 80
)

type Message struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	SenderID      uuid.UUID  `db:"sender_id" json:"sender_id"`
	RecipientID   uuid.UUID  `db:"recipient_id" json:"recipient_id"`
	Body          string     `db:"body" json:"body"`
	ReadAt        *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	SenderName    string     `json:"sender_name,omitempty"`
	RecipientName string     `json:"recipient_name,omitempty"`
}

// Counterpart is the other party of m from me's point of view.
func (m *Message) Counterpart(me uuid.UUID) (uuid.UUID, string) {
	if m.SenderID == me {
		return m.RecipientID, m.RecipientName
	}
	return m.SenderID, m.SenderName
}

type SendRequest struct {
	RecipientID uuid.UUID `json:"recipient_id"`
	Body        string    `json:"body"`
}

type Conversation struct {
	UserID      uuid.UUID `json:"user_id"`
	Name        string    `json:"name"`
	LastMessage *Message  `json:"last_message"`
	Unread      int       `json:"unread"`
}

// BuildConversations groups msgs, newest first, into one entry per
// counterpart. Entries keep the order of their latest message.
func BuildConversations(me uuid.UUID, msgs []*Message) []Conversation {
	index := make(map[uuid.UUID]int)
	var out []Conversation
	for _, m := range msgs {
		other, name := m.Counterpart(me)
		i, ok := index[other]
		if !ok {
			i = len(out)
			index[other] = i
			out = append(out, Conversation{UserID: other, Name: name, LastMessage: m})
		}
		if m.RecipientID == me && m.ReadAt == nil {
			out[i].Unread++
		}
	}
	if out == nil {
		out = []Conversation{}
	}
	return out
}

func preview(body string) string {
	r := []rune(body)
	if len(r) <= previewLength {
		return body
	}
	return string(r[:previewLength-1]) + "…"
}
