package chatclient

import (
	"time"
	"unicode/utf8"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Fixed texts shown by the client.
const (
	GreetingText = "Hello! I'm your catalog assistant. How can I help you today?"
	ApologyText  = "Sorry, I'm having trouble connecting to the assistant. Please try again later."
	FailureText  = "Sorry, I encountered an error while processing your request."
)

// LongMessageRunes is the length above which a message switches the widget to
// the expanded layout.
const LongMessageRunes = 100

// Message is immutable once appended to a Session.
type Message struct {
	Role      Role
	Text      string
	Timestamp time.Time
}

// Session is the client-side conversation state. Messages only grow.
type Session struct {
	ThreadID string
	Messages []Message
	IsTyping bool
}

// IsExpanded reports whether any message is longer than LongMessageRunes.
func (s Session) IsExpanded() bool {
	for _, m := range s.Messages {
		if utf8.RuneCountInString(m.Text) > LongMessageRunes {
			return true
		}
	}
	return false
}

func (s Session) clone() Session {
	s.Messages = append([]Message(nil), s.Messages...)
	return s
}
