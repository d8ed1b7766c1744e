package domain

import "time"

type ConversationID string
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Conversation struct {
	ID          ConversationID
	SessionID   SessionID
	RequesterID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Turn struct {
	Role Role
	Text string
	At   time.Time
}

type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// Reply is the result of one conversational turn. Dispatched is false when
// the avatar could not speak the reply; the turn is persisted either way.
type Reply struct {
	Text           string
	ConversationID ConversationID
	Usage          Usage
	Model          string
	Dispatched     bool
}
