package chat

import "time"

// Role identifies who authored a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one message of a conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewTurn stamps a turn with the current time.
func NewTurn(role Role, text string) Turn {
	return Turn{Role: role, Text: text, CreatedAt: time.Now()}
}

// priorTurns returns history without a trailing user turn that repeats
// prompt, so the prompt is not sent twice.
func priorTurns(history []Turn, prompt string) []Turn {
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.Role == RoleUser && last.Text == prompt {
			return history[:n-1]
		}
	}
	return history
}
