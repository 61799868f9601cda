package models

// Role is the speaker of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleModel     Role = "model"
)

// ChatMessage is one turn of the conversation history supplied by the client.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ProviderRole normalizes a history role to the provider convention.
// assistant and model are equivalent; other roles report false.
func (r Role) ProviderRole() (Role, bool) {
	switch r {
	case RoleUser:
		return RoleUser, true
	case RoleAssistant, RoleModel:
		return RoleModel, true
	default:
		return "", false
	}
}
