package models

// Priority classifies a prompt part for budgeting.
type Priority string

const (
	PrioritySystem       Priority = "SYSTEM"
	PriorityContext      Priority = "CONTEXT"
	PriorityUserQuestion Priority = "USER_QUESTION"
)

// PromptPart is one labeled segment of an assembled prompt.
type PromptPart struct {
	Priority Priority
	Role     Role
	Label    string
	Text     string
}
