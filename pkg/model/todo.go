package model

import "time"

// TodoStatus is the lifecycle state of a Todo.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// Todo is a single tracked work item. At most one Todo across an agent's
// list may have Status TodoInProgress; that invariant is enforced by the
// todo service, not by this type.
type Todo struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Status    TodoStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
