package model

// DefaultTaskHistory is the default capacity of the task feed.
const DefaultTaskHistory = 200

// TaskEvent is one entry of the task_update history feed.
type TaskEvent struct {
	ID        string `json:"id"`
	AgentID   string `json:"agentId,omitempty"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Validate checks that the event can be appended to the feed.
func (e *TaskEvent) Validate() error {
	if e.ID == "" {
		return ErrTaskIDRequired
	}
	return nil
}
