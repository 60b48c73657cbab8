package models

import "time"

// Destroy workflow statuses.
const (
	WorkflowScheduled  = "scheduled"
	WorkflowRunning    = "running"
	WorkflowExecuted   = "executed"
	WorkflowTerminated = "terminated"
)

// DestroyWorkflow is the durable record of a deferred vault deletion.
type DestroyWorkflow struct {
	InstanceID  string
	Namespace   string
	UserID      string
	PublicKey   string
	DeleteAfter time.Time
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
