package events

import "time"

// EventType identifies a deployment lifecycle event on the bus.
type EventType string

const (
	DeploymentCreated EventType = "deployment.created"
	StatusChanged     EventType = "deployment.status_changed"
	DeploymentReady   EventType = "deployment.ready"
	DeploymentFailed  EventType = "deployment.failed"
	DeploymentDeleted EventType = "deployment.deleted"
)

// Event carries a single lifecycle transition. Payload holds event-specific
// extras (previous status, error text, endpoint URL).
type Event struct {
	ID           string
	Type         EventType
	DeploymentID string
	Status       string
	Timestamp    time.Time
	Payload      map[string]any
}
