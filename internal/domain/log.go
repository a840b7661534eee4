package domain

import "time"

// DeploymentLog is a single build log line as delivered to stream subscribers.
type DeploymentLog struct {
	DeploymentID string    `json:"deployment_id"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
}
