package logs

import (
	"context"
	"encoding/json"
	"time"

	"log/slog"

	"github.com/splax/repodeploy/internal/domain"
	"github.com/splax/repodeploy/internal/repository"
	"github.com/splax/repodeploy/internal/ws"
)

// Appender persists build log lines.
type Appender interface {
	AppendLog(ctx context.Context, id, line string) error
}

// Service handles build log persistence and streaming.
type Service struct {
	repo   Appender
	hub    *ws.Hub
	logger *slog.Logger
	now    func() time.Time
}

var _ Appender = (repository.DeploymentRepository)(nil)

// New constructs a log service. A nil hub disables streaming.
func New(repo Appender, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{repo: repo, hub: hub, logger: logger, now: time.Now}
}

// Append stores and broadcasts a log line.
func (s Service) Append(ctx context.Context, deploymentID, line string) error {
	if err := s.repo.AppendLog(ctx, deploymentID, line); err != nil {
		return err
	}
	s.Publish(deploymentID, line)
	return nil
}

// Publish broadcasts a log line that was already persisted.
func (s Service) Publish(deploymentID, line string) {
	data, err := MarshalEntry(domain.DeploymentLog{DeploymentID: deploymentID, Message: line, CreatedAt: s.now()})
	if err != nil {
		s.logger.Warn("failed to marshal log payload", "error", err)
		return
	}
	s.broadcast(deploymentID, data)
}

// PublishStatus broadcasts the deployment's current status.
func (s Service) PublishStatus(d *domain.Deployment) {
	data, err := MarshalStatus(d)
	if err != nil {
		s.logger.Warn("failed to marshal status payload", "error", err)
		return
	}
	s.broadcast(d.ID, data)
}

// Hub returns the stream hub (useful for HTTP handlers).
func (s Service) Hub() *ws.Hub {
	return s.hub
}

func (s Service) broadcast(deploymentID string, data []byte) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(deploymentID, data)
}

// MarshalEntry formats a build log line for streaming payloads.
func MarshalEntry(entry domain.DeploymentLog) ([]byte, error) {
	payload := map[string]any{
		"type":          "log",
		"deployment_id": entry.DeploymentID,
		"message":       entry.Message,
		"created_at":    entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	return json.Marshal(payload)
}

// MarshalStatus formats a deployment status change for streaming payloads.
func MarshalStatus(d *domain.Deployment) ([]byte, error) {
	payload := map[string]any{
		"type":          "status",
		"deployment_id": d.ID,
		"status":        d.Status,
		"live_url":      d.LiveURL,
		"error_message": d.ErrorMessage,
		"updated_at":    d.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	return json.Marshal(payload)
}

// MarshalSnapshot formats the full deployment record sent when a stream opens.
func MarshalSnapshot(d *domain.Deployment) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":       "snapshot",
		"deployment": d,
	})
}
