package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/splax/repodeploy/internal/domain"
)

const (
	// StreamName is the JetStream stream holding deployment lifecycle events.
	StreamName = "DEPLOYMENTS"
	// SubjectPrefix prefixes every deployment event subject.
	SubjectPrefix = "repodeploy.deployments."
)

// Event is published on every deployment status change.
type Event struct {
	DeploymentID string        `json:"deployment_id"`
	RepoURL      string        `json:"repo_url"`
	Status       domain.Status `json:"status"`
	LiveURL      *string       `json:"live_url,omitempty"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	At           time.Time     `json:"at"`
}

// Subject returns the subject an event is published on.
func (e Event) Subject() string {
	return SubjectPrefix + string(e.Status)
}

// EventFromDeployment builds the event describing d's current state.
func EventFromDeployment(d *domain.Deployment) Event {
	return Event{
		DeploymentID: d.ID,
		RepoURL:      d.RepoURL,
		Status:       d.Status,
		LiveURL:      d.LiveURL,
		ErrorMessage: d.ErrorMessage,
		At:           d.UpdatedAt.UTC(),
	}
}

// Bus wraps a NATS JetStream connection for publishing deployment events.
type Bus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New creates a Bus connected to the provided NATS endpoint and makes sure the stream exists.
func New(url string, opts ...nats.Option) (*Bus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectPrefix + ">"},
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		nc.Close()
		return nil, err
	}

	return &Bus{conn: nc, js: js}, nil
}

// Close shuts down the underlying NATS connection.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Publish encodes v as JSON and publishes it to the given subject.
func (b *Bus) Publish(ctx context.Context, subj string, v any) error {
	if b == nil {
		return errors.New("nil bus")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	_, err = b.js.Publish(subj, data, nats.Context(ctx))
	return err
}

// PublishEvent publishes a deployment event on its status subject.
func (b *Bus) PublishEvent(ctx context.Context, e Event) error {
	return b.Publish(ctx, e.Subject(), e)
}
