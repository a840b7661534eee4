package memory

import (
	"context"
	"sync"
	"time"

	"github.com/splax/repodeploy/internal/domain"
	"github.com/splax/repodeploy/internal/repository"
)

// Repository keeps deployments in process memory. Records do not survive a restart.
type Repository struct {
	mu          sync.RWMutex
	deployments map[string]*domain.Deployment
	now         func() time.Time
}

var _ repository.DeploymentRepository = (*Repository)(nil)

// New constructs an empty Repository.
func New() *Repository {
	return &Repository{
		deployments: make(map[string]*domain.Deployment),
		now:         time.Now,
	}
}

// CreateDeployment stores a copy of the deployment.
func (r *Repository) CreateDeployment(_ context.Context, deployment *domain.Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.deployments[deployment.ID]; ok {
		return repository.ErrConflict
	}
	r.deployments[deployment.ID] = deployment.Clone()
	return nil
}

// UpdateDeployment applies the update atomically.
func (r *Repository) UpdateDeployment(_ context.Context, id string, update domain.DeploymentUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deployments[id]
	if !ok {
		return repository.ErrNotFound
	}
	if update.Status != nil && !domain.CanTransition(d.Status, *update.Status) {
		return repository.ErrInvalidTransition
	}

	if update.Status != nil {
		d.Status = *update.Status
	}
	if update.LiveURL != nil {
		v := *update.LiveURL
		d.LiveURL = &v
	}
	if update.ErrorMessage != nil {
		v := *update.ErrorMessage
		d.ErrorMessage = &v
	}
	if update.AppendLog != nil {
		d.BuildLogs = append(d.BuildLogs, *update.AppendLog)
	}
	d.UpdatedAt = r.now().UTC()
	return nil
}

// GetDeploymentByID returns a snapshot of the deployment.
func (r *Repository) GetDeploymentByID(_ context.Context, id string) (*domain.Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deployments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return d.Clone(), nil
}

// AppendLog appends a build log line.
func (r *Repository) AppendLog(_ context.Context, id, line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deployments[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.BuildLogs = append(d.BuildLogs, line)
	d.UpdatedAt = r.now().UTC()
	return nil
}

// Ping always succeeds.
func (r *Repository) Ping(context.Context) error {
	return nil
}
