package repository

import (
	"context"

	"github.com/splax/repodeploy/internal/domain"
)

// DeploymentRepository stores deployment records and their build logs.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	UpdateDeployment(ctx context.Context, id string, update domain.DeploymentUpdate) error
	GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error)
	AppendLog(ctx context.Context, id, line string) error
}

// HealthChecker is implemented by stores that can report connectivity.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
