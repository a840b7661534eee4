package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/repodeploy/internal/domain"
	"github.com/splax/repodeploy/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.HealthChecker        = (*Repository)(nil)
)

type deploymentRow struct {
	ID           string    `db:"id"`
	RepoURL      string    `db:"repo_url"`
	Status       string    `db:"status"`
	LiveURL      *string   `db:"live_url"`
	BuildLogs    []string  `db:"build_logs"`
	ErrorMessage *string   `db:"error_message"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (row deploymentRow) toDomain() *domain.Deployment {
	logs := row.BuildLogs
	if logs == nil {
		logs = []string{}
	}
	return &domain.Deployment{
		ID:           row.ID,
		RepoURL:      row.RepoURL,
		Status:       domain.Status(row.Status),
		LiveURL:      row.LiveURL,
		BuildLogs:    logs,
		ErrorMessage: row.ErrorMessage,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

// CreateDeployment inserts a deployment record.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, repo_url, status, live_url, build_logs, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	logs := deployment.BuildLogs
	if logs == nil {
		logs = []string{}
	}
	_, err := r.pool.Exec(ctx, query,
		deployment.ID,
		deployment.RepoURL,
		string(deployment.Status),
		deployment.LiveURL,
		logs,
		deployment.ErrorMessage,
		deployment.CreatedAt,
		deployment.UpdatedAt,
	)
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return repository.ErrConflict
	}
	return err
}

// UpdateDeployment applies the update in a single statement. Status changes are guarded in the
// WHERE clause so concurrent writers cannot move a deployment along an illegal edge.
func (r *Repository) UpdateDeployment(ctx context.Context, id string, update domain.DeploymentUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	const query = `UPDATE deployments
		SET status = COALESCE($2, status),
			live_url = COALESCE($3, live_url),
			error_message = COALESCE($4, error_message),
			build_logs = CASE WHEN $5::text IS NULL THEN build_logs ELSE array_append(build_logs, $5::text) END,
			updated_at = NOW()
		WHERE id = $1 AND ($6::text[] IS NULL OR status = ANY($6::text[]))`

	var (
		status  any
		sources any
	)
	if update.Status != nil {
		status = string(*update.Status)
		allowed := make([]string, 0, 2)
		for _, s := range domain.SourcesFor(*update.Status) {
			allowed = append(allowed, string(s))
		}
		sources = allowed
	}

	tag, err := r.pool.Exec(ctx, query, id, status, update.LiveURL, update.ErrorMessage, update.AppendLog, sources)
	if err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return r.missOrConflict(ctx, id)
}

// GetDeploymentByID fetches a single deployment.
func (r *Repository) GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error) {
	const query = `SELECT id, repo_url, status, live_url, build_logs, error_message, created_at, updated_at
		FROM deployments WHERE id = $1`
	var row deploymentRow
	if err := pgxscan.Get(ctx, r.pool, &row, query, id); err != nil {
		if pgxscan.NotFound(err) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// AppendLog appends a build log line to the deployment.
func (r *Repository) AppendLog(ctx context.Context, id, line string) error {
	const query = `UPDATE deployments SET build_logs = array_append(build_logs, $2), updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, line)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) missOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM deployments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrInvalidTransition
}
