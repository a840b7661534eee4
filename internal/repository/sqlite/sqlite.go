package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/splax/repodeploy/internal/domain"
	"github.com/splax/repodeploy/internal/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS deployments (
    id            TEXT PRIMARY KEY,
    repo_url      TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'pending',
    live_url      TEXT,
    build_logs    TEXT NOT NULL DEFAULT '[]',
    error_message TEXT,
    created_at    DATETIME NOT NULL,
    updated_at    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deployments_status ON deployments(status);
`

// Repository implements repository.DeploymentRepository using SQLite.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.HealthChecker        = (*Repository)(nil)
)

// New opens the database at dbPath, initializing the schema if needed.
func New(dbPath string) (*Repository, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer keeps read-modify-write statements serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Repository{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// CreateDeployment inserts a deployment record.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	logs := deployment.BuildLogs
	if logs == nil {
		logs = []string{}
	}
	encoded, err := json.Marshal(logs)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO deployments (id, repo_url, status, live_url, build_logs, error_message, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		deployment.ID, deployment.RepoURL, string(deployment.Status), deployment.LiveURL,
		string(encoded), deployment.ErrorMessage, deployment.CreatedAt.UTC(), deployment.UpdatedAt.UTC(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return repository.ErrConflict
	}
	return err
}

// UpdateDeployment applies the update in a single statement guarded by the legal source statuses.
func (r *Repository) UpdateDeployment(ctx context.Context, id string, update domain.DeploymentUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	query := `UPDATE deployments SET
		status = COALESCE(?, status),
		live_url = COALESCE(?, live_url),
		error_message = COALESCE(?, error_message),
		build_logs = CASE WHEN ? IS NULL THEN build_logs ELSE json_insert(build_logs, '$[#]', ?) END,
		updated_at = ?
		WHERE id = ?`

	var status any
	args := []any{nil, update.LiveURL, update.ErrorMessage, update.AppendLog, update.AppendLog, r.now().UTC(), id}
	if update.Status != nil {
		status = string(*update.Status)
		args[0] = status
		sources := domain.SourcesFor(*update.Status)
		if len(sources) == 0 {
			return r.missOrConflict(ctx, id)
		}
		placeholders := make([]string, len(sources))
		for i, s := range sources {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	return r.missOrConflict(ctx, id)
}

// GetDeploymentByID retrieves a deployment by ID.
func (r *Repository) GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, repo_url, status, live_url, build_logs, error_message, created_at, updated_at
		 FROM deployments WHERE id = ?`, id,
	)
	return scanDeployment(row)
}

// AppendLog appends a build log line.
func (r *Repository) AppendLog(ctx context.Context, id, line string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE deployments SET build_logs = json_insert(build_logs, '$[#]', ?), updated_at = ? WHERE id = ?`,
		line, r.now().UTC(), id,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *Repository) missOrConflict(ctx context.Context, id string) error {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM deployments WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return err
	}
	return repository.ErrInvalidTransition
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row scanner) (*domain.Deployment, error) {
	var (
		d            domain.Deployment
		status       string
		liveURL      sql.NullString
		logs         string
		errorMessage sql.NullString
	)
	err := row.Scan(&d.ID, &d.RepoURL, &status, &liveURL, &logs, &errorMessage, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	d.Status = domain.Status(status)
	if liveURL.Valid {
		d.LiveURL = &liveURL.String
	}
	if errorMessage.Valid {
		d.ErrorMessage = &errorMessage.String
	}
	if err := json.Unmarshal([]byte(logs), &d.BuildLogs); err != nil {
		return nil, fmt.Errorf("decode build logs: %w", err)
	}
	if d.BuildLogs == nil {
		d.BuildLogs = []string{}
	}
	return &d, nil
}
