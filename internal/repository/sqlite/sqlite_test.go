package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/splax/repodeploy/internal/domain"
	"github.com/splax/repodeploy/internal/repository"
)

func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "deployments.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func statusPtr(s domain.Status) *domain.Status { return &s }
func strPtr(s string) *string                  { return &s }

func createPending(t *testing.T, repo *Repository, id string) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	err := repo.CreateDeployment(context.Background(), &domain.Deployment{
		ID:        id,
		RepoURL:   "https://github.com/acme/site",
		Status:    domain.StatusPending,
		BuildLogs: []string{"Deployment initiated..."},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateDeployment() error = %v", err)
	}
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := setupTestRepo(t)
	createPending(t, repo, "abc123")

	got, err := repo.GetDeploymentByID(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("GetDeploymentByID() error = %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, domain.StatusPending)
	}
	if got.LiveURL != nil || got.ErrorMessage != nil {
		t.Errorf("expected nil live url and error, got %v %v", got.LiveURL, got.ErrorMessage)
	}
	if len(got.BuildLogs) != 1 || got.BuildLogs[0] != "Deployment initiated..." {
		t.Errorf("BuildLogs = %v", got.BuildLogs)
	}
}

func TestRepository_CreateDuplicate(t *testing.T) {
	repo := setupTestRepo(t)
	createPending(t, repo, "abc123")

	err := repo.CreateDeployment(context.Background(), &domain.Deployment{ID: "abc123", Status: domain.StatusPending})
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("CreateDeployment() error = %v, want ErrConflict", err)
	}
}

func TestRepository_GetNotFound(t *testing.T) {
	repo := setupTestRepo(t)
	if _, err := repo.GetDeploymentByID(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("GetDeploymentByID() error = %v, want ErrNotFound", err)
	}
}

func TestRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := setupTestRepo(t)
	createPending(t, repo, "abc123")

	if err := repo.UpdateDeployment(ctx, "abc123", domain.DeploymentUpdate{Status: statusPtr(domain.StatusBuilding)}); err != nil {
		t.Fatalf("to building: %v", err)
	}
	if err := repo.AppendLog(ctx, "abc123", "Cloning acme/site..."); err != nil {
		t.Fatalf("AppendLog() error = %v", err)
	}
	done := domain.DeploymentUpdate{
		Status:    statusPtr(domain.StatusDeployed),
		LiveURL:   strPtr("https://acme-site.vercel.app"),
		AppendLog: strPtr("Deployment successful!"),
	}
	if err := repo.UpdateDeployment(ctx, "abc123", done); err != nil {
		t.Fatalf("to deployed: %v", err)
	}

	got, err := repo.GetDeploymentByID(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetDeploymentByID() error = %v", err)
	}
	if got.Status != domain.StatusDeployed {
		t.Errorf("Status = %q, want deployed", got.Status)
	}
	if got.LiveURL == nil || *got.LiveURL != "https://acme-site.vercel.app" {
		t.Errorf("LiveURL = %v", got.LiveURL)
	}
	want := []string{"Deployment initiated...", "Cloning acme/site...", "Deployment successful!"}
	if len(got.BuildLogs) != len(want) {
		t.Fatalf("BuildLogs = %v, want %v", got.BuildLogs, want)
	}
	for i := range want {
		if got.BuildLogs[i] != want[i] {
			t.Errorf("BuildLogs[%d] = %q, want %q", i, got.BuildLogs[i], want[i])
		}
	}
}

func TestRepository_RejectsIllegalTransitions(t *testing.T) {
	ctx := context.Background()
	repo := setupTestRepo(t)
	createPending(t, repo, "abc123")

	err := repo.UpdateDeployment(ctx, "abc123", domain.DeploymentUpdate{Status: statusPtr(domain.StatusFailed), ErrorMessage: strPtr("x")})
	if !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("pending -> failed error = %v, want ErrInvalidTransition", err)
	}
	err = repo.UpdateDeployment(ctx, "missing", domain.DeploymentUpdate{Status: statusPtr(domain.StatusBuilding)})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("missing deployment error = %v, want ErrNotFound", err)
	}

	got, _ := repo.GetDeploymentByID(ctx, "abc123")
	if got.Status != domain.StatusPending || got.ErrorMessage != nil {
		t.Fatalf("rejected update leaked into record: %+v", got)
	}
}

func TestRepository_AppendLogNotFound(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.AppendLog(context.Background(), "missing", "line"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("AppendLog() error = %v, want ErrNotFound", err)
	}
}
