package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/splax/repodeploy/internal/domain"
	"github.com/splax/repodeploy/internal/repository"
)

func statusPtr(s domain.Status) *domain.Status { return &s }
func strPtr(s string) *string                  { return &s }

func seed(t *testing.T, repo *Repository, id string) {
	t.Helper()
	now := time.Now().UTC()
	err := repo.CreateDeployment(context.Background(), &domain.Deployment{
		ID:        id,
		RepoURL:   "https://github.com/acme/site",
		Status:    domain.StatusPending,
		BuildLogs: []string{"Deployment initiated..."},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	repo := New()
	seed(t, repo, "abc")
	err := repo.CreateDeployment(context.Background(), &domain.Deployment{ID: "abc"})
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUpdateEnforcesTransitions(t *testing.T) {
	ctx := context.Background()
	repo := New()
	seed(t, repo, "abc")

	err := repo.UpdateDeployment(ctx, "abc", domain.DeploymentUpdate{Status: statusPtr(domain.StatusDeployed), LiveURL: strPtr("https://x")})
	if !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition skipping building, got %v", err)
	}

	if err := repo.UpdateDeployment(ctx, "abc", domain.DeploymentUpdate{Status: statusPtr(domain.StatusBuilding)}); err != nil {
		t.Fatalf("to building: %v", err)
	}
	final := domain.DeploymentUpdate{
		Status:       statusPtr(domain.StatusFailed),
		ErrorMessage: strPtr("boom"),
		AppendLog:    strPtr("Deployment failed: boom"),
	}
	if err := repo.UpdateDeployment(ctx, "abc", final); err != nil {
		t.Fatalf("to failed: %v", err)
	}
	if err := repo.UpdateDeployment(ctx, "abc", domain.DeploymentUpdate{Status: statusPtr(domain.StatusDeployed)}); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("expected terminal status to be final, got %v", err)
	}

	got, err := repo.GetDeploymentByID(ctx, "abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusFailed || got.ErrorMessage == nil || *got.ErrorMessage != "boom" {
		t.Fatalf("unexpected record %+v", got)
	}
	if last := got.BuildLogs[len(got.BuildLogs)-1]; last != "Deployment failed: boom" {
		t.Fatalf("expected failure line appended, got %q", last)
	}
	if got.LiveURL != nil {
		t.Fatalf("expected nil live url, got %q", *got.LiveURL)
	}
}

func TestUpdateUnknownDeployment(t *testing.T) {
	err := New().UpdateDeployment(context.Background(), "missing", domain.DeploymentUpdate{Status: statusPtr(domain.StatusBuilding)})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	ctx := context.Background()
	repo := New()
	seed(t, repo, "abc")

	snap, _ := repo.GetDeploymentByID(ctx, "abc")
	if err := repo.AppendLog(ctx, "abc", "Starting build process..."); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(snap.BuildLogs) != 1 {
		t.Fatalf("snapshot mutated by later append: %v", snap.BuildLogs)
	}
	later, _ := repo.GetDeploymentByID(ctx, "abc")
	if len(later.BuildLogs) != 2 {
		t.Fatalf("expected 2 log lines, got %v", later.BuildLogs)
	}
}

func TestConcurrentAppendsKeepEveryLine(t *testing.T) {
	ctx := context.Background()
	repo := New()
	seed(t, repo, "abc")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = repo.AppendLog(ctx, "abc", "line")
		}()
	}
	wg.Wait()

	got, _ := repo.GetDeploymentByID(ctx, "abc")
	if len(got.BuildLogs) != 51 {
		t.Fatalf("expected 51 log lines, got %d", len(got.BuildLogs))
	}
}
