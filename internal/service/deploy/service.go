package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/splax/repodeploy/internal/archive"
	"github.com/splax/repodeploy/internal/buildplan"
	"github.com/splax/repodeploy/internal/bus"
	"github.com/splax/repodeploy/internal/domain"
	"github.com/splax/repodeploy/internal/publish"
	"github.com/splax/repodeploy/internal/repository"
	"github.com/splax/repodeploy/internal/service/logs"
	"github.com/splax/repodeploy/internal/source"
	"github.com/splax/repodeploy/pkg/config"
)

// ErrInvalidInput is returned synchronously when the submitted repository URL is rejected.
var ErrInvalidInput = errors.New("invalid input")

const createAttempts = 3

var tracer = otel.Tracer("github.com/splax/repodeploy/internal/service/deploy")

// Fetcher downloads a repository snapshot archive.
type Fetcher interface {
	Fetch(ctx context.Context, repo source.Repo) ([]byte, error)
}

// EventPublisher receives deployment lifecycle events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e bus.Event) error
}

// StartResult is returned to the caller as soon as the job is recorded.
type StartResult struct {
	ID      string        `json:"id"`
	LiveURL *string       `json:"liveUrl"`
	Status  domain.Status `json:"status"`
}

// Service runs the deployment pipeline, one background goroutine per job.
type Service struct {
	deployments repository.DeploymentRepository
	fetcher     Fetcher
	publisher   publish.Publisher
	logSvc      logs.Service
	events      EventPublisher
	logger      *slog.Logger
	cfg         config.APIConfig
	metrics     *pipelineMetrics
	inflight    *sync.WaitGroup
	newID       func() string
	now         func() time.Time
}

// New returns a deployment service. events may be nil.
func New(deployments repository.DeploymentRepository, fetcher Fetcher, publisher publish.Publisher, logSvc logs.Service, events EventPublisher, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{
		deployments: deployments,
		fetcher:     fetcher,
		publisher:   publisher,
		logSvc:      logSvc,
		events:      events,
		logger:      logger,
		cfg:         cfg,
		metrics:     newPipelineMetrics(),
		inflight:    &sync.WaitGroup{},
		newID:       newDeploymentID,
		now:         time.Now,
	}
}

// Start validates the repository URL, records a pending deployment and runs the pipeline in
// the background. It returns before any pipeline step runs.
func (s Service) Start(ctx context.Context, repoURL string) (StartResult, error) {
	repoURL = strings.TrimSpace(repoURL)
	repo, err := source.ParseRepoURL(repoURL)
	if err != nil {
		return StartResult{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	deployment, err := s.create(ctx, repoURL)
	if err != nil {
		return StartResult{}, err
	}
	s.metrics.started()
	s.logger.Info("deployment created", "deployment_id", deployment.ID, "repo", repo.FullName())
	s.logSvc.Publish(deployment.ID, deployment.BuildLogs[0])
	s.notify(ctx, deployment)

	s.inflight.Add(1)
	go s.execute(context.Background(), deployment.Clone(), repo)

	return StartResult{ID: deployment.ID, LiveURL: nil, Status: domain.StatusPending}, nil
}

// Get returns the current snapshot of a deployment.
func (s Service) Get(ctx context.Context, id string) (*domain.Deployment, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.deployments.GetDeploymentByID(ctx, id)
}

// Wait blocks until every in-flight job has finished or ctx ends.
func (s Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s Service) create(ctx context.Context, repoURL string) (*domain.Deployment, error) {
	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		now := s.now().UTC()
		deployment := &domain.Deployment{
			ID:        s.newID(),
			RepoURL:   repoURL,
			Status:    domain.StatusPending,
			BuildLogs: []string{"Deployment initiated..."},
			CreatedAt: now,
			UpdatedAt: now,
		}
		storeCtx, cancel := s.storeCtx(ctx)
		err := s.deployments.CreateDeployment(storeCtx, deployment)
		cancel()
		if err == nil {
			return deployment, nil
		}
		lastErr = err
		if !errors.Is(err, repository.ErrConflict) {
			break
		}
	}
	s.logger.Error("create deployment failed", "error", lastErr)
	return nil, fmt.Errorf("create deployment: %w", lastErr)
}

func (s Service) execute(ctx context.Context, deployment *domain.Deployment, repo source.Repo) {
	defer s.inflight.Done()
	s.metrics.inflight.Inc()
	defer s.metrics.inflight.Dec()

	ctx, span := tracer.Start(ctx, "deploy.execute")
	span.SetAttributes(attribute.String("deployment.id", deployment.ID), attribute.String("repo", repo.FullName()))
	defer span.End()

	building := domain.StatusBuilding
	if err := s.update(ctx, deployment.ID, domain.DeploymentUpdate{Status: &building}); err != nil {
		// Without the building transition there is no legal path to a terminal status.
		s.logger.Error("failed to start deployment", "deployment_id", deployment.ID, "error", err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.finished("abandoned")
		return
	}
	s.appendLog(ctx, deployment.ID, "Starting build process...")

	liveURL, err := s.run(ctx, deployment, repo)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.fail(ctx, deployment.ID, err)
		return
	}
	s.succeed(ctx, deployment.ID, liveURL)
}

func (s Service) run(ctx context.Context, deployment *domain.Deployment, repo source.Repo) (*string, error) {
	id := deployment.ID

	s.appendLog(ctx, id, fmt.Sprintf("Cloning %s...", repo.FullName()))
	var snapshot []byte
	err := s.stage(ctx, "fetch", s.cfg.GitHubTimeout, func(ctx context.Context) error {
		var err error
		snapshot, err = s.fetcher.Fetch(ctx, repo)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.appendLog(ctx, id, "Processing repository files...")
	var extracted archive.Result
	err = s.stage(ctx, "extract", 0, func(context.Context) error {
		var err error
		extracted, err = archive.Extract(snapshot)
		return err
	})
	snapshot = nil
	if err != nil {
		return nil, err
	}
	s.logExtraction(ctx, id, extracted)

	plan := buildplan.FromFiles(extracted.Files)
	s.logPlan(ctx, id, plan)

	if publish.IsSimulated(s.publisher) {
		s.appendLog(ctx, id, "Simulating deployment to hosting...")
	} else {
		s.appendLog(ctx, id, fmt.Sprintf("Deploying to %s...", s.publisher.Name()))
	}

	var result publish.Result
	err = s.stage(ctx, "publish", s.cfg.PublishTimeout, func(ctx context.Context) error {
		var err error
		result, err = s.publisher.Publish(ctx, publish.Request{
			DeploymentID: id,
			Name:         publish.ProjectName(repo.Owner, repo.Name, id),
			SourceURL:    deployment.RepoURL,
			Files:        extracted.Files,
			Plan:         plan,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if result.URL == "" {
		if !publish.IsSimulated(s.publisher) {
			return nil, &publish.PublishError{Provider: s.publisher.Name(), Body: "provider returned no deployment url"}
		}
		return nil, nil
	}
	s.appendLog(ctx, id, "Deployment created: "+result.URL)
	return &result.URL, nil
}

func (s Service) logExtraction(ctx context.Context, id string, res archive.Result) {
	stats := res.Stats
	s.metrics.skipped(stats)
	s.appendLog(ctx, id, fmt.Sprintf("Extracted %d files (%d skipped)", stats.Accepted, stats.Skipped()))
	if stats.BudgetExceeded {
		s.appendLog(ctx, id, fmt.Sprintf("Repository exceeds %d MiB of text files, remaining files were omitted", archive.MaxTotalBytes>>20))
	}
	if res.ManifestSkipped {
		s.appendLog(ctx, id, "package.json was skipped during extraction, deploying as static files")
	}
}

func (s Service) logPlan(ctx context.Context, id string, plan buildplan.Plan) {
	switch {
	case !plan.HasManifest:
		s.appendLog(ctx, id, "Static files detected, no build process needed")
		return
	case plan.ManifestError != nil:
		s.logger.Warn("invalid package manifest", "deployment_id", id, "error", plan.ManifestError)
		s.appendLog(ctx, id, "package.json could not be parsed, deploying as static files")
		return
	}

	s.appendLog(ctx, id, "package.json detected")
	if plan.Framework != nil {
		s.appendLog(ctx, id, "Framework: "+*plan.Framework)
	}
	if plan.InstallCommand != nil {
		s.appendLog(ctx, id, "Install command: "+*plan.InstallCommand)
	}
	if plan.BuildCommand != nil {
		s.appendLog(ctx, id, "Build command: "+*plan.BuildCommand)
	} else {
		s.appendLog(ctx, id, "No build script found, using files as-is")
	}
}

func (s Service) succeed(ctx context.Context, id string, liveURL *string) {
	deployed := domain.StatusDeployed
	line := "Deployment successful!"
	if liveURL == nil {
		line = "Simulation deployment successful! (Demo mode)"
	}
	if err := s.update(ctx, id, domain.DeploymentUpdate{Status: &deployed, LiveURL: liveURL, AppendLog: &line}); err != nil {
		s.logger.Error("failed to record deployment success", "deployment_id", id, "error", err)
		s.metrics.finished("abandoned")
		return
	}
	s.logger.Info("deployment finished", "deployment_id", id, "status", deployed, "live_url", liveURL)
	s.metrics.finished(string(deployed))
}

func (s Service) fail(ctx context.Context, id string, cause error) {
	failed := domain.StatusFailed
	msg := cause.Error()
	line := "Deployment failed: " + msg
	if err := s.update(ctx, id, domain.DeploymentUpdate{Status: &failed, ErrorMessage: &msg, AppendLog: &line}); err != nil {
		s.logger.Error("failed to record deployment failure", "deployment_id", id, "cause", cause, "error", err)
		s.metrics.finished("abandoned")
		return
	}
	s.logger.Warn("deployment failed", "deployment_id", id, "kind", errorKind(cause), "error", cause)
	s.metrics.finished(string(failed))
}

// update writes a status change, then fans it out to stream subscribers and the event bus.
func (s Service) update(ctx context.Context, id string, update domain.DeploymentUpdate) error {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.deployments.UpdateDeployment(storeCtx, id, update); err != nil {
		return err
	}
	if update.AppendLog != nil {
		s.logSvc.Publish(id, *update.AppendLog)
	}
	current, err := s.deployments.GetDeploymentByID(storeCtx, id)
	if err != nil {
		s.logger.Warn("reload deployment failed", "deployment_id", id, "error", err)
		return nil
	}
	s.logSvc.PublishStatus(current)
	s.notify(ctx, current)
	return nil
}

func (s Service) appendLog(ctx context.Context, id, line string) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.logSvc.Append(storeCtx, id, line); err != nil {
		s.logger.Warn("failed to append deployment log", "deployment_id", id, "error", err)
	}
}

func (s Service) notify(ctx context.Context, d *domain.Deployment) {
	if s.events == nil {
		return
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.events.PublishEvent(ctx, bus.EventFromDeployment(d)); err != nil {
		s.logger.Warn("failed to publish deployment event", "deployment_id", d.ID, "status", d.Status, "error", err)
	}
}

func (s Service) stage(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "deploy."+name)
	defer span.End()

	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	start := s.now()
	err := fn(ctx)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.metrics.observeStage(name, outcome, s.now().Sub(start))
	return err
}

func (s Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, s.cfg.StoreTimeout)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, source.ErrFetchFailed):
		return "fetch_failed"
	case errors.Is(err, archive.ErrExtractFailed):
		return "extract_failed"
	case errors.Is(err, publish.ErrNotConfigured):
		return "configuration_error"
	case errors.Is(err, publish.ErrPublishFailed):
		return "publish_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}

// newDeploymentID returns 12 lowercase hex characters, usable as a DNS label.
func newDeploymentID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
