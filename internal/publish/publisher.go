package publish

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/splax/repodeploy/internal/buildplan"
)

var (
	// ErrNotConfigured is returned when a provider is selected without its credentials.
	ErrNotConfigured = errors.New("hosting provider not configured")
	// ErrPublishFailed indicates the provider rejected or failed the deployment.
	ErrPublishFailed = errors.New("hosting publish failed")
)

// PublishError carries the provider's status and response body.
type PublishError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *PublishError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s deployment failed: %s", e.Provider, e.Body)
	}
	return fmt.Sprintf("%s deployment failed: %d %s", e.Provider, e.StatusCode, e.Body)
}

// Is reports ErrPublishFailed equivalence.
func (e *PublishError) Is(target error) bool {
	return target == ErrPublishFailed
}

// Request describes one deployment handed to a provider.
type Request struct {
	DeploymentID string
	Name         string
	SourceURL    string
	Files        map[string]string
	Plan         buildplan.Plan
}

// Result is what the provider reports back. URL is empty when nothing was actually hosted.
type Result struct {
	URL        string
	ProviderID string
	ReadyState string
}

// Publisher uploads a file set to a hosting provider.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, req Request) (Result, error)
}

// Simulator is implemented by publishers that never host anything.
type Simulator interface {
	Simulated() bool
}

// IsSimulated reports whether p only pretends to publish.
func IsSimulated(p Publisher) bool {
	s, ok := p.(Simulator)
	return ok && s.Simulated()
}

var invalidNameChars = regexp.MustCompile(`[^a-z0-9-]`)

const maxProjectNameLen = 100

// ProjectName builds a provider-safe project name from the repository and deployment id.
func ProjectName(owner, repo, deploymentID string) string {
	name := strings.ToLower(owner + "-" + repo + "-" + deploymentID)
	name = invalidNameChars.ReplaceAllString(name, "-")
	if len(name) > maxProjectNameLen {
		name = name[len(name)-maxProjectNameLen:]
	}
	return strings.Trim(name, "-")
}

func normalizePath(p string) string {
	return strings.TrimLeft(p, "/")
}
