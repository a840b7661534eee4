package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrFetchFailed indicates the repository snapshot could not be downloaded.
var ErrFetchFailed = errors.New("repository fetch failed")

// DefaultRefs are tried in order; the second is the single fallback.
var DefaultRefs = []string{"main", "master"}

// FetchError describes the final failed snapshot request.
type FetchError struct {
	Repo       Repo
	Ref        string
	StatusCode int
	Message    string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("repository %s could not be fetched (ref %s): %s", e.Repo.FullName(), e.Ref, e.Message)
}

// Is reports ErrFetchFailed equivalence.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

// GitHubOptions configures the snapshot client.
type GitHubOptions struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration
	MaxArchiveBytes int64
	Refs            []string
	HTTPClient      *http.Client
}

// GitHub downloads repository zipballs from the GitHub REST API.
type GitHub struct {
	baseURL  string
	token    string
	maxBytes int64
	refs     []string
	client   *http.Client
}

// NewGitHub constructs a GitHub fetcher.
func NewGitHub(opts GitHubOptions) *GitHub {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.github.com"
	}
	refs := opts.Refs
	if len(refs) == 0 {
		refs = DefaultRefs
	}
	if len(refs) > 2 {
		refs = refs[:2]
	}
	maxBytes := opts.MaxArchiveBytes
	if maxBytes <= 0 {
		maxBytes = 100 << 20
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &GitHub{baseURL: base, token: opts.Token, maxBytes: maxBytes, refs: refs, client: client}
}

// Fetch downloads the snapshot of the first ref that resolves.
func (g *GitHub) Fetch(ctx context.Context, repo Repo) ([]byte, error) {
	var lastErr error
	for _, ref := range g.refs {
		data, err := g.fetchRef(ctx, repo, ref)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (g *GitHub) fetchRef(ctx context.Context, repo Repo, ref string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/zipball/%s", g.baseURL, url.PathEscape(repo.Owner), url.PathEscape(repo.Name), url.PathEscape(ref))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{Repo: repo, Ref: ref, Message: err.Error()}
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", "repodeploy")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &FetchError{Repo: repo, Ref: ref, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &FetchError{Repo: repo, Ref: ref, StatusCode: resp.StatusCode, Message: resp.Status}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBytes+1))
	if err != nil {
		return nil, &FetchError{Repo: repo, Ref: ref, StatusCode: resp.StatusCode, Message: fmt.Sprintf("read archive: %v", err)}
	}
	if int64(len(data)) > g.maxBytes {
		return nil, &FetchError{Repo: repo, Ref: ref, StatusCode: resp.StatusCode, Message: fmt.Sprintf("archive exceeds %d bytes", g.maxBytes)}
	}
	return data, nil
}
