package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const placeholderToken = "your_vercel_token_here"

// VercelOptions configures the Vercel publisher.
type VercelOptions struct {
	BaseURL      string
	Token        string
	TeamID       string
	Timeout      time.Duration
	ReadyTimeout time.Duration
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// Vercel publishes file sets through the Vercel deployments API.
type Vercel struct {
	baseURL      string
	token        string
	teamID       string
	readyTimeout time.Duration
	pollInterval time.Duration
	client       *http.Client
}

var _ Publisher = (*Vercel)(nil)

// NewVercel constructs a Vercel publisher. A missing token is reported at publish time.
func NewVercel(opts VercelOptions) *Vercel {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.vercel.com"
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		client = &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	token := strings.TrimSpace(opts.Token)
	if token == placeholderToken {
		token = ""
	}
	return &Vercel{
		baseURL:      base,
		token:        token,
		teamID:       strings.TrimSpace(opts.TeamID),
		readyTimeout: opts.ReadyTimeout,
		pollInterval: poll,
		client:       client,
	}
}

// Name identifies the provider in build logs.
func (v *Vercel) Name() string { return "Vercel" }

// Configured reports whether a usable token is present.
func (v *Vercel) Configured() bool { return v.token != "" }

type vercelFile struct {
	File string `json:"file"`
	Data string `json:"data"`
}

type vercelProjectSettings struct {
	Framework       *string `json:"framework"`
	BuildCommand    *string `json:"buildCommand"`
	OutputDirectory *string `json:"outputDirectory"`
	InstallCommand  *string `json:"installCommand"`
}

type vercelDeploymentRequest struct {
	Name            string                `json:"name"`
	Files           []vercelFile          `json:"files"`
	Target          string                `json:"target"`
	Public          bool                  `json:"public"`
	ProjectSettings vercelProjectSettings `json:"projectSettings"`
}

type vercelDeployment struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	ReadyState string `json:"readyState"`
}

// Publish creates a production deployment and returns its URL.
func (v *Vercel) Publish(ctx context.Context, req Request) (Result, error) {
	if !v.Configured() {
		return Result{}, fmt.Errorf("%w: VERCEL_TOKEN is not set", ErrNotConfigured)
	}

	files, _ := WithEntryPoint(req.Files, req.SourceURL)
	uploads := make([]vercelFile, 0, len(files))
	for p, data := range files {
		uploads = append(uploads, vercelFile{File: normalizePath(p), Data: data})
	}
	sort.Slice(uploads, func(i, j int) bool { return uploads[i].File < uploads[j].File })

	body := vercelDeploymentRequest{
		Name:   req.Name,
		Files:  uploads,
		Target: "production",
		Public: false,
		ProjectSettings: vercelProjectSettings{
			Framework:       req.Plan.Framework,
			BuildCommand:    req.Plan.BuildCommand,
			OutputDirectory: req.Plan.OutputDirectory,
			InstallCommand:  req.Plan.InstallCommand,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("encode deployment: %w", err)
	}

	query := url.Values{}
	query.Set("skipAutoDetectionConfirmation", "1")
	var created vercelDeployment
	if err := v.do(ctx, http.MethodPost, "/v13/deployments", query, payload, &created); err != nil {
		return Result{}, err
	}
	if created.URL == "" {
		return Result{}, &PublishError{Provider: v.Name(), StatusCode: http.StatusOK, Body: "response did not include a deployment url"}
	}

	if v.readyTimeout > 0 && created.ID != "" {
		state, err := v.waitReady(ctx, created.ID, created.ReadyState)
		if err != nil {
			return Result{}, err
		}
		created.ReadyState = state
	}

	return Result{
		URL:        "https://" + strings.TrimPrefix(created.URL, "https://"),
		ProviderID: created.ID,
		ReadyState: created.ReadyState,
	}, nil
}

// waitReady polls until the deployment settles or the ready window closes. The deployment
// already exists at this point, so an expired window reports the last known state.
func (v *Vercel) waitReady(ctx context.Context, id string, state string) (string, error) {
	if state == "" {
		state = "BUILDING"
	}
	readyCtx, cancel := context.WithTimeout(ctx, v.readyTimeout)
	defer cancel()

	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()

	for {
		var dep vercelDeployment
		if err := v.do(readyCtx, http.MethodGet, "/v13/deployments/"+url.PathEscape(id), url.Values{}, nil, &dep); err != nil {
			if readyCtx.Err() != nil && ctx.Err() == nil {
				return state, nil
			}
			return "", err
		}
		if dep.ReadyState != "" {
			state = dep.ReadyState
		}
		switch state {
		case "READY":
			return state, nil
		case "ERROR", "CANCELED":
			return "", &PublishError{Provider: v.Name(), StatusCode: http.StatusOK, Body: "deployment finished in state " + state}
		}

		select {
		case <-readyCtx.Done():
			if ctx.Err() != nil {
				return "", &PublishError{Provider: v.Name(), Body: ctx.Err().Error()}
			}
			return state, nil
		case <-ticker.C:
		}
	}
}

func (v *Vercel) do(ctx context.Context, method, path string, query url.Values, payload []byte, out any) error {
	if v.teamID != "" {
		query.Set("teamId", v.teamID)
	}
	endpoint := v.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+v.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return &PublishError{Provider: v.Name(), Body: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &PublishError{Provider: v.Name(), StatusCode: resp.StatusCode, Body: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &PublishError{Provider: v.Name(), StatusCode: resp.StatusCode, Body: truncate(string(data), 4096)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &PublishError{Provider: v.Name(), StatusCode: resp.StatusCode, Body: "decode response: " + err.Error()}
		}
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
