package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/repodeploy/internal/repository"
	"github.com/splax/repodeploy/internal/service/deploy"
	"github.com/splax/repodeploy/internal/service/logs"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	deploy      deploy.Service
	logs        logs.Service
	upgrader    websocket.Upgrader
	limiter     RateLimiter
	deployLimit RateLimit
	storeHealth func(context.Context) error
	metrics     httpMetrics
	heartbeat   time.Duration
}

const (
	healthCheckTimeout = 2 * time.Second
	streamHeartbeat    = 15 * time.Second
	maxDeployBodyBytes = 1 << 20
)

// NewRouter assembles routes with dependencies. deployLimit bounds deploy requests per
// client address; a zero limit disables it.
func NewRouter(logger *slog.Logger, deploySvc deploy.Service, logSvc logs.Service, limiter RateLimiter, deployLimit RateLimit, storeHealth func(context.Context) error) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		deploy: deploySvc,
		logs:   logSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:     limiter,
		deployLimit: deployLimit,
		storeHealth: storeHealth,
		metrics:     newHTTPMetrics(),
		heartbeat:   streamHeartbeat,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/api/deploy", r.audit("deploy", r.withRateLimit("deploy", r.handleDeploy)))
	r.mux.HandleFunc("/api/status/", r.audit("status", r.handleStatusSubroutes))
	r.mux.HandleFunc("/ws/deployments", r.audit("ws", r.handleDeploymentsWS))
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		RepoURL string `json:"repoUrl"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxDeployBodyBytes)).Decode(&payload); err != nil {
		writeErrorCode(w, http.StatusBadRequest, codeInvalidJSON, "invalid JSON body")
		return
	}
	result, err := r.deploy.Start(req.Context(), payload.RepoURL)
	if err != nil {
		if errors.Is(err, deploy.ErrInvalidInput) {
			writeErrorCode(w, http.StatusBadRequest, codeInvalidRepoURL, "Invalid GitHub repository URL")
			return
		}
		r.logger.Error("start deployment failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Deployment failed to start")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleStatusSubroutes(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	trimmed := strings.Trim(strings.TrimPrefix(req.URL.Path, "/api/status/"), "/")
	parts := strings.Split(trimmed, "/")
	id := strings.TrimSpace(parts[0])
	if id == "" {
		writeError(w, http.StatusBadRequest, "Deployment ID is required")
		return
	}
	switch {
	case len(parts) == 1:
		r.handleStatus(w, req, id)
	case len(parts) == 2 && parts[1] == "events":
		r.handleStatusEvents(w, req, id)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request, id string) {
	deployment, err := r.deploy.Get(req.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeDeploymentNotFound(w, id)
			return
		}
		r.logger.Error("fetch deployment failed", "deployment_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch deployment status")
		return
	}
	writeJSON(w, http.StatusOK, deployment)
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.storeHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.storeHealth(ctx); err != nil {
			status = "degraded"
			components["store"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["store"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		r.metrics.recordRequest(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"route", route,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		// Upgraded connections report 101 instead of the zero default.
		sr.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeErrorCode(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeErrorCode(w, http.StatusNotFound, codeNotFound, "not found")
}
