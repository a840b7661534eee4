package httpx

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/splax/repodeploy/internal/domain"
	"github.com/splax/repodeploy/internal/repository"
	"github.com/splax/repodeploy/internal/service/logs"
	"github.com/splax/repodeploy/internal/ws"
)

// handleStatusEvents streams log and status messages for one deployment as Server-Sent Events.
// The stream opens with a snapshot and ends once the deployment is terminal.
func (r *Router) handleStatusEvents(w http.ResponseWriter, req *http.Request, id string) {
	hub := r.logs.Hub()
	flusher, ok := w.(http.Flusher)
	if !ok || hub == nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if _, err := r.deploy.Get(req.Context(), id); err != nil {
		r.writeLookupError(w, id, err)
		return
	}

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, r.logger)
	hub.Register(id, client)
	defer func() {
		hub.Unregister(id, client)
		client.Close()
	}()

	if done := r.sendSnapshot(req, id, client.Send); done {
		return
	}

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if done := r.terminalSnapshot(req, id, client.Send); done {
				return
			}
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleDeploymentsWS(w http.ResponseWriter, req *http.Request) {
	hub := r.logs.Hub()
	if hub == nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	id := strings.TrimSpace(req.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "Deployment ID is required")
		return
	}
	if _, err := r.deploy.Get(req.Context(), id); err != nil {
		r.writeLookupError(w, id, err)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	hub.Register(id, client)
	_ = r.sendSnapshot(req, id, client.Send)

	closed := make(chan struct{})
	go func() {
		defer func() {
			hub.Unregister(id, client)
			client.Close()
			close(closed)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(r.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-closed:
				return
			case <-ticker.C:
				if err := client.Ping(); err != nil {
					return
				}
			}
		}
	}()
}

// sendSnapshot writes the current record and reports whether it is already terminal.
func (r *Router) sendSnapshot(req *http.Request, id string, send func([]byte) error) bool {
	deployment, err := r.deploy.Get(req.Context(), id)
	if err != nil {
		r.logger.Warn("stream snapshot failed", "deployment_id", id, "error", err)
		return false
	}
	return r.writeSnapshot(id, deployment, send)
}

// terminalSnapshot sends a closing snapshot only when the deployment has finished.
func (r *Router) terminalSnapshot(req *http.Request, id string, send func([]byte) error) bool {
	deployment, err := r.deploy.Get(req.Context(), id)
	if err != nil || !deployment.Status.Terminal() {
		return false
	}
	return r.writeSnapshot(id, deployment, send)
}

func (r *Router) writeSnapshot(id string, deployment *domain.Deployment, send func([]byte) error) bool {
	payload, err := logs.MarshalSnapshot(deployment)
	if err != nil {
		r.logger.Warn("marshal snapshot failed", "deployment_id", id, "error", err)
		return false
	}
	if err := send(payload); err != nil {
		return true
	}
	return deployment.Status.Terminal()
}

func (r *Router) writeLookupError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeDeploymentNotFound(w, id)
		return
	}
	r.logger.Error("fetch deployment failed", "deployment_id", id, "error", err)
	writeError(w, http.StatusInternalServerError, "Failed to fetch deployment status")
}
