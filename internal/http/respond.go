package httpx

import (
	"encoding/json"
	"net/http"
)

// Error codes let API clients branch without matching on messages.
const (
	codeInvalidRequest     = "INVALID_REQUEST"
	codeInvalidJSON        = "INVALID_JSON"
	codeInvalidRepoURL     = "INVALID_REPO_URL"
	codeNotFound           = "NOT_FOUND"
	codeDeploymentNotFound = "DEPLOYMENT_NOT_FOUND"
	codeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	codeRateLimited        = "RATE_LIMITED"
	codeInternal           = "INTERNAL_ERROR"
)

// errorBody is the shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	ID    string `json:"id,omitempty"`
}

// writeJSON encodes before writing headers so an encoding failure still yields a clean 500.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorBody{Error: "failed to encode response", Code: codeInternal})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// writeError sends msg with the generic code for status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorCode(w, status, statusCode(status), msg)
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

func writeDeploymentNotFound(w http.ResponseWriter, id string) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: "Deployment not found", Code: codeDeploymentNotFound, ID: id})
}

func statusCode(status int) string {
	switch {
	case status == http.StatusNotFound:
		return codeNotFound
	case status == http.StatusMethodNotAllowed:
		return codeMethodNotAllowed
	case status == http.StatusTooManyRequests:
		return codeRateLimited
	case status >= http.StatusInternalServerError:
		return codeInternal
	default:
		return codeInvalidRequest
	}
}
