package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteErrorUsesStatusCode(t *testing.T) {
	cases := []struct {
		status int
		code   string
	}{
		{http.StatusBadRequest, codeInvalidRequest},
		{http.StatusNotFound, codeNotFound},
		{http.StatusMethodNotAllowed, codeMethodNotAllowed},
		{http.StatusTooManyRequests, codeRateLimited},
		{http.StatusServiceUnavailable, codeInternal},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		writeError(rr, tc.status, "boom")
		if rr.Code != tc.status {
			t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
		}
		var body errorBody
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Error != "boom" || body.Code != tc.code || body.ID != "" {
			t.Fatalf("status %d: unexpected body %+v", tc.status, body)
		}
	}
}

func TestWriteJSONEncodeFailure(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusOK, map[string]any{"bad": make(chan int)})
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != codeInternal {
		t.Fatalf("expected code %q, got %q", codeInternal, body.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("unexpected content type %q", got)
	}
}
