package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewNormalisesBaseURL(t *testing.T) {
	c, err := New("localhost:3000/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.baseURL != "http://localhost:3000" {
		t.Fatalf("unexpected base url %q", c.baseURL)
	}
}

func TestDeploy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/deploy" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["repoUrl"] != "https://github.com/acme/site" {
			t.Errorf("unexpected body %v", body)
		}
		_, _ = w.Write([]byte(`{"id":"abc123def456","liveUrl":null,"status":"pending"}`))
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	res, err := c.Deploy(context.Background(), "https://github.com/acme/site")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ID != "abc123def456" || res.Status != "pending" || res.LiveURL != nil {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestDeployInvalidURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Invalid GitHub repository URL"}`))
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	_, err := c.Deploy(context.Background(), "nope")
	apiErr, ok := err.(APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T %v", err, err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Message != "Invalid GitHub repository URL" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestStatusNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status/missing" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Deployment not found","code":"DEPLOYMENT_NOT_FOUND","id":"missing"}`))
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	_, err := c.Status(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if apiErr := err.(APIError); apiErr.Code != "DEPLOYMENT_NOT_FOUND" {
		t.Fatalf("unexpected code %q", apiErr.Code)
	}
}

func TestWatchStopsAtTerminalStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		d := Deployment{ID: "abc", Status: "building", BuildLogs: []string{"Deployment initiated..."}}
		if n >= 3 {
			url := "https://acme.vercel.app"
			d.Status = "deployed"
			d.LiveURL = &url
			d.BuildLogs = append(d.BuildLogs, "Deployment successful!")
		}
		_ = json.NewEncoder(w).Encode(d)
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	var updates int
	final, err := c.Watch(context.Background(), "abc", 5*time.Millisecond, func(Deployment) { updates++ })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if final.Status != "deployed" || final.LiveURL == nil {
		t.Fatalf("unexpected final deployment %+v", final)
	}
	if updates != 2 {
		t.Fatalf("expected 2 distinct updates, got %d", updates)
	}
}
