package publish

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type fakePutter struct {
	objects map[string]string
	types   map[string]string
	err     error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = string(body)
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func newFakePutter() *fakePutter {
	return &fakePutter{objects: map[string]string{}, types: map[string]string{}}
}

func TestS3PublishUploadsUnderDeploymentPrefix(t *testing.T) {
	api := newFakePutter()
	p := newS3WithClient(api, S3Options{Bucket: "sites", PublicBaseURL: "https://cdn.example.com/", Prefix: "/deploys/"})

	res, err := p.Publish(context.Background(), Request{
		DeploymentID: "abc",
		SourceURL:    "https://github.com/acme/site",
		Files:        map[string]string{"index.html": "<h1>hi</h1>", "css/site.css": "body{}"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.URL != "https://cdn.example.com/deploys/abc/" {
		t.Fatalf("unexpected url %q", res.URL)
	}
	if api.objects["deploys/abc/index.html"] != "<h1>hi</h1>" {
		t.Fatalf("index.html not uploaded: %v", api.objects)
	}
	if ct := api.types["deploys/abc/css/site.css"]; ct == "" || ct[:8] != "text/css" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestS3PublishSynthesizesLandingPage(t *testing.T) {
	api := newFakePutter()
	p := newS3WithClient(api, S3Options{Bucket: "sites", PublicBaseURL: "https://cdn.example.com"})

	_, err := p.Publish(context.Background(), Request{
		DeploymentID: "abc",
		SourceURL:    "https://github.com/acme/tool",
		Files:        map[string]string{"main.go": "package main"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := api.objects["abc/index.html"]; !ok {
		t.Fatalf("expected generated index.html, got %v", api.objects)
	}
}

func TestS3PublishRequiresBucket(t *testing.T) {
	p := newS3WithClient(newFakePutter(), S3Options{})
	if _, err := p.Publish(context.Background(), Request{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestS3PublishUploadFailure(t *testing.T) {
	api := newFakePutter()
	api.err = errors.New("access denied")
	p := newS3WithClient(api, S3Options{Bucket: "sites", PublicBaseURL: "https://cdn.example.com"})
	_, err := p.Publish(context.Background(), Request{DeploymentID: "abc", Files: map[string]string{"index.html": "x"}})
	if !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("expected ErrPublishFailed, got %v", err)
	}
}

func TestS3HTTPClientIsTraced(t *testing.T) {
	client := s3HTTPClient(7 * time.Second)
	if client.Timeout != 7*time.Second {
		t.Fatalf("expected timeout 7s, got %s", client.Timeout)
	}
	if _, ok := client.Transport.(*otelhttp.Transport); !ok {
		t.Fatalf("expected otelhttp transport, got %T", client.Transport)
	}
}
