package publish

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// S3Options configures static hosting on an S3 compatible bucket.
type S3Options struct {
	Bucket         string
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
	PublicBaseURL  string
	Prefix         string
	Timeout        time.Duration
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 publishes file sets as static objects under a per-deployment prefix.
type S3 struct {
	api     objectPutter
	bucket  string
	baseURL string
	prefix  string
}

var _ Publisher = (*S3)(nil)

// NewS3 builds the AWS client. Missing bucket settings are reported at publish time.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(s3HTTPClient(timeout)),
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.ForcePathStyle
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return newS3WithClient(client, opts), nil
}

func s3HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

func newS3WithClient(api objectPutter, opts S3Options) *S3 {
	prefix := strings.Trim(opts.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3{
		api:     api,
		bucket:  opts.Bucket,
		baseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		prefix:  prefix,
	}
}

// Name identifies the provider in build logs.
func (p *S3) Name() string { return "S3" }

// Publish uploads every file and returns the public URL of the deployment prefix.
func (p *S3) Publish(ctx context.Context, req Request) (Result, error) {
	if p.bucket == "" || p.baseURL == "" {
		return Result{}, fmt.Errorf("%w: S3_BUCKET and S3_PUBLIC_BASE_URL are required", ErrNotConfigured)
	}

	files, _ := WithEntryPoint(req.Files, req.SourceURL)
	root := p.prefix + req.DeploymentID + "/"
	for name, body := range files {
		key := root + normalizePath(name)
		_, err := p.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:       aws.String(p.bucket),
			Key:          aws.String(key),
			Body:         strings.NewReader(body),
			ContentType:  aws.String(contentType(name)),
			CacheControl: aws.String("public, max-age=60"),
		})
		if err != nil {
			return Result{}, &PublishError{Provider: p.Name(), Body: fmt.Sprintf("put %s: %v", key, err)}
		}
	}

	return Result{
		URL:        p.baseURL + "/" + root,
		ProviderID: p.bucket + "/" + root,
		ReadyState: "READY",
	}, nil
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "text/plain; charset=utf-8"
}
