package config

import (
	"strings"
	"time"
)

// Deployment modes.
const (
	ModeSimulation = "simulation"
	ModeVercel     = "vercel"
	ModeS3         = "s3"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment string
	Addr        string
	LogLevel    string

	StoreDriver  string
	DatabaseURL  string
	SQLitePath   string
	StoreTimeout time.Duration

	DeploymentMode string

	GitHubAPIURL       string
	GitHubToken        string
	GitHubTimeout      time.Duration
	GitHubMaxArchiveMB int

	VercelAPIURL       string
	VercelToken        string
	VercelTeamID       string
	VercelReadyTimeout time.Duration
	PublishTimeout     time.Duration

	S3Bucket         string
	S3Region         string
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string
	S3ForcePathStyle bool
	S3PublicBaseURL  string
	S3Prefix         string

	SimulationDelay time.Duration
	ShutdownTimeout time.Duration

	RateLimitRedisAddr   string
	RateLimitRedisPass   string
	RateLimitRedisDB     int
	RateLimitRedisPrefix string
	DeployRateLimit      int
	DeployRateWindow     time.Duration

	NATSURL            string
	OTLPEndpoint       string
	CORSAllowedOrigins []string
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment: GetString("APP_ENV", "development"),
		Addr:        GetString("API_ADDR", ":3000"),
		LogLevel:    GetString("LOG_LEVEL", "info"),

		StoreDriver:  strings.ToLower(GetString("STORE_DRIVER", StoreMemory)),
		DatabaseURL:  GetString("DATABASE_URL", "postgres://repodeploy:repodeploy@db:5432/repodeploy?sslmode=disable"),
		SQLitePath:   GetString("SQLITE_PATH", "data/repodeploy.db"),
		StoreTimeout: GetSeconds("STORE_TIMEOUT_SECONDS", 5),

		DeploymentMode: strings.ToLower(GetString("DEPLOYMENT_MODE", ModeSimulation)),

		GitHubAPIURL:       GetString("GITHUB_API_URL", "https://api.github.com"),
		GitHubToken:        GetString("GITHUB_TOKEN", ""),
		GitHubTimeout:      GetSeconds("GITHUB_TIMEOUT_SECONDS", 60),
		GitHubMaxArchiveMB: GetInt("GITHUB_MAX_ARCHIVE_MB", 100),

		VercelAPIURL:       GetString("VERCEL_API_URL", "https://api.vercel.com"),
		VercelToken:        GetString("VERCEL_TOKEN", ""),
		VercelTeamID:       GetString("VERCEL_TEAM_ID", ""),
		VercelReadyTimeout: GetSeconds("VERCEL_READY_TIMEOUT_SECONDS", 0),
		PublishTimeout:     GetSeconds("PUBLISH_TIMEOUT_SECONDS", 120),

		S3Bucket:         GetString("S3_BUCKET", ""),
		S3Region:         GetString("S3_REGION", "us-east-1"),
		S3Endpoint:       GetString("S3_ENDPOINT", ""),
		S3AccessKey:      GetString("S3_ACCESS_KEY", ""),
		S3SecretKey:      GetString("S3_SECRET_KEY", ""),
		S3ForcePathStyle: GetBool("S3_FORCE_PATH_STYLE", false),
		S3PublicBaseURL:  GetString("S3_PUBLIC_BASE_URL", ""),
		S3Prefix:         GetString("S3_PREFIX", ""),

		SimulationDelay: time.Duration(GetInt("SIMULATION_DELAY_MS", 2000)) * time.Millisecond,
		ShutdownTimeout: GetSeconds("SHUTDOWN_TIMEOUT_SECONDS", 30),

		RateLimitRedisAddr:   GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:   GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:     GetInt("RATE_LIMIT_REDIS_DB", 0),
		RateLimitRedisPrefix: GetString("RATE_LIMIT_REDIS_PREFIX", "repodeploy:ratelimit:"),
		DeployRateLimit:      GetInt("DEPLOY_RATE_LIMIT", 10),
		DeployRateWindow:     GetSeconds("DEPLOY_RATE_WINDOW_SECONDS", 60),

		NATSURL:            GetString("NATS_URL", ""),
		OTLPEndpoint:       GetString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		CORSAllowedOrigins: GetList("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}
}

// IsSimulationMode reports whether deployments are only simulated.
func (c APIConfig) IsSimulationMode() bool {
	return c.DeploymentMode != ModeVercel && c.DeploymentMode != ModeS3
}
