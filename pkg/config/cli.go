package config

import "time"

// CLIConfig holds defaults for the repodeploy command line client.
type CLIConfig struct {
	APIURL       string
	PollInterval time.Duration
	Timeout      time.Duration
}

// LoadCLIConfig constructs a CLIConfig from environment variables.
func LoadCLIConfig() CLIConfig {
	return CLIConfig{
		APIURL:       GetString("REPODEPLOY_API_URL", "http://localhost:3000"),
		PollInterval: time.Duration(GetInt("REPODEPLOY_POLL_MS", 1500)) * time.Millisecond,
		Timeout:      GetSeconds("REPODEPLOY_TIMEOUT_SECONDS", 600),
	}
}
