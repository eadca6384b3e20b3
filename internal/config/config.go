package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/italolelis/vimeo_downloader/internal/logctx"
	"github.com/italolelis/vimeo_downloader/internal/retry"
	"github.com/kelseyhightower/envconfig"
)

// ErrMissingToken is returned when no access token was given.
var ErrMissingToken = errors.New("missing Vimeo access token: pass --token or set VIMEO_TOKEN")

// Config struct for environment variables.
type Config struct {
	Token     string `envconfig:"VIMEO_TOKEN"`
	APIURL    string `envconfig:"VIMEO_API_URL" default:"https://api.vimeo.com"`
	OutputDir string `envconfig:"OUTPUT_DIR" default:"./vimeo_backup"`
	Overwrite bool   `envconfig:"OVERWRITE" default:"false"`

	MaxParallel       int           `envconfig:"MAX_PARALLEL" default:"1"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	HTTPTimeout       time.Duration `envconfig:"HTTP_TIMEOUT" default:"60s"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`
	MetricsAddr       string        `envconfig:"METRICS_ADDR"`

	Retry struct {
		MaxAttempts     int           `split_words:"true" default:"5"`
		InitialInterval time.Duration `split_words:"true" default:"1s"`
		MaxInterval     time.Duration `split_words:"true" default:"20s"`
	}

	Telemetry struct {
		Enabled bool `split_words:"true" default:"false"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

// Validate checks the values that cannot be fixed by defaults.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.OutputDir) == "" {
		errs = append(errs, errors.New("output directory must not be empty"))
	}

	if c.MaxParallel < 1 {
		errs = append(errs, fmt.Errorf("max parallel must be at least 1, got %d", c.MaxParallel))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry max attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}

	if c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval < c.Retry.InitialInterval {
		errs = append(errs, fmt.Errorf("invalid retry intervals %s..%s", c.Retry.InitialInterval, c.Retry.MaxInterval))
	}

	return errors.Join(errs...)
}

// EnsureOutputDir creates the output directory and checks that files can be
// written into it.
func (c *Config) EnsureOutputDir() error {
	if err := os.MkdirAll(c.OutputDir, 0o755); err != nil {
		return fmt.Errorf("invalid output directory %s: %w", c.OutputDir, err)
	}

	info, err := os.Stat(c.OutputDir)
	if err != nil {
		return fmt.Errorf("invalid output directory %s: %w", c.OutputDir, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("invalid output directory %s: not a directory", c.OutputDir)
	}

	f, err := os.CreateTemp(c.OutputDir, ".write-check-*")
	if err != nil {
		return fmt.Errorf("output directory %s is not writable: %w", c.OutputDir, err)
	}

	name := f.Name()
	f.Close()

	return os.Remove(name)
}

func (c *Config) SlogLevel() slog.Level {
	return logctx.ParseLevel(c.LogLevel)
}

// RetryPolicy builds the retry policy shared by API and media requests.
// Clients install their own retry predicate.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		NewBackOff:  retry.Exponential(c.Retry.InitialInterval, c.Retry.MaxInterval),
	}
}

// ResolveToken picks the token from the command line flag, then from the
// environment.
func ResolveToken(flag, env string) (string, error) {
	if token := strings.TrimSpace(flag); token != "" {
		return token, nil
	}

	if token := strings.TrimSpace(env); token != "" {
		return token, nil
	}

	return "", ErrMissingToken
}
