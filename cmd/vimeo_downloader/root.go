package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/italolelis/vimeo_downloader/internal/config"
	"github.com/italolelis/vimeo_downloader/internal/downloader"
	"github.com/italolelis/vimeo_downloader/internal/logctx"
	"github.com/italolelis/vimeo_downloader/internal/telemetry"
	"github.com/italolelis/vimeo_downloader/internal/vimeo"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

type globalFlags struct {
	logLevel    string
	metricsAddr string
	token       string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "vimeo_downloader",
		Short: "Back up a Vimeo account to local disk",
		Long: `vimeo_downloader - back up a Vimeo account

Mirrors the folder tree of the account under an output directory,
downloads the best file of every video, resuming partial files, and
writes a JSON sidecar with the video metadata next to each file.

The access token needs the public, private and video_files scopes.
Prefer the VIMEO_TOKEN environment variable over --token.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	cmd.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	cmd.PersistentFlags().StringVar(&flags.token, "token", "", "Vimeo personal access token; defaults to VIMEO_TOKEN")

	cmd.Version = version
	cmd.SetVersionTemplate("vimeo_downloader {{.Version}}\n")

	cmd.AddCommand(newDownloadCmd(flags), newTreeCmd(flags))

	return cmd
}

// app holds what every command needs once configuration is resolved.
type app struct {
	cfg       *config.Config
	token     string
	telemetry *telemetry.Telemetry
	client    *vimeo.Client

	metrics *http.Server
}

// setup loads the configuration, builds the logger and the API client and
// returns a context carrying the logger and run id. apply lets a command
// override values from its flags; check runs after validation. Configuration
// problems are returned as exit status 2.
func setup(cmd *cobra.Command, flags *globalFlags, apply func(*config.Config), check func(*config.Config) error) (context.Context, *app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, &exitError{Code: downloader.ExitConfig, Err: err}
	}

	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}

	if flags.metricsAddr != "" {
		cfg.MetricsAddr = flags.metricsAddr
	}

	if apply != nil {
		apply(cfg)
	}

	token, err := config.ResolveToken(flags.token, cfg.Token)
	if err != nil {
		return nil, nil, &exitError{Code: downloader.ExitConfig, Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, &exitError{Code: downloader.ExitConfig, Err: err}
	}

	if check != nil {
		if err := check(cfg); err != nil {
			return nil, nil, &exitError{Code: downloader.ExitConfig, Err: err}
		}
	}

	runID := downloader.NewRunID()

	handler := slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.SlogLevel()})
	logger := slog.New(logctx.NewTraceHandler(handler))

	ctx := logctx.WithRunID(cmd.Context(), runID)
	ctx = logctx.WithLogger(ctx, logger)

	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled || cfg.MetricsAddr != "",
		ServiceName:    "vimeo_downloader",
		ServiceVersion: version,
	})
	if err != nil {
		return nil, nil, &exitError{Code: downloader.ExitConfig, Err: err}
	}

	a := &app{
		cfg:       cfg,
		token:     token,
		telemetry: tel,
		client: vimeo.NewClient(token,
			vimeo.WithBaseURL(cfg.APIURL),
			vimeo.WithRetryPolicy(cfg.RetryPolicy()),
			vimeo.WithTelemetry(tel),
			vimeo.WithTimeout(cfg.HTTPTimeout),
		),
	}

	if cfg.MetricsAddr != "" {
		a.metrics = telemetry.NewMetricsServer(ctx, cfg.MetricsAddr, tel)

		go func() {
			logger.InfoContext(ctx, "serving metrics", "addr", cfg.MetricsAddr)

			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "metrics server failed", "err", err)
			}
		}()
	}

	return ctx, a, nil
}

// close stops the metrics server and flushes telemetry.
func (a *app) close(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			logger.ErrorContext(ctx, "failed to gracefully shutdown the metrics server", "err", err)
		}
	}

	if err := a.telemetry.Shutdown(ctx); err != nil {
		logger.ErrorContext(ctx, "failed to shutdown telemetry", "err", err)
	}
}
