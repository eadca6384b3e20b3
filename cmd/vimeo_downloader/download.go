package main

import (
	"context"

	"github.com/italolelis/vimeo_downloader/internal/config"
	"github.com/italolelis/vimeo_downloader/internal/downloader"
	"github.com/italolelis/vimeo_downloader/internal/fetch"
	"github.com/italolelis/vimeo_downloader/internal/inventory"
	"github.com/italolelis/vimeo_downloader/internal/logctx"
	"github.com/italolelis/vimeo_downloader/internal/mirror"
	"github.com/italolelis/vimeo_downloader/internal/notifier"
	"github.com/spf13/cobra"
)

type downloadFlags struct {
	out       string
	overwrite bool
	parallel  int
}

func newDownloadCmd(global *globalFlags) *cobra.Command {
	flags := &downloadFlags{}

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download every video of the account",
		Long: `Download every video of the account into the output directory.

Folders become directories. Files already complete on disk are skipped,
partial files are resumed. The exit status is 0 when every video was
backed up, 3 when some videos failed or had no downloadable file, 1 when
the run was aborted and 2 on configuration errors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDownload(cmd, global, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.out, "out", "o", "", "Output directory (default ./vimeo_backup, or OUTPUT_DIR)")
	cmd.Flags().BoolVar(&flags.overwrite, "overwrite", false, "Download every file again, ignoring local copies")
	cmd.Flags().IntVarP(&flags.parallel, "parallel", "p", 0, "Maximum concurrent downloads (default 1, or MAX_PARALLEL)")

	return cmd
}

func runDownload(cmd *cobra.Command, global *globalFlags, flags *downloadFlags) error {
	ctx, a, err := setup(cmd, global, func(cfg *config.Config) {
		if flags.out != "" {
			cfg.OutputDir = flags.out
		}

		if cmd.Flags().Changed("overwrite") {
			cfg.Overwrite = flags.overwrite
		}

		if cmd.Flags().Changed("parallel") {
			cfg.MaxParallel = flags.parallel
		}
	}, (*config.Config).EnsureOutputDir)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	logger := logctx.LoggerFromContext(ctx)

	fetcher := fetch.New(
		fetch.WithRetryPolicy(a.cfg.RetryPolicy()),
		fetch.WithTelemetry(a.telemetry),
	)

	d := downloader.NewDownloader(
		inventory.NewEnumerator(a.client),
		a.client,
		fetcher,
		mirror.NewWriter(a.cfg.OutputDir),
		downloader.WithOverwrite(a.cfg.Overwrite),
		downloader.WithMaxParallel(a.cfg.MaxParallel),
		downloader.WithTelemetry(a.telemetry),
	)

	report, runErr := d.Run(ctx)

	if err := report.Print(cmd.OutOrStdout()); err != nil {
		logger.ErrorContext(ctx, "failed to print report", "err", err)
	}

	if a.cfg.DiscordWebhookURL != "" {
		var n notifier.Notifier = notifier.NewDiscordNotifier(a.cfg.DiscordWebhookURL)
		// The run context may already be cancelled.
		if err := n.Notify(context.WithoutCancel(ctx), report.SummaryLine()); err != nil {
			logger.WarnContext(ctx, "failed to send notification", "err", err)
		}
	}

	if runErr != nil {
		return &exitError{Code: downloader.ExitAborted, Err: runErr}
	}

	if code := report.ExitCode(); code != downloader.ExitOK {
		return &exitError{Code: code}
	}

	return nil
}
