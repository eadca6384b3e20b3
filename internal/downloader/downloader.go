// Package downloader runs a backup: it walks the account, selects a file per
// video, downloads it into the mirror and records the outcome of every video.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/vimeo_downloader/internal/fetch"
	"github.com/italolelis/vimeo_downloader/internal/inventory"
	"github.com/italolelis/vimeo_downloader/internal/logctx"
	"github.com/italolelis/vimeo_downloader/internal/mirror"
	"github.com/italolelis/vimeo_downloader/internal/rendition"
	"github.com/italolelis/vimeo_downloader/internal/telemetry"
	"github.com/italolelis/vimeo_downloader/internal/vimeo"
	"golang.org/x/sync/errgroup"
)

//go:generate mockgen -source=downloader.go -destination=mocks/downloader.go -package=mocks

// ErrAborted wraps the error that stopped a run before every video was seen.
var ErrAborted = errors.New("run aborted")

// Walker enumerates the videos of an account.
type Walker interface {
	Walk(ctx context.Context, fn func(context.Context, inventory.Entry) error) error
}

// VideoGetter fetches a fresh copy of a video, used when its file links are
// missing or expired.
type VideoGetter interface {
	GetVideo(ctx context.Context, uri string) (*vimeo.Video, error)
}

// Fetcher downloads one media file.
type Fetcher interface {
	Fetch(ctx context.Context, task fetch.Task) (fetch.Result, error)
}

type Downloader struct {
	walker      Walker
	videos      VideoGetter
	fetcher     Fetcher
	writer      *mirror.Writer
	telemetry   *telemetry.Telemetry
	overwrite   bool
	maxParallel int
	now         func() time.Time
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithOverwrite downloads every file again from offset 0.
func WithOverwrite(overwrite bool) Option {
	return func(d *Downloader) {
		d.overwrite = overwrite
	}
}

// WithMaxParallel bounds the number of concurrent downloads.
func WithMaxParallel(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.maxParallel = n
		}
	}
}

// WithTelemetry instruments downloads and video outcomes.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(d *Downloader) {
		d.telemetry = t
	}
}

// WithClock overrides the clock used to check link expiry.
func WithClock(now func() time.Time) Option {
	return func(d *Downloader) {
		d.now = now
	}
}

func NewDownloader(walker Walker, videos VideoGetter, fetcher Fetcher, writer *mirror.Writer, opts ...Option) *Downloader {
	d := &Downloader{
		walker:      walker,
		videos:      videos,
		fetcher:     fetcher,
		writer:      writer,
		maxParallel: 1,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// job is a video ready to be fetched.
type job struct {
	entry inventory.Entry
	sel   rendition.Selection
	plan  mirror.Plan
}

// Run processes every video of the account. Per-video failures are recorded
// in the report and do not stop the run; enumeration failures, authentication
// errors and cancellation abort it with an error wrapping ErrAborted. The
// report is returned in both cases.
func (d *Downloader) Run(ctx context.Context) (*Report, error) {
	logger := logctx.LoggerFromContext(ctx)
	report := NewReport(logctx.RunID(ctx), d.now())

	logger.InfoContext(ctx, "starting backup", "output_dir", d.writer.Root(), "overwrite", d.overwrite, "max_parallel", d.maxParallel)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.maxParallel)

	walkErr := d.walker.Walk(gctx, func(ctx context.Context, entry inventory.Entry) error {
		ctx = logctx.With(ctx, "video_id", entry.Video.ID(), "video", entry.Video.Name)

		j, err := d.prepare(ctx, entry, report)
		if err != nil || j == nil {
			return err
		}

		g.Go(func() error {
			return d.process(gctx, j, report)
		})

		return nil
	})

	groupErr := g.Wait()

	var runErr error

	switch {
	case groupErr != nil:
		runErr = groupErr
	case walkErr != nil:
		runErr = walkErr
	case ctx.Err() != nil:
		runErr = ctx.Err()
	}

	if runErr != nil {
		report.Finalize(StateAborted, d.now(), runErr)
		logger.ErrorContext(ctx, "backup aborted", "summary", report.SummaryLine(), "err", runErr)

		return report, fmt.Errorf("%w: %w", ErrAborted, runErr)
	}

	report.Finalize(StateCompleted, d.now(), nil)
	logger.InfoContext(ctx, "backup completed",
		"videos", report.Summary.Total(),
		"downloaded", report.Summary.Downloaded,
		"resumed", report.Summary.Resumed,
		"skipped", report.Summary.Skipped,
		"no_eligible_file", report.Summary.NoEligibleFile,
		"failed", report.Summary.Failed,
		"transferred", humanize.Bytes(uint64(report.Bytes())))

	return report, nil
}

// prepare selects the file of a video and claims its path. It returns a nil
// job when the video reached a terminal state, and an error only when the
// run must stop.
func (d *Downloader) prepare(ctx context.Context, entry inventory.Entry, report *Report) (*job, error) {
	logger := logctx.LoggerFromContext(ctx)

	sel, err := rendition.Select(entry.Video)

	switch {
	case errors.Is(err, rendition.ErrNoEligibleFile):
		logger.DebugContext(ctx, "no eligible file in listing, fetching video")
	case sel.File.Expired(d.now()):
		logger.DebugContext(ctx, "file link expired, fetching video")
	default:
		return d.claim(ctx, entry, sel, report)
	}

	fresh, refreshErr := d.refresh(ctx, entry.Video)
	if refreshErr != nil {
		if fatal(refreshErr) {
			return nil, refreshErr
		}

		status := StatusFailed
		if err != nil {
			status = StatusNoEligibleFile
		}

		d.record(ctx, report, entry, mirror.Plan{}, status, 0, refreshErr)

		return nil, nil
	}

	entry.Video = fresh

	sel, err = rendition.Select(entry.Video)
	if err != nil {
		d.record(ctx, report, entry, mirror.Plan{}, StatusNoEligibleFile, 0, nil)

		return nil, nil
	}

	return d.claim(ctx, entry, sel, report)
}

func (d *Downloader) claim(ctx context.Context, entry inventory.Entry, sel rendition.Selection, report *Report) (*job, error) {
	plan, err := d.writer.Plan(entry, sel)
	if err != nil {
		d.record(ctx, report, entry, mirror.Plan{}, StatusFailed, 0, err)

		return nil, nil
	}

	if plan.Collision != "" {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "path already used by another video, storing under a disambiguated name",
			"path", plan.Collision, "renamed_to", plan.MediaPath)
	}

	return &job{entry: entry, sel: sel, plan: plan}, nil
}

// process downloads a prepared video and writes its sidecar. Only errors
// that must stop the run are returned to the group: cancellation and API
// authentication failures. A media link answering 401 or 403 only fails its
// video.
func (d *Downloader) process(ctx context.Context, j *job, report *Report) error {
	ctx = logctx.With(ctx, "video_id", j.entry.Video.ID(), "video", j.entry.Video.Name)

	var (
		res      fetch.Result
		fatalErr error
	)

	err := d.telemetry.InstrumentDownload(ctx, func(ctx context.Context) error {
		if err := mirror.EnsureDir(j.plan); err != nil {
			return err
		}

		// Links may expire while the video waits for a free slot.
		if j.sel.File.Expired(d.now()) {
			if err := d.reselect(ctx, j); err != nil {
				if fatal(err) {
					fatalErr = err
				}

				return err
			}
		}

		// The sidecar goes first: it records which video owns a media file
		// that a failed download leaves partial.
		if err := mirror.WriteSidecar(j.plan, j.entry.Video, j.sel); err != nil {
			return err
		}

		var err error

		res, err = d.fetcher.Fetch(ctx, fetch.Task{
			URL:       j.sel.File.Link,
			Dest:      j.plan.MediaPath,
			Size:      j.sel.File.Size,
			Overwrite: d.overwrite,
		})

		return err
	})
	if err != nil {
		d.record(ctx, report, j.entry, j.plan, StatusFailed, res.Written, err)

		if fatalErr != nil {
			return fatalErr
		}

		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		return nil
	}

	status := StatusDownloaded

	switch res.Outcome {
	case fetch.Resumed:
		status = StatusResumed
	case fetch.Skipped:
		status = StatusSkipped
	}

	d.record(ctx, report, j.entry, j.plan, status, res.Written, nil)

	return nil
}

func (d *Downloader) reselect(ctx context.Context, j *job) error {
	fresh, err := d.refresh(ctx, j.entry.Video)
	if err != nil {
		return err
	}

	sel, err := rendition.Select(fresh)
	if err != nil {
		return err
	}

	j.entry.Video = fresh
	// The path was claimed with the old selection and stays as planned.
	sel.Ext = j.sel.Ext
	j.sel = sel

	return nil
}

func (d *Downloader) refresh(ctx context.Context, v vimeo.Video) (vimeo.Video, error) {
	fresh, err := d.videos.GetVideo(ctx, v.URI)
	if err != nil {
		return v, fmt.Errorf("failed to refresh video: %w", err)
	}

	if fresh.URI == "" {
		fresh.URI = v.URI
	}

	return *fresh, nil
}

func (d *Downloader) record(ctx context.Context, report *Report, entry inventory.Entry, plan mirror.Plan, status Status, written int64, err error) {
	logger := logctx.LoggerFromContext(ctx)

	item := Item{
		VideoID:   entry.Video.ID(),
		VideoURI:  entry.Video.URI,
		Name:      entry.Video.Name,
		Path:      plan.MediaPath,
		Status:    status,
		Bytes:     written,
		Collision: plan.Collision,
	}

	if err != nil {
		item.Error = err.Error()
	}

	report.Add(item)
	d.telemetry.RecordVideo(ctx, string(status))

	switch status {
	case StatusFailed:
		logger.ErrorContext(ctx, "video failed", "path", plan.MediaPath, "err", err)
	case StatusNoEligibleFile:
		logger.WarnContext(ctx, "no downloadable file for video", "err", err)
	default:
		logger.InfoContext(ctx, "video done", "status", status, "path", plan.MediaPath)
	}
}

// fatal reports whether err must stop the whole run.
func fatal(err error) bool {
	return vimeo.IsAuthError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
