// Package fetch downloads media files to disk, resuming partial files with
// HTTP range requests.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/vimeo_downloader/internal/downloader/progress"
	"github.com/italolelis/vimeo_downloader/internal/lock"
	"github.com/italolelis/vimeo_downloader/internal/logctx"
	"github.com/italolelis/vimeo_downloader/internal/retry"
	"github.com/italolelis/vimeo_downloader/internal/telemetry"
	"github.com/italolelis/vimeo_downloader/internal/vimeo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	operation        = "fetch_media"
	defaultChunkSize = 1 << 20
	filePerm         = 0o644
)

// Outcome is what a fetch did to the destination file.
type Outcome string

const (
	Downloaded Outcome = "downloaded"
	Resumed    Outcome = "resumed"
	Skipped    Outcome = "skipped"
)

// Task describes one media download. Size is the expected length in bytes,
// 0 when unknown. The resume offset is never stored: it is the size of Dest.
type Task struct {
	URL       string
	Dest      string
	Size      int64
	Overwrite bool
}

// Result reports what Fetch did. Offset is the position the transfer resumed
// from, 0 for a full download; Written counts bytes received over all
// attempts.
type Result struct {
	Outcome Outcome
	Written int64
	Offset  int64
}

// Fetcher downloads tasks with retries, holding a per-path lock for the whole
// transfer.
type Fetcher struct {
	httpClient       *http.Client
	policy           retry.Policy
	locker           lock.Locker
	telemetry        *telemetry.Telemetry
	chunkSize        int
	progressInterval int64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets the client used for media requests. Media links are
// signed, so the client must not add API credentials.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.httpClient = c
	}
}

// WithRetryPolicy overrides the retry policy. The predicate is always
// vimeo.Retryable.
func WithRetryPolicy(p retry.Policy) Option {
	return func(f *Fetcher) {
		f.policy = p
	}
}

// WithLocker shares a path locker with other writers.
func WithLocker(l lock.Locker) Option {
	return func(f *Fetcher) {
		f.locker = l
	}
}

// WithTelemetry records retries and transferred bytes.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(f *Fetcher) {
		f.telemetry = t
	}
}

// WithChunkSize sets the size of the copy buffer.
func WithChunkSize(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.chunkSize = n
		}
	}
}

// WithProgressInterval sets the number of bytes between progress logs.
func WithProgressInterval(n int64) Option {
	return func(f *Fetcher) {
		f.progressInterval = n
	}
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		httpClient:       &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		policy:           retry.Default(vimeo.Retryable),
		locker:           lock.NewLocker(),
		chunkSize:        defaultChunkSize,
		progressInterval: progress.DefaultInterval,
	}

	for _, opt := range opts {
		opt(f)
	}

	f.policy.Retryable = vimeo.Retryable

	return f
}

// Fetch downloads task.URL into task.Dest. A complete file is skipped
// without any request unless task.Overwrite is set; a shorter file is
// resumed from its current size.
func (f *Fetcher) Fetch(ctx context.Context, task Task) (Result, error) {
	logger := logctx.LoggerFromContext(ctx).With("dest", task.Dest)

	unlock, err := f.locker.ContextLock(ctx, task.Dest)
	if err != nil {
		return Result{}, err
	}
	defer unlock.Unlock()

	restart := task.Overwrite

	if !task.Overwrite {
		local, err := localSize(task.Dest)
		if err != nil {
			return Result{}, err
		}

		switch {
		case local > 0 && (task.Size == 0 || local == task.Size):
			logger.InfoContext(ctx, "file already complete, skipping", "size", humanize.Bytes(uint64(local)))

			return Result{Outcome: Skipped, Offset: local}, nil
		case task.Size > 0 && local > task.Size:
			logger.InfoContext(ctx, "local file larger than remote, downloading again",
				"local_size", local, "remote_size", task.Size)

			restart = true
		}
	}

	if restart {
		if err := truncate(task.Dest); err != nil {
			return Result{}, err
		}
	}

	var (
		result  Result
		started bool
	)

	p := f.policy
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		reason := "transient"
		if _, ok := retry.After(err); ok {
			reason = "rate_limited"
		}

		f.telemetry.RecordRetry(ctx, operation, reason)
		logger.WarnContext(ctx, "retrying media download", "attempt", attempt, "delay", delay.String(), "err", err)
	}

	err = retry.Do(ctx, p, func(ctx context.Context) error {
		// Attempts resume from whatever earlier attempts wrote.
		offset, err := localSize(task.Dest)
		if err != nil {
			return err
		}

		start, written, err := f.attempt(ctx, task, offset)
		result.Written += written

		if !started && (written > 0 || err == nil) {
			started = true
			result.Offset = start
		}

		return err
	})
	if err != nil {
		return result, fmt.Errorf("failed to download %s: %w", task.Dest, err)
	}

	result.Outcome = Downloaded
	if result.Offset > 0 {
		result.Outcome = Resumed
	}

	if final, err := localSize(task.Dest); err == nil && task.Size > 0 && final != task.Size {
		logger.WarnContext(ctx, "downloaded size differs from listed size", "size", final, "listed_size", task.Size)
	}

	logger.InfoContext(ctx, "download finished",
		"outcome", result.Outcome,
		"offset", result.Offset,
		"written", humanize.Bytes(uint64(result.Written)))

	return result, nil
}

// attempt performs one request starting at offset and appends the body to
// the destination. It returns the offset the body was written at.
func (f *Fetcher) attempt(ctx context.Context, task Task, offset int64) (int64, int64, error) {
	resp, err := f.get(ctx, task.URL, offset)
	if err != nil {
		return offset, 0, err
	}

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0 {
		resp.Body.Close()

		logctx.LoggerFromContext(ctx).InfoContext(ctx, "range not satisfiable, downloading again", "dest", task.Dest, "offset", offset)

		offset = 0

		resp, err = f.get(ctx, task.URL, 0)
		if err != nil {
			return 0, 0, err
		}
	}
	defer resp.Body.Close()

	if err := vimeo.CheckResponse(resp, operation, http.StatusOK, http.StatusPartialContent); err != nil {
		return offset, 0, err
	}

	flags := os.O_WRONLY | os.O_CREATE

	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, ok := contentRangeStart(resp.Header.Get("Content-Range"))
		if !ok || start != offset {
			return offset, 0, &vimeo.NetworkError{
				Operation:  operation,
				StatusCode: resp.StatusCode,
				APIMessage: fmt.Sprintf("unexpected content range %q for offset %d", resp.Header.Get("Content-Range"), offset),
			}
		}

		flags |= os.O_APPEND
	default:
		// The server ignored the range: the body is the whole file.
		offset = 0
		flags |= os.O_TRUNC
	}

	out, err := os.OpenFile(task.Dest, flags, filePerm)
	if err != nil {
		return offset, 0, fmt.Errorf("failed to open target file: %w", err)
	}
	defer out.Close()

	total := task.Size
	if resp.ContentLength > 0 {
		total = offset + resp.ContentLength
	}

	pr := progress.NewReader(resp.Body, offset, total, f.progressInterval, progress.LogFunc(ctx, task.Dest))

	written, err := f.copy(ctx, out, pr)
	f.telemetry.RecordBytes(ctx, written)

	if err != nil {
		return offset, written, err
	}

	if err := out.Sync(); err != nil {
		return offset, written, fmt.Errorf("failed to sync target file: %w", err)
	}

	return offset, written, nil
}

func (f *Fetcher) get(ctx context.Context, url string, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		return nil, &vimeo.NetworkError{Operation: operation, APIMessage: err.Error(), Err: err}
	}

	return resp, nil
}

// copy streams r into w chunk by chunk, checking ctx between chunks. Read
// failures are retryable network errors; write failures are not.
func (f *Fetcher) copy(ctx context.Context, w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, f.chunkSize)

	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, rerr := r.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			written += int64(wn)

			if werr != nil {
				return written, fmt.Errorf("failed to write target file: %w", werr)
			}
		}

		if errors.Is(rerr, io.EOF) {
			return written, nil
		}

		if rerr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return written, ctxErr
			}

			return written, &vimeo.NetworkError{Operation: operation, APIMessage: rerr.Error(), Err: rerr}
		}
	}
}

func localSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if info.IsDir() {
		return 0, fmt.Errorf("target %s is a directory", path)
	}

	return info.Size(), nil
}

// truncate empties path so a forced download starts from offset 0 even when
// the first attempt fails before any body arrives.
func truncate(path string) error {
	if err := os.Truncate(path, 0); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to truncate target file: %w", err)
	}

	return nil
}

// contentRangeStart parses the first byte position of a
// "bytes start-end/size" header.
func contentRangeStart(header string) (int64, bool) {
	rng, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return 0, false
	}

	first, _, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, false
	}

	start, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil {
		return 0, false
	}

	return start, true
}
