package progress

import (
	"context"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/vimeo_downloader/internal/logctx"
)

// DefaultInterval is the number of bytes between two progress reports.
const DefaultInterval = 64 * 1024 * 1024

// ProgressReader wraps an io.Reader and reports progress via a callback.
// Progress is reported every interval bytes and whenever a quarter of the
// total is crossed. Written counts from Offset so resumed transfers report
// their position in the whole file.
type ProgressReader struct {
	Reader     io.Reader
	Offset     int64
	Total      int64
	OnProgress func(written int64, total int64)

	totalRead      int64 // bytes read through this reader
	lastReport     int64 // bytes since last report
	reportInterval int64 // bytes
}

func NewReader(r io.Reader, offset, total, interval int64, cb func(written int64, total int64)) *ProgressReader {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &ProgressReader{
		Reader:         r,
		Offset:         offset,
		Total:          total,
		OnProgress:     cb,
		reportInterval: interval,
	}
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		before := pr.Offset + pr.totalRead
		pr.totalRead += int64(n)
		pr.lastReport += int64(n)

		if pr.lastReport >= pr.reportInterval || pr.crossedQuarter(before, pr.Offset+pr.totalRead) {
			if pr.OnProgress != nil {
				pr.OnProgress(pr.Offset+pr.totalRead, pr.Total)
			}

			pr.lastReport = 0
		}
	}

	return n, err
}

func (pr *ProgressReader) crossedQuarter(before, after int64) bool {
	if pr.Total <= 0 {
		return false
	}

	return before*4/pr.Total != after*4/pr.Total
}

// LogFunc returns a progress callback that logs at debug level through the
// logger carried by ctx.
func LogFunc(ctx context.Context, target string) func(written, total int64) {
	logger := logctx.LoggerFromContext(ctx)

	return func(written, total int64) {
		if total > 0 {
			logger.DebugContext(ctx, "download progress",
				"target", target,
				"downloaded", humanize.Bytes(uint64(written)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(written)*100/float64(total), 2))

			return
		}

		logger.DebugContext(ctx, "download progress", "target", target, "downloaded", humanize.Bytes(uint64(written)))
	}
}
