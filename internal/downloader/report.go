package downloader

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Status is the terminal state of one video.
type Status string

const (
	StatusDownloaded     Status = "downloaded"
	StatusResumed        Status = "resumed"
	StatusSkipped        Status = "skipped"
	StatusNoEligibleFile Status = "no_eligible_file"
	StatusFailed         Status = "failed"
)

// State is the terminal state of a run.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// Exit codes of the download command.
const (
	ExitOK      = 0
	ExitAborted = 1
	ExitConfig  = 2
	ExitPartial = 3
)

// Item is the outcome of one video.
type Item struct {
	VideoID   string `json:"video_id"`
	VideoURI  string `json:"video_uri"`
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Status    Status `json:"status"`
	Bytes     int64  `json:"bytes"`
	Collision string `json:"collision,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Summary counts videos per terminal state.
type Summary struct {
	Downloaded     int `json:"downloaded"`
	Resumed        int `json:"resumed"`
	Skipped        int `json:"skipped"`
	NoEligibleFile int `json:"no_eligible_file"`
	Failed         int `json:"failed"`
}

// Total returns the number of videos seen by the run.
func (s Summary) Total() int {
	return s.Downloaded + s.Resumed + s.Skipped + s.NoEligibleFile + s.Failed
}

// Report accumulates the outcome of a run. It is safe for concurrent use.
type Report struct {
	mu sync.Mutex

	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	State      State     `json:"state"`
	Err        string    `json:"error,omitempty"`
	Summary    Summary   `json:"summary"`
	Items      []Item    `json:"items"`
}

// NewReport starts a report for the run runID.
func NewReport(runID string, startedAt time.Time) *Report {
	return &Report{RunID: runID, StartedAt: startedAt.UTC(), State: StateRunning}
}

// Add records the outcome of one video.
func (r *Report) Add(item Item) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Items = append(r.Items, item)

	switch item.Status {
	case StatusDownloaded:
		r.Summary.Downloaded++
	case StatusResumed:
		r.Summary.Resumed++
	case StatusSkipped:
		r.Summary.Skipped++
	case StatusNoEligibleFile:
		r.Summary.NoEligibleFile++
	case StatusFailed:
		r.Summary.Failed++
	}
}

// Finalize sets the terminal state and sorts items by path, then URI, so
// the report does not depend on the completion order of parallel fetches.
func (r *Report) Finalize(state State, finishedAt time.Time, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.State = state
	r.FinishedAt = finishedAt.UTC()

	if err != nil {
		r.Err = err.Error()
	}

	sort.SliceStable(r.Items, func(i, j int) bool {
		if r.Items[i].Path != r.Items[j].Path {
			return r.Items[i].Path < r.Items[j].Path
		}

		return r.Items[i].VideoURI < r.Items[j].VideoURI
	})
}

// Bytes returns the number of bytes transferred during the run.
func (r *Report) Bytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, it := range r.Items {
		n += it.Bytes
	}

	return n
}

// ItemsWith returns the items in the given status.
func (r *Report) ItemsWith(status Status) []Item {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Item

	for _, it := range r.Items {
		if it.Status == status {
			out = append(out, it)
		}
	}

	return out
}

// Collisions returns the items stored under a disambiguated name.
func (r *Report) Collisions() []Item {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Item

	for _, it := range r.Items {
		if it.Collision != "" {
			out = append(out, it)
		}
	}

	return out
}

// ExitCode maps the report to the exit status of the download command.
func (r *Report) ExitCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.State == StateAborted:
		return ExitAborted
	case r.Summary.Failed > 0 || r.Summary.NoEligibleFile > 0:
		return ExitPartial
	default:
		return ExitOK
	}
}

// SummaryLine is a one line description of the run.
func (r *Report) SummaryLine() string {
	bytes := r.Bytes()

	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.Summary

	return fmt.Sprintf("%s: %d downloaded, %d resumed, %d skipped, %d without eligible file, %d failed (%s transferred)",
		r.State, s.Downloaded, s.Resumed, s.Skipped, s.NoEligibleFile, s.Failed, humanize.Bytes(uint64(bytes)))
}

// Print writes the summary followed by every video that needs attention,
// with enough detail to retry it by hand.
func (r *Report) Print(w io.Writer) error {
	pw := &printer{w: w}

	pw.printf("Run %s %s\n", r.RunID, r.SummaryLine())

	if r.Err != "" {
		pw.printf("Error: %s\n", r.Err)
	}

	if items := r.ItemsWith(StatusFailed); len(items) > 0 {
		pw.printf("Failed:\n")

		for _, it := range items {
			pw.printf("  - %s [video %s]: %s\n", it.Name, it.VideoID, it.Error)
		}
	}

	if items := r.ItemsWith(StatusNoEligibleFile); len(items) > 0 {
		pw.printf("No eligible file:\n")

		for _, it := range items {
			if it.Error != "" {
				pw.printf("  - %s [video %s]: %s\n", it.Name, it.VideoID, it.Error)
			} else {
				pw.printf("  - %s [video %s]\n", it.Name, it.VideoID)
			}
		}
	}

	if items := r.Collisions(); len(items) > 0 {
		pw.printf("Renamed after path collision:\n")

		for _, it := range items {
			pw.printf("  - %s [video %s]: %s -> %s\n", it.Name, it.VideoID, it.Collision, it.Path)
		}
	}

	return pw.err
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}

	_, p.err = fmt.Fprintf(p.w, format, args...)
}
