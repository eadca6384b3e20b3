// Package mirror maps folders and videos to local paths and writes the
// metadata sidecar of every video.
package mirror

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/italolelis/vimeo_downloader/internal/inventory"
	"github.com/italolelis/vimeo_downloader/internal/rendition"
	"github.com/italolelis/vimeo_downloader/internal/vimeo"
)

const (
	dirPerm       = 0o755
	sidecarSuffix = ".json"
)

// Plan is where a video goes on disk. Collision holds the path the video
// would have used had it not been taken by another video.
type Plan struct {
	VideoURI    string
	Dir         string
	MediaPath   string
	SidecarPath string
	Collision   string
}

// CollisionError is returned when both the natural and the disambiguated
// path of a video belong to other videos.
type CollisionError struct {
	Path     string
	VideoURI string
	OwnerURI string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("path %s for %s is already used by %s", e.Path, e.VideoURI, e.OwnerURI)
}

// Writer lays out the mirror under a root directory. It remembers which
// video claimed each path during the run; sidecars left by earlier runs tell
// which video owns an existing file.
type Writer struct {
	root string

	mu     sync.Mutex
	claims map[string]string
}

// NewWriter creates a Writer rooted at root.
func NewWriter(root string) *Writer {
	return &Writer{root: filepath.Clean(root), claims: map[string]string{}}
}

// Root returns the output directory.
func (w *Writer) Root() string {
	return w.root
}

// Plan computes and claims the destination of the entry's video:
// <root>/<folders...>/<name><ext>. When that path belongs to another video
// the video id is appended to the name.
func (w *Writer) Plan(entry inventory.Entry, sel rendition.Selection) (Plan, error) {
	dir := w.root
	for _, name := range entry.Folder {
		dir = filepath.Join(dir, SanitizeName(name, "folder"))
	}

	v := entry.Video
	base := SanitizeName(v.Name, "video_"+v.ID())

	ext := sel.Ext
	if ext == "" {
		ext = rendition.Ext(sel.File.Link)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	path := filepath.Join(dir, base+ext)
	plan := Plan{VideoURI: v.URI, Dir: dir}

	if owner := w.owner(path); owner != "" && owner != v.URI {
		plan.Collision = path
		path = filepath.Join(dir, fmt.Sprintf("%s [%s]%s", base, v.ID(), ext))

		if owner := w.owner(path); owner != "" && owner != v.URI {
			return Plan{}, &CollisionError{Path: path, VideoURI: v.URI, OwnerURI: owner}
		}
	}

	w.claims[path] = v.URI
	plan.MediaPath = path
	plan.SidecarPath = path + sidecarSuffix

	return plan, nil
}

// owner returns the URI of the video using path: a claim made in this run,
// else the uri recorded in an existing sidecar. Callers hold w.mu.
func (w *Writer) owner(path string) string {
	if uri, ok := w.claims[path]; ok {
		return uri
	}

	return sidecarOwner(path + sidecarSuffix)
}

func sidecarOwner(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	var sc struct {
		URI string `json:"uri"`
	}

	if err := json.Unmarshal(data, &sc); err != nil {
		return ""
	}

	return sc.URI
}

// EnsureDir creates the directory of plan and its parents.
func EnsureDir(plan Plan) error {
	if err := os.MkdirAll(plan.Dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", plan.Dir, err)
	}

	return nil
}

// SelectionInfo describes the chosen file in a sidecar. Links are left out:
// they expire and are not reusable.
type SelectionInfo struct {
	Kind      rendition.Kind `json:"kind"`
	Origin    vimeo.Origin   `json:"origin"`
	Quality   string         `json:"quality,omitempty"`
	Rendition string         `json:"rendition,omitempty"`
	Width     int            `json:"width,omitempty"`
	Height    int            `json:"height,omitempty"`
	Bitrate   int64          `json:"bitrate,omitempty"`
	Size      int64          `json:"size,omitempty"`
	Type      string         `json:"type,omitempty"`
	Source    bool           `json:"source"`
}

// NewSelectionInfo summarises sel for the sidecar.
func NewSelectionInfo(sel rendition.Selection) SelectionInfo {
	f := sel.File

	return SelectionInfo{
		Kind:      sel.Kind,
		Origin:    f.Origin,
		Quality:   f.Quality,
		Rendition: f.Rendition,
		Width:     f.Width,
		Height:    f.Height,
		Bitrate:   f.Bitrate,
		Size:      f.Size,
		Type:      f.Type,
		Source:    f.IsSource(),
	}
}

// WriteSidecar atomically writes the video object as returned by the API,
// plus a "selection" member, next to the media file.
func WriteSidecar(plan Plan, v vimeo.Video, sel rendition.Selection) error {
	data, err := sidecarJSON(v, sel)
	if err != nil {
		return err
	}

	if err := writeFileAtomic(plan.SidecarPath, data); err != nil {
		return fmt.Errorf("failed to write sidecar %s: %w", plan.SidecarPath, err)
	}

	return nil
}

func sidecarJSON(v vimeo.Video, sel rendition.Selection) ([]byte, error) {
	doc := map[string]any{}

	if len(v.Raw) > 0 {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(v.Raw, &fields); err != nil {
			return nil, fmt.Errorf("failed to decode video %s: %w", v.URI, err)
		}

		for k, raw := range fields {
			doc[k] = raw
		}
	} else {
		doc["uri"] = v.URI
		doc["name"] = v.Name
	}

	doc["selection"] = NewSelectionInfo(sel)

	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")

	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode sidecar for %s: %w", v.URI, err)
	}

	return buf.Bytes(), nil
}
