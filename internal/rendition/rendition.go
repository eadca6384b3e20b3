// Package rendition picks the file to download for a video.
package rendition

import (
	"errors"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/italolelis/vimeo_downloader/internal/vimeo"
)

const defaultExt = ".mp4"

// ErrNoEligibleFile is returned when a video has no file descriptor with a
// usable link.
var ErrNoEligibleFile = errors.New("no eligible file")

var knownExts = map[string]bool{
	".mp4": true, ".mov": true, ".m4v": true, ".mpg": true,
	".mpeg": true, ".avi": true, ".wmv": true, ".mkv": true,
}

// Kind tells whether a selection is a progressive stream or a direct
// download link.
type Kind string

const (
	KindProgressive Kind = "progressive"
	KindDownload    Kind = "download"
)

// Selection is the chosen file of a video and the extension of the local
// media file.
type Selection struct {
	Kind Kind
	File vimeo.File
	Ext  string
}

// Select returns the best file of v. Progressive mp4 files win over any
// direct download; within a group files are ranked by height, then bitrate,
// then source uploads first, then size, then link, so the same descriptors
// always produce the same selection.
func Select(v vimeo.Video) (Selection, error) {
	var progressive, direct []vimeo.File

	for _, f := range v.Files {
		if f.Link == "" {
			continue
		}

		if f.Type == "video/mp4" {
			progressive = append(progressive, f)
		} else {
			direct = append(direct, f)
		}
	}

	for _, f := range v.Downloads {
		if f.Link != "" {
			direct = append(direct, f)
		}
	}

	if len(progressive) > 0 {
		best := rank(progressive)

		return Selection{Kind: KindProgressive, File: best, Ext: Ext(best.Link)}, nil
	}

	if len(direct) > 0 {
		best := rank(direct)

		return Selection{Kind: KindDownload, File: best, Ext: Ext(best.Link)}, nil
	}

	return Selection{}, ErrNoEligibleFile
}

func rank(files []vimeo.File) vimeo.File {
	sort.SliceStable(files, func(i, j int) bool {
		return better(files[i], files[j])
	})

	return files[0]
}

// better reports whether a ranks strictly before b.
func better(a, b vimeo.File) bool {
	if a.Height != b.Height {
		return a.Height > b.Height
	}

	if a.Bitrate != b.Bitrate {
		return a.Bitrate > b.Bitrate
	}

	if as, bs := a.IsSource(), b.IsSource(); as != bs {
		return as
	}

	if a.Size != b.Size {
		return a.Size > b.Size
	}

	return a.Link < b.Link
}

// Ext infers the media extension from the path of link, defaulting to .mp4
// for unknown or missing extensions.
func Ext(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return defaultExt
	}

	ext := strings.ToLower(path.Ext(u.Path))
	if !knownExts[ext] {
		return defaultExt
	}

	return ext
}
