package vimeo

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Origin tells which list of a video a file descriptor came from.
type Origin string

const (
	// OriginFiles marks entries of the video's "files" list.
	OriginFiles Origin = "files"
	// OriginDownload marks entries of the video's "download" list.
	OriginDownload Origin = "download"
)

// User is the authenticated account.
type User struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// Folder is a Vimeo project folder. ParentURI is empty for top level folders.
type Folder struct {
	URI       string
	Name      string
	ParentURI string
}

// ID returns the numeric identifier at the end of the folder URI.
func (f Folder) ID() string {
	return IDFromURI(f.URI)
}

func (f *Folder) UnmarshalJSON(data []byte) error {
	var raw struct {
		URI      string `json:"uri"`
		Name     string `json:"name"`
		Metadata struct {
			Connections json.RawMessage `json:"connections"`
		} `json:"metadata"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	f.URI = raw.URI
	f.Name = raw.Name
	f.ParentURI = ""

	// connections and parent_folder show up either as objects or as
	// single-element lists depending on the API version.
	conns := firstObject(raw.Metadata.Connections)
	if conns == nil {
		return nil
	}

	var c struct {
		ParentFolder json.RawMessage `json:"parent_folder"`
	}

	if err := json.Unmarshal(conns, &c); err != nil {
		return nil
	}

	parent := firstObject(c.ParentFolder)
	if parent == nil {
		return nil
	}

	var p struct {
		URI string `json:"uri"`
	}

	if err := json.Unmarshal(parent, &p); err == nil {
		f.ParentURI = p.URI
	}

	return nil
}

// File is a media file descriptor: either a progressive file or a download
// link. Links may expire and must not be reused across runs.
type File struct {
	Origin     Origin  `json:"-"`
	Quality    string  `json:"quality"`
	Rendition  string  `json:"rendition"`
	Type       string  `json:"type"`
	PublicName string  `json:"public_name"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	Bitrate    int64   `json:"bitrate"`
	Size       int64   `json:"size"`
	MD5        string  `json:"md5"`
	Link       string  `json:"link"`
	Expires    string  `json:"expires"`
}

// IsSource reports whether the descriptor is the original upload.
func (f File) IsSource() bool {
	for _, v := range []string{f.Type, f.Quality, f.Rendition} {
		switch strings.ToLower(v) {
		case "source", "original":
			return true
		}
	}

	return false
}

// ExpiresAt parses the expiry timestamp of the link.
func (f File) ExpiresAt() (time.Time, bool) {
	if f.Expires == "" {
		return time.Time{}, false
	}

	t, err := time.Parse(time.RFC3339, f.Expires)
	if err != nil {
		return time.Time{}, false
	}

	return t, true
}

// Expired reports whether the link expired at now.
func (f File) Expired(now time.Time) bool {
	at, ok := f.ExpiresAt()

	return ok && !now.Before(at)
}

// Video is a Vimeo video with its file descriptors. Raw keeps the object as
// returned by the API so it can be written to the sidecar verbatim.
type Video struct {
	URI         string
	Name        string
	Files       []File
	Downloads   []File
	FolderCount int
	Raw         json.RawMessage
}

// ID returns the numeric identifier at the end of the video URI.
func (v Video) ID() string {
	return IDFromURI(v.URI)
}

func (v *Video) UnmarshalJSON(data []byte) error {
	var raw struct {
		URI       string `json:"uri"`
		Name      string `json:"name"`
		Files     []File `json:"files"`
		Downloads []File `json:"download"`
		Metadata  struct {
			Connections struct {
				Folders struct {
					Total      int `json:"total"`
					TotalCount int `json:"totalCount"`
				} `json:"folders"`
			} `json:"connections"`
		} `json:"metadata"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	v.URI = raw.URI
	v.Name = raw.Name
	v.Files = tagOrigin(raw.Files, OriginFiles)
	v.Downloads = tagOrigin(raw.Downloads, OriginDownload)
	v.FolderCount = max(raw.Metadata.Connections.Folders.Total, raw.Metadata.Connections.Folders.TotalCount)
	v.Raw = append(json.RawMessage(nil), data...)

	return nil
}

func tagOrigin(files []File, origin Origin) []File {
	for i := range files {
		files[i].Origin = origin
	}

	return files
}

// IDFromURI returns the last path segment of a Vimeo URI such as
// "/videos/123" or "/users/1/projects/9".
func IDFromURI(uri string) string {
	uri = strings.TrimRight(uri, "/")
	if uri == "" {
		return "?"
	}

	return uri[strings.LastIndex(uri, "/")+1:]
}

// firstObject returns data when it is a JSON object, the first element when
// it is a non-empty list, and nil otherwise.
func firstObject(data json.RawMessage) json.RawMessage {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}

	switch data[0] {
	case '{':
		return data
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil || len(items) == 0 {
			return nil
		}

		return firstObject(items[0])
	}

	return nil
}
