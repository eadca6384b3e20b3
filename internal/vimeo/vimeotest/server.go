// Package vimeotest provides an in-memory Vimeo API server for tests.
package vimeotest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/italolelis/vimeo_downloader/internal/vimeo"
)

const userURI = "/users/1"

// Folder describes a project folder. ParentID is empty for top level folders.
type Folder struct {
	ID       string
	Name     string
	ParentID string
}

// Video describes a video. Media is served as its single progressive file
// unless Files or Downloads are set; links containing "{media}" are
// rewritten to the media URL of the video.
type Video struct {
	ID        string
	Name      string
	FolderID  string
	Media     []byte
	Files     []vimeo.File
	Downloads []vimeo.File
	Extra     map[string]any
}

// Account is the fixture served by a Server.
type Account struct {
	Name    string
	Folders []Folder
	Videos  []Video
}

// Server is an httptest server speaking enough of the Vimeo API for the
// downloader. It records requests so tests can assert on network usage.
type Server struct {
	*httptest.Server

	// Hook runs before routing; returning true means the request was handled.
	Hook func(w http.ResponseWriter, r *http.Request) bool

	mu           sync.Mutex
	account      Account
	requests     []string
	mediaBytes   int64
	mediaHits    int
	rangeHeaders []string
}

// NewServer starts a server for account. Callers must Close it.
func NewServer(account Account) *Server {
	s := &Server{account: account}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))

	return s
}

// Requests returns the request URIs received so far, media included.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.requests...)
}

// CountRequests returns how many requests had a path starting with prefix.
func (s *Server) CountRequests(prefix string) int {
	n := 0

	for _, r := range s.Requests() {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}

	return n
}

// MediaBytes returns the number of media body bytes written to clients.
func (s *Server) MediaBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mediaBytes
}

// MediaHits returns the number of media requests.
func (s *Server) MediaHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mediaHits
}

// RangeHeaders returns the Range header of every media request ("" if none).
func (s *Server) RangeHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.rangeHeaders...)
}

// MediaURL returns the download link of the video with the given id.
func (s *Server) MediaURL(id string) string {
	return s.URL + "/media/" + id + ".mp4"
}

// SetVideos replaces the videos of the account.
func (s *Server) SetVideos(videos []Video) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.account.Videos = videos
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.URL.RequestURI())
	s.mu.Unlock()

	if s.Hook != nil && s.Hook(w, r) {
		return
	}

	path := r.URL.Path

	switch {
	case path == "/me":
		writeJSON(w, map[string]any{"uri": userURI, "name": s.account.Name})
	case path == "/me/projects":
		s.serveFolders(w, r)
	case path == "/me/videos":
		s.serveVideos(w, r, func(Video) bool { return true })
	case strings.HasPrefix(path, userURI+"/projects/") && strings.HasSuffix(path, "/videos"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, userURI+"/projects/"), "/videos")
		s.serveVideos(w, r, func(v Video) bool { return v.FolderID == id })
	case strings.HasPrefix(path, "/videos/"):
		s.serveVideo(w, strings.TrimPrefix(path, "/videos/"))
	case strings.HasPrefix(path, "/media/"):
		s.serveMedia(w, r, strings.TrimSuffix(strings.TrimPrefix(path, "/media/"), ".mp4"))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveFolders(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	folders := append([]Folder(nil), s.account.Folders...)
	s.mu.Unlock()

	items := make([]any, 0, len(folders))
	for _, f := range folders {
		item := map[string]any{"uri": folderURI(f.ID), "name": f.Name}
		if f.ParentID != "" {
			item["metadata"] = map[string]any{
				"connections": map[string]any{
					"parent_folder": map[string]any{"uri": folderURI(f.ParentID)},
				},
			}
		}

		items = append(items, item)
	}

	writePage(w, r, items)
}

func (s *Server) serveVideos(w http.ResponseWriter, r *http.Request, match func(Video) bool) {
	s.mu.Lock()
	videos := append([]Video(nil), s.account.Videos...)
	s.mu.Unlock()

	items := make([]any, 0, len(videos))
	for _, v := range videos {
		if match(v) {
			items = append(items, s.videoJSON(v))
		}
	}

	writePage(w, r, items)
}

func (s *Server) serveVideo(w http.ResponseWriter, id string) {
	s.mu.Lock()
	videos := append([]Video(nil), s.account.Videos...)
	s.mu.Unlock()

	for _, v := range videos {
		if v.ID == id {
			writeJSON(w, s.videoJSON(v))

			return
		}
	}

	w.WriteHeader(http.StatusNotFound)
	writeJSON(w, map[string]any{"error": "The requested video couldn't be found."})
}

func (s *Server) serveMedia(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()
	s.mediaHits++
	s.rangeHeaders = append(s.rangeHeaders, r.Header.Get("Range"))

	var media []byte

	found := false

	for _, v := range s.account.Videos {
		if v.ID == id {
			media, found = v.Media, true

			break
		}
	}
	s.mu.Unlock()

	if !found {
		http.NotFound(w, r)

		return
	}

	cw := &countingWriter{ResponseWriter: w}
	http.ServeContent(cw, r, id+".mp4", time.Time{}, bytes.NewReader(media))

	s.mu.Lock()
	s.mediaBytes += cw.n
	s.mu.Unlock()
}

func (s *Server) videoJSON(v Video) map[string]any {
	files := v.Files
	if files == nil && v.Downloads == nil {
		files = []vimeo.File{{
			Quality:   "hd",
			Rendition: "1080p",
			Type:      "video/mp4",
			Width:     1920,
			Height:    1080,
			Link:      "{media}",
		}}
	}

	folders := 0
	if v.FolderID != "" {
		folders = 1
	}

	item := map[string]any{
		"uri":      "/videos/" + v.ID,
		"name":     v.Name,
		"duration": 10,
		"privacy":  map[string]any{"view": "nobody"},
		"files":    s.renderFiles(v, files),
		"download": s.renderFiles(v, v.Downloads),
		"metadata": map[string]any{
			"connections": map[string]any{
				"folders": map[string]any{"total": folders},
			},
		},
	}

	for k, val := range v.Extra {
		item[k] = val
	}

	return item
}

func (s *Server) renderFiles(v Video, files []vimeo.File) []vimeo.File {
	out := make([]vimeo.File, 0, len(files))
	for _, f := range files {
		if f.Link == "{media}" {
			f.Link = s.MediaURL(v.ID)
			if f.Size == 0 {
				f.Size = int64(len(v.Media))
			}
		}

		out = append(out, f)
	}

	return out
}

func folderURI(id string) string {
	return userURI + "/projects/" + id
}

func writePage(w http.ResponseWriter, r *http.Request, items []any) {
	q := r.URL.Query()

	perPage, err := strconv.Atoi(q.Get("per_page"))
	if err != nil || perPage <= 0 {
		perPage = 25
	}

	pageNum, err := strconv.Atoi(q.Get("page"))
	if err != nil || pageNum <= 0 {
		pageNum = 1
	}

	start := min((pageNum-1)*perPage, len(items))
	end := min(start+perPage, len(items))

	var next any
	if end < len(items) {
		nq := url.Values{}
		for k, vs := range q {
			nq[k] = vs
		}

		nq.Set("page", strconv.Itoa(pageNum+1))
		next = r.URL.Path + "?" + nq.Encode()
	}

	writeJSON(w, map[string]any{
		"total":    len(items),
		"page":     pageNum,
		"per_page": perPage,
		"paging":   map[string]any{"next": next},
		"data":     items[start:end],
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("encode: %v", err), http.StatusInternalServerError)
	}
}

type countingWriter struct {
	http.ResponseWriter
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.ResponseWriter.Write(b)
	c.n += int64(n)

	return n, err
}

// SortedNames returns the names of videos, sorted, for assertions.
func SortedNames(videos []vimeo.Video) []string {
	names := make([]string, 0, len(videos))
	for _, v := range videos {
		names = append(names, v.Name)
	}

	sort.Strings(names)

	return names
}
