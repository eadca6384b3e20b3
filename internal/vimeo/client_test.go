package vimeo_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/italolelis/vimeo_downloader/internal/retry"
	"github.com/italolelis/vimeo_downloader/internal/vimeo"
	"github.com/italolelis/vimeo_downloader/internal/vimeo/vimeotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)

	return ctx.Err()
}

func newTestClient(srv *vimeotest.Server, sleeper *sleepRecorder) *vimeo.Client {
	p := retry.Default(nil)
	p.Sleep = sleeper.Sleep

	return vimeo.NewClient("test-token", vimeo.WithBaseURL(srv.URL), vimeo.WithRetryPolicy(p))
}

func videos(n int, folderID string) []vimeotest.Video {
	out := make([]vimeotest.Video, 0, n)
	for i := range n {
		out = append(out, vimeotest.Video{
			ID:       fmt.Sprintf("%s%d", folderID, i+1),
			Name:     fmt.Sprintf("video %d", i+1),
			FolderID: folderID,
			Media:    []byte("data"),
		})
	}

	return out
}

func TestListVideos_PageBoundaries(t *testing.T) {
	tests := []struct {
		name  string
		count int
		pages int
	}{
		{"empty", 0, 1},
		{"single", 1, 1},
		{"exactly one page", 50, 1},
		{"one over a page", 51, 2},
		{"three pages", 120, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := vimeotest.NewServer(vimeotest.Account{Videos: videos(tt.count, "7")})
			defer srv.Close()

			client := newTestClient(srv, &sleepRecorder{})

			seen := map[string]bool{}
			err := client.ListVideos(context.Background(), func(v vimeo.Video) error {
				assert.False(t, seen[v.URI], "duplicate %s", v.URI)
				seen[v.URI] = true

				return nil
			})

			require.NoError(t, err)
			assert.Len(t, seen, tt.count)
			assert.Equal(t, tt.pages, srv.CountRequests("/me/videos"))
		})
	}
}

func TestListVideos_SendsHeadersAndPageSize(t *testing.T) {
	srv := vimeotest.NewServer(vimeotest.Account{})
	defer srv.Close()

	var auth, accept, perPage string
	srv.Hook = func(w http.ResponseWriter, r *http.Request) bool {
		auth = r.Header.Get("Authorization")
		accept = r.Header.Get("Accept")
		perPage = r.URL.Query().Get("per_page")

		return false
	}

	client := newTestClient(srv, &sleepRecorder{})
	require.NoError(t, client.ListVideos(context.Background(), func(vimeo.Video) error { return nil }))

	assert.Equal(t, "Bearer test-token", auth)
	assert.Contains(t, accept, "version=3.4")
	assert.Equal(t, "50", perPage)
}

func TestListFolders_ParentFolder(t *testing.T) {
	srv := vimeotest.NewServer(vimeotest.Account{
		Folders: []vimeotest.Folder{
			{ID: "1", Name: "Trips"},
			{ID: "2", Name: "2023", ParentID: "1"},
		},
	})
	defer srv.Close()

	client := newTestClient(srv, &sleepRecorder{})

	var folders []vimeo.Folder
	require.NoError(t, client.ListFolders(context.Background(), func(f vimeo.Folder) error {
		folders = append(folders, f)

		return nil
	}))

	require.Len(t, folders, 2)
	assert.Equal(t, "Trips", folders[0].Name)
	assert.Empty(t, folders[0].ParentURI)
	assert.Equal(t, "/users/1/projects/1", folders[1].ParentURI)
	assert.Equal(t, "2", folders[1].ID())
}

func TestListFolderVideos_FollowsAbsoluteNextLinks(t *testing.T) {
	srv := vimeotest.NewServer(vimeotest.Account{})
	defer srv.Close()

	srv.Hook = func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path != "/users/1/projects/5/videos" {
			return false
		}

		w.Header().Set("Content-Type", "application/json")

		if r.URL.Query().Get("page") == "" {
			fmt.Fprintf(w, `{"paging":{"next":%q},"data":[{"uri":"/videos/1","name":"a"}]}`,
				srv.URL+"/users/1/projects/5/videos?page=2")

			return true
		}

		fmt.Fprint(w, `{"paging":{"next":null},"data":[{"uri":"/videos/2","name":"b"}]}`)

		return true
	}

	client := newTestClient(srv, &sleepRecorder{})

	var names []string
	err := client.ListFolderVideos(context.Background(), vimeo.Folder{URI: "/users/1/projects/5"}, func(v vimeo.Video) error {
		names = append(names, v.Name)

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestPaginate_DetectsLoops(t *testing.T) {
	srv := vimeotest.NewServer(vimeotest.Account{})
	defer srv.Close()

	srv.Hook = func(w http.ResponseWriter, r *http.Request) bool {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"paging":{"next":"/me/videos?page=2"},"data":[]}`)

		return true
	}

	client := newTestClient(srv, &sleepRecorder{})
	err := client.ListVideos(context.Background(), func(vimeo.Video) error { return nil })

	require.Error(t, err)
	assert.Contains(t, err.Error(), "paging loop")
}

func TestClient_RetriesRateLimit(t *testing.T) {
	srv := vimeotest.NewServer(vimeotest.Account{Name: "Jane"})
	defer srv.Close()

	var calls atomic.Int32
	srv.Hook = func(w http.ResponseWriter, r *http.Request) bool {
		switch calls.Add(1) {
		case 1:
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)

			return true
		case 2:
			w.WriteHeader(http.StatusBadGateway)

			return true
		}

		return false
	}

	sleeper := &sleepRecorder{}
	client := newTestClient(srv, sleeper)

	me, err := client.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Jane", me.Name)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{3 * time.Second, 2 * time.Second}, sleeper.delays)
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	srv := vimeotest.NewServer(vimeotest.Account{})
	defer srv.Close()

	srv.Hook = func(w http.ResponseWriter, r *http.Request) bool {
		w.WriteHeader(http.StatusServiceUnavailable)

		return true
	}

	client := newTestClient(srv, &sleepRecorder{})
	_, err := client.Me(context.Background())

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, exhausted.Attempts)
	assert.Len(t, srv.Requests(), 5)
}

func TestClient_AuthErrorsAreNotRetried(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv := vimeotest.NewServer(vimeotest.Account{})
			defer srv.Close()

			srv.Hook = func(w http.ResponseWriter, r *http.Request) bool {
				w.WriteHeader(status)

				return true
			}

			client := newTestClient(srv, &sleepRecorder{})
			err := client.ListFolders(context.Background(), func(vimeo.Folder) error { return nil })

			require.Error(t, err)
			assert.True(t, vimeo.IsAuthError(err))
			assert.Len(t, srv.Requests(), 1)
		})
	}
}

func TestClient_NotFoundIsNotRetried(t *testing.T) {
	srv := vimeotest.NewServer(vimeotest.Account{})
	defer srv.Close()

	client := newTestClient(srv, &sleepRecorder{})
	_, err := client.GetVideo(context.Background(), "/videos/404")

	var netErr *vimeo.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusNotFound, netErr.StatusCode)
	assert.Contains(t, netErr.APIMessage, "couldn't be found")
	assert.Len(t, srv.Requests(), 1)
}

func TestClient_CallbackErrorStopsPagination(t *testing.T) {
	srv := vimeotest.NewServer(vimeotest.Account{Videos: videos(60, "1")})
	defer srv.Close()

	client := newTestClient(srv, &sleepRecorder{})

	stop := errors.New("stop")
	err := client.ListVideos(context.Background(), func(vimeo.Video) error { return stop })

	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, srv.CountRequests("/me/videos"))
}

func TestGetVideo_KeepsRawObject(t *testing.T) {
	srv := vimeotest.NewServer(vimeotest.Account{Videos: []vimeotest.Video{{
		ID:    "42",
		Name:  "Beach",
		Media: []byte("abc"),
		Extra: map[string]any{"description": "sunset"},
	}}})
	defer srv.Close()

	client := newTestClient(srv, &sleepRecorder{})

	v, err := client.GetVideo(context.Background(), "/videos/42")
	require.NoError(t, err)

	assert.Equal(t, "42", v.ID())
	assert.Equal(t, "Beach", v.Name)
	assert.Equal(t, 0, v.FolderCount)
	require.Len(t, v.Files, 1)
	assert.Equal(t, vimeo.OriginFiles, v.Files[0].Origin)
	assert.Equal(t, srv.MediaURL("42"), v.Files[0].Link)
	assert.Equal(t, int64(3), v.Files[0].Size)
	assert.True(t, strings.Contains(string(v.Raw), `"description":"sunset"`))
}
