package main

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/italolelis/vimeo_downloader/internal/downloader"
	"github.com/italolelis/vimeo_downloader/internal/vimeo"
	"github.com/italolelis/vimeo_downloader/internal/vimeo/vimeotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets the variables read by the configuration for the duration
// of the test.
func clearEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"VIMEO_TOKEN", "VIMEO_API_URL", "OUTPUT_DIR", "OVERWRITE", "MAX_PARALLEL",
		"LOG_LEVEL", "HTTP_TIMEOUT", "DISCORD_WEBHOOK_URL", "METRICS_ADDR",
		"TELEMETRY_ENABLED", "RETRY_MAX_ATTEMPTS", "RETRY_INITIAL_INTERVAL", "RETRY_MAX_INTERVAL",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer

	code := execute(context.Background(), args, &stdout, &stderr)

	return code, stdout.String(), stderr.String()
}

func account() vimeotest.Account {
	return vimeotest.Account{
		Name:    "Jane",
		Folders: []vimeotest.Folder{{ID: "1", Name: "Trips"}},
		Videos: []vimeotest.Video{
			{ID: "10", Name: "Beach", FolderID: "1", Media: []byte("beach-bytes")},
			{ID: "12", Name: "Loose", Media: []byte("loose-bytes")},
		},
	}
}

func TestExecute_MissingToken(t *testing.T) {
	clearEnv(t)

	code, stdout, stderr := run("download", "--out", t.TempDir())

	assert.Equal(t, downloader.ExitConfig, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "missing Vimeo access token")
}

func TestExecute_InvalidParallel(t *testing.T) {
	clearEnv(t)

	code, _, stderr := run("download", "--token", "secret", "--parallel", "0", "--out", t.TempDir())

	assert.Equal(t, downloader.ExitConfig, code)
	assert.Contains(t, stderr, "max parallel")
}

func TestExecute_OutputPathIsAFile(t *testing.T) {
	clearEnv(t)

	srv := vimeotest.NewServer(account())
	defer srv.Close()

	t.Setenv("VIMEO_API_URL", srv.URL)

	out := filepath.Join(t.TempDir(), "backup")
	require.NoError(t, os.WriteFile(out, []byte("x"), 0o644))

	code, stdout, stderr := run("download", "--token", "secret", "--out", out)

	assert.Equal(t, downloader.ExitConfig, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "invalid output directory")
	assert.Empty(t, srv.Requests())
}

func TestExecute_UnknownFlag(t *testing.T) {
	clearEnv(t)

	code, _, stderr := run("download", "--no-such-flag")

	assert.Equal(t, downloader.ExitConfig, code)
	assert.Contains(t, stderr, "no-such-flag")
}

func TestExecute_TokenFromEnvironment(t *testing.T) {
	clearEnv(t)

	srv := vimeotest.NewServer(account())
	defer srv.Close()

	var (
		mu   sync.Mutex
		auth string
	)

	srv.Hook = func(_ http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/me" {
			mu.Lock()
			auth = r.Header.Get("Authorization")
			mu.Unlock()
		}

		return false
	}

	t.Setenv("VIMEO_TOKEN", "from-env")
	t.Setenv("VIMEO_API_URL", srv.URL)

	code, _, _ := run("tree")

	require.Equal(t, downloader.ExitOK, code)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, "Bearer from-env", auth)
}

func TestExecute_Tree(t *testing.T) {
	clearEnv(t)

	srv := vimeotest.NewServer(account())
	defer srv.Close()

	t.Setenv("VIMEO_API_URL", srv.URL)

	code, stdout, _ := run("tree", "--token", "secret")

	require.Equal(t, downloader.ExitOK, code)
	assert.Equal(t, "Vimeo account (Jane)\n"+
		"|-- Trips [folder 1]\n"+
		"|   `-- Beach [video 10]\n"+
		"`-- Videos without folder\n"+
		"    `-- Loose [video 12]\n", stdout)
	assert.Equal(t, 0, srv.MediaHits())
}

func TestExecute_TreeFoldersOnly(t *testing.T) {
	clearEnv(t)

	srv := vimeotest.NewServer(account())
	defer srv.Close()

	t.Setenv("VIMEO_API_URL", srv.URL)

	code, stdout, _ := run("tree", "--token", "secret", "--folders-only")

	require.Equal(t, downloader.ExitOK, code)
	assert.Equal(t, "Vimeo account (Jane)\n`-- Trips [folder 1]\n", stdout)
}

func TestExecute_Download(t *testing.T) {
	clearEnv(t)

	srv := vimeotest.NewServer(account())
	defer srv.Close()

	t.Setenv("VIMEO_API_URL", srv.URL)

	out := t.TempDir()

	code, stdout, stderr := run("download", "--token", "secret", "--out", out, "--parallel", "2")

	require.Equal(t, downloader.ExitOK, code, stderr)
	assert.Contains(t, stdout, "completed: 2 downloaded")

	data, err := os.ReadFile(filepath.Join(out, "Trips", "Beach.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "beach-bytes", string(data))

	assert.FileExists(t, filepath.Join(out, "Trips", "Beach.mp4.json"))
	assert.FileExists(t, filepath.Join(out, "Loose.mp4"))

	// Logs are JSON on stderr and carry the run id.
	assert.Contains(t, stderr, `"run_id"`)
	assert.NotContains(t, stdout, `"level"`)
}

func TestExecute_DownloadWithoutEligibleFile(t *testing.T) {
	clearEnv(t)

	acc := account()
	acc.Videos = append(acc.Videos, vimeotest.Video{ID: "13", Name: "Private", Files: []vimeo.File{}})

	srv := vimeotest.NewServer(acc)
	defer srv.Close()

	t.Setenv("VIMEO_API_URL", srv.URL)
	t.Setenv("OUTPUT_DIR", t.TempDir())

	code, stdout, _ := run("download", "--token", "secret")

	assert.Equal(t, downloader.ExitPartial, code)
	assert.Contains(t, stdout, "1 without eligible file")
	assert.Contains(t, stdout, "Private")
}

func TestExecute_DownloadAuthFailureAborts(t *testing.T) {
	clearEnv(t)

	srv := vimeotest.NewServer(account())
	defer srv.Close()

	srv.Hook = func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/me/projects" {
			w.WriteHeader(http.StatusUnauthorized)

			return true
		}

		return false
	}

	t.Setenv("VIMEO_API_URL", srv.URL)

	code, stdout, stderr := run("download", "--token", "bad", "--out", t.TempDir())

	assert.Equal(t, downloader.ExitAborted, code)
	assert.Contains(t, stdout, "aborted")
	assert.Contains(t, stderr, "run aborted")
	assert.Equal(t, 0, srv.MediaHits())
}
