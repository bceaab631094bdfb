package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, files map[string]string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.Header.Get("Authorization") {
		case "Bearer bad":
			w.WriteHeader(http.StatusUnauthorized)
			return
		case "Bearer slow-down":
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestCacheDir(t *testing.T) {
	t.Setenv(EnvHFHubCache, "/custom/cache")
	t.Setenv(EnvHFHome, "/hf/home")
	assert.Equal(t, "/custom/cache", CacheDir())

	t.Setenv(EnvHFHubCache, "")
	assert.Equal(t, filepath.Join("/hf/home", "hub"), CacheDir())

	t.Setenv(EnvHFHome, "")
	t.Setenv("XDG_CACHE_HOME", "/xdg")
	assert.Contains(t, CacheDir(), filepath.FromSlash(DefaultCacheSubdir))
}

func TestSnapshotLayout(t *testing.T) {
	assert.Equal(t,
		filepath.Join("/cache", "models--IDEA-Research--grounding-dino-tiny", "snapshots", "main"),
		SnapshotDir("/cache", "IDEA-Research/grounding-dino-tiny", ""),
	)
	assert.Equal(t,
		filepath.Join("/cache", "models--a--b", "snapshots", "v1"),
		SnapshotDir("/cache", "a/b", "v1"),
	)
}

func TestValidateModelID(t *testing.T) {
	for _, id := range []string{"owner/name", "IDEA-Research/grounding-dino-base"} {
		assert.NoError(t, ValidateModelID(id), id)
	}
	for _, id := range []string{"", "name", "/name", "owner/", "a/b/c"} {
		assert.ErrorIs(t, ValidateModelID(id), ErrInvalidModelID, id)
	}
}

func TestDownloadFileCaches(t *testing.T) {
	srv, hits := newTestServer(t, map[string]string{
		"/owner/model/resolve/main/onnx/model.onnx": "graph",
	})
	cache := t.TempDir()
	client := NewClient(WithBaseURL(srv.URL), WithCacheDir(cache), WithToken(""), WithOffline(false))

	path, err := client.DownloadFile(context.Background(), "owner/model", "", "onnx/model.onnx")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(SnapshotDir(cache, "owner/model", "main"), "onnx", "model.onnx"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "graph", string(data))

	again, err := client.DownloadFile(context.Background(), "owner/model", "main", "onnx/model.onnx")
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, int32(1), hits.Load(), "second call is served from the cache")

	cached, ok := CachedFile(cache, "owner/model", "main", "onnx/model.onnx")
	assert.True(t, ok)
	assert.Equal(t, path, cached)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestDownloadFileErrors(t *testing.T) {
	srv, _ := newTestServer(t, map[string]string{})

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"missing file", "", ErrModelNotFound},
		{"bad token", "bad", ErrUnauthorized},
		{"throttled", "slow-down", ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(WithBaseURL(srv.URL), WithCacheDir(t.TempDir()), WithToken(tt.token))
			_, err := client.DownloadFile(context.Background(), "owner/model", "main", "config.json")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	client := NewClient(WithBaseURL(srv.URL), WithCacheDir(t.TempDir()))
	_, err := client.DownloadFile(context.Background(), "not-an-id", "main", "config.json")
	assert.ErrorIs(t, err, ErrInvalidModelID)
}

func TestDownloadFileOffline(t *testing.T) {
	srv, hits := newTestServer(t, map[string]string{"/owner/model/resolve/main/config.json": "{}"})
	t.Setenv(EnvHFHubOffline, "1")

	client := NewClient(WithBaseURL(srv.URL), WithCacheDir(t.TempDir()))
	_, err := client.DownloadFile(context.Background(), "owner/model", "main", "config.json")
	assert.ErrorIs(t, err, ErrOffline)
	assert.Equal(t, int32(0), hits.Load())
}

func TestNewClientFromEnvironment(t *testing.T) {
	t.Setenv(EnvHFEndpoint, "https://mirror.example/")
	t.Setenv(EnvHFHubCache, "/env/cache")
	t.Setenv(EnvHFHubOffline, "")

	client := NewClient()
	assert.Equal(t, "https://mirror.example", client.BaseURL())
	assert.Equal(t, "/env/cache", client.CacheRoot())
}

func TestDownloadParallel(t *testing.T) {
	srv, _ := newTestServer(t, map[string]string{
		"/owner/model/resolve/main/config.json":             "{}",
		"/owner/model/resolve/main/tokenizer.json":          "{}",
		"/owner/model/resolve/main/preprocessor_config.json": "{}",
	})
	client := NewClient(WithBaseURL(srv.URL), WithCacheDir(t.TempDir()))

	paths, err := client.Download(context.Background(), "owner/model", "main", []File{
		{Name: "config.json"},
		{Name: "tokenizer.json"},
		{Name: "preprocessor_config.json"},
		{Name: "tokenizer_config.json", Optional: true},
	})
	require.NoError(t, err)
	assert.Len(t, paths, 3)
	assert.NotContains(t, paths, "tokenizer_config.json")

	_, err = client.Download(context.Background(), "owner/model", "main", []File{{Name: "missing.onnx"}})
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"config.json", true},
		{"onnx/model_fp16.onnx", true},
		{"refs/pr/1", true},
		{"a..b/model.onnx", true},
		{"", false},
		{"  ", false},
		{"/etc/passwd", false},
		{"../model.onnx", false},
		{"onnx/../../x", false},
		{"onnx/..", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.name)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPath)
			}
		})
	}
}

func TestDownloadFileRejectsEscapingPaths(t *testing.T) {
	srv, hits := newTestServer(t, map[string]string{})
	cache := t.TempDir()
	client := NewClient(WithBaseURL(srv.URL), WithCacheDir(cache))

	for _, name := range []string{"../../x", "/abs/model.onnx", ""} {
		_, err := client.DownloadFile(context.Background(), "owner/model", "main", name)
		assert.ErrorIs(t, err, ErrInvalidPath, name)
	}
	_, err := client.DownloadFile(context.Background(), "owner/model", "../main", "config.json")
	assert.ErrorIs(t, err, ErrInvalidPath)
	assert.Equal(t, int32(0), hits.Load())
}

// writeSnapshot fills cache the way huggingface_hub does: refs/<revision> names the commit and
// the files live under snapshots/<commit>.
func writeSnapshot(t *testing.T, cache, modelID, revision, commit string, files map[string]string) {
	t.Helper()
	repo := RepoDir(cache, modelID)
	require.NoError(t, os.MkdirAll(filepath.Join(repo, CacheRefDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, CacheRefDir, revision), []byte(commit), 0o644))
	for name, body := range files {
		path := filepath.Join(repo, CacheSnapshotDir, commit, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
}

func TestOfflineServesCommitSnapshot(t *testing.T) {
	const commit = "4f1c8d2a9e0b7c6d5e4f3a2b1c0d9e8f7a6b5c4d"
	cache := t.TempDir()
	writeSnapshot(t, cache, "IDEA-Research/grounding-dino-tiny", "main", commit, map[string]string{
		"config.json":     "{}",
		"onnx/model.onnx": "graph",
	})

	client := NewClient(WithCacheDir(cache), WithOffline(true))
	path, err := client.DownloadFile(context.Background(), "IDEA-Research/grounding-dino-tiny", "main", "config.json")
	require.NoError(t, err)
	assert.Equal(t,
		filepath.Join(RepoDir(cache, "IDEA-Research/grounding-dino-tiny"), CacheSnapshotDir, commit, "config.json"), path)

	paths, err := client.Download(context.Background(), "IDEA-Research/grounding-dino-tiny", "", []File{
		{Name: "onnx/model.onnx"},
		{Name: "tokenizer.json", Optional: true},
	})
	require.NoError(t, err)
	assert.Len(t, paths, 1)
	assert.Equal(t, commit, filepath.Base(filepath.Dir(filepath.Dir(paths["onnx/model.onnx"]))))

	_, err = client.DownloadFile(context.Background(), "IDEA-Research/grounding-dino-tiny", "main", "tokenizer.json")
	assert.ErrorIs(t, err, ErrOffline)
}

func TestDownloadFileRecordsCommit(t *testing.T) {
	const commit = "0123456789abcdef0123456789abcdef01234567"
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/owner/model/resolve/main/config.json":
			w.Header().Set(HeaderRepoCommit, commit)
			_, _ = w.Write([]byte("{}"))
		case "/owner/model/resolve/main/onnx/model.onnx":
			w.Header().Set(HeaderRepoCommit, commit)
			http.Redirect(w, r, "/cdn/model.onnx", http.StatusFound)
		case "/cdn/model.onnx":
			_, _ = w.Write([]byte("graph"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	cache := t.TempDir()
	client := NewClient(WithBaseURL(srv.URL), WithCacheDir(cache), WithOffline(false))

	path, err := client.DownloadFile(context.Background(), "owner/model", "main", "config.json")
	require.NoError(t, err)
	snapshot := filepath.Join(RepoDir(cache, "owner/model"), CacheSnapshotDir, commit)
	assert.Equal(t, filepath.Join(snapshot, "config.json"), path)

	ref, err := os.ReadFile(RefPath(cache, "owner/model", "main"))
	require.NoError(t, err)
	assert.Equal(t, commit, string(ref))
	assert.Equal(t, commit, ResolveRevision(cache, "owner/model", ""))
	assert.Equal(t, snapshot, SnapshotDir(cache, "owner/model", "main"))

	graph, err := client.DownloadFile(context.Background(), "owner/model", "main", "onnx/model.onnx")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(snapshot, "onnx", "model.onnx"), graph, "commit is taken from the redirect")

	offline := NewClient(WithBaseURL(srv.URL), WithCacheDir(cache), WithOffline(true))
	before := hits.Load()
	again, err := offline.DownloadFile(context.Background(), "owner/model", "main", "onnx/model.onnx")
	require.NoError(t, err)
	assert.Equal(t, graph, again)
	assert.Equal(t, before, hits.Load())
}
