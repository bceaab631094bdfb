package hub

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
)

// Cache layout shared with huggingface_hub: refs/<revision> holds the commit a revision points at
// and snapshots/<commit>/ holds the files. Files are written straight into the snapshot instead of
// linking them from blobs/; huggingface_hub reads either.
const (
	DefaultCacheSubdir = "huggingface/hub"
	CacheRefDir        = "refs"
	CacheSnapshotDir   = "snapshots"
	CacheModelPrefix   = "models--"
	EnvHFHome          = "HF_HOME"
	EnvHFHubCache      = "HF_HUB_CACHE"
)

// ErrInvalidPath is returned for file names or revisions that would leave the repository cache.
var ErrInvalidPath = errors.New("invalid repository path")

// CacheDir returns the cache root: HF_HUB_CACHE, then HF_HOME/hub, then the user cache directory.
func CacheDir() string {
	if dir := os.Getenv(EnvHFHubCache); dir != "" {
		return dir
	}
	if home := os.Getenv(EnvHFHome); home != "" {
		return filepath.Join(home, "hub")
	}

	var base string
	switch {
	case runtime.GOOS != "windows" && os.Getenv("XDG_CACHE_HOME") != "":
		base = os.Getenv("XDG_CACHE_HOME")
	default:
		if home, err := os.UserHomeDir(); err == nil {
			base = filepath.Join(home, ".cache")
		} else {
			base = filepath.Join(os.TempDir(), "huggingface_cache")
		}
	}
	return filepath.Join(base, DefaultCacheSubdir)
}

// ValidatePath checks that name is a relative, slash-separated path that stays inside the
// repository: not empty, not absolute and without ".." segments.
func ValidatePath(name string) error {
	slashed := filepath.ToSlash(name)
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	case path.IsAbs(slashed) || filepath.IsAbs(name) || filepath.VolumeName(name) != "":
		return fmt.Errorf("%w: %q is absolute", ErrInvalidPath, name)
	}
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: %q leaves the repository", ErrInvalidPath, name)
		}
	}
	return nil
}

// RepoDir returns the cache directory of a repository: models--owner--name.
func RepoDir(cacheDir, modelID string) string {
	return filepath.Join(cacheDir, CacheModelPrefix+strings.ReplaceAll(modelID, "/", "--"))
}

// RefPath returns the file recording the commit of a revision.
func RefPath(cacheDir, modelID, revision string) string {
	if revision == "" {
		revision = DefaultRevision
	}
	return filepath.Join(RepoDir(cacheDir, modelID), CacheRefDir, filepath.FromSlash(revision))
}

// ResolveRevision returns the commit recorded in refs/<revision>. Without a ref the revision is
// returned unchanged, which covers commit hashes.
func ResolveRevision(cacheDir, modelID, revision string) string {
	if revision == "" {
		revision = DefaultRevision
	}
	data, err := os.ReadFile(RefPath(cacheDir, modelID, revision))
	if err != nil {
		return revision
	}
	if commit := strings.TrimSpace(string(data)); commit != "" && ValidatePath(commit) == nil {
		return commit
	}
	return revision
}

// SnapshotDir returns the directory holding the files of one revision, following its ref.
func SnapshotDir(cacheDir, modelID, revision string) string {
	return snapshotPath(cacheDir, modelID, ResolveRevision(cacheDir, modelID, revision))
}

func snapshotPath(cacheDir, modelID, commit string) string {
	return filepath.Join(RepoDir(cacheDir, modelID), CacheSnapshotDir, filepath.FromSlash(commit))
}

// CachedFile returns the path of a cached file and whether it exists.
func CachedFile(cacheDir, modelID, revision, filename string) (string, bool) {
	if ValidatePath(filename) != nil {
		return "", false
	}
	file := filepath.Join(SnapshotDir(cacheDir, modelID, revision), filepath.FromSlash(filename))
	if _, err := os.Stat(file); err != nil {
		return "", false
	}
	return file, true
}

// writeRef atomically points refs/<revision> at commit.
func writeRef(cacheDir, modelID, revision, commit string) error {
	ref := RefPath(cacheDir, modelID, revision)
	if err := os.MkdirAll(filepath.Dir(ref), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(ref), ".ref-*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(commit); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), ref)
}
