package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultParallelism is the number of files fetched at once.
const DefaultParallelism = 4

// File is one repository file to fetch.
type File struct {
	// Name is the path inside the repository.
	Name string
	// Optional files that do not exist on the hub are skipped.
	Optional bool
}

// Download fetches files concurrently into one snapshot.
//
// Arguments:
//   - ctx: Cancels all downloads; the first failure cancels the rest.
//   - modelID: The repository id.
//   - revision: The revision; empty means main.
//   - files: The files to fetch.
//
// Returns:
//   - map[string]string: Local path by repository file name. Skipped optional files are absent.
//   - error: The first download error.
func (c *Client) Download(ctx context.Context, modelID, revision string, files []File) (map[string]string, error) {
	if err := ValidateModelID(modelID); err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		paths = make(map[string]string, len(files))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultParallelism)
	for _, f := range files {
		g.Go(func() error {
			path, err := c.DownloadFile(gctx, modelID, revision, f.Name)
			if err != nil {
				if f.Optional && (errors.Is(err, ErrModelNotFound) || errors.Is(err, ErrOffline)) {
					return nil
				}
				return fmt.Errorf("failed to fetch %s: %w", f.Name, err)
			}
			mu.Lock()
			paths[f.Name] = path
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}
