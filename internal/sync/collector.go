package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/openmined/artifactsync/internal/artifact"
	"github.com/openmined/artifactsync/internal/fingerprint"
	"github.com/openmined/artifactsync/internal/metadata"
	"github.com/openmined/artifactsync/internal/remote"
	"golang.org/x/sync/errgroup"
)

// Collector observes the local and remote state of the selected artifacts.
type Collector struct {
	Local   LocalFiles
	Remote  RemoteTransport
	Workers int
}

// Collect observes every artifact of the selection with bounded parallelism.
// Failures are kept per artifact; only cancellation aborts the whole collection.
func (c *Collector) Collect(ctx context.Context, root *metadata.Root, selection Selection) (*Snapshot, error) {
	snapshot := NewSnapshot()
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(clampWorkers(c.Workers))

	for _, key := range selection.Sorted() {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			st := c.collectArtifact(gctx, root, key)
			if st.Err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("collect", "artifact", key, "error", st.Err)
			}
			mu.Lock()
			snapshot.put(st)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}
	return snapshot, nil
}

func (c *Collector) collectArtifact(ctx context.Context, root *metadata.Root, key artifact.Key) *ArtifactState {
	st := newArtifactState(key)
	if err := key.Validate(); err != nil {
		st.Err = err
		return st
	}

	var err error
	if key.Kind == artifact.KindRecipe {
		err = c.collectRecipe(ctx, root, st)
	} else {
		err = c.collectTree(ctx, root, st)
	}
	st.Err = err
	return st
}

func (c *Collector) collectRecipe(ctx context.Context, root *metadata.Root, st *ArtifactState) error {
	key := st.Key

	r, err := c.Remote.ReadRecipe(ctx, key.Project, key.Name)
	switch {
	case remote.IsNotFound(err):
	case err != nil:
		return err
	default:
		version := r.Version
		st.RemoteExists = true
		st.RecipeType = r.Type
		st.Remote[""] = RemoteFile{
			Fingerprint: fingerprint.Sum(r.Payload),
			Size:        int64(len(r.Payload)),
			Version:     &version,
		}
	}

	if ok, err := c.Local.DirExists(key.Dir()); err != nil {
		return localErr("stat", key.Dir(), err)
	} else if ok {
		st.LocalDirs = []string{key.Dir()}
	}

	localPath, err := c.findRecipeFile(root, key, st.RecipeType)
	if err != nil || localPath == "" {
		return err
	}
	sum, err := c.Local.Fingerprint(localPath)
	if err != nil {
		return localErr("fingerprint", localPath, err)
	}
	st.Local[""] = LocalFile{LocalPath: localPath, Fingerprint: sum}
	return nil
}

// findRecipeFile picks the local payload of a recipe. The path recorded at
// the last sync wins, then the extension of the remote type, then any match.
func (c *Collector) findRecipeFile(root *metadata.Root, key artifact.Key, recipeType string) (string, error) {
	matches, err := c.Local.Glob(key.RecipeGlob())
	if err != nil {
		return "", localErr("glob", key.RecipeGlob(), err)
	}
	// a glob on name.* also matches name.x.y
	candidates := matches[:0]
	for _, m := range matches {
		if !strings.Contains(strings.TrimPrefix(path.Base(m), key.Name+"."), ".") {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}

	preferred := []string{}
	if rec, ok := root.Lookup(artifact.KindRecipe, key.ID(), ""); ok && rec.LocalPath != "" {
		preferred = append(preferred, rec.LocalPath)
	}
	if recipeType != "" {
		preferred = append(preferred, key.RecipeFile(recipeType))
	}
	for _, p := range preferred {
		for _, m := range candidates {
			if m == p {
				return m, nil
			}
		}
	}
	if len(candidates) > 1 {
		slog.Warn("collect", "artifact", key, "message", "several local payloads, using the first", "candidates", candidates)
	}
	return candidates[0], nil
}

func (c *Collector) collectTree(ctx context.Context, root *metadata.Root, st *ArtifactState) error {
	key := st.Key

	// records made before a rule was added must not turn into deletions
	for _, rec := range root.Files(key.Kind, key.ID()) {
		if c.Local.Ignored(key.LocalPath(rec.RemotePath)) {
			st.Ignored[rec.RemotePath] = true
		}
	}

	files, err := c.Remote.ListArtifactFiles(ctx, key)
	switch {
	case remote.IsNotFound(err):
	case err != nil:
		return err
	default:
		st.RemoteExists = true
		for _, f := range files {
			remotePath, err := artifact.CleanRemotePath(f.Path)
			if err != nil {
				slog.Warn("collect", "artifact", key, "path", f.Path, "error", err)
				continue
			}
			if c.Local.Ignored(key.LocalPath(remotePath)) {
				st.Ignored[remotePath] = true
				continue
			}
			sum := f.Fingerprint
			if !sum.Valid {
				data, err := c.Remote.ReadFile(ctx, key, remotePath)
				if err != nil {
					return err
				}
				sum = fingerprint.Of(data)
			}
			st.Remote[remotePath] = RemoteFile{Fingerprint: sum.Value, Size: f.Size}
		}
	}

	dir := key.Dir()
	exists, err := c.Local.DirExists(dir)
	if err != nil {
		return localErr("stat", dir, err)
	}
	if !exists {
		return nil
	}

	dirs, err := c.Local.ListDirs(dir)
	if err != nil {
		return localErr("list", dir, err)
	}
	st.LocalDirs = append(st.LocalDirs, dir)
	for _, d := range dirs {
		st.LocalDirs = append(st.LocalDirs, path.Join(dir, d))
	}

	localFiles, err := c.Local.ListTree(dir)
	if err != nil {
		return localErr("list", dir, err)
	}
	for _, f := range localFiles {
		localPath := key.LocalPath(f.Path)
		sum, err := c.Local.Fingerprint(localPath)
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return localErr("fingerprint", localPath, err)
		}
		st.Local[f.Path] = LocalFile{LocalPath: localPath, Fingerprint: sum}
	}
	return nil
}

const (
	DefaultWorkers = 4
	maxWorkers     = 16
)

func clampWorkers(n int) int {
	switch {
	case n <= 0:
		return DefaultWorkers
	case n > maxWorkers:
		return maxWorkers
	}
	return n
}
