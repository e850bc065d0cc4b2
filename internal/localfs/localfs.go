// Package localfs is the local file port of the sync engine. Every path it
// accepts is slash separated and relative to the instance root of a workspace.
package localfs

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openmined/artifactsync/internal/fingerprint"
	"github.com/spf13/afero"
)

const defaultCacheSize = 4096

var ErrInvalidPath = errors.New("localfs: invalid path")

// FileInfo describes one regular file found by ListTree.
type FileInfo struct {
	Path    string // relative to the listed directory
	Size    int64
	ModTime time.Time
}

type cachedFingerprint struct {
	size    int64
	modTime time.Time
	sum     fingerprint.Fingerprint
}

type Option func(*FS)

// WithFs replaces the OS filesystem, e.g. with afero.NewMemMapFs() in tests.
func WithFs(fsys afero.Fs) Option {
	return func(f *FS) {
		f.fs = fsys
	}
}

func WithIgnoreList(ignore *IgnoreList) Option {
	return func(f *FS) {
		f.ignore = ignore
	}
}

func WithCacheSize(n int) Option {
	return func(f *FS) {
		f.cacheSize = n
	}
}

// FS reads and writes the files of one instance root.
type FS struct {
	fs        afero.Fs
	root      string
	ignore    *IgnoreList
	cacheSize int
	cache     *lru.Cache[string, cachedFingerprint]
}

func New(root string, opts ...Option) (*FS, error) {
	f := &FS{
		fs:        afero.NewOsFs(),
		root:      filepath.Clean(root),
		cacheSize: defaultCacheSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.ignore == nil {
		f.ignore = DefaultIgnoreList()
	}

	cache, err := lru.New[string, cachedFingerprint](f.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("fingerprint cache: %w", err)
	}
	f.cache = cache
	return f, nil
}

// Root is the absolute directory every path is relative to.
func (f *FS) Root() string {
	return f.root
}

// Abs maps a relative path to a path on the underlying filesystem.
func (f *FS) Abs(rel string) (string, error) {
	rel = strings.ReplaceAll(rel, "\\", "/")
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q escapes the instance root", ErrInvalidPath, rel)
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+rel), "/")
	return filepath.Join(f.root, filepath.FromSlash(cleaned)), nil
}

func (f *FS) Exists(rel string) (bool, error) {
	abs, err := f.Abs(rel)
	if err != nil {
		return false, err
	}
	info, err := f.fs.Stat(abs)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

func (f *FS) DirExists(rel string) (bool, error) {
	abs, err := f.Abs(rel)
	if err != nil {
		return false, err
	}
	return afero.DirExists(f.fs, abs)
}

func (f *FS) Read(rel string) ([]byte, error) {
	abs, err := f.Abs(rel)
	if err != nil {
		return nil, err
	}
	return afero.ReadFile(f.fs, abs)
}

// Write replaces the file through a temp file and a rename, creating parent
// directories as needed.
func (f *FS) Write(rel string, data []byte) error {
	abs, err := f.Abs(rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := f.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := afero.TempFile(f.fs, dir, "."+filepath.Base(abs)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		f.fs.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		f.fs.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		f.fs.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := f.fs.Rename(tmpPath, abs); err != nil {
		f.fs.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	if info, err := f.fs.Stat(abs); err == nil {
		f.cache.Add(abs, cachedFingerprint{size: info.Size(), modTime: info.ModTime(), sum: fingerprint.Sum(data)})
	} else {
		f.cache.Remove(abs)
	}
	return nil
}

// Delete removes a file. A missing file is not an error.
func (f *FS) Delete(rel string) error {
	abs, err := f.Abs(rel)
	if err != nil {
		return err
	}
	f.cache.Remove(abs)
	if err := f.fs.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (f *FS) MkdirAll(rel string) error {
	abs, err := f.Abs(rel)
	if err != nil {
		return err
	}
	return f.fs.MkdirAll(abs, 0o755)
}

// RemoveEmptyDir removes a directory only when it holds no entries. It reports
// whether the directory was removed.
func (f *FS) RemoveEmptyDir(rel string) (bool, error) {
	abs, err := f.Abs(rel)
	if err != nil {
		return false, err
	}
	if abs == f.root {
		return false, nil
	}
	entries, err := afero.ReadDir(f.fs, abs)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if len(entries) > 0 {
		return false, nil
	}
	if err := f.fs.Remove(abs); err != nil {
		return false, err
	}
	return true, nil
}

// ListTree lists the regular files under dir, minus ignored ones, sorted by path.
// A missing directory lists nothing.
func (f *FS) ListTree(dir string) ([]FileInfo, error) {
	absDir, err := f.Abs(dir)
	if err != nil {
		return nil, err
	}
	if ok, err := afero.DirExists(f.fs, absDir); err != nil {
		return nil, err
	} else if !ok {
		return []FileInfo{}, nil
	}

	files := []FileInfo{}
	err = afero.Walk(f.fs, absDir, func(p string, info fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walk error: %w", walkErr)
		}
		if p == absDir {
			return nil
		}

		rootRel, err := filepath.Rel(f.root, p)
		if err != nil {
			return fmt.Errorf("walk rel path: %w", err)
		}
		rootRel = filepath.ToSlash(rootRel)
		if f.ignore.ShouldIgnore(rootRel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		dirRel, err := filepath.Rel(absDir, p)
		if err != nil {
			return fmt.Errorf("walk rel path: %w", err)
		}
		files = append(files, FileInfo{
			Path:    filepath.ToSlash(dirRel),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Ignored reports whether a path relative to the instance root matches the
// ignore rules. Ignored paths are left alone on both sides.
func (f *FS) Ignored(rel string) bool {
	return f.ignore.ShouldIgnore(rel)
}

// ListDirs lists the directories under dir, relative to dir, deepest first.
func (f *FS) ListDirs(dir string) ([]string, error) {
	absDir, err := f.Abs(dir)
	if err != nil {
		return nil, err
	}
	if ok, err := afero.DirExists(f.fs, absDir); err != nil || !ok {
		return nil, err
	}

	var dirs []string
	err = afero.Walk(f.fs, absDir, func(p string, info fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == absDir || !info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(absDir, p)
		if err != nil {
			return err
		}
		dirs = append(dirs, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list dirs %s: %w", dir, err)
	}
	sortDeepestFirst(dirs)
	return dirs, nil
}

// Glob matches a slash separated pattern against the instance root and
// returns the matching relative paths.
func (f *FS) Glob(pattern string) ([]string, error) {
	matches, err := afero.Glob(f.fs, filepath.Join(f.root, filepath.FromSlash(pattern)))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}

	var out []string
	for _, m := range matches {
		rel, err := filepath.Rel(f.root, m)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		if f.ignore.ShouldIgnore(rel) {
			continue
		}
		out = append(out, rel)
	}
	sort.Strings(out)
	return out, nil
}

// Fingerprint returns the fingerprint of a file, reusing the cached value
// while its size and modification time are unchanged.
func (f *FS) Fingerprint(rel string) (fingerprint.Fingerprint, error) {
	abs, err := f.Abs(rel)
	if err != nil {
		return 0, err
	}
	info, err := f.fs.Stat(abs)
	if err != nil {
		return 0, err
	}

	if cached, ok := f.cache.Get(abs); ok && cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
		return cached.sum, nil
	}

	file, err := f.fs.Open(abs)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	sum, err := fingerprint.SumReader(file)
	if err != nil {
		return 0, fmt.Errorf("fingerprint %s: %w", rel, err)
	}
	f.cache.Add(abs, cachedFingerprint{size: info.Size(), modTime: info.ModTime(), sum: sum})
	slog.Debug("fingerprint", "path", rel, "fingerprint", sum)
	return sum, nil
}

func sortDeepestFirst(dirs []string) {
	sort.SliceStable(dirs, func(i, j int) bool {
		di, dj := strings.Count(dirs[i], "/"), strings.Count(dirs[j], "/")
		if di != dj {
			return di > dj
		}
		return dirs[i] > dirs[j]
	})
}
