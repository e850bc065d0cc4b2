package server

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/openmined/artifactsync/internal/fingerprint"
)

var (
	ErrNotFound = errors.New("not found")
	ErrIsDir    = errors.New("path is a directory")
)

type storedRecipe struct {
	Type    string
	Payload []byte
	Version int64
}

type treeEntry struct {
	Path        string
	Size        int64
	Fingerprint fingerprint.Fingerprint
}

// ContentStore keeps plugins, project libraries and recipes in memory.
type ContentStore struct {
	mu        sync.RWMutex
	plugins   map[string]map[string][]byte
	libraries map[string]map[string][]byte
	recipes   map[string]map[string]*storedRecipe
}

func NewContentStore() *ContentStore {
	return &ContentStore{
		plugins:   make(map[string]map[string][]byte),
		libraries: make(map[string]map[string][]byte),
		recipes:   make(map[string]map[string]*storedRecipe),
	}
}

func (s *ContentStore) trees(kind string) map[string]map[string][]byte {
	if kind == "plugin" {
		return s.plugins
	}
	return s.libraries
}

// PutPlugin creates an empty plugin, so that it shows up in listings.
func (s *ContentStore) PutPlugin(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plugins[id]; !ok {
		s.plugins[id] = make(map[string][]byte)
	}
}

func (s *ContentStore) Plugins() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.plugins))
}

// List returns the files of a plugin ("plugin") or a project library ("library").
func (s *ContentStore) List(kind, id string) ([]treeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, ok := s.trees(kind)[id]
	if !ok {
		return nil, ErrNotFound
	}
	entries := make([]treeEntry, 0, len(files))
	for _, p := range slices.Sorted(maps.Keys(files)) {
		entries = append(entries, treeEntry{
			Path:        p,
			Size:        int64(len(files[p])),
			Fingerprint: fingerprint.Sum(files[p]),
		})
	}
	return entries, nil
}

func (s *ContentStore) ReadFile(kind, id, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, ok := s.trees(kind)[id]
	if !ok {
		return nil, ErrNotFound
	}
	data, ok := files[path]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(data), nil
}

// WriteFile creates the plugin or library on first write.
func (s *ContentStore) WriteFile(kind, id, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trees := s.trees(kind)
	files, ok := trees[id]
	if !ok {
		files = make(map[string][]byte)
		trees[id] = files
	}
	for existing := range files {
		if strings.HasPrefix(existing, path+"/") {
			return ErrIsDir
		}
	}
	files[path] = slices.Clone(data)
	return nil
}

func (s *ContentStore) DeleteFile(kind, id, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, ok := s.trees(kind)[id]
	if !ok {
		return ErrNotFound
	}
	if _, ok := files[path]; !ok {
		return ErrNotFound
	}
	delete(files, path)
	return nil
}

func (s *ContentStore) Recipes(project string) ([]string, map[string]string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recipes := s.recipes[project]
	types := make(map[string]string, len(recipes))
	for name, r := range recipes {
		types[name] = r.Type
	}
	return slices.Sorted(maps.Keys(recipes)), types
}

func (s *ContentStore) ReadRecipe(project, name string) (storedRecipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.recipes[project][name]
	if !ok {
		return storedRecipe{}, ErrNotFound
	}
	return storedRecipe{Type: r.Type, Payload: slices.Clone(r.Payload), Version: r.Version}, nil
}

// WriteRecipe stores a payload and bumps the recipe version. New recipes
// start at version 1; recipeType only applies to them.
func (s *ContentStore) WriteRecipe(project, name, recipeType string, payload []byte) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	recipes, ok := s.recipes[project]
	if !ok {
		recipes = make(map[string]*storedRecipe)
		s.recipes[project] = recipes
	}
	r, ok := recipes[name]
	if !ok {
		if recipeType == "" {
			recipeType = "python"
		}
		r = &storedRecipe{Type: recipeType}
		recipes[name] = r
	}
	r.Payload = slices.Clone(payload)
	r.Version++
	return r.Version
}

func (s *ContentStore) DeleteRecipe(project, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recipes[project][name]; !ok {
		return ErrNotFound
	}
	delete(s.recipes[project], name)
	return nil
}
