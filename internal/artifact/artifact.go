// Package artifact names the units that are mirrored between a workspace and a
// content server: code recipes, plugin file trees and project library trees.
package artifact

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

type Kind string

const (
	KindRecipe  Kind = "recipe"
	KindPlugin  Kind = "plugin"
	KindLibrary Kind = "library"
)

var Kinds = []Kind{KindRecipe, KindPlugin, KindLibrary}

var (
	ErrInvalidKey  = errors.New("artifact: invalid key")
	ErrInvalidKind = errors.New("artifact: invalid kind")
)

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "recipe", "recipes":
		return KindRecipe, nil
	case "plugin", "plugins":
		return KindPlugin, nil
	case "library", "libraries", "lib":
		return KindLibrary, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// IsTree reports whether artifacts of this kind hold a variable-depth file tree.
func (k Kind) IsTree() bool {
	return k == KindPlugin || k == KindLibrary
}

// Key identifies one artifact on one instance.
//
//	recipe:PROJECT.name
//	plugin:pluginId
//	library:PROJECT
type Key struct {
	Kind    Kind
	Project string
	Name    string
}

func Recipe(project, name string) Key {
	return Key{Kind: KindRecipe, Project: project, Name: name}
}

func Plugin(id string) Key {
	return Key{Kind: KindPlugin, Name: id}
}

func Library(project string) Key {
	return Key{Kind: KindLibrary, Project: project}
}

// ID is the artifact id stored in metadata records.
func (k Key) ID() string {
	switch k.Kind {
	case KindRecipe:
		return k.Project + "." + k.Name
	case KindPlugin:
		return k.Name
	case KindLibrary:
		return k.Project
	}
	return ""
}

func (k Key) String() string {
	return string(k.Kind) + ":" + k.ID()
}

func (k Key) Validate() error {
	switch k.Kind {
	case KindRecipe:
		if k.Project == "" || k.Name == "" {
			return fmt.Errorf("%w: recipe needs project and name", ErrInvalidKey)
		}
	case KindPlugin:
		if k.Name == "" {
			return fmt.Errorf("%w: plugin needs an id", ErrInvalidKey)
		}
	case KindLibrary:
		if k.Project == "" {
			return fmt.Errorf("%w: library needs a project", ErrInvalidKey)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, k.Kind)
	}
	if strings.ContainsAny(k.Project+k.Name, "/\\") {
		return fmt.Errorf("%w: %s contains a path separator", ErrInvalidKey, k)
	}
	return nil
}

// ParseKey parses the textual form produced by Key.String.
func ParseKey(s string) (Key, error) {
	kindStr, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	kind, err := ParseKind(kindStr)
	if err != nil {
		return Key{}, err
	}
	return FromID(kind, id)
}

// FromID rebuilds a key from a kind and the id stored in metadata.
func FromID(kind Kind, id string) (Key, error) {
	var key Key
	switch kind {
	case KindRecipe:
		project, name, ok := strings.Cut(id, ".")
		if !ok {
			return Key{}, fmt.Errorf("%w: recipe id %q is not PROJECT.name", ErrInvalidKey, id)
		}
		key = Recipe(project, name)
	case KindPlugin:
		key = Plugin(id)
	case KindLibrary:
		key = Library(id)
	default:
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	return key, key.Validate()
}

// Less orders keys by kind, then id.
func Less(a, b Key) bool {
	if a.Kind != b.Kind {
		return kindOrder(a.Kind) < kindOrder(b.Kind)
	}
	return a.ID() < b.ID()
}

func kindOrder(k Kind) int {
	for i, kind := range Kinds {
		if kind == k {
			return i
		}
	}
	return len(Kinds)
}

// FileID is the identifier used in sync summaries: `plugin:my-plugin/python-lib/a.py`.
func FileID(k Key, remotePath string) string {
	if remotePath == "" {
		return k.String()
	}
	return k.String() + "/" + remotePath
}

// CleanRemotePath normalizes a remote relative path and rejects paths escaping the artifact root.
func CleanRemotePath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	cleaned := path.Clean("/" + p)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("%w: empty path", ErrInvalidKey)
	}
	if strings.HasPrefix(p, "../") || strings.Contains(p, "/../") || p == ".." {
		return "", fmt.Errorf("%w: path %q escapes artifact root", ErrInvalidKey, p)
	}
	return cleaned, nil
}
