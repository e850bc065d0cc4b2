package sync

import (
	"context"
	"fmt"
	"path"
	"slices"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/artifactsync/internal/artifact"
	"github.com/openmined/artifactsync/internal/metadata"
	"github.com/openmined/artifactsync/internal/remote"
)

// Selection is the flat set of artifacts a session works on.
type Selection struct {
	set mapset.Set[artifact.Key]
}

func NewSelection(keys ...artifact.Key) Selection {
	return Selection{set: mapset.NewThreadUnsafeSet(keys...)}
}

func (s Selection) Add(keys ...artifact.Key) {
	s.set.Append(keys...)
}

func (s Selection) Contains(key artifact.Key) bool {
	return s.set != nil && s.set.Contains(key)
}

func (s Selection) Len() int {
	if s.set == nil {
		return 0
	}
	return s.set.Cardinality()
}

// Sorted returns the keys ordered by kind, then id.
func (s Selection) Sorted() []artifact.Key {
	if s.set == nil {
		return nil
	}
	keys := s.set.ToSlice()
	sort.Slice(keys, func(i, j int) bool { return artifact.Less(keys[i], keys[j]) })
	return keys
}

// Pattern selects artifacts of one kind by id, e.g. `plugin:*`,
// `recipe:PROJ.*` or `library:PROJ`. Ids are matched with doublestar syntax.
type Pattern struct {
	Kind artifact.Kind
	ID   string
}

func ParsePattern(s string) (Pattern, error) {
	kindStr, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || id == "" {
		return Pattern{}, fmt.Errorf("%w: pattern %q is not kind:id", artifact.ErrInvalidKey, s)
	}
	kind, err := artifact.ParseKind(kindStr)
	if err != nil {
		return Pattern{}, err
	}
	if !doublestar.ValidatePattern(id) {
		return Pattern{}, fmt.Errorf("%w: bad pattern %q", artifact.ErrInvalidKey, s)
	}
	return Pattern{Kind: kind, ID: id}, nil
}

func (p Pattern) isLiteral() bool {
	return !strings.ContainsAny(p.ID, "*?[{\\")
}

func (p Pattern) String() string {
	return string(p.Kind) + ":" + p.ID
}

// SelectionSource lists the artifacts known to the content server.
type SelectionSource interface {
	ListPlugins(ctx context.Context) ([]string, error)
	ListRecipes(ctx context.Context, project string) ([]remote.RecipeInfo, error)
}

// ExpandSelection resolves patterns against the server listings, the
// artifacts recorded in root and the artifacts present in the workspace.
// A literal pattern selects its artifact even if nothing knows about it yet.
func ExpandSelection(ctx context.Context, patterns []string, src SelectionSource, root *metadata.Root, local LocalFiles) (Selection, error) {
	selection := NewSelection()
	for _, raw := range patterns {
		p, err := ParsePattern(raw)
		if err != nil {
			return selection, err
		}

		if p.isLiteral() {
			key, err := artifact.FromID(p.Kind, p.ID)
			if err != nil {
				return selection, err
			}
			selection.Add(key)
			continue
		}

		candidates, err := candidateIDs(ctx, p, src, root, local)
		if err != nil {
			return selection, fmt.Errorf("expand %s: %w", p, err)
		}
		for id := range candidates.Iter() {
			if ok, _ := doublestar.Match(p.ID, id); !ok {
				continue
			}
			key, err := artifact.FromID(p.Kind, id)
			if err != nil {
				continue
			}
			selection.Add(key)
		}
	}
	return selection, nil
}

func candidateIDs(ctx context.Context, p Pattern, src SelectionSource, root *metadata.Root, local LocalFiles) (mapset.Set[string], error) {
	ids := mapset.NewThreadUnsafeSet[string]()

	for _, key := range root.Artifacts() {
		if key.Kind == p.Kind {
			ids.Add(key.ID())
		}
	}

	switch p.Kind {
	case artifact.KindPlugin:
		if src != nil {
			plugins, err := src.ListPlugins(ctx)
			if err != nil {
				return nil, err
			}
			ids.Append(plugins...)
		}
		names, err := localNames(local, artifact.KindPlugin.Dir())
		if err != nil {
			return nil, err
		}
		ids.Append(names...)

	case artifact.KindLibrary:
		names, err := localNames(local, artifact.KindLibrary.Dir())
		if err != nil {
			return nil, err
		}
		ids.Append(names...)

	case artifact.KindRecipe:
		project, _, _ := strings.Cut(p.ID, ".")
		var projects []string
		if (Pattern{ID: project}).isLiteral() {
			projects = []string{project}
			if src != nil {
				recipes, err := src.ListRecipes(ctx, project)
				if err != nil && !remote.IsNotFound(err) {
					return nil, err
				}
				for _, r := range recipes {
					ids.Add(project + "." + r.Name)
				}
			}
		} else {
			var err error
			projects, err = localNames(local, artifact.KindRecipe.Dir())
			if err != nil {
				return nil, err
			}
			for _, key := range root.Artifacts() {
				if key.Kind == artifact.KindRecipe && !slices.Contains(projects, key.Project) {
					projects = append(projects, key.Project)
				}
			}
		}
		for _, proj := range projects {
			files, err := localNames(local, path.Join(artifact.KindRecipe.Dir(), proj))
			if err != nil {
				return nil, err
			}
			for _, f := range files {
				ids.Add(proj + "." + strings.TrimSuffix(f, path.Ext(f)))
			}
		}
	}
	return ids, nil
}

// localNames lists the base names of the entries directly under dir.
func localNames(local LocalFiles, dir string) ([]string, error) {
	if local == nil {
		return nil, nil
	}
	matches, err := local.Glob(path.Join(dir, "*"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, path.Base(m))
	}
	return names, nil
}
