package metadata

import (
	"slices"
	"sort"
	"strings"

	"github.com/openmined/artifactsync/internal/artifact"
)

func (r *Root) group(kind artifact.Kind) *[]ArtifactRecord {
	switch kind {
	case artifact.KindPlugin:
		return &r.Plugins
	case artifact.KindLibrary:
		return &r.Libraries
	}
	return nil
}

// UpsertFile replaces the record with the same artifact id and remote path, or
// adds it. Tree artifacts are created on first use and kept sorted.
func (r *Root) UpsertFile(kind artifact.Kind, rec FileRecord) {
	if kind == artifact.KindRecipe {
		for i := range r.Recipes {
			if r.Recipes[i].ArtifactID == rec.ArtifactID && r.Recipes[i].RemotePath == rec.RemotePath {
				r.Recipes[i] = rec
				return
			}
		}
		r.Recipes = append(r.Recipes, rec)
		sort.SliceStable(r.Recipes, func(i, j int) bool {
			return r.Recipes[i].ArtifactID < r.Recipes[j].ArtifactID
		})
		return
	}

	group := r.group(kind)
	if group == nil {
		return
	}
	idx := slices.IndexFunc(*group, func(a ArtifactRecord) bool { return a.ArtifactID == rec.ArtifactID })
	if idx < 0 {
		*group = append(*group, ArtifactRecord{
			InstanceID: rec.InstanceID,
			Kind:       kind,
			ArtifactID: rec.ArtifactID,
			Files:      []FileRecord{},
		})
		sort.SliceStable(*group, func(i, j int) bool {
			return (*group)[i].ArtifactID < (*group)[j].ArtifactID
		})
		idx = slices.IndexFunc(*group, func(a ArtifactRecord) bool { return a.ArtifactID == rec.ArtifactID })
	}

	art := &(*group)[idx]
	pos, found := slices.BinarySearchFunc(art.Files, rec.RemotePath, func(f FileRecord, p string) int {
		return strings.Compare(f.RemotePath, p)
	})
	if found {
		art.Files[pos] = rec
		return
	}
	art.Files = slices.Insert(art.Files, pos, rec)
}

// RemoveFile drops a record. Tree artifacts left without files are dropped too.
func (r *Root) RemoveFile(kind artifact.Kind, artifactID, remotePath string) bool {
	if kind == artifact.KindRecipe {
		before := len(r.Recipes)
		r.Recipes = slices.DeleteFunc(r.Recipes, func(f FileRecord) bool {
			return f.ArtifactID == artifactID && f.RemotePath == remotePath
		})
		return len(r.Recipes) != before
	}

	group := r.group(kind)
	if group == nil {
		return false
	}
	idx := slices.IndexFunc(*group, func(a ArtifactRecord) bool { return a.ArtifactID == artifactID })
	if idx < 0 {
		return false
	}
	art := &(*group)[idx]
	before := len(art.Files)
	art.Files = slices.DeleteFunc(art.Files, func(f FileRecord) bool { return f.RemotePath == remotePath })
	removed := len(art.Files) != before
	if len(art.Files) == 0 {
		*group = slices.Delete(*group, idx, idx+1)
	}
	return removed
}

// Lookup returns the record for one file.
func (r *Root) Lookup(kind artifact.Kind, artifactID, remotePath string) (FileRecord, bool) {
	for _, f := range r.Files(kind, artifactID) {
		if f.RemotePath == remotePath {
			return f, true
		}
	}
	return FileRecord{}, false
}

// Files returns the records of one artifact.
func (r *Root) Files(kind artifact.Kind, artifactID string) []FileRecord {
	if kind == artifact.KindRecipe {
		var files []FileRecord
		for _, f := range r.Recipes {
			if f.ArtifactID == artifactID {
				files = append(files, f)
			}
		}
		return files
	}
	group := r.group(kind)
	if group == nil {
		return nil
	}
	for _, a := range *group {
		if a.ArtifactID == artifactID {
			return a.Files
		}
	}
	return nil
}

// Artifacts lists the keys of every artifact with at least one record.
func (r *Root) Artifacts() []artifact.Key {
	seen := make(map[artifact.Key]struct{})
	var keys []artifact.Key
	r.each(func(kind artifact.Kind, rec FileRecord) {
		key, err := artifact.FromID(kind, rec.ArtifactID)
		if err != nil {
			return
		}
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	})
	sort.Slice(keys, func(i, j int) bool { return artifact.Less(keys[i], keys[j]) })
	return keys
}

// Len counts the records across all kinds.
func (r *Root) Len() int {
	n := 0
	r.each(func(artifact.Kind, FileRecord) { n++ })
	return n
}

// blobRefs lists the blob references held by the root.
func (r *Root) blobRefs() map[string]struct{} {
	refs := make(map[string]struct{})
	r.each(func(_ artifact.Kind, rec FileRecord) {
		if rec.BlobRef != "" {
			refs[rec.BlobRef] = struct{}{}
		}
	})
	return refs
}

func (r *Root) each(fn func(kind artifact.Kind, rec FileRecord)) {
	for _, rec := range r.Recipes {
		fn(artifact.KindRecipe, rec)
	}
	for _, a := range r.Plugins {
		for _, rec := range a.Files {
			fn(artifact.KindPlugin, rec)
		}
	}
	for _, a := range r.Libraries {
		for _, rec := range a.Files {
			fn(artifact.KindLibrary, rec)
		}
	}
}
