package sync

import (
	"fmt"
	"path"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/artifactsync/internal/artifact"
	"github.com/openmined/artifactsync/internal/fingerprint"
	"github.com/openmined/artifactsync/internal/metadata"
)

type StepKind string

const (
	StepMkdir StepKind = "mkdir"
	StepFile  StepKind = "file"
	StepRmdir StepKind = "rmdir"
)

// Step is one planned operation. Directory steps only carry Dir.
type Step struct {
	Kind       StepKind
	Action     Action
	Key        artifact.Key
	RemotePath string
	LocalPath  string
	Dir        string

	// State the action was decided on.
	State  FileState
	Stored *metadata.FileRecord
	// RecipeType is the server-side type of a recipe, if known.
	RecipeType string
}

// ID is the summary identifier of the step's file.
func (s Step) ID() string {
	if s.Kind != StepFile {
		return "dir:" + s.Dir
	}
	return artifact.FileID(s.Key, s.RemotePath)
}

func (s Step) String() string {
	if s.Kind != StepFile {
		return string(s.Kind) + " " + s.Dir
	}
	return fmt.Sprintf("%s %s", s.Action, s.ID())
}

// ArtifactFailure is an artifact that could not be observed and was left out
// of the plan.
type ArtifactFailure struct {
	Key artifact.Key
	Err error
}

// Plan is the ordered list of steps of a session: directory creation, file
// actions sorted by kind, artifact and path, then removal of emptied
// directories, deepest first. Conflicts are kept apart for the resolver.
type Plan struct {
	Steps     []Step
	Conflicts []Step
	Unchanged []string
	Skipped   []ArtifactFailure
}

// Empty is true when executing the plan would do nothing.
func (p *Plan) Empty() bool {
	for _, s := range p.Steps {
		if s.Kind == StepFile {
			return false
		}
	}
	return len(p.Conflicts) == 0
}

func (p *Plan) FileSteps() []Step {
	return p.filter(func(s Step) bool { return s.Kind == StepFile })
}

func (p *Plan) Pulls() []Step {
	return p.filter(func(s Step) bool { return s.Kind == StepFile && s.Action.IsPull() })
}

func (p *Plan) Pushes() []Step {
	return p.filter(func(s Step) bool { return s.Kind == StepFile && s.Action.IsPush() })
}

func (p *Plan) LocalDeletes() []Step {
	return p.filter(func(s Step) bool { return s.Kind == StepFile && s.Action == ActionDeleteLocal })
}

func (p *Plan) RemoteDeletes() []Step {
	return p.filter(func(s Step) bool { return s.Kind == StepFile && s.Action == ActionDeleteRemote })
}

func (p *Plan) MetadataOnly() []Step {
	return p.filter(func(s Step) bool { return s.Kind == StepFile && s.Action.IsMetadataOnly() })
}

func (p *Plan) DirSteps(kind StepKind) []Step {
	return p.filter(func(s Step) bool { return s.Kind == kind })
}

func (p *Plan) filter(keep func(Step) bool) []Step {
	var out []Step
	for _, s := range p.Steps {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

// BuildPlan classifies every file of the selected artifacts. It performs no
// I/O: everything it needs is in root and snapshot.
func BuildPlan(root *metadata.Root, selection Selection, snapshot *Snapshot) (*Plan, error) {
	plan := &Plan{}
	var fileSteps []Step
	mkdirs := mapset.NewThreadUnsafeSet[string]()
	var rmdirs []string

	for _, key := range selection.Sorted() {
		st := snapshot.State(key)
		if st.Err != nil {
			plan.Skipped = append(plan.Skipped, ArtifactFailure{Key: key, Err: st.Err})
			continue
		}

		steps, err := planArtifact(root, st)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", key, err)
		}

		existing := mapset.NewThreadUnsafeSet(st.LocalDirs...)
		remaining := mapset.NewThreadUnsafeSet[string]()
		var deleted []string
		for _, lf := range st.Local {
			remaining.Add(lf.LocalPath)
		}

		for _, step := range steps {
			switch {
			case step.Action == ActionNoOp:
				plan.Unchanged = append(plan.Unchanged, step.ID())
				continue
			case step.Action == ActionConflict:
				plan.Conflicts = append(plan.Conflicts, step)
				continue
			case step.Action.IsPull():
				remaining.Add(step.LocalPath)
				for dir := path.Dir(step.LocalPath); dir != "." && !existing.Contains(dir); dir = path.Dir(dir) {
					mkdirs.Add(dir)
				}
			case step.Action == ActionDeleteLocal:
				remaining.Remove(step.LocalPath)
				deleted = append(deleted, step.LocalPath)
			}
			fileSteps = append(fileSteps, step)
		}

		if len(deleted) > 0 && key.Kind.IsTree() {
			rmdirs = append(rmdirs, emptiedDirs(key.Dir(), deleted, existing, remaining)...)
		}
	}

	sortFileSteps(fileSteps)

	dirs := mkdirs.ToSlice()
	sort.Slice(dirs, func(i, j int) bool {
		di, dj := strings.Count(dirs[i], "/"), strings.Count(dirs[j], "/")
		if di != dj {
			return di < dj
		}
		return dirs[i] < dirs[j]
	})
	for _, d := range minimalDirs(dirs) {
		plan.Steps = append(plan.Steps, Step{Kind: StepMkdir, Dir: d})
	}
	plan.Steps = append(plan.Steps, fileSteps...)

	sortDeepestFirst(rmdirs)
	for _, d := range rmdirs {
		plan.Steps = append(plan.Steps, Step{Kind: StepRmdir, Dir: d})
	}

	sort.Strings(plan.Unchanged)
	sortFileSteps(plan.Conflicts)
	return plan, nil
}

func planArtifact(root *metadata.Root, st *ArtifactState) ([]Step, error) {
	key := st.Key

	records := make(map[string]metadata.FileRecord)
	paths := mapset.NewThreadUnsafeSet[string]()
	for _, rec := range root.Files(key.Kind, key.ID()) {
		records[rec.RemotePath] = rec
		paths.Add(rec.RemotePath)
	}
	for p := range st.Local {
		paths.Add(p)
	}
	for p := range st.Remote {
		paths.Add(p)
	}

	var steps []Step
	for _, remotePath := range sortedSlice(paths) {
		if st.Ignored[remotePath] {
			continue
		}
		step := Step{
			Kind:       StepFile,
			Key:        key,
			RemotePath: remotePath,
			RecipeType: st.RecipeType,
		}

		if rec, ok := records[remotePath]; ok {
			step.Stored = &rec
			step.State.Stored = fingerprint.Some(rec.Fingerprint)
			step.State.StoredVersion = rec.Version
			step.LocalPath = rec.LocalPath
		}
		if lf, ok := st.Local[remotePath]; ok {
			step.State.Local = fingerprint.Some(lf.Fingerprint)
			step.LocalPath = lf.LocalPath
		}
		if rf, ok := st.Remote[remotePath]; ok {
			step.State.Remote = fingerprint.Some(rf.Fingerprint)
			step.State.RemoteVersion = rf.Version
		}
		if step.LocalPath == "" {
			step.LocalPath = defaultLocalPath(key, remotePath, st.RecipeType)
		}

		action, err := Classify(step.State)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", step.ID(), err)
		}
		step.Action = action
		steps = append(steps, step)
	}
	return steps, nil
}

func defaultLocalPath(key artifact.Key, remotePath, recipeType string) string {
	if key.Kind == artifact.KindRecipe {
		return key.RecipeFile(recipeType)
	}
	return key.LocalPath(remotePath)
}

// emptiedDirs returns the existing parents of the deleted files, up to and
// including the artifact directory, that hold none of the remaining files.
// Other directories of the artifact are left alone even when empty.
func emptiedDirs(artifactDir string, deleted []string, existing, remaining mapset.Set[string]) []string {
	candidates := mapset.NewThreadUnsafeSet[string]()
	for _, p := range deleted {
		for dir := path.Dir(p); dir == artifactDir || strings.HasPrefix(dir, artifactDir+"/"); dir = path.Dir(dir) {
			if existing.Contains(dir) {
				candidates.Add(dir)
			}
		}
	}

	files := remaining.ToSlice()
	var out []string
	for _, dir := range sortedSlice(candidates) {
		empty := true
		for _, f := range files {
			if strings.HasPrefix(f, dir+"/") {
				empty = false
				break
			}
		}
		if empty {
			out = append(out, dir)
		}
	}
	return out
}

// minimalDirs drops directories that a deeper entry of dirs creates anyway.
func minimalDirs(dirs []string) []string {
	var out []string
	for i, d := range dirs {
		covered := false
		for _, other := range dirs[i+1:] {
			if strings.HasPrefix(other, d+"/") {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, d)
		}
	}
	return out
}

func sortFileSteps(steps []Step) {
	sort.SliceStable(steps, func(i, j int) bool {
		a, b := steps[i], steps[j]
		if a.Key != b.Key {
			return artifact.Less(a.Key, b.Key)
		}
		return a.RemotePath < b.RemotePath
	})
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

func sortedSlice(s mapset.Set[string]) []string {
	out := s.ToSlice()
	sort.Strings(out)
	return out
}
