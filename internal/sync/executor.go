package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/openmined/artifactsync/internal/artifact"
	"github.com/openmined/artifactsync/internal/fingerprint"
	"github.com/openmined/artifactsync/internal/metadata"
	"github.com/openmined/artifactsync/internal/remote"
	"golang.org/x/sync/errgroup"
)

// Executor applies a plan. Every file action commits on its own: a failure is
// reported in the summary and the session goes on.
type Executor struct {
	Local      LocalFiles
	Remote     RemoteTransport
	Store      MetadataStore
	InstanceID string
	Workers    int
	// Checkpoint saves the metadata after every committed action, not only
	// at the end of the session.
	Checkpoint bool
	Resolver   Resolver
	Logger     *slog.Logger
}

type execution struct {
	*Executor
	log     *slog.Logger
	summary *Summary

	mu   sync.Mutex // guards root
	root *metadata.Root
}

// Execute runs the plan against root, then saves root once. Cancelling ctx
// stops new actions from starting; actions already started run to completion
// and are committed.
func (e *Executor) Execute(ctx context.Context, plan *Plan, root *metadata.Root) (*Summary, error) {
	run := &execution{
		Executor: e,
		log:      e.Logger,
		summary:  &Summary{},
		root:     root,
	}
	if run.log == nil {
		run.log = slog.Default()
	}
	summary := run.summary

	for _, f := range plan.Skipped {
		summary.fail(f.Key.String(), f.Err)
	}

	for _, step := range plan.DirSteps(StepMkdir) {
		if ctx.Err() != nil {
			break
		}
		if err := e.Local.MkdirAll(step.Dir); err != nil {
			summary.fail(step.ID(), localErr("mkdir", step.Dir, err))
		}
	}

	var g errgroup.Group
	g.SetLimit(clampWorkers(e.Workers))
	for _, step := range plan.FileSteps() {
		if ctx.Err() != nil {
			summary.add(&summary.Skipped, step.ID())
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				summary.add(&summary.Skipped, step.ID())
				return nil
			}
			run.apply(context.WithoutCancel(ctx), step)
			return nil
		})
	}
	_ = g.Wait()

	for _, step := range plan.DirSteps(StepRmdir) {
		if ctx.Err() != nil {
			break
		}
		removed, err := e.Local.RemoveEmptyDir(step.Dir)
		if err != nil {
			run.log.Warn("sync", "op", StepRmdir, "path", step.Dir, "error", err)
		} else if removed {
			run.log.Debug("sync", "op", StepRmdir, "path", step.Dir)
		}
	}

	for _, step := range plan.Conflicts {
		if ctx.Err() != nil || e.Resolver == nil {
			summary.add(&summary.Conflicted, step.ID())
			continue
		}
		run.resolve(ctx, step)
	}

	summary.finalize()

	if err := e.Store.Save(context.WithoutCancel(ctx), e.InstanceID, root); err != nil {
		return summary, fmt.Errorf("save metadata: %w", err)
	}
	return summary, nil
}

func (r *execution) apply(ctx context.Context, step Step) {
	var err error
	switch {
	case step.Action.IsPull():
		err = r.pull(ctx, step)
	case step.Action.IsPush():
		err = r.push(ctx, step)
	case step.Action == ActionDeleteLocal:
		err = r.deleteLocal(ctx, step)
	case step.Action == ActionDeleteRemote:
		err = r.deleteRemote(ctx, step)
	case step.Action == ActionConverged:
		err = r.converge(ctx, step)
	case step.Action == ActionCleanup:
		err = r.forget(ctx, step)
		if err == nil {
			r.summary.add(&r.summary.MetadataUpdated, step.ID())
		}
	default:
		err = fmt.Errorf("unexpected action %s", step.Action)
	}

	if err != nil {
		r.summary.fail(step.ID(), err)
		r.log.Error("sync", "op", step.Action, "path", step.ID(), "error", err)
	}
}

func (r *execution) pull(ctx context.Context, step Step) error {
	if err := r.verifyLocal(step); err != nil {
		return err
	}

	data, version, err := r.readRemote(ctx, step.Key, step.RemotePath)
	if err != nil {
		return err
	}
	if err := r.Local.Write(step.LocalPath, data); err != nil {
		return localErr("write", step.LocalPath, err)
	}
	if err := r.commit(ctx, step, data, version); err != nil {
		return err
	}

	r.summary.add(&r.summary.LocallyUpdated, step.ID())
	r.log.Info("sync", "op", step.Action, "path", step.ID(), "size", humanize.Bytes(uint64(len(data))))
	return nil
}

func (r *execution) push(ctx context.Context, step Step) error {
	data, err := r.Local.Read(step.LocalPath)
	if err != nil {
		return localErr("read", step.LocalPath, err)
	}

	version, err := r.writeRemote(ctx, step, data)
	if err != nil {
		return err
	}
	if err := r.commit(ctx, step, data, version); err != nil {
		return err
	}

	r.summary.add(&r.summary.RemotelyUpdated, step.ID())
	r.log.Info("sync", "op", step.Action, "path", step.ID(), "size", humanize.Bytes(uint64(len(data))))
	return nil
}

func (r *execution) deleteLocal(ctx context.Context, step Step) error {
	if err := r.verifyLocal(step); err != nil {
		return err
	}
	if err := r.Local.Delete(step.LocalPath); err != nil {
		return localErr("delete", step.LocalPath, err)
	}
	if err := r.forget(ctx, step); err != nil {
		return err
	}

	r.summary.add(&r.summary.LocallyDeleted, step.ID())
	r.log.Info("sync", "op", step.Action, "path", step.ID())
	return nil
}

func (r *execution) deleteRemote(ctx context.Context, step Step) error {
	if err := r.removeRemote(ctx, step.Key, step.RemotePath); err != nil {
		return err
	}
	if err := r.forget(ctx, step); err != nil {
		return err
	}

	r.summary.add(&r.summary.RemotelyDeleted, step.ID())
	r.log.Info("sync", "op", step.Action, "path", step.ID())
	return nil
}

// converge records the content both sides agree on.
func (r *execution) converge(ctx context.Context, step Step) error {
	data, err := r.Local.Read(step.LocalPath)
	if err != nil {
		return localErr("read", step.LocalPath, err)
	}
	if fingerprint.Sum(data) != step.State.Remote.Value {
		return fmt.Errorf("%w: %s", ErrChangedSincePlanning, step.LocalPath)
	}
	if err := r.commit(ctx, step, data, step.State.RemoteVersion); err != nil {
		return err
	}

	r.summary.add(&r.summary.MetadataUpdated, step.ID())
	r.log.Debug("sync", "op", step.Action, "path", step.ID())
	return nil
}

// verifyLocal refuses to overwrite or delete a local file edited after the
// plan was built.
func (r *execution) verifyLocal(step Step) error {
	if !step.State.Local.Valid {
		exists, err := r.Local.Exists(step.LocalPath)
		if err != nil {
			return localErr("stat", step.LocalPath, err)
		}
		if exists {
			return fmt.Errorf("%w: %s appeared", ErrChangedSincePlanning, step.LocalPath)
		}
		return nil
	}

	sum, err := r.Local.Fingerprint(step.LocalPath)
	if err != nil {
		return localErr("fingerprint", step.LocalPath, err)
	}
	if sum != step.State.Local.Value {
		return fmt.Errorf("%w: %s", ErrChangedSincePlanning, step.LocalPath)
	}
	return nil
}

func (r *execution) readRemote(ctx context.Context, key artifact.Key, remotePath string) ([]byte, *int64, error) {
	if key.Kind == artifact.KindRecipe {
		recipe, err := r.Remote.ReadRecipe(ctx, key.Project, key.Name)
		if err != nil {
			return nil, nil, err
		}
		version := recipe.Version
		return recipe.Payload, &version, nil
	}
	data, err := r.Remote.ReadFile(ctx, key, remotePath)
	return data, nil, err
}

func (r *execution) writeRemote(ctx context.Context, step Step, data []byte) (*int64, error) {
	key := step.Key
	if key.Kind == artifact.KindRecipe {
		recipeType := step.RecipeType
		if recipeType == "" {
			recipeType = artifact.RecipeTypeOf(step.LocalPath)
		}
		version, err := r.Remote.WriteRecipe(ctx, key.Project, key.Name, recipeType, data)
		if err != nil {
			return nil, err
		}
		return &version, nil
	}
	return nil, r.Remote.WriteFile(ctx, key, step.RemotePath, data)
}

// removeRemote deletes a remote file; one already gone counts as deleted.
func (r *execution) removeRemote(ctx context.Context, key artifact.Key, remotePath string) error {
	var err error
	if key.Kind == artifact.KindRecipe {
		err = r.Remote.DeleteRecipe(ctx, key.Project, key.Name)
	} else {
		err = r.Remote.DeleteFile(ctx, key, remotePath)
	}
	if remote.IsNotFound(err) {
		return nil
	}
	return err
}

// commit records data as the last synchronized content of the step's file.
func (r *execution) commit(ctx context.Context, step Step, data []byte, version *int64) error {
	rec := metadata.FileRecord{
		InstanceID: r.InstanceID,
		ArtifactID: step.Key.ID(),
		LocalPath:  step.LocalPath,
		RemotePath: step.RemotePath,
		Version:    version,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.Store.Attach(ctx, &rec, data); err != nil {
		return fmt.Errorf("record content: %w", err)
	}
	r.root.UpsertFile(step.Key.Kind, rec)
	r.checkpoint(ctx)
	return nil
}

// forget drops the record of the step's file.
func (r *execution) forget(ctx context.Context, step Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.root.RemoveFile(step.Key.Kind, step.Key.ID(), step.RemotePath)
	r.checkpoint(ctx)
	return nil
}

func (r *execution) checkpoint(ctx context.Context) {
	if !r.Checkpoint {
		return
	}
	if err := r.Store.Save(ctx, r.InstanceID, r.root); err != nil {
		r.log.Warn("sync", "op", "checkpoint", "error", err)
	}
}

func (r *execution) resolve(ctx context.Context, step Step) {
	id := step.ID()
	conflict, lastVersion, err := r.loadConflict(ctx, step)
	if err != nil {
		r.summary.fail(id, err)
		r.log.Error("sync", "op", ActionConflict, "path", id, "error", err)
		return
	}

	resolution, err := r.Resolver.Resolve(ctx, conflict)
	if err != nil {
		r.summary.add(&r.summary.Conflicted, id)
		r.log.Warn("sync", "op", ActionConflict, "path", id, "error", err)
		return
	}

	ctx = context.WithoutCancel(ctx)
	switch resolution.Kind {
	case ResolveKeepLocal:
		err = r.keepLocal(ctx, step, conflict)
	case ResolveKeepRemote:
		err = r.keepRemote(ctx, step, conflict, lastVersion)
	case ResolveMerged:
		err = r.keepMerged(ctx, step, resolution.Merged)
	case ResolveSkip:
		r.summary.add(&r.summary.Conflicted, id)
		r.log.Warn("sync", "op", ActionConflict, "path", id, "local", step.State.Local, "remote", step.State.Remote)
		return
	default:
		err = fmt.Errorf("unknown resolution %q", resolution.Kind)
	}

	if err != nil {
		r.summary.fail(id, err)
		r.log.Error("sync", "op", ActionConflict, "path", id, "resolution", resolution.Kind, "error", err)
		return
	}
	clearMarkers(r.Local, step.LocalPath)
	r.summary.add(&r.summary.Resolved, id)
	r.log.Info("sync", "op", ActionConflict, "path", id, "resolution", resolution.Kind)
}

func (r *execution) loadConflict(ctx context.Context, step Step) (*Conflict, *int64, error) {
	conflict := &Conflict{
		Key:        step.Key,
		RemotePath: step.RemotePath,
		LocalPath:  step.LocalPath,
	}

	if step.State.Local.Valid {
		data, err := r.Local.Read(step.LocalPath)
		if err != nil {
			return nil, nil, localErr("read", step.LocalPath, err)
		}
		conflict.Current = data
	}

	var lastVersion *int64
	if step.State.Remote.Valid {
		data, version, err := r.readRemote(ctx, step.Key, step.RemotePath)
		if err != nil && !remote.IsNotFound(err) {
			return nil, nil, err
		}
		conflict.Last, lastVersion = data, version
	}

	if step.Stored != nil {
		data, err := r.Store.Content(ctx, *step.Stored)
		if err != nil && !errors.Is(err, metadata.ErrBlobNotFound) {
			return nil, nil, err
		}
		if data == nil && err == nil {
			data = []byte{}
		}
		conflict.Original = data
	}
	return conflict, lastVersion, nil
}

func (r *execution) keepLocal(ctx context.Context, step Step, c *Conflict) error {
	if c.Current == nil {
		if err := r.removeRemote(ctx, step.Key, step.RemotePath); err != nil {
			return err
		}
		return r.forget(ctx, step)
	}
	version, err := r.writeRemote(ctx, step, c.Current)
	if err != nil {
		return err
	}
	return r.commit(ctx, step, c.Current, version)
}

func (r *execution) keepRemote(ctx context.Context, step Step, c *Conflict, version *int64) error {
	if c.Last == nil {
		if err := r.Local.Delete(step.LocalPath); err != nil {
			return localErr("delete", step.LocalPath, err)
		}
		return r.forget(ctx, step)
	}
	if err := r.Local.Write(step.LocalPath, c.Last); err != nil {
		return localErr("write", step.LocalPath, err)
	}
	return r.commit(ctx, step, c.Last, version)
}

func (r *execution) keepMerged(ctx context.Context, step Step, merged []byte) error {
	if merged == nil {
		merged = []byte{}
	}
	version, err := r.writeRemote(ctx, step, merged)
	if err != nil {
		return err
	}
	if err := r.Local.Write(step.LocalPath, merged); err != nil {
		return localErr("write", step.LocalPath, err)
	}
	return r.commit(ctx, step, merged, version)
}
