package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/openmined/artifactsync/internal/metadata"
)

// CorruptPolicy decides what a session does with an unreadable metadata document.
type CorruptPolicy string

const (
	// CorruptFail refuses to run until the document is repaired.
	CorruptFail CorruptPolicy = "fail"
	// CorruptRebaseline moves the document aside and starts from an empty
	// root: every file present on both sides with different content becomes
	// a conflict.
	CorruptRebaseline CorruptPolicy = "rebaseline"
)

func ParseCorruptPolicy(s string) (CorruptPolicy, error) {
	switch CorruptPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", CorruptFail:
		return CorruptFail, nil
	case CorruptRebaseline:
		return CorruptRebaseline, nil
	}
	return "", fmt.Errorf("unknown corrupt metadata policy %q", s)
}

// Options configure an Engine for one content server instance.
type Options struct {
	InstanceID string
	Local      LocalFiles
	Remote     RemoteTransport
	Store      MetadataStore
	// Resolver is offered every conflict; nil leaves them conflicted.
	Resolver   Resolver
	Workers    int
	Checkpoint bool
	OnCorrupt  CorruptPolicy
	Logger     *slog.Logger
}

// Engine runs sync sessions for one instance of a workspace. Only one session
// runs at a time.
type Engine struct {
	opts    Options
	log     *slog.Logger
	running sync.Mutex
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.InstanceID == "" {
		return nil, errors.New("sync: instance id is required")
	}
	if opts.Local == nil || opts.Remote == nil || opts.Store == nil {
		return nil, errors.New("sync: local files, remote transport and metadata store are required")
	}
	if opts.OnCorrupt == "" {
		opts.OnCorrupt = CorruptFail
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		opts: opts,
		log:  log.With("instance", opts.InstanceID),
	}, nil
}

// Select expands selection patterns into artifact keys.
func (e *Engine) Select(ctx context.Context, patterns []string) (Selection, error) {
	root, err := e.loadRoot(e.log, false)
	if err != nil {
		return Selection{}, err
	}
	return ExpandSelection(ctx, patterns, e.opts.Remote, root, e.opts.Local)
}

// Plan observes both sides and returns what a session would do, along with
// the root it was planned against. Nothing is modified: a corrupt document
// under CorruptRebaseline is planned against an empty root and left in place.
func (e *Engine) Plan(ctx context.Context, selection Selection) (*Plan, *metadata.Root, error) {
	return e.plan(ctx, selection, e.log, false)
}

func (e *Engine) plan(ctx context.Context, selection Selection, log *slog.Logger, moveAside bool) (*Plan, *metadata.Root, error) {
	root, err := e.loadRoot(log, moveAside)
	if err != nil {
		return nil, nil, err
	}

	collector := &Collector{
		Local:   e.opts.Local,
		Remote:  e.opts.Remote,
		Workers: e.opts.Workers,
	}
	snapshot, err := collector.Collect(ctx, root, selection)
	if err != nil {
		return nil, nil, err
	}

	plan, err := BuildPlan(root, selection, snapshot)
	if err != nil {
		return nil, nil, err
	}
	return plan, root, nil
}

// Run synchronizes the selected artifacts. Per-file failures are reported in
// the summary; the error is only set when the session itself could not run
// or its metadata could not be saved.
func (e *Engine) Run(ctx context.Context, selection Selection) (*Summary, error) {
	if !e.running.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer e.running.Unlock()

	session := uuid.NewString()
	log := e.log.With("session", session)
	log.Info("sync", "op", "start", "artifacts", selection.Len())

	plan, root, err := e.plan(ctx, selection, log, true)
	if err != nil {
		return nil, err
	}
	log.Debug("sync", "op", "plan",
		"pulls", len(plan.Pulls()),
		"pushes", len(plan.Pushes()),
		"localDeletes", len(plan.LocalDeletes()),
		"remoteDeletes", len(plan.RemoteDeletes()),
		"conflicts", len(plan.Conflicts),
		"unchanged", len(plan.Unchanged),
	)

	executor := &Executor{
		Local:      e.opts.Local,
		Remote:     e.opts.Remote,
		Store:      e.opts.Store,
		InstanceID: e.opts.InstanceID,
		Workers:    e.opts.Workers,
		Checkpoint: e.opts.Checkpoint,
		Resolver:   e.opts.Resolver,
		Logger:     log,
	}
	summary, err := executor.Execute(ctx, plan, root)
	if summary != nil {
		summary.Session = session
	}
	if err != nil {
		return summary, err
	}

	log.Info("sync", "op", "done",
		"changed", summary.Changed(),
		"conflicted", len(summary.Conflicted),
		"failed", len(summary.Failed),
		"skipped", len(summary.Skipped),
	)
	return summary, nil
}

// loadRoot reads the stored root. Under CorruptRebaseline a corrupt document
// yields an empty root; it is only moved aside when moveAside is set, which
// Run does while it owns the session.
func (e *Engine) loadRoot(log *slog.Logger, moveAside bool) (*metadata.Root, error) {
	root, err := e.opts.Store.Load(e.opts.InstanceID)
	if err == nil {
		return root, nil
	}
	if !errors.Is(err, metadata.ErrStoreCorrupt) || e.opts.OnCorrupt != CorruptRebaseline {
		return nil, err
	}
	if !moveAside {
		log.Warn("sync", "op", "rebaseline", "error", err, "message", "planning against an empty root")
		return metadata.NewRoot(), nil
	}

	moved, mvErr := e.opts.Store.MoveAside(e.opts.InstanceID)
	if mvErr != nil {
		return nil, errors.Join(err, mvErr)
	}
	log.Warn("sync", "op", "rebaseline", "error", err, "backup", moved)
	return metadata.NewRoot(), nil
}
