package sync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openmined/artifactsync/internal/artifact"
	"github.com/openmined/artifactsync/internal/fingerprint"
	"github.com/openmined/artifactsync/internal/localfs"
	"github.com/openmined/artifactsync/internal/metadata"
	"github.com/openmined/artifactsync/internal/remote"
	"github.com/openmined/artifactsync/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInstance = "design"

type harness struct {
	t      *testing.T
	ctx    context.Context
	srv    *server.Server
	client *remote.Client
	local  *localfs.FS
	dir    string
	store  *metadata.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv, err := server.New(&server.Config{})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client, err := remote.New(remote.Config{
		BaseURL:      ts.URL,
		Timeout:      5 * time.Second,
		Retries:      2,
		RetryWait:    time.Millisecond,
		RetryMaxWait: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	dir := t.TempDir()
	return &harness{
		t:      t,
		ctx:    context.Background(),
		srv:    srv,
		client: client,
		local:  newMemLocal(t),
		dir:    dir,
		store:  metadata.NewStore(dir, nil),
	}
}

func (h *harness) options() Options {
	return Options{
		InstanceID: testInstance,
		Local:      h.local,
		Remote:     h.client,
		Store:      h.store,
		Workers:    2,
	}
}

func (h *harness) engine(modify ...func(*Options)) *Engine {
	h.t.Helper()
	opts := h.options()
	for _, m := range modify {
		m(&opts)
	}
	e, err := NewEngine(opts)
	require.NoError(h.t, err)
	return e
}

func (h *harness) sync(e *Engine, patterns ...string) *Summary {
	h.t.Helper()
	sel, err := e.Select(h.ctx, patterns)
	require.NoError(h.t, err)
	summary, err := e.Run(h.ctx, sel)
	require.NoError(h.t, err)
	require.NotNil(h.t, summary)
	assert.Empty(h.t, summary.Failed)
	return summary
}

func (h *harness) root() *metadata.Root {
	h.t.Helper()
	root, err := h.store.Load(testInstance)
	require.NoError(h.t, err)
	return root
}

func (h *harness) readLocal(p string) string {
	h.t.Helper()
	data, err := h.local.Read(p)
	require.NoError(h.t, err)
	return string(data)
}

func (h *harness) writeLocal(p, content string) {
	h.t.Helper()
	require.NoError(h.t, h.local.Write(p, []byte(content)))
}

func (h *harness) writeRemote(key artifact.Key, p, content string) {
	h.t.Helper()
	require.NoError(h.t, h.srv.Store().WriteFile(string(key.Kind), key.ID(), p, []byte(content)))
}

func (h *harness) readRemote(key artifact.Key, p string) (string, error) {
	data, err := h.srv.Store().ReadFile(string(key.Kind), key.ID(), p)
	return string(data), err
}

var geo = artifact.Plugin("geo")

func TestEngine_FirstSyncThenIdempotent(t *testing.T) {
	h := newHarness(t)
	h.writeRemote(geo, "plugin.json", `{"id":"geo"}`)
	h.writeRemote(geo, "python-lib/geo/shapes.py", "def area(): pass")
	h.srv.Store().WriteRecipe("PROJ", "compute", "python", []byte("h0"))
	h.writeLocal("libraries/PROJ/python/helpers.py", "x = 1")

	e := h.engine()
	patterns := []string{"plugin:*", "recipe:PROJ.*", "library:PROJ"}
	summary := h.sync(e, patterns...)

	assert.Equal(t, []string{
		"plugin:geo/plugin.json",
		"plugin:geo/python-lib/geo/shapes.py",
		"recipe:PROJ.compute",
	}, summary.LocallyUpdated)
	assert.Equal(t, []string{"library:PROJ/python/helpers.py"}, summary.RemotelyUpdated)
	assert.NotEmpty(t, summary.Session)

	assert.Equal(t, "def area(): pass", h.readLocal("plugins/geo/python-lib/geo/shapes.py"))
	assert.Equal(t, "h0", h.readLocal("recipes/PROJ/compute.py"))
	got, err := h.readRemote(artifact.Library("PROJ"), "python/helpers.py")
	require.NoError(t, err)
	assert.Equal(t, "x = 1", got)

	root := h.root()
	assert.Equal(t, 4, root.Len())
	rec, ok := root.Lookup(artifact.KindRecipe, "PROJ.compute", "")
	require.True(t, ok)
	require.NotNil(t, rec.Version)
	assert.Equal(t, int64(1), *rec.Version)

	again := h.sync(e, patterns...)
	assert.True(t, again.Empty(), "second session has nothing to do: %+v", again)
}

func TestEngine_RecipePushRecordsNewVersion(t *testing.T) {
	h := newHarness(t)
	h.srv.Store().WriteRecipe("PROJ", "compute", "python", []byte("H0"))
	e := h.engine()
	h.sync(e, "recipe:PROJ.compute")

	h.writeLocal("recipes/PROJ/compute.py", "H1")
	summary := h.sync(e, "recipe:PROJ.compute")
	assert.Equal(t, []string{"recipe:PROJ.compute"}, summary.RemotelyUpdated)

	r, err := h.client.ReadRecipe(h.ctx, "PROJ", "compute")
	require.NoError(t, err)
	assert.Equal(t, "H1", string(r.Payload))
	assert.Equal(t, int64(2), r.Version)

	rec, ok := h.root().Lookup(artifact.KindRecipe, "PROJ.compute", "")
	require.True(t, ok)
	assert.Equal(t, fingerprint.Sum([]byte("H1")), rec.Fingerprint)
	require.NotNil(t, rec.Version)
	assert.Equal(t, int64(2), *rec.Version)

	assert.True(t, h.sync(e, "recipe:PROJ.compute").Empty())
}

func TestEngine_NewLocalRecipeGetsTypeFromExtension(t *testing.T) {
	h := newHarness(t)
	h.writeLocal("recipes/PROJ/report.R", "print(1)")
	summary := h.sync(h.engine(), "recipe:PROJ.report")
	assert.Equal(t, []string{"recipe:PROJ.report"}, summary.RemotelyUpdated)

	r, err := h.client.ReadRecipe(h.ctx, "PROJ", "report")
	require.NoError(t, err)
	assert.Equal(t, "r", r.Type)
}

func TestEngine_Deletions(t *testing.T) {
	h := newHarness(t)
	h.writeRemote(geo, "a.py", "a")
	h.writeRemote(geo, "lib/b.py", "b")
	e := h.engine()
	h.sync(e, "plugin:geo")

	require.NoError(t, h.local.Delete("plugins/geo/a.py"))
	require.NoError(t, h.srv.Store().DeleteFile("plugin", "geo", "lib/b.py"))

	summary := h.sync(e, "plugin:geo")
	assert.Equal(t, []string{"plugin:geo/a.py"}, summary.RemotelyDeleted)
	assert.Equal(t, []string{"plugin:geo/lib/b.py"}, summary.LocallyDeleted)

	_, err := h.readRemote(geo, "a.py")
	assert.ErrorIs(t, err, server.ErrNotFound)
	ok, err := h.local.Exists("plugins/geo/lib/b.py")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = h.local.DirExists("plugins/geo/lib")
	require.NoError(t, err)
	assert.False(t, ok, "emptied directories are removed")

	assert.Equal(t, 0, h.root().Len())
	assert.True(t, h.sync(e, "plugin:geo").Empty())
}

func TestEngine_ConflictIsLeftAlone(t *testing.T) {
	h := newHarness(t)
	h.writeRemote(geo, "a.py", "base")
	e := h.engine()
	h.sync(e, "plugin:geo")

	h.writeLocal("plugins/geo/a.py", "mine")
	h.writeRemote(geo, "a.py", "theirs")

	for range 2 {
		summary := h.sync(e, "plugin:geo")
		assert.Equal(t, []string{"plugin:geo/a.py"}, summary.Conflicted)
		assert.Zero(t, summary.Changed())

		assert.Equal(t, "mine", h.readLocal("plugins/geo/a.py"))
		got, err := h.readRemote(geo, "a.py")
		require.NoError(t, err)
		assert.Equal(t, "theirs", got)

		rec, ok := h.root().Lookup(artifact.KindPlugin, "geo", "a.py")
		require.True(t, ok)
		assert.Equal(t, fingerprint.Sum([]byte("base")), rec.Fingerprint)
	}
}

func TestEngine_ConvergedOnlyUpdatesMetadata(t *testing.T) {
	h := newHarness(t)
	h.writeRemote(geo, "a.py", "base")
	e := h.engine()
	h.sync(e, "plugin:geo")

	h.writeLocal("plugins/geo/a.py", "same")
	h.writeRemote(geo, "a.py", "same")

	summary := h.sync(e, "plugin:geo")
	assert.Equal(t, []string{"plugin:geo/a.py"}, summary.MetadataUpdated)
	assert.Zero(t, summary.Changed())

	rec, ok := h.root().Lookup(artifact.KindPlugin, "geo", "a.py")
	require.True(t, ok)
	assert.Equal(t, fingerprint.Sum([]byte("same")), rec.Fingerprint)
	assert.True(t, h.sync(e, "plugin:geo").Empty())
}

func TestEngine_Resolvers(t *testing.T) {
	tests := []struct {
		name       string
		resolver   Resolver
		wantLocal  string
		wantRemote string
	}{
		{"keep local", StrategyResolver{Kind: ResolveKeepLocal}, "mine", "mine"},
		{"keep remote", StrategyResolver{Kind: ResolveKeepRemote}, "theirs", "theirs"},
		{
			"merged",
			ResolverFunc(func(_ context.Context, c *Conflict) (Resolution, error) {
				merged := string(c.Original) + "+" + string(c.Current) + "+" + string(c.Last)
				return Resolution{Kind: ResolveMerged, Merged: []byte(merged)}, nil
			}),
			"base+mine+theirs", "base+mine+theirs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.writeRemote(geo, "a.py", "base")
			e := h.engine(func(o *Options) { o.Resolver = tt.resolver })
			h.sync(e, "plugin:geo")

			h.writeLocal("plugins/geo/a.py", "mine")
			h.writeRemote(geo, "a.py", "theirs")

			summary := h.sync(e, "plugin:geo")
			assert.Equal(t, []string{"plugin:geo/a.py"}, summary.Resolved)
			assert.Empty(t, summary.Conflicted)

			assert.Equal(t, tt.wantLocal, h.readLocal("plugins/geo/a.py"))
			got, err := h.readRemote(geo, "a.py")
			require.NoError(t, err)
			assert.Equal(t, tt.wantRemote, got)

			rec, ok := h.root().Lookup(artifact.KindPlugin, "geo", "a.py")
			require.True(t, ok)
			assert.Equal(t, fingerprint.Sum([]byte(tt.wantLocal)), rec.Fingerprint)

			assert.True(t, h.sync(e, "plugin:geo").Empty())
		})
	}
}

func TestEngine_KeepLocalDeletion(t *testing.T) {
	h := newHarness(t)
	h.writeRemote(geo, "a.py", "base")
	e := h.engine(func(o *Options) { o.Resolver = StrategyResolver{Kind: ResolveKeepLocal} })
	h.sync(e, "plugin:geo")

	require.NoError(t, h.local.Delete("plugins/geo/a.py"))
	h.writeRemote(geo, "a.py", "theirs")

	summary := h.sync(e, "plugin:geo")
	assert.Equal(t, []string{"plugin:geo/a.py"}, summary.Resolved)
	_, err := h.readRemote(geo, "a.py")
	assert.ErrorIs(t, err, server.ErrNotFound)
	assert.Equal(t, 0, h.root().Len())
}

func TestEngine_ResolverErrorLeavesConflict(t *testing.T) {
	h := newHarness(t)
	h.writeRemote(geo, "a.py", "base")
	e := h.engine(func(o *Options) {
		o.Resolver = ResolverFunc(func(context.Context, *Conflict) (Resolution, error) {
			return Resolution{}, errors.New("no idea")
		})
	})
	h.sync(e, "plugin:geo")

	h.writeLocal("plugins/geo/a.py", "mine")
	h.writeRemote(geo, "a.py", "theirs")

	summary := h.sync(e, "plugin:geo")
	assert.Equal(t, []string{"plugin:geo/a.py"}, summary.Conflicted)
	assert.Equal(t, "mine", h.readLocal("plugins/geo/a.py"))
}

func TestEngine_MarkerResolverThenManualMerge(t *testing.T) {
	h := newHarness(t)
	h.writeRemote(geo, "a.py", "base")
	e := h.engine(func(o *Options) { o.Resolver = &MarkerResolver{Local: h.local} })
	h.sync(e, "plugin:geo")

	h.writeLocal("plugins/geo/a.py", "mine")
	h.writeRemote(geo, "a.py", "theirs")

	summary := h.sync(e, "plugin:geo")
	assert.Equal(t, []string{"plugin:geo/a.py"}, summary.Conflicted)
	assert.Equal(t, "theirs", h.readLocal("plugins/geo/a.py.remote"))
	assert.Equal(t, "base", h.readLocal("plugins/geo/a.py.base"))

	// side files are never pushed
	_, err := h.readRemote(geo, "a.py.remote")
	assert.ErrorIs(t, err, server.ErrNotFound)
}

func TestEngine_CancelledBeforeExecution(t *testing.T) {
	h := newHarness(t)
	h.writeRemote(geo, "a.py", "a")
	h.writeRemote(geo, "b.py", "b")
	e := h.engine()

	plan, root, err := e.Plan(h.ctx, NewSelection(geo))
	require.NoError(t, err)
	require.Len(t, plan.FileSteps(), 2)

	ctx, cancel := context.WithCancel(h.ctx)
	cancel()
	executor := &Executor{Local: h.local, Remote: h.client, Store: h.store, InstanceID: testInstance}
	summary, err := executor.Execute(ctx, plan, root)
	require.NoError(t, err)

	assert.Equal(t, []string{"plugin:geo/a.py", "plugin:geo/b.py"}, summary.Skipped)
	assert.Empty(t, summary.Failed, "skipped actions are not failures")
	ok, err := h.local.Exists("plugins/geo/a.py")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, h.root().Len())
}

// cancellingRemote cancels the session on the first write it sees.
type cancellingRemote struct {
	RemoteTransport
	cancel context.CancelFunc
}

func (c *cancellingRemote) WriteFile(ctx context.Context, key artifact.Key, remotePath string, data []byte) error {
	c.cancel()
	return c.RemoteTransport.WriteFile(ctx, key, remotePath, data)
}

func TestEngine_InFlightActionCompletesOnCancel(t *testing.T) {
	h := newHarness(t)
	for _, name := range []string{"a.py", "b.py", "c.py"} {
		h.writeLocal("libraries/PROJ/"+name, name)
	}

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	e := h.engine(func(o *Options) {
		o.Workers = 1
		o.Remote = &cancellingRemote{RemoteTransport: h.client, cancel: cancel}
	})

	summary, err := e.Run(ctx, NewSelection(artifact.Library("PROJ")))
	require.NoError(t, err)
	assert.Equal(t, []string{"library:PROJ/a.py"}, summary.RemotelyUpdated)
	assert.Equal(t, []string{"library:PROJ/b.py", "library:PROJ/c.py"}, summary.Skipped)
	assert.Empty(t, summary.Failed)

	_, ok := h.root().Lookup(artifact.KindLibrary, "PROJ", "a.py")
	assert.True(t, ok, "the in-flight push is committed")

	summary = h.sync(h.engine(), "library:PROJ")
	assert.Equal(t, []string{"library:PROJ/b.py", "library:PROJ/c.py"}, summary.RemotelyUpdated)
}

func TestEngine_PartialFailure(t *testing.T) {
	h := newHarness(t)
	for _, name := range []string{"a.py", "b.py", "c.py"} {
		h.writeLocal("libraries/PROJ/"+name, name)
	}
	e := h.engine(func(o *Options) { o.Workers = 1 })

	plan, root, err := e.Plan(h.ctx, NewSelection(artifact.Library("PROJ")))
	require.NoError(t, err)
	require.Len(t, plan.Pushes(), 3)

	h.srv.Faults().FailNext(1, http.StatusBadRequest)
	executor := &Executor{Local: h.local, Remote: h.client, Store: h.store, InstanceID: testInstance, Workers: 1}
	summary, err := executor.Execute(h.ctx, plan, root)
	require.NoError(t, err)

	require.Len(t, summary.Failed, 1)
	assert.Equal(t, "library:PROJ/a.py", summary.Failed[0].ID)
	assert.Equal(t, http.StatusBadRequest, remote.StatusCode(summary.Failed[0].Err))
	assert.Equal(t, []string{"library:PROJ/b.py", "library:PROJ/c.py"}, summary.RemotelyUpdated)
	assert.True(t, summary.HasFailures())
	assert.Equal(t, 2, h.root().Len())

	again := h.sync(e, "library:PROJ")
	assert.Equal(t, []string{"library:PROJ/a.py"}, again.RemotelyUpdated)
}

func TestEngine_TransientErrorsAreRetried(t *testing.T) {
	h := newHarness(t)
	h.writeRemote(geo, "a.py", "a")
	h.srv.Faults().FailNext(2, http.StatusServiceUnavailable)

	summary := h.sync(h.engine(func(o *Options) { o.Workers = 1 }), "plugin:geo")
	assert.Equal(t, []string{"plugin:geo/a.py"}, summary.LocallyUpdated)
}

func TestEngine_LocalChangeAfterPlanning(t *testing.T) {
	h := newHarness(t)
	h.writeRemote(geo, "a.py", "base")
	e := h.engine()
	h.sync(e, "plugin:geo")

	h.writeRemote(geo, "a.py", "theirs")
	plan, root, err := e.Plan(h.ctx, NewSelection(geo))
	require.NoError(t, err)
	require.Len(t, plan.Pulls(), 1)

	h.writeLocal("plugins/geo/a.py", "edited meanwhile")
	executor := &Executor{Local: h.local, Remote: h.client, Store: h.store, InstanceID: testInstance}
	summary, err := executor.Execute(h.ctx, plan, root)
	require.NoError(t, err)

	require.Len(t, summary.Failed, 1)
	assert.ErrorIs(t, summary.Failed[0].Err, ErrChangedSincePlanning)
	assert.Equal(t, "edited meanwhile", h.readLocal("plugins/geo/a.py"))

	summary = h.sync(e, "plugin:geo")
	assert.Equal(t, []string{"plugin:geo/a.py"}, summary.Conflicted)
}

func TestEngine_Checkpoint(t *testing.T) {
	h := newHarness(t)
	h.writeRemote(geo, "a.py", "a")
	h.sync(h.engine(func(o *Options) { o.Checkpoint = true }), "plugin:geo")
	assert.Equal(t, 1, h.root().Len())
}

func TestEngine_SingleSession(t *testing.T) {
	h := newHarness(t)
	e := h.engine()
	e.running.Lock()
	defer e.running.Unlock()

	_, err := e.Run(h.ctx, NewSelection(geo))
	assert.ErrorIs(t, err, ErrSyncAlreadyRunning)
}

func TestEngine_CorruptMetadata(t *testing.T) {
	h := newHarness(t)
	h.writeRemote(geo, "a.py", "a")
	require.NoError(t, os.WriteFile(h.store.Path(testInstance), []byte("{not json"), 0o644))

	_, err := h.engine().Run(h.ctx, NewSelection(geo))
	assert.ErrorIs(t, err, metadata.ErrStoreCorrupt)

	summary := h.sync(h.engine(func(o *Options) { o.OnCorrupt = CorruptRebaseline }), "plugin:geo")
	assert.Equal(t, []string{"plugin:geo/a.py"}, summary.LocallyUpdated)

	backups, err := filepath.Glob(filepath.Join(h.dir, testInstance+".json.*.bak"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestParseCorruptPolicy(t *testing.T) {
	p, err := ParseCorruptPolicy("")
	require.NoError(t, err)
	assert.Equal(t, CorruptFail, p)
	p, err = ParseCorruptPolicy("Rebaseline")
	require.NoError(t, err)
	assert.Equal(t, CorruptRebaseline, p)
	_, err = ParseCorruptPolicy("ignore")
	assert.Error(t, err)
}

func TestNewEngine_Validates(t *testing.T) {
	_, err := NewEngine(Options{})
	assert.Error(t, err)
	_, err = NewEngine(Options{InstanceID: testInstance})
	assert.Error(t, err)
}

func TestEngine_IgnoredRemoteFilesAreLeftAlone(t *testing.T) {
	h := newHarness(t)
	h.writeRemote(geo, "plugin.json", `{"id":"geo"}`)
	h.writeRemote(geo, "resource/notes.tmp", "scratch")
	e := h.engine()

	summary := h.sync(e, "plugin:geo")
	assert.Equal(t, []string{"plugin:geo/plugin.json"}, summary.LocallyUpdated)
	ok, err := h.local.Exists("plugins/geo/resource/notes.tmp")
	require.NoError(t, err)
	assert.False(t, ok)

	again := h.sync(e, "plugin:geo")
	assert.True(t, again.Empty(), "second session has nothing to do: %+v", again)
	got, err := h.readRemote(geo, "resource/notes.tmp")
	require.NoError(t, err)
	assert.Equal(t, "scratch", got)
}

func TestEngine_StaleRecordOfIgnoredFileDeletesNothing(t *testing.T) {
	h := newHarness(t)
	h.writeRemote(geo, "notes.tmp", "scratch")
	root := metadata.NewRoot()
	root.UpsertFile(artifact.KindPlugin, record(geo, "notes.tmp", "scratch"))
	require.NoError(t, h.store.Save(h.ctx, testInstance, root))

	summary := h.sync(h.engine(), "plugin:geo")
	assert.True(t, summary.Empty(), "%+v", summary)
	got, err := h.readRemote(geo, "notes.tmp")
	require.NoError(t, err)
	assert.Equal(t, "scratch", got)
}

func TestEngine_DeletionKeepsUnrelatedEmptyDirs(t *testing.T) {
	h := newHarness(t)
	h.writeRemote(geo, "a.py", "a")
	h.writeRemote(geo, "lib/b.py", "b")
	e := h.engine()
	h.sync(e, "plugin:geo")

	require.NoError(t, h.local.MkdirAll("plugins/geo/drafts"))
	require.NoError(t, h.srv.Store().DeleteFile("plugin", "geo", "lib/b.py"))

	summary := h.sync(e, "plugin:geo")
	assert.Equal(t, []string{"plugin:geo/lib/b.py"}, summary.LocallyDeleted)

	ok, err := h.local.DirExists("plugins/geo/lib")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = h.local.DirExists("plugins/geo/drafts")
	require.NoError(t, err)
	assert.True(t, ok, "a directory unrelated to the deletion stays")
}

func TestEngine_PlanDoesNotMoveCorruptMetadata(t *testing.T) {
	h := newHarness(t)
	h.writeRemote(geo, "a.py", "a")
	docPath := h.store.Path(testInstance)
	require.NoError(t, os.WriteFile(docPath, []byte("{not json"), 0o644))

	e := h.engine(func(o *Options) { o.OnCorrupt = CorruptRebaseline })
	sel, err := e.Select(h.ctx, []string{"plugin:geo"})
	require.NoError(t, err)
	plan, root, err := e.Plan(h.ctx, sel)
	require.NoError(t, err)
	assert.Equal(t, 0, root.Len())
	assert.Len(t, plan.Pulls(), 1)

	data, err := os.ReadFile(docPath)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
	backups, err := filepath.Glob(docPath + ".*.bak")
	require.NoError(t, err)
	assert.Empty(t, backups)

	h.sync(e, "plugin:geo")
	backups, err = filepath.Glob(docPath + ".*.bak")
	require.NoError(t, err)
	assert.Len(t, backups, 1)
	assert.Equal(t, 1, h.root().Len())
}

var errSaveFailed = errors.New("disk full")

// failingSaveStore persists nothing while failSave is set.
type failingSaveStore struct {
	*metadata.Store
	failSave atomic.Bool
}

func (s *failingSaveStore) Save(ctx context.Context, instanceID string, root *metadata.Root) error {
	if s.failSave.Load() {
		return errSaveFailed
	}
	return s.Store.Save(ctx, instanceID, root)
}

func TestEngine_ResolutionNotSavedIsDetectedAgain(t *testing.T) {
	h := newHarness(t)
	store := &failingSaveStore{Store: h.store}
	e := h.engine(func(o *Options) {
		o.Store = store
		o.Resolver = StrategyResolver{Kind: ResolveKeepLocal}
	})
	h.writeRemote(geo, "a.py", "base")
	h.sync(e, "plugin:geo")

	h.writeLocal("plugins/geo/a.py", "mine")
	h.writeRemote(geo, "a.py", "theirs")

	store.failSave.Store(true)
	summary, err := e.Run(h.ctx, NewSelection(geo))
	require.ErrorIs(t, err, errSaveFailed)
	require.NotNil(t, summary)
	assert.Equal(t, []string{"plugin:geo/a.py"}, summary.Resolved)

	got, err := h.readRemote(geo, "a.py")
	require.NoError(t, err)
	assert.Equal(t, "mine", got)
	rec, ok := h.root().Lookup(artifact.KindPlugin, "geo", "a.py")
	require.True(t, ok)
	assert.Equal(t, fingerprint.Sum([]byte("base")), rec.Fingerprint, "the stored record is stale")

	store.failSave.Store(false)
	next := h.sync(e, "plugin:geo")
	assert.Equal(t, []string{"plugin:geo/a.py"}, next.MetadataUpdated)
	assert.Equal(t, "mine", h.readLocal("plugins/geo/a.py"))

	rec, ok = h.root().Lookup(artifact.KindPlugin, "geo", "a.py")
	require.True(t, ok)
	assert.Equal(t, fingerprint.Sum([]byte("mine")), rec.Fingerprint)
	assert.True(t, h.sync(e, "plugin:geo").Empty())
}
