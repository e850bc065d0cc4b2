package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openmined/artifactsync/internal/config"
	"github.com/openmined/artifactsync/internal/localfs"
	"github.com/openmined/artifactsync/internal/metadata"
	"github.com/openmined/artifactsync/internal/remote"
	"github.com/openmined/artifactsync/internal/sync"
	"github.com/openmined/artifactsync/internal/workspace"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flag name -> config key
var boundFlags = map[string]string{
	"workspace":  "workspace",
	"instance":   "instance",
	"workers":    "workers",
	"resolve":    "resolve",
	"merge-tool": "merge_tool",
	"checkpoint": "checkpoint",
}

func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("workspace", "w", "", "workspace directory")
	cmd.Flags().StringP("instance", "i", "", "content server instance id")
	cmd.Flags().Int("workers", 0, "parallel file transfers (1-16)")
	cmd.Flags().StringP("selection", "s", "", "YAML file listing the artifacts to sync")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	for name, key := range boundFlags {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// selectionPatterns merges the patterns given as arguments with those of the
// selection file.
func selectionPatterns(cmd *cobra.Command, args []string) ([]string, error) {
	patterns := append([]string{}, args...)
	if file, _ := cmd.Flags().GetString("selection"); file != "" {
		fromFile, err := config.LoadSelection(file)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, fromFile...)
	}
	if len(patterns) == 0 {
		return nil, errors.New("nothing to sync: pass kind:id patterns or --selection")
	}
	return patterns, nil
}

// session wires the engine of the selected instance.
type session struct {
	cfg      *config.Config
	instance config.Instance
	ws       *workspace.Workspace
	blobs    metadata.BlobStore
	engine   *sync.Engine
}

func openSession(ctx context.Context, cfg *config.Config, lock bool) (s *session, err error) {
	inst, err := cfg.SelectedInstance()
	if err != nil {
		return nil, err
	}
	ws, err := workspace.NewWorkspace(cfg.Workspace)
	if err != nil {
		return nil, err
	}
	if err := ws.Setup(inst.ID); err != nil {
		return nil, err
	}

	s = &session{cfg: cfg, instance: inst, ws: ws}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if lock {
		if err := ws.Lock(); err != nil {
			return nil, err
		}
	}

	ignore := localfs.LoadIgnoreList(afero.NewOsFs(), ws.IgnoreFilePath(inst.ID))
	local, err := localfs.New(ws.InstanceDir(inst.ID), localfs.WithIgnoreList(ignore))
	if err != nil {
		return nil, err
	}

	client, err := remote.New(cfg.RemoteConfig(inst))
	if err != nil {
		return nil, err
	}

	s.blobs, err = openBlobStore(ctx, cfg, ws)
	if err != nil {
		return nil, err
	}
	store := metadata.NewStore(ws.MetadataDir, s.blobs, metadata.WithInlineLimit(cfg.InlineLimit))

	resolver, err := newResolver(cfg, local)
	if err != nil {
		return nil, err
	}

	s.engine, err = sync.NewEngine(sync.Options{
		InstanceID: inst.ID,
		Local:      local,
		Remote:     client,
		Store:      store,
		Resolver:   resolver,
		Workers:    cfg.Workers,
		Checkpoint: cfg.Checkpoint,
		OnCorrupt:  sync.CorruptPolicy(cfg.OnCorrupt),
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) Close() {
	if s.blobs != nil {
		if err := s.blobs.Close(); err != nil {
			slog.Warn("close blob store", "error", err)
		}
	}
	if err := s.ws.Unlock(); err != nil {
		slog.Warn("unlock workspace", "error", err)
	}
}

func openBlobStore(ctx context.Context, cfg *config.Config, ws *workspace.Workspace) (metadata.BlobStore, error) {
	if cfg.Blob.Backend == config.BlobBackendS3 {
		blobs, err := metadata.NewS3BlobStore(ctx, cfg.S3())
		if err != nil {
			return nil, err
		}
		return blobs, nil
	}

	blobs, err := metadata.NewSqliteBlobStore(ws.BlobsPath())
	if err != nil {
		return nil, err
	}
	return blobs, nil
}

// newResolver prefers the merge tool. Without one, skipped conflicts get side
// files so they can be merged by hand.
func newResolver(cfg *config.Config, local *localfs.FS) (sync.Resolver, error) {
	if tool := strings.TrimSpace(cfg.MergeTool); tool != "" {
		return &sync.MergeToolResolver{Command: tool}, nil
	}

	if cfg.Resolve == config.ResolveInteractive {
		if stdinIsTerminal() {
			return &interactiveResolver{in: os.Stdin, out: os.Stderr}, nil
		}
		slog.Warn("stdin is not a terminal, conflicts get side files instead", "resolve", cfg.Resolve)
		return &sync.MarkerResolver{Local: local}, nil
	}

	strategy, err := sync.ParseStrategy(cfg.Resolve)
	if err != nil {
		return nil, err
	}
	if strategy == sync.ResolveSkip {
		return &sync.MarkerResolver{Local: local}, nil
	}
	return sync.StrategyResolver{Kind: strategy}, nil
}
