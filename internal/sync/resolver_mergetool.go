package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
)

// MergeToolResolver runs an external three-way merge tool. Command is split
// on whitespace and may reference {local}, {remote}, {base} and {merged}.
// Without {merged}, the tool's standard output is the merged content. A
// non-zero exit leaves the file conflicted.
//
//	diff3 -m {local} {base} {remote}
//	git merge-file -p {local} {base} {remote}
type MergeToolResolver struct {
	Command string
	// TempDir defaults to the OS temp directory.
	TempDir string
}

func (r *MergeToolResolver) Resolve(ctx context.Context, c *Conflict) (Resolution, error) {
	args := strings.Fields(r.Command)
	if len(args) == 0 {
		return Resolution{}, errors.New("merge tool: empty command")
	}

	dir, err := os.MkdirTemp(r.TempDir, "artifactsync-merge-*")
	if err != nil {
		return Resolution{}, fmt.Errorf("merge tool: %w", err)
	}
	defer os.RemoveAll(dir)

	name := path.Base(c.LocalPath)
	files := map[string]string{
		"{local}":  filepath.Join(dir, "local."+name),
		"{remote}": filepath.Join(dir, "remote."+name),
		"{base}":   filepath.Join(dir, "base."+name),
		"{merged}": filepath.Join(dir, "merged."+name),
	}
	buffers := map[string][]byte{
		"{local}":  c.Current,
		"{remote}": c.Last,
		"{base}":   c.Original,
		"{merged}": c.Current,
	}
	for placeholder, p := range files {
		if err := os.WriteFile(p, buffers[placeholder], 0o600); err != nil {
			return Resolution{}, fmt.Errorf("merge tool: %w", err)
		}
	}

	useStdout := !strings.Contains(r.Command, "{merged}")
	for i, arg := range args {
		for placeholder, p := range files {
			arg = strings.ReplaceAll(arg, placeholder, p)
		}
		args[i] = arg
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		slog.Warn("sync", "op", "merge tool", "path", c.ID(), "error", err, "stderr", strings.TrimSpace(stderr.String()))
		return Resolution{Kind: ResolveSkip}, nil
	}

	if useStdout {
		return Resolution{Kind: ResolveMerged, Merged: stdout.Bytes()}, nil
	}
	merged, err := os.ReadFile(files["{merged}"])
	if err != nil {
		return Resolution{}, fmt.Errorf("merge tool: %w", err)
	}
	return Resolution{Kind: ResolveMerged, Merged: merged}, nil
}
