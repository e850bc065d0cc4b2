package sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/openmined/artifactsync/internal/artifact"
)

type ResolutionKind string

const (
	ResolveSkip       ResolutionKind = "skip"
	ResolveKeepLocal  ResolutionKind = "keep-local"
	ResolveKeepRemote ResolutionKind = "keep-remote"
	ResolveMerged     ResolutionKind = "merged"
)

// Resolution is the outcome for one conflict. Merged is only read for
// ResolveMerged.
type Resolution struct {
	Kind   ResolutionKind
	Merged []byte
}

// Conflict holds the three buffers of a file changed on both sides. A nil
// buffer means the file is absent on that side, or that there is no ancestor.
type Conflict struct {
	Key        artifact.Key
	RemotePath string
	LocalPath  string
	Current    []byte // local
	Last       []byte // remote
	Original   []byte // last synchronized
}

func (c *Conflict) ID() string {
	return artifact.FileID(c.Key, c.RemotePath)
}

// Resolver decides what to do with a conflict. Returning an error leaves the
// file conflicted.
type Resolver interface {
	Resolve(ctx context.Context, conflict *Conflict) (Resolution, error)
}

type ResolverFunc func(ctx context.Context, conflict *Conflict) (Resolution, error)

func (f ResolverFunc) Resolve(ctx context.Context, conflict *Conflict) (Resolution, error) {
	return f(ctx, conflict)
}

// StrategyResolver applies the same decision to every conflict.
type StrategyResolver struct {
	Kind ResolutionKind
}

func (r StrategyResolver) Resolve(_ context.Context, _ *Conflict) (Resolution, error) {
	if r.Kind == ResolveMerged {
		return Resolution{}, fmt.Errorf("strategy cannot merge")
	}
	return Resolution{Kind: r.Kind}, nil
}

// ParseStrategy accepts the usual spellings of a fixed resolution.
func ParseStrategy(s string) (ResolutionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip", "none", "manual":
		return ResolveSkip, nil
	case "local", "local-wins", "keep-local", "ours", "mine":
		return ResolveKeepLocal, nil
	case "remote", "remote-wins", "keep-remote", "theirs", "server":
		return ResolveKeepRemote, nil
	}
	return "", fmt.Errorf("unknown conflict strategy %q", s)
}
