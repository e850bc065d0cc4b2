package sync

import (
	"context"
	"log/slog"
	"strings"
)

// MarkerType is the suffix of a side file written next to a conflicted file.
type MarkerType string

const (
	// MarkerRemote holds the content found on the server.
	MarkerRemote MarkerType = ".remote"
	// MarkerBase holds the content at the last sync.
	MarkerBase MarkerType = ".base"
)

var allMarkers = []MarkerType{MarkerRemote, MarkerBase}

// MarkerPath returns the side file path of a local file, e.g.
// "compute.py" -> "compute.py.remote".
func MarkerPath(localPath string, marker MarkerType) string {
	return localPath + string(marker)
}

// IsMarkerPath checks if a path is a side file of any known marker type.
func IsMarkerPath(path string) bool {
	for _, m := range allMarkers {
		if strings.HasSuffix(path, string(m)) {
			return true
		}
	}
	return false
}

// MarkerResolver leaves conflicts unresolved but writes the remote and
// ancestor buffers next to the local file, so they can be merged by hand.
// Side files are ignored by the sync itself.
type MarkerResolver struct {
	Local LocalFiles
}

func (r *MarkerResolver) Resolve(_ context.Context, c *Conflict) (Resolution, error) {
	if c.Last != nil {
		if err := r.Local.Write(MarkerPath(c.LocalPath, MarkerRemote), c.Last); err != nil {
			return Resolution{}, localErr("write", MarkerPath(c.LocalPath, MarkerRemote), err)
		}
	}
	if c.Original != nil {
		if err := r.Local.Write(MarkerPath(c.LocalPath, MarkerBase), c.Original); err != nil {
			return Resolution{}, localErr("write", MarkerPath(c.LocalPath, MarkerBase), err)
		}
	}
	slog.Info("sync", "op", ActionConflict, "path", c.ID(), "markers", c.LocalPath+".{remote,base}")
	return Resolution{Kind: ResolveSkip}, nil
}

// clearMarkers removes the side files of a local file, if any.
func clearMarkers(local LocalFiles, localPath string) {
	for _, m := range allMarkers {
		if err := local.Delete(MarkerPath(localPath, m)); err != nil {
			slog.Warn("sync", "op", "clear markers", "path", localPath, "error", err)
		}
	}
}
