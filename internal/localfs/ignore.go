package localfs

import (
	"bufio"
	"bytes"
	"errors"
	"log/slog"
	"os"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/afero"
)

// IgnoreFile is the name of the per-workspace ignore file.
const IgnoreFile = ".syncignore"

var defaultIgnoreLines = []string{
	// artifactsync
	IgnoreFile,
	"*.remote",
	"*.base",
	".*.tmp-*",
	// python
	".ipynb_checkpoints/",
	"__pycache__/",
	"*.py[cod]",
	".venv/",
	// R
	".Rhistory",
	".RData",
	// IDE/Editor-specific
	".vscode",
	".idea",
	// General excludes
	".git",
	"*.tmp",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
}

// IgnoreList filters local tree listings with gitignore rules: the defaults
// above followed by the lines of the workspace ignore file.
type IgnoreList struct {
	ignore *gitignore.GitIgnore
	rules  int
}

// DefaultIgnoreList holds only the built-in rules.
func DefaultIgnoreList() *IgnoreList {
	return &IgnoreList{ignore: gitignore.CompileIgnoreLines(defaultIgnoreLines...)}
}

// LoadIgnoreList reads extra rules from path. A missing file yields the defaults.
func LoadIgnoreList(fsys afero.Fs, path string) *IgnoreList {
	lines := append([]string{}, defaultIgnoreLines...)

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to read ignore file", "path", path, "error", err)
		}
		return DefaultIgnoreList()
	}

	rules := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
		rules++
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("error reading ignore file", "path", path, "error", err)
	}
	slog.Debug("loaded ignore file", "path", path, "rules", rules)

	return &IgnoreList{ignore: gitignore.CompileIgnoreLines(lines...), rules: rules}
}

// Rules is the number of rules read from the ignore file.
func (l *IgnoreList) Rules() int {
	return l.rules
}

// ShouldIgnore matches a slash separated path relative to the instance root.
func (l *IgnoreList) ShouldIgnore(path string) bool {
	if l == nil || l.ignore == nil {
		return false
	}
	return l.ignore.MatchesPath(path)
}
