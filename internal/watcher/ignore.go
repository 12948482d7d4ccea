package watcher

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/swxsoc/fswatcher/internal/utils"
)

// IgnoreFileName is the optional per-root pattern file, one gitignore-style
// pattern per line.
const IgnoreFileName = ".fswatcherignore"

var defaultIgnoreLines = []string{
	// the daemon's own artifacts
	IgnoreFileName,
	".fswatcher.lock",
	"fswatcher.log",
	// transient editor/OS noise
	"*.tmp",
	"*.swp",
	"*~",
	".DS_Store",
	"Thumbs.db",
	// version control internals
	".git/",
}

// IgnoreList decides which paths under the root never sync. It always
// carries the defaults above; patterns from the root's ignore file are
// layered on top.
type IgnoreList struct {
	root   string
	ignore *gitignore.GitIgnore
}

func NewIgnoreList(root string) *IgnoreList {
	il := &IgnoreList{root: root}
	il.Load()
	return il
}

func (il *IgnoreList) Load() {
	ignorePath := filepath.Join(il.root, IgnoreFileName)
	ignoreLines := append([]string{}, defaultIgnoreLines...)

	if utils.FileExists(ignorePath) {
		rules := 0
		file, err := os.Open(ignorePath)
		if err != nil {
			slog.Warn("failed to open ignore file", "path", ignorePath, "error", err)
		} else {
			defer file.Close()

			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				line := scanner.Text()
				if line != "" {
					ignoreLines = append(ignoreLines, line)
					rules++
				}
			}

			if err := scanner.Err(); err != nil {
				slog.Warn("error reading ignore file", "path", ignorePath, "error", err)
			} else {
				slog.Info("loaded ignore file", "path", ignorePath, "rules", rules)
			}
		}
	}

	il.ignore = gitignore.CompileIgnoreLines(ignoreLines...)
}

// Match reports whether path is excluded from syncing. It accepts absolute
// paths under the root.
func (il *IgnoreList) Match(path string) bool {
	rel, err := filepath.Rel(il.root, path)
	if err != nil {
		return false
	}
	return il.ignore.MatchesPath(rel)
}
