package bundle

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"

	"github.com/pcviewer/viewerkit/internal/fsx"
)

// StaticRule copies files matching Patterns into Dest. A file keeps its path
// relative to the non-glob prefix of the pattern that matched it, so
// "resources/**/*" copies resources/icons/a.svg to Dest/icons/a.svg.
type StaticRule struct {
	Dest     string
	Patterns []string
}

// CollectStatic applies rules against root and returns how many files were
// copied. A pattern without glob characters must match an existing file.
func CollectStatic(root string, rules []StaticRule) (int, error) {
	fsys := os.DirFS(root)
	copied := 0
	for _, rule := range rules {
		for _, pattern := range rule.Patterns {
			if !doublestar.ValidatePattern(pattern) {
				return copied, &ConfigError{Msg: "invalid static pattern " + pattern}
			}
			matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
			if err != nil {
				return copied, errors.Wrapf(err, "error matching %q", pattern)
			}
			if len(matches) == 0 && isLiteral(pattern) {
				return copied, errors.Wrapf(os.ErrNotExist, "static file %q", pattern)
			}
			base, _ := doublestar.SplitPattern(pattern)
			if isLiteral(pattern) {
				base = filepath.ToSlash(filepath.Dir(pattern))
			}
			for _, match := range matches {
				rel, err := filepath.Rel(filepath.FromSlash(base), filepath.FromSlash(match))
				if err != nil {
					return copied, errors.Wrapf(err, "error resolving %q", match)
				}
				dst := filepath.Join(root, rule.Dest, rel)
				if err := fsx.CopyFile(filepath.Join(root, filepath.FromSlash(match)), dst); err != nil {
					return copied, err
				}
				copied++
			}
		}
	}
	return copied, nil
}

func isLiteral(pattern string) bool {
	return !strings.ContainsAny(pattern, `*?[{\`)
}
