package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ignoredDirNames are directory names file tools never descend into or
// report, mirroring the versioning engine's default excludes.
var ignoredDirNames = map[string]bool{
	".git":         true,
	".agentsmithy": true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	".tox":         true,
	".mypy_cache":  true,
	".ruff_cache":  true,
	".idea":        true,
	".vscode":      true,
	"chroma_db":    true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"vendor":       true,
}

// resolveWorkspacePath resolves path against the workspace root and rejects
// resolved paths that escape it. Symlinks are followed so a link inside the
// workspace cannot smuggle access outside; for files that do not exist yet
// the parent directory is canonicalized instead.
func resolveWorkspacePath(path, workspace string) (string, error) {
	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(workspace, path))
	}

	absWorkspace, _ := filepath.Abs(workspace)
	wsReal, err := filepath.EvalSymlinks(absWorkspace)
	if err != nil {
		wsReal = absWorkspace
	}

	absResolved, _ := filepath.Abs(resolved)
	real, err := filepath.EvalSymlinks(absResolved)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("access denied: cannot resolve path")
		}
		parentReal, perr := filepath.EvalSymlinks(filepath.Dir(absResolved))
		if perr != nil {
			if !os.IsNotExist(perr) {
				return "", fmt.Errorf("access denied: cannot resolve path")
			}
			parentReal = filepath.Dir(absResolved)
		}
		real = filepath.Join(parentReal, filepath.Base(absResolved))
	}

	if !isPathInside(real, wsReal) {
		return "", fmt.Errorf("access denied: path outside workspace")
	}
	return real, nil
}

// isRestrictedRoot rejects listing/searching filesystem roots and the home
// directory, which are never useful and can be enormous.
func isRestrictedRoot(path string) bool {
	clean := filepath.Clean(path)
	if clean == string(filepath.Separator) {
		return true
	}
	if home, err := os.UserHomeDir(); err == nil && clean == filepath.Clean(home) {
		return true
	}
	return false
}

// shouldSkip reports whether a directory entry is hidden or inside an
// ignored directory. includeHidden lifts only the dot-file rule.
func shouldSkip(rel string, includeHidden bool) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == "" || part == "." {
			continue
		}
		if ignoredDirNames[part] {
			return true
		}
		if !includeHidden && strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}
