package versioning

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// defaultExcludes are never snapshotted regardless of .gitignore. Patterns
// ending in "/" match directories (and everything under them); other patterns
// are fnmatch-style against the basename or any path segment.
var defaultExcludes = []string{
	// Version control
	".git/", ".svn/", ".hg/",
	// Agent state
	".agentsmithy/", "chroma_db/",
	// Python
	".venv/", "venv/", "env/", ".env/", "__pycache__/",
	"*.pyc", "*.pyo", "*.pyd",
	".pytest_cache/", ".mypy_cache/", ".ruff_cache/", ".tox/",
	".coverage", "htmlcov/", "*.egg-info/", "dist/", "build/", ".eggs/",
	// Node.js
	"node_modules/", ".npm/", ".yarn/",
	"npm-debug.log*", "yarn-error.log*",
	".next/", ".nuxt/", "out/", ".cache/",
	// JVM
	"target/", ".gradle/", ".m2/",
	"*.class", "*.jar", "*.war", "*.ear",
	// C / C++
	"*.o", "*.obj", "*.exe", "*.out", "*.a", "*.lib",
	"*.so", "*.dylib", "*.dll",
	"cmake-build-*/", "CMakeFiles/", "CMakeCache.txt",
	// Rust
	"Cargo.lock",
	// Go
	"vendor/", "*.test",
	// .NET
	"bin/", "obj/", "*.pdb",
	// Ruby
	".bundle/", "*.gem",
	// PHP
	"composer.lock",
	// Swift / iOS
	".build/", "DerivedData/", "*.xcworkspace", "Pods/",
	"*.ipa", "*.xcassets/", "*.app/", "*.framework/", "*.dSYM/",
	// Android
	"*.apk", "*.aab", "local.properties",
	// Databases
	"*.db", "*.sqlite", "*.sqlite3",
	// OS / editor litter
	".DS_Store", "Thumbs.db", "desktop.ini",
	// Logs and temp files
	"*.log", "logs/", "tmp/", "temp/",
	"*.tmp", "*.bak", "*.swp", "*.swo", "*~",
}

type ignoreRules struct {
	patterns []string
}

// loadIgnoreRules merges the default excludes with the workspace's .gitignore.
func loadIgnoreRules(workRoot string) *ignoreRules {
	patterns := make([]string, 0, len(defaultExcludes)+16)
	patterns = append(patterns, defaultExcludes...)

	f, err := os.Open(filepath.Join(workRoot, ".gitignore"))
	if err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
				continue
			}
			patterns = append(patterns, line)
		}
	}
	return &ignoreRules{patterns: patterns}
}

// Match reports whether the relative slash path should be excluded from
// workspace scans.
func (ig *ignoreRules) Match(rel string, isDir bool) bool {
	segments := strings.Split(rel, "/")
	base := segments[len(segments)-1]

	for _, pat := range ig.patterns {
		dirOnly := strings.HasSuffix(pat, "/")
		p := strings.TrimSuffix(pat, "/")
		p = strings.TrimPrefix(p, "/")

		if strings.Contains(p, "/") {
			// Anchored pattern: match against the whole path.
			if ok, _ := path.Match(p, rel); ok {
				if !dirOnly || isDir {
					return true
				}
			}
			if strings.HasPrefix(rel, p+"/") {
				return true
			}
			continue
		}

		if dirOnly {
			// Directory name appearing anywhere in the path.
			limit := len(segments)
			if !isDir {
				limit-- // a file's own name does not match a dir pattern
			}
			for _, seg := range segments[:max(limit, 0)] {
				if ok, _ := path.Match(p, seg); ok {
					return true
				}
			}
			if isDir {
				if ok, _ := path.Match(p, base); ok {
					return true
				}
			}
			continue
		}

		if ok, _ := path.Match(p, base); ok {
			return true
		}
	}
	return false
}
