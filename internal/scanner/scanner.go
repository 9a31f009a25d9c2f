// Package scanner discovers indexable files under a project root,
// filtering out excluded directories, sensitive files, binaries, and
// anything .gitignore rules hide.
package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ignoreCacheSize bounds the per-root gitignore matcher cache.
const ignoreCacheSize = 64

// Scanner discovers indexable files in a project directory.
type Scanner struct {
	// ignoreCache holds one compiled gitignore matcher per scanned root;
	// reading every .gitignore in a tree is too expensive to redo per
	// file.
	ignoreCache *lru.Cache[string, gitignore.Matcher]
}

// New creates a Scanner.
func New() (*Scanner, error) {
	cache, err := lru.New[string, gitignore.Matcher](ignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create gitignore cache: %w", err)
	}
	return &Scanner{ignoreCache: cache}, nil
}

// Scan streams discovered files over the returned channel, closing it when
// the walk finishes.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (<-chan ScanResult, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}

	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = "."
	}
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", absRoot)
	}

	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var ignore gitignore.Matcher
	if opts.RespectGitignore {
		ignore = s.ignoreMatcher(absRoot)
	}

	results := make(chan ScanResult, workers*10)
	go func() {
		defer close(results)
		s.walk(ctx, absRoot, opts, maxFileSize, ignore, results)
	}()
	return results, nil
}

// walk traverses the tree, applying directory pruning and per-file filters.
func (s *Scanner) walk(ctx context.Context, absRoot string, opts *ScanOptions, maxFileSize int64, ignore gitignore.Matcher, results chan<- ScanResult) {
	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}

		relPath, err := filepath.Rel(absRoot, path)
		if err != nil || relPath == "." {
			return nil
		}

		if d.IsDir() {
			if s.dirExcluded(relPath, opts) {
				return filepath.SkipDir
			}
			if ignore != nil && ignore.Match(pathSegments(relPath), true) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 && !opts.FollowSymlinks {
			return nil
		}
		if s.fileExcluded(relPath, opts) {
			return nil
		}
		if ignore != nil && ignore.Match(pathSegments(relPath), false) {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > maxFileSize {
			return nil
		}
		if isBinaryFile(path) {
			return nil
		}

		if len(opts.IncludePatterns) > 0 && !matchesAny(relPath, opts.IncludePatterns) {
			return nil
		}

		language := DetectLanguage(relPath)
		file := &FileInfo{
			Path:        relPath,
			AbsPath:     path,
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			ContentType: DetectContentType(language),
			Language:    language,
			IsGenerated: isGeneratedFile(path),
		}
		select {
		case results <- ScanResult{File: file}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err != nil && err != context.Canceled {
		select {
		case results <- ScanResult{Error: err}:
		case <-ctx.Done():
		}
	}
}

// ignoreMatcher compiles every .gitignore under absRoot into one matcher,
// cached per root.
func (s *Scanner) ignoreMatcher(absRoot string) gitignore.Matcher {
	if m, ok := s.ignoreCache.Get(absRoot); ok {
		return m
	}
	patterns, err := gitignore.ReadPatterns(osfs.New(absRoot), nil)
	if err != nil || len(patterns) == 0 {
		return nil
	}
	m := gitignore.NewMatcher(patterns)
	s.ignoreCache.Add(absRoot, m)
	return m
}

// InvalidateGitignoreCache drops the compiled matchers, forcing the next
// Scan to reread .gitignore files.
func (s *Scanner) InvalidateGitignoreCache() {
	s.ignoreCache.Purge()
}

func pathSegments(relPath string) []string {
	return strings.Split(filepath.ToSlash(relPath), "/")
}

// dirExcluded applies the default and configured directory exclusions.
func (s *Scanner) dirExcluded(relPath string, opts *ScanOptions) bool {
	for _, pattern := range defaultExcludeDirs {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	for _, pattern := range opts.ExcludePatterns {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	return false
}

// fileExcluded applies the sensitive, default, and configured file
// exclusions.
func (s *Scanner) fileExcluded(relPath string, opts *ScanOptions) bool {
	base := filepath.Base(relPath)
	for _, group := range [][]string{sensitiveFilePatterns, defaultExcludeFiles, opts.ExcludePatterns} {
		for _, pattern := range group {
			if matchFilePattern(base, relPath, pattern) {
				return true
			}
		}
	}
	return false
}

// matchDirPattern matches a directory path against one exclusion pattern.
// Supported shapes: "**/name/**" (name anywhere in the path), "dir/**"
// (dir and everything under it), and a bare prefix.
func matchDirPattern(relPath, pattern string) bool {
	if strings.HasPrefix(pattern, "**/") {
		name := strings.TrimSuffix(strings.TrimPrefix(pattern, "**/"), "/**")
		for _, segment := range pathSegments(relPath) {
			if segment == name {
				return true
			}
		}
		return false
	}
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return relPath == prefix || strings.HasPrefix(relPath, prefix+string(filepath.Separator))
	}
	return relPath == pattern || strings.HasPrefix(relPath, pattern+string(filepath.Separator))
}

// matchFilePattern matches a file against one exclusion pattern. Patterns
// come in a few shapes; each is tried in order of specificity.
func matchFilePattern(baseName, relPath, pattern string) bool {
	sep := string(filepath.Separator)

	// "dir/**": anything under dir.
	if strings.HasSuffix(pattern, "/**") && !strings.HasPrefix(pattern, "**/") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return strings.HasPrefix(relPath, prefix+sep)
	}

	// "dir/BUG-0*.md": glob filename inside an exact directory.
	if strings.Contains(pattern, sep) && strings.Contains(pattern, "*") && !strings.HasPrefix(pattern, "**/") {
		if filepath.Dir(relPath) != filepath.Dir(pattern) {
			return false
		}
		matched, err := filepath.Match(filepath.Base(pattern), baseName)
		return err == nil && matched
	}

	// "**/x": extension patterns ("**/*.min.js") match the base name,
	// bare names match any path segment.
	if strings.HasPrefix(pattern, "**/") {
		tail := strings.TrimPrefix(pattern, "**/")
		if strings.HasPrefix(tail, "*.") {
			return strings.HasSuffix(baseName, strings.TrimPrefix(tail, "*"))
		}
		for _, segment := range pathSegments(relPath) {
			if segment == tail {
				return true
			}
		}
		return false
	}

	// "*secrets*": case-insensitive substring.
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") {
		middle := strings.Trim(pattern, "*")
		return strings.Contains(strings.ToLower(baseName), strings.ToLower(middle))
	}

	// ".env*": dotfile prefix. "*.pem": suffix. "name*": prefix.
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(baseName, strings.TrimSuffix(pattern, "*"))
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(baseName, strings.TrimPrefix(pattern, "*"))
	}

	return baseName == pattern
}

func matchesAny(relPath string, patterns []string) bool {
	base := filepath.Base(relPath)
	for _, pattern := range patterns {
		if matchFilePattern(base, relPath, pattern) {
			return true
		}
	}
	return false
}

// isBinaryFile sniffs the first 512 bytes for a NUL.
func isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close() //nolint:errcheck

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil {
		return false
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}

// generatedMarkers appear near the top of machine-written files.
var generatedMarkers = []string{
	"// Code generated",
	"// DO NOT EDIT",
	"/* DO NOT EDIT",
	"# Generated by",
	"<!-- AUTO-GENERATED -->",
	"// Generated by",
	"/* Generated by",
}

// isGeneratedFile sniffs the first 1KB for generated-code markers.
func isGeneratedFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close() //nolint:errcheck

	buf := make([]byte, 1024)
	n, err := f.Read(buf)
	if err != nil {
		return false
	}
	head := string(buf[:n])
	for _, marker := range generatedMarkers {
		if strings.Contains(head, marker) {
			return true
		}
	}
	return false
}

// defaultExcludeDirs are never descended into.
var defaultExcludeDirs = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/.aws/**",
	"**/.gcp/**",
	"**/.azure/**",
	"**/.ssh/**",
}

// defaultExcludeFiles are generated or lockfile noise.
var defaultExcludeFiles = []string{
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// sensitiveFilePatterns are never indexed regardless of configuration.
var sensitiveFilePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*credentials*",
	"*secrets*",
	"*password*",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
}
