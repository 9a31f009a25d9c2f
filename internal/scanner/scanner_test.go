package scanner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func scanAll(t *testing.T, opts *ScanOptions) map[string]*FileInfo {
	t.Helper()
	s, err := New()
	require.NoError(t, err)

	results, err := s.Scan(context.Background(), opts)
	require.NoError(t, err)

	files := make(map[string]*FileInfo)
	for res := range results {
		require.NoError(t, res.Error)
		if res.File != nil {
			files[filepath.ToSlash(res.File.Path)] = res.File
		}
	}
	return files
}

func TestScanDiscoversSourceFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.go":          "package main\n\nfunc main() {}\n",
		"pkg/util/util.go": "package util\n",
		"docs/readme.md":   "# Readme\n",
	})

	files := scanAll(t, &ScanOptions{RootDir: root})
	require.Len(t, files, 3)

	main := files["main.go"]
	require.NotNil(t, main)
	assert.Equal(t, "go", main.Language)
	assert.Equal(t, ContentTypeCode, main.ContentType)
	assert.Greater(t, main.Size, int64(0))

	readme := files["docs/readme.md"]
	require.NotNil(t, readme)
	assert.Equal(t, "markdown", readme.Language)
	assert.Equal(t, ContentTypeMarkdown, readme.ContentType)
}

func TestScanPrunesDefaultDirs(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"app.js":                    "const x = 1;\n",
		"node_modules/lib/index.js": "module.exports = {};\n",
		"vendor/dep/dep.go":         "package dep\n",
		"sub/node_modules/x.js":     "var y;\n",
	})

	files := scanAll(t, &ScanOptions{RootDir: root})
	require.Len(t, files, 1)
	assert.NotNil(t, files["app.js"])
}

func TestScanSkipsSensitiveFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"config.go":         "package config\n",
		".env":              "SECRET=1\n",
		".env.production":   "SECRET=2\n",
		"server.pem":        "-----BEGIN CERTIFICATE-----\n",
		"aws_credentials":   "key\n",
		"db_password.txt":   "hunter2\n",
		"deploy/id_ed25519": "key material\n",
	})

	files := scanAll(t, &ScanOptions{RootDir: root})
	require.Len(t, files, 1)
	assert.NotNil(t, files["config.go"])
}

func TestScanCustomExcludePatterns(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"keep.go":                  "package keep\n",
		"archive/old.md":           "# Old\n",
		"archive/deep/older.md":    "# Older\n",
		".project-docs/index.yaml": "version: 1\n",
	})

	files := scanAll(t, &ScanOptions{
		RootDir:         root,
		ExcludePatterns: []string{"archive/**", ".project-docs/**"},
	})
	require.Len(t, files, 1)
	assert.NotNil(t, files["keep.go"])
}

func TestScanIncludePatterns(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.go": "package a\n",
		"b.py": "x = 1\n",
		"c.md": "# C\n",
	})

	files := scanAll(t, &ScanOptions{RootDir: root, IncludePatterns: []string{"*.go"}})
	require.Len(t, files, 1)
	assert.NotNil(t, files["a.go"])
}

func TestScanRespectsGitignore(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore":        "generated/\n*.log\n",
		"main.go":           "package main\n",
		"trace.log":         "line\n",
		"generated/out.go":  "package out\n",
		"sub/.gitignore":    "local.txt\n",
		"sub/local.txt":     "scratch\n",
		"sub/kept.go":       "package sub\n",
	})

	files := scanAll(t, &ScanOptions{RootDir: root, RespectGitignore: true})

	assert.NotNil(t, files["main.go"])
	assert.NotNil(t, files["sub/kept.go"])
	assert.Nil(t, files["trace.log"])
	assert.Nil(t, files["generated/out.go"])
	assert.Nil(t, files["sub/local.txt"])
	// The .gitignore files themselves are still scannable text.
	assert.NotNil(t, files[".gitignore"])
}

func TestScanWithoutGitignoreFlagKeepsIgnored(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore": "*.log\n",
		"trace.log":  "line\n",
	})

	files := scanAll(t, &ScanOptions{RootDir: root})
	assert.NotNil(t, files["trace.log"])
}

func TestInvalidateGitignoreCache(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.go": "package main\n",
	})

	s, err := New()
	require.NoError(t, err)

	drain := func() map[string]bool {
		results, err := s.Scan(context.Background(), &ScanOptions{RootDir: root, RespectGitignore: true})
		require.NoError(t, err)
		seen := make(map[string]bool)
		for res := range results {
			if res.File != nil {
				seen[filepath.ToSlash(res.File.Path)] = true
			}
		}
		return seen
	}

	require.True(t, drain()["main.go"])

	// A .gitignore written after the first scan only applies once the
	// cache is invalidated.
	writeTree(t, root, map[string]string{".gitignore": "main.go\n"})
	s.InvalidateGitignoreCache()
	assert.False(t, drain()["main.go"])
}

func TestScanSkipsLargeAndBinaryFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"small.go": "package small\n",
		"big.go":   "package big\n" + strings.Repeat("// padding line\n", 100),
	})
	require.NoError(t, os.WriteFile(filepath.Join(root, "blob.bin"), []byte{0x7f, 'E', 'L', 'F', 0x00, 0x01}, 0o644))

	files := scanAll(t, &ScanOptions{RootDir: root, MaxFileSize: 100})
	require.Len(t, files, 1)
	assert.NotNil(t, files["small.go"])
}

func TestScanMarksGeneratedFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"handwritten.go": "package hand\n",
		"generated.go":   "// Code generated by protoc. DO NOT EDIT.\npackage gen\n",
	})

	files := scanAll(t, &ScanOptions{RootDir: root})
	require.Len(t, files, 2)
	assert.False(t, files["handwritten.go"].IsGenerated)
	assert.True(t, files["generated.go"].IsGenerated)
}

func TestScanErrorsOnMissingRoot(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	_, err = s.Scan(context.Background(), &ScanOptions{RootDir: "/nonexistent/path/xyz"})
	assert.Error(t, err)
}

func TestMatchDirPattern(t *testing.T) {
	tests := []struct {
		relPath string
		pattern string
		want    bool
	}{
		{"node_modules", "**/node_modules/**", true},
		{"a/b/node_modules", "**/node_modules/**", true},
		{"node_modules_backup", "**/node_modules/**", false},
		{".project-docs", ".project-docs/**", true},
		{".project-docs/backlog", ".project-docs/**", true},
		{".project-docs-backup", ".project-docs/**", false},
		{"docs", "docs", true},
		{"docs/sub", "docs", true},
		{"docsite", "docs", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchDirPattern(tt.relPath, tt.pattern),
			"path %q pattern %q", tt.relPath, tt.pattern)
	}
}

func TestMatchFilePattern(t *testing.T) {
	tests := []struct {
		relPath string
		pattern string
		want    bool
	}{
		{"app.min.js", "**/*.min.js", true},
		{"assets/app.min.js", "**/*.min.js", true},
		{"app.js", "**/*.min.js", false},
		{"go.sum", "**/go.sum", true},
		{"sub/go.sum", "**/go.sum", true},
		{".env", ".env", true},
		{".env.local", ".env.*", true},
		{"environment.go", ".env.*", false},
		{"server.pem", "*.pem", true},
		{"my_credentials_file", "*credentials*", true},
		{"archive/notes.md", "archive/**", true},
		{"archived.md", "archive/**", false},
		{"docs/bugs/BUG-012.md", "docs/bugs/BUG-0*.md", true},
		{"docs/bugs/FEAT-012.md", "docs/bugs/BUG-0*.md", false},
		{"other/BUG-012.md", "docs/bugs/BUG-0*.md", false},
	}
	for _, tt := range tests {
		base := filepath.Base(tt.relPath)
		assert.Equal(t, tt.want, matchFilePattern(base, tt.relPath, tt.pattern),
			"path %q pattern %q", tt.relPath, tt.pattern)
	}
}

func TestDetectLanguageAndContentType(t *testing.T) {
	tests := []struct {
		path     string
		language string
		content  ContentType
	}{
		{"a.go", "go", ContentTypeCode},
		{"a.ts", "typescript", ContentTypeCode},
		{"a.py", "python", ContentTypeCode},
		{"a.rb", "ruby", ContentTypeCode},
		{"a.md", "markdown", ContentTypeMarkdown},
		{"a.yaml", "yaml", ContentTypeConfig},
		{"notes.txt", "text", ContentTypeText},
	}
	for _, tt := range tests {
		lang := DetectLanguage(tt.path)
		assert.Equal(t, tt.language, lang, tt.path)
		assert.Equal(t, tt.content, DetectContentType(lang), tt.path)
	}
}
