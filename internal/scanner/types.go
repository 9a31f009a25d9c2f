// Package scanner provides file scanning functionality for the indexer.
// It discovers indexable files in a project, respecting exclusion patterns,
// .gitignore rules, and sensitive file patterns.
package scanner

import (
	"path/filepath"
	"strings"
	"time"
)

// ContentType classifies what a file holds.
type ContentType string

const (
	// ContentTypeCode represents source code files.
	ContentTypeCode ContentType = "code"
	// ContentTypeMarkdown represents markdown documentation files.
	ContentTypeMarkdown ContentType = "markdown"
	// ContentTypeText represents plain text files.
	ContentTypeText ContentType = "text"
	// ContentTypeConfig represents configuration files.
	ContentTypeConfig ContentType = "config"
)

// FileInfo contains metadata about a discovered file.
type FileInfo struct {
	Path        string      // Relative path to project root
	AbsPath     string      // Absolute path
	Size        int64       // File size in bytes
	ModTime     time.Time   // Last modification time
	ContentType ContentType // code, markdown, text, config
	Language    string      // go, typescript, python, etc.
	IsGenerated bool        // Detected as generated file
}

// ScanOptions configures the scanner behavior.
type ScanOptions struct {
	// RootDir is the project root directory to scan.
	RootDir string

	// IncludePatterns specifies patterns to include (empty = all).
	IncludePatterns []string

	// ExcludePatterns specifies patterns to exclude.
	ExcludePatterns []string

	// RespectGitignore enables .gitignore parsing.
	RespectGitignore bool

	// Workers sizes the result channel buffer (0 = NumCPU).
	Workers int

	// MaxFileSize is the maximum file size to include in bytes
	// (0 = DefaultMaxFileSize).
	MaxFileSize int64

	// FollowSymlinks enables following symbolic links (default: false).
	FollowSymlinks bool
}

// ScanResult is returned from the scanner channel.
type ScanResult struct {
	File  *FileInfo
	Error error
}

// DefaultMaxFileSize is the default maximum file size (10MB).
const DefaultMaxFileSize = 10 * 1024 * 1024

// filenameLanguages matches whole file names that carry no extension.
var filenameLanguages = map[string]string{
	"Dockerfile":  "dockerfile",
	"Makefile":    "makefile",
	"makefile":    "makefile",
	"GNUmakefile": "makefile",
}

// extensionLanguages maps lowercase file extensions to language names.
var extensionLanguages = map[string]string{
	".go": "go",

	".js": "javascript", ".jsx": "javascript", ".mjs": "javascript",
	".ts": "typescript", ".tsx": "typescript",

	".py": "python", ".pyw": "python", ".pyi": "python",

	".rb": "ruby", ".rake": "ruby", ".erb": "erb",

	".rs": "rust",
	".java": "java",
	".kt":   "kotlin", ".kts": "kotlin",
	".c": "c", ".h": "c",
	".cpp": "cpp", ".hpp": "cpp", ".cc": "cpp", ".cxx": "cpp",
	".cs":    "csharp",
	".swift": "swift",
	".php":   "php",
	".scala": "scala",
	".ex": "elixir", ".exs": "elixir", ".erl": "erlang",
	".hs":  "haskell",
	".lua": "lua",
	".r":   "r",
	".sql": "sql",

	".sh": "shell", ".bash": "shell", ".zsh": "shell", ".fish": "fish",

	".html": "html", ".htm": "html",
	".css": "css", ".scss": "scss", ".sass": "sass", ".less": "less",
	".vue": "vue", ".svelte": "svelte",
	".graphql": "graphql", ".gql": "graphql",
	".proto": "protobuf",

	".json": "json",
	".yaml": "yaml", ".yml": "yaml",
	".toml": "toml", ".xml": "xml", ".ini": "ini",
	".conf": "config", ".properties": "properties",

	".md": "markdown", ".mdx": "markdown", ".markdown": "markdown",
	".rst": "rst",
	".txt": "text",
}

// nonCodeContentTypes maps the languages that are not source code;
// everything else known defaults to code.
var nonCodeContentTypes = map[string]ContentType{
	"markdown": ContentTypeMarkdown,
	"rst":      ContentTypeMarkdown,
	"text":     ContentTypeText,

	"json":       ContentTypeConfig,
	"yaml":       ContentTypeConfig,
	"toml":       ContentTypeConfig,
	"xml":        ContentTypeConfig,
	"ini":        ContentTypeConfig,
	"config":     ContentTypeConfig,
	"properties": ContentTypeConfig,
	"dockerfile": ContentTypeConfig,
	"makefile":   ContentTypeConfig,
}

// DetectLanguage maps a file path to its language name, by exact file name
// first (Dockerfile, Makefile) and extension second. Unknown files return
// "".
func DetectLanguage(path string) string {
	if lang, ok := filenameLanguages[filepath.Base(path)]; ok {
		return lang
	}
	if lang, ok := extensionLanguages[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return ""
}

// DetectContentType classifies a detected language.
func DetectContentType(language string) ContentType {
	if ct, ok := nonCodeContentTypes[language]; ok {
		return ct
	}
	if language == "" {
		return ContentTypeText
	}
	return ContentTypeCode
}
