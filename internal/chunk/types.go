package chunk

import (
	"context"
	"strings"
	"time"
)

// Chunk size defaults (based on 2025 RAG research)
const (
	DefaultMaxChunkTokens = 512 // Optimal for 85-90% recall
	DefaultOverlapTokens  = 64  // ~12.5% overlap
	MinChunkTokens        = 100 // Minimum viable chunk
	TokensPerChar         = 4   // Rough approximation: 4 chars = 1 token
)

// ContentType represents the type of content in a chunk
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// Chunk is a retrievable unit of content
type Chunk struct {
	ID          string            // SHA256(file_path + ":" + SHA256(content)[:16])[:16]
	FilePath    string            // Relative to project root
	Content     string            // Full content with context
	RawContent  string            // Just the symbol, no context (code only)
	Context     string            // Imports, package decl (code only)
	ContentType ContentType       // code, markdown, text
	Language    string            // go, typescript, python, etc.
	StartLine   int               // 1-indexed
	EndLine     int               // Inclusive
	Symbols     []*Symbol         // Functions, classes, etc.
	Metadata    map[string]string // Custom metadata
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// CodeMeta is the structural metadata for chunks produced by
	// CodeChunker and MarkdownChunker.
	CodeMeta *ChunkMetadata
}

// FileInput is input for the Chunker interface
type FileInput struct {
	Path     string // Relative path
	Content  []byte // File content
	Language string // go, typescript, python, etc.
}

// Chunker is the interface for splitting files into chunks
type Chunker interface {
	// Chunk splits a file into semantic chunks
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)

	// SupportedExtensions returns file extensions this chunker handles
	SupportedExtensions() []string
}

// SymbolType represents the kind of code symbol
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeClass     SymbolType = "class"
	SymbolTypeInterface SymbolType = "interface"
	SymbolTypeType      SymbolType = "type"
	SymbolTypeVariable  SymbolType = "variable"
	SymbolTypeConstant  SymbolType = "constant"
	SymbolTypeMethod    SymbolType = "method"
)

// Symbol represents a code symbol extracted from parsing
type Symbol struct {
	Name       string
	Type       SymbolType
	StartLine  int
	EndLine    int
	Signature  string
	DocComment string
}

// Tree represents a parsed AST
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node represents a node in the AST
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point represents a position in the source code
type Point struct {
	Row    uint32 // 0-indexed line number
	Column uint32
}

// ChunkType classifies a chunk by the kind of construct it holds, derived
// from the AST node-type string per the language's chunkable-type table:
// names containing "function"/"method" map to ChunkTypeFunction,
// "class"/"struct"/"module" to ChunkTypeClass, "interface"/"trait" to
// ChunkTypeInterface, and anything else to ChunkTypeBlock. Character-chunked
// pieces of an oversized node keep that node's type; Ruby body groups and
// whole-file fallback chunks are ChunkTypeBlock.
type ChunkType string

const (
	ChunkTypeFunction  ChunkType = "function"
	ChunkTypeClass     ChunkType = "class"
	ChunkTypeInterface ChunkType = "interface"
	ChunkTypeBlock     ChunkType = "block"
)

// chunkTypeFromNodeType derives a ChunkType from a tree-sitter node type
// name using simple substring matching.
func chunkTypeFromNodeType(nodeType string) ChunkType {
	lower := strings.ToLower(nodeType)
	switch {
	case strings.Contains(lower, "function") || strings.Contains(lower, "method"):
		return ChunkTypeFunction
	case strings.Contains(lower, "class") || strings.Contains(lower, "struct") || strings.Contains(lower, "module"):
		return ChunkTypeClass
	case strings.Contains(lower, "interface") || strings.Contains(lower, "trait"):
		return ChunkTypeInterface
	default:
		return ChunkTypeBlock
	}
}

// GitInfo is the nested "git" metadata record attached to a chunk once git
// enrichment has run: per-chunk blame aggregation (internal/gitblame) plus
// the churn overlay diffed from commit history (internal/gitlog).
type GitInfo struct {
	// From blame aggregation (internal/gitblame), over the chunk's line range.
	DominantAuthor string    `json:"dominantAuthor,omitempty"`
	Authors        []string  `json:"authors,omitempty"`
	Commits        []string  `json:"commits,omitempty"`
	LastCommitHash string    `json:"lastCommitHash,omitempty"`
	AgeDays        int       `json:"ageDays"`
	TaskIDs        []string  `json:"taskIds,omitempty"`

	// From the chunk churn overlay (internal/gitlog).
	ChunkCommitCount      int     `json:"chunkCommitCount"`
	ChunkChurnRatio       float64 `json:"chunkChurnRatio"`
	ChunkContributorCount int     `json:"chunkContributorCount"`
	ChunkBugFixRate       float64 `json:"chunkBugFixRate"`
	ChunkLastModifiedAt   int64   `json:"chunkLastModifiedAt,omitempty"` // unix ms
	ChunkAgeDays          int     `json:"chunkAgeDays"`

	// DominantAuthorPct, when known, is the fraction (0-100) of the chunk's
	// lines attributed to DominantAuthor; the reranker's ownership signal
	// prefers this over 1/len(Authors) when present.
	DominantAuthorPct float64 `json:"dominantAuthorPct,omitempty"`
}

// ChunkMetadata carries the structural metadata attached to a code chunk:
// file/language/position within the chunking pass, the
// chunkable-type classification, symbol naming, and (once background git
// enrichment has run) a nested GitInfo record.
type ChunkMetadata struct {
	FilePath        string
	Language        string
	ChunkIndex      int
	ChunkType       ChunkType
	Name            string
	ParentName      string
	ParentType      ChunkType
	SymbolID        string
	IsDocumentation bool
	Imports         []string
	// LineRanges records non-contiguous line spans for chunks assembled
	// from several original source regions (Ruby body groups); empty for
	// ordinary contiguous AST-node chunks.
	LineRanges []LineRange
	Git        *GitInfo
}

// LanguageConfig holds configuration for a supported language
type LanguageConfig struct {
	Name       string
	Extensions []string

	// Node types that indicate function declarations
	FunctionTypes []string

	// Node types that indicate class/struct definitions
	ClassTypes []string

	// Node types that indicate interface definitions
	InterfaceTypes []string

	// Node types that indicate method definitions
	MethodTypes []string

	// Node types that indicate type definitions
	TypeDefTypes []string

	// Node types that indicate constant declarations
	ConstantTypes []string

	// Node types that indicate variable declarations
	VariableTypes []string

	// Node type for name identifier
	NameField string

	// ChunkableTypes are the top-level AST node types the chunker walks for
	// and emits as standalone chunks (functions, classes, methods, and so
	// on). The walk does not descend into a matched node's children.
	ChunkableTypes []string

	// ChildChunkTypes are the node types tried when a chunkable node is
	// oversized and needs to be split by its own children (e.g. a class's
	// methods) rather than by raw character count.
	ChildChunkTypes []string

	// RubyBodyTypes are container node types (class/module) whose
	// non-method body lines should additionally be run through the Ruby
	// class-body DSL grouper. Empty for every language but Ruby.
	RubyBodyTypes []string
}
