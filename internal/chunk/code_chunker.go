package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// CodeChunkerOptions configures the code chunker behavior
type CodeChunkerOptions struct {
	MaxChunkTokens int // Maximum tokens per chunk (default: DefaultMaxChunkTokens)
	OverlapTokens  int // Stored overlap budget (default: DefaultOverlapTokens); the character splitter does not overlap chunks
}

// maxChunkSizeBytes converts the configured token budget into a byte-size
// bound: a node whose text exceeds twice this bound is considered oversized
// and is split rather than embedded whole.
func (o CodeChunkerOptions) maxChunkSizeBytes() int {
	return o.MaxChunkTokens * TokensPerChar
}

// minChunkBytes is the minimum emit size: a candidate node or child whose
// text is shorter than this is too small to carry standalone semantic value
// and is dropped.
const minChunkBytes = 50

// minWholeFileBytes is the threshold below which an empty chunking result
// is left empty rather than falling back to character chunking the whole
// (tiny) file.
const minWholeFileBytes = 100

// CodeChunker implements AST-aware code chunking using tree-sitter
type CodeChunker struct {
	parser   *Parser
	registry *LanguageRegistry
	options  CodeChunkerOptions
}

// NewCodeChunker creates a new code chunker with default options
func NewCodeChunker() *CodeChunker {
	return NewCodeChunkerWithOptions(CodeChunkerOptions{})
}

// NewCodeChunkerWithOptions creates a new code chunker with custom options
func NewCodeChunkerWithOptions(opts CodeChunkerOptions) *CodeChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}

	registry := DefaultRegistry()
	return &CodeChunker{
		parser:   NewParserWithRegistry(registry),
		registry: registry,
		options:  opts,
	}
}

// Close releases chunker resources
func (c *CodeChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// SupportedExtensions returns file extensions this chunker handles
func (c *CodeChunker) SupportedExtensions() []string {
	return c.registry.SupportedExtensions()
}

// chunkState threads the running chunk index and source context through
// the recursive chunk-building helpers below.
type chunkState struct {
	file       *FileInput
	tree       *Tree
	context    string
	imports    []string
	now        time.Time
	nextIndex  int
}

// Chunk splits a file into semantic chunks: collect non-nested top-level
// AST nodes of a chunkable type, drop tiny ones, split oversized ones by
// their children (falling back to character chunking), and character-chunk
// the whole file if nothing else produced a chunk.
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	config, supported := c.registry.GetByName(file.Language)
	if !supported {
		return c.wholeFileFallback(file, nil)
	}

	tree, err := c.parser.Parse(ctx, file.Content, file.Language)
	if err != nil {
		// Parse failures are never fatal: fall through to character chunking.
		return c.wholeFileFallback(file, nil)
	}

	fileContext := c.extractFileContext(tree, file.Content, file.Language)
	imports := c.extractImports(tree, file.Language)
	fileContext = c.enrichContextWithFilePath(file.Path, file.Language, fileContext)

	st := &chunkState{file: file, tree: tree, context: fileContext, imports: imports, now: time.Now()}

	nodes := collectChunkableNodes(tree.Root, config.ChunkableTypes)
	var chunks []*Chunk
	for _, node := range nodes {
		chunks = append(chunks, c.chunkNode(node, config, st, "", "")...)
	}

	if len(chunks) == 0 {
		return c.wholeFileFallback(file, st)
	}
	return chunks, nil
}

// chunkNode handles one top-level chunkable node: drop tiny, emit normal,
// split oversized, plus the Ruby class-body grouping hook for RubyBodyTypes
// containers.
func (c *CodeChunker) chunkNode(node *Node, config *LanguageConfig, st *chunkState, parentName string, parentType ChunkType) []*Chunk {
	text := node.GetContent(st.tree.Source)
	if len(strings.TrimSpace(text)) < minChunkBytes {
		return nil
	}

	chunkType := chunkTypeFromNodeType(node.Type)
	name := nodeName(node, st.tree.Source, st.file.Language)

	symType := symbolTypeForNode(node.Type, config, chunkType)

	var out []*Chunk
	if len(text) > 2*st.maxSize(c) {
		children := collectChunkableNodes(node, config.ChildChunkTypes)
		var childChunks []*Chunk
		for _, child := range children {
			childChunks = append(childChunks, c.emitOrSplitChild(child, st, config, name, chunkType)...)
		}
		if len(childChunks) == 0 {
			childChunks = c.characterChunkNode(node, st, parentName, parentType)
		}
		out = append(out, childChunks...)
	} else {
		out = append(out, c.buildChunk(node, st, chunkType, symType, name, parentName, parentType))
	}

	if isRubyBodyContainer(config, node.Type) {
		out = append(out, c.rubyBodyChunks(node, st, name, chunkType, children(config, node, st))...)
	}

	return out
}

// emitOrSplitChild handles a single childChunkTypes match found while
// splitting an oversized container.
func (c *CodeChunker) emitOrSplitChild(child *Node, st *chunkState, config *LanguageConfig, parentName string, parentType ChunkType) []*Chunk {
	text := child.GetContent(st.tree.Source)
	if len(strings.TrimSpace(text)) < minChunkBytes {
		return nil
	}
	childType := chunkTypeFromNodeType(child.Type)
	if len(text) > 2*st.maxSize(c) {
		return c.characterChunkNode(child, st, parentName, parentType)
	}
	symType := symbolTypeForNode(child.Type, config, childType)
	name := nodeName(child, st.tree.Source, st.file.Language)
	return []*Chunk{c.buildChunk(child, st, childType, symType, name, parentName, parentType)}
}

// children returns the outermost method-like descendants of a Ruby class or
// module node so its lines can be excluded before the body grouper runs.
func children(config *LanguageConfig, node *Node, st *chunkState) []*Node {
	return collectChunkableNodes(node, config.ChildChunkTypes)
}

// isRubyBodyContainer reports whether nodeType is configured as a Ruby
// class/module container that should additionally run through the
// class-body DSL grouper.
func isRubyBodyContainer(config *LanguageConfig, nodeType string) bool {
	for _, t := range config.RubyBodyTypes {
		if t == nodeType {
			return true
		}
	}
	return false
}

// rubyBodyChunks extracts the method-free class/module body lines and
// classifies them with GroupRubyBody, emitting one chunk per surviving
// group.
func (c *CodeChunker) rubyBodyChunks(node *Node, st *chunkState, className string, classType ChunkType, methodNodes []*Node) []*Chunk {
	startLine := int(node.StartPoint.Row) + 1
	endLine := int(node.EndPoint.Row) + 1
	raw := node.GetContent(st.tree.Source)
	lines := strings.Split(raw, "\n")
	if len(lines) != endLine-startLine+1 {
		// Defensive: GetContent's line count should match the node span;
		// if not, skip grouping rather than risk misaligned line numbers.
		return nil
	}

	for _, m := range methodNodes {
		mStart := int(m.StartPoint.Row) + 1 - startLine
		mEnd := int(m.EndPoint.Row) + 1 - startLine
		for i := mStart; i >= 0 && i <= mEnd && i < len(lines); i++ {
			lines[i] = ""
		}
	}

	groups := GroupRubyBody(lines, startLine)
	groups = SplitOversizedGroups(groups, st.maxSize(c))

	var out []*Chunk
	for _, g := range groups {
		if strings.TrimSpace(g.Content) == "" {
			continue
		}
		if len(g.LineRanges) == 0 {
			continue
		}
		gStart := g.LineRanges[0].Start
		gEnd := g.LineRanges[len(g.LineRanges)-1].End
		out = append(out, &Chunk{
			ID:          generateChunkID(st.file.Path, g.Content),
			FilePath:    st.file.Path,
			Content:     combineContextAndContent(st.context, g.Content),
			RawContent:  g.Content,
			Context:     st.context,
			ContentType: ContentTypeCode,
			Language:    st.file.Language,
			StartLine:   gStart,
			EndLine:     gEnd,
			Symbols:     []*Symbol{{Name: string(g.Type), Type: SymbolTypeVariable, StartLine: gStart, EndLine: gEnd}},
			Metadata:    make(map[string]string),
			CreatedAt:   st.now,
			UpdatedAt:   st.now,
			CodeMeta: &ChunkMetadata{
				FilePath:   st.file.Path,
				Language:   st.file.Language,
				ChunkIndex: st.allocIndex(),
				ChunkType:  ChunkTypeBlock,
				Name:       string(g.Type),
				ParentName: className,
				ParentType: classType,
				SymbolID:   className + "." + string(g.Type),
				LineRanges: g.LineRanges,
			},
		})
	}
	return out
}

func (s *chunkState) maxSize(c *CodeChunker) int { return c.options.maxChunkSizeBytes() }

func (s *chunkState) allocIndex() int {
	idx := s.nextIndex
	s.nextIndex++
	return idx
}

// buildChunk assembles a Chunk (and its ChunkMetadata) from a single AST
// node that is small enough to embed whole.
func (c *CodeChunker) buildChunk(node *Node, st *chunkState, chunkType ChunkType, symType SymbolType, name, parentName string, parentType ChunkType) *Chunk {
	docComment := c.extractDocComment(node, st.tree.Source, st.file.Language)
	content := node.GetContent(st.tree.Source)
	if docComment != "" {
		content = c.getRawContentWithDocComment(node, st.tree.Source, docComment)
	}

	startLine := int(node.StartPoint.Row) + 1
	endLine := int(node.EndPoint.Row) + 1

	symbolID := name
	if parentName != "" {
		symbolID = parentName + "." + name
	}

	return &Chunk{
		ID:          generateChunkID(st.file.Path, content),
		FilePath:    st.file.Path,
		Content:     combineContextAndContent(st.context, content),
		RawContent:  content,
		Context:     st.context,
		ContentType: ContentTypeCode,
		Language:    st.file.Language,
		StartLine:   startLine,
		EndLine:     endLine,
		Symbols:     []*Symbol{{Name: name, Type: symType, StartLine: startLine, EndLine: endLine, DocComment: docComment}},
		Metadata:    make(map[string]string),
		CreatedAt:   st.now,
		UpdatedAt:   st.now,
		CodeMeta: &ChunkMetadata{
			FilePath:        st.file.Path,
			Language:        st.file.Language,
			ChunkIndex:      st.allocIndex(),
			ChunkType:       chunkType,
			Name:            name,
			ParentName:      parentName,
			ParentType:      parentType,
			SymbolID:        symbolID,
			IsDocumentation: isAllComment(content, st.file.Language),
			Imports:         st.imports,
		},
	}
}

// characterChunkNode character-chunks a single oversized node's text,
// rebasing line numbers by the node's start line so emitted chunks still
// point at the original source.
func (c *CodeChunker) characterChunkNode(node *Node, st *chunkState, parentName string, parentType ChunkType) []*Chunk {
	text := node.GetContent(st.tree.Source)
	startLine := int(node.StartPoint.Row) + 1
	return c.characterChunk(text, startLine, st, parentName, parentType, chunkTypeFromNodeType(node.Type))
}

// wholeFileFallback character-chunks the entire file. Used for unsupported
// languages, parse errors, and the empty-result fallback; it yields no
// chunks if the file is smaller than minWholeFileBytes.
func (c *CodeChunker) wholeFileFallback(file *FileInput, st *chunkState) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	if len(file.Content) < minWholeFileBytes {
		return nil, nil
	}
	if st == nil {
		st = &chunkState{file: file, tree: &Tree{Source: file.Content}, now: time.Now()}
	}
	return c.characterChunk(content, 1, st, "", "", ChunkTypeBlock), nil
}

// characterChunk splits text into maxChunkSizeBytes-sized chunks on line
// boundaries, with no overlap: an offset-rebased line split. The whole-file
// fallback (unsupported languages, parse errors) uses the same split.
func (c *CodeChunker) characterChunk(text string, startLine int, st *chunkState, parentName string, parentType ChunkType, chunkType ChunkType) []*Chunk {
	lines := strings.Split(text, "\n")
	maxSize := st.maxSize(c)
	if maxSize <= 0 {
		maxSize = DefaultMaxChunkTokens * TokensPerChar
	}

	var chunks []*Chunk
	i := 0
	for i < len(lines) {
		size := 0
		j := i
		for j < len(lines) && (size == 0 || size+len(lines[j])+1 <= maxSize) {
			size += len(lines[j]) + 1
			j++
		}
		if j == i {
			j = i + 1
		}
		chunkLines := lines[i:j]
		content := strings.Join(chunkLines, "\n")
		if strings.TrimSpace(content) != "" {
			chunkStart := startLine + i
			chunkEnd := startLine + j - 1
			chunks = append(chunks, &Chunk{
				ID:          generateChunkID(st.file.Path, content),
				FilePath:    st.file.Path,
				Content:     combineContextAndContent(st.context, content),
				RawContent:  content,
				Context:     st.context,
				ContentType: ContentTypeCode,
				Language:    st.file.Language,
				StartLine:   chunkStart,
				EndLine:     chunkEnd,
				Metadata:    make(map[string]string),
				CreatedAt:   st.now,
				UpdatedAt:   st.now,
				CodeMeta: &ChunkMetadata{
					FilePath:   st.file.Path,
					Language:   st.file.Language,
					ChunkIndex: st.allocIndex(),
					ChunkType:  chunkType,
					ParentName: parentName,
					ParentType: parentType,
					Imports:    st.imports,
				},
			})
		}
		i = j
	}
	return chunks
}

// symbolTypeForNode classifies a node's legacy Symbol.Type using the
// language config's per-kind type tables (finer-grained than ChunkType:
// it distinguishes methods from functions). Falls back to a ChunkType-based
// mapping when config is nil or none of its tables lists nodeType.
func symbolTypeForNode(nodeType string, config *LanguageConfig, fallback ChunkType) SymbolType {
	if config != nil {
		for _, t := range config.MethodTypes {
			if t == nodeType {
				return SymbolTypeMethod
			}
		}
		for _, t := range config.FunctionTypes {
			if t == nodeType {
				return SymbolTypeFunction
			}
		}
		for _, t := range config.ClassTypes {
			if t == nodeType {
				return SymbolTypeClass
			}
		}
		for _, t := range config.InterfaceTypes {
			if t == nodeType {
				return SymbolTypeInterface
			}
		}
		for _, t := range config.TypeDefTypes {
			if t == nodeType {
				return SymbolTypeType
			}
		}
		for _, t := range config.ConstantTypes {
			if t == nodeType {
				return SymbolTypeConstant
			}
		}
		for _, t := range config.VariableTypes {
			if t == nodeType {
				return SymbolTypeVariable
			}
		}
	}
	switch fallback {
	case ChunkTypeFunction:
		return SymbolTypeFunction
	case ChunkTypeClass:
		return SymbolTypeClass
	case ChunkTypeInterface:
		return SymbolTypeInterface
	default:
		return SymbolTypeVariable
	}
}

// isAllComment reports whether every non-blank line of content is a
// comment, the heuristic used to set ChunkMetadata.IsDocumentation.
func isAllComment(content, language string) bool {
	marker := "//"
	if language == "python" || language == "ruby" {
		marker = "#"
	}
	nonBlank := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		nonBlank = true
		if !strings.HasPrefix(line, marker) {
			return false
		}
	}
	return nonBlank
}

// collectChunkableNodes walks n's descendants depth-first looking for
// nodes whose type is in types; once a match is found, its subtree is not
// descended into. n itself is never considered a match.
func collectChunkableNodes(n *Node, types []string) []*Node {
	if len(types) == 0 {
		return nil
	}
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}

	var out []*Node
	var walk func(*Node)
	walk = func(node *Node) {
		for _, child := range node.Children {
			if set[child.Type] {
				out = append(out, child)
				continue
			}
			walk(child)
		}
	}
	walk(n)
	return out
}

// extractDocComment extracts doc comment for a node, looking for multi-line comments
func (c *CodeChunker) extractDocComment(n *Node, source []byte, language string) string {
	// Find the start of the current line
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}

	// Look for comment on preceding lines
	if lineStart <= 1 {
		return ""
	}

	// Collect comment lines working backwards
	var commentLines []string
	pos := lineStart - 1 // Start before the newline

	for pos > 0 {
		// Find start of previous line
		prevLineEnd := pos
		pos--
		for pos > 0 && source[pos] != '\n' {
			pos--
		}
		prevLineStart := pos
		if pos > 0 {
			prevLineStart++ // Skip the newline
		}

		prevLine := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))

		// Check for single-line comments
		switch language {
		case "go", "typescript", "tsx", "javascript", "jsx":
			if strings.HasPrefix(prevLine, "//") {
				commentLines = append([]string{strings.TrimPrefix(prevLine, "//")}, commentLines...)
				continue
			}
		case "python":
			if strings.HasPrefix(prevLine, "#") {
				commentLines = append([]string{strings.TrimPrefix(prevLine, "#")}, commentLines...)
				continue
			}
		}

		// Stop if we hit a non-comment line (unless empty)
		if prevLine != "" {
			break
		}
	}

	if len(commentLines) == 0 {
		return ""
	}

	return strings.TrimSpace(strings.Join(commentLines, "\n"))
}

// getRawContentWithDocComment gets raw content including doc comment
func (c *CodeChunker) getRawContentWithDocComment(n *Node, source []byte, docComment string) string {
	// Find start of doc comment (before the node)
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}

	// Count back through comment lines
	docLines := strings.Count(docComment, "\n") + 1
	for i := 0; i < docLines && lineStart > 0; i++ {
		lineStart--
		for lineStart > 0 && source[lineStart-1] != '\n' {
			lineStart--
		}
	}

	return string(source[lineStart:n.EndByte])
}

// extractFileContext extracts package declaration and imports from a file
func (c *CodeChunker) extractFileContext(tree *Tree, source []byte, language string) string {
	var parts []string

	switch language {
	case "go":
		parts = c.extractGoContext(tree, source)
	case "typescript", "tsx":
		parts = c.extractTSContext(tree, source)
	case "javascript", "jsx":
		parts = c.extractJSContext(tree, source)
	case "python":
		parts = c.extractPythonContext(tree, source)
	}

	return strings.Join(parts, "\n\n")
}

// extractImports returns the raw import/package-clause lines for a file,
// used to populate ChunkMetadata.Imports on every chunk from the file.
func (c *CodeChunker) extractImports(tree *Tree, language string) []string {
	var parts []string
	switch language {
	case "go":
		for _, node := range tree.Root.Children {
			if node.Type == "import_declaration" {
				parts = append(parts, node.GetContent(tree.Source))
			}
		}
	case "typescript", "tsx", "javascript", "jsx":
		for _, node := range tree.Root.Children {
			if node.Type == "import_statement" {
				parts = append(parts, node.GetContent(tree.Source))
			}
		}
	case "python":
		for _, node := range tree.Root.Children {
			if node.Type == "import_statement" || node.Type == "import_from_statement" {
				parts = append(parts, node.GetContent(tree.Source))
			}
		}
	case "ruby":
		for _, node := range tree.Root.Children {
			if node.Type == "call" && strings.HasPrefix(node.GetContent(tree.Source), "require") {
				parts = append(parts, node.GetContent(tree.Source))
			}
		}
	}
	return parts
}

func (c *CodeChunker) extractGoContext(tree *Tree, source []byte) []string {
	var parts []string

	// Find package clause
	for _, node := range tree.Root.Children {
		if node.Type == "package_clause" {
			parts = append(parts, node.GetContent(source))
			break
		}
	}

	// Find import declarations
	for _, node := range tree.Root.Children {
		if node.Type == "import_declaration" {
			parts = append(parts, node.GetContent(source))
		}
	}

	return parts
}

func (c *CodeChunker) extractTSContext(tree *Tree, source []byte) []string {
	return c.extractJSContext(tree, source) // Same for TS/TSX
}

func (c *CodeChunker) extractJSContext(tree *Tree, source []byte) []string {
	var parts []string

	// Find import statements
	for _, node := range tree.Root.Children {
		if node.Type == "import_statement" {
			parts = append(parts, node.GetContent(source))
		}
	}

	return parts
}

func (c *CodeChunker) extractPythonContext(tree *Tree, source []byte) []string {
	var parts []string

	// Find import statements
	for _, node := range tree.Root.Children {
		if node.Type == "import_statement" || node.Type == "import_from_statement" {
			parts = append(parts, node.GetContent(source))
		}
	}

	return parts
}

// generateChunkID generates a content-addressable chunk ID from file path and content.
// The ID is derived from filePath and content hash, making it stable across line number
// shifts while preserving file context.
//
// Properties:
//   - Same content in same file = same ID (stable across line shifts)
//   - Different content in same file = different ID (triggers re-embedding)
//   - Same content in different files = different IDs (preserves file context)
func generateChunkID(filePath string, content string) string {
	// Hash the content first
	contentHash := sha256.Sum256([]byte(content))
	contentHashStr := hex.EncodeToString(contentHash[:])[:16]

	// Combine with file path for uniqueness per file
	input := fmt.Sprintf("%s:%s", filePath, contentHashStr)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}

// combineContextAndContent combines context and raw content into full content
func combineContextAndContent(context, rawContent string) string {
	if context == "" {
		return rawContent
	}
	return context + "\n\n" + rawContent
}

// enrichContextWithFilePath prepends a file path marker to the context.
// This helps embedding models understand file location and scope.
// The marker format is language-appropriate (// for Go/JS/TS, # for Python).
func (c *CodeChunker) enrichContextWithFilePath(filePath, language, existingContext string) string {
	if filePath == "" {
		return existingContext
	}

	// Use language-appropriate comment syntax
	var marker string
	switch language {
	case "python":
		marker = fmt.Sprintf("# File: %s", filePath)
	default:
		// Go, TypeScript, JavaScript, etc. use //
		marker = fmt.Sprintf("// File: %s", filePath)
	}

	if existingContext == "" {
		return marker
	}
	return marker + "\n" + existingContext
}
