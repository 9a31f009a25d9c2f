package chunk

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// MarkdownChunkerOptions configures markdown section splitting.
type MarkdownChunkerOptions struct {
	// MaxSectionBytes splits oversized sections at line boundaries
	// (default: the code chunker's byte budget).
	MaxSectionBytes int
}

// MarkdownChunker splits markdown documents into heading-bounded sections.
// Each section becomes one documentation chunk (a section over
// MaxSectionBytes becomes several, split at line boundaries); headings inside fenced code
// blocks do not start sections, and anything before the first heading forms
// a preamble section.
type MarkdownChunker struct {
	options MarkdownChunkerOptions
}

// NewMarkdownChunker creates a markdown chunker with default options.
func NewMarkdownChunker() *MarkdownChunker {
	return NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{})
}

// NewMarkdownChunkerWithOptions creates a markdown chunker.
func NewMarkdownChunkerWithOptions(opts MarkdownChunkerOptions) *MarkdownChunker {
	if opts.MaxSectionBytes <= 0 {
		opts.MaxSectionBytes = DefaultMaxChunkTokens * TokensPerChar
	}
	return &MarkdownChunker{options: opts}
}

// SupportedExtensions returns the extensions this chunker handles.
func (c *MarkdownChunker) SupportedExtensions() []string {
	return []string{".md", ".markdown"}
}

var headingRe = regexp.MustCompile("^(#{1,6})\\s+(.*)$")

// section is one heading-bounded run of lines under construction.
type section struct {
	heading   string
	startLine int // 1-indexed
	lines     []string
}

// Chunk splits a markdown file into sections.
func (c *MarkdownChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	text := string(file.Content)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	lines := strings.Split(text, "\n")
	var sections []*section
	current := &section{startLine: 1}
	inFence := false

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if !inFence {
			if m := headingRe.FindStringSubmatch(line); m != nil {
				if len(current.lines) > 0 {
					sections = append(sections, current)
				}
				current = &section{heading: strings.TrimSpace(m[2]), startLine: i + 1}
			}
		}
		current.lines = append(current.lines, line)
	}
	if len(current.lines) > 0 {
		sections = append(sections, current)
	}

	now := time.Now()
	var chunks []*Chunk
	index := 0
	for _, sec := range sections {
		content := strings.Join(sec.lines, "\n")
		if strings.TrimSpace(content) == "" {
			continue
		}
		for _, part := range c.splitOversized(sec, content) {
			chunks = append(chunks, c.buildSectionChunk(file, part, now, &index))
		}
	}
	return chunks, nil
}

// splitOversized breaks a section exceeding MaxSectionBytes into line-
// aligned parts sharing the section's heading.
func (c *MarkdownChunker) splitOversized(sec *section, content string) []*section {
	if len(content) <= c.options.MaxSectionBytes {
		return []*section{sec}
	}

	var parts []*section
	part := &section{heading: sec.heading, startLine: sec.startLine}
	size := 0
	line := sec.startLine
	for _, l := range sec.lines {
		if size > 0 && size+len(l)+1 > c.options.MaxSectionBytes {
			parts = append(parts, part)
			part = &section{heading: sec.heading, startLine: line}
			size = 0
		}
		part.lines = append(part.lines, l)
		size += len(l) + 1
		line++
	}
	if len(part.lines) > 0 {
		parts = append(parts, part)
	}
	return parts
}

func (c *MarkdownChunker) buildSectionChunk(file *FileInput, sec *section, now time.Time, index *int) *Chunk {
	content := strings.Join(sec.lines, "\n")
	endLine := sec.startLine + len(sec.lines) - 1

	idx := *index
	*index++

	name := sec.heading
	return &Chunk{
		ID:          generateChunkID(file.Path, content),
		FilePath:    file.Path,
		Content:     content,
		RawContent:  content,
		ContentType: ContentTypeMarkdown,
		Language:    "markdown",
		StartLine:   sec.startLine,
		EndLine:     endLine,
		Metadata:    make(map[string]string),
		CreatedAt:   now,
		UpdatedAt:   now,
		CodeMeta: &ChunkMetadata{
			FilePath:        file.Path,
			Language:        "markdown",
			ChunkIndex:      idx,
			ChunkType:       ChunkTypeBlock,
			Name:            name,
			SymbolID:        name,
			IsDocumentation: true,
		},
	}
}
