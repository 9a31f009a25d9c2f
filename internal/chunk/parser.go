package chunk

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// Parser turns source bytes into syntax trees. A tree-sitter parser is
// constructed per language on first use and cached for the Parser's
// lifetime; construction is guarded so two goroutines racing on the same
// language end up sharing one instance instead of leaking a second.
type Parser struct {
	registry *LanguageRegistry

	mu      sync.Mutex
	parsers map[string]*languageParser
	loading map[string]chan struct{}
	closed  bool
}

// languageParser pairs a tree-sitter parser with the lock that serializes
// parses on it; a tree-sitter parser is not reentrant.
type languageParser struct {
	mu sync.Mutex
	ts *sitter.Parser
}

// NewParser creates a parser over the default language registry.
func NewParser() *Parser {
	return NewParserWithRegistry(DefaultRegistry())
}

// NewParserWithRegistry creates a parser over a custom registry.
func NewParserWithRegistry(registry *LanguageRegistry) *Parser {
	return &Parser{
		registry: registry,
		parsers:  make(map[string]*languageParser),
		loading:  make(map[string]chan struct{}),
	}
}

// Parse parses source in the given language and returns the converted
// tree. Unsupported languages and parser failures return an error; callers
// fall back to character chunking.
func (p *Parser) Parse(ctx context.Context, source []byte, language string) (*Tree, error) {
	lp, err := p.parserFor(language)
	if err != nil {
		return nil, err
	}

	lp.mu.Lock()
	tsTree, err := lp.ts.ParseCtx(ctx, nil, source)
	lp.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", language, err)
	}
	if tsTree == nil {
		return nil, fmt.Errorf("parse %s: no tree produced", language)
	}

	return &Tree{
		Root:     buildNode(tsTree.RootNode()),
		Source:   source,
		Language: language,
	}, nil
}

// parserFor returns the cached parser for language, constructing it on
// first use. While one goroutine constructs, others asking for the same
// language wait on its in-flight marker rather than constructing a
// duplicate.
func (p *Parser) parserFor(language string) (*languageParser, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("parser is closed")
		}
		if lp, ok := p.parsers[language]; ok {
			p.mu.Unlock()
			return lp, nil
		}
		if inFlight, ok := p.loading[language]; ok {
			p.mu.Unlock()
			<-inFlight
			continue
		}

		grammar, ok := p.registry.GetTreeSitterLanguage(language)
		if !ok {
			p.mu.Unlock()
			return nil, fmt.Errorf("unsupported language: %s", language)
		}
		marker := make(chan struct{})
		p.loading[language] = marker
		p.mu.Unlock()

		ts := sitter.NewParser()
		ts.SetLanguage(grammar)
		lp := &languageParser{ts: ts}

		p.mu.Lock()
		p.parsers[language] = lp
		delete(p.loading, language)
		p.mu.Unlock()
		close(marker)
		return lp, nil
	}
}

// Close releases every cached parser.
func (p *Parser) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, lp := range p.parsers {
		lp.mu.Lock()
		lp.ts.Close()
		lp.mu.Unlock()
	}
	p.parsers = nil
}

// buildNode converts a tree-sitter subtree into the package's Node shape,
// iteratively to keep deep trees off the Go stack.
func buildNode(root *sitter.Node) *Node {
	if root == nil {
		return nil
	}

	type frame struct {
		ts  *sitter.Node
		out *Node
	}
	mk := func(ts *sitter.Node) *Node {
		return &Node{
			Type:       ts.Type(),
			StartByte:  ts.StartByte(),
			EndByte:    ts.EndByte(),
			StartPoint: Point{Row: ts.StartPoint().Row, Column: ts.StartPoint().Column},
			EndPoint:   Point{Row: ts.EndPoint().Row, Column: ts.EndPoint().Column},
			HasError:   ts.HasError(),
		}
	}

	out := mk(root)
	stack := []frame{{ts: root, out: out}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		count := int(f.ts.ChildCount())
		if count == 0 {
			continue
		}
		f.out.Children = make([]*Node, 0, count)
		for i := 0; i < count; i++ {
			child := f.ts.Child(i)
			if child == nil {
				continue
			}
			node := mk(child)
			f.out.Children = append(f.out.Children, node)
			stack = append(stack, frame{ts: child, out: node})
		}
	}
	return out
}

// GetContent returns the slice of source covered by the node.
func (n *Node) GetContent(source []byte) string {
	if n.StartByte >= n.EndByte || int(n.EndByte) > len(source) {
		return ""
	}
	return string(source[n.StartByte:n.EndByte])
}

// Walk visits the subtree depth-first. Returning false from fn prunes the
// node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}
