package chunk

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParserParseGo(t *testing.T) {
	p := NewParser()
	defer p.Close()

	src := []byte("package main\n\nfunc add(a, b int) int {\n\treturn a + b\n}\n")
	tree, err := p.Parse(context.Background(), src, "go")
	require.NoError(t, err)
	require.NotNil(t, tree.Root)
	assert.Equal(t, "source_file", tree.Root.Type)
	assert.Equal(t, "go", tree.Language)

	var fn *Node
	tree.Root.Walk(func(n *Node) bool {
		if n.Type == "function_declaration" {
			fn = n
			return false
		}
		return true
	})
	require.NotNil(t, fn)
	assert.Contains(t, fn.GetContent(src), "func add")
	assert.Equal(t, uint32(2), fn.StartPoint.Row) // 0-indexed
}

func TestParserParsePython(t *testing.T) {
	p := NewParser()
	defer p.Close()

	src := []byte("def greet(name):\n    return name\n")
	tree, err := p.Parse(context.Background(), src, "python")
	require.NoError(t, err)

	var found bool
	tree.Root.Walk(func(n *Node) bool {
		if n.Type == "function_definition" {
			found = true
		}
		return true
	})
	assert.True(t, found)
}

func TestParserUnsupportedLanguage(t *testing.T) {
	p := NewParser()
	defer p.Close()

	_, err := p.Parse(context.Background(), []byte("BEGIN { print }"), "awk")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported language")
}

func TestParserReusesLanguageParser(t *testing.T) {
	p := NewParser()
	defer p.Close()

	src := []byte("package a\n\nvar X = 1\n")
	_, err := p.Parse(context.Background(), src, "go")
	require.NoError(t, err)

	first := p.parsers["go"]
	require.NotNil(t, first)

	_, err = p.Parse(context.Background(), src, "go")
	require.NoError(t, err)
	assert.Same(t, first, p.parsers["go"])
	assert.Len(t, p.parsers, 1)
}

func TestParserConcurrentFirstUseSharesOneParser(t *testing.T) {
	p := NewParser()
	defer p.Close()

	src := []byte("package a\n\nfunc f() {}\n")
	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Parse(context.Background(), src, "go")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "goroutine %d", i)
	}
	assert.Len(t, p.parsers, 1)
	assert.Empty(t, p.loading)
}

func TestParserClosedRejects(t *testing.T) {
	p := NewParser()
	p.Close()
	p.Close() // idempotent

	_, err := p.Parse(context.Background(), []byte("package a\n"), "go")
	assert.Error(t, err)
}

func TestParserMalformedSourceStillProducesTree(t *testing.T) {
	p := NewParser()
	defer p.Close()

	// tree-sitter is error-tolerant: broken input yields a tree carrying
	// error nodes rather than a parse failure.
	src := []byte("package main\n\nfunc broken( {\n")
	tree, err := p.Parse(context.Background(), src, "go")
	require.NoError(t, err)
	assert.True(t, tree.Root.HasError)
}

func TestGetContentBounds(t *testing.T) {
	src := []byte("hello world")
	assert.Equal(t, "hello", (&Node{StartByte: 0, EndByte: 5}).GetContent(src))
	assert.Equal(t, "", (&Node{StartByte: 5, EndByte: 5}).GetContent(src))
	assert.Equal(t, "", (&Node{StartByte: 0, EndByte: 99}).GetContent(src))
}

func TestWalkPrunesOnFalse(t *testing.T) {
	root := &Node{
		Type: "root",
		Children: []*Node{
			{Type: "skip", Children: []*Node{{Type: "hidden"}}},
			{Type: "keep"},
		},
	}

	var visited []string
	root.Walk(func(n *Node) bool {
		visited = append(visited, n.Type)
		return n.Type != "skip"
	})
	assert.Equal(t, []string{"root", "skip", "keep"}, visited)
}
