package chunk

// nodeName pulls the declared name out of an AST node: the "name" field
// when the grammar exposes one as a direct identifier child, else the
// language-specific nesting (Go specs, JS declarators, Ruby constants).
// Returns "" for anonymous constructs.
func nodeName(n *Node, source []byte, language string) string {
	switch language {
	case "go":
		return goName(n, source)
	case "typescript", "tsx", "javascript", "jsx":
		return jsName(n, source)
	case "python":
		return firstChildOfType(n, source, "identifier")
	case "ruby":
		return firstChildOfType(n, source, "constant", "identifier", "scope_resolution")
	default:
		return firstChildOfType(n, source, "identifier", "type_identifier")
	}
}

// goSpecPaths maps a Go declaration node to the spec child and the
// identifier type inside it; `type X ...` nests as type_declaration >
// type_spec > type_identifier, const/var likewise.
var goSpecPaths = map[string][2]string{
	"type_declaration":  {"type_spec", "type_identifier"},
	"const_declaration": {"const_spec", "identifier"},
	"var_declaration":   {"var_spec", "identifier"},
}

func goName(n *Node, source []byte) string {
	switch n.Type {
	case "function_declaration":
		return firstChildOfType(n, source, "identifier")
	case "method_declaration":
		return firstChildOfType(n, source, "field_identifier")
	}
	if path, ok := goSpecPaths[n.Type]; ok {
		for _, spec := range n.Children {
			if spec.Type != path[0] {
				continue
			}
			if name := firstChildOfType(spec, source, path[1]); name != "" {
				return name
			}
		}
	}
	return ""
}

func jsName(n *Node, source []byte) string {
	if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
		for _, decl := range n.Children {
			if decl.Type != "variable_declarator" {
				continue
			}
			if name := firstChildOfType(decl, source, "identifier"); name != "" {
				return name
			}
		}
		return ""
	}
	return firstChildOfType(n, source, "identifier", "type_identifier")
}

func firstChildOfType(n *Node, source []byte, types ...string) string {
	for _, child := range n.Children {
		for _, t := range types {
			if child.Type == t {
				return child.GetContent(source)
			}
		}
	}
	return ""
}
