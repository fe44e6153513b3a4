package chunk

import "strings"

// ExtractWithHierarchy walks the parsed tree like Extract, but also
// records each symbol's enclosing symbol (ParentIndex, QName) and the
// outgoing references found in its body (Refs) — calls, imports, and
// type relationships. This is the input the sync engine uses to build
// the Relation rows spec.md's symbol graph requires; Extract alone only
// produces the flat Chunk.Symbols the chunkers attach per chunk.
func (e *SymbolExtractor) ExtractWithHierarchy(tree *Tree, source []byte) []*Symbol {
	if tree == nil || tree.Root == nil {
		return []*Symbol{}
	}
	config, ok := e.registry.GetByName(tree.Language)
	if !ok {
		return []*Symbol{}
	}

	var symbols []*Symbol
	var stack []int // indices into symbols, innermost last

	var walk func(n *Node)
	walk = func(n *Node) {
		sym := e.extractSymbolFromNode(n, source, config, tree.Language)
		pushed := false
		if sym != nil {
			sym.ParentIndex = -1
			if len(stack) > 0 {
				sym.ParentIndex = stack[len(stack)-1]
			}
			sym.QName = qualify(symbols, sym.ParentIndex, sym.Name)
			sym.Refs = extractRefs(n, source, tree.Language)
			symbols = append(symbols, sym)
			stack = append(stack, len(symbols)-1)
			pushed = true
		}
		// Rust's `impl Trait for Type` is a sibling of Type's struct_item/
		// enum_item, not a descendant of it, so extractRefs (which only
		// walks a symbol's own subtree) can never see it. Attach the
		// implements ref to the already-extracted Type symbol directly.
		if tree.Language == "rust" && n.Type == "impl_item" {
			attachRustImplRef(n, source, symbols)
		}
		for _, child := range n.Children {
			walk(child)
		}
		if pushed {
			stack = stack[:len(stack)-1]
		}
	}
	walk(tree.Root)

	return symbols
}

// attachHierarchy enriches each symbolNodeInfo's Symbol in place with the
// QName/ParentIndex/Refs that ExtractWithHierarchy computes from a full
// tree walk, so CodeChunker.Chunk's per-top-level-node chunking keeps
// working unchanged while chunks gain relation data for the sync engine.
func (c *CodeChunker) attachHierarchy(symbolNodes []*symbolNodeInfo, tree *Tree, language string) {
	full := c.extractor.ExtractWithHierarchy(tree, tree.Source)
	if len(full) == 0 {
		return
	}

	byRange := make(map[[2]int]*Symbol, len(full))
	for _, sym := range full {
		byRange[[2]int{sym.StartLine, sym.EndLine}] = sym
	}

	for _, info := range symbolNodes {
		key := [2]int{int(info.node.StartPoint.Row) + 1, int(info.node.EndPoint.Row) + 1}
		if match, ok := byRange[key]; ok && match.Name == info.symbol.Name {
			// ParentIndex is meaningful only within the full-tree slice
			// ExtractWithHierarchy returned; a chunk stands alone, so only
			// the already-qualified name and reference list travel with it.
			info.symbol.QName = match.QName
			info.symbol.Refs = match.Refs
		}
	}
}

func qualify(symbols []*Symbol, parentIndex int, name string) string {
	if parentIndex < 0 || parentIndex >= len(symbols) {
		return name
	}
	parent := symbols[parentIndex]
	if parent.QName != "" {
		return parent.QName + "." + name
	}
	return parent.Name + "." + name
}

// extractRefs scans a symbol's body for call expressions, import paths,
// and (for Go) interface embedding / struct embedding, producing
// unresolved references by name. The store resolves references to
// symbols of the same document when it writes them, and the rest
// against the project-wide symbol table, lazily, at query time.
func extractRefs(n *Node, source []byte, language string) []SymbolRef {
	var refs []SymbolRef
	seen := make(map[SymbolRef]bool)
	add := func(kind RefKind, name string) {
		if name == "" {
			return
		}
		ref := SymbolRef{Kind: kind, Name: name}
		if seen[ref] {
			return
		}
		seen[ref] = true
		refs = append(refs, ref)
	}

	n.Walk(func(child *Node) bool {
		switch language {
		case "go":
			extractGoRefs(child, source, add)
		case "typescript", "tsx", "javascript", "jsx":
			extractJSRefs(child, source, add)
		case "python":
			extractPythonRefs(child, source, add)
		case "rust":
			extractRustRefs(child, source, add)
		}
		return true
	})

	return refs
}

func extractGoRefs(n *Node, source []byte, add func(RefKind, string)) {
	switch n.Type {
	case "call_expression":
		if fn := n.FindChildByType("identifier"); fn != nil {
			add(RefKindCall, fn.GetContent(source))
		} else if sel := n.FindChildByType("selector_expression"); sel != nil {
			if field := sel.FindChildByType("field_identifier"); field != nil {
				add(RefKindCall, field.GetContent(source))
			}
		}
	case "import_spec":
		if path := n.FindChildByType("interpreted_string_literal"); path != nil {
			add(RefKindImport, strings.Trim(path.GetContent(source), `"`))
		}
	case "type_spec":
		for _, child := range n.Children {
			if child.Type == "struct_type" {
				for _, field := range child.FindAllByType("field_declaration") {
					// an embedded field has no name, only a type_identifier child
					if len(field.Children) == 1 && field.Children[0].Type == "type_identifier" {
						add(RefKindInherits, field.Children[0].GetContent(source))
					}
				}
			}
			if child.Type == "interface_type" {
				for _, embed := range child.FindChildrenByType("type_identifier") {
					add(RefKindImplements, embed.GetContent(source))
				}
			}
		}
	}
}

func extractJSRefs(n *Node, source []byte, add func(RefKind, string)) {
	switch n.Type {
	case "call_expression":
		if fn := n.FindChildByType("identifier"); fn != nil {
			add(RefKindCall, fn.GetContent(source))
		} else if member := n.FindChildByType("member_expression"); member != nil {
			if props := member.FindChildrenByType("property_identifier"); len(props) > 0 {
				add(RefKindCall, props[len(props)-1].GetContent(source))
			}
		}
	case "import_statement":
		for _, s := range n.FindAllByType("string") {
			add(RefKindImport, strings.Trim(s.GetContent(source), `"'`))
		}
	case "class_heritage":
		for _, id := range n.FindAllByType("identifier") {
			add(RefKindInherits, id.GetContent(source))
		}
	}
}

func extractPythonRefs(n *Node, source []byte, add func(RefKind, string)) {
	switch n.Type {
	case "call":
		if fn := n.FindChildByType("identifier"); fn != nil {
			add(RefKindCall, fn.GetContent(source))
		} else if attr := n.FindChildByType("attribute"); attr != nil {
			if ids := attr.FindChildrenByType("identifier"); len(ids) > 0 {
				add(RefKindCall, ids[len(ids)-1].GetContent(source))
			}
		}
	case "import_from_statement", "import_statement":
		for _, id := range n.FindAllByType("dotted_name") {
			add(RefKindImport, id.GetContent(source))
		}
	case "class_definition":
		if bases := n.FindChildByType("argument_list"); bases != nil {
			for _, id := range bases.FindChildrenByType("identifier") {
				add(RefKindInherits, id.GetContent(source))
			}
		}
	}
}

func extractRustRefs(n *Node, source []byte, add func(RefKind, string)) {
	switch n.Type {
	case "call_expression":
		if fn := n.FindChildByType("identifier"); fn != nil {
			add(RefKindCall, fn.GetContent(source))
		} else if field := n.FindChildByType("field_expression"); field != nil {
			if id := field.FindChildByType("field_identifier"); id != nil {
				add(RefKindCall, id.GetContent(source))
			}
		} else if scoped := n.FindChildByType("scoped_identifier"); scoped != nil {
			// Path::function(...) — the last identifier segment is the callee.
			if ids := scoped.FindChildrenByType("identifier"); len(ids) > 0 {
				add(RefKindCall, ids[len(ids)-1].GetContent(source))
			}
		}
	case "use_declaration":
		path := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(n.GetContent(source)), "use "), ";")
		add(RefKindImport, strings.TrimSpace(path))
	}
}

// rustImplTarget extracts the trait and type names from an impl_item node.
// `impl Trait for Type { ... }` has two type_identifier children (trait,
// then type); a plain inherent `impl Type { ... }` has only one, and ok
// is false since there is no trait relationship to record.
func rustImplTarget(n *Node, source []byte) (trait, forType string, ok bool) {
	types := n.FindChildrenByType("type_identifier")
	if len(types) < 2 {
		return "", "", false
	}
	return types[0].GetContent(source), types[1].GetContent(source), true
}

// attachRustImplRef records `impl Trait for Type` as a RefKindImplements
// ref on Type's already-extracted struct_item/enum_item symbol.
func attachRustImplRef(n *Node, source []byte, symbols []*Symbol) {
	trait, forType, ok := rustImplTarget(n, source)
	if !ok {
		return
	}
	for _, sym := range symbols {
		if sym.Name != forType {
			continue
		}
		for _, ref := range sym.Refs {
			if ref.Kind == RefKindImplements && ref.Name == trait {
				return
			}
		}
		sym.Refs = append(sym.Refs, SymbolRef{Kind: RefKindImplements, Name: trait})
		return
	}
}
