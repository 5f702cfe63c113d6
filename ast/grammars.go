// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// kindSet is a closed set of grammar node type names.
type kindSet map[string]struct{}

func kinds(names ...string) kindSet {
	s := make(kindSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s kindSet) has(name string) bool {
	_, ok := s[name]
	return ok
}

// grammar binds a tree-sitter language to the node-kind tables the editor
// needs for context classification and symbol extraction. Raw grammar node
// names stay inside this file; the rest of the package works with the sets.
type grammar struct {
	language *sitter.Language

	stringKinds    kindSet
	commentKinds   kindSet
	importKinds    kindSet
	functionKinds  kindSet
	methodKinds    kindSet // function kinds that are always methods
	classKinds     kindSet
	decoratorKinds kindSet

	// bodyKinds are the block node types whose first statement can be a
	// docstring.
	bodyKinds kindSet
}

// parse runs a fresh tree-sitter parser over the content. A new parser per
// call keeps the grammar safe for concurrent use.
func (g *grammar) parse(ctx context.Context, content []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(g.language)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse: %w", err)
	}
	return tree, nil
}

// builtinGrammars returns the grammar table for the supported languages.
func builtinGrammars() map[string]*grammar {
	g := make(map[string]*grammar)

	g["python"] = &grammar{
		language:       python.GetLanguage(),
		stringKinds:    kinds("string", "concatenated_string"),
		commentKinds:   kinds("comment"),
		importKinds:    kinds("import_statement", "import_from_statement"),
		functionKinds:  kinds("function_definition"),
		classKinds:     kinds("class_definition"),
		decoratorKinds: kinds("decorator"),
		bodyKinds:      kinds("block"),
	}

	g["go"] = &grammar{
		language:      golang.GetLanguage(),
		stringKinds:   kinds("interpreted_string_literal", "raw_string_literal", "rune_literal"),
		commentKinds:  kinds("comment"),
		importKinds:   kinds("import_declaration", "import_spec"),
		functionKinds: kinds("function_declaration", "method_declaration", "func_literal"),
		methodKinds:   kinds("method_declaration"),
		classKinds:    kinds("type_spec"),
		bodyKinds:     kinds("block"),
	}

	jsKinds := &grammar{
		language:       javascript.GetLanguage(),
		stringKinds:    kinds("string", "template_string"),
		commentKinds:   kinds("comment"),
		importKinds:    kinds("import_statement"),
		functionKinds:  kinds("function_declaration", "function", "arrow_function", "generator_function_declaration", "method_definition"),
		methodKinds:    kinds("method_definition"),
		classKinds:     kinds("class_declaration", "class"),
		decoratorKinds: kinds("decorator"),
		bodyKinds:      kinds("statement_block", "class_body"),
	}
	g["javascript"] = jsKinds

	tsKinds := *jsKinds
	tsKinds.language = typescript.GetLanguage()
	tsKinds.classKinds = kinds("class_declaration", "class", "interface_declaration")
	g["typescript"] = &tsKinds

	g["rust"] = &grammar{
		language:       rust.GetLanguage(),
		stringKinds:    kinds("string_literal", "raw_string_literal", "char_literal"),
		commentKinds:   kinds("line_comment", "block_comment"),
		importKinds:    kinds("use_declaration"),
		functionKinds:  kinds("function_item"),
		classKinds:     kinds("struct_item", "enum_item", "trait_item", "impl_item"),
		decoratorKinds: kinds("attribute_item", "inner_attribute_item"),
		bodyKinds:      kinds("block", "declaration_list"),
	}

	g["java"] = &grammar{
		language:       java.GetLanguage(),
		stringKinds:    kinds("string_literal"),
		commentKinds:   kinds("line_comment", "block_comment", "comment"),
		importKinds:    kinds("import_declaration"),
		functionKinds:  kinds("method_declaration", "constructor_declaration"),
		methodKinds:    kinds("method_declaration", "constructor_declaration"),
		classKinds:     kinds("class_declaration", "interface_declaration", "enum_declaration"),
		decoratorKinds: kinds("annotation", "marker_annotation"),
		bodyKinds:      kinds("class_body", "block"),
	}

	g["c"] = &grammar{
		language:      c.GetLanguage(),
		stringKinds:   kinds("string_literal", "char_literal"),
		commentKinds:  kinds("comment"),
		importKinds:   kinds("preproc_include"),
		functionKinds: kinds("function_definition"),
		classKinds:    kinds("struct_specifier", "enum_specifier"),
		bodyKinds:     kinds("compound_statement"),
	}

	g["cpp"] = &grammar{
		language:      cpp.GetLanguage(),
		stringKinds:   kinds("string_literal", "char_literal", "raw_string_literal"),
		commentKinds:  kinds("comment"),
		importKinds:   kinds("preproc_include"),
		functionKinds: kinds("function_definition"),
		classKinds:    kinds("class_specifier", "struct_specifier", "enum_specifier", "namespace_definition"),
		bodyKinds:     kinds("compound_statement", "field_declaration_list"),
	}

	return g
}
