// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package syntax reports whether edited source still parses.
//
// The check is advisory: edits are byte-exact regardless of the result.
// Callers decide whether a broken parse blocks a write.
package syntax

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/AleutianAI/llmtransform/services/transform/file"
)

// maxSnippet bounds the source excerpt quoted in a Report message.
const maxSnippet = 40

// Report is the outcome of a syntax check.
//
// Checked is false when no grammar exists for the language; Valid is then
// meaningless. Line and Column (1-indexed, byte columns) locate the first
// error when Valid is false.
type Report struct {
	Language file.Language `json:"language"`
	Checked  bool          `json:"checked"`
	Valid    bool          `json:"valid"`
	Line     int           `json:"line,omitempty"`
	Column   int           `json:"column,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// Check parses content with the grammar for lang.
//
// # Description
//
// Parses with tree-sitter and reports the first ERROR or MISSING node in
// document order. A fresh parser is created per call.
//
// # Inputs
//
//   - ctx: Cancels a long parse.
//   - lang: Grammar to use. Unknown languages yield Checked=false.
//   - content: Source to parse.
//
// # Outputs
//
//   - *Report: Never nil on success.
//   - error: Non-nil if parsing was cancelled or failed.
//
// # Thread Safety
//
// Safe for concurrent use.
func Check(ctx context.Context, lang file.Language, content string) (*Report, error) {
	return check(ctx, lang, grammar(lang), content)
}

// CheckPath is Check with the language detected from path. ".tsx" files use
// the TSX grammar.
func CheckPath(ctx context.Context, path, content string) (*Report, error) {
	lang := file.DetectLanguage(path)
	g := grammar(lang)
	if lang == file.LanguageTypeScript && strings.EqualFold(filepath.Ext(path), ".tsx") {
		g = tsx.GetLanguage()
	}
	return check(ctx, lang, g, content)
}

func check(ctx context.Context, lang file.Language, g *sitter.Language, content string) (*Report, error) {
	report := &Report{Language: lang}
	if g == nil {
		return report, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(g)

	tree, err := parser.ParseCtx(ctx, nil, []byte(content))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", lang, err)
	}
	defer tree.Close()

	report.Checked = true
	errNode := findFirstError(tree.RootNode())
	if errNode == nil {
		report.Valid = true
		return report, nil
	}

	start := errNode.StartPoint()
	report.Line = int(start.Row) + 1
	report.Column = int(start.Column) + 1
	report.Message = describe(errNode, content)
	return report, nil
}

func grammar(lang file.Language) *sitter.Language {
	switch lang {
	case file.LanguageGo:
		return golang.GetLanguage()
	case file.LanguagePython:
		return python.GetLanguage()
	case file.LanguageJavaScript:
		return javascript.GetLanguage()
	case file.LanguageTypeScript:
		return typescript.GetLanguage()
	case file.LanguageRust:
		return rust.GetLanguage()
	case file.LanguageC:
		return c.GetLanguage()
	case file.LanguageCpp:
		return cpp.GetLanguage()
	case file.LanguageJava:
		return java.GetLanguage()
	default:
		return nil
	}
}

// findFirstError returns the first ERROR or MISSING node in document order.
func findFirstError(node *sitter.Node) *sitter.Node {
	if node == nil || !node.HasError() && !node.IsMissing() {
		return nil
	}
	if node.IsError() || node.IsMissing() {
		// Prefer a more specific node inside an ERROR span.
		for i := 0; i < int(node.ChildCount()); i++ {
			if inner := findFirstError(node.Child(i)); inner != nil && inner.IsMissing() {
				return inner
			}
		}
		return node
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if found := findFirstError(node.Child(i)); found != nil {
			return found
		}
	}
	return nil
}

func describe(node *sitter.Node, content string) string {
	if node.IsMissing() {
		return fmt.Sprintf("missing %q", node.Type())
	}
	snippet := content[node.StartByte():node.EndByte()]
	if i := strings.IndexByte(snippet, '\n'); i >= 0 {
		snippet = snippet[:i]
	}
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet] + "..."
	}
	if snippet == "" {
		return "syntax error"
	}
	return fmt.Sprintf("unexpected %q", snippet)
}
