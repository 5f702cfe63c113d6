// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// patternScanner flags risky call patterns by walking the syntax tree,
// so a mention inside a comment or string never matches.
//
// Thread Safety: Safe for concurrent use; a parser is created per call.
type patternScanner struct {
	byLanguage map[string][]DangerousPattern
}

func newPatternScanner() *patternScanner {
	return &patternScanner{
		byLanguage: map[string][]DangerousPattern{
			"go":         goPatterns(),
			"python":     pythonPatterns(),
			"javascript": jsPatterns(),
			"typescript": jsPatterns(),
		},
	}
}

// Scan parses the source and reports calls matching a known pattern.
// Languages without a pattern table yield no findings.
func (s *patternScanner) Scan(ctx context.Context, source []byte, language, filePath string) []Finding {
	if ctx == nil || ctx.Err() != nil {
		return nil
	}
	patterns, ok := s.byLanguage[language]
	if !ok {
		return nil
	}

	var lang *sitter.Language
	switch language {
	case "go":
		lang = golang.GetLanguage()
	case "python":
		lang = python.GetLanguage()
	case "javascript":
		lang = javascript.GetLanguage()
	case "typescript":
		lang = typescript.GetLanguage()
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil
	}
	defer tree.Close()

	return s.walk(tree.RootNode(), source, patterns, filePath, language)
}

func (s *patternScanner) walk(node *sitter.Node, source []byte, patterns []DangerousPattern, filePath, language string) []Finding {
	if node == nil {
		return nil
	}

	findings := s.match(node, source, patterns, filePath, language)
	for i := uint32(0); i < node.ChildCount(); i++ {
		findings = append(findings, s.walk(node.Child(int(i)), source, patterns, filePath, language)...)
	}
	return findings
}

func (s *patternScanner) match(node *sitter.Node, source []byte, patterns []DangerousPattern, filePath, language string) []Finding {
	callee := calleeName(node, source, language)
	if callee == "" {
		return nil
	}

	var findings []Finding
	for _, p := range patterns {
		if p.NodeType != "" && p.NodeType != node.Type() {
			continue
		}
		if !matchesCallee(callee, p.FuncNames) {
			continue
		}
		findings = append(findings, Finding{
			Rule:       p.Name,
			File:       filePath,
			Line:       int(node.StartPoint().Row) + 1,
			Severity:   p.Severity,
			Message:    p.Message,
			Suggestion: p.Suggestion,
			Blocking:   p.Blocking,
		})
	}
	return findings
}

// calleeName extracts the function being invoked at a node, or the
// assignment target for sink patterns like innerHTML.
func calleeName(node *sitter.Node, source []byte, language string) string {
	switch language {
	case "go":
		if node.Type() == "call_expression" {
			if fn := node.ChildByFieldName("function"); fn != nil {
				return string(source[fn.StartByte():fn.EndByte()])
			}
		}
	case "python":
		if node.Type() == "call" {
			if fn := node.ChildByFieldName("function"); fn != nil {
				switch fn.Type() {
				case "identifier", "attribute":
					return string(source[fn.StartByte():fn.EndByte()])
				}
			}
		}
	case "javascript", "typescript":
		switch node.Type() {
		case "call_expression":
			if fn := node.ChildByFieldName("function"); fn != nil {
				return string(source[fn.StartByte():fn.EndByte()])
			}
		case "new_expression":
			if cons := node.ChildByFieldName("constructor"); cons != nil {
				return string(source[cons.StartByte():cons.EndByte()])
			}
		case "assignment_expression":
			if left := node.ChildByFieldName("left"); left != nil {
				target := string(source[left.StartByte():left.EndByte()])
				if strings.HasSuffix(target, "innerHTML") || strings.HasSuffix(target, "outerHTML") {
					return target
				}
			}
		}
	}
	return ""
}

// matchesCallee accepts an exact name or a dotted suffix, so both
// "system" and "os.system" trigger a pattern listing "os.system".
func matchesCallee(callee string, names []string) bool {
	for _, n := range names {
		if callee == n || strings.HasSuffix(callee, "."+n) {
			return true
		}
	}
	return false
}

// DangerousPatternCheck packages the pattern scanner as a registerable
// validation stage. Findings surface as a failed warning-severity
// check, so they inform without blocking validity.
func DangerousPatternCheck() CheckFunc {
	scanner := newPatternScanner()
	return func(ctx context.Context, path, content string) Check {
		check := Check{
			Name:     "dangerous-patterns",
			Severity: SeverityWarning,
		}
		findings := scanner.Scan(ctx, []byte(content), languageForPath(path), path)
		check.Passed = len(findings) == 0
		if check.Passed {
			check.Message = "no dangerous call patterns"
			return check
		}
		check.Message = "dangerous call pattern(s) detected"
		for _, f := range findings {
			check.Details = append(check.Details, findingLine(f))
		}
		return check
	}
}

func findingLine(f Finding) string {
	var b strings.Builder
	b.WriteString(f.Rule)
	b.WriteString(": ")
	b.WriteString(f.Message)
	if f.Suggestion != "" {
		b.WriteString(" (")
		b.WriteString(f.Suggestion)
		b.WriteString(")")
	}
	return b.String()
}

func goPatterns() []DangerousPattern {
	return []DangerousPattern{
		{
			Name:       "go-exec-command",
			NodeType:   "call_expression",
			FuncNames:  []string{"exec.Command", "exec.CommandContext"},
			Severity:   SeverityWarning,
			Message:    "spawns an external process",
			Suggestion: "validate arguments and never build the command line from user input",
		},
		{
			Name:       "go-syscall-exec",
			NodeType:   "call_expression",
			FuncNames:  []string{"syscall.Exec"},
			Severity:   SeverityWarning,
			Message:    "replaces the current process image",
			Blocking:   true,
			Suggestion: "use os/exec with explicit arguments",
		},
		{
			Name:       "go-unsafe-pointer",
			NodeType:   "call_expression",
			FuncNames:  []string{"unsafe.Pointer"},
			Severity:   SeverityWarning,
			Message:    "bypasses the type system",
			Suggestion: "prefer a typed conversion",
		},
	}
}

func pythonPatterns() []DangerousPattern {
	return []DangerousPattern{
		{
			Name:       "py-eval",
			NodeType:   "call",
			FuncNames:  []string{"eval", "exec"},
			Severity:   SeverityWarning,
			Message:    "evaluates arbitrary code",
			Blocking:   true,
			Suggestion: "parse the input explicitly instead of evaluating it",
		},
		{
			Name:       "py-os-system",
			NodeType:   "call",
			FuncNames:  []string{"os.system", "os.popen"},
			Severity:   SeverityWarning,
			Message:    "runs a shell command",
			Suggestion: "use subprocess.run with a list of arguments",
		},
		{
			Name:       "py-pickle-load",
			NodeType:   "call",
			FuncNames:  []string{"pickle.loads", "pickle.load"},
			Severity:   SeverityWarning,
			Message:    "deserializing pickle data can execute code",
			Suggestion: "use json or another data-only format for untrusted input",
		},
		{
			Name:       "py-yaml-load",
			NodeType:   "call",
			FuncNames:  []string{"yaml.load"},
			Severity:   SeverityWarning,
			Message:    "yaml.load without a safe loader can construct objects",
			Suggestion: "use yaml.safe_load",
		},
	}
}

func jsPatterns() []DangerousPattern {
	return []DangerousPattern{
		{
			Name:       "js-eval",
			NodeType:   "call_expression",
			FuncNames:  []string{"eval"},
			Severity:   SeverityWarning,
			Message:    "evaluates arbitrary code",
			Blocking:   true,
			Suggestion: "parse the input explicitly instead of evaluating it",
		},
		{
			Name:       "js-function-constructor",
			NodeType:   "new_expression",
			FuncNames:  []string{"Function"},
			Severity:   SeverityWarning,
			Message:    "the Function constructor evaluates its body like eval",
			Blocking:   true,
			Suggestion: "define the function statically",
		},
		{
			Name:       "js-child-process",
			NodeType:   "call_expression",
			FuncNames:  []string{"child_process.exec", "execSync"},
			Severity:   SeverityWarning,
			Message:    "runs a shell command",
			Suggestion: "use execFile with an argument list",
		},
		{
			Name:       "js-inner-html",
			NodeType:   "assignment_expression",
			FuncNames:  []string{"innerHTML", "outerHTML"},
			Severity:   SeverityWarning,
			Message:    "raw HTML assignment enables XSS",
			Suggestion: "use textContent or a sanitizer",
		},
	}
}
