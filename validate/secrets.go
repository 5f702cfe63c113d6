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
	"math"
	"regexp"
	"strings"
)

// secretScanner flags hardcoded credentials line by line.
//
// Description:
//
//	Each pattern is a regex paired with a Shannon-entropy floor: a
//	match whose extracted value is too regular (repeated characters,
//	dictionary words) is discarded as a false positive. Paths matching
//	the allowlist (tests, fixtures) are skipped entirely.
type secretScanner struct {
	patterns    []compiledSecretPattern
	minEntropy  float64
	allowlistRe []*regexp.Regexp
}

type compiledSecretPattern struct {
	SecretPattern
	regex *regexp.Regexp
}

func newSecretScanner(cfg ValidatorConfig) *secretScanner {
	s := &secretScanner{minEntropy: cfg.MinSecretEntropy}

	for _, p := range defaultSecretPatterns() {
		s.patterns = append(s.patterns, compiledSecretPattern{
			SecretPattern: p,
			regex:         regexp.MustCompile(p.Pattern),
		})
	}

	for _, glob := range cfg.AllowlistPaths {
		re, err := regexp.Compile(globToRegex(glob))
		if err != nil {
			continue
		}
		s.allowlistRe = append(s.allowlistRe, re)
	}
	return s
}

// defaultSecretPatterns covers the credential shapes worth blocking on.
func defaultSecretPatterns() []SecretPattern {
	return []SecretPattern{
		{
			Name:       "aws-access-key",
			Pattern:    `AKIA[0-9A-Z]{16}`,
			MinEntropy: 3.0,
			Message:    "AWS access key ID",
		},
		{
			Name:       "private-key-header",
			Pattern:    `-----BEGIN [A-Z ]*PRIVATE KEY-----`,
			MinEntropy: -1,
			Message:    "private key material",
		},
		{
			Name:       "slack-token",
			Pattern:    `xox[baprs]-[0-9A-Za-z-]{10,}`,
			MinEntropy: 3.0,
			Message:    "Slack API token",
		},
		{
			Name:       "github-token",
			Pattern:    `gh[pousr]_[0-9A-Za-z]{36,}`,
			MinEntropy: 3.0,
			Message:    "GitHub token",
		},
		{
			Name:    "generic-credential",
			Pattern: `(?i)(api[_-]?key|secret|token|passw(or)?d)\s*[:=]\s*["'][A-Za-z0-9+/_\-]{16,}["']`,
			Message: "hardcoded credential assignment",
		},
	}
}

// Scan checks content for hardcoded secrets.
func (s *secretScanner) Scan(content []byte, filePath string) []Finding {
	if s.isAllowlisted(filePath) {
		return nil
	}

	var findings []Finding
	for lineNum, line := range strings.Split(string(content), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isCommentLine(trimmed) {
			continue
		}

		for _, p := range s.patterns {
			for _, loc := range p.regex.FindAllStringIndex(line, -1) {
				floor := p.MinEntropy
				if floor == 0 {
					floor = s.minEntropy
				}
				value := extractSecretValue(line[loc[0]:loc[1]])
				if floor > 0 && shannonEntropy(value) < floor {
					continue
				}

				findings = append(findings, Finding{
					Rule:       p.Name,
					File:       filePath,
					Line:       lineNum + 1,
					Severity:   SeverityError,
					Message:    p.Message,
					Suggestion: "load the value from the environment or a secret manager",
					Blocking:   true,
				})
			}
		}
	}
	return findings
}

// isAllowlisted reports whether a path is exempt from secret scanning.
func (s *secretScanner) isAllowlisted(filePath string) bool {
	for _, re := range s.allowlistRe {
		if re.MatchString(filePath) {
			return true
		}
	}

	lower := strings.ToLower(filePath)
	for _, marker := range []string{
		"/test", "test_", "_test.go", ".test.js", ".test.ts",
		".spec.js", ".spec.ts", "fixture", "mock", "example", "__tests__",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// shannonEntropy measures the randomness of a string in bits per
// character. Real secrets score high; placeholder values score low.
func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	total := 0
	for _, r := range s {
		freq[r]++
		total++
	}

	var entropy float64
	for _, count := range freq {
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// extractSecretValue pulls the value side out of a key=value style
// match, stripping quotes, so entropy is measured on the secret alone.
func extractSecretValue(match string) string {
	for _, sep := range []string{"=", ":", " "} {
		if idx := strings.Index(match, sep); idx > 0 {
			return strings.Trim(strings.TrimSpace(match[idx+1:]), `"'`)
		}
	}
	return match
}

// isCommentLine filters lines that start as comments in the languages
// the scanner sees; secrets in comments are still reported by code
// review, not by this scanner.
func isCommentLine(line string) bool {
	return strings.HasPrefix(line, "//") ||
		strings.HasPrefix(line, "#") ||
		strings.HasPrefix(line, "/*") ||
		strings.HasPrefix(line, "*") ||
		strings.HasPrefix(line, "'''") ||
		strings.HasPrefix(line, `"""`)
}

// globToRegex converts an allowlist glob to an anchored regex.
func globToRegex(glob string) string {
	out := glob
	for _, ch := range []string{"\\", ".", "+", "^", "$", "(", ")", "[", "]", "{", "}", "|"} {
		out = strings.ReplaceAll(out, ch, "\\"+ch)
	}
	out = strings.ReplaceAll(out, "**", "\x00")
	out = strings.ReplaceAll(out, "*", "[^/]*")
	out = strings.ReplaceAll(out, "?", ".")
	out = strings.ReplaceAll(out, "\x00", ".*")
	return "^" + out + "$"
}

// SecretCheck packages the secret scanner as a registerable validation
// stage. A hardcoded credential is an error-severity failure, so it
// blocks validity wherever the check is registered.
func SecretCheck(cfg ValidatorConfig) CheckFunc {
	scanner := newSecretScanner(cfg)
	return func(ctx context.Context, path, content string) Check {
		check := Check{
			Name:     "secrets",
			Severity: SeverityError,
		}
		findings := scanner.Scan([]byte(content), path)
		check.Passed = len(findings) == 0
		if check.Passed {
			check.Message = "no hardcoded secrets"
			return check
		}
		check.Message = "hardcoded secret(s) detected"
		for _, f := range findings {
			check.Details = append(check.Details, findingLine(f))
		}
		return check
	}
}
