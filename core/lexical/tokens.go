// Package lexical implements the inverted-index retrieval channel: a Bleve
// index over corpus entities with code-aware identifier analysis, plus the
// shared identifier tokenization used by the signal computers.
package lexical

import (
	"strings"
	"unicode"
)

// =============================================================================
// Identifier Splitting
// =============================================================================

// SplitIdentifierParts splits an identifier on separator and case boundaries,
// preserving the original case of each part. It handles camelCase, PascalCase,
// snake_case, kebab-case, and dotted or slashed paths.
//
// Examples:
//   - "validateEmail"    -> ["validate", "Email"]
//   - "XMLHTTPRequest"   -> ["XML", "HTTP", "Request"]
//   - "get_user_by_id"   -> ["get", "user", "by", "id"]
//   - "auth/login.py"    -> ["auth", "login", "py"]
func SplitIdentifierParts(s string) []string {
	if s == "" {
		return nil
	}

	var parts []string
	for _, segment := range splitOnSeparators(s) {
		parts = append(parts, splitCaseBoundaries(segment)...)
	}
	return parts
}

// SplitIdentifier returns the lowercased parts of an identifier. This is the
// form the name_salience signal compares against query terms.
func SplitIdentifier(s string) []string {
	parts := SplitIdentifierParts(s)
	lowered := make([]string, len(parts))
	for i, p := range parts {
		lowered[i] = strings.ToLower(p)
	}
	return lowered
}

// splitOnSeparators splits on underscores, hyphens, dots, slashes, and spaces,
// dropping empty segments (so "__init__" yields ["init"]).
func splitOnSeparators(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case '_', '-', '.', '/', '\\', ' ', ':':
			return true
		default:
			return false
		}
	})
}

// splitCaseBoundaries splits a single segment on camelCase boundaries.
func splitCaseBoundaries(s string) []string {
	runes := []rune(s)
	if len(runes) <= 1 {
		return []string{s}
	}

	boundaries := findCaseBoundaries(runes)
	if len(boundaries) <= 1 {
		return []string{s}
	}

	parts := make([]string, 0, len(boundaries))
	for i, start := range boundaries {
		end := len(runes)
		if i+1 < len(boundaries) {
			end = boundaries[i+1]
		}
		parts = append(parts, string(runes[start:end]))
	}
	return parts
}

// findCaseBoundaries identifies indices where case-transition splits occur.
func findCaseBoundaries(runes []rune) []int {
	boundaries := []int{0}
	for i := 1; i < len(runes); i++ {
		if isCaseBoundary(runes, i) {
			boundaries = append(boundaries, i)
		}
	}
	return boundaries
}

// isCaseBoundary reports whether position i starts a new word. A boundary
// exists when:
//  1. prev is non-uppercase and curr is uppercase: handleError -> handle|Error
//  2. curr ends an uppercase run before a lowercase letter:
//     XMLParser -> XML|Parser (boundary before the P)
func isCaseBoundary(runes []rune, i int) bool {
	curr := runes[i]
	prev := runes[i-1]

	if !unicode.IsUpper(prev) && unicode.IsUpper(curr) {
		return true
	}

	if unicode.IsUpper(prev) && unicode.IsUpper(curr) &&
		i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
		return true
	}

	return false
}

// =============================================================================
// Query Tokenization
// =============================================================================

// TokenizeQuery normalizes a free-form query intent into lowercase search
// terms. Each whitespace/punctuation-delimited token is expanded through
// identifier splitting, so "fix validateEmail bug" yields
// ["fix", "validateemail", "validate", "email", "bug"]. Order is preserved
// and duplicates are removed.
func TokenizeQuery(intent string) []string {
	raw := QueryIdentifiers(intent)
	if len(raw) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(raw)*2)
	var terms []string

	add := func(t string) {
		t = strings.ToLower(t)
		if t == "" {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}

	for _, token := range raw {
		parts := SplitIdentifierParts(token)
		if len(parts) > 1 {
			add(token)
		}
		for _, p := range parts {
			add(p)
		}
	}
	return terms
}

// QueryIdentifiers extracts the candidate full identifiers from an intent,
// preserving case. These are the tokens checked for exact-name matches.
func QueryIdentifiers(intent string) []string {
	return strings.FieldsFunc(intent, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}
