package lexical

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// SplitIdentifierParts Tests
// =============================================================================

func TestSplitIdentifierParts(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "simple camelCase",
			input:    "validateEmail",
			expected: []string{"validate", "Email"},
		},
		{
			name:     "PascalCase",
			input:    "LoginHandler",
			expected: []string{"Login", "Handler"},
		},
		{
			name:     "acronym run",
			input:    "XMLHTTPRequest",
			expected: []string{"XMLHTTP", "Request"},
		},
		{
			name:     "acronym before word",
			input:    "parseXMLDocument",
			expected: []string{"parse", "XML", "Document"},
		},
		{
			name:     "snake_case",
			input:    "get_user_by_id",
			expected: []string{"get", "user", "by", "id"},
		},
		{
			name:     "kebab-case",
			input:    "get-user-id",
			expected: []string{"get", "user", "id"},
		},
		{
			name:     "dunder",
			input:    "__init__",
			expected: []string{"init"},
		},
		{
			name:     "mixed snake and camel",
			input:    "handle_userLogin",
			expected: []string{"handle", "user", "Login"},
		},
		{
			name:     "path segments",
			input:    "auth/login.py",
			expected: []string{"auth", "login", "py"},
		},
		{
			name:     "dotted qualified name",
			input:    "auth.login",
			expected: []string{"auth", "login"},
		},
		{
			name:     "digits stay attached",
			input:    "HTTP2Request",
			expected: []string{"HTTP2", "Request"},
		},
		{
			name:     "single word",
			input:    "login",
			expected: []string{"login"},
		},
		{
			name:     "empty string",
			input:    "",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitIdentifierParts(tt.input))
		})
	}
}

func TestSplitIdentifier_Lowercases(t *testing.T) {
	assert.Equal(t, []string{"validate", "email"}, SplitIdentifier("validateEmail"))
	assert.Equal(t, []string{"xmlhttp", "request"}, SplitIdentifier("XMLHTTPRequest"))
}

// =============================================================================
// Query Tokenization Tests
// =============================================================================

func TestTokenizeQuery(t *testing.T) {
	tests := []struct {
		name     string
		intent   string
		expected []string
	}{
		{
			name:     "plain terms",
			intent:   "fix login bug",
			expected: []string{"fix", "login", "bug"},
		},
		{
			name:     "identifier expands to whole plus parts",
			intent:   "fix validateEmail bug",
			expected: []string{"fix", "validateemail", "validate", "email", "bug"},
		},
		{
			name:     "duplicates removed",
			intent:   "email email validateEmail",
			expected: []string{"email", "validateemail", "validate"},
		},
		{
			name:     "punctuation stripped",
			intent:   "where is login() called?",
			expected: []string{"where", "is", "login", "called"},
		},
		{
			name:     "snake identifier",
			intent:   "get_user_by_id",
			expected: []string{"get_user_by_id", "get", "user", "by", "id"},
		},
		{
			name:     "empty intent",
			intent:   "",
			expected: nil,
		},
		{
			name:     "only punctuation",
			intent:   "?!,.",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TokenizeQuery(tt.intent))
		})
	}
}

func TestQueryIdentifiers_PreservesCase(t *testing.T) {
	idents := QueryIdentifiers("why does validateEmail reject UTF8?")

	assert.Equal(t, []string{"why", "does", "validateEmail", "reject", "UTF8"}, idents)
}

func TestQueryIdentifiers_KeepsUnderscores(t *testing.T) {
	idents := QueryIdentifiers("calls to get_user_by_id")

	assert.Contains(t, idents, "get_user_by_id")
}
