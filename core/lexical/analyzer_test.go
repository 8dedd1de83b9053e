package lexical

import (
	"testing"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// CamelCaseFilter Tests
// =============================================================================

func tokenStream(terms ...string) analysis.TokenStream {
	stream := make(analysis.TokenStream, 0, len(terms))
	for i, term := range terms {
		stream = append(stream, &analysis.Token{
			Term:     []byte(term),
			Position: i + 1,
		})
	}
	return stream
}

func streamTerms(stream analysis.TokenStream) []string {
	terms := make([]string, 0, len(stream))
	for _, token := range stream {
		terms = append(terms, string(token.Term))
	}
	return terms
}

func TestCamelCaseFilter_EmitsOriginalAndParts(t *testing.T) {
	filter := NewCamelCaseFilter()

	out := filter.Filter(tokenStream("validateEmail"))

	assert.Equal(t, []string{"validateEmail", "validate", "Email"}, streamTerms(out))
}

func TestCamelCaseFilter_SplitsSnakeCase(t *testing.T) {
	filter := NewCamelCaseFilter()

	out := filter.Filter(tokenStream("get_user_by_id"))

	assert.Equal(t, []string{"get_user_by_id", "get", "user", "by", "id"}, streamTerms(out))
}

func TestCamelCaseFilter_LeavesSimpleTokensAlone(t *testing.T) {
	filter := NewCamelCaseFilter()

	out := filter.Filter(tokenStream("login", "bug"))

	assert.Equal(t, []string{"login", "bug"}, streamTerms(out))
}

func TestCamelCaseFilter_PartTokensKeepPosition(t *testing.T) {
	filter := NewCamelCaseFilter()
	input := tokenStream("validateEmail")
	input[0].Start = 4
	input[0].End = 17

	out := filter.Filter(input)

	require.Len(t, out, 3)
	for _, token := range out {
		assert.Equal(t, 4, token.Start)
		assert.Equal(t, 17, token.End)
		assert.Equal(t, 1, token.Position)
	}
}

// =============================================================================
// Registry Constructor Tests
// =============================================================================

func TestCamelCaseFilterConstructor(t *testing.T) {
	cache := registry.NewCache()

	filter, err := cache.TokenFilterNamed(CamelCaseFilterName)

	require.NoError(t, err)
	require.NotNil(t, filter)
}

func TestIdentifierAnalyzer_Chain(t *testing.T) {
	cache := registry.NewCache()
	analyzer, err := cache.AnalyzerNamed(IdentifierAnalyzerName)
	require.NoError(t, err)

	tests := []struct {
		name     string
		input    string
		contains []string
	}{
		{
			name:     "camelCase identifier",
			input:    "validateEmail",
			contains: []string{"validateemail", "validate", "email"},
		},
		{
			name:     "snake_case identifier",
			input:    "get_user_by_id",
			contains: []string{"get", "user", "id"},
		},
		{
			name:     "acronym",
			input:    "HTTPRequest",
			contains: []string{"httprequest", "request"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			terms := streamTerms(analyzer.Analyze([]byte(tt.input)))
			for _, want := range tt.contains {
				assert.Contains(t, terms, want)
			}
		})
	}
}

func TestDocAnalyzer_StemsAndLowercases(t *testing.T) {
	cache := registry.NewCache()
	analyzer, err := cache.AnalyzerNamed(DocAnalyzerName)
	require.NoError(t, err)

	terms := streamTerms(analyzer.Analyze([]byte("Validates email addresses")))

	// Porter stems "validates" and "addresses" toward their roots.
	assert.Contains(t, terms, "valid")
	assert.Contains(t, terms, "email")
	assert.Contains(t, terms, "address")
}

// =============================================================================
// Mapping Tests
// =============================================================================

func TestBuildEntityMapping_DisablesDynamicMapping(t *testing.T) {
	docMapping := BuildEntityMapping()

	assert.False(t, docMapping.Dynamic)
}

func TestBuildEntityMapping_HasAllExpectedFields(t *testing.T) {
	docMapping := BuildEntityMapping()

	for _, field := range []string{"name", "symbols", "doc", "path", "kind", "domains"} {
		assert.Contains(t, docMapping.Properties, field,
			"entity mapping should contain field: %s", field)
	}
}

func TestBuildEntityMapping_NameFieldUsesKeywordAnalyzer(t *testing.T) {
	docMapping := BuildEntityMapping()

	nameMapping := docMapping.Properties["name"]
	require.NotNil(t, nameMapping)
	require.Len(t, nameMapping.Fields, 1)

	field := nameMapping.Fields[0]
	assert.Equal(t, KeywordAnalyzerName, field.Analyzer)
	assert.True(t, field.Store)
	assert.True(t, field.Index)
	assert.False(t, field.IncludeInAll)
}

func TestBuildEntityMapping_SymbolsFieldUsesIdentifierAnalyzer(t *testing.T) {
	docMapping := BuildEntityMapping()

	symbolsMapping := docMapping.Properties["symbols"]
	require.NotNil(t, symbolsMapping)
	require.Len(t, symbolsMapping.Fields, 1)

	field := symbolsMapping.Fields[0]
	assert.Equal(t, IdentifierAnalyzerName, field.Analyzer)
	assert.True(t, field.IncludeInAll)
}

func TestBuildEntityMapping_DocFieldUsesDocAnalyzer(t *testing.T) {
	docMapping := BuildEntityMapping()

	docField := docMapping.Properties["doc"]
	require.NotNil(t, docField)
	require.Len(t, docField.Fields, 1)

	assert.Equal(t, DocAnalyzerName, docField.Fields[0].Analyzer)
}

func TestBuildIndexMapping_ResolvesCustomAnalyzers(t *testing.T) {
	indexMapping, err := BuildIndexMapping()

	require.NoError(t, err)
	require.NotNil(t, indexMapping)
	assert.NoError(t, indexMapping.Validate())
}
