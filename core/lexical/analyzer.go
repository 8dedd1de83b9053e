package lexical

import (
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/registry"

	// Import the built-in analyzers, tokenizers, and filters the custom
	// analyzers compose.
	_ "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	_ "github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	_ "github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	_ "github.com/blevesearch/bleve/v2/analysis/token/porter"
	_ "github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

// Registered component names.
const (
	// CamelCaseFilterName is the registry name of the identifier-splitting
	// token filter.
	CamelCaseFilterName = "camel_case"

	// IdentifierAnalyzerName analyzes identifier text: unicode tokenizer,
	// camel_case split, lowercase.
	IdentifierAnalyzerName = "identifier"

	// DocAnalyzerName analyzes natural-language doc text: standard tokenizer,
	// lowercase, porter stemmer.
	DocAnalyzerName = "doc"

	// KeywordAnalyzerName is Bleve's built-in exact-match analyzer.
	KeywordAnalyzerName = "keyword"
)

// Built-in Bleve component names.
const (
	unicodeTokenizerName = "unicode"
	lowercaseFilterName  = "to_lower"
	porterStemmerName    = "stemmer_porter"
	standardAnalyzerName = "standard"
)

func init() {
	registry.RegisterTokenFilter(CamelCaseFilterName, CamelCaseFilterConstructor)
	registry.RegisterAnalyzer(IdentifierAnalyzerName, NewIdentifierAnalyzerConstructor)
	registry.RegisterAnalyzer(DocAnalyzerName, NewDocAnalyzerConstructor)
}

// =============================================================================
// CamelCase Token Filter
// =============================================================================

// CamelCaseFilter splits identifier tokens into their component parts while
// preserving the original token, so both full-identifier and part queries
// match. For example:
//   - validateEmail  -> ["validateEmail", "validate", "Email"]
//   - get_user_by_id -> ["get_user_by_id", "get", "user", "by", "id"]
type CamelCaseFilter struct{}

// NewCamelCaseFilter creates a new CamelCaseFilter instance.
func NewCamelCaseFilter() *CamelCaseFilter {
	return &CamelCaseFilter{}
}

// CamelCaseFilterConstructor creates a CamelCaseFilter from config for the
// Bleve registry.
func CamelCaseFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return NewCamelCaseFilter(), nil
}

// Filter processes the input token stream and returns a new stream containing
// each original token followed by its split parts.
func (f *CamelCaseFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input)*2)

	for _, token := range input {
		result = append(result, token)

		parts := SplitIdentifierParts(string(token.Term))
		if len(parts) <= 1 {
			continue
		}
		for _, part := range parts {
			result = append(result, partToken(token, part))
		}
	}

	return result
}

// partToken creates a token for a split part, copying metadata from the
// original so positions and highlights stay aligned.
func partToken(original *analysis.Token, part string) *analysis.Token {
	return &analysis.Token{
		Term:     []byte(part),
		Start:    original.Start,
		End:      original.End,
		Position: original.Position,
		Type:     original.Type,
		KeyWord:  original.KeyWord,
	}
}

// =============================================================================
// Analyzers
// =============================================================================

// NewIdentifierAnalyzerConstructor creates the identifier analyzer for the
// Bleve registry. Chain: unicode -> camel_case -> to_lower.
func NewIdentifierAnalyzerConstructor(
	config map[string]interface{},
	cache *registry.Cache,
) (analysis.Analyzer, error) {
	tokenizer, err := cache.TokenizerNamed(unicodeTokenizerName)
	if err != nil {
		return nil, err
	}

	camelFilter, err := cache.TokenFilterNamed(CamelCaseFilterName)
	if err != nil {
		return nil, err
	}

	lowercaseFilter, err := cache.TokenFilterNamed(lowercaseFilterName)
	if err != nil {
		return nil, err
	}

	return &analysis.DefaultAnalyzer{
		Tokenizer:    tokenizer,
		TokenFilters: []analysis.TokenFilter{camelFilter, lowercaseFilter},
	}, nil
}

// NewDocAnalyzerConstructor creates the doc-text analyzer for the Bleve
// registry. Chain: unicode -> to_lower -> stemmer_porter, appropriate for the
// natural-language summaries attached to entities.
func NewDocAnalyzerConstructor(
	config map[string]interface{},
	cache *registry.Cache,
) (analysis.Analyzer, error) {
	tokenizer, err := cache.TokenizerNamed(unicodeTokenizerName)
	if err != nil {
		return nil, err
	}

	lowercaseFilter, err := cache.TokenFilterNamed(lowercaseFilterName)
	if err != nil {
		return nil, err
	}

	stemmerFilter, err := cache.TokenFilterNamed(porterStemmerName)
	if err != nil {
		return nil, err
	}

	return &analysis.DefaultAnalyzer{
		Tokenizer:    tokenizer,
		TokenFilters: []analysis.TokenFilter{lowercaseFilter, stemmerFilter},
	}, nil
}
