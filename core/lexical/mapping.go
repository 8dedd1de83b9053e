package lexical

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/adalundhe/loupe/core/corpus"
)

// EntityTypeName is the Bleve document type for indexed entities.
const EntityTypeName = "entity"

// =============================================================================
// Document
// =============================================================================

// Document is the Bleve representation of a corpus entity. The document ID is
// the entity ID; fields carry only what the lexical channel searches or
// displays.
type Document struct {
	// Name is the bare identifier, indexed exactly for full-identifier match.
	Name string `json:"name"`

	// Symbols is the identifier text analyzed with camel-aware splitting, so
	// partial matches like "validate" hit "validateEmail".
	Symbols string `json:"symbols"`

	// Doc is the natural-language summary or docstring.
	Doc string `json:"doc,omitempty"`

	// Path is the source path, matched exactly.
	Path string `json:"path,omitempty"`

	// Kind is the entity kind (function, module, file, directory).
	Kind string `json:"kind"`

	// Domains are the entity's domain tags, matched exactly.
	Domains []string `json:"domains,omitempty"`
}

// DocumentFromEntity converts a corpus entity into its indexable form.
func DocumentFromEntity(e *corpus.Entity) *Document {
	symbols := e.Name
	if e.Path != "" {
		symbols += " " + e.Path
	}

	return &Document{
		Name:    e.Name,
		Symbols: symbols,
		Doc:     e.Doc,
		Path:    e.Path,
		Kind:    e.Kind.String(),
		Domains: append([]string(nil), e.DomainTags...),
	}
}

// =============================================================================
// Index Mapping
// =============================================================================

// BuildEntityMapping returns the document mapping for entity documents.
// Dynamic mapping is disabled so only declared fields are indexed.
func BuildEntityMapping() *mapping.DocumentMapping {
	docMapping := bleve.NewDocumentMapping()
	docMapping.Dynamic = false

	docMapping.AddFieldMappingsAt("name", keywordField())
	docMapping.AddFieldMappingsAt("symbols", analyzedField(IdentifierAnalyzerName, true))
	docMapping.AddFieldMappingsAt("doc", analyzedField(DocAnalyzerName, true))
	docMapping.AddFieldMappingsAt("path", keywordField())
	docMapping.AddFieldMappingsAt("kind", keywordField())
	docMapping.AddFieldMappingsAt("domains", keywordField())

	return docMapping
}

// BuildIndexMapping returns the complete index mapping with the entity
// document type and all custom analyzers resolvable by name.
func BuildIndexMapping() (mapping.IndexMapping, error) {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultType = EntityTypeName
	indexMapping.DefaultAnalyzer = standardAnalyzerName
	indexMapping.StoreDynamic = false
	indexMapping.IndexDynamic = false
	indexMapping.AddDocumentMapping(EntityTypeName, BuildEntityMapping())
	return indexMapping, nil
}

// keywordField returns a stored, indexed, exact-match text field mapping.
func keywordField() *mapping.FieldMapping {
	field := bleve.NewTextFieldMapping()
	field.Analyzer = KeywordAnalyzerName
	field.Store = true
	field.Index = true
	field.IncludeInAll = false
	return field
}

// analyzedField returns a stored, indexed text field using the named analyzer.
func analyzedField(analyzer string, includeInAll bool) *mapping.FieldMapping {
	field := bleve.NewTextFieldMapping()
	field.Analyzer = analyzer
	field.Store = true
	field.Index = true
	field.IncludeInAll = includeInAll
	return field
}
