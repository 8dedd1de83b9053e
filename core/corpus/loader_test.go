package corpus

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEntityLines = `{"id":"login","kind":"function","name":"login","path":"internal/auth/login.go","line":14,"domain_tags":["auth"],"owner":"identity-team","embedding":[0.1,0.2,0.3]}
{"id":"validateEmail","kind":"function","name":"validateEmail","path":"internal/auth/validate.go","line":9}
{"id":"auth","kind":"module","name":"auth","path":"internal/auth"}

{"id":"","kind":"function","name":"broken"}
not even json`

const testEdgeLines = `{"source_id":"login","target_id":"validateEmail","edge_type":"calls","weight":1,"provenance":{"source":"ast_verified","exact_line":true}}
{"source_id":"auth","target_id":"login","edge_type":"contains","weight":1,"provenance":{"source":"ast_verified"}}
{"source_id":"login","target_id":"validateEmail","edge_type":"calls","weight":0.4,"provenance":{"source":"bad_source"}}`

func TestLoader_Load(t *testing.T) {
	loader := NewLoader()
	result, err := loader.Load(strings.NewReader(testEntityLines), strings.NewReader(testEdgeLines), 3)
	require.NoError(t, err)

	// Two bad entity lines and one bad edge line skipped, blanks ignored.
	assert.Equal(t, 3, result.Stats.Entities)
	assert.Equal(t, 2, result.Stats.Edges)
	assert.Equal(t, 3, result.Stats.Skipped)
	assert.Len(t, result.Stats.Warnings, 3)

	// Embedding captured and flagged on the entity.
	require.Len(t, result.Vectors["login"], 3)
	assert.Equal(t, 1, result.Stats.Vectors)
	assert.True(t, result.Builder.Entity("login").HasEmbedding)
	assert.False(t, result.Builder.Entity("validateEmail").HasEmbedding)

	snap, err := result.Builder.Build()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), snap.Epoch())
	assert.Equal(t, 3, snap.EntityCount())
	assert.Equal(t, 2, snap.EdgeCount())

	// The duplicate-key bad-provenance edge was skipped, so the verified
	// exact-line confidence survives.
	edge := snap.Edge(EdgeKey{Source: "login", Target: "validateEmail", Type: EdgeCalls})
	require.NotNil(t, edge)
	assert.InDelta(t, 0.95, edge.ConfidenceNumeric(), 1e-12)
}

func TestLoader_Load_EntityMetadata(t *testing.T) {
	loader := NewLoader()
	result, err := loader.Load(strings.NewReader(testEntityLines), strings.NewReader(""), 1)
	require.NoError(t, err)

	login := result.Builder.Entity("login")
	require.NotNil(t, login)
	assert.Equal(t, KindFunction, login.Kind)
	assert.Equal(t, 14, login.Line)
	assert.Equal(t, "identity-team", login.Owner)
	assert.True(t, login.HasDomainTag("auth"))
	assert.False(t, login.HasDomainTag("storage"))
}
