package spectral

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apigovern/rulekeeper/internal/domain/governance"
)

const sampleRuleset = `
rules:
  paths-kebab-case:
    description: Path segments must be kebab-case.
    message: "{{property}} is not kebab-case"
    severity: error
    given: $.paths[*]~
    then:
      function: pattern
      functionOptions:
        match: "^(/[a-z0-9-.]+|/{[a-zA-Z0-9_]+})+$"
  info-contact:
    description: Info object must have a contact.
    message: Missing contact object.
    given: $.info
    then:
      field: contact
      function: truthy
`

func TestEngineExtract(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	rules, err := engine.Extract([]byte(sampleRuleset))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	// Ordered by rule name.
	assert.Equal(t, "info-contact", rules[0].Code)
	assert.Equal(t, "paths-kebab-case", rules[1].Code)

	assert.Equal(t, "Info object must have a contact.", rules[0].Description)
	assert.Equal(t, "Missing contact object.", rules[0].MessageOnFailure)
	assert.Equal(t, governance.SeverityWarn, rules[0].Severity, "severity defaults to warn")

	assert.Equal(t, governance.SeverityError, rules[1].Severity)
	assert.Contains(t, string(rules[1].Content), "kebab-case")
}

func TestEngineExtractDeterministic(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	first, err := engine.Extract([]byte(sampleRuleset))
	require.NoError(t, err)
	second, err := engine.Extract([]byte(sampleRuleset))
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Code, second[i].Code)
		assert.Equal(t, first[i].Content, second[i].Content)
	}
}

func TestEngineExtractEmptyDocument(t *testing.T) {
	t.Parallel()

	engine := NewEngine()

	rules, err := engine.Extract([]byte("description: no rules here\n"))
	require.NoError(t, err)
	assert.Empty(t, rules)

	rules, err = engine.Extract([]byte("rules: {}\n"))
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestEngineExtractInvalid(t *testing.T) {
	t.Parallel()

	engine := NewEngine()

	tests := []struct {
		name    string
		content string
	}{
		{name: "malformed yaml", content: "rules:\n  broken: [unclosed\n"},
		{name: "scalar rules block", content: "rules: not-a-map\n"},
		{name: "unknown severity", content: "rules:\n  r1:\n    severity: fatal\n"},
		{name: "scalar rule body", content: "rules:\n  r1: just-a-string\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := engine.Extract([]byte(tt.content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, governance.ErrContentInvalid))
		})
	}
}

func TestEngineExtractSkipsExtensionKeys(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	rules, err := engine.Extract([]byte("rules:\n  x-internal: {description: ignored}\n  real-rule: {message: hi}\n"))
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "real-rule", rules[0].Code)
}
