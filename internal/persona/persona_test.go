package persona_test

import (
	"os"
	"path/filepath"
	"testing"

	"Pikol/internal/persona"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "personas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestBuiltin_InterpolatesLimit(t *testing.T) {
	set := persona.Builtin(450)

	p := set.Default()
	assert.Equal(t, persona.BuiltinName, p.Name)
	assert.Contains(t, p.Content, "Aim for under 450 characters.")
	assert.NotContains(t, p.Content, "{{")
	assert.Equal(t, []string{"pikol"}, set.Names())
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
personas:
  - name: Grumpy
    content: |
      You are a grumpy wizard cat. Stay under {{.MaxResponseLength}} characters.
  - name: sleepy
    content: You are a very sleepy wizard cat.
`)

	set, err := persona.Load(path, 300)
	require.NoError(t, err)
	assert.Equal(t, []string{"grumpy", "sleepy", "pikol"}, set.Names())
	assert.Equal(t, "grumpy", set.Default().Name)
	assert.Equal(t, "You are a grumpy wizard cat. Stay under 300 characters.", set.Default().Content)

	p, ok := set.Lookup("SLEEPY")
	require.True(t, ok)
	assert.Equal(t, "You are a very sleepy wizard cat.", p.Content)

	p, ok = set.Lookup("")
	require.True(t, ok)
	assert.Equal(t, "grumpy", p.Name)

	_, ok = set.Lookup("pikol")
	assert.True(t, ok)

	_, ok = set.Lookup("dragon")
	assert.False(t, ok)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty", content: "personas: []\n"},
		{name: "malformed", content: "personas: [\n"},
		{name: "missing name", content: "personas:\n  - content: hi\n"},
		{name: "duplicate", content: "personas:\n  - name: a\n    content: x\n  - name: A\n    content: y\n"},
		{name: "unknown field beside the limit", content: "personas:\n  - name: a\n    content: '{{.Nope}} {{.MaxResponseLength}}'\n"},
		{name: "broken template beside the limit", content: "personas:\n  - name: a\n    content: '{{ {{.MaxResponseLength}}'\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := persona.Load(writeFile(t, tt.content), 450)
			assert.Error(t, err)
		})
	}

	_, err := persona.Load(filepath.Join(t.TempDir(), "missing.yaml"), 450)
	assert.Error(t, err)
}

func TestLoad_LiteralBracesWithoutPlaceholder(t *testing.T) {
	path := writeFile(t, `
personas:
  - name: scribe
    content: |
      You are a scribe cat who draws runes like {{ and }} and {{.Nope}} in the margins.
  - name: trickster
    content: "You hide {{ in your spells. Stay under {{ .MaxResponseLength }} characters."
`)

	_, err := persona.Load(path, 300)
	require.Error(t, err, "a prompt using the limit is a template and must parse")

	path = writeFile(t, `
personas:
  - name: scribe
    content: |
      You are a scribe cat who draws runes like {{ and }} and {{.Nope}} in the margins.
  - name: counter
    content: "Stay under {{ .MaxResponseLength }} characters."
`)

	set, err := persona.Load(path, 300)
	require.NoError(t, err)

	p, ok := set.Lookup("scribe")
	require.True(t, ok)
	assert.Equal(t, "You are a scribe cat who draws runes like {{ and }} and {{.Nope}} in the margins.", p.Content)

	p, ok = set.Lookup("counter")
	require.True(t, ok)
	assert.Equal(t, "Stay under 300 characters.", p.Content)
}
