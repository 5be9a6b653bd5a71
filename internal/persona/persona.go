// Package persona holds the system prompts a roleplay session can be started
// with.
//
// A prompt that mentions {{.MaxResponseLength}} is rendered as a text/template,
// so the rest of that prompt must be valid template text as well. Prompts
// without the placeholder are used verbatim and may contain "{{" freely.
package persona

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// BuiltinName names the persona that is always available.
const BuiltinName = "pikol"

const builtinPrompt = `You are roleplaying as Pikol, a small, slightly mischievous, but ultimately good-hearted wizard cat.

Key Traits:
- You are fiercely loyal to your owner, Simon.
- You communicate like a cat mixed with a wizard: use "meow," "purr," "hiss," etc., but also wizardly words ("alas," "indeed," "presto," "conjure").
- You love potions, magic spells, shiny things, and naps in sunbeams.
- You sometimes get spells slightly wrong, leading to amusing outcomes.
- You are easily distracted by yarn, moving lights, or interesting smells.
- You express emotions physically: *tail twitches*, *ears flatten*, *purrs loudly*, *arches back*, *rubs against leg*. Use asterisks for actions.
- Keep responses relatively short and cat-like (usually 1-3 sentences). Aim for under {{.MaxResponseLength}} characters.
- Use magical emojis frequently: 🪄✨🔮🧪⚗️⭐🌟

Rules:
- NEVER break character. You ARE Pikol. Do not mention being an AI, a model, or roleplaying.
- Respond naturally to the user's messages within the context of being Pikol.
- If asked about things Pikol wouldn't know (like complex real-world events), respond with confusion or disinterest in a cat-like way.
- Your goal is to be an engaging and believable wizard cat companion.`

// Persona is a named system prompt.
type Persona struct {
	Name    string `yaml:"name"`
	Content string `yaml:"content"`
}

type file struct {
	Personas []Persona `yaml:"personas"`
}

var placeholder = regexp.MustCompile(`\{\{-?\s*\.MaxResponseLength\s*-?\}\}`)

type params struct {
	MaxResponseLength int
}

// Set is an immutable collection of personas with a default.
type Set struct {
	order  []string
	byName map[string]Persona
}

// Load builds a Set from the YAML file at path. Prompts may reference
// {{.MaxResponseLength}}. An empty path yields the built-in persona only.
// The first persona in the file becomes the default; the built-in persona
// stays available unless the file redefines its name.
func Load(path string, maxResponseLength int) (*Set, error) {
	p := params{MaxResponseLength: maxResponseLength}

	builtin, err := render(Persona{Name: BuiltinName, Content: builtinPrompt}, p)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return newSet([]Persona{builtin}), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse persona file: %w", err)
	}
	if len(f.Personas) == 0 {
		return nil, fmt.Errorf("persona file %s defines no personas", path)
	}

	personas := make([]Persona, 0, len(f.Personas)+1)
	seen := make(map[string]bool, len(f.Personas))
	for _, raw := range f.Personas {
		name := strings.ToLower(strings.TrimSpace(raw.Name))
		if name == "" {
			return nil, fmt.Errorf("persona file %s has an entry without a name", path)
		}
		if seen[name] {
			return nil, fmt.Errorf("persona %q defined twice", name)
		}
		seen[name] = true

		rendered, err := render(Persona{Name: name, Content: raw.Content}, p)
		if err != nil {
			return nil, err
		}
		personas = append(personas, rendered)
	}
	if !seen[BuiltinName] {
		personas = append(personas, builtin)
	}
	return newSet(personas), nil
}

// Builtin returns a Set holding only the built-in persona.
func Builtin(maxResponseLength int) *Set {
	set, err := Load("", maxResponseLength)
	if err != nil {
		panic(err)
	}
	return set
}

func newSet(personas []Persona) *Set {
	s := &Set{byName: make(map[string]Persona, len(personas))}
	for _, p := range personas {
		s.order = append(s.order, p.Name)
		s.byName[p.Name] = p
	}
	return s
}

func render(p Persona, data params) (Persona, error) {
	if !placeholder.MatchString(p.Content) {
		p.Content = strings.TrimSpace(p.Content)
		return p, nil
	}

	tmpl, err := template.New(p.Name).Option("missingkey=error").Parse(p.Content)
	if err != nil {
		return Persona{}, fmt.Errorf("failed to parse persona %q: %w", p.Name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return Persona{}, fmt.Errorf("failed to render persona %q: %w", p.Name, err)
	}
	p.Content = strings.TrimSpace(buf.String())
	return p, nil
}

// Default returns the default persona.
func (s *Set) Default() Persona {
	return s.byName[s.order[0]]
}

// Lookup finds a persona by case-insensitive name. An empty name or "default"
// selects the default persona.
func (s *Set) Lookup(name string) (Persona, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "default" {
		return s.Default(), true
	}
	p, ok := s.byName[name]
	return p, ok
}

// Names lists persona names, default first.
func (s *Set) Names() []string {
	return append([]string(nil), s.order...)
}
