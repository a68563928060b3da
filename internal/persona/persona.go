// Package persona manages the system prompts that open every conversation.
package persona

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultName is the persona used when nothing more specific applies.
const DefaultName = "default"

// SystemRole is the role every persona message carries.
const SystemRole = "system"

// ErrMissingDefault is returned when a persona set has no default entry.
var ErrMissingDefault = errors.New(`persona "default" is not defined`)

// Persona is a named system prompt.
type Persona struct {
	Name    string
	Role    string
	Content string
}

// Set is an immutable collection of personas keyed by name.
type Set struct {
	personas map[string]Persona
}

// NormalizeName folds a persona name. Config map keys arrive lowercased, so
// every name is compared in that form.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NewSet builds a Set from name to prompt content. It must contain "default".
// Names are case-insensitive.
func NewSet(contents map[string]string) (*Set, error) {
	personas := make(map[string]Persona, len(contents))
	for name, content := range contents {
		key := NormalizeName(name)
		if _, dup := personas[key]; dup {
			return nil, fmt.Errorf("persona %q is defined more than once (names are case-insensitive)", key)
		}
		personas[key] = Persona{Name: key, Role: SystemRole, Content: content}
	}
	if _, ok := personas[DefaultName]; !ok {
		return nil, ErrMissingDefault
	}
	return &Set{personas: personas}, nil
}

// Get returns the named persona.
func (s *Set) Get(name string) (Persona, bool) {
	p, ok := s.personas[NormalizeName(name)]
	return p, ok
}

// Default returns the default persona.
func (s *Set) Default() Persona {
	return s.personas[DefaultName]
}

// Names returns persona names in sorted order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.personas))
	for name := range s.personas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadDir reads every *.md and *.txt file below dir. The persona name is the
// lowercased file name without its extension.
func LoadDir(dir string) (map[string]string, error) {
	fsys := os.DirFS(dir)

	matches, err := doublestar.Glob(fsys, "**/*.{md,txt}")
	if err != nil {
		return nil, fmt.Errorf("glob persona dir: %w", err)
	}

	out := make(map[string]string, len(matches))
	for _, match := range matches {
		base := path.Base(match)
		name := NormalizeName(strings.TrimSuffix(base, path.Ext(base)))
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("persona %q defined by more than one file in %s", name, dir)
		}

		data, err := fs.ReadFile(fsys, match)
		if err != nil {
			return nil, fmt.Errorf("read persona %s: %w", match, err)
		}
		out[name] = strings.TrimSpace(string(data))
	}
	return out, nil
}

// Merge combines persona maps; later maps win on name collisions.
func Merge(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for name, content := range m {
			out[name] = content
		}
	}
	return out
}
