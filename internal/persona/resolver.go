package persona

import (
	"fmt"
	"log/slog"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ireland-samantha/zia-gateway/internal/storage"
)

// Override assigns a persona to conversations on one platform. Match is an
// exact conversation scope (channel, or user/channel for web chats) or a
// doublestar pattern such as "C01*" or "alice/**".
type Override struct {
	Platform string
	Match    string
	Persona  string
}

type rule struct {
	match   string
	persona string
}

type platformRules struct {
	exact    map[string]string
	patterns []rule
}

// Resolver picks the persona for a conversation. It is safe for concurrent use.
type Resolver struct {
	set   *Set
	rules map[string]*platformRules
}

// NewResolver validates every override pattern. Overrides naming an unknown
// persona are kept and resolve to the default.
func NewResolver(set *Set, overrides []Override, logger *slog.Logger) (*Resolver, error) {
	r := &Resolver{
		set:   set,
		rules: make(map[string]*platformRules),
	}

	for _, o := range overrides {
		o.Persona = NormalizeName(o.Persona)
		if !doublestar.ValidatePattern(o.Match) {
			return nil, fmt.Errorf("invalid persona override pattern %q for %s", o.Match, o.Platform)
		}
		if _, ok := set.Get(o.Persona); !ok {
			logger.Warn("Override references unknown persona, default will be used",
				"platform", o.Platform, "match", o.Match, "persona", o.Persona)
		}

		pr, ok := r.rules[o.Platform]
		if !ok {
			pr = &platformRules{exact: make(map[string]string)}
			r.rules[o.Platform] = pr
		}
		if _, dup := pr.exact[o.Match]; !dup {
			pr.exact[o.Match] = o.Persona
		}
		pr.patterns = append(pr.patterns, rule{match: o.Match, persona: o.Persona})
	}

	return r, nil
}

// Resolve returns the persona for key on platform. An exact scope match wins,
// then the first matching pattern, then the default.
func (r *Resolver) Resolve(platform string, key storage.Key) Persona {
	pr, ok := r.rules[platform]
	if !ok {
		return r.set.Default()
	}

	scope := key.Scope()
	if name, ok := pr.exact[scope]; ok {
		return r.lookup(name)
	}
	for _, rl := range pr.patterns {
		if matched, _ := doublestar.Match(rl.match, scope); matched {
			return r.lookup(rl.persona)
		}
	}
	return r.set.Default()
}

func (r *Resolver) lookup(name string) Persona {
	if p, ok := r.set.Get(name); ok {
		return p
	}
	return r.set.Default()
}
