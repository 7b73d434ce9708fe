// Package moderation provides the pass/fail content gate consulted before a
// message is persisted. The classifier itself lives outside this system; this
// is the consumed interface plus a term-list implementation.
package moderation

import (
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Gate decides whether message content may be persisted.
type Gate interface {
	Allow(content string) bool
}

// TermGate rejects content containing any banned term. Matching runs over a
// normalized view of the input so case, punctuation and common leet-speak
// substitutions do not defeat the gate.
type TermGate struct {
	matcher *goahocorasick.Machine
}

// NewTermGate builds the Aho-Corasick automaton from the banned-term list.
// An empty list yields a gate that passes everything.
func NewTermGate(terms []string) (*TermGate, error) {
	if len(terms) == 0 {
		return &TermGate{}, nil
	}

	patterns := make([][]rune, len(terms))
	for i, term := range terms {
		patterns[i] = normalize([]rune(term))
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return &TermGate{matcher: m}, nil
}

// Allow reports whether content passes the gate.
func (g *TermGate) Allow(content string) bool {
	if g.matcher == nil {
		return true
	}
	norm := normalize([]rune(content))
	if len(norm) == 0 {
		return true
	}
	return len(g.matcher.MultiPatternSearch(norm, true)) == 0
}

func normalize(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
	}
	return out
}

// simplifyRune maps common leet-speak characters back to their standard
// alphabet counterparts.
func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

// isNoise identifies characters ignored during matching.
func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
