// Package moderation masks banned words in message bodies before they are
// stored. Matching ignores case, punctuation and spacing inside a word, and
// the usual leet substitutions, so "s.c.4.m" is caught by "scam".
package moderation

import (
	"fmt"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"
)

type Moderator struct {
	machine *goahocorasick.Machine
	mask    rune
}

var leet = map[rune]rune{
	'4': 'a', '@': 'a',
	'3': 'e', '€': 'e',
	'1': 'i', '!': 'i', '|': 'i',
	'0': 'o',
	'5': 's', '$': 's',
}

// folded is text reduced to the runes that take part in matching. from[i] is
// the index in the original text that runes[i] came from.
type folded struct {
	runes []rune
	from  []int
}

func fold(text []rune) folded {
	f := folded{runes: make([]rune, 0, len(text)), from: make([]int, 0, len(text))}
	for i, r := range text {
		if plain, ok := leet[r]; ok {
			r = plain
		}
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		f.runes = append(f.runes, unicode.ToLower(r))
		f.from = append(f.from, i)
	}
	return f
}

// NewModerator builds the matcher. Words that fold to nothing are dropped, and
// so are words that fold to the same thing as an earlier one.
func NewModerator(words []string, mask rune) (*Moderator, error) {
	patterns := lo.FilterMap(words, func(w string, _ int) ([]rune, bool) {
		f := fold([]rune(w))
		return f.runes, len(f.runes) > 0
	})
	patterns = lo.UniqBy(patterns, func(p []rune) string { return string(p) })

	mod := &Moderator{mask: mask}
	if len(patterns) == 0 {
		return mod, nil
	}
	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return nil, fmt.Errorf("build censor matcher: %w", err)
	}
	mod.machine = machine
	return mod, nil
}

// Censor masks every rune from the first to the last rune of each match.
// Text around a match is kept as written.
func (m *Moderator) Censor(body string) string {
	if m.machine == nil {
		return body
	}
	text := []rune(body)
	f := fold(text)
	if len(f.runes) == 0 {
		return body
	}

	hits := m.machine.MultiPatternSearch(f.runes, false)
	for _, hit := range hits {
		first, last := hit.Pos, hit.Pos+len(hit.Word)-1
		if first < 0 || last >= len(f.from) {
			continue
		}
		for i := f.from[first]; i <= f.from[last]; i++ {
			text[i] = m.mask
		}
	}
	if len(hits) == 0 {
		return body
	}
	return string(text)
}
