package sluggen

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Separator joins the noun and the adjective of a slug.
const Separator = "-"

// MinWords is the smallest list size accepted for either side of a pair.
const MinWords = 20

var defaultNouns = []string{
	"coxinha", "pastel", "picanha", "brigadeiro", "mandioca", "laranja",
	"cupuacu", "caju", "tapioca", "vatapa", "acaraje", "feijoada",
	"caipirinha", "pudim", "churrasco", "pacoca", "guarana", "jabuticaba",
	"maracuja", "acai", "farofa", "moqueca", "pirao", "carambola",
}

var defaultAdjectives = []string{
	"rapido", "feliz", "agil", "dourado", "espacial", "secreto", "veloz",
	"lendario", "magico", "brilhante", "forte", "astuto", "valente",
	"curioso", "sereno", "vibrante", "epico", "lunar", "solar", "etereo",
}

// Vocabulary is an immutable pair of word lists. Build it once at startup
// and share it; nothing mutates it after construction.
type Vocabulary struct {
	nouns      []string
	adjectives []string
}

// NewVocabulary validates and copies the given lists. Words must be
// non-empty lowercase ASCII letters and unique within their list.
func NewVocabulary(nouns, adjectives []string) (Vocabulary, error) {
	if err := validateWords("nouns", nouns); err != nil {
		return Vocabulary{}, err
	}
	if err := validateWords("adjectives", adjectives); err != nil {
		return Vocabulary{}, err
	}
	return Vocabulary{
		nouns:      slices.Clone(nouns),
		adjectives: slices.Clone(adjectives),
	}, nil
}

// DefaultVocabulary returns the built-in food nouns and adjectives.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		nouns:      slices.Clone(defaultNouns),
		adjectives: slices.Clone(defaultAdjectives),
	}
}

// Size is the number of distinct slugs the vocabulary can produce.
func (v Vocabulary) Size() int {
	return len(v.nouns) * len(v.adjectives)
}

// Nouns returns a copy of the noun list.
func (v Vocabulary) Nouns() []string { return slices.Clone(v.nouns) }

// Adjectives returns a copy of the adjective list.
func (v Vocabulary) Adjectives() []string { return slices.Clone(v.adjectives) }

// Compose joins a noun and an adjective into a slug.
func Compose(noun, adjective string) string {
	return noun + Separator + adjective
}

// Contains reports whether slug is "<noun>-<adjective>" with both words
// drawn from this vocabulary.
func (v Vocabulary) Contains(slug string) bool {
	noun, adjective, ok := strings.Cut(slug, Separator)
	if !ok {
		return false
	}
	return slices.Contains(v.nouns, noun) && slices.Contains(v.adjectives, adjective)
}

func validateWords(field string, words []string) error {
	if len(words) < MinWords {
		return fmt.Errorf("%s: need at least %d words, got %d", field, MinWords, len(words))
	}
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w == "" {
			return fmt.Errorf("%s: empty word", field)
		}
		for _, c := range w {
			if c < 'a' || c > 'z' {
				return fmt.Errorf("%s: word %q must be lowercase ASCII letters", field, w)
			}
		}
		if _, dup := seen[w]; dup {
			return fmt.Errorf("%s: duplicate word %q", field, w)
		}
		seen[w] = struct{}{}
	}
	return nil
}

var errEmptyVocabulary = errors.New("vocabulary is empty")
