// Package sluggen draws human-friendly "<food>-<adjective>" slugs.
// Generators are safe for concurrent use.
package sluggen

import (
	"crypto/rand"
	"io"
	"math/big"
)

// Generator produces slug candidates. Uniqueness is the caller's concern.
type Generator interface {
	Generate() (string, error)
}

// wordPairGenerator picks one noun and one adjective uniformly at random.
type wordPairGenerator struct {
	vocab  Vocabulary
	source io.Reader
}

// Option configures a word-pair generator.
type Option func(*wordPairGenerator)

// WithRandSource replaces crypto/rand as the entropy source. Tests use it to
// make draws deterministic.
func WithRandSource(r io.Reader) Option {
	return func(g *wordPairGenerator) {
		if r != nil {
			g.source = r
		}
	}
}

// NewWordPair returns a generator over vocab.
func NewWordPair(vocab Vocabulary, opts ...Option) Generator {
	g := &wordPairGenerator{vocab: vocab, source: rand.Reader}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *wordPairGenerator) Generate() (string, error) {
	if len(g.vocab.nouns) == 0 || len(g.vocab.adjectives) == 0 {
		return "", errEmptyVocabulary
	}

	noun, err := g.pick(g.vocab.nouns)
	if err != nil {
		return "", err
	}
	adjective, err := g.pick(g.vocab.adjectives)
	if err != nil {
		return "", err
	}
	return Compose(noun, adjective), nil
}

// pick uses rand.Int, which rejects out-of-range samples, so every word is
// equally likely regardless of list length.
func (g *wordPairGenerator) pick(words []string) (string, error) {
	n, err := rand.Int(g.source, big.NewInt(int64(len(words))))
	if err != nil {
		return "", err
	}
	return words[n.Int64()], nil
}
