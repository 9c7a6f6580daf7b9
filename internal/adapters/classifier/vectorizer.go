// Package classifier turns URL text into an ATTACK/BENIGN decision.
//
// A Vectorizer maps text onto a fixed-length integer sequence and a Scorer
// maps that sequence onto a probability in [0,1]. Both are loaded once at
// startup from JSON artifacts exported next to the trained model; a missing or
// unreadable artifact is returned as ErrArtifact and must stop the process.
package classifier

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

var ErrArtifact = errors.New("model artifact unusable")

// DefaultMaxLen is the sequence length the model was trained with.
const DefaultMaxLen = 64

// DefaultFilters are the characters stripped before word-level tokenization.
const DefaultFilters = "!\"#$%&()*+,-./:;<=>?@[\\]^_`{|}~\t\n"

// VectorizerConfig is the on-disk form of a fitted tokenizer.
type VectorizerConfig struct {
	MaxLen    int            `json:"max_len"`
	CharLevel bool           `json:"char_level"`
	Lower     *bool          `json:"lower,omitempty"`
	Filters   *string        `json:"filters,omitempty"`
	Split     string         `json:"split,omitempty"`
	OOVIndex  int            `json:"oov_index,omitempty"`
	NumWords  int            `json:"num_words,omitempty"`
	WordIndex map[string]int `json:"word_index"`
}

// SequenceVectorizer reproduces a fitted texts-to-sequences tokenizer
// followed by post-padding. Sequences longer than MaxLen keep their last
// MaxLen tokens.
type SequenceVectorizer struct {
	maxLen    int
	charLevel bool
	lower     bool
	filters   string
	split     string
	oovIndex  int
	numWords  int
	index     map[string]int
}

func NewSequenceVectorizer(cfg VectorizerConfig) (*SequenceVectorizer, error) {
	if len(cfg.WordIndex) == 0 {
		return nil, fmt.Errorf("%w: empty word_index", ErrArtifact)
	}
	if cfg.MaxLen < 0 {
		return nil, fmt.Errorf("%w: negative max_len %d", ErrArtifact, cfg.MaxLen)
	}
	for token, idx := range cfg.WordIndex {
		if idx <= 0 {
			return nil, fmt.Errorf("%w: token %q has index %d, indices start at 1", ErrArtifact, token, idx)
		}
	}

	v := &SequenceVectorizer{
		maxLen:    cfg.MaxLen,
		charLevel: cfg.CharLevel,
		lower:     true,
		filters:   DefaultFilters,
		split:     " ",
		oovIndex:  cfg.OOVIndex,
		numWords:  cfg.NumWords,
		index:     cfg.WordIndex,
	}
	if v.maxLen == 0 {
		v.maxLen = DefaultMaxLen
	}
	if cfg.Lower != nil {
		v.lower = *cfg.Lower
	}
	if cfg.Filters != nil {
		v.filters = *cfg.Filters
	}
	if cfg.Split != "" {
		v.split = cfg.Split
	}
	return v, nil
}

// LoadVectorizer reads a VectorizerConfig from a JSON file.
func LoadVectorizer(path string) (*SequenceVectorizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read vectorizer: %v", ErrArtifact, err)
	}

	var cfg VectorizerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: decode vectorizer %s: %v", ErrArtifact, path, err)
	}

	v, err := NewSequenceVectorizer(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

func (v *SequenceVectorizer) MaxLen() int {
	return v.maxLen
}

// Vocabulary returns the number of indexed tokens.
func (v *SequenceVectorizer) Vocabulary() int {
	return len(v.index)
}

// Vectorize returns exactly MaxLen indices, zero-padded at the end.
func (v *SequenceVectorizer) Vectorize(text string) []int {
	seq := v.sequence(text)
	if len(seq) > v.maxLen {
		seq = seq[len(seq)-v.maxLen:]
	}

	out := make([]int, v.maxLen)
	copy(out, seq)
	return out
}

func (v *SequenceVectorizer) sequence(text string) []int {
	if v.lower {
		text = strings.ToLower(text)
	}

	seq := make([]int, 0, len(text))
	for _, token := range v.tokens(text) {
		idx, ok := v.index[token]
		switch {
		case !ok:
			if v.oovIndex > 0 {
				seq = append(seq, v.oovIndex)
			}
		case v.numWords > 0 && idx >= v.numWords:
			if v.oovIndex > 0 {
				seq = append(seq, v.oovIndex)
			}
		default:
			seq = append(seq, idx)
		}
	}
	return seq
}

func (v *SequenceVectorizer) tokens(text string) []string {
	if v.charLevel {
		tokens := make([]string, 0, len(text))
		for _, r := range text {
			tokens = append(tokens, string(r))
		}
		return tokens
	}

	if v.filters != "" {
		var b strings.Builder
		b.Grow(len(text))
		for _, r := range text {
			if strings.ContainsRune(v.filters, r) {
				b.WriteString(v.split)
				continue
			}
			b.WriteRune(r)
		}
		text = b.String()
	}

	parts := strings.Split(text, v.split)
	tokens := parts[:0]
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}
