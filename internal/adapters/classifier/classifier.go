package classifier

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/evewatch/internal/domain"
	"github.com/xoelrdgz/evewatch/internal/ports"
)

// Classifier lower-cases the text, vectorizes it and applies the scorer.
// It holds no mutable state.
type Classifier struct {
	vectorizer ports.Vectorizer
	scorer     ports.Scorer
}

func New(vectorizer ports.Vectorizer, scorer ports.Scorer) *Classifier {
	return &Classifier{vectorizer: vectorizer, scorer: scorer}
}

// Options selects the artifacts used by Load.
type Options struct {
	VectorizerPath string
	WeightsPath    string
	// RemoteURL, when set, replaces the local weights with an inference
	// endpoint. The vectorizer is still loaded locally.
	RemoteURL     string
	RemoteTimeout time.Duration
}

// Load builds a Classifier from artifacts on disk. Any error wraps ErrArtifact.
func Load(opts Options) (*Classifier, error) {
	vectorizer, err := LoadVectorizer(opts.VectorizerPath)
	if err != nil {
		return nil, err
	}

	var scorer ports.Scorer
	if opts.RemoteURL != "" {
		scorer = NewRemoteScorer(opts.RemoteURL, opts.RemoteTimeout)
	} else {
		model, err := LoadLinearModel(opts.WeightsPath)
		if err != nil {
			return nil, err
		}
		scorer = model
	}

	log.Info().
		Str("vectorizer", opts.VectorizerPath).
		Int("max_len", vectorizer.MaxLen()).
		Int("vocabulary", vectorizer.Vocabulary()).
		Str("scorer", scorer.Name()).
		Msg("Classifier loaded")

	return New(vectorizer, scorer), nil
}

func (c *Classifier) Classify(ctx context.Context, text string) (domain.Label, float64, error) {
	seq := c.vectorizer.Vectorize(strings.ToLower(text))

	score, err := c.scorer.Score(ctx, seq)
	if err != nil {
		return "", 0, fmt.Errorf("%s scorer: %w", c.scorer.Name(), err)
	}
	if math.IsNaN(score) {
		return "", 0, fmt.Errorf("%s scorer returned NaN", c.scorer.Name())
	}

	return domain.LabelForScore(score), score, nil
}
