// Package ports defines the interfaces between the decision core and its
// adapters (log sources, classifier collaborators, result outputs, dedup
// storage).
//
// Implementations live in internal/adapters/. The pipeline in internal/app
// only depends on these contracts.
package ports

import (
	"context"

	"github.com/xoelrdgz/evewatch/internal/domain"
)

// Vectorizer turns URL text into a fixed-length integer sequence.
//
// Contract:
//   - The returned slice always has length MaxLen()
//   - Unused positions are zero (post padding)
//   - MUST NOT retain the input
type Vectorizer interface {
	Vectorize(text string) []int
	MaxLen() int
}

// Scorer is the opaque sequence model: token sequence in, probability out.
//
// Implementations:
//   - LinearModel: local artifact loaded at startup
//   - RemoteScorer: TF-Serving style HTTP inference endpoint
//
// The returned score is expected in [0,1]. An error is a per-record failure;
// the caller skips the record.
type Scorer interface {
	Score(ctx context.Context, sequence []int) (float64, error)
	Name() string
}

// Classifier labels URL text. The text passed in is already percent-decoded;
// the classifier lower-cases it itself.
type Classifier interface {
	Classify(ctx context.Context, text string) (domain.Label, float64, error)
}
