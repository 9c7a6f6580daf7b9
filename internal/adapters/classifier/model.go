package classifier

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/goccy/go-json"
)

// LinearModelFormat is the format tag written by the export script.
const LinearModelFormat = "evewatch-linear-v1"

// LinearModelConfig is the on-disk form of LinearModel.
type LinearModelConfig struct {
	Format  string    `json:"format"`
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// LinearModel scores a sequence as sigmoid(bias + mean(weight[token])) over
// the non-padding tokens. Token ids outside the weight table contribute zero.
type LinearModel struct {
	weights []float64
	bias    float64
}

func NewLinearModel(cfg LinearModelConfig) (*LinearModel, error) {
	if cfg.Format != "" && cfg.Format != LinearModelFormat {
		return nil, fmt.Errorf("%w: unsupported model format %q", ErrArtifact, cfg.Format)
	}
	if len(cfg.Weights) == 0 {
		return nil, fmt.Errorf("%w: model has no weights", ErrArtifact)
	}
	if !finite(cfg.Bias) {
		return nil, fmt.Errorf("%w: bias is not finite", ErrArtifact)
	}
	for i, w := range cfg.Weights {
		if !finite(w) {
			return nil, fmt.Errorf("%w: weight %d is not finite", ErrArtifact, i)
		}
	}
	return &LinearModel{weights: cfg.Weights, bias: cfg.Bias}, nil
}

// LoadLinearModel reads a LinearModelConfig from a JSON file.
func LoadLinearModel(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read model: %v", ErrArtifact, err)
	}

	var cfg LinearModelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: decode model %s: %v", ErrArtifact, path, err)
	}

	m, err := NewLinearModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func (m *LinearModel) Score(ctx context.Context, sequence []int) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var sum float64
	var n int
	for _, tok := range sequence {
		if tok == 0 {
			continue
		}
		n++
		if tok > 0 && tok < len(m.weights) {
			sum += m.weights[tok]
		}
	}

	z := m.bias
	if n > 0 {
		z += sum / float64(n)
	}
	return sigmoid(z), nil
}

func (m *LinearModel) Name() string {
	return "linear"
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
