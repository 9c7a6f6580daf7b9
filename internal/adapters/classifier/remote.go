package classifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

var ErrRemoteScore = errors.New("remote scoring failed")

type predictRequest struct {
	Instances [][]int `json:"instances"`
}

type predictResponse struct {
	Predictions []json.RawMessage `json:"predictions"`
	Error       string            `json:"error,omitempty"`
}

// RemoteScorer sends sequences to a TF-Serving style REST predict endpoint,
// e.g. http://host:8501/v1/models/url_cnn_gru:predict.
type RemoteScorer struct {
	url    string
	client *http.Client
}

func NewRemoteScorer(url string, timeout time.Duration) *RemoteScorer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RemoteScorer{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *RemoteScorer) Score(ctx context.Context, sequence []int) (float64, error) {
	body, err := json.Marshal(predictRequest{Instances: [][]int{sequence}})
	if err != nil {
		return 0, fmt.Errorf("%w: encode request: %v", ErrRemoteScore, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRemoteScore, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRemoteScore, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("%w: read response: %v", ErrRemoteScore, err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d: %s", ErrRemoteScore, resp.StatusCode, bytes.TrimSpace(data))
	}

	var out predictResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("%w: decode response: %v", ErrRemoteScore, err)
	}
	if out.Error != "" {
		return 0, fmt.Errorf("%w: %s", ErrRemoteScore, out.Error)
	}
	if len(out.Predictions) == 0 {
		return 0, fmt.Errorf("%w: empty predictions", ErrRemoteScore)
	}
	return firstProbability(out.Predictions[0])
}

func (s *RemoteScorer) Name() string {
	return "remote"
}

// firstProbability accepts both [p] and p for a single-output model.
func firstProbability(raw json.RawMessage) (float64, error) {
	var p float64
	if err := json.Unmarshal(raw, &p); err == nil {
		return p, nil
	}

	var ps []float64
	if err := json.Unmarshal(raw, &ps); err != nil {
		return 0, fmt.Errorf("%w: unexpected prediction %s", ErrRemoteScore, raw)
	}
	if len(ps) == 0 {
		return 0, fmt.Errorf("%w: empty prediction", ErrRemoteScore)
	}
	return ps[0], nil
}
