package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/xoelrdgz/evewatch/pkg/sanitize"
)

const (
	DefaultUserAgent = "curl/8.14.1"
	RequestIDHeader  = "X-Request-ID"
)

type RunnerConfig struct {
	Target    string        // scheme://host[:port], each requoted query is appended
	Delay     time.Duration // minimum spacing between requests; 0 sends back to back
	Timeout   time.Duration
	Limit     int // 0 sends every sample
	UserAgent string
	Out       io.Writer // per-request result lines, stdout when nil
}

// Summary counts what a run did. Status codes are per response; transport
// failures only bump Failed.
type Summary struct {
	Sent     int
	Failed   int
	ByStatus map[int]int
}

// Runner issues one GET per sample. Redirects are never followed so the
// status seen is the one the server chose for the payload.
type Runner struct {
	cfg     RunnerConfig
	client  *http.Client
	limiter *rate.Limiter
	out     io.Writer
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Target == "" {
		return nil, errors.New("replay target is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}

	return &Runner{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		limiter: rate.NewLimiter(limit, 1),
		out:     out,
	}, nil
}

// Run sends the samples in the given order and stops early when ctx is
// cancelled. Per-request failures are printed and counted, never returned.
func (r *Runner) Run(ctx context.Context, samples []Sample) (Summary, error) {
	if r.cfg.Limit > 0 && len(samples) > r.cfg.Limit {
		samples = samples[:r.cfg.Limit]
	}

	summary := Summary{ByStatus: make(map[int]int)}
	log.Info().
		Int("requests", len(samples)).
		Str("target", r.cfg.Target).
		Dur("delay", r.cfg.Delay).
		Msg("Starting replay")

	for _, s := range samples {
		if err := r.wait(ctx); err != nil {
			return summary, err
		}

		fullURL := r.URL(s.Query)
		status, err := r.send(ctx, fullURL)
		summary.Sent++
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.Failed++
			fmt.Fprintf(r.out, "[ERROR] Failed: %s - %v\n", sanitize.URL(fullURL), err)
			log.Debug().Err(err).Str("url", fullURL).Msg("Replay request failed")
			continue
		}
		summary.ByStatus[status]++
		fmt.Fprintf(r.out, "[%s] %s -> %d\n", s.Label, sanitize.URL(s.Query), status)
	}

	log.Info().
		Int("sent", summary.Sent).
		Int("failed", summary.Failed).
		Msg("Replay done")
	return summary, nil
}

// wait blocks until the limiter allows the next request. Unlike
// rate.Limiter.Wait it always ends with ctx.Err() on cancellation, even when
// the delay is longer than the deadline.
func (r *Runner) wait(ctx context.Context) error {
	res := r.limiter.Reserve()
	delay := res.Delay()
	if delay == 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		res.Cancel()
		return ctx.Err()
	}
}

// URL joins the target and a sample query after RequoteURI. A slash shared by
// both is not doubled.
func (r *Runner) URL(query string) string {
	query = RequoteURI(query)
	target := r.cfg.Target
	if strings.HasSuffix(target, "/") && strings.HasPrefix(query, "/") {
		target = strings.TrimSuffix(target, "/")
	}
	return target + query
}

func (r *Runner) send(ctx context.Context, fullURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set(RequestIDHeader, uuid.NewString())

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	return resp.StatusCode, nil
}
