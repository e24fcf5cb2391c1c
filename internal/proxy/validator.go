package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"codeberg.org/snonux/decktranslate/internal/logger"
)

var (
	// ErrNoCandidates is returned when the candidate list is empty
	ErrNoCandidates = errors.New("no candidate proxies")
	// ErrNoWorkingProxies is returned when every candidate failed its probe
	ErrNoWorkingProxies = errors.New("none of the proxies in the list work")
)

// DefaultAcceptedStatuses are the probe status codes that count as a
// completed round trip through the proxy.
var DefaultAcceptedStatuses = []int{200, 301, 302, 307, 404}

const (
	DefaultProbeURL     = "http://ident.me/"
	DefaultProbeTimeout = 5 * time.Second
)

// Prober performs a single liveness request through a proxy
type Prober interface {
	Probe(ctx context.Context, p *Proxy) (int, error)
}

// HTTPProber issues a GET to URL through the proxy
type HTTPProber struct {
	URL     string
	Timeout time.Duration
}

// Probe returns the response status code
func (hp *HTTPProber) Probe(ctx context.Context, p *Proxy) (int, error) {
	client, err := p.HTTPClient(hp.Timeout)
	if err != nil {
		return 0, err
	}
	defer client.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(ctx, hp.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hp.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	return resp.StatusCode, nil
}

// ValidatorOptions configures probing
type ValidatorOptions struct {
	ProbeURL         string
	Timeout          time.Duration
	AcceptedStatuses []int
	Concurrency      int // 0 probes every candidate at once
}

// Validator probes candidates once and builds the run's Pool
type Validator struct {
	prober      Prober
	accepted    map[int]bool
	concurrency int
}

// NewValidator creates a validator that probes over HTTP
func NewValidator(opts ValidatorOptions) *Validator {
	if opts.ProbeURL == "" {
		opts.ProbeURL = DefaultProbeURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultProbeTimeout
	}
	return NewValidatorWithProber(&HTTPProber{URL: opts.ProbeURL, Timeout: opts.Timeout}, opts.AcceptedStatuses, opts.Concurrency)
}

// NewValidatorWithProber creates a validator with a custom prober
func NewValidatorWithProber(prober Prober, accepted []int, concurrency int) *Validator {
	if len(accepted) == 0 {
		accepted = DefaultAcceptedStatuses
	}
	set := make(map[int]bool, len(accepted))
	for _, code := range accepted {
		set[code] = true
	}
	return &Validator{
		prober:      prober,
		accepted:    set,
		concurrency: concurrency,
	}
}

// Validate probes every candidate concurrently and returns the resulting
// pool. It fails when there are no candidates or none of them work.
func (v *Validator) Validate(ctx context.Context, candidates []*Proxy) (*Pool, error) {
	l := logger.WithComponent("proxy/validator")

	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	l.Info().Int("count", len(candidates)).Int("concurrency", v.concurrency).Msg("Probing candidate proxies")

	g := new(errgroup.Group)
	if v.concurrency > 0 {
		g.SetLimit(v.concurrency)
	}

	// Each goroutine only touches its own proxy.
	for _, p := range candidates {
		g.Go(func() error {
			v.probe(ctx, p)
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pool := newPool(candidates)
	stats := pool.Stats()

	l.Info().
		Int("total", stats.Total).
		Int("working", stats.Working).
		Int("not_working", stats.NotWorking).
		Float64("failure_rate", stats.FailureRate()).
		Msg("Proxy validation finished")

	if stats.Working == 0 {
		return pool, fmt.Errorf("%w (%d candidates probed)", ErrNoWorkingProxies, stats.Total)
	}

	return pool, nil
}

func (v *Validator) probe(ctx context.Context, p *Proxy) {
	l := logger.WithComponent("proxy/validator")
	start := time.Now()

	status, err := v.prober.Probe(ctx, p)
	latency := time.Since(start)

	switch {
	case err != nil:
		p.settle(NotWorking, 0, err, latency)
		l.Debug().Str("proxy", p.Address).Err(err).Msg("Probe failed")
	case v.accepted[status]:
		p.settle(Working, status, nil, latency)
		l.Debug().Str("proxy", p.Address).Int("status", status).Dur("latency", latency).Msg("Probe passed")
	default:
		p.settle(NotWorking, status, fmt.Errorf("unexpected status code %d", status), latency)
		l.Debug().Str("proxy", p.Address).Int("status", status).Msg("Probe returned unaccepted status")
	}
}
