package translation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"codeberg.org/snonux/decktranslate/internal/logger"
	"codeberg.org/snonux/decktranslate/internal/proxy"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultBackoff        = 60 * time.Second
)

// Options configures a Translator
type Options struct {
	Source         string
	Target         string
	RequestTimeout time.Duration // per backend call
	Backoff        time.Duration // wait after a cycle in which every proxy failed
}

// Stats counts what a Translator did during the run
type Stats struct {
	Requests  int64 // texts translated by the backend
	Calls     int64 // backend calls issued
	Failures  int64 // backend calls that failed
	Backoffs  int64 // full cycles that ended in a backoff wait
	CacheHits int64
	Cached    int // distinct texts in the cache
}

// Translator rotates through the working proxies of a pool until a backend
// call succeeds. It is safe for concurrent use; the route list is fixed at
// construction.
type Translator struct {
	backend Backend
	routes  []Route
	opts    Options
	cache   *TranslationCache
	group   singleflight.Group

	// Shared translations run on a context owned by the Translator and are
	// cancelled once the last waiting caller has gone.
	root    context.Context
	close   context.CancelFunc
	mu      sync.Mutex
	flights map[string]*flight

	// wait blocks for the backoff interval; replaced in tests
	wait func(ctx context.Context, d time.Duration) error

	requests  atomic.Int64
	calls     atomic.Int64
	failures  atomic.Int64
	backoffs  atomic.Int64
	cacheHits atomic.Int64
}

// NewTranslator creates a translator over the pool's working proxies
func NewTranslator(pool *proxy.Pool, backend Backend, opts Options) (*Translator, error) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}

	working := pool.Working()
	if len(working) == 0 {
		return nil, proxy.ErrNoWorkingProxies
	}

	routes := make([]Route, 0, len(working))
	for _, p := range working {
		client, err := p.HTTPClient(opts.RequestTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to build client for proxy %s: %w", p.Address, err)
		}
		routes = append(routes, Route{Proxy: p.Address, HTTP: client})
	}

	root, cancel := context.WithCancel(context.Background())
	return &Translator{
		backend: backend,
		routes:  routes,
		opts:    opts,
		cache:   NewTranslationCache(),
		root:    root,
		close:   cancel,
		flights: make(map[string]*flight),
		wait:    sleepContext,
	}, nil
}

// flight is an in-progress translation of one text and its waiting callers
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Close aborts every translation still in progress
func (t *Translator) Close() {
	t.close()
}

// Translate returns the translation of text. Backend and proxy failures are
// never returned; the only error is ctx's, or context.Canceled after Close.
// Concurrent calls for the same text share one rotation, and a caller giving
// up does not affect the others.
func (t *Translator) Translate(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	for {
		if translated, ok := t.cache.Get(text); ok {
			t.cacheHits.Add(1)
			return translated, nil
		}

		translated, err := t.shared(ctx, text)
		if err == nil {
			return translated, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if t.root.Err() != nil {
			return "", t.root.Err()
		}
		// The shared rotation was abandoned by its other callers; start over.
	}
}

// shared joins or starts the rotation for text and waits for it or for ctx
func (t *Translator) shared(ctx context.Context, text string) (string, error) {
	f := t.join(text)
	defer t.leave(text, f)

	ch := t.group.DoChan(text, func() (interface{}, error) {
		translated, err := t.translate(f.ctx, text)
		if err == nil {
			t.cache.Add(text, translated)
		}
		return translated, err
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			t.cacheHits.Add(1)
		}
		return res.Val.(string), nil
	}
}

func (t *Translator) join(text string) *flight {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.flights[text]
	if !ok {
		ctx, cancel := context.WithCancel(t.root)
		f = &flight{ctx: ctx, cancel: cancel}
		t.flights[text] = f
	}
	f.waiters++
	return f
}

func (t *Translator) leave(text string, f *flight) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if t.flights[text] == f {
		delete(t.flights, text)
	}
}

func (t *Translator) translate(ctx context.Context, text string) (string, error) {
	l := logger.WithComponent("translation")
	req := Request{Text: text, Source: t.opts.Source, Target: t.opts.Target}
	t.requests.Add(1)

	for cycle := 1; ; cycle++ {
		for _, route := range t.routes {
			if err := ctx.Err(); err != nil {
				return "", err
			}

			translated, err := t.call(ctx, route, req)
			if err == nil {
				return translated, nil
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}

			t.failures.Add(1)
			event := l.Warn()
			var te *Error
			if errors.As(err, &te) && te.ProxyScoped() {
				event = l.Info()
			}
			event.Str("proxy", route.Proxy).
				Str("backend", t.backend.Name()).
				Str("kind", string(Classify(err))).
				Int("cycle", cycle).
				Err(err).
				Msg("Translation call failed, trying next proxy")
		}

		t.backoffs.Add(1)
		l.Warn().
			Int("cycle", cycle).
			Int("proxies", len(t.routes)).
			Dur("backoff", t.opts.Backoff).
			Msg("All proxies failed, waiting before the next cycle")

		if err := t.wait(ctx, t.opts.Backoff); err != nil {
			return "", err
		}
	}
}

// call issues one backend call with the per-call timeout
func (t *Translator) call(ctx context.Context, route Route, req Request) (string, error) {
	t.calls.Add(1)

	ctx, cancel := context.WithTimeout(ctx, t.opts.RequestTimeout)
	defer cancel()

	translated, err := t.backend.Translate(ctx, route, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(translated) == "" {
		return "", &Error{Kind: KindNotFound, Err: errors.New("empty translation")}
	}
	return translated, nil
}

// Routes returns the proxies in rotation order
func (t *Translator) Routes() []string {
	out := make([]string, len(t.routes))
	for i, r := range t.routes {
		out[i] = r.Proxy
	}
	return out
}

// Stats returns the run counters
func (t *Translator) Stats() Stats {
	return Stats{
		Requests:  t.requests.Load(),
		Calls:     t.calls.Load(),
		Failures:  t.failures.Load(),
		Backoffs:  t.backoffs.Load(),
		CacheHits: t.cacheHits.Load(),
		Cached:    t.cache.Len(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TranslationCache stores translations in memory for the run
type TranslationCache struct {
	mu           sync.RWMutex
	translations map[string]string
}

// NewTranslationCache creates a new translation cache
func NewTranslationCache() *TranslationCache {
	return &TranslationCache{
		translations: make(map[string]string),
	}
}

// Add adds a translation to the cache
func (tc *TranslationCache) Add(text, translation string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.translations[text] = translation
}

// Get retrieves a translation from the cache
func (tc *TranslationCache) Get(text string) (string, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	translation, ok := tc.translations[text]
	return translation, ok
}

// Len returns the number of cached translations
func (tc *TranslationCache) Len() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return len(tc.translations)
}
