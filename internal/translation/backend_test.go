package translation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"codeberg.org/snonux/decktranslate/internal/proxy"
)

// proxyRoute returns a route through an httptest server acting as a forward
// proxy for every request
func proxyRoute(t *testing.T, handler http.HandlerFunc) Route {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	addr := strings.TrimPrefix(srv.URL, "http://")
	p, err := proxy.Parse(addr)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	client, err := p.HTTPClient(5 * time.Second)
	if err != nil {
		t.Fatalf("HTTPClient() error = %v", err)
	}
	return Route{Proxy: addr, HTTP: client}
}

func TestGoogleBackend_Translate(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		want     string
		wantKind Kind
	}{
		{
			name:   "result container",
			status: http.StatusOK,
			body:   `<html><body><div class="result-container">  olá  </div></body></html>`,
			want:   "olá",
		},
		{
			name:   "legacy layout",
			status: http.StatusOK,
			body:   `<html><body><div dir="ltr" class="t0">significado</div></body></html>`,
			want:   "significado",
		},
		{
			name:     "no result element",
			status:   http.StatusOK,
			body:     `<html><body><p>captcha</p></body></html>`,
			wantKind: KindNotFound,
		},
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			body:     "slow down",
			wantKind: KindRateLimited,
		},
		{
			name:     "bad gateway",
			status:   http.StatusBadGateway,
			wantKind: KindProxy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotQuery string
			route := proxyRoute(t, func(w http.ResponseWriter, r *http.Request) {
				gotQuery = r.URL.RawQuery
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			backend := NewGoogleBackend("http://translate.test/m")
			got, err := backend.Translate(context.Background(), route, Request{Text: "hello", Source: "en", Target: "pt"})

			if tt.wantKind != "" {
				if Classify(err) != tt.wantKind {
					t.Errorf("Translate() error = %v, want kind %s", err, tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("Translate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Translate() = %q, want %q", got, tt.want)
			}
			if !strings.Contains(gotQuery, "sl=en") || !strings.Contains(gotQuery, "tl=pt") || !strings.Contains(gotQuery, "q=hello") {
				t.Errorf("unexpected query %q", gotQuery)
			}
		})
	}
}

func TestGoogleBackend_DeadProxy(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	p, _ := proxy.Parse(addr)
	client, err := p.HTTPClient(2 * time.Second)
	if err != nil {
		t.Fatalf("HTTPClient() error = %v", err)
	}

	backend := NewGoogleBackend("http://translate.test/m")
	_, err = backend.Translate(context.Background(), Route{Proxy: addr, HTTP: client}, Request{Text: "hello", Source: "en", Target: "pt"})
	if err == nil {
		t.Fatal("expected error through a dead proxy")
	}
	var te *Error
	if !errors.As(err, &te) || !te.ProxyScoped() {
		t.Errorf("Translate() error = %v, want a proxy scoped *Error", err)
	}
}

func TestOpenAIBackend_Translate(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini",`+
			`"choices":[{"index":0,"message":{"role":"assistant","content":" olá "},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	backend := NewOpenAIBackend("test-key", "", srv.URL+"/v1")
	got, err := backend.Translate(context.Background(), Route{Proxy: "direct", HTTP: srv.Client()}, Request{Text: "hello", Source: "en", Target: "pt"})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if got != "olá" {
		t.Errorf("Translate() = %q, want olá", got)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestOpenAIBackend_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`)
	}))
	defer srv.Close()

	backend := NewOpenAIBackend("test-key", "gpt-4o-mini", srv.URL+"/v1")
	_, err := backend.Translate(context.Background(), Route{Proxy: "direct", HTTP: srv.Client()}, Request{Text: "hello"})
	if Classify(err) != KindRateLimited {
		t.Errorf("Translate() error = %v, want kind %s", err, KindRateLimited)
	}
}

func TestLLMBackends_MissingKey(t *testing.T) {
	backends := []Backend{
		NewOpenAIBackend("", "", ""),
		NewGeminiBackend("", "", ""),
	}
	for _, b := range backends {
		t.Run(b.Name(), func(t *testing.T) {
			_, err := b.Translate(context.Background(), Route{HTTP: http.DefaultClient}, Request{Text: "hello"})
			if Classify(err) != KindBackend {
				t.Errorf("Translate() error = %v, want kind %s", err, KindBackend)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"typed", &Error{Kind: KindRateLimited}, KindRateLimited},
		{"wrapped typed", fmt.Errorf("call: %w", &Error{Kind: KindNotFound}), KindNotFound},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"dial", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, KindProxy},
		{"other", errors.New("boom"), KindBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusNotFound, KindNotFound},
		{http.StatusProxyAuthRequired, KindProxy},
		{http.StatusGatewayTimeout, KindProxy},
		{http.StatusInternalServerError, KindBackend},
	}

	for _, tt := range tests {
		err := statusError(tt.status, errors.New("status"))
		if got := Classify(err); got != tt.want {
			t.Errorf("statusError(%d) kind = %s, want %s", tt.status, got, tt.want)
		}
	}
}

type failingBackend struct {
	err   error
	calls int
}

func (f *failingBackend) Name() string { return "failing" }

func (f *failingBackend) Translate(ctx context.Context, route Route, req Request) (string, error) {
	f.calls++
	return "", f.err
}

func TestBreakerBackend_OpensOnBackendFailures(t *testing.T) {
	next := &failingBackend{err: &Error{Kind: KindBackend, StatusCode: 500, Err: errors.New("internal")}}
	b := NewBreakerBackend(next, BreakerSettings{ConsecutiveFailures: 3, OpenTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		if _, err := b.Translate(context.Background(), Route{}, Request{Text: "x"}); Classify(err) != KindBackend {
			t.Fatalf("call %d: error = %v, want backend error", i, err)
		}
	}

	if b.State() != gobreaker.StateOpen {
		t.Fatalf("State() = %s, want open", b.State())
	}

	_, err := b.Translate(context.Background(), Route{}, Request{Text: "x"})
	if Classify(err) != KindBreaker {
		t.Errorf("Translate() error = %v, want kind %s", err, KindBreaker)
	}
	if next.calls != 3 {
		t.Errorf("wrapped backend called %d times, want 3", next.calls)
	}
}

func TestBreakerBackend_IgnoresProxyFailures(t *testing.T) {
	next := &failingBackend{err: &Error{Kind: KindProxy, Err: errors.New("connection refused")}}
	b := NewBreakerBackend(next, BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: time.Minute})

	for i := 0; i < 5; i++ {
		b.Translate(context.Background(), Route{}, Request{Text: "x"})
	}

	if b.State() != gobreaker.StateClosed {
		t.Errorf("State() = %s, want closed", b.State())
	}
	if next.calls != 5 {
		t.Errorf("wrapped backend called %d times, want 5", next.calls)
	}
}
