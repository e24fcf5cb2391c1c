package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeProber answers from a per-address table
type fakeProber struct {
	mu       sync.Mutex
	statuses map[string]int
	errs     map[string]error
	calls    map[string]int
}

func (f *fakeProber) Probe(ctx context.Context, p *Proxy) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[p.Address]++
	if err, ok := f.errs[p.Address]; ok {
		return 0, err
	}
	return f.statuses[p.Address], nil
}

func mustParseAll(t *testing.T, addrs ...string) []*Proxy {
	t.Helper()
	var out []*Proxy
	for _, a := range addrs {
		p, err := Parse(a)
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", a, err)
		}
		out = append(out, p)
	}
	return out
}

func TestValidate_Partition(t *testing.T) {
	candidates := mustParseAll(t,
		"10.0.0.1:80", "10.0.0.2:80", "10.0.0.3:80", "10.0.0.4:80",
		"10.0.0.5:80", "10.0.0.6:80", "10.0.0.7:80", "10.0.0.8:80",
	)
	prober := &fakeProber{
		statuses: map[string]int{
			"10.0.0.1:80": 200,
			"10.0.0.2:80": 301,
			"10.0.0.3:80": 500,
			"10.0.0.4:80": 404,
			"10.0.0.5:80": 403,
			"10.0.0.7:80": 307,
			"10.0.0.8:80": 302,
		},
		errs: map[string]error{
			"10.0.0.6:80": errors.New("connection refused"),
		},
	}

	pool, err := NewValidatorWithProber(prober, nil, 0).Validate(context.Background(), candidates)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	wantWorking := []string{"10.0.0.1:80", "10.0.0.2:80", "10.0.0.4:80", "10.0.0.7:80", "10.0.0.8:80"}
	working := pool.Working()
	if len(working) != len(wantWorking) {
		t.Fatalf("got %d working, want %d", len(working), len(wantWorking))
	}
	for i, p := range working {
		if p.Address != wantWorking[i] {
			t.Errorf("working[%d] = %s, want %s (candidate order must be kept)", i, p.Address, wantWorking[i])
		}
	}

	seen := make(map[string]int)
	for _, p := range pool.Working() {
		seen[p.Address]++
	}
	for _, p := range pool.NotWorking() {
		seen[p.Address]++
	}
	for _, c := range candidates {
		if seen[c.Address] != 1 {
			t.Errorf("%s appears %d times across working/not-working, want exactly 1", c.Address, seen[c.Address])
		}
		if c.State() == Untested {
			t.Errorf("%s still untested after validation", c.Address)
		}
		if prober.calls[c.Address] != 1 {
			t.Errorf("%s probed %d times, want 1", c.Address, prober.calls[c.Address])
		}
	}

	stats := pool.Stats()
	if stats.Total != 8 || stats.Working != 5 || stats.NotWorking != 3 {
		t.Errorf("Stats() = %+v, want total 8, working 5, not working 3", stats)
	}
	if got := stats.FailureRate(); got != 37.5 {
		t.Errorf("FailureRate() = %v, want 37.5", got)
	}
	if got := stats.AvailableRate(); got != 62.5 {
		t.Errorf("AvailableRate() = %v, want 62.5", got)
	}
}

type slowProber struct{ delay time.Duration }

func (s slowProber) Probe(ctx context.Context, p *Proxy) (int, error) {
	time.Sleep(s.delay)
	return 200, nil
}

func TestValidate_RecordsLatency(t *testing.T) {
	candidates := mustParseAll(t, "10.0.0.1:80")

	if _, err := NewValidatorWithProber(slowProber{delay: 10 * time.Millisecond}, nil, 0).Validate(context.Background(), candidates); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got := candidates[0].Latency(); got < 10*time.Millisecond {
		t.Errorf("Latency() = %v, want at least 10ms", got)
	}
}

func TestValidate_AllFailing(t *testing.T) {
	candidates := mustParseAll(t, "10.0.0.1:80", "10.0.0.2:80")
	prober := &fakeProber{
		statuses: map[string]int{"10.0.0.1:80": 503},
		errs:     map[string]error{"10.0.0.2:80": errors.New("timeout")},
	}

	pool, err := NewValidatorWithProber(prober, nil, 0).Validate(context.Background(), candidates)
	if !errors.Is(err, ErrNoWorkingProxies) {
		t.Fatalf("Validate() error = %v, want ErrNoWorkingProxies", err)
	}
	if pool == nil || pool.Stats().NotWorking != 2 {
		t.Error("Expected the pool to still report the failed candidates")
	}
}

func TestValidate_NoCandidates(t *testing.T) {
	_, err := NewValidatorWithProber(&fakeProber{}, nil, 0).Validate(context.Background(), nil)
	if !errors.Is(err, ErrNoCandidates) {
		t.Errorf("Validate() error = %v, want ErrNoCandidates", err)
	}
}

func TestValidate_CustomStatuses(t *testing.T) {
	candidates := mustParseAll(t, "10.0.0.1:80", "10.0.0.2:80")
	prober := &fakeProber{statuses: map[string]int{"10.0.0.1:80": 200, "10.0.0.2:80": 404}}

	pool, err := NewValidatorWithProber(prober, []int{200}, 1).Validate(context.Background(), candidates)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if pool.Stats().Working != 1 {
		t.Errorf("Working = %d, want 1 when only 200 is accepted", pool.Stats().Working)
	}
}

func TestHTTPProber(t *testing.T) {
	// The test server acts as a forward proxy: it receives absolute-URI
	// requests and answers them itself.
	var gotHost string
	var mu sync.Mutex
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotHost = r.URL.Host
		mu.Unlock()
		if strings.HasSuffix(r.URL.Path, "/redirect") {
			http.Redirect(w, r, "http://probe.test/elsewhere", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer live.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadAddr := strings.TrimPrefix(dead.URL, "http://")
	dead.Close()

	liveProxy, _ := Parse(strings.TrimPrefix(live.URL, "http://"))
	deadProxy, _ := Parse(deadAddr)

	prober := &HTTPProber{URL: "http://probe.test/", Timeout: 2 * time.Second}

	status, err := prober.Probe(context.Background(), liveProxy)
	if err != nil {
		t.Fatalf("Probe() through live proxy error = %v", err)
	}
	if status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
	mu.Lock()
	if gotHost != "probe.test" {
		t.Errorf("proxy saw host %q, want probe.test", gotHost)
	}
	mu.Unlock()

	redirect := &HTTPProber{URL: "http://probe.test/redirect", Timeout: 2 * time.Second}
	status, err = redirect.Probe(context.Background(), liveProxy)
	if err != nil {
		t.Fatalf("Probe() redirect error = %v", err)
	}
	if status != http.StatusFound {
		t.Errorf("status = %d, want 302 (redirects must not be followed)", status)
	}

	if _, err := prober.Probe(context.Background(), deadProxy); err == nil {
		t.Error("Expected error probing through a closed proxy")
	}
}

func TestValidate_TLSFailureIsNotWorking(t *testing.T) {
	target := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer target.Close()

	candidates := mustParseAll(t, strings.TrimPrefix(tunnelProxy(t).URL, "http://"))

	v := NewValidator(ValidatorOptions{ProbeURL: target.URL + "/", Timeout: 2 * time.Second})
	pool, err := v.Validate(context.Background(), candidates)
	if !errors.Is(err, ErrNoWorkingProxies) {
		t.Fatalf("Validate() error = %v, want ErrNoWorkingProxies", err)
	}
	if candidates[0].State() != NotWorking || candidates[0].Err() == nil {
		t.Errorf("proxy state = %s, err = %v; want not_working with a TLS error", candidates[0].State(), candidates[0].Err())
	}
	if pool.Stats().NotWorking != 1 {
		t.Errorf("Stats() = %+v", pool.Stats())
	}
}

func TestNewValidator_EndToEnd(t *testing.T) {
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "127.0.0.1")
	}))
	defer live.Close()

	candidates := mustParseAll(t, strings.TrimPrefix(live.URL, "http://"), "127.0.0.1:1")

	v := NewValidator(ValidatorOptions{ProbeURL: "http://probe.test/", Timeout: 2 * time.Second})
	pool, err := v.Validate(context.Background(), candidates)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if pool.Stats().Working != 1 || pool.Stats().NotWorking != 1 {
		t.Errorf("Stats() = %+v, want 1 working and 1 not working", pool.Stats())
	}
}
