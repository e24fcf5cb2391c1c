package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"codeberg.org/snonux/decktranslate/internal/proxy"
	"codeberg.org/snonux/decktranslate/internal/translation"
)

// MockTranslator mocks the translation client
type MockTranslator struct {
	// Translations overrides the default "T(text)" result per input text
	Translations map[string]string
	// Block makes every call wait until the context is done
	Block bool

	mu    sync.Mutex
	calls []string
}

// Translate mocks translating text
func (m *MockTranslator) Translate(ctx context.Context, text string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	m.mu.Unlock()

	if m.Block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if translation, ok := m.Translations[text]; ok {
		return translation, nil
	}

	// Default mock translation
	return "T(" + text + ")", nil
}

// Calls returns the texts translated so far
func (m *MockTranslator) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// MockBackend is a translation backend that fails for selected proxies
type MockBackend struct {
	// Failing proxies answer with a rate limit error
	Failing map[string]bool

	mu    sync.Mutex
	calls []string
}

// Name returns the backend name
func (m *MockBackend) Name() string {
	return "mock"
}

// Translate returns "<target>:<text>" unless the route's proxy is failing
func (m *MockBackend) Translate(ctx context.Context, route translation.Route, req translation.Request) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, route.Proxy)
	m.mu.Unlock()

	if m.Failing[route.Proxy] {
		return "", &translation.Error{
			Kind:       translation.KindRateLimited,
			StatusCode: 429,
			Err:        errors.New("too many requests"),
		}
	}
	return fmt.Sprintf("%s:%s", req.Target, strings.TrimSpace(req.Text)), nil
}

// Calls returns the proxies used so far, in call order
func (m *MockBackend) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type acceptAllProber struct{}

func (acceptAllProber) Probe(ctx context.Context, p *proxy.Proxy) (int, error) {
	return 200, nil
}

// WorkingPool returns a validated pool in which every address works
func WorkingPool(t *testing.T, addrs ...string) *proxy.Pool {
	t.Helper()

	content := strings.Join(addrs, "\n")
	candidates, err := proxy.ParseList(content)
	if err != nil {
		t.Fatalf("Failed to parse proxies: %v", err)
	}

	pool, err := proxy.NewValidatorWithProber(acceptAllProber{}, nil, 0).Validate(context.Background(), candidates)
	if err != nil {
		t.Fatalf("Failed to validate proxies: %v", err)
	}
	return pool
}
