package translation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultGoogleURL is the mobile Google Translate page
const DefaultGoogleURL = "https://translate.google.com/m"

const googleUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// resultSelectors are tried in order; the page layout has changed over time.
var resultSelectors = []string{"div.result-container", "div.t0"}

// GoogleBackend scrapes the mobile Google Translate page
type GoogleBackend struct {
	baseURL string
}

// NewGoogleBackend creates a backend for the given page URL, empty for the
// public endpoint.
func NewGoogleBackend(baseURL string) *GoogleBackend {
	if baseURL == "" {
		baseURL = DefaultGoogleURL
	}
	return &GoogleBackend{baseURL: baseURL}
}

// Name returns the backend name
func (g *GoogleBackend) Name() string {
	return "google"
}

// Translate fetches the translation page through the route's proxy and
// extracts the result text
func (g *GoogleBackend) Translate(ctx context.Context, route Route, req Request) (string, error) {
	params := url.Values{}
	params.Set("sl", req.Source)
	params.Set("tl", req.Target)
	params.Set("hl", req.Target)
	params.Set("q", req.Text)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", googleUserAgent)

	resp, err := route.HTTP.Do(httpReq)
	if err != nil {
		return "", wrapTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return "", statusError(resp.StatusCode, fmt.Errorf("google translate returned %s", resp.Status))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", wrapTransport(err)
	}

	for _, sel := range resultSelectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return text, nil
		}
	}

	return "", &Error{Kind: KindNotFound, StatusCode: resp.StatusCode, Err: errors.New("no translation found in response")}
}
