package translation

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiBackend translates with a Gemini model
type GeminiBackend struct {
	apiKey  string
	model   string
	baseURL string
}

// NewGeminiBackend creates a Gemini backend. An empty baseURL uses the
// public API.
func NewGeminiBackend(apiKey, model, baseURL string) *GeminiBackend {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiBackend{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
	}
}

// Name returns the backend name
func (g *GeminiBackend) Name() string {
	return "gemini"
}

// Translate sends one GenerateContent call through the route's proxy
func (g *GeminiBackend) Translate(ctx context.Context, route Route, req Request) (string, error) {
	if g.apiKey == "" {
		return "", &Error{Kind: KindBackend, Err: errors.New("Gemini API key not found")}
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      g.apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  route.HTTP,
		HTTPOptions: genai.HTTPOptions{BaseURL: g.baseURL},
	})
	if err != nil {
		return "", &Error{Kind: KindBackend, Err: err}
	}

	prompt := translationPrompt(req) + "\n\n" + req.Text
	resp, err := client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", statusError(apiErr.Code, err)
		}
		return "", wrapTransport(err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", &Error{Kind: KindNotFound, Err: errors.New("empty translation returned")}
	}
	return text, nil
}
