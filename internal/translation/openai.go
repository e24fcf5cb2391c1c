package translation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIBackend translates with a chat completion model
type OpenAIBackend struct {
	apiKey  string
	model   string
	baseURL string
}

// NewOpenAIBackend creates an OpenAI backend. An empty baseURL uses the
// public API.
func NewOpenAIBackend(apiKey, model, baseURL string) *OpenAIBackend {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIBackend{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
	}
}

// Name returns the backend name
func (o *OpenAIBackend) Name() string {
	return "openai"
}

// Translate sends one chat completion through the route's proxy
func (o *OpenAIBackend) Translate(ctx context.Context, route Route, req Request) (string, error) {
	if o.apiKey == "" {
		return "", &Error{Kind: KindBackend, Err: errors.New("OpenAI API key not found")}
	}

	config := openai.DefaultConfig(o.apiKey)
	if o.baseURL != "" {
		config.BaseURL = o.baseURL
	}
	config.HTTPClient = route.HTTP
	client := openai.NewClientWithConfig(config)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: translationPrompt(req),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: req.Text,
			},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", classifyOpenAI(err)
	}

	if len(resp.Choices) == 0 {
		return "", &Error{Kind: KindNotFound, Err: errors.New("no translation returned")}
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &Error{Kind: KindNotFound, Err: errors.New("empty translation returned")}
	}
	return text, nil
}

func classifyOpenAI(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusError(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusError(reqErr.HTTPStatusCode, err)
	}
	return wrapTransport(err)
}

// translationPrompt is shared by the LLM backends
func translationPrompt(req Request) string {
	return fmt.Sprintf("Translate the user's text from %s to %s. "+
		"It is a field of a flashcard and may contain HTML markup or Anki media references such as [sound:x.mp3]; keep them unchanged. "+
		"Respond with only the translated text, nothing else.", req.Source, req.Target)
}
