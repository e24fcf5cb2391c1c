package models

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// chatPrefixes match model ids that accept chat completions
var chatPrefixes = []string{"gpt-", "chatgpt-", "o1", "o3", "o4"}

// excluded marks chat-prefixed models that cannot translate text
var excluded = []string{"tts", "audio", "realtime", "transcribe", "image", "search", "embedding"}

// Lister handles listing available OpenAI models
type Lister struct {
	apiKey string
	client *openai.Client
}

// NewLister creates a new model lister. An empty baseURL uses the public
// OpenAI API.
func NewLister(apiKey, baseURL string) *Lister {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Lister{
		apiKey: apiKey,
		client: openai.NewClientWithConfig(config),
	}
}

// ChatModels returns the sorted ids of the models usable for translation
func (l *Lister) ChatModels(ctx context.Context) ([]string, error) {
	if l.apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not found. Set OPENAI_API_KEY environment variable or configure in .decktranslate.yaml")
	}

	models, err := l.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	var chat []string
	for _, model := range models.Models {
		if IsChatModel(model.ID) {
			chat = append(chat, model.ID)
		}
	}
	sort.Strings(chat)
	return chat, nil
}

// ListAvailableModels prints the chat models to w, marking the configured one
func (l *Lister) ListAvailableModels(ctx context.Context, w io.Writer, current string) error {
	chat, err := l.ChatModels(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "Chat/Translation Models (for --backend openai):")
	if len(chat) == 0 {
		fmt.Fprintln(w, "  No chat models found")
		return nil
	}
	for _, model := range chat {
		if model == current {
			fmt.Fprintf(w, "  %s (configured)\n", model)
			continue
		}
		fmt.Fprintf(w, "  %s\n", model)
	}
	return nil
}

// IsChatModel reports whether id names a model that takes chat completions
func IsChatModel(id string) bool {
	id = strings.ToLower(id)
	for _, ex := range excluded {
		if strings.Contains(id, ex) {
			return false
		}
	}
	for _, prefix := range chatPrefixes {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}
