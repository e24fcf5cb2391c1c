package cli

import (
	"fmt"
	"strings"
	"time"

	"codeberg.org/snonux/decktranslate/internal/proxy"
	"codeberg.org/snonux/decktranslate/internal/translation"
)

// Supported translation backends
const (
	BackendGoogle = "google"
	BackendOpenAI = "openai"
	BackendGemini = "gemini"
)

// Flags holds all command-line flag values
type Flags struct {
	// General flags
	CfgFile    string
	DecksDir   string
	OutputDir  string
	WorkDir    string
	ListModels bool

	// Translation flags
	Source               string
	Target               string
	Fields               []string
	Backend              string
	BackendURL           string
	RequestTimeout       time.Duration
	Backoff              time.Duration
	TranslateConcurrency int
	DeckConcurrency      int
	Breaker              bool

	// Proxy flags
	ProxyList        string
	ProbeURL         string
	ProbeStatuses    []int
	ProbeTimeout     time.Duration
	ProbeConcurrency int

	// Model flags
	OpenAIModel string
	GeminiModel string

	// S3 publish flags
	S3Bucket string
	S3Prefix string
	S3Region string

	// Logging flags
	LogLevel  string
	LogFile   string
	LogPretty bool
}

// NewFlags creates a new Flags instance with default values
func NewFlags() *Flags {
	return &Flags{
		DecksDir:             "decks",
		OutputDir:            "translated_decks",
		Source:               "en",
		Target:               "pt",
		Fields:               []string{"tradução", "significado"},
		Backend:              BackendGoogle,
		RequestTimeout:       translation.DefaultRequestTimeout,
		Backoff:              translation.DefaultBackoff,
		TranslateConcurrency: 8,
		DeckConcurrency:      4,
		Breaker:              true,
		ProxyList:            "proxy_list.txt",
		ProbeURL:             proxy.DefaultProbeURL,
		ProbeStatuses:        append([]int(nil), proxy.DefaultAcceptedStatuses...),
		ProbeTimeout:         proxy.DefaultProbeTimeout,
		OpenAIModel:          "gpt-4o-mini",
		GeminiModel:          translation.DefaultGeminiModel,
		LogLevel:             "info",
		LogFile:              "decktranslate.log",
		LogPretty:            true,
	}
}

// Validate checks flag combinations that cobra cannot
func (f *Flags) Validate() error {
	switch f.Backend {
	case BackendGoogle, BackendOpenAI, BackendGemini:
	default:
		return fmt.Errorf("unknown backend %q (use %s, %s or %s)", f.Backend, BackendGoogle, BackendOpenAI, BackendGemini)
	}

	if strings.TrimSpace(f.Source) == "" || strings.TrimSpace(f.Target) == "" {
		return fmt.Errorf("source and target languages must be set")
	}

	fields := f.Fields[:0]
	for _, name := range f.Fields {
		if name = strings.TrimSpace(name); name != "" {
			fields = append(fields, name)
		}
	}
	f.Fields = fields
	if len(f.Fields) == 0 {
		return fmt.Errorf("at least one field to translate must be given")
	}

	if f.TranslateConcurrency < 1 {
		return fmt.Errorf("translate concurrency must be at least 1, got %d", f.TranslateConcurrency)
	}
	if f.DeckConcurrency < 1 {
		return fmt.Errorf("deck concurrency must be at least 1, got %d", f.DeckConcurrency)
	}
	if f.ProbeConcurrency < 0 {
		return fmt.Errorf("probe concurrency must not be negative, got %d", f.ProbeConcurrency)
	}
	if f.RequestTimeout <= 0 || f.ProbeTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if f.Backoff < 0 {
		return fmt.Errorf("backoff must not be negative")
	}

	for _, code := range f.ProbeStatuses {
		if code < 100 || code > 599 {
			return fmt.Errorf("invalid probe status %d", code)
		}
	}
	return nil
}
