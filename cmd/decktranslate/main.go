package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"codeberg.org/snonux/decktranslate/internal/cli"
	"codeberg.org/snonux/decktranslate/internal/logger"
	"codeberg.org/snonux/decktranslate/internal/models"
	"codeberg.org/snonux/decktranslate/internal/processor"
	"codeberg.org/snonux/decktranslate/internal/proxy"
	"codeberg.org/snonux/decktranslate/internal/publish"
	"codeberg.org/snonux/decktranslate/internal/translation"
)

// errAllDecksFailed makes the process exit non-zero after the summary
var errAllDecksFailed = errors.New("all decks failed")

func main() {
	// Create flags instance
	flags := cli.NewFlags()

	// Create root command
	rootCmd := cli.CreateRootCommand(flags)

	// Set up command initialization
	cobra.OnInitialize(func() {
		cli.InitConfig(flags.CfgFile)
	})

	// Set the run function
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runCommand(ctx, args, flags)
	}

	// Execute command
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, args []string, flags *cli.Flags) error {
	cli.ApplyConfig(flags)
	if err := flags.Validate(); err != nil {
		return err
	}

	closeLog, runID, err := logger.Init(logger.Options{
		Level:  flags.LogLevel,
		File:   flags.LogFile,
		Pretty: flags.LogPretty,
	})
	if err != nil {
		return err
	}
	defer closeLog()
	l := logger.WithComponent("main")

	// Handle --list-models flag
	if flags.ListModels {
		lister := models.NewLister(cli.GetOpenAIKey(), flags.BackendURL)
		return lister.ListAvailableModels(ctx, os.Stdout, flags.OpenAIModel)
	}

	decks := args
	if len(decks) == 0 {
		decks, err = processor.ListDecks(flags.DecksDir)
		if err != nil {
			return err
		}
	}
	if len(decks) == 0 {
		return fmt.Errorf("%w in %s", processor.ErrNoDecks, flags.DecksDir)
	}

	backend, err := newBackend(flags)
	if err != nil {
		return err
	}

	l.Info().Str("run_id", runID).Int("decks", len(decks)).Str("backend", backend.Name()).Msg("Starting run")

	pool, err := validateProxies(ctx, flags)
	if err != nil {
		return err
	}

	translator, err := translation.NewTranslator(pool, backend, translation.Options{
		Source:         flags.Source,
		Target:         flags.Target,
		RequestTimeout: flags.RequestTimeout,
		Backoff:        flags.Backoff,
	})
	if err != nil {
		return err
	}
	defer translator.Close()

	proc := processor.NewProcessor(flags, translator)
	if flags.S3Bucket != "" {
		pub, err := publish.NewS3Publisher(ctx, publish.Options{
			Bucket: flags.S3Bucket,
			Prefix: flags.S3Prefix,
			Region: flags.S3Region,
		})
		if err != nil {
			return err
		}
		proc.SetPublisher(pub)
	}

	fmt.Printf("\nTranslating %d deck(s) from %s to %s with %s...\n", len(decks), flags.Source, flags.Target, backend.Name())
	summary, err := proc.ProcessDecks(ctx, decks)
	if err != nil {
		return err
	}

	stats := translator.Stats()
	l.Info().
		Int64("requests", stats.Requests).
		Int64("calls", stats.Calls).
		Int64("failures", stats.Failures).
		Int64("backoffs", stats.Backoffs).
		Int64("cache_hits", stats.CacheHits).
		Int("cached_texts", stats.Cached).
		Msg("Translation stats")

	summary.Print(os.Stdout)
	if summary.AllFailed() {
		return errAllDecksFailed
	}
	return nil
}

// validateProxies probes the proxy list once and prints the pool health
func validateProxies(ctx context.Context, flags *cli.Flags) (*proxy.Pool, error) {
	candidates, err := proxy.ReadList(flags.ProxyList)
	if err != nil {
		return nil, err
	}

	fmt.Printf("Validating %d proxies against %s...\n", len(candidates), flags.ProbeURL)
	pool, err := proxy.NewValidator(proxy.ValidatorOptions{
		ProbeURL:         flags.ProbeURL,
		Timeout:          flags.ProbeTimeout,
		AcceptedStatuses: flags.ProbeStatuses,
		Concurrency:      flags.ProbeConcurrency,
	}).Validate(ctx, candidates)
	if pool != nil {
		pool.Print(os.Stdout)
	}
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func newBackend(flags *cli.Flags) (translation.Backend, error) {
	var backend translation.Backend
	switch flags.Backend {
	case cli.BackendGoogle:
		return translation.NewGoogleBackend(flags.BackendURL), nil
	case cli.BackendOpenAI:
		backend = translation.NewOpenAIBackend(cli.GetOpenAIKey(), flags.OpenAIModel, flags.BackendURL)
	case cli.BackendGemini:
		backend = translation.NewGeminiBackend(cli.GetGeminiKey(), flags.GeminiModel, flags.BackendURL)
	default:
		return nil, fmt.Errorf("unknown backend %q", flags.Backend)
	}

	if flags.Breaker {
		backend = translation.NewBreakerBackend(backend, translation.DefaultBreakerSettings())
	}
	return backend, nil
}
