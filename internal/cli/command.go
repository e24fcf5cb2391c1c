package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"codeberg.org/snonux/decktranslate/internal"
)

// CreateRootCommand creates and configures the root cobra command
func CreateRootCommand(flags *Flags) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "decktranslate [deck.apkg...]",
		Short: "Translate fields of Anki decks through a proxy pool",
		Long: `decktranslate translates selected note fields of Anki packages (.apkg).

Every translation request is routed through a pool of HTTP or SOCKS5 proxies
that are probed once at startup. Failing proxies are skipped; when all of
them fail the request waits and starts over, so a run only stops when it
is interrupted.

Examples:
  decktranslate                                   # Translate every deck in ./decks
  decktranslate --field meaning --target de       # Translate the "meaning" field to German
  decktranslate --backend openai words.apkg       # Translate one deck with OpenAI
  decktranslate --proxies socks.txt -o out decks/a.apkg decks/b.apkg`,
		Args:          cobra.ArbitraryArgs,
		Version:       internal.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Set up flags
	setupFlags(rootCmd, flags)

	return rootCmd
}

func setupFlags(cmd *cobra.Command, flags *Flags) {
	// Global flags
	cmd.PersistentFlags().StringVar(&flags.CfgFile, "config", "", "config file (default is $HOME/.decktranslate.yaml)")

	// Local flags
	cmd.Flags().StringVar(&flags.DecksDir, "decks", flags.DecksDir, "Directory with .apkg files (used when no decks are given as arguments)")
	cmd.Flags().StringVarP(&flags.OutputDir, "output", "o", flags.OutputDir, "Output directory for translated decks")
	cmd.Flags().StringVar(&flags.WorkDir, "work-dir", "", "Base directory for temporary deck extraction (default: system temp)")
	cmd.Flags().BoolVar(&flags.ListModels, "list-models", false, "List available OpenAI chat models for the current API key")

	// Translation flags
	cmd.Flags().StringVar(&flags.Source, "source", flags.Source, "Source language code")
	cmd.Flags().StringVar(&flags.Target, "target", flags.Target, "Target language code")
	cmd.Flags().StringSliceVar(&flags.Fields, "field", flags.Fields, "Name of a note field to translate (repeatable)")
	cmd.Flags().StringVar(&flags.Backend, "backend", flags.Backend, "Translation backend: google, openai or gemini")
	cmd.Flags().StringVar(&flags.BackendURL, "backend-url", "", "Override the backend endpoint URL")
	cmd.Flags().DurationVar(&flags.RequestTimeout, "request-timeout", flags.RequestTimeout, "Timeout of a single translation call")
	cmd.Flags().DurationVar(&flags.Backoff, "backoff", flags.Backoff, "Wait after every proxy failed for a request")
	cmd.Flags().IntVar(&flags.TranslateConcurrency, "translate-concurrency", flags.TranslateConcurrency, "Maximum translation calls in flight across all decks")
	cmd.Flags().IntVar(&flags.DeckConcurrency, "deck-concurrency", flags.DeckConcurrency, "Maximum decks processed at once")
	cmd.Flags().BoolVar(&flags.Breaker, "breaker", flags.Breaker, "Guard the openai and gemini backends with a circuit breaker")

	// Proxy flags
	cmd.Flags().StringVar(&flags.ProxyList, "proxies", flags.ProxyList, "File with one proxy address per line")
	cmd.Flags().StringVar(&flags.ProbeURL, "probe-url", flags.ProbeURL, "URL fetched through each proxy to test it")
	cmd.Flags().IntSliceVar(&flags.ProbeStatuses, "probe-status", flags.ProbeStatuses, "Probe status codes that mark a proxy as working")
	cmd.Flags().DurationVar(&flags.ProbeTimeout, "probe-timeout", flags.ProbeTimeout, "Timeout of a proxy probe")
	cmd.Flags().IntVar(&flags.ProbeConcurrency, "probe-concurrency", 0, "Maximum probes at once (0 probes all proxies at once)")

	// Model flags
	cmd.Flags().StringVar(&flags.OpenAIModel, "openai-model", flags.OpenAIModel, "OpenAI chat model for the openai backend")
	cmd.Flags().StringVar(&flags.GeminiModel, "gemini-model", flags.GeminiModel, "Gemini model for the gemini backend")

	// S3 publish flags
	cmd.Flags().StringVar(&flags.S3Bucket, "s3-bucket", "", "Upload translated decks to this S3 bucket")
	cmd.Flags().StringVar(&flags.S3Prefix, "s3-prefix", "", "Key prefix for uploaded decks")
	cmd.Flags().StringVar(&flags.S3Region, "s3-region", "", "AWS region of the bucket (default from AWS config)")

	// Logging flags
	cmd.Flags().StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "Log level: debug, info, warn or error")
	cmd.Flags().StringVar(&flags.LogFile, "log-file", flags.LogFile, "JSON log file (empty disables)")
	cmd.Flags().BoolVar(&flags.LogPretty, "log-pretty", flags.LogPretty, "Human readable log output on stderr")

	// Bind flags to viper
	bindFlagsToViper(cmd)
}

// flagKeys maps flag names to their viper configuration keys
var flagKeys = map[string]string{
	"decks":                 "decks.directory",
	"output":                "output.directory",
	"work-dir":              "output.work_dir",
	"source":                "translate.source",
	"target":                "translate.target",
	"field":                 "translate.fields",
	"backend":               "translate.backend",
	"backend-url":           "translate.backend_url",
	"request-timeout":       "translate.request_timeout",
	"backoff":               "translate.backoff",
	"translate-concurrency": "translate.concurrency",
	"deck-concurrency":      "decks.concurrency",
	"breaker":               "translate.breaker",
	"proxies":               "proxy.list",
	"probe-url":             "proxy.probe_url",
	"probe-status":          "proxy.probe_statuses",
	"probe-timeout":         "proxy.probe_timeout",
	"probe-concurrency":     "proxy.probe_concurrency",
	"openai-model":          "openai.model",
	"gemini-model":          "gemini.model",
	"s3-bucket":             "publish.s3_bucket",
	"s3-prefix":             "publish.s3_prefix",
	"s3-region":             "publish.s3_region",
	"log-level":             "log.level",
	"log-file":              "log.file",
	"log-pretty":            "log.pretty",
}

func bindFlagsToViper(cmd *cobra.Command) {
	for name, key := range flagKeys {
		viper.BindPFlag(key, cmd.Flags().Lookup(name))
	}
}

// ApplyConfig copies configuration file and environment values into flags
// that were not set on the command line
func ApplyConfig(flags *Flags) {
	flags.DecksDir = viper.GetString("decks.directory")
	flags.OutputDir = viper.GetString("output.directory")
	flags.WorkDir = viper.GetString("output.work_dir")

	flags.Source = viper.GetString("translate.source")
	flags.Target = viper.GetString("translate.target")
	if fields := viper.GetStringSlice("translate.fields"); len(fields) > 0 {
		flags.Fields = fields
	}
	flags.Backend = strings.ToLower(viper.GetString("translate.backend"))
	flags.BackendURL = viper.GetString("translate.backend_url")
	flags.RequestTimeout = viper.GetDuration("translate.request_timeout")
	flags.Backoff = viper.GetDuration("translate.backoff")
	flags.TranslateConcurrency = viper.GetInt("translate.concurrency")
	flags.DeckConcurrency = viper.GetInt("decks.concurrency")
	flags.Breaker = viper.GetBool("translate.breaker")

	flags.ProxyList = viper.GetString("proxy.list")
	flags.ProbeURL = viper.GetString("proxy.probe_url")
	if statuses := viper.GetIntSlice("proxy.probe_statuses"); len(statuses) > 0 {
		flags.ProbeStatuses = statuses
	}
	flags.ProbeTimeout = viper.GetDuration("proxy.probe_timeout")
	flags.ProbeConcurrency = viper.GetInt("proxy.probe_concurrency")

	flags.OpenAIModel = viper.GetString("openai.model")
	flags.GeminiModel = viper.GetString("gemini.model")

	flags.S3Bucket = viper.GetString("publish.s3_bucket")
	flags.S3Prefix = viper.GetString("publish.s3_prefix")
	flags.S3Region = viper.GetString("publish.s3_region")

	flags.LogLevel = viper.GetString("log.level")
	flags.LogFile = viper.GetString("log.file")
	flags.LogPretty = viper.GetBool("log.pretty")
}

// InitConfig initializes viper configuration
func InitConfig(cfgFile string) {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting home directory: %v\n", err)
			return
		}

		// Search config in home directory with name ".decktranslate" (without extension)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".decktranslate")
	}

	// Environment variables, e.g. DECKTRANSLATE_TRANSLATE_BACKEND
	viper.SetEnvPrefix("DECKTRANSLATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// GetOpenAIKey retrieves the OpenAI API key from environment or config
func GetOpenAIKey() string {
	// First check environment variable
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return key
	}

	// Then check config file
	return viper.GetString("openai.key")
}

// GetGeminiKey retrieves the Gemini API key from environment or config
func GetGeminiKey() string {
	for _, env := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		if key := os.Getenv(env); key != "" {
			return key
		}
	}
	return viper.GetString("gemini.key")
}
