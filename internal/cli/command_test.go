package cli

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestCreateRootCommand(t *testing.T) {
	flags := NewFlags()
	cmd := CreateRootCommand(flags)

	// Test basic command properties
	if cmd.Use != "decktranslate [deck.apkg...]" {
		t.Errorf("Expected Use to be 'decktranslate [deck.apkg...]', got %s", cmd.Use)
	}

	if !strings.Contains(cmd.Short, "Anki decks") {
		t.Errorf("Expected Short description to mention Anki decks")
	}

	// Every flag with a config key must exist
	for name := range flagKeys {
		t.Run("flag_"+name, func(t *testing.T) {
			if cmd.Flags().Lookup(name) == nil {
				t.Errorf("Expected flag %s to exist", name)
			}
		})
	}

	for _, name := range []string{"config", "list-models"} {
		t.Run("flag_"+name, func(t *testing.T) {
			var flag *pflag.Flag
			if name == "config" {
				flag = cmd.PersistentFlags().Lookup(name)
			} else {
				flag = cmd.Flags().Lookup(name)
			}
			if flag == nil {
				t.Errorf("Expected flag %s to exist", name)
			}
		})
	}
}

func TestSetupFlags(t *testing.T) {
	resetViper(t)
	cmd := &cobra.Command{}
	flags := NewFlags()

	setupFlags(cmd, flags)

	defaults := map[string]string{
		"decks":           "decks",
		"output":          "translated_decks",
		"source":          "en",
		"target":          "pt",
		"field":           "[tradução,significado]",
		"backend":         "google",
		"backoff":         "1m0s",
		"request-timeout": "10s",
		"probe-url":       "http://ident.me/",
		"probe-status":    "[200,301,302,307,404]",
		"probe-timeout":   "5s",
		"proxies":         "proxy_list.txt",
	}

	for name, want := range defaults {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			t.Fatalf("%s flag not found", name)
		}
		if flag.DefValue != want {
			t.Errorf("Expected default %s to be %s, got %s", name, want, flag.DefValue)
		}
	}
}

func TestParseFlags(t *testing.T) {
	resetViper(t)
	flags := NewFlags()
	cmd := CreateRootCommand(flags)

	err := cmd.ParseFlags([]string{
		"--field", "meaning", "--field", "example",
		"--backend", "openai",
		"--backoff", "5s",
		"--probe-status", "200,204",
		"-o", "/tmp/out",
	})
	if err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	ApplyConfig(flags)

	if !reflect.DeepEqual(flags.Fields, []string{"meaning", "example"}) {
		t.Errorf("Fields = %v", flags.Fields)
	}
	if flags.Backend != BackendOpenAI {
		t.Errorf("Backend = %s, want openai", flags.Backend)
	}
	if flags.Backoff != 5*time.Second {
		t.Errorf("Backoff = %v, want 5s", flags.Backoff)
	}
	if !reflect.DeepEqual(flags.ProbeStatuses, []int{200, 204}) {
		t.Errorf("ProbeStatuses = %v", flags.ProbeStatuses)
	}
	if flags.OutputDir != "/tmp/out" {
		t.Errorf("OutputDir = %s", flags.OutputDir)
	}
	// Untouched flags keep their defaults
	if flags.Target != "pt" || flags.DeckConcurrency != 4 {
		t.Errorf("defaults changed: target=%s deck-concurrency=%d", flags.Target, flags.DeckConcurrency)
	}
}

func TestInitConfig(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		env       map[string]string
		args      []string
		checkFunc func(t *testing.T, f *Flags)
	}{
		{
			name: "config file values",
			content: `translate:
  backend: gemini
  target: de
  fields:
    - meaning
  backoff: 30s
decks:
  concurrency: 2
proxy:
  probe_statuses: [200, 204]
output:
  directory: /test/output`,
			checkFunc: func(t *testing.T, f *Flags) {
				if f.Backend != BackendGemini || f.Target != "de" {
					t.Errorf("backend=%s target=%s", f.Backend, f.Target)
				}
				if !reflect.DeepEqual(f.Fields, []string{"meaning"}) {
					t.Errorf("Fields = %v", f.Fields)
				}
				if f.Backoff != 30*time.Second {
					t.Errorf("Backoff = %v", f.Backoff)
				}
				if f.DeckConcurrency != 2 {
					t.Errorf("DeckConcurrency = %d", f.DeckConcurrency)
				}
				if !reflect.DeepEqual(f.ProbeStatuses, []int{200, 204}) {
					t.Errorf("ProbeStatuses = %v", f.ProbeStatuses)
				}
				if f.OutputDir != "/test/output" {
					t.Errorf("OutputDir = %s", f.OutputDir)
				}
				if f.Source != "en" {
					t.Errorf("Source = %s, want default en", f.Source)
				}
			},
		},
		{
			name:    "flag overrides config",
			content: "translate:\n  target: de\n",
			args:    []string{"--target", "fr"},
			checkFunc: func(t *testing.T, f *Flags) {
				if f.Target != "fr" {
					t.Errorf("Target = %s, want fr", f.Target)
				}
			},
		},
		{
			name:    "environment overrides config",
			content: "translate:\n  backend: gemini\n",
			env:     map[string]string{"DECKTRANSLATE_TRANSLATE_BACKEND": "openai"},
			checkFunc: func(t *testing.T, f *Flags) {
				if f.Backend != BackendOpenAI {
					t.Errorf("Backend = %s, want openai", f.Backend)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfgPath := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(cfgPath, []byte(tt.content), 0644); err != nil {
				t.Fatalf("Failed to create test config: %v", err)
			}

			flags := NewFlags()
			cmd := CreateRootCommand(flags)
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("ParseFlags() error = %v", err)
			}

			InitConfig(cfgPath)
			ApplyConfig(flags)

			tt.checkFunc(t, flags)
		})
	}
}

func TestInitConfig_EnvPrefix(t *testing.T) {
	resetViper(t)
	t.Setenv("DECKTRANSLATE_TEST_VAR", "test-value")

	InitConfig(filepath.Join(t.TempDir(), "missing.yaml"))

	if viper.GetString("test_var") != "test-value" {
		t.Error("Environment variable not properly loaded")
	}
}

func TestGetOpenAIKey(t *testing.T) {
	tests := []struct {
		name      string
		envKey    string
		configKey string
		expected  string
	}{
		{
			name:      "from environment",
			envKey:    "env-test-key",
			configKey: "config-test-key",
			expected:  "env-test-key",
		},
		{
			name:      "from config when no env",
			configKey: "config-test-key",
			expected:  "config-test-key",
		},
		{
			name:     "empty when neither set",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper(t)
			t.Setenv("OPENAI_API_KEY", tt.envKey)

			if tt.configKey != "" {
				viper.Set("openai.key", tt.configKey)
			}

			got := GetOpenAIKey()
			if got != tt.expected {
				t.Errorf("GetOpenAIKey() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetGeminiKey(t *testing.T) {
	tests := []struct {
		name      string
		gemini    string
		google    string
		configKey string
		expected  string
	}{
		{"gemini env first", "gemini-key", "google-key", "config-key", "gemini-key"},
		{"google env fallback", "", "google-key", "config-key", "google-key"},
		{"config fallback", "", "", "config-key", "config-key"},
		{"none", "", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper(t)
			t.Setenv("GEMINI_API_KEY", tt.gemini)
			t.Setenv("GOOGLE_API_KEY", tt.google)
			if tt.configKey != "" {
				viper.Set("gemini.key", tt.configKey)
			}

			if got := GetGeminiKey(); got != tt.expected {
				t.Errorf("GetGeminiKey() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBindFlagsToViper(t *testing.T) {
	resetViper(t)

	cmd := &cobra.Command{}
	flags := NewFlags()
	setupFlags(cmd, flags)

	// Set some flag values
	cmd.Flags().Set("output", "/test/output")
	cmd.Flags().Set("backend", "gemini")
	cmd.Flags().Set("probe-timeout", "2s")

	// Test that values are bound
	if viper.GetString("output.directory") != "/test/output" {
		t.Errorf("Expected output.directory to be /test/output, got %s", viper.GetString("output.directory"))
	}

	if viper.GetString("translate.backend") != "gemini" {
		t.Errorf("Expected translate.backend to be gemini, got %s", viper.GetString("translate.backend"))
	}

	if viper.GetDuration("proxy.probe_timeout") != 2*time.Second {
		t.Errorf("Expected proxy.probe_timeout to be 2s, got %v", viper.GetDuration("proxy.probe_timeout"))
	}
}
