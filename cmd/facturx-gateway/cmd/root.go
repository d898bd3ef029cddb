package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rezonia/facturx-gateway/internal/config"
	"github.com/rezonia/facturx-gateway/internal/logging"
)

var (
	version = "0.3.0"

	// Global flags
	envFile      string
	logLevel     string
	outputFormat string
	verbose      bool
	profileName  string
	categoryName string
	llmAPIKey    string
	llmBaseURL   string
	llmModel     string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "facturx-gateway",
	Short: "Check French e-invoices and transmit them to Chorus Pro or PEPPOL",
	Long: `facturx-gateway scores invoices against French mandatory-field rules,
renders Factur-X documents and transmits them through Chorus Pro or a PEPPOL
access point.

Supports:
  - Factur-X / ZUGFeRD PDF with embedded CII XML
  - CII and UBL XML
  - Plain text and scanned images through an OpenAI-compatible LLM

Examples:
  # Score an invoice
  facturx-gateway validate facture.pdf

  # Public-sector terms with format-only identifier checks
  facturx-gateway validate facture.xml --category B2G --profile lenient

  # Send to Chorus Pro in sandbox
  facturx-gateway transmit facture.xml --provider chorus_pro --test-mode

  # Start the HTTP API
  facturx-gateway serve`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (env: LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "table", "Output format (json, table)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "Identifier checks: strict or lenient (env: VALIDATION_PROFILE)")
	rootCmd.PersistentFlags().StringVar(&categoryName, "category", "", "Invoice category: B2B or B2G (env: INVOICE_CATEGORY)")
	rootCmd.PersistentFlags().StringVar(&llmAPIKey, "api-key", "", "API key for the LLM provider (env: LLM_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&llmBaseURL, "llm-base-url", "", "LLM API base URL (env: LLM_BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&llmModel, "llm-model", "", "LLM model used for extraction (env: LLM_MODEL)")
}

// loadConfig reads .env and the environment, then applies flag overrides
func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if logLevel != "" {
		loaded.LogLevel = logLevel
	}
	if profileName != "" {
		loaded.ValidationProfile = profileName
	}
	if categoryName != "" {
		loaded.Category = categoryName
	}
	if llmAPIKey != "" {
		loaded.LLM.APIKey = llmAPIKey
	}
	if llmBaseURL != "" {
		loaded.LLM.BaseURL = llmBaseURL
	}
	if llmModel != "" {
		loaded.LLM.Model = llmModel
	}

	cfg = loaded
	logger = logging.Init(cfg.LogLevel)
	return nil
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
