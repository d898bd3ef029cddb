package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rezonia/facturx-gateway/internal/compliance"
	"github.com/rezonia/facturx-gateway/internal/config"
	"github.com/rezonia/facturx-gateway/internal/gateway"
	"github.com/rezonia/facturx-gateway/internal/gateway/choruspro"
	"github.com/rezonia/facturx-gateway/internal/gateway/peppol"
	"github.com/rezonia/facturx-gateway/internal/llm"
	"github.com/rezonia/facturx-gateway/internal/processor"
	"github.com/rezonia/facturx-gateway/internal/render"
	"github.com/rezonia/facturx-gateway/internal/store"
	"github.com/rezonia/facturx-gateway/internal/trust"
	"github.com/rezonia/facturx-gateway/internal/validator"
)

// rules resolves the configured validation profile and invoice category
func rules(c *config.Config) (validator.Profile, validator.Category, error) {
	profile, ok := validator.ProfileByName(strings.ToLower(c.ValidationProfile))
	if !ok {
		return validator.Profile{}, "", fmt.Errorf("unknown validation profile %q", c.ValidationProfile)
	}
	category, ok := validator.ParseCategory(c.Category)
	if !ok {
		return validator.Profile{}, "", fmt.Errorf("unknown invoice category %q", c.Category)
	}
	return profile, category, nil
}

func newEngine(c *config.Config) (*compliance.Engine, error) {
	profile, category, err := rules(c)
	if err != nil {
		return nil, err
	}
	return compliance.NewEngine(compliance.WithProfile(profile), compliance.WithCategory(category)), nil
}

// newRouter registers a gateway for every provider with credentials
func newRouter(c *config.Config) (*gateway.Router, error) {
	router := gateway.NewRouter()

	if c.ChorusPro.Enabled() {
		router.Register(choruspro.New(choruspro.Config{
			BaseURL:           c.ChorusPro.BaseURL,
			TokenURL:          c.ChorusPro.TokenURL,
			ClientID:          c.ChorusPro.ClientID,
			ClientSecret:      c.ChorusPro.ClientSecret,
			TechnicalLogin:    c.ChorusPro.TechnicalLogin,
			TechnicalPassword: c.ChorusPro.TechnicalPassword,
			Timeout:           c.HTTPTimeout,
			RateLimit:         c.RateLimit,
			RateBurst:         c.RateBurst,
			AuthRetries:       c.AuthRetries,
			RulesTTL:          c.CacheTTL,
		}, choruspro.WithLogger(logger)))
		printVerbose("Chorus Pro gateway enabled (%s)\n", c.ChorusPro.BaseURL)
	}

	if c.Peppol.Enabled() {
		opts := []peppol.Option{peppol.WithLogger(logger)}

		if c.Peppol.CertFile != "" {
			signer, err := peppol.LoadSigner(c.Peppol.CertFile, c.Peppol.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("load PEPPOL signing key: %w", err)
			}
			opts = append(opts, peppol.WithSigner(signer))
		}

		if c.Peppol.TrustedCertsDir != "" {
			ts := trust.NewStore(trust.WithOCSPCacheTTL(c.CacheTTL))
			n, err := ts.LoadDir(c.Peppol.TrustedCertsDir)
			if err != nil {
				return nil, fmt.Errorf("load PEPPOL trust store: %w", err)
			}
			printVerbose("Loaded %d trusted certificates\n", n)
			opts = append(opts, peppol.WithTrustStore(ts))
		}

		router.Register(peppol.New(peppol.Config{
			AccessPointURL:            c.Peppol.AccessPointURL,
			TokenURL:                  c.Peppol.TokenURL,
			ClientID:                  c.Peppol.ClientID,
			ClientSecret:              c.Peppol.ClientSecret,
			SMPURL:                    c.Peppol.SMPURL,
			SenderID:                  c.Peppol.SenderID,
			VerifyEndpointCertificate: c.Peppol.VerifyEndpointTLS,
			Timeout:                   c.HTTPTimeout,
			RateLimit:                 c.RateLimit,
			RateBurst:                 c.RateBurst,
			AuthRetries:               c.AuthRetries,
			SMPCacheTTL:               c.CacheTTL,
		}, opts...))
		printVerbose("PEPPOL gateway enabled (%s)\n", c.Peppol.AccessPointURL)
	}

	return router, nil
}

// newLLMExtractor returns nil when no API key is configured
func newLLMExtractor(c *config.Config) *llm.Extractor {
	if c.LLM.APIKey == "" {
		return nil
	}
	client := llm.NewClient(c.LLM.APIKey,
		llm.WithBaseURL(c.LLM.BaseURL),
		llm.WithDefaultModel(c.LLM.Model),
		llm.WithTimeout(c.HTTPTimeout),
	)
	return llm.NewExtractor(client)
}

// buildPipeline wires every component from configuration
func buildPipeline(c *config.Config) (*processor.Pipeline, error) {
	engine, err := newEngine(c)
	if err != nil {
		return nil, err
	}
	router, err := newRouter(c)
	if err != nil {
		return nil, err
	}

	opts := []processor.PipelineOption{
		processor.WithEngine(engine),
		processor.WithRouter(router),
		processor.WithStore(store.NewMemoryStore(c.StoreTTL)),
		processor.WithLogger(logger),
		processor.WithStallThreshold(c.StallThreshold),
		processor.WithRenderer(render.NewRenderer(
			render.WithPrinter(render.NewChromePrinter(c.Render.ChromiumPath, c.Render.PDFTimeout)),
			render.WithTempDir(c.Render.TmpDir),
			render.WithLogger(logger),
		)),
	}
	if extractor := newLLMExtractor(c); extractor != nil {
		opts = append(opts, processor.WithLLMExtractor(extractor))
		printVerbose("LLM extraction enabled (%s)\n", c.LLM.Model)
	}

	return processor.NewPipeline(opts...), nil
}

// collectFiles expands globs and directories into invoice files
func collectFiles(args []string) ([]string, error) {
	var files []string

	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", arg, err)
		}
		if len(matches) == 0 {
			matches = []string{arg}
		}

		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				return nil, fmt.Errorf("file not found: %s", match)
			}
			if !info.IsDir() {
				files = append(files, match)
				continue
			}
			err = filepath.WalkDir(match, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() && isSupportedFile(path) {
					files = append(files, path)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}

	return files, nil
}

func isSupportedFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml", ".pdf", ".txt", ".png", ".jpg", ".jpeg", ".tif", ".tiff":
		return true
	}
	return false
}
