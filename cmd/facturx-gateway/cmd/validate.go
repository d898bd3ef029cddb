package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rezonia/facturx-gateway/internal/compliance"
	"github.com/rezonia/facturx-gateway/internal/processor"
)

var (
	validateTimeout time.Duration
	validateWorkers int
)

var validateCmd = &cobra.Command{
	Use:   "validate [files...]",
	Short: "Score invoice files against French mandatory-field rules",
	Long: `Extract one or more invoices and score them.

Checks performed:
  - Mandatory fields (number, date, supplier name, total incl. VAT)
  - SIRET and intra-community VAT numbers (check digits in strict profile)
  - Date format JJ/MM/AAAA and payment terms (60 days B2B, 30 days B2G)
  - Totals consistency: HT + TVA = TTC within 0,01 €

An invoice is compliant when no error-level check fails and no mandatory
field is missing.

Examples:
  facturx-gateway validate facture.xml
  facturx-gateway validate factures/ --category B2G -f json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().DurationVar(&validateTimeout, "timeout", 2*time.Minute, "Extraction timeout per file")
	validateCmd.Flags().IntVar(&validateWorkers, "workers", 4, "Files processed concurrently")
}

// ValidationResult is the outcome for one file
type ValidationResult struct {
	File          string   `json:"file"`
	Method        string   `json:"method,omitempty"`
	Valid         bool     `json:"valid"`
	Score         int      `json:"score"`
	MissingFields []string `json:"missing_fields,omitempty"`
	Errors        []string `json:"errors,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found to validate")
	}

	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	pipeline, err := buildPipeline(cfg)
	if err != nil {
		return err
	}

	printVerbose("Validating %d files with profile %s, category %s\n", len(files), engine.Profile().Name(), engine.Category())

	results := make([]*ValidationResult, len(files))
	var mu sync.Mutex
	allValid := true

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(validateWorkers)
	for i, file := range files {
		g.Go(func() error {
			r := validateFile(ctx, pipeline, engine, file)
			mu.Lock()
			results[i] = r
			if !r.Valid {
				allValid = false
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Valid {
				fmt.Printf("✓ %s: CONFORME (score %d)\n", r.File, r.Score)
			} else {
				fmt.Printf("✗ %s: NON CONFORME (score %d)\n", r.File, r.Score)
			}
			for _, f := range r.MissingFields {
				fmt.Printf("  - champ manquant : %s\n", f)
			}
			for _, e := range r.Errors {
				fmt.Printf("  - %s\n", e)
			}
			for _, w := range r.Warnings {
				fmt.Printf("  ⚠ %s\n", w)
			}
		}
	}

	if !allValid {
		return fmt.Errorf("validation failed for some files")
	}
	return nil
}

func validateFile(ctx context.Context, pipeline *processor.Pipeline, engine *compliance.Engine, filePath string) *ValidationResult {
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	result := &ValidationResult{File: filePath}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to read file: %v", err))
		return result
	}

	extraction := pipeline.Process(ctx, data, "")
	result.Method = string(extraction.Method)
	if extraction.Error != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("extraction error: %v", extraction.Error))
		return result
	}

	verdict := engine.Score(extraction.Invoice)
	result.Valid = verdict.IsCompliant
	result.Score = verdict.Score
	result.MissingFields = verdict.MissingFields
	result.Errors = append(result.Errors, verdict.Errors()...)
	result.Warnings = append(append(result.Warnings, extraction.Warnings...), verdict.Warnings()...)
	return result
}
