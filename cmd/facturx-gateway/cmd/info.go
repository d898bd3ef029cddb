package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rezonia/facturx-gateway/internal/parser/pdf"
	xmlparser "github.com/rezonia/facturx-gateway/internal/parser/xml"
	"github.com/rezonia/facturx-gateway/internal/processor"
)

var infoCmd = &cobra.Command{
	Use:   "info [files...]",
	Short: "Show configuration or information about invoice files",
	Long: `Without arguments, show which networks, extraction methods and rules are
configured. With files, display the detected format of each one without
full processing.

Shows:
  - Detected file format (XML, PDF, image, text)
  - XML syntax (CII or UBL) and embedded Factur-X attachment for PDFs
  - File size

Examples:
  facturx-gateway info
  facturx-gateway info facture.pdf *.xml`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return printConfiguration()
	}

	files, err := collectFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found")
	}

	registry := xmlparser.NewRegistry()
	for _, file := range files {
		printFileInfo(registry, file)
		fmt.Println()
	}
	return nil
}

func printConfiguration() error {
	profile, category, err := rules(cfg)
	if err != nil {
		return err
	}
	router, err := newRouter(cfg)
	if err != nil {
		return err
	}

	fmt.Println("Current Configuration:")
	fmt.Println("----------------------")
	fmt.Printf("  Validation profile: %s\n", profile.Name())
	fmt.Printf("  Invoice category:   %s (max %d days)\n", category, category.MaxPaymentDays())

	providers := router.Providers()
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, string(p))
	}
	if len(names) == 0 {
		names = append(names, "none")
	}
	fmt.Printf("  Networks:           %s\n", strings.Join(names, ", "))
	if cfg.ChorusPro.Enabled() {
		fmt.Printf("  Chorus Pro:         %s (sandbox: %t)\n", cfg.ChorusPro.BaseURL, cfg.ChorusPro.Sandbox)
	}
	if cfg.Peppol.Enabled() {
		fmt.Printf("  PEPPOL AP:          %s\n", cfg.Peppol.AccessPointURL)
	}

	if cfg.LLM.APIKey != "" {
		fmt.Printf("  LLM extraction:     %s via %s\n", cfg.LLM.Model, cfg.LLM.BaseURL)
	} else {
		fmt.Println("  LLM extraction:     disabled (no API key)")
	}
	chromium := cfg.Render.ChromiumPath
	if chromium == "" {
		chromium = "auto-detected"
	}
	fmt.Printf("  PDF rendering:      chromium %s, timeout %s\n", chromium, cfg.Render.PDFTimeout)
	return nil
}

func printFileInfo(registry *xmlparser.Registry, filePath string) {
	fmt.Printf("File: %s\n", filePath)

	data, err := os.ReadFile(filePath)
	if err != nil {
		fmt.Printf("  Error: %v\n", err)
		return
	}
	fmt.Printf("  Size: %d bytes\n", len(data))

	format := processor.DetectFormat(data)
	fmt.Printf("  Format: %s\n", strings.ToUpper(format.String()))

	switch format {
	case processor.FormatXML:
		printSyntax(registry, data)
	case processor.FormatPDF:
		content, name, err := pdf.NewExtractor(pdf.WithRegistry(registry)).EmbeddedXML(data)
		if err != nil {
			fmt.Println("  Factur-X: no embedded XML (LLM extraction not available for PDF)")
			return
		}
		fmt.Printf("  Factur-X: %s\n", name)
		printSyntax(registry, content)
	case processor.FormatImage, processor.FormatText:
		fmt.Println("  Extraction: LLM")
	}
}

func printSyntax(registry *xmlparser.Registry, data []byte) {
	adapter, err := registry.Detect(data)
	if err != nil {
		fmt.Println("  Syntax: unknown")
		return
	}
	fmt.Printf("  Syntax: %s\n", strings.ToUpper(string(adapter.Syntax())))
}
