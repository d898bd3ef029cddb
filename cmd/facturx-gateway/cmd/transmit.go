package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/facturx-gateway/internal/model"
	"github.com/rezonia/facturx-gateway/internal/processor"
)

var (
	transmitProvider  string
	transmitRecipient string
	transmitPriority  string
	transmitMode      string
	transmitAck       bool
	transmitTestMode  bool
	transmitTimeout   time.Duration
)

var transmitCmd = &cobra.Command{
	Use:   "transmit <file>",
	Short: "Score, render and transmit one invoice",
	Long: `Extract an invoice, check that it is compliant, render the Factur-X
document and send it through Chorus Pro or PEPPOL.

The recipient defaults to the buyer SIRET found in the invoice.

Examples:
  facturx-gateway transmit facture.xml --provider chorus_pro --test-mode
  facturx-gateway transmit facture.pdf --provider peppol --recipient 54210765113030`,
	Args: cobra.ExactArgs(1),
	RunE: runTransmit,
}

func init() {
	rootCmd.AddCommand(transmitCmd)

	transmitCmd.Flags().StringVarP(&transmitProvider, "provider", "p", string(model.ProviderChorusPro), "Network: chorus_pro or peppol")
	transmitCmd.Flags().StringVar(&transmitRecipient, "recipient", "", "Recipient SIRET (default: buyer SIRET)")
	transmitCmd.Flags().StringVar(&transmitPriority, "priority", string(model.PriorityNormal), "Priority: normal, high, urgent")
	transmitCmd.Flags().StringVar(&transmitMode, "mode", string(model.DeliveryPush), "Delivery mode: push or pull")
	transmitCmd.Flags().BoolVar(&transmitAck, "require-ack", false, "Ask the network for an acknowledgement")
	transmitCmd.Flags().BoolVar(&transmitTestMode, "test-mode", false, "Flag the transmission as a test")
	transmitCmd.Flags().DurationVar(&transmitTimeout, "timeout", 3*time.Minute, "Overall timeout")
}

func runTransmit(cmd *cobra.Command, args []string) error {
	provider, ok := model.ParseProvider(transmitProvider)
	if !ok {
		return fmt.Errorf("unknown provider %q", transmitProvider)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	pipeline, err := buildPipeline(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), transmitTimeout)
	defer cancel()

	ing := pipeline.Ingest(ctx, data, "")
	if err := ing.Extraction.Error; err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	printVerbose("Invoice %s extracted by %s, score %d\n", ing.InvoiceID, ing.Extraction.Method, ing.Verdict.Score)

	if ing.Tracking.Status != model.StatusCompliant {
		for _, f := range ing.Verdict.MissingFields {
			fmt.Fprintf(os.Stderr, "  - champ manquant : %s\n", f)
		}
		for _, e := range ing.Verdict.Errors() {
			fmt.Fprintf(os.Stderr, "  - %s\n", e)
		}
		return fmt.Errorf("invoice is %s with score %d, not transmitted", ing.Tracking.Status, ing.Verdict.Score)
	}

	result, err := pipeline.Submit(ctx, ing.InvoiceID, processor.SubmitOptions{
		Provider:       provider,
		RecipientSIRET: transmitRecipient,
		Delivery: model.DeliveryOptions{
			Priority:   model.Priority(transmitPriority),
			Mode:       model.DeliveryMode(transmitMode),
			RequireAck: transmitAck,
			TestMode:   transmitTestMode,
		},
	})
	if err != nil {
		return err
	}

	if err := printTransmission(result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("transmission failed")
	}
	return nil
}

func printTransmission(result *model.TransmissionResult) error {
	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Provider:\t%s\n", result.Provider)
	fmt.Fprintf(w, "Success:\t%t\n", result.Success)
	fmt.Fprintf(w, "Status:\t%s\n", result.Status)
	if result.TransmissionID != "" {
		fmt.Fprintf(w, "Transmission ID:\t%s\n", result.TransmissionID)
	}
	if result.Recipient.SIRET != "" {
		fmt.Fprintf(w, "Recipient:\t%s\n", result.Recipient.SIRET)
	}
	if result.Tracking.MessageID != "" {
		fmt.Fprintf(w, "Message ID:\t%s\n", result.Tracking.MessageID)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(w, "Error:\t[%s] %s\n", e.Code, e.Message)
	}
	for _, warn := range result.Warnings {
		fmt.Fprintf(w, "Warning:\t%s\n", warn)
	}
	return w.Flush()
}
