package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/facturx-gateway/internal/gateway"
	"github.com/rezonia/facturx-gateway/internal/model"
)

var (
	trackProvider string
	trackCancel   bool
	trackTimeout  time.Duration
	trackAckOut   string
)

var trackCmd = &cobra.Command{
	Use:   "track <transmission-id>",
	Short: "Show the network status of a transmission",
	Long: `Poll Chorus Pro or PEPPOL for the status and history of a transmission.

With --cancel a withdrawal is requested instead. Acceptance only means the
network took the request; check the status again afterwards. With --ack-out
the acknowledgement receipt is saved once the network has produced it.

Examples:
  facturx-gateway track 4242 --provider chorus_pro
  facturx-gateway track 6f1c... --provider peppol --cancel
  facturx-gateway track 4242 --ack-out accuse-4242.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: runTrack,
}

func init() {
	rootCmd.AddCommand(trackCmd)

	trackCmd.Flags().StringVarP(&trackProvider, "provider", "p", string(model.ProviderChorusPro), "Network: chorus_pro or peppol")
	trackCmd.Flags().BoolVar(&trackCancel, "cancel", false, "Request cancellation")
	trackCmd.Flags().DurationVar(&trackTimeout, "timeout", time.Minute, "Request timeout")
	trackCmd.Flags().StringVar(&trackAckOut, "ack-out", "", "Save the acknowledgement receipt to this file")
}

func runTrack(cmd *cobra.Command, args []string) error {
	provider, ok := model.ParseProvider(trackProvider)
	if !ok {
		return fmt.Errorf("unknown provider %q", trackProvider)
	}

	router, err := newRouter(cfg)
	if err != nil {
		return err
	}
	if _, err := router.Gateway(provider); err != nil {
		return fmt.Errorf("%w (check credentials in the environment)", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), trackTimeout)
	defer cancel()

	if trackCancel {
		accepted := router.Cancel(ctx, provider, args[0])
		fmt.Printf("Cancellation accepted: %t\n", accepted)
		return nil
	}

	if trackAckOut != "" {
		return saveAcknowledgement(ctx, router, provider, args[0])
	}

	info, err := router.Track(ctx, provider, args[0])
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(info)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Transmission:\t%s\n", info.TransmissionID)
	fmt.Fprintf(w, "Provider:\t%s\n", info.Provider)
	fmt.Fprintf(w, "Status:\t%s (%s)\n", info.Status, info.ProviderStatus)
	fmt.Fprintf(w, "Last updated:\t%s\n", info.LastUpdated.Format(time.RFC3339))
	for _, e := range info.History {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", e.Timestamp.Format("02/01/2006 15:04"), e.Status, e.ProviderStatus, e.Message)
	}
	return w.Flush()
}

func saveAcknowledgement(ctx context.Context, router *gateway.Router, provider model.Provider, transmissionID string) error {
	data, ok, err := router.Acknowledgement(ctx, provider, transmissionID)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("Acknowledgement not yet available")
		return nil
	}
	if err := os.WriteFile(trackAckOut, data, 0o644); err != nil {
		return fmt.Errorf("failed to write acknowledgement: %w", err)
	}
	printVerbose("Acknowledgement written to %s (%d bytes)\n", trackAckOut, len(data))
	fmt.Println(trackAckOut)
	return nil
}
