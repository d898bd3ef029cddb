package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rezonia/facturx-gateway/internal/processor"
	"github.com/rezonia/facturx-gateway/internal/server"
)

var (
	serverAddr   string
	serverDebug  bool
	readTimeout  time.Duration
	writeTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP API server for checking and transmitting invoices.

The API provides endpoints for:
  - POST   /api/v1/extract                      - Extract an invoice from XML, PDF, text or image
  - POST   /api/v1/validate                     - Score a document or JSON invoice
  - POST   /api/v1/info                         - Get file information
  - GET    /api/v1/providers                    - List configured networks
  - POST   /api/v1/invoices                     - Ingest and track an invoice
  - GET    /api/v1/invoices/:id                 - Invoice, verdict and lifecycle
  - PUT    /api/v1/invoices/:id                 - Correct and rescore
  - POST   /api/v1/invoices/:id/transitions     - Manual status change
  - POST   /api/v1/invoices/:id/transmission    - Transmit
  - GET    /api/v1/invoices/:id/transmission    - Poll the network
  - DELETE /api/v1/invoices/:id/transmission    - Request cancellation
  - GET    /api/v1/invoices/:id/acknowledgement - Download the receipt
  - GET    /health                              - Health check

Examples:
  facturx-gateway serve
  facturx-gateway serve --address :9090 --debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverAddr, "address", "", "Server listen address (default SERVER_HOST:SERVER_PORT)")
	serveCmd.Flags().BoolVar(&serverDebug, "debug", false, "Enable debug mode")
	serveCmd.Flags().DurationVar(&readTimeout, "read-timeout", 30*time.Second, "HTTP read timeout")
	serveCmd.Flags().DurationVar(&writeTimeout, "write-timeout", 5*time.Minute, "HTTP write timeout")
}

func runServe(cmd *cobra.Command, args []string) error {
	profile, category, err := rules(cfg)
	if err != nil {
		return err
	}
	pipeline, err := buildPipeline(cfg)
	if err != nil {
		return err
	}

	addr := serverAddr
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
	}

	srv := server.NewServer(&server.Config{
		Address:      addr,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		Debug:        serverDebug || cfg.Debug,
		Profile:      profile,
		Category:     category,
	}, pipeline, server.WithLogger(logger))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if n, err := pipeline.Restore(ctx); err == nil && n > 0 {
		logger.Info("restored invoice lifecycles", slog.Int("count", n))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})
	g.Go(func() error {
		warmUp(ctx, pipeline)
		return nil
	})

	return g.Wait()
}

// warmUp fetches a token for every gateway so that the first transmission
// does not pay for authentication. Failures are only logged.
func warmUp(ctx context.Context, pipeline *processor.Pipeline) {
	router := pipeline.Router()
	for _, provider := range router.Providers() {
		gw, err := router.Gateway(provider)
		if err != nil {
			continue
		}
		if err := gw.Authenticate(ctx); err != nil {
			logger.Warn("gateway authentication failed",
				slog.String("provider", string(provider)),
				slog.Any("error", err),
			)
			continue
		}
		logger.Info("gateway authenticated", slog.String("provider", string(provider)))
	}
}
