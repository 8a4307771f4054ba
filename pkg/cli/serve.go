package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mocklet/mocklet/pkg/config"
	"github.com/mocklet/mocklet/pkg/engine"
	"github.com/mocklet/mocklet/pkg/event"
	"github.com/mocklet/mocklet/pkg/logging"
	"github.com/mocklet/mocklet/pkg/telemetry"
)

// shutdownTimeout is the maximum time to wait for graceful shutdown.
const shutdownTimeout = 30 * time.Second

// serveFlags holds the flag values for the serve command.
type serveFlags struct {
	configFile      string
	port            int
	logLevel        string
	logFormat       string
	enableTelemetry bool
	otlpEndpoint    string
	serviceName     string
}

// serveFlagVals is the package-level instance bound to cobra flags.
var serveFlagVals serveFlags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mock server (foreground)",
	Long: `Start the mock server from a configuration file.

The config file is a JSON or YAML array mixing HTTP route definitions
(url, method, response, delay) and WebSocket endpoint definitions
(path, on_connect, on_message, on_close). HTTP routes and WebSocket
endpoints are served on the same port; upgrade requests are dispatched
to the WebSocket engine.

With --enable-telemetry, a telemetry observer correlates request and
connection events into trace spans. Spans go to stdout as JSON lines
unless --otlp-endpoint points at an OTLP/HTTP collector.`,
	Example: `  # Serve mocks on the default port
  mocklet serve --config mocks.json

  # Custom port with debug logging
  mocklet serve --config mocks.yaml --port 3000 --log-level debug

  # Emit trace spans to stdout
  mocklet serve --config mocks.json --enable-telemetry

  # Send trace spans to a collector
  mocklet serve --config mocks.json --enable-telemetry \
    --otlp-endpoint http://localhost:4318/v1/traces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(&serveFlagVals)
	},
}

func initServeCmd() {
	rootCmd.AddCommand(serveCmd)

	f := &serveFlagVals
	serveCmd.Flags().StringVarP(&f.configFile, "config", "c", "", "Path to mock configuration file (required)")
	serveCmd.Flags().IntVarP(&f.port, "port", "p", engine.DefaultPort, "HTTP server port")
	serveCmd.Flags().StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&f.logFormat, "log-format", "text", "Log format (text, json)")
	serveCmd.Flags().BoolVar(&f.enableTelemetry, "enable-telemetry", false, "Correlate lifecycle events into trace spans")
	serveCmd.Flags().StringVar(&f.otlpEndpoint, "otlp-endpoint", "", "OTLP/HTTP endpoint for trace export (default: stdout)")
	serveCmd.Flags().StringVar(&f.serviceName, "service-name", "mocklet", "Service name attached to exported spans")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(f *serveFlags) error {
	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(f.logLevel),
		Format: logging.ParseFormat(f.logFormat),
	})

	doc, err := config.LoadFromFile(f.configFile)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", f.configFile, err)
	}
	log.Info("configuration loaded", "file", f.configFile,
		"routes", len(doc.Routes), "endpoints", len(doc.Endpoints))

	bus := event.NewBus(log)
	bus.Subscribe(event.NewLogObserver(log))

	if f.enableTelemetry {
		observer := telemetry.New(
			telemetry.WithServiceName(f.serviceName),
			telemetry.WithOTLPEndpoint(f.otlpEndpoint),
			telemetry.WithLogger(log),
		)
		if err := observer.Start(); err != nil {
			return fmt.Errorf("starting telemetry observer: %w", err)
		}
		bus.Subscribe(observer)
	}

	srv := engine.NewServer(doc, bus,
		engine.WithPort(f.port),
		engine.WithLogger(log),
	)
	if err := srv.Start(); err != nil {
		return err
	}

	fmt.Printf("mocklet listening on %s (%d routes, %d endpoints)\n",
		srv.Addr(), len(doc.Routes), len(doc.Endpoints))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	fmt.Println("\nShutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("server shutdown error", "error", err)
	}

	// Stops every observer, force-closing any spans left open.
	bus.Close()
	return nil
}
