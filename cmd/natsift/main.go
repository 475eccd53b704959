// natsift is a content-based filtering sidecar for NATS. It subscribes to
// one inbound subject carrying binary records, matches every record
// against a dynamic set of boolean attribute expressions, and republishes
// the original payload to one output subject per matching subscription.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/natsift/natsift/internal/config"
	"github.com/natsift/natsift/internal/filter"
	"github.com/natsift/natsift/internal/logging"
	"github.com/natsift/natsift/internal/schemagen"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath     string
		generateSchema string
		verbose        bool
		attrFlags      []string

		flagFormat string
	)

	cmd := &cobra.Command{
		Use:           "natsift",
		Short:         "Content-based filtering sidecar for NATS",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	flags.StringP("address", "a", "", "NATS server address")
	flags.IntP("port", "p", 0, "NATS server port")
	flags.StringP("input-subject", "i", "", "input NATS subject")
	flags.StringVarP(&flagFormat, "format", "f", "", "binary format (msgpack|cbor|flexbuffers|zera)")
	flags.String("output-prefix", "", "output subject prefix")
	flags.String("queue-group", "", "input queue group for load balancing")
	flags.String("subscribe-subject", "", "subscription request subject")
	flags.String("unsubscribe-subject", "", "unsubscription request subject")
	flags.String("lease-bucket", "", "NATS KV lease bucket name")
	flags.Int("lease-ttl", 0, "lease TTL in seconds")
	flags.Int("lease-check-interval", 0, "lease check interval in seconds")
	flags.StringArrayVar(&attrFlags, "attr", nil, "attribute as name:type (repeatable)")
	flags.Int("workers", 0, "worker count (0 = number of CPUs)")
	flags.String("tls-cert", "", "TLS certificate path")
	flags.String("tls-key", "", "TLS key path")
	flags.String("tls-ca", "", "TLS CA certificate path")
	flags.Int("stats-interval", 0, "stats log interval in seconds")
	flags.String("log-level", "", "log level (debug|info|warn|error)")
	flags.String("log-file", "", "rotating log file path")
	flags.StringVar(&generateSchema, "generate-schema", "", "infer attributes from a sample binary file and exit")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		// Schema generation mode: no config or NATS required.
		if generateSchema != "" {
			name := flagFormat
			if name == "" {
				name = "msgpack"
			}
			format, ok := config.ParseFormat(name)
			if !ok {
				return fmt.Errorf("invalid format %q", name)
			}
			return schemagen.FromFile(generateSchema, format, os.Stdout)
		}

		cfg := config.DefaultConfig()
		if configPath != "" {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
		}
		if err := applyFlags(cmd, &cfg, flagFormat, attrFlags); err != nil {
			return err
		}
		if verbose {
			cfg.LogLevel = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		return run(cfg)
	}

	return cmd
}

// applyFlags overlays every flag the user set on top of the YAML config.
func applyFlags(cmd *cobra.Command, cfg *config.Config, flagFormat string, attrFlags []string) error {
	flags := cmd.Flags()

	if flags.Changed("address") {
		cfg.NatsAddress, _ = flags.GetString("address")
	}
	if flags.Changed("port") {
		cfg.NatsPort, _ = flags.GetInt("port")
	}
	if flags.Changed("input-subject") {
		cfg.InputSubject, _ = flags.GetString("input-subject")
	}
	if flags.Changed("output-prefix") {
		cfg.OutputPrefix, _ = flags.GetString("output-prefix")
	}
	if flags.Changed("queue-group") {
		cfg.InputQueueGroup, _ = flags.GetString("queue-group")
	}
	if flags.Changed("subscribe-subject") {
		cfg.SubscribeSubject, _ = flags.GetString("subscribe-subject")
	}
	if flags.Changed("unsubscribe-subject") {
		cfg.UnsubscribeSubject, _ = flags.GetString("unsubscribe-subject")
	}
	if flags.Changed("lease-bucket") {
		cfg.LeaseBucket, _ = flags.GetString("lease-bucket")
	}
	if flags.Changed("lease-ttl") {
		cfg.LeaseTTLSeconds, _ = flags.GetInt("lease-ttl")
	}
	if flags.Changed("lease-check-interval") {
		cfg.LeaseCheckIntervalSeconds, _ = flags.GetInt("lease-check-interval")
	}
	if flags.Changed("workers") {
		cfg.WorkerThreads, _ = flags.GetInt("workers")
	}
	if flags.Changed("tls-cert") {
		cfg.TLSCert, _ = flags.GetString("tls-cert")
	}
	if flags.Changed("tls-key") {
		cfg.TLSKey, _ = flags.GetString("tls-key")
	}
	if flags.Changed("tls-ca") {
		cfg.TLSCA, _ = flags.GetString("tls-ca")
	}
	if flags.Changed("stats-interval") {
		cfg.StatsIntervalSeconds, _ = flags.GetInt("stats-interval")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-file") {
		cfg.LogFile, _ = flags.GetString("log-file")
	}

	if flagFormat != "" {
		format, ok := config.ParseFormat(flagFormat)
		if !ok {
			return fmt.Errorf("invalid format %q", flagFormat)
		}
		cfg.Format = format
	}

	// --attr entries append to any YAML-defined attributes.
	for _, raw := range attrFlags {
		name, typeName, found := strings.Cut(raw, ":")
		if !found || name == "" {
			return fmt.Errorf("invalid --attr %q: expected name:type", raw)
		}
		attrType, ok := config.ParseAttributeType(typeName)
		if !ok {
			return fmt.Errorf("invalid attribute type %q in --attr %q", typeName, raw)
		}
		cfg.Attributes = append(cfg.Attributes, config.AttributeDef{Name: name, Type: attrType})
	}

	return nil
}

func run(cfg config.Config) error {
	logging.Initialize(cfg.LogLevel, cfg.LogFile)
	defer logging.Shutdown()

	workers := cfg.WorkerThreads
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	slog.Info("natsift starting",
		"server", fmt.Sprintf("%s:%d", cfg.NatsAddress, cfg.NatsPort),
		"input", cfg.InputSubject,
		"format", cfg.Format.String(),
		"output", cfg.OutputPrefix+".<ID>",
		"attributes", len(cfg.Attributes),
		"workers", workers,
		"lease_bucket", cfg.LeaseBucket,
		"lease_ttl_seconds", cfg.LeaseTTLSeconds)

	opts := []nats.Option{
		nats.Name("natsift"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			slog.Error("NATS connection error", "error", err)
		}),
	}
	if cfg.TLSCert != "" {
		opts = append(opts, nats.ClientCert(cfg.TLSCert, cfg.TLSKey))
		if cfg.TLSCA != "" {
			opts = append(opts, nats.RootCAs(cfg.TLSCA))
		}
	}

	nc, err := nats.Connect(cfg.NatsURL(), opts...)
	if err != nil {
		return fmt.Errorf("connect to NATS at %s: %w", cfg.NatsURL(), err)
	}
	defer nc.Close()
	slog.Info("connected to NATS", "url", nc.ConnectedUrl())

	js, err := jetstream.New(nc)
	if err != nil {
		// Leases live in JetStream KV; without it the sidecar still filters.
		slog.Warn("JetStream unavailable, lease watching disabled", "error", err)
		js = nil
	}

	engine, err := filter.NewEngine(cfg, slog.Default())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := engine.Start(ctx, nc, js); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down")

	// Stop the engine first so workers stop and the dispatcher finishes the
	// publishes already handed to it, then flush the connection.
	engine.Stop()
	if err := nc.Flush(); err != nil {
		slog.Warn("flush on shutdown failed", "error", err)
	}

	slog.Info("natsift stopped")
	return nil
}
