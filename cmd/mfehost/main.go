package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mfehost/pkg/component"
	"mfehost/pkg/config"
	"mfehost/pkg/federation"
	"mfehost/pkg/host"
	"mfehost/pkg/remote"
	"mfehost/pkg/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version = "0.1.0"

var (
	configFile string
	verbose    bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mfehost",
		Short: "Micro-frontend shell host",
		Long: `A shell application that composes its page from modules exposed by
remote containers, fetched lazily and shared at runtime.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (.json, .toml or .hcl)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		serveCmd(),
		remoteCmd(),
		resolveCmd(),
		statusCmd(),
		healthCmd(),
		configCmd(),
		versionCmd(),
	)
	return rootCmd
}

// loadConfig reads --config when given, otherwise starts from the defaults,
// then applies MFEHOST_* variables.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		var err error
		cfg, err = config.LoadConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLoader wires the loader the way every command needs it.
func newLoader(cfg *config.Config, registry *prometheus.Registry, logger *zap.Logger) *federation.Loader {
	fetcher := federation.NewFetcher(&http.Client{}, logger)
	fetcher.ConfigureRetry(cfg.Fetch.MaxRetries, cfg.Fetch.BaseDelay.Std(), cfg.Fetch.MaxDelay.Std())
	fetcher.SetMaxBody(cfg.Fetch.MaxBodyBytes())

	shared := make([]federation.SharedDecl, 0, len(cfg.Shared))
	for _, s := range cfg.Shared {
		shared = append(shared, federation.SharedDecl{
			Name:            s.Name,
			Version:         s.Version,
			RequiredVersion: s.RequiredVersion,
			Singleton:       s.Singleton,
		})
	}

	return federation.NewLoader(federation.LoaderOptions{
		Host:         cfg.Name,
		Remotes:      cfg.Remotes,
		Shared:       shared,
		Fetcher:      fetcher,
		Metrics:      federation.NewMetrics(registry),
		FetchTimeout: cfg.Fetch.Timeout.Std(),
		Logger:       logger,
	})
}

func serveCmd() *cobra.Command {
	var (
		address     string
		grpcAddress string
		failMode    string
		remotes     []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the shell host",
		Long:  `Serve the shell application, resolving remote modules on first render.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			// Flags win over file and environment.
			if cmd.Flags().Changed("address") {
				cfg.Server.Address = address
			}
			if cmd.Flags().Changed("grpc-address") {
				cfg.Server.GRPCAddress = grpcAddress
			}
			if cmd.Flags().Changed("fail-mode") {
				cfg.Server.FailMode = config.FailMode(failMode)
			}
			if len(remotes) > 0 {
				parsed, err := config.ParseRemotes(remotes)
				if err != nil {
					return err
				}
				for name, entry := range parsed {
					cfg.Remotes[name] = entry
				}
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			registry := prometheus.NewRegistry()
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			loader := newLoader(cfg, registry, logger)
			defer loader.Close()

			app, err := host.New(host.Options{
				Config:  cfg,
				Loader:  loader,
				Status:  loader,
				Metrics: loader.Metrics(),
				Health:  federation.NewHealthReporter(loader, logger),
				Logger:  logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("Starting shell host",
				zap.String("name", cfg.Name),
				zap.String("address", cfg.Server.Address),
				zap.Strings("remotes", loader.Remotes()),
				zap.Strings("shared", cfg.SharedNames()))

			return app.Serve(ctx)
		},
	}

	cmd.Flags().StringVar(&address, "address", config.DefaultAddress, "HTTP listen address")
	cmd.Flags().StringVar(&grpcAddress, "grpc-address", "", "gRPC health listen address (disabled when empty)")
	cmd.Flags().StringVar(&failMode, "fail-mode", string(config.FailOpen), "behavior when a remote is unavailable (open or closed)")
	cmd.Flags().StringArrayVar(&remotes, "remote", nil, "remote container as name=entryURL (repeatable)")

	return cmd
}

func remoteCmd() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Run the development remote container",
		Long:  `Serve the remoteApp container exposing ./Button and ./store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return remote.DevContainer(logger).Serve(ctx, address)
		},
	}

	cmd.Flags().StringVar(&address, "address", ":5001", "listen address")
	return cmd
}

func resolveCmd() *cobra.Command {
	var (
		timeout time.Duration
		props   []string
	)

	cmd := &cobra.Command{
		Use:   "resolve <remote/module>",
		Short: "Resolve a remote module and print it",
		Long: `Fetch the remote entry of a container and resolve one exposed module.
Components are rendered with the given --prop values; stores print their value.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			ref, err := federation.ParseModuleRef(args[0])
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			loader := newLoader(cfg, nil, logger)
			defer loader.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			handle, err := loader.Resolve(ctx, ref.Container, ref.Exposed)
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", ref, err)
			}

			out := cmd.OutOrStdout()
			data, err := json.MarshalIndent(handle, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))

			switch handle.Definition.Kind {
			case federation.KindComponent:
				c, err := component.FromHandle(handle)
				if err != nil {
					return err
				}
				values := make(map[string]any, len(props))
				for _, p := range props {
					key, value, ok := strings.Cut(p, "=")
					if !ok {
						return fmt.Errorf("invalid prop %q (expected key=value)", p)
					}
					values[key] = value
				}
				html, err := c.Render(values)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "\nRendered:\n%s\n", html)
			case federation.KindStore:
				s, err := store.FromDefinition(handle.Definition)
				if err != nil {
					return err
				}
				count, _ := s.Use()
				fmt.Fprintf(out, "\nValue: %d\n", count)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "resolution timeout")
	cmd.Flags().StringArrayVar(&props, "prop", nil, "component prop as key=value (repeatable)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mfehost v%s\n", version)
		},
	}
}

func setupLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, _ := config.Build()
	return logger
}
