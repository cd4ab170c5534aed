package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/halverson/webtap/pkg/addons"
	"github.com/halverson/webtap/pkg/config"
	"github.com/halverson/webtap/pkg/control"
	"github.com/halverson/webtap/pkg/pipeline"
	"github.com/halverson/webtap/pkg/plugin"
	"github.com/halverson/webtap/pkg/script"
	"github.com/halverson/webtap/pkg/store"
	"github.com/halverson/webtap/pkg/trace"
	"github.com/halverson/webtap/pkg/transport"
	"github.com/halverson/webtap/pkg/tui"
	"github.com/halverson/webtap/pkg/web"
)

var rootCmd = &cobra.Command{
	Use:   "webtap",
	Short: "HTTP interception bridge with scriptable response rewriting",
	Long: `webtap forwards HTTP traffic to an upstream through an interception
pipeline. Operator-supplied plugins rewrite responses on the way back:
JavaScript or WASI code runs against each HTML body, and content scripts
are injected into pages for in-browser execution.

Config file (webtap.yml) is loaded automatically from the current directory.
CLI flags override config file values.

Examples:
  # Forward everything to a local backend
  webtap --target http://localhost:8081

  # Use a config file with preloaded plugins
  webtap --config webtap.yml

  # Print an example config file
  webtap init`,
	RunE: run,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Print an example webtap.yml to stdout",
	RunE: func(_ *cobra.Command, _ []string) error {
		fmt.Print(config.Example())
		return nil
	},
}

var (
	flagConfig       string
	flagListen       string
	flagTarget       string
	flagWebPort      int
	flagStoreDir     string
	flagMaxExchanges int
	flagNoTUI        bool
	flagNoColor      bool
)

func init() {
	rootCmd.Flags().StringVar(&flagConfig, "config", "",
		"path to config file (default: webtap.yml in current directory)")
	rootCmd.Flags().StringVar(&flagListen, "listen", "",
		"bridge listen address (default: :9090)")
	rootCmd.Flags().StringVar(&flagTarget, "target", "",
		"upstream base URL the bridge forwards to (e.g. http://localhost:8081)")
	rootCmd.Flags().IntVar(&flagWebPort, "web-port", 0,
		"port for the management API (default: 9091; set to 0 to disable)")
	rootCmd.Flags().StringVar(&flagStoreDir, "store-dir", "",
		"directory for the file-backed plugin store (default: .webtap)")
	rootCmd.Flags().IntVar(&flagMaxExchanges, "max-exchanges", 0,
		"maximum number of exchanges to keep in memory (default: 1000)")
	rootCmd.Flags().BoolVar(&flagNoTUI, "no-tui", false,
		"disable the interactive terminal UI (log to stdout only)")
	rootCmd.Flags().BoolVar(&flagNoColor, "no-color", false,
		"disable ANSI colours in log output")

	rootCmd.AddCommand(initCmd)
}

func run(cmd *cobra.Command, _ []string) error {
	cfg := &config.Config{}
	cfgPath := flagConfig
	if cfgPath == "" {
		cfgPath = config.FindDefault(".")
	}
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "loaded config: %s\n", cfgPath)
		cfg = loaded
	}
	opts := cfg.ToOptions()

	// CLI flags override config file values (only when explicitly set).
	f := cmd.Flags()
	if f.Changed("listen") {
		opts.Listen = flagListen
	}
	if f.Changed("target") {
		opts.Target = flagTarget
	}
	if f.Changed("web-port") {
		opts.WebPort = flagWebPort
	}
	if f.Changed("store-dir") {
		opts.Store.Dir = flagStoreDir
	}
	if f.Changed("max-exchanges") {
		opts.MaxExchanges = flagMaxExchanges
	}
	if f.Changed("no-tui") {
		opts.NoTUI = flagNoTUI
	}
	if f.Changed("no-color") {
		opts.NoColor = flagNoColor
	}

	if opts.Target == "" {
		return fmt.Errorf("an upstream target is required (use --target or a config file)")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, opts.Store)
	if err != nil {
		return fmt.Errorf("open plugin store: %w", err)
	}

	chain := pipeline.NewChain(logger)
	runner := plugin.NewRunner(script.NewJSEngine(), logger)
	if wasmEngine, err := script.NewWASMEngine(ctx); err != nil {
		logger.Warn("wasm engine unavailable", "error", err)
	} else {
		runner.RegisterEngine(plugin.KindWASM, wasmEngine)
	}
	registry := plugin.NewRegistry(st, chain, runner, logger)

	traces := trace.NewStore(opts.MaxExchanges)
	facade := transport.NewFacade(
		transport.NewHTTPTransport(nil, logger),
		chain, registry,
		transport.FacadeOptions{
			Traces:      traces,
			MaxBodySize: opts.MaxBodySize,
			Logger:      logger,
		},
	)

	if err := facade.Init(ctx); err != nil {
		return fmt.Errorf("init transport: %w", err)
	}
	if err := preloadPlugins(ctx, registry, opts.Plugins); err != nil {
		return err
	}

	chain.Add(addons.Via(""))

	g, ctx := errgroup.WithContext(ctx)

	bridge := transport.NewBridge(facade, opts.Target, logger)
	server := &http.Server{Addr: opts.Listen, Handler: bridge}
	g.Go(func() error {
		logger.Info("bridge listening", "addr", opts.Listen, "target", opts.Target)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("bridge server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutCtx)
		return nil
	})

	if opts.WebPort > 0 {
		ctrl := control.NewServer(registry, chain, runner, logger)
		webSrv := web.New(facade, traces, ctrl, opts.WebPort, logger)
		g.Go(func() error {
			return webSrv.Start(ctx)
		})
	}

	if !opts.NoTUI && isTerminal() {
		g.Go(func() error {
			return tui.Run(ctx, traces, opts.WebPort)
		})
	} else {
		eventLog := addons.NewEventLogger(os.Stdout, opts.NoColor)
		g.Go(func() error {
			eventLog.Run(ctx, traces)
			return nil
		})
	}

	return g.Wait()
}

// openStore builds the persistent plugin store named by the config.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "", "file":
		return store.NewFileStore(cfg.Dir)
	case "memory":
		return store.NewMemStore(), nil
	case "minio":
		return store.NewMinioStore(ctx, cfg.MinioConfig())
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// preloadPlugins stores plugins listed in the config, reading each source
// from its file. Existing entries with the same name are replaced.
func preloadPlugins(ctx context.Context, registry *plugin.Registry, plugins []config.PluginConfig) error {
	for _, p := range plugins {
		source, err := os.ReadFile(p.File)
		if err != nil {
			return fmt.Errorf("read plugin %q: %w", p.Name, err)
		}
		def, err := plugin.NewOfKind(p.Name, p.Sites, string(source), plugin.Kind(p.Kind))
		if err != nil {
			return err
		}
		if err := registry.Add(ctx, def); err != nil {
			return fmt.Errorf("store plugin %q: %w", p.Name, err)
		}
	}
	return nil
}

func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
