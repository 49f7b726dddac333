package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"github.com/dreamware/tiaki/internal/authz"
	"github.com/dreamware/tiaki/internal/config"
	"github.com/dreamware/tiaki/internal/coordinator"
	"github.com/dreamware/tiaki/internal/event"
	"github.com/dreamware/tiaki/internal/health"
	"github.com/dreamware/tiaki/internal/journal"
	"github.com/dreamware/tiaki/internal/metrics"
	"github.com/dreamware/tiaki/internal/reaper"
	"github.com/dreamware/tiaki/internal/registry"
	"github.com/dreamware/tiaki/internal/server"
	"github.com/dreamware/tiaki/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "tiakid",
	Short: "Coordination daemon for shared agent memory",
	Long: `tiakid serializes writes to shared memory units through TTL-bounded
locks and versioned histories, and tracks the live service population
for discovery and failover. Agents and services talk to it over a JSON
HTTP API.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("config", "", "config file (default "+config.ConfigFile()+")")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the coordination daemon",
		RunE:  runServe,
	}
	flags := serveCmd.Flags()
	flags.String("listen", "", "listen address (default :8700)")
	flags.String("store-root", "", "store root directory")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	bindFlag(flags, "server.listen", "listen")
	bindFlag(flags, "store.root", "store-root")
	bindFlag(flags, "logging.level", "log-level")
	rootCmd.AddCommand(serveCmd)
}

// bindFlag maps a command flag onto its config key. Flags left at their
// empty default lose to config file, env, and built-in defaults.
func bindFlag(flags *pflag.FlagSet, key, name string) {
	_ = viper.BindPFlag(key, flags.Lookup(name))
}

func initConfig() {
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	config.BindEnv()

	// A missing config file is fine; defaults and env cover everything.
	_ = viper.ReadInConfig()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := pslog.NewStructured(os.Stderr).With("app", "tiakid")
	if level, ok := pslog.ParseLevel(cfg.Logging.Level); ok {
		logger = logger.LogLevel(level)
	}

	root := cfg.Store.ResolveRoot()
	fs, err := store.Open(store.Config{Root: root, Retention: cfg.Store.Retention})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	logger.Info("store opened", "root", root, "retention", cfg.Store.Retention)

	bus := event.NewBus(logger)
	auth := authz.NewStatic(cfg.Auth.Identities(), cfg.Auth.ProbeToken)

	reg := registry.New(registry.Config{Bus: bus, Logger: logger})
	monitor := health.NewMonitor(health.Config{
		Interval:       cfg.Health.ProbeInterval(),
		Timeout:        cfg.Health.ProbeTimeout(),
		ServiceTimeout: cfg.Health.ServiceTimeout(),
		Sink:           reg,
		Credentials:    auth,
		Logger:         logger,
	})
	reg.BindMonitor(monitor)

	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		path := cfg.Journal.ResolvePath(root)
		jnl, err = journal.Open(journal.Config{Path: path, Bus: bus, Logger: logger})
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		logger.Info("journal opened", "path", path)
	}

	collector := metrics.New(metrics.Config{Bus: bus, Services: reg, Store: fs})

	coord, err := coordinator.New(coordinator.Config{
		Locks:    fs,
		Versions: fs,
		LockTTL:  cfg.Locks.TTL(),
		Bus:      bus,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	rp := reaper.New(reaper.Config{
		Locks:           coord,
		Services:        reg,
		LockInterval:    cfg.Reaper.LockInterval(),
		ServiceInterval: cfg.Reaper.ServiceInterval(),
		ServiceTimeout:  cfg.Health.ServiceTimeout(),
		Logger:          logger,
	})
	rp.Start(context.Background())

	// The watcher surfaces lock changes made by other processes sharing
	// the store root. Coordination works without it.
	watch, err := fs.WatchLocks()
	if err != nil {
		logger.Warn("lock watcher unavailable", "error", err)
	} else {
		go func() {
			for range watch.Events() {
				bus.Publish(event.NewLockFileChangedEvent())
			}
		}()
	}

	var verifier authz.Verifier
	if cfg.Auth.Enabled {
		verifier = auth
		logger.Info("auth enabled", "tokens", len(cfg.Auth.Tokens))
	}

	srv, err := server.New(server.Config{
		Coordinator: coord,
		Registry:    reg,
		Store:       fs,
		Journal:     jnl,
		Metrics:     collector,
		Verifier:    verifier,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.Server.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)

	if watch != nil {
		_ = watch.Close()
	}
	rp.Stop()
	reg.Close()
	monitor.Stop()

	// Close the bus before the journal so the shutdown event is the last
	// row written.
	bus.Close("daemon shutdown")
	if jnl != nil {
		_ = jnl.Close()
	}
	collector.Close()

	logger.Info("stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
