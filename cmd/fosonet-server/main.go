// Command fosonet-server runs a standalone fosonet server: it loads
// configuration, binds the scheduler's UDP socket, starts the metrics
// endpoint, and waits for a shutdown signal to drain connections
// gracefully.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fosonet/fosonet/internal/config"
	"github.com/fosonet/fosonet/internal/metrics"
	"github.com/fosonet/fosonet/internal/server"
	"github.com/fosonet/fosonet/pkg/fcrypto"
	"github.com/fosonet/fosonet/pkg/flog"
)

const version = "0.1.0"

func main() {
	var configPath string
	flagCfg := config.Default()

	root := &cobra.Command{
		Use:   "fosonet-server",
		Short: "Run a fosonet game-server transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := flagCfg
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = mergeExplicitFlags(loaded, flagCfg, cmd.Flags())
			}
			return run(cfg)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	flagCfg.BindFlags(root.Flags())

	if err := root.Execute(); err != nil {
		flog.Error("%v", err)
		os.Exit(1)
	}
}

// mergeExplicitFlags starts from fileCfg and applies only the fields
// whose command-line flag the user actually passed, so an unset flag
// never clobbers a value the config file set explicitly.
func mergeExplicitFlags(fileCfg, flagCfg config.Config, flags *pflag.FlagSet) config.Config {
	cfg := fileCfg
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = flagCfg.Host
		case "port":
			cfg.Port = flagCfg.Port
		case "interval":
			cfg.Interval = flagCfg.Interval
		case "connection-timeout":
			cfg.ConnectionTimeout = flagCfg.ConnectionTimeout
		case "temp-connection-timeout":
			cfg.TempConnectionTimeout = flagCfg.TempConnectionTimeout
		case "outgoing-timeout":
			cfg.OutgoingTimeout = flagCfg.OutgoingTimeout
		case "root-key":
			cfg.RootKeyPath = flagCfg.RootKeyPath
		case "metrics-addr":
			cfg.MetricsAddr = flagCfg.MetricsAddr
		}
	})
	return cfg
}

func run(cfg config.Config) error {
	flog.Banner("fosonet server", version)

	if cfg.RootKeyPath == "" {
		return fmt.Errorf("fosonet-server: --root-key is required")
	}
	rootKey, err := fcrypto.LoadRootPrivateKey(cfg.RootKeyPath)
	if err != nil {
		return err
	}

	ctx, err := server.NewContext(cfg, rootKey)
	if err != nil {
		return err
	}
	sched, err := server.NewScheduler(ctx)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		collector := metrics.NewCollector(ctx)
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr, collector); err != nil {
				flog.Error("metrics server stopped: %v", err)
			}
		}()
		flog.Info("metrics listening on %s", cfg.MetricsAddr)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sched.Run(runCtx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	flog.Info("listening on %s:%d", cfg.Host, cfg.Port)
	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		flog.Warn("received signal: %v", sig)
		flog.Info("shutting down gracefully...")
		cancel()
		<-errCh
		time.Sleep(200 * time.Millisecond)
		flog.Success("server stopped")
		return nil
	}
}
