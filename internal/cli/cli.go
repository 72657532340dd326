// Package cli provides the command-line interface for the mesh dispatch
// broker daemon, built on Cobra: a root command plus run/status
// subcommands around a persistent --config flag.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/remusmesh/broker/internal/broker"
	"github.com/remusmesh/broker/internal/config"
	"github.com/remusmesh/broker/internal/metrics"
	"github.com/remusmesh/broker/internal/socketmonitor"
	"github.com/remusmesh/broker/internal/transport/tcpsocket"
	"github.com/remusmesh/broker/internal/workerfactory"
	"github.com/remusmesh/broker/pkg/meshtype"
)

var configFile string

// BuildCLI assembles the root "meshbrokerd" command.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "meshbrokerd",
		Short:   "meshbrokerd: the mesh-generation dispatch broker",
		Long:    "meshbrokerd brokers mesh-generation jobs between clients and workers: queueing, matching, and relaying status and results.",
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBroker()
		},
	}
}

func runBroker() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("meshbrokerd: %w", err)
	}

	clientAddr := fmt.Sprintf("%s:%d", cfg.Ports.ClientHost, cfg.Ports.ClientPort)
	workerAddr := fmt.Sprintf("%s:%d", cfg.Ports.WorkerHost, cfg.Ports.WorkerPort)

	clientEP, err := tcpsocket.Listen(clientAddr, slog.Default())
	if err != nil {
		return fmt.Errorf("meshbrokerd: client endpoint: %w", err)
	}
	workerEP, err := tcpsocket.Listen(workerAddr, slog.Default())
	if err != nil {
		clientEP.Close()
		return fmt.Errorf("meshbrokerd: worker endpoint: %w", err)
	}

	slog.Info("bound endpoints", "client", clientEP.Addr(), "worker", workerEP.Addr())

	factory := workerfactory.New(commandsFromConfig(cfg), cfg.WorkerFactory.MaxWorkerCount, workerEP.Addr(), slog.Default())
	monitor := socketmonitor.New(cfg.MinRate(), cfg.MaxRate())

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				slog.Error("metrics server stopped", "err", err)
			}
		}()
	}

	b := broker.New(clientEP, workerEP, factory, monitor, collector)
	b.Start()

	slog.Info("broker started")

	if cfg.SignalMode == config.SignalCapture {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("received shutdown signal, stopping")
	} else {
		select {}
	}

	b.Stop()
	clientEP.Close()
	workerEP.Close()
	slog.Info("broker stopped")
	return nil
}

// commandsFromConfig turns the flat config.WorkerFactoryConfig into the
// per-mesh-io-type command table workerfactory.New expects. The reference
// configuration supports a single mesh-io-type per process; operators
// wanting multiple types run multiple command templates by repeating the
// worker_factory block per broker instance.
func commandsFromConfig(cfg config.Config) []workerfactory.Command {
	if cfg.WorkerFactory.CommandPath == "" {
		return nil
	}
	mt, ok := meshtype.Parse(cfg.WorkerFactory.InputType, cfg.WorkerFactory.OutputType)
	if !ok {
		slog.Warn("worker_factory config names an unrecognized mesh-io-type, factory will support nothing",
			"input_type", cfg.WorkerFactory.InputType, "output_type", cfg.WorkerFactory.OutputType)
		return nil
	}
	return []workerfactory.Command{{
		MeshIOType: mt,
		Path:       cfg.WorkerFactory.CommandPath,
		Args:       cfg.WorkerFactory.CommandLineArguments,
	}}
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("meshbrokerd: %w", err)
			}
			fmt.Printf("config file: %s\n", configFile)
			fmt.Printf("client endpoint: %s:%d\n", cfg.Ports.ClientHost, cfg.Ports.ClientPort)
			fmt.Printf("worker endpoint:  %s:%d\n", cfg.Ports.WorkerHost, cfg.Ports.WorkerPort)
			fmt.Printf("polling interval: [%dms, %dms]\n", cfg.Polling.MinRateMillisec, cfg.Polling.MaxRateMillisec)
			fmt.Printf("signal mode: %s\n", cfg.SignalMode)
			fmt.Printf("metrics: enabled=%v port=%d\n", cfg.Metrics.Enabled, cfg.Metrics.Port)
			return nil
		},
	}
}
